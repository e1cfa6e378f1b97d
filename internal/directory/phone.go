package directory

import (
	"errors"
	"strings"
	"unicode"
)

// NormalizePhone reduces a phone number to a canonical +<digits> form.
// Separators are dropped; a leading national 8 on an 11-digit Russian number
// becomes +7.
func NormalizePhone(raw string) (string, error) {
	var digits strings.Builder
	plus := false
	for i, r := range raw {
		switch {
		case unicode.IsDigit(r):
			digits.WriteRune(r)
		case r == '+' && i == 0:
			plus = true
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// separator, skip
		default:
			return "", errors.New("phone number contains invalid characters")
		}
	}

	num := digits.String()
	if len(num) < 10 || len(num) > 15 {
		return "", errors.New("phone number must contain 10 to 15 digits")
	}
	if !plus {
		switch {
		case len(num) == 11 && num[0] == '8':
			num = "7" + num[1:]
		case len(num) == 10:
			num = "7" + num
		}
	}
	return "+" + num, nil
}
