package passes

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Cyrillic plate letters and the Latin glyphs they are indistinguishable
// from. Folding is applied identically at write and read time, so a search
// for "А123ВС" finds a pass stored as "A123BC" and vice versa.
var homoglyphs = map[rune]rune{
	'А': 'A', 'В': 'B', 'Е': 'E', 'К': 'K', 'М': 'M', 'Н': 'H',
	'О': 'O', 'Р': 'P', 'С': 'C', 'Т': 'T', 'У': 'Y', 'Х': 'X',
}

// NormalizePlate folds a car number to its canonical matching form:
// uppercase, separators removed, ambiguous Cyrillic letters mapped to their
// Latin twins.
func NormalizePlate(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(raw)) {
		if r == ' ' || r == '-' {
			continue
		}
		if lat, ok := homoglyphs[r]; ok {
			r = lat
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ValidatePlate checks a normalized plate for plausible shape. Full format
// validation belongs to the chat shell; the registry only refuses values it
// could never match.
func ValidatePlate(normalized string) error {
	runes := utf8.RuneCountInString(normalized)
	if runes < 4 {
		return errors.New("car number too short")
	}
	if runes > 12 {
		return errors.New("car number too long")
	}
	for _, r := range normalized {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return errors.New("car number contains invalid characters")
		}
	}
	return nil
}
