package directory

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+7 900 123 45 67":  "+79001234567",
		"8 (900) 123-45-67": "+79001234567",
		"9001234567":        "+79001234567",
		"+14155550123":      "+14155550123",
	}
	for raw, want := range cases {
		got, err := NormalizePhone(raw)
		if err != nil {
			t.Fatalf("NormalizePhone(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("NormalizePhone(%q)=%q, want %q", raw, got, want)
		}
	}
}

func TestNormalizePhoneRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "abc", "+7 900 12", "12345678901234567890", "+7900123456x"} {
		if _, err := NormalizePhone(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
