package record

import "strings"

// PhoneDigits is the length of a fully specified local phone number.
const PhoneDigits = 10

// Digits strips everything but ASCII digits from s.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePhone reduces a raw phone string to its local 10-digit form when
// it carries a country code (91) or trunk prefix (0). Other inputs are
// returned as their digits unchanged.
func NormalizePhone(raw string) string {
	d := Digits(raw)
	switch {
	case len(d) == 12 && strings.HasPrefix(d, "91"):
		return d[2:]
	case len(d) == 11 && strings.HasPrefix(d, "0"):
		return d[1:]
	default:
		return d
	}
}

// IsCompletePhone reports whether s is exactly PhoneDigits digits and nothing else.
func IsCompletePhone(s string) bool {
	return len(s) == PhoneDigits && Digits(s) == s
}
