package gateway

import (
	"strings"
)

// NormalizePhone converts a customer-entered mobile number into the
// canonical international form the provider expects (digits only, country
// code prefix, no plus sign), e.g. "0712 345 678" -> "254712345678".
// It returns false when the input cannot be normalized.
func NormalizePhone(raw, countryCode string) (string, bool) {
	var digits strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' && i == 0:
			// leading plus is dropped
		case r == ' ' || r == '-':
			// separators are dropped
		default:
			return "", false
		}
	}
	n := digits.String()

	switch {
	case strings.HasPrefix(n, countryCode) && len(n) == len(countryCode)+9:
		return n, true
	case strings.HasPrefix(n, "0") && len(n) == 10:
		return countryCode + n[1:], true
	case len(n) == 9 && !strings.HasPrefix(n, "0"):
		return countryCode + n, true
	}
	return "", false
}
