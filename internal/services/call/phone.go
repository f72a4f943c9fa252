package call

import (
	"strings"
	"unicode"

	"github.com/ClareAI/astra-dialer-service/internal/domain"
)

const (
	minPhoneDigits = 8
	maxPhoneDigits = 15
)

// NormalizePhoneNumber converts user input to E.164. Whitespace and the
// punctuation people type into phone numbers are dropped; numbers without a
// leading '+' get defaultCountryCode prepended.
func NormalizePhoneNumber(raw, defaultCountryCode string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", domain.NewValidationError("phone number is required")
	}

	international := strings.HasPrefix(s, "+")
	if international {
		s = s[1:]
	}

	var digits strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case unicode.IsSpace(r), strings.ContainsRune("-().", r):
		default:
			return "", domain.NewValidationError("phone number %q contains invalid character %q", raw, r)
		}
	}

	number := digits.String()
	if !international {
		number = strings.TrimPrefix(defaultCountryCode, "+") + number
	}

	if len(number) < minPhoneDigits || len(number) > maxPhoneDigits {
		return "", domain.NewValidationError("phone number %q must have between %d and %d digits", raw, minPhoneDigits, maxPhoneDigits)
	}
	if number[0] == '0' {
		return "", domain.NewValidationError("phone number %q has no valid country code", raw)
	}

	return "+" + number, nil
}
