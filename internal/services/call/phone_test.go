package call

import (
	"testing"

	"github.com/ClareAI/astra-dialer-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhoneNumber(t *testing.T) {
	tests := []struct {
		raw  string
		cc   string
		want string
	}{
		{"987-654 3210", "91", "+919876543210"},
		{"+1 555 123 4567", "91", "+15551234567"},
		{"(555) 123-4567", "1", "+15551234567"},
		{"  +44 20 7946.0958 ", "1", "+442079460958"},
		{"9876543210", "+91", "+919876543210"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := NormalizePhoneNumber(tt.raw, tt.cc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizePhoneNumberRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "   ", "call me", "555-CALL-NOW", "+1 (555) 12", "12345", "+1234567890123456", "1+5551234567", "+0 555 123 4567"} {
		t.Run(raw, func(t *testing.T) {
			_, err := NormalizePhoneNumber(raw, "1")
			require.Error(t, err)
			assert.Equal(t, domain.ErrorKindValidation, domain.KindOf(err))
		})
	}
}
