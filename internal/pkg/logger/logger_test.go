package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactPhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+14155550001", "+1415***0001"},
		{"+94771234567", "+9477***4567"},
		{"+123", "***"},
		{"", "***"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RedactPhone(tt.in))
	}
}

func TestRedactPIIValue(t *testing.T) {
	// Phone-bearing keys are masked wholesale.
	assert.Equal(t, "+1415***0001", redactPIIValue("recipient_phone", "+14155550001"))
	assert.Equal(t, "+1415***0001", redactPIIValue("from_phone", "+14155550001"))

	// Generic fields only have embedded numbers replaced.
	got := redactPIIValue("msg", "sent to +14155550001 ok")
	assert.Equal(t, "sent to +1415***0001 ok", got)

	// Non-PII values pass through.
	assert.Equal(t, "campaign-42", redactPIIValue("campaign", "campaign-42"))
}
