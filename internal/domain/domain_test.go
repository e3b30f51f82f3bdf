package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidE164(t *testing.T) {
	tests := []struct {
		phone string
		valid bool
	}{
		{"+14155550001", true},
		{"+94771234567", true},
		{"+12345678", true},       // 8 digits, minimum
		{"+123456789012345", true}, // 15 digits, maximum
		{"+1234567", false},        // too short
		{"+1234567890123456", false},
		{"14155550001", false}, // missing +
		{"+0123456789", false}, // leading zero
		{"", false},
		{"+1415555000a", false},
	}
	for _, tt := range tests {
		t.Run(tt.phone, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidE164(tt.phone))
		})
	}
}

func TestExtractChannelAndPhone(t *testing.T) {
	tests := []struct {
		in      string
		channel string
		phone   string
	}{
		{"whatsapp:+14155550001", "whatsapp", "+14155550001"},
		{"sms:+14155550001", "sms", "+14155550001"},
		{"messenger:+14155550001", "messenger", "+14155550001"},
		{"+14155550001", "sms", "+14155550001"},
		{"14155550001", "sms", "+14155550001"}, // missing + added
		{"whatsapp:garbage", "whatsapp", ""},
		{"", "sms", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ch, phone := ExtractChannelAndPhone(tt.in)
			assert.Equal(t, tt.channel, ch)
			assert.Equal(t, tt.phone, phone)
		})
	}
}

func TestMessageTransitionDAG(t *testing.T) {
	assert.True(t, MessageQueued.CanTransition(MessageSending))
	assert.True(t, MessageSending.CanTransition(MessageSent))
	assert.True(t, MessageSending.CanTransition(MessageQueued)) // transient retry
	assert.True(t, MessageSent.CanTransition(MessageDelivered))
	assert.True(t, MessageDelivered.CanTransition(MessageRead))

	// No regressions.
	assert.False(t, MessageSent.CanTransition(MessageSending))
	assert.False(t, MessageDelivered.CanTransition(MessageSent))
	assert.False(t, MessageRead.CanTransition(MessageDelivered))
	assert.False(t, MessageFailed.CanTransition(MessageQueued))
	assert.False(t, MessageUndelivered.CanTransition(MessageSent))
}

func TestApplyCallback(t *testing.T) {
	// Out-of-order: delivered before sent is accepted, later sent is a no-op.
	to, ok := ApplyCallback(MessageSending, MessageDelivered)
	assert.True(t, ok)
	assert.Equal(t, MessageDelivered, to)

	_, ok = ApplyCallback(MessageDelivered, MessageSent)
	assert.False(t, ok)

	// Late failure after delivery is ignored.
	_, ok = ApplyCallback(MessageDelivered, MessageFailed)
	assert.False(t, ok)

	// queued/sending callbacks never move a message.
	_, ok = ApplyCallback(MessageSent, MessageQueued)
	assert.False(t, ok)
	_, ok = ApplyCallback(MessageQueued, MessageSending)
	assert.False(t, ok)

	to, ok = ApplyCallback(MessageDelivered, MessageRead)
	assert.True(t, ok)
	assert.Equal(t, MessageRead, to)
}

func TestCampaignTransitions(t *testing.T) {
	assert.True(t, CampaignDraft.CanTransition(CampaignReady))
	assert.True(t, CampaignReady.CanTransition(CampaignRunning))
	assert.True(t, CampaignRunning.CanTransition(CampaignPaused))
	assert.True(t, CampaignPaused.CanTransition(CampaignRunning))
	assert.True(t, CampaignRunning.CanTransition(CampaignCompleted))
	assert.True(t, CampaignRunning.CanTransition(CampaignFailed))

	assert.False(t, CampaignCompleted.CanTransition(CampaignRunning))
	assert.False(t, CampaignDraft.CanTransition(CampaignRunning))
	assert.False(t, CampaignFailed.CanTransition(CampaignReady))
}

func TestQuietWindowOvernight(t *testing.T) {
	w, err := ParseQuietWindow("22:00", "08:00", "America/Los_Angeles")
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.True(t, w.Overnight())

	// 07:59:59 local is still quiet; 08:00:00 admits.
	loc := w.Loc
	before := time.Date(2025, 6, 10, 7, 59, 59, 0, loc)
	atEnd := time.Date(2025, 6, 10, 8, 0, 0, 0, loc)
	evening := time.Date(2025, 6, 10, 23, 30, 0, 0, loc)
	midday := time.Date(2025, 6, 10, 12, 0, 0, 0, loc)

	assert.True(t, w.Contains(before))
	assert.False(t, w.Contains(atEnd))
	assert.True(t, w.Contains(evening))
	assert.False(t, w.Contains(midday))

	// NextAllowed from the evening half lands on 08:00 the next day.
	next := w.NextAllowed(evening)
	assert.Equal(t, time.Date(2025, 6, 11, 8, 0, 0, 0, loc), next)

	// From the morning half it lands on 08:00 the same day.
	next = w.NextAllowed(before)
	assert.Equal(t, atEnd, next)

	// Outside the window NextAllowed is the identity.
	assert.Equal(t, midday, w.NextAllowed(midday))
}

func TestQuietWindowSameDay(t *testing.T) {
	w, err := ParseQuietWindow("12:00", "14:00", "UTC")
	require.NoError(t, err)
	assert.False(t, w.Overnight())

	assert.True(t, w.Contains(time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)))
	assert.True(t, w.Contains(time.Date(2025, 6, 10, 13, 59, 59, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2025, 6, 10, 11, 59, 59, 0, time.UTC)))
}

func TestParseQuietWindowErrors(t *testing.T) {
	w, err := ParseQuietWindow("", "", "UTC")
	require.NoError(t, err)
	assert.Nil(t, w)

	_, err = ParseQuietWindow("25:00", "08:00", "UTC")
	assert.Error(t, err)

	_, err = ParseQuietWindow("22:00", "08:00", "Not/AZone")
	assert.Error(t, err)
}

func TestCallbackStatus(t *testing.T) {
	s, ok := CallbackStatus("delivered")
	require.True(t, ok)
	assert.Equal(t, MessageDelivered, s)

	s, ok = CallbackStatus(" SENT ")
	require.True(t, ok)
	assert.Equal(t, MessageSent, s)

	_, ok = CallbackStatus("bogus")
	assert.False(t, ok)
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "+1415***0001", MaskPhone("+14155550001"))
	assert.Equal(t, "***", MaskPhone("+123"))
}
