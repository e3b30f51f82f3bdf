package domain

import (
	"strings"
	"time"
)

// MessageStatus is the state machine for outbound messages. Transitions form
// a DAG; see CanTransition and ApplyCallback.
type MessageStatus string

const (
	MessageQueued      MessageStatus = "QUEUED"
	MessageSending     MessageStatus = "SENDING"
	MessageSent        MessageStatus = "SENT"
	MessageDelivered   MessageStatus = "DELIVERED"
	MessageRead        MessageStatus = "READ"
	MessageFailed      MessageStatus = "FAILED"
	MessageUndelivered MessageStatus = "UNDELIVERED"
)

// messageTransitions encodes the DAG of legal status moves. SENDING->QUEUED
// is the transient-retry edge; everything else is forward progress.
var messageTransitions = map[MessageStatus][]MessageStatus{
	MessageQueued:    {MessageSending, MessageSent, MessageDelivered, MessageRead, MessageFailed, MessageUndelivered},
	MessageSending:   {MessageQueued, MessageSent, MessageDelivered, MessageRead, MessageFailed, MessageUndelivered},
	MessageSent:      {MessageDelivered, MessageRead, MessageFailed, MessageUndelivered},
	MessageDelivered: {MessageRead},
}

// CanTransition reports whether a message may move from s to to.
func (s MessageStatus) CanTransition(to MessageStatus) bool {
	for _, allowed := range messageTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status accepts no further pipeline work.
// SENT is pipeline-terminal (the message only moves again via callbacks).
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case MessageSent, MessageDelivered, MessageRead, MessageFailed, MessageUndelivered:
		return true
	}
	return false
}

// CallbackStatus maps a provider callback status string (lower-case wire
// form) onto the internal status set. Unknown values map to ("", false).
func CallbackStatus(wire string) (MessageStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(wire)) {
	case "queued":
		return MessageQueued, true
	case "sending":
		return MessageSending, true
	case "sent":
		return MessageSent, true
	case "delivered":
		return MessageDelivered, true
	case "read":
		return MessageRead, true
	case "failed":
		return MessageFailed, true
	case "undelivered":
		return MessageUndelivered, true
	}
	return "", false
}

// ApplyCallback resolves a status callback against the current status.
// Returns the target status and whether the transition should be applied.
// Out-of-order callbacks that would regress the DAG resolve to a no-op;
// "queued"/"sending" callbacks never move a message.
func ApplyCallback(current, callback MessageStatus) (MessageStatus, bool) {
	switch callback {
	case MessageQueued, MessageSending:
		return current, false
	}
	if current.CanTransition(callback) {
		// The retry edge SENDING->QUEUED is pipeline-only, never callback-driven.
		return callback, true
	}
	return current, false
}

// Message is one materialized unit of work: a rendered template bound to a
// single recipient, created at campaign materialization time.
type Message struct {
	ID              string        `json:"id" db:"id"`
	CampaignID      int64         `json:"campaign_id" db:"campaign_id"`
	RecipientPhone  string        `json:"recipient_phone" db:"recipient_phone"`
	RenderedContent string        `json:"rendered_content" db:"rendered_content"`
	Channel         string        `json:"channel" db:"channel"`
	Status          MessageStatus `json:"status" db:"status"`
	ProviderSid     *string       `json:"provider_sid" db:"provider_sid"`
	ErrorCode       *int          `json:"error_code" db:"error_code"`
	RetryCount      int           `json:"retry_count" db:"retry_count"`
	ScheduledAt     time.Time     `json:"scheduled_at" db:"scheduled_at"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	SentAt          *time.Time    `json:"sent_at" db:"sent_at"`
	DeliveredAt     *time.Time    `json:"delivered_at" db:"delivered_at"`
}

// MaxContentLength bounds rendered message content (stage 4 validation).
const MaxContentLength = 4096

// MaxTransientRetries is the per-message retry budget for transient provider
// failures. Quiet-hours and rate-limit reschedules do not consume it.
const MaxTransientRetries = 3
