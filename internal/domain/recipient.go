package domain

import (
	"regexp"
	"strings"
	"time"
)

// ConsentState enumerates a recipient's messaging consent.
type ConsentState string

const (
	ConsentOptIn  ConsentState = "OPT_IN"
	ConsentOptOut ConsentState = "OPT_OUT"
	ConsentStop   ConsentState = "STOP"
)

// ValidConsentState reports whether s is a recognized consent state.
func ValidConsentState(s string) bool {
	switch ConsentState(s) {
	case ConsentOptIn, ConsentOptOut, ConsentStop:
		return true
	}
	return false
}

// Recipient is the central entity for outbound messaging. The E.164 phone
// number is the primary key and is immutable once created.
type Recipient struct {
	PhoneE164    string         `json:"phone_e164" db:"phone_e164"`
	Attributes   map[string]any `json:"attributes" db:"attributes"`
	ConsentState ConsentState   `json:"consent_state" db:"consent_state"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// Subscription is a pure (recipient, topic) edge with no state of its own.
type Subscription struct {
	PhoneE164 string `json:"phone_e164" db:"phone_e164"`
	Topic     string `json:"topic" db:"topic"`
}

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

// ValidE164 reports whether phone is a well-formed E.164 number
// (leading +, 8-15 digits).
func ValidE164(phone string) bool {
	return e164Pattern.MatchString(phone)
}

// Channel prefixes the provider puts in front of phone numbers on inbound
// payloads (e.g. "whatsapp:+14155550001").
const (
	ChannelSMS       = "sms"
	ChannelWhatsApp  = "whatsapp"
	ChannelMessenger = "messenger"
)

// ExtractChannelAndPhone splits a provider address into its channel and a
// normalized E.164 number. Addresses without a prefix default to SMS. A bare
// digit string gets a leading + if the result is valid E.164. Returns an
// empty phone when the number cannot be normalized.
func ExtractChannelAndPhone(addr string) (channel, phone string) {
	channel = ChannelSMS
	phone = addr

	for _, p := range []string{ChannelWhatsApp, ChannelSMS, ChannelMessenger} {
		if strings.HasPrefix(phone, p+":") {
			channel = p
			phone = phone[len(p)+1:]
			break
		}
	}

	phone = strings.TrimSpace(phone)
	if ValidE164(phone) {
		return channel, phone
	}
	if ValidE164("+" + phone) {
		return channel, "+" + phone
	}
	return channel, ""
}

// MaskPhone redacts the middle digits of an E.164 number for logs and
// operator-facing listings ("+14155550001" -> "+1415***0001").
func MaskPhone(phone string) string {
	if len(phone) < 8 {
		return "***"
	}
	return phone[:5] + "***" + phone[len(phone)-4:]
}
