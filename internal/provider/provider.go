// Package provider abstracts outbound message delivery. The orchestrator
// depends only on the Client interface; the Twilio adapter and the test
// Fake are interchangeable.
package provider

import (
	"context"
	"fmt"
)

// ErrorKind classifies a send failure for retry policy.
type ErrorKind string

const (
	// KindTransient failures are retried with backoff: timeouts, network
	// errors, provider 5xx, rate limiting, queue overflow.
	KindTransient ErrorKind = "transient"
	// KindPermanent failures fail the message immediately: invalid
	// recipient, not-a-mobile, blocked content.
	KindPermanent ErrorKind = "permanent"
)

// Error is a classified provider failure with the provider's numeric code.
type Error struct {
	Kind ErrorKind
	Code int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error (%s, code %d): %s", e.Kind, e.Code, e.Msg)
}

// Client is the outbound delivery capability. Send returns the provider's
// message SID on acceptance or an *Error on failure. Implementations must
// honor the context deadline.
type Client interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// Transient provider codes retried with backoff. Everything else reported
// by the provider as an error code is treated as permanent.
var transientCodes = map[int]bool{
	20429: true, // too many requests
	30001: true, // queue overflow
	30022: true, // rate limited by carrier
}

// classifyCode maps a provider error code to a kind.
func classifyCode(code int) ErrorKind {
	if transientCodes[code] {
		return KindTransient
	}
	return KindPermanent
}
