package domain

import "time"

// InboundEvent is the append-only audit row for an inbound provider webhook.
// Raw payload is persisted verbatim before any normalization; the row is
// never updated in place.
type InboundEvent struct {
	ID                string     `json:"id" db:"id"`
	RawPayload        []byte     `json:"raw_payload" db:"raw_payload"`
	FromPhone         string     `json:"from_phone" db:"from_phone"`
	ChannelType       string     `json:"channel_type" db:"channel_type"`
	NormalizedBody    string     `json:"normalized_body" db:"normalized_body"`
	ProviderMessageID string     `json:"provider_message_id" db:"provider_message_id"`
	ReceivedAt        time.Time  `json:"received_at" db:"received_at"`
	ProcessedAt       *time.Time `json:"processed_at" db:"processed_at"`
}

// DeliveryReceipt is the append-only audit row for a provider status
// callback. Never updated in place.
type DeliveryReceipt struct {
	ID            string    `json:"id" db:"id"`
	RawPayload    []byte    `json:"raw_payload" db:"raw_payload"`
	ProviderSid   string    `json:"provider_sid" db:"provider_sid"`
	MessageStatus string    `json:"message_status" db:"message_status"`
	ErrorCode     *int      `json:"error_code" db:"error_code"`
	ReceivedAt    time.Time `json:"received_at" db:"received_at"`
}

// Audit kinds written by the consent service and the orchestrator pipeline.
const (
	AuditConsentChange   = "consent_change"
	AuditReOptIn         = "re_opt_in"
	AuditRenderSkipped   = "render_skipped"
	AuditPipelineOutcome = "pipeline_outcome"
	AuditDispatchAttempt = "dispatch_attempt"
)

// Skip/failure reasons recorded on audit entries and message rows.
const (
	ReasonConsentBlocked    = "consent_blocked"
	ReasonQuietHours        = "quiet_hours"
	ReasonRateLimited       = "rate_limited"
	ReasonContentInvalid    = "content_invalid"
	ReasonProviderTransient = "provider_transient"
	ReasonProviderPermanent = "provider_permanent"
	ReasonRetriesExhausted  = "retries_exhausted"
)

// AuditEntry is one structured record in the compliance audit trail.
// Entries are append-only.
type AuditEntry struct {
	ID         string         `json:"id" db:"id"`
	Kind       string         `json:"kind" db:"kind"`
	CampaignID *int64         `json:"campaign_id" db:"campaign_id"`
	MessageID  *string        `json:"message_id" db:"message_id"`
	PhoneE164  string         `json:"phone_e164" db:"phone_e164"`
	Reason     string         `json:"reason" db:"reason"`
	Detail     map[string]any `json:"detail" db:"detail"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}
