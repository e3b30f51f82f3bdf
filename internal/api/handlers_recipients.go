package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/event-stream-engine/internal/domain"
	"github.com/ignite/event-stream-engine/internal/pkg/httputil"
)

// upsertRecipientRequest creates or patches a recipient. Attributes are
// merged into the existing bag; consent_state only applies on first insert.
type upsertRecipientRequest struct {
	Attributes   map[string]any `json:"attributes"`
	ConsentState string         `json:"consent_state"`
}

// UpsertRecipient creates or updates the recipient behind {phone}.
func (h *Handlers) UpsertRecipient(w http.ResponseWriter, r *http.Request) {
	phone, ok := pathPhone(w, r)
	if !ok {
		return
	}
	var req upsertRecipientRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	consent := domain.ConsentOptIn
	if req.ConsentState != "" {
		if !domain.ValidConsentState(req.ConsentState) {
			httputil.BadRequest(w, "consent_state must be OPT_IN, OPT_OUT, or STOP")
			return
		}
		consent = domain.ConsentState(req.ConsentState)
	}
	if err := h.store.Recipients.Upsert(r.Context(), phone, req.Attributes, consent); err != nil {
		httputil.InternalError(w, err)
		return
	}
	rec, err := h.store.Recipients.Get(r.Context(), phone)
	if err != nil {
		storeError(w, err)
		return
	}
	httputil.OK(w, rec)
}

// GetRecipient returns one recipient.
func (h *Handlers) GetRecipient(w http.ResponseWriter, r *http.Request) {
	phone, ok := pathPhone(w, r)
	if !ok {
		return
	}
	rec, err := h.store.Recipients.Get(r.Context(), phone)
	if err != nil {
		storeError(w, err)
		return
	}
	httputil.OK(w, rec)
}

// ListRecipients pages recipients with a total count.
func (h *Handlers) ListRecipients(w http.ResponseWriter, r *http.Request) {
	recipients, total, err := h.store.Recipients.List(r.Context(),
		queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"recipients": recipients, "total": total})
}

// OptOutRecipient is the operator opt-out path (reversible, unlike STOP).
func (h *Handlers) OptOutRecipient(w http.ResponseWriter, r *http.Request) {
	phone, ok := pathPhone(w, r)
	if !ok {
		return
	}
	if err := h.consent.OptOut(r.Context(), phone); err != nil {
		storeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"phone_e164": phone, "consent_state": domain.ConsentOptOut})
}

// ReOptInRecipient is the only path out of STOP. It records an explicit
// re_opt_in audit entry.
func (h *Handlers) ReOptInRecipient(w http.ResponseWriter, r *http.Request) {
	phone, ok := pathPhone(w, r)
	if !ok {
		return
	}
	if err := h.consent.ReOptIn(r.Context(), phone); err != nil {
		storeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"phone_e164": phone, "consent_state": domain.ConsentOptIn})
}

// RecipientAudit lists the audit trail for one phone number.
func (h *Handlers) RecipientAudit(w http.ResponseWriter, r *http.Request) {
	phone, ok := pathPhone(w, r)
	if !ok {
		return
	}
	entries, err := h.store.Audit.ListByPhone(r.Context(), phone, queryInt(r, "limit", 100))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"entries": entries})
}

// ListSubscriptions returns the recipient's topic subscriptions.
func (h *Handlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	phone, ok := pathPhone(w, r)
	if !ok {
		return
	}
	topics, err := h.store.Recipients.Subscriptions(r.Context(), phone)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"phone_e164": phone, "topics": topics})
}

// Subscribe adds a (recipient, topic) edge.
func (h *Handlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	phone, ok := pathPhone(w, r)
	if !ok {
		return
	}
	topic := chi.URLParam(r, "topic")
	if topic == "" {
		httputil.BadRequest(w, "topic is required")
		return
	}
	if err := h.store.Recipients.Subscribe(r.Context(), phone, topic); err != nil {
		storeError(w, err)
		return
	}
	httputil.Created(w, domain.Subscription{PhoneE164: phone, Topic: topic})
}

// Unsubscribe removes a (recipient, topic) edge.
func (h *Handlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	phone, ok := pathPhone(w, r)
	if !ok {
		return
	}
	topic := chi.URLParam(r, "topic")
	if err := h.store.Recipients.Unsubscribe(r.Context(), phone, topic); err != nil {
		storeError(w, err)
		return
	}
	httputil.NoContent(w)
}

// RecentInbound lists recent inbound events with masked phone numbers.
func (h *Handlers) RecentInbound(w http.ResponseWriter, r *http.Request) {
	events, err := h.store.Events.RecentInbound(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	type maskedEvent struct {
		ID             string `json:"id"`
		FromPhone      string `json:"from_phone"`
		ChannelType    string `json:"channel_type"`
		NormalizedBody string `json:"normalized_body"`
		ReceivedAt     string `json:"received_at"`
		Processed      bool   `json:"processed"`
	}
	out := make([]maskedEvent, 0, len(events))
	for _, e := range events {
		out = append(out, maskedEvent{
			ID:             e.ID,
			FromPhone:      domain.MaskPhone(e.FromPhone),
			ChannelType:    e.ChannelType,
			NormalizedBody: e.NormalizedBody,
			ReceivedAt:     e.ReceivedAt.UTC().Format(time.RFC3339),
			Processed:      e.ProcessedAt != nil,
		})
	}
	httputil.OK(w, map[string]any{"events": out})
}
