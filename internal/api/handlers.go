package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/event-stream-engine/internal/domain"
	"github.com/ignite/event-stream-engine/internal/orchestrator"
	"github.com/ignite/event-stream-engine/internal/pkg/httputil"
	"github.com/ignite/event-stream-engine/internal/store"
)

// CampaignRunner is the orchestrator capability the API needs.
type CampaignRunner interface {
	Trigger(ctx context.Context, campaignID int64) (*orchestrator.TriggerResult, error)
	Pause(ctx context.Context, campaignID int64) error
	Resume(ctx context.Context, campaignID int64) error
}

// WebhookIngestor consumes raw provider callbacks.
type WebhookIngestor interface {
	Inbound(ctx context.Context, form url.Values, raw []byte) error
	Status(ctx context.Context, form url.Values, raw []byte) error
}

// ConsentAdmin exposes the operator consent paths.
type ConsentAdmin interface {
	OptOut(ctx context.Context, phone string) error
	ReOptIn(ctx context.Context, phone string) error
}

// Handlers holds the API's dependencies.
type Handlers struct {
	store   *store.Store
	runner  CampaignRunner
	ingest  WebhookIngestor
	consent ConsentAdmin
}

// NewHandlers wires the API handlers.
func NewHandlers(s *store.Store, runner CampaignRunner, ingest WebhookIngestor, consent ConsentAdmin) *Handlers {
	return &Handlers{store: s, runner: runner, ingest: ingest, consent: consent}
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// WebhookInbound accepts an inbound message callback. The body is captured
// raw before parsing; once the raw row exists the response is 200 no matter
// what normalization does.
func (h *Handlers) WebhookInbound(w http.ResponseWriter, r *http.Request) {
	h.webhook(w, r, h.ingest.Inbound)
}

// WebhookStatus accepts a delivery status callback.
func (h *Handlers) WebhookStatus(w http.ResponseWriter, r *http.Request) {
	h.webhook(w, r, h.ingest.Status)
}

func (h *Handlers) webhook(w http.ResponseWriter, r *http.Request, sink func(context.Context, url.Values, []byte) error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httputil.BadRequest(w, "unreadable body")
		return
	}
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		form = url.Values{}
	}
	if err := sink(r.Context(), form, raw); err != nil {
		// Raw capture failed: let the provider retry.
		httputil.InternalError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// pathID parses the {id} route parameter. Writes a 400 and returns false on
// a malformed value.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.BadRequest(w, "invalid id")
		return 0, false
	}
	return id, true
}

// pathPhone parses and validates the {phone} route parameter.
func pathPhone(w http.ResponseWriter, r *http.Request) (string, bool) {
	phone, err := url.PathUnescape(chi.URLParam(r, "phone"))
	if err != nil || !domain.ValidE164(phone) {
		httputil.BadRequest(w, "phone must be E.164 (+14155550001)")
		return "", false
	}
	return phone, true
}

// storeError maps repository sentinels onto the HTTP error envelope.
func storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		httputil.NotFound(w, "not found")
	case errors.Is(err, store.ErrConflict):
		httputil.Conflict(w, "conflicting state")
	default:
		httputil.InternalError(w, err)
	}
}

// queryInt reads an integer query parameter with a default.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
