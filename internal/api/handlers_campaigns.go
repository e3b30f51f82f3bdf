package api

import (
	"net/http"
	"time"

	"github.com/ignite/event-stream-engine/internal/domain"
	"github.com/ignite/event-stream-engine/internal/pkg/httputil"
)

// campaignRequest is the create/update payload.
type campaignRequest struct {
	Topic              string     `json:"topic"`
	TemplateID         int64      `json:"template_id"`
	SegmentID          *int64     `json:"segment_id"`
	ScheduleTime       *time.Time `json:"schedule_time"`
	RateLimitPerSecond int        `json:"rate_limit_per_second"`
	QuietHoursStart    string     `json:"quiet_hours_start"`
	QuietHoursEnd      string     `json:"quiet_hours_end"`
	Timezone           string     `json:"timezone"`
}

func (req *campaignRequest) validate(w http.ResponseWriter) (*domain.Campaign, bool) {
	if req.Topic == "" {
		httputil.BadRequest(w, "topic is required")
		return nil, false
	}
	if req.TemplateID <= 0 {
		httputil.BadRequest(w, "template_id is required")
		return nil, false
	}
	if req.RateLimitPerSecond <= 0 {
		httputil.BadRequest(w, "rate_limit_per_second must be positive")
		return nil, false
	}
	if (req.QuietHoursStart == "") != (req.QuietHoursEnd == "") {
		httputil.BadRequest(w, "quiet_hours_start and quiet_hours_end must be set together")
		return nil, false
	}
	if _, err := domain.ParseQuietWindow(req.QuietHoursStart, req.QuietHoursEnd, req.Timezone); err != nil {
		httputil.BadRequest(w, err.Error())
		return nil, false
	}
	return &domain.Campaign{
		Topic:              req.Topic,
		TemplateID:         req.TemplateID,
		SegmentID:          req.SegmentID,
		ScheduleTime:       req.ScheduleTime,
		RateLimitPerSecond: req.RateLimitPerSecond,
		QuietHoursStart:    req.QuietHoursStart,
		QuietHoursEnd:      req.QuietHoursEnd,
		Timezone:           req.Timezone,
	}, true
}

// CreateCampaign creates a DRAFT campaign.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	c, ok := req.validate(w)
	if !ok {
		return
	}
	if _, err := h.store.Templates.Get(r.Context(), c.TemplateID); err != nil {
		storeError(w, err)
		return
	}
	if c.SegmentID != nil {
		if _, err := h.store.Segments.Get(r.Context(), *c.SegmentID); err != nil {
			storeError(w, err)
			return
		}
	}
	id, err := h.store.Campaigns.Create(r.Context(), c)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	created, err := h.store.Campaigns.Get(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, created)
}

// ListCampaigns lists campaigns, optionally filtered by ?status=.
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	status := domain.CampaignStatus(r.URL.Query().Get("status"))
	campaigns, err := h.store.Campaigns.List(r.Context(), status,
		queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"campaigns": campaigns})
}

// GetCampaign returns one campaign.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.store.Campaigns.Get(r.Context(), id)
	if err != nil {
		storeError(w, err)
		return
	}
	httputil.OK(w, c)
}

// UpdateCampaign modifies a DRAFT campaign. Triggered campaigns are immutable.
func (h *Handlers) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req campaignRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	c, ok := req.validate(w)
	if !ok {
		return
	}
	c.ID = id
	if err := h.store.Campaigns.Update(r.Context(), c); err != nil {
		storeError(w, err)
		return
	}
	updated, err := h.store.Campaigns.Get(r.Context(), id)
	if err != nil {
		storeError(w, err)
		return
	}
	httputil.OK(w, updated)
}

// TriggerCampaign starts or resumes a campaign run.
func (h *Handlers) TriggerCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.runner.Trigger(r.Context(), id)
	if err != nil {
		storeError(w, err)
		return
	}
	httputil.OK(w, res)
}

// PauseCampaign halts pipeline scheduling for a RUNNING campaign.
func (h *Handlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.runner.Pause(r.Context(), id); err != nil {
		storeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"id": id, "status": domain.CampaignPaused})
}

// ResumeCampaign restarts a PAUSED campaign.
func (h *Handlers) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.runner.Resume(r.Context(), id); err != nil {
		storeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"id": id, "status": domain.CampaignRunning})
}

// CampaignSummary returns per-status message counts for one campaign.
func (h *Handlers) CampaignSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.store.Campaigns.Get(r.Context(), id)
	if err != nil {
		storeError(w, err)
		return
	}
	counts, err := h.store.Campaigns.Summary(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	httputil.OK(w, map[string]any{
		"id":       id,
		"status":   c.Status,
		"counts":   counts,
		"messages": total,
	})
}

// CampaignMessages lists a campaign's messages, optionally by ?status=.
func (h *Handlers) CampaignMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	msgs, err := h.store.Messages.ListByCampaign(r.Context(), id,
		domain.MessageStatus(r.URL.Query().Get("status")),
		queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"messages": msgs})
}

// CampaignAudit lists the audit trail for one campaign.
func (h *Handlers) CampaignAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entries, err := h.store.Audit.ListByCampaign(r.Context(), id, queryInt(r, "limit", 100))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"entries": entries})
}
