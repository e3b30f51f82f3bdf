package api

import (
	"encoding/json"
	"net/http"

	"github.com/ignite/event-stream-engine/internal/domain"
	"github.com/ignite/event-stream-engine/internal/pkg/httputil"
	"github.com/ignite/event-stream-engine/internal/segment"
)

type segmentRequest struct {
	Name       string          `json:"name"`
	Definition json.RawMessage `json:"definition"`
}

func (req *segmentRequest) validate(w http.ResponseWriter) (*domain.Segment, bool) {
	if req.Name == "" {
		httputil.BadRequest(w, "name is required")
		return nil, false
	}
	if len(req.Definition) == 0 {
		httputil.BadRequest(w, "definition is required")
		return nil, false
	}
	// Reject malformed rule trees at the door; stored definitions must
	// always parse when a campaign materializes.
	if _, err := segment.Parse(req.Definition); err != nil {
		httputil.ErrorDetails(w, http.StatusBadRequest, httputil.KindValidation,
			"invalid segment definition", map[string]any{"error": err.Error()})
		return nil, false
	}
	return &domain.Segment{Name: req.Name, Definition: req.Definition}, true
}

// CreateSegment stores a validated rule tree.
func (h *Handlers) CreateSegment(w http.ResponseWriter, r *http.Request) {
	var req segmentRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	s, ok := req.validate(w)
	if !ok {
		return
	}
	id, err := h.store.Segments.Create(r.Context(), s)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	s.ID = id
	httputil.Created(w, s)
}

// ListSegments returns all segments.
func (h *Handlers) ListSegments(w http.ResponseWriter, r *http.Request) {
	segments, err := h.store.Segments.List(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"segments": segments})
}

// GetSegment returns one segment.
func (h *Handlers) GetSegment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s, err := h.store.Segments.Get(r.Context(), id)
	if err != nil {
		storeError(w, err)
		return
	}
	httputil.OK(w, s)
}

// UpdateSegment replaces a segment's rule tree.
func (h *Handlers) UpdateSegment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req segmentRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	s, ok := req.validate(w)
	if !ok {
		return
	}
	s.ID = id
	if err := h.store.Segments.Update(r.Context(), s); err != nil {
		storeError(w, err)
		return
	}
	httputil.OK(w, s)
}

// DeleteSegment removes a segment not referenced by any campaign.
func (h *Handlers) DeleteSegment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.store.Segments.Delete(r.Context(), id); err != nil {
		storeError(w, err)
		return
	}
	httputil.NoContent(w)
}
