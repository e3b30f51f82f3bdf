package api

import (
	"fmt"
	"net/http"

	"github.com/ignite/event-stream-engine/internal/domain"
	"github.com/ignite/event-stream-engine/internal/pkg/httputil"
	"github.com/ignite/event-stream-engine/internal/template"
)

type templateRequest struct {
	Name      string   `json:"name"`
	Channel   string   `json:"channel"`
	Locale    string   `json:"locale"`
	Content   string   `json:"content"`
	Variables []string `json:"variables"`
}

func (req *templateRequest) validate(w http.ResponseWriter) (*domain.Template, bool) {
	if req.Name == "" {
		httputil.BadRequest(w, "name is required")
		return nil, false
	}
	if req.Content == "" {
		httputil.BadRequest(w, "content is required")
		return nil, false
	}
	if len(req.Content) > domain.MaxContentLength {
		httputil.BadRequest(w, fmt.Sprintf("content exceeds %d characters", domain.MaxContentLength))
		return nil, false
	}
	switch req.Channel {
	case "":
		req.Channel = domain.ChannelSMS
	case domain.ChannelSMS, domain.ChannelWhatsApp, domain.ChannelMessenger:
	default:
		httputil.BadRequest(w, "channel must be sms, whatsapp, or messenger")
		return nil, false
	}

	// Every placeholder in the content must be a declared variable, so a
	// template cannot reference attributes its author never listed.
	declared := map[string]bool{}
	for _, v := range req.Variables {
		declared[v] = true
	}
	var undeclared []string
	for _, name := range template.Placeholders(req.Content) {
		if !declared[name] {
			undeclared = append(undeclared, name)
		}
	}
	if len(undeclared) > 0 {
		httputil.ErrorDetails(w, http.StatusBadRequest, httputil.KindValidation,
			"content references undeclared variables", map[string]any{"undeclared": undeclared})
		return nil, false
	}

	return &domain.Template{
		Name:      req.Name,
		Channel:   req.Channel,
		Locale:    req.Locale,
		Content:   req.Content,
		Variables: req.Variables,
	}, true
}

// CreateTemplate creates a template after placeholder validation.
func (h *Handlers) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	t, ok := req.validate(w)
	if !ok {
		return
	}
	id, err := h.store.Templates.Create(r.Context(), t)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	t.ID = id
	httputil.Created(w, t)
}

// ListTemplates returns all templates.
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.store.Templates.List(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"templates": templates})
}

// GetTemplate returns one template.
func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := h.store.Templates.Get(r.Context(), id)
	if err != nil {
		storeError(w, err)
		return
	}
	httputil.OK(w, t)
}

// UpdateTemplate replaces a template's content and variables.
func (h *Handlers) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req templateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	t, ok := req.validate(w)
	if !ok {
		return
	}
	t.ID = id
	if err := h.store.Templates.Update(r.Context(), t); err != nil {
		storeError(w, err)
		return
	}
	httputil.OK(w, t)
}

// DeleteTemplate removes a template not referenced by any campaign.
func (h *Handlers) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.store.Templates.Delete(r.Context(), id); err != nil {
		storeError(w, err)
		return
	}
	httputil.NoContent(w)
}
