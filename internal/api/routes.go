package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes over the given handlers.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	// Provider webhooks. Form-encoded, always 200 once the raw payload is
	// captured so the provider never retries on our normalization bugs.
	r.Post("/webhooks/inbound", h.WebhookInbound)
	r.Post("/webhooks/status", h.WebhookStatus)

	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", h.CreateCampaign)
		r.Get("/", h.ListCampaigns)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetCampaign)
			r.Put("/", h.UpdateCampaign)
			r.Post("/trigger", h.TriggerCampaign)
			r.Post("/pause", h.PauseCampaign)
			r.Post("/resume", h.ResumeCampaign)
			r.Get("/summary", h.CampaignSummary)
			r.Get("/messages", h.CampaignMessages)
			r.Get("/audit", h.CampaignAudit)
		})
	})

	r.Route("/recipients", func(r chi.Router) {
		r.Get("/", h.ListRecipients)
		r.Route("/{phone}", func(r chi.Router) {
			r.Get("/", h.GetRecipient)
			r.Put("/", h.UpsertRecipient)
			r.Post("/opt_out", h.OptOutRecipient)
			r.Post("/re_opt_in", h.ReOptInRecipient)
			r.Get("/audit", h.RecipientAudit)
			r.Get("/subscriptions", h.ListSubscriptions)
			r.Post("/subscriptions/{topic}", h.Subscribe)
			r.Delete("/subscriptions/{topic}", h.Unsubscribe)
		})
	})

	r.Route("/templates", func(r chi.Router) {
		r.Post("/", h.CreateTemplate)
		r.Get("/", h.ListTemplates)
		r.Get("/{id}", h.GetTemplate)
		r.Put("/{id}", h.UpdateTemplate)
		r.Delete("/{id}", h.DeleteTemplate)
	})

	r.Route("/segments", func(r chi.Router) {
		r.Post("/", h.CreateSegment)
		r.Get("/", h.ListSegments)
		r.Get("/{id}", h.GetSegment)
		r.Put("/{id}", h.UpdateSegment)
		r.Delete("/{id}", h.DeleteSegment)
	})

	r.Get("/events/inbound", h.RecentInbound)

	return r
}
