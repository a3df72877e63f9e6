package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tiwaz/internal/needservice"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// AuthEnabled controls whether Bearer token auth is enforced.
	AuthEnabled bool
	Token       string
	// Events, if non-nil, is mounted at GET /events inside the auth group.
	Events http.Handler
	// Metrics, if non-nil, is mounted at GET /metrics.
	Metrics http.Handler
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(svc *needservice.Service, opts RouterOptions) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(opts.AuthEnabled, opts.Token))

	// Needs.
	r.Get("/needs", h.ListNeeds)
	r.Get("/needs.json", h.NeedsJSON)
	r.Get("/needs/{id}", h.GetNeed)
	r.Get("/needs/{id}/tree", h.Tree)
	r.Get("/needs/{id}/backlinks", h.Backlinks)

	r.Get("/search", h.Search)
	r.Get("/graph", h.Graph)
	r.Get("/select", h.Select)

	// Builds.
	r.Get("/build", h.BuildInfo)
	r.Post("/build", h.Rebuild)

	if opts.Events != nil {
		r.Get("/events", opts.Events.ServeHTTP)
	}
	if opts.Metrics != nil {
		r.Get("/metrics", opts.Metrics.ServeHTTP)
	}

	return r
}
