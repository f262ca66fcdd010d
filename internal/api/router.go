package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tagledger/internal/tagservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *tagservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/files/*", h.GetFile)

	// Detail edits address an occurrence by path and index in the body.
	r.Route("/details", func(r chi.Router) {
		r.Delete("/", h.ClearDetail)
		r.Post("/attach", h.AttachDetail)
		r.Put("/attribute", h.SetAttribute)
		r.Delete("/attribute", h.DeleteAttribute)
		r.Put("/item", h.SetItem)
	})

	r.Get("/tags/{tag}", h.ListByTag)
	r.Get("/search", h.Search)

	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.UpdateSettings)

	r.Get("/review", h.ReviewQueue)
	r.Delete("/review/*", h.ResolveReview)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
