package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lmarinho/kgraph"
)

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(eng kgraph.Engine) chi.Router {
	h := NewHandler(eng)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/extract", h.Extract)

	r.Get("/runs", h.ListRuns)
	r.Get("/runs/{id}", h.GetRun)
	r.Get("/runs/{id}/graph", h.GetGraph)
	r.Get("/runs/{id}/elements", h.GetElements)
	r.Get("/runs/{id}/report", h.GetReport)
	r.Delete("/runs/{id}", h.DeleteRun)

	r.Get("/search", h.Search)

	return r
}
