// Package api exposes the extraction engine over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lmarinho/kgraph"
	"github.com/lmarinho/kgraph/pipeline"
	"github.com/lmarinho/kgraph/store"
)

// Handler holds API route handlers.
type Handler struct {
	eng kgraph.Engine
}

// NewHandler creates a new Handler.
func NewHandler(eng kgraph.Engine) *Handler {
	return &Handler{eng: eng}
}

// Extract handles POST /extract: runs the full pipeline over the submitted
// text and returns the persisted run with its graph and quality report.
func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("text is required"))
		return
	}

	var opts []kgraph.ExtractOption
	if req.Source != "" {
		opts = append(opts, kgraph.WithSource(req.Source))
	}

	run, err := h.eng.Extract(r.Context(), req.Text, opts...)
	if err != nil {
		h.extractError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (h *Handler) extractError(w http.ResponseWriter, err error) {
	var stageErr *pipeline.StageError
	switch {
	case errors.Is(err, kgraph.ErrInputTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("document exceeds size limit"))
	case errors.As(err, &stageErr):
		slog.Error("extraction failed", slog.String("stage", stageErr.Stage), slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody("extraction failed in stage "+stageErr.Stage))
	default:
		slog.Error("extraction failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ListRuns handles GET /runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.eng.ListRuns(r.Context())
	if err != nil {
		slog.Error("list runs failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs, Total: len(runs)})
}

// GetRun handles GET /runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.eng.GetRun(r.Context(), id)
	if err != nil {
		h.runError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetGraph handles GET /runs/{id}/graph.
func (h *Handler) GetGraph(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	g, err := h.eng.GetGraph(r.Context(), id)
	if err != nil {
		h.runError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// GetElements handles GET /runs/{id}/elements: the graph in
// visualization-ready element form.
func (h *Handler) GetElements(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	elements, err := h.eng.GetElements(r.Context(), id)
	if err != nil {
		h.runError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, elements)
}

// GetReport handles GET /runs/{id}/report.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.eng.GetRun(r.Context(), id)
	if err != nil {
		h.runError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, ReportResponse{RunID: run.ID, Report: run.Report})
}

// DeleteRun handles DELETE /runs/{id}.
func (h *Handler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.eng.DeleteRun(r.Context(), id); err != nil {
		h.runError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /search?q=...&k=...: entity similarity search across
// runs.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("q is required"))
		return
	}
	k, _ := strconv.Atoi(r.URL.Query().Get("k"))

	matches, err := h.eng.SearchEntities(r.Context(), q, k)
	if err != nil {
		if errors.Is(err, kgraph.ErrEmbeddingDisabled) {
			writeJSON(w, http.StatusNotImplemented, errorBody("similarity search requires an embedding provider"))
			return
		}
		slog.Error("entity search failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if matches == nil {
		matches = []store.EntityMatch{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Query: q, Results: matches})
}

func (h *Handler) runError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, kgraph.ErrRunNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody("run not found: "+id))
		return
	}
	slog.Error("run lookup failed", slog.String("run", id), slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
}
