package api

import (
	"github.com/lmarinho/kgraph"
	"github.com/lmarinho/kgraph/graph"
	"github.com/lmarinho/kgraph/store"
)

// ExtractRequest is the request body for starting an extraction.
type ExtractRequest struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// RunDetail is the full extraction result (aliased from the engine layer).
type RunDetail = kgraph.Run

// RunSummary is a run listing row (aliased from the store layer).
type RunSummary = store.RunSummary

// RunListResponse wraps run listings.
type RunListResponse struct {
	Runs  []RunSummary `json:"runs"`
	Total int          `json:"total"`
}

// SearchResponse wraps entity similarity search results.
type SearchResponse struct {
	Query   string              `json:"query"`
	Results []store.EntityMatch `json:"results"`
}

// ReportResponse wraps a run's quality report.
type ReportResponse struct {
	RunID  string              `json:"run_id"`
	Report graph.QualityReport `json:"report"`
}
