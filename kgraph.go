// Package kgraph builds knowledge graphs from unstructured text through a
// staged LLM pipeline: entity extraction, personality analysis, relationship
// extraction, and a final quality scoring pass. Completed runs are persisted
// in SQLite and exported in a visualization-ready element format.
package kgraph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/lmarinho/kgraph/graph"
	"github.com/lmarinho/kgraph/llm"
	"github.com/lmarinho/kgraph/parser"
	"github.com/lmarinho/kgraph/pipeline"
	"github.com/lmarinho/kgraph/store"
)

// Engine is the main entry point for the extraction engine.
type Engine interface {
	// Extract runs the full pipeline over raw text and persists the result.
	Extract(ctx context.Context, text string, opts ...ExtractOption) (*Run, error)

	// ExtractFile parses a document file and extracts from its text.
	ExtractFile(ctx context.Context, path string, opts ...ExtractOption) (*Run, error)

	// ExtractAll processes several files with bounded concurrency. Each file
	// gets its own run; one failure does not stop the others.
	ExtractAll(ctx context.Context, paths []string, concurrency int) []BatchResult

	// GetRun returns a persisted run record with its quality report.
	GetRun(ctx context.Context, id string) (*store.Run, error)

	// GetGraph returns a persisted run's graph.
	GetGraph(ctx context.Context, id string) (*graph.KnowledgeGraph, error)

	// GetElements returns a persisted run's graph in visualization element
	// form.
	GetElements(ctx context.Context, id string) (*graph.Elements, error)

	// ListRuns returns summaries of all runs, newest first.
	ListRuns(ctx context.Context) ([]store.RunSummary, error)

	// DeleteRun removes a run and all associated data.
	DeleteRun(ctx context.Context, id string) error

	// SearchEntities finds entities across runs by label similarity.
	// Requires an embedding provider.
	SearchEntities(ctx context.Context, query string, k int) ([]store.EntityMatch, error)

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// Run is the result of one extraction.
type Run struct {
	ID     string                `json:"id"`
	Source string                `json:"source"`
	Graph  *graph.KnowledgeGraph `json:"graph"`
	Report graph.QualityReport   `json:"report"`
}

// BatchResult reports the outcome of one file in a batch extraction.
type BatchResult struct {
	Path  string `json:"path"`
	RunID string `json:"run_id,omitempty"`
	Err   error  `json:"error,omitempty"`
}

// ExtractOption configures an extraction.
type ExtractOption func(*extractOptions)

type extractOptions struct {
	source string
}

// WithSource labels the run with the name of its source document.
func WithSource(name string) ExtractOption {
	return func(o *extractOptions) { o.source = name }
}

type engine struct {
	cfg      Config
	store    *store.Store
	chatLLM  llm.Provider
	embedLLM llm.Provider
	parsers  *parser.Registry
	runner   *pipeline.Runner
}

// New creates an Engine from the given configuration.
func New(cfg Config) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 768
	}
	if cfg.MaxDocumentChars == 0 {
		cfg.MaxDocumentChars = 100000
	}

	s, err := store.New(cfg.resolveDBPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	chatLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Chat.Provider,
		Model:    cfg.Chat.Model,
		BaseURL:  cfg.Chat.BaseURL,
		APIKey:   cfg.Chat.APIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating chat provider: %w", err)
	}

	var embedLLM llm.Provider
	if cfg.Embedding.Provider != "" {
		embedLLM, err = llm.NewProvider(llm.Config{
			Provider: cfg.Embedding.Provider,
			Model:    cfg.Embedding.Model,
			BaseURL:  cfg.Embedding.BaseURL,
			APIKey:   cfg.Embedding.APIKey,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
	}

	return &engine{
		cfg:      cfg,
		store:    s,
		chatLLM:  chatLLM,
		embedLLM: embedLLM,
		parsers:  parser.NewRegistry(),
		runner:   pipeline.New(chatLLM),
	}, nil
}

func (e *engine) Extract(ctx context.Context, text string, opts ...ExtractOption) (*Run, error) {
	options := &extractOptions{source: "text"}
	for _, o := range opts {
		o(options)
	}

	if e.cfg.MaxDocumentChars > 0 && len(text) > e.cfg.MaxDocumentChars {
		return nil, fmt.Errorf("%w: %d chars, limit %d",
			ErrInputTooLarge, len(text), e.cfg.MaxDocumentChars)
	}

	start := time.Now()
	res, err := e.runner.Run(ctx, text)
	if err != nil {
		return nil, err
	}

	id, err := gonanoid.New(12)
	if err != nil {
		return nil, fmt.Errorf("generating run id: %w", err)
	}

	run := store.Run{
		ID:     id,
		Source: options.source,
		Model:  e.cfg.Chat.Model,
		Report: res.Report,
	}
	if err := e.store.SaveRun(ctx, run, res.Graph); err != nil {
		return nil, fmt.Errorf("persisting run: %w", err)
	}

	// Embeddings are an index over finished runs, not part of the run
	// contract; a failure here degrades search only.
	if e.embedLLM != nil {
		if err := e.embedEntities(ctx, id, res.Graph); err != nil {
			slog.Warn("kgraph: entity embedding failed", "run", id, "error", err)
		}
	}

	slog.Info("kgraph: extraction complete",
		"run", id,
		"source", options.source,
		"entities", len(res.Graph.Entities),
		"edges", len(res.Graph.Edges),
		"correctness", res.Report.Correctness.Score,
		"completeness", res.Report.Completeness.Score,
		"elapsed", time.Since(start))

	return &Run{
		ID:     id,
		Source: options.source,
		Graph:  res.Graph,
		Report: res.Report,
	}, nil
}

func (e *engine) ExtractFile(ctx context.Context, path string, opts ...ExtractOption) (*Run, error) {
	p, err := e.parsers.ForFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	doc, err := p.Parse(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}
	return e.Extract(ctx, doc.Text, append([]ExtractOption{WithSource(doc.Name)}, opts...)...)
}

func (e *engine) ExtractAll(ctx context.Context, paths []string, concurrency int) []BatchResult {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]BatchResult, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, path := range paths {
		g.Go(func() error {
			run, err := e.ExtractFile(ctx, path)
			if err != nil {
				results[i] = BatchResult{Path: path, Err: err}
				return nil
			}
			results[i] = BatchResult{Path: path, RunID: run.ID}
			return nil
		})
	}
	g.Wait()
	return results
}

func (e *engine) GetRun(ctx context.Context, id string) (*store.Run, error) {
	run, err := e.store.GetRun(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

func (e *engine) GetGraph(ctx context.Context, id string) (*graph.KnowledgeGraph, error) {
	g, err := e.store.GetGraph(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return g, err
}

func (e *engine) GetElements(ctx context.Context, id string) (*graph.Elements, error) {
	g, err := e.GetGraph(ctx, id)
	if err != nil {
		return nil, err
	}
	elements := graph.Export(g)
	return &elements, nil
}

func (e *engine) ListRuns(ctx context.Context) ([]store.RunSummary, error) {
	return e.store.ListRuns(ctx)
}

func (e *engine) DeleteRun(ctx context.Context, id string) error {
	err := e.store.DeleteRun(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return err
}

func (e *engine) SearchEntities(ctx context.Context, query string, k int) ([]store.EntityMatch, error) {
	if e.embedLLM == nil {
		return nil, ErrEmbeddingDisabled
	}
	if k < 1 {
		k = 10
	}
	vecs, err := e.embedLLM.Embed(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return e.store.SearchEntities(ctx, vecs[0], k)
}

func (e *engine) Store() *store.Store {
	return e.store
}

func (e *engine) Close() error {
	return e.store.Close()
}

// embedEntities embeds entity labels for cross-run similarity search.
func (e *engine) embedEntities(ctx context.Context, runID string, g *graph.KnowledgeGraph) error {
	if len(g.Entities) == 0 {
		return nil
	}
	labels := make([]string, len(g.Entities))
	for i, ent := range g.Entities {
		labels[i] = ent.Label
	}
	vecs, err := e.embedLLM.Embed(ctx, labels)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vecs) != len(labels) {
		return fmt.Errorf("%w: got %d vectors for %d labels", ErrEmbeddingFailed, len(vecs), len(labels))
	}
	for i, ent := range g.Entities {
		if err := e.store.InsertEntityEmbedding(ctx, runID, ent.ID, vecs[i]); err != nil {
			return err
		}
	}
	return nil
}
