// Package pipeline runs the staged extraction process that turns an
// unstructured document into a validated knowledge graph and a quality
// report. Stages run strictly in sequence; each consumes only validated
// output of the previous one, and a stage failure aborts the run with no
// partial graph.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lmarinho/kgraph/graph"
	"github.com/lmarinho/kgraph/llm"
)

// Stage identifiers, carried on StageError so callers can tell which stage
// a run died in.
const (
	StageEntities      = "entity_extraction"
	StagePersonality   = "personality_analysis"
	StageRelationships = "relationship_extraction"
	StageScoring       = "quality_scoring"
)

// Result is the outcome of a successful run: the frozen graph and the
// scoring verdict on it.
type Result struct {
	Graph  *graph.KnowledgeGraph `json:"graph"`
	Report graph.QualityReport   `json:"report"`
}

// Runner drives the extraction stages over a single LLM gateway.
type Runner struct {
	chat llm.Provider
}

// New returns a Runner backed by the given chat provider.
func New(chat llm.Provider) *Runner {
	return &Runner{chat: chat}
}

// Run executes the full pipeline over the document text. A document with no
// content short-circuits to an empty graph and a perfect report without
// touching the gateway: there is nothing to extract and nothing to get wrong.
func (r *Runner) Run(ctx context.Context, text string) (*Result, error) {
	doc := strings.TrimSpace(text)
	if doc == "" {
		return &Result{
			Graph: &graph.KnowledgeGraph{
				Entities: []graph.Entity{},
				Edges:    []graph.Relationship{},
			},
			Report: emptyDocumentReport(),
		}, nil
	}

	start := time.Now()

	g, err := r.extractEntities(ctx, doc)
	if err != nil {
		return nil, stageFailed(StageEntities, err)
	}
	slog.Info("pipeline: entities extracted",
		"entities", len(g.Entities), "elapsed", time.Since(start))

	if err := r.analyzePersonalities(ctx, doc, g); err != nil {
		return nil, stageFailed(StagePersonality, err)
	}

	if err := r.extractRelationships(ctx, doc, g); err != nil {
		return nil, stageFailed(StageRelationships, err)
	}
	slog.Info("pipeline: graph assembled",
		"entities", len(g.Entities), "edges", len(g.Edges), "elapsed", time.Since(start))

	// The graph is frozen from here on. Scoring observes, never mutates.
	if err := g.Validate(); err != nil {
		return nil, stageFailed(StageRelationships, fmt.Errorf("%w: %v", ErrSchemaViolation, err))
	}

	report, err := r.score(ctx, doc, g)
	if err != nil {
		return nil, stageFailed(StageScoring, err)
	}
	slog.Info("pipeline: run complete",
		"correctness", report.Correctness.Score,
		"completeness", report.Completeness.Score,
		"elapsed", time.Since(start))

	return &Result{Graph: g, Report: report}, nil
}

// extractEntities performs stage 1 and mints the canonical entity set.
func (r *Runner) extractEntities(ctx context.Context, doc string) (*graph.KnowledgeGraph, error) {
	var p entityPayload
	if err := r.invoke(ctx, StageEntities, fmt.Sprintf(entityExtractionPrompt, doc), &p); err != nil {
		return nil, err
	}
	return &graph.KnowledgeGraph{
		Entities: p.toEntities(),
		Edges:    []graph.Relationship{},
	}, nil
}

// analyzePersonalities performs stage 2: one gateway call per PERSON entity.
// Entities of other types are never analyzed, and a person without textual
// support keeps a nil profile.
func (r *Runner) analyzePersonalities(ctx context.Context, doc string, g *graph.KnowledgeGraph) error {
	for i := range g.Entities {
		if g.Entities[i].Type != graph.TypePerson {
			continue
		}
		var p traitPayload
		prompt := fmt.Sprintf(personalityPrompt, g.Entities[i].Label, doc)
		if err := r.invoke(ctx, StagePersonality, prompt, &p); err != nil {
			return fmt.Errorf("person %q: %w", g.Entities[i].ID, err)
		}
		if len(p.Traits) > 0 {
			g.Entities[i].Personality = graph.PersonalityProfile(p.Traits)
		}
	}
	return nil
}

// extractRelationships performs stage 3, restricted to the confirmed entity
// set. With fewer than two entities no edge is possible, so the gateway is
// not consulted at all.
func (r *Runner) extractRelationships(ctx context.Context, doc string, g *graph.KnowledgeGraph) error {
	if len(g.Entities) < 2 {
		return nil
	}

	confirmed := make(map[string]bool, len(g.Entities))
	ids := make([]string, 0, len(g.Entities))
	for _, e := range g.Entities {
		confirmed[e.ID] = true
		ids = append(ids, e.ID)
	}
	roster, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal entity roster: %w", err)
	}

	p := relationshipPayload{confirmed: confirmed}
	prompt := fmt.Sprintf(relationshipPrompt, string(roster), doc)
	if err := r.invoke(ctx, StageRelationships, prompt, &p); err != nil {
		return err
	}
	g.Edges = p.toEdges()
	return nil
}

// score performs the final gateway call, judging the frozen graph against the
// source document.
func (r *Runner) score(ctx context.Context, doc string, g *graph.KnowledgeGraph) (graph.QualityReport, error) {
	frozen, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return graph.QualityReport{}, fmt.Errorf("marshal graph for scoring: %w", err)
	}

	var report graph.QualityReport
	prompt := fmt.Sprintf(scoringPrompt, doc, string(frozen))
	if err := r.invoke(ctx, StageScoring, prompt, &report); err != nil {
		return graph.QualityReport{}, err
	}
	return report, nil
}

func emptyDocumentReport() graph.QualityReport {
	const rationale = "document contains no content; nothing to extract or score"
	return graph.QualityReport{
		Correctness:  graph.AxisScore{Score: 10, Rationale: rationale},
		Completeness: graph.AxisScore{Score: 10, Rationale: rationale},
	}
}
