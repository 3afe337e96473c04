package pipeline

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/lmarinho/kgraph/graph"
)

// extractedEntity is the JSON shape the entity extraction stage returns.
type extractedEntity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// entityPayload wraps the stage-1 response.
type entityPayload struct {
	Entities []extractedEntity `json:"entities"`
}

// Validate rejects entities without a usable name and types outside the
// recognized set. An empty array is a valid response.
func (p *entityPayload) Validate() error {
	for i, e := range p.Entities {
		if err := validation.ValidateStruct(&e,
			validation.Field(&e.Name, validation.Required),
		); err != nil {
			return fmt.Errorf("entity %d: %w", i, err)
		}
		t := graph.NormalizeType(e.Type)
		known := false
		for _, kt := range graph.Types {
			if t == kt {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("entity %d (%q): unknown type %q", i, e.Name, e.Type)
		}
	}
	return nil
}

// toEntities mints canonical entities from the validated payload. This is the
// only place node identities are created.
func (p *entityPayload) toEntities() []graph.Entity {
	entities := make([]graph.Entity, 0, len(p.Entities))
	for _, e := range p.Entities {
		label := strings.TrimSpace(e.Name)
		entities = append(entities, graph.Entity{
			ID:    graph.NormalizeID(label),
			Label: label,
			Type:  graph.NormalizeType(e.Type),
		})
	}
	return graph.MergeDuplicates(entities)
}

// traitPayload wraps a stage-2 response for a single PERSON entity.
type traitPayload struct {
	Traits []graph.Trait `json:"traits"`
}

// Validate requires evidence on every trait. No traits is a valid response:
// a person the text says nothing about simply gets no profile.
func (p *traitPayload) Validate() error {
	return graph.PersonalityProfile(p.Traits).Validate()
}

// extractedRelationship is the JSON shape the relationship stage returns.
type extractedRelationship struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Label    string `json:"label"`
	Evidence string `json:"evidence"`
}

// relationshipPayload wraps the stage-3 response. The confirmed set is
// injected before decoding so endpoint membership is enforced by the
// validator itself, not by trusting the prompt.
type relationshipPayload struct {
	Relationships []extractedRelationship `json:"relationships"`

	confirmed map[string]bool
}

// Validate checks each edge's structural fields and resolves both endpoints
// into the confirmed entity set.
func (p *relationshipPayload) Validate() error {
	for i, r := range p.Relationships {
		if err := validation.ValidateStruct(&r,
			validation.Field(&r.Source, validation.Required),
			validation.Field(&r.Target, validation.Required),
			validation.Field(&r.Label, validation.Required),
		); err != nil {
			return fmt.Errorf("relationship %d: %w", i, err)
		}
		src := graph.NormalizeID(r.Source)
		tgt := graph.NormalizeID(r.Target)
		if !p.confirmed[src] {
			return fmt.Errorf("%w: relationship %d source %q", ErrReferentialIntegrity, i, r.Source)
		}
		if !p.confirmed[tgt] {
			return fmt.Errorf("%w: relationship %d target %q", ErrReferentialIntegrity, i, r.Target)
		}
	}
	return nil
}

// toEdges converts the validated payload into graph edges, preserving order.
// Only byte-identical duplicates are dropped; near-duplicates with
// synonymous labels are deliberately kept.
func (p *relationshipPayload) toEdges() []graph.Relationship {
	seen := make(map[graph.Relationship]bool, len(p.Relationships))
	edges := make([]graph.Relationship, 0, len(p.Relationships))
	for _, r := range p.Relationships {
		edge := graph.Relationship{
			Source:   graph.NormalizeID(r.Source),
			Target:   graph.NormalizeID(r.Target),
			Label:    strings.TrimSpace(r.Label),
			Evidence: strings.TrimSpace(r.Evidence),
		}
		if seen[edge] {
			continue
		}
		seen[edge] = true
		edges = append(edges, edge)
	}
	return edges
}
