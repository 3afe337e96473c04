// Package graph defines the typed shapes of the knowledge graph (entities,
// personality profiles, relationship edges, and the quality report) and the
// structural validation applied to every shape before the pipeline consumes
// it.
package graph

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Entity type constants. These are the recognized categories for extracted
// nodes; anything else coming back from the model is a contract violation.
const (
	TypePerson   = "PERSON"
	TypeOrg      = "ORG"
	TypeLocation = "LOCATION"
	TypeEvent    = "EVENT"
	TypeConcept  = "CONCEPT"
)

// Types lists all recognized entity types.
var Types = []string{TypePerson, TypeOrg, TypeLocation, TypeEvent, TypeConcept}

func typeValues() []interface{} {
	vals := make([]interface{}, len(Types))
	for i, t := range Types {
		vals[i] = t
	}
	return vals
}

// Entity is a normalized node representing a unique real-world referent.
// IDs are minted once, during entity extraction, and never change afterwards.
type Entity struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
	// Personality is present only on PERSON entities with textual evidence.
	Personality PersonalityProfile `json:"personality,omitempty"`
}

// Validate checks the entity's structural contract.
func (e Entity) Validate() error {
	if err := validation.ValidateStruct(&e,
		validation.Field(&e.ID, validation.Required),
		validation.Field(&e.Label, validation.Required),
		validation.Field(&e.Type, validation.Required, validation.In(typeValues()...)),
	); err != nil {
		return err
	}
	if len(e.Personality) > 0 && e.Type != TypePerson {
		return fmt.Errorf("entity %q: personality profile on non-PERSON type %s", e.ID, e.Type)
	}
	return e.Personality.Validate()
}

// Trait is a single personality trait with its supporting text evidence.
type Trait struct {
	Name     string `json:"trait"`
	Evidence string `json:"evidence"`
}

// Validate requires both the trait name and its grounding evidence.
func (t Trait) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Name, validation.Required),
		validation.Field(&t.Evidence, validation.Required),
	)
}

// PersonalityProfile maps an entity's disposition as a list of evidenced
// traits. An empty profile means no textual support was found; profiles are
// never defaulted.
type PersonalityProfile []Trait

// Validate checks every trait in the profile.
func (p PersonalityProfile) Validate() error {
	for i, t := range p {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("trait %d: %w", i, err)
		}
	}
	return nil
}

// Relationship is a directed, labeled edge between two confirmed entities.
// Labels are free text and deliberately not canonicalized; two edges between
// the same pair with different labels both stand when the text supports
// distinct nuances.
type Relationship struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Label    string `json:"label"`
	Evidence string `json:"evidence,omitempty"`
}

// Validate checks the edge's structural contract. Endpoint membership in the
// confirmed entity set is checked at the graph level, where the set is known.
func (r Relationship) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Source, validation.Required),
		validation.Field(&r.Target, validation.Required),
		validation.Field(&r.Label, validation.Required),
	)
}

// KnowledgeGraph aggregates the confirmed entity set and the ordered edge
// sequence. The pipeline owns it exclusively during construction; once
// scoring begins it is frozen.
type KnowledgeGraph struct {
	Entities []Entity       `json:"entities"`
	Edges    []Relationship `json:"edges"`
}

// Entity returns the entity with the given id, if present.
func (g *KnowledgeGraph) Entity(id string) (Entity, bool) {
	for _, e := range g.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return Entity{}, false
}

// Persons returns the PERSON-typed entities in declaration order.
func (g *KnowledgeGraph) Persons() []Entity {
	var persons []Entity
	for _, e := range g.Entities {
		if e.Type == TypePerson {
			persons = append(persons, e)
		}
	}
	return persons
}

// Validate enforces the graph's invariants: entities unique by id and
// individually valid, every edge endpoint resolving into the entity set,
// personality profiles only on PERSON entities.
func (g *KnowledgeGraph) Validate() error {
	ids := make(map[string]bool, len(g.Entities))
	for i, e := range g.Entities {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("entity %d: %w", i, err)
		}
		if ids[e.ID] {
			return fmt.Errorf("duplicate entity id %q", e.ID)
		}
		ids[e.ID] = true
	}
	for i, r := range g.Edges {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("edge %d: %w", i, err)
		}
		if !ids[r.Source] {
			return fmt.Errorf("edge %d: source %q not in entity set", i, r.Source)
		}
		if !ids[r.Target] {
			return fmt.Errorf("edge %d: target %q not in entity set", i, r.Target)
		}
	}
	return nil
}

// AxisScore is one scoring axis of a quality report: a 1-10 score with the
// scorer's rationale.
type AxisScore struct {
	Score     int    `json:"score"`
	Rationale string `json:"rationale"`
}

// Validate checks the score range.
func (a AxisScore) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Score, validation.Required, validation.Min(1), validation.Max(10)),
	)
}

// QualityReport is the scoring stage's verdict on a completed graph. It is a
// derived artifact, read-only after creation, and not part of the graph
// itself.
type QualityReport struct {
	Correctness  AxisScore `json:"correctness"`
	Completeness AxisScore `json:"completeness"`
}

// Validate checks both axes.
func (q QualityReport) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Correctness),
		validation.Field(&q.Completeness),
	)
}
