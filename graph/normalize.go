package graph

import (
	"strings"
	"unicode"
)

// typeAliases folds common spellings the model produces onto the canonical
// type constants.
var typeAliases = map[string]string{
	"ORGANIZATION": TypeOrg,
	"ORGANISATION": TypeOrg,
	"PLACE":        TypeLocation,
	"IDEA":         TypeConcept,
}

// NormalizeType uppercases and canonicalizes an entity type string. An empty
// type is coerced to CONCEPT; unrecognized types are returned as-is so the
// validator can reject them.
func NormalizeType(t string) string {
	t = strings.ToUpper(strings.TrimSpace(t))
	if t == "" {
		return TypeConcept
	}
	if canonical, ok := typeAliases[t]; ok {
		return canonical
	}
	return t
}

// NormalizeID derives the stable canonical id for an entity label: case is
// folded, internal whitespace collapsed, and surrounding punctuation
// stripped. "Dr. Smith" and "dr. smith " share one id; resolving "she" to
// Dr. Smith is the extraction model's job, not this function's.
func NormalizeID(label string) string {
	fields := strings.Fields(strings.ToLower(label))
	for i, f := range fields {
		fields[i] = strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
	}
	var kept []string
	for _, f := range fields {
		if f != "" {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

// MergeDuplicates collapses entities that normalize to the same id, keeping
// the first occurrence's label and type. This is the only place entities are
// ever merged: an id that survives stage 1 is final. Entities whose labels
// normalize to nothing are dropped.
func MergeDuplicates(entities []Entity) []Entity {
	seen := make(map[string]bool, len(entities))
	merged := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if e.ID == "" {
			continue
		}
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		merged = append(merged, e)
	}
	return merged
}
