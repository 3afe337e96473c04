package graph

import "fmt"

// Node is an exported node record in the shape the visualization collaborator
// consumes: a data wrapper with a numeric id, the display name, the entity
// type as the style label, and the personality payload surfaced only on
// explicit interaction.
type Node struct {
	Data NodeData `json:"data"`
}

// NodeData carries the node payload.
type NodeData struct {
	ID          int                `json:"id"`
	Name        string             `json:"name"`
	Label       string             `json:"label"`
	Personality PersonalityProfile `json:"personality,omitempty"`
}

// Edge is an exported edge record.
type Edge struct {
	Data EdgeData `json:"data"`
}

// EdgeData carries the edge payload. Source and Target reference exported
// node ids.
type EdgeData struct {
	ID     string `json:"id"`
	Source int    `json:"source"`
	Target int    `json:"target"`
	Label  string `json:"label"`
}

// Elements is the complete exported graph.
type Elements struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Export converts a knowledge graph into visualization elements. It is a pure
// transformation, total over any valid graph: nodes are numbered in entity
// order starting at 1, edges in sequence order as "e1", "e2", ... Personality
// data rides along as node metadata on PERSON nodes only.
func Export(g *KnowledgeGraph) Elements {
	elements := Elements{
		Nodes: make([]Node, 0, len(g.Entities)),
		Edges: make([]Edge, 0, len(g.Edges)),
	}

	numericID := make(map[string]int, len(g.Entities))
	for i, e := range g.Entities {
		id := i + 1
		numericID[e.ID] = id
		data := NodeData{
			ID:    id,
			Name:  e.Label,
			Label: e.Type,
		}
		if e.Type == TypePerson {
			data.Personality = e.Personality
		}
		elements.Nodes = append(elements.Nodes, Node{Data: data})
	}

	edgeCount := 0
	for _, r := range g.Edges {
		src, okSrc := numericID[r.Source]
		tgt, okTgt := numericID[r.Target]
		if !okSrc || !okTgt {
			// Unreachable for a validated graph; dropping keeps Export total.
			continue
		}
		edgeCount++
		elements.Edges = append(elements.Edges, Edge{Data: EdgeData{
			ID:     fmt.Sprintf("e%d", edgeCount),
			Source: src,
			Target: tgt,
			Label:  r.Label,
		}})
	}

	return elements
}
