package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/lmarinho/kgraph/graph"
	"github.com/lmarinho/kgraph/llm"
)

// scriptedProvider routes each prompt to a handler and records what it saw.
type scriptedProvider struct {
	prompts []string
	reply   func(call int, prompt string) (string, error)
}

func (s *scriptedProvider) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	prompt := req.Messages[len(req.Messages)-1].Content
	s.prompts = append(s.prompts, prompt)
	content, err := s.reply(len(s.prompts), prompt)
	if err != nil {
		return nil, err
	}
	return &llm.ChatResponse{Content: content, FinishReason: "stop"}, nil
}

func (s *scriptedProvider) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("scripted provider has no embeddings")
}

func (s *scriptedProvider) callsTo(marker string) int {
	n := 0
	for _, p := range s.prompts {
		if strings.Contains(p, marker) {
			n++
		}
	}
	return n
}

const (
	entityMarker       = "entity extraction engine"
	personalityMarker  = "personality analyst"
	relationshipMarker = "relationship extraction engine"
	scoringMarker      = "scoring agent"
)

const meetingDoc = `Alice met Bob at the conference. She was endlessly
optimistic about the project, and Bob admired her for it.`

// storyReply answers each stage the way a well-behaved model would for
// meetingDoc.
func storyReply(_ int, prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, entityMarker):
		return `{"entities": [
			{"name": "Alice", "type": "PERSON"},
			{"name": "Bob", "type": "PERSON"},
			{"name": "the conference", "type": "EVENT"}
		]}`, nil
	case strings.Contains(prompt, personalityMarker):
		if strings.Contains(prompt, `"Alice"`) {
			return `{"traits": [{"trait": "optimistic", "evidence": "She was endlessly optimistic about the project"}]}`, nil
		}
		return `{"traits": []}`, nil
	case strings.Contains(prompt, relationshipMarker):
		return `{"relationships": [
			{"source": "alice", "target": "bob", "label": "met", "evidence": "Alice met Bob at the conference"},
			{"source": "bob", "target": "alice", "label": "admired", "evidence": "Bob admired her for it"}
		]}`, nil
	case strings.Contains(prompt, scoringMarker):
		return `{"correctness": {"score": 9, "rationale": "all claims grounded"},
			"completeness": {"score": 8, "rationale": "minor omissions"}}`, nil
	}
	return "", fmt.Errorf("unexpected prompt: %s", prompt)
}

func TestRun(t *testing.T) {
	p := &scriptedProvider{reply: storyReply}
	res, err := New(p).Run(context.Background(), meetingDoc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	g := res.Graph
	if len(g.Entities) != 3 {
		t.Fatalf("expected 3 entities, got %d: %+v", len(g.Entities), g.Entities)
	}
	wantIDs := []string{"alice", "bob", "the conference"}
	for i, want := range wantIDs {
		if g.Entities[i].ID != want {
			t.Errorf("entity %d: id = %q, want %q", i, g.Entities[i].ID, want)
		}
	}

	alice, ok := g.Entity("alice")
	if !ok {
		t.Fatal("alice missing from graph")
	}
	if len(alice.Personality) != 1 || alice.Personality[0].Name != "optimistic" {
		t.Errorf("alice personality = %+v, want one optimistic trait", alice.Personality)
	}
	if alice.Personality[0].Evidence == "" {
		t.Error("alice trait has no evidence")
	}
	bob, _ := g.Entity("bob")
	if bob.Personality != nil {
		t.Errorf("bob personality = %+v, want none", bob.Personality)
	}

	if len(g.Edges) != 2 {
		t.Fatalf("expected 2 edges, got %d: %+v", len(g.Edges), g.Edges)
	}
	if g.Edges[0].Source != "alice" || g.Edges[0].Target != "bob" || g.Edges[0].Label != "met" {
		t.Errorf("edge 0 = %+v", g.Edges[0])
	}

	if res.Report.Correctness.Score != 9 || res.Report.Completeness.Score != 8 {
		t.Errorf("report = %+v", res.Report)
	}
	if err := g.Validate(); err != nil {
		t.Errorf("result graph does not validate: %v", err)
	}

	// One entity call, one personality call per PERSON, one relationship
	// call, one scoring call.
	if got := len(p.prompts); got != 5 {
		t.Errorf("gateway calls = %d, want 5", got)
	}
	if got := p.callsTo(personalityMarker); got != 2 {
		t.Errorf("personality calls = %d, want 2", got)
	}
}

func TestRunEmptyDocument(t *testing.T) {
	for _, text := range []string{"", "   \n\t  "} {
		p := &scriptedProvider{reply: func(int, string) (string, error) {
			return "", errors.New("gateway must not be called")
		}}
		res, err := New(p).Run(context.Background(), text)
		if err != nil {
			t.Fatalf("Run(%q): %v", text, err)
		}
		if len(p.prompts) != 0 {
			t.Errorf("Run(%q): made %d gateway calls, want 0", text, len(p.prompts))
		}
		if len(res.Graph.Entities) != 0 || len(res.Graph.Edges) != 0 {
			t.Errorf("Run(%q): graph not empty: %+v", text, res.Graph)
		}
		if res.Report.Correctness.Score != 10 || res.Report.Completeness.Score != 10 {
			t.Errorf("Run(%q): report = %+v, want 10/10", text, res.Report)
		}
	}
}

func TestRunRetryBudget(t *testing.T) {
	p := &scriptedProvider{reply: func(int, string) (string, error) {
		return "I cannot produce structured output today.", nil
	}}
	_, err := New(p).Run(context.Background(), meetingDoc)
	if err == nil {
		t.Fatal("expected failure")
	}
	if !errors.Is(err, ErrExtractionFailed) {
		t.Errorf("error not ErrExtractionFailed: %v", err)
	}
	if !errors.Is(err, ErrSchemaViolation) {
		t.Errorf("error lost schema classification: %v", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("error is not a StageError: %v", err)
	}
	if stageErr.Stage != StageEntities {
		t.Errorf("failing stage = %q, want %q", stageErr.Stage, StageEntities)
	}
	// Initial attempt plus exactly one retry, never a third call.
	if len(p.prompts) != 2 {
		t.Errorf("gateway calls = %d, want 2", len(p.prompts))
	}
}

func TestRunCorrectiveRetry(t *testing.T) {
	relCalls := 0
	p := &scriptedProvider{reply: func(call int, prompt string) (string, error) {
		if strings.Contains(prompt, relationshipMarker) {
			relCalls++
			if relCalls == 1 {
				return `{"relationships": [{"source": "alice", "target": "charlie", "label": "met"}]}`, nil
			}
			if !strings.Contains(prompt, "YOUR PREVIOUS RESPONSE WAS REJECTED") {
				return "", errors.New("retry prompt missing corrective preamble")
			}
			if !strings.Contains(prompt, "charlie") {
				return "", errors.New("corrective reason does not name the bad id")
			}
			return `{"relationships": [{"source": "alice", "target": "bob", "label": "met"}]}`, nil
		}
		return storyReply(call, prompt)
	}}

	res, err := New(p).Run(context.Background(), meetingDoc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if relCalls != 2 {
		t.Errorf("relationship calls = %d, want 2", relCalls)
	}
	if len(res.Graph.Edges) != 1 || res.Graph.Edges[0].Target != "bob" {
		t.Errorf("edges = %+v", res.Graph.Edges)
	}
}

func TestRunReferentialIntegrityExhaustsBudget(t *testing.T) {
	p := &scriptedProvider{reply: func(call int, prompt string) (string, error) {
		if strings.Contains(prompt, relationshipMarker) {
			return `{"relationships": [{"source": "alice", "target": "nobody", "label": "knows"}]}`, nil
		}
		return storyReply(call, prompt)
	}}
	_, err := New(p).Run(context.Background(), meetingDoc)
	if err == nil {
		t.Fatal("expected failure")
	}
	if !errors.Is(err, ErrExtractionFailed) || !errors.Is(err, ErrReferentialIntegrity) {
		t.Errorf("error classification wrong: %v", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageRelationships {
		t.Errorf("failing stage: %v", err)
	}
}

func TestRunNormalizesEntityDuplicates(t *testing.T) {
	p := &scriptedProvider{reply: func(call int, prompt string) (string, error) {
		if strings.Contains(prompt, entityMarker) {
			return `{"entities": [
				{"name": "Barack Obama", "type": "PERSON"},
				{"name": "barack obama", "type": "PERSON"},
				{"name": "Barack  Obama.", "type": "PERSON"}
			]}`, nil
		}
		if strings.Contains(prompt, personalityMarker) {
			return `{"traits": []}`, nil
		}
		return storyReply(call, prompt)
	}}
	res, err := New(p).Run(context.Background(), "Barack Obama spoke. barack obama left.")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Graph.Entities) != 1 {
		t.Fatalf("entities = %+v, want exactly one", res.Graph.Entities)
	}
	e := res.Graph.Entities[0]
	if e.ID != "barack obama" {
		t.Errorf("id = %q, want %q", e.ID, "barack obama")
	}
	// First occurrence wins the display label.
	if e.Label != "Barack Obama" {
		t.Errorf("label = %q, want %q", e.Label, "Barack Obama")
	}
	// A single entity leaves no room for edges, so the relationship stage
	// must be skipped entirely.
	if got := p.callsTo(relationshipMarker); got != 0 {
		t.Errorf("relationship calls = %d, want 0", got)
	}
}

func TestRunPersonalityOnlyForPersons(t *testing.T) {
	p := &scriptedProvider{reply: func(call int, prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, entityMarker):
			return `{"entities": [
				{"name": "Alice", "type": "PERSON"},
				{"name": "Acme Corp", "type": "ORG"},
				{"name": "Chicago", "type": "LOCATION"}
			]}`, nil
		case strings.Contains(prompt, personalityMarker):
			if !strings.Contains(prompt, `"Alice"`) {
				return "", fmt.Errorf("personality requested for a non-person: %s", prompt)
			}
			return `{"traits": []}`, nil
		case strings.Contains(prompt, relationshipMarker):
			return `{"relationships": []}`, nil
		}
		return storyReply(call, prompt)
	}}
	res, err := New(p).Run(context.Background(), "Alice works for Acme Corp in Chicago.")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := p.callsTo(personalityMarker); got != 1 {
		t.Errorf("personality calls = %d, want 1", got)
	}
	for _, e := range res.Graph.Entities {
		if e.Type != graph.TypePerson && e.Personality != nil {
			t.Errorf("non-person %q carries a profile", e.ID)
		}
	}
}

func TestRunRejectsUnknownEntityType(t *testing.T) {
	entityCalls := 0
	p := &scriptedProvider{reply: func(call int, prompt string) (string, error) {
		if strings.Contains(prompt, entityMarker) {
			entityCalls++
			if entityCalls == 1 {
				return `{"entities": [{"name": "Alice", "type": "ANIMAL"}]}`, nil
			}
			return `{"entities": [{"name": "Alice", "type": "PERSON"}]}`, nil
		}
		if strings.Contains(prompt, personalityMarker) {
			return `{"traits": []}`, nil
		}
		return storyReply(call, prompt)
	}}
	res, err := New(p).Run(context.Background(), "Alice.")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if entityCalls != 2 {
		t.Errorf("entity calls = %d, want a corrective retry", entityCalls)
	}
	if res.Graph.Entities[0].Type != graph.TypePerson {
		t.Errorf("type = %q", res.Graph.Entities[0].Type)
	}
}

func TestRunEdgeDeduplication(t *testing.T) {
	p := &scriptedProvider{reply: func(call int, prompt string) (string, error) {
		if strings.Contains(prompt, relationshipMarker) {
			return `{"relationships": [
				{"source": "alice", "target": "bob", "label": "met", "evidence": "Alice met Bob"},
				{"source": "alice", "target": "bob", "label": "met", "evidence": "Alice met Bob"},
				{"source": "alice", "target": "bob", "label": "greeted", "evidence": "Alice met Bob"}
			]}`, nil
		}
		return storyReply(call, prompt)
	}}
	res, err := New(p).Run(context.Background(), meetingDoc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The byte-identical repeat collapses; the synonymous label survives.
	if len(res.Graph.Edges) != 2 {
		t.Fatalf("edges = %+v, want 2", res.Graph.Edges)
	}
	if res.Graph.Edges[1].Label != "greeted" {
		t.Errorf("edge 1 = %+v", res.Graph.Edges[1])
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRunTransportClassification(t *testing.T) {
	tests := []struct {
		name    string
		chatErr error
		want    error
	}{
		{"network timeout", timeoutErr{}, ErrGatewayTimeout},
		{"deadline exceeded", context.DeadlineExceeded, ErrGatewayTimeout},
		{"provider down", llm.ErrUnavailable, ErrGatewayUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedProvider{reply: func(int, string) (string, error) {
				return "", tt.chatErr
			}}
			_, err := New(p).Run(context.Background(), meetingDoc)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, ErrExtractionFailed) {
				t.Errorf("error missing ErrExtractionFailed: %v", err)
			}
			// Transport failures still get the plain retry.
			if len(p.prompts) != 2 {
				t.Errorf("gateway calls = %d, want 2", len(p.prompts))
			}
		})
	}
}

func TestRunRecoversFencedAndDamagedJSON(t *testing.T) {
	p := &scriptedProvider{reply: func(call int, prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, entityMarker):
			return "Here is the result:\n```json\n{\"entities\": [{\"name\": \"Alice\", \"type\": \"PERSON\"}]}\n```", nil
		case strings.Contains(prompt, personalityMarker):
			// Trailing comma; must be repaired rather than rejected.
			return `{"traits": [{"trait": "calm", "evidence": "Alice stayed calm",}]}`, nil
		}
		return storyReply(call, prompt)
	}}
	res, err := New(p).Run(context.Background(), "Alice stayed calm.")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(p.prompts) != 3 {
		t.Errorf("gateway calls = %d, want 3 with no retries", len(p.prompts))
	}
	if got := res.Graph.Entities[0].Personality; len(got) != 1 || got[0].Name != "calm" {
		t.Errorf("personality = %+v", got)
	}
}

// groundingScorer scores the graph embedded in the scoring prompt by checking
// each edge's evidence against the document text, so fabricated edges lower
// the correctness score.
func groundingScorer(prompt string) (string, error) {
	docStart := strings.Index(prompt, "ORIGINAL_DOCUMENT:")
	graphStart := strings.Index(prompt, "GENERATED_GRAPH:")
	if docStart < 0 || graphStart < 0 {
		return "", errors.New("scoring prompt missing sections")
	}
	doc := prompt[docStart+len("ORIGINAL_DOCUMENT:") : graphStart]
	graphJSON := prompt[graphStart+len("GENERATED_GRAPH:"):]
	graphJSON = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(graphJSON), "---"))

	var g graph.KnowledgeGraph
	if err := json.Unmarshal([]byte(graphJSON), &g); err != nil {
		return "", fmt.Errorf("scoring prompt graph: %w", err)
	}
	score := 10
	for _, e := range g.Edges {
		if e.Evidence == "" || !strings.Contains(doc, e.Evidence) {
			score -= 3
		}
	}
	if score < 1 {
		score = 1
	}
	return fmt.Sprintf(`{"correctness": {"score": %d, "rationale": "grounding check"},
		"completeness": {"score": 7, "rationale": "grounding check"}}`, score), nil
}

func TestRunScoringSeesFrozenGraph(t *testing.T) {
	run := func(extraEdge bool) int {
		p := &scriptedProvider{reply: func(call int, prompt string) (string, error) {
			switch {
			case strings.Contains(prompt, relationshipMarker):
				edges := `{"source": "alice", "target": "bob", "label": "met", "evidence": "Alice met Bob at the conference"}`
				if extraEdge {
					edges += `, {"source": "bob", "target": "the conference", "label": "organized", "evidence": "Bob organized everything"}`
				}
				return `{"relationships": [` + edges + `]}`, nil
			case strings.Contains(prompt, scoringMarker):
				return groundingScorer(prompt)
			}
			return storyReply(call, prompt)
		}}
		res, err := New(p).Run(context.Background(), meetingDoc)
		if err != nil {
			t.Fatalf("Run(extraEdge=%v): %v", extraEdge, err)
		}
		return res.Report.Correctness.Score
	}

	grounded := run(false)
	fabricated := run(true)
	if grounded != 10 {
		t.Errorf("grounded correctness = %d, want 10", grounded)
	}
	if fabricated >= grounded {
		t.Errorf("fabricated edge did not lower correctness: %d >= %d", fabricated, grounded)
	}
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &scriptedProvider{reply: func(int, string) (string, error) {
		cancel()
		return "", ctx.Err()
	}}
	_, err := New(p).Run(ctx, meetingDoc)
	if !errors.Is(err, ErrGatewayTimeout) {
		t.Errorf("error = %v, want gateway timeout classification", err)
	}
	// Cancellation stops the budget loop immediately.
	if len(p.prompts) != 1 {
		t.Errorf("gateway calls = %d, want 1", len(p.prompts))
	}
}
