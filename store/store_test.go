//go:build cgo

package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/lmarinho/kgraph/graph"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4) // dim=4 for test vectors
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testGraph() *graph.KnowledgeGraph {
	return &graph.KnowledgeGraph{
		Entities: []graph.Entity{
			{ID: "alice", Label: "Alice", Type: graph.TypePerson,
				Personality: graph.PersonalityProfile{
					{Name: "optimistic", Evidence: "She was endlessly optimistic"},
					{Name: "driven", Evidence: "worked through the night"},
				}},
			{ID: "bob", Label: "Bob", Type: graph.TypePerson},
			{ID: "the conference", Label: "the conference", Type: graph.TypeEvent},
		},
		Edges: []graph.Relationship{
			{Source: "alice", Target: "bob", Label: "met", Evidence: "Alice met Bob"},
			{Source: "bob", Target: "alice", Label: "admired"},
		},
	}
}

func testRun(id string) Run {
	return Run{
		ID:     id,
		Source: "story.txt",
		Model:  "gemini-2.5-flash",
		Report: graph.QualityReport{
			Correctness:  graph.AxisScore{Score: 9, Rationale: "grounded"},
			Completeness: graph.AxisScore{Score: 8, Rationale: "minor gaps"},
		},
	}
}

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "dir", "test.db")
	s, err := New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func TestSaveAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveRun(ctx, testRun("r1"), testGraph()); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	run, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Source != "story.txt" || run.Model != "gemini-2.5-flash" {
		t.Errorf("run = %+v", run)
	}
	if run.Report.Correctness.Score != 9 || run.Report.Completeness.Score != 8 {
		t.Errorf("report = %+v", run.Report)
	}
	if run.Report.Correctness.Rationale != "grounded" {
		t.Errorf("rationale = %q", run.Report.Correctness.Rationale)
	}
	if run.CreatedAt == "" {
		t.Error("created_at not set")
	}
}

func TestGetRunMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), "absent")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("error = %v, want sql.ErrNoRows", err)
	}
}

func TestGetGraphRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	want := testGraph()

	if err := s.SaveRun(ctx, testRun("r1"), want); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	got, err := s.GetGraph(ctx, "r1")
	if err != nil {
		t.Fatalf("GetGraph: %v", err)
	}

	if len(got.Entities) != 3 {
		t.Fatalf("entities = %+v", got.Entities)
	}
	for i := range want.Entities {
		if got.Entities[i].ID != want.Entities[i].ID {
			t.Errorf("entity %d: id = %q, want %q", i, got.Entities[i].ID, want.Entities[i].ID)
		}
	}
	alice := got.Entities[0]
	if len(alice.Personality) != 2 || alice.Personality[0].Name != "optimistic" {
		t.Errorf("alice personality = %+v", alice.Personality)
	}
	if got.Entities[1].Personality != nil {
		t.Errorf("bob personality = %+v, want none", got.Entities[1].Personality)
	}

	if len(got.Edges) != 2 {
		t.Fatalf("edges = %+v", got.Edges)
	}
	if got.Edges[0].Label != "met" || got.Edges[0].Evidence != "Alice met Bob" {
		t.Errorf("edge 0 = %+v", got.Edges[0])
	}
	if got.Edges[1].Evidence != "" {
		t.Errorf("edge 1 evidence = %q, want empty", got.Edges[1].Evidence)
	}

	if err := got.Validate(); err != nil {
		t.Errorf("round-tripped graph does not validate: %v", err)
	}
}

func TestGetGraphMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetGraph(context.Background(), "absent")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("error = %v, want sql.ErrNoRows", err)
	}
}

func TestGetGraphEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	empty := &graph.KnowledgeGraph{Entities: []graph.Entity{}, Edges: []graph.Relationship{}}

	if err := s.SaveRun(ctx, testRun("r1"), empty); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	got, err := s.GetGraph(ctx, "r1")
	if err != nil {
		t.Fatalf("GetGraph: %v", err)
	}
	if len(got.Entities) != 0 || len(got.Edges) != 0 {
		t.Errorf("graph = %+v, want empty", got)
	}
}

func TestSaveRunDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SaveRun(ctx, testRun("r1"), testGraph()); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := s.SaveRun(ctx, testRun("r1"), testGraph()); err == nil {
		t.Fatal("expected error for duplicate run id")
	}
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runs, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no runs, got %+v", runs)
	}

	if err := s.SaveRun(ctx, testRun("r1"), testGraph()); err != nil {
		t.Fatal(err)
	}
	empty := &graph.KnowledgeGraph{Entities: []graph.Entity{}, Edges: []graph.Relationship{}}
	if err := s.SaveRun(ctx, testRun("r2"), empty); err != nil {
		t.Fatal(err)
	}

	runs, err = s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %+v", runs)
	}
	for _, r := range runs {
		switch r.ID {
		case "r1":
			if r.Entities != 3 || r.Edges != 2 {
				t.Errorf("r1 counts = %d/%d", r.Entities, r.Edges)
			}
			if r.Correctness != 9 || r.Completeness != 8 {
				t.Errorf("r1 scores = %d/%d", r.Correctness, r.Completeness)
			}
		case "r2":
			if r.Entities != 0 || r.Edges != 0 {
				t.Errorf("r2 counts = %d/%d", r.Entities, r.Edges)
			}
		default:
			t.Errorf("unexpected run %q", r.ID)
		}
	}
}

func TestDeleteRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveRun(ctx, testRun("r1"), testGraph()); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertEntityEmbedding(ctx, "r1", "alice", []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("InsertEntityEmbedding: %v", err)
	}

	if err := s.DeleteRun(ctx, "r1"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if _, err := s.GetRun(ctx, "r1"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("run still present: %v", err)
	}

	var entities int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM entities").Scan(&entities); err != nil {
		t.Fatal(err)
	}
	if entities != 0 {
		t.Errorf("entities remaining = %d, want 0 after cascade", entities)
	}
	var embeddings int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM vec_entities").Scan(&embeddings); err != nil {
		t.Fatal(err)
	}
	if embeddings != 0 {
		t.Errorf("embeddings remaining = %d, want 0", embeddings)
	}
}

func TestDeleteRunMissing(t *testing.T) {
	s := newTestStore(t)
	err := s.DeleteRun(context.Background(), "absent")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("error = %v, want sql.ErrNoRows", err)
	}
}

func TestSearchEntities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveRun(ctx, testRun("r1"), testGraph()); err != nil {
		t.Fatal(err)
	}
	vectors := map[string][]float32{
		"alice":          {1, 0, 0, 0},
		"bob":            {0.9, 0.1, 0, 0},
		"the conference": {0, 0, 1, 0},
	}
	for id, v := range vectors {
		if err := s.InsertEntityEmbedding(ctx, "r1", id, v); err != nil {
			t.Fatalf("InsertEntityEmbedding(%q): %v", id, err)
		}
	}

	matches, err := s.SearchEntities(ctx, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SearchEntities: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %+v", matches)
	}
	if matches[0].EntityID != "alice" {
		t.Errorf("nearest = %+v, want alice", matches[0])
	}
	if matches[1].EntityID != "bob" {
		t.Errorf("second = %+v, want bob", matches[1])
	}
	if matches[0].Score < matches[1].Score {
		t.Errorf("scores not descending: %v then %v", matches[0].Score, matches[1].Score)
	}
	if matches[0].RunID != "r1" || matches[0].Type != graph.TypePerson {
		t.Errorf("match metadata = %+v", matches[0])
	}
}

func TestInsertEntityEmbeddingUnknownEntity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SaveRun(ctx, testRun("r1"), testGraph()); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertEntityEmbedding(ctx, "r1", "nobody", []float32{1, 0, 0, 0}); err == nil {
		t.Fatal("expected error for unknown entity")
	}
}
