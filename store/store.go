// Package store persists completed extraction runs in SQLite: the run
// record with its quality report, the graph's entities, traits and edges in
// extraction order, and entity-label embeddings in a sqlite-vec virtual
// table for similarity search across runs.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lmarinho/kgraph/graph"
)

func init() {
	sqlite_vec.Auto()
}

// Run is a persisted extraction run.
type Run struct {
	ID        string              `json:"id"`
	Source    string              `json:"source"`
	Model     string              `json:"model,omitempty"`
	Report    graph.QualityReport `json:"report"`
	CreatedAt string              `json:"created_at"`
}

// RunSummary is a run listing row with graph size counts.
type RunSummary struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Model        string `json:"model,omitempty"`
	Entities     int    `json:"entities"`
	Edges        int    `json:"edges"`
	Correctness  int    `json:"correctness"`
	Completeness int    `json:"completeness"`
	CreatedAt    string `json:"created_at"`
}

// EntityMatch is one similarity search hit.
type EntityMatch struct {
	RunID    string  `json:"run_id"`
	EntityID string  `json:"entity_id"`
	Label    string  `json:"label"`
	Type     string  `json:"type"`
	Score    float64 `json:"score"`
}

// Store wraps the SQLite database for all kgraph persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and initialises
// the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Store{db: db, embeddingDim: embeddingDim}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Run operations ---

// SaveRun persists a run and its graph atomically.
func (s *Store) SaveRun(ctx context.Context, run Run, g *graph.KnowledgeGraph) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, source, model,
			correctness_score, correctness_rationale,
			completeness_score, completeness_rationale)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Source, run.Model,
		run.Report.Correctness.Score, run.Report.Correctness.Rationale,
		run.Report.Completeness.Score, run.Report.Completeness.Rationale); err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	for i, e := range g.Entities {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO entities (run_id, position, entity_id, label, entity_type)
			VALUES (?, ?, ?, ?, ?)
		`, run.ID, i, e.ID, e.Label, e.Type)
		if err != nil {
			return fmt.Errorf("inserting entity %q: %w", e.ID, err)
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for j, trait := range e.Personality {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO traits (entity_rowid, position, trait, evidence)
				VALUES (?, ?, ?, ?)
			`, rowID, j, trait.Name, trait.Evidence); err != nil {
				return fmt.Errorf("inserting trait for %q: %w", e.ID, err)
			}
		}
	}

	for i, edge := range g.Edges {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO edges (run_id, position, source, target, label, evidence)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, i, edge.Source, edge.Target, edge.Label, edge.Evidence); err != nil {
			return fmt.Errorf("inserting edge %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves a run record. Returns sql.ErrNoRows when absent.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	var model sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source, model,
			correctness_score, correctness_rationale,
			completeness_score, completeness_rationale,
			created_at
		FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &run.Source, &model,
		&run.Report.Correctness.Score, &run.Report.Correctness.Rationale,
		&run.Report.Completeness.Score, &run.Report.Completeness.Rationale,
		&run.CreatedAt)
	if err != nil {
		return nil, err
	}
	run.Model = model.String
	return run, nil
}

// GetGraph reconstructs a run's graph in its original extraction order.
// Returns sql.ErrNoRows for an unknown run id.
func (s *Store) GetGraph(ctx context.Context, runID string) (*graph.KnowledgeGraph, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM runs WHERE id = ?", runID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, sql.ErrNoRows
	}

	g := &graph.KnowledgeGraph{
		Entities: []graph.Entity{},
		Edges:    []graph.Relationship{},
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, label, entity_type
		FROM entities WHERE run_id = ? ORDER BY position
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rowIDs := make(map[int64]int)
	for rows.Next() {
		var rowID int64
		var e graph.Entity
		if err := rows.Scan(&rowID, &e.ID, &e.Label, &e.Type); err != nil {
			return nil, err
		}
		rowIDs[rowID] = len(g.Entities)
		g.Entities = append(g.Entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	traitRows, err := s.db.QueryContext(ctx, `
		SELECT t.entity_rowid, t.trait, t.evidence
		FROM traits t
		JOIN entities e ON e.id = t.entity_rowid
		WHERE e.run_id = ?
		ORDER BY t.entity_rowid, t.position
	`, runID)
	if err != nil {
		return nil, err
	}
	defer traitRows.Close()

	for traitRows.Next() {
		var rowID int64
		var trait graph.Trait
		if err := traitRows.Scan(&rowID, &trait.Name, &trait.Evidence); err != nil {
			return nil, err
		}
		i, ok := rowIDs[rowID]
		if !ok {
			return nil, fmt.Errorf("trait references unknown entity row %d", rowID)
		}
		g.Entities[i].Personality = append(g.Entities[i].Personality, trait)
	}
	if err := traitRows.Err(); err != nil {
		return nil, err
	}

	edgeRows, err := s.db.QueryContext(ctx, `
		SELECT source, target, label, evidence
		FROM edges WHERE run_id = ? ORDER BY position
	`, runID)
	if err != nil {
		return nil, err
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var r graph.Relationship
		var evidence sql.NullString
		if err := edgeRows.Scan(&r.Source, &r.Target, &r.Label, &evidence); err != nil {
			return nil, err
		}
		r.Evidence = evidence.String
		g.Edges = append(g.Edges, r)
	}
	return g, edgeRows.Err()
}

// ListRuns returns run summaries, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.source, r.model,
			(SELECT COUNT(*) FROM entities e WHERE e.run_id = r.id),
			(SELECT COUNT(*) FROM edges g WHERE g.run_id = r.id),
			r.correctness_score, r.completeness_score, r.created_at
		FROM runs r
		ORDER BY r.created_at DESC, r.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var r RunSummary
		var model sql.NullString
		if err := rows.Scan(&r.ID, &r.Source, &model,
			&r.Entities, &r.Edges,
			&r.Correctness, &r.Completeness, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Model = model.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run, its graph, and its embeddings. Returns
// sql.ErrNoRows for an unknown run id.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// vec0 tables do not participate in foreign keys; clear them first.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM vec_entities WHERE entity_rowid IN (
			SELECT id FROM entities WHERE run_id = ?
		)
	`, id); err != nil {
		return fmt.Errorf("deleting embeddings: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

// --- Embedding operations ---

// InsertEntityEmbedding stores a label embedding for one entity of a run.
func (s *Store) InsertEntityEmbedding(ctx context.Context, runID, entityID string, embedding []float32) error {
	var rowID int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM entities WHERE run_id = ? AND entity_id = ?",
		runID, entityID).Scan(&rowID)
	if err != nil {
		return fmt.Errorf("resolving entity %q in run %s: %w", entityID, runID, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_entities (entity_rowid, embedding) VALUES (?, ?)",
		rowID, serializeFloat32(embedding))
	return err
}

// SearchEntities performs a KNN search over entity label embeddings across
// all runs, returning the top-k nearest entities.
func (s *Store) SearchEntities(ctx context.Context, queryEmbedding []float32, k int) ([]EntityMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.entity_rowid, v.distance,
			e.run_id, e.entity_id, e.label, e.entity_type
		FROM vec_entities v
		JOIN entities e ON e.id = v.entity_rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []EntityMatch
	for rows.Next() {
		var m EntityMatch
		var rowID int64
		var distance float64
		if err := rows.Scan(&rowID, &distance,
			&m.RunID, &m.EntityID, &m.Label, &m.Type); err != nil {
			return nil, err
		}
		// Convert distance to similarity score (1 - distance for cosine)
		m.Score = 1.0 - distance
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
