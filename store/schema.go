package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- One row per completed extraction run, with its quality verdict
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    model TEXT,
    correctness_score INTEGER NOT NULL,
    correctness_rationale TEXT,
    completeness_score INTEGER NOT NULL,
    completeness_rationale TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Graph nodes, ordered by extraction position within their run
CREATE TABLE IF NOT EXISTS entities (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    entity_id TEXT NOT NULL,
    label TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    UNIQUE(run_id, entity_id)
);

-- Personality traits, ordered within their entity
CREATE TABLE IF NOT EXISTS traits (
    id INTEGER PRIMARY KEY,
    entity_rowid INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    trait TEXT NOT NULL,
    evidence TEXT NOT NULL
);

-- Graph edges, ordered by extraction position within their run
CREATE TABLE IF NOT EXISTS edges (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    source TEXT NOT NULL,
    target TEXT NOT NULL,
    label TEXT NOT NULL,
    evidence TEXT
);

-- Entity label embeddings via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_entities USING vec0(
    entity_rowid INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_entities_run ON entities(run_id);
CREATE INDEX IF NOT EXISTS idx_traits_entity ON traits(entity_rowid);
CREATE INDEX IF NOT EXISTS idx_edges_run ON edges(run_id);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`, embeddingDim)
}
