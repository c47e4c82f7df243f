package sqlite

import "fmt"

// schemaSQL returns the DDL. embeddingDim controls the vec0 table dimension;
// distance_metric=cosine makes 1-distance the cosine similarity.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Graph entities; properties is the full JSON map minus the embedding.
CREATE TABLE IF NOT EXISTS entities (
    rowid INTEGER PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    label TEXT NOT NULL,
    name_norm TEXT NOT NULL,
    scope_id TEXT NOT NULL DEFAULT '',
    properties JSON NOT NULL,
    UNIQUE(scope_id, name_norm)
);

-- Directed typed edges; from_id may reference a document for CONTAINS_ENTITY.
CREATE TABLE IF NOT EXISTS relationships (
    rowid INTEGER PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL,
    from_id TEXT NOT NULL,
    to_id TEXT NOT NULL,
    scope_id TEXT NOT NULL DEFAULT '',
    properties JSON NOT NULL,
    UNIQUE(from_id, to_id, type, scope_id)
);
CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships(from_id);
CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_id);

-- Source documents, deduplicated per scope by verbatim text.
CREATE TABLE IF NOT EXISTS documents (
    rowid INTEGER PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    text TEXT NOT NULL,
    scope_id TEXT NOT NULL DEFAULT '',
    properties JSON NOT NULL,
    UNIQUE(scope_id, text)
);

-- Vector indexes via sqlite-vec.
CREATE VIRTUAL TABLE IF NOT EXISTS entity_vectors USING vec0(
    entity_rowid INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);

CREATE VIRTUAL TABLE IF NOT EXISTS document_vectors USING vec0(
    document_rowid INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);
`, embeddingDim, embeddingDim)
}
