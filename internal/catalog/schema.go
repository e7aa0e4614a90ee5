// Package catalog persists table schemas and the live-chunk registry in
// catalog.db. The catalog is a SQLite database and is the source of truth
// for which chunks are live: a chunk directory on disk that the catalog
// does not list is garbage from an abandoned or retired write.
package catalog

// CreateTablesTableSQL creates the table registry. Schemas are stored as
// JSON documents and versioned; versions only ever append columns.
const CreateTablesTableSQL = `
CREATE TABLE IF NOT EXISTS tables (
    table_name TEXT PRIMARY KEY,
    schema_json TEXT NOT NULL,
    schema_version INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
)`

// CreateChunksTableSQL creates the chunk registry. merged_into records
// which output chunk retired this one; live chunks have it NULL.
// retired_at starts the garbage-collection grace window.
const CreateChunksTableSQL = `
CREATE TABLE IF NOT EXISTS chunks (
    chunk_id TEXT PRIMARY KEY,
    table_name TEXT NOT NULL,
    row_count INTEGER NOT NULL,
    schema_version INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    merged_into TEXT,
    retired_at INTEGER,
    FOREIGN KEY (table_name) REFERENCES tables(table_name),
    FOREIGN KEY (merged_into) REFERENCES chunks(chunk_id)
)`

// CreateChunksIndexesSQL creates indexes for the registry's hot queries.
// Filtered conditions exclude retired chunks from live scans.
var CreateChunksIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_chunks_live ON chunks(table_name, chunk_id)
		WHERE merged_into IS NULL`,

	`CREATE INDEX IF NOT EXISTS idx_chunks_retired ON chunks(table_name)
		WHERE merged_into IS NOT NULL`,

	`CREATE INDEX IF NOT EXISTS idx_chunks_created ON chunks(created_at)`,
}

// CreateCheckpointsTableSQL creates the ingest checkpoint registry. The
// flusher commits its high-water LSN here in the same transaction that
// registers a flushed chunk, so replay after a crash is exactly-once.
const CreateCheckpointsTableSQL = `
CREATE TABLE IF NOT EXISTS ingest_checkpoints (
    source TEXT PRIMARY KEY,
    flushed_lsn INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
)`

// AnalyzeSQL refreshes the SQLite query planner statistics.
const AnalyzeSQL = `ANALYZE`

// AllSchemaSQL returns all statements needed to initialize the catalog.
func AllSchemaSQL() []string {
	statements := []string{
		CreateTablesTableSQL,
		CreateChunksTableSQL,
		CreateCheckpointsTableSQL,
	}
	statements = append(statements, CreateChunksIndexesSQL...)
	return statements
}
