package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tesseradb/tessera/internal/errors"
	"github.com/tesseradb/tessera/pkg/types"
)

// ChunkRecord is one chunk's registry row.
type ChunkRecord struct {
	ID            types.ChunkID
	Table         string
	RowCount      int64
	SchemaVersion int
	CreatedAt     time.Time
	MergedInto    *types.ChunkID
	RetiredAt     *time.Time
}

// Catalog is the SQLite-backed table and chunk registry. Writes go through
// a single connection serialized by a mutex; reads use a separate
// read-only connection pool.
type Catalog struct {
	db     *sql.DB // write connection, single writer
	readDB *sql.DB // read connection pool
	dbPath string
	mu     sync.Mutex

	insertChunkStmt *sql.Stmt
}

// Open opens (or creates) the catalog database at dbPath.
func Open(dbPath string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeUnexpected, "failed to open catalog database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, errors.NewCatalogError(errors.CodeUnexpected, "failed to open catalog read connection", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	c := &Catalog{db: db, readDB: readDB, dbPath: dbPath}
	if err := c.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, errors.NewCatalogError(errors.CodeUnexpected, "failed to initialize catalog schema", err)
	}

	insertStmt, err := db.Prepare(`
		INSERT INTO chunks (chunk_id, table_name, row_count, schema_version, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		readDB.Close()
		db.Close()
		return nil, errors.NewCatalogError(errors.CodeUnexpected, "failed to prepare chunk insert", err)
	}
	c.insertChunkStmt = insertStmt

	return c, nil
}

func (c *Catalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// CreateTable validates and registers a new table schema at version 1.
func (c *Catalog) CreateTable(ctx context.Context, schema *types.TableSchema) error {
	if err := schema.Validate(); err != nil {
		return errors.NewSchemaError("refusing to register table", err)
	}
	doc, err := json.Marshal(schema)
	if err != nil {
		return errors.NewCatalogError(errors.CodeUnexpected, "failed to encode schema", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().Unix()
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO tables (table_name, schema_json, schema_version, created_at, updated_at)
		 VALUES (?, ?, 1, ?, ?)`,
		schema.Name, string(doc), now, now)
	if err != nil {
		return errors.NewCatalogError(errors.CodeWriteConflict,
			fmt.Sprintf("failed to register table %q", schema.Name), err)
	}
	return nil
}

// AddColumns appends columns to an existing table's schema and bumps its
// version. Existing columns are never removed or retyped.
func (c *Catalog) AddColumns(ctx context.Context, table string, cols ...types.ColumnDesc) (*types.TableSchema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeUnexpected, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	var doc string
	var version int
	err = tx.QueryRowContext(ctx,
		"SELECT schema_json, schema_version FROM tables WHERE table_name = ?", table,
	).Scan(&doc, &version)
	if err == sql.ErrNoRows {
		return nil, errors.NewCatalogError(errors.CodeTableNotFound,
			fmt.Sprintf("table %q not found", table), nil)
	}
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeUnexpected, "failed to load table schema", err)
	}

	var schema types.TableSchema
	if err := json.Unmarshal([]byte(doc), &schema); err != nil {
		return nil, errors.NewCatalogError(errors.CodeUnexpected,
			fmt.Sprintf("corrupt schema document for table %q", table), err)
	}
	schema.Columns = append(schema.Columns, cols...)
	if err := schema.Validate(); err != nil {
		return nil, errors.NewSchemaError("appended columns do not validate", err)
	}

	next, err := json.Marshal(&schema)
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeUnexpected, "failed to encode schema", err)
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE tables SET schema_json = ?, schema_version = ?, updated_at = ? WHERE table_name = ?",
		string(next), version+1, time.Now().Unix(), table)
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeUnexpected, "failed to update table schema", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.NewCatalogError(errors.CodeUnexpected, "failed to commit schema update", err)
	}
	return &schema, nil
}

// Table loads a table's current schema.
func (c *Catalog) Table(ctx context.Context, name string) (*types.TableSchema, int, error) {
	var doc string
	var version int
	err := c.readDB.QueryRowContext(ctx,
		"SELECT schema_json, schema_version FROM tables WHERE table_name = ?", name,
	).Scan(&doc, &version)
	if err == sql.ErrNoRows {
		return nil, 0, errors.NewCatalogError(errors.CodeTableNotFound,
			fmt.Sprintf("table %q not found", name), nil)
	}
	if err != nil {
		return nil, 0, errors.NewCatalogError(errors.CodeUnexpected, "failed to load table schema", err)
	}

	var schema types.TableSchema
	if err := json.Unmarshal([]byte(doc), &schema); err != nil {
		return nil, 0, errors.NewCatalogError(errors.CodeUnexpected,
			fmt.Sprintf("corrupt schema document for table %q", name), err)
	}
	return &schema, version, nil
}

// ListTables returns all registered table names in lexicographic order.
func (c *Catalog) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.readDB.QueryContext(ctx,
		"SELECT table_name FROM tables ORDER BY table_name")
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeUnexpected, "failed to list tables", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.NewCatalogError(errors.CodeUnexpected, "failed to scan table name", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewCatalogError(errors.CodeUnexpected, "error iterating tables", err)
	}
	return names, nil
}

// RegisterChunk records a newly published chunk as live. Callers publish
// the chunk directory first; a crash between publish and registration
// leaves an orphan directory that sweep reclaims.
func (c *Catalog) RegisterChunk(ctx context.Context, table string, id types.ChunkID, rowCount uint64, schemaVersion int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.insertChunkStmt.ExecContext(ctx,
		id.String(), table, int64(rowCount), schemaVersion, time.Now().Unix())
	if err != nil {
		return errors.NewCatalogError(errors.CodeWriteConflict,
			fmt.Sprintf("failed to register chunk %s", id), err)
	}
	return nil
}

// RegisterFlushedChunk registers a chunk and advances an ingest source's
// checkpoint in one transaction. A crash between the commit and the WAL
// segment cleanup replays nothing: the checkpoint already covers the LSN.
func (c *Catalog) RegisterFlushedChunk(ctx context.Context, table string, id types.ChunkID, rowCount uint64, schemaVersion int, source string, lsn uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewCatalogError(errors.CodeUnexpected, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO chunks (chunk_id, table_name, row_count, schema_version, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id.String(), table, int64(rowCount), schemaVersion, now)
	if err != nil {
		return errors.NewCatalogError(errors.CodeWriteConflict,
			fmt.Sprintf("failed to register flushed chunk %s", id), err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ingest_checkpoints (source, flushed_lsn, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(source) DO UPDATE SET flushed_lsn = MAX(flushed_lsn, excluded.flushed_lsn), updated_at = excluded.updated_at`,
		source, int64(lsn), now)
	if err != nil {
		return errors.NewCatalogError(errors.CodeUnexpected,
			fmt.Sprintf("failed to advance checkpoint for %q", source), err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewCatalogError(errors.CodeUnexpected, "failed to commit flushed chunk", err)
	}
	return nil
}

// IngestCheckpoint returns an ingest source's flushed high-water LSN, or
// zero when the source has never flushed.
func (c *Catalog) IngestCheckpoint(ctx context.Context, source string) (uint64, error) {
	var lsn int64
	err := c.readDB.QueryRowContext(ctx,
		"SELECT flushed_lsn FROM ingest_checkpoints WHERE source = ?", source,
	).Scan(&lsn)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errors.NewCatalogError(errors.CodeUnexpected, "failed to load ingest checkpoint", err)
	}
	return uint64(lsn), nil
}

// LiveChunks returns the table's live chunks ordered by chunk ID, which is
// creation order.
func (c *Catalog) LiveChunks(ctx context.Context, table string) ([]*ChunkRecord, error) {
	rows, err := c.readDB.QueryContext(ctx, `
		SELECT chunk_id, table_name, row_count, schema_version, created_at, merged_into, retired_at
		FROM chunks
		WHERE table_name = ? AND merged_into IS NULL
		ORDER BY chunk_id`, table)
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeUnexpected, "failed to query live chunks", err)
	}
	defer rows.Close()
	return scanChunkRecords(rows)
}

// RetiredChunks returns the table's chunks already merged into a successor.
// These are garbage-collection candidates once no reader holds them.
func (c *Catalog) RetiredChunks(ctx context.Context, table string) ([]*ChunkRecord, error) {
	rows, err := c.readDB.QueryContext(ctx, `
		SELECT chunk_id, table_name, row_count, schema_version, created_at, merged_into, retired_at
		FROM chunks
		WHERE table_name = ? AND merged_into IS NOT NULL
		ORDER BY chunk_id`, table)
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeUnexpected, "failed to query retired chunks", err)
	}
	defer rows.Close()
	return scanChunkRecords(rows)
}

// ReplaceChunks atomically registers the merge output and retires its
// inputs. If any input is already retired the whole transaction fails and
// nothing changes; a concurrent merge won the race.
func (c *Catalog) ReplaceChunks(ctx context.Context, table string, retired []types.ChunkID, produced types.ChunkID, rowCount uint64, schemaVersion int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewCatalogError(errors.CodeUnexpected, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO chunks (chunk_id, table_name, row_count, schema_version, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		produced.String(), table, int64(rowCount), schemaVersion, time.Now().Unix())
	if err != nil {
		return errors.NewCatalogError(errors.CodeWriteConflict,
			fmt.Sprintf("failed to register merge output %s", produced), err)
	}

	retiredAt := time.Now().Unix()
	for _, id := range retired {
		result, err := tx.ExecContext(ctx,
			"UPDATE chunks SET merged_into = ?, retired_at = ? WHERE chunk_id = ? AND table_name = ? AND merged_into IS NULL",
			produced.String(), retiredAt, id.String(), table)
		if err != nil {
			return errors.NewCatalogError(errors.CodeUnexpected,
				fmt.Sprintf("failed to retire chunk %s", id), err)
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return errors.NewCatalogError(errors.CodeWriteConflict,
				fmt.Sprintf("chunk %s not live, lost merge race", id), nil)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewCatalogError(errors.CodeUnexpected, "failed to commit chunk replacement", err)
	}
	return nil
}

// DeleteChunkRecords removes retired chunk rows after their directories
// have been reclaimed. Live chunks are never deleted here.
func (c *Catalog) DeleteChunkRecords(ctx context.Context, ids []types.ChunkID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewCatalogError(errors.CodeUnexpected, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM chunks WHERE chunk_id = ? AND merged_into IS NOT NULL", id.String()); err != nil {
			return errors.NewCatalogError(errors.CodeUnexpected,
				fmt.Sprintf("failed to delete chunk record %s", id), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.NewCatalogError(errors.CodeUnexpected, "failed to commit chunk deletion", err)
	}
	return nil
}

// LiveChunkCount returns the table's live chunk count. The merge daemon
// polls this to decide when a table needs merging.
func (c *Catalog) LiveChunkCount(ctx context.Context, table string) (int64, error) {
	var count int64
	err := c.readDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE table_name = ? AND merged_into IS NULL", table,
	).Scan(&count)
	if err != nil {
		return 0, errors.NewCatalogError(errors.CodeUnexpected, "failed to count live chunks", err)
	}
	return count, nil
}

// RunAnalyze refreshes SQLite planner statistics after bulk registration.
func (c *Catalog) RunAnalyze(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, AnalyzeSQL); err != nil {
		return errors.NewCatalogError(errors.CodeUnexpected, "failed to run ANALYZE", err)
	}
	return nil
}

// Close closes both database connections.
func (c *Catalog) Close() error {
	if c.insertChunkStmt != nil {
		c.insertChunkStmt.Close()
	}
	if err := c.readDB.Close(); err != nil {
		c.db.Close()
		return err
	}
	return c.db.Close()
}

func scanChunkRecords(rows *sql.Rows) ([]*ChunkRecord, error) {
	var records []*ChunkRecord
	for rows.Next() {
		var rec ChunkRecord
		var idStr string
		var createdAtUnix int64
		var mergedInto sql.NullString
		var retiredAtUnix sql.NullInt64
		if err := rows.Scan(&idStr, &rec.Table, &rec.RowCount, &rec.SchemaVersion, &createdAtUnix, &mergedInto, &retiredAtUnix); err != nil {
			return nil, errors.NewCatalogError(errors.CodeUnexpected, "failed to scan chunk record", err)
		}
		id, err := types.ParseChunkID(idStr)
		if err != nil {
			return nil, errors.NewCatalogError(errors.CodeUnexpected,
				fmt.Sprintf("corrupt chunk id %q in catalog", idStr), err)
		}
		rec.ID = id
		if mergedInto.Valid {
			target, err := types.ParseChunkID(mergedInto.String)
			if err != nil {
				return nil, errors.NewCatalogError(errors.CodeUnexpected,
					fmt.Sprintf("corrupt merged_into id %q in catalog", mergedInto.String), err)
			}
			rec.MergedInto = &target
		}
		rec.CreatedAt = time.Unix(createdAtUnix, 0)
		if retiredAtUnix.Valid {
			at := time.Unix(retiredAtUnix.Int64, 0)
			rec.RetiredAt = &at
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewCatalogError(errors.CodeUnexpected, "error iterating chunk records", err)
	}
	return records, nil
}
