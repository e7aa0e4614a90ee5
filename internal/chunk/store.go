// Package chunk owns the on-disk layout of immutable chunks: one directory
// per chunk holding one encoded file per schema column. Chunks are written
// to a temporary location and made visible by a single atomic rename; a
// visible chunk is never mutated, only superseded.
package chunk

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tesseradb/tessera/internal/codec"
	"github.com/tesseradb/tessera/internal/errors"
	"github.com/tesseradb/tessera/internal/rowio"
	"github.com/tesseradb/tessera/pkg/types"
)

// Store manages chunk directories under a single root.
type Store struct {
	root string
	ids  *types.ChunkIDGenerator
}

// NewStore creates the root directory if needed and returns a store.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.NewChunkError(errors.CodePublishFailed, "failed to create chunk root", err)
	}
	return &Store{root: root, ids: types.NewChunkIDGenerator()}, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string { return s.root }

// ChunkDir returns the directory a published chunk lives in.
func (s *Store) ChunkDir(id types.ChunkID) string {
	return filepath.Join(s.root, id.String())
}

// WriteChunk consumes a row sequence already sorted by the schema's sort
// key and publishes it as a new immutable chunk. The rows are encoded one
// file per column into a temporary directory, fsynced, then renamed visible
// under a fresh chunk ID. Unsorted input aborts the write with no partial
// chunk published.
func (s *Store) WriteChunk(schema *types.TableSchema, rows rowio.Iterator) (types.ChunkID, error) {
	if err := schema.Validate(); err != nil {
		return types.ChunkID{}, errors.NewSchemaError("refusing to write chunk", err)
	}

	columns := make([][]types.Value, len(schema.Columns))
	var prev types.Row
	n := 0
	for {
		row, ok, err := rows.Next()
		if err != nil {
			return types.ChunkID{}, err
		}
		if !ok {
			break
		}
		if len(row) != len(schema.Columns) {
			return types.ChunkID{}, errors.NewUnsupportedValue(fmt.Sprintf(
				"row %d has %d values, schema %s has %d columns", n, len(row), schema.Name, len(schema.Columns)))
		}
		if prev != nil && schema.CompareRows(prev, row) > 0 {
			return types.ChunkID{}, errors.NewUnsortedInput(fmt.Sprintf(
				"row %d sorts before its predecessor", n))
		}
		prev = row.Clone()
		for i, v := range row {
			columns[i] = append(columns[i], v)
		}
		n++
	}

	tmp := filepath.Join(s.root, fmt.Sprintf(".tmp-%s", uuid.New().String()[:8]))
	tableDir := filepath.Join(tmp, schema.Name)
	if err := os.MkdirAll(tableDir, 0755); err != nil {
		return types.ChunkID{}, errors.NewChunkError(errors.CodePublishFailed, "failed to create temp chunk dir", err)
	}
	defer os.RemoveAll(tmp)

	for i, desc := range schema.Columns {
		data, err := codec.Encode(desc, columns[i])
		if err != nil {
			return types.ChunkID{}, err
		}
		path := filepath.Join(tableDir, columnFileName(desc))
		if err := writeFileSync(path, data); err != nil {
			return types.ChunkID{}, errors.NewChunkError(errors.CodePublishFailed,
				fmt.Sprintf("failed to write column %q", desc.Name), err)
		}
	}

	id, err := s.ids.Next()
	if err != nil {
		return types.ChunkID{}, errors.NewInternalError("failed to allocate chunk id", err)
	}
	if err := os.Rename(tmp, s.ChunkDir(id)); err != nil {
		return types.ChunkID{}, errors.NewChunkError(errors.CodePublishFailed, "failed to publish chunk", err)
	}
	if err := syncDir(s.root); err != nil {
		return types.ChunkID{}, errors.NewChunkError(errors.CodePublishFailed, "failed to sync chunk root", err)
	}
	return id, nil
}

// OpenChunk opens a published chunk for the given table schema and returns
// per-column forward cursors wrapped in a Reader. Column files are
// validated against the schema via their self-describing names. Columns
// the schema appended after the chunk was written are served as defaults.
func (s *Store) OpenChunk(id types.ChunkID, schema *types.TableSchema) (*Reader, error) {
	tableDir := filepath.Join(s.ChunkDir(id), schema.Name)
	entries, err := os.ReadDir(tableDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewChunkError(errors.CodeChunkNotFound,
				fmt.Sprintf("chunk %s has no data for table %s", id, schema.Name), err)
		}
		return nil, errors.NewChunkError(errors.CodeChunkNotFound, "failed to read chunk directory", err)
	}

	files := make(map[int]string, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		desc, err := parseColumnFileName(e.Name())
		if err != nil {
			return nil, err
		}
		if desc.Index < 0 || desc.Index >= len(schema.Columns) {
			return nil, errors.NewChunkError(errors.CodeSchemaMismatch,
				fmt.Sprintf("column file %q: index out of schema range", e.Name()), nil)
		}
		want := schema.Columns[desc.Index]
		if desc.Name != want.Name || desc.Kind != want.Kind ||
			desc.Deletable != want.Deletable || desc.Rule != want.Rule {
			return nil, errors.NewChunkError(errors.CodeSchemaMismatch,
				fmt.Sprintf("column file %q disagrees with schema column %q", e.Name(), want.Name), nil)
		}
		files[desc.Index] = filepath.Join(tableDir, e.Name())
	}

	cursors := make([]codec.Cursor, len(schema.Columns))
	var nRows uint64
	for i, desc := range schema.Columns {
		path, ok := files[i]
		if !ok {
			// Appended after this chunk was written; serve defaults.
			if i == 0 {
				return nil, errors.NewChunkError(errors.CodeSchemaMismatch,
					fmt.Sprintf("chunk %s is missing its first column", id), nil)
			}
			cursors[i] = newDefaultCursor(desc.Kind, nRows)
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.NewChunkError(errors.CodeChunkNotFound,
				fmt.Sprintf("failed to read column %q", desc.Name), err)
		}
		cur, err := codec.OpenCursor(desc, data)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			nRows = cur.NumRows()
		} else if cur.NumRows() != nRows {
			return nil, errors.NewCorruptColumn(
				fmt.Sprintf("column %q has %d rows, chunk has %d", desc.Name, cur.NumRows(), nRows), nil)
		}
		cursors[i] = cur
	}

	return &Reader{id: id, schema: schema, cursors: cursors, nRows: nRows}, nil
}

// DropChunk removes a chunk directory. Callers must only drop a chunk
// after a superseding merge output has been durably published.
func (s *Store) DropChunk(id types.ChunkID) error {
	if err := os.RemoveAll(s.ChunkDir(id)); err != nil {
		return errors.NewChunkError(errors.CodeChunkNotFound, "failed to drop chunk", err)
	}
	return syncDir(s.root)
}

// ListChunks returns the IDs of every published chunk under the root.
func (s *Store) ListChunks() ([]types.ChunkID, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.NewChunkError(errors.CodeChunkNotFound, "failed to read chunk root", err)
	}
	var ids []types.ChunkID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := types.ParseChunkID(e.Name())
		if err != nil {
			continue // temp dirs and strays are not chunks
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SweepTemp removes abandoned temporary write directories older than the
// grace period. A crash between encode and rename leaves one behind; the
// rename already happened for anything a reader can see, so sweeping is
// always safe.
func (s *Store) SweepTemp(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, errors.NewChunkError(errors.CodeChunkNotFound, "failed to read chunk root", err)
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return removed, errors.NewChunkError(errors.CodePublishFailed,
				fmt.Sprintf("failed to sweep %s", e.Name()), err)
		}
		removed++
	}
	return removed, nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
