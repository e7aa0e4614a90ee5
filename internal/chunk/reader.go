package chunk

import (
	"io"

	"github.com/tesseradb/tessera/internal/codec"
	"github.com/tesseradb/tessera/internal/rowio"
	"github.com/tesseradb/tessera/pkg/types"
)

// Reader exposes a published chunk's per-column cursors and its row
// iterator. A reader is single-pass: reopen the chunk to iterate again.
type Reader struct {
	id      types.ChunkID
	schema  *types.TableSchema
	cursors []codec.Cursor
	nRows   uint64
}

// ID returns the chunk's identifier.
func (r *Reader) ID() types.ChunkID { return r.id }

// Schema returns the schema the chunk was opened against.
func (r *Reader) Schema() *types.TableSchema { return r.schema }

// NumRows returns the chunk's row count.
func (r *Reader) NumRows() uint64 { return r.nRows }

// Cursors returns the per-column forward cursors, in column order.
func (r *Reader) Cursors() []codec.Cursor { return r.cursors }

// Rows returns the chunk's lazy row iterator, advancing every column
// cursor in lockstep.
func (r *Reader) Rows() rowio.Iterator {
	return rowio.OverCursors(r.cursors)
}

// AdvanceTo positions every column cursor at the given row offset, skipping
// whole runs without materializing the skipped values.
func (r *Reader) AdvanceTo(row uint64) error {
	for _, c := range r.cursors {
		if err := c.AdvanceTo(row); err != nil {
			return err
		}
	}
	return nil
}

// defaultCursor serves the zero value of a kind for every row. Used when a
// schema column was appended after the chunk was written.
type defaultCursor struct {
	kind  types.Kind
	nRows uint64
	row   uint64
}

func newDefaultCursor(kind types.Kind, nRows uint64) codec.Cursor {
	return &defaultCursor{kind: kind, nRows: nRows}
}

func (c *defaultCursor) Next() (types.Value, error) {
	if c.row == c.nRows {
		return types.Value{}, io.EOF
	}
	c.row++
	return types.Value{Kind: c.kind}, nil
}

func (c *defaultCursor) AdvanceTo(row uint64) error {
	if row >= c.row && row <= c.nRows {
		c.row = row
	}
	return nil
}

func (c *defaultCursor) Row() uint64     { return c.row }
func (c *defaultCursor) NumRows() uint64 { return c.nRows }
