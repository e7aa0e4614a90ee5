// Package rowio composes per-column cursors into lazy row sequences.
// Columns are pure sequential files with no row-random access, so a row can
// only be reconstructed by advancing all column cursors in lockstep; the
// iterators here keep memory bounded by a single row.
package rowio

import (
	"io"
	"sort"

	"github.com/tesseradb/tessera/internal/codec"
	"github.com/tesseradb/tessera/internal/errors"
	"github.com/tesseradb/tessera/pkg/types"
)

// Iterator is a lazy, finite, single-pass row sequence. Next returns the
// next row and true, or a zero row and false once exhausted. Iterators are
// not restartable without reopening their source.
type Iterator interface {
	Next() (types.Row, bool, error)
}

// OverCursors returns a row iterator that advances every column cursor by
// one row per call, assembling whole rows in primary-key order.
func OverCursors(cursors []codec.Cursor) Iterator {
	return &cursorIter{cursors: cursors}
}

type cursorIter struct {
	cursors []codec.Cursor
	done    bool
}

func (it *cursorIter) Next() (types.Row, bool, error) {
	if it.done || len(it.cursors) == 0 {
		return nil, false, nil
	}
	row := make(types.Row, len(it.cursors))
	for i, c := range it.cursors {
		v, err := c.Next()
		if err == io.EOF {
			if i != 0 {
				return nil, false, errors.NewCorruptColumn("column lengths disagree within chunk", nil)
			}
			it.done = true
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		row[i] = v
	}
	return row, true, nil
}

// FromRows returns an iterator over an in-memory row slice.
func FromRows(rows []types.Row) Iterator {
	return &sliceIter{rows: rows}
}

type sliceIter struct {
	rows []types.Row
	pos  int
}

func (it *sliceIter) Next() (types.Row, bool, error) {
	if it.pos >= len(it.rows) {
		return nil, false, nil
	}
	r := it.rows[it.pos]
	it.pos++
	return r, true, nil
}

// SortRows orders an unordered set of in-memory rows by the schema's
// sort-key comparator and returns them as an iterator, ready for the chunk
// write path. The input slice is not modified.
func SortRows(schema *types.TableSchema, rows []types.Row) Iterator {
	sorted := make([]types.Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return schema.CompareRows(sorted[i], sorted[j]) < 0
	})
	return FromRows(sorted)
}

// Collect drains an iterator into a slice. Intended for tests and small
// result sets; production paths stream row by row.
func Collect(it Iterator) ([]types.Row, error) {
	var out []types.Row
	for {
		row, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, row.Clone())
	}
}
