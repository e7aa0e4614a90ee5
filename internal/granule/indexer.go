// Package granule builds the in-memory coarse index over a chunk's rows:
// per-granule min/max of every sort-key column, plus a bloom filter over
// whole sort keys. The index is never persisted; it is rebuilt from the
// chunk's row iterator whenever a chunk is opened, and lets a query layer
// skip whole granules despite the engine's forward-only iteration.
package granule

import (
	"encoding/binary"

	"github.com/tesseradb/tessera/internal/bloom"
	"github.com/tesseradb/tessera/internal/rowio"
	"github.com/tesseradb/tessera/pkg/types"
)

// DefaultGranuleSize is the fixed row-batch size used when none is given.
const DefaultGranuleSize = 8192

// Entry records the sort-key bounds of one granule.
type Entry struct {
	// FirstRow is the granule's starting row offset within the chunk.
	FirstRow uint64

	// NumRows is the granule's row count (the last granule may be short).
	NumRows uint64

	// Min and Max hold, per sort column, the smallest and largest value
	// observed in the granule.
	Min types.Row
	Max types.Row
}

// Index is the per-chunk granule index.
type Index struct {
	schema      *types.TableSchema
	granuleSize uint64
	entries     []Entry
	keys        *bloom.Filter
	numRows     uint64
}

// Build walks a chunk's row iterator in fixed-size batches and records
// per-granule sort-key bounds. Memory stays bounded by one row plus the
// accumulated bounds.
func Build(schema *types.TableSchema, rows rowio.Iterator, granuleSize int) (*Index, error) {
	if granuleSize <= 0 {
		granuleSize = DefaultGranuleSize
	}
	ix := &Index{
		schema:      schema,
		granuleSize: uint64(granuleSize),
		keys:        bloom.NewWithEstimates(granuleSize*64, 0.01),
	}
	sortLen := schema.SortKeyLen()

	var cur *Entry
	for {
		row, ok, err := rows.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if cur == nil || cur.NumRows == ix.granuleSize {
			ix.entries = append(ix.entries, Entry{
				FirstRow: ix.numRows,
				Min:      row[:sortLen].Clone(),
				Max:      row[:sortLen].Clone(),
			})
			cur = &ix.entries[len(ix.entries)-1]
		}
		for i := 0; i < sortLen; i++ {
			if row[i].Compare(cur.Min[i]) < 0 {
				cur.Min[i] = cloneValue(row[i])
			}
			if row[i].Compare(cur.Max[i]) > 0 {
				cur.Max[i] = cloneValue(row[i])
			}
		}
		cur.NumRows++
		ix.numRows++
		ix.keys.Add(keyBytes(row, sortLen))
	}
	return ix, nil
}

// Granules returns the index entries in row order.
func (ix *Index) Granules() []Entry { return ix.entries }

// NumRows returns the indexed chunk's total row count.
func (ix *Index) NumRows() uint64 { return ix.numRows }

// Prune returns the granules whose sort-key bounds intersect [lo, hi] on
// the leading sort column. Callers seek their cursors to each entry's
// FirstRow and decode only those batches.
func (ix *Index) Prune(lo, hi types.Value) []Entry {
	var out []Entry
	for _, e := range ix.entries {
		if e.Max[0].Compare(lo) < 0 || e.Min[0].Compare(hi) > 0 {
			continue
		}
		out = append(out, e)
	}
	return out
}

// MayContainKey reports whether the chunk might contain the exact sort
// key. A false result is definitive.
func (ix *Index) MayContainKey(key types.Row) bool {
	return ix.keys.Contains(keyBytes(key, ix.schema.SortKeyLen()))
}

// cloneValue copies a value deeply enough that the index does not alias
// byte slices owned by the iterator.
func cloneValue(v types.Value) types.Value {
	if v.Kind == types.KindBytes && v.Y != nil {
		y := make([]byte, len(v.Y))
		copy(y, v.Y)
		v.Y = y
	}
	return v
}

// keyBytes serializes a row's sort-key prefix deterministically for bloom
// hashing: kind byte, then a length-prefixed payload per column.
func keyBytes(row types.Row, sortLen int) []byte {
	var buf []byte
	for i := 0; i < sortLen; i++ {
		v := row[i]
		buf = append(buf, byte(v.Kind))
		switch v.Kind {
		case types.KindBool:
			if v.B {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case types.KindUint:
			buf = binary.BigEndian.AppendUint64(buf, v.U)
		case types.KindInt:
			buf = binary.BigEndian.AppendUint64(buf, uint64(v.I))
		case types.KindBytes:
			buf = binary.AppendUvarint(buf, uint64(len(v.Y)))
			buf = append(buf, v.Y...)
		}
	}
	return buf
}
