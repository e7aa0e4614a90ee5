// Package merge implements the k-way, order-independent merge of chunk row
// sequences. The merge is commutative and associative over the abstract row
// multiset it represents: uncoordinated writers and replicas converge to
// the same result regardless of merge order. This is the single property
// the storage model depends on for replication correctness; every fold rule
// below must preserve it.
package merge

import (
	"context"
	"fmt"
	"time"

	"github.com/tesseradb/tessera/internal/chunk"
	"github.com/tesseradb/tessera/internal/errors"
	"github.com/tesseradb/tessera/pkg/types"
)

// Engine merges N input chunks into one output chunk. It owns the
// lifecycle transition from inputs to output but never deletes inputs:
// callers retire them only after the output is durably published.
type Engine struct {
	store *chunk.Store
	now   func() time.Time
}

// NewEngine returns an engine evaluating TTLs against the wall clock.
func NewEngine(store *chunk.Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// NewEngineWithClock returns an engine with an injected clock. The clock is
// read once per merge, so every group sees the same TTL horizon.
func NewEngineWithClock(store *chunk.Store, now func() time.Time) *Engine {
	return &Engine{store: store, now: now}
}

// Merge performs a k-way merge of the given chunks' row sequences into a
// single new chunk, applying each column's merge rule per unique sort-key
// group. An empty input produces an empty output chunk. A failed merge
// leaves all input chunks untouched and live.
func (e *Engine) Merge(ctx context.Context, schema *types.TableSchema, ids []types.ChunkID) (types.ChunkID, error) {
	if err := schema.Validate(); err != nil {
		return types.ChunkID{}, errors.NewSchemaError("refusing to merge", err)
	}

	h := &sourceHeap{schema: schema}
	for _, id := range ids {
		reader, err := e.store.OpenChunk(id, schema)
		if err != nil {
			return types.ChunkID{}, errors.NewChunkError(errors.CodeMergeFailed,
				fmt.Sprintf("failed to open input chunk %s", id), err)
		}
		src := &source{id: id, iter: reader.Rows()}
		ok, err := src.advance()
		if err != nil {
			return types.ChunkID{}, err
		}
		if ok {
			h.sources = append(h.sources, src)
		}
	}
	h.init()

	out := &mergeIter{
		ctx:    ctx,
		schema: schema,
		heap:   h,
		now:    uint64(e.now().Unix()),
	}
	id, err := e.store.WriteChunk(schema, out)
	if err != nil {
		return types.ChunkID{}, errors.NewChunkError(errors.CodeMergeFailed, "failed to write merge output", err)
	}
	return id, nil
}

// contribution is one input row and the chunk it came from, for
// recency-based tie-breaks.
type contribution struct {
	row types.Row
	id  types.ChunkID
}

// mergeIter drains the source heap one sort-key group at a time, folding
// each group into at most one output row. It implements rowio.Iterator so
// the chunk write path consumes the merge streamily.
type mergeIter struct {
	ctx    context.Context
	schema *types.TableSchema
	heap   *sourceHeap
	now    uint64

	// openRanges counts range-tombstone intervals currently active: groups
	// arriving while it is positive are excluded from the output.
	openRanges int
}

func (m *mergeIter) Next() (types.Row, bool, error) {
	for {
		if err := m.ctx.Err(); err != nil {
			return nil, false, err
		}
		group, err := m.nextGroup()
		if err != nil {
			return nil, false, err
		}
		if group == nil {
			return nil, false, nil
		}

		switch markOf(m.schema, group[0].row) {
		case types.MarkRangeStart:
			m.openRanges++
			// Duplicate markers at the same key collapse to one; the
			// marker itself is conservatively retained in the output.
			return group[0].row, true, nil
		case types.MarkRangeEnd:
			if m.openRanges > 0 {
				m.openRanges--
			}
			return group[0].row, true, nil
		}

		if m.openRanges > 0 {
			continue // group falls within an active range tombstone
		}

		row, keep, err := foldGroup(m.schema, group, m.now)
		if err != nil {
			return nil, false, err
		}
		if keep {
			return row, true, nil
		}
	}
}

// nextGroup pops every source row comparing equal under the sort-key
// ordering (marker rank included). Within the group, rows are ordered
// newest chunk first.
func (m *mergeIter) nextGroup() ([]contribution, error) {
	top := m.heap.peek()
	if top == nil {
		return nil, nil
	}
	key := top.head
	var group []contribution
	for {
		top = m.heap.peek()
		if top == nil || m.schema.CompareRows(key, top.head) != 0 {
			return group, nil
		}
		src := m.heap.pop()
		group = append(group, contribution{row: src.head, id: src.id})
		ok, err := src.advance()
		if err != nil {
			return nil, err
		}
		if ok {
			m.heap.push(src)
		}
	}
}

// markOf returns the tombstone mark carried by the row's sort columns, if
// any. Range markers live in a Deletable sort column.
func markOf(schema *types.TableSchema, row types.Row) types.Mark {
	for i := 0; i < schema.SortKeyLen(); i++ {
		if m := row[i].Mark; m == types.MarkRangeStart || m == types.MarkRangeEnd {
			return m
		}
	}
	return types.MarkNone
}
