package merge

import (
	"context"
	"testing"
	"time"

	"github.com/tesseradb/tessera/internal/chunk"
	"github.com/tesseradb/tessera/internal/rowio"
	"github.com/tesseradb/tessera/pkg/types"
)

func newTestEngine(t *testing.T) (*chunk.Store, *Engine) {
	t.Helper()
	store, err := chunk.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, NewEngine(store)
}

func writeRows(t *testing.T, store *chunk.Store, schema *types.TableSchema, rows []types.Row) types.ChunkID {
	t.Helper()
	id, err := store.WriteChunk(schema, rowio.SortRows(schema, rows))
	if err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	return id
}

func mergeAll(t *testing.T, e *Engine, store *chunk.Store, schema *types.TableSchema, ids []types.ChunkID) []types.Row {
	t.Helper()
	out, err := e.Merge(context.Background(), schema, ids)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	r, err := store.OpenChunk(out, schema)
	if err != nil {
		t.Fatalf("OpenChunk(output): %v", err)
	}
	rows, err := rowio.Collect(r.Rows())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rows
}

func maxSchema() *types.TableSchema {
	return &types.TableSchema{
		Name: "gauges",
		Columns: []types.ColumnDesc{
			{Index: 0, Name: "k", Kind: types.KindUint, Rule: types.RuleSorted},
			{Index: 1, Name: "peak", Kind: types.KindUint, Rule: types.RuleMax},
		},
	}
}

func TestMergeMaxAcrossChunks(t *testing.T) {
	store, e := newTestEngine(t)
	schema := maxSchema()

	var ids []types.ChunkID
	for _, peak := range []uint64{10, 5, 9} {
		ids = append(ids, writeRows(t, store, schema, []types.Row{
			{types.Uint(1), types.Uint(peak)},
		}))
	}
	// A key seen in only one chunk passes through unchanged.
	ids = append(ids, writeRows(t, store, schema, []types.Row{
		{types.Uint(2), types.Uint(77)},
	}))

	rows := mergeAll(t, e, store, schema, ids)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0][0].U != 1 || rows[0][1].U != 10 {
		t.Errorf("key 1 folded to %v, want peak 10", rows[0])
	}
	if rows[1][0].U != 2 || rows[1][1].U != 77 {
		t.Errorf("key 2 folded to %v, want peak 77", rows[1])
	}
}

func TestMergeSum(t *testing.T) {
	store, e := newTestEngine(t)
	schema := &types.TableSchema{
		Name: "counters",
		Columns: []types.ColumnDesc{
			{Index: 0, Name: "k", Kind: types.KindUint, Rule: types.RuleSorted},
			{Index: 1, Name: "total", Kind: types.KindUint, Rule: types.RuleSum},
			{Index: 2, Name: "delta", Kind: types.KindInt, Rule: types.RuleSum},
		},
	}

	a := writeRows(t, store, schema, []types.Row{
		{types.Uint(1), types.Uint(5), types.Int(-3)},
	})
	b := writeRows(t, store, schema, []types.Row{
		{types.Uint(1), types.Uint(7), types.Int(10)},
	})

	rows := mergeAll(t, e, store, schema, []types.ChunkID{a, b})
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0][1].U != 12 || rows[0][2].I != 7 {
		t.Errorf("sums = %s, %s; want 12, +7", rows[0][1], rows[0][2])
	}
}

func TestMergeIsDeletedSticks(t *testing.T) {
	store, e := newTestEngine(t)
	schema := &types.TableSchema{
		Name: "docs",
		Columns: []types.ColumnDesc{
			{Index: 0, Name: "k", Kind: types.KindUint, Rule: types.RuleSorted},
			{Index: 1, Name: "deleted", Kind: types.KindBool, Rule: types.RuleIsDeleted},
			{Index: 2, Name: "rev", Kind: types.KindUint, Rule: types.RuleMax},
		},
	}

	a := writeRows(t, store, schema, []types.Row{
		{types.Uint(1), types.Bool(true), types.Uint(3)},
	})
	// A later write with the flag clear does not resurrect the row.
	b := writeRows(t, store, schema, []types.Row{
		{types.Uint(1), types.Bool(false), types.Uint(4)},
	})

	rows := mergeAll(t, e, store, schema, []types.ChunkID{a, b})
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if !rows[0][1].B {
		t.Error("deletion flag should survive any merge order")
	}
	if rows[0][2].U != 4 {
		t.Errorf("rev = %d, want 4", rows[0][2].U)
	}
}

func TestMergeSelfIsIdempotent(t *testing.T) {
	store, e := newTestEngine(t)
	schema := &types.TableSchema{
		Name: "gauges",
		Columns: []types.ColumnDesc{
			{Index: 0, Name: "k", Kind: types.KindUint, Rule: types.RuleSorted},
			{Index: 1, Name: "deleted", Kind: types.KindBool, Rule: types.RuleIsDeleted},
			{Index: 2, Name: "peak", Kind: types.KindUint, Rule: types.RuleMax},
			{Index: 3, Name: "low", Kind: types.KindUint, Rule: types.RuleMin},
		},
	}

	a := writeRows(t, store, schema, []types.Row{
		{types.Uint(1), types.Bool(false), types.Uint(10), types.Uint(3)},
		{types.Uint(2), types.Bool(true), types.Uint(7), types.Uint(7)},
		{types.Uint(3), types.Bool(false), types.Uint(0), types.Uint(99)},
	})

	// Merging a chunk with copies of itself folds each key back to the
	// values a single-input merge produces.
	once := mergeAll(t, e, store, schema, []types.ChunkID{a})
	thrice := mergeAll(t, e, store, schema, []types.ChunkID{a, a, a})

	if len(once) != len(thrice) {
		t.Fatalf("row counts differ: %d vs %d", len(once), len(thrice))
	}
	for i := range once {
		for j := range once[i] {
			if once[i][j].Compare(thrice[i][j]) != 0 {
				t.Errorf("row %d col %d: %s vs %s", i, j, once[i][j], thrice[i][j])
			}
		}
	}
}

func TestMergeDeleteOneRow(t *testing.T) {
	store, e := newTestEngine(t)
	schema := &types.TableSchema{
		Name: "multiset",
		Columns: []types.ColumnDesc{
			{Index: 0, Name: "k", Kind: types.KindUint, Rule: types.RuleSorted},
			{Index: 1, Name: "sign", Kind: types.KindInt, Rule: types.RuleDeleteOneRow},
		},
	}

	a := writeRows(t, store, schema, []types.Row{
		{types.Uint(1), types.Int(1)},
		{types.Uint(2), types.Int(1)},
		{types.Uint(2), types.Int(1)},
	})
	b := writeRows(t, store, schema, []types.Row{
		{types.Uint(1), types.Int(-1)},
		{types.Uint(2), types.Int(-1)},
	})

	rows := mergeAll(t, e, store, schema, []types.ChunkID{a, b})
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1: %v", len(rows), rows)
	}
	if rows[0][0].U != 2 || rows[0][1].I != 1 {
		t.Errorf("key 2 folded to %v, want sign +1", rows[0])
	}
}

func TestMergeTTL(t *testing.T) {
	store, err := chunk.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1000, 0)
	e := NewEngineWithClock(store, func() time.Time { return now })

	schema := &types.TableSchema{
		Name: "sessions",
		Columns: []types.ColumnDesc{
			{Index: 0, Name: "k", Kind: types.KindUint, Rule: types.RuleSorted},
			{Index: 1, Name: "expires", Kind: types.KindUint, Rule: types.RuleTTL},
		},
	}

	a := writeRows(t, store, schema, []types.Row{
		{types.Uint(1), types.Uint(500)},  // elapsed together with b's 2000
		{types.Uint(2), types.Uint(0)},    // no expiry
		{types.Uint(3), types.Uint(1500)}, // still live
	})
	b := writeRows(t, store, schema, []types.Row{
		{types.Uint(1), types.Uint(2000)},
		{types.Uint(3), types.Uint(0)}, // zero never wins over a real expiry
	})

	rows := mergeAll(t, e, store, schema, []types.ChunkID{a, b})
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2: %v", len(rows), rows)
	}
	if rows[0][0].U != 2 || rows[0][1].U != 0 {
		t.Errorf("key 2 folded to %v, want no expiry", rows[0])
	}
	if rows[1][0].U != 3 || rows[1][1].U != 1500 {
		t.Errorf("key 3 folded to %v, want expiry 1500", rows[1])
	}
}

func TestMergeWithMaxFollowsWinner(t *testing.T) {
	store, e := newTestEngine(t)
	schema := &types.TableSchema{
		Name: "peaks",
		Columns: []types.ColumnDesc{
			{Index: 0, Name: "k", Kind: types.KindUint, Rule: types.RuleSorted},
			{Index: 1, Name: "peak", Kind: types.KindUint, Rule: types.RuleMax},
			{Index: 2, Name: "host", Kind: types.KindBytes, Rule: types.RuleWithMax, Ref: "peak"},
		},
	}

	a := writeRows(t, store, schema, []types.Row{
		{types.Uint(1), types.Uint(90), types.Bytes([]byte("node-a"))},
	})
	b := writeRows(t, store, schema, []types.Row{
		{types.Uint(1), types.Uint(40), types.Bytes([]byte("node-b"))},
	})

	rows := mergeAll(t, e, store, schema, []types.ChunkID{a, b})
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0][1].U != 90 || string(rows[0][2].Y) != "node-a" {
		t.Errorf("folded to %v, want peak 90 from node-a", rows[0])
	}
}

func TestMergeWithMaxTieTakesNewestChunk(t *testing.T) {
	store, e := newTestEngine(t)
	schema := &types.TableSchema{
		Name: "peaks",
		Columns: []types.ColumnDesc{
			{Index: 0, Name: "k", Kind: types.KindUint, Rule: types.RuleSorted},
			{Index: 1, Name: "peak", Kind: types.KindUint, Rule: types.RuleMax},
			{Index: 2, Name: "host", Kind: types.KindBytes, Rule: types.RuleWithMax, Ref: "peak"},
		},
	}

	a := writeRows(t, store, schema, []types.Row{
		{types.Uint(1), types.Uint(50), types.Bytes([]byte("older"))},
	})
	b := writeRows(t, store, schema, []types.Row{
		{types.Uint(1), types.Uint(50), types.Bytes([]byte("newer"))},
	})
	if a.Compare(b) >= 0 {
		t.Fatal("chunk ids should be monotonic")
	}

	rows := mergeAll(t, e, store, schema, []types.ChunkID{a, b})
	if string(rows[0][2].Y) != "newer" {
		t.Errorf("tie resolved to %q, want the newest chunk's value", rows[0][2].Y)
	}

	// Merging in the opposite listing order changes nothing.
	rows = mergeAll(t, e, store, schema, []types.ChunkID{b, a})
	if string(rows[0][2].Y) != "newer" {
		t.Errorf("tie depends on input order: got %q", rows[0][2].Y)
	}
}

func TestMergeRangeTombstone(t *testing.T) {
	store, e := newTestEngine(t)
	schema := &types.TableSchema{
		Name: "series",
		Columns: []types.ColumnDesc{
			{Index: 0, Name: "k", Kind: types.KindUint, Deletable: true, Rule: types.RuleSorted},
			{Index: 1, Name: "v", Kind: types.KindUint, Deletable: true, Rule: types.RuleMax},
		},
	}

	data := writeRows(t, store, schema, []types.Row{
		{types.Uint(1), types.Uint(10)},
		{types.Uint(2), types.Uint(20)},
		{types.Uint(3), types.Uint(30)},
		{types.Uint(4), types.Uint(40)},
		{types.Uint(5), types.Uint(50)},
	})
	// Deletes keys 2 through 4 inclusive. The end marker sorts after the
	// plain key it names.
	tomb := writeRows(t, store, schema, []types.Row{
		{types.RangeStart(types.Uint(2)), types.Deleted(types.KindUint)},
		{types.RangeEnd(types.Uint(4)), types.Deleted(types.KindUint)},
	})

	rows := mergeAll(t, e, store, schema, []types.ChunkID{data, tomb})

	var plain []uint64
	markers := 0
	for _, row := range rows {
		switch row[0].Mark {
		case types.MarkNone:
			plain = append(plain, row[0].U)
		case types.MarkRangeStart, types.MarkRangeEnd:
			markers++
		}
	}
	if len(plain) != 2 || plain[0] != 1 || plain[1] != 5 {
		t.Errorf("surviving keys = %v, want [1 5]", plain)
	}
	// Markers are conservatively retained for chunks not in this merge.
	if markers != 2 {
		t.Errorf("%d markers in output, want 2", markers)
	}
}

func TestMergeDuplicateRangeMarkersCollapse(t *testing.T) {
	store, e := newTestEngine(t)
	schema := &types.TableSchema{
		Name: "series",
		Columns: []types.ColumnDesc{
			{Index: 0, Name: "k", Kind: types.KindUint, Deletable: true, Rule: types.RuleSorted},
			{Index: 1, Name: "v", Kind: types.KindUint, Deletable: true, Rule: types.RuleMax},
		},
	}

	a := writeRows(t, store, schema, []types.Row{
		{types.RangeStart(types.Uint(2)), types.Deleted(types.KindUint)},
		{types.Uint(3), types.Uint(30)},
		{types.RangeEnd(types.Uint(4)), types.Deleted(types.KindUint)},
	})
	b := writeRows(t, store, schema, []types.Row{
		{types.RangeStart(types.Uint(2)), types.Deleted(types.KindUint)},
		{types.RangeEnd(types.Uint(4)), types.Deleted(types.KindUint)},
		{types.Uint(9), types.Uint(90)},
	})

	rows := mergeAll(t, e, store, schema, []types.ChunkID{a, b})
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3: %v", len(rows), rows)
	}
	if rows[0][0].Mark != types.MarkRangeStart || rows[1][0].Mark != types.MarkRangeEnd {
		t.Error("duplicate markers should collapse to one of each")
	}
	if rows[2][0].U != 9 {
		t.Errorf("key outside the range folded to %v", rows[2])
	}
}

func TestMergeEmptyInput(t *testing.T) {
	store, e := newTestEngine(t)
	schema := maxSchema()

	out, err := e.Merge(context.Background(), schema, nil)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	r, err := store.OpenChunk(out, schema)
	if err != nil {
		t.Fatalf("OpenChunk: %v", err)
	}
	if r.NumRows() != 0 {
		t.Errorf("empty merge produced %d rows", r.NumRows())
	}
}

func TestMergeCanceledContext(t *testing.T) {
	store, e := newTestEngine(t)
	schema := maxSchema()
	id := writeRows(t, store, schema, []types.Row{{types.Uint(1), types.Uint(1)}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Merge(ctx, schema, []types.ChunkID{id}); err == nil {
		t.Fatal("canceled context should abort the merge")
	}
}
