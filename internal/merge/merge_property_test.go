package merge

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/tesseradb/tessera/internal/chunk"
	"github.com/tesseradb/tessera/internal/rowio"
	"github.com/tesseradb/tessera/pkg/types"
)

// TestProperty_MergeOrderIndependence checks the convergence guarantee:
// merging the same chunk multiset in any order and any grouping produces
// identical rows.
func TestProperty_MergeOrderIndependence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	schema := &types.TableSchema{
		Name: "props",
		Columns: []types.ColumnDesc{
			{Index: 0, Name: "k", Kind: types.KindUint, Rule: types.RuleSorted},
			{Index: 1, Name: "peak", Kind: types.KindUint, Rule: types.RuleMax},
			{Index: 2, Name: "total", Kind: types.KindUint, Rule: types.RuleSum},
		},
	}

	store, err := chunk.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(store)

	write := func(keys []uint64, salt uint64) types.ChunkID {
		rows := make([]types.Row, 0, len(keys))
		for i, k := range keys {
			rows = append(rows, types.Row{
				types.Uint(k),
				types.Uint(k*7 + salt + uint64(i)%3),
				types.Uint(k + salt),
			})
		}
		id, err := store.WriteChunk(schema, rowio.SortRows(schema, rows))
		if err != nil {
			t.Fatalf("WriteChunk: %v", err)
		}
		return id
	}

	merge := func(ids ...types.ChunkID) types.ChunkID {
		out, err := e.Merge(context.Background(), schema, ids)
		if err != nil {
			t.Fatalf("Merge: %v", err)
		}
		return out
	}

	read := func(id types.ChunkID) []types.Row {
		r, err := store.OpenChunk(id, schema)
		if err != nil {
			t.Fatalf("OpenChunk: %v", err)
		}
		rows, err := rowio.Collect(r.Rows())
		if err != nil {
			t.Fatalf("Collect: %v", err)
		}
		return rows
	}

	rowsEqual := func(a, b []types.Row) bool {
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			for j := range a[i] {
				if !a[i][j].Equal(b[i][j]) {
					return false
				}
			}
		}
		return true
	}

	properties.Property("grouping and order do not change the result", prop.ForAll(
		func(k1, k2, k3 []uint64) bool {
			a := write(k1, 1)
			b := write(k2, 2)
			c := write(k3, 3)

			flat := read(merge(a, b, c))
			nested := read(merge(merge(a, b), c))
			reversed := read(merge(c, merge(b, a)))

			return rowsEqual(flat, nested) && rowsEqual(flat, reversed)
		},
		gen.SliceOf(gen.UInt64Range(0, 8)),
		gen.SliceOf(gen.UInt64Range(0, 8)),
		gen.SliceOf(gen.UInt64Range(0, 8)),
	))

	properties.Property("merging a chunk with an empty chunk is identity", prop.ForAll(
		func(keys []uint64) bool {
			a := write(keys, 5)
			empty := write(nil, 0)
			return rowsEqual(read(merge(a)), read(merge(a, empty)))
		},
		gen.SliceOf(gen.UInt64Range(0, 8)),
	))

	properties.TestingRun(t)
}
