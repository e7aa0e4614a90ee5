package chunk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tesseradb/tessera/internal/errors"
	"github.com/tesseradb/tessera/internal/rowio"
	"github.com/tesseradb/tessera/pkg/types"
)

func metricsSchema() *types.TableSchema {
	return &types.TableSchema{
		Name: "metrics",
		Columns: []types.ColumnDesc{
			{Index: 0, Name: "host", Kind: types.KindBytes, Rule: types.RuleSorted},
			{Index: 1, Name: "ts", Kind: types.KindUint, Rule: types.RuleSorted},
			{Index: 2, Name: "peak", Kind: types.KindUint, Rule: types.RuleMax},
			{Index: 3, Name: "total", Kind: types.KindUint, Rule: types.RuleSum},
		},
	}
}

func metricsRows() []types.Row {
	return []types.Row{
		{types.Bytes([]byte("a")), types.Uint(1), types.Uint(10), types.Uint(100)},
		{types.Bytes([]byte("a")), types.Uint(2), types.Uint(20), types.Uint(200)},
		{types.Bytes([]byte("b")), types.Uint(1), types.Uint(30), types.Uint(300)},
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestWriteOpenRoundTrip(t *testing.T) {
	s := newTestStore(t)
	schema := metricsSchema()
	want := metricsRows()

	id, err := s.WriteChunk(schema, rowio.FromRows(want))
	if err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	r, err := s.OpenChunk(id, schema)
	if err != nil {
		t.Fatalf("OpenChunk: %v", err)
	}
	if r.ID() != id {
		t.Errorf("Reader.ID() = %s, want %s", r.ID(), id)
	}
	if r.NumRows() != uint64(len(want)) {
		t.Errorf("NumRows() = %d, want %d", r.NumRows(), len(want))
	}

	got, err := rowio.Collect(r.Rows())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d rows, want %d", len(got), len(want))
	}
	for i, row := range got {
		for j, v := range row {
			if !v.Equal(want[i][j]) {
				t.Errorf("row %d col %d: got %s, want %s", i, j, v, want[i][j])
			}
		}
	}
}

func TestWriteChunkRejectsUnsortedInput(t *testing.T) {
	s := newTestStore(t)
	rows := metricsRows()
	rows[0], rows[2] = rows[2], rows[0]

	_, err := s.WriteChunk(metricsSchema(), rowio.FromRows(rows))
	if err == nil {
		t.Fatal("unsorted input should be rejected")
	}
	if errors.GetCode(err) != errors.CodeUnsortedInput {
		t.Errorf("want CodeUnsortedInput, got %v", err)
	}

	// Nothing was published and no temp dir was left behind.
	ids, err := s.ListChunks()
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("aborted write published %d chunks", len(ids))
	}
	entries, _ := os.ReadDir(s.Root())
	if len(entries) != 0 {
		t.Errorf("aborted write left %d entries behind", len(entries))
	}
}

func TestWriteChunkRejectsShortRow(t *testing.T) {
	s := newTestStore(t)
	rows := []types.Row{{types.Bytes([]byte("a")), types.Uint(1)}}
	if _, err := s.WriteChunk(metricsSchema(), rowio.FromRows(rows)); err == nil {
		t.Fatal("row narrower than the schema should be rejected")
	}
}

func TestOpenChunkServesAppendedColumnDefaults(t *testing.T) {
	s := newTestStore(t)
	old := metricsSchema()
	id, err := s.WriteChunk(old, rowio.FromRows(metricsRows()))
	if err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	evolved := metricsSchema()
	evolved.Columns = append(evolved.Columns,
		types.ColumnDesc{Index: 4, Name: "note", Kind: types.KindBytes, Rule: types.RuleMax})

	r, err := s.OpenChunk(id, evolved)
	if err != nil {
		t.Fatalf("OpenChunk with evolved schema: %v", err)
	}
	rows, err := rowio.Collect(r.Rows())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for i, row := range rows {
		if len(row) != 5 {
			t.Fatalf("row %d has %d columns, want 5", i, len(row))
		}
		if row[4].Kind != types.KindBytes || len(row[4].Y) != 0 {
			t.Errorf("row %d: appended column = %s, want zero value", i, row[4])
		}
	}
}

func TestOpenChunkRejectsSchemaMismatch(t *testing.T) {
	s := newTestStore(t)
	id, err := s.WriteChunk(metricsSchema(), rowio.FromRows(metricsRows()))
	if err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	other := metricsSchema()
	other.Columns[2].Kind = types.KindInt
	if _, err := s.OpenChunk(id, other); err == nil {
		t.Fatal("kind mismatch should be rejected")
	}

	missing := metricsSchema()
	missing.Name = "other_table"
	_, err = s.OpenChunk(id, missing)
	if errors.GetCode(err) != errors.CodeChunkNotFound {
		t.Errorf("unknown table should report CodeChunkNotFound, got %v", err)
	}
}

func TestListAndDropChunks(t *testing.T) {
	s := newTestStore(t)
	schema := metricsSchema()

	var ids []types.ChunkID
	for i := 0; i < 3; i++ {
		id, err := s.WriteChunk(schema, rowio.FromRows(metricsRows()))
		if err != nil {
			t.Fatalf("WriteChunk %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	listed, err := s.ListChunks()
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("ListChunks returned %d ids, want 3", len(listed))
	}

	if err := s.DropChunk(ids[1]); err != nil {
		t.Fatalf("DropChunk: %v", err)
	}
	listed, _ = s.ListChunks()
	if len(listed) != 2 {
		t.Errorf("after drop: %d ids, want 2", len(listed))
	}
	if _, err := s.OpenChunk(ids[1], schema); err == nil {
		t.Error("dropped chunk should not open")
	}

	// Dropping an already-dropped chunk is idempotent.
	if err := s.DropChunk(ids[1]); err != nil {
		t.Errorf("double drop: %v", err)
	}
}

func TestSweepTemp(t *testing.T) {
	s := newTestStore(t)

	stale := filepath.Join(s.Root(), ".tmp-deadbeef")
	if err := os.MkdirAll(filepath.Join(stale, "metrics"), 0755); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}
	fresh := filepath.Join(s.Root(), ".tmp-cafebabe")
	if err := os.MkdirAll(fresh, 0755); err != nil {
		t.Fatal(err)
	}

	n, err := s.SweepTemp(time.Hour)
	if err != nil {
		t.Fatalf("SweepTemp: %v", err)
	}
	if n != 1 {
		t.Errorf("swept %d dirs, want 1", n)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale temp dir survived the sweep")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh temp dir was swept")
	}
}

func TestColumnFileNameRoundTrip(t *testing.T) {
	descs := []types.ColumnDesc{
		{Index: 0, Name: "host", Kind: types.KindBytes, Rule: types.RuleSorted},
		{Index: 7, Name: "peak_cpu_pct", Kind: types.KindUint, Rule: types.RuleMax},
		{Index: 12, Name: "payload", Kind: types.KindBytes, Deletable: true, Rule: types.RuleMax},
		{Index: 3, Name: "sign", Kind: types.KindInt, Rule: types.RuleDeleteOneRow},
	}
	for _, want := range descs {
		got, err := parseColumnFileName(columnFileName(want))
		if err != nil {
			t.Fatalf("parse %q: %v", columnFileName(want), err)
		}
		if got != want {
			t.Errorf("round trip: got %+v, want %+v", got, want)
		}
	}

	for _, bad := range []string{
		"nope.txt",
		"007_only.col",
		"x_name_uint_max.col",
		"000_name_zzz_max.col",
		"000_name_uint_zzz.col",
	} {
		if _, err := parseColumnFileName(bad); err == nil {
			t.Errorf("parseColumnFileName(%q) should fail", bad)
		}
	}
}
