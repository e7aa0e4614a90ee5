package ingest

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/tesseradb/tessera/internal/catalog"
	"github.com/tesseradb/tessera/internal/chunk"
	"github.com/tesseradb/tessera/internal/rowio"
	"github.com/tesseradb/tessera/pkg/types"
)

// checkpointSource names a table's flush checkpoint in the catalog. Each
// table advances independently so one failing table never duplicates
// another's rows.
func checkpointSource(table string) string {
	return "wal:" + table
}

// Flusher drains acknowledged WAL entries into published chunks. Each cycle
// groups unflushed entries by table, sorts each group by the table's sort
// key, writes one chunk per table and registers it together with the
// table's checkpoint in a single catalog transaction. Segments wholly below
// the contiguous flushed prefix are then deleted.
//
// After a restart the flusher rereads every surviving segment; entries a
// checkpoint already covers are filtered out, so flushing is exactly-once.
type Flusher struct {
	wal      *WAL
	store    *chunk.Store
	catalog  *catalog.Catalog
	interval time.Duration

	flushedTo uint64
}

// NewFlusher creates a flusher over the given log, store and catalog.
func NewFlusher(wal *WAL, store *chunk.Store, cat *catalog.Catalog, interval time.Duration) *Flusher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Flusher{wal: wal, store: store, catalog: cat, interval: interval}
}

// Run flushes on a ticker until the context is cancelled, then performs a
// final drain so a clean shutdown leaves an empty log.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := f.FlushOnce(context.Background()); err != nil {
				log.Printf("ingest: final flush failed: %v", err)
			}
			return
		case <-ticker.C:
			if err := f.FlushOnce(ctx); err != nil {
				log.Printf("ingest: flush failed: %v", err)
			}
		}
	}
}

// FlushOnce drains every entry acknowledged so far. Tables fail
// independently; a failed table's entries are retried next cycle, and the
// contiguous flushed prefix stalls below them so their segments survive.
func (f *Flusher) FlushOnce(ctx context.Context) error {
	target := f.wal.CurrentLSN()
	if f.flushedTo >= target {
		return nil
	}

	entries, err := f.unflushedEntries(f.flushedTo+1, target)
	if err != nil {
		return err
	}

	groups := make(map[string][]*Entry)
	for _, e := range entries {
		groups[e.Table] = append(groups[e.Table], e)
	}

	contiguous := target
	for table, group := range groups {
		if err := f.flushTable(ctx, table, group); err != nil {
			log.Printf("ingest: failed to flush table %s: %v", table, err)
			if first := group[0].LSN; first-1 < contiguous {
				contiguous = first - 1
			}
		}
	}
	if contiguous > f.flushedTo {
		f.flushedTo = contiguous
	}

	f.deleteFlushedSegments()
	return nil
}

// flushTable folds one table's entries into a single published chunk,
// skipping entries the table's checkpoint already covers.
func (f *Flusher) flushTable(ctx context.Context, table string, entries []*Entry) error {
	source := checkpointSource(table)
	flushed, err := f.catalog.IngestCheckpoint(ctx, source)
	if err != nil {
		return err
	}

	var rows []types.Row
	lastLSN := uint64(0)
	for _, e := range entries {
		if e.LSN <= flushed {
			continue
		}
		rows = append(rows, e.Rows...)
		if e.LSN > lastLSN {
			lastLSN = e.LSN
		}
	}
	if len(rows) == 0 {
		return nil
	}

	schema, version, err := f.catalog.Table(ctx, table)
	if err != nil {
		return fmt.Errorf("ingest: unknown table %q: %w", table, err)
	}

	id, err := f.store.WriteChunk(schema, rowio.SortRows(schema, rows))
	if err != nil {
		return fmt.Errorf("ingest: failed to write chunk for %s: %w", table, err)
	}
	if err := f.catalog.RegisterFlushedChunk(ctx, table, id, uint64(len(rows)), version, source, lastLSN); err != nil {
		// The chunk directory is unreferenced; the orphan sweep reclaims it.
		return fmt.Errorf("ingest: failed to register chunk for %s: %w", table, err)
	}

	log.Printf("ingest: flushed %d rows into chunk %s for table %s", len(rows), id, table)
	return nil
}

// FlushedLSN returns the contiguous flushed high-water mark.
func (f *Flusher) FlushedLSN() uint64 {
	return f.flushedTo
}

// unflushedEntries collects entries with LSNs in [start, end] across all
// segments.
func (f *Flusher) unflushedEntries(start, end uint64) ([]*Entry, error) {
	ids, err := listSegmentIDs(f.wal.dir)
	if err != nil {
		return nil, err
	}
	var out []*Entry
	for _, id := range ids {
		entries, err := ReadSegment(filepath.Join(f.wal.dir, segmentName(id)))
		if err != nil {
			log.Printf("ingest: failed to read segment %016x: %v", id, err)
			continue
		}
		for _, e := range entries {
			if e.LSN >= start && e.LSN <= end {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// deleteFlushedSegments removes sealed segments whose entries all sit at or
// below the contiguous flushed prefix. The active segment is never deleted.
func (f *Flusher) deleteFlushedSegments() {
	ids, err := listSegmentIDs(f.wal.dir)
	if err != nil {
		return
	}
	active := f.wal.ActiveSegmentID()
	for _, id := range ids {
		if id >= active {
			continue
		}
		path := filepath.Join(f.wal.dir, segmentName(id))
		entries, err := ReadSegment(path)
		if err != nil {
			continue
		}
		flushed := true
		for _, e := range entries {
			if e.LSN > f.flushedTo {
				flushed = false
				break
			}
		}
		if !flushed {
			continue
		}
		if err := os.Remove(path); err != nil {
			log.Printf("ingest: failed to delete flushed segment %016x: %v", id, err)
		}
	}
}
