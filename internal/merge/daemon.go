package merge

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tesseradb/tessera/internal/catalog"
	"github.com/tesseradb/tessera/internal/chunk"
	"github.com/tesseradb/tessera/pkg/types"
)

// DaemonConfig holds configuration for the background merge daemon.
type DaemonConfig struct {
	// MaxChunksPerTable is the live-chunk budget per table before a full
	// merge triggers.
	MaxChunksPerTable int64

	// SmallChunkRows is the row threshold for opportunistic small-chunk
	// merges.
	SmallChunkRows int64

	// RetireGrace is how long retired chunks stay on disk so in-flight
	// readers can finish before garbage collection.
	RetireGrace time.Duration

	// CheckInterval is how often the daemon scans for merge candidates.
	CheckInterval time.Duration
}

// DefaultDaemonConfig returns the default merge daemon configuration.
func DefaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		MaxChunksPerTable: DefaultMaxChunksPerTable,
		SmallChunkRows:    DefaultSmallChunkRows,
		RetireGrace:       time.Hour,
		CheckInterval:     time.Minute,
	}
}

// Daemon runs background merges: it scans the catalog for tables with too
// many or too small live chunks, k-way merges each group into one chunk,
// and garbage-collects retired chunks after the grace period.
type Daemon struct {
	config  DaemonConfig
	catalog *catalog.Catalog
	store   *chunk.Store
	engine  *Engine
	finder  *CandidateFinder
	gc      *GarbageCollector

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDaemon creates a merge daemon over the given catalog and chunk store.
func NewDaemon(config DaemonConfig, cat *catalog.Catalog, store *chunk.Store) *Daemon {
	return &Daemon{
		config:  config,
		catalog: cat,
		store:   store,
		engine:  NewEngine(store),
		finder:  NewCandidateFinder(cat, config.MaxChunksPerTable, config.SmallChunkRows),
		gc:      NewGarbageCollector(cat, store, config.RetireGrace),
	}
}

// Start begins the merge loop. It runs until the context is cancelled or
// Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("merge: daemon is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.run(ctx)
	return nil
}

// Stop gracefully stops the daemon, waiting for the current cycle.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}
	d.cancel()
	<-d.done
	d.running = false
	return nil
}

func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)

	// Run immediately on start
	d.runOnce(ctx)

	ticker := time.NewTicker(d.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runOnce(ctx)
		}
	}
}

// runOnce performs a single cycle: find candidates, merge each group, then
// garbage-collect.
func (d *Daemon) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	groups, err := d.finder.FindCandidates(ctx)
	if err != nil {
		log.Printf("merge: failed to find candidates: %v", err)
		return
	}

	for _, group := range groups {
		if ctx.Err() != nil {
			return
		}
		if err := d.mergeGroup(ctx, group); err != nil {
			log.Printf("merge: failed to merge table %s: %v", group.Table, err)
			// Continue with other tables; inputs are untouched on failure.
		}
	}

	if ctx.Err() != nil {
		return
	}
	if err := d.gc.CollectGarbage(ctx); err != nil {
		log.Printf("merge: garbage collection failed: %v", err)
	}
}

// mergeGroup merges one candidate group and publishes the replacement in
// the catalog. The output chunk is written and fsynced before the catalog
// transaction; losing the replace race leaves the output as an orphan
// directory for the sweeper.
func (d *Daemon) mergeGroup(ctx context.Context, group *CandidateGroup) error {
	log.Printf("merge: starting merge for table=%s, chunks=%d, reason=%s",
		group.Table, len(group.Chunks), group.Reason)

	schema, version, err := d.catalog.Table(ctx, group.Table)
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}

	ids := make([]types.ChunkID, len(group.Chunks))
	for i, rec := range group.Chunks {
		ids[i] = rec.ID
	}

	outID, err := d.engine.Merge(ctx, schema, ids)
	if err != nil {
		return fmt.Errorf("merge failed: %w", err)
	}

	out, err := d.store.OpenChunk(outID, schema)
	if err != nil {
		return fmt.Errorf("failed to reopen merge output: %w", err)
	}

	if err := d.catalog.ReplaceChunks(ctx, group.Table, ids, outID, out.NumRows(), version); err != nil {
		// Leave the output directory in place; it is unreferenced and the
		// orphan sweep reclaims it.
		return fmt.Errorf("failed to replace chunks: %w", err)
	}

	log.Printf("merge: completed for table=%s, merged %d chunks into %s (%d rows)",
		group.Table, len(group.Chunks), outID, out.NumRows())
	return nil
}

// TriggerMerge merges one table's live chunks immediately, regardless of
// thresholds. At least two live chunks are required.
func (d *Daemon) TriggerMerge(ctx context.Context, table string) error {
	live, err := d.catalog.LiveChunks(ctx, table)
	if err != nil {
		return fmt.Errorf("merge: failed to list live chunks: %w", err)
	}
	if len(live) < 2 {
		return fmt.Errorf("merge: table %s has %d live chunks, nothing to merge", table, len(live))
	}
	return d.mergeGroup(ctx, &CandidateGroup{Table: table, Chunks: live, Reason: ReasonTooManyChunks})
}

// RunOnce performs a single merge cycle (useful for testing).
func (d *Daemon) RunOnce(ctx context.Context) {
	d.runOnce(ctx)
}
