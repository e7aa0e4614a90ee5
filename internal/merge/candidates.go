package merge

import (
	"context"
	"fmt"

	"github.com/tesseradb/tessera/internal/catalog"
)

const (
	// DefaultMaxChunksPerTable is the live-chunk count above which a table
	// is merged regardless of chunk sizes.
	DefaultMaxChunksPerTable int64 = 16

	// DefaultSmallChunkRows is the row count below which a chunk is a merge
	// candidate even when the table's chunk count is healthy.
	DefaultSmallChunkRows int64 = 64 * 1024
)

// CandidateFinder identifies tables whose live chunks should be merged.
type CandidateFinder struct {
	catalog           *catalog.Catalog
	maxChunksPerTable int64
	smallChunkRows    int64
}

// NewCandidateFinder creates a merge candidate finder.
func NewCandidateFinder(cat *catalog.Catalog, maxChunksPerTable, smallChunkRows int64) *CandidateFinder {
	if maxChunksPerTable <= 0 {
		maxChunksPerTable = DefaultMaxChunksPerTable
	}
	if smallChunkRows <= 0 {
		smallChunkRows = DefaultSmallChunkRows
	}
	return &CandidateFinder{
		catalog:           cat,
		maxChunksPerTable: maxChunksPerTable,
		smallChunkRows:    smallChunkRows,
	}
}

// MergeReason describes why a table's chunks were selected.
type MergeReason string

const (
	// ReasonTooManyChunks indicates the table exceeded its live-chunk budget.
	ReasonTooManyChunks MergeReason = "too_many_chunks"

	// ReasonSmallChunks indicates at least two chunks are below the small-row
	// threshold and worth folding together.
	ReasonSmallChunks MergeReason = "small_chunks"
)

// CandidateGroup is one table's set of chunks to merge in a single pass.
type CandidateGroup struct {
	Table  string
	Chunks []*catalog.ChunkRecord
	Reason MergeReason
}

// FindCandidates scans every registered table and returns the groups worth
// merging. Each group contains at least two chunks.
func (f *CandidateFinder) FindCandidates(ctx context.Context) ([]*CandidateGroup, error) {
	tables, err := f.catalog.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("merge: failed to list tables: %w", err)
	}

	var groups []*CandidateGroup
	for _, table := range tables {
		group, err := f.findForTable(ctx, table)
		if err != nil {
			return nil, err
		}
		if group != nil {
			groups = append(groups, group)
		}
	}
	return groups, nil
}

// findForTable selects the table's merge group, if any. An over-budget
// table merges all of its live chunks; otherwise only the small ones are
// folded, and only when at least two exist.
func (f *CandidateFinder) findForTable(ctx context.Context, table string) (*CandidateGroup, error) {
	live, err := f.catalog.LiveChunks(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("merge: failed to list live chunks for %s: %w", table, err)
	}
	if len(live) < 2 {
		return nil, nil
	}

	if int64(len(live)) > f.maxChunksPerTable {
		return &CandidateGroup{Table: table, Chunks: live, Reason: ReasonTooManyChunks}, nil
	}

	var small []*catalog.ChunkRecord
	for _, rec := range live {
		if rec.RowCount < f.smallChunkRows {
			small = append(small, rec)
		}
	}
	if len(small) >= 2 {
		return &CandidateGroup{Table: table, Chunks: small, Reason: ReasonSmallChunks}, nil
	}
	return nil, nil
}
