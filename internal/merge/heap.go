package merge

import (
	"container/heap"

	"github.com/tesseradb/tessera/internal/rowio"
	"github.com/tesseradb/tessera/pkg/types"
)

// source is one input chunk's row stream with its current head row.
type source struct {
	id   types.ChunkID
	iter rowio.Iterator
	head types.Row
}

// advance pulls the next head row. Returns false when the source is drained.
func (s *source) advance() (bool, error) {
	row, ok, err := s.iter.Next()
	if err != nil || !ok {
		s.head = nil
		return false, err
	}
	s.head = row.Clone()
	return true, nil
}

// sourceHeap is a min-heap over sources keyed by the schema comparator on
// the head rows. Equal keys break ties by chunk ID descending, so the most
// recently created chunk's row surfaces first. The fold rules rely on this
// deterministic recency order.
type sourceHeap struct {
	schema  *types.TableSchema
	sources []*source
}

func (h *sourceHeap) Len() int { return len(h.sources) }

func (h *sourceHeap) Less(i, j int) bool {
	a, b := h.sources[i], h.sources[j]
	if c := h.schema.CompareRows(a.head, b.head); c != 0 {
		return c < 0
	}
	return a.id.Compare(b.id) > 0
}

func (h *sourceHeap) Swap(i, j int) {
	h.sources[i], h.sources[j] = h.sources[j], h.sources[i]
}

func (h *sourceHeap) Push(x any) {
	h.sources = append(h.sources, x.(*source))
}

func (h *sourceHeap) Pop() any {
	old := h.sources
	n := len(old)
	s := old[n-1]
	h.sources = old[:n-1]
	return s
}

func (h *sourceHeap) peek() *source {
	if len(h.sources) == 0 {
		return nil
	}
	return h.sources[0]
}

func (h *sourceHeap) init()          { heap.Init(h) }
func (h *sourceHeap) push(s *source) { heap.Push(h, s) }
func (h *sourceHeap) pop() *source   { return heap.Pop(h).(*source) }
