package types

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_ChunkIDTimeOrdering checks that chunk IDs generated at a
// later time are lexicographically greater, and that IDs within the same
// millisecond stay monotonic.
func TestProperty_ChunkIDTimeOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("later time means greater id", prop.ForAll(
		func(t1Ms, t2Ms int64) bool {
			if t1Ms >= t2Ms {
				t1Ms, t2Ms = t2Ms, t1Ms+1
			}
			g := NewChunkIDGenerator()
			id1, err := g.NextAt(time.UnixMilli(t1Ms))
			if err != nil {
				return false
			}
			id2, err := g.NextAt(time.UnixMilli(t2Ms))
			if err != nil {
				return false
			}
			return id1.Compare(id2) < 0 && id1.String() < id2.String()
		},
		gen.Int64Range(1000000000000, 2000000000000),
		gen.Int64Range(1000000000000, 2000000000000),
	))

	properties.Property("ids within same millisecond are monotonic", prop.ForAll(
		func(timestampMs int64, count int) bool {
			g := NewChunkIDGenerator()
			ts := time.UnixMilli(timestampMs)
			var prev ChunkID
			for i := 0; i < count; i++ {
				curr, err := g.NextAt(ts)
				if err != nil {
					return false
				}
				if i > 0 && prev.Compare(curr) >= 0 {
					return false
				}
				prev = curr
			}
			return true
		},
		gen.Int64Range(1000000000000, 2000000000000),
		gen.IntRange(2, 100),
	))

	properties.Property("string form round trips", prop.ForAll(
		func(timestampMs int64) bool {
			g := NewChunkIDGenerator()
			id, err := g.NextAt(time.UnixMilli(timestampMs))
			if err != nil {
				return false
			}
			back, err := ParseChunkID(id.String())
			return err == nil && back == id && id.Millis() == uint64(timestampMs)
		},
		gen.Int64Range(0, 281474976710655), // max 48-bit value
	))

	properties.TestingRun(t)
}
