package types

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync"
	"time"
)

// ChunkID identifies one immutable chunk. It is a 128-bit time-ordered
// identifier (48-bit millisecond timestamp + 80-bit random), so chunk IDs
// sort by creation time. The merge engine relies on that ordering as its
// deterministic recency tie-break.
type ChunkID [16]byte

// Crockford Base32 alphabet (no I, L, O, U).
const chunkIDAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var (
	// ErrInvalidChunkID is returned when a chunk ID string or byte slice
	// cannot be parsed.
	ErrInvalidChunkID = errors.New("invalid chunk id")
)

// ChunkIDGenerator produces fresh chunk IDs, monotonic within a millisecond
// so two chunks published back-to-back still order by creation.
type ChunkIDGenerator struct {
	mu       sync.Mutex
	lastMs   uint64
	lastRand [10]byte
}

// NewChunkIDGenerator returns a generator seeded from crypto/rand.
func NewChunkIDGenerator() *ChunkIDGenerator {
	return &ChunkIDGenerator{}
}

// Next returns a fresh chunk ID for the current wall clock.
func (g *ChunkIDGenerator) Next() (ChunkID, error) {
	return g.NextAt(time.Now())
}

// NextAt returns a fresh chunk ID for the given time. IDs produced within
// the same millisecond increment the random component to stay monotonic.
func (g *ChunkIDGenerator) NextAt(t time.Time) (ChunkID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := uint64(t.UnixMilli())
	if ms == g.lastMs {
		for i := 9; i >= 0; i-- {
			g.lastRand[i]++
			if g.lastRand[i] != 0 {
				break
			}
		}
	} else {
		if _, err := rand.Read(g.lastRand[:]); err != nil {
			return ChunkID{}, err
		}
		g.lastMs = ms
	}

	var id ChunkID
	id[0] = byte(ms >> 40)
	id[1] = byte(ms >> 32)
	id[2] = byte(ms >> 24)
	id[3] = byte(ms >> 16)
	id[4] = byte(ms >> 8)
	id[5] = byte(ms)
	copy(id[6:], g.lastRand[:])
	return id, nil
}

// Bytes returns the raw 16-byte identifier.
func (id ChunkID) Bytes() []byte { return id[:] }

// Millis returns the creation timestamp component in Unix milliseconds.
func (id ChunkID) Millis() uint64 {
	return uint64(id[0])<<40 | uint64(id[1])<<32 | uint64(id[2])<<24 |
		uint64(id[3])<<16 | uint64(id[4])<<8 | uint64(id[5])
}

// Time returns the creation timestamp component.
func (id ChunkID) Time() time.Time { return time.UnixMilli(int64(id.Millis())) }

// Compare orders chunk IDs lexicographically, which is creation-time order.
func (id ChunkID) Compare(other ChunkID) int {
	for i := 0; i < 16; i++ {
		if id[i] < other[i] {
			return -1
		}
		if id[i] > other[i] {
			return 1
		}
	}
	return 0
}

// String renders the ID as 26 Crockford Base32 characters. The string form
// sorts identically to the byte form and is safe in file names.
func (id ChunkID) String() string {
	hi := binary.BigEndian.Uint64(id[:8])
	lo := binary.BigEndian.Uint64(id[8:])
	var buf [26]byte
	for i := 25; i >= 0; i-- {
		buf[i] = chunkIDAlphabet[lo&31]
		lo = lo>>5 | hi<<59
		hi >>= 5
	}
	return string(buf[:])
}

// ParseChunkID parses the 26-character string form.
func ParseChunkID(s string) (ChunkID, error) {
	if len(s) != 26 {
		return ChunkID{}, ErrInvalidChunkID
	}
	// The top 2 of the 130 encoded bits must be zero.
	if s[0] > '7' {
		return ChunkID{}, ErrInvalidChunkID
	}
	var hi, lo uint64
	for i := 0; i < 26; i++ {
		d := decodeChunkIDChar(s[i])
		if d == 0xFF {
			return ChunkID{}, ErrInvalidChunkID
		}
		hi = hi<<5 | lo>>59
		lo = lo<<5 | uint64(d)
	}
	var id ChunkID
	binary.BigEndian.PutUint64(id[:8], hi)
	binary.BigEndian.PutUint64(id[8:], lo)
	return id, nil
}

// ChunkIDFromBytes builds a ChunkID from a raw 16-byte slice.
func ChunkIDFromBytes(b []byte) (ChunkID, error) {
	if len(b) != 16 {
		return ChunkID{}, ErrInvalidChunkID
	}
	var id ChunkID
	copy(id[:], b)
	return id, nil
}

func decodeChunkIDChar(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'H':
		return c - 'A' + 10
	case c == 'J' || c == 'K':
		return c - 'J' + 18
	case c == 'M' || c == 'N':
		return c - 'M' + 20
	case c >= 'P' && c <= 'T':
		return c - 'P' + 22
	case c >= 'V' && c <= 'Z':
		return c - 'V' + 27
	case c >= 'a' && c <= 'h':
		return c - 'a' + 10
	case c == 'j' || c == 'k':
		return c - 'j' + 18
	case c == 'm' || c == 'n':
		return c - 'm' + 20
	case c >= 'p' && c <= 't':
		return c - 'p' + 22
	case c >= 'v' && c <= 'z':
		return c - 'v' + 27
	default:
		return 0xFF
	}
}
