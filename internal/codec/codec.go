// Package codec encodes and decodes single columns to and from byte
// streams. Every encoding is run-length based: a column file is a magic
// header followed by runs of identical values, so cursors can skip whole
// runs without materializing the skipped rows.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/tesseradb/tessera/internal/errors"
	"github.com/tesseradb/tessera/pkg/types"
)

// Column file magics, one per encoding.
var (
	magicBool      = [8]byte{'T', 'S', 'R', 'B', 'O', 'O', 'L', '1'}
	magicUint      = [8]byte{'T', 'S', 'R', 'U', 'I', 'N', 'T', '1'}
	magicInt       = [8]byte{'T', 'S', 'R', 'S', 'I', 'N', 'T', '1'}
	magicBytes     = [8]byte{'T', 'S', 'R', 'B', 'Y', 'T', 'S', '1'}
	magicDeletable = [8]byte{'T', 'S', 'R', 'D', 'E', 'L', 'T', '1'}
)

// Cursor is a forward-only reader over one column. Next returns values in
// row order and io.EOF past the last row. AdvanceTo skips to an absolute
// row offset without materializing skipped values.
type Cursor interface {
	Next() (types.Value, error)
	AdvanceTo(row uint64) error
	Row() uint64
	NumRows() uint64
}

// Stats exposes the min/max recorded in a column header. Bool and
// deletable columns do not implement it.
type Stats interface {
	Min() types.Value
	Max() types.Value
}

// Encode serializes a column of values according to its descriptor.
// Returns UnsupportedValue if a value does not match the declared kind, or
// carries a deletion mark on a non-deletable column.
func Encode(desc types.ColumnDesc, values []types.Value) ([]byte, error) {
	for i, v := range values {
		if v.Kind != desc.Kind {
			return nil, errors.NewUnsupportedValue(fmt.Sprintf(
				"column %q: row %d has kind %s, want %s", desc.Name, i, v.Kind.Tag(), desc.Kind.Tag()))
		}
		if v.Mark != types.MarkNone && !desc.Deletable {
			return nil, errors.NewUnsupportedValue(fmt.Sprintf(
				"column %q: row %d carries a tombstone on a non-deletable column", desc.Name, i))
		}
	}
	if desc.Deletable {
		return encodeDeletable(desc, values)
	}
	return encodePlain(desc.Kind, values)
}

func encodePlain(kind types.Kind, values []types.Value) ([]byte, error) {
	switch kind {
	case types.KindBool:
		return encodeBool(values), nil
	case types.KindUint:
		return encodeUint(values), nil
	case types.KindInt:
		return encodeInt(values), nil
	case types.KindBytes:
		return encodeBytes(values), nil
	}
	return nil, errors.NewUnsupportedValue(fmt.Sprintf("unknown column kind %d", kind))
}

// OpenCursor validates the magic against the descriptor and returns a
// cursor positioned at row zero.
func OpenCursor(desc types.ColumnDesc, data []byte) (Cursor, error) {
	if desc.Deletable {
		return openDeletable(desc, data)
	}
	return openPlain(desc.Kind, data)
}

func openPlain(kind types.Kind, data []byte) (Cursor, error) {
	switch kind {
	case types.KindBool:
		return openBool(data)
	case types.KindUint:
		return openUint(data)
	case types.KindInt:
		return openInt(data)
	case types.KindBytes:
		return openBytes(data)
	}
	return nil, errors.NewCorruptColumn(fmt.Sprintf("unknown column kind %d", kind), nil)
}

// run is one run-length group: count repetitions of a value.
type run[T any] struct {
	value T
	count uint64
}

// runLength groups consecutive equal elements.
func runLength[T comparable](elems []T) []run[T] {
	var out []run[T]
	for _, v := range elems {
		if n := len(out); n > 0 && out[n-1].value == v {
			out[n-1].count++
			continue
		}
		out = append(out, run[T]{value: v, count: 1})
	}
	return out
}

// byteReader walks an encoded column buffer. All read failures surface as
// CorruptColumn: a well-formed header never runs past its payload.
type byteReader struct {
	buf []byte
	off int
}

func (r *byteReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		return 0, errors.NewCorruptColumn("truncated varint", nil)
	}
	r.off += n
	return v, nil
}

func (r *byteReader) byte() (byte, error) {
	if r.off >= len(r.buf) {
		return 0, errors.NewCorruptColumn("unexpected end of column", nil)
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *byteReader) u64() (uint64, error) {
	if r.off+8 > len(r.buf) {
		return 0, errors.NewCorruptColumn("unexpected end of column", nil)
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

// fixed reads a big-endian unsigned integer of the given byte width.
func (r *byteReader) fixed(width int) (uint64, error) {
	if r.off+width > len(r.buf) {
		return 0, errors.NewCorruptColumn("unexpected end of column", nil)
	}
	var v uint64
	for i := 0; i < width; i++ {
		v = v<<8 | uint64(r.buf[r.off+i])
	}
	r.off += width
	return v, nil
}

func (r *byteReader) bytes(n uint64) ([]byte, error) {
	if uint64(r.off)+n > uint64(len(r.buf)) {
		return nil, errors.NewCorruptColumn("unexpected end of column", nil)
	}
	b := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}

func (r *byteReader) magic(want [8]byte) error {
	b, err := r.bytes(8)
	if err != nil {
		return err
	}
	for i := range want {
		if b[i] != want[i] {
			return errors.NewCorruptColumn(fmt.Sprintf("bad magic %q", b), nil)
		}
	}
	return nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	return binary.AppendUvarint(buf, v)
}

func appendFixed(buf []byte, v uint64, width int) []byte {
	for i := width - 1; i >= 0; i-- {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}

// widthFor returns the minimal byte width covering an unsigned range.
func widthFor(span uint64) int {
	switch {
	case span == 0:
		return 0
	case span <= 0xFF:
		return 1
	case span <= 0xFFFF:
		return 2
	case span <= 0xFFFFFFFF:
		return 4
	default:
		return 8
	}
}
