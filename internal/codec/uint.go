package codec

import (
	"io"

	"github.com/tesseradb/tessera/internal/errors"
	"github.com/tesseradb/tessera/pkg/types"
)

// Uint columns store a global min/max in the header and write each run's
// value as a fixed-width offset from min, at the minimal byte width that
// covers the range. Int columns share the machinery: the offset from the
// signed minimum is non-negative, so it encodes identically.
//
// Layout: magic, uvarint nRows, uvarint nRuns, min u64, max u64,
// width byte, then nRuns of (uvarint run length, fixed-width value-min).
func encodeUint(values []types.Value) []byte {
	vals := make([]uint64, len(values))
	for i, v := range values {
		vals[i] = v.U
	}
	return encodeFixedWidth(magicUint, vals)
}

func encodeInt(values []types.Value) []byte {
	vals := make([]uint64, len(values))
	for i, v := range values {
		vals[i] = uint64(v.I)
	}
	return encodeFixedWidthSigned(magicInt, vals)
}

func encodeFixedWidth(magic [8]byte, vals []uint64) []byte {
	var min, max uint64
	if len(vals) > 0 {
		min, max = vals[0], vals[0]
		for _, v := range vals {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}
	return encodeRuns(magic, vals, min, max)
}

func encodeFixedWidthSigned(magic [8]byte, vals []uint64) []byte {
	var min, max int64
	if len(vals) > 0 {
		min, max = int64(vals[0]), int64(vals[0])
		for _, v := range vals {
			if int64(v) < min {
				min = int64(v)
			}
			if int64(v) > max {
				max = int64(v)
			}
		}
	}
	return encodeRuns(magic, vals, uint64(min), uint64(max))
}

// encodeRuns writes the shared fixed-width layout. min and max are raw bit
// patterns; max-min is a valid unsigned span for both interpretations.
func encodeRuns(magic [8]byte, vals []uint64, min, max uint64) []byte {
	runs := runLength(vals)
	width := widthFor(max - min)

	buf := append([]byte(nil), magic[:]...)
	buf = appendUvarint(buf, uint64(len(vals)))
	buf = appendUvarint(buf, uint64(len(runs)))
	buf = appendFixed(buf, min, 8)
	buf = appendFixed(buf, max, 8)
	buf = append(buf, byte(width))
	for _, r := range runs {
		buf = appendUvarint(buf, r.count)
		buf = appendFixed(buf, r.value-min, width)
	}
	return buf
}

type uintCursor struct {
	r         byteReader
	signed    bool
	nRows     uint64
	nRuns     uint64
	min       uint64
	max       uint64
	width     int
	row       uint64
	runsRead  uint64
	cur       uint64
	remaining uint64
}

func openUint(data []byte) (*uintCursor, error) {
	return openFixedWidth(magicUint, data, false)
}

func openInt(data []byte) (*uintCursor, error) {
	return openFixedWidth(magicInt, data, true)
}

func openFixedWidth(magic [8]byte, data []byte, signed bool) (*uintCursor, error) {
	c := &uintCursor{r: byteReader{buf: data}, signed: signed}
	if err := c.r.magic(magic); err != nil {
		return nil, err
	}
	var err error
	if c.nRows, err = c.r.uvarint(); err != nil {
		return nil, err
	}
	if c.nRuns, err = c.r.uvarint(); err != nil {
		return nil, err
	}
	if c.min, err = c.r.u64(); err != nil {
		return nil, err
	}
	if c.max, err = c.r.u64(); err != nil {
		return nil, err
	}
	w, err := c.r.byte()
	if err != nil {
		return nil, err
	}
	c.width = int(w)
	if c.width != widthFor(c.max-c.min) {
		return nil, errors.NewCorruptColumn("value width disagrees with min/max header", nil)
	}
	return c, nil
}

func (c *uintCursor) value(raw uint64) types.Value {
	if c.signed {
		return types.Int(int64(raw))
	}
	return types.Uint(raw)
}

func (c *uintCursor) nextRun() error {
	if c.runsRead == c.nRuns {
		return errors.NewCorruptColumn("run lengths underrun row count", nil)
	}
	n, err := c.r.uvarint()
	if err != nil {
		return err
	}
	if n == 0 || c.row+n > c.nRows {
		return errors.NewCorruptColumn("run length overruns row count", nil)
	}
	delta, err := c.r.fixed(c.width)
	if err != nil {
		return err
	}
	c.runsRead++
	c.cur = c.min + delta
	c.remaining = n
	return nil
}

func (c *uintCursor) Next() (types.Value, error) {
	if c.row == c.nRows {
		return types.Value{}, io.EOF
	}
	if c.remaining == 0 {
		if err := c.nextRun(); err != nil {
			return types.Value{}, err
		}
	}
	c.remaining--
	c.row++
	return c.value(c.cur), nil
}

func (c *uintCursor) AdvanceTo(row uint64) error {
	if row > c.nRows {
		return errors.NewCorruptColumn("advance past end of column", nil)
	}
	if row < c.row {
		return errors.NewCorruptColumn("cursor is forward-only", nil)
	}
	for c.row+c.remaining <= row && c.row+c.remaining < c.nRows {
		c.row += c.remaining
		c.remaining = 0
		if err := c.nextRun(); err != nil {
			return err
		}
	}
	skip := row - c.row
	c.remaining -= skip
	c.row = row
	return nil
}

func (c *uintCursor) Row() uint64     { return c.row }
func (c *uintCursor) NumRows() uint64 { return c.nRows }

func (c *uintCursor) Min() types.Value { return c.value(c.min) }
func (c *uintCursor) Max() types.Value { return c.value(c.max) }
