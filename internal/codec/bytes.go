package codec

import (
	"bytes"
	"io"

	"github.com/tesseradb/tessera/internal/errors"
	"github.com/tesseradb/tessera/pkg/types"
)

// Bytes columns store, per run, the length of the prefix shared with the
// previous run's value, the remaining suffix bytes, and a run length for
// exact repeats. The header records the column's min and max values.
//
// Layout: magic, uvarint nRows, uvarint nRuns, len-prefixed min value,
// len-prefixed max value, then nRuns of (uvarint run length, uvarint shared
// prefix, uvarint suffix length, suffix bytes).
func encodeBytes(values []types.Value) []byte {
	vals := make([]string, len(values))
	for i, v := range values {
		vals[i] = string(v.Y)
	}
	runs := runLength(vals)

	var min, max string
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

	buf := append([]byte(nil), magicBytes[:]...)
	buf = appendUvarint(buf, uint64(len(vals)))
	buf = appendUvarint(buf, uint64(len(runs)))
	buf = appendUvarint(buf, uint64(len(min)))
	buf = append(buf, min...)
	buf = appendUvarint(buf, uint64(len(max)))
	buf = append(buf, max...)

	prev := ""
	for _, r := range runs {
		shared := sharedPrefix(prev, r.value)
		buf = appendUvarint(buf, r.count)
		buf = appendUvarint(buf, uint64(shared))
		buf = appendUvarint(buf, uint64(len(r.value)-shared))
		buf = append(buf, r.value[shared:]...)
		prev = r.value
	}
	return buf
}

func sharedPrefix(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

type bytesCursor struct {
	r         byteReader
	nRows     uint64
	nRuns     uint64
	min       []byte
	max       []byte
	row       uint64
	runsRead  uint64
	cur       []byte
	remaining uint64
}

func openBytes(data []byte) (*bytesCursor, error) {
	c := &bytesCursor{r: byteReader{buf: data}}
	if err := c.r.magic(magicBytes); err != nil {
		return nil, err
	}
	var err error
	if c.nRows, err = c.r.uvarint(); err != nil {
		return nil, err
	}
	if c.nRuns, err = c.r.uvarint(); err != nil {
		return nil, err
	}
	if c.min, err = c.readValue(); err != nil {
		return nil, err
	}
	if c.max, err = c.readValue(); err != nil {
		return nil, err
	}
	if bytes.Compare(c.min, c.max) > 0 {
		return nil, errors.NewCorruptColumn("min exceeds max in bytes header", nil)
	}
	return c, nil
}

func (c *bytesCursor) readValue() ([]byte, error) {
	n, err := c.r.uvarint()
	if err != nil {
		return nil, err
	}
	b, err := c.r.bytes(n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

func (c *bytesCursor) nextRun() error {
	if c.runsRead == c.nRuns {
		return errors.NewCorruptColumn("bytes run lengths underrun row count", nil)
	}
	n, err := c.r.uvarint()
	if err != nil {
		return err
	}
	if n == 0 || c.row+n > c.nRows {
		return errors.NewCorruptColumn("bytes run length overruns row count", nil)
	}
	shared, err := c.r.uvarint()
	if err != nil {
		return err
	}
	if shared > uint64(len(c.cur)) {
		return errors.NewCorruptColumn("shared prefix longer than previous value", nil)
	}
	suffixLen, err := c.r.uvarint()
	if err != nil {
		return err
	}
	suffix, err := c.r.bytes(suffixLen)
	if err != nil {
		return err
	}
	next := make([]byte, 0, shared+suffixLen)
	next = append(next, c.cur[:shared]...)
	next = append(next, suffix...)
	c.runsRead++
	c.cur = next
	c.remaining = n
	return nil
}

func (c *bytesCursor) Next() (types.Value, error) {
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
	return types.Bytes(c.cur), nil
}

func (c *bytesCursor) AdvanceTo(row uint64) error {
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

func (c *bytesCursor) Row() uint64     { return c.row }
func (c *bytesCursor) NumRows() uint64 { return c.nRows }

func (c *bytesCursor) Min() types.Value { return types.Bytes(c.min) }
func (c *bytesCursor) Max() types.Value { return types.Bytes(c.max) }
