package codec

import (
	"io"

	"github.com/tesseradb/tessera/internal/errors"
	"github.com/tesseradb/tessera/pkg/types"
)

// Bool columns store only run boundaries: the header carries the value of
// the first run, and every subsequent run flips it. No per-row storage.
//
// Layout: magic, uvarint nRows, uvarint nRuns, first-value byte,
// then nRuns uvarint run lengths.
func encodeBool(values []types.Value) []byte {
	bools := make([]bool, len(values))
	for i, v := range values {
		bools[i] = v.B
	}
	runs := runLength(bools)

	buf := append([]byte(nil), magicBool[:]...)
	buf = appendUvarint(buf, uint64(len(values)))
	buf = appendUvarint(buf, uint64(len(runs)))
	first := byte(0)
	if len(runs) > 0 && runs[0].value {
		first = 1
	}
	buf = append(buf, first)
	for _, r := range runs {
		buf = appendUvarint(buf, r.count)
	}
	return buf
}

type boolCursor struct {
	r         byteReader
	nRows     uint64
	nRuns     uint64
	row       uint64
	runsRead  uint64
	cur       bool // value of the run being consumed
	remaining uint64
}

func openBool(data []byte) (*boolCursor, error) {
	c := &boolCursor{r: byteReader{buf: data}}
	if err := c.r.magic(magicBool); err != nil {
		return nil, err
	}
	var err error
	if c.nRows, err = c.r.uvarint(); err != nil {
		return nil, err
	}
	if c.nRuns, err = c.r.uvarint(); err != nil {
		return nil, err
	}
	first, err := c.r.byte()
	if err != nil {
		return nil, err
	}
	// cur flips on every run read, so prime it with the inverse.
	c.cur = first == 0
	return c, nil
}

func (c *boolCursor) nextRun() error {
	if c.runsRead == c.nRuns {
		return errors.NewCorruptColumn("bool run lengths underrun row count", nil)
	}
	n, err := c.r.uvarint()
	if err != nil {
		return err
	}
	if n == 0 || c.row+n > c.nRows {
		return errors.NewCorruptColumn("bool run length overruns row count", nil)
	}
	c.runsRead++
	c.cur = !c.cur
	c.remaining = n
	return nil
}

func (c *boolCursor) Next() (types.Value, error) {
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
	return types.Bool(c.cur), nil
}

func (c *boolCursor) AdvanceTo(row uint64) error {
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

func (c *boolCursor) Row() uint64     { return c.row }
func (c *boolCursor) NumRows() uint64 { return c.nRows }
