package codec

import (
	"fmt"
	"io"

	"github.com/tesseradb/tessera/internal/errors"
	"github.com/tesseradb/tessera/pkg/types"
)

// Deletable columns layer tombstone state over any plain encoding. The file
// carries a run-length mark substream for every row, followed by the inner
// encoding holding values only for rows that are not single-value
// tombstones (range markers carry their key payload and so keep a value).
// Storing the marks out of band avoids reserving sentinel payloads: every
// legitimate inner value stays representable.
//
// Layout: magic, uvarint nRows, inner-kind byte, uvarint mark-substream
// length, mark substream (uvarint nRuns, then (uvarint count, mark byte)
// pairs), inner column encoding of the kept values.
func encodeDeletable(desc types.ColumnDesc, values []types.Value) ([]byte, error) {
	marks := make([]byte, len(values))
	var live []types.Value
	for i, v := range values {
		marks[i] = byte(v.Mark)
		if v.Mark != types.MarkDeleted {
			plain := v
			plain.Mark = types.MarkNone
			live = append(live, plain)
		}
	}

	markRuns := runLength(marks)
	var markBuf []byte
	markBuf = appendUvarint(markBuf, uint64(len(markRuns)))
	for _, r := range markRuns {
		markBuf = appendUvarint(markBuf, r.count)
		markBuf = append(markBuf, r.value)
	}

	inner, err := encodePlain(desc.Kind, live)
	if err != nil {
		return nil, err
	}

	buf := append([]byte(nil), magicDeletable[:]...)
	buf = appendUvarint(buf, uint64(len(values)))
	buf = append(buf, byte(desc.Kind))
	buf = appendUvarint(buf, uint64(len(markBuf)))
	buf = append(buf, markBuf...)
	buf = append(buf, inner...)
	return buf, nil
}

type deletableCursor struct {
	kind  types.Kind
	inner Cursor

	nRows uint64
	row   uint64

	markRuns  byteReader
	nMarkRuns uint64
	runsRead  uint64
	curMark   types.Mark
	remaining uint64
}

func openDeletable(desc types.ColumnDesc, data []byte) (*deletableCursor, error) {
	r := byteReader{buf: data}
	if err := r.magic(magicDeletable); err != nil {
		return nil, err
	}
	nRows, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	kindByte, err := r.byte()
	if err != nil {
		return nil, err
	}
	if types.Kind(kindByte) != desc.Kind {
		return nil, errors.NewCorruptColumn(fmt.Sprintf(
			"deletable column holds kind %d, schema declares %s", kindByte, desc.Kind.Tag()), nil)
	}
	markLen, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	markBytes, err := r.bytes(markLen)
	if err != nil {
		return nil, err
	}

	c := &deletableCursor{
		kind:     desc.Kind,
		nRows:    nRows,
		markRuns: byteReader{buf: markBytes},
	}
	if c.nMarkRuns, err = c.markRuns.uvarint(); err != nil {
		return nil, err
	}
	if c.inner, err = openPlain(desc.Kind, data[r.off:]); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *deletableCursor) nextRun() error {
	if c.runsRead == c.nMarkRuns {
		return errors.NewCorruptColumn("mark runs underrun row count", nil)
	}
	n, err := c.markRuns.uvarint()
	if err != nil {
		return err
	}
	if n == 0 || c.row+n > c.nRows {
		return errors.NewCorruptColumn("mark run overruns row count", nil)
	}
	m, err := c.markRuns.byte()
	if err != nil {
		return err
	}
	if m > byte(types.MarkRangeEnd) {
		return errors.NewCorruptColumn("unknown tombstone mark", nil)
	}
	c.runsRead++
	c.curMark = types.Mark(m)
	c.remaining = n
	return nil
}

func (c *deletableCursor) Next() (types.Value, error) {
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
	if c.curMark == types.MarkDeleted {
		return types.Deleted(c.kind), nil
	}
	v, err := c.inner.Next()
	if err != nil {
		if err == io.EOF {
			return types.Value{}, errors.NewCorruptColumn("deletable value stream underrun", nil)
		}
		return types.Value{}, err
	}
	v.Mark = c.curMark
	return v, nil
}

func (c *deletableCursor) AdvanceTo(row uint64) error {
	if row > c.nRows {
		return errors.NewCorruptColumn("advance past end of column", nil)
	}
	if row < c.row {
		return errors.NewCorruptColumn("cursor is forward-only", nil)
	}
	// Walk mark runs, counting how many live values the inner cursor
	// must skip. Whole runs are skipped without materializing values.
	liveSkip := uint64(0)
	for c.row < row {
		if c.remaining == 0 {
			if err := c.nextRun(); err != nil {
				return err
			}
		}
		step := c.remaining
		if c.row+step > row {
			step = row - c.row
		}
		if c.curMark != types.MarkDeleted {
			liveSkip += step
		}
		c.remaining -= step
		c.row += step
	}
	if liveSkip > 0 {
		return c.inner.AdvanceTo(c.inner.Row() + liveSkip)
	}
	return nil
}

func (c *deletableCursor) Row() uint64     { return c.row }
func (c *deletableCursor) NumRows() uint64 { return c.nRows }
