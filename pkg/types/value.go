// Package types provides the core data model for Tessera: column kinds,
// merge rules, values, rows and table schemas.
package types

import (
	"bytes"
	"fmt"
)

// Kind identifies the runtime representation of a column's values.
type Kind uint8

const (
	// KindBool is a boolean column, stored as run boundaries only.
	KindBool Kind = iota

	// KindUint is an unsigned 64-bit integer column, stored at the minimal
	// fixed byte width covering the column's value range.
	KindUint

	// KindInt is a signed 64-bit integer column. Used by sign-style counters
	// such as the DeleteOneRow rule.
	KindInt

	// KindBytes is a byte-string column, stored shared-prefix + run-length.
	KindBytes
)

// Tag returns the short kind tag used in column file names.
func (k Kind) Tag() string {
	switch k {
	case KindBool:
		return "bool"
	case KindUint:
		return "uint"
	case KindInt:
		return "int"
	case KindBytes:
		return "bytes"
	}
	return "unknown"
}

// KindFromTag parses a kind tag produced by Tag.
func KindFromTag(tag string) (Kind, bool) {
	switch tag {
	case "bool":
		return KindBool, true
	case "uint":
		return KindUint, true
	case "int":
		return KindInt, true
	case "bytes":
		return KindBytes, true
	}
	return 0, false
}

// Mark is the tombstone state carried by values of Deletable columns.
type Mark uint8

const (
	// MarkNone means the value is live.
	MarkNone Mark = iota

	// MarkDeleted is a single-value tombstone.
	MarkDeleted

	// MarkRangeStart opens a range tombstone on a Deletable sort column.
	MarkRangeStart

	// MarkRangeEnd closes a range tombstone opened by MarkRangeStart.
	MarkRangeEnd
)

// Value is a tagged union over the supported column representations, plus
// the deletion marks available on Deletable columns. Exactly one payload
// field is meaningful for a given Kind.
type Value struct {
	Kind Kind
	Mark Mark
	B    bool
	U    uint64
	I    int64
	Y    []byte
}

// Bool returns a live boolean value.
func Bool(b bool) Value { return Value{Kind: KindBool, B: b} }

// Uint returns a live unsigned integer value.
func Uint(u uint64) Value { return Value{Kind: KindUint, U: u} }

// Int returns a live signed integer value.
func Int(i int64) Value { return Value{Kind: KindInt, I: i} }

// Bytes returns a live byte-string value.
func Bytes(b []byte) Value { return Value{Kind: KindBytes, Y: b} }

// Deleted returns a single-value tombstone of the given kind.
func Deleted(k Kind) Value { return Value{Kind: k, Mark: MarkDeleted} }

// RangeStart returns a range-tombstone opening marker carrying the given key
// payload. Only meaningful on a Deletable sort column.
func RangeStart(v Value) Value {
	v.Mark = MarkRangeStart
	return v
}

// RangeEnd returns a range-tombstone closing marker carrying the given key
// payload. Only meaningful on a Deletable sort column.
func RangeEnd(v Value) Value {
	v.Mark = MarkRangeEnd
	return v
}

// markRank orders tombstone markers against plain values at an equal key:
// a range start sorts before the rows it covers, a range end after them.
func markRank(m Mark) int {
	switch m {
	case MarkRangeStart:
		return 0
	case MarkRangeEnd:
		return 2
	default:
		return 1
	}
}

// Compare orders two values of the same kind. Payloads compare first; at an
// equal payload, range markers order start < plain < end so that marker rows
// bracket the keys they cover in the canonical sort.
func (v Value) Compare(o Value) int {
	if c := v.comparePayload(o); c != 0 {
		return c
	}
	return markRank(v.Mark) - markRank(o.Mark)
}

func (v Value) comparePayload(o Value) int {
	switch v.Kind {
	case KindBool:
		if v.B == o.B {
			return 0
		}
		if !v.B {
			return -1
		}
		return 1
	case KindUint:
		switch {
		case v.U < o.U:
			return -1
		case v.U > o.U:
			return 1
		}
		return 0
	case KindInt:
		switch {
		case v.I < o.I:
			return -1
		case v.I > o.I:
			return 1
		}
		return 0
	case KindBytes:
		return bytes.Compare(v.Y, o.Y)
	}
	return 0
}

// Equal reports whether two values have the same kind, mark and payload.
func (v Value) Equal(o Value) bool {
	return v.Kind == o.Kind && v.Mark == o.Mark && v.comparePayload(o) == 0
}

// IsTombstone reports whether the value carries any deletion mark.
func (v Value) IsTombstone() bool { return v.Mark != MarkNone }

// String renders a value for logs and error messages.
func (v Value) String() string {
	switch v.Mark {
	case MarkDeleted:
		return "<deleted>"
	case MarkRangeStart:
		return fmt.Sprintf("<range-start %s>", Value{Kind: v.Kind, B: v.B, U: v.U, I: v.I, Y: v.Y})
	case MarkRangeEnd:
		return fmt.Sprintf("<range-end %s>", Value{Kind: v.Kind, B: v.B, U: v.U, I: v.I, Y: v.Y})
	}
	switch v.Kind {
	case KindBool:
		return fmt.Sprintf("%v", v.B)
	case KindUint:
		return fmt.Sprintf("%d", v.U)
	case KindInt:
		return fmt.Sprintf("%+d", v.I)
	case KindBytes:
		return fmt.Sprintf("%q", v.Y)
	}
	return "<invalid>"
}

// Row is an ordered tuple of values, one per schema column, in
// schema-declared column order.
type Row []Value

// Clone returns a deep copy of the row. Byte payloads are copied so the
// clone stays valid after the source iterator reuses its buffers.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	for i, v := range r {
		if v.Y != nil {
			out[i].Y = append([]byte(nil), v.Y...)
		}
	}
	return out
}
