package types

import (
	"testing"
)

func TestValueCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want int
	}{
		{"bool false < true", Bool(false), Bool(true), -1},
		{"bool equal", Bool(true), Bool(true), 0},
		{"uint less", Uint(1), Uint(2), -1},
		{"uint greater", Uint(9), Uint(2), 1},
		{"int negative < positive", Int(-5), Int(3), -1},
		{"int equal", Int(7), Int(7), 0},
		{"bytes prefix sorts first", Bytes([]byte("ab")), Bytes([]byte("abc")), -1},
		{"bytes equal", Bytes([]byte("x")), Bytes([]byte("x")), 0},
		{"range start before plain at equal key", RangeStart(Uint(5)), Uint(5), -1},
		{"plain before range end at equal key", Uint(5), RangeEnd(Uint(5)), -1},
		{"range start before range end", RangeStart(Uint(5)), RangeEnd(Uint(5)), -1},
		{"payload dominates marker rank", RangeEnd(Uint(4)), RangeStart(Uint(5)), -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.a.Compare(tt.b)
			if sign(got) != tt.want {
				t.Errorf("Compare(%s, %s) = %d, want sign %d", tt.a, tt.b, got, tt.want)
			}
			if back := tt.b.Compare(tt.a); sign(back) != -tt.want {
				t.Errorf("Compare(%s, %s) = %d, want sign %d", tt.b, tt.a, back, -tt.want)
			}
		})
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

func TestValueEqual(t *testing.T) {
	if !Uint(3).Equal(Uint(3)) {
		t.Error("equal uints should be Equal")
	}
	if Uint(3).Equal(Deleted(KindUint)) {
		t.Error("live value should not equal a tombstone")
	}
	if RangeStart(Uint(3)).Equal(RangeEnd(Uint(3))) {
		t.Error("start and end markers should not be Equal")
	}
}

func TestRowClone(t *testing.T) {
	row := Row{Uint(1), Bytes([]byte("abc"))}
	clone := row.Clone()

	row[1].Y[0] = 'z'
	if string(clone[1].Y) != "abc" {
		t.Errorf("clone shares byte payload with source: got %q", clone[1].Y)
	}

	clone[0] = Uint(9)
	if row[0].U != 1 {
		t.Error("clone shares value storage with source")
	}
}

func TestDeletedCarriesKind(t *testing.T) {
	v := Deleted(KindBytes)
	if v.Kind != KindBytes || v.Mark != MarkDeleted {
		t.Errorf("Deleted(KindBytes) = %+v", v)
	}
	if !v.IsTombstone() {
		t.Error("deleted value should be a tombstone")
	}
	if Uint(1).IsTombstone() {
		t.Error("live value should not be a tombstone")
	}
}

func TestKindTagRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindBool, KindUint, KindInt, KindBytes} {
		got, ok := KindFromTag(k.Tag())
		if !ok || got != k {
			t.Errorf("KindFromTag(%q) = %v, %v", k.Tag(), got, ok)
		}
	}
	if _, ok := KindFromTag("float"); ok {
		t.Error("unknown tag should not parse")
	}
}
