package bloom

import (
	"fmt"
	"testing"
)

func TestNoFalseNegatives(t *testing.T) {
	f := NewWithEstimates(1000, 0.01)
	for i := 0; i < 1000; i++ {
		f.Add([]byte(fmt.Sprintf("key-%d", i)))
	}
	if f.Count() != 1000 {
		t.Errorf("Count() = %d, want 1000", f.Count())
	}
	for i := 0; i < 1000; i++ {
		if !f.Contains([]byte(fmt.Sprintf("key-%d", i))) {
			t.Fatalf("false negative for key-%d", i)
		}
	}
}

func TestFalsePositiveRate(t *testing.T) {
	f := NewWithEstimates(1000, 0.01)
	for i := 0; i < 1000; i++ {
		f.Add([]byte(fmt.Sprintf("key-%d", i)))
	}
	falsePositives := 0
	probes := 10000
	for i := 0; i < probes; i++ {
		if f.Contains([]byte(fmt.Sprintf("absent-%d", i))) {
			falsePositives++
		}
	}
	// Sized for 1%; allow generous slack to keep the test deterministic.
	if rate := float64(falsePositives) / float64(probes); rate > 0.05 {
		t.Errorf("false positive rate %.4f exceeds 0.05", rate)
	}
}

func TestNewClampsDegenerateGeometry(t *testing.T) {
	f := New(0, 0)
	f.Add([]byte("x"))
	if !f.Contains([]byte("x")) {
		t.Error("clamped filter lost an item")
	}

	f = NewWithEstimates(-1, 2.0)
	f.Add([]byte("y"))
	if !f.Contains([]byte("y")) {
		t.Error("clamped estimate filter lost an item")
	}
}

func TestEmptyFilterContainsNothing(t *testing.T) {
	f := NewWithEstimates(100, 0.01)
	for i := 0; i < 100; i++ {
		if f.Contains([]byte(fmt.Sprintf("key-%d", i))) {
			t.Fatalf("empty filter claims to contain key-%d", i)
		}
	}
}
