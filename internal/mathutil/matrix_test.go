package mathutil

import (
	"math"
	"testing"
)

func TestNewMat(t *testing.T) {
	m := NewMat(3, 4)
	if len(m) != 3 {
		t.Fatalf("rows = %d, want 3", len(m))
	}
	for i, row := range m {
		if len(row) != 4 {
			t.Fatalf("row %d cols = %d, want 4", i, len(row))
		}
	}
}

func TestNewMatFill(t *testing.T) {
	m := NewMatFill(2, 3, 1.5)
	for i, row := range m {
		for j, v := range row {
			if v != 1.5 {
				t.Errorf("m[%d][%d] = %f, want 1.5", i, j, v)
			}
		}
	}
}

func TestArgmax(t *testing.T) {
	if got := Argmax(Vec{0.1, 0.7, 0.2}); got != 1 {
		t.Errorf("Argmax = %d, want 1", got)
	}
	if got := Argmax(Vec{0.5, 0.5}); got != 0 {
		t.Errorf("Argmax tie = %d, want 0", got)
	}
	if got := Argmax(nil); got != -1 {
		t.Errorf("Argmax(nil) = %d, want -1", got)
	}
}

func TestSoftmaxInPlace(t *testing.T) {
	v := Vec{1, 2, 3, 1000}
	SoftmaxInPlace(v)
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("softmax sums to %f", sum)
	}
	if v[3] < 0.999 {
		t.Errorf("dominant logit got %f", v[3])
	}
}

func TestMeanStd(t *testing.T) {
	mean, std := MeanStd(Vec{2, 4, 4, 4, 5, 5, 7, 9})
	if mean != 5 || std != 2 {
		t.Errorf("MeanStd = (%f, %f), want (5, 2)", mean, std)
	}
	mean, std = MeanStd(nil)
	if mean != 0 || std != 0 {
		t.Errorf("MeanStd(nil) = (%f, %f)", mean, std)
	}
}
