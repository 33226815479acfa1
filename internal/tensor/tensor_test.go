package tensor

import (
	"reflect"
	"testing"
)

func TestNewF32ShapeMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for mismatched data length")
		}
	}()
	NewF32([]int{2, 3}, []float32{1, 2})
}

func TestRowsAndRowSize(t *testing.T) {
	tests := []struct {
		name    string
		shape   []int
		rows    int
		rowSize int
	}{
		{"matrix", []int{4, 8}, 4, 8},
		{"vector", []int{5}, 5, 1},
		{"cube", []int{2, 3, 4}, 2, 12},
		{"scalar", nil, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := ZerosF32(tt.shape)
			if got := tr.Rows(); got != tt.rows {
				t.Errorf("Rows() = %d, want %d", got, tt.rows)
			}
			if got := tr.RowSize(); got != tt.rowSize {
				t.Errorf("RowSize() = %d, want %d", got, tt.rowSize)
			}
		})
	}
}

func TestSliceRows(t *testing.T) {
	tr := NewI32([]int{3, 2}, []int32{1, 2, 3, 4, 5, 6})
	got := tr.SliceRows(1, 3)
	if !reflect.DeepEqual(got.Shape, []int{2, 2}) {
		t.Fatalf("shape = %v", got.Shape)
	}
	if !reflect.DeepEqual(got.I, []int32{3, 4, 5, 6}) {
		t.Errorf("data = %v", got.I)
	}
	// Slice is a copy, not a view
	got.I[0] = 99
	if tr.I[2] != 3 {
		t.Error("SliceRows must copy the underlying data")
	}
}

func TestRowSums(t *testing.T) {
	tr := NewF32([]int{2, 3}, []float32{1, 2, 3, 0.5, 0.5, 0})
	sums := tr.RowSums()
	if len(sums) != 2 || sums[0] != 6 || sums[1] != 1 {
		t.Errorf("RowSums() = %v, want [6 1]", sums)
	}
}

func TestConcatRows(t *testing.T) {
	a := NewF32([]int{2, 2}, []float32{1, 2, 3, 4})
	b := NewF32([]int{1, 2}, []float32{5, 6})
	got, err := ConcatRows(a, b)
	if err != nil {
		t.Fatalf("ConcatRows() error = %v", err)
	}
	if !reflect.DeepEqual(got.Shape, []int{3, 2}) {
		t.Errorf("shape = %v, want [3 2]", got.Shape)
	}
	if !reflect.DeepEqual(got.F, []float32{1, 2, 3, 4, 5, 6}) {
		t.Errorf("data = %v", got.F)
	}
}

func TestConcatRowsErrors(t *testing.T) {
	tests := []struct {
		name  string
		parts []*Tensor
	}{
		{"empty", nil},
		{"trailing dim mismatch", []*Tensor{
			NewF32([]int{2, 2}, []float32{1, 2, 3, 4}),
			NewF32([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6}),
		}},
		{"rank mismatch", []*Tensor{
			NewF32([]int{2, 2}, []float32{1, 2, 3, 4}),
			NewF32([]int{4}, []float32{1, 2, 3, 4}),
		}},
		{"kind mismatch", []*Tensor{
			NewF32([]int{1, 2}, []float32{1, 2}),
			NewI32([]int{1, 2}, []int32{1, 2}),
		}},
		{"scalars", []*Tensor{ZerosF32(nil), ZerosF32(nil)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ConcatRows(tt.parts...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestClone(t *testing.T) {
	tr := NewI32([]int{2}, []int32{7, 8})
	c := tr.Clone()
	c.I[0] = 0
	if tr.I[0] != 7 {
		t.Error("Clone must not share storage")
	}
}
