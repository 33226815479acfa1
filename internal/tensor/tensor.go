package tensor

import "fmt"

// Kind discriminates the in-memory element type. Half precision exists only
// on disk; readers materialize it to F32.
type Kind int

const (
	F32 Kind = iota
	I32
)

func (k Kind) String() string {
	switch k {
	case F32:
		return "F32"
	case I32:
		return "I32"
	default:
		return fmt.Sprintf("UNKNOWN_KIND_%d", int(k))
	}
}

// Tensor is a dense row-major tensor. Exactly one of F or I is populated,
// matching Kind.
type Tensor struct {
	Shape []int
	F     []float32
	I     []int32
}

func NewF32(shape []int, data []float32) *Tensor {
	t := &Tensor{Shape: shape, F: data}
	if len(data) != t.NumElems() {
		panic(fmt.Sprintf("tensor data length %d does not match shape %v", len(data), shape))
	}
	return t
}

func NewI32(shape []int, data []int32) *Tensor {
	t := &Tensor{Shape: shape, I: data}
	if len(data) != t.NumElems() {
		panic(fmt.Sprintf("tensor data length %d does not match shape %v", len(data), shape))
	}
	return t
}

func ZerosF32(shape []int) *Tensor {
	t := &Tensor{Shape: shape}
	t.F = make([]float32, t.NumElems())
	return t
}

func (t *Tensor) Kind() Kind {
	if t.I != nil {
		return I32
	}
	return F32
}

func (t *Tensor) NumElems() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Rows is the leading dimension. Scalars count as a single row.
func (t *Tensor) Rows() int {
	if len(t.Shape) == 0 {
		return 1
	}
	return t.Shape[0]
}

// RowSize is the number of elements per leading-dimension slice.
func (t *Tensor) RowSize() int {
	if len(t.Shape) <= 1 {
		return 1
	}
	n := 1
	for _, d := range t.Shape[1:] {
		n *= d
	}
	return n
}

func (t *Tensor) Clone() *Tensor {
	out := &Tensor{Shape: append([]int(nil), t.Shape...)}
	if t.I != nil {
		out.I = append([]int32(nil), t.I...)
	} else {
		out.F = append([]float32(nil), t.F...)
	}
	return out
}

// SliceRows copies rows [i, j) into a new tensor.
func (t *Tensor) SliceRows(i, j int) *Tensor {
	if i < 0 || j < i || j > t.Rows() {
		panic(fmt.Sprintf("slice [%d:%d) out of range for %d rows", i, j, t.Rows()))
	}
	shape := append([]int{j - i}, t.Shape[1:]...)
	rs := t.RowSize()
	out := &Tensor{Shape: shape}
	if t.I != nil {
		out.I = append([]int32(nil), t.I[i*rs:j*rs]...)
	} else {
		out.F = append([]float32(nil), t.F[i*rs:j*rs]...)
	}
	return out
}

// RowSums reduces each leading-dimension slice to the sum of its elements.
func (t *Tensor) RowSums() []float64 {
	rows, rs := t.Rows(), t.RowSize()
	sums := make([]float64, rows)
	for r := 0; r < rows; r++ {
		var s float64
		if t.I != nil {
			for _, v := range t.I[r*rs : (r+1)*rs] {
				s += float64(v)
			}
		} else {
			for _, v := range t.F[r*rs : (r+1)*rs] {
				s += float64(v)
			}
		}
		sums[r] = s
	}
	return sums
}

// ConcatRows concatenates tensors along the leading dimension. All inputs
// must share kind and trailing dimensions.
func ConcatRows(parts ...*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("concat of zero tensors")
	}
	first := parts[0]
	if len(first.Shape) == 0 {
		return nil, fmt.Errorf("cannot concatenate scalar tensors")
	}
	rows := 0
	for _, p := range parts {
		if p.Kind() != first.Kind() {
			return nil, fmt.Errorf("kind mismatch: %v vs %v", p.Kind(), first.Kind())
		}
		if len(p.Shape) != len(first.Shape) {
			return nil, fmt.Errorf("rank mismatch: %v vs %v", p.Shape, first.Shape)
		}
		for i := 1; i < len(first.Shape); i++ {
			if p.Shape[i] != first.Shape[i] {
				return nil, fmt.Errorf("trailing dim mismatch: %v vs %v", p.Shape, first.Shape)
			}
		}
		rows += p.Shape[0]
	}

	shape := append([]int{rows}, first.Shape[1:]...)
	out := &Tensor{Shape: shape}
	if first.Kind() == I32 {
		out.I = make([]int32, 0, rows*first.RowSize())
		for _, p := range parts {
			out.I = append(out.I, p.I...)
		}
	} else {
		out.F = make([]float32, 0, rows*first.RowSize())
		for _, p := range parts {
			out.F = append(out.F, p.F...)
		}
	}
	return out, nil
}
