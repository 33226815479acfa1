// Package batch carries named tensors plus per-example metadata through
// the generate-and-score pipeline.
package batch

import (
	"fmt"

	"github.com/23skdu/longbow-verdict/internal/tensor"
)

// Batch is a set of named tensors sharing a leading dimension, per-example
// non-tensor columns, and free-form meta info for downstream components.
type Batch struct {
	Tensors   map[string]*tensor.Tensor
	NonTensor map[string][]string
	MetaInfo  map[string]interface{}
}

func New() *Batch {
	return &Batch{
		Tensors:   make(map[string]*tensor.Tensor),
		NonTensor: make(map[string][]string),
		MetaInfo:  make(map[string]interface{}),
	}
}

// Len is the shared leading dimension. Zero for an empty batch.
func (b *Batch) Len() int {
	for _, t := range b.Tensors {
		return t.Rows()
	}
	for _, c := range b.NonTensor {
		return len(c)
	}
	return 0
}

// Check verifies every column shares the leading dimension.
func (b *Batch) Check() error {
	n := b.Len()
	for name, t := range b.Tensors {
		if t.Rows() != n {
			return fmt.Errorf("tensor %s has %d rows, batch has %d", name, t.Rows(), n)
		}
	}
	for name, c := range b.NonTensor {
		if len(c) != n {
			return fmt.Errorf("column %s has %d rows, batch has %d", name, len(c), n)
		}
	}
	return nil
}

// Pop moves the named tensors into a new batch, leaving the rest behind.
// Non-tensor columns and meta info stay with the receiver.
func (b *Batch) Pop(keys ...string) (*Batch, error) {
	out := New()
	for _, k := range keys {
		t, ok := b.Tensors[k]
		if !ok {
			return nil, fmt.Errorf("pop: no tensor %q in batch", k)
		}
		out.Tensors[k] = t
		delete(b.Tensors, k)
	}
	return out, nil
}

// Union merges other's columns into b. Conflicting tensor names are an
// error; meta info keys from other win.
func (b *Batch) Union(other *Batch) error {
	if other.Len() != b.Len() && b.Len() != 0 && other.Len() != 0 {
		return fmt.Errorf("union: length mismatch %d vs %d", b.Len(), other.Len())
	}
	for name := range other.Tensors {
		if _, dup := b.Tensors[name]; dup {
			return fmt.Errorf("union: tensor %q exists in both batches", name)
		}
	}
	for name := range other.NonTensor {
		if _, dup := b.NonTensor[name]; dup {
			return fmt.Errorf("union: column %q exists in both batches", name)
		}
	}
	for name, t := range other.Tensors {
		b.Tensors[name] = t
	}
	for name, c := range other.NonTensor {
		b.NonTensor[name] = c
	}
	for k, v := range other.MetaInfo {
		b.MetaInfo[k] = v
	}
	return nil
}

// Slice copies rows [i, j) into a new batch. Meta info is shared.
func (b *Batch) Slice(i, j int) *Batch {
	out := New()
	for name, t := range b.Tensors {
		out.Tensors[name] = t.SliceRows(i, j)
	}
	for name, c := range b.NonTensor {
		out.NonTensor[name] = append([]string(nil), c[i:j]...)
	}
	for k, v := range b.MetaInfo {
		out.MetaInfo[k] = v
	}
	return out
}

// PadToDivisor appends cyclic copies of the leading examples until the
// batch length divides evenly by d. Returns the padded batch and the number
// of examples added; Unpad with the same count restores the original.
func (b *Batch) PadToDivisor(d int) (*Batch, int, error) {
	if d <= 0 {
		return nil, 0, fmt.Errorf("pad divisor must be positive, got %d", d)
	}
	n := b.Len()
	if n == 0 {
		return nil, 0, fmt.Errorf("cannot pad an empty batch")
	}
	padSize := (d - n%d) % d
	if padSize == 0 {
		return b, 0, nil
	}

	parts := []*Batch{b}
	for remaining := padSize; remaining > 0; {
		take := remaining
		if take > n {
			take = n
		}
		parts = append(parts, b.Slice(0, take))
		remaining -= take
	}
	out, err := Concat(parts...)
	if err != nil {
		return nil, 0, err
	}
	return out, padSize, nil
}

// Unpad removes padSize trailing examples.
func (b *Batch) Unpad(padSize int) *Batch {
	if padSize <= 0 {
		return b
	}
	return b.Slice(0, b.Len()-padSize)
}

// Concat stacks batches along the leading dimension. All batches must share
// the same column names.
func Concat(parts ...*Batch) (*Batch, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("concat of zero batches")
	}
	out := New()
	for name := range parts[0].Tensors {
		ts := make([]*tensor.Tensor, len(parts))
		for i, p := range parts {
			t, ok := p.Tensors[name]
			if !ok {
				return nil, fmt.Errorf("concat: batch %d missing tensor %q", i, name)
			}
			ts[i] = t
		}
		merged, err := tensor.ConcatRows(ts...)
		if err != nil {
			return nil, fmt.Errorf("concat tensor %q: %w", name, err)
		}
		out.Tensors[name] = merged
	}
	for name := range parts[0].NonTensor {
		var merged []string
		for i, p := range parts {
			c, ok := p.NonTensor[name]
			if !ok {
				return nil, fmt.Errorf("concat: batch %d missing column %q", i, name)
			}
			merged = append(merged, c...)
		}
		out.NonTensor[name] = merged
	}
	for k, v := range parts[0].MetaInfo {
		out.MetaInfo[k] = v
	}
	return out, nil
}
