package statefile

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/23skdu/longbow-verdict/internal/tensor"
)

func TestReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.pt")
	in := []Entry{
		{
			Name:      "model.embed_tokens.weight",
			DType:     DTypeF32,
			Placement: ShardDim0,
			Tensor:    tensor.NewF32([]int{4, 3}, []float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}),
		},
		{
			Name:      "model.norm.weight",
			DType:     DTypeF32,
			Placement: Replicated,
			Tensor:    tensor.NewF32([]int{3}, []float32{1, 1, 1}),
		},
		{
			Name:      "rope.positions",
			DType:     DTypeI32,
			Placement: Replicated,
			Tensor:    tensor.NewI32([]int{2, 2}, []int32{0, 1, 2, 3}),
		},
	}

	if err := Write(path, in); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	out, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d entries, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i].Name != in[i].Name {
			t.Errorf("entry %d name = %q, want %q", i, out[i].Name, in[i].Name)
		}
		if out[i].Placement != in[i].Placement {
			t.Errorf("entry %d placement = %v, want %v", i, out[i].Placement, in[i].Placement)
		}
		if !reflect.DeepEqual(out[i].Tensor.Shape, in[i].Tensor.Shape) {
			t.Errorf("entry %d shape = %v, want %v", i, out[i].Tensor.Shape, in[i].Tensor.Shape)
		}
		if !reflect.DeepEqual(out[i].Tensor.F, in[i].Tensor.F) || !reflect.DeepEqual(out[i].Tensor.I, in[i].Tensor.I) {
			t.Errorf("entry %d data mismatch", i)
		}
	}
}

func TestHalfPrecisionWidening(t *testing.T) {
	path := filepath.Join(t.TempDir(), "half.pt")
	vals := []float32{0, 1, -1, 0.5, 65504, -0.25}
	in := []Entry{{
		Name:   "w",
		DType:  DTypeF16,
		Tensor: tensor.NewF32([]int{len(vals)}, vals),
	}}

	if err := Write(path, in); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	out, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	for i, want := range vals {
		got := out[0].Tensor.F[i]
		if math.Abs(float64(got-want)) > 1e-3*math.Max(1, math.Abs(float64(want))) {
			t.Errorf("value %d = %v, want approx %v", i, got, want)
		}
	}
}

func TestHalfConversionTable(t *testing.T) {
	tests := []struct {
		bits uint16
		want float32
	}{
		{0x0000, 0},
		{0x3c00, 1},
		{0xbc00, -1},
		{0x3800, 0.5},
		{0x4000, 2},
	}
	for _, tt := range tests {
		if got := HalfToFloat(tt.bits); got != tt.want {
			t.Errorf("HalfToFloat(0x%04x) = %v, want %v", tt.bits, got, tt.want)
		}
		if got := FloatToHalf(tt.want); got != tt.bits {
			t.Errorf("FloatToHalf(%v) = 0x%04x, want 0x%04x", tt.want, got, tt.bits)
		}
	}
}

func TestReadInvalidMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pt")
	if err := os.WriteFile(path, []byte("GGUF\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Read(path)
	if err == nil {
		t.Fatal("expected error for bad magic")
	}
	if _, ok := err.(ErrInvalidMagic); !ok {
		t.Errorf("expected ErrInvalidMagic, got %T: %v", err, err)
	}
}

func TestReadTruncated(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.pt")
	in := []Entry{{
		Name:   "w",
		DType:  DTypeF32,
		Tensor: tensor.NewF32([]int{2, 2}, []float32{1, 2, 3, 4}),
	}}
	if err := Write(good, in); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(good)
	if err != nil {
		t.Fatal(err)
	}

	trunc := filepath.Join(dir, "trunc.pt")
	if err := os.WriteFile(trunc, raw[:len(raw)-6], 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(trunc); err == nil {
		t.Error("expected error for truncated file")
	}
}
