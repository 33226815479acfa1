// Package statefile reads and writes the trainer's tensor archive format,
// the container behind model weight files and checkpoint shards.
package statefile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/23skdu/longbow-verdict/internal/tensor"
)

const (
	Magic   = 0x46545356 // "VSTF" little-endian
	Version = 1
)

type DType uint32

const (
	DTypeF32 DType = iota
	DTypeF16
	DTypeI32
)

func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "F32"
	case DTypeF16:
		return "F16"
	case DTypeI32:
		return "I32"
	default:
		return fmt.Sprintf("UNKNOWN_DTYPE_%d", uint32(d))
	}
}

func (d DType) elemSize() int {
	switch d {
	case DTypeF16:
		return 2
	default:
		return 4
	}
}

// Placement records how the trainer sharded the tensor. A ShardDim0 entry
// holds this rank's local slice of a distributed tensor; reading it
// materializes the slice as a plain local tensor.
type Placement uint32

const (
	Replicated Placement = iota
	ShardDim0
)

type Entry struct {
	Name      string
	DType     DType
	Placement Placement
	Tensor    *tensor.Tensor
}

type ErrInvalidMagic struct {
	Magic uint32
}

func (e ErrInvalidMagic) Error() string {
	return fmt.Sprintf("invalid state file magic: 0x%x", e.Magic)
}

type ErrUnsupportedVersion struct {
	Version uint32
}

func (e ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported state file version: %d", e.Version)
}

// Read parses a state file and materializes every entry to a local tensor.
// F16 payloads are widened to F32 in memory.
func Read(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if len(data) < 16 {
		return nil, io.ErrUnexpectedEOF
	}
	offset := uint64(0)

	magic := binary.LittleEndian.Uint32(data[offset:])
	offset += 4
	if magic != Magic {
		return nil, ErrInvalidMagic{Magic: magic}
	}

	version := binary.LittleEndian.Uint32(data[offset:])
	offset += 4
	if version != Version {
		return nil, ErrUnsupportedVersion{Version: version}
	}

	count := binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	entries := make([]Entry, 0, count)
	for i := uint64(0); i < count; i++ {
		e, next, err := readEntry(data, offset)
		if err != nil {
			return nil, fmt.Errorf("entry %d in %s: %w", i, path, err)
		}
		entries = append(entries, e)
		offset = next
	}
	return entries, nil
}

func readEntry(data []byte, offset uint64) (Entry, uint64, error) {
	var e Entry

	name, offset, err := readString(data, offset)
	if err != nil {
		return e, 0, err
	}
	e.Name = name

	if uint64(len(data)) < offset+12 {
		return e, 0, io.ErrUnexpectedEOF
	}
	e.DType = DType(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4
	if e.DType > DTypeI32 {
		return e, 0, fmt.Errorf("unknown dtype %d", uint32(e.DType))
	}
	e.Placement = Placement(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4
	if e.Placement > ShardDim0 {
		return e, 0, fmt.Errorf("unknown placement %d", uint32(e.Placement))
	}

	ndims := binary.LittleEndian.Uint32(data[offset:])
	offset += 4
	if ndims > 8 {
		return e, 0, fmt.Errorf("implausible rank %d", ndims)
	}
	if uint64(len(data)) < offset+uint64(ndims)*8 {
		return e, 0, io.ErrUnexpectedEOF
	}
	shape := make([]int, ndims)
	elems := 1
	for d := range shape {
		shape[d] = int(binary.LittleEndian.Uint64(data[offset:]))
		offset += 8
		elems *= shape[d]
	}

	payload := uint64(elems) * uint64(e.DType.elemSize())
	if uint64(len(data)) < offset+payload {
		return e, 0, io.ErrUnexpectedEOF
	}
	raw := data[offset : offset+payload]
	offset += payload

	switch e.DType {
	case DTypeF32:
		f := make([]float32, elems)
		for j := range f {
			f[j] = math.Float32frombits(binary.LittleEndian.Uint32(raw[j*4:]))
		}
		e.Tensor = tensor.NewF32(shape, f)
	case DTypeF16:
		f := make([]float32, elems)
		for j := range f {
			f[j] = HalfToFloat(binary.LittleEndian.Uint16(raw[j*2:]))
		}
		e.Tensor = tensor.NewF32(shape, f)
	case DTypeI32:
		iv := make([]int32, elems)
		for j := range iv {
			iv[j] = int32(binary.LittleEndian.Uint32(raw[j*4:]))
		}
		e.Tensor = tensor.NewI32(shape, iv)
	}
	return e, offset, nil
}

func readString(data []byte, offset uint64) (string, uint64, error) {
	if uint64(len(data)) < offset+8 {
		return "", 0, io.ErrUnexpectedEOF
	}
	n := binary.LittleEndian.Uint64(data[offset:])
	offset += 8
	if n > 1<<16 {
		return "", 0, fmt.Errorf("implausible string length %d", n)
	}
	if uint64(len(data)) < offset+n {
		return "", 0, io.ErrUnexpectedEOF
	}
	return string(data[offset : offset+n]), offset + n, nil
}

// Write emits a state file. Used for fixtures and by tooling; the training
// side has its own writer for the same layout.
func Write(path string, entries []Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	var scratch [8]byte
	put32 := func(v uint32) error {
		binary.LittleEndian.PutUint32(scratch[:4], v)
		_, err := f.Write(scratch[:4])
		return err
	}
	put64 := func(v uint64) error {
		binary.LittleEndian.PutUint64(scratch[:8], v)
		_, err := f.Write(scratch[:8])
		return err
	}

	if err := put32(Magic); err != nil {
		return err
	}
	if err := put32(Version); err != nil {
		return err
	}
	if err := put64(uint64(len(entries))); err != nil {
		return err
	}

	for _, e := range entries {
		if err := put64(uint64(len(e.Name))); err != nil {
			return err
		}
		if _, err := f.Write([]byte(e.Name)); err != nil {
			return err
		}
		if err := put32(uint32(e.DType)); err != nil {
			return err
		}
		if err := put32(uint32(e.Placement)); err != nil {
			return err
		}
		if err := put32(uint32(len(e.Tensor.Shape))); err != nil {
			return err
		}
		for _, d := range e.Tensor.Shape {
			if err := put64(uint64(d)); err != nil {
				return err
			}
		}
		raw, err := encodePayload(e)
		if err != nil {
			return fmt.Errorf("tensor %s: %w", e.Name, err)
		}
		if _, err := f.Write(raw); err != nil {
			return err
		}
	}
	return nil
}

func encodePayload(e Entry) ([]byte, error) {
	switch e.DType {
	case DTypeF32:
		raw := make([]byte, len(e.Tensor.F)*4)
		for j, v := range e.Tensor.F {
			binary.LittleEndian.PutUint32(raw[j*4:], math.Float32bits(v))
		}
		return raw, nil
	case DTypeF16:
		raw := make([]byte, len(e.Tensor.F)*2)
		for j, v := range e.Tensor.F {
			binary.LittleEndian.PutUint16(raw[j*2:], FloatToHalf(v))
		}
		return raw, nil
	case DTypeI32:
		raw := make([]byte, len(e.Tensor.I)*4)
		for j, v := range e.Tensor.I {
			binary.LittleEndian.PutUint32(raw[j*4:], uint32(v))
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("unknown dtype %v", e.DType)
	}
}

// HalfToFloat converts an IEEE 754 half-precision value to float32.
func HalfToFloat(h uint16) float32 {
	sign := uint32(h>>15) & 1
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h) & 0x3ff

	var bits uint32
	switch {
	case exp == 0 && mant == 0:
		bits = sign << 31
	case exp == 0:
		// subnormal: renormalize
		for mant&0x400 == 0 {
			mant <<= 1
			exp--
		}
		exp++
		mant &= 0x3ff
		bits = sign<<31 | (exp+112)<<23 | mant<<13
	case exp == 0x1f:
		bits = sign<<31 | 0xff<<23 | mant<<13
	default:
		bits = sign<<31 | (exp+112)<<23 | mant<<13
	}
	return math.Float32frombits(bits)
}

// FloatToHalf converts a float32 to IEEE 754 half precision,
// rounding toward zero.
func FloatToHalf(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23&0xff) - 127 + 15
	mant := bits & 0x7fffff

	switch {
	case exp >= 0x1f:
		// overflow or inf/nan
		if bits&0x7fffffff > 0x7f800000 {
			return sign | 0x7e00 // nan
		}
		return sign | 0x7c00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		return sign | uint16(mant>>uint32(14-exp))
	default:
		return sign | uint16(exp)<<10 | uint16(mant>>13)
	}
}
