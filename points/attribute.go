package points

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/hupe1980/vdbgo/internal/blockcodec"
	"github.com/hupe1980/vdbgo/resource"
)

// Vec3f is a packed single-precision 3-vector, the storage type of the
// position attribute. Positions are voxel-local: the stored value is the
// index-space offset from the voxel's lattice point, in [-0.5, 0.5).
type Vec3f [3]float32

// PositionAttribute is the reserved name of the position attribute.
// Every point leaf carries it; all other attributes are caller-defined.
const PositionAttribute = "P"

// Array is one column of per-point values within a leaf. Rows are
// addressed by point index; the ordering is owned by the leaf's voxel
// offset structure.
type Array interface {
	// Len returns the number of rows.
	Len() int

	// TypeName identifies the element type for mismatch checks.
	TypeName() string

	// NewOfSame returns an empty array of the same element type with n
	// default-valued rows.
	NewOfSame(n int) Array

	// CopyRange copies n rows from src starting at srcStart into this
	// array starting at dstStart. src must have the same element type.
	CopyRange(dstStart int, src Array, srcStart, n int) error

	// Compact collapses the array to a single stored value when every
	// row is identical. Reports whether the array is now uniform.
	Compact() bool

	// Expand materializes dense row storage, decoding compressed or
	// uniform representations. Lazy expansion on first access is not
	// synchronized, so a column shared by multiple goroutines must be
	// expanded before the fan-out.
	Expand()

	// IsUniform reports whether the array stores one shared value.
	IsUniform() bool

	// Compress block-compresses the dense payload in memory. Uniform or
	// empty arrays are left alone. Unsupported element types (anything
	// pointer-bearing, e.g. strings) are silently skipped.
	Compress(t blockcodec.Type) error

	// IsCompressed reports whether the payload is currently compressed.
	IsCompressed() bool

	// MemUsage returns the approximate heap footprint in bytes.
	MemUsage() int64
}

// TypedArray is the concrete Array for element type T. The zero value is
// an empty dense array.
type TypedArray[T comparable] struct {
	data []T

	uniform    bool
	uniformVal T
	n          int

	compressed []byte
	codec      blockcodec.Type
}

// NewTypedArray returns a dense array with n default-valued rows.
func NewTypedArray[T comparable](n int) *TypedArray[T] {
	return &TypedArray[T]{data: make([]T, n)}
}

// NewUniformArray returns an array of n rows all sharing v, stored once.
func NewUniformArray[T comparable](n int, v T) *TypedArray[T] {
	return &TypedArray[T]{uniform: true, uniformVal: v, n: n}
}

func (a *TypedArray[T]) Len() int {
	if a.uniform || a.compressed != nil {
		return a.n
	}
	return len(a.data)
}

func (a *TypedArray[T]) TypeName() string {
	var z T
	return fmt.Sprintf("%T", z)
}

func (a *TypedArray[T]) NewOfSame(n int) Array {
	return NewTypedArray[T](n)
}

// Get returns row i, transparently expanding compressed storage on
// demand (the payload is decoded once and stays dense). The lazy decode
// mutates the array without synchronization; Expand first when the
// column is read from multiple goroutines.
func (a *TypedArray[T]) Get(i int) T {
	if a.uniform {
		return a.uniformVal
	}
	if a.compressed != nil {
		a.mustDecompress()
	}
	return a.data[i]
}

// Set writes row i, expanding uniform or compressed storage first.
func (a *TypedArray[T]) Set(i int, v T) {
	a.expand()
	a.data[i] = v
}

// Values returns the dense row slice, expanding first. Callers must not
// resize it.
func (a *TypedArray[T]) Values() []T {
	a.expand()
	return a.data
}

// Expand implements Array.
func (a *TypedArray[T]) Expand() { a.expand() }

func (a *TypedArray[T]) expand() {
	if a.uniform {
		a.data = make([]T, a.n)
		for i := range a.data {
			a.data[i] = a.uniformVal
		}
		a.uniform = false
		a.n = 0
		return
	}
	if a.compressed != nil {
		a.mustDecompress()
	}
}

func (a *TypedArray[T]) CopyRange(dstStart int, src Array, srcStart, n int) error {
	s, ok := src.(*TypedArray[T])
	if !ok {
		return &TypeMismatchError{Want: a.TypeName(), Got: src.TypeName()}
	}
	a.expand()
	s.expand()
	copy(a.data[dstStart:dstStart+n], s.data[srcStart:srcStart+n])
	return nil
}

func (a *TypedArray[T]) Compact() bool {
	if a.uniform {
		return true
	}
	if a.compressed != nil || len(a.data) == 0 {
		return false
	}
	first := a.data[0]
	for _, v := range a.data[1:] {
		if v != first {
			return false
		}
	}
	a.uniform = true
	a.uniformVal = first
	a.n = len(a.data)
	a.data = nil
	return true
}

func (a *TypedArray[T]) IsUniform() bool { return a.uniform }

// elemSize returns T's in-memory size when T is a plain fixed-size value
// type safe to reinterpret as bytes. Pointer-bearing types report false.
func elemSize[T comparable]() (int, bool) {
	var z T
	switch any(z).(type) {
	case float32, int32, uint32:
		return 4, true
	case float64, int64, uint64, int:
		return int(unsafe.Sizeof(z)), true
	case Vec3f, [3]float32:
		return 12, true
	case [3]float64:
		return 24, true
	default:
		return 0, false
	}
}

func (a *TypedArray[T]) Compress(t blockcodec.Type) error {
	if t == blockcodec.None || a.uniform || a.compressed != nil || len(a.data) == 0 {
		return nil
	}
	size, ok := elemSize[T]()
	if !ok {
		return nil
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&a.data[0])), len(a.data)*size)
	out, err := blockcodec.Compress(raw, t)
	if err != nil {
		return err
	}
	buf := make([]byte, len(out))
	copy(buf, out)
	a.compressed = buf
	a.codec = t
	a.n = len(a.data)
	a.data = nil
	return nil
}

func (a *TypedArray[T]) IsCompressed() bool { return a.compressed != nil }

func (a *TypedArray[T]) mustDecompress() {
	size, _ := elemSize[T]()
	raw, err := blockcodec.Decompress(a.compressed, a.codec)
	if err != nil {
		// The payload was produced by Compress in this process; a decode
		// failure is memory corruption, not a data condition.
		panic(fmt.Sprintf("points: corrupt compressed attribute: %v", err))
	}
	a.data = make([]T, a.n)
	dst := unsafe.Slice((*byte)(unsafe.Pointer(&a.data[0])), a.n*size)
	copy(dst, raw)
	a.compressed = nil
	a.n = 0
}

func (a *TypedArray[T]) MemUsage() int64 {
	var z T
	switch {
	case a.uniform:
		return int64(unsafe.Sizeof(z))
	case a.compressed != nil:
		return int64(len(a.compressed))
	default:
		return int64(len(a.data)) * int64(unsafe.Sizeof(z))
	}
}

// AttributeSet is an ordered collection of named attribute columns, all
// the same length. Column order is stable so two sets built by the same
// sequence of appends are row-for-row compatible.
type AttributeSet struct {
	names  []string
	index  map[string]int
	arrays []Array
}

// NewAttributeSet returns an empty set.
func NewAttributeSet() *AttributeSet {
	return &AttributeSet{index: make(map[string]int)}
}

// Append adds a named column. Duplicate names are an error.
func (s *AttributeSet) Append(name string, arr Array) error {
	if _, ok := s.index[name]; ok {
		return &AttributeExistsError{Name: name}
	}
	s.index[name] = len(s.arrays)
	s.names = append(s.names, name)
	s.arrays = append(s.arrays, arr)
	return nil
}

// Get returns the named column, or nil if absent.
func (s *AttributeSet) Get(name string) Array {
	i, ok := s.index[name]
	if !ok {
		return nil
	}
	return s.arrays[i]
}

// Names returns the column names in append order.
func (s *AttributeSet) Names() []string { return s.names }

// NumAttributes returns the number of columns.
func (s *AttributeSet) NumAttributes() int { return len(s.arrays) }

// Array returns the i-th column in append order.
func (s *AttributeSet) Array(i int) Array { return s.arrays[i] }

// CloneEmpty returns a set with the same columns (names, order, element
// types) holding n default-valued rows each.
func (s *AttributeSet) CloneEmpty(n int) *AttributeSet {
	out := NewAttributeSet()
	for i, name := range s.names {
		_ = out.Append(name, s.arrays[i].NewOfSame(n))
	}
	return out
}

// ExpandAll materializes dense storage for every column. Call before
// handing the set's columns to concurrent readers; Get and CopyRange
// mutate lazily-stored columns on first access.
func (s *AttributeSet) ExpandAll() {
	for _, a := range s.arrays {
		a.Expand()
	}
}

// CompactAll collapses every uniform column and returns the number of
// columns compacted.
func (s *AttributeSet) CompactAll() int {
	n := 0
	for _, a := range s.arrays {
		if !a.IsUniform() && a.Compact() {
			n++
		}
	}
	return n
}

// CompressAll block-compresses every dense numeric column. When rc is
// non-nil the compression throughput is charged against its limit, so
// background compaction jobs cannot starve foreground work.
func (s *AttributeSet) CompressAll(ctx context.Context, t blockcodec.Type, rc *resource.Controller) error {
	for _, a := range s.arrays {
		if err := rc.AcquireCompress(ctx, int(a.MemUsage())); err != nil {
			return err
		}
		if err := a.Compress(t); err != nil {
			return err
		}
	}
	return nil
}

// MemUsage returns the summed column footprint in bytes.
func (s *AttributeSet) MemUsage() int64 {
	var total int64
	for _, a := range s.arrays {
		total += a.MemUsage()
	}
	return total
}
