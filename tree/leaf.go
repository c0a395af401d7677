package tree

import (
	"unsafe"

	"github.com/hupe1980/vdbgo/coords"
	"github.com/hupe1980/vdbgo/mask"
)

// LeafNode is a dense 8x8x8 block of values plus an activity mask. The mask
// alone decides whether a voxel is active; inactive voxels may legally hold
// values other than the background (narrow-band interiors rely on this).
type LeafNode[T comparable] struct {
	org  coords.Coord
	buf  []T
	mask *mask.NodeMask
}

// NewLeafNode creates a leaf at the given origin (which must be 8-aligned)
// with every voxel inactive and set to fill.
func NewLeafNode[T comparable](origin coords.Coord, fill T) *LeafNode[T] {
	l := &LeafNode[T]{
		org:  origin,
		buf:  make([]T, LeafSize),
		mask: mask.New(LeafSize),
	}
	var zero T
	if fill != zero {
		for i := range l.buf {
			l.buf[i] = fill
		}
	}
	return l
}

// CoordToOffset maps a coordinate to its linear offset within a leaf:
// ((x&7)<<6)|((y&7)<<3)|(z&7). External code computes offsets directly from
// origin differences, so this layout is load-bearing.
func CoordToOffset(c coords.Coord) uint {
	return uint((c.X&(LeafDim-1))<<(2*LeafLog2Dim)) |
		uint((c.Y&(LeafDim-1))<<LeafLog2Dim) |
		uint(c.Z&(LeafDim-1))
}

// OffsetToLocalCoord inverts CoordToOffset into leaf-local coordinates.
func OffsetToLocalCoord(off uint) coords.Coord {
	return coords.Coord{
		X: int32(off >> (2 * LeafLog2Dim)),
		Y: int32((off >> LeafLog2Dim) & (LeafDim - 1)),
		Z: int32(off & (LeafDim - 1)),
	}
}

// Origin returns the leaf's minimum coordinate (8-aligned).
func (l *LeafNode[T]) Origin() coords.Coord { return l.org }

func (l *LeafNode[T]) origin() coords.Coord { return l.org }

// Buffer exposes the dense value array for direct kernel access.
func (l *LeafNode[T]) Buffer() []T { return l.buf }

// Mask exposes the activity mask for direct kernel access.
func (l *LeafNode[T]) Mask() *mask.NodeMask { return l.mask }

// BBox returns the 8x8x8 region covered by the leaf.
func (l *LeafNode[T]) BBox() coords.BBox {
	return coords.CubeBBox(l.org, LeafDim)
}

// Value returns the value at c, which must lie inside the leaf.
func (l *LeafNode[T]) Value(c coords.Coord) T {
	return l.buf[CoordToOffset(c)]
}

// ProbeValue returns the value and active state at c in one lookup.
func (l *LeafNode[T]) ProbeValue(c coords.Coord) (T, bool) {
	off := CoordToOffset(c)
	return l.buf[off], l.mask.IsOn(off)
}

// IsValueOn reports the active state at c.
func (l *LeafNode[T]) IsValueOn(c coords.Coord) bool {
	return l.mask.IsOn(CoordToOffset(c))
}

// SetValueOn sets the value at c and marks it active.
func (l *LeafNode[T]) SetValueOn(c coords.Coord, v T) {
	off := CoordToOffset(c)
	l.buf[off] = v
	l.mask.SetOn(off)
}

// SetValueOff sets the value at c and marks it inactive.
func (l *LeafNode[T]) SetValueOff(c coords.Coord, v T) {
	off := CoordToOffset(c)
	l.buf[off] = v
	l.mask.SetOff(off)
}

// SetActiveState flips only the activity at c, preserving the value.
func (l *LeafNode[T]) SetActiveState(c coords.Coord, on bool) {
	l.mask.Set(CoordToOffset(c), on)
}

// CountOn returns the number of active voxels.
func (l *LeafNode[T]) CountOn() int {
	return int(l.mask.CountOn())
}

// ActiveBBox returns the bounds of the active voxels, in index space.
func (l *LeafNode[T]) ActiveBBox() coords.BBox {
	if l.mask.IsAllOn() {
		return l.BBox()
	}
	b := coords.EmptyBBox()
	l.mask.ForEachOn(func(i uint) {
		b = b.ExtendWith(OffsetToLocalCoord(i))
	})
	if b.Empty() {
		return b
	}
	return b.Translate(l.org)
}

// FillAll sets every voxel to (v, active).
func (l *LeafNode[T]) FillAll(v T, active bool) {
	for i := range l.buf {
		l.buf[i] = v
	}
	l.mask.SetAll(active)
}

func (l *LeafNode[T]) getValue(c coords.Coord) (T, bool) {
	return l.ProbeValue(c)
}

func (l *LeafNode[T]) setValueOn(c coords.Coord, v T)  { l.SetValueOn(c, v) }
func (l *LeafNode[T]) setValueOff(c coords.Coord, v T) { l.SetValueOff(c, v) }

func (l *LeafNode[T]) setActiveState(c coords.Coord, on bool) {
	l.SetActiveState(c, on)
}

func (l *LeafNode[T]) sparseFill(b coords.BBox, v T, active bool) {
	b = b.Intersect(l.BBox())
	if b.Empty() {
		return
	}
	if b.Volume() == LeafSize {
		l.FillAll(v, active)
		return
	}
	for x := b.Min.X; x <= b.Max.X; x++ {
		for y := b.Min.Y; y <= b.Max.Y; y++ {
			for z := b.Min.Z; z <= b.Max.Z; z++ {
				off := CoordToOffset(coords.Coord{X: x, Y: y, Z: z})
				l.buf[off] = v
				l.mask.Set(off, active)
			}
		}
	}
}

func (l *LeafNode[T]) voxelizeActiveTiles() {}

func (l *LeafNode[T]) isConstant() (T, bool, bool) {
	on := l.mask.CountOn()
	if on != 0 && on != LeafSize {
		var zero T
		return zero, false, false
	}
	v := l.buf[0]
	for i := 1; i < LeafSize; i++ {
		if l.buf[i] != v {
			var zero T
			return zero, false, false
		}
	}
	return v, on == LeafSize, true
}

func (l *LeafNode[T]) prune() {}

func (l *LeafNode[T]) evalActiveBBox(b *coords.BBox) {
	ab := l.ActiveBBox()
	if !ab.Empty() {
		*b = b.Union(ab)
	}
}

func (l *LeafNode[T]) evalLeafBBox(b *coords.BBox) {
	*b = b.Union(l.BBox())
}

func (l *LeafNode[T]) countActive() int64 { return int64(l.mask.CountOn()) }
func (l *LeafNode[T]) leafCount() int     { return 1 }

func (l *LeafNode[T]) forEachLeaf(fn func(l *LeafNode[T])) { fn(l) }

func (l *LeafNode[T]) touchLeaf(coords.Coord) *LeafNode[T] { return l }
func (l *LeafNode[T]) probeLeaf(coords.Coord) *LeafNode[T] { return l }
func (l *LeafNode[T]) addLeaf(*LeafNode[T])                {}

func (l *LeafNode[T]) addTile(level int, c coords.Coord, v T, active bool) {
	// A tile write that reaches an already-voxelized location routes
	// through the per-voxel setter.
	if active {
		l.SetValueOn(c, v)
	} else {
		l.SetValueOff(c, v)
	}
}

func (l *LeafNode[T]) stealLeaf(coords.Coord, T) *LeafNode[T] { return nil }

func (l *LeafNode[T]) setBackground(old, new T) {
	if old == new {
		return
	}
	for i := range l.buf {
		if !l.mask.IsOn(uint(i)) && l.buf[i] == old {
			l.buf[i] = new
		}
	}
}

func (l *LeafNode[T]) clone() node[T] {
	c := &LeafNode[T]{
		org:  l.org,
		buf:  make([]T, LeafSize),
		mask: l.mask.Clone(),
	}
	copy(c.buf, l.buf)
	return c
}

func (l *LeafNode[T]) memUsage() int64 {
	return int64(LeafSize)*valueSize[T]() + LeafSize/8
}

// valueSize is a per-value byte estimate used only for memory accounting.
func valueSize[T comparable]() int64 {
	var v T
	return int64(unsafe.Sizeof(v))
}
