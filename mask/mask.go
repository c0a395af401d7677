// Package mask provides the fixed-size activity masks attached to every
// tree node. A mask has one bit per voxel or child slot; iteration order is
// ascending linear offset. Boolean combinators operate word-at-a-time.
//
// Indices are caller-guaranteed in range. The masks sit on the hot path of
// every tree operation, so there is no bounds checking here beyond what the
// backing bitset performs.
package mask

import (
	"github.com/bits-and-blooms/bitset"
)

// NodeMask is a fixed-size packed bitset. The size is decided at
// construction and never changes; combining masks of different sizes is a
// programmer error.
type NodeMask struct {
	bits *bitset.BitSet
	size uint
}

// New creates an all-off mask with the given fixed bit count.
func New(size uint) *NodeMask {
	return &NodeMask{bits: bitset.New(size), size: size}
}

// Clone returns a deep copy of the mask.
func (m *NodeMask) Clone() *NodeMask {
	return &NodeMask{bits: m.bits.Clone(), size: m.size}
}

// Size returns the fixed bit count.
func (m *NodeMask) Size() uint { return m.size }

// SetOn sets bit i.
func (m *NodeMask) SetOn(i uint) { m.bits.Set(i) }

// SetOff clears bit i.
func (m *NodeMask) SetOff(i uint) { m.bits.Clear(i) }

// Set sets bit i to the given state.
func (m *NodeMask) Set(i uint, on bool) {
	if on {
		m.bits.Set(i)
	} else {
		m.bits.Clear(i)
	}
}

// IsOn reports whether bit i is set.
func (m *NodeMask) IsOn(i uint) bool { return m.bits.Test(i) }

// IsAllOn reports whether every bit is set.
func (m *NodeMask) IsAllOn() bool { return m.bits.Count() == m.size }

// IsAllOff reports whether no bit is set.
func (m *NodeMask) IsAllOff() bool { return m.bits.None() }

// CountOn returns the number of set bits.
func (m *NodeMask) CountOn() uint { return m.bits.Count() }

// SetAll sets every bit to the given state.
func (m *NodeMask) SetAll(on bool) {
	if on {
		m.bits.SetAll()
	} else {
		m.bits.ClearAll()
	}
}

// NextOn returns the index of the first set bit at or after i.
func (m *NodeMask) NextOn(i uint) (uint, bool) {
	return m.bits.NextSet(i)
}

// NextOff returns the index of the first clear bit at or after i.
func (m *NodeMask) NextOff(i uint) (uint, bool) {
	j, ok := m.bits.NextClear(i)
	if !ok || j >= m.size {
		return 0, false
	}
	return j, true
}

// ForEachOn calls fn for every set bit in ascending order.
func (m *NodeMask) ForEachOn(fn func(i uint)) {
	for i, ok := m.bits.NextSet(0); ok; i, ok = m.bits.NextSet(i + 1) {
		fn(i)
	}
}

// Union sets m to m | o. Both masks must be the same size.
func (m *NodeMask) Union(o *NodeMask) { m.bits.InPlaceUnion(o.bits) }

// Intersect sets m to m & o. Both masks must be the same size.
func (m *NodeMask) Intersect(o *NodeMask) { m.bits.InPlaceIntersection(o.bits) }

// Difference sets m to m &^ o. Both masks must be the same size.
func (m *NodeMask) Difference(o *NodeMask) { m.bits.InPlaceDifference(o.bits) }

// CopyFrom overwrites m with the contents of o.
func (m *NodeMask) CopyFrom(o *NodeMask) {
	m.bits = o.bits.Clone()
}

// Equal reports whether both masks hold identical bits.
func (m *NodeMask) Equal(o *NodeMask) bool {
	return m.size == o.size && m.bits.Equal(o.bits)
}
