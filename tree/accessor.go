package tree

import (
	"github.com/hupe1980/vdbgo/coords"
)

// ValueAccessor caches the path from the root to the most recently
// visited leaf, so spatially coherent access patterns skip the root map
// and internal-node descent entirely. It is owned by a single goroutine;
// writers sharing a tree must partition their work by leaf. Staleness
// never affects correctness: structural tree operations (prune, steal,
// clear, fills) bump a generation counter the accessor checks before
// serving a cached node, forcing a fresh descent from the root.
type ValueAccessor[T comparable] struct {
	tree *Tree[T]
	gen  uint64

	leaf       *LeafNode[T]
	leafOrigin coords.Coord

	lower       *internalNode[T]
	lowerOrigin coords.Coord

	upper       *internalNode[T]
	upperOrigin coords.Coord

	valid uint8 // bit 0: leaf, bit 1: lower, bit 2: upper
}

const (
	cacheLeaf  = 1 << 0
	cacheLower = 1 << 1
	cacheUpper = 1 << 2
)

// NewValueAccessor returns an accessor bound to t.
func NewValueAccessor[T comparable](t *Tree[T]) *ValueAccessor[T] {
	return &ValueAccessor[T]{tree: t, gen: t.gen.Load()}
}

// Tree returns the underlying tree.
func (a *ValueAccessor[T]) Tree() *Tree[T] { return a.tree }

// Clear drops every cached node, forcing the next access to re-descend.
// Structural tree operations invalidate caches automatically; Clear is
// for callers that want the re-descent regardless.
func (a *ValueAccessor[T]) Clear() {
	a.leaf, a.lower, a.upper = nil, nil, nil
	a.valid = 0
}

func leafOriginOf(c coords.Coord) coords.Coord {
	return c.Mask(^int32(LeafDim - 1))
}

func lowerOriginOf(c coords.Coord) coords.Coord {
	return c.Mask(^int32(1<<lowerTotalLog2 - 1))
}

func upperOriginOf(c coords.Coord) coords.Coord {
	return c.Mask(^int32(RootSpan - 1))
}

// refresh drops every cached node when the tree has seen a structural
// mutation since the last access.
func (a *ValueAccessor[T]) refresh() {
	if g := a.tree.gen.Load(); g != a.gen {
		a.valid = 0
		a.gen = g
	}
}

// probe walks down from the deepest still-valid cached node, caching
// each internal node it passes. The returned leaf is nil when the
// coordinate resolves to a tile or untouched background.
func (a *ValueAccessor[T]) probe(c coords.Coord) *LeafNode[T] {
	a.refresh()
	if a.valid&cacheLeaf != 0 && a.leafOrigin == leafOriginOf(c) {
		return a.leaf
	}
	a.valid &^= cacheLeaf

	var lower *internalNode[T]
	if a.valid&cacheLower != 0 && a.lowerOrigin == lowerOriginOf(c) {
		lower = a.lower
	} else {
		a.valid &^= cacheLower
		upper := a.cachedUpper(c)
		if upper == nil {
			return nil
		}
		i := upper.coordToOffset(c)
		if !upper.childMask.IsOn(i) {
			return nil
		}
		lower = upper.children[i].(*internalNode[T])
		a.lower, a.lowerOrigin = lower, lower.org
		a.valid |= cacheLower
	}

	i := lower.coordToOffset(c)
	if !lower.childMask.IsOn(i) {
		return nil
	}
	leaf := lower.children[i].(*LeafNode[T])
	a.leaf, a.leafOrigin = leaf, leaf.org
	a.valid |= cacheLeaf
	return leaf
}

func (a *ValueAccessor[T]) cachedUpper(c coords.Coord) *internalNode[T] {
	if a.valid&cacheUpper != 0 && a.upperOrigin == upperOriginOf(c) {
		return a.upper
	}
	a.valid &^= cacheUpper
	e, ok := a.tree.root[RootKey(c)]
	if !ok || e.child == nil {
		return nil
	}
	a.upper, a.upperOrigin = e.child, e.child.org
	a.valid |= cacheUpper
	return e.child
}

// GetValue returns the value and activity at c, falling back through
// tiles to the background exactly like Tree.GetValue.
func (a *ValueAccessor[T]) GetValue(c coords.Coord) (T, bool) {
	if l := a.probe(c); l != nil {
		i := CoordToOffset(c)
		return l.buf[i], l.mask.IsOn(i)
	}
	return a.tree.GetValue(c)
}

// IsValueOn reports the activity at c.
func (a *ValueAccessor[T]) IsValueOn(c coords.Coord) bool {
	if l := a.probe(c); l != nil {
		return l.mask.IsOn(CoordToOffset(c))
	}
	_, on := a.tree.GetValue(c)
	return on
}

// SetValueOn writes v at c and activates it, densifying tiles on the way
// down and caching the touched path.
func (a *ValueAccessor[T]) SetValueOn(c coords.Coord, v T) {
	l := a.touch(c)
	i := CoordToOffset(c)
	l.buf[i] = v
	l.mask.SetOn(i)
}

// SetValueOff writes v at c and deactivates it.
func (a *ValueAccessor[T]) SetValueOff(c coords.Coord, v T) {
	l := a.touch(c)
	i := CoordToOffset(c)
	l.buf[i] = v
	l.mask.SetOff(i)
}

// SetActiveState flips only the activity bit at c.
func (a *ValueAccessor[T]) SetActiveState(c coords.Coord, on bool) {
	l := a.touch(c)
	l.mask.Set(CoordToOffset(c), on)
}

// TouchLeaf returns the leaf containing c, creating it (and densifying
// any covering tile) if needed.
func (a *ValueAccessor[T]) TouchLeaf(c coords.Coord) *LeafNode[T] {
	return a.touch(c)
}

// ProbeLeaf returns the leaf containing c or nil, without mutating the
// tree.
func (a *ValueAccessor[T]) ProbeLeaf(c coords.Coord) *LeafNode[T] {
	return a.probe(c)
}

func (a *ValueAccessor[T]) touch(c coords.Coord) *LeafNode[T] {
	a.refresh()
	if a.valid&cacheLeaf != 0 && a.leafOrigin == leafOriginOf(c) {
		return a.leaf
	}
	a.valid &^= cacheLeaf

	var lower *internalNode[T]
	if a.valid&cacheLower != 0 && a.lowerOrigin == lowerOriginOf(c) {
		lower = a.lower
	} else {
		a.valid &^= cacheLower

		var upper *internalNode[T]
		if a.valid&cacheUpper != 0 && a.upperOrigin == upperOriginOf(c) {
			upper = a.upper
		} else {
			a.valid &^= cacheUpper
			upper = a.tree.touchRootChild(c)
			a.upper, a.upperOrigin = upper, upper.org
			a.valid |= cacheUpper
		}

		i := upper.coordToOffset(c)
		if !upper.childMask.IsOn(i) {
			upper.expandTile(i)
		}
		lower = upper.children[i].(*internalNode[T])
		a.lower, a.lowerOrigin = lower, lower.org
		a.valid |= cacheLower
	}

	i := lower.coordToOffset(c)
	if !lower.childMask.IsOn(i) {
		lower.expandTile(i)
	}
	leaf := lower.children[i].(*LeafNode[T])
	a.leaf, a.leafOrigin = leaf, leaf.org
	a.valid |= cacheLeaf
	return leaf
}
