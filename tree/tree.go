package tree

import (
	"sync"
	"sync/atomic"

	"github.com/hupe1980/vdbgo/coords"
)

// rootEntry is one slot of the root table: either an owned top-level
// internal node or a tile covering the whole 4096^3 span.
type rootEntry[T comparable] struct {
	child  *internalNode[T]
	tile   T
	active bool
}

// Tree is the sparse hierarchical voxel tree. Lookups outside any table
// entry return the background value with inactive state, which is what
// gives the tree unbounded default-initialized extent.
//
// Concurrent reads require no locking. Mutation of the same node from two
// goroutines is not safe; parallel writers must partition the tree so each
// owns a disjoint set of leaves. Allocation of brand-new top-level entries
// is guarded by a narrow mutex so parallel writers may share a tree as long
// as per-voxel writes stay partitioned.
type Tree[T comparable] struct {
	background T

	mu   sync.Mutex // guards structural growth of the root table only
	root map[coords.Coord]*rootEntry[T]

	// gen counts structural mutations that can detach or replace nodes
	// (prune, steal, clear, fills). ValueAccessors compare it to drop
	// caches that may point at detached subtrees.
	gen atomic.Uint64
}

// New creates an empty tree with the given background value.
func New[T comparable](background T) *Tree[T] {
	return &Tree[T]{
		background: background,
		root:       make(map[coords.Coord]*rootEntry[T]),
	}
}

// RootKey returns the root-table key (top-level node origin) for c.
func RootKey(c coords.Coord) coords.Coord {
	return c.Mask(^int32(RootSpan - 1))
}

// Background returns the tree's background value.
func (t *Tree[T]) Background() T { return t.background }

// SetBackground rewrites every inactive value currently bound to the old
// background to the new one. This is O(active node count), not O(1).
func (t *Tree[T]) SetBackground(background T) {
	old := t.background
	t.background = background
	for _, e := range t.root {
		if e.child != nil {
			e.child.setBackground(old, background)
		} else if !e.active && e.tile == old {
			e.tile = background
		}
	}
}

// Empty reports whether the tree has no table entries at all.
func (t *Tree[T]) Empty() bool { return len(t.root) == 0 }

// Clear drops all nodes and tiles.
func (t *Tree[T]) Clear() {
	t.root = make(map[coords.Coord]*rootEntry[T])
	t.gen.Add(1)
}

// GetValue returns the value and active state at c.
func (t *Tree[T]) GetValue(c coords.Coord) (T, bool) {
	e, ok := t.root[RootKey(c)]
	if !ok {
		return t.background, false
	}
	if e.child != nil {
		return e.child.getValue(c)
	}
	return e.tile, e.active
}

// IsValueOn reports the active state at c.
func (t *Tree[T]) IsValueOn(c coords.Coord) bool {
	_, on := t.GetValue(c)
	return on
}

// touchRootChild returns the top-level internal node containing c,
// expanding a root tile or creating a new entry as needed. The root table
// mutex guards entry creation so concurrent writers owning disjoint leaves
// can grow the table safely.
func (t *Tree[T]) touchRootChild(c coords.Coord) *internalNode[T] {
	key := RootKey(c)
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.root[key]
	if !ok {
		e = &rootEntry[T]{tile: t.background}
		t.root[key] = e
	}
	if e.child == nil {
		e.child = newInternalNode(key, 2, e.tile, e.active)
	}
	return e.child
}

// SetValueOn sets the value at c and marks it active.
func (t *Tree[T]) SetValueOn(c coords.Coord, v T) {
	t.touchRootChild(c).setValueOn(c, v)
}

// SetValueOff sets the value at c and marks it inactive.
func (t *Tree[T]) SetValueOff(c coords.Coord, v T) {
	t.touchRootChild(c).setValueOff(c, v)
}

// SetActiveState flips only the activity at c, preserving the value.
func (t *Tree[T]) SetActiveState(c coords.Coord, on bool) {
	key := RootKey(c)
	if e, ok := t.root[key]; ok && e.child == nil && e.active == on {
		return
	}
	if _, ok := t.root[key]; !ok && !on {
		return
	}
	t.touchRootChild(c).setActiveState(c, on)
}

// SparseFill sets every voxel inside b to (v, active), representing fully
// covered node spans as tiles instead of allocating child structure.
func (t *Tree[T]) SparseFill(b coords.BBox, v T, active bool) {
	if b.Empty() {
		return
	}
	t.gen.Add(1)
	for x := b.Min.X >> upperTotalLog2; x <= b.Max.X>>upperTotalLog2; x++ {
		for y := b.Min.Y >> upperTotalLog2; y <= b.Max.Y>>upperTotalLog2; y++ {
			for z := b.Min.Z >> upperTotalLog2; z <= b.Max.Z>>upperTotalLog2; z++ {
				key := coords.Coord{X: x << upperTotalLog2, Y: y << upperTotalLog2, Z: z << upperTotalLog2}
				span := coords.CubeBBox(key, RootSpan)
				if b.ContainsBBox(span) {
					t.mu.Lock()
					t.root[key] = &rootEntry[T]{tile: v, active: active}
					t.mu.Unlock()
					continue
				}
				t.touchRootChild(key).sparseFill(b, v, active)
			}
		}
	}
}

// Prune collapses every uniform subtree into a tile.
func (t *Tree[T]) Prune() {
	t.gen.Add(1)
	for key, e := range t.root {
		if e.child == nil {
			continue
		}
		e.child.prune()
		if v, active, ok := e.child.isConstant(); ok {
			t.root[key] = &rootEntry[T]{tile: v, active: active}
		}
	}
}

// VoxelizeActiveTiles expands every active tile into full leaf topology.
// Required before per-voxel passes that need leaf granularity everywhere.
func (t *Tree[T]) VoxelizeActiveTiles() {
	for key, e := range t.root {
		if e.child == nil {
			if !e.active {
				continue
			}
			e.child = newInternalNode(key, 2, e.tile, true)
		}
		e.child.voxelizeActiveTiles()
	}
}

// EvalActiveBoundingBox returns the bounds of all active voxels and tiles.
func (t *Tree[T]) EvalActiveBoundingBox() coords.BBox {
	b := coords.EmptyBBox()
	for key, e := range t.root {
		if e.child != nil {
			e.child.evalActiveBBox(&b)
		} else if e.active {
			b = b.Union(coords.CubeBBox(key, RootSpan))
		}
	}
	return b
}

// EvalLeafBoundingBox returns the bounds of all allocated leaf nodes.
func (t *Tree[T]) EvalLeafBoundingBox() coords.BBox {
	b := coords.EmptyBBox()
	for _, e := range t.root {
		if e.child != nil {
			e.child.evalLeafBBox(&b)
		}
	}
	return b
}

// ActiveVoxelCount returns the number of active voxels, counting tiles at
// their full resolution.
func (t *Tree[T]) ActiveVoxelCount() int64 {
	var total int64
	for _, e := range t.root {
		if e.child != nil {
			total += e.child.countActive()
		} else if e.active {
			total += int64(RootSpan) * int64(RootSpan) * int64(RootSpan)
		}
	}
	return total
}

// LeafCount returns the number of allocated leaf nodes.
func (t *Tree[T]) LeafCount() int {
	total := 0
	for _, e := range t.root {
		if e.child != nil {
			total += e.child.leafCount()
		}
	}
	return total
}

// ForEachLeaf visits every leaf. Iteration order is unspecified; use a
// LeafManager where deterministic order matters.
func (t *Tree[T]) ForEachLeaf(fn func(l *LeafNode[T])) {
	for _, e := range t.root {
		if e.child != nil {
			e.child.forEachLeaf(fn)
		}
	}
}

// ForEachActiveTile visits the covered span and value of every active
// tile, at any level. Leaf voxels are not visited.
func (t *Tree[T]) ForEachActiveTile(fn func(b coords.BBox, v T)) {
	for key, e := range t.root {
		if e.child == nil {
			if e.active {
				fn(coords.CubeBBox(key, RootSpan), e.tile)
			}
			continue
		}
		e.child.forEachActiveTile(fn)
	}
}

// TouchLeaf returns the leaf containing c, allocating it (and any missing
// ancestors) if needed.
func (t *Tree[T]) TouchLeaf(c coords.Coord) *LeafNode[T] {
	return t.touchRootChild(c).touchLeaf(c)
}

// ProbeLeaf returns the leaf containing c or nil.
func (t *Tree[T]) ProbeLeaf(c coords.Coord) *LeafNode[T] {
	e, ok := t.root[RootKey(c)]
	if !ok || e.child == nil {
		return nil
	}
	return e.child.probeLeaf(c)
}

// AddLeaf inserts l at its origin, replacing any existing leaf or tile.
func (t *Tree[T]) AddLeaf(l *LeafNode[T]) {
	t.gen.Add(1)
	t.touchRootChild(l.org).addLeaf(l)
}

// AddTile sets a uniform run covering the whole node span at the given
// level (1 = leaf span, 2 = 128^3 span, 3 = root span) without allocating
// child structure below it.
func (t *Tree[T]) AddTile(level int, c coords.Coord, v T, active bool) {
	t.gen.Add(1)
	if level >= 3 {
		key := RootKey(c)
		t.mu.Lock()
		t.root[key] = &rootEntry[T]{tile: v, active: active}
		t.mu.Unlock()
		return
	}
	t.touchRootChild(c).addTile(level, c, v, active)
}

// StealLeaf removes and returns the leaf containing c, leaving an inactive
// background tile in its place. Returns nil if no leaf exists there.
func (t *Tree[T]) StealLeaf(c coords.Coord) *LeafNode[T] {
	e, ok := t.root[RootKey(c)]
	if !ok || e.child == nil {
		return nil
	}
	l := e.child.stealLeaf(c, t.background)
	if l != nil {
		t.gen.Add(1)
	}
	return l
}

// Clone returns a deep copy of the tree.
func (t *Tree[T]) Clone() *Tree[T] {
	c := New(t.background)
	for key, e := range t.root {
		ne := &rootEntry[T]{tile: e.tile, active: e.active}
		if e.child != nil {
			ne.child = e.child.clone().(*internalNode[T])
		}
		c.root[key] = ne
	}
	return c
}

// MemUsage returns an estimate of the tree's memory footprint in bytes.
func (t *Tree[T]) MemUsage() int64 {
	var total int64
	for _, e := range t.root {
		if e.child != nil {
			total += e.child.memUsage()
		}
	}
	return total
}
