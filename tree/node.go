// Package tree implements the sparse hierarchical voxel tree: a root table
// of unbounded extent over two levels of fixed fan-out internal nodes and
// dense 8x8x8 leaf nodes. Large uniform regions are represented as tiles (a
// single value covering an entire child span) and are only expanded into
// child structure on demand.
//
// The tree is generic over its voxel value type. Only equality is required
// of values; arithmetic on voxel data lives with the algorithms that need
// it and operates directly on leaf buffers.
package tree

import (
	"github.com/hupe1980/vdbgo/coords"
)

// Fixed 5-4-3 tree configuration. Leaf nodes span 8 voxels per axis, their
// parents 128, top-level internal nodes 4096.
const (
	LeafLog2Dim = 3
	LeafDim     = 1 << LeafLog2Dim
	LeafSize    = LeafDim * LeafDim * LeafDim

	lowerLog2Dim   = 4
	lowerDim       = 1 << lowerLog2Dim
	lowerSize      = lowerDim * lowerDim * lowerDim
	lowerTotalLog2 = LeafLog2Dim + lowerLog2Dim // node span = 1<<7 = 128

	upperLog2Dim   = 5
	upperDim       = 1 << upperLog2Dim
	upperSize      = upperDim * upperDim * upperDim
	upperTotalLog2 = lowerTotalLog2 + upperLog2Dim // node span = 1<<12 = 4096

	// RootSpan is the voxel extent of a single root-table entry.
	RootSpan = 1 << upperTotalLog2
)

// node is the common behavior of internal and leaf nodes. Values passed
// down during expansion come from the covering tile, so none of these
// operations need the tree background except the explicit background
// rewrite.
type node[T comparable] interface {
	origin() coords.Coord

	getValue(c coords.Coord) (T, bool)
	setValueOn(c coords.Coord, v T)
	setValueOff(c coords.Coord, v T)
	setActiveState(c coords.Coord, on bool)

	sparseFill(b coords.BBox, v T, active bool)
	voxelizeActiveTiles()

	// isConstant reports whether the whole subtree is a single
	// (value, active) pair and can collapse into a parent tile.
	isConstant() (T, bool, bool)
	prune()

	evalActiveBBox(b *coords.BBox)
	evalLeafBBox(b *coords.BBox)
	countActive() int64
	leafCount() int

	forEachLeaf(fn func(l *LeafNode[T]))
	touchLeaf(c coords.Coord) *LeafNode[T]
	probeLeaf(c coords.Coord) *LeafNode[T]
	addLeaf(l *LeafNode[T])
	addTile(level int, c coords.Coord, v T, active bool)
	stealLeaf(c coords.Coord, replacement T) *LeafNode[T]

	setBackground(old, new T)
	clone() node[T]
	memUsage() int64
}
