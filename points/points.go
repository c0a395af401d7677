// Package points stores point clouds inside the sparse voxel tree. Each
// leaf keeps a per-voxel cumulative point count in its value buffer and a
// parallel set of attribute columns, so "the Nth point in voxel V" is an
// O(1) row lookup. Positions are stored voxel-local, which keeps them in
// single precision without drift at large world coordinates.
package points

import (
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/hupe1980/vdbgo/coords"
	"github.com/hupe1980/vdbgo/tree"
)

// Grid is a point cloud bucketed into the sparse tree. Leaf voxel values
// are inclusive prefix sums of per-voxel point counts; a voxel is active
// iff it holds at least one point.
type Grid struct {
	tree      *tree.Tree[uint32]
	transform *coords.Transform
	attrs     map[coords.Coord]*AttributeSet
	name      string
}

// Leaf pairs a tree leaf with its attribute columns for iteration.
type Leaf struct {
	// Index is the leaf's position in the grid's deterministic order.
	Index int
	Node  *tree.LeafNode[uint32]
	Attrs *AttributeSet
}

// New returns an empty point grid with the given transform.
func New(transform *coords.Transform) *Grid {
	return &Grid{
		tree:      tree.New[uint32](0),
		transform: transform,
		attrs:     make(map[coords.Coord]*AttributeSet),
	}
}

// FromPositions buckets world-space positions into a new grid. Point
// order within a voxel follows input order, so construction is
// deterministic.
func FromPositions(positions []r3.Vec, transform *coords.Transform) (*Grid, error) {
	if len(positions) == 0 {
		return nil, ErrEmptyPointSet
	}

	type slot struct {
		voxel uint // offset within leaf
		src   int  // input index
	}
	buckets := make(map[coords.Coord][]slot)
	locals := make([]Vec3f, len(positions))

	for i, p := range positions {
		ip := transform.WorldToIndex(p)
		voxel := coords.Round(ip)
		locals[i] = Vec3f{
			float32(ip.X - float64(voxel.X)),
			float32(ip.Y - float64(voxel.Y)),
			float32(ip.Z - float64(voxel.Z)),
		}
		origin := LeafOrigin(voxel)
		buckets[origin] = append(buckets[origin], slot{voxel: tree.CoordToOffset(voxel), src: i})
	}

	g := New(transform)
	for origin, slots := range buckets {
		// Counting sort by voxel offset keeps input order within a voxel.
		var counts [tree.LeafSize]uint32
		for _, s := range slots {
			counts[s.voxel]++
		}

		leaf := g.tree.TouchLeaf(origin)
		buf := leaf.Buffer()
		var running uint32
		for v := 0; v < tree.LeafSize; v++ {
			if counts[v] > 0 {
				leaf.Mask().SetOn(uint(v))
			}
			running += counts[v]
			buf[v] = running
		}

		pos := NewTypedArray[Vec3f](len(slots))
		var taken [tree.LeafSize]uint32
		for _, s := range slots {
			row := int(startOffset(buf, s.voxel) + taken[s.voxel])
			taken[s.voxel]++
			pos.Set(row, locals[s.src])
		}

		set := NewAttributeSet()
		_ = set.Append(PositionAttribute, pos)
		g.attrs[origin] = set
	}
	return g, nil
}

// LeafOrigin returns the origin of the leaf containing c.
func LeafOrigin(c coords.Coord) coords.Coord {
	return c.Mask(^int32(tree.LeafDim - 1))
}

func startOffset(buf []uint32, voxel uint) uint32 {
	if voxel == 0 {
		return 0
	}
	return buf[voxel-1]
}

// Tree returns the underlying offset tree.
func (g *Grid) Tree() *tree.Tree[uint32] { return g.tree }

// Transform returns the grid's index/world mapping.
func (g *Grid) Transform() *coords.Transform { return g.transform }

// Name returns the grid's name.
func (g *Grid) Name() string { return g.name }

// SetName sets the grid's name.
func (g *Grid) SetName(name string) { g.name = name }

// Empty reports whether the grid holds no points.
func (g *Grid) Empty() bool { return len(g.attrs) == 0 }

// Attributes returns the attribute set of the leaf at origin, or nil.
func (g *Grid) Attributes(origin coords.Coord) *AttributeSet {
	return g.attrs[origin]
}

// Leaves returns the grid's leaves in deterministic order: root entries
// by ascending (X, Y, Z) key, then depth-first child order. Algorithms
// that must be reproducible across runs index leaves by this order.
func (g *Grid) Leaves() []Leaf {
	m := tree.NewLeafManager(g.tree)
	out := make([]Leaf, 0, m.LeafCount())
	for i, node := range m.Leaves() {
		out = append(out, Leaf{Index: i, Node: node, Attrs: g.attrs[node.Origin()]})
	}
	return out
}

// PointCount returns the total number of points.
func (g *Grid) PointCount() uint64 {
	var total uint64
	g.tree.ForEachLeaf(func(l *tree.LeafNode[uint32]) {
		total += uint64(l.Buffer()[tree.LeafSize-1])
	})
	return total
}

// ActiveVoxelCount returns the number of voxels holding points.
func (g *Grid) ActiveVoxelCount() int64 {
	return g.tree.ActiveVoxelCount()
}

// PointCountInVoxel returns the number of points in the voxel at c.
func (g *Grid) PointCountInVoxel(c coords.Coord) int {
	leaf := g.tree.ProbeLeaf(c)
	if leaf == nil {
		return 0
	}
	buf := leaf.Buffer()
	v := tree.CoordToOffset(c)
	return int(buf[v] - startOffset(buf, v))
}

// PointRange returns the attribute row range [start, end) of the points
// in the voxel at c, along with the leaf's attribute set. The range is
// empty when the voxel holds no points.
func (g *Grid) PointRange(c coords.Coord) (start, end int, attrs *AttributeSet) {
	leaf := g.tree.ProbeLeaf(c)
	if leaf == nil {
		return 0, 0, nil
	}
	buf := leaf.Buffer()
	v := tree.CoordToOffset(c)
	return int(startOffset(buf, v)), int(buf[v]), g.attrs[leaf.Origin()]
}

// AppendAttribute adds a named column to every leaf, sized to the leaf's
// point count and default-valued. factory builds one column of n rows.
func (g *Grid) AppendAttribute(name string, factory func(n int) Array) error {
	for _, l := range g.Leaves() {
		n := int(l.Node.Buffer()[tree.LeafSize-1])
		if err := l.Attrs.Append(name, factory(n)); err != nil {
			return err
		}
	}
	return nil
}

// HasAttribute reports whether every leaf carries the named column.
// An empty grid reports false.
func (g *Grid) HasAttribute(name string) bool {
	if len(g.attrs) == 0 {
		return false
	}
	for _, set := range g.attrs {
		if set.Get(name) == nil {
			return false
		}
	}
	return true
}

// WorldPositions decodes every point position to world space, in
// deterministic leaf order then row order. Intended for tests and
// export.
func (g *Grid) WorldPositions() []r3.Vec {
	var out []r3.Vec
	for _, l := range g.Leaves() {
		pos := l.Attrs.Get(PositionAttribute).(*TypedArray[Vec3f])
		ForEachVoxelPoint(l.Node, func(voxel uint, row int) {
			c := l.Node.Origin().Add(tree.OffsetToLocalCoord(voxel))
			lp := pos.Get(row)
			ip := r3.Vec{
				X: float64(c.X) + float64(lp[0]),
				Y: float64(c.Y) + float64(lp[1]),
				Z: float64(c.Z) + float64(lp[2]),
			}
			out = append(out, g.transform.IndexToWorld(ip))
		})
	}
	return out
}

// leafPointCount returns the number of points stored in a leaf.
func leafPointCount(l *tree.LeafNode[uint32]) int {
	return int(l.Buffer()[tree.LeafSize-1])
}

// ForEachVoxelPoint visits every point row of a leaf in (voxel, row)
// order.
func ForEachVoxelPoint(l *tree.LeafNode[uint32], fn func(voxel uint, row int)) {
	buf := l.Buffer()
	var prev uint32
	for v := 0; v < tree.LeafSize; v++ {
		for row := prev; row < buf[v]; row++ {
			fn(uint(v), int(row))
		}
		prev = buf[v]
	}
}

// MemUsage returns the approximate heap footprint of the grid, tree and
// attributes combined.
func (g *Grid) MemUsage() int64 {
	total := g.tree.MemUsage()
	for _, set := range g.attrs {
		total += set.MemUsage()
	}
	return total
}

// stealLeaf detaches the leaf and attribute set at origin, leaving the
// grid without points there. Used by merge and move.
func (g *Grid) stealLeaf(origin coords.Coord) (*tree.LeafNode[uint32], *AttributeSet) {
	node := g.tree.StealLeaf(origin)
	if node == nil {
		return nil, nil
	}
	set := g.attrs[origin]
	delete(g.attrs, origin)
	return node, set
}

// adoptLeaf installs a leaf node and its attributes.
func (g *Grid) adoptLeaf(node *tree.LeafNode[uint32], set *AttributeSet) {
	g.tree.AddLeaf(node)
	g.attrs[node.Origin()] = set
}

// sortedOrigins returns leaf origins in deterministic order.
func (g *Grid) sortedOrigins() []coords.Coord {
	out := make([]coords.Coord, 0, len(g.attrs))
	for origin := range g.attrs {
		out = append(out, origin)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	return out
}
