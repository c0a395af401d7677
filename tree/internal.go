package tree

import (
	"github.com/hupe1980/vdbgo/coords"
	"github.com/hupe1980/vdbgo/mask"
)

// internalNode is a fixed fan-out node holding, per child slot, either an
// owned child node or a tile value. The child mask selects the
// interpretation; the value mask records the active state of tile slots.
// Level 1 nodes parent leaves (16^3 fan-out), level 2 nodes parent level 1
// nodes (32^3 fan-out).
type internalNode[T comparable] struct {
	org       coords.Coord
	level     int
	children  []node[T]
	tiles     []T
	childMask *mask.NodeMask
	valueMask *mask.NodeMask
}

func internalDims(level int) (log2dim, childLog2, totalLog2 int) {
	if level == 1 {
		return lowerLog2Dim, LeafLog2Dim, lowerTotalLog2
	}
	return upperLog2Dim, lowerTotalLog2, upperTotalLog2
}

func internalSize(level int) int {
	if level == 1 {
		return lowerSize
	}
	return upperSize
}

// newInternalNode creates a node whose slots are all tiles of (fill,
// active). The origin must be aligned to the node span.
func newInternalNode[T comparable](origin coords.Coord, level int, fill T, active bool) *internalNode[T] {
	size := internalSize(level)
	n := &internalNode[T]{
		org:       origin,
		level:     level,
		children:  make([]node[T], size),
		tiles:     make([]T, size),
		childMask: mask.New(uint(size)),
		valueMask: mask.New(uint(size)),
	}
	var zero T
	if fill != zero {
		for i := range n.tiles {
			n.tiles[i] = fill
		}
	}
	if active {
		n.valueMask.SetAll(true)
	}
	return n
}

func (n *internalNode[T]) origin() coords.Coord { return n.org }

func (n *internalNode[T]) bbox() coords.BBox {
	_, _, totalLog2 := internalDims(n.level)
	return coords.CubeBBox(n.org, 1<<totalLog2)
}

// coordToOffset maps a coordinate inside this node to its child slot.
func (n *internalNode[T]) coordToOffset(c coords.Coord) uint {
	log2dim, childLog2, totalLog2 := internalDims(n.level)
	m := uint32(1)<<totalLog2 - 1
	x := (uint32(c.X) & m) >> childLog2
	y := (uint32(c.Y) & m) >> childLog2
	z := (uint32(c.Z) & m) >> childLog2
	return uint(x<<(2*log2dim) | y<<log2dim | z)
}

// offsetToOrigin returns the origin of the child span for slot i.
func (n *internalNode[T]) offsetToOrigin(i uint) coords.Coord {
	log2dim, childLog2, _ := internalDims(n.level)
	dim := uint(1)<<log2dim - 1
	x := int32(i>>(2*log2dim)) << childLog2
	y := int32((i>>log2dim)&dim) << childLog2
	z := int32(i&dim) << childLog2
	return n.org.Add(coords.Coord{X: x, Y: y, Z: z})
}

func (n *internalNode[T]) childSpan() int32 {
	_, childLog2, _ := internalDims(n.level)
	return 1 << childLog2
}

// expandTile turns slot i from a tile into a child node filled with the
// tile's value and activity.
func (n *internalNode[T]) expandTile(i uint) node[T] {
	origin := n.offsetToOrigin(i)
	active := n.valueMask.IsOn(i)
	var child node[T]
	if n.level == 1 {
		l := NewLeafNode(origin, n.tiles[i])
		if active {
			l.mask.SetAll(true)
		}
		child = l
	} else {
		child = newInternalNode(origin, 1, n.tiles[i], active)
	}
	n.children[i] = child
	n.childMask.SetOn(i)
	return child
}

func (n *internalNode[T]) collapseChild(i uint, v T, active bool) {
	n.children[i] = nil
	n.childMask.SetOff(i)
	n.tiles[i] = v
	n.valueMask.Set(i, active)
}

func (n *internalNode[T]) getValue(c coords.Coord) (T, bool) {
	i := n.coordToOffset(c)
	if n.childMask.IsOn(i) {
		return n.children[i].getValue(c)
	}
	return n.tiles[i], n.valueMask.IsOn(i)
}

func (n *internalNode[T]) setValueOn(c coords.Coord, v T) {
	i := n.coordToOffset(c)
	if !n.childMask.IsOn(i) {
		if n.valueMask.IsOn(i) && n.tiles[i] == v {
			return
		}
		n.expandTile(i)
	}
	n.children[i].setValueOn(c, v)
}

func (n *internalNode[T]) setValueOff(c coords.Coord, v T) {
	i := n.coordToOffset(c)
	if !n.childMask.IsOn(i) {
		if !n.valueMask.IsOn(i) && n.tiles[i] == v {
			return
		}
		n.expandTile(i)
	}
	n.children[i].setValueOff(c, v)
}

func (n *internalNode[T]) setActiveState(c coords.Coord, on bool) {
	i := n.coordToOffset(c)
	if !n.childMask.IsOn(i) {
		if n.valueMask.IsOn(i) == on {
			return
		}
		n.expandTile(i)
	}
	n.children[i].setActiveState(c, on)
}

// sparseFill fills every voxel inside b with (v, active) while keeping
// fully covered child spans as tiles.
func (n *internalNode[T]) sparseFill(b coords.BBox, v T, active bool) {
	b = b.Intersect(n.bbox())
	if b.Empty() {
		return
	}
	span := n.childSpan()
	_, childLog2, _ := internalDims(n.level)
	for x := (b.Min.X - n.org.X) >> childLog2; x <= (b.Max.X-n.org.X)>>childLog2; x++ {
		for y := (b.Min.Y - n.org.Y) >> childLog2; y <= (b.Max.Y-n.org.Y)>>childLog2; y++ {
			for z := (b.Min.Z - n.org.Z) >> childLog2; z <= (b.Max.Z-n.org.Z)>>childLog2; z++ {
				childOrigin := n.org.Add(coords.Coord{X: x << childLog2, Y: y << childLog2, Z: z << childLog2})
				childBox := coords.CubeBBox(childOrigin, span)
				i := n.coordToOffset(childOrigin)
				if b.ContainsBBox(childBox) {
					// Fully covered: collapse to a tile, even if a
					// child was previously expanded here.
					n.collapseChild(i, v, active)
					continue
				}
				if !n.childMask.IsOn(i) {
					n.expandTile(i)
				}
				n.children[i].sparseFill(b, v, active)
			}
		}
	}
}

func (n *internalNode[T]) voxelizeActiveTiles() {
	size := internalSize(n.level)
	for i := uint(0); i < uint(size); i++ {
		if n.childMask.IsOn(i) {
			n.children[i].voxelizeActiveTiles()
		} else if n.valueMask.IsOn(i) {
			n.expandTile(i).voxelizeActiveTiles()
		}
	}
}

func (n *internalNode[T]) isConstant() (T, bool, bool) {
	var zero T
	if !n.childMask.IsAllOff() {
		return zero, false, false
	}
	on := n.valueMask.CountOn()
	size := uint(internalSize(n.level))
	if on != 0 && on != size {
		return zero, false, false
	}
	v := n.tiles[0]
	for i := 1; i < int(size); i++ {
		if n.tiles[i] != v {
			return zero, false, false
		}
	}
	return v, on == size, true
}

func (n *internalNode[T]) prune() {
	n.childMask.ForEachOn(func(i uint) {
		child := n.children[i]
		child.prune()
		if v, active, ok := child.isConstant(); ok {
			n.collapseChild(i, v, active)
		}
	})
}

func (n *internalNode[T]) evalActiveBBox(b *coords.BBox) {
	span := n.childSpan()
	n.childMask.ForEachOn(func(i uint) {
		n.children[i].evalActiveBBox(b)
	})
	n.valueMask.ForEachOn(func(i uint) {
		if n.childMask.IsOn(i) {
			return
		}
		*b = b.Union(coords.CubeBBox(n.offsetToOrigin(i), span))
	})
}

func (n *internalNode[T]) evalLeafBBox(b *coords.BBox) {
	n.childMask.ForEachOn(func(i uint) {
		n.children[i].evalLeafBBox(b)
	})
}

func (n *internalNode[T]) countActive() int64 {
	var total int64
	span := int64(n.childSpan())
	childVolume := span * span * span
	n.childMask.ForEachOn(func(i uint) {
		total += n.children[i].countActive()
	})
	n.valueMask.ForEachOn(func(i uint) {
		if !n.childMask.IsOn(i) {
			total += childVolume
		}
	})
	return total
}

func (n *internalNode[T]) leafCount() int {
	total := 0
	n.childMask.ForEachOn(func(i uint) {
		total += n.children[i].leafCount()
	})
	return total
}

func (n *internalNode[T]) forEachLeaf(fn func(l *LeafNode[T])) {
	n.childMask.ForEachOn(func(i uint) {
		n.children[i].forEachLeaf(fn)
	})
}

func (n *internalNode[T]) forEachActiveTile(fn func(b coords.BBox, v T)) {
	size := uint(internalSize(n.level))
	span := n.childSpan()
	for i := uint(0); i < size; i++ {
		if n.childMask.IsOn(i) {
			if child, ok := n.children[i].(*internalNode[T]); ok {
				child.forEachActiveTile(fn)
			}
			continue
		}
		if n.valueMask.IsOn(i) {
			fn(coords.CubeBBox(n.offsetToOrigin(i), span), n.tiles[i])
		}
	}
}

func (n *internalNode[T]) touchLeaf(c coords.Coord) *LeafNode[T] {
	i := n.coordToOffset(c)
	if !n.childMask.IsOn(i) {
		n.expandTile(i)
	}
	return n.children[i].touchLeaf(c)
}

func (n *internalNode[T]) probeLeaf(c coords.Coord) *LeafNode[T] {
	i := n.coordToOffset(c)
	if !n.childMask.IsOn(i) {
		return nil
	}
	return n.children[i].probeLeaf(c)
}

func (n *internalNode[T]) addLeaf(l *LeafNode[T]) {
	i := n.coordToOffset(l.org)
	if n.level == 1 {
		n.children[i] = l
		n.childMask.SetOn(i)
		return
	}
	if !n.childMask.IsOn(i) {
		n.expandTile(i)
	}
	n.children[i].addLeaf(l)
}

func (n *internalNode[T]) addTile(level int, c coords.Coord, v T, active bool) {
	i := n.coordToOffset(c)
	if level == n.level {
		n.collapseChild(i, v, active)
		return
	}
	if !n.childMask.IsOn(i) {
		n.expandTile(i)
	}
	n.children[i].addTile(level, c, v, active)
}

func (n *internalNode[T]) stealLeaf(c coords.Coord, replacement T) *LeafNode[T] {
	i := n.coordToOffset(c)
	if !n.childMask.IsOn(i) {
		return nil
	}
	if n.level == 1 {
		l, ok := n.children[i].(*LeafNode[T])
		if !ok {
			return nil
		}
		n.collapseChild(i, replacement, false)
		return l
	}
	return n.children[i].stealLeaf(c, replacement)
}

func (n *internalNode[T]) setBackground(old, new T) {
	if old == new {
		return
	}
	size := internalSize(n.level)
	for i := uint(0); i < uint(size); i++ {
		if n.childMask.IsOn(i) {
			n.children[i].setBackground(old, new)
		} else if !n.valueMask.IsOn(i) && n.tiles[i] == old {
			n.tiles[i] = new
		}
	}
}

func (n *internalNode[T]) clone() node[T] {
	c := &internalNode[T]{
		org:       n.org,
		level:     n.level,
		children:  make([]node[T], len(n.children)),
		tiles:     make([]T, len(n.tiles)),
		childMask: n.childMask.Clone(),
		valueMask: n.valueMask.Clone(),
	}
	copy(c.tiles, n.tiles)
	n.childMask.ForEachOn(func(i uint) {
		c.children[i] = n.children[i].clone()
	})
	return c
}

func (n *internalNode[T]) memUsage() int64 {
	size := int64(internalSize(n.level))
	total := size*valueSize[T]() + size/8*2
	n.childMask.ForEachOn(func(i uint) {
		total += n.children[i].memUsage()
	})
	return total
}
