package tree

import (
	"github.com/hupe1980/vdbgo/coords"
)

// Topology operations combine the active-mask shape of two trees,
// independent of values. They are generic over both value types so mask
// trees (Tree[bool]) can drive typed trees. Newly created nodes in the
// destination hold the destination background; only activity is copied.
//
// When a tile meets an expanded child the tile is voxelized into the
// child's resolution before the per-voxel boolean is applied
// (voxelize-on-conflict), keeping repeated combinations free of topology
// drift.

// TopologyUnion activates in dst every region active in src.
func TopologyUnion[T, U comparable](dst *Tree[T], src *Tree[U]) {
	for key, se := range src.root {
		if se.child == nil {
			if !se.active {
				continue
			}
			de, ok := dst.root[key]
			if !ok {
				dst.root[key] = &rootEntry[T]{tile: dst.background, active: true}
				continue
			}
			if de.child != nil {
				activateAll(de.child)
			} else {
				de.active = true
			}
			continue
		}
		de, ok := dst.root[key]
		if !ok {
			de = &rootEntry[T]{tile: dst.background}
			dst.root[key] = de
		}
		if de.child == nil {
			if de.active {
				continue // already fully active
			}
			de.child = newInternalNode(key, 2, de.tile, de.active)
		}
		unionNodes(de.child, se.child, dst.background)
	}
}

// TopologyIntersection deactivates in dst everything inactive in src.
func TopologyIntersection[T, U comparable](dst *Tree[T], src *Tree[U]) {
	for key, de := range dst.root {
		se, ok := src.root[key]
		if !ok {
			deactivateEntry(de)
			continue
		}
		if se.child == nil {
			if !se.active {
				deactivateEntry(de)
			}
			continue
		}
		if de.child == nil {
			if !de.active {
				continue
			}
			de.child = newInternalNode(key, 2, de.tile, true)
			de.active = false
		}
		intersectNodes(de.child, se.child)
	}
}

// TopologyDifference deactivates in dst everything active in src.
func TopologyDifference[T, U comparable](dst *Tree[T], src *Tree[U]) {
	for key, de := range dst.root {
		se, ok := src.root[key]
		if !ok {
			continue
		}
		if se.child == nil {
			if se.active {
				deactivateEntry(de)
			}
			continue
		}
		if de.child == nil {
			if !de.active {
				continue
			}
			de.child = newInternalNode(key, 2, de.tile, true)
			de.active = false
		}
		differenceNodes(de.child, se.child)
	}
}

func deactivateEntry[T comparable](e *rootEntry[T]) {
	if e.child != nil {
		deactivateAll(e.child)
	} else {
		e.active = false
	}
}

func activateAll[T comparable](n node[T]) {
	switch d := n.(type) {
	case *LeafNode[T]:
		d.mask.SetAll(true)
	case *internalNode[T]:
		d.childMask.ForEachOn(func(i uint) {
			activateAll(d.children[i])
		})
		d.valueMask.SetAll(true)
	}
}

func deactivateAll[T comparable](n node[T]) {
	switch d := n.(type) {
	case *LeafNode[T]:
		d.mask.SetAll(false)
	case *internalNode[T]:
		d.childMask.ForEachOn(func(i uint) {
			deactivateAll(d.children[i])
		})
		d.valueMask.SetAll(false)
	}
}

func isAnyActive[U comparable](n node[U]) bool {
	switch s := n.(type) {
	case *LeafNode[U]:
		return !s.mask.IsAllOff()
	case *internalNode[U]:
		if !s.valueMask.IsAllOff() {
			// valueMask bits under child slots are ignored, so check
			// for a genuine active tile.
			found := false
			s.valueMask.ForEachOn(func(i uint) {
				if !s.childMask.IsOn(i) {
					found = true
				}
			})
			if found {
				return true
			}
		}
		any := false
		s.childMask.ForEachOn(func(i uint) {
			if !any && isAnyActive(s.children[i]) {
				any = true
			}
		})
		return any
	}
	return false
}

func unionNodes[T, U comparable](dst node[T], src node[U], background T) {
	d, ok := dst.(*internalNode[T])
	if !ok {
		dl := dst.(*LeafNode[T])
		sl := src.(*LeafNode[U])
		unionLeafMask(dl, sl)
		return
	}
	s := src.(*internalNode[U])
	size := uint(internalSize(d.level))
	for i := uint(0); i < size; i++ {
		srcHasChild := s.childMask.IsOn(i)
		if !srcHasChild {
			if !s.valueMask.IsOn(i) {
				continue
			}
			// Active source tile: absorb as fully-on.
			if d.childMask.IsOn(i) {
				activateAll(d.children[i])
			} else {
				d.valueMask.SetOn(i)
			}
			continue
		}
		if !d.childMask.IsOn(i) {
			if d.valueMask.IsOn(i) {
				continue // destination already fully active here
			}
			d.expandTile(i)
		}
		unionNodes(d.children[i], s.children[i], background)
	}
}

func unionLeafMask[T, U comparable](dl *LeafNode[T], sl *LeafNode[U]) {
	sl.mask.ForEachOn(func(i uint) {
		dl.mask.SetOn(i)
	})
}

func intersectNodes[T, U comparable](dst node[T], src node[U]) {
	d, ok := dst.(*internalNode[T])
	if !ok {
		dl := dst.(*LeafNode[T])
		sl := src.(*LeafNode[U])
		dl.mask.ForEachOn(func(i uint) {
			if !sl.mask.IsOn(i) {
				dl.mask.SetOff(i)
			}
		})
		return
	}
	s := src.(*internalNode[U])
	size := uint(internalSize(d.level))
	for i := uint(0); i < size; i++ {
		srcHasChild := s.childMask.IsOn(i)
		srcTileActive := !srcHasChild && s.valueMask.IsOn(i)
		if d.childMask.IsOn(i) {
			if srcHasChild {
				intersectNodes(d.children[i], s.children[i])
			} else if !srcTileActive {
				deactivateAll(d.children[i])
			}
			continue
		}
		if !d.valueMask.IsOn(i) {
			continue
		}
		if srcTileActive {
			continue
		}
		if !srcHasChild {
			d.valueMask.SetOff(i)
			continue
		}
		// Active destination tile vs source child: voxelize then intersect.
		d.expandTile(i)
		intersectNodes(d.children[i], s.children[i])
	}
}

func differenceNodes[T, U comparable](dst node[T], src node[U]) {
	d, ok := dst.(*internalNode[T])
	if !ok {
		dl := dst.(*LeafNode[T])
		sl := src.(*LeafNode[U])
		sl.mask.ForEachOn(func(i uint) {
			dl.mask.SetOff(i)
		})
		return
	}
	s := src.(*internalNode[U])
	size := uint(internalSize(d.level))
	for i := uint(0); i < size; i++ {
		srcHasChild := s.childMask.IsOn(i)
		srcTileActive := !srcHasChild && s.valueMask.IsOn(i)
		if d.childMask.IsOn(i) {
			if srcHasChild {
				differenceNodes(d.children[i], s.children[i])
			} else if srcTileActive {
				deactivateAll(d.children[i])
			}
			continue
		}
		if !d.valueMask.IsOn(i) {
			continue
		}
		if srcTileActive {
			d.valueMask.SetOff(i)
			continue
		}
		if !srcHasChild {
			continue
		}
		if !isAnyActive[U](s.children[i]) {
			continue
		}
		// Active destination tile vs source child: voxelize then subtract.
		d.expandTile(i)
		differenceNodes(d.children[i], s.children[i])
	}
}

// PruneInactive collapses uniform subtrees and additionally drops entries
// that hold no activity at all, leaving background tiles.
func PruneInactive[T comparable](t *Tree[T]) {
	t.Prune()
	for key, e := range t.root {
		if e.child == nil && !e.active && e.tile == t.background {
			delete(t.root, key)
		}
	}
}

// ActiveTopologyEqual reports whether two trees activate exactly the same
// voxel set. Used by tests; resolution is per voxel.
func ActiveTopologyEqual[T, U comparable](a *Tree[T], b *Tree[U]) bool {
	ab := a.EvalActiveBoundingBox()
	bb := b.EvalActiveBoundingBox()
	box := ab.Union(bb)
	if box.Empty() {
		return true
	}
	for x := box.Min.X; x <= box.Max.X; x++ {
		for y := box.Min.Y; y <= box.Max.Y; y++ {
			for z := box.Min.Z; z <= box.Max.Z; z++ {
				c := coords.Coord{X: x, Y: y, Z: z}
				if a.IsValueOn(c) != b.IsValueOn(c) {
					return false
				}
			}
		}
	}
	return true
}
