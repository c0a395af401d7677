package coords

import (
	"fmt"
	"math"
)

// BBox is an axis-aligned, inclusive integer bounding box. A box is empty
// when Min exceeds Max componentwise; use EmptyBBox for the canonical empty
// box (the zero value is the single-voxel box at the origin).
type BBox struct {
	Min, Max Coord
}

// EmptyBBox returns the canonical empty box.
func EmptyBBox() BBox {
	return BBox{
		Min: Coord{math.MaxInt32, math.MaxInt32, math.MaxInt32},
		Max: Coord{math.MinInt32, math.MinInt32, math.MinInt32},
	}
}

// InfiniteBBox returns a box covering the whole index space.
func InfiniteBBox() BBox {
	return BBox{
		Min: Coord{math.MinInt32, math.MinInt32, math.MinInt32},
		Max: Coord{math.MaxInt32, math.MaxInt32, math.MaxInt32},
	}
}

// NewBBox creates a box spanning min..max inclusive.
func NewBBox(min, max Coord) BBox {
	return BBox{Min: min, Max: max}
}

// CubeBBox creates a box with the given origin spanning dim voxels per axis.
func CubeBBox(origin Coord, dim int32) BBox {
	return BBox{Min: origin, Max: origin.Offset(dim - 1)}
}

// Empty reports whether the box contains no voxels.
func (b BBox) Empty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// Contains reports whether c lies inside the box.
func (b BBox) Contains(c Coord) bool {
	return c.X >= b.Min.X && c.X <= b.Max.X &&
		c.Y >= b.Min.Y && c.Y <= b.Max.Y &&
		c.Z >= b.Min.Z && c.Z <= b.Max.Z
}

// ContainsBBox reports whether o lies entirely inside b.
func (b BBox) ContainsBBox(o BBox) bool {
	if o.Empty() {
		return true
	}
	return b.Contains(o.Min) && b.Contains(o.Max)
}

// Intersect returns the intersection of b and o.
func (b BBox) Intersect(o BBox) BBox {
	if b.Empty() || o.Empty() {
		return EmptyBBox()
	}
	r := BBox{Min: Max(b.Min, o.Min), Max: Min(b.Max, o.Max)}
	if r.Empty() {
		return EmptyBBox()
	}
	return r
}

// Expand grows the box by n voxels in every direction. A negative n shrinks
// it; a box that inverts becomes empty.
func (b BBox) Expand(n int32) BBox {
	if b.Empty() {
		return b
	}
	r := BBox{Min: b.Min.Offset(-n), Max: b.Max.Offset(n)}
	if r.Empty() {
		return EmptyBBox()
	}
	return r
}

// ExtendWith grows the box to include c.
func (b BBox) ExtendWith(c Coord) BBox {
	if b.Empty() {
		return BBox{Min: c, Max: c}
	}
	return BBox{Min: Min(b.Min, c), Max: Max(b.Max, c)}
}

// Union returns the smallest box containing both b and o.
func (b BBox) Union(o BBox) BBox {
	if b.Empty() {
		return o
	}
	if o.Empty() {
		return b
	}
	return BBox{Min: Min(b.Min, o.Min), Max: Max(b.Max, o.Max)}
}

// Translate shifts the box by t.
func (b BBox) Translate(t Coord) BBox {
	if b.Empty() {
		return b
	}
	return BBox{Min: b.Min.Add(t), Max: b.Max.Add(t)}
}

// Volume returns the number of voxels in the box.
func (b BBox) Volume() int64 {
	if b.Empty() {
		return 0
	}
	return int64(b.Max.X-b.Min.X+1) * int64(b.Max.Y-b.Min.Y+1) * int64(b.Max.Z-b.Min.Z+1)
}

func (b BBox) String() string {
	if b.Empty() {
		return "[empty]"
	}
	return fmt.Sprintf("%v -> %v", b.Min, b.Max)
}
