// Package coords provides the integer coordinate and bounding box value
// types used throughout the sparse tree. Coordinates are signed 32-bit and
// index voxels; node dimensions are always powers of two so the conversion
// between a coordinate and its containing node origin is a bit mask.
package coords

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Coord is a signed integer voxel coordinate. It is an immutable value type;
// all arithmetic returns new values.
type Coord struct {
	X, Y, Z int32
}

// New creates a Coord from three ints.
func New(x, y, z int32) Coord {
	return Coord{X: x, Y: y, Z: z}
}

// Add returns c + o componentwise.
func (c Coord) Add(o Coord) Coord {
	return Coord{c.X + o.X, c.Y + o.Y, c.Z + o.Z}
}

// Sub returns c - o componentwise.
func (c Coord) Sub(o Coord) Coord {
	return Coord{c.X - o.X, c.Y - o.Y, c.Z - o.Z}
}

// Offset returns c with n added to every component.
func (c Coord) Offset(n int32) Coord {
	return Coord{c.X + n, c.Y + n, c.Z + n}
}

// Mask returns c with every component masked by m. With m = ^(dim-1) this
// yields the origin of the dim-aligned node containing c.
func (c Coord) Mask(m int32) Coord {
	return Coord{c.X & m, c.Y & m, c.Z & m}
}

// Vec returns the coordinate as a double-precision vector.
func (c Coord) Vec() r3.Vec {
	return r3.Vec{X: float64(c.X), Y: float64(c.Y), Z: float64(c.Z)}
}

// Round returns the coordinate of the voxel containing v, rounding each
// component to the nearest integer with halfway cases away from zero.
func Round(v r3.Vec) Coord {
	return Coord{
		X: int32(math.Round(v.X)),
		Y: int32(math.Round(v.Y)),
		Z: int32(math.Round(v.Z)),
	}
}

// Floor returns the componentwise floor of v as a Coord.
func Floor(v r3.Vec) Coord {
	return Coord{
		X: int32(math.Floor(v.X)),
		Y: int32(math.Floor(v.Y)),
		Z: int32(math.Floor(v.Z)),
	}
}

// Min returns the componentwise minimum of a and b.
func Min(a, b Coord) Coord {
	return Coord{min(a.X, b.X), min(a.Y, b.Y), min(a.Z, b.Z)}
}

// Max returns the componentwise maximum of a and b.
func Max(a, b Coord) Coord {
	return Coord{max(a.X, b.X), max(a.Y, b.Y), max(a.Z, b.Z)}
}

func (c Coord) String() string {
	return fmt.Sprintf("[%d, %d, %d]", c.X, c.Y, c.Z)
}
