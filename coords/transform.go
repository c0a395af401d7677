package coords

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Transform maps between continuous index space and world space with a
// per-axis scale followed by a translation. The zero value is unusable;
// construct with NewLinearTransform or NewUniformScaleTransform.
type Transform struct {
	scale     r3.Vec
	invScale  r3.Vec
	translate r3.Vec
}

// NewLinearTransform returns a transform with independent voxel sizes per
// axis and a world-space offset. Scales must be non-zero.
func NewLinearTransform(scale, translate r3.Vec) *Transform {
	return &Transform{
		scale:     scale,
		invScale:  r3.Vec{X: 1 / scale.X, Y: 1 / scale.Y, Z: 1 / scale.Z},
		translate: translate,
	}
}

// NewUniformScaleTransform returns a transform with cubic voxels of the
// given size and no offset.
func NewUniformScaleTransform(voxelSize float64) *Transform {
	return NewLinearTransform(r3.Vec{X: voxelSize, Y: voxelSize, Z: voxelSize}, r3.Vec{})
}

// VoxelSize returns the per-axis voxel dimensions.
func (t *Transform) VoxelSize() r3.Vec { return t.scale }

// HasUniformScale reports whether all three voxel dimensions are equal.
func (t *Transform) HasUniformScale() bool {
	return t.scale.X == t.scale.Y && t.scale.Y == t.scale.Z
}

// IndexToWorld maps a continuous index-space position to world space.
func (t *Transform) IndexToWorld(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: p.X*t.scale.X + t.translate.X,
		Y: p.Y*t.scale.Y + t.translate.Y,
		Z: p.Z*t.scale.Z + t.translate.Z,
	}
}

// IndexToWorldCoord maps a voxel coordinate to the world-space position
// of its lattice point.
func (t *Transform) IndexToWorldCoord(c Coord) r3.Vec {
	return t.IndexToWorld(c.Vec())
}

// WorldToIndex maps a world-space position to continuous index space.
func (t *Transform) WorldToIndex(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: (p.X - t.translate.X) * t.invScale.X,
		Y: (p.Y - t.translate.Y) * t.invScale.Y,
		Z: (p.Z - t.translate.Z) * t.invScale.Z,
	}
}

// WorldToIndexCellCentered maps a world-space position to the coordinate
// of the nearest voxel center.
func (t *Transform) WorldToIndexCellCentered(p r3.Vec) Coord {
	return Round(t.WorldToIndex(p))
}

// WorldToIndexNodeCentered maps a world-space position to the coordinate
// of the voxel whose lower corner contains it.
func (t *Transform) WorldToIndexNodeCentered(p r3.Vec) Coord {
	return Floor(t.WorldToIndex(p))
}

// Equal reports whether two transforms map identically.
func (t *Transform) Equal(o *Transform) bool {
	return t.scale == o.scale && t.translate == o.translate
}

func (t *Transform) String() string {
	return fmt.Sprintf("scale=%v translate=%v", t.scale, t.translate)
}
