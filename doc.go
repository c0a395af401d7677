// Package vdbgo implements a sparse hierarchical voxel tree for large,
// mostly-empty volumetric fields: signed distance fields, fog volumes,
// and point clouds bucketed into voxels.
//
// The tree has a fixed 5-4-3 shape: 8x8x8 leaf nodes under two levels of
// internal nodes (16^3 and 32^3 fan-out) under an unbounded root table.
// Regions never touched cost nothing; large uniform regions collapse
// into single tile values. Every node tracks per-voxel (or per-slot)
// activity in a bit mask, so iteration visits only the meaningful part
// of the volume.
//
// The Grid type in this package pairs a tree with a world-space
// transform and is the handle most callers hold. The heavy algorithms
// live in subpackages:
//
//   - tree: nodes, accessors, leaf managers, topology operations
//   - points: point storage, merge, and concurrent point moving
//   - rasterize: narrow-band SDF construction from point sets
//
// Basic usage:
//
//	grid := vdbgo.NewGrid[float32](1.0, vdbgo.WithVoxelSize(0.1))
//	grid.SetValueOn(coords.New(1, 2, 3), 0.5)
//	v, on := grid.GetValue(coords.New(1, 2, 3))
package vdbgo
