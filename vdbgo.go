package vdbgo

import (
	"time"

	"github.com/hupe1980/vdbgo/coords"
	"github.com/hupe1980/vdbgo/tree"
)

// Grid pairs a sparse tree with a world-space transform and a name. It
// is the handle callers pass between subsystems; the tree itself never
// knows about world space.
type Grid[T comparable] struct {
	tree      *tree.Tree[T]
	transform *coords.Transform
	name      string
	logger    *Logger
	metrics   MetricsCollector
}

// NewGrid creates an empty grid with the given background value.
func NewGrid[T comparable](background T, opts ...Option) *Grid[T] {
	o := applyOptions(opts)
	return &Grid[T]{
		tree:      tree.New(background),
		transform: o.transform,
		name:      o.name,
		logger:    o.logger,
		metrics:   o.metricsCollector,
	}
}

// WrapTree adopts an existing tree into a grid.
func WrapTree[T comparable](t *tree.Tree[T], opts ...Option) *Grid[T] {
	o := applyOptions(opts)
	return &Grid[T]{
		tree:      t,
		transform: o.transform,
		name:      o.name,
		logger:    o.logger,
		metrics:   o.metricsCollector,
	}
}

// Tree returns the underlying tree.
func (g *Grid[T]) Tree() *tree.Tree[T] { return g.tree }

// Transform returns the grid's index/world mapping.
func (g *Grid[T]) Transform() *coords.Transform { return g.transform }

// Name returns the grid's name.
func (g *Grid[T]) Name() string { return g.name }

// SetName sets the grid's name.
func (g *Grid[T]) SetName(name string) { g.name = name }

// Background returns the value of untouched space.
func (g *Grid[T]) Background() T { return g.tree.Background() }

// GetValue returns the value and activity at c.
func (g *Grid[T]) GetValue(c coords.Coord) (T, bool) { return g.tree.GetValue(c) }

// IsValueOn reports the activity at c.
func (g *Grid[T]) IsValueOn(c coords.Coord) bool { return g.tree.IsValueOn(c) }

// SetValueOn writes v at c and activates it.
func (g *Grid[T]) SetValueOn(c coords.Coord, v T) { g.tree.SetValueOn(c, v) }

// SetValueOff writes v at c and deactivates it.
func (g *Grid[T]) SetValueOff(c coords.Coord, v T) { g.tree.SetValueOff(c, v) }

// Accessor returns a path-caching accessor bound to the grid's tree.
// Accessors are single-goroutine; create one per worker.
func (g *Grid[T]) Accessor() *tree.ValueAccessor[T] {
	return tree.NewValueAccessor(g.tree)
}

// Fill sets every voxel inside b to (v, active), using tiles for fully
// covered coarse regions.
func (g *Grid[T]) Fill(b coords.BBox, v T, active bool) {
	g.tree.SparseFill(b, v, active)
}

// Prune collapses uniform subtrees into tiles. Value and activity are
// preserved; only the representation changes.
func (g *Grid[T]) Prune() {
	start := time.Now()
	g.tree.Prune()
	g.metrics.RecordPrune(time.Since(start))
	g.logger.LogPrune(g.name, g.tree.LeafCount())
}

// VoxelizeActiveTiles expands every active tile into leaf voxels, for
// passes needing per-voxel granularity.
func (g *Grid[T]) VoxelizeActiveTiles() { g.tree.VoxelizeActiveTiles() }

// TopologyUnion activates in g every region active in other. The grids
// must share a transform; values in g are not changed.
func TopologyUnion[T, U comparable](g *Grid[T], other *Grid[U]) error {
	if err := requireSameTransform(g.transform, other.transform); err != nil {
		return err
	}
	tree.TopologyUnion(g.tree, other.tree)
	return nil
}

// TopologyIntersection deactivates in g everything inactive in other.
func TopologyIntersection[T, U comparable](g *Grid[T], other *Grid[U]) error {
	if err := requireSameTransform(g.transform, other.transform); err != nil {
		return err
	}
	tree.TopologyIntersection(g.tree, other.tree)
	return nil
}

// TopologyDifference deactivates in g everything active in other.
func TopologyDifference[T, U comparable](g *Grid[T], other *Grid[U]) error {
	if err := requireSameTransform(g.transform, other.transform); err != nil {
		return err
	}
	tree.TopologyDifference(g.tree, other.tree)
	return nil
}

func requireSameTransform(a, b *coords.Transform) error {
	if a == b || a.Equal(b) {
		return nil
	}
	return &TransformMismatchError{A: a.String(), B: b.String()}
}

// EvalActiveBoundingBox returns the tight bounding box of active voxels
// and tiles.
func (g *Grid[T]) EvalActiveBoundingBox() coords.BBox {
	return g.tree.EvalActiveBoundingBox()
}

// ActiveVoxelCount returns the number of active voxels, counting tiles
// at voxel resolution.
func (g *Grid[T]) ActiveVoxelCount() int64 { return g.tree.ActiveVoxelCount() }

// LeafCount returns the number of allocated leaf nodes.
func (g *Grid[T]) LeafCount() int { return g.tree.LeafCount() }

// Empty reports whether the grid holds no nodes or tiles.
func (g *Grid[T]) Empty() bool { return g.tree.Empty() }

// Clone returns a deep copy sharing the transform.
func (g *Grid[T]) Clone() *Grid[T] {
	return &Grid[T]{
		tree:      g.tree.Clone(),
		transform: g.transform,
		name:      g.name,
		logger:    g.logger,
		metrics:   g.metrics,
	}
}

// MemUsage returns the approximate heap footprint in bytes.
func (g *Grid[T]) MemUsage() int64 { return g.tree.MemUsage() }
