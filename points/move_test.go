package points

import (
	"context"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/hupe1980/vdbgo/coords"
	"github.com/hupe1980/vdbgo/internal/blockcodec"
	"github.com/hupe1980/vdbgo/resource"
)

func sortedVecs(vs []r3.Vec) []r3.Vec {
	out := append([]r3.Vec(nil), vs...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].Z < out[j].Z
	})
	return out
}

func assertSamePositions(t *testing.T, want, got []r3.Vec, tol float64) {
	t.Helper()
	require.Equal(t, len(want), len(got))
	w, g := sortedVecs(want), sortedVecs(got)
	for i := range w {
		assert.InDelta(t, 0, r3.Norm(r3.Sub(w[i], g[i])), tol, "position %d", i)
	}
}

func TestMoveIdentityStealsLeaves(t *testing.T) {
	transform := coords.NewUniformScaleTransform(0.5)
	positions := []r3.Vec{
		{X: 0.1, Y: 0.2, Z: 0.3},
		{X: 10, Y: 0, Z: 0},
		{X: -5, Y: 3, Z: 1},
	}
	g, err := FromPositions(positions, transform)
	require.NoError(t, err)

	before := make(map[coords.Coord]*Leaf)
	for _, l := range g.Leaves() {
		l := l
		before[l.Node.Origin()] = &l
	}

	require.NoError(t, Move(context.Background(), g, IdentityDeformer{}))

	assert.Equal(t, uint64(3), g.PointCount())
	assertSamePositions(t, positions, g.WorldPositions(), 1e-6)

	// Every leaf was static: the exact node and attribute storage
	// survives the move.
	after := g.Leaves()
	require.Len(t, after, len(before))
	for _, l := range after {
		prev, ok := before[l.Node.Origin()]
		require.True(t, ok)
		assert.Same(t, prev.Node, l.Node)
		assert.Same(t, prev.Attrs, l.Attrs)
	}
}

func TestMoveOffsetDeformer(t *testing.T) {
	transform := coords.NewUniformScaleTransform(1)
	positions := []r3.Vec{
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 1, Z: 1},
		{X: 100, Y: 0, Z: 0},
	}
	g, err := FromPositions(positions, transform)
	require.NoError(t, err)

	offset := r3.Vec{X: 20, Y: 0, Z: 0}
	require.NoError(t, Move(context.Background(), g, OffsetDeformer{Offset: offset}))

	want := make([]r3.Vec, len(positions))
	for i, p := range positions {
		want[i] = r3.Add(p, offset)
	}
	assert.Equal(t, uint64(3), g.PointCount())
	assertSamePositions(t, want, g.WorldPositions(), 1e-5)
}

func TestMoveWithinVoxelRewritesPositions(t *testing.T) {
	transform := coords.NewUniformScaleTransform(1)
	g, err := FromPositions([]r3.Vec{{X: 0.1, Y: 0, Z: 0}}, transform)
	require.NoError(t, err)
	node := g.Leaves()[0].Node

	// A sub-voxel nudge keeps the leaf static but must update storage.
	require.NoError(t, Move(context.Background(), g, OffsetDeformer{Offset: r3.Vec{X: 0.2}}))

	assert.Same(t, node, g.Leaves()[0].Node)
	got := g.WorldPositions()
	require.Len(t, got, 1)
	assert.InDelta(t, 0.3, got[0].X, 1e-6)
}

func TestMoveDeterminism(t *testing.T) {
	transform := coords.NewUniformScaleTransform(0.25)

	// A pseudo-random cloud crossing many leaves.
	var positions []r3.Vec
	s := 1.0
	for i := 0; i < 500; i++ {
		s = math.Mod(s*997.13+0.731, 17)
		positions = append(positions, r3.Vec{
			X: s - 8,
			Y: math.Mod(s*3.7, 11) - 5,
			Z: math.Mod(s*1.9, 7) - 3,
		})
	}
	deformer := OffsetDeformer{Offset: r3.Vec{X: 1.37, Y: -0.92, Z: 0.44}}

	run := func(workers int) *Grid {
		g, err := FromPositions(positions, transform)
		require.NoError(t, err)
		require.NoError(t, Move(context.Background(), g, deformer, WithMoveWorkers(workers)))
		return g
	}

	a := run(8)
	b := run(8)
	c := run(1)

	for _, other := range []*Grid{b, c} {
		la, lo := a.Leaves(), other.Leaves()
		require.Equal(t, len(la), len(lo))
		for i := range la {
			require.Equal(t, la[i].Node.Origin(), lo[i].Node.Origin())
			require.Equal(t, la[i].Node.Buffer(), lo[i].Node.Buffer())
			pa := la[i].Attrs.Get(PositionAttribute).(*TypedArray[Vec3f])
			po := lo[i].Attrs.Get(PositionAttribute).(*TypedArray[Vec3f])
			require.Equal(t, pa.Values(), po.Values(), "leaf %d", i)
		}
	}
}

func TestMovePreservesAttributes(t *testing.T) {
	transform := coords.NewUniformScaleTransform(0.1)

	// Two points in the same voxel with string payloads; both values
	// must survive an identity move and a cross-leaf round trip.
	g, err := FromPositions([]r3.Vec{
		{X: 0.01, Y: 0, Z: 0},
		{X: 0.02, Y: 0, Z: 0},
	}, transform)
	require.NoError(t, err)

	labels := NewTypedArray[string](2)
	labels.Set(0, "abc")
	labels.Set(1, "def")
	require.NoError(t, g.Leaves()[0].Attrs.Append("test", labels))

	check := func() {
		require.Equal(t, uint64(2), g.PointCount())
		assert.Equal(t, 2, g.PointCountInVoxel(coords.New(0, 0, 0)))
		arr := g.Leaves()[0].Attrs.Get("test").(*TypedArray[string])
		got := []string{arr.Get(0), arr.Get(1)}
		sort.Strings(got)
		assert.Equal(t, []string{"abc", "def"}, got)
	}

	require.NoError(t, Move(context.Background(), g, IdentityDeformer{}))
	check()

	// A cross-leaf round trip must carry the attribute rows along.
	require.NoError(t, Move(context.Background(), g, OffsetDeformer{Offset: r3.Vec{X: 5}}))
	require.NoError(t, Move(context.Background(), g, OffsetDeformer{Offset: r3.Vec{X: -5}}))
	check()
}

func TestMoveFilterDeletesPoints(t *testing.T) {
	transform := coords.NewUniformScaleTransform(1)
	g, err := FromPositions([]r3.Vec{
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 0, Z: 0},
		{X: 50, Y: 0, Z: 0},
	}, transform)
	require.NoError(t, err)

	// Keep only global points 0 and 2.
	f := NewBitmapFilterFromIndices([]uint64{0, 2})
	require.NoError(t, Move(context.Background(), g, IdentityDeformer{}, WithMoveFilter(f)))

	assert.Equal(t, uint64(2), g.PointCount())
	assertSamePositions(t, []r3.Vec{{X: 0, Y: 0, Z: 0}, {X: 50, Y: 0, Z: 0}}, g.WorldPositions(), 1e-6)
}

func TestMoveTargetTransform(t *testing.T) {
	src := coords.NewUniformScaleTransform(1)
	dst := coords.NewUniformScaleTransform(0.5)
	positions := []r3.Vec{{X: 1.2, Y: 0, Z: 0}, {X: -3.4, Y: 2, Z: 0}}

	g, err := FromPositions(positions, src)
	require.NoError(t, err)
	require.NoError(t, Move(context.Background(), g, IdentityDeformer{}, WithTargetTransform(dst)))

	assert.True(t, g.Transform().Equal(dst))
	assertSamePositions(t, positions, g.WorldPositions(), 1e-5)
}

func TestMoveCachedDeformer(t *testing.T) {
	transform := coords.NewUniformScaleTransform(1)
	positions := []r3.Vec{{X: 0, Y: 0, Z: 0}, {X: 9, Y: 9, Z: 9}}
	g, err := FromPositions(positions, transform)
	require.NoError(t, err)

	cached := NewCachedDeformer(OffsetDeformer{Offset: r3.Vec{X: 2}})
	require.NoError(t, Move(context.Background(), g, cached))

	want := []r3.Vec{{X: 2, Y: 0, Z: 0}, {X: 11, Y: 9, Z: 9}}
	assertSamePositions(t, want, g.WorldPositions(), 1e-6)
}

func TestMoveCompressedColumns(t *testing.T) {
	transform := coords.NewUniformScaleTransform(0.25)

	var positions []r3.Vec
	s := 1.0
	for i := 0; i < 300; i++ {
		s = math.Mod(s*997.13+0.731, 17)
		positions = append(positions, r3.Vec{
			X: s - 8,
			Y: math.Mod(s*3.7, 11) - 5,
			Z: math.Mod(s*1.9, 7) - 3,
		})
	}
	g, err := FromPositions(positions, transform)
	require.NoError(t, err)

	require.NoError(t, g.AppendAttribute("id", func(n int) Array {
		return NewTypedArray[int32](n)
	}))
	require.NoError(t, g.AppendAttribute("w", func(n int) Array {
		return NewUniformArray[float32](n, 1.5)
	}))

	// Number every point, then leave the column compressed so the move
	// has to decode it while many destination tasks read it at once.
	next := int32(0)
	for _, l := range g.Leaves() {
		ids := l.Attrs.Get("id").(*TypedArray[int32])
		for i := 0; i < ids.Len(); i++ {
			ids.Set(i, next)
			next++
		}
		require.NoError(t, ids.Compress(blockcodec.LZ4))
	}

	offset := r3.Vec{X: 1.37, Y: -0.92, Z: 0.44}
	require.NoError(t, Move(context.Background(), g, OffsetDeformer{Offset: offset}, WithMoveWorkers(8)))

	want := make([]r3.Vec, len(positions))
	for i, p := range positions {
		want[i] = r3.Add(p, offset)
	}
	assertSamePositions(t, want, g.WorldPositions(), 1e-5)

	// Every id survives exactly once and the uniform column keeps its
	// value on every row.
	var got []int32
	for _, l := range g.Leaves() {
		ids := l.Attrs.Get("id").(*TypedArray[int32])
		w := l.Attrs.Get("w").(*TypedArray[float32])
		for i := 0; i < ids.Len(); i++ {
			got = append(got, ids.Get(i))
			require.InDelta(t, 1.5, w.Get(i), 0)
		}
	}
	require.Len(t, got, len(positions))
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	for i, id := range got {
		require.Equal(t, int32(i), id)
	}
}

func TestMoveColumnTypeMismatch(t *testing.T) {
	transform := coords.NewUniformScaleTransform(1)
	g, err := FromPositions([]r3.Vec{{X: 0, Y: 0, Z: 0}, {X: 30, Y: 0, Z: 0}}, transform)
	require.NoError(t, err)
	require.NoError(t, g.AppendAttribute("id", func(n int) Array {
		return NewTypedArray[int32](n)
	}))

	// Swap one leaf's column for a diverging element type.
	origins := g.sortedOrigins()
	require.Len(t, origins, 2)
	old := g.attrs[origins[1]]
	bad := NewAttributeSet()
	require.NoError(t, bad.Append(PositionAttribute, old.Get(PositionAttribute)))
	require.NoError(t, bad.Append("id", NewTypedArray[float32](old.Get(PositionAttribute).Len())))
	g.attrs[origins[1]] = bad

	var mismatch *TypeMismatchError
	err = Move(context.Background(), g, OffsetDeformer{Offset: r3.Vec{X: 10}})
	assert.ErrorAs(t, err, &mismatch)
}

func TestMoveResourceBudget(t *testing.T) {
	transform := coords.NewUniformScaleTransform(1)
	positions := []r3.Vec{{X: 0, Y: 0, Z: 0}, {X: 30, Y: 0, Z: 0}}

	t.Run("within budget", func(t *testing.T) {
		g, err := FromPositions(positions, transform)
		require.NoError(t, err)
		rc := resource.NewController(resource.Config{MemoryLimitBytes: 1 << 20})

		require.NoError(t, Move(context.Background(), g, OffsetDeformer{Offset: r3.Vec{X: 10}}, WithMoveResources(rc)))
		assert.Equal(t, uint64(2), g.PointCount())
		// The reservation only spans the pass.
		assert.Zero(t, rc.MemoryUsage())
	})

	t.Run("over budget", func(t *testing.T) {
		g, err := FromPositions(positions, transform)
		require.NoError(t, err)
		rc := resource.NewController(resource.Config{MemoryLimitBytes: 16})

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		err = Move(ctx, g, OffsetDeformer{Offset: r3.Vec{X: 10}}, WithMoveResources(rc))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestMoveCancellation(t *testing.T) {
	transform := coords.NewUniformScaleTransform(1)
	g, err := FromPositions([]r3.Vec{{X: 0, Y: 0, Z: 0}, {X: 30, Y: 0, Z: 0}}, transform)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Move(ctx, g, IdentityDeformer{}), context.Canceled)
}

func TestMoveMissingPositions(t *testing.T) {
	g := New(coords.NewUniformScaleTransform(1))
	// An empty grid is a no-op, not an error.
	require.NoError(t, Move(context.Background(), g, IdentityDeformer{}))
}
