package rasterize

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/hupe1980/vdbgo"
	"github.com/hupe1980/vdbgo/coords"
	"github.com/hupe1980/vdbgo/points"
	"github.com/hupe1980/vdbgo/resource"
	"github.com/hupe1980/vdbgo/tree"
)

func singlePointGrid(t *testing.T, voxelSize float64, ps ...r3.Vec) *points.Grid {
	t.Helper()
	g, err := points.FromPositions(ps, coords.NewUniformScaleTransform(voxelSize))
	require.NoError(t, err)
	return g
}

func TestRasterizeSpheresSinglePoint(t *testing.T) {
	const (
		dx     = 0.1
		radius = 1.0 // world space, 10 voxels
	)
	pts := singlePointGrid(t, dx, r3.Vec{})

	res, err := RasterizeSpheres(context.Background(), pts, Settings{RadiusScale: radius})
	require.NoError(t, err)
	sdf := res.SDF

	background := float32(dx * DefaultHalfBand)
	assert.InDelta(t, float64(background), float64(sdf.Background()), 1e-6)
	assert.Nil(t, res.CPG)

	t.Run("band values", func(t *testing.T) {
		// Active band voxels carry dx*(dist - radius) exactly.
		for _, c := range []coords.Coord{
			{X: 10, Y: 0, Z: 0},
			{X: 12, Y: 0, Z: 0},
			{X: 8, Y: 0, Z: 0},
			{X: 0, Y: 9, Z: 5},
		} {
			dist := math.Sqrt(float64(c.X)*float64(c.X) + float64(c.Y)*float64(c.Y) + float64(c.Z)*float64(c.Z))
			want := dx * (dist - radius/dx)
			v, on := sdf.GetValue(c)
			require.True(t, on, "%v", c)
			assert.InDelta(t, want, float64(v), 1e-5, "%v", c)
		}
	})

	t.Run("interior is sealed", func(t *testing.T) {
		// Inside radius-halfband every voxel is inactive at -background.
		for _, c := range []coords.Coord{
			{X: 0, Y: 0, Z: 0},
			{X: 4, Y: 0, Z: 0},
			{X: 0, Y: 0, Z: 6},
		} {
			v, on := sdf.GetValue(c)
			assert.False(t, on, "%v", c)
			assert.InDelta(t, float64(-background), float64(v), 1e-6, "%v", c)
		}
	})

	t.Run("outside the band", func(t *testing.T) {
		v, on := sdf.GetValue(coords.New(14, 0, 0))
		assert.False(t, on)
		assert.InDelta(t, float64(background), float64(v), 1e-6)
	})

	t.Run("surface crossing", func(t *testing.T) {
		inside, _ := sdf.GetValue(coords.New(9, 0, 0))
		outside, _ := sdf.GetValue(coords.New(11, 0, 0))
		assert.Negative(t, inside)
		assert.Positive(t, outside)
	})
}

func TestRasterizeSpheresClosestWins(t *testing.T) {
	const dx = 0.1
	a := r3.Vec{X: 0, Y: 0, Z: 0}
	b := r3.Vec{X: 1.5, Y: 0, Z: 0}

	run := func(ps ...r3.Vec) *vdbgo.Grid[float32] {
		res, err := RasterizeSpheres(context.Background(), singlePointGrid(t, dx, ps...), Settings{RadiusScale: 0.5})
		require.NoError(t, err)
		return res.SDF
	}

	sdf := run(a, b)
	sdfPermuted := run(b, a)

	// The winning distance is a strict min, so point order cannot
	// change any voxel value.
	assert.True(t, tree.ActiveTopologyEqual(sdf.Tree(), sdfPermuted.Tree()))
	sdf.Tree().ForEachLeaf(func(l *tree.LeafNode[float32]) {
		origin := l.Origin()
		l.Mask().ForEachOn(func(off uint) {
			c := origin.Add(tree.OffsetToLocalCoord(off))
			v1, _ := sdf.GetValue(c)
			v2, _ := sdfPermuted.GetValue(c)
			require.Equal(t, v1, v2, "%v", c)
		})
	})

	// Midway between the points the nearer sphere owns the voxel.
	v, on := sdf.GetValue(coords.New(7, 0, 0))
	require.True(t, on)
	want := dx * (7 - 5) // dist 7 to a, 8 to b, radius 5 voxels
	assert.InDelta(t, want, float64(v), 1e-5)
}

func TestRasterizeSpheresAttributes(t *testing.T) {
	const dx = 0.1
	pts := singlePointGrid(t, dx, r3.Vec{}, r3.Vec{X: 3, Y: 0, Z: 0})
	require.NoError(t, pts.AppendAttribute("id", func(n int) points.Array {
		return points.NewTypedArray[int32](n)
	}))
	for _, l := range pts.Leaves() {
		ids := l.Attrs.Get("id").(*points.TypedArray[int32])
		pos := l.Attrs.Get(points.PositionAttribute)
		for i := 0; i < pos.Len(); i++ {
			if l.Node.Origin().X == 0 {
				ids.Set(i, 1)
			} else {
				ids.Set(i, 2)
			}
		}
	}

	res, err := RasterizeSpheres(context.Background(), pts, Settings{
		RadiusScale: 0.5,
		Attributes:  []string{"id"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.CPG)
	require.Len(t, res.Attributes, 1)
	assert.Equal(t, "id", res.Attributes[0].Name)

	ids, ok := res.Attributes[0].Grid.(*vdbgo.Grid[int32])
	require.True(t, ok)

	// The attribute grid shares the band topology and each voxel takes
	// the value of its closest point.
	assert.True(t, tree.ActiveTopologyEqual(ids.Tree(), res.SDF.Tree()))
	v, on := ids.GetValue(coords.New(5, 0, 0))
	require.True(t, on)
	assert.Equal(t, int32(1), v)
	v, on = ids.GetValue(coords.New(25, 0, 0))
	require.True(t, on)
	assert.Equal(t, int32(2), v)

	t.Run("cpg rows resolve", func(t *testing.T) {
		cv, on := res.CPG.GetValue(coords.New(5, 0, 0))
		require.True(t, on)
		leafIdx, row := UnpackCPG(cv)
		leaves := pts.Leaves()
		require.Less(t, leafIdx, len(leaves))
		require.Less(t, row, leaves[leafIdx].Attrs.Get("id").Len())
	})
}

func TestRasterizeSpheresPerPointRadius(t *testing.T) {
	const dx = 0.1
	pts := singlePointGrid(t, dx, r3.Vec{}, r3.Vec{X: 5, Y: 0, Z: 0})
	require.NoError(t, pts.AppendAttribute("pscale", func(n int) points.Array {
		return points.NewTypedArray[float32](n)
	}))
	// First point small, second large.
	for _, l := range pts.Leaves() {
		rs := l.Attrs.Get("pscale").(*points.TypedArray[float32])
		for i := 0; i < rs.Len(); i++ {
			if l.Node.Origin().X == 0 {
				rs.Set(i, 0.3)
			} else {
				rs.Set(i, 1.0)
			}
		}
	}

	res, err := RasterizeSpheres(context.Background(), pts, Settings{
		RadiusScale:     1.0,
		RadiusAttribute: "pscale",
	})
	require.NoError(t, err)

	// Near the small point the zero crossing sits at 3 voxels.
	v, on := res.SDF.GetValue(coords.New(0, 4, 0))
	require.True(t, on)
	assert.InDelta(t, dx*(4-3), float64(v), 1e-5)

	// Near the large point it sits at 10 voxels.
	v, on = res.SDF.GetValue(coords.New(50, 11, 0))
	require.True(t, on)
	assert.InDelta(t, dx*(11-10), float64(v), 1e-5)

	t.Run("missing attribute", func(t *testing.T) {
		_, err := RasterizeSpheres(context.Background(), pts, Settings{
			RadiusScale:     1.0,
			RadiusAttribute: "nope",
		})
		var missing *points.MissingAttributeError
		assert.ErrorAs(t, err, &missing)
	})
}

func TestRasterizeSpheresFilter(t *testing.T) {
	const dx = 0.1
	pts := singlePointGrid(t, dx, r3.Vec{}, r3.Vec{X: 10, Y: 0, Z: 0})

	// Drop the second point entirely.
	res, err := RasterizeSpheres(context.Background(), pts, Settings{
		RadiusScale: 0.5,
		Filter:      points.NewBitmapFilterFromIndices([]uint64{0}),
	})
	require.NoError(t, err)

	assert.True(t, res.SDF.IsValueOn(coords.New(5, 0, 0)))
	assert.False(t, res.SDF.IsValueOn(coords.New(105, 0, 0)))
	v, _ := res.SDF.GetValue(coords.New(105, 0, 0))
	assert.InDelta(t, float64(res.SDF.Background()), float64(v), 1e-6)
}

func TestRasterizeSpheresErrors(t *testing.T) {
	pts := singlePointGrid(t, 0.1, r3.Vec{})

	t.Run("non uniform transform", func(t *testing.T) {
		_, err := RasterizeSpheres(context.Background(), pts, Settings{
			RadiusScale: 1,
			Transform:   coords.NewLinearTransform(r3.Vec{X: 1, Y: 2, Z: 1}, r3.Vec{}),
		})
		assert.ErrorIs(t, err, vdbgo.ErrNonUniformTransform)
	})

	t.Run("cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := RasterizeSpheres(ctx, pts, Settings{RadiusScale: 1})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRasterizeSpheresResourceBudget(t *testing.T) {
	const dx = 0.1
	pts := singlePointGrid(t, dx, r3.Vec{})

	t.Run("within budget", func(t *testing.T) {
		rc := resource.NewController(resource.Config{MemoryLimitBytes: 64 << 20})
		res, err := RasterizeSpheres(context.Background(), pts, Settings{
			RadiusScale: 0.5,
			Resources:   rc,
		})
		require.NoError(t, err)
		assert.Positive(t, res.SDF.ActiveVoxelCount())
		// The band reservation only spans the pass.
		assert.Zero(t, rc.MemoryUsage())
	})

	t.Run("over budget", func(t *testing.T) {
		rc := resource.NewController(resource.Config{MemoryLimitBytes: 64})
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := RasterizeSpheres(ctx, pts, Settings{
			RadiusScale: 0.5,
			Resources:   rc,
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestRasterizeSpheresEmptyGrid(t *testing.T) {
	pts := points.New(coords.NewUniformScaleTransform(0.1))
	res, err := RasterizeSpheres(context.Background(), pts, Settings{RadiusScale: 1})
	require.NoError(t, err)
	assert.True(t, res.SDF.Empty())
	assert.Nil(t, res.CPG)
}

func TestRasterizeSmoothSpheresIsolatedPoint(t *testing.T) {
	const (
		dx     = 0.1
		radius = 0.5 // 5 voxels; default search radius equals RadiusScale
	)
	pts := singlePointGrid(t, dx, r3.Vec{})

	res, err := RasterizeSmoothSpheres(context.Background(), pts, Settings{RadiusScale: radius})
	require.NoError(t, err)
	sdf := res.SDF

	// With a single contributing point the weighted means collapse to
	// the point itself, so covered voxels carry the plain sphere
	// distance.
	for _, c := range []coords.Coord{
		{X: 3, Y: 0, Z: 0},
		{X: 4, Y: 0, Z: 0},
		{X: 0, Y: 3, Z: 2},
	} {
		dist := math.Sqrt(float64(c.X*c.X + c.Y*c.Y + c.Z*c.Z))
		v, on := sdf.GetValue(c)
		require.True(t, on, "%v", c)
		assert.InDelta(t, dx*(dist-radius/dx), float64(v), 1e-5, "%v", c)
	}

	// Voxels outside the kernel support gather no weight and drop out.
	v, on := sdf.GetValue(coords.New(6, 0, 0))
	assert.False(t, on)
	assert.InDelta(t, float64(sdf.Background()), float64(v), 1e-6)
}

func TestRasterizeSmoothSpheresBlends(t *testing.T) {
	const dx = 0.1
	// Two nearby points blend; the midpoint voxel must be at least as
	// inside as either isolated sphere would make it.
	pts := singlePointGrid(t, dx, r3.Vec{X: -0.2, Y: 0, Z: 0}, r3.Vec{X: 0.2, Y: 0, Z: 0})

	res, err := RasterizeSmoothSpheres(context.Background(), pts, Settings{
		RadiusScale:  0.3,
		SearchRadius: 0.6,
	})
	require.NoError(t, err)

	// On the symmetry axis the blended surface swallows the gap: the
	// origin voxel sits at -background.
	v, _ := res.SDF.GetValue(coords.New(0, 0, 0))
	assert.InDelta(t, float64(-res.SDF.Background()), float64(v), 1e-6)

	// Off axis the blend pulls the surface outward past the isolated
	// spheres: |mean - x| shrinks below the distance to either point.
	blended, on := res.SDF.GetValue(coords.New(0, 2, 0))
	require.True(t, on)
	isolated := dx * (math.Sqrt(8) - 3) // nearest-point distance, radius 3
	assert.Less(t, float64(blended), isolated)
}

func TestPackUnpackCPG(t *testing.T) {
	for _, tc := range [][2]int{{0, 0}, {1, 7}, {12345, 1 << 20}, {1 << 20, 0}} {
		v := PackCPG(tc[0], tc[1])
		leaf, row := UnpackCPG(v)
		assert.Equal(t, tc[0], leaf)
		assert.Equal(t, tc[1], row)
	}
}
