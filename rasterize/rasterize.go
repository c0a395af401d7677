package rasterize

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/hupe1980/vdbgo"
	"github.com/hupe1980/vdbgo/coords"
	"github.com/hupe1980/vdbgo/points"
	"github.com/hupe1980/vdbgo/tree"
)

// RasterizeSpheres stamps every point as a sphere into a narrow-band
// signed distance field. Each voxel keeps the smallest signed distance
// any point produces for it (closest surface wins); voxels inside every
// influencing sphere's interior band are sealed at -background and never
// revisited.
func RasterizeSpheres(ctx context.Context, pts *points.Grid, s Settings) (*Result, error) {
	return run(ctx, pts, s, stampSphericalLeaf, true)
}

// RasterizeSmoothSpheres stamps points with the smoothed Zhu-Bridson
// kernel: each voxel accumulates a cubic falloff weight and weighted
// position/radius sums over all points within the search radius, then
// derives its distance from the weighted means. Isolated points reduce
// to plain spheres; near neighbors blend into a single smooth surface.
func RasterizeSmoothSpheres(ctx context.Context, pts *points.Grid, s Settings) (*Result, error) {
	return run(ctx, pts, s, stampSmoothLeaf, false)
}

// stampFunc rasterizes all candidate point leaves into one destination
// leaf. cpgLeaf is nil when no attribute transfer was requested.
type stampFunc func(ps *pointSource, sdfLeaf *tree.LeafNode[float32], cpgLeaf *tree.LeafNode[int64], cands []int)

func run(ctx context.Context, pts *points.Grid, s Settings, stamp stampFunc, interior bool) (result *Result, err error) {
	s = s.withDefaults(pts)
	startTime := time.Now()
	nPoints := int(pts.PointCount())
	defer func() {
		s.Metrics.RecordRasterize(nPoints, time.Since(startTime), err)
		if err != nil {
			s.Logger.LogRasterize(ctx, nPoints, 0, err)
		}
	}()

	if !s.Transform.HasUniformScale() {
		return nil, vdbgo.ErrNonUniformTransform
	}
	dx := s.Transform.VoxelSize().X
	background := float32(dx * s.HalfBand)

	leaves := pts.Leaves()
	for _, l := range leaves {
		if l.Attrs == nil || l.Attrs.Get(points.PositionAttribute) == nil {
			return nil, &points.MissingAttributeError{Name: points.PositionAttribute}
		}
	}

	sdfOpts := []vdbgo.Option{vdbgo.WithTransform(s.Transform), vdbgo.WithName("sdf")}
	if len(leaves) == 0 {
		return &Result{SDF: vdbgo.WrapTree(tree.New(background), sdfOpts...)}, nil
	}

	bands, err := computeLeafBands(leaves, s, dx)
	if err != nil {
		return nil, err
	}
	if !interior {
		// The smooth kernel gathers over its search radius, which may
		// reach past the per-radius band.
		searchIS := s.SearchRadius / dx
		for i := range bands {
			bands[i].maxBand = math.Max(bands[i].maxBand, searchIS)
		}
	}

	ps, err := newPointSource(pts, leaves, bands, s, dx)
	if err != nil {
		return nil, err
	}

	boxes := make([]coords.BBox, len(leaves))
	for i, l := range leaves {
		boxes[i] = ps.outBox(l.Node.BBox())
	}

	// The interior off-mask is only sound when every point participates
	// and the interior geometry was derived in the output index space.
	_, nullFilter := s.Filter.(points.NullFilter)
	masks, err := buildSurfaceMasks(ctx, boxes, bands, pointsClipBox(boxes, bands), interior && nullFilter && ps.sameT, s.Workers)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The surface mask's active count bounds the voxels initSDF will
	// materialize; reserve that storage before expanding it.
	bandBytes := masks.on.ActiveVoxelCount() * 5
	if err := s.Resources.AcquireMemory(ctx, bandBytes); err != nil {
		return nil, err
	}
	defer s.Resources.ReleaseMemory(bandBytes)

	sdfTree := initSDF(masks, background)

	// The closest-point grid mirrors the band topology. Built up front
	// so stamping workers never mutate shared structure.
	var cpgTree *tree.Tree[int64]
	if len(s.Attributes) > 0 {
		cpgTree = tree.New[int64](-1)
		tree.TopologyUnion(cpgTree, sdfTree)
	}

	manager := tree.NewLeafManager(sdfTree)
	stampErr := manager.ForEach(ctx, s.Workers, func(_ int, l *tree.LeafNode[float32]) error {
		cands := ps.candidates(l.Origin())
		var cpgLeaf *tree.LeafNode[int64]
		if cpgTree != nil {
			cpgLeaf = cpgTree.ProbeLeaf(l.Origin())
		}
		stamp(ps, l, cpgLeaf, cands)
		return nil
	})
	if stampErr != nil {
		return nil, stampErr
	}

	sdfTree.Prune()
	sdf := vdbgo.WrapTree(sdfTree, sdfOpts...)

	result = &Result{SDF: sdf}
	if cpgTree != nil {
		result.CPG = vdbgo.WrapTree(cpgTree, vdbgo.WithTransform(s.Transform), vdbgo.WithName("cpg"))
		result.Attributes, err = transferAttributes(ctx, s, leaves, cpgTree)
		if err != nil {
			return nil, err
		}
	}

	s.Logger.LogRasterize(ctx, nPoints, sdfTree.ActiveVoxelCount(), nil)
	return result, nil
}

// pointSource resolves positions, radii, and filtering for the stamping
// pass, and maps every destination leaf origin to the point leaves that
// can reach it. It is read-only during stamping and shared by workers.
type pointSource struct {
	leaves []points.Leaf
	starts []uint64

	ptsT, outT *coords.Transform
	sameT      bool

	radii []*points.TypedArray[float32] // nil with a fixed radius
	scale float64
	dx    float64
	hb    float64

	search float64 // smooth kernel support, index space

	filter points.Filter

	cands map[coords.Coord][]int
}

func newPointSource(pts *points.Grid, leaves []points.Leaf, bands []bandExtents, s Settings, dx float64) (*pointSource, error) {
	ps := &pointSource{
		leaves: leaves,
		starts: points.LeafStarts(leaves),
		ptsT:   pts.Transform(),
		outT:   s.Transform,
		scale:  s.RadiusScale,
		dx:     dx,
		hb:     s.HalfBand,
		search: s.SearchRadius / dx,
		filter: s.Filter,
		cands:  make(map[coords.Coord][]int),
	}
	ps.sameT = ps.ptsT == ps.outT || ps.ptsT.Equal(ps.outT)

	// Stamping workers read these columns concurrently; lazy expansion
	// is unsynchronized, so materialize them now.
	for _, l := range leaves {
		l.Attrs.Get(points.PositionAttribute).Expand()
	}

	if s.RadiusAttribute != "" {
		ps.radii = make([]*points.TypedArray[float32], len(leaves))
		for i, l := range leaves {
			arr := l.Attrs.Get(s.RadiusAttribute)
			if arr == nil {
				return nil, &points.MissingAttributeError{Name: s.RadiusAttribute}
			}
			typed, ok := arr.(*points.TypedArray[float32])
			if !ok {
				return nil, &points.TypeMismatchError{Want: "float32", Got: arr.TypeName()}
			}
			typed.Expand()
			ps.radii[i] = typed
		}
	}

	// Index candidate point leaves by the destination leaf origins their
	// expanded reach covers.
	for i, l := range leaves {
		reach := math.Max(bands[i].maxBand, ps.search)
		box := ps.outBox(l.Node.BBox()).Expand(int32(math.Ceil(reach)))
		minO := points.LeafOrigin(box.Min)
		maxO := points.LeafOrigin(box.Max)
		for x := minO.X; x <= maxO.X; x += tree.LeafDim {
			for y := minO.Y; y <= maxO.Y; y += tree.LeafDim {
				for z := minO.Z; z <= maxO.Z; z += tree.LeafDim {
					origin := coords.Coord{X: x, Y: y, Z: z}
					ps.cands[origin] = append(ps.cands[origin], i)
				}
			}
		}
	}
	return ps, nil
}

func (ps *pointSource) background() float32 { return float32(ps.dx * ps.hb) }

// outBox maps a point-space index box into the output index space.
func (ps *pointSource) outBox(b coords.BBox) coords.BBox {
	if ps.sameT {
		return b
	}
	lo := ps.outT.WorldToIndex(ps.ptsT.IndexToWorldCoord(b.Min))
	hi := ps.outT.WorldToIndex(ps.ptsT.IndexToWorldCoord(b.Max))
	return coords.NewBBox(
		coords.Floor(r3.Vec{X: math.Min(lo.X, hi.X), Y: math.Min(lo.Y, hi.Y), Z: math.Min(lo.Z, hi.Z)}),
		coords.Round(r3.Vec{X: math.Max(lo.X, hi.X), Y: math.Max(lo.Y, hi.Y), Z: math.Max(lo.Z, hi.Z)}),
	)
}

// candidates returns the point-leaf indices that can influence the
// destination leaf at origin, in ascending index order.
func (ps *pointSource) candidates(origin coords.Coord) []int {
	return ps.cands[origin]
}

// forEach visits every unfiltered point of leaf i with its output-space
// index position and index-space radius.
func (ps *pointSource) forEach(i int, fn func(row int, ip r3.Vec, radius float64)) {
	l := ps.leaves[i]
	lf := ps.filter.Bind(l, ps.starts[i])
	pos := l.Attrs.Get(points.PositionAttribute).(*points.TypedArray[points.Vec3f])
	origin := l.Node.Origin()

	points.ForEachVoxelPoint(l.Node, func(voxel uint, row int) {
		if !lf.Valid(row) {
			return
		}
		c := origin.Add(tree.OffsetToLocalCoord(voxel))
		lp := pos.Get(row)
		ip := r3.Vec{
			X: float64(c.X) + float64(lp[0]),
			Y: float64(c.Y) + float64(lp[1]),
			Z: float64(c.Z) + float64(lp[2]),
		}
		if !ps.sameT {
			ip = ps.outT.WorldToIndex(ps.ptsT.IndexToWorld(ip))
		}

		radius := ps.scale / ps.dx
		if ps.radii != nil {
			radius = float64(ps.radii[i].Get(row)) * ps.scale / ps.dx
		}
		fn(row, ip, radius)
	})
}
