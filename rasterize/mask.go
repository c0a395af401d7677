package rasterize

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vdbgo/coords"
	"github.com/hupe1980/vdbgo/points"
	"github.com/hupe1980/vdbgo/tree"
)

// bandExtents are one leaf's index-space narrow-band radii: maxBand is
// the furthest any of its points can influence, minBand the guaranteed
// interior distance shared by all of them.
type bandExtents struct {
	minBand float64
	maxBand float64
}

// fixedBand returns the band extents for a single index-space radius.
func fixedBand(radius, halfBand float64) bandExtents {
	return bandExtents{
		minBand: math.Max(0, radius-halfBand),
		maxBand: radius + halfBand,
	}
}

// computeLeafBands derives per-leaf band extents. With a radius
// attribute the extents follow the leaf's smallest and largest radius;
// otherwise every leaf shares the fixed extents.
func computeLeafBands(leaves []points.Leaf, s Settings, dx float64) ([]bandExtents, error) {
	out := make([]bandExtents, len(leaves))
	if s.RadiusAttribute == "" {
		b := fixedBand(s.RadiusScale/dx, s.HalfBand)
		for i := range out {
			out[i] = b
		}
		return out, nil
	}

	for i, l := range leaves {
		arr := l.Attrs.Get(s.RadiusAttribute)
		if arr == nil {
			return nil, &points.MissingAttributeError{Name: s.RadiusAttribute}
		}
		radii, ok := arr.(*points.TypedArray[float32])
		if !ok {
			return nil, &points.TypeMismatchError{Want: "float32", Got: arr.TypeName()}
		}
		minR := math.Inf(1)
		maxR := math.Inf(-1)
		for r := 0; r < arr.Len(); r++ {
			v := float64(radii.Get(r)) * s.RadiusScale / dx
			minR = math.Min(minR, v)
			maxR = math.Max(maxR, v)
		}
		out[i] = bandExtents{
			minBand: math.Max(0, minR-s.HalfBand),
			maxBand: maxR + s.HalfBand,
		}
	}
	return out, nil
}

// surfaceMasks holds one worker's partial activity masks: on marks
// voxels the points may influence, off the guaranteed-interior region
// safe to leave inactive.
type surfaceMasks struct {
	on  *tree.Tree[bool]
	off *tree.Tree[bool]
}

func newSurfaceMasks() *surfaceMasks {
	return &surfaceMasks{
		on:  tree.New(false),
		off: tree.New(false),
	}
}

// activate marks everything within dist voxels of the leaf box.
func (m *surfaceMasks) activate(box coords.BBox, dist int32, clip coords.BBox) {
	b := box.Expand(dist).Intersect(clip)
	if !b.Empty() {
		m.on.SparseFill(b, true, true)
	}
}

// deactivate marks the region guaranteed interior for every point in the
// leaf. The largest cube inscribed in the minimum-band sphere has half
// side minBand/sqrt(3); whole leaf spans inside it, less one span of
// margin for the point's unknown position within the leaf, can never see
// the surface.
func (m *surfaceMasks) deactivate(box coords.BBox, minBand float64) {
	halfSide := minBand / math.Sqrt(3)
	nodes := int(halfSide) / tree.LeafDim
	if nodes < 2 {
		return
	}
	dist := int32((nodes - 1) * tree.LeafDim)
	m.off.SparseFill(box.Expand(dist), true, true)
}

// join absorbs the smaller mask pair into the larger, keeping the union
// cost proportional to the smaller operand.
func (m *surfaceMasks) join(o *surfaceMasks) *surfaceMasks {
	a, b := m, o
	if a.on.LeafCount() < b.on.LeafCount() {
		a, b = b, a
	}
	tree.TopologyUnion(a.on, b.on)
	tree.TopologyUnion(a.off, b.off)
	return a
}

// buildSurfaceMasks runs the activity reduction over all point leaves.
// interior enables the off-mask optimization; it must be disabled when a
// filter may drop points, since a dropped point cannot vouch for
// interior coverage.
func buildSurfaceMasks(ctx context.Context, boxes []coords.BBox, bands []bandExtents,
	clip coords.BBox, interior bool, workers int) (*surfaceMasks, error) {

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	n := len(boxes)
	grain := (n + workers*4 - 1) / (workers * 4)
	if grain < 1 {
		grain = 1
	}
	numRanges := (n + grain - 1) / grain
	partials := make([]*surfaceMasks, numRanges)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for r := 0; r < numRanges; r++ {
		r := r
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			masks := newSurfaceMasks()
			start := r * grain
			end := start + grain
			if end > n {
				end = n
			}
			for i := start; i < end; i++ {
				dist := int32(math.Ceil(bands[i].maxBand))
				masks.activate(boxes[i], dist, clip)
				if interior {
					masks.deactivate(boxes[i], bands[i].minBand)
				}
			}
			partials[r] = masks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := partials[0]
	for _, p := range partials[1:] {
		out = out.join(p)
	}
	return out, nil
}

// initSDF seeds the narrow-band tree from the masks: the surface region
// is active at +background, the interior inactive at -background, and
// every active tile is expanded to voxels for the stamping pass.
func initSDF(masks *surfaceMasks, background float32) *tree.Tree[float32] {
	tree.TopologyDifference(masks.on, masks.off)
	tree.PruneInactive(masks.on)

	sdf := tree.New(background)
	tree.TopologyUnion(sdf, masks.on)

	masks.off.ForEachActiveTile(func(b coords.BBox, _ bool) {
		sdf.SparseFill(b, -background, false)
	})
	masks.off.ForEachLeaf(func(l *tree.LeafNode[bool]) {
		origin := l.Origin()
		l.Mask().ForEachOn(func(i uint) {
			sdf.SetValueOff(origin.Add(tree.OffsetToLocalCoord(i)), -background)
		})
	})

	sdf.VoxelizeActiveTiles()
	return sdf
}

// pointsClipBox estimates the overall region any point can influence:
// the union of leaf boxes expanded by the largest band.
func pointsClipBox(boxes []coords.BBox, bands []bandExtents) coords.BBox {
	box := coords.EmptyBBox()
	var maxBand float64
	for i, b := range boxes {
		box = box.Union(b)
		maxBand = math.Max(maxBand, bands[i].maxBand)
	}
	return box.Expand(int32(math.Ceil(maxBand)))
}
