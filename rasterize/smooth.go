package rasterize

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/hupe1980/vdbgo/coords"
	"github.com/hupe1980/vdbgo/tree"
)

// stampSmoothLeaf rasterizes all candidate points into one narrow-band
// leaf with the Zhu-Bridson kernel. Every voxel within the search radius
// of a point accumulates a cubic falloff weight together with weighted
// position and radius sums; the final distance at a voxel is measured
// against the weighted mean sphere. Voxels that collect no weight, or
// whose blended distance leaves the band, are deactivated.
func stampSmoothLeaf(ps *pointSource, sdfLeaf *tree.LeafNode[float32], cpgLeaf *tree.LeafNode[int64], cands []int) {
	background := ps.background()
	buf := sdfLeaf.Buffer()
	m := sdfLeaf.Mask()
	leafBox := sdfLeaf.BBox()
	origin := sdfLeaf.Origin()

	search := ps.search
	search2 := search * search
	if search2 <= 0 {
		m.SetAll(false)
		for off := range buf {
			buf[off] = background
		}
		if cpgLeaf != nil {
			cpgLeaf.Mask().SetAll(false)
		}
		return
	}

	var (
		weight  [tree.LeafSize]float64
		wpos    [tree.LeafSize]r3.Vec
		wradius [tree.LeafSize]float64
		minD2   [tree.LeafSize]float64
		closest [tree.LeafSize]int64
	)
	for off := range minD2 {
		minD2[off] = math.Inf(1)
		closest[off] = -1
	}

	for _, i := range cands {
		ps.forEach(i, func(row int, ip r3.Vec, radius float64) {
			box := coords.NewBBox(
				coords.Round(r3.Vec{X: ip.X - search, Y: ip.Y - search, Z: ip.Z - search}),
				coords.Round(r3.Vec{X: ip.X + search, Y: ip.Y + search, Z: ip.Z + search}),
			).Intersect(leafBox)
			if box.Empty() {
				return
			}

			for x := box.Min.X; x <= box.Max.X; x++ {
				dxw := float64(x) - ip.X
				for y := box.Min.Y; y <= box.Max.Y; y++ {
					dyw := float64(y) - ip.Y
					for z := box.Min.Z; z <= box.Max.Z; z++ {
						off := tree.CoordToOffset(coords.Coord{X: x, Y: y, Z: z})
						if !m.IsOn(off) {
							continue
						}
						dzw := float64(z) - ip.Z
						d2 := dxw*dxw + dyw*dyw + dzw*dzw
						s2 := d2 / search2
						if s2 >= 1 {
							continue
						}
						t := 1 - s2
						w := t * t * t
						weight[off] += w
						wpos[off] = r3.Add(wpos[off], r3.Scale(w, ip))
						wradius[off] += w * radius
						if d2 < minD2[off] {
							minD2[off] = d2
							closest[off] = PackCPG(i, row)
						}
					}
				}
			}
		})
	}

	var cpgBuf []int64
	if cpgLeaf != nil {
		cpgBuf = cpgLeaf.Buffer()
	}

	m.ForEachOn(func(off uint) {
		if weight[off] <= 0 {
			m.SetOff(off)
			return
		}
		w := weight[off]
		mean := r3.Scale(1/w, wpos[off])
		c := origin.Add(tree.OffsetToLocalCoord(off))
		delta := r3.Sub(mean, r3.Vec{X: float64(c.X), Y: float64(c.Y), Z: float64(c.Z)})
		d := ps.dx * (r3.Norm(delta) - wradius[off]/w)

		switch {
		case d <= -float64(background):
			buf[off] = -background
			m.SetOff(off)
		case d >= float64(background):
			buf[off] = background
			m.SetOff(off)
		default:
			buf[off] = float32(d)
			if cpgBuf != nil {
				cpgBuf[off] = closest[off]
			}
		}
	})
	if cpgLeaf != nil {
		cpgLeaf.Mask().CopyFrom(m)
	}
}
