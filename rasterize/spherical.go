package rasterize

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/hupe1980/vdbgo/coords"
	"github.com/hupe1980/vdbgo/tree"
)

// stampSphericalLeaf rasterizes all candidate points into one narrow-band
// leaf. Every active voxel keeps the smallest signed distance produced by
// any sphere; a voxel inside some sphere's interior band is sealed at
// -background, switched off, and skipped by later points. Voxels no
// sphere reached are deactivated during the final sweep so the band holds
// only voxels with a real distance.
func stampSphericalLeaf(ps *pointSource, sdfLeaf *tree.LeafNode[float32], cpgLeaf *tree.LeafNode[int64], cands []int) {
	background := ps.background()
	buf := sdfLeaf.Buffer()
	m := sdfLeaf.Mask()
	leafBox := sdfLeaf.BBox()

	var cpgBuf []int64
	if cpgLeaf != nil {
		cpgBuf = cpgLeaf.Buffer()
	}

	for _, i := range cands {
		ps.forEach(i, func(row int, ip r3.Vec, radius float64) {
			maxBand := radius + ps.hb
			box := coords.NewBBox(
				coords.Round(r3.Vec{X: ip.X - maxBand, Y: ip.Y - maxBand, Z: ip.Z - maxBand}),
				coords.Round(r3.Vec{X: ip.X + maxBand, Y: ip.Y + maxBand, Z: ip.Z + maxBand}),
			).Intersect(leafBox)
			if box.Empty() {
				return
			}

			max2 := maxBand * maxBand
			minBand := math.Max(0, radius-ps.hb)
			min2 := minBand * minBand
			if min2 == 0 {
				min2 = -1 // only a strictly interior voxel may seal
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
						if d2 >= max2 {
							continue
						}
						if d2 <= min2 {
							buf[off] = -background
							m.SetOff(off)
							if cpgBuf != nil {
								cpgBuf[off] = -1
							}
							continue
						}
						d := float32(ps.dx * (math.Sqrt(d2) - radius))
						if d < buf[off] {
							buf[off] = d
							if cpgBuf != nil {
								cpgBuf[off] = PackCPG(i, row)
							}
						}
					}
				}
			}
		})
	}

	// Band voxels no sphere reached stay at +background and drop out of
	// the active set.
	m.ForEachOn(func(off uint) {
		if buf[off] == background {
			m.SetOff(off)
		}
	})
	if cpgLeaf != nil {
		cpgLeaf.Mask().CopyFrom(m)
	}
}
