package points

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Filter selects points during traversal, merge and move. Bind is called
// once per leaf and returns the per-leaf view queried for each row; the
// view is used by a single goroutine, so Bind is the only method that
// must be safe for concurrent use. A filtered-out point is treated as
// deleted by the consuming operation.
type Filter interface {
	Bind(l Leaf, leafStart uint64) LeafFilter
}

// LeafFilter is a Filter bound to one leaf.
type LeafFilter interface {
	Valid(row int) bool
}

// NullFilter accepts every point.
type NullFilter struct{}

func (NullFilter) Bind(Leaf, uint64) LeafFilter { return NullFilter{} }
func (NullFilter) Valid(int) bool               { return true }

// BitmapFilter selects points by global index: leaf-start offset plus
// row, with leaves in the grid's deterministic order. The bitmap is
// read-only during traversal and safe to share across workers.
type BitmapFilter struct {
	bm *roaring64.Bitmap
}

// NewBitmapFilter returns a filter accepting exactly the global point
// indices present in bm.
func NewBitmapFilter(bm *roaring64.Bitmap) *BitmapFilter {
	return &BitmapFilter{bm: bm}
}

// NewBitmapFilterFromIndices builds the bitmap from a list of global
// point indices.
func NewBitmapFilterFromIndices(indices []uint64) *BitmapFilter {
	bm := roaring64.New()
	bm.AddMany(indices)
	return &BitmapFilter{bm: bm}
}

func (f *BitmapFilter) Bind(_ Leaf, leafStart uint64) LeafFilter {
	return boundBitmap{bm: f.bm, start: leafStart}
}

// Cardinality returns the number of accepted global indices.
func (f *BitmapFilter) Cardinality() uint64 {
	return f.bm.GetCardinality()
}

type boundBitmap struct {
	bm    *roaring64.Bitmap
	start uint64
}

func (b boundBitmap) Valid(row int) bool {
	return b.bm.Contains(b.start + uint64(row))
}

// LeafStarts returns, per leaf in deterministic order, the global index
// of its first point.
func LeafStarts(leaves []Leaf) []uint64 {
	starts := make([]uint64, len(leaves))
	var running uint64
	for i, l := range leaves {
		starts[i] = running
		running += uint64(leafPointCount(l.Node))
	}
	return starts
}
