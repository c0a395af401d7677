package points

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/hupe1980/vdbgo/coords"
)

func TestNullFilter(t *testing.T) {
	f := NullFilter{}
	lf := f.Bind(Leaf{}, 0)
	assert.True(t, lf.Valid(0))
	assert.True(t, lf.Valid(1<<20))
}

func TestBitmapFilterGlobalIndices(t *testing.T) {
	transform := coords.NewUniformScaleTransform(1)
	// Two leaves: three points near the origin, two points far away.
	g, err := FromPositions([]r3.Vec{
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 0, Z: 0},
		{X: 2, Y: 0, Z: 0},
		{X: 100, Y: 0, Z: 0},
		{X: 101, Y: 0, Z: 0},
	}, transform)
	require.NoError(t, err)

	leaves := g.Leaves()
	require.Len(t, leaves, 2)
	starts := LeafStarts(leaves)
	require.Equal(t, uint64(0), starts[0])

	// Keep global points 0, 2 and 3.
	f := NewBitmapFilterFromIndices([]uint64{0, 2, 3})
	assert.Equal(t, uint64(3), f.Cardinality())

	var kept int
	for i, l := range leaves {
		lf := f.Bind(l, starts[i])
		n := l.Attrs.Get(PositionAttribute).Len()
		for row := 0; row < n; row++ {
			if lf.Valid(row) {
				kept++
			}
		}
	}
	assert.Equal(t, 3, kept)

	// Row validity is relative to the leaf's global start.
	lf0 := f.Bind(leaves[0], starts[0])
	assert.True(t, lf0.Valid(0))
	assert.False(t, lf0.Valid(1))
	assert.True(t, lf0.Valid(2))
}
