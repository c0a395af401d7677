package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vdbgo/coords"
)

func TestCoordToOffsetLayout(t *testing.T) {
	// z is the fastest-varying axis: offset = x<<6 | y<<3 | z.
	assert.Equal(t, uint(0), CoordToOffset(coords.New(0, 0, 0)))
	assert.Equal(t, uint(1), CoordToOffset(coords.New(0, 0, 1)))
	assert.Equal(t, uint(8), CoordToOffset(coords.New(0, 1, 0)))
	assert.Equal(t, uint(64), CoordToOffset(coords.New(1, 0, 0)))
	assert.Equal(t, uint(511), CoordToOffset(coords.New(7, 7, 7)))

	// Only the low three bits of each component participate, so global
	// coordinates map to their in-leaf slot directly.
	assert.Equal(t, CoordToOffset(coords.New(3, 4, 5)), CoordToOffset(coords.New(11, 12, 13)))
	assert.Equal(t, CoordToOffset(coords.New(7, 0, 0)), CoordToOffset(coords.New(-1, 8, 16)))
}

func TestOffsetBijection(t *testing.T) {
	for off := uint(0); off < LeafSize; off++ {
		c := OffsetToLocalCoord(off)
		require.Equal(t, off, CoordToOffset(c), "offset %d", off)
		require.True(t, c.X >= 0 && c.X < LeafDim)
		require.True(t, c.Y >= 0 && c.Y < LeafDim)
		require.True(t, c.Z >= 0 && c.Z < LeafDim)
	}
}

func TestLeafNodeValues(t *testing.T) {
	l := NewLeafNode(coords.New(8, 0, -8), float32(1.5))

	assert.Equal(t, coords.New(8, 0, -8), l.Origin())
	assert.Equal(t, coords.CubeBBox(coords.New(8, 0, -8), LeafDim), l.BBox())
	assert.Equal(t, 0, l.CountOn())

	c := coords.New(9, 3, -2)
	l.SetValueOn(c, 2.5)
	assert.True(t, l.IsValueOn(c))
	assert.InDelta(t, 2.5, l.Value(c), 0)
	assert.Equal(t, 1, l.CountOn())

	v, on := l.ProbeValue(c)
	assert.True(t, on)
	assert.InDelta(t, 2.5, v, 0)

	l.SetValueOff(c, 3.5)
	assert.False(t, l.IsValueOn(c))
	assert.InDelta(t, 3.5, l.Value(c), 0)

	l.SetActiveState(c, true)
	assert.True(t, l.IsValueOn(c))
	assert.InDelta(t, 3.5, l.Value(c), 0)
}

func TestLeafActiveBBox(t *testing.T) {
	l := NewLeafNode(coords.New(0, 0, 0), 0)
	assert.True(t, l.ActiveBBox().Empty())

	l.SetValueOn(coords.New(1, 2, 3), 1)
	l.SetValueOn(coords.New(6, 0, 5), 1)
	assert.Equal(t, coords.NewBBox(coords.New(1, 0, 3), coords.New(6, 2, 5)), l.ActiveBBox())
}

func TestLeafFillAll(t *testing.T) {
	l := NewLeafNode(coords.New(0, 0, 0), float32(0))
	l.FillAll(7, true)
	assert.Equal(t, LeafSize, l.CountOn())
	assert.InDelta(t, 7.0, l.Value(coords.New(4, 4, 4)), 0)

	l.FillAll(0, false)
	assert.Equal(t, 0, l.CountOn())
}
