package points

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/hupe1980/vdbgo/coords"
	"github.com/hupe1980/vdbgo/resource"
)

func TestCompactAttributes(t *testing.T) {
	transform := coords.NewUniformScaleTransform(1)
	g, err := FromPositions([]r3.Vec{{X: 0, Y: 0, Z: 0}, {X: 20, Y: 0, Z: 0}}, transform)
	require.NoError(t, err)

	require.NoError(t, g.AppendAttribute("id", func(n int) Array {
		a := NewTypedArray[int32](n)
		return a // all zero, compactable
	}))

	assert.Equal(t, 2, g.CompactAttributes())
	for _, l := range g.Leaves() {
		assert.True(t, l.Attrs.Get("id").IsUniform())
	}
}

func TestCompressAttributes(t *testing.T) {
	transform := coords.NewUniformScaleTransform(0.01)
	var positions []r3.Vec
	for i := 0; i < 2000; i++ {
		positions = append(positions, r3.Vec{X: float64(i) * 0.003, Y: 0, Z: 0})
	}
	g, err := FromPositions(positions, transform)
	require.NoError(t, err)

	before := g.WorldPositions()
	require.NoError(t, g.CompressAttributes(context.Background(), CodecLZ4, nil, 4))

	compressed := 0
	for _, l := range g.Leaves() {
		if l.Attrs.Get(PositionAttribute).IsCompressed() {
			compressed++
		}
	}
	assert.Positive(t, compressed)

	// Reads expand transparently and values survive the round trip.
	assertSamePositions(t, before, g.WorldPositions(), 1e-6)
}

func TestCompressAttributesWithController(t *testing.T) {
	transform := coords.NewUniformScaleTransform(1)
	g, err := FromPositions([]r3.Vec{{X: 0, Y: 0, Z: 0}, {X: 100, Y: 0, Z: 0}}, transform)
	require.NoError(t, err)

	rc := resource.NewController(resource.Config{
		MaxBackgroundWorkers:     1,
		CompressLimitBytesPerSec: 64 << 20,
	})
	require.NoError(t, g.CompressAttributes(context.Background(), CodecZSTD, rc, 2))
	assertSamePositions(t, []r3.Vec{{X: 0, Y: 0, Z: 0}, {X: 100, Y: 0, Z: 0}}, g.WorldPositions(), 1e-6)

	// The pass held a background worker slot and released it on return.
	require.True(t, rc.TryAcquireBackground())
	rc.ReleaseBackground()

	t.Run("slots exhausted", func(t *testing.T) {
		busy := resource.NewController(resource.Config{MaxBackgroundWorkers: 1})
		require.True(t, busy.TryAcquireBackground())
		defer busy.ReleaseBackground()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		err := g.CompressAttributes(ctx, CodecZSTD, busy, 2)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
