package points

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vdbgo/internal/blockcodec"
)

func TestTypedArrayBasics(t *testing.T) {
	a := NewTypedArray[float32](4)
	assert.Equal(t, 4, a.Len())
	assert.Equal(t, "float32", a.TypeName())

	a.Set(2, 1.5)
	assert.InDelta(t, 1.5, a.Get(2), 0)
	assert.InDelta(t, 0.0, a.Get(0), 0)
}

func TestUniformArray(t *testing.T) {
	a := NewUniformArray[int32](100, 7)
	assert.True(t, a.IsUniform())
	assert.Equal(t, 100, a.Len())
	assert.Equal(t, int32(7), a.Get(99))

	// Writing a diverging value expands the array.
	a.Set(3, 8)
	assert.False(t, a.IsUniform())
	assert.Equal(t, int32(8), a.Get(3))
	assert.Equal(t, int32(7), a.Get(4))
}

func TestCompact(t *testing.T) {
	a := NewTypedArray[float32](50)
	for i := 0; i < 50; i++ {
		a.Set(i, 2.5)
	}
	require.True(t, a.Compact())
	assert.True(t, a.IsUniform())
	assert.InDelta(t, 2.5, a.Get(25), 0)

	a.Set(0, 1)
	assert.False(t, a.Compact())
}

func TestCopyRange(t *testing.T) {
	src := NewTypedArray[int64](5)
	for i := 0; i < 5; i++ {
		src.Set(i, int64(i*10))
	}

	dst := NewTypedArray[int64](10)
	require.NoError(t, dst.CopyRange(4, src, 1, 3))
	assert.Equal(t, int64(10), dst.Get(4))
	assert.Equal(t, int64(30), dst.Get(6))
	assert.Equal(t, int64(0), dst.Get(7))

	t.Run("type mismatch", func(t *testing.T) {
		other := NewTypedArray[float32](5)
		var mismatch *TypeMismatchError
		assert.ErrorAs(t, dst.CopyRange(0, other, 0, 1), &mismatch)
	})
}

func TestCompressRoundTrip(t *testing.T) {
	for _, codec := range []blockcodec.Type{blockcodec.LZ4, blockcodec.ZSTD} {
		t.Run(codec.String(), func(t *testing.T) {
			a := NewTypedArray[float32](1000)
			for i := 0; i < 1000; i++ {
				a.Set(i, float32(i%16))
			}
			require.NoError(t, a.Compress(codec))
			assert.True(t, a.IsCompressed())

			// Reads decompress transparently.
			assert.InDelta(t, 5.0, a.Get(5), 0)
			assert.InDelta(t, 15.0, a.Get(15), 0)
			assert.False(t, a.IsCompressed())
		})
	}
}

func TestExpand(t *testing.T) {
	t.Run("uniform", func(t *testing.T) {
		a := NewUniformArray[int32](20, 3)
		a.Expand()
		assert.False(t, a.IsUniform())
		assert.Equal(t, int32(3), a.Get(0))
		assert.Equal(t, int32(3), a.Get(19))
	})

	t.Run("compressed", func(t *testing.T) {
		a := NewTypedArray[float32](200)
		for i := 0; i < 200; i++ {
			a.Set(i, float32(i%4))
		}
		require.NoError(t, a.Compress(blockcodec.LZ4))
		require.True(t, a.IsCompressed())

		a.Expand()
		assert.False(t, a.IsCompressed())
		assert.InDelta(t, 3.0, a.Get(7), 0)
	})

	t.Run("set", func(t *testing.T) {
		s := NewAttributeSet()
		require.NoError(t, s.Append("P", NewTypedArray[Vec3f](5)))
		require.NoError(t, s.Append("w", NewUniformArray[float32](5, 2)))

		s.ExpandAll()
		w := s.Get("w").(*TypedArray[float32])
		assert.False(t, w.IsUniform())
		assert.InDelta(t, 2.0, w.Get(4), 0)
	})
}

func TestCompressSkipsUncompressibleTypes(t *testing.T) {
	a := NewTypedArray[string](10)
	a.Set(0, "abc")
	require.NoError(t, a.Compress(blockcodec.LZ4))
	assert.False(t, a.IsCompressed())
	assert.Equal(t, "abc", a.Get(0))
}

func TestAttributeSet(t *testing.T) {
	s := NewAttributeSet()
	require.NoError(t, s.Append("P", NewTypedArray[Vec3f](3)))
	require.NoError(t, s.Append("id", NewTypedArray[int64](3)))

	assert.Equal(t, 2, s.NumAttributes())
	assert.Equal(t, []string{"P", "id"}, s.Names())
	assert.NotNil(t, s.Get("id"))
	assert.Nil(t, s.Get("missing"))

	t.Run("duplicate append fails", func(t *testing.T) {
		var exists *AttributeExistsError
		assert.ErrorAs(t, s.Append("id", NewTypedArray[int64](3)), &exists)
	})

	t.Run("clone empty preserves schema", func(t *testing.T) {
		c := s.CloneEmpty(7)
		assert.Equal(t, []string{"P", "id"}, c.Names())
		assert.Equal(t, 7, c.Get("id").Len())
		assert.Equal(t, "int64", c.Get("id").TypeName())
	})

	t.Run("compress all", func(t *testing.T) {
		require.NoError(t, s.CompressAll(context.Background(), blockcodec.ZSTD, nil))
	})
}
