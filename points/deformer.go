package points

import (
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// Deformer computes a point's new position during a move pass. Reset is
// called once per leaf before that leaf's rows are visited; Apply
// receives the point's current index-space position and row index and
// returns the new index-space position.
//
// Move calls Reset/Apply from multiple goroutines, one leaf at a time
// per goroutine. Stateless deformers are trivially safe; deformers with
// per-leaf state implement CloneableDeformer so every worker gets its
// own instance.
type Deformer interface {
	Reset(l Leaf)
	Apply(p r3.Vec, row int) r3.Vec
}

// WorldSpaceDeformer marks a Deformer whose Apply operates on
// world-space positions; the move pass converts through the transform on
// both sides.
type WorldSpaceDeformer interface {
	Deformer
	WorldSpace() bool
}

// CloneableDeformer is implemented by deformers holding mutable state;
// Clone returns a worker-private instance.
type CloneableDeformer interface {
	Deformer
	Clone() Deformer
}

// IdentityDeformer leaves every point where it is.
type IdentityDeformer struct{}

func (IdentityDeformer) Reset(Leaf)                   {}
func (IdentityDeformer) Apply(p r3.Vec, _ int) r3.Vec { return p }

// OffsetDeformer translates every point by a fixed world-space offset.
type OffsetDeformer struct {
	Offset r3.Vec
}

func (OffsetDeformer) Reset(Leaf) {}

func (d OffsetDeformer) Apply(p r3.Vec, _ int) r3.Vec {
	return r3.Add(p, d.Offset)
}

func (OffsetDeformer) WorldSpace() bool { return true }

// CachedDeformer wraps another deformer and memoizes its results by
// (leaf index, row), so a second pass over the same points replays the
// first pass's positions instead of re-evaluating the deformation. The
// cache is shared across clones under a lock; the per-leaf binding is
// clone-private.
type CachedDeformer struct {
	inner Deformer

	mu    *sync.Mutex
	cache map[int]map[int]r3.Vec

	leaf Leaf
}

// NewCachedDeformer returns a caching wrapper around d.
func NewCachedDeformer(d Deformer) *CachedDeformer {
	return &CachedDeformer{
		inner: d,
		mu:    &sync.Mutex{},
		cache: make(map[int]map[int]r3.Vec),
	}
}

func (c *CachedDeformer) Clone() Deformer {
	inner := c.inner
	if cl, ok := inner.(CloneableDeformer); ok {
		inner = cl.Clone()
	}
	return &CachedDeformer{inner: inner, mu: c.mu, cache: c.cache}
}

func (c *CachedDeformer) Reset(l Leaf) {
	c.leaf = l
	c.inner.Reset(l)
}

func (c *CachedDeformer) Apply(p r3.Vec, row int) r3.Vec {
	c.mu.Lock()
	if leafCache := c.cache[c.leaf.Index]; leafCache != nil {
		if v, ok := leafCache[row]; ok {
			c.mu.Unlock()
			return v
		}
	}
	c.mu.Unlock()

	out := c.inner.Apply(p, row)

	c.mu.Lock()
	leafCache := c.cache[c.leaf.Index]
	if leafCache == nil {
		leafCache = make(map[int]r3.Vec)
		c.cache[c.leaf.Index] = leafCache
	}
	leafCache[row] = out
	c.mu.Unlock()
	return out
}

// WorldSpace reports whether the wrapped deformer is world-space.
func (c *CachedDeformer) WorldSpace() bool {
	if w, ok := c.inner.(WorldSpaceDeformer); ok {
		return w.WorldSpace()
	}
	return false
}
