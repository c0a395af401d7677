package tree

import (
	"context"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vdbgo/coords"
)

// LeafManager snapshots the tree's leaf nodes in a deterministic order:
// root entries sorted by (X, Y, Z) key, then depth-first through the
// internal nodes in child-offset order. Two structurally identical trees
// always yield identical leaf orderings, which downstream algorithms rely
// on for reproducible results.
//
// The snapshot is invalidated by any structural change to the tree;
// rebuild with Rebuild after adding or removing leaves.
type LeafManager[T comparable] struct {
	tree   *Tree[T]
	leaves []*LeafNode[T]
}

// NewLeafManager builds a manager over the current leaves of t.
func NewLeafManager[T comparable](t *Tree[T]) *LeafManager[T] {
	m := &LeafManager[T]{tree: t}
	m.Rebuild()
	return m
}

// Rebuild re-snapshots the tree's leaves.
func (m *LeafManager[T]) Rebuild() {
	m.leaves = m.leaves[:0]
	keys := make([]coords.Coord, 0, len(m.tree.root))
	for key, e := range m.tree.root {
		if e.child != nil {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	for _, key := range keys {
		m.collect(m.tree.root[key].child)
	}
}

func (m *LeafManager[T]) collect(n *internalNode[T]) {
	size := uint(internalSize(n.level))
	for i := uint(0); i < size; i++ {
		if !n.childMask.IsOn(i) {
			continue
		}
		switch c := n.children[i].(type) {
		case *internalNode[T]:
			m.collect(c)
		case *LeafNode[T]:
			m.leaves = append(m.leaves, c)
		}
	}
}

// Tree returns the managed tree.
func (m *LeafManager[T]) Tree() *Tree[T] { return m.tree }

// LeafCount returns the number of snapshotted leaves.
func (m *LeafManager[T]) LeafCount() int { return len(m.leaves) }

// Leaf returns the i-th leaf in deterministic order.
func (m *LeafManager[T]) Leaf(i int) *LeafNode[T] { return m.leaves[i] }

// Leaves returns the snapshot. Callers must not reorder it.
func (m *LeafManager[T]) Leaves() []*LeafNode[T] { return m.leaves }

// ForEach invokes fn for every leaf with its index. Leaves are processed
// concurrently across workers; fn owns its leaf exclusively for the
// duration of the call, so per-leaf mutation needs no locking. A non-nil
// error from any fn cancels the remaining work.
func (m *LeafManager[T]) ForEach(ctx context.Context, workers int, fn func(idx int, l *LeafNode[T]) error) error {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers == 1 || len(m.leaves) <= 1 {
		for i, l := range m.leaves {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(i, l); err != nil {
				return err
			}
		}
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	grain := (len(m.leaves) + workers*4 - 1) / (workers * 4)
	if grain < 1 {
		grain = 1
	}
	for start := 0; start < len(m.leaves); start += grain {
		end := start + grain
		if end > len(m.leaves) {
			end = len(m.leaves)
		}
		start, end := start, end
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				if err := fn(i, m.leaves[i]); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Reduce runs fn over leaf index ranges concurrently, each worker folding
// into its own accumulator created by newAcc, then merges accumulators
// pairwise with join. join must be associative; the merge order is
// deterministic (adjacent ranges joined left to right).
func Reduce[T comparable, A any](ctx context.Context, m *LeafManager[T], workers int,
	newAcc func() A, fn func(acc A, idx int, l *LeafNode[T]) error, join func(a, b A) A) (A, error) {

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	n := len(m.leaves)
	if n == 0 {
		return newAcc(), nil
	}

	grain := (n + workers*4 - 1) / (workers * 4)
	if grain < 1 {
		grain = 1
	}
	numRanges := (n + grain - 1) / grain
	accs := make([]A, numRanges)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for r := 0; r < numRanges; r++ {
		r := r
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			acc := newAcc()
			start := r * grain
			end := start + grain
			if end > n {
				end = n
			}
			for i := start; i < end; i++ {
				if err := fn(acc, i, m.leaves[i]); err != nil {
					return err
				}
			}
			accs[r] = acc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var zero A
		return zero, err
	}

	out := accs[0]
	for _, a := range accs[1:] {
		out = join(out, a)
	}
	return out, nil
}
