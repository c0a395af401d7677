package points

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/hupe1980/vdbgo"
	"github.com/hupe1980/vdbgo/coords"
	"github.com/hupe1980/vdbgo/resource"
	"github.com/hupe1980/vdbgo/tree"
)

// MoveOption configures a Move call.
type MoveOption func(*moveOptions)

type moveOptions struct {
	targetTransform *coords.Transform
	filter          Filter
	workers         int
	logger          *vdbgo.Logger
	metrics         vdbgo.MetricsCollector
	resources       *resource.Controller
}

// WithTargetTransform rebins the moved points against a different
// index/world mapping. Defaults to the grid's own transform.
func WithTargetTransform(t *coords.Transform) MoveOption {
	return func(o *moveOptions) { o.targetTransform = t }
}

// WithMoveFilter drops points rejected by f during the move. Dropped
// points are deleted from the grid.
func WithMoveFilter(f Filter) MoveOption {
	return func(o *moveOptions) { o.filter = f }
}

// WithMoveWorkers caps the number of concurrent workers. Values below 1
// default to GOMAXPROCS; 1 disables threading.
func WithMoveWorkers(n int) MoveOption {
	return func(o *moveOptions) { o.workers = n }
}

// WithMoveLogger configures structured logging for the move pass.
func WithMoveLogger(l *vdbgo.Logger) MoveOption {
	return func(o *moveOptions) { o.logger = l }
}

// WithMoveMetrics configures a metrics collector for the move pass.
func WithMoveMetrics(mc vdbgo.MetricsCollector) MoveOption {
	return func(o *moveOptions) { o.metrics = mc }
}

// WithMoveResources charges the rebuilt leaf storage against rc's
// memory budget for the duration of the pass. The move rebuilds
// non-static leaves alongside the old storage, so the reservation
// bounds the transient double-buffering cost of concurrent passes.
func WithMoveResources(rc *resource.Controller) MoveOption {
	return func(o *moveOptions) { o.resources = rc }
}

// globalMove records one point crossing into a different leaf.
type globalMove struct {
	sourceLeaf  uint32 // index in deterministic leaf order
	sourceRow   uint32
	targetVoxel uint32 // offset within the destination leaf
	localPos    Vec3f  // new voxel-local position
}

// localMove records one point staying within its leaf.
type localMove struct {
	sourceRow   uint32
	targetVoxel uint32
	localPos    Vec3f
}

// destBucket accumulates incoming state for one destination leaf origin.
type destBucket struct {
	mu     sync.Mutex
	moves  []globalMove
	counts [tree.LeafSize]uint32
}

// sourceState tracks one source leaf's move map.
type sourceState struct {
	local []localMove

	// static starts true and is cleared when any point leaves the leaf,
	// is filtered out, or (in the post-pass) when another leaf moves a
	// point in. A leaf still static after the post-pass has its storage
	// stolen into the result instead of being rebuilt.
	static bool
}

// Move recomputes every point's voxel after applying the deformer and
// rebuilds the grid in place: cross-leaf moves, intra-leaf moves, and
// untouched leaves whose storage is reused without a copy.
//
// Determinism: incoming cross-leaf points are applied to each
// destination leaf sorted by (source leaf index, source row), then that
// leaf's own surviving points in row order, so repeated runs with the
// same inputs and worker count produce identical attribute arrays.
func Move(ctx context.Context, g *Grid, d Deformer, opts ...MoveOption) (err error) {
	o := moveOptions{
		filter:  NullFilter{},
		logger:  vdbgo.NoopLogger(),
		metrics: vdbgo.NoopMetricsCollector{},
	}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	if o.workers <= 0 {
		o.workers = runtime.GOMAXPROCS(0)
	}
	srcT := g.transform
	dstT := o.targetTransform
	if dstT == nil {
		dstT = srcT
	}
	sameTransform := dstT == srcT || dstT.Equal(srcT)

	leaves := g.Leaves()
	if len(leaves) == 0 {
		return nil
	}
	for _, l := range leaves {
		if l.Attrs == nil || l.Attrs.Get(PositionAttribute) == nil {
			return &MissingAttributeError{Name: PositionAttribute}
		}
	}
	starts := LeafStarts(leaves)

	startTime := time.Now()
	defer func() {
		if err != nil {
			o.metrics.RecordMove(0, time.Since(startTime), err)
			o.logger.LogMove(ctx, 0, len(leaves), 0, err)
		}
	}()

	worldSpace := false
	if w, ok := d.(WorldSpaceDeformer); ok {
		worldSpace = w.WorldSpace()
	}

	states := make([]sourceState, len(leaves))
	for i := range states {
		states[i].static = true
	}

	var destMu sync.Mutex
	dests := make(map[coords.Coord]*destBucket)
	bucketFor := func(origin coords.Coord) *destBucket {
		destMu.Lock()
		b := dests[origin]
		if b == nil {
			b = &destBucket{}
			dests[origin] = b
		}
		destMu.Unlock()
		return b
	}

	// Phase 1: build move maps, one task per source leaf.
	buildErr := forEachLeafIndexed(ctx, leaves, o.workers, func(i int, l Leaf) error {
		deformer := d
		if cl, ok := d.(CloneableDeformer); ok {
			deformer = cl.Clone()
		}
		deformer.Reset(l)
		lf := o.filter.Bind(l, starts[i])

		pos := l.Attrs.Get(PositionAttribute).(*TypedArray[Vec3f])
		state := &states[i]
		origin := l.Node.Origin()

		ForEachVoxelPoint(l.Node, func(voxel uint, row int) {
			if !lf.Valid(row) {
				state.static = false
				return
			}

			voxelCoord := origin.Add(tree.OffsetToLocalCoord(voxel))
			lp := pos.Get(row)
			ip := r3Vec(voxelCoord, lp)

			out := ip
			if worldSpace {
				out = dstT.WorldToIndex(deformer.Apply(srcT.IndexToWorld(ip), row))
			} else {
				out = deformer.Apply(ip, row)
				if !sameTransform {
					out = dstT.WorldToIndex(srcT.IndexToWorld(out))
				}
			}

			targetVoxel := coords.Round(out)
			newLocal := Vec3f{
				float32(out.X - float64(targetVoxel.X)),
				float32(out.Y - float64(targetVoxel.Y)),
				float32(out.Z - float64(targetVoxel.Z)),
			}
			targetOrigin := LeafOrigin(targetVoxel)
			targetOffset := uint32(tree.CoordToOffset(targetVoxel))

			if targetOrigin == origin {
				if targetVoxel != voxelCoord {
					state.static = false
				}
				state.local = append(state.local, localMove{
					sourceRow:   uint32(row),
					targetVoxel: targetOffset,
					localPos:    newLocal,
				})
				b := bucketFor(origin)
				b.mu.Lock()
				b.counts[targetOffset]++
				b.mu.Unlock()
				return
			}

			state.static = false
			b := bucketFor(targetOrigin)
			b.mu.Lock()
			b.counts[targetOffset]++
			b.moves = append(b.moves, globalMove{
				sourceLeaf:  uint32(i),
				sourceRow:   uint32(row),
				targetVoxel: targetOffset,
				localPos:    newLocal,
			})
			b.mu.Unlock()
		})
		return nil
	})
	if buildErr != nil {
		return buildErr
	}

	// Post-pass: a leaf with incoming cross-leaf points cannot keep its
	// storage, even if none of its own points moved.
	sourceAt := make(map[coords.Coord]int, len(leaves))
	for i, l := range leaves {
		sourceAt[l.Node.Origin()] = i
	}
	stolen := 0
	for origin, b := range dests {
		if len(b.moves) == 0 {
			continue
		}
		if i, ok := sourceAt[origin]; ok {
			states[i].static = false
		}
		sort.Slice(b.moves, func(x, y int) bool {
			a, c := b.moves[x], b.moves[y]
			if a.sourceLeaf != c.sourceLeaf {
				return a.sourceLeaf < c.sourceLeaf
			}
			return a.sourceRow < c.sourceRow
		})
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Phase 2: assemble the result grid. Static leaves are stolen; every
	// other destination leaf is rebuilt from its sorted move maps.
	out := New(dstT)
	template := leaves[0].Attrs

	for i, l := range leaves {
		if !states[i].static {
			continue
		}
		// Points may have shifted within their voxels; rewrite positions
		// in the stolen storage.
		pos := l.Attrs.Get(PositionAttribute).(*TypedArray[Vec3f])
		for _, mv := range states[i].local {
			pos.Set(int(mv.sourceRow), mv.localPos)
		}
		out.adoptLeaf(l.Node, l.Attrs)
		stolen++
	}

	// Destination tasks gather rows from shared source leaves, and
	// lazily stored columns mutate on first access; materialize them
	// before the fan-out.
	for i, l := range leaves {
		if !states[i].static {
			l.Attrs.ExpandAll()
		}
	}

	destOrigins := make([]coords.Coord, 0, len(dests))
	for origin := range dests {
		if i, ok := sourceAt[origin]; ok && states[i].static {
			continue
		}
		destOrigins = append(destOrigins, origin)
	}
	sort.Slice(destOrigins, func(i, j int) bool {
		a, b := destOrigins[i], destOrigins[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})

	var rebuildBytes int64
	perRow := rowBytes(template)
	for _, origin := range destOrigins {
		var total int64
		for _, c := range dests[origin].counts {
			total += int64(c)
		}
		if total > 0 {
			rebuildBytes += leafNodeBytes + total*perRow
		}
	}
	if err := o.resources.AcquireMemory(ctx, rebuildBytes); err != nil {
		return err
	}
	defer o.resources.ReleaseMemory(rebuildBytes)

	rebuilt := make([]struct {
		node *tree.LeafNode[uint32]
		set  *AttributeSet
	}, len(destOrigins))

	assembleErr := forEachIndexed(ctx, len(destOrigins), o.workers, func(oi int) error {
		origin := destOrigins[oi]
		b := dests[origin]

		var total uint32
		for _, c := range b.counts {
			total += c
		}
		if total == 0 {
			return nil
		}

		node := tree.NewLeafNode[uint32](origin, 0)
		buf := node.Buffer()
		var running uint32
		for v := 0; v < tree.LeafSize; v++ {
			if b.counts[v] > 0 {
				node.Mask().SetOn(uint(v))
			}
			running += b.counts[v]
			buf[v] = running
		}

		set := template.CloneEmpty(int(total))

		// Row assignment via the cumulative histogram: the Nth point
		// landing in voxel V goes to row start(V)+N.
		var taken [tree.LeafSize]uint32
		nextRow := func(voxel uint32) int {
			r := int(startOffset(buf, uint(voxel)) + taken[voxel])
			taken[voxel]++
			return r
		}

		pos := set.Get(PositionAttribute).(*TypedArray[Vec3f])
		copier := newLeafCopier(set, leaves)

		for _, mv := range b.moves {
			row := nextRow(mv.targetVoxel)
			if err := copier.add(int(mv.sourceLeaf), int(mv.sourceRow), row); err != nil {
				return err
			}
			pos.Set(row, mv.localPos)
		}
		if err := copier.flush(); err != nil {
			return err
		}

		if i, ok := sourceAt[origin]; ok {
			src := leaves[i]
			for _, mv := range states[i].local {
				row := nextRow(mv.targetVoxel)
				if err := copier.copyRow(src.Attrs, int(mv.sourceRow), row); err != nil {
					return err
				}
				pos.Set(row, mv.localPos)
			}
		}

		rebuilt[oi].node = node
		rebuilt[oi].set = set
		return nil
	})
	if assembleErr != nil {
		return assembleErr
	}

	for _, r := range rebuilt {
		if r.node != nil {
			out.adoptLeaf(r.node, r.set)
		}
	}

	g.tree = out.tree
	g.attrs = out.attrs
	g.transform = dstT

	moved := int(g.PointCount())
	o.metrics.RecordMove(moved, time.Since(startTime), nil)
	o.logger.LogMove(ctx, moved, len(leaves), stolen, nil)
	return nil
}

// leafCopier batches attribute copies: a run of moves from consecutive
// rows of the same source leaf into consecutive destination rows is
// copied with one bulk call per attribute.
type leafCopier struct {
	dst    *AttributeSet
	leaves []Leaf

	runSrcLeaf  int
	runSrcStart int
	runDstStart int
	runLen      int
}

func newLeafCopier(dst *AttributeSet, leaves []Leaf) *leafCopier {
	return &leafCopier{dst: dst, leaves: leaves, runSrcLeaf: -1}
}

func (c *leafCopier) add(srcLeaf, srcRow, dstRow int) error {
	if c.runLen > 0 &&
		srcLeaf == c.runSrcLeaf &&
		srcRow == c.runSrcStart+c.runLen &&
		dstRow == c.runDstStart+c.runLen {
		c.runLen++
		return nil
	}
	if err := c.flush(); err != nil {
		return err
	}
	c.runSrcLeaf = srcLeaf
	c.runSrcStart = srcRow
	c.runDstStart = dstRow
	c.runLen = 1
	return nil
}

func (c *leafCopier) flush() error {
	if c.runLen == 0 {
		return nil
	}
	src := c.leaves[c.runSrcLeaf].Attrs
	for ai, name := range c.dst.Names() {
		srcArr := src.Get(name)
		if srcArr == nil {
			return &MissingAttributeError{Name: name}
		}
		if err := c.dst.Array(ai).CopyRange(c.runDstStart, srcArr, c.runSrcStart, c.runLen); err != nil {
			return err
		}
	}
	c.runLen = 0
	return nil
}

func (c *leafCopier) copyRow(src *AttributeSet, srcRow, dstRow int) error {
	for ai, name := range c.dst.Names() {
		srcArr := src.Get(name)
		if srcArr == nil {
			return &MissingAttributeError{Name: name}
		}
		if err := c.dst.Array(ai).CopyRange(dstRow, srcArr, srcRow, 1); err != nil {
			return err
		}
	}
	return nil
}

// leafNodeBytes approximates one point leaf's fixed footprint: the
// uint32 prefix-sum buffer plus the active mask.
const leafNodeBytes = int64(tree.LeafSize)*4 + tree.LeafSize/8

// rowBytes estimates the dense per-point storage of one row across all
// of a set's columns.
func rowBytes(s *AttributeSet) int64 {
	var n int64
	for i := 0; i < s.NumAttributes(); i++ {
		n += s.Array(i).NewOfSame(1).MemUsage()
	}
	return n
}

// r3Vec composes a voxel coordinate and a voxel-local offset into a
// continuous index-space position.
func r3Vec(c coords.Coord, lp Vec3f) r3.Vec {
	return r3.Vec{
		X: float64(c.X) + float64(lp[0]),
		Y: float64(c.Y) + float64(lp[1]),
		Z: float64(c.Z) + float64(lp[2]),
	}
}

func forEachLeafIndexed(ctx context.Context, leaves []Leaf, workers int, fn func(i int, l Leaf) error) error {
	return forEachIndexed(ctx, len(leaves), workers, func(i int) error {
		return fn(i, leaves[i])
	})
}

func forEachIndexed(ctx context.Context, n, workers int, fn func(i int) error) error {
	if workers <= 1 || n <= 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(i)
		})
	}
	return g.Wait()
}
