package points

import (
	"context"
	"time"

	"github.com/hupe1980/vdbgo"
	"github.com/hupe1980/vdbgo/tree"
)

// MergeOption configures a Merge call.
type MergeOption func(*mergeOptions)

type mergeOptions struct {
	logger  *vdbgo.Logger
	metrics vdbgo.MetricsCollector
}

// WithMergeLogger configures structured logging for the merge.
func WithMergeLogger(l *vdbgo.Logger) MergeOption {
	return func(o *mergeOptions) { o.logger = l }
}

// WithMergeMetrics configures a metrics collector for the merge.
func WithMergeMetrics(mc vdbgo.MetricsCollector) MergeOption {
	return func(o *mergeOptions) { o.metrics = mc }
}

// Merge moves every point of src into dst, leaving src empty. Leaves
// with no counterpart in dst are stolen wholesale; overlapping leaves
// are rebuilt with dst's points first, then src's, each in their
// original row order. Both grids must share a transform. Attribute
// schemas are unioned: a column present in only one grid is added to
// the other's leaves with default-valued rows, while a column present
// in both with different element types aborts the merge before either
// grid is touched.
func Merge(ctx context.Context, dst, src *Grid, opts ...MergeOption) (err error) {
	o := mergeOptions{
		logger:  vdbgo.NoopLogger(),
		metrics: vdbgo.NoopMetricsCollector{},
	}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}

	var stolen, merged int

	startTime := time.Now()
	defer func() {
		o.metrics.RecordMerge(int(dst.PointCount()), time.Since(startTime), err)
		o.logger.LogMerge(ctx, int(dst.PointCount()), stolen, merged, err)
	}()

	if !dst.transform.Equal(src.transform) {
		return &TransformMismatchError{A: dst.transform.String(), B: src.transform.String()}
	}

	schema, err := unionSchema(dst, src)
	if err != nil {
		return err
	}
	// Validate every leaf before widening any, so a divergent column
	// type aborts with both grids intact.
	for _, g := range []*Grid{dst, src} {
		for _, l := range g.Leaves() {
			if err := validateSchema(l.Attrs, schema); err != nil {
				return err
			}
		}
	}
	for _, g := range []*Grid{dst, src} {
		for _, l := range g.Leaves() {
			widenSchema(l.Attrs, schema, leafPointCount(l.Node))
		}
	}

	for _, origin := range src.sortedOrigins() {
		if err := ctx.Err(); err != nil {
			return err
		}

		srcNode, srcSet := src.stealLeaf(origin)
		if srcNode == nil {
			continue
		}

		dstNode := dst.tree.ProbeLeaf(origin)
		if dstNode == nil {
			dst.adoptLeaf(srcNode, srcSet)
			stolen++
			continue
		}

		if err := mergeLeaf(dst, dstNode, srcNode, srcSet); err != nil {
			return err
		}
		merged++
	}

	// Every leaf has been moved over; drop src's remaining skeleton.
	src.tree.Clear()
	return nil
}

// mergeLeaf rebuilds one leaf combining dst's and src's points.
func mergeLeaf(dst *Grid, dstNode, srcNode *tree.LeafNode[uint32], srcSet *AttributeSet) error {
	dstSet := dst.attrs[dstNode.Origin()]

	dstBuf := dstNode.Buffer()
	srcBuf := srcNode.Buffer()

	total := int(dstBuf[tree.LeafSize-1] + srcBuf[tree.LeafSize-1])
	merged := dstSet.CloneEmpty(total)

	// New prefix sums first, then rows: dst's points for each voxel
	// precede src's.
	newBuf := make([]uint32, tree.LeafSize)
	var running uint32
	for v := 0; v < tree.LeafSize; v++ {
		dc := dstBuf[v] - startOffset(dstBuf, uint(v))
		sc := srcBuf[v] - startOffset(srcBuf, uint(v))
		if dc+sc > 0 {
			dstNode.Mask().SetOn(uint(v))
		}
		running += dc + sc
		newBuf[v] = running
	}

	copyRows := func(set *AttributeSet, buf []uint32, voxelBase func(v uint) uint32) error {
		for v := uint(0); v < tree.LeafSize; v++ {
			start := startOffset(buf, v)
			for r := start; r < buf[v]; r++ {
				dstRow := int(voxelBase(v) + (r - start))
				for ai, name := range merged.Names() {
					srcArr := set.Get(name)
					if srcArr == nil {
						return &MissingAttributeError{Name: name}
					}
					if err := merged.Array(ai).CopyRange(dstRow, srcArr, int(r), 1); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}

	// Base row for dst's run in voxel v is the merged start; src's run
	// begins after dst's points.
	if err := copyRows(dstSet, dstBuf, func(v uint) uint32 {
		return startOffset(newBuf, v)
	}); err != nil {
		return err
	}
	if err := copyRows(srcSet, srcBuf, func(v uint) uint32 {
		return startOffset(newBuf, v) + (dstBuf[v] - startOffset(dstBuf, v))
	}); err != nil {
		return err
	}

	copy(dstNode.Buffer(), newBuf)
	dst.attrs[dstNode.Origin()] = merged
	return nil
}

// schemaColumn pairs an attribute name with a template array used to
// stamp out default-valued columns of the right element type.
type schemaColumn struct {
	name string
	tmpl Array
}

// unionSchema combines the two grids' attribute descriptors: dst's
// columns in order, then src-only columns. A name carried by both with
// different element types is a mismatch.
func unionSchema(dst, src *Grid) ([]schemaColumn, error) {
	var cols []schemaColumn
	seen := make(map[string]Array)

	add := func(g *Grid) error {
		origins := g.sortedOrigins()
		if len(origins) == 0 {
			return nil
		}
		set := g.attrs[origins[0]]
		for _, name := range set.Names() {
			arr := set.Get(name)
			if prev, ok := seen[name]; ok {
				if prev.TypeName() != arr.TypeName() {
					return &TypeMismatchError{Want: prev.TypeName(), Got: arr.TypeName()}
				}
				continue
			}
			seen[name] = arr
			cols = append(cols, schemaColumn{name: name, tmpl: arr})
		}
		return nil
	}

	if err := add(dst); err != nil {
		return nil, err
	}
	if err := add(src); err != nil {
		return nil, err
	}
	return cols, nil
}

// validateSchema checks every column the set shares with the schema for
// an element-type match.
func validateSchema(set *AttributeSet, schema []schemaColumn) error {
	for _, col := range schema {
		arr := set.Get(col.name)
		if arr == nil {
			continue
		}
		if arr.TypeName() != col.tmpl.TypeName() {
			return &TypeMismatchError{Want: col.tmpl.TypeName(), Got: arr.TypeName()}
		}
	}
	return nil
}

// widenSchema appends default-valued columns for every schema entry the
// set is missing.
func widenSchema(set *AttributeSet, schema []schemaColumn, rows int) {
	for _, col := range schema {
		if set.Get(col.name) == nil {
			_ = set.Append(col.name, col.tmpl.NewOfSame(rows))
		}
	}
}
