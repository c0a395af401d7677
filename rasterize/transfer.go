package rasterize

import (
	"context"
	"fmt"

	"github.com/hupe1980/vdbgo"
	"github.com/hupe1980/vdbgo/points"
	"github.com/hupe1980/vdbgo/tree"
)

// transferAttributes samples the requested point attributes onto the
// surface topology. Every active closest-point-grid voxel already names
// its winning point, so the transfer is a plain indexed gather.
func transferAttributes(ctx context.Context, s Settings, leaves []points.Leaf, cpgTree *tree.Tree[int64]) ([]AttributeGrid, error) {
	out := make([]AttributeGrid, 0, len(s.Attributes))
	for _, name := range s.Attributes {
		var probe points.Array
		for _, l := range leaves {
			if probe = l.Attrs.Get(name); probe != nil {
				break
			}
		}
		if probe == nil {
			return nil, &points.MissingAttributeError{Name: name}
		}

		var (
			g   any
			err error
		)
		switch probe.(type) {
		case *points.TypedArray[float32]:
			g, err = transferTyped[float32](ctx, s, name, leaves, cpgTree)
		case *points.TypedArray[float64]:
			g, err = transferTyped[float64](ctx, s, name, leaves, cpgTree)
		case *points.TypedArray[int32]:
			g, err = transferTyped[int32](ctx, s, name, leaves, cpgTree)
		case *points.TypedArray[int64]:
			g, err = transferTyped[int64](ctx, s, name, leaves, cpgTree)
		case *points.TypedArray[uint32]:
			g, err = transferTyped[uint32](ctx, s, name, leaves, cpgTree)
		case *points.TypedArray[bool]:
			g, err = transferTyped[bool](ctx, s, name, leaves, cpgTree)
		case *points.TypedArray[string]:
			g, err = transferTyped[string](ctx, s, name, leaves, cpgTree)
		case *points.TypedArray[points.Vec3f]:
			g, err = transferTyped[points.Vec3f](ctx, s, name, leaves, cpgTree)
		default:
			err = &points.TypeMismatchError{Want: "transferable element type", Got: probe.TypeName()}
		}
		if err != nil {
			return nil, err
		}
		out = append(out, AttributeGrid{Name: name, Grid: g})
	}
	return out, nil
}

func transferTyped[T comparable](ctx context.Context, s Settings, name string, leaves []points.Leaf, cpgTree *tree.Tree[int64]) (*vdbgo.Grid[T], error) {
	var zero T
	arrs := make([]*points.TypedArray[T], len(leaves))
	for i, l := range leaves {
		arr := l.Attrs.Get(name)
		if arr == nil {
			return nil, &points.MissingAttributeError{Name: name}
		}
		typed, ok := arr.(*points.TypedArray[T])
		if !ok {
			return nil, &points.TypeMismatchError{Want: fmt.Sprintf("%T", zero), Got: arr.TypeName()}
		}
		// The gather below runs on concurrent workers; expansion of
		// compressed or uniform storage must happen first.
		typed.Expand()
		arrs[i] = typed
	}

	outTree := tree.New(zero)
	tree.TopologyUnion(outTree, cpgTree)

	manager := tree.NewLeafManager(outTree)
	err := manager.ForEach(ctx, s.Workers, func(_ int, l *tree.LeafNode[T]) error {
		src := cpgTree.ProbeLeaf(l.Origin())
		if src == nil {
			return nil
		}
		buf := l.Buffer()
		srcBuf := src.Buffer()
		l.Mask().ForEachOn(func(off uint) {
			if srcBuf[off] < 0 {
				return
			}
			leafIdx, row := UnpackCPG(srcBuf[off])
			buf[off] = arrs[leafIdx].Get(row)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vdbgo.WrapTree(outTree, vdbgo.WithTransform(s.Transform), vdbgo.WithName(name)), nil
}
