package vdbgo

import (
	"errors"
	"fmt"
)

var (
	// ErrNonUniformTransform is returned where cubic voxels are
	// required, e.g. by distance computations in index space.
	ErrNonUniformTransform = errors.New("transform must have uniform scale")
)

// TransformMismatchError indicates two grids with different transforms
// were combined where identical mappings are required.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type TransformMismatchError struct {
	A, B  string
	cause error
}

func (e *TransformMismatchError) Error() string {
	return fmt.Sprintf("transform mismatch: %s vs %s", e.A, e.B)
}

func (e *TransformMismatchError) Unwrap() error { return e.cause }
