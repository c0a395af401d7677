package points

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPointSet is returned by constructors given no points.
	ErrEmptyPointSet = errors.New("empty point set")
)

// MissingAttributeError indicates a required named attribute is absent
// from a point leaf. An absent position or radius attribute aborts the
// whole operation; there is no best-effort fallback.
type MissingAttributeError struct {
	Name string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("missing attribute %q", e.Name)
}

// TypeMismatchError indicates an attribute column was accessed with the
// wrong element type.
type TypeMismatchError struct {
	Want string
	Got  string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("attribute type mismatch: want %s, got %s", e.Want, e.Got)
}

// AttributeExistsError indicates an attempt to append a duplicate
// attribute name to a set.
type AttributeExistsError struct {
	Name string
}

func (e *AttributeExistsError) Error() string {
	return fmt.Sprintf("attribute %q already exists", e.Name)
}

// TransformMismatchError indicates two grids with incompatible
// transforms were combined where identical mappings are required.
type TransformMismatchError struct {
	A, B string
}

func (e *TransformMismatchError) Error() string {
	return fmt.Sprintf("transform mismatch: %s vs %s", e.A, e.B)
}
