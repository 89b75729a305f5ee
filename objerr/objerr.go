// Package objerr defines the error taxonomy of the accessor core.
//
// Errors are categorical: callers dispatch with errors.Is against the
// sentinels, or errors.As against the typed wrappers when they need the
// offending column or size. No numeric codes cross this boundary.
package objerr

import (
	"errors"
	"fmt"
)

var (
	// ErrWrongType is returned when a typed read or write does not match the
	// column's declared type.
	ErrWrongType = errors.New("wrong type")

	// ErrIllegalType is returned when a value kind is not storable in the
	// addressed column at all (e.g. a list operation on a scalar column).
	ErrIllegalType = errors.New("illegal type")

	// ErrNotNullable is returned when null is written into a non-nullable
	// column.
	ErrNotNullable = errors.New("column not nullable")

	// ErrNullValue is returned when a typed read finds null; read through
	// GetAny or an optional-typed get instead.
	ErrNullValue = errors.New("null value")

	// ErrIllegalCombination is returned for operations whose operands are
	// individually valid but jointly not (e.g. add_int on a null cell).
	ErrIllegalCombination = errors.New("illegal combination")

	// ErrTargetOutOfRange is returned when a link names a row that is not
	// alive in the target table.
	ErrTargetOutOfRange = errors.New("link target out of range")

	// ErrWrongTableKind is returned when embedded-table ownership rules are
	// violated.
	ErrWrongTableKind = errors.New("wrong table kind")

	// ErrStringTooBig is returned when a string write exceeds MaxStringSize.
	ErrStringTooBig = errors.New("string too big")

	// ErrBinaryTooBig is returned when a binary write exceeds MaxBinarySize.
	ErrBinaryTooBig = errors.New("binary too big")

	// ErrKeyNotFound is returned when a lookup misses.
	ErrKeyNotFound = errors.New("key not found")

	// ErrStaleAccessor is returned by any operation on an accessor whose row
	// was deleted or whose table was dropped.
	ErrStaleAccessor = errors.New("object is not alive")

	// ErrCorruption indicates a violated structural invariant. It is not
	// recoverable at this layer; the enclosing transaction must abort.
	ErrCorruption = errors.New("structural corruption")
)

// WrongTypeError carries the column and type detail behind ErrWrongType.
//
// errors.Unwrap yields ErrWrongType.
type WrongTypeError struct {
	Column string
	Want   string
	Got    string
}

func (e *WrongTypeError) Error() string {
	return fmt.Sprintf("wrong type for column %q: want %s, got %s", e.Column, e.Want, e.Got)
}

func (e *WrongTypeError) Unwrap() error { return ErrWrongType }

// TooBigError carries size detail behind ErrStringTooBig / ErrBinaryTooBig.
type TooBigError struct {
	Column string
	Size   int
	Limit  int
	kind   error
}

// NewStringTooBig builds a TooBigError unwrapping to ErrStringTooBig.
func NewStringTooBig(column string, size, limit int) *TooBigError {
	return &TooBigError{Column: column, Size: size, Limit: limit, kind: ErrStringTooBig}
}

// NewBinaryTooBig builds a TooBigError unwrapping to ErrBinaryTooBig.
func NewBinaryTooBig(column string, size, limit int) *TooBigError {
	return &TooBigError{Column: column, Size: size, Limit: limit, kind: ErrBinaryTooBig}
}

func (e *TooBigError) Error() string {
	return fmt.Sprintf("%v: column %q: %d bytes exceeds limit %d", e.kind, e.Column, e.Size, e.Limit)
}

func (e *TooBigError) Unwrap() error { return e.kind }

// CorruptionError carries context behind ErrCorruption.
type CorruptionError struct {
	Detail string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("structural corruption: %s", e.Detail)
}

func (e *CorruptionError) Unwrap() error { return ErrCorruption }
