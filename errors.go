package objcore

import (
	"errors"

	"github.com/objcore/objcore/objerr"
)

// Re-exported error categories. Callers dispatch with errors.Is; see the
// objerr package for the typed wrappers carrying column and size detail.
var (
	ErrWrongType          = objerr.ErrWrongType
	ErrIllegalType        = objerr.ErrIllegalType
	ErrNotNullable        = objerr.ErrNotNullable
	ErrNullValue          = objerr.ErrNullValue
	ErrIllegalCombination = objerr.ErrIllegalCombination
	ErrTargetOutOfRange   = objerr.ErrTargetOutOfRange
	ErrWrongTableKind     = objerr.ErrWrongTableKind
	ErrStringTooBig       = objerr.ErrStringTooBig
	ErrBinaryTooBig       = objerr.ErrBinaryTooBig
	ErrKeyNotFound        = objerr.ErrKeyNotFound
	ErrStaleAccessor      = objerr.ErrStaleAccessor
	ErrCorruption         = objerr.ErrCorruption
)

// IsLogicError reports whether err is a programmer contract violation, as
// opposed to a missed lookup, a stale accessor, or corruption.
func IsLogicError(err error) bool {
	switch {
	case errors.Is(err, objerr.ErrWrongType),
		errors.Is(err, objerr.ErrIllegalType),
		errors.Is(err, objerr.ErrNotNullable),
		errors.Is(err, objerr.ErrIllegalCombination),
		errors.Is(err, objerr.ErrTargetOutOfRange),
		errors.Is(err, objerr.ErrWrongTableKind),
		errors.Is(err, objerr.ErrStringTooBig),
		errors.Is(err, objerr.ErrBinaryTooBig):
		return true
	}
	return false
}
