// Package objkey defines the stable identifiers used to address rows and
// cross-table links.
//
// An ObjKey is a signed 63-bit row identifier. Keys handed out by a table are
// non-negative; a key with the unresolved bit set addresses a tombstone row
// that is retained only to honor outstanding references. Callers never perform
// arithmetic on keys.
package objkey

import (
	"fmt"
	"math"
)

// ObjKey identifies a single row within a table.
//
// The zero value is a valid (live) key. NullKey is the sentinel for "no key".
type ObjKey int64

// NullKey is the sentinel value for a null (absent) key.
const NullKey ObjKey = math.MinInt64

// unresolvedBit marks a key as addressing the tombstone cluster instead of
// the live cluster. It corresponds to the sign bit of the stored 63-bit
// representation.
const unresolvedBit ObjKey = 1 << 62

// IsNull reports whether k is the null sentinel.
func (k ObjKey) IsNull() bool { return k == NullKey }

// IsUnresolved reports whether k addresses a tombstone row.
func (k ObjKey) IsUnresolved() bool { return k != NullKey && k&unresolvedBit != 0 }

// Unresolved returns the tombstone form of k.
func (k ObjKey) Unresolved() ObjKey {
	if k == NullKey {
		return NullKey
	}
	return k | unresolvedBit
}

// Resolved strips the unresolved bit, recovering the original live key.
func (k ObjKey) Resolved() ObjKey {
	if k == NullKey {
		return NullKey
	}
	return k &^ unresolvedBit
}

// String implements fmt.Stringer.
func (k ObjKey) String() string {
	if k.IsNull() {
		return "ObjKey(null)"
	}
	if k.IsUnresolved() {
		return fmt.Sprintf("ObjKey(unresolved:%d)", int64(k.Resolved()))
	}
	return fmt.Sprintf("ObjKey(%d)", int64(k))
}

// TableKey identifies a table within a group. Keys are assigned by the schema
// and are stable for the lifetime of the group.
type TableKey uint32

// NullTableKey is the sentinel for "no table".
const NullTableKey TableKey = 0

// ObjLink is a global link: it names both the target table and the target row.
type ObjLink struct {
	Table TableKey
	Key   ObjKey
}

// IsNull reports whether the link points nowhere.
func (l ObjLink) IsNull() bool { return l.Table == NullTableKey || l.Key.IsNull() }

// String implements fmt.Stringer.
func (l ObjLink) String() string {
	return fmt.Sprintf("ObjLink(%d, %s)", l.Table, l.Key)
}
