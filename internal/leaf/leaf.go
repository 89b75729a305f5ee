// Package leaf implements the per-column arrays stored inside a cluster.
//
// Each column of a cluster is one leaf: a contiguous array holding that
// column's values for every row in the cluster, parallel to the cluster's
// key array. The leaf's concrete type is determined by the column's physical
// type plus its attributes.
//
// Null encoding differs per leaf kind (a validity mask for plain scalars,
// the null key sentinel for links, the null variant for Mixed, the zero ref
// for container cells); the accessor layer surfaces all of them as one
// unified null.
package leaf

import (
	"github.com/objcore/objcore/internal/alloc"
	"github.com/objcore/objcore/mixed"
	"github.com/objcore/objcore/objkey"
	"github.com/objcore/objcore/schema"
)

// Column is one leaf: the values of a single column across a cluster's rows.
// Insert and Erase keep the leaf parallel to the cluster's key array.
type Column interface {
	Len() int
	Insert(i int)
	Erase(i int)
	Clone() Column
}

// Vals is the leaf for plain scalar columns. Nullable instances carry a
// validity mask; non-nullable instances store bare values.
type Vals[T any] struct {
	v    []T
	null []bool
}

// NewVals creates an empty scalar leaf.
func NewVals[T any](nullable bool) *Vals[T] {
	l := &Vals[T]{}
	if nullable {
		l.null = []bool{}
	}
	return l
}

// Len implements Column.
func (l *Vals[T]) Len() int { return len(l.v) }

// Insert implements Column; new cells start null (or zero when the leaf is
// not nullable).
func (l *Vals[T]) Insert(i int) {
	var zero T
	l.v = append(l.v, zero)
	copy(l.v[i+1:], l.v[i:])
	l.v[i] = zero
	if l.null != nil {
		l.null = append(l.null, false)
		copy(l.null[i+1:], l.null[i:])
		l.null[i] = true
	}
}

// Erase implements Column.
func (l *Vals[T]) Erase(i int) {
	l.v = append(l.v[:i], l.v[i+1:]...)
	if l.null != nil {
		l.null = append(l.null[:i], l.null[i+1:]...)
	}
}

// Get returns the value at i and whether it is non-null.
func (l *Vals[T]) Get(i int) (T, bool) {
	if l.null != nil && l.null[i] {
		var zero T
		return zero, false
	}
	return l.v[i], true
}

// Set stores a non-null value at i.
func (l *Vals[T]) Set(i int, v T) {
	l.v[i] = v
	if l.null != nil {
		l.null[i] = false
	}
}

// SetNull nulls the cell at i. The leaf must be nullable; the accessor layer
// checks that before calling.
func (l *Vals[T]) SetNull(i int) {
	var zero T
	l.v[i] = zero
	l.null[i] = true
}

// IsNull reports whether the cell at i is null.
func (l *Vals[T]) IsNull(i int) bool { return l.null != nil && l.null[i] }

// Nullable reports whether the leaf carries a validity mask.
func (l *Vals[T]) Nullable() bool { return l.null != nil }

// Clone implements Column with a deep copy of the arrays. Element payloads
// (strings, byte slices) are shared; leaves treat them as immutable and
// replace whole cells on write.
func (l *Vals[T]) Clone() Column {
	out := &Vals[T]{v: append([]T(nil), l.v...)}
	if l.null != nil {
		out.null = append([]bool(nil), l.null...)
	}
	return out
}

// CloneBlock implements alloc.Cloner.
func (l *Vals[T]) CloneBlock() any { return l.Clone() }

// Links is the leaf for scalar Link columns. Null is the null key sentinel;
// there is no separate validity mask.
type Links struct {
	v []objkey.ObjKey
}

// NewLinks creates an empty link leaf.
func NewLinks() *Links { return &Links{} }

// Len implements Column.
func (l *Links) Len() int { return len(l.v) }

// Insert implements Column; new cells start at the null key.
func (l *Links) Insert(i int) {
	l.v = append(l.v, objkey.NullKey)
	copy(l.v[i+1:], l.v[i:])
	l.v[i] = objkey.NullKey
}

// Erase implements Column.
func (l *Links) Erase(i int) { l.v = append(l.v[:i], l.v[i+1:]...) }

// Get returns the stored key, which may be null or unresolved.
func (l *Links) Get(i int) objkey.ObjKey { return l.v[i] }

// Set stores a key.
func (l *Links) Set(i int, k objkey.ObjKey) { l.v[i] = k }

// IsNull reports whether the cell holds the null key.
func (l *Links) IsNull(i int) bool { return l.v[i].IsNull() }

// Clone implements Column.
func (l *Links) Clone() Column { return &Links{v: append([]objkey.ObjKey(nil), l.v...)} }

// CloneBlock implements alloc.Cloner.
func (l *Links) CloneBlock() any { return l.Clone() }

// TypedLinks is the leaf for TypedLink columns. Null is the zero link.
type TypedLinks struct {
	v []objkey.ObjLink
}

// NewTypedLinks creates an empty typed-link leaf.
func NewTypedLinks() *TypedLinks { return &TypedLinks{} }

// Len implements Column.
func (l *TypedLinks) Len() int { return len(l.v) }

// Insert implements Column.
func (l *TypedLinks) Insert(i int) {
	l.v = append(l.v, objkey.ObjLink{})
	copy(l.v[i+1:], l.v[i:])
	l.v[i] = objkey.ObjLink{}
}

// Erase implements Column.
func (l *TypedLinks) Erase(i int) { l.v = append(l.v[:i], l.v[i+1:]...) }

// Get returns the stored link, which may be null.
func (l *TypedLinks) Get(i int) objkey.ObjLink { return l.v[i] }

// Set stores a link.
func (l *TypedLinks) Set(i int, v objkey.ObjLink) { l.v[i] = v }

// IsNull reports whether the cell holds the null link.
func (l *TypedLinks) IsNull(i int) bool { return l.v[i].IsNull() }

// Clone implements Column.
func (l *TypedLinks) Clone() Column {
	return &TypedLinks{v: append([]objkey.ObjLink(nil), l.v...)}
}

// CloneBlock implements alloc.Cloner.
func (l *TypedLinks) CloneBlock() any { return l.Clone() }

// Mixeds is the leaf for Mixed columns. Null is the null variant.
type Mixeds struct {
	v []mixed.Mixed
}

// NewMixeds creates an empty mixed leaf.
func NewMixeds() *Mixeds { return &Mixeds{} }

// Len implements Column.
func (l *Mixeds) Len() int { return len(l.v) }

// Insert implements Column.
func (l *Mixeds) Insert(i int) {
	l.v = append(l.v, mixed.Null())
	copy(l.v[i+1:], l.v[i:])
	l.v[i] = mixed.Null()
}

// Erase implements Column.
func (l *Mixeds) Erase(i int) { l.v = append(l.v[:i], l.v[i+1:]...) }

// Get returns the stored value.
func (l *Mixeds) Get(i int) mixed.Mixed { return l.v[i] }

// Set stores a value.
func (l *Mixeds) Set(i int, v mixed.Mixed) { l.v[i] = v }

// IsNull reports whether the cell holds the null variant.
func (l *Mixeds) IsNull(i int) bool { return l.v[i].IsNull() }

// Clone implements Column.
func (l *Mixeds) Clone() Column { return &Mixeds{v: append([]mixed.Mixed(nil), l.v...)} }

// CloneBlock implements alloc.Cloner.
func (l *Mixeds) CloneBlock() any { return l.Clone() }

// Refs is the leaf for container cells: lists, link lists, and dictionaries.
// Each cell holds a ref to the container's own block (a List payload or a
// nested cluster-tree root); the zero ref means the container was never
// created.
type Refs struct {
	v []alloc.Ref
}

// NewRefs creates an empty container-cell leaf.
func NewRefs() *Refs { return &Refs{} }

// Len implements Column.
func (l *Refs) Len() int { return len(l.v) }

// Insert implements Column.
func (l *Refs) Insert(i int) {
	l.v = append(l.v, alloc.NullRef)
	copy(l.v[i+1:], l.v[i:])
	l.v[i] = alloc.NullRef
}

// Erase implements Column.
func (l *Refs) Erase(i int) { l.v = append(l.v[:i], l.v[i+1:]...) }

// Get returns the stored ref.
func (l *Refs) Get(i int) alloc.Ref { return l.v[i] }

// Set stores a ref.
func (l *Refs) Set(i int, r alloc.Ref) { l.v[i] = r }

// Clone implements Column. Cell refs are copied; the referenced container
// blocks are shared until copy-on-write duplicates them individually.
func (l *Refs) Clone() Column { return &Refs{v: append([]alloc.Ref(nil), l.v...)} }

// CloneBlock implements alloc.Cloner.
func (l *Refs) CloneBlock() any { return l.Clone() }

// Backlinks is the leaf for backlink columns: per row, the keys of every
// origin row whose forward column names this row. Duplicates are kept; one
// origin linking twice contributes two entries.
type Backlinks struct {
	v [][]objkey.ObjKey
}

// NewBacklinks creates an empty backlink leaf.
func NewBacklinks() *Backlinks { return &Backlinks{} }

// Len implements Column.
func (l *Backlinks) Len() int { return len(l.v) }

// Insert implements Column.
func (l *Backlinks) Insert(i int) {
	l.v = append(l.v, nil)
	copy(l.v[i+1:], l.v[i:])
	l.v[i] = nil
}

// Erase implements Column.
func (l *Backlinks) Erase(i int) { l.v = append(l.v[:i], l.v[i+1:]...) }

// Add appends one reverse edge.
func (l *Backlinks) Add(i int, origin objkey.ObjKey) {
	l.v[i] = append(l.v[i], origin)
}

// RemoveOne removes one occurrence of origin. found reports whether an edge
// was removed; lastRemoved reports whether the row's edge list is now empty.
func (l *Backlinks) RemoveOne(i int, origin objkey.ObjKey) (found, lastRemoved bool) {
	edges := l.v[i]
	for n, k := range edges {
		if k == origin {
			l.v[i] = append(edges[:n], edges[n+1:]...)
			return true, len(l.v[i]) == 0
		}
	}
	return false, false
}

// Count returns the number of reverse edges of row i.
func (l *Backlinks) Count(i int) int { return len(l.v[i]) }

// Get returns the n-th reverse edge of row i.
func (l *Backlinks) Get(i, n int) objkey.ObjKey { return l.v[i][n] }

// All returns a copy of row i's reverse edges.
func (l *Backlinks) All(i int) []objkey.ObjKey {
	return append([]objkey.ObjKey(nil), l.v[i]...)
}

// Clone implements Column with a deep copy of every edge list.
func (l *Backlinks) Clone() Column {
	out := &Backlinks{v: make([][]objkey.ObjKey, len(l.v))}
	for i, edges := range l.v {
		if edges != nil {
			out.v[i] = append([]objkey.ObjKey(nil), edges...)
		}
	}
	return out
}

// CloneBlock implements alloc.Cloner.
func (l *Backlinks) CloneBlock() any { return l.Clone() }

// List is the block payload behind one list cell.
type List[T any] struct {
	Elems []T
}

// NewList creates an empty list block.
func NewList[T any]() *List[T] { return &List[T]{} }

// Len returns the element count.
func (l *List[T]) Len() int { return len(l.Elems) }

// Get returns the element at i.
func (l *List[T]) Get(i int) T { return l.Elems[i] }

// Set replaces the element at i.
func (l *List[T]) Set(i int, v T) { l.Elems[i] = v }

// Insert inserts v at i.
func (l *List[T]) Insert(i int, v T) {
	var zero T
	l.Elems = append(l.Elems, zero)
	copy(l.Elems[i+1:], l.Elems[i:])
	l.Elems[i] = v
}

// Erase removes the element at i.
func (l *List[T]) Erase(i int) { l.Elems = append(l.Elems[:i], l.Elems[i+1:]...) }

// CloneBlock implements alloc.Cloner.
func (l *List[T]) CloneBlock() any {
	return &List[T]{Elems: append([]T(nil), l.Elems...)}
}

// ForColumn builds the leaf matching a column's physical type and
// attributes.
func ForColumn(c schema.Column) Column {
	k := c.Key
	switch {
	case k.Type() == schema.TypeBackLink:
		return NewBacklinks()
	case k.IsList() || k.Type() == schema.TypeLinkList || k.IsDictionary():
		return NewRefs()
	case k.Type() == schema.TypeLink:
		return NewLinks()
	case k.Type() == schema.TypeTypedLink:
		return NewTypedLinks()
	case k.Type() == schema.TypeMixed:
		return NewMixeds()
	}

	nullable := k.IsNullable()
	switch k.Type() {
	case schema.TypeInt:
		return NewVals[int64](nullable)
	case schema.TypeBool:
		return NewVals[bool](nullable)
	case schema.TypeFloat:
		return NewVals[float32](nullable)
	case schema.TypeDouble:
		return NewVals[float64](nullable)
	case schema.TypeString:
		return NewVals[string](nullable)
	case schema.TypeBinary:
		return NewVals[[]byte](nullable)
	case schema.TypeTimestamp:
		return NewVals[mixed.Timestamp](nullable)
	case schema.TypeDecimal128:
		return NewVals[mixed.Decimal128](nullable)
	case schema.TypeObjectID:
		return NewVals[mixed.ObjectID](nullable)
	default:
		return NewMixeds()
	}
}

// Meta is the slot 0 leaf: per-row flags.
type Meta = Vals[uint64]

// NewMeta creates the metadata leaf for slot 0.
func NewMeta() *Meta { return NewVals[uint64](false) }
