package obj

import (
	"fmt"

	"github.com/objcore/objcore/internal/clustertree"
	"github.com/objcore/objcore/internal/leaf"
	"github.com/objcore/objcore/mixed"
	"github.com/objcore/objcore/objerr"
	"github.com/objcore/objcore/objkey"
	"github.com/objcore/objcore/schema"
)

// Obj is a stable, version-checked accessor for one row. It caches the row's
// cluster ref and index together with a storage-version stamp; every
// operation revalidates the stamp and re-resolves through the cluster tree
// when the backing storage was reshaped.
//
// An Obj is a view. The authoritative state lives in the cluster tree; an
// accessor whose row was deleted or whose table was dropped becomes
// permanently invalid.
type Obj struct {
	t     *Table
	key   objkey.ObjKey
	pos   clustertree.Pos
	stamp uint64
	valid bool
}

// Key returns the row's key.
func (o *Obj) Key() objkey.ObjKey { return o.key }

// Table returns the owning table.
func (o *Obj) Table() *Table { return o.t }

// Link returns the global link naming this row.
func (o *Obj) Link() objkey.ObjLink {
	return objkey.ObjLink{Table: o.t.Key(), Key: o.key}
}

// ColKeyByName resolves a column name against the owning table's schema.
func (o *Obj) ColKeyByName(name string) (schema.ColKey, bool) {
	return o.t.spec.ColKeyByName(name)
}

// IsValid reports whether the accessor still resolves to a row. It performs
// the version handshake without failing.
func (o *Obj) IsValid() bool {
	return o.updateIfNeeded() == nil
}

// updateIfNeeded performs the version handshake: if the allocator's storage
// version moved past the cached stamp, re-resolve the row from the tree top
// and refresh the cached position.
func (o *Obj) updateIfNeeded() error {
	o.t.g.updateChecks.Add(1)
	if !o.valid || o.t.dropped {
		o.valid = false
		return objerr.ErrStaleAccessor
	}
	sv := o.t.g.alloc.StorageVersion()
	if sv == o.stamp {
		return nil
	}
	pos, ok := o.t.tree(o.key).Find(o.key)
	if !ok {
		o.valid = false
		return objerr.ErrStaleAccessor
	}
	o.pos = pos
	o.stamp = sv
	return nil
}

// ensureWriteable copy-on-writes the row's cluster if the current snapshot
// is frozen, refreshing the cached position and stamp.
func (o *Obj) ensureWriteable() error {
	pos, err := o.t.tree(o.key).MakeWritable(o.t.g.ctx, o.key)
	if err != nil {
		return err
	}
	o.pos = pos
	o.stamp = o.t.g.alloc.StorageVersion()
	return nil
}

// column resolves a ColKey against the table's schema.
func (o *Obj) column(col schema.ColKey) (schema.Column, error) {
	c, ok := o.t.spec.Column(col)
	if !ok {
		return schema.Column{}, fmt.Errorf("%w: no such column in table %q", objerr.ErrKeyNotFound, o.t.Name())
	}
	return c, nil
}

func (o *Obj) slot(col schema.ColKey) int { return col.Idx() + 1 }

// readCell reads one scalar cell as a Mixed. Link cells holding an
// unresolved key are surfaced unfiltered; callers filter.
func (o *Obj) readCell(c schema.Column) mixed.Mixed {
	l := o.t.tree(o.key).Leaf(o.pos, o.slot(c.Key))
	if l == nil {
		// Lazily registered slot never materialized on this cluster.
		return mixed.Null()
	}
	i := o.pos.Index
	switch c.Key.Type() {
	case schema.TypeInt:
		if v, ok := l.(*leaf.Vals[int64]).Get(i); ok {
			return mixed.Int(v)
		}
	case schema.TypeBool:
		if v, ok := l.(*leaf.Vals[bool]).Get(i); ok {
			return mixed.Bool(v)
		}
	case schema.TypeFloat:
		if v, ok := l.(*leaf.Vals[float32]).Get(i); ok {
			return mixed.Float(v)
		}
	case schema.TypeDouble:
		if v, ok := l.(*leaf.Vals[float64]).Get(i); ok {
			return mixed.Double(v)
		}
	case schema.TypeString:
		if v, ok := l.(*leaf.Vals[string]).Get(i); ok {
			return mixed.String_(v)
		}
	case schema.TypeBinary:
		if v, ok := l.(*leaf.Vals[[]byte]).Get(i); ok {
			return mixed.Binary(v)
		}
	case schema.TypeTimestamp:
		if v, ok := l.(*leaf.Vals[mixed.Timestamp]).Get(i); ok {
			return mixed.Time(v)
		}
	case schema.TypeDecimal128:
		if v, ok := l.(*leaf.Vals[mixed.Decimal128]).Get(i); ok {
			return mixed.Decimal(v)
		}
	case schema.TypeObjectID:
		if v, ok := l.(*leaf.Vals[mixed.ObjectID]).Get(i); ok {
			return mixed.OID(v)
		}
	case schema.TypeMixed:
		return l.(*leaf.Mixeds).Get(i)
	case schema.TypeLink:
		if k := l.(*leaf.Links).Get(i); !k.IsNull() {
			return mixed.Link(k)
		}
	case schema.TypeTypedLink:
		if v := l.(*leaf.TypedLinks).Get(i); !v.IsNull() {
			return mixed.TypedLink(v)
		}
	default:
		panic(&objerr.CorruptionError{Detail: "unexpected leaf type in scalar read"})
	}
	return mixed.Null()
}

// GetAny reads a scalar cell polymorphically. Null cells return the null
// variant; a link holding an unresolved key is filtered to null.
func (o *Obj) GetAny(col schema.ColKey) (mixed.Mixed, error) {
	if err := o.updateIfNeeded(); err != nil {
		return mixed.Null(), err
	}
	c, err := o.column(col)
	if err != nil {
		return mixed.Null(), err
	}
	if c.Key.IsList() || c.Key.IsDictionary() || c.Key.Type() == schema.TypeLinkList || c.Key.Type() == schema.TypeBackLink {
		return mixed.Null(), fmt.Errorf("%w: %q is not a scalar column", objerr.ErrIllegalType, c.Name)
	}
	m := o.readCell(c)
	if m.IsLink() && m.ObjKey().IsUnresolved() {
		return mixed.Null(), nil
	}
	return m, nil
}

// IsNull reports whether a nullable scalar cell holds null. Link, TypedLink
// and Mixed cells count as nullable whatever their attribute. On other
// non-nullable columns, and on list and dictionary columns, it always
// reports false.
func (o *Obj) IsNull(col schema.ColKey) (bool, error) {
	if err := o.updateIfNeeded(); err != nil {
		return false, err
	}
	c, err := o.column(col)
	if err != nil {
		return false, err
	}
	if c.Key.IsList() || c.Key.IsDictionary() || c.Key.Type() == schema.TypeLinkList || c.Key.Type() == schema.TypeBackLink {
		return false, nil
	}
	switch c.Key.Type() {
	case schema.TypeLink, schema.TypeTypedLink, schema.TypeMixed:
		// Reference-bearing cells are nullable by construction.
	default:
		if !c.Key.IsNullable() {
			return false, nil
		}
	}
	m := o.readCell(c)
	return m.IsNull(), nil
}

// wantKind maps a column type to the Mixed kind a typed read yields.
func wantKind(t schema.ColumnType) mixed.Kind {
	switch t {
	case schema.TypeInt:
		return mixed.KindInt
	case schema.TypeBool:
		return mixed.KindBool
	case schema.TypeFloat:
		return mixed.KindFloat
	case schema.TypeDouble:
		return mixed.KindDouble
	case schema.TypeString:
		return mixed.KindString
	case schema.TypeBinary:
		return mixed.KindBinary
	case schema.TypeTimestamp:
		return mixed.KindTimestamp
	case schema.TypeDecimal128:
		return mixed.KindDecimal128
	case schema.TypeObjectID:
		return mixed.KindObjectID
	case schema.TypeLink:
		return mixed.KindLink
	case schema.TypeTypedLink:
		return mixed.KindTypedLink
	default:
		return mixed.KindNull
	}
}

// kindOf maps a Go value type onto the Mixed kind it reads as.
func kindOf(v any) (mixed.Kind, bool) {
	switch v.(type) {
	case int64:
		return mixed.KindInt, true
	case bool:
		return mixed.KindBool, true
	case float32:
		return mixed.KindFloat, true
	case float64:
		return mixed.KindDouble, true
	case string:
		return mixed.KindString, true
	case []byte:
		return mixed.KindBinary, true
	case mixed.Timestamp:
		return mixed.KindTimestamp, true
	case mixed.Decimal128:
		return mixed.KindDecimal128, true
	case mixed.ObjectID:
		return mixed.KindObjectID, true
	case objkey.ObjKey:
		return mixed.KindLink, true
	case objkey.ObjLink:
		return mixed.KindTypedLink, true
	case mixed.Mixed:
		return mixed.KindNull, true // any kind accepted
	default:
		return mixed.KindNull, false
	}
}

// extract converts a Mixed into the requested Go type. The kinds must
// already match.
func extract[T any](m mixed.Mixed) T {
	var out any
	switch any(*new(T)).(type) {
	case int64:
		out = m.Int64()
	case bool:
		out = m.Bool_()
	case float32:
		out = m.Float32()
	case float64:
		out = m.Float64()
	case string:
		out = m.Str()
	case []byte:
		out = m.Bytes()
	case mixed.Timestamp:
		out = m.Timestamp()
	case mixed.Decimal128:
		out = m.Decimal128()
	case mixed.ObjectID:
		out = m.ObjectID()
	case objkey.ObjKey:
		out = m.ObjKey()
	case objkey.ObjLink:
		out = m.ObjLink()
	case mixed.Mixed:
		out = m
	}
	return out.(T)
}

// Get reads a scalar cell with a static type. It fails with ErrWrongType
// when T does not match the column's type, and with ErrNullValue when a
// nullable cell holds null. A link holding an unresolved key reads as the
// null key, not an error: tombstones are invisible through this accessor.
func Get[T any](o *Obj, col schema.ColKey) (T, error) {
	var zero T
	m, err := o.GetAny(col)
	if err != nil {
		return zero, err
	}
	c, _ := o.column(col)

	want, ok := kindOf(any(zero))
	if !ok {
		return zero, fmt.Errorf("%w: unsupported Go type %T", objerr.ErrIllegalType, zero)
	}
	if _, isMixed := any(zero).(mixed.Mixed); isMixed {
		return extract[T](m), nil
	}
	if c.Key.Type() != schema.TypeMixed && wantKind(c.Key.Type()) != want {
		return zero, &objerr.WrongTypeError{Column: c.Name, Want: c.Key.Type().String(), Got: fmt.Sprintf("%T", zero)}
	}
	if m.IsNull() {
		if want == mixed.KindLink {
			return extract[T](mixed.Link(objkey.NullKey)), nil
		}
		return zero, fmt.Errorf("%w: column %q", objerr.ErrNullValue, c.Name)
	}
	if c.Key.Type() == schema.TypeMixed && m.Kind() != want {
		return zero, &objerr.WrongTypeError{Column: c.Name, Want: m.Kind().String(), Got: fmt.Sprintf("%T", zero)}
	}
	return extract[T](m), nil
}

// GetOptional reads a nullable scalar cell; ok is false when the cell is
// null.
func GetOptional[T any](o *Obj, col schema.ColKey) (val T, ok bool, err error) {
	m, err := o.GetAny(col)
	if err != nil {
		var zero T
		return zero, false, err
	}
	if m.IsNull() {
		var zero T
		return zero, false, nil
	}
	val, err = Get[T](o, col)
	return val, err == nil, err
}

// GetUnfilteredLink reads a Link cell without tombstone filtering: an
// unresolved target surfaces as its unresolved key.
func (o *Obj) GetUnfilteredLink(col schema.ColKey) (objkey.ObjKey, error) {
	if err := o.updateIfNeeded(); err != nil {
		return objkey.NullKey, err
	}
	c, err := o.column(col)
	if err != nil {
		return objkey.NullKey, err
	}
	if c.Key.Type() != schema.TypeLink || c.Key.IsList() {
		return objkey.NullKey, fmt.Errorf("%w: %q is not a scalar link column", objerr.ErrIllegalType, c.Name)
	}
	l := o.t.tree(o.key).Leaf(o.pos, o.slot(c.Key))
	return l.(*leaf.Links).Get(o.pos.Index), nil
}

// GetLinkTarget resolves a Link cell directly to an accessor on the target
// row. Fails with ErrTargetOutOfRange when the cell is null or the target is
// unresolved.
func (o *Obj) GetLinkTarget(col schema.ColKey) (*Obj, error) {
	k, err := Get[objkey.ObjKey](o, col)
	if err != nil {
		return nil, err
	}
	if k.IsNull() {
		return nil, fmt.Errorf("%w: null link", objerr.ErrTargetOutOfRange)
	}
	c, _ := o.column(col)
	target, err := o.t.g.Table(c.Target)
	if err != nil {
		return nil, err
	}
	return target.GetObject(k)
}

// Equal compares all public scalar columns pairwise. List and dictionary
// columns are excluded: this compares scalar columns only.
func (o *Obj) Equal(other *Obj) (bool, error) {
	if err := o.updateIfNeeded(); err != nil {
		return false, err
	}
	if err := other.updateIfNeeded(); err != nil {
		return false, err
	}
	for _, c := range o.t.spec.PublicColumns() {
		if c.Key.IsList() || c.Key.IsDictionary() || c.Key.Type() == schema.TypeLinkList {
			continue
		}
		oc, ok := other.t.spec.ColumnByName(c.Name)
		if !ok || oc.Key.Type() != c.Key.Type() {
			return false, nil
		}
		a, err := o.GetAny(c.Key)
		if err != nil {
			return false, err
		}
		b, err := other.GetAny(oc.Key)
		if err != nil {
			return false, err
		}
		if !a.Equal(b) {
			return false, nil
		}
	}
	return true, nil
}

// TraverseAllLinks visits every outgoing reference of the row: scalar links,
// typed links, link-list elements, mixed cells holding links, and
// dictionary values holding links. Traversal stops when fn returns false.
func (o *Obj) TraverseAllLinks(fn func(col schema.ColKey, link objkey.ObjLink) bool) error {
	if err := o.updateIfNeeded(); err != nil {
		return err
	}
	for _, c := range o.t.spec.PublicColumns() {
		links, err := o.outgoingLinks(c)
		if err != nil {
			return err
		}
		for _, l := range links {
			if !fn(c.Key, l) {
				return nil
			}
		}
	}
	return nil
}

// outgoingLinks collects the outgoing references stored in one column.
func (o *Obj) outgoingLinks(c schema.Column) ([]objkey.ObjLink, error) {
	var out []objkey.ObjLink
	switch {
	case c.Key.IsDictionary():
		refs := o.t.tree(o.key).Leaf(o.pos, o.slot(c.Key)).(*leaf.Refs)
		root := refs.Get(o.pos.Index)
		forEachDictValue(o.t.g.alloc, root, c, func(_ mixed.Mixed, v mixed.Mixed) {
			if v.Kind() == mixed.KindTypedLink {
				out = append(out, v.ObjLink())
			}
		})
	case c.Key.Type() == schema.TypeLinkList:
		ll, err := o.GetLinkList(c.Key)
		if err != nil {
			return nil, err
		}
		n, err := ll.Size()
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			k, _ := ll.Get(i)
			if !k.IsNull() {
				out = append(out, objkey.ObjLink{Table: c.Target, Key: k})
			}
		}
	case c.Key.Type() == schema.TypeLink && !c.Key.IsList():
		k, err := o.GetUnfilteredLink(c.Key)
		if err != nil {
			return nil, err
		}
		if !k.IsNull() {
			out = append(out, objkey.ObjLink{Table: c.Target, Key: k})
		}
	case c.Key.Type() == schema.TypeTypedLink:
		l := o.t.tree(o.key).Leaf(o.pos, o.slot(c.Key)).(*leaf.TypedLinks)
		if v := l.Get(o.pos.Index); !v.IsNull() {
			out = append(out, v)
		}
	case c.Key.Type() == schema.TypeMixed:
		m := o.readCell(c)
		if m.Kind() == mixed.KindTypedLink {
			out = append(out, m.ObjLink())
		}
	}
	return out, nil
}
