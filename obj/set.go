package obj

import (
	"fmt"
	"time"

	"github.com/objcore/objcore/internal/leaf"
	"github.com/objcore/objcore/mixed"
	"github.com/objcore/objcore/objerr"
	"github.com/objcore/objcore/objkey"
	"github.com/objcore/objcore/replication"
	"github.com/objcore/objcore/schema"
)

const (
	// MaxStringSize is the largest storable string, in bytes.
	MaxStringSize = 0xFFFFF8
	// MaxBinarySize is the largest storable binary value, in bytes.
	MaxBinarySize = 0xFFFFF8
)

// toMixed converts a Go value to its Mixed form for storage.
func toMixed(v any) (mixed.Mixed, bool) {
	switch x := v.(type) {
	case int64:
		return mixed.Int(x), true
	case int:
		return mixed.Int(int64(x)), true
	case bool:
		return mixed.Bool(x), true
	case float32:
		return mixed.Float(x), true
	case float64:
		return mixed.Double(x), true
	case string:
		return mixed.String_(x), true
	case []byte:
		return mixed.Binary(x), true
	case mixed.Timestamp:
		return mixed.Time(x), true
	case time.Time:
		return mixed.Time(mixed.TimestampOf(x)), true
	case mixed.Decimal128:
		return mixed.Decimal(x), true
	case mixed.ObjectID:
		return mixed.OID(x), true
	case objkey.ObjKey:
		return mixed.Link(x), true
	case objkey.ObjLink:
		return mixed.TypedLink(x), true
	case mixed.Mixed:
		return x, true
	default:
		return mixed.Null(), false
	}
}

// Set writes a typed value into a scalar cell.
func Set[T any](o *Obj, col schema.ColKey, v T) error {
	m, ok := toMixed(v)
	if !ok {
		return fmt.Errorf("%w: unsupported Go type %T", objerr.ErrIllegalType, v)
	}
	return o.setMixed(col, m, false)
}

// SetDefault writes a default value: the mutation is journaled as
// SetDefault so replicas can distinguish user writes from defaulting.
func SetDefault[T any](o *Obj, col schema.ColKey, v T) error {
	m, ok := toMixed(v)
	if !ok {
		return fmt.Errorf("%w: unsupported Go type %T", objerr.ErrIllegalType, v)
	}
	return o.setMixed(col, m, true)
}

// SetAny writes a Mixed, dispatching on its tag. The null variant dispatches
// to SetNull.
func (o *Obj) SetAny(col schema.ColKey, m mixed.Mixed) error {
	if m.IsNull() {
		return o.SetNull(col)
	}
	return o.setMixed(col, m, false)
}

// SetNull nulls a scalar cell. The column must be nullable; link-bearing
// cells are nullable by construction.
func (o *Obj) SetNull(col schema.ColKey) error {
	return o.setMixed(col, mixed.Null(), false)
}

// checkWritableColumn rejects writes into non-scalar and backlink columns.
func checkWritableColumn(c schema.Column) error {
	if c.Key.Type() == schema.TypeBackLink {
		return fmt.Errorf("%w: backlink column", objerr.ErrIllegalType)
	}
	if c.Key.IsList() || c.Key.IsDictionary() || c.Key.Type() == schema.TypeLinkList {
		return fmt.Errorf("%w: %q is not a scalar column", objerr.ErrIllegalType, c.Name)
	}
	return nil
}

// checkValue type-checks a value against the column and enforces the size
// limits. Null passes only for nullable and reference-bearing columns.
func checkValue(c schema.Column, m mixed.Mixed) error {
	if m.IsNull() {
		switch c.Key.Type() {
		case schema.TypeLink, schema.TypeTypedLink, schema.TypeMixed:
			return nil
		}
		if !c.Key.IsNullable() {
			return fmt.Errorf("%w: column %q", objerr.ErrNotNullable, c.Name)
		}
		return nil
	}

	switch m.Kind() {
	case mixed.KindString:
		if len(m.Str()) > MaxStringSize {
			return objerr.NewStringTooBig(c.Name, len(m.Str()), MaxStringSize)
		}
	case mixed.KindBinary:
		if len(m.Bytes()) > MaxBinarySize {
			return objerr.NewBinaryTooBig(c.Name, len(m.Bytes()), MaxBinarySize)
		}
	}

	if c.Key.Type() == schema.TypeMixed {
		// A Mixed column stores every scalar kind; bare links are rejected
		// because they carry no target table.
		if m.Kind() == mixed.KindLink {
			return fmt.Errorf("%w: a mixed column needs a typed link", objerr.ErrIllegalType)
		}
		return nil
	}
	if wantKind(c.Key.Type()) != m.Kind() {
		return &objerr.WrongTypeError{Column: c.Name, Want: c.Key.Type().String(), Got: m.Kind().String()}
	}
	return nil
}

// linkOf extracts the outgoing reference a stored value represents, if any.
func linkOf(c schema.Column, m mixed.Mixed) (objkey.ObjLink, bool) {
	switch m.Kind() {
	case mixed.KindLink:
		if m.ObjKey().IsNull() {
			return objkey.ObjLink{}, false
		}
		return objkey.ObjLink{Table: c.Target, Key: m.ObjKey()}, true
	case mixed.KindTypedLink:
		return m.ObjLink(), !m.ObjLink().IsNull()
	default:
		return objkey.ObjLink{}, false
	}
}

// validateLinkTarget checks that a new link target is alive and, for
// embedded targets, unowned.
func (o *Obj) validateLinkTarget(c schema.Column, link objkey.ObjLink) error {
	target, err := o.t.g.Table(link.Table)
	if err != nil {
		return err
	}
	if !target.IsValid(link.Key) {
		return fmt.Errorf("%w: %s", objerr.ErrTargetOutOfRange, link.Key)
	}
	if target.spec.IsEmbedded() {
		to, err := target.GetObject(link.Key)
		if err != nil {
			return err
		}
		n, err := to.totalBacklinkCount()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: embedded row %s already has an owner", objerr.ErrWrongTableKind, link.Key)
		}
	}
	return nil
}

// writeCell stores a scalar value into the row's (writable) leaf.
func (o *Obj) writeCell(c schema.Column, m mixed.Mixed) error {
	l, err := o.t.tree(o.key).LeafWritable(o.t.g.ctx, o.pos, o.slot(c.Key))
	if err != nil {
		return err
	}
	i := o.pos.Index
	if m.IsNull() {
		switch c.Key.Type() {
		case schema.TypeLink:
			l.(*leaf.Links).Set(i, objkey.NullKey)
		case schema.TypeTypedLink:
			l.(*leaf.TypedLinks).Set(i, objkey.ObjLink{})
		case schema.TypeMixed:
			l.(*leaf.Mixeds).Set(i, mixed.Null())
		default:
			type nullable interface{ SetNull(i int) }
			l.(nullable).SetNull(i)
		}
		return nil
	}
	switch c.Key.Type() {
	case schema.TypeInt:
		l.(*leaf.Vals[int64]).Set(i, m.Int64())
	case schema.TypeBool:
		l.(*leaf.Vals[bool]).Set(i, m.Bool_())
	case schema.TypeFloat:
		l.(*leaf.Vals[float32]).Set(i, m.Float32())
	case schema.TypeDouble:
		l.(*leaf.Vals[float64]).Set(i, m.Float64())
	case schema.TypeString:
		l.(*leaf.Vals[string]).Set(i, m.Str())
	case schema.TypeBinary:
		l.(*leaf.Vals[[]byte]).Set(i, m.Bytes())
	case schema.TypeTimestamp:
		l.(*leaf.Vals[mixed.Timestamp]).Set(i, m.Timestamp())
	case schema.TypeDecimal128:
		l.(*leaf.Vals[mixed.Decimal128]).Set(i, m.Decimal128())
	case schema.TypeObjectID:
		l.(*leaf.Vals[mixed.ObjectID]).Set(i, m.ObjectID())
	case schema.TypeMixed:
		l.(*leaf.Mixeds).Set(i, m)
	case schema.TypeLink:
		l.(*leaf.Links).Set(i, m.ObjKey())
	case schema.TypeTypedLink:
		l.(*leaf.TypedLinks).Set(i, m.ObjLink())
	default:
		panic(&objerr.CorruptionError{Detail: "unexpected leaf type in scalar write"})
	}
	return nil
}

// setMixed is the single write path behind Set, SetDefault, SetAny, and
// SetNull.
func (o *Obj) setMixed(col schema.ColKey, m mixed.Mixed, isDefault bool) (err error) {
	start := time.Now()
	defer func() {
		o.t.g.recordMutation("set", start, err)
		o.t.g.logSet(col, o.key, err)
	}()

	if err = o.updateIfNeeded(); err != nil {
		return err
	}
	c, err := o.column(col)
	if err != nil {
		return err
	}
	if err = checkWritableColumn(c); err != nil {
		return err
	}
	if err = checkValue(c, m); err != nil {
		return err
	}

	old := o.readCell(c)
	if old.Equal(m) {
		return nil
	}

	newLink, hasNew := linkOf(c, m)
	if hasNew {
		if err = o.validateLinkTarget(c, newLink); err != nil {
			return err
		}
	}

	if err = o.ensureWriteable(); err != nil {
		return err
	}

	// Update the reverse edge before touching the cell, so a failed cascade
	// enqueue never leaves a dangling forward link.
	state := newCascadeState(CascadeStrong)
	recurse := false
	oldLink, hasOld := linkOf(c, old)
	if hasOld || hasNew {
		recurse, err = o.replaceBacklink(c, oldLink, hasOld, newLink, hasNew, state)
		if err != nil {
			return err
		}
	}

	if err = o.writeCell(c, m); err != nil {
		return err
	}
	o.t.indexUpdate(c.Key, o.key, old, m)
	o.t.g.alloc.BumpContentVersion()

	op := replication.OpSet
	switch {
	case isDefault:
		op = replication.OpSetDefault
	case m.IsNull():
		op = replication.OpSetNull
	}
	if err = o.t.g.emit(replication.Instruction{
		Op:     op,
		Table:  o.t.Key(),
		Key:    o.key,
		ColTag: col.Tag(),
		Value:  m,
	}); err != nil {
		return err
	}

	if recurse {
		return o.t.g.removeRecursive(state)
	}
	return nil
}

// AddInt applies a wrapping 64-bit add to an integer cell and journals the
// delta, keeping replication commutative under concurrent replay.
func (o *Obj) AddInt(col schema.ColKey, delta int64) (err error) {
	start := time.Now()
	defer func() { o.t.g.recordMutation("add_int", start, err) }()

	if err = o.updateIfNeeded(); err != nil {
		return err
	}
	c, err := o.column(col)
	if err != nil {
		return err
	}
	if err = checkWritableColumn(c); err != nil {
		return err
	}
	if c.Key.Type() != schema.TypeInt {
		return fmt.Errorf("%w: add_int needs an integer column, got %s", objerr.ErrIllegalType, c.Key.Type())
	}

	old := o.readCell(c)
	if old.IsNull() {
		return fmt.Errorf("%w: add_int on null cell %q", objerr.ErrIllegalCombination, c.Name)
	}

	if err = o.ensureWriteable(); err != nil {
		return err
	}
	sum := int64(uint64(old.Int64()) + uint64(delta))
	if err = o.writeCell(c, mixed.Int(sum)); err != nil {
		return err
	}
	o.t.indexUpdate(c.Key, o.key, old, mixed.Int(sum))
	o.t.g.alloc.BumpContentVersion()

	return o.t.g.emit(replication.Instruction{
		Op:     replication.OpAddInt,
		Table:  o.t.Key(),
		Key:    o.key,
		ColTag: col.Tag(),
		Value:  mixed.Int(delta),
	})
}

// CreateAndSetLinkedObject allocates a new row in the column's link target
// and points the cell at it. For an embedded target, an existing target row
// is cascade-deleted once the cell points at the new row; for a
// non-embedded target the cell must be null.
func (o *Obj) CreateAndSetLinkedObject(col schema.ColKey) (*Obj, error) {
	if err := o.updateIfNeeded(); err != nil {
		return nil, err
	}
	c, err := o.column(col)
	if err != nil {
		return nil, err
	}
	if c.Key.Type() != schema.TypeLink || c.Key.IsList() {
		return nil, fmt.Errorf("%w: %q is not a scalar link column", objerr.ErrIllegalType, c.Name)
	}
	target, err := o.t.g.Table(c.Target)
	if err != nil {
		return nil, err
	}

	cur, err := o.GetUnfilteredLink(col)
	if err != nil {
		return nil, err
	}
	if !cur.IsNull() && !target.spec.IsEmbedded() {
		return nil, fmt.Errorf("%w: column %q already links %s", objerr.ErrWrongTableKind, c.Name, cur)
	}

	child, err := target.createRow()
	if err != nil {
		return nil, err
	}
	if err := o.setMixed(col, mixed.Link(child.Key()), false); err != nil {
		return nil, err
	}
	return child, nil
}
