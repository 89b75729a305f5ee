// Package dict implements the storage layout of a dictionary column cell: a
// nested cluster tree with two leaf columns per row, the user key at slot 1
// and a Mixed value at slot 2.
//
// The inner row key is derived from the hash of the user key with the sign
// bit cleared. Distinct user keys with colliding hashes overwrite each
// other; this mirrors the observed behavior of the original accessor and is
// deliberately not disambiguated here.
package dict

import (
	"context"

	"github.com/objcore/objcore/internal/alloc"
	"github.com/objcore/objcore/internal/clustertree"
	"github.com/objcore/objcore/internal/leaf"
	"github.com/objcore/objcore/mixed"
	"github.com/objcore/objcore/objerr"
	"github.com/objcore/objcore/objkey"
	"github.com/objcore/objcore/schema"
)

// Slots of the inner cluster tree.
const (
	SlotKey   = 1
	SlotValue = 2
)

// InnerKey derives the inner cluster key from a user key: its hash with the
// sign bit cleared.
func InnerKey(userKey mixed.Mixed) objkey.ObjKey {
	return objkey.ObjKey(userKey.Hash() & 0x7FFFFFFFFFFFFFFF)
}

// Factory returns the cluster factory for an inner tree with the given key
// type (schema.TypeInt or schema.TypeString).
func Factory(keyType schema.ColumnType) clustertree.Factory {
	return func() []leaf.Column {
		cols := make([]leaf.Column, 3)
		cols[0] = leaf.NewMeta()
		if keyType == schema.TypeString {
			cols[SlotKey] = leaf.NewVals[string](false)
		} else {
			cols[SlotKey] = leaf.NewVals[int64](false)
		}
		cols[SlotValue] = leaf.NewMixeds()
		return cols
	}
}

// Attach wraps an inner tree around an existing root ref.
func Attach(a *alloc.Allocator, root alloc.Ref, keyType schema.ColumnType) *clustertree.Tree {
	return clustertree.Attach(a, root, Factory(keyType))
}

// ReadKey reads the user key of the row at pos.
func ReadKey(t *clustertree.Tree, pos clustertree.Pos, keyType schema.ColumnType) mixed.Mixed {
	l := t.Leaf(pos, SlotKey)
	if keyType == schema.TypeString {
		v, _ := l.(*leaf.Vals[string]).Get(pos.Index)
		return mixed.String_(v)
	}
	v, _ := l.(*leaf.Vals[int64]).Get(pos.Index)
	return mixed.Int(v)
}

// WriteKey stores the user key of the row at pos. The leaf must be writable.
func WriteKey(ctx context.Context, t *clustertree.Tree, pos clustertree.Pos, keyType schema.ColumnType, key mixed.Mixed) error {
	l, err := t.LeafWritable(ctx, pos, SlotKey)
	if err != nil {
		return err
	}
	if keyType == schema.TypeString {
		if key.Kind() != mixed.KindString {
			return &objerr.WrongTypeError{Column: "dictionary key", Want: "string", Got: key.Kind().String()}
		}
		l.(*leaf.Vals[string]).Set(pos.Index, key.Str())
		return nil
	}
	if key.Kind() != mixed.KindInt {
		return &objerr.WrongTypeError{Column: "dictionary key", Want: "int", Got: key.Kind().String()}
	}
	l.(*leaf.Vals[int64]).Set(pos.Index, key.Int64())
	return nil
}

// ReadValue reads the value of the row at pos.
func ReadValue(t *clustertree.Tree, pos clustertree.Pos) mixed.Mixed {
	return t.Leaf(pos, SlotValue).(*leaf.Mixeds).Get(pos.Index)
}

// WriteValue stores the value of the row at pos.
func WriteValue(ctx context.Context, t *clustertree.Tree, pos clustertree.Pos, v mixed.Mixed) error {
	l, err := t.LeafWritable(ctx, pos, SlotValue)
	if err != nil {
		return err
	}
	l.(*leaf.Mixeds).Set(pos.Index, v)
	return nil
}

// ForEach visits every entry in cluster (derived inner key) order.
func ForEach(a *alloc.Allocator, root alloc.Ref, keyType schema.ColumnType, fn func(key, value mixed.Mixed) bool) {
	if root == alloc.NullRef {
		return
	}
	t := Attach(a, root, keyType)
	t.ForEach(func(_ objkey.ObjKey, pos clustertree.Pos) bool {
		return fn(ReadKey(t, pos, keyType), ReadValue(t, pos))
	})
}

// Free releases the inner tree's blocks.
func Free(ctx context.Context, a *alloc.Allocator, root alloc.Ref, keyType schema.ColumnType) {
	if root == alloc.NullRef {
		return
	}
	Attach(a, root, keyType).Clear(ctx)
}
