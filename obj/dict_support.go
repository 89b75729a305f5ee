package obj

import (
	"context"
	"fmt"

	"github.com/objcore/objcore/internal/alloc"
	"github.com/objcore/objcore/internal/clustertree"
	"github.com/objcore/objcore/internal/dict"
	"github.com/objcore/objcore/internal/leaf"
	"github.com/objcore/objcore/mixed"
	"github.com/objcore/objcore/objerr"
	"github.com/objcore/objcore/objkey"
	"github.com/objcore/objcore/replication"
	"github.com/objcore/objcore/schema"
)

// forEachDictValue visits every entry of the dictionary rooted at root.
func forEachDictValue(a *alloc.Allocator, root alloc.Ref, c schema.Column, fn func(key, value mixed.Mixed)) {
	dict.ForEach(a, root, c.KeyType, func(k, v mixed.Mixed) bool {
		fn(k, v)
		return true
	})
}

// nullifyDictLinks nulls every dictionary value holding a typed link to
// (targetTable, targetKey). The entry stays; only its value becomes null.
// Returns the (possibly copy-on-written) root.
func nullifyDictLinks(g *Group, root alloc.Ref, c schema.Column, targetTable schema.TableKey, targetKey objkey.ObjKey, ownerTable schema.TableKey, ownerKey objkey.ObjKey) (alloc.Ref, error) {
	if root == alloc.NullRef {
		return root, nil
	}
	t := dict.Attach(g.alloc, root, c.KeyType)
	var hit []objkey.ObjKey
	var hitKeys []mixed.Mixed
	t.ForEach(func(inner objkey.ObjKey, pos clustertree.Pos) bool {
		v := dict.ReadValue(t, pos)
		if v.Kind() == mixed.KindTypedLink && v.ObjLink().Table == targetTable && v.ObjLink().Key == targetKey {
			hit = append(hit, inner)
			hitKeys = append(hitKeys, dict.ReadKey(t, pos, c.KeyType))
		}
		return true
	})
	for n, inner := range hit {
		pos, err := t.MakeWritable(g.ctx, inner)
		if err != nil {
			return root, err
		}
		if err := dict.WriteValue(g.ctx, t, pos, mixed.Null()); err != nil {
			return root, err
		}
		dk := hitKeys[n]
		if err := g.emit(replication.Instruction{
			Op:      replication.OpSetNull,
			Table:   ownerTable,
			Key:     ownerKey,
			ColTag:  c.Key.Tag(),
			DictKey: &dk,
		}); err != nil {
			return root, err
		}
	}
	return t.Root(), nil
}

// redirectDictLinks rewrites typed-link dictionary values from oldKey to
// newKey. Used when the target row unresolves; no instruction is emitted.
func redirectDictLinks(g *Group, root alloc.Ref, c schema.Column, targetTable schema.TableKey, oldKey, newKey objkey.ObjKey) (alloc.Ref, error) {
	if root == alloc.NullRef {
		return root, nil
	}
	t := dict.Attach(g.alloc, root, c.KeyType)
	var hit []objkey.ObjKey
	t.ForEach(func(inner objkey.ObjKey, pos clustertree.Pos) bool {
		v := dict.ReadValue(t, pos)
		if v.Kind() == mixed.KindTypedLink && v.ObjLink().Table == targetTable && v.ObjLink().Key == oldKey {
			hit = append(hit, inner)
		}
		return true
	})
	for _, inner := range hit {
		pos, err := t.MakeWritable(g.ctx, inner)
		if err != nil {
			return root, err
		}
		if err := dict.WriteValue(g.ctx, t, pos, mixed.TypedLink(objkey.ObjLink{Table: targetTable, Key: newKey})); err != nil {
			return root, err
		}
	}
	return t.Root(), nil
}

// freeDictTree releases a dictionary's inner tree.
func freeDictTree(g *Group, root alloc.Ref) {
	dict.Free(g.ctx, g.alloc, root, schema.TypeInt)
}

// The methods below let the dictionary package drive its owning object
// without importing it; dictionary.Owner lists them.

// DictContentVersion returns the content version stamp a dictionary
// accessor caches.
func (o *Obj) DictContentVersion() uint64 { return o.t.g.alloc.ContentVersion() }

// DictBumpContentVersion records a dictionary value change.
func (o *Obj) DictBumpContentVersion() { o.t.g.alloc.BumpContentVersion() }

// DictAllocator returns the allocator backing the dictionary's inner tree.
func (o *Obj) DictAllocator() *alloc.Allocator { return o.t.g.alloc }

// DictContext returns the context dictionary operations run under.
func (o *Obj) DictContext() context.Context { return o.t.g.ctx }

// DictRefresh revalidates the owning accessor.
func (o *Obj) DictRefresh() error { return o.updateIfNeeded() }

// DictKeyType returns the declared key type of a dictionary column.
func (o *Obj) DictKeyType(col schema.ColKey) schema.ColumnType {
	c, err := o.column(col)
	if err != nil {
		return schema.TypeInt
	}
	return c.KeyType
}

// DictRoot reads the inner tree root from the column cell; NullRef while
// the dictionary was never created.
func (o *Obj) DictRoot(col schema.ColKey) (alloc.Ref, error) {
	if err := o.updateIfNeeded(); err != nil {
		return alloc.NullRef, err
	}
	c, err := o.column(col)
	if err != nil {
		return alloc.NullRef, err
	}
	if !c.Key.IsDictionary() {
		return alloc.NullRef, fmt.Errorf("%w: %q is not a dictionary column", objerr.ErrIllegalType, c.Name)
	}
	l := o.t.tree(o.key).Leaf(o.pos, o.slot(c.Key))
	return l.(*leaf.Refs).Get(o.pos.Index), nil
}

// DictSetRoot stores the inner tree root into the column cell.
func (o *Obj) DictSetRoot(col schema.ColKey, ref alloc.Ref) error {
	if err := o.updateIfNeeded(); err != nil {
		return err
	}
	c, err := o.column(col)
	if err != nil {
		return err
	}
	if err := o.ensureWriteable(); err != nil {
		return err
	}
	l, err := o.t.tree(o.key).LeafWritable(o.t.g.ctx, o.pos, o.slot(c.Key))
	if err != nil {
		return err
	}
	l.(*leaf.Refs).Set(o.pos.Index, ref)
	return nil
}

// DictValueMutated performs the owner-side bookkeeping of one dictionary
// entry mutation: reverse-edge maintenance for typed-link values and the
// replication instruction. Dictionary values never cascade; dropping the
// last strong edge through a dictionary still erases orphaned tombstones
// but leaves live rows in place.
func (o *Obj) DictValueMutated(col schema.ColKey, key mixed.Mixed, old, new_ mixed.Mixed, op replication.Op) error {
	c, err := o.column(col)
	if err != nil {
		return err
	}

	state := newCascadeState(CascadeNone)
	if old.Kind() == mixed.KindTypedLink {
		if _, err := o.removeBacklink(c, old.ObjLink(), state); err != nil {
			return err
		}
	}
	if new_.Kind() == mixed.KindTypedLink {
		target, err := o.t.g.Table(new_.ObjLink().Table)
		if err != nil {
			return err
		}
		if !target.IsValid(new_.ObjLink().Key) {
			return fmt.Errorf("%w: %s", objerr.ErrTargetOutOfRange, new_.ObjLink().Key)
		}
		if err := o.setBacklink(c, new_.ObjLink()); err != nil {
			return err
		}
	}

	dk := key
	return o.t.g.emit(replication.Instruction{
		Op:      op,
		Table:   o.t.Key(),
		Key:     o.key,
		ColTag:  col.Tag(),
		Value:   new_,
		DictKey: &dk,
	})
}
