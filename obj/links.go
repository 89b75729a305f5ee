package obj

import (
	"fmt"

	"github.com/objcore/objcore/internal/leaf"
	"github.com/objcore/objcore/mixed"
	"github.com/objcore/objcore/objerr"
	"github.com/objcore/objcore/objkey"
	"github.com/objcore/objcore/replication"
	"github.com/objcore/objcore/schema"
)

// backlinkColFor resolves the reverse column on the target table mirroring
// forward column c. Statically-targeted columns carry their opposite in the
// schema; dynamically-targeted ones (TypedLink, Mixed, dictionary values)
// register theirs lazily keyed on (origin table, origin column).
func (o *Obj) backlinkColFor(c schema.Column, target *Table) schema.ColKey {
	if !c.Opposite.IsZero() {
		return c.Opposite
	}
	return o.t.g.sch.EnsureBacklink(target.spec, o.t.Key(), c.Key)
}

// backlinkLeaf returns the writable backlink leaf of the row at key,
// materializing the slot if the column was registered after the cluster was
// created.
func (t *Table) backlinkLeaf(key objkey.ObjKey, backCol schema.ColKey) (*leaf.Backlinks, int, error) {
	tree := t.tree(key)
	pos, err := tree.MakeWritable(t.g.ctx, key)
	if err != nil {
		return nil, 0, err
	}
	col, err := tree.EnsureSlot(t.g.ctx, pos, backCol.Idx()+1, func() leaf.Column { return leaf.NewBacklinks() })
	if err != nil {
		return nil, 0, err
	}
	return col.(*leaf.Backlinks), pos.Index, nil
}

// backlinkAdd appends the reverse edge origin → key.
func (t *Table) backlinkAdd(key objkey.ObjKey, backCol schema.ColKey, origin objkey.ObjKey) error {
	bl, i, err := t.backlinkLeaf(key, backCol)
	if err != nil {
		return err
	}
	bl.Add(i, origin)
	return nil
}

// backlinkRemoveOne removes one occurrence of the reverse edge and reports
// whether the row's list for that column is now empty.
func (t *Table) backlinkRemoveOne(key objkey.ObjKey, backCol schema.ColKey, origin objkey.ObjKey) (lastRemoved bool, err error) {
	bl, i, err := t.backlinkLeaf(key, backCol)
	if err != nil {
		return false, err
	}
	found, last := bl.RemoveOne(i, origin)
	if !found {
		panic(&objerr.CorruptionError{Detail: "forward link without matching backlink"})
	}
	return last, nil
}

// setBacklink records the reverse edge of a new forward link.
func (o *Obj) setBacklink(c schema.Column, newLink objkey.ObjLink) error {
	target, err := o.t.g.Table(newLink.Table)
	if err != nil {
		return err
	}
	backCol := o.backlinkColFor(c, target)
	return target.backlinkAdd(newLink.Key, backCol, o.key)
}

// removeBacklink removes the reverse edge of a dropped forward link. A
// tombstone target whose last reference disappeared is erased outright; a
// live target orphaned through a strong edge is enqueued into state.
// Returns whether cascade recursion is needed.
func (o *Obj) removeBacklink(c schema.Column, oldLink objkey.ObjLink, state *CascadeState) (bool, error) {
	target, err := o.t.g.Table(oldLink.Table)
	if err != nil {
		return false, err
	}
	backCol := o.backlinkColFor(c, target)
	last, err := target.backlinkRemoveOne(oldLink.Key, backCol, o.key)
	if err != nil {
		return false, err
	}

	if oldLink.Key.IsUnresolved() {
		if !last {
			return false, nil
		}
		to, err := target.GetObject(oldLink.Key)
		if err != nil {
			return false, nil
		}
		n, err := to.totalBacklinkCount()
		if err != nil {
			return false, err
		}
		if n == 0 {
			// Last outstanding reference to the tombstone is gone.
			if err := target.tree(oldLink.Key).Erase(target.g.ctx, oldLink.Key); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	strong := c.Key.IsStrong() || target.spec.IsEmbedded()
	return state.enqueue(oldLink, strong, last), nil
}

// replaceBacklink swaps the reverse edge of a forward cell: remove the old
// edge (possibly enqueueing a cascade), then add the new one.
func (o *Obj) replaceBacklink(c schema.Column, oldLink objkey.ObjLink, hasOld bool, newLink objkey.ObjLink, hasNew bool, state *CascadeState) (bool, error) {
	recurse := false
	if hasOld {
		var err error
		recurse, err = o.removeBacklink(c, oldLink, state)
		if err != nil {
			return false, err
		}
	}
	if hasNew {
		if err := o.setBacklink(c, newLink); err != nil {
			return false, err
		}
	}
	return recurse, nil
}

// backlinksAt reads a backlink leaf without making it writable. Returns nil
// when the slot never materialized (no edge was ever recorded).
func (o *Obj) backlinksAt(backCol schema.ColKey) *leaf.Backlinks {
	l := o.t.tree(o.key).Leaf(o.pos, backCol.Idx()+1)
	if l == nil {
		return nil
	}
	return l.(*leaf.Backlinks)
}

// reverseColOf resolves the backlink column on this row's table mirroring
// (originTable, originCol).
func (o *Obj) reverseColOf(originTable *Table, originCol schema.ColKey) (schema.ColKey, error) {
	c, ok := originTable.spec.Column(originCol)
	if !ok {
		return schema.ColKey{}, fmt.Errorf("%w: no such column in table %q", objerr.ErrKeyNotFound, originTable.Name())
	}
	if !c.Opposite.IsZero() {
		return c.Opposite, nil
	}
	return o.t.g.sch.EnsureBacklink(o.t.spec, originTable.Key(), originCol), nil
}

// BacklinkCount returns the number of rows in originTable whose column
// originCol links to this row.
func (o *Obj) BacklinkCount(originTable *Table, originCol schema.ColKey) (int, error) {
	if err := o.updateIfNeeded(); err != nil {
		return 0, err
	}
	backCol, err := o.reverseColOf(originTable, originCol)
	if err != nil {
		return 0, err
	}
	bl := o.backlinksAt(backCol)
	if bl == nil {
		return 0, nil
	}
	return bl.Count(o.pos.Index), nil
}

// Backlink returns the n-th origin key linking to this row through
// (originTable, originCol).
func (o *Obj) Backlink(originTable *Table, originCol schema.ColKey, n int) (objkey.ObjKey, error) {
	count, err := o.BacklinkCount(originTable, originCol)
	if err != nil {
		return objkey.NullKey, err
	}
	if n < 0 || n >= count {
		return objkey.NullKey, fmt.Errorf("%w: backlink %d of %d", objerr.ErrKeyNotFound, n, count)
	}
	backCol, _ := o.reverseColOf(originTable, originCol)
	return o.backlinksAt(backCol).Get(o.pos.Index, n), nil
}

// AllBacklinks returns every origin key recorded in the given backlink
// column of this row.
func (o *Obj) AllBacklinks(backCol schema.ColKey) ([]objkey.ObjKey, error) {
	if err := o.updateIfNeeded(); err != nil {
		return nil, err
	}
	if backCol.Type() != schema.TypeBackLink {
		return nil, fmt.Errorf("%w: not a backlink column", objerr.ErrIllegalType)
	}
	bl := o.backlinksAt(backCol)
	if bl == nil {
		return nil, nil
	}
	return bl.All(o.pos.Index), nil
}

// totalBacklinkCount sums the reverse edges across every backlink column.
func (o *Obj) totalBacklinkCount() (int, error) {
	if err := o.updateIfNeeded(); err != nil {
		return 0, err
	}
	n := 0
	for _, c := range o.t.spec.BacklinkColumns() {
		if bl := o.backlinksAt(c.Key); bl != nil {
			n += bl.Count(o.pos.Index)
		}
	}
	return n, nil
}

// nullifyLink clears every occurrence of targetKey from the forward column,
// journaling the clear. Reverse-edge bookkeeping is skipped: this runs while
// the target row itself is being removed and its edges die with it.
func (o *Obj) nullifyLink(c schema.Column, targetKey objkey.ObjKey, targetTable schema.TableKey) error {
	if err := o.updateIfNeeded(); err != nil {
		return err
	}
	if err := o.ensureWriteable(); err != nil {
		return err
	}
	i := o.pos.Index

	switch {
	case c.Key.IsDictionary():
		refs, err := o.t.tree(o.key).LeafWritable(o.t.g.ctx, o.pos, o.slot(c.Key))
		if err != nil {
			return err
		}
		root := refs.(*leaf.Refs).Get(i)
		newRoot, err := nullifyDictLinks(o.t.g, root, c, targetTable, targetKey, o.t.Key(), o.key)
		if err != nil {
			return err
		}
		refs.(*leaf.Refs).Set(i, newRoot)
	case c.Key.Type() == schema.TypeLinkList:
		refs, err := o.t.tree(o.key).LeafWritable(o.t.g.ctx, o.pos, o.slot(c.Key))
		if err != nil {
			return err
		}
		listRef := refs.(*leaf.Refs).Get(i)
		if listRef == 0 {
			return nil
		}
		newRef, block, err := o.t.g.alloc.EnsureWritable(o.t.g.ctx, listRef)
		if err != nil {
			return err
		}
		refs.(*leaf.Refs).Set(i, newRef)
		ll := block.(*leaf.List[objkey.ObjKey])
		for n := ll.Len() - 1; n >= 0; n-- {
			if ll.Get(n) == targetKey {
				ll.Erase(n)
				if err := o.t.g.emit(replication.Instruction{
					Op:     replication.OpLinkListNullify,
					Table:  o.t.Key(),
					Key:    o.key,
					ColTag: c.Key.Tag(),
					Index:  n,
				}); err != nil {
					return err
				}
			}
		}
	case c.Key.Type() == schema.TypeLink:
		l, err := o.t.tree(o.key).LeafWritable(o.t.g.ctx, o.pos, o.slot(c.Key))
		if err != nil {
			return err
		}
		if l.(*leaf.Links).Get(i) != targetKey {
			return nil
		}
		l.(*leaf.Links).Set(i, objkey.NullKey)
		return o.t.g.emit(replication.Instruction{
			Op:     replication.OpNullifyLink,
			Table:  o.t.Key(),
			Key:    o.key,
			ColTag: c.Key.Tag(),
		})
	case c.Key.Type() == schema.TypeTypedLink:
		l, err := o.t.tree(o.key).LeafWritable(o.t.g.ctx, o.pos, o.slot(c.Key))
		if err != nil {
			return err
		}
		cur := l.(*leaf.TypedLinks).Get(i)
		if cur.Key != targetKey || cur.Table != targetTable {
			return nil
		}
		l.(*leaf.TypedLinks).Set(i, objkey.ObjLink{})
		return o.t.g.emit(replication.Instruction{
			Op:     replication.OpNullifyLink,
			Table:  o.t.Key(),
			Key:    o.key,
			ColTag: c.Key.Tag(),
		})
	case c.Key.Type() == schema.TypeMixed:
		l, err := o.t.tree(o.key).LeafWritable(o.t.g.ctx, o.pos, o.slot(c.Key))
		if err != nil {
			return err
		}
		cur := l.(*leaf.Mixeds).Get(i)
		if cur.Kind() != mixed.KindTypedLink || cur.ObjLink().Key != targetKey || cur.ObjLink().Table != targetTable {
			return nil
		}
		l.(*leaf.Mixeds).Set(i, mixed.Null())
		return o.t.g.emit(replication.Instruction{
			Op:     replication.OpNullifyLink,
			Table:  o.t.Key(),
			Key:    o.key,
			ColTag: c.Key.Tag(),
		})
	}
	o.t.g.alloc.BumpContentVersion()
	return nil
}

// redirectLink rewrites every occurrence of oldKey to newKey in the forward
// column, without journaling or reverse-edge bookkeeping. Used when a target
// row turns into a tombstone: the edge survives, only its key changes form.
func (o *Obj) redirectLink(c schema.Column, oldKey, newKey objkey.ObjKey, targetTable schema.TableKey) error {
	if err := o.updateIfNeeded(); err != nil {
		return err
	}
	if err := o.ensureWriteable(); err != nil {
		return err
	}
	i := o.pos.Index

	switch {
	case c.Key.IsDictionary():
		refs, err := o.t.tree(o.key).LeafWritable(o.t.g.ctx, o.pos, o.slot(c.Key))
		if err != nil {
			return err
		}
		root := refs.(*leaf.Refs).Get(i)
		newRoot, err := redirectDictLinks(o.t.g, root, c, targetTable, oldKey, newKey)
		if err != nil {
			return err
		}
		refs.(*leaf.Refs).Set(i, newRoot)
	case c.Key.Type() == schema.TypeLinkList:
		refs, err := o.t.tree(o.key).LeafWritable(o.t.g.ctx, o.pos, o.slot(c.Key))
		if err != nil {
			return err
		}
		listRef := refs.(*leaf.Refs).Get(i)
		if listRef == 0 {
			return nil
		}
		newRef, block, err := o.t.g.alloc.EnsureWritable(o.t.g.ctx, listRef)
		if err != nil {
			return err
		}
		refs.(*leaf.Refs).Set(i, newRef)
		ll := block.(*leaf.List[objkey.ObjKey])
		for n := 0; n < ll.Len(); n++ {
			if ll.Get(n) == oldKey {
				ll.Set(n, newKey)
			}
		}
	case c.Key.Type() == schema.TypeLink:
		l, err := o.t.tree(o.key).LeafWritable(o.t.g.ctx, o.pos, o.slot(c.Key))
		if err != nil {
			return err
		}
		if l.(*leaf.Links).Get(i) == oldKey {
			l.(*leaf.Links).Set(i, newKey)
		}
	case c.Key.Type() == schema.TypeTypedLink:
		l, err := o.t.tree(o.key).LeafWritable(o.t.g.ctx, o.pos, o.slot(c.Key))
		if err != nil {
			return err
		}
		cur := l.(*leaf.TypedLinks).Get(i)
		if cur.Key == oldKey && cur.Table == targetTable {
			l.(*leaf.TypedLinks).Set(i, objkey.ObjLink{Table: targetTable, Key: newKey})
		}
	case c.Key.Type() == schema.TypeMixed:
		l, err := o.t.tree(o.key).LeafWritable(o.t.g.ctx, o.pos, o.slot(c.Key))
		if err != nil {
			return err
		}
		cur := l.(*leaf.Mixeds).Get(i)
		if cur.Kind() == mixed.KindTypedLink && cur.ObjLink().Key == oldKey && cur.ObjLink().Table == targetTable {
			l.(*leaf.Mixeds).Set(i, mixed.TypedLink(objkey.ObjLink{Table: targetTable, Key: newKey}))
		}
	}
	return nil
}
