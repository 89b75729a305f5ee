// Package dictionary implements the key→value map stored in a dictionary
// column cell.
//
// The map's storage is itself a cluster tree, attached as the payload of the
// cell: two leaf columns per row hold the user key and a Mixed value. Rows
// are keyed by the hash of the user key with the sign bit cleared, so
// iteration yields entries in derived-key order, not insertion order.
//
// Distinct user keys whose hashes collide overwrite each other. This
// mirrors the original accessor's observed behavior and is deliberately not
// disambiguated; see the design notes.
package dictionary

import (
	"context"
	"errors"
	"fmt"

	"github.com/objcore/objcore/internal/alloc"
	"github.com/objcore/objcore/internal/clustertree"
	"github.com/objcore/objcore/internal/dict"
	"github.com/objcore/objcore/mixed"
	"github.com/objcore/objcore/objerr"
	"github.com/objcore/objcore/objkey"
	"github.com/objcore/objcore/replication"
	"github.com/objcore/objcore/schema"
)

// Owner is the owning object of a dictionary cell. *obj.Obj satisfies it.
type Owner interface {
	// DictContentVersion returns the owner's current content version.
	DictContentVersion() uint64
	// DictBumpContentVersion records a value change on the owner.
	DictBumpContentVersion()
	// DictAllocator returns the allocator backing the inner tree.
	DictAllocator() *alloc.Allocator
	// DictContext returns the context dictionary operations run under.
	DictContext() context.Context
	// DictRefresh revalidates the owning accessor.
	DictRefresh() error
	// DictKeyType returns the declared key type of the dictionary column.
	DictKeyType(col schema.ColKey) schema.ColumnType
	// DictRoot reads the inner tree root from the cell.
	DictRoot(col schema.ColKey) (alloc.Ref, error)
	// DictSetRoot stores the inner tree root into the cell.
	DictSetRoot(col schema.ColKey, ref alloc.Ref) error
	// DictValueMutated performs reverse-edge bookkeeping and journaling for
	// one entry mutation.
	DictValueMutated(col schema.ColKey, key mixed.Mixed, old, new_ mixed.Mixed, op replication.Op) error
}

// Dictionary is the accessor for one dictionary cell. Like every accessor
// it is a view: it caches the inner tree root together with a
// content-version stamp and re-reads the cell when the owner moved on.
type Dictionary struct {
	owner   Owner
	col     schema.ColKey
	keyType schema.ColumnType
	tree    *clustertree.Tree
	stamp   uint64
}

// New builds the accessor for a dictionary column of owner.
func New(owner Owner, col schema.ColKey) *Dictionary {
	return &Dictionary{
		owner:   owner,
		col:     col,
		keyType: owner.DictKeyType(col),
	}
}

// Iterator walks a dictionary in cluster order. The zero Iterator is the
// end iterator.
type Iterator struct {
	d    *Dictionary
	keys []objkey.ObjKey
	i    int
}

// Done reports whether the iterator is exhausted.
func (it *Iterator) Done() bool { return it == nil || it.i >= len(it.keys) }

// Next advances to the next entry.
func (it *Iterator) Next() { it.i++ }

// Key returns the current entry's user key.
func (it *Iterator) Key() (mixed.Mixed, error) {
	pos, ok := it.d.tree.Find(it.keys[it.i])
	if !ok {
		return mixed.Null(), objerr.ErrStaleAccessor
	}
	return dict.ReadKey(it.d.tree, pos, it.d.keyType), nil
}

// Value returns the current entry's value.
func (it *Iterator) Value() (mixed.Mixed, error) {
	pos, ok := it.d.tree.Find(it.keys[it.i])
	if !ok {
		return mixed.Null(), objerr.ErrStaleAccessor
	}
	return dict.ReadValue(it.d.tree, pos), nil
}

// updateIfNeeded re-reads the root ref from the owning cell when the
// owner's content version moved past the cached stamp, rebuilding or
// tearing down the inner accessor.
func (d *Dictionary) updateIfNeeded() error {
	if err := d.owner.DictRefresh(); err != nil {
		return err
	}
	cv := d.owner.DictContentVersion()
	if d.tree != nil && cv == d.stamp {
		return nil
	}
	root, err := d.owner.DictRoot(d.col)
	if err != nil {
		return err
	}
	if root == alloc.NullRef {
		d.tree = nil
	} else {
		d.tree = dict.Attach(d.owner.DictAllocator(), root, d.keyType)
	}
	d.stamp = cv
	return nil
}

// ensureTree lazily creates the inner tree on first insert.
func (d *Dictionary) ensureTree() error {
	if d.tree != nil {
		return nil
	}
	d.tree = clustertree.New(d.owner.DictAllocator(), dict.Factory(d.keyType))
	return nil
}

// syncRoot writes a moved root ref back into the owning cell.
func (d *Dictionary) syncRoot() error {
	root, err := d.owner.DictRoot(d.col)
	if err != nil {
		return err
	}
	newRoot := alloc.NullRef
	if d.tree != nil {
		newRoot = d.tree.Root()
	}
	if root != newRoot {
		if err := d.owner.DictSetRoot(d.col, newRoot); err != nil {
			return err
		}
	}
	d.owner.DictBumpContentVersion()
	d.stamp = d.owner.DictContentVersion()
	return nil
}

func (d *Dictionary) checkKey(k mixed.Mixed) error {
	want := mixed.KindInt
	if d.keyType == schema.TypeString {
		want = mixed.KindString
	}
	if k.Kind() != want {
		return &objerr.WrongTypeError{Column: "dictionary key", Want: want.String(), Got: k.Kind().String()}
	}
	return nil
}

// Size returns the entry count.
func (d *Dictionary) Size() (int, error) {
	if err := d.updateIfNeeded(); err != nil {
		return 0, err
	}
	if d.tree == nil {
		return 0, nil
	}
	return d.tree.Size(), nil
}

// Insert stores value under key. Returns inserted=false when an entry for
// the derived inner key existed; its value is overwritten in place.
func (d *Dictionary) Insert(key, value mixed.Mixed) (it *Iterator, inserted bool, err error) {
	if err := d.updateIfNeeded(); err != nil {
		return nil, false, err
	}
	if err := d.checkKey(key); err != nil {
		return nil, false, err
	}
	if err := d.ensureTree(); err != nil {
		return nil, false, err
	}
	ctx := d.owner.DictContext()
	inner := dict.InnerKey(key)

	old := mixed.Null()
	inserted = true
	pos, err := d.tree.Insert(ctx, inner)
	if errors.Is(err, clustertree.ErrDuplicateKey) {
		// Duplicate inner key: overwrite the value leaf in place. A hash
		// collision between distinct user keys lands here too and silently
		// overwrites.
		inserted = false
		pos, err = d.tree.MakeWritable(ctx, inner)
		if err != nil {
			return nil, false, err
		}
		old = dict.ReadValue(d.tree, pos)
	} else if err != nil {
		return nil, false, err
	}

	if err := dict.WriteKey(ctx, d.tree, pos, d.keyType, key); err != nil {
		return nil, false, err
	}
	if err := dict.WriteValue(ctx, d.tree, pos, value); err != nil {
		return nil, false, err
	}
	if err := d.owner.DictValueMutated(d.col, key, old, value, replication.OpSet); err != nil {
		return nil, false, err
	}
	if err := d.syncRoot(); err != nil {
		return nil, false, err
	}
	return d.iteratorAt(inner), inserted, nil
}

// Get returns the value stored under key; fails with ErrKeyNotFound when
// absent.
func (d *Dictionary) Get(key mixed.Mixed) (mixed.Mixed, error) {
	if err := d.updateIfNeeded(); err != nil {
		return mixed.Null(), err
	}
	if err := d.checkKey(key); err != nil {
		return mixed.Null(), err
	}
	if d.tree == nil {
		return mixed.Null(), fmt.Errorf("%w: dictionary key %s", objerr.ErrKeyNotFound, key)
	}
	pos, ok := d.tree.Find(dict.InnerKey(key))
	if !ok {
		return mixed.Null(), fmt.Errorf("%w: dictionary key %s", objerr.ErrKeyNotFound, key)
	}
	return dict.ReadValue(d.tree, pos), nil
}

// GetOrInsert returns the value under key, inserting null first when the
// key is absent. The returned value is the old value; a fresh insert
// returns the null variant.
func (d *Dictionary) GetOrInsert(key mixed.Mixed) (mixed.Mixed, error) {
	v, err := d.Get(key)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, objerr.ErrKeyNotFound) {
		return mixed.Null(), err
	}
	if _, _, err := d.Insert(key, mixed.Null()); err != nil {
		return mixed.Null(), err
	}
	return mixed.Null(), nil
}

// Find returns an iterator positioned at key, or the end iterator when
// absent.
func (d *Dictionary) Find(key mixed.Mixed) (*Iterator, error) {
	if err := d.updateIfNeeded(); err != nil {
		return nil, err
	}
	if err := d.checkKey(key); err != nil {
		return nil, err
	}
	if d.tree == nil {
		return &Iterator{}, nil
	}
	inner := dict.InnerKey(key)
	if _, ok := d.tree.Find(inner); !ok {
		return &Iterator{}, nil
	}
	return d.iteratorAt(inner), nil
}

func (d *Dictionary) iteratorAt(inner objkey.ObjKey) *Iterator {
	it := &Iterator{d: d, keys: []objkey.ObjKey{inner}}
	return it
}

// Iterate returns an iterator over all entries in cluster order.
func (d *Dictionary) Iterate() (*Iterator, error) {
	if err := d.updateIfNeeded(); err != nil {
		return nil, err
	}
	it := &Iterator{d: d}
	if d.tree == nil {
		return it, nil
	}
	d.tree.ForEach(func(key objkey.ObjKey, _ clustertree.Pos) bool {
		it.keys = append(it.keys, key)
		return true
	})
	return it, nil
}

// Erase removes the entry under key.
func (d *Dictionary) Erase(key mixed.Mixed) error {
	if err := d.updateIfNeeded(); err != nil {
		return err
	}
	if err := d.checkKey(key); err != nil {
		return err
	}
	if d.tree == nil {
		return fmt.Errorf("%w: dictionary key %s", objerr.ErrKeyNotFound, key)
	}
	ctx := d.owner.DictContext()
	inner := dict.InnerKey(key)
	pos, ok := d.tree.Find(inner)
	if !ok {
		return fmt.Errorf("%w: dictionary key %s", objerr.ErrKeyNotFound, key)
	}
	old := dict.ReadValue(d.tree, pos)
	if err := d.tree.Erase(ctx, inner); err != nil {
		return err
	}
	if err := d.owner.DictValueMutated(d.col, key, old, mixed.Null(), replication.OpListErase); err != nil {
		return err
	}
	return d.syncRoot()
}

// EraseAt removes the entry the iterator is positioned at.
func (d *Dictionary) EraseAt(it *Iterator) error {
	if it.Done() {
		return objerr.ErrKeyNotFound
	}
	key, err := it.Key()
	if err != nil {
		return err
	}
	return d.Erase(key)
}

// Nullify sets the value under key to null without removing the entry.
func (d *Dictionary) Nullify(key mixed.Mixed) error {
	if err := d.updateIfNeeded(); err != nil {
		return err
	}
	if err := d.checkKey(key); err != nil {
		return err
	}
	if d.tree == nil {
		return fmt.Errorf("%w: dictionary key %s", objerr.ErrKeyNotFound, key)
	}
	ctx := d.owner.DictContext()
	inner := dict.InnerKey(key)
	pos, err := d.tree.MakeWritable(ctx, inner)
	if err != nil {
		return err
	}
	old := dict.ReadValue(d.tree, pos)
	if err := dict.WriteValue(ctx, d.tree, pos, mixed.Null()); err != nil {
		return err
	}
	if err := d.owner.DictValueMutated(d.col, key, old, mixed.Null(), replication.OpSetNull); err != nil {
		return err
	}
	return d.syncRoot()
}

// Clear removes every entry.
func (d *Dictionary) Clear() error {
	if err := d.updateIfNeeded(); err != nil {
		return err
	}
	if d.tree == nil {
		return nil
	}
	it, err := d.Iterate()
	if err != nil {
		return err
	}
	var keys []mixed.Mixed
	for ; !it.Done(); it.Next() {
		k, err := it.Key()
		if err != nil {
			return err
		}
		keys = append(keys, k)
	}
	for _, k := range keys {
		if err := d.Erase(k); err != nil {
			return err
		}
	}
	if d.tree != nil && d.tree.Size() == 0 {
		d.tree.Clear(d.owner.DictContext())
		d.tree = nil
		return d.syncRoot()
	}
	return nil
}

// Keys returns a snapshot of every user key in cluster order.
func (d *Dictionary) Keys() ([]mixed.Mixed, error) {
	it, err := d.Iterate()
	if err != nil {
		return nil, err
	}
	var out []mixed.Mixed
	for ; !it.Done(); it.Next() {
		k, err := it.Key()
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// Values returns a snapshot of every value in cluster order.
func (d *Dictionary) Values() ([]mixed.Mixed, error) {
	it, err := d.Iterate()
	if err != nil {
		return nil, err
	}
	var out []mixed.Mixed
	for ; !it.Done(); it.Next() {
		v, err := it.Value()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
