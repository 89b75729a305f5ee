package obj

import (
	"errors"
	"fmt"

	"github.com/objcore/objcore/internal/clustertree"
	"github.com/objcore/objcore/internal/leaf"
	"github.com/objcore/objcore/mixed"
	"github.com/objcore/objcore/objerr"
	"github.com/objcore/objcore/objkey"
	"github.com/objcore/objcore/replication"
	"github.com/objcore/objcore/schema"
)

// Table is the accessor for one table: its live cluster tree, its tombstone
// cluster tree, and the search indexes of its indexed columns.
type Table struct {
	g          *Group
	spec       *schema.Table
	clusters   *clustertree.Tree
	tombstones *clustertree.Tree
	next       int64
	dropped    bool

	// index maps an indexed column's tag to value-hash buckets.
	index map[int32]map[uint64][]objkey.ObjKey
}

func newTable(g *Group, spec *schema.Table) *Table {
	t := &Table{
		g:     g,
		spec:  spec,
		index: make(map[int32]map[uint64][]objkey.ObjKey),
	}
	factory := func() []leaf.Column {
		cols := spec.Columns()
		out := make([]leaf.Column, len(cols)+1)
		out[0] = leaf.NewMeta()
		for _, c := range cols {
			out[c.Key.Idx()+1] = leaf.ForColumn(c)
		}
		return out
	}
	t.clusters = clustertree.New(g.alloc, factory)
	t.tombstones = clustertree.New(g.alloc, factory)
	for _, c := range spec.PublicColumns() {
		if c.Key.IsIndexed() {
			t.index[c.Key.Tag()] = make(map[uint64][]objkey.ObjKey)
		}
	}
	return t
}

// Key returns the table key.
func (t *Table) Key() schema.TableKey { return t.spec.Key() }

// Name returns the table name.
func (t *Table) Name() string { return t.spec.Name() }

// Spec returns the table's schema record.
func (t *Table) Spec() *schema.Table { return t.spec }

// Size returns the number of live rows.
func (t *Table) Size() int { return t.clusters.Size() }

// TombstoneCount returns the number of unresolved rows.
func (t *Table) TombstoneCount() int { return t.tombstones.Size() }

// tree picks the cluster tree a key resolves through.
func (t *Table) tree(key objkey.ObjKey) *clustertree.Tree {
	if key.IsUnresolved() {
		return t.tombstones
	}
	return t.clusters
}

// CreateObject allocates a new row and returns its accessor. Rows of an
// embedded table cannot be created directly; they are created through their
// owner (see Obj.CreateAndSetLinkedObject).
func (t *Table) CreateObject() (*Obj, error) {
	if t.spec.IsEmbedded() {
		return nil, fmt.Errorf("%w: table %q is embedded", objerr.ErrWrongTableKind, t.Name())
	}
	return t.createRow()
}

func (t *Table) createRow() (*Obj, error) {
	if t.dropped {
		return nil, objerr.ErrStaleAccessor
	}
	key := objkey.ObjKey(t.next)
	t.next++

	pos, err := t.clusters.Insert(t.g.ctx, key)
	if err != nil {
		if errors.Is(err, clustertree.ErrDuplicateKey) {
			panic(&objerr.CorruptionError{Detail: "fresh key already present"})
		}
		return nil, err
	}
	if err := t.g.emit(replication.Instruction{
		Op:    replication.OpCreateObject,
		Table: t.Key(),
		Key:   key,
	}); err != nil {
		return nil, err
	}
	t.g.logger.WithTable(t.Name()).WithKey(int64(key)).DebugContext(t.g.ctx, "object created")
	return &Obj{t: t, key: key, pos: pos, stamp: t.g.alloc.StorageVersion(), valid: true}, nil
}

// GetObject returns an accessor for key. An unresolved key resolves through
// the tombstone cluster.
func (t *Table) GetObject(key objkey.ObjKey) (*Obj, error) {
	if t.dropped {
		return nil, objerr.ErrStaleAccessor
	}
	if key.IsNull() {
		return nil, fmt.Errorf("%w: null key", objerr.ErrKeyNotFound)
	}
	pos, ok := t.tree(key).Find(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s in table %q", objerr.ErrKeyNotFound, key, t.Name())
	}
	return &Obj{t: t, key: key, pos: pos, stamp: t.g.alloc.StorageVersion(), valid: true}, nil
}

// IsValid reports whether key resolves to a live row.
func (t *Table) IsValid(key objkey.ObjKey) bool {
	if t.dropped || key.IsNull() || key.IsUnresolved() {
		return false
	}
	_, ok := t.tree(key).Find(key)
	return ok
}

// ForEachObject visits every live row in key order until fn returns false.
func (t *Table) ForEachObject(fn func(o *Obj) bool) {
	sv := t.g.alloc.StorageVersion()
	t.clusters.ForEach(func(key objkey.ObjKey, pos clustertree.Pos) bool {
		return fn(&Obj{t: t, key: key, pos: pos, stamp: sv, valid: true})
	})
}

// FindFirst returns the key of the first row whose column equals value. For
// indexed columns this is a hash lookup; otherwise it scans in key order.
func (t *Table) FindFirst(col schema.ColKey, value mixed.Mixed) (objkey.ObjKey, error) {
	if buckets, ok := t.index[col.Tag()]; ok {
		for _, key := range buckets[value.Hash()] {
			o := &Obj{t: t, key: key, pos: clustertree.Pos{}, stamp: 0, valid: true}
			got, err := o.GetAny(col)
			if err == nil && got.Equal(value) {
				return key, nil
			}
		}
		return objkey.NullKey, objerr.ErrKeyNotFound
	}

	found := objkey.NullKey
	t.ForEachObject(func(o *Obj) bool {
		got, err := o.GetAny(col)
		if err == nil && got.Equal(value) {
			found = o.Key()
			return false
		}
		return true
	})
	if found.IsNull() {
		return objkey.NullKey, objerr.ErrKeyNotFound
	}
	return found, nil
}

// indexUpdate maintains the hash buckets of an indexed column.
func (t *Table) indexUpdate(col schema.ColKey, key objkey.ObjKey, old, new_ mixed.Mixed) {
	buckets, ok := t.index[col.Tag()]
	if !ok {
		return
	}
	oldHash := old.Hash()
	bucket := buckets[oldHash]
	for i, k := range bucket {
		if k == key {
			buckets[oldHash] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	h := new_.Hash()
	buckets[h] = append(buckets[h], key)
}

// indexRemove drops a row from every index of the table.
func (t *Table) indexRemove(key objkey.ObjKey) {
	for _, buckets := range t.index {
		for h, bucket := range buckets {
			for i, k := range bucket {
				if k == key {
					buckets[h] = append(bucket[:i], bucket[i+1:]...)
					break
				}
			}
		}
	}
}
