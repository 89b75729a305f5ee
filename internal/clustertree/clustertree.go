// Package clustertree implements the ordered container mapping ObjKey to row
// payloads.
//
// A tree is a two-level structure: a root node holding the first key of each
// cluster, and fixed-fanout clusters each holding a sorted key array plus one
// leaf block per payload slot. Slot 0 is row metadata; column c lives at slot
// c.Idx()+1. The same machinery stores tables (keyed by row key) and
// dictionaries (keyed by the hash-derived inner key).
//
// All structural mutation is copy-on-write: touching a frozen node, cluster,
// or leaf duplicates it through the allocator, so readers holding refs from
// an earlier snapshot keep seeing that snapshot.
package clustertree

import (
	"context"
	"errors"
	"sort"

	"github.com/objcore/objcore/internal/alloc"
	"github.com/objcore/objcore/internal/leaf"
	"github.com/objcore/objcore/objerr"
	"github.com/objcore/objcore/objkey"
)

// Fanout is the maximum number of rows per cluster.
const Fanout = 256

const (
	nodeSizeHint    = 256
	clusterSizeHint = 512
	leafSizeHint    = 256
)

var (
	// ErrDuplicateKey is returned by Insert when the key is already present.
	ErrDuplicateKey = errors.New("clustertree: duplicate key")
)

// Factory builds the slot leaves of a fresh cluster, including the slot 0
// metadata leaf.
type Factory func() []leaf.Column

// node is the root block: first keys and refs of every cluster, plus the
// total row count.
type node struct {
	first    []objkey.ObjKey
	children []alloc.Ref
	size     int
}

// CloneBlock implements alloc.Cloner.
func (n *node) CloneBlock() any {
	return &node{
		first:    append([]objkey.ObjKey(nil), n.first...),
		children: append([]alloc.Ref(nil), n.children...),
		size:     n.size,
	}
}

// Cluster is one leaf node: sorted keys plus one leaf block ref per slot.
type Cluster struct {
	keys  []objkey.ObjKey
	slots []alloc.Ref
}

// CloneBlock implements alloc.Cloner. Slot refs are copied; the leaf blocks
// behind them stay shared until they are themselves written.
func (c *Cluster) CloneBlock() any {
	return &Cluster{
		keys:  append([]objkey.ObjKey(nil), c.keys...),
		slots: append([]alloc.Ref(nil), c.slots...),
	}
}

// Len returns the number of rows in the cluster.
func (c *Cluster) Len() int { return len(c.keys) }

// Pos addresses one row: the cluster's ref and the row's index within it.
type Pos struct {
	Cluster alloc.Ref
	Index   int
}

// Tree is the accessor for one cluster tree. The authoritative state is the
// root ref; a Tree is cheap to rebuild around it.
type Tree struct {
	a       *alloc.Allocator
	root    alloc.Ref
	factory Factory
}

// New creates an empty tree. The root is allocated lazily on first insert.
func New(a *alloc.Allocator, factory Factory) *Tree {
	return &Tree{a: a, factory: factory}
}

// Attach wraps an existing root ref, e.g. a dictionary root read from its
// owning cell.
func Attach(a *alloc.Allocator, root alloc.Ref, factory Factory) *Tree {
	return &Tree{a: a, root: root, factory: factory}
}

// Root returns the current root ref, NullRef while the tree is empty.
func (t *Tree) Root() alloc.Ref { return t.root }

// Size returns the number of rows.
func (t *Tree) Size() int {
	if t.root == alloc.NullRef {
		return 0
	}
	return t.a.Get(t.root).(*node).size
}

func (t *Tree) node() *node {
	return t.a.Get(t.root).(*node)
}

func (t *Tree) cluster(ref alloc.Ref) *Cluster {
	return t.a.Get(ref).(*Cluster)
}

// findChild returns the index of the cluster whose key range covers key.
func findChild(n *node, key objkey.ObjKey) int {
	i := sort.Search(len(n.first), func(i int) bool { return n.first[i] > key })
	if i == 0 {
		return 0
	}
	return i - 1
}

func (t *Tree) newCluster(ctx context.Context) (alloc.Ref, error) {
	cols := t.factory()
	slots := make([]alloc.Ref, len(cols))
	for i, col := range cols {
		ref, err := t.a.Alloc(ctx, col, leafSizeHint)
		if err != nil {
			return alloc.NullRef, err
		}
		slots[i] = ref
	}
	return t.a.Alloc(ctx, &Cluster{slots: slots}, clusterSizeHint)
}

// writableNode duplicates the root node if frozen and updates t.root.
func (t *Tree) writableNode(ctx context.Context) (*node, error) {
	ref, data, err := t.a.EnsureWritable(ctx, t.root)
	if err != nil {
		return nil, err
	}
	t.root = ref
	return data.(*node), nil
}

// writableCluster duplicates the cluster at n.children[ci] if frozen and
// re-points the child ref.
func (t *Tree) writableCluster(ctx context.Context, n *node, ci int) (*Cluster, error) {
	ref, data, err := t.a.EnsureWritable(ctx, n.children[ci])
	if err != nil {
		return nil, err
	}
	n.children[ci] = ref
	return data.(*Cluster), nil
}

// Insert adds a row for key with every slot cell at its null/empty default.
// Returns ErrDuplicateKey if the key is present.
func (t *Tree) Insert(ctx context.Context, key objkey.ObjKey) (Pos, error) {
	if t.root == alloc.NullRef {
		cref, err := t.newCluster(ctx)
		if err != nil {
			return Pos{}, err
		}
		root, err := t.a.Alloc(ctx, &node{
			first:    []objkey.ObjKey{key},
			children: []alloc.Ref{cref},
		}, nodeSizeHint)
		if err != nil {
			return Pos{}, err
		}
		t.root = root
	}

	n, err := t.writableNode(ctx)
	if err != nil {
		return Pos{}, err
	}
	ci := findChild(n, key)
	c, err := t.writableCluster(ctx, n, ci)
	if err != nil {
		return Pos{}, err
	}

	idx := sort.Search(len(c.keys), func(i int) bool { return c.keys[i] >= key })
	if idx < len(c.keys) && c.keys[idx] == key {
		return Pos{}, ErrDuplicateKey
	}

	c.keys = append(c.keys, 0)
	copy(c.keys[idx+1:], c.keys[idx:])
	c.keys[idx] = key
	for si := range c.slots {
		col, err := t.writableLeaf(ctx, c, si)
		if err != nil {
			return Pos{}, err
		}
		col.Insert(idx)
	}
	n.size++
	n.first[ci] = c.keys[0]

	if len(c.keys) > Fanout {
		if err := t.split(ctx, n, ci, c); err != nil {
			return Pos{}, err
		}
		// Re-resolve: the row may have moved into the new sibling.
		pos, ok := t.Find(key)
		if !ok {
			panic(&objerr.CorruptionError{Detail: "row lost during cluster split"})
		}
		return pos, nil
	}
	return Pos{Cluster: n.children[ci], Index: idx}, nil
}

// split moves the upper half of cluster c into a new sibling.
func (t *Tree) split(ctx context.Context, n *node, ci int, c *Cluster) error {
	at := len(c.keys) / 2
	tailKeys := append([]objkey.ObjKey(nil), c.keys[at:]...)
	c.keys = c.keys[:at]

	slots := make([]alloc.Ref, len(c.slots))
	for si := range c.slots {
		col, err := t.writableLeaf(ctx, c, si)
		if err != nil {
			return err
		}
		tail := splitTail(col, at)
		ref, err := t.a.Alloc(ctx, tail, leafSizeHint)
		if err != nil {
			return err
		}
		slots[si] = ref
	}

	sib := &Cluster{keys: tailKeys, slots: slots}
	sibRef, err := t.a.Alloc(ctx, sib, clusterSizeHint)
	if err != nil {
		return err
	}

	n.first = append(n.first, 0)
	copy(n.first[ci+2:], n.first[ci+1:])
	n.first[ci+1] = tailKeys[0]
	n.children = append(n.children, alloc.NullRef)
	copy(n.children[ci+2:], n.children[ci+1:])
	n.children[ci+1] = sibRef
	return nil
}

// splitTail removes rows [at:) from col and returns a new leaf holding them.
func splitTail(col leaf.Column, at int) leaf.Column {
	tail := col.Clone()
	for i := col.Len() - 1; i >= at; i-- {
		col.Erase(i)
	}
	for i := at - 1; i >= 0; i-- {
		tail.Erase(i)
	}
	return tail
}

// Find resolves key to its position.
func (t *Tree) Find(key objkey.ObjKey) (Pos, bool) {
	if t.root == alloc.NullRef {
		return Pos{}, false
	}
	n := t.node()
	if len(n.children) == 0 {
		return Pos{}, false
	}
	ci := findChild(n, key)
	cref := n.children[ci]
	c := t.cluster(cref)
	idx := sort.Search(len(c.keys), func(i int) bool { return c.keys[i] >= key })
	if idx < len(c.keys) && c.keys[idx] == key {
		return Pos{Cluster: cref, Index: idx}, true
	}
	return Pos{}, false
}

// MakeWritable resolves key and copy-on-writes the path down to its cluster,
// returning the (possibly moved) position.
func (t *Tree) MakeWritable(ctx context.Context, key objkey.ObjKey) (Pos, error) {
	if t.root == alloc.NullRef {
		return Pos{}, objerr.ErrKeyNotFound
	}
	n, err := t.writableNode(ctx)
	if err != nil {
		return Pos{}, err
	}
	ci := findChild(n, key)
	c, err := t.writableCluster(ctx, n, ci)
	if err != nil {
		return Pos{}, err
	}
	idx := sort.Search(len(c.keys), func(i int) bool { return c.keys[i] >= key })
	if idx >= len(c.keys) || c.keys[idx] != key {
		return Pos{}, objerr.ErrKeyNotFound
	}
	return Pos{Cluster: n.children[ci], Index: idx}, nil
}

// Leaf returns the leaf at slot for reading. Returns nil when the slot was
// registered after this cluster was created (lazily added backlink columns).
func (t *Tree) Leaf(pos Pos, slot int) leaf.Column {
	c := t.cluster(pos.Cluster)
	if slot >= len(c.slots) {
		return nil
	}
	return t.a.Get(c.slots[slot]).(leaf.Column)
}

func (t *Tree) writableLeaf(ctx context.Context, c *Cluster, slot int) (leaf.Column, error) {
	ref, data, err := t.a.EnsureWritable(ctx, c.slots[slot])
	if err != nil {
		return nil, err
	}
	c.slots[slot] = ref
	return data.(leaf.Column), nil
}

// LeafWritable returns the leaf at slot for writing. The cluster at pos must
// already be writable (obtained through MakeWritable in the same storage
// version).
func (t *Tree) LeafWritable(ctx context.Context, pos Pos, slot int) (leaf.Column, error) {
	c := t.cluster(pos.Cluster)
	if slot >= len(c.slots) {
		return nil, &objerr.CorruptionError{Detail: "slot not materialized"}
	}
	return t.writableLeaf(ctx, c, slot)
}

// EnsureSlot materializes a lazily registered slot on the cluster at pos,
// filling it with one default cell per existing row. The cluster must be
// writable.
func (t *Tree) EnsureSlot(ctx context.Context, pos Pos, slot int, build func() leaf.Column) (leaf.Column, error) {
	c := t.cluster(pos.Cluster)
	for len(c.slots) <= slot {
		col := build()
		for i := 0; i < len(c.keys); i++ {
			col.Insert(i)
		}
		ref, err := t.a.Alloc(ctx, col, leafSizeHint)
		if err != nil {
			return nil, err
		}
		c.slots = append(c.slots, ref)
	}
	return t.writableLeaf(ctx, c, slot)
}

// KeyAt returns the key of the row at pos.
func (t *Tree) KeyAt(pos Pos) objkey.ObjKey {
	return t.cluster(pos.Cluster).keys[pos.Index]
}

// Erase removes the row for key. Container blocks referenced from the row's
// cells must be released by the caller before erasing.
func (t *Tree) Erase(ctx context.Context, key objkey.ObjKey) error {
	if t.root == alloc.NullRef {
		return objerr.ErrKeyNotFound
	}
	n, err := t.writableNode(ctx)
	if err != nil {
		return err
	}
	ci := findChild(n, key)
	c, err := t.writableCluster(ctx, n, ci)
	if err != nil {
		return err
	}
	idx := sort.Search(len(c.keys), func(i int) bool { return c.keys[i] >= key })
	if idx >= len(c.keys) || c.keys[idx] != key {
		return objerr.ErrKeyNotFound
	}

	c.keys = append(c.keys[:idx], c.keys[idx+1:]...)
	for si := range c.slots {
		col, err := t.writableLeaf(ctx, c, si)
		if err != nil {
			return err
		}
		col.Erase(idx)
	}
	n.size--

	if len(c.keys) == 0 && len(n.children) > 1 {
		for _, ref := range c.slots {
			t.a.Free(ref)
		}
		t.a.Free(n.children[ci])
		n.first = append(n.first[:ci], n.first[ci+1:]...)
		n.children = append(n.children[:ci], n.children[ci+1:]...)
	} else if len(c.keys) > 0 {
		n.first[ci] = c.keys[0]
	}
	return nil
}

// Clear releases every cluster and leaf block and detaches the root.
func (t *Tree) Clear(ctx context.Context) {
	if t.root == alloc.NullRef {
		return
	}
	n := t.node()
	for _, cref := range n.children {
		c := t.cluster(cref)
		for _, ref := range c.slots {
			t.a.Free(ref)
		}
		t.a.Free(cref)
	}
	t.a.Free(t.root)
	t.root = alloc.NullRef
}

// ForEach visits every row in key order until fn returns false.
func (t *Tree) ForEach(fn func(key objkey.ObjKey, pos Pos) bool) {
	if t.root == alloc.NullRef {
		return
	}
	n := t.node()
	for _, cref := range n.children {
		c := t.cluster(cref)
		for i, key := range c.keys {
			if !fn(key, Pos{Cluster: cref, Index: i}) {
				return
			}
		}
	}
}
