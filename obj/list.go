package obj

import (
	"fmt"

	"github.com/objcore/objcore/internal/alloc"
	"github.com/objcore/objcore/internal/leaf"
	"github.com/objcore/objcore/mixed"
	"github.com/objcore/objcore/objerr"
	"github.com/objcore/objcore/objkey"
	"github.com/objcore/objcore/replication"
	"github.com/objcore/objcore/schema"
)

// listRef reads the list block ref of a container cell.
func (o *Obj) listRef(c schema.Column) (alloc.Ref, error) {
	if err := o.updateIfNeeded(); err != nil {
		return alloc.NullRef, err
	}
	l := o.t.tree(o.key).Leaf(o.pos, o.slot(c.Key))
	if l == nil {
		return alloc.NullRef, nil
	}
	return l.(*leaf.Refs).Get(o.pos.Index), nil
}

// listWritable returns the writable list block of a container cell,
// creating it on first use.
func listWritable[T any](o *Obj, c schema.Column) (*leaf.List[T], error) {
	if err := o.updateIfNeeded(); err != nil {
		return nil, err
	}
	if err := o.ensureWriteable(); err != nil {
		return nil, err
	}
	refs, err := o.t.tree(o.key).LeafWritable(o.t.g.ctx, o.pos, o.slot(c.Key))
	if err != nil {
		return nil, err
	}
	cell := refs.(*leaf.Refs)
	ref := cell.Get(o.pos.Index)
	if ref == alloc.NullRef {
		block := leaf.NewList[T]()
		ref, err = o.t.g.alloc.Alloc(o.t.g.ctx, block, 64)
		if err != nil {
			return nil, err
		}
		cell.Set(o.pos.Index, ref)
		return block, nil
	}
	newRef, data, err := o.t.g.alloc.EnsureWritable(o.t.g.ctx, ref)
	if err != nil {
		return nil, err
	}
	cell.Set(o.pos.Index, newRef)
	return data.(*leaf.List[T]), nil
}

// listSnapshot reads the list block of a container cell; nil when the list
// was never created.
func listSnapshot[T any](o *Obj, c schema.Column) (*leaf.List[T], error) {
	ref, err := o.listRef(c)
	if err != nil {
		return nil, err
	}
	if ref == alloc.NullRef {
		return nil, nil
	}
	return o.t.g.alloc.Get(ref).(*leaf.List[T]), nil
}

// LinkList is the accessor for one LinkList cell. Like Obj it is a view;
// every operation revalidates through the owning accessor.
type LinkList struct {
	o *Obj
	c schema.Column
}

// GetLinkList returns the accessor for a LinkList column.
func (o *Obj) GetLinkList(col schema.ColKey) (*LinkList, error) {
	c, err := o.column(col)
	if err != nil {
		return nil, err
	}
	if c.Key.Type() != schema.TypeLinkList {
		return nil, fmt.Errorf("%w: %q is not a link list column", objerr.ErrIllegalType, c.Name)
	}
	return &LinkList{o: o, c: c}, nil
}

// Size returns the element count.
func (l *LinkList) Size() (int, error) {
	block, err := listSnapshot[objkey.ObjKey](l.o, l.c)
	if err != nil {
		return 0, err
	}
	if block == nil {
		return 0, nil
	}
	return block.Len(), nil
}

// Get returns the target key at index i.
func (l *LinkList) Get(i int) (objkey.ObjKey, error) {
	block, err := listSnapshot[objkey.ObjKey](l.o, l.c)
	if err != nil {
		return objkey.NullKey, err
	}
	if block == nil || i < 0 || i >= block.Len() {
		return objkey.NullKey, fmt.Errorf("%w: list index %d", objerr.ErrKeyNotFound, i)
	}
	k := block.Get(i)
	if k.IsUnresolved() {
		return objkey.NullKey, nil
	}
	return k, nil
}

// Find returns the first index holding target, -1 if absent.
func (l *LinkList) Find(target objkey.ObjKey) (int, error) {
	block, err := listSnapshot[objkey.ObjKey](l.o, l.c)
	if err != nil {
		return -1, err
	}
	if block == nil {
		return -1, nil
	}
	for i := 0; i < block.Len(); i++ {
		if block.Get(i) == target {
			return i, nil
		}
	}
	return -1, nil
}

// Insert places a link to target at index i, recording the reverse edge.
func (l *LinkList) Insert(i int, target objkey.ObjKey) error {
	link := objkey.ObjLink{Table: l.c.Target, Key: target}
	if err := l.o.validateLinkTarget(l.c, link); err != nil {
		return err
	}
	block, err := listWritable[objkey.ObjKey](l.o, l.c)
	if err != nil {
		return err
	}
	if i < 0 || i > block.Len() {
		return fmt.Errorf("%w: list index %d", objerr.ErrKeyNotFound, i)
	}
	block.Insert(i, target)
	if err := l.o.setBacklink(l.c, link); err != nil {
		return err
	}
	l.o.t.g.alloc.BumpContentVersion()
	return l.o.t.g.emit(replication.Instruction{
		Op:     replication.OpSet,
		Table:  l.o.t.Key(),
		Key:    l.o.key,
		ColTag: l.c.Key.Tag(),
		Value:  mixed.Link(target),
		Index:  i,
	})
}

// Add appends a link to target.
func (l *LinkList) Add(target objkey.ObjKey) error {
	n, err := l.Size()
	if err != nil {
		return err
	}
	return l.Insert(n, target)
}

// Remove drops the element at index i, removing the reverse edge and
// cascading an orphaned strong target.
func (l *LinkList) Remove(i int) error {
	block, err := listWritable[objkey.ObjKey](l.o, l.c)
	if err != nil {
		return err
	}
	if i < 0 || i >= block.Len() {
		return fmt.Errorf("%w: list index %d", objerr.ErrKeyNotFound, i)
	}
	target := block.Get(i)
	block.Erase(i)

	state := newCascadeState(CascadeStrong)
	recurse := false
	if !target.IsNull() {
		recurse, err = l.o.removeBacklink(l.c, objkey.ObjLink{Table: l.c.Target, Key: target}, state)
		if err != nil {
			return err
		}
	}
	l.o.t.g.alloc.BumpContentVersion()
	if err := l.o.t.g.emit(replication.Instruction{
		Op:     replication.OpListErase,
		Table:  l.o.t.Key(),
		Key:    l.o.key,
		ColTag: l.c.Key.Tag(),
		Index:  i,
	}); err != nil {
		return err
	}
	if recurse {
		return l.o.t.g.removeRecursive(state)
	}
	return nil
}

// Clear drops every element, journaling one erase per element.
func (l *LinkList) Clear() error {
	for {
		n, err := l.Size()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if err := l.Remove(n - 1); err != nil {
			return err
		}
	}
}

// List is the accessor for one value-list cell.
type List[T any] struct {
	o *Obj
	c schema.Column
}

// GetList returns the accessor for a value list column of element type T.
func GetList[T any](o *Obj, col schema.ColKey) (*List[T], error) {
	c, err := o.column(col)
	if err != nil {
		return nil, err
	}
	if !c.Key.IsList() || c.Key.Type() == schema.TypeLinkList {
		return nil, fmt.Errorf("%w: %q is not a value list column", objerr.ErrIllegalType, c.Name)
	}
	var zero T
	want, ok := kindOf(any(zero))
	if !ok || wantKind(c.Key.Type()) != want {
		return nil, &objerr.WrongTypeError{Column: c.Name, Want: c.Key.Type().String(), Got: fmt.Sprintf("%T", zero)}
	}
	return &List[T]{o: o, c: c}, nil
}

// Size returns the element count.
func (l *List[T]) Size() (int, error) {
	block, err := listSnapshot[T](l.o, l.c)
	if err != nil {
		return 0, err
	}
	if block == nil {
		return 0, nil
	}
	return block.Len(), nil
}

// Get returns the element at index i.
func (l *List[T]) Get(i int) (T, error) {
	var zero T
	block, err := listSnapshot[T](l.o, l.c)
	if err != nil {
		return zero, err
	}
	if block == nil || i < 0 || i >= block.Len() {
		return zero, fmt.Errorf("%w: list index %d", objerr.ErrKeyNotFound, i)
	}
	return block.Get(i), nil
}

func (l *List[T]) emit(op replication.Op, i int, v mixed.Mixed) error {
	l.o.t.g.alloc.BumpContentVersion()
	return l.o.t.g.emit(replication.Instruction{
		Op:     op,
		Table:  l.o.t.Key(),
		Key:    l.o.key,
		ColTag: l.c.Key.Tag(),
		Value:  v,
		Index:  i,
	})
}

// Set replaces the element at index i.
func (l *List[T]) Set(i int, v T) error {
	block, err := listWritable[T](l.o, l.c)
	if err != nil {
		return err
	}
	if i < 0 || i >= block.Len() {
		return fmt.Errorf("%w: list index %d", objerr.ErrKeyNotFound, i)
	}
	block.Set(i, v)
	m, _ := toMixed(v)
	return l.emit(replication.OpSet, i, m)
}

// Insert places v at index i.
func (l *List[T]) Insert(i int, v T) error {
	block, err := listWritable[T](l.o, l.c)
	if err != nil {
		return err
	}
	if i < 0 || i > block.Len() {
		return fmt.Errorf("%w: list index %d", objerr.ErrKeyNotFound, i)
	}
	block.Insert(i, v)
	m, _ := toMixed(v)
	return l.emit(replication.OpSet, i, m)
}

// Add appends v.
func (l *List[T]) Add(v T) error {
	n, err := l.Size()
	if err != nil {
		return err
	}
	return l.Insert(n, v)
}

// Remove drops the element at index i.
func (l *List[T]) Remove(i int) error {
	block, err := listWritable[T](l.o, l.c)
	if err != nil {
		return err
	}
	if i < 0 || i >= block.Len() {
		return fmt.Errorf("%w: list index %d", objerr.ErrKeyNotFound, i)
	}
	block.Erase(i)
	return l.emit(replication.OpListErase, i, mixed.Null())
}

// Clear drops every element.
func (l *List[T]) Clear() error {
	for {
		n, err := l.Size()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if err := l.Remove(n - 1); err != nil {
			return err
		}
	}
}
