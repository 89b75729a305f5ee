package obj

import (
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/objcore/objcore/internal/leaf"
	"github.com/objcore/objcore/objkey"
	"github.com/objcore/objcore/replication"
	"github.com/objcore/objcore/schema"
)

// CascadeMode selects which edges a cascade follows.
type CascadeMode int

const (
	// CascadeNone never follows edges; used for in-place replacement where
	// the caller knows no cascade occurs.
	CascadeNone CascadeMode = iota
	// CascadeStrong follows strong links (embedded tables and columns with
	// strong-link semantics).
	CascadeStrong
	// CascadeAll follows every dropped edge; used when removing or
	// unresolving a row that may itself be the unresolved side of a sync
	// relationship.
	CascadeAll
)

// cascadeEntry is one queued orphan candidate; strong records whether the
// dropped edge had strong semantics.
type cascadeEntry struct {
	link   objkey.ObjLink
	strong bool
}

// CascadeState is the transaction-local worklist of a cascade. Rows are
// deduplicated per table with a bitmap, which keeps re-enqueueing O(1) and
// the deletion order confluent regardless of traversal order.
type CascadeState struct {
	mode  CascadeMode
	queue []cascadeEntry
	seen  map[schema.TableKey]*roaring64.Bitmap
}

func newCascadeState(mode CascadeMode) *CascadeState {
	return &CascadeState{
		mode: mode,
		seen: make(map[schema.TableKey]*roaring64.Bitmap),
	}
}

// enqueue pushes the orphaned target onto the worklist iff the dropped edge
// was strong and was the target's last reverse edge for its column, or the
// state runs in CascadeAll mode. Reports whether anything was enqueued.
func (s *CascadeState) enqueue(target objkey.ObjLink, strong, lastRemoved bool) bool {
	if s.mode == CascadeNone {
		return false
	}
	if s.mode != CascadeAll && !(strong && lastRemoved) {
		return false
	}
	bm, ok := s.seen[target.Table]
	if !ok {
		bm = roaring64.New()
		s.seen[target.Table] = bm
	}
	if bm.Contains(uint64(target.Key)) {
		return true
	}
	bm.Add(uint64(target.Key))
	s.queue = append(s.queue, cascadeEntry{link: target, strong: strong})
	return true
}

// removeRecursive drains a cascade worklist, deleting rows that became
// unreachable through strong links. Weak edges queued under CascadeAll only
// clean up unresolved rows; live rows survive losing a weak edge.
// Deletions are journaled like direct removals.
func (g *Group) removeRecursive(state *CascadeState) error {
	start := time.Now()
	removed := 0
	for len(state.queue) > 0 {
		entry := state.queue[len(state.queue)-1]
		state.queue = state.queue[:len(state.queue)-1]

		t, err := g.Table(entry.link.Table)
		if err != nil {
			continue
		}
		target, err := t.GetObject(entry.link.Key)
		if err != nil {
			continue // already deleted through another edge
		}
		n, err := target.totalBacklinkCount()
		if err != nil {
			return err
		}
		if n > 0 {
			continue // re-parented before the cascade reached it
		}
		if !entry.strong && !t.spec.IsEmbedded() && !entry.link.Key.IsUnresolved() {
			continue
		}
		if err := target.removeInternal(state); err != nil {
			return err
		}
		removed++
	}
	if removed > 0 {
		g.logger.LogCascade(g.ctx, removed)
		if g.observer != nil {
			g.observer.RecordCascade(removed, time.Since(start))
		}
	}
	return nil
}

// Remove cascade-deletes the row. Incoming links are nullified, outgoing
// strong links cascade, and the accessor becomes permanently invalid.
func (o *Obj) Remove() (err error) {
	start := time.Now()
	defer func() { o.t.g.recordMutation("remove", start, err) }()

	if err = o.updateIfNeeded(); err != nil {
		return err
	}
	state := newCascadeState(CascadeStrong)
	if err = o.removeInternal(state); err != nil {
		return err
	}
	return o.t.g.removeRecursive(state)
}

// removeInternal deletes the row: nullify incoming forward links, drop the
// reverse edges of outgoing links (enqueueing strong orphans into state),
// release container blocks, erase the row, and journal the removal.
func (o *Obj) removeInternal(state *CascadeState) error {
	if err := o.updateIfNeeded(); err != nil {
		return err
	}
	if err := o.ensureWriteable(); err != nil {
		return err
	}

	// Incoming edges: each origin's forward cell is cleared. Reverse-edge
	// bookkeeping is skipped there; the edges die with this row.
	for _, bc := range o.t.spec.BacklinkColumns() {
		bl := o.backlinksAt(bc.Key)
		if bl == nil {
			continue
		}
		originTable, err := o.t.g.Table(bc.OriginTable)
		if err != nil {
			continue
		}
		oc, ok := originTable.spec.Column(bc.OriginCol)
		if !ok {
			continue
		}
		for _, originKey := range bl.All(o.pos.Index) {
			origin, err := originTable.GetObject(originKey)
			if err != nil {
				continue
			}
			if err := origin.nullifyLink(oc, o.key, o.t.Key()); err != nil {
				return err
			}
			if err := o.updateIfNeeded(); err != nil {
				return err
			}
		}
	}

	// Outgoing edges: drop the reverse edges and let strong orphans queue.
	for _, c := range o.t.spec.PublicColumns() {
		links, err := o.outgoingLinks(c)
		if err != nil {
			return err
		}
		for _, l := range links {
			if _, err := o.removeBacklink(c, l, state); err != nil {
				return err
			}
			if err := o.updateIfNeeded(); err != nil {
				return err
			}
		}
	}

	if err := o.freeContainers(); err != nil {
		return err
	}
	o.t.indexRemove(o.key)

	key := o.key
	if err := o.t.tree(key).Erase(o.t.g.ctx, key); err != nil {
		return err
	}
	o.t.g.alloc.BumpContentVersion()
	o.valid = false

	o.t.g.logger.WithTable(o.t.Name()).WithKey(int64(key)).DebugContext(o.t.g.ctx, "object removed")
	return o.t.g.emit(replication.Instruction{
		Op:    replication.OpRemoveObject,
		Table: o.t.Key(),
		Key:   key,
	})
}

// Invalidate converts the row into a tombstone when outstanding references
// to it remain; with no references it is a plain Remove. Incoming forward
// cells are redirected to the unresolved key, so they read as null through
// the filtered accessors but keep the edge alive.
func (o *Obj) Invalidate() (err error) {
	start := time.Now()
	defer func() { o.t.g.recordMutation("invalidate", start, err) }()

	if err = o.updateIfNeeded(); err != nil {
		return err
	}
	total, err := o.totalBacklinkCount()
	if err != nil {
		return err
	}
	if total == 0 {
		return o.Remove()
	}
	if err = o.ensureWriteable(); err != nil {
		return err
	}

	unres := o.key.Unresolved()
	tombPos, err := o.t.tombstones.Insert(o.t.g.ctx, unres)
	if err != nil {
		return err
	}

	// Carry the incoming edges over to the tombstone and re-point every
	// origin cell at the unresolved key.
	for _, bc := range o.t.spec.BacklinkColumns() {
		if err := o.updateIfNeeded(); err != nil {
			return err
		}
		bl := o.backlinksAt(bc.Key)
		if bl == nil {
			continue
		}
		edges := bl.All(o.pos.Index)
		if len(edges) == 0 {
			continue
		}
		tombPos, err = o.t.tombstones.MakeWritable(o.t.g.ctx, unres)
		if err != nil {
			return err
		}
		tombCol, err := o.t.tombstones.EnsureSlot(o.t.g.ctx, tombPos, bc.Key.Idx()+1, func() leaf.Column { return leaf.NewBacklinks() })
		if err != nil {
			return err
		}
		for _, e := range edges {
			tombCol.(*leaf.Backlinks).Add(tombPos.Index, e)
		}

		originTable, err := o.t.g.Table(bc.OriginTable)
		if err != nil {
			continue
		}
		oc, ok := originTable.spec.Column(bc.OriginCol)
		if !ok {
			continue
		}
		for _, originKey := range edges {
			origin, err := originTable.GetObject(originKey)
			if err != nil {
				continue
			}
			if err := origin.redirectLink(oc, o.key, unres, o.t.Key()); err != nil {
				return err
			}
		}
	}

	// Outgoing edges are dropped with CascadeAll: the unresolving row may
	// itself hold the last reference into another unresolved subgraph.
	state := newCascadeState(CascadeAll)
	for _, c := range o.t.spec.PublicColumns() {
		if err := o.updateIfNeeded(); err != nil {
			return err
		}
		links, err := o.outgoingLinks(c)
		if err != nil {
			return err
		}
		for _, l := range links {
			if _, err := o.removeBacklink(c, l, state); err != nil {
				return err
			}
		}
	}

	if err := o.freeContainers(); err != nil {
		return err
	}
	o.t.indexRemove(o.key)

	key := o.key
	if err := o.t.clusters.Erase(o.t.g.ctx, key); err != nil {
		return err
	}
	o.t.g.alloc.BumpContentVersion()
	o.valid = false

	if err := o.t.g.emit(replication.Instruction{
		Op:    replication.OpRemoveObject,
		Table: o.t.Key(),
		Key:   key,
	}); err != nil {
		return err
	}
	return o.t.g.removeRecursive(state)
}

// freeContainers releases the list blocks and dictionary trees referenced
// from the row's container cells.
func (o *Obj) freeContainers() error {
	if err := o.updateIfNeeded(); err != nil {
		return err
	}
	for _, c := range o.t.spec.PublicColumns() {
		if !c.Key.IsList() && !c.Key.IsDictionary() && c.Key.Type() != schema.TypeLinkList {
			continue
		}
		l := o.t.tree(o.key).Leaf(o.pos, o.slot(c.Key))
		if l == nil {
			continue
		}
		refs := l.(*leaf.Refs)
		ref := refs.Get(o.pos.Index)
		if ref == 0 {
			continue
		}
		if c.Key.IsDictionary() {
			freeDictTree(o.t.g, ref)
		} else {
			o.t.g.alloc.Free(ref)
		}
	}
	return nil
}
