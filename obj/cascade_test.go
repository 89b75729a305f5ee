package obj

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objcore/objcore/internal/alloc"
	"github.com/objcore/objcore/objerr"
	"github.com/objcore/objcore/objkey"
	"github.com/objcore/objcore/replication"
	"github.com/objcore/objcore/schema"
	"github.com/objcore/objcore/testutil"
)

// Scenario S3: deleting the owner cascade-deletes the embedded child.
func TestCascadeEmbedded(t *testing.T) {
	fx := testutil.BuildLinkedFixture()
	g, _ := newTestGroup(fx.Schema)
	parents, _ := g.Table(fx.Parent.Key())
	children, _ := g.Table(fx.Child.Key())

	p, err := parents.CreateObject()
	require.NoError(t, err)
	child, err := p.CreateAndSetLinkedObject(fx.ChildLink)
	require.NoError(t, err)
	childKey := child.Key()
	require.Equal(t, 1, children.Size())

	require.NoError(t, p.Remove())
	assert.Equal(t, 0, children.Size())
	assert.False(t, children.IsValid(childKey))
	_, err = children.GetObject(childKey)
	assert.ErrorIs(t, err, objerr.ErrKeyNotFound)
}

// Invariant 2: an embedded row has exactly one backlink, and losing it
// deletes the row.
func TestEmbeddedSingleOwner(t *testing.T) {
	fx := testutil.BuildLinkedFixture()
	g, _ := newTestGroup(fx.Schema)
	parents, _ := g.Table(fx.Parent.Key())
	children, _ := g.Table(fx.Child.Key())

	p, _ := parents.CreateObject()
	child, err := p.CreateAndSetLinkedObject(fx.ChildLink)
	require.NoError(t, err)

	n, err := child.totalBacklinkCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A second parent cannot claim the owned child.
	p2, _ := parents.CreateObject()
	assert.ErrorIs(t, Set(p2, fx.ChildLink, child.Key()), objerr.ErrWrongTableKind)

	// Nulling the owning link cascades the child away.
	require.NoError(t, p.SetNull(fx.ChildLink))
	assert.Equal(t, 0, children.Size())
}

// Embedded rows cannot be created directly.
func TestEmbeddedCreateRejected(t *testing.T) {
	fx := testutil.BuildLinkedFixture()
	g, _ := newTestGroup(fx.Schema)
	children, _ := g.Table(fx.Child.Key())

	_, err := children.CreateObject()
	assert.ErrorIs(t, err, objerr.ErrWrongTableKind)
}

// create_and_set on an embedded target replaces (and cascades) the old
// child; on a non-embedded target it refuses to overwrite a live link.
func TestCreateAndSetLinkedObject(t *testing.T) {
	fx := testutil.BuildLinkedFixture()
	g, _ := newTestGroup(fx.Schema)
	parents, _ := g.Table(fx.Parent.Key())
	children, _ := g.Table(fx.Child.Key())

	p, _ := parents.CreateObject()
	first, err := p.CreateAndSetLinkedObject(fx.ChildLink)
	require.NoError(t, err)
	firstKey := first.Key()

	second, err := p.CreateAndSetLinkedObject(fx.ChildLink)
	require.NoError(t, err)
	assert.NotEqual(t, firstKey, second.Key())
	assert.Equal(t, 1, children.Size())
	assert.False(t, children.IsValid(firstKey))

	// Non-embedded target with an existing link refuses.
	sch, aSpec, bSpec, l, _ := linkSchema(t)
	g2, _ := newTestGroup(sch)
	ta, _ := g2.Table(aSpec.Key())
	tb, _ := g2.Table(bSpec.Key())
	b, _ := tb.CreateObject()
	a, _ := ta.CreateObject()
	require.NoError(t, Set(a, l, b.Key()))
	_, err = a.CreateAndSetLinkedObject(l)
	assert.ErrorIs(t, err, objerr.ErrWrongTableKind)
}

// chainSchema wires parent → embedded child → embedded grandchild.
func chainSchema(t *testing.T) (*schema.Schema, *schema.Table, *schema.Table, *schema.Table, schema.ColKey, schema.ColKey) {
	t.Helper()
	sch := schema.New()
	parent := sch.AddTable("parent")
	child := sch.AddEmbeddedTable("child")
	grand := sch.AddEmbeddedTable("grand")
	cl, err := parent.AddLinkColumn("c", schema.TypeLink, child, 0)
	require.NoError(t, err)
	gl, err := child.AddLinkColumn("g", schema.TypeLink, grand, 0)
	require.NoError(t, err)
	return sch, parent, child, grand, cl, gl
}

func TestCascadeChain(t *testing.T) {
	sch, parentSpec, childSpec, grandSpec, cl, gl := chainSchema(t)
	g, sink := newTestGroup(sch)
	parents, _ := g.Table(parentSpec.Key())
	children, _ := g.Table(childSpec.Key())
	grands, _ := g.Table(grandSpec.Key())

	p, _ := parents.CreateObject()
	c, err := p.CreateAndSetLinkedObject(cl)
	require.NoError(t, err)
	_, err = c.CreateAndSetLinkedObject(gl)
	require.NoError(t, err)

	sink.Reset()
	require.NoError(t, p.Remove())
	assert.Equal(t, 0, children.Size())
	assert.Equal(t, 0, grands.Size())

	// Replication order: the parent's removal is journaled before the
	// cascade it triggers.
	var removes []objkey.TableKey
	for _, inst := range sink.Instructions() {
		require.Equal(t, replication.OpRemoveObject, inst.Op)
		removes = append(removes, inst.Table)
	}
	require.Len(t, removes, 3)
	assert.Equal(t, parentSpec.Key(), removes[0])
	assert.Equal(t, childSpec.Key(), removes[1])
	assert.Equal(t, grandSpec.Key(), removes[2])
}

// Invariant 9: cascade is confluent. Removing top-level owners in any order
// leaves the same surviving rows.
func TestCascadeConfluence(t *testing.T) {
	build := func() (*Group, []*Obj, *Table, *Table, *Table) {
		sch, parentSpec, childSpec, grandSpec, cl, gl := chainSchema(t)
		g, _ := newTestGroup(sch)
		parents, _ := g.Table(parentSpec.Key())
		children, _ := g.Table(childSpec.Key())
		grands, _ := g.Table(grandSpec.Key())

		var owners []*Obj
		for i := 0; i < 8; i++ {
			p, err := parents.CreateObject()
			require.NoError(t, err)
			c, err := p.CreateAndSetLinkedObject(cl)
			require.NoError(t, err)
			if i%2 == 0 {
				_, err = c.CreateAndSetLinkedObject(gl)
				require.NoError(t, err)
			}
			owners = append(owners, p)
		}
		return g, owners, parents, children, grands
	}

	rng := testutil.NewRNG(1)
	for trial := 0; trial < 5; trial++ {
		_, owners, parents, children, grands := build()

		// Remove a fixed subset {0,2,5} in a random order.
		subset := []int{0, 2, 5}
		for i := len(subset) - 1; i > 0; i-- {
			j := rng.Intn(i + 1)
			subset[i], subset[j] = subset[j], subset[i]
		}
		for _, idx := range subset {
			require.NoError(t, owners[idx].Remove())
		}

		assert.Equal(t, 5, parents.Size())
		assert.Equal(t, 5, children.Size())
		assert.Equal(t, 2, grands.Size())

		// Every surviving child still has exactly one owner.
		children.ForEachObject(func(o *Obj) bool {
			n, err := o.totalBacklinkCount()
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			return true
		})
	}
}

// Scenario S6: invalidate converts a referenced row into a tombstone.
func TestInvalidateTombstone(t *testing.T) {
	sch, aSpec, bSpec, l, _ := linkSchema(t)
	g, _ := newTestGroup(sch)
	ta, _ := g.Table(aSpec.Key())
	tb, _ := g.Table(bSpec.Key())

	b, _ := tb.CreateObject()
	bKey := b.Key()
	a, _ := ta.CreateObject()
	require.NoError(t, Set(a, l, bKey))

	require.NoError(t, b.Invalidate())
	assert.Equal(t, 0, tb.Size())
	assert.Equal(t, 1, tb.TombstoneCount())

	// The filtered read hides the tombstone; the unfiltered read exposes
	// the unresolved key.
	got, err := Get[objkey.ObjKey](a, l)
	require.NoError(t, err)
	assert.True(t, got.IsNull())

	raw, err := a.GetUnfilteredLink(l)
	require.NoError(t, err)
	assert.True(t, raw.IsUnresolved())
	assert.Equal(t, bKey, raw.Resolved())

	// Dropping the last reference erases the tombstone.
	require.NoError(t, a.SetNull(l))
	assert.Equal(t, 0, tb.TombstoneCount())
}

func TestInvalidateWithoutBacklinksRemoves(t *testing.T) {
	sch, _, bSpec, _, _ := linkSchema(t)
	g, _ := newTestGroup(sch)
	tb, _ := g.Table(bSpec.Key())

	b, _ := tb.CreateObject()
	require.NoError(t, b.Invalidate())
	assert.Equal(t, 0, tb.Size())
	assert.Equal(t, 0, tb.TombstoneCount())
}

func TestCascadeObserver(t *testing.T) {
	fx := testutil.BuildLinkedFixture()
	obs := &recordingObserver{}
	sink := &replication.MemorySink{}
	g := NewGroup(fx.Schema, alloc.New(), WithSink(sink), WithObserver(obs))
	parents, _ := g.Table(fx.Parent.Key())

	p, _ := parents.CreateObject()
	_, err := p.CreateAndSetLinkedObject(fx.ChildLink)
	require.NoError(t, err)
	require.NoError(t, p.Remove())

	assert.Equal(t, 1, obs.cascades)
	assert.Equal(t, 1, obs.removed)
}

type recordingObserver struct {
	mutations int
	cascades  int
	removed   int
}

func (r *recordingObserver) RecordMutation(string, time.Duration, error) { r.mutations++ }

func (r *recordingObserver) RecordCascade(removed int, _ time.Duration) {
	r.cascades++
	r.removed += removed
}
