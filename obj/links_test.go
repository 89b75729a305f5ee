package obj

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objcore/objcore/objerr"
	"github.com/objcore/objcore/objkey"
	"github.com/objcore/objcore/replication"
	"github.com/objcore/objcore/schema"
)

// linkSchema builds A(l → B), B(name).
func linkSchema(t *testing.T) (*schema.Schema, *schema.Table, *schema.Table, schema.ColKey, schema.ColKey) {
	t.Helper()
	sch := schema.New()
	a := sch.AddTable("a")
	b := sch.AddTable("b")
	name, err := b.AddColumn("name", schema.TypeString, 0)
	require.NoError(t, err)
	l, err := a.AddLinkColumn("l", schema.TypeLink, b, 0)
	require.NoError(t, err)
	return sch, a, b, l, name
}

// Scenario S2 and invariant 1: backlink count tracks forward links.
func TestBacklinkCount(t *testing.T) {
	sch, aSpec, bSpec, l, _ := linkSchema(t)
	g, _ := newTestGroup(sch)
	ta, _ := g.Table(aSpec.Key())
	tb, _ := g.Table(bSpec.Key())

	b, err := tb.CreateObject()
	require.NoError(t, err)
	a1, _ := ta.CreateObject()
	a2, _ := ta.CreateObject()

	require.NoError(t, Set(a1, l, b.Key()))
	require.NoError(t, Set(a2, l, b.Key()))

	n, err := b.BacklinkCount(ta, l)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, a1.Remove())
	n, err = b.BacklinkCount(ta, l)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	origin, err := b.Backlink(ta, l, 0)
	require.NoError(t, err)
	assert.Equal(t, a2.Key(), origin)
}

func TestLinkRewriteMovesBacklink(t *testing.T) {
	sch, aSpec, bSpec, l, _ := linkSchema(t)
	g, _ := newTestGroup(sch)
	ta, _ := g.Table(aSpec.Key())
	tb, _ := g.Table(bSpec.Key())

	b1, _ := tb.CreateObject()
	b2, _ := tb.CreateObject()
	a, _ := ta.CreateObject()

	require.NoError(t, Set(a, l, b1.Key()))
	require.NoError(t, Set(a, l, b2.Key()))

	n, _ := b1.BacklinkCount(ta, l)
	assert.Equal(t, 0, n)
	n, _ = b2.BacklinkCount(ta, l)
	assert.Equal(t, 1, n)
}

func TestSetLinkValidatesTarget(t *testing.T) {
	sch, aSpec, _, l, _ := linkSchema(t)
	g, _ := newTestGroup(sch)
	ta, _ := g.Table(aSpec.Key())
	a, _ := ta.CreateObject()

	assert.ErrorIs(t, Set(a, l, objkey.ObjKey(12345)), objerr.ErrTargetOutOfRange)
}

func TestRemoveTargetNullifiesOrigins(t *testing.T) {
	sch, aSpec, bSpec, l, _ := linkSchema(t)
	g, sink := newTestGroup(sch)
	ta, _ := g.Table(aSpec.Key())
	tb, _ := g.Table(bSpec.Key())

	b, _ := tb.CreateObject()
	a, _ := ta.CreateObject()
	require.NoError(t, Set(a, l, b.Key()))
	sink.Reset()

	require.NoError(t, b.Remove())

	got, err := Get[objkey.ObjKey](a, l)
	require.NoError(t, err)
	assert.True(t, got.IsNull())

	// The nullify is journaled before the removal that caused it completes.
	insts := sink.Instructions()
	require.Len(t, insts, 2)
	assert.Equal(t, replication.OpNullifyLink, insts[0].Op)
	assert.Equal(t, a.Key(), insts[0].Key)
	assert.Equal(t, replication.OpRemoveObject, insts[1].Op)
}

func TestGetLinkTarget(t *testing.T) {
	sch, aSpec, bSpec, l, name := linkSchema(t)
	g, _ := newTestGroup(sch)
	ta, _ := g.Table(aSpec.Key())
	tb, _ := g.Table(bSpec.Key())

	b, _ := tb.CreateObject()
	require.NoError(t, Set(b, name, "target"))
	a, _ := ta.CreateObject()
	require.NoError(t, Set(a, l, b.Key()))

	got, err := a.GetLinkTarget(l)
	require.NoError(t, err)
	v, err := Get[string](got, name)
	require.NoError(t, err)
	assert.Equal(t, "target", v)

	a2, _ := ta.CreateObject()
	_, err = a2.GetLinkTarget(l)
	assert.ErrorIs(t, err, objerr.ErrTargetOutOfRange)
}

func TestTypedLinkBacklinks(t *testing.T) {
	sch := schema.New()
	aSpec := sch.AddTable("a")
	bSpec := sch.AddTable("b")
	tl, err := aSpec.AddTypedLinkColumn("tl", 0)
	require.NoError(t, err)

	g, _ := newTestGroup(sch)
	ta, _ := g.Table(aSpec.Key())
	tb, _ := g.Table(bSpec.Key())

	b, _ := tb.CreateObject()
	a, _ := ta.CreateObject()
	require.NoError(t, Set(a, tl, b.Link()))

	n, err := b.BacklinkCount(ta, tl)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := Get[objkey.ObjLink](a, tl)
	require.NoError(t, err)
	assert.Equal(t, b.Link(), got)

	require.NoError(t, a.SetNull(tl))
	n, _ = b.BacklinkCount(ta, tl)
	assert.Equal(t, 0, n)
}

func TestTraverseAllLinks(t *testing.T) {
	sch, aSpec, bSpec, l, _ := linkSchema(t)
	g, _ := newTestGroup(sch)
	ta, _ := g.Table(aSpec.Key())
	tb, _ := g.Table(bSpec.Key())

	b, _ := tb.CreateObject()
	a, _ := ta.CreateObject()
	require.NoError(t, Set(a, l, b.Key()))

	var seen []objkey.ObjLink
	require.NoError(t, a.TraverseAllLinks(func(_ schema.ColKey, link objkey.ObjLink) bool {
		seen = append(seen, link)
		return true
	}))
	require.Len(t, seen, 1)
	assert.Equal(t, b.Link(), seen[0])
}

func TestAssignPkAndBacklinks(t *testing.T) {
	sch := schema.New()
	aSpec := sch.AddTable("a")
	bSpec := sch.AddTable("b")
	pk, err := bSpec.AddColumn("pk", schema.TypeInt, 0)
	require.NoError(t, err)
	bSpec.SetPrimaryKey(pk)
	l, err := aSpec.AddLinkColumn("l", schema.TypeLink, bSpec, 0)
	require.NoError(t, err)

	g, _ := newTestGroup(sch)
	ta, _ := g.Table(aSpec.Key())
	tb, _ := g.Table(bSpec.Key())

	old, _ := tb.CreateObject()
	require.NoError(t, Set(old, pk, int64(7)))
	a, _ := ta.CreateObject()
	require.NoError(t, Set(a, l, old.Key()))

	fresh, _ := tb.CreateObject()
	require.NoError(t, fresh.AssignPkAndBacklinks(old))

	v, err := Get[int64](fresh, pk)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	got, err := Get[objkey.ObjKey](a, l)
	require.NoError(t, err)
	assert.Equal(t, fresh.Key(), got)

	n, _ := fresh.BacklinkCount(ta, l)
	assert.Equal(t, 1, n)
	n, _ = old.BacklinkCount(ta, l)
	assert.Equal(t, 0, n)
}
