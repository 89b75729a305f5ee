package obj

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objcore/objcore/schema"
)

func TestPathTopLevel(t *testing.T) {
	sch := schema.New()
	tbl := sch.AddTable("top")
	g, _ := newTestGroup(sch)
	table, _ := g.Table(tbl.Key())
	o, _ := table.CreateObject()

	p, err := o.GetPath()
	require.NoError(t, err)
	assert.Equal(t, tbl.Key(), p.TopTable)
	assert.Equal(t, o.Key(), p.TopKey)
	assert.Empty(t, p.Path)
}

func TestPathThroughEmbeddedChain(t *testing.T) {
	sch, parentSpec, _, _, cl, gl := chainSchema(t)
	g, _ := newTestGroup(sch)
	parents, _ := g.Table(parentSpec.Key())

	p, _ := parents.CreateObject()
	c, err := p.CreateAndSetLinkedObject(cl)
	require.NoError(t, err)
	grand, err := c.CreateAndSetLinkedObject(gl)
	require.NoError(t, err)

	path, err := grand.GetPath()
	require.NoError(t, err)
	assert.Equal(t, parentSpec.Key(), path.TopTable)
	assert.Equal(t, p.Key(), path.TopKey)
	require.Len(t, path.Path, 2)
	assert.Equal(t, cl.Tag(), path.Path[0].Col.Tag())
	assert.Equal(t, 0, path.Path[0].Index)
	assert.Equal(t, gl.Tag(), path.Path[1].Col.Tag())

	fat, err := grand.GetFatPath()
	require.NoError(t, err)
	require.Len(t, fat, 2)
	assert.Equal(t, p.Key(), fat[0].Obj.Key())
	assert.Equal(t, c.Key(), fat[1].Obj.Key())
}

func TestPathThroughLinkList(t *testing.T) {
	sch := schema.New()
	parent := sch.AddTable("parent")
	child := sch.AddEmbeddedTable("child")
	items, err := parent.AddLinkColumn("items", schema.TypeLinkList, child, 0)
	require.NoError(t, err)
	val, err := child.AddColumn("v", schema.TypeInt, 0)
	require.NoError(t, err)

	g, _ := newTestGroup(sch)
	parents, _ := g.Table(parent.Key())
	children, _ := g.Table(child.Key())

	p, _ := parents.CreateObject()
	ll, _ := p.GetLinkList(items)

	// Embedded list targets are created through the table internals the
	// way create_and_set does for scalar links.
	for i := 0; i < 3; i++ {
		c, err := children.createRow()
		require.NoError(t, err)
		require.NoError(t, ll.Add(c.Key()))
		require.NoError(t, Set(c, val, int64(i)))
	}

	secondKey, err := ll.Get(1)
	require.NoError(t, err)
	second, err := children.GetObject(secondKey)
	require.NoError(t, err)

	path, err := second.GetPath()
	require.NoError(t, err)
	require.Len(t, path.Path, 1)
	assert.Equal(t, items.Tag(), path.Path[0].Col.Tag())
	assert.Equal(t, 1, path.Path[0].Index)
}
