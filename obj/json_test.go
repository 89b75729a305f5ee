package obj

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objcore/objcore/mixed"
	"github.com/objcore/objcore/schema"
	"github.com/objcore/objcore/testutil"
)

func TestToJSONScalars(t *testing.T) {
	sch, tbl, cols := personSchema(t)
	g, _ := newTestGroup(sch)
	people, _ := g.Table(tbl.Key())
	o, _ := people.CreateObject()

	require.NoError(t, Set(o, cols["name"], "a\"b\n"))
	require.NoError(t, Set(o, cols["n"], int64(7)))
	require.NoError(t, Set(o, cols["blob"], []byte{1, 2, 3}))

	var sb strings.Builder
	require.NoError(t, o.ToJSON(&sb, 0, nil))
	out := sb.String()

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded), "output must be valid JSON: %s", out)
	assert.Equal(t, float64(o.Key()), decoded["_key"])
	assert.Equal(t, "a\"b\n", decoded["name"])
	assert.Equal(t, float64(7), decoded["n"])
	assert.Equal(t, "AQID", decoded["blob"]) // base64
	assert.Nil(t, decoded["age"])
}

func TestToJSONRenames(t *testing.T) {
	sch, tbl, cols := personSchema(t)
	g, _ := newTestGroup(sch)
	people, _ := g.Table(tbl.Key())
	o, _ := people.CreateObject()
	require.NoError(t, Set(o, cols["n"], int64(1)))

	var sb strings.Builder
	require.NoError(t, o.ToJSON(&sb, 0, map[string]string{"n": "count"}))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(sb.String()), &decoded))
	assert.Equal(t, float64(1), decoded["count"])
	assert.NotContains(t, decoded, "n")
}

func TestToJSONLinkDepth(t *testing.T) {
	fx := testutil.BuildLinkedFixture()
	g, _ := newTestGroup(fx.Schema)
	parents, _ := g.Table(fx.Parent.Key())

	p, _ := parents.CreateObject()
	require.NoError(t, Set(p, fx.ParentName, "root"))
	c, err := p.CreateAndSetLinkedObject(fx.ChildLink)
	require.NoError(t, err)
	require.NoError(t, Set(c, fx.ChildVal, int64(5)))

	// depth 0: stub only.
	var sb strings.Builder
	require.NoError(t, p.ToJSON(&sb, 0, nil))
	var shallow map[string]any
	require.NoError(t, json.Unmarshal([]byte(sb.String()), &shallow))
	stub, ok := shallow["child"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "child", stub["table"])
	assert.Equal(t, float64(c.Key()), stub["key"])

	// depth 1: full nested object.
	sb.Reset()
	require.NoError(t, p.ToJSON(&sb, 1, nil))
	var deep map[string]any
	require.NoError(t, json.Unmarshal([]byte(sb.String()), &deep))
	nested, ok := deep["child"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(5), nested["val"])
	assert.Equal(t, float64(c.Key()), nested["_key"])
}

func TestToJSONDictionary(t *testing.T) {
	sch := schema.New()
	tbl := sch.AddTable("t")
	d, err := tbl.AddDictionaryColumn("attrs", schema.TypeString, 0)
	require.NoError(t, err)

	g, _ := newTestGroup(sch)
	table, _ := g.Table(tbl.Key())
	o, _ := table.CreateObject()

	dict, err := o.GetDictionary(d)
	require.NoError(t, err)
	_, _, err = dict.Insert(mixed.String_("k"), mixed.Int(3))
	require.NoError(t, err)

	var sb strings.Builder
	require.NoError(t, o.ToJSON(&sb, 0, nil))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(sb.String()), &decoded))
	attrs, ok := decoded["attrs"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), attrs["k"])
}

func TestToJSONCycleStub(t *testing.T) {
	sch := schema.New()
	node := sch.AddTable("node")
	next, err := node.AddLinkColumn("next", schema.TypeLink, node, 0)
	require.NoError(t, err)

	g, _ := newTestGroup(sch)
	nodes, _ := g.Table(node.Key())
	a, _ := nodes.CreateObject()
	b, _ := nodes.CreateObject()
	require.NoError(t, Set(a, next, b.Key()))
	require.NoError(t, Set(b, next, a.Key()))

	// Generous depth: the cycle must terminate via the followed set.
	var sb strings.Builder
	require.NoError(t, a.ToJSON(&sb, 10, nil))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(sb.String()), &decoded))
}
