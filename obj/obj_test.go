package obj

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objcore/objcore/internal/alloc"
	"github.com/objcore/objcore/mixed"
	"github.com/objcore/objcore/objerr"
	"github.com/objcore/objcore/objkey"
	"github.com/objcore/objcore/replication"
	"github.com/objcore/objcore/schema"
)

// newTestGroup wires a group with a recording sink.
func newTestGroup(sch *schema.Schema) (*Group, *replication.MemorySink) {
	sink := &replication.MemorySink{}
	g := NewGroup(sch, alloc.New(), WithSink(sink))
	return g, sink
}

// personSchema builds a single table with the common scalar columns.
func personSchema(t *testing.T) (*schema.Schema, *schema.Table, map[string]schema.ColKey) {
	t.Helper()
	sch := schema.New()
	tbl := sch.AddTable("person")
	cols := make(map[string]schema.ColKey)
	add := func(name string, typ schema.ColumnType, attr schema.Attr) {
		k, err := tbl.AddColumn(name, typ, attr)
		require.NoError(t, err)
		cols[name] = k
	}
	add("name", schema.TypeString, 0)
	add("age", schema.TypeInt, schema.Nullable)
	add("n", schema.TypeInt, 0)
	add("score", schema.TypeDouble, schema.Nullable)
	add("blob", schema.TypeBinary, schema.Nullable)
	add("any", schema.TypeMixed, 0)
	return sch, tbl, cols
}

func TestSetGetRoundTrip(t *testing.T) {
	sch, tbl, cols := personSchema(t)
	g, _ := newTestGroup(sch)
	people, err := g.Table(tbl.Key())
	require.NoError(t, err)

	o, err := people.CreateObject()
	require.NoError(t, err)

	require.NoError(t, Set(o, cols["name"], "ada"))
	v, err := Get[string](o, cols["name"])
	require.NoError(t, err)
	assert.Equal(t, "ada", v)

	require.NoError(t, Set(o, cols["score"], 1.5))
	s, err := Get[float64](o, cols["score"])
	require.NoError(t, err)
	assert.Equal(t, 1.5, s)
}

// Scenario S1: nullable int set / optional get / set_null / is_null.
func TestNullableColumn(t *testing.T) {
	sch, tbl, cols := personSchema(t)
	g, _ := newTestGroup(sch)
	people, _ := g.Table(tbl.Key())
	o, err := people.CreateObject()
	require.NoError(t, err)
	age := cols["age"]

	require.NoError(t, Set(o, age, int64(42)))
	v, ok, err := GetOptional[int64](o, age)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), v)

	require.NoError(t, o.SetNull(age))
	isNull, err := o.IsNull(age)
	require.NoError(t, err)
	assert.True(t, isNull)

	_, err = Get[int64](o, age)
	assert.ErrorIs(t, err, objerr.ErrNullValue)

	m, err := o.GetAny(age)
	require.NoError(t, err)
	assert.True(t, m.IsNull())
}

func TestWrongType(t *testing.T) {
	sch, tbl, cols := personSchema(t)
	g, _ := newTestGroup(sch)
	people, _ := g.Table(tbl.Key())
	o, _ := people.CreateObject()

	assert.ErrorIs(t, Set(o, cols["age"], "not an int"), objerr.ErrWrongType)
	_, err := Get[string](o, cols["n"])
	assert.ErrorIs(t, err, objerr.ErrWrongType)
}

func TestNotNullable(t *testing.T) {
	sch, tbl, cols := personSchema(t)
	g, _ := newTestGroup(sch)
	people, _ := g.Table(tbl.Key())
	o, _ := people.CreateObject()

	assert.ErrorIs(t, o.SetNull(cols["n"]), objerr.ErrNotNullable)

	// Non-nullable columns always report non-null.
	isNull, err := o.IsNull(cols["n"])
	require.NoError(t, err)
	assert.False(t, isNull)
}

func TestStringAndBinaryLimits(t *testing.T) {
	sch, tbl, cols := personSchema(t)
	g, _ := newTestGroup(sch)
	people, _ := g.Table(tbl.Key())
	o, _ := people.CreateObject()

	big := make([]byte, MaxBinarySize+1)
	assert.ErrorIs(t, Set(o, cols["blob"], big), objerr.ErrBinaryTooBig)
	assert.ErrorIs(t, Set(o, cols["name"], string(make([]byte, MaxStringSize+1))), objerr.ErrStringTooBig)
}

// Scenario S5 and invariant 4: add_int wraps modulo 2^64.
func TestAddIntWraps(t *testing.T) {
	sch, tbl, cols := personSchema(t)
	g, _ := newTestGroup(sch)
	people, _ := g.Table(tbl.Key())
	o, _ := people.CreateObject()
	n := cols["n"]

	require.NoError(t, Set(o, n, int64(math.MaxInt64)))
	require.NoError(t, o.AddInt(n, 1))
	v, err := Get[int64](o, n)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), v)

	require.NoError(t, Set(o, n, int64(10)))
	require.NoError(t, o.AddInt(n, -3))
	v, _ = Get[int64](o, n)
	assert.Equal(t, int64(7), v)
}

func TestAddIntOnNullFails(t *testing.T) {
	sch, tbl, cols := personSchema(t)
	g, _ := newTestGroup(sch)
	people, _ := g.Table(tbl.Key())
	o, _ := people.CreateObject()

	assert.ErrorIs(t, o.AddInt(cols["age"], 1), objerr.ErrIllegalCombination)
	assert.ErrorIs(t, o.AddInt(cols["name"], 1), objerr.ErrIllegalType)
}

func TestMixedColumn(t *testing.T) {
	sch, tbl, cols := personSchema(t)
	g, _ := newTestGroup(sch)
	people, _ := g.Table(tbl.Key())
	o, _ := people.CreateObject()
	anyCol := cols["any"]

	require.NoError(t, o.SetAny(anyCol, mixed.String_("tagged")))
	m, err := o.GetAny(anyCol)
	require.NoError(t, err)
	assert.Equal(t, mixed.KindString, m.Kind())
	assert.Equal(t, "tagged", m.Str())

	// Typed read of a Mixed column checks the stored tag.
	_, err = Get[int64](o, anyCol)
	assert.ErrorIs(t, err, objerr.ErrWrongType)

	// Bare (untyped) links are not storable in Mixed.
	assert.ErrorIs(t, o.SetAny(anyCol, mixed.Link(1)), objerr.ErrIllegalType)
}

// Invariant 8: any typed read after Remove fails with the stale-accessor
// condition.
func TestStaleAccessorAfterRemove(t *testing.T) {
	sch, tbl, cols := personSchema(t)
	g, _ := newTestGroup(sch)
	people, _ := g.Table(tbl.Key())
	o, _ := people.CreateObject()

	require.NoError(t, o.Remove())
	assert.False(t, o.IsValid())
	_, err := Get[int64](o, cols["n"])
	assert.ErrorIs(t, err, objerr.ErrStaleAccessor)
	assert.ErrorIs(t, Set(o, cols["n"], int64(1)), objerr.ErrStaleAccessor)
}

func TestStaleAccessorAfterTableDrop(t *testing.T) {
	sch, tbl, cols := personSchema(t)
	g, _ := newTestGroup(sch)
	people, _ := g.Table(tbl.Key())
	o, _ := people.CreateObject()

	require.NoError(t, g.RemoveTable(tbl.Key()))
	_, err := Get[int64](o, cols["n"])
	assert.ErrorIs(t, err, objerr.ErrStaleAccessor)
}

// Invariant 7: every operation performs the version handshake, and an
// accessor survives a storage reshape by re-resolving.
func TestVersionHandshake(t *testing.T) {
	sch, tbl, cols := personSchema(t)
	g, _ := newTestGroup(sch)
	people, _ := g.Table(tbl.Key())
	o, _ := people.CreateObject()
	require.NoError(t, Set(o, cols["n"], int64(1)))

	before := g.UpdateChecks()
	_, err := Get[int64](o, cols["n"])
	require.NoError(t, err)
	assert.Greater(t, g.UpdateChecks(), before)

	// Freeze advances the storage version; the accessor re-resolves and
	// keeps reading.
	g.Allocator().Freeze()
	v, err := Get[int64](o, cols["n"])
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	// Writes after the freeze go through copy-on-write.
	require.NoError(t, Set(o, cols["n"], int64(2)))
	v, _ = Get[int64](o, cols["n"])
	assert.Equal(t, int64(2), v)
}

// Invariant 3: set/get round trip through a reshaped tree.
func TestAccessorSurvivesReshape(t *testing.T) {
	sch, tbl, cols := personSchema(t)
	g, _ := newTestGroup(sch)
	people, _ := g.Table(tbl.Key())

	first, err := people.CreateObject()
	require.NoError(t, err)
	require.NoError(t, Set(first, cols["n"], int64(99)))

	// Grow past a cluster split so the cached position goes stale.
	for i := 0; i < 600; i++ {
		_, err := people.CreateObject()
		require.NoError(t, err)
	}

	v, err := Get[int64](first, cols["n"])
	require.NoError(t, err)
	assert.Equal(t, int64(99), v)
}

func TestEqualComparesScalarsOnly(t *testing.T) {
	sch, tbl, cols := personSchema(t)
	g, _ := newTestGroup(sch)
	people, _ := g.Table(tbl.Key())

	a, _ := people.CreateObject()
	b, _ := people.CreateObject()
	require.NoError(t, Set(a, cols["name"], "x"))
	require.NoError(t, Set(b, cols["name"], "x"))

	eq, err := a.Equal(b)
	require.NoError(t, err)
	assert.True(t, eq)

	require.NoError(t, Set(b, cols["name"], "y"))
	eq, _ = a.Equal(b)
	assert.False(t, eq)
}

func TestFindFirstIndexed(t *testing.T) {
	sch := schema.New()
	tbl := sch.AddTable("idx")
	name, err := tbl.AddColumn("name", schema.TypeString, schema.Indexed)
	require.NoError(t, err)

	g, _ := newTestGroup(sch)
	table, _ := g.Table(tbl.Key())

	var want objkey.ObjKey
	for i := 0; i < 10; i++ {
		o, err := table.CreateObject()
		require.NoError(t, err)
		require.NoError(t, Set(o, name, string(rune('a'+i))))
		if i == 4 {
			want = o.Key()
		}
	}

	got, err := table.FindFirst(name, mixed.String_("e"))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = table.FindFirst(name, mixed.String_("zz"))
	assert.ErrorIs(t, err, objerr.ErrKeyNotFound)
}

func TestCreateObjectEmitsInstruction(t *testing.T) {
	sch, tbl, cols := personSchema(t)
	g, sink := newTestGroup(sch)
	people, _ := g.Table(tbl.Key())

	o, err := people.CreateObject()
	require.NoError(t, err)
	require.NoError(t, Set(o, cols["n"], int64(5)))

	insts := sink.Instructions()
	require.Len(t, insts, 2)
	assert.Equal(t, replication.OpCreateObject, insts[0].Op)
	assert.Equal(t, replication.OpSet, insts[1].Op)
	assert.Equal(t, o.Key(), insts[1].Key)
	assert.Equal(t, mixed.Int(5), insts[1].Value)
}

func TestSetUnchangedValueEmitsNothing(t *testing.T) {
	sch, tbl, cols := personSchema(t)
	g, sink := newTestGroup(sch)
	people, _ := g.Table(tbl.Key())
	o, _ := people.CreateObject()

	require.NoError(t, Set(o, cols["n"], int64(5)))
	sink.Reset()
	require.NoError(t, Set(o, cols["n"], int64(5)))
	assert.Empty(t, sink.Instructions())
}
