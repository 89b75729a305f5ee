package objcore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	objcore "github.com/objcore/objcore"
	"github.com/objcore/objcore/mixed"
	"github.com/objcore/objcore/obj"
	"github.com/objcore/objcore/replication"
	"github.com/objcore/objcore/schema"
)

func TestEndToEnd(t *testing.T) {
	sch := schema.New()
	person := sch.AddTable("person")
	name, err := person.AddColumn("name", schema.TypeString, 0)
	require.NoError(t, err)
	age, err := person.AddColumn("age", schema.TypeInt, schema.Nullable)
	require.NoError(t, err)
	attrs, err := person.AddDictionaryColumn("attrs", schema.TypeString, 0)
	require.NoError(t, err)

	sink := &replication.MemorySink{}
	db := objcore.Open(sch, objcore.WithReplicationSink(sink))

	tx := db.BeginWrite()
	people, err := tx.Group().TableByName("person")
	require.NoError(t, err)

	o, err := people.CreateObject()
	require.NoError(t, err)
	require.NoError(t, obj.Set(o, name, "ada"))
	require.NoError(t, obj.Set(o, age, int64(36)))

	d, err := o.GetDictionary(attrs)
	require.NoError(t, err)
	_, _, err = d.Insert(mixed.String_("role"), mixed.String_("engineer"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	// Read back through a fresh accessor after commit.
	rx := db.BeginRead()
	defer func() { _ = rx.Rollback() }()
	got, err := people.GetObject(o.Key())
	require.NoError(t, err)
	v, err := obj.Get[string](got, name)
	require.NoError(t, err)
	assert.Equal(t, "ada", v)

	dv, err := got.GetDictionary(attrs)
	require.NoError(t, err)
	role, err := dv.Get(mixed.String_("role"))
	require.NoError(t, err)
	assert.Equal(t, "engineer", role.Str())

	// Every mutation was journaled.
	ops := make([]replication.Op, 0)
	for _, inst := range sink.Instructions() {
		ops = append(ops, inst.Op)
	}
	assert.Equal(t, []replication.Op{
		replication.OpCreateObject,
		replication.OpSet,
		replication.OpSet,
		replication.OpSet,
	}, ops)
}

func TestErrorCategories(t *testing.T) {
	sch := schema.New()
	tbl := sch.AddTable("t")
	n, err := tbl.AddColumn("n", schema.TypeInt, 0)
	require.NoError(t, err)

	db := objcore.Open(sch)
	tx := db.BeginWrite()
	defer func() { _ = tx.Rollback() }()
	table, _ := tx.Group().TableByName("t")
	o, _ := table.CreateObject()

	err = obj.Set(o, n, "wrong")
	assert.ErrorIs(t, err, objcore.ErrWrongType)
	assert.True(t, objcore.IsLogicError(err))

	err = o.SetNull(n)
	assert.ErrorIs(t, err, objcore.ErrNotNullable)
	assert.True(t, objcore.IsLogicError(err))

	_, err = table.GetObject(99999)
	assert.ErrorIs(t, err, objcore.ErrKeyNotFound)
	assert.False(t, objcore.IsLogicError(err))
}

func TestMetricsCollector(t *testing.T) {
	sch := schema.New()
	tbl := sch.AddTable("t")
	n, err := tbl.AddColumn("n", schema.TypeInt, 0)
	require.NoError(t, err)

	metrics := &objcore.BasicMetricsCollector{}
	db := objcore.Open(sch, objcore.WithMetricsCollector(metrics))
	tx := db.BeginWrite()
	table, _ := tx.Group().TableByName("t")
	o, _ := table.CreateObject()
	require.NoError(t, obj.Set(o, n, int64(1)))
	require.NoError(t, o.Remove())
	require.NoError(t, tx.Commit())

	assert.GreaterOrEqual(t, metrics.MutationCount.Load(), int64(2))
	assert.Zero(t, metrics.MutationErrors.Load())
}

func TestStats(t *testing.T) {
	sch := schema.New()
	sch.AddTable("t")
	db := objcore.Open(sch)

	tx := db.BeginWrite()
	table, _ := tx.Group().TableByName("t")
	_, err := table.CreateObject()
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Greater(t, db.Stats().BlocksLive, uint64(0))
}
