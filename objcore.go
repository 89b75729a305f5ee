package objcore

import (
	"context"

	"github.com/objcore/objcore/internal/alloc"
	"github.com/objcore/objcore/obj"
	"github.com/objcore/objcore/replication"
	"github.com/objcore/objcore/resource"
	"github.com/objcore/objcore/schema"
	"github.com/objcore/objcore/txn"
)

// DB is an embedded object store: a schema, an allocator, and the group of
// table accessors over them.
type DB struct {
	sch   *schema.Schema
	alloc *alloc.Allocator
	group *obj.Group
	sink  replication.Sink
	rc    *resource.Controller

	logger           *Logger
	metricsCollector MetricsCollector
}

// Open builds a store for sch.
func Open(sch *schema.Schema, optFns ...Option) *DB {
	o := options{
		logger: NoopLogger(),
		sink:   replication.NopSink{},
		ctx:    context.Background(),
	}
	for _, fn := range optFns {
		fn(&o)
	}

	var allocOpts []alloc.Option
	if o.rc != nil {
		allocOpts = append(allocOpts, alloc.WithMemoryReserver(o.rc))
	}
	a := alloc.New(allocOpts...)

	groupOpts := []obj.GroupOption{
		obj.WithSink(o.sink),
		obj.WithLogger(o.logger),
		obj.WithContext(o.ctx),
	}
	if o.metricsCollector != nil {
		groupOpts = append(groupOpts, obj.WithObserver(&metricsObserver{c: o.metricsCollector}))
	}

	db := &DB{
		sch:              sch,
		alloc:            a,
		sink:             o.sink,
		rc:               o.rc,
		logger:           o.logger,
		metricsCollector: o.metricsCollector,
	}
	db.group = obj.NewGroup(sch, a, groupOpts...)
	return db
}

// Schema returns the store's schema.
func (db *DB) Schema() *schema.Schema { return db.sch }

// Group returns the accessor group. Most callers go through transactions
// instead.
func (db *DB) Group() *obj.Group { return db.group }

// BeginRead opens a read transaction on the current snapshot.
func (db *DB) BeginRead() *txn.Txn { return txn.Begin(db.group, txn.ReadOnly) }

// BeginWrite opens a write transaction, blocking until exclusive write
// access is available.
func (db *DB) BeginWrite() *txn.Txn { return txn.Begin(db.group, txn.ReadWrite) }

// Stats returns allocator statistics.
func (db *DB) Stats() alloc.Stats { return db.alloc.Stats() }
