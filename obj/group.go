// Package obj implements the per-object accessor layer: tables of rows
// stored in cluster trees, typed field access, the link/backlink graph,
// cascading deletion, and change journaling.
package obj

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/objcore/objcore/internal/alloc"
	"github.com/objcore/objcore/objerr"
	"github.com/objcore/objcore/objkey"
	"github.com/objcore/objcore/replication"
	"github.com/objcore/objcore/schema"
)

// Observer receives operational signals from the accessor layer. The root
// metrics collector adapts to it.
type Observer interface {
	// RecordMutation is called after each mutating operation.
	RecordMutation(op string, duration time.Duration, err error)
	// RecordCascade is called after a cascade completes with the number of
	// rows it deleted.
	RecordCascade(removed int, duration time.Duration)
}

// Group is the set of tables sharing one allocator, one schema, and one
// replication sink.
type Group struct {
	ctx      context.Context
	sch      *schema.Schema
	alloc    *alloc.Allocator
	tables   map[schema.TableKey]*Table
	sink     replication.Sink
	logger   *Logger
	observer Observer

	// writeMu serializes write transactions; the transaction layer holds it
	// for the duration of a write transaction.
	writeMu sync.Mutex

	// updateChecks counts accessor version handshakes; tests use it to
	// verify that every operation revalidates.
	updateChecks atomic.Uint64
}

// GroupOption configures a Group.
type GroupOption func(*Group)

// WithSink routes the instruction stream to sink. The default discards it.
func WithSink(s replication.Sink) GroupOption {
	return func(g *Group) {
		if s == nil {
			s = replication.NopSink{}
		}
		g.sink = s
	}
}

// WithLogger sets the structured logger. The default discards all output.
func WithLogger(l *Logger) GroupOption {
	return func(g *Group) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) GroupOption {
	return func(g *Group) { g.observer = o }
}

// WithContext sets the context passed to the allocator and sink. The default
// is context.Background().
func WithContext(ctx context.Context) GroupOption {
	return func(g *Group) { g.ctx = ctx }
}

// NewGroup builds the accessor layer over a schema and an allocator. Every
// table in the schema gets its live and tombstone cluster trees.
func NewGroup(sch *schema.Schema, a *alloc.Allocator, optFns ...GroupOption) *Group {
	g := &Group{
		ctx:    context.Background(),
		sch:    sch,
		alloc:  a,
		tables: make(map[schema.TableKey]*Table),
		sink:   replication.NopSink{},
		logger: NoopLogger(),
	}
	for _, fn := range optFns {
		fn(g)
	}
	for _, ts := range sch.Tables() {
		g.tables[ts.Key()] = newTable(g, ts)
	}
	return g
}

// Schema returns the group's schema.
func (g *Group) Schema() *schema.Schema { return g.sch }

// Allocator returns the group's allocator.
func (g *Group) Allocator() *alloc.Allocator { return g.alloc }

// Table resolves a table key.
func (g *Group) Table(key schema.TableKey) (*Table, error) {
	t, ok := g.tables[key]
	if !ok || t.dropped {
		return nil, fmt.Errorf("%w: table %d", objerr.ErrKeyNotFound, key)
	}
	return t, nil
}

// TableByName resolves a table name.
func (g *Group) TableByName(name string) (*Table, error) {
	ts, ok := g.sch.TableByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: table %q", objerr.ErrKeyNotFound, name)
	}
	return g.Table(ts.Key())
}

// RemoveTable drops a table: its rows are cleared and every accessor into it
// becomes permanently invalid.
func (g *Group) RemoveTable(key schema.TableKey) error {
	t, err := g.Table(key)
	if err != nil {
		return err
	}
	t.clusters.Clear(g.ctx)
	t.tombstones.Clear(g.ctx)
	t.dropped = true
	return nil
}

// UpdateChecks returns the number of accessor version handshakes performed.
func (g *Group) UpdateChecks() uint64 { return g.updateChecks.Load() }

// WriteLock acquires exclusive write access. The transaction layer calls
// this when a write transaction begins.
func (g *Group) WriteLock() { g.writeMu.Lock() }

// WriteUnlock releases exclusive write access.
func (g *Group) WriteUnlock() { g.writeMu.Unlock() }

// emit sends one instruction to the sink.
func (g *Group) emit(inst replication.Instruction) error {
	if err := g.sink.Emit(g.ctx, inst); err != nil {
		name := ""
		if t, ok := g.tables[inst.Table]; ok {
			name = t.Name()
		}
		g.logger.WithTable(name).WithKey(int64(inst.Key)).LogReplicate(g.ctx, inst.Op.String(), err)
		return err
	}
	return nil
}

func (g *Group) recordMutation(op string, start time.Time, err error) {
	if g.observer != nil {
		g.observer.RecordMutation(op, time.Since(start), err)
	}
}

func (g *Group) logSet(col schema.ColKey, key objkey.ObjKey, err error) {
	if err != nil {
		g.logger.DebugContext(g.ctx, "set failed",
			"col", col.String(),
			"key", key.String(),
			"error", err,
		)
	}
}
