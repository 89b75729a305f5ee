package objcore

import (
	"context"

	"github.com/objcore/objcore/replication"
	"github.com/objcore/objcore/resource"
)

type options struct {
	logger           *Logger
	sink             replication.Sink
	rc               *resource.Controller
	metricsCollector MetricsCollector
	ctx              context.Context
}

// Option configures Open behavior.
//
// Options exist to avoid exploding the constructor surface; breaking
// changes are expected while the module is pre-release.
type Option func(*options)

// WithLogger configures structured logging. Passing nil keeps the no-op
// logger.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithReplicationSink routes the mutation instruction stream to sink.
//
// Example with a compressed local log:
//
//	sink, _ := localsink.New(func(o *localsink.Options) {
//	    o.Dir = "./repl"
//	    o.Compression = localsink.CompressionZstd
//	})
//	db := objcore.Open(sch, objcore.WithReplicationSink(sink))
func WithReplicationSink(s replication.Sink) Option {
	return func(o *options) {
		if s == nil {
			s = replication.NopSink{}
		}
		o.sink = s
	}
}

// WithResourceController bounds the allocator's memory growth under the
// controller's budget.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) { o.rc = rc }
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(c MetricsCollector) Option {
	return func(o *options) { o.metricsCollector = c }
}

// WithContext sets the context the store's internal operations run under,
// e.g. allocator budget waits and sink emissions.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}
