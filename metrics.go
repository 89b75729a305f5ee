package objcore

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
type MetricsCollector interface {
	// RecordMutation is called after each mutating accessor operation
	// ("set", "add_int", "remove", "invalidate").
	RecordMutation(op string, duration time.Duration, err error)

	// RecordCascade is called after a cascade completes with the number of
	// rows it deleted.
	RecordCascade(removed int, duration time.Duration)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordMutation(string, time.Duration, error) {}
func (NoopMetricsCollector) RecordCascade(int, time.Duration)            {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	MutationCount      atomic.Int64
	MutationErrors     atomic.Int64
	MutationTotalNanos atomic.Int64
	CascadeCount       atomic.Int64
	CascadeRowsRemoved atomic.Int64
}

// RecordMutation implements MetricsCollector.
func (c *BasicMetricsCollector) RecordMutation(_ string, duration time.Duration, err error) {
	c.MutationCount.Add(1)
	c.MutationTotalNanos.Add(int64(duration))
	if err != nil {
		c.MutationErrors.Add(1)
	}
}

// RecordCascade implements MetricsCollector.
func (c *BasicMetricsCollector) RecordCascade(removed int, _ time.Duration) {
	c.CascadeCount.Add(1)
	c.CascadeRowsRemoved.Add(int64(removed))
}

// metricsObserver adapts a MetricsCollector to the accessor layer's
// observer hook.
type metricsObserver struct {
	c MetricsCollector
}

func (m *metricsObserver) RecordMutation(op string, d time.Duration, err error) {
	m.c.RecordMutation(op, d, err)
}

func (m *metricsObserver) RecordCascade(removed int, d time.Duration) {
	m.c.RecordCascade(removed, d)
}
