// Package resource provides group-wide resource governance: a memory budget
// for the allocator's blocks and an IO throughput budget for replication
// sinks.
package resource

import (
	"context"
	"io"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds the resource limits.
type Config struct {
	// MemoryLimitBytes caps the memory charged by the allocator. 0 means
	// tracking only, no enforcement.
	MemoryLimitBytes int64

	// IOLimitBytesPerSec caps replication sink throughput. 0 means
	// unlimited.
	IOLimitBytesPerSec int64
}

// Controller enforces a Config. A nil *Controller is valid and enforces
// nothing.
type Controller struct {
	memSem    *semaphore.Weighted
	memUsed   atomic.Int64
	ioLimiter *rate.Limiter
}

// NewController creates a controller for cfg.
func NewController(cfg Config) *Controller {
	c := &Controller{}
	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// AcquireMemory reserves amount bytes, blocking while the budget is
// exhausted. Satisfies the allocator's MemoryReserver.
func (c *Controller) AcquireMemory(ctx context.Context, amount int64) error {
	if c == nil || amount <= 0 {
		return nil
	}
	if c.memSem != nil {
		if err := c.memSem.Acquire(ctx, amount); err != nil {
			return err
		}
	}
	c.memUsed.Add(amount)
	return nil
}

// ReleaseMemory returns amount bytes to the budget.
func (c *Controller) ReleaseMemory(amount int64) {
	if c == nil || amount <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(amount)
	}
	c.memUsed.Add(-amount)
}

// MemoryUsed returns the currently reserved bytes.
func (c *Controller) MemoryUsed() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AcquireIO waits until n bytes of IO budget are available.
func (c *Controller) AcquireIO(ctx context.Context, n int) error {
	if c == nil || c.ioLimiter == nil || n <= 0 {
		return nil
	}
	return c.ioLimiter.WaitN(ctx, n)
}

// LimitWriter wraps w so writes consume the IO budget.
func (c *Controller) LimitWriter(ctx context.Context, w io.Writer) io.Writer {
	if c == nil || c.ioLimiter == nil {
		return w
	}
	return &limitedWriter{w: w, c: c, ctx: ctx}
}

type limitedWriter struct {
	w   io.Writer
	c   *Controller
	ctx context.Context
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if err := lw.c.AcquireIO(lw.ctx, len(p)); err != nil {
		return 0, err
	}
	return lw.w.Write(p)
}
