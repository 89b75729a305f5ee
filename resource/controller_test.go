package resource

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilControllerIsNoop(t *testing.T) {
	var c *Controller
	require.NoError(t, c.AcquireMemory(context.Background(), 100))
	c.ReleaseMemory(100)
	assert.Zero(t, c.MemoryUsed())
	require.NoError(t, c.AcquireIO(context.Background(), 100))
}

func TestMemoryAccounting(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 1000})
	ctx := context.Background()

	require.NoError(t, c.AcquireMemory(ctx, 600))
	assert.Equal(t, int64(600), c.MemoryUsed())

	// Exceeding the budget blocks until released or canceled.
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, c.AcquireMemory(short, 600))

	c.ReleaseMemory(600)
	require.NoError(t, c.AcquireMemory(ctx, 600))
	c.ReleaseMemory(600)
	assert.Zero(t, c.MemoryUsed())
}

func TestLimitWriterPassthrough(t *testing.T) {
	var buf bytes.Buffer
	c := NewController(Config{})
	w := c.LimitWriter(context.Background(), &buf)
	_, err := w.Write([]byte("data"))
	require.NoError(t, err)
	assert.Equal(t, "data", buf.String())
}

func TestLimitWriterThrottles(t *testing.T) {
	var buf bytes.Buffer
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})
	w := c.LimitWriter(context.Background(), &buf)
	_, err := w.Write([]byte("data"))
	require.NoError(t, err)
	assert.Equal(t, 4, buf.Len())
}
