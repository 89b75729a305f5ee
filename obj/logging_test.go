package obj

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objcore/objcore/internal/alloc"
	"github.com/objcore/objcore/replication"
	"github.com/objcore/objcore/testutil"
)

func debugLogger(buf *bytes.Buffer) *Logger {
	return NewLogger(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestLifecycleLogging(t *testing.T) {
	fx := testutil.BuildLinkedFixture()
	var buf bytes.Buffer
	g := NewGroup(fx.Schema, alloc.New(), WithLogger(debugLogger(&buf)))
	parents, _ := g.Table(fx.Parent.Key())

	p, err := parents.CreateObject()
	require.NoError(t, err)
	_, err = p.CreateAndSetLinkedObject(fx.ChildLink)
	require.NoError(t, err)
	require.NoError(t, p.Remove())

	out := buf.String()
	assert.Contains(t, out, "object created")
	assert.Contains(t, out, "object removed")
	assert.Contains(t, out, "cascade completed")
	assert.Contains(t, out, "table=parent")
	assert.Contains(t, out, "removed=1")
}

type failingSink struct{}

func (failingSink) Emit(context.Context, replication.Instruction) error {
	return errors.New("sink down")
}

func TestEmitFailureLogging(t *testing.T) {
	fx := testutil.BuildLinkedFixture()
	var buf bytes.Buffer
	g := NewGroup(fx.Schema, alloc.New(), WithSink(failingSink{}), WithLogger(debugLogger(&buf)))
	parents, _ := g.Table(fx.Parent.Key())

	_, err := parents.CreateObject()
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, "replication emit failed")
	assert.Contains(t, out, "op=CreateObject")
	assert.Contains(t, out, "sink down")
}
