package alloc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type intBlock struct {
	v int
}

func (b *intBlock) CloneBlock() any { return &intBlock{v: b.v} }

func TestAllocGet(t *testing.T) {
	a := New()
	ctx := context.Background()

	ref, err := a.Alloc(ctx, &intBlock{v: 1}, 8)
	require.NoError(t, err)
	require.NotEqual(t, NullRef, ref)

	assert.Equal(t, 1, a.Get(ref).(*intBlock).v)
	assert.False(t, a.IsReadOnly(ref))
}

func TestStorageVersionAdvances(t *testing.T) {
	a := New()
	ctx := context.Background()

	v0 := a.StorageVersion()
	ref, err := a.Alloc(ctx, &intBlock{}, 8)
	require.NoError(t, err)
	assert.Greater(t, a.StorageVersion(), v0)

	v1 := a.StorageVersion()
	a.Free(ref)
	assert.Greater(t, a.StorageVersion(), v1)
}

func TestEnsureWritableCopiesFrozenBlocks(t *testing.T) {
	a := New()
	ctx := context.Background()

	ref, err := a.Alloc(ctx, &intBlock{v: 7}, 8)
	require.NoError(t, err)

	// Writable block: no copy.
	same, data, err := a.EnsureWritable(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, ref, same)
	assert.Equal(t, 7, data.(*intBlock).v)

	a.Freeze()
	assert.True(t, a.IsReadOnly(ref))

	dup, data, err := a.EnsureWritable(ctx, ref)
	require.NoError(t, err)
	assert.NotEqual(t, ref, dup)
	assert.False(t, a.IsReadOnly(dup))

	// The duplicate is independent; the frozen original is untouched.
	data.(*intBlock).v = 8
	assert.Equal(t, 7, a.Get(ref).(*intBlock).v)
	assert.Equal(t, 8, a.Get(dup).(*intBlock).v)

	assert.Equal(t, uint64(1), a.Stats().CopyOnWrites)
}

func TestContentVersion(t *testing.T) {
	a := New()
	v := a.ContentVersion()
	a.BumpContentVersion()
	assert.Equal(t, v+1, a.ContentVersion())
}

func TestDanglingRefPanics(t *testing.T) {
	a := New()
	assert.Panics(t, func() { a.Get(Ref(99)) })
}
