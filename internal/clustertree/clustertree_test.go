package clustertree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objcore/objcore/internal/alloc"
	"github.com/objcore/objcore/internal/leaf"
	"github.com/objcore/objcore/objerr"
	"github.com/objcore/objcore/objkey"
)

func testFactory() []leaf.Column {
	return []leaf.Column{leaf.NewMeta(), leaf.NewVals[int64](true)}
}

func newTestTree() (*Tree, *alloc.Allocator) {
	a := alloc.New()
	return New(a, testFactory), a
}

func TestInsertFind(t *testing.T) {
	tree, _ := newTestTree()
	ctx := context.Background()

	pos, err := tree.Insert(ctx, 5)
	require.NoError(t, err)
	tree.Leaf(pos, 1).(*leaf.Vals[int64]).Set(pos.Index, 50)

	got, ok := tree.Find(5)
	require.True(t, ok)
	v, _ := tree.Leaf(got, 1).(*leaf.Vals[int64]).Get(got.Index)
	assert.Equal(t, int64(50), v)
	assert.Equal(t, 1, tree.Size())

	_, ok = tree.Find(6)
	assert.False(t, ok)
}

func TestInsertDuplicate(t *testing.T) {
	tree, _ := newTestTree()
	ctx := context.Background()

	_, err := tree.Insert(ctx, 1)
	require.NoError(t, err)
	_, err = tree.Insert(ctx, 1)
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.Equal(t, 1, tree.Size())
}

func TestErase(t *testing.T) {
	tree, _ := newTestTree()
	ctx := context.Background()

	for k := int64(0); k < 10; k++ {
		_, err := tree.Insert(ctx, objkey.ObjKey(k))
		require.NoError(t, err)
	}
	require.NoError(t, tree.Erase(ctx, 3))
	assert.Equal(t, 9, tree.Size())
	_, ok := tree.Find(3)
	assert.False(t, ok)

	assert.ErrorIs(t, tree.Erase(ctx, 3), objerr.ErrKeyNotFound)
}

func TestSplitKeepsOrderAndValues(t *testing.T) {
	tree, _ := newTestTree()
	ctx := context.Background()

	const n = Fanout*2 + 10
	// Insert in reverse to exercise front insertion and first-key updates.
	for k := int64(n - 1); k >= 0; k-- {
		pos, err := tree.Insert(ctx, objkey.ObjKey(k))
		require.NoError(t, err)
		tree.Leaf(pos, 1).(*leaf.Vals[int64]).Set(pos.Index, k*2)
	}
	require.Equal(t, n, tree.Size())

	var visited []objkey.ObjKey
	tree.ForEach(func(key objkey.ObjKey, pos Pos) bool {
		v, _ := tree.Leaf(pos, 1).(*leaf.Vals[int64]).Get(pos.Index)
		require.Equal(t, int64(key)*2, v)
		visited = append(visited, key)
		return true
	})
	require.Len(t, visited, n)
	for i := 1; i < len(visited); i++ {
		assert.Less(t, visited[i-1], visited[i])
	}
}

func TestCopyOnWritePreservesFrozenSnapshot(t *testing.T) {
	a := alloc.New()
	tree := New(a, testFactory)
	ctx := context.Background()

	pos, err := tree.Insert(ctx, 1)
	require.NoError(t, err)
	tree.Leaf(pos, 1).(*leaf.Vals[int64]).Set(pos.Index, 10)

	a.Freeze()
	frozen := pos

	wpos, err := tree.MakeWritable(ctx, 1)
	require.NoError(t, err)
	assert.NotEqual(t, frozen.Cluster, wpos.Cluster)

	col, err := tree.LeafWritable(ctx, wpos, 1)
	require.NoError(t, err)
	col.(*leaf.Vals[int64]).Set(wpos.Index, 20)

	// The frozen cluster still reads the old value through its old ref.
	old, _ := tree.Leaf(frozen, 1).(*leaf.Vals[int64]).Get(frozen.Index)
	assert.Equal(t, int64(10), old)

	cur, ok := tree.Find(1)
	require.True(t, ok)
	v, _ := tree.Leaf(cur, 1).(*leaf.Vals[int64]).Get(cur.Index)
	assert.Equal(t, int64(20), v)
}

func TestAttachSharesState(t *testing.T) {
	a := alloc.New()
	tree := New(a, testFactory)
	ctx := context.Background()

	_, err := tree.Insert(ctx, 7)
	require.NoError(t, err)

	other := Attach(a, tree.Root(), testFactory)
	assert.Equal(t, 1, other.Size())
	_, ok := other.Find(7)
	assert.True(t, ok)
}

func TestEnsureSlotBackfillsRows(t *testing.T) {
	tree, _ := newTestTree()
	ctx := context.Background()

	for k := int64(0); k < 3; k++ {
		_, err := tree.Insert(ctx, objkey.ObjKey(k))
		require.NoError(t, err)
	}

	pos, err := tree.MakeWritable(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, tree.Leaf(pos, 2))

	col, err := tree.EnsureSlot(ctx, pos, 2, func() leaf.Column { return leaf.NewBacklinks() })
	require.NoError(t, err)
	assert.Equal(t, 3, col.Len())
}

func TestClear(t *testing.T) {
	tree, a := newTestTree()
	ctx := context.Background()

	for k := int64(0); k < 5; k++ {
		_, err := tree.Insert(ctx, objkey.ObjKey(k))
		require.NoError(t, err)
	}
	live := a.Stats().BlocksLive
	require.Greater(t, live, uint64(0))

	tree.Clear(ctx)
	assert.Equal(t, 0, tree.Size())
	assert.Equal(t, alloc.NullRef, tree.Root())
	assert.Less(t, a.Stats().BlocksLive, live)
}
