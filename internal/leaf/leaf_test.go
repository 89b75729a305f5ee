package leaf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objcore/objcore/objkey"
)

func TestValsNullable(t *testing.T) {
	l := NewVals[int64](true)
	l.Insert(0)
	assert.True(t, l.IsNull(0))

	l.Set(0, 42)
	assert.False(t, l.IsNull(0))
	v, ok := l.Get(0)
	assert.True(t, ok)
	assert.Equal(t, int64(42), v)

	l.SetNull(0)
	assert.True(t, l.IsNull(0))
	_, ok = l.Get(0)
	assert.False(t, ok)
}

func TestValsInsertEraseKeepParallel(t *testing.T) {
	l := NewVals[string](false)
	l.Insert(0)
	l.Set(0, "b")
	l.Insert(0)
	l.Set(0, "a")
	l.Insert(2)
	l.Set(2, "c")

	require.Equal(t, 3, l.Len())
	for i, want := range []string{"a", "b", "c"} {
		v, _ := l.Get(i)
		assert.Equal(t, want, v)
	}

	l.Erase(1)
	require.Equal(t, 2, l.Len())
	v, _ := l.Get(1)
	assert.Equal(t, "c", v)
}

func TestValsCloneIsDeep(t *testing.T) {
	l := NewVals[int64](true)
	l.Insert(0)
	l.Set(0, 1)

	c := l.Clone().(*Vals[int64])
	c.Set(0, 2)
	v, _ := l.Get(0)
	assert.Equal(t, int64(1), v)
}

func TestLinksDefaultNull(t *testing.T) {
	l := NewLinks()
	l.Insert(0)
	assert.True(t, l.IsNull(0))
	assert.Equal(t, objkey.NullKey, l.Get(0))

	l.Set(0, 5)
	assert.False(t, l.IsNull(0))
}

func TestBacklinks(t *testing.T) {
	l := NewBacklinks()
	l.Insert(0)

	l.Add(0, 10)
	l.Add(0, 11)
	l.Add(0, 10)
	assert.Equal(t, 3, l.Count(0))

	found, last := l.RemoveOne(0, 10)
	assert.True(t, found)
	assert.False(t, last)
	assert.Equal(t, 2, l.Count(0))

	found, _ = l.RemoveOne(0, 99)
	assert.False(t, found)

	l.RemoveOne(0, 10)
	found, last = l.RemoveOne(0, 11)
	assert.True(t, found)
	assert.True(t, last)
}

func TestBacklinksCloneIsDeep(t *testing.T) {
	l := NewBacklinks()
	l.Insert(0)
	l.Add(0, 1)

	c := l.Clone().(*Backlinks)
	c.Add(0, 2)
	assert.Equal(t, 1, l.Count(0))
	assert.Equal(t, 2, c.Count(0))
}

func TestList(t *testing.T) {
	l := NewList[int64]()
	l.Insert(0, 2)
	l.Insert(0, 1)
	l.Insert(2, 3)

	require.Equal(t, 3, l.Len())
	assert.Equal(t, int64(1), l.Get(0))
	assert.Equal(t, int64(3), l.Get(2))

	l.Erase(1)
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, int64(3), l.Get(1))
}
