package strata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0, 2)

	v, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, c.Set(ctx, "stmt:a", []byte("A"), 0))
	require.NoError(t, c.Set(ctx, "stmt:b", []byte("B"), 0))
	v, err = c.Get(ctx, "stmt:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("A"), v)

	// stmt:b is the least recently used entry.
	require.NoError(t, c.Set(ctx, "other:c", []byte("C"), 0))
	v, _ = c.Get(ctx, "stmt:b")
	assert.Nil(t, v)
	assert.Equal(t, 2, c.Len())

	require.NoError(t, c.DeletePrefix(ctx, "stmt:"))
	assert.Equal(t, 1, c.Len())
	require.NoError(t, c.Delete(ctx, "other:c"))
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(0, 0)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	v, _ := c.Get(ctx, "k")
	assert.Equal(t, []byte("v"), v)

	now = now.Add(time.Minute)
	v, _ = c.Get(ctx, "k")
	assert.Nil(t, v)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheCopiesValue(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0, 0)
	b := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", b, 0))
	b[0] = 'x'
	v, _ := c.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), v)
	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Len())
}
