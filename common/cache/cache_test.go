package cache

import (
	"context"
	"testing"
	"time"

	"github.com/portfolio/showcase/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *MemoryCache {
	c := NewMemoryCache(logger.New("error", "json"))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestMemoryCacheNoExpiry(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Set(ctx, "k", []byte("video"), 0))

	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("video"), v)
	assert.Equal(t, int64(5), c.Stats()["bytes"])
}

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Set(ctx, "k", []byte("x"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheDeleteAndClose(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Set(ctx, "a", []byte("12"), 0))
	require.NoError(t, c.Delete(ctx, "a"))
	assert.Equal(t, int64(0), c.Stats()["bytes"])

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Set(ctx, "b", []byte("x"), 0), ErrClosed)
}
