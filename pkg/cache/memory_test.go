package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMemoryCacheTypedRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "k", []entry{{"a", 1}, {"b", 2}}, time.Minute))

	var got []entry
	require.NoError(t, mc.Get(ctx, "k", &got))
	assert.Equal(t, []entry{{"a", 1}, {"b", 2}}, got)

	var s string
	require.NoError(t, mc.Set(ctx, "raw", "plain", 0))
	require.NoError(t, mc.Get(ctx, "raw", &s))
	assert.Equal(t, "plain", s)

	assert.ErrorIs(t, mc.Get(ctx, "missing", &got), ErrCacheMiss)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "k", 1, 10*time.Millisecond))
	ok, _ := mc.Exists(ctx, "k")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	var v int
	assert.ErrorIs(t, mc.Get(ctx, "k", &v), ErrCacheMiss)
}

func TestMemoryCacheCleanupSweepsExpired(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryCleanup(5 * time.Millisecond))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "short", 1, time.Millisecond))
	require.NoError(t, mc.Set(ctx, "long", 2, time.Hour))

	assert.Eventually(t, func() bool {
		mc.mutex.RLock()
		defer mc.mutex.RUnlock()
		_, short := mc.data["short"]
		_, long := mc.data["long"]
		return !short && long
	}, time.Second, 5*time.Millisecond, "expired entry stays resident without a read")
}

func TestMemoryCacheDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	for _, k := range []string{"history:p1:2024-01-01:-", "history:p1:-:-", "history:p2:-:-"} {
		require.NoError(t, mc.Set(ctx, k, k, time.Minute))
	}

	require.NoError(t, mc.DeleteByPattern(ctx, BuildPattern(GenerateKey("history", "p1")+":")))
	assert.Equal(t, 1, mc.Len())
	ok, _ := mc.Exists(ctx, "history:p2:-:-")
	assert.True(t, ok)

	assert.Error(t, mc.DeleteByPattern(ctx, "[bad"))
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "a", 1, time.Minute))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", 2, time.Minute))
	time.Sleep(time.Millisecond)

	var v int
	require.NoError(t, mc.Get(ctx, "a", &v))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "c", 3, time.Minute))

	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "b", &v), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "a", &v))
}

func TestGenerateKeyWithParams(t *testing.T) {
	assert.Equal(t, "history:p1:2024-01-01:-", GenerateKeyWithParams("history", "p1", "2024-01-01", "-"))
}
