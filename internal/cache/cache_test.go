package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	c, err := NewMemoryCache(Config{
		KeyPrefix:       "test",
		DefaultTTL:      2 * time.Second,
		CleanupInterval: time.Second,
	})
	require.NoError(t, err)

	t.Run("SetAndGet", func(t *testing.T) {
		require.NoError(t, c.Set("key1", "value1", 0))
		val, found, err := c.Get("key1")
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "value1", val)
	})

	t.Run("Missing", func(t *testing.T) {
		val, found, err := c.Get("missing")
		assert.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, val)
	})

	t.Run("Expiry", func(t *testing.T) {
		require.NoError(t, c.Set("soon", "v", 100*time.Millisecond))
		time.Sleep(300 * time.Millisecond)
		_, found, _ := c.Get("soon")
		assert.False(t, found)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, c.Set("gone", "v", 0))
		require.NoError(t, c.Delete("gone"))
		_, found, _ := c.Get("gone")
		assert.False(t, found)
	})

	t.Run("ClearOnlyPrefix", func(t *testing.T) {
		mc := c.(*MemoryCache)
		mc.cache.Set("other:key", "keep", 0)
		require.NoError(t, c.Set("key2", "v", 0))

		require.NoError(t, c.Clear())
		_, found, _ := c.Get("key2")
		assert.False(t, found)
		_, kept := mc.cache.Get("other:key")
		assert.True(t, kept)
	})
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := NewRedisCache(Config{
		RedisAddr:  mr.Addr(),
		KeyPrefix:  "qa",
		DefaultTTL: time.Minute,
	})
	require.NoError(t, err)

	t.Run("SetAndGet", func(t *testing.T) {
		require.NoError(t, c.Set("k", "v", 0))
		val, found, err := c.Get("k")
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "v", val)
		assert.True(t, mr.Exists("qa:k"))
		assert.Equal(t, time.Minute, mr.TTL("qa:k"))
	})

	t.Run("Expiry", func(t *testing.T) {
		require.NoError(t, c.Set("short", "v", time.Second))
		mr.FastForward(2 * time.Second)
		_, found, err := c.Get("short")
		assert.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, c.Set("d", "v", 0))
		require.NoError(t, c.Delete("d"))
		_, found, _ := c.Get("d")
		assert.False(t, found)
	})

	t.Run("ClearOnlyPrefix", func(t *testing.T) {
		require.NoError(t, mr.Set("foreign", "keep"))
		require.NoError(t, c.Set("a", "1", 0))
		require.NoError(t, c.Set("b", "2", 0))

		require.NoError(t, c.Clear())
		assert.False(t, mr.Exists("qa:a"))
		assert.False(t, mr.Exists("qa:b"))
		assert.True(t, mr.Exists("foreign"))
	})

	t.Run("Unreachable", func(t *testing.T) {
		_, err := NewRedisCache(Config{RedisAddr: "127.0.0.1:1"})
		assert.Error(t, err)
	})
}

func TestCacheFactory(t *testing.T) {
	mr := miniredis.RunT(t)

	memCache, err := NewCache(DefaultConfig())
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, memCache)

	redisCache, err := NewCache(Config{Type: "redis", RedisAddr: mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &RedisCache{}, redisCache)

	unknown, err := NewCache(Config{Type: "unknown-type"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, unknown)
}

func TestJSONHelpers(t *testing.T) {
	c, _ := NewMemoryCache(DefaultConfig())

	type answer struct {
		Text    string `json:"text"`
		Sources []int  `json:"sources"`
	}

	require.NoError(t, SetJSON(c, "a", answer{Text: "yes", Sources: []int{1, 2}}, 0))

	var got answer
	found, err := GetJSON(c, "a", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []int{1, 2}, got.Sources)

	require.NoError(t, c.Set("broken", "{not json", 0))
	found, err = GetJSON(c, "broken", &got)
	assert.NoError(t, err)
	assert.False(t, found)
	_, stillThere, _ := c.Get("broken")
	assert.False(t, stillThere)
}

func TestGenerateCacheKey(t *testing.T) {
	assert.Equal(t, "prefix", GenerateCacheKey("prefix"))
	assert.Equal(t, "prefix:part1", GenerateCacheKey("prefix", "part1"))
	assert.Equal(t, "prefix:a:b:c", GenerateCacheKey("prefix", "a", "b", "c"))

	h := HashKey("What is the termination clause?")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashKey("What is the termination clause?"))
	assert.NotEqual(t, h, HashKey("what is the termination clause?"))
}
