package common_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guarzo/authsession/common"
)

func exerciseCache(t *testing.T, cache common.CacheRepository) {
	t.Helper()

	cache.Set("foo", []byte("bar"), time.Hour)
	val, found := cache.Get("foo")
	require.True(t, found, "expected 'foo' to be in cache")
	assert.Equal(t, "bar", string(val))

	cache.Delete("foo")
	_, found = cache.Get("foo")
	assert.False(t, found, "expected 'foo' to be deleted")
}

func TestCacheStore(t *testing.T) {
	exerciseCache(t, common.NewCacheStore())
}

func TestCacheStore_Expiration(t *testing.T) {
	cache := common.NewCacheStore()
	cache.Set("short", []byte("lived"), time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	_, found := cache.Get("short")
	assert.False(t, found)
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	exerciseCache(t, common.NewRedisCache(client, "test:", nil))
}

func TestRedisCache_PrefixAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := common.NewRedisCache(client, "creds:", nil)
	cache.Set("primary", []byte("token"), time.Minute)

	assert.True(t, mr.Exists("creds:primary"))
	assert.Equal(t, time.Minute, mr.TTL("creds:primary"))

	mr.FastForward(2 * time.Minute)
	_, found := cache.Get("primary")
	assert.False(t, found)
}

func TestRedisCache_UnavailableIsMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	cache := common.NewRedisCache(client, "", nil)
	mr.Close()

	_, found := cache.Get("anything")
	assert.False(t, found)
}
