package session_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guarzo/authsession/common"
	"github.com/guarzo/authsession/modules/session"
)

func countingServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		fmt.Fprintf(w, `{"id":%d,"name":%q}`, n, r.URL.Query().Get("datasource"))
	}))
	t.Cleanup(ts.Close)
	return ts, &hits
}

func TestSession_ResponseCache(t *testing.T) {
	ts, hits := countingServer(t)
	s := newSession(t, ts.URL, session.WithResponseCache(common.NewCacheStore()))
	desc := session.Get[widget]("/status").WithQuery("datasource", "tranquility").Cached(time.Minute)

	first := session.Do(s, context.Background(), desc)
	require.NoError(t, first.Err)
	assert.False(t, first.Cached)

	second := session.Do(s, context.Background(), desc)
	require.NoError(t, second.Err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Value, second.Value)
	assert.EqualValues(t, 1, hits.Load())

	s.Invalidate(http.MethodGet, "/status", url.Values{"datasource": []string{"tranquility"}})
	third := session.Do(s, context.Background(), desc)
	require.NoError(t, third.Err)
	assert.False(t, third.Cached)
	assert.Equal(t, 2, third.Value.ID)
}

func TestSession_ResponseCacheSkipsUncachedDescriptors(t *testing.T) {
	ts, hits := countingServer(t)
	s := newSession(t, ts.URL, session.WithResponseCache(common.NewCacheStore()))

	for i := 0; i < 2; i++ {
		require.NoError(t, session.Do(s, context.Background(), session.Get[widget]("/status")).Err)
	}
	require.NoError(t, session.Do(s, context.Background(), session.Post[widget]("/status", nil).Cached(time.Minute)).Err)
	require.NoError(t, session.Do(s, context.Background(), session.Post[widget]("/status", nil).Cached(time.Minute)).Err)
	assert.EqualValues(t, 4, hits.Load())
}

func TestSession_ResponseCacheRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ts, hits := countingServer(t)
	s := newSession(t, ts.URL, session.WithResponseCache(common.NewRedisCache(client, "authsession:", nil)))
	desc := session.Get[widget]("/status").Cached(time.Minute)

	require.NoError(t, session.Do(s, context.Background(), desc).Err)
	resp := session.Do(s, context.Background(), desc)
	require.NoError(t, resp.Err)
	assert.True(t, resp.Cached)
	assert.EqualValues(t, 1, hits.Load())

	mr.FastForward(2 * time.Minute)
	resp = session.Do(s, context.Background(), desc)
	require.NoError(t, resp.Err)
	assert.False(t, resp.Cached)
	assert.EqualValues(t, 2, hits.Load())
}
