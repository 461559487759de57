package providers

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ranking-cache-service/internal/config"
)

func setupTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	srv := miniredis.RunT(t)
	port, _ := strconv.Atoi(srv.Port())

	cfg := config.Redis{
		ProviderMeta: config.ProviderMeta{Name: "regional", Type: config.ProviderTypeRedis},
		Host:         srv.Host(),
		Port:         port,
		PoolSize:     5,
		Timeout:      time.Second,
	}

	r, err := NewRedis(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, srv
}

func TestRedis_BatchPut_And_BatchGet(t *testing.T) {
	r, srv := setupTestRedis(t)
	ctx := context.Background()

	err := r.BatchPut(ctx, map[string]string{
		"rk:all:24h":  "a",
		"rk:all:hour": "b",
	}, map[string]time.Duration{
		"rk:all:24h": 10 * time.Second,
	})
	require.NoError(t, err)

	result, err := r.BatchGet(ctx, []string{"rk:all:24h", "rk:all:hour", "rk:missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"rk:all:24h": "a", "rk:all:hour": "b"}, result)

	assert.Equal(t, 10*time.Second, srv.TTL("rk:all:24h"))
	assert.Equal(t, time.Duration(0), srv.TTL("rk:all:hour"))
}

func TestRedis_BatchGet_Empty(t *testing.T) {
	r, _ := setupTestRedis(t)
	result, err := r.BatchGet(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestRedis_BatchDelete_RemovesVersions(t *testing.T) {
	r, srv := setupTestRedis(t)
	ctx := context.Background()

	ok, err := r.PutIfNewer(ctx, "k", "v1", 10, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, r.BatchDelete(ctx, []string{"k"}))
	assert.False(t, srv.Exists("k"))
	assert.False(t, srv.Exists("k"+versionSuffix))

	// после удаления пишется даже более старая версия
	ok, err = r.PutIfNewer(ctx, "k", "v0", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedis_PutIfNewer(t *testing.T) {
	r, srv := setupTestRedis(t)
	ctx := context.Background()

	ok, err := r.PutIfNewer(ctx, "k", "new", 200, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.PutIfNewer(ctx, "k", "old", 100, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.PutIfNewer(ctx, "k", "same", 200, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := srv.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "new", got)
	assert.Equal(t, time.Hour, srv.TTL("k"))

	ok, err = r.PutIfNewer(ctx, "k", "newer", 300, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	got, _ = srv.Get("k")
	assert.Equal(t, "newer", got)
}

func TestRedis_Incr_FixedWindow(t *testing.T) {
	r, srv := setupTestRedis(t)
	ctx := context.Background()

	n, resetIn, err := r.Incr(ctx, "gw:1.2.3.4:api", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, time.Minute, resetIn)

	n, resetIn, err = r.Incr(ctx, "gw:1.2.3.4:api", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Greater(t, resetIn, time.Duration(0))

	srv.FastForward(time.Minute + time.Second)

	n, _, err = r.Incr(ctx, "gw:1.2.3.4:api", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestNewRedis_Unreachable(t *testing.T) {
	_, err := NewRedis(context.Background(), config.Redis{Host: "127.0.0.1", Port: 1, PoolSize: 1, Timeout: 100 * time.Millisecond})
	assert.Error(t, err)
}

func TestSplitKeysToChunks(t *testing.T) {
	assert.Empty(t, splitKeysToChunks(nil, 500))
	chunks := splitKeysToChunks([]string{"a", "b", "c"}, 2)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, chunks)
}
