package cache

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ranking-cache-service/api/dto"
	"ranking-cache-service/internal/cache/providers"
	"ranking-cache-service/internal/config"
)

// memProvider is a map-backed provider without conditional writes.
type memProvider struct {
	mu    sync.Mutex
	data  map[string]string
	gets  int
	fail  error
	ttls  map[string]time.Duration
	puts  int
	close int
}

func newMemProvider() *memProvider {
	return &memProvider{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memProvider) BatchGet(_ context.Context, keys []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.fail != nil {
		return nil, m.fail
	}
	out := map[string]string{}
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memProvider) BatchPut(_ context.Context, items map[string]string, ttls map[string]time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	for k, v := range items {
		m.data[k] = v
		m.ttls[k] = ttls[k]
	}
	return nil
}

func (m *memProvider) BatchDelete(_ context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memProvider) Close() error {
	m.close++
	return nil
}

func (m *memProvider) getCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}

func newRedisProvider(t *testing.T) (*providers.Redis, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	port, _ := strconv.Atoi(srv.Port())
	r, err := providers.NewRedis(context.Background(), config.Redis{
		ProviderMeta: config.ProviderMeta{Name: "regional", Type: config.ProviderTypeRedis},
		Host:         srv.Host(),
		Port:         port,
		PoolSize:     4,
		Timeout:      time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, srv
}

func newMemo(t *testing.T) *providers.Ristretto {
	t.Helper()
	memo, err := providers.NewRistretto(config.Ristretto{
		ProviderMeta: config.ProviderMeta{Name: "memo", Type: config.ProviderTypeRistretto},
		NumCounters:  10000,
		BufferItems:  64,
		MaxCost:      "16MB",
		DefaultTTL:   time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = memo.Close() })
	return memo
}

func snapshot(genre string, period dto.Period, tag string, updatedAt time.Time, ids ...string) *dto.RankingSnapshot {
	items := make([]dto.RankingItem, 0, len(ids))
	for i, id := range ids {
		items = append(items, dto.RankingItem{Rank: i + 1, ID: id, Title: "t-" + id})
	}
	return &dto.RankingSnapshot{
		Genre: genre, Period: period, Tag: tag,
		Items: items, PopularTags: []string{"pop"},
		UpdatedAt: updatedAt, ScrapedAt: updatedAt,
		Source: dto.SourceLiveFetch,
	}
}

func TestRegionalStore_ConditionalRedis(t *testing.T) {
	r, srv := newRedisProvider(t)
	store := NewRegionalStore(r, dto.NewKeyMapper("rk"))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	written, err := store.Put(ctx, snapshot("all", dto.PeriodHour, "", now, "sm1"), time.Hour)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, time.Hour, srv.TTL("rk:all:hour"))

	written, err = store.Put(ctx, snapshot("all", dto.PeriodHour, "", now.Add(-time.Minute), "old"), time.Hour)
	require.NoError(t, err)
	assert.False(t, written, "older snapshot must not overwrite")

	got, ok, err := store.Get(ctx, dto.CacheKey{Genre: "all", Period: dto.PeriodHour})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, dto.SourceRegionalCache, got.Source)
	assert.Equal(t, "sm1", got.Items[0].ID)
	assert.True(t, got.UpdatedAt.Equal(now))

	written, err = store.Put(ctx, snapshot("all", dto.PeriodHour, "", now.Add(time.Minute), "sm2"), time.Hour)
	require.NoError(t, err)
	assert.True(t, written)
}

func TestRegionalStore_FallbackCompare(t *testing.T) {
	p := newMemProvider()
	store := NewRegionalStore(p, dto.NewKeyMapper("rk"))
	ctx := context.Background()
	now := time.Now().UTC()

	written, err := store.Put(ctx, snapshot("game", dto.Period24h, "ＲＴＡ", now, "sm1"), 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Contains(t, p.data, "rk:game:24h:RTA")
	assert.Equal(t, 24*time.Hour, p.ttls["rk:game:24h:RTA"])

	written, err = store.Put(ctx, snapshot("game", dto.Period24h, "RTA", now, "sm2"), 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, written, "same version is not newer")

	got, ok, err := store.Get(ctx, dto.CacheKey{Genre: "game", Period: dto.Period24h, Tag: "RTA"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sm1", got.Items[0].ID)
}

func TestRegionalStore_MissAndCorrupt(t *testing.T) {
	p := newMemProvider()
	store := NewRegionalStore(p, dto.NewKeyMapper("rk"))
	ctx := context.Background()

	_, ok, err := store.Get(ctx, dto.CacheKey{Genre: "all", Period: dto.Period24h})
	require.NoError(t, err)
	assert.False(t, ok)

	p.data["rk:all:24h"] = "{broken"
	_, ok, err = store.Get(ctx, dto.CacheKey{Genre: "all", Period: dto.Period24h})
	require.NoError(t, err)
	assert.False(t, ok)

	p.data["rk:all:24h"] = `{"items":[],"popularTags":[],"updatedAt":"yesterday"}`
	_, ok, err = store.Get(ctx, dto.CacheKey{Genre: "all", Period: dto.Period24h})
	require.NoError(t, err)
	assert.False(t, ok)

	p.fail = assert.AnError
	_, ok, err = store.Get(ctx, dto.CacheKey{Genre: "all", Period: dto.Period24h})
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestEdgeBundle_PublishAndLookup(t *testing.T) {
	edge, _ := newRedisProvider(t)
	mapper := dto.NewKeyMapper("rk")
	store := NewEdgeBundleStore(edge, newMemo(t), mapper, time.Minute)
	ctx := context.Background()
	now := time.Now().UTC()

	bundle := BuildBundle(mapper, []*dto.RankingSnapshot{
		snapshot("all", dto.Period24h, "", now, "sm1", "sm2"),
		snapshot("all", dto.Period24h, "tagged", now, "sm3"),
		nil,
	}, now)
	require.Len(t, bundle.Snapshots, 1)
	require.NoError(t, store.Publish(ctx, bundle, time.Hour))

	got, ok, err := store.Lookup(ctx, dto.CacheKey{Genre: "all", Period: dto.Period24h})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, dto.SourceDistributedCache, got.Source)
	assert.Len(t, got.Items, 2)

	_, ok, err = store.Lookup(ctx, dto.CacheKey{Genre: "all", Period: dto.PeriodHour})
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.Lookup(ctx, dto.CacheKey{Genre: "all", Period: dto.Period24h, Tag: "tagged"})
	require.NoError(t, err)
	assert.False(t, ok, "tagged keys are never bundled")
}

func TestEdgeBundle_MemoAvoidsEdgeReads(t *testing.T) {
	edge := newMemProvider()
	mapper := dto.NewKeyMapper("rk")
	store := NewEdgeBundleStore(edge, newMemo(t), mapper, time.Minute)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Publish(ctx, BuildBundle(mapper, []*dto.RankingSnapshot{
		snapshot("all", dto.Period24h, "", now, "sm1"),
	}, now), time.Hour))

	for i := 0; i < 5; i++ {
		_, ok, err := store.Lookup(ctx, dto.CacheKey{Genre: "all", Period: dto.Period24h})
		require.NoError(t, err)
		assert.True(t, ok)
		_, ok, err = store.Lookup(ctx, dto.CacheKey{Genre: "music", Period: dto.Period24h})
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, 1, edge.getCount())
}

func TestEdgeBundle_AbsentBundleWithoutMemo(t *testing.T) {
	edge := newMemProvider()
	store := NewEdgeBundleStore(edge, nil, dto.NewKeyMapper("rk"), time.Minute)

	_, ok, err := store.Lookup(context.Background(), dto.CacheKey{Genre: "all", Period: dto.Period24h})
	require.NoError(t, err)
	assert.False(t, ok)

	edge.data["rk:bundle"] = "not gzip"
	_, ok, err = store.Lookup(context.Background(), dto.CacheKey{Genre: "all", Period: dto.Period24h})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuildBundle_SkipsFixture(t *testing.T) {
	now := time.Now()
	fixture := snapshot("all", dto.Period24h, "", now, "sm1")
	fixture.Source = dto.SourceFallbackFixture

	bundle := BuildBundle(dto.NewKeyMapper("rk"), []*dto.RankingSnapshot{fixture}, now)
	assert.Empty(t, bundle.Snapshots)
}

func TestEncodeDecodeBundle(t *testing.T) {
	now := time.Now().UTC()
	raw, err := encodeBundle(BuildBundle(dto.NewKeyMapper("rk"), []*dto.RankingSnapshot{snapshot("all", dto.PeriodHour, "", now, "a")}, now))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1f, 0x8b}, raw[:2])

	bundle, err := decodeBundle(raw)
	require.NoError(t, err)
	assert.Contains(t, bundle.Snapshots, "all:hour")
}

func TestNewTiers(t *testing.T) {
	regional, ng, edge := newMemProvider(), newMemProvider(), newMemProvider()
	registry := providers.NewRegistry(map[string]providers.CacheProvider{
		"regional": regional, "ng": ng, "edge": edge,
	})
	cfg := &config.AppConfig{
		Tiers:    config.TiersConfig{Prefix: "rk", Regional: "regional", NG: "ng", Edge: "edge"},
		Resolver: config.ResolverConfig{BundleMemoTTL: time.Second},
	}

	tiers, err := NewTiers(registry, cfg)
	require.NoError(t, err)
	assert.NotNil(t, tiers.Regional)
	assert.NotNil(t, tiers.Edge)
	assert.Same(t, ng, tiers.NG.(*memProvider))

	require.NoError(t, tiers.Close())
	assert.Equal(t, 1, regional.close)

	cfg.Tiers.Regional = "missing"
	_, err = NewTiers(registry, cfg)
	assert.Error(t, err)
}
