// Package resolver отвечает снимком рейтинга, обходя уровни сверху вниз:
// edge-бандл, региональный кэш, живая загрузка, статический fixture.
//
//	┌──────────────┐
//	│ edge bundle  │  distributed-cache (только нетеговые полные рейтинги)
//	└─────┬────────┘
//	      ↓
//	┌──────────────┐
//	│ regional     │  regional-cache (+ фоновое обновление, если устарел)
//	└─────┬────────┘
//	      ↓
//	┌──────────────┐
//	│ live fetch   │  live-fetch (single-flight на ключ, write-through)
//	└─────┬────────┘
//	      ↓
//	┌──────────────┐
//	│ fixture      │  fallback-fixture + diagnostics
//	└──────────────┘
package resolver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"ranking-cache-service/api/dto"
	"ranking-cache-service/internal/config"
	"ranking-cache-service/internal/fixture"
	"ranking-cache-service/internal/integration"
	"ranking-cache-service/internal/metrics"
	"ranking-cache-service/internal/tracing"
	"ranking-cache-service/internal/upstream"
)

// EdgeTier is the read side of the edge bundle.
type EdgeTier interface {
	Lookup(ctx context.Context, key dto.CacheKey) (*dto.RankingSnapshot, bool, error)
}

// RegionalTier is the per-key store with conditional writes.
type RegionalTier interface {
	Get(ctx context.Context, key dto.CacheKey) (*dto.RankingSnapshot, bool, error)
	Put(ctx context.Context, snapshot *dto.RankingSnapshot, ttl time.Duration) (bool, error)
}

// Fetcher loads a ranking from the upstream.
type Fetcher interface {
	FetchKey(ctx context.Context, key dto.CacheKey) (*upstream.Page, error)
}

// Scheduler runs background work without blocking the caller. It returns
// false when the work was dropped.
type Scheduler interface {
	TryRun(name string, f func(ctx context.Context)) bool
}

type Resolver struct {
	edge      EdgeTier
	regional  RegionalTier
	fetcher   Fetcher
	enricher  integration.Service
	fixture   *fixture.Dataset
	scheduler Scheduler
	cfg       config.ResolverConfig

	group   singleflight.Group
	pending sync.Map // key -> struct{}: запланированные фоновые обновления
	now     func() time.Time
}

// Deps — зависимости Resolver; Edge, Enricher и Scheduler необязательны.
type Deps struct {
	Edge      EdgeTier
	Regional  RegionalTier
	Fetcher   Fetcher
	Enricher  integration.Service
	Fixture   *fixture.Dataset
	Scheduler Scheduler
}

func New(deps Deps, cfg config.ResolverConfig) *Resolver {
	if deps.Fixture == nil {
		deps.Fixture = fixture.MustEmbedded()
	}
	return &Resolver{
		edge:      deps.Edge,
		regional:  deps.Regional,
		fetcher:   deps.Fetcher,
		enricher:  deps.Enricher,
		fixture:   deps.Fixture,
		scheduler: deps.Scheduler,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Resolve never fails: when every tier misses and the live fetch errors, the
// fixture snapshot is returned with diagnostics attached.
func (r *Resolver) Resolve(ctx context.Context, key dto.CacheKey) *dto.RankingSnapshot {
	key = dto.NormalizeKey(key)
	ctx, span := tracing.Tracer().Start(ctx, "resolver.Resolve",
		trace.WithAttributes(attribute.String("ranking.key", key.String())))
	defer span.End()

	snapshot := r.resolve(ctx, key)

	span.SetAttributes(attribute.String("ranking.source", string(snapshot.Source)))
	if snapshot.Diagnostics != nil {
		span.SetStatus(codes.Error, snapshot.Diagnostics.Error)
	}
	metrics.RecordTierHit(string(snapshot.Source))
	return snapshot
}

func (r *Resolver) resolve(ctx context.Context, key dto.CacheKey) *dto.RankingSnapshot {
	if err := key.Validate(); err != nil {
		return r.fallback(key, err)
	}

	if r.edge != nil && key.Bundled() {
		snapshot, ok, err := r.edge.Lookup(ctx, key)
		if err != nil {
			zap.S().Warnw("edge tier unavailable", "key", key.String(), "error", err)
		} else if ok {
			return snapshot
		}
	}

	if r.regional != nil {
		snapshot, ok, err := r.regional.Get(ctx, key)
		if err != nil {
			zap.S().Warnw("regional tier unavailable", "key", key.String(), "error", err)
		} else if ok {
			if snapshot.Age(r.now()) > r.cfg.Policy(string(key.Period)).StaleAfter {
				r.scheduleRefresh(key)
			}
			return snapshot
		}
	}

	snapshot, err := r.load(ctx, key)
	if err != nil {
		return r.fallback(key, err)
	}
	return snapshot
}

// Refresh performs the live fetch and write-through for key. Concurrent
// calls and concurrent resolve misses for one key share a single fetch.
func (r *Resolver) Refresh(ctx context.Context, key dto.CacheKey) (*dto.RankingSnapshot, error) {
	key = dto.NormalizeKey(key)
	if err := key.Validate(); err != nil {
		return nil, err
	}
	ctx, span := tracing.Tracer().Start(ctx, "resolver.Refresh",
		trace.WithAttributes(attribute.String("ranking.key", key.String())))
	defer span.End()

	snapshot, err := r.load(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return snapshot, err
}

// load joins the in-flight fetch for key or starts one. The fetch is detached
// from the caller's cancellation so that one departing caller does not fail
// the others; it is bounded by FetchTimeout instead.
func (r *Resolver) load(ctx context.Context, key dto.CacheKey) (*dto.RankingSnapshot, error) {
	ch := r.group.DoChan(key.String(), func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		if r.cfg.FetchTimeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, r.cfg.FetchTimeout)
			defer cancel()
		}
		return r.liveFetch(fetchCtx, key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			metrics.RecordSingleflightShared()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		shared := *res.Val.(*dto.RankingSnapshot)
		return &shared, nil
	}
}

func (r *Resolver) liveFetch(ctx context.Context, key dto.CacheKey) (*dto.RankingSnapshot, error) {
	page, err := r.fetcher.FetchKey(ctx, key)
	if err != nil {
		return nil, err
	}

	items := page.Items
	if r.enricher != nil && integration.NeedsEnrichment(items) {
		ids := make([]string, 0, len(items))
		for _, it := range items {
			ids = append(ids, it.ID)
		}
		items = integration.Apply(items, r.enricher.BatchFetch(ctx, ids))
	}

	popular := page.PopularTags
	if key.Tag != "" || key.Page > 1 || popular == nil {
		popular = []string{}
	}

	now := r.now().UTC()
	snapshot := &dto.RankingSnapshot{
		Genre:       key.Genre,
		Period:      key.Period,
		Tag:         key.Tag,
		Page:        key.Page,
		Items:       items,
		PopularTags: popular,
		ScrapedAt:   now,
		UpdatedAt:   now,
		Source:      dto.SourceLiveFetch,
	}

	if len(items) == 0 {
		zap.S().Warnw("upstream returned an empty ranking, not caching", "key", key.String())
		return snapshot, nil
	}

	if r.regional != nil {
		ttl := r.cfg.Policy(string(key.Period)).TTL
		if _, err := r.regional.Put(ctx, snapshot, ttl); err != nil {
			zap.S().Warnw("write-through failed", "key", key.String(), "error", err)
		}
	}
	return snapshot, nil
}

func (r *Resolver) fallback(key dto.CacheKey, cause error) *dto.RankingSnapshot {
	kind := upstream.KindOf(cause)
	snapshot := r.fixture.Lookup(key)
	snapshot.Diagnostics = &dto.Diagnostics{
		ErrorKind:      kind,
		Error:          cause.Error(),
		FixtureVersion: r.fixture.Version(),
	}
	metrics.RecordFallback(string(kind))
	zap.S().Warnw("serving fixture", "key", key.String(), "kind", kind, "error", cause)
	return snapshot
}

// scheduleRefresh starts at most one background refresh per key.
func (r *Resolver) scheduleRefresh(key dto.CacheKey) {
	if r.scheduler == nil {
		return
	}
	id := key.String()
	if _, busy := r.pending.LoadOrStore(id, struct{}{}); busy {
		return
	}

	accepted := r.scheduler.TryRun(fmt.Sprintf("stale refresh %s", id), func(ctx context.Context) {
		defer r.pending.Delete(id)
		if _, err := r.Refresh(ctx, key); err != nil {
			metrics.RecordStaleRefresh("error")
			zap.S().Warnw("stale refresh failed", "key", id, "error", err)
			return
		}
		metrics.RecordStaleRefresh("success")
	})
	if !accepted {
		r.pending.Delete(id)
		metrics.RecordStaleRefresh("dropped")
	}
}
