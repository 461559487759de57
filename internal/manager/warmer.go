package manager

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"telegram-alerts-go/alert"

	"ranking-cache-service/api/dto"
	"ranking-cache-service/internal/cache"
	"ranking-cache-service/internal/config"
)

// Refresher выполняет живую загрузку и запись ключа.
type Refresher interface {
	Refresh(ctx context.Context, key dto.CacheKey) (*dto.RankingSnapshot, error)
}

// BundlePublisher публикует edge-бандл.
type BundlePublisher interface {
	Publish(ctx context.Context, bundle *dto.EdgeBundle, ttl time.Duration) error
}

// Warmer периодически обновляет все сконфигурированные ключи и собирает из
// нетеговых снимков новый edge-бандл.
//
// Поведение:
//   - Ключи: genres × periods плюс теговые пары из конфигурации.
//   - Не более cfg.Concurrency обновлений одновременно (errgroup.SetLimit).
//   - Ошибка одного ключа не прерывает проход.
//   - Бандл публикуется, только если обновился хотя бы один нетеговый ключ.
type Warmer struct {
	refresher Refresher
	publisher BundlePublisher // может быть nil
	mapper    *dto.KeyMapper
	cfg       config.WarmerConfig
	bundleTTL time.Duration
}

// WarmReport — итог одного прохода.
type WarmReport struct {
	Refreshed int
	Failed    int
	Bundled   int
}

func NewWarmer(refresher Refresher, publisher BundlePublisher, mapper *dto.KeyMapper, cfg config.WarmerConfig, bundleTTL time.Duration) *Warmer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Warmer{refresher: refresher, publisher: publisher, mapper: mapper, cfg: cfg, bundleTTL: bundleTTL}
}

// Keys returns the keys one pass refreshes, without duplicates.
func (w *Warmer) Keys() []dto.CacheKey {
	keys := make([]dto.CacheKey, 0, len(w.cfg.Genres)*len(w.cfg.Periods)+len(w.cfg.Tags)*len(w.cfg.Periods))
	seen := make(map[string]struct{})
	add := func(k dto.CacheKey) {
		k = dto.NormalizeKey(k)
		if k.Validate() != nil {
			return
		}
		if _, dup := seen[k.String()]; dup {
			return
		}
		seen[k.String()] = struct{}{}
		keys = append(keys, k)
	}

	for _, period := range w.cfg.Periods {
		for _, genre := range w.cfg.Genres {
			add(dto.CacheKey{Genre: genre, Period: dto.Period(period)})
		}
		for _, t := range w.cfg.Tags {
			add(dto.CacheKey{Genre: t.Genre, Period: dto.Period(period), Tag: t.Tag})
		}
	}
	return keys
}

// WarmOnce refreshes every key and publishes the bundle.
func (w *Warmer) WarmOnce(ctx context.Context) (WarmReport, error) {
	var (
		mu        sync.Mutex
		report    WarmReport
		snapshots []*dto.RankingSnapshot
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)

	for _, key := range w.Keys() {
		g.Go(func() error {
			snapshot, err := w.refresher.Refresh(gctx, key)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				zap.S().Warnw("warm refresh failed", "key", key.String(), "error", err)
				return nil
			}
			report.Refreshed++
			if key.Bundled() && len(snapshot.Items) > 0 {
				snapshots = append(snapshots, snapshot)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}

	if w.publisher != nil && len(snapshots) > 0 {
		bundle := cache.BuildBundle(w.mapper, snapshots, time.Now())
		if err := w.publisher.Publish(ctx, bundle, w.bundleTTL); err != nil {
			zap.S().Errorw(alert.Prefix("Ошибка публикации бандла"), "error", err)
			return report, err
		}
		report.Bundled = len(bundle.Snapshots)
	}

	zap.S().Infow("warm pass finished", "refreshed", report.Refreshed, "failed", report.Failed, "bundled", report.Bundled)
	return report, nil
}

// Start runs a pass immediately and then every cfg.Interval until ctx is done.
func (w *Warmer) Start(ctx context.Context) {
	interval := w.cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if _, err := w.WarmOnce(ctx); err != nil && ctx.Err() == nil {
				zap.S().Warnw("warm pass error", "error", err)
			}
			select {
			case <-ctx.Done():
				zap.S().Infow("warmer stopped")
				return
			case <-ticker.C:
			}
		}
	}()
}
