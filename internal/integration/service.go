package integration

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MaxBatchSize — верхний предел id в одном запросе к индексу.
const MaxBatchSize = 100

// Service загружает статистику по списку id.
//
// Поведение:
//   - id делятся на пакеты не больше batchSize и отправляются последовательно.
//   - Между пакетами выдерживается пауза через rate.Limiter.
//   - Ошибка пакета завершает обход; накопленные результаты возвращаются.
//
// Метод никогда не возвращает ошибку.
type Service interface {
	BatchFetch(ctx context.Context, ids []string) map[string]Stats
}

type ServiceImpl struct {
	fetcher   batchFetcher
	batchSize int
	limiter   *rate.Limiter
}

func NewIntegrationService(fetcher batchFetcher, batchSize int, limiter *rate.Limiter) *ServiceImpl {
	if batchSize <= 0 || batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &ServiceImpl{fetcher: fetcher, batchSize: batchSize, limiter: limiter}
}

func (s *ServiceImpl) BatchFetch(ctx context.Context, ids []string) map[string]Stats {
	final := make(map[string]Stats)
	batches := s.split(unique(ids))

	for i, batch := range batches {
		if err := s.limiter.Wait(ctx); err != nil {
			zap.S().Warnw("Обогащение прервано", "batch", i, "collected", len(final), "error", err)
			return final
		}

		found, err := s.fetcher.GetBatch(ctx, batch)
		if err != nil {
			zap.S().Warnw("Ошибка пакета статистики, возвращаем накопленное",
				"batch", i, "batches", len(batches), "collected", len(final), "error", err)
			return final
		}
		for id, st := range found {
			final[id] = st
		}
	}
	return final
}

// split режет ids на пакеты по batchSize
func (s *ServiceImpl) split(ids []string) [][]string {
	batches := make([][]string, 0, (len(ids)+s.batchSize-1)/s.batchSize)
	for start := 0; start < len(ids); start += s.batchSize {
		end := min(start+s.batchSize, len(ids))
		batches = append(batches, ids[start:end])
	}
	return batches
}

func unique(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
