package integration

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"ranking-cache-service/internal/config"
)

// CreateEnrichmentService собирает клиент индекса статистики из конфигурации.
// Возвращает nil, если обогащение выключено.
func CreateEnrichmentService(cfg config.EnrichmentConfig) Service {
	if !cfg.Enabled {
		return nil
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	fetcher := newHttpBatchFetcher(client, cfg.URL, cfg.UserAgent, cfg.Timeout)

	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	return NewIntegrationService(fetcher, cfg.BatchSize, rate.NewLimiter(limit, 1))
}
