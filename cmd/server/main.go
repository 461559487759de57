package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"telegram-alerts-go/alert"

	"ranking-cache-service/internal/cache"
	"ranking-cache-service/internal/cache/providers"
	"ranking-cache-service/internal/config"
	"ranking-cache-service/internal/fixture"
	"ranking-cache-service/internal/httpserver"
	"ranking-cache-service/internal/integration"
	"ranking-cache-service/internal/logger"
	"ranking-cache-service/internal/manager"
	"ranking-cache-service/internal/metrics"
	"ranking-cache-service/internal/ngstore"
	"ranking-cache-service/internal/resolver"
	"ranking-cache-service/internal/tracing"
	"ranking-cache-service/internal/upstream"
)

const (
	configFilePath      = "/configs/config.yml"
	shutdownTimeout     = 15 * time.Second
	ttlCollectorPeriod  = 10 * time.Minute
	derivedWriteTimeout = 5 * time.Second
)

func main() {
	configPath := flag.String("config", configFilePath, "path to config.yml")
	flag.Parse()

	appConfig, err := config.LoadAppConfig(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if _, err := logger.InitWith(appConfig.Logging); err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(appConfig.Tracing)
	if err != nil {
		zap.S().Fatalw(alert.Prefix("tracing init failed"), "error", err)
	}

	tiers, err := cache.CreateTiers(ctx, appConfig)
	if err != nil {
		zap.S().Fatalw(alert.Prefix("cache tiers init failed"), "error", err)
	}
	startTTLCollectors(ctx, tiers.Registry, appConfig)

	dataset, err := loadFixture(appConfig.Fixture)
	if err != nil {
		zap.S().Fatalw(alert.Prefix("fixture load failed"), "error", err)
	}

	// стейл-обновления и запись производных NG-id
	refreshRunner := manager.NewAsyncRunner(appConfig.Resolver.MaxConcurrentRefreshes, appConfig.Resolver.RefreshTimeout)
	ngRunner := manager.NewAsyncRunner(1, derivedWriteTimeout)

	deps := resolver.Deps{
		Regional:  tiers.Regional,
		Fetcher:   upstream.NewFetcher(nil, appConfig.Upstream, nil),
		Fixture:   dataset,
		Scheduler: refreshRunner,
	}
	if tiers.Edge != nil {
		deps.Edge = tiers.Edge
	}
	if enricher := integration.CreateEnrichmentService(appConfig.Enrichment); enricher != nil {
		deps.Enricher = enricher
	}
	rankingResolver := resolver.New(deps, appConfig.Resolver)

	var publisher manager.BundlePublisher
	if tiers.Edge != nil {
		publisher = tiers.Edge
	}
	warmer := manager.NewWarmer(rankingResolver, publisher, tiers.Mapper, appConfig.Warmer,
		appConfig.Resolver.Policy("24h").TTL)
	if appConfig.Warmer.Enabled {
		warmer.Start(ctx)
	}

	ngStore := ngstore.New(tiers.NG, tiers.Mapper)
	routerApi := httpserver.NewRouter(httpserver.Deps{
		Resolver:   rankingResolver,
		NG:         ngStore,
		Derived:    ngstore.NewDerivedWriter(ngStore, ngRunner),
		NGFoldCase: appConfig.Server.NGFoldCase,
		Warmer:     warmer,
		AdminToken: appConfig.Server.AdminToken,
	})
	routerMetrics := httpserver.NewMetricRouter()

	// запуск двух HTTP-серверов параллельно (в отдельных горутинах),
	// и ожидание их завершения через sync.WaitGroup
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		listenServer(ctx, routerApi, appConfig.Server.APIPort)
	}()

	go func() {
		defer wg.Done()
		listenServer(ctx, routerMetrics, appConfig.Server.MetricsPort)
	}()

	wg.Wait()

	refreshRunner.Wait()
	ngRunner.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		zap.S().Warnw("tracing shutdown failed", "error", err)
	}
	if err := tiers.Close(); err != nil {
		zap.S().Warnw("closing providers failed", "error", err)
	}
	zap.S().Infow("server stopped")
}

func loadFixture(cfg config.FixtureConfig) (*fixture.Dataset, error) {
	if cfg.Path == "" {
		return fixture.MustEmbedded(), nil
	}
	return fixture.Load(cfg.Path)
}

// startTTLCollectors чистит просроченные записи rocksdb-провайдеров,
// у которых нет собственного истечения ключей.
func startTTLCollectors(ctx context.Context, registry *providers.Registry, appConfig *config.AppConfig) {
	for _, p := range appConfig.UsedProviders() {
		opened, ok := registry.Get(p.GetName())
		if !ok {
			continue
		}
		if rdb, ok := opened.(*providers.RocksDB); ok {
			rdb.StartTTLCollector(ctx, ttlCollectorPeriod)
		}
	}
}

func listenServer(ctx context.Context, router http.Handler, port int) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.S().Warnw("server shutdown failed", "addr", srv.Addr, "error", err)
		}
	}()

	zap.S().Infow("starting server", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zap.S().Fatalw(alert.Prefix("server error"), "error", err)
	}
}
