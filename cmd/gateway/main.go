package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"telegram-alerts-go/alert"

	"ranking-cache-service/internal/cache/providers"
	"ranking-cache-service/internal/config"
	"ranking-cache-service/internal/gateway"
	"ranking-cache-service/internal/httpserver"
	"ranking-cache-service/internal/logger"
	"ranking-cache-service/internal/metrics"
)

const (
	configFilePath  = "/configs/config.yml"
	shutdownTimeout = 15 * time.Second
)

func main() {
	configPath := flag.String("config", configFilePath, "path to config.yml")
	flag.Parse()

	appConfig, err := config.LoadAppConfig(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if appConfig.Gateway.Target == "" {
		log.Fatalf("gateway.target is required")
	}

	if _, err := logger.InitWith(appConfig.Logging); err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	counter, closeCounter, err := createCounter(ctx, appConfig)
	if err != nil {
		zap.S().Fatalw(alert.Prefix("gateway counter init failed"), "error", err)
	}
	defer closeCounter()

	gw, err := gateway.New(appConfig.Gateway, counter)
	if err != nil {
		zap.S().Fatalw(alert.Prefix("gateway init failed"), "error", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		listenServer(ctx, gw.Handler(), appConfig.Gateway.Listen)
	}()

	go func() {
		defer wg.Done()
		listenServer(ctx, httpserver.NewMetricRouter(), appConfig.Gateway.MetricsListen)
	}()

	wg.Wait()
	zap.S().Infow("gateway stopped")
}

// createCounter возвращает локальный счётчик или redis-провайдер,
// названный в gateway.counter.
func createCounter(ctx context.Context, appConfig *config.AppConfig) (gateway.Counter, func(), error) {
	cfg := appConfig.Gateway
	if cfg.Counter == "memory" {
		zap.S().Infow("gateway uses in-process counters", "capacity", cfg.CounterCapacity)
		return gateway.NewMemoryCounter(cfg.CounterCapacity, cfg.Window), func() {}, nil
	}

	providerCfg, ok := appConfig.Providers.ByName(cfg.Counter)
	if !ok {
		return nil, nil, errors.New("gateway counter provider not found: " + cfg.Counter)
	}
	p, err := providers.New(ctx, providerCfg)
	if err != nil {
		return nil, nil, err
	}
	counter, ok := p.(gateway.Counter)
	if !ok {
		_ = p.Close()
		return nil, nil, errors.New("provider cannot count requests: " + cfg.Counter)
	}
	zap.S().Infow("gateway uses shared counters", "provider", cfg.Counter)
	return counter, func() { _ = p.Close() }, nil
}

func listenServer(ctx context.Context, handler http.Handler, addr string) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.S().Warnw("gateway shutdown failed", "addr", addr, "error", err)
		}
	}()

	zap.S().Infow("starting gateway listener", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zap.S().Fatalw(alert.Prefix("gateway listener error"), "error", err)
	}
}
