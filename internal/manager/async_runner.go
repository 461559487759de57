package manager

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"telegram-alerts-go/alert"
)

const defaultTimeout = 5 * time.Second

// AsyncRunner — ограниченный исполнитель фоновых задач.
// Одновременно выполняется не больше cap(tokens) задач; каждая получает
// собственный контекст с тайм-аутом, паника в задаче логируется и гасится.
type AsyncRunner struct {
	tokens  chan struct{}
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsyncRunner создаёт раннер с явными или дефолтными лимитами.
func NewAsyncRunner(maxConcurrent int, timeout time.Duration) *AsyncRunner {
	if maxConcurrent <= 0 {
		zap.S().Warnf("maxConcurrent ≤ 0 set %d", 1)
		maxConcurrent = 1
	}
	if timeout <= 0 {
		zap.S().Warnf("async timeout ≤ 0 set %s", defaultTimeout)
		timeout = defaultTimeout
	}
	return &AsyncRunner{tokens: make(chan struct{}, maxConcurrent), timeout: timeout}
}

// TryRun starts f unless every slot is busy; it never blocks.
func (a *AsyncRunner) TryRun(name string, f func(ctx context.Context)) bool {
	select {
	case a.tokens <- struct{}{}:
	default:
		zap.S().Warnw("async dropped, runner is full", "name", name)
		return false
	}
	a.start(name, f)
	return true
}

// Run waits for a free slot and starts f.
func (a *AsyncRunner) Run(name string, f func(ctx context.Context)) {
	a.tokens <- struct{}{}
	a.start(name, f)
}

// Wait blocks until every started task has returned.
func (a *AsyncRunner) Wait() {
	a.wg.Wait()
}

func (a *AsyncRunner) start(name string, f func(ctx context.Context)) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		/* освобождаем токен при выходе */
		defer func() { <-a.tokens }()

		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				zap.S().Errorf(alert.Prefix("async panic in %s: %v"), name, r)
			}
		}()

		zap.S().Debugw("async started", "name", name)
		f(ctx)
		zap.S().Debugw("async finished", "name", name)
	}()
}
