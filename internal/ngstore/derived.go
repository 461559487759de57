package ngstore

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"ranking-cache-service/api/dto"
)

type DerivedAppender interface {
	AppendDerived(ctx context.Context, ids []string) (*dto.NGList, error)
}

// Runner starts f in the background, waiting for a free slot if needed.
type Runner interface {
	Run(name string, f func(ctx context.Context))
}

// DerivedWriter копит производные id и записывает их одной фоновой задачей.
//
// Описание работы:
//   - Add кладёт новые id в очередь и никогда не ждёт записи;
//   - если задача записи не запущена, Add запускает её;
//   - задача пишет очередь пачками, пока она не опустеет, поэтому id,
//     пришедшие во время записи, уходят следующей пачкой;
//   - неудачная пачка возвращается в очередь и уходит со следующим Add.
type DerivedWriter struct {
	store  DerivedAppender
	runner Runner

	mu       sync.Mutex
	pending  []string
	queued   map[string]struct{}
	flushing bool
}

func NewDerivedWriter(store DerivedAppender, runner Runner) *DerivedWriter {
	return &DerivedWriter{store: store, runner: runner, queued: make(map[string]struct{})}
}

func (w *DerivedWriter) Add(ids []string) {
	w.mu.Lock()
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := w.queued[id]; ok {
			continue
		}
		w.queued[id] = struct{}{}
		w.pending = append(w.pending, id)
	}
	start := len(w.pending) > 0 && !w.flushing
	if start {
		w.flushing = true
	}
	w.mu.Unlock()

	if start {
		w.runner.Run("ng derived append", w.flush)
	}
}

func (w *DerivedWriter) flush(ctx context.Context) {
	for {
		w.mu.Lock()
		if len(w.pending) == 0 {
			w.flushing = false
			w.mu.Unlock()
			return
		}
		batch := w.pending
		w.pending = nil
		w.mu.Unlock()

		if _, err := w.store.AppendDerived(ctx, batch); err != nil {
			zap.S().Warnw("derived ids not persisted, kept for the next write", "count", len(batch), "error", err)
			w.mu.Lock()
			w.pending = append(batch, w.pending...)
			w.flushing = false
			w.mu.Unlock()
			return
		}

		w.mu.Lock()
		for _, id := range batch {
			delete(w.queued, id)
		}
		w.mu.Unlock()
	}
}
