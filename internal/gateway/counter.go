package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"ranking-cache-service/internal/cache/providers"
)

// Counter считает обращения в фиксированном окне.
// providers.Redis реализует его для счётчиков, общих для нескольких gateway.
type Counter = providers.WindowCounter

type windowState struct {
	start time.Time
	count int64
}

// MemoryCounter — локальные счётчики одного процесса. Число отслеживаемых
// клиентов ограничено capacity; вытесненный клиент начинает окно заново.
type MemoryCounter struct {
	mu      sync.Mutex
	windows *expirable.LRU[string, *windowState]
	now     func() time.Time
}

func NewMemoryCounter(capacity int, window time.Duration) *MemoryCounter {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &MemoryCounter{
		windows: expirable.NewLRU[string, *windowState](capacity, nil, window),
		now:     time.Now,
	}
}

func (m *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	st, ok := m.windows.Get(key)
	if !ok || !now.Before(st.start.Add(window)) {
		st = &windowState{start: now}
		m.windows.Add(key, st)
	}
	st.count++
	return st.count, st.start.Add(window).Sub(now), nil
}

var _ Counter = (*MemoryCounter)(nil)
