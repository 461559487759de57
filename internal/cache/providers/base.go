package providers

import (
	"context"
	"fmt"
	"time"

	"ranking-cache-service/internal/config"
)

// CacheProvider — общий интерфейс хранилищ: ключ → строка, пакетные операции.
type CacheProvider interface {
	BatchGet(ctx context.Context, keys []string) (map[string]string, error)
	BatchPut(ctx context.Context, items map[string]string, ttls map[string]time.Duration) error
	BatchDelete(ctx context.Context, keys []string) error

	Close() error
}

// ConditionalWriter is implemented by providers that can write a value only
// when its version is newer than the stored one, atomically.
type ConditionalWriter interface {
	PutIfNewer(ctx context.Context, key, value string, version int64, ttl time.Duration) (bool, error)
}

// WindowCounter is implemented by providers that can count hits in a fixed window.
type WindowCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, resetIn time.Duration, err error)
}

// New создаёт провайдер по его конфигурации.
func New(ctx context.Context, cfg config.Provider) (CacheProvider, error) {
	switch v := cfg.(type) {
	case *config.Ristretto:
		return NewRistretto(*v)
	case *config.Redis:
		return NewRedis(ctx, *v)
	case *config.RocksDB:
		return NewRocksDB(*v)
	default:
		return nil, fmt.Errorf("unsupported provider %q of type %T", cfg.GetName(), cfg)
	}
}

// Registry держит по одному открытому провайдеру на имя из конфигурации.
type Registry struct {
	byName map[string]CacheProvider
}

// OpenRegistry opens every provider config in order. On failure the already
// opened ones are closed.
func OpenRegistry(ctx context.Context, cfgs []config.Provider) (*Registry, error) {
	r := &Registry{byName: make(map[string]CacheProvider, len(cfgs))}
	for _, cfg := range cfgs {
		p, err := New(ctx, cfg)
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("open provider %q: %w", cfg.GetName(), err)
		}
		r.byName[cfg.GetName()] = p
	}
	return r, nil
}

func NewRegistry(byName map[string]CacheProvider) *Registry {
	return &Registry{byName: byName}
}

func (r *Registry) Get(name string) (CacheProvider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

func (r *Registry) Close() error {
	var firstErr error
	for name, p := range r.byName {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close provider %q: %w", name, err)
		}
	}
	return firstErr
}

func splitKeysToChunks(keys []string, size int) [][]string {
	if size <= 0 || size > len(keys) {
		size = max(len(keys), 1)
	}
	chunks := make([][]string, 0, (len(keys)+size-1)/size)
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		chunks = append(chunks, keys[start:end])
	}
	return chunks
}

func splitKeyValueToChunks(items map[string]string, size int) []map[string]string {
	chunks := make([]map[string]string, 0, 1)
	current := make(map[string]string, min(size, len(items)))
	for k, v := range items {
		current[k] = v
		if len(current) >= size {
			chunks = append(chunks, current)
			current = make(map[string]string, min(size, len(items)))
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}
