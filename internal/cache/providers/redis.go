package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"telegram-alerts-go/alert"

	"ranking-cache-service/internal/config"
	"ranking-cache-service/internal/metrics"
)

type Redis struct {
	rdb *redis.Client
}

const (
	chunkSize = 500

	// versionSuffix — ключ-спутник с версией значения для PutIfNewer.
	versionSuffix = "#v"
)

// putIfNewerScript пишет значение и версию, только если сохранённая версия
// отсутствует или строго меньше новой. KEYS[1] — данные, KEYS[2] — версия;
// ARGV: value, version, ttl в миллисекундах (0 — без срока).
var putIfNewerScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[2])
if cur and tonumber(cur) >= tonumber(ARGV[2]) then
  return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
  redis.call('SET', KEYS[2], ARGV[2], 'PX', ttl)
else
  redis.call('SET', KEYS[1], ARGV[1])
  redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

func NewRedis(ctx context.Context, cfg config.Redis) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
	}

	zap.S().Infow("connected to Redis", "name", cfg.Name, "host", cfg.Host, "port", cfg.Port)

	return &Redis{rdb: rdb}, nil
}

// BatchGet получает несколько значений, разбивая ключи на chunk'и.
func (c *Redis) BatchGet(ctx context.Context, keys []string) (result map[string]string, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordProviderLatency("redis", "get", time.Since(start).Seconds())
		metrics.RecordProviderOp("redis", "get", err)
	}()

	result = make(map[string]string, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	for _, chunk := range splitKeysToChunks(keys, chunkSize) {
		vals, err := c.rdb.MGet(ctx, chunk...).Result()
		if err != nil {
			return nil, fmt.Errorf("ошибка пакетного получения из Redis: %w", err)
		}
		for i, key := range chunk {
			if i >= len(vals) || vals[i] == nil {
				continue
			}
			if str, ok := vals[i].(string); ok {
				result[key] = str
			}
		}
	}
	return result, nil
}

// BatchPut сохраняет значения пайплайном; ttl <= 0 — без срока жизни.
func (c *Redis) BatchPut(ctx context.Context, items map[string]string, ttls map[string]time.Duration) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordProviderLatency("redis", "put", time.Since(start).Seconds())
		metrics.RecordProviderOp("redis", "put", err)
	}()

	if len(items) == 0 {
		return nil
	}

	for chunkIndex, chunk := range splitKeyValueToChunks(items, chunkSize) {
		pipe := c.rdb.Pipeline()
		for key, value := range chunk {
			var expiration time.Duration
			if ttl, ok := ttls[key]; ok && ttl > 0 {
				expiration = ttl
			}
			pipe.Set(ctx, key, value, expiration)
		}

		if _, err = pipe.Exec(ctx); err != nil {
			zap.S().Errorw(alert.Prefix("redis pipeline exec error"), "chunk", chunkIndex, "error", err)
			return fmt.Errorf("ошибка пакетного сохранения в Redis (chunk %d): %w", chunkIndex, err)
		}
	}
	return nil
}

// BatchDelete удаляет ключи вместе с их версиями.
func (c *Redis) BatchDelete(ctx context.Context, keys []string) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordProviderLatency("redis", "delete", time.Since(start).Seconds())
		metrics.RecordProviderOp("redis", "delete", err)
	}()

	if len(keys) == 0 {
		return nil
	}

	withVersions := make([]string, 0, len(keys)*2)
	for _, key := range keys {
		withVersions = append(withVersions, key, key+versionSuffix)
	}

	chunks := splitKeysToChunks(withVersions, chunkSize)
	for chunkIndex, chunk := range chunks {
		if _, err = c.rdb.Unlink(ctx, chunk...).Result(); err != nil {
			zap.S().Errorw(alert.Prefix("redis unlink error"), "chunk", chunkIndex+1, "total", len(chunks), "error", err)
			return fmt.Errorf("ошибка пакетного удаления из Redis (chunk %d/%d, keys: %d): %w",
				chunkIndex+1, len(chunks), len(chunk), err)
		}
	}
	return nil
}

// PutIfNewer атомарно (Lua) записывает value, если version новее сохранённой.
func (c *Redis) PutIfNewer(ctx context.Context, key, value string, version int64, ttl time.Duration) (written bool, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordProviderLatency("redis", "put_if_newer", time.Since(start).Seconds())
		metrics.RecordProviderOp("redis", "put_if_newer", err)
	}()

	res, err := putIfNewerScript.Run(ctx, c.rdb,
		[]string{key, key + versionSuffix},
		value, version, max(ttl.Milliseconds(), 0),
	).Int()
	if err != nil {
		return false, fmt.Errorf("ошибка условной записи в Redis (%s): %w", key, err)
	}
	return res == 1, nil
}

// Incr считает обращение в окне фиксированной длины. Окно открывается
// первым INCR; resetIn — сколько осталось до его закрытия.
func (c *Redis) Incr(ctx context.Context, key string, window time.Duration) (count int64, resetIn time.Duration, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordProviderLatency("redis", "incr", time.Since(start).Seconds())
		metrics.RecordProviderOp("redis", "incr", err)
	}()

	count, err = c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	if count == 1 {
		if err = c.rdb.PExpire(ctx, key, window).Err(); err != nil {
			return count, window, fmt.Errorf("redis pexpire %s: %w", key, err)
		}
		return count, window, nil
	}

	resetIn, err = c.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return count, window, fmt.Errorf("redis pttl %s: %w", key, err)
	}
	if resetIn <= 0 {
		// ключ пережил потерянный PEXPIRE — окно начинается заново
		if err = c.rdb.PExpire(ctx, key, window).Err(); err != nil {
			return count, window, fmt.Errorf("redis pexpire %s: %w", key, err)
		}
		resetIn = window
	}
	return count, resetIn, nil
}

func (c *Redis) Close() error {
	return c.rdb.Close()
}

var (
	_ CacheProvider     = (*Redis)(nil)
	_ ConditionalWriter = (*Redis)(nil)
	_ WindowCounter     = (*Redis)(nil)
)
