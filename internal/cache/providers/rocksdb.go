package providers

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/linxGnu/grocksdb"
	"go.uber.org/zap"

	"ranking-cache-service/internal/config"
	"ranking-cache-service/internal/metrics"
)

// expiryHeaderLen — каждое значение хранится как 8 байт срока (UnixNano,
// big endian, 0 — бессрочно) + полезная нагрузка.
const expiryHeaderLen = 8

// RocksDB — локальный провайдер для данных, которые должны пережить рестарт
// без внешнего хранилища. Просроченные записи удаляются лениво при чтении и
// фоновым сборщиком (StartTTLCollector).
type RocksDB struct {
	db        *grocksdb.DB
	opts      *grocksdb.Options
	readOpts  *grocksdb.ReadOptions
	writeOpts *grocksdb.WriteOptions
}

func NewRocksDB(cfg config.RocksDB) (*RocksDB, error) {
	opts := grocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(cfg.CreateIfMissing)
	if cfg.MaxOpenFiles > 0 {
		opts.SetMaxOpenFiles(cfg.MaxOpenFiles)
	}
	if wb, _ := cfg.WriteBufferSizeBytes(); cfg.WriteBufferSize != "" && wb > 0 {
		opts.SetWriteBufferSize(wb)
	}

	if cfg.BlockCache != "" {
		if cacheBytes, _ := cfg.BlockCacheBytes(); cacheBytes > 0 {
			bbto := grocksdb.NewDefaultBlockBasedTableOptions()
			bbto.SetBlockCache(grocksdb.NewLRUCache(cacheBytes))
			if cfg.BlockSize != "" {
				if blockBytes, _ := cfg.BlockSizeBytes(); blockBytes > 0 {
					bbto.SetBlockSize(int(blockBytes))
				}
			}
			opts.SetBlockBasedTableFactory(bbto)
		}
	}

	db, err := grocksdb.OpenDb(opts, cfg.Path)
	if err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("open rocksdb %q: %w", cfg.Path, err)
	}

	zap.S().Infow("opened RocksDB", "name", cfg.Name, "path", cfg.Path)

	return &RocksDB{
		db:        db,
		opts:      opts,
		readOpts:  grocksdb.NewDefaultReadOptions(),
		writeOpts: grocksdb.NewDefaultWriteOptions(),
	}, nil
}

func encodeValue(value string, expiresAt int64) []byte {
	buf := make([]byte, expiryHeaderLen+len(value))
	binary.BigEndian.PutUint64(buf[:expiryHeaderLen], uint64(expiresAt))
	copy(buf[expiryHeaderLen:], value)
	return buf
}

// decodeValue returns the payload and whether it is still alive at now.
func decodeValue(raw []byte, now int64) (string, bool) {
	if len(raw) < expiryHeaderLen {
		return "", false
	}
	expiresAt := int64(binary.BigEndian.Uint64(raw[:expiryHeaderLen]))
	if expiresAt != 0 && now > expiresAt {
		return "", false
	}
	return string(raw[expiryHeaderLen:]), true
}

func (c *RocksDB) BatchGet(ctx context.Context, keys []string) (result map[string]string, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordProviderLatency("rocksdb", "get", time.Since(start).Seconds())
		metrics.RecordProviderOp("rocksdb", "get", err)
	}()

	result = make(map[string]string, len(keys))
	now := time.Now().UnixNano()
	expired := make([]string, 0)

	for i, key := range keys {
		if i%contextCheckInterval == 0 {
			if err = ctx.Err(); err != nil {
				return nil, err
			}
		}
		slice, getErr := c.db.Get(c.readOpts, []byte(key))
		if getErr != nil {
			err = fmt.Errorf("rocksdb get %q: %w", key, getErr)
			return nil, err
		}
		if slice.Exists() {
			if val, alive := decodeValue(slice.Data(), now); alive {
				result[key] = val
			} else {
				expired = append(expired, key)
			}
		}
		slice.Free()
	}

	if len(expired) > 0 {
		_ = c.BatchDelete(ctx, expired) // best-effort
	}
	return result, nil
}

func (c *RocksDB) BatchPut(ctx context.Context, items map[string]string, ttls map[string]time.Duration) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordProviderLatency("rocksdb", "put", time.Since(start).Seconds())
		metrics.RecordProviderOp("rocksdb", "put", err)
	}()

	if len(items) == 0 {
		return nil
	}

	batch := grocksdb.NewWriteBatch()
	defer batch.Destroy()

	now := time.Now()
	count := 0
	for key, val := range items {
		if count%contextCheckInterval == 0 {
			if err = ctx.Err(); err != nil {
				return err
			}
		}
		count++

		var expiresAt int64
		if ttl, ok := ttls[key]; ok && ttl > 0 {
			expiresAt = now.Add(ttl).UnixNano()
		}
		batch.Put([]byte(key), encodeValue(val, expiresAt))
	}

	if err = c.db.Write(c.writeOpts, batch); err != nil {
		return fmt.Errorf("rocksdb batch put: %w", err)
	}
	return nil
}

func (c *RocksDB) BatchDelete(ctx context.Context, keys []string) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordProviderLatency("rocksdb", "delete", time.Since(start).Seconds())
		metrics.RecordProviderOp("rocksdb", "delete", err)
	}()

	if len(keys) == 0 {
		return nil
	}

	batch := grocksdb.NewWriteBatch()
	defer batch.Destroy()

	for i, key := range keys {
		if i%contextCheckInterval == 0 {
			if err = ctx.Err(); err != nil {
				return err
			}
		}
		batch.Delete([]byte(key))
	}
	if err = c.db.Write(c.writeOpts, batch); err != nil {
		return fmt.Errorf("rocksdb batch delete: %w", err)
	}
	return nil
}

// StartTTLCollector периодически удаляет просроченные записи, до которых не
// добрались чтения. Останавливается отменой ctx.
func (c *RocksDB) StartTTLCollector(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := c.collectExpired(); err != nil {
					zap.S().Warnw("rocksdb ttl collector failed", "error", err)
				} else if n > 0 {
					zap.S().Debugw("rocksdb ttl collector removed keys", "count", n)
				}
			}
		}
	}()
}

func (c *RocksDB) collectExpired() (int, error) {
	now := time.Now().UnixNano()
	it := c.db.NewIterator(c.readOpts)
	defer it.Close()

	batch := grocksdb.NewWriteBatch()
	defer batch.Destroy()

	for it.SeekToFirst(); it.Valid(); it.Next() {
		key := it.Key()
		value := it.Value()
		if _, alive := decodeValue(value.Data(), now); !alive {
			batch.Delete(key.Data())
		}
		key.Free()
		value.Free()
	}
	if err := it.Err(); err != nil {
		return 0, err
	}

	n := batch.Count()
	if n == 0 {
		return 0, nil
	}
	return n, c.db.Write(c.writeOpts, batch)
}

func (c *RocksDB) Close() error {
	c.readOpts.Destroy()
	c.writeOpts.Destroy()
	c.db.Close()
	c.opts.Destroy()
	return nil
}

var _ CacheProvider = (*RocksDB)(nil)
