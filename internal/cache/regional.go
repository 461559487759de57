package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ranking-cache-service/api/dto"
	"ranking-cache-service/internal/cache/providers"
)

// RegionalStore хранит по одной записи CacheRecord на ключ.
//
// Запись условная: снимок пишется, только если его updatedAt новее
// сохранённого. Провайдеры с ConditionalWriter (redis) делают это атомарно,
// для остальных сравнение выполняется под мьютексом процесса.
type RegionalStore struct {
	provider providers.CacheProvider
	mapper   *dto.KeyMapper
	mu       sync.Mutex
}

func NewRegionalStore(provider providers.CacheProvider, mapper *dto.KeyMapper) *RegionalStore {
	return &RegionalStore{provider: provider, mapper: mapper}
}

// Get returns the stored snapshot for key. A missing or unreadable record is
// a miss, not an error; err is reserved for provider failures.
func (s *RegionalStore) Get(ctx context.Context, key dto.CacheKey) (*dto.RankingSnapshot, bool, error) {
	record, err := s.load(ctx, s.mapper.StorageKey(key))
	if err != nil || record == nil {
		return nil, false, err
	}
	snapshot, err := s.mapper.FromRecord(key, record, dto.SourceRegionalCache)
	if err != nil {
		return nil, false, nil
	}
	return snapshot, true, nil
}

// Put writes snapshot with ttl unless a record with the same or a newer
// updatedAt is already stored. written reports whether the value was stored.
func (s *RegionalStore) Put(ctx context.Context, snapshot *dto.RankingSnapshot, ttl time.Duration) (written bool, err error) {
	storageKey := s.mapper.StorageKey(snapshot.Key())
	record := s.mapper.ToRecord(snapshot)
	raw, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("marshal record %q: %w", storageKey, err)
	}
	version := snapshot.UpdatedAt.UnixMilli()

	if cw, ok := s.provider.(providers.ConditionalWriter); ok {
		return cw.PutIfNewer(ctx, storageKey, string(raw), version, ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(ctx, storageKey)
	if err != nil {
		return false, err
	}
	if current != nil {
		if updatedAt, perr := dto.ParseUpdatedAt(current.UpdatedAt); perr == nil && updatedAt.UnixMilli() >= version {
			return false, nil
		}
	}

	err = s.provider.BatchPut(ctx, map[string]string{storageKey: string(raw)}, map[string]time.Duration{storageKey: ttl})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the records of keys.
func (s *RegionalStore) Delete(ctx context.Context, keys ...dto.CacheKey) error {
	return s.provider.BatchDelete(ctx, s.mapper.MapAllStorageKeys(keys))
}

func (s *RegionalStore) load(ctx context.Context, storageKey string) (*dto.CacheRecord, error) {
	values, err := s.provider.BatchGet(ctx, []string{storageKey})
	if err != nil {
		return nil, err
	}
	raw, ok := values[storageKey]
	if !ok {
		return nil, nil
	}
	var record dto.CacheRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		zap.S().Warnw("Повреждённая запись в региональном кэше", "key", storageKey, "error", err)
		return nil, nil
	}
	return &record, nil
}
