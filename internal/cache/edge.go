package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"ranking-cache-service/api/dto"
	"ranking-cache-service/internal/cache/providers"
)

const (
	memoRecordSep    = "|"
	memoLoadedMarker = "|loaded"

	maxBundleBytes = 64 << 20
)

// EdgeBundleStore — глобально реплицируемый бандл всех нетеговых снимков.
//
// Бандл хранится одной gzip-строкой JSON в edge-провайдере. Распакованные
// записи раскладываются в memo (ristretto) по одной на ключ вместе с маркером
// загрузки: пока маркер жив, отсутствие записи в memo — это промах без
// обращения к edge-хранилищу.
type EdgeBundleStore struct {
	edge    providers.CacheProvider
	memo    providers.CacheProvider // может быть nil
	mapper  *dto.KeyMapper
	memoTTL time.Duration
	loads   singleflight.Group
}

func NewEdgeBundleStore(edge, memo providers.CacheProvider, mapper *dto.KeyMapper, memoTTL time.Duration) *EdgeBundleStore {
	return &EdgeBundleStore{edge: edge, memo: memo, mapper: mapper, memoTTL: memoTTL}
}

// BuildBundle collects untagged full-ranking snapshots into a bundle.
// Snapshots that cannot be bundled are skipped.
func BuildBundle(mapper *dto.KeyMapper, snapshots []*dto.RankingSnapshot, now time.Time) *dto.EdgeBundle {
	bundle := &dto.EdgeBundle{GeneratedAt: now.UTC(), Snapshots: make(map[string]*dto.CacheRecord, len(snapshots))}
	for _, s := range snapshots {
		if s == nil || !s.Key().Bundled() || s.Source == dto.SourceFallbackFixture {
			continue
		}
		bundle.Snapshots[dto.NormalizeKey(s.Key()).String()] = mapper.ToRecord(s)
	}
	return bundle
}

// Publish compresses and stores the bundle, then drops the local memo so the
// next lookup sees the new content.
func (s *EdgeBundleStore) Publish(ctx context.Context, bundle *dto.EdgeBundle, ttl time.Duration) error {
	raw, err := encodeBundle(bundle)
	if err != nil {
		return err
	}
	bundleKey := s.mapper.BundleKey()
	err = s.edge.BatchPut(ctx, map[string]string{bundleKey: string(raw)}, map[string]time.Duration{bundleKey: ttl})
	if err != nil {
		return fmt.Errorf("publish bundle: %w", err)
	}
	if s.memo != nil {
		if err := s.memo.BatchDelete(ctx, []string{s.memoMarkerKey()}); err != nil {
			zap.S().Warnw("Не удалось сбросить memo бандла", "error", err)
		}
	}
	zap.S().Infow("Бандл опубликован", "snapshots", len(bundle.Snapshots), "bytes", len(raw))
	return nil
}

// Lookup returns the bundled snapshot for key with source distributed-cache.
// Tagged and paged keys are never bundled.
func (s *EdgeBundleStore) Lookup(ctx context.Context, key dto.CacheKey) (*dto.RankingSnapshot, bool, error) {
	key = dto.NormalizeKey(key)
	if !key.Bundled() {
		return nil, false, nil
	}

	record, err := s.record(ctx, key.String())
	if err != nil || record == nil {
		return nil, false, err
	}
	snapshot, err := s.mapper.FromRecord(key, record, dto.SourceDistributedCache)
	if err != nil {
		return nil, false, nil
	}
	return snapshot, true, nil
}

func (s *EdgeBundleStore) record(ctx context.Context, subKey string) (*dto.CacheRecord, error) {
	if s.memo == nil {
		bundle, err := s.fetch(ctx)
		if err != nil || bundle == nil {
			return nil, err
		}
		return bundle.Snapshots[subKey], nil
	}

	memoKey := s.memoRecordKey(subKey)
	values, err := s.memo.BatchGet(ctx, []string{memoKey, s.memoMarkerKey()})
	if err != nil {
		zap.S().Warnw("memo бандла недоступен", "error", err)
		values = map[string]string{}
	}
	if raw, ok := values[memoKey]; ok {
		return decodeRecord(raw)
	}
	if _, loaded := values[s.memoMarkerKey()]; loaded {
		return nil, nil
	}

	res, err, _ := s.loads.Do(s.mapper.BundleKey(), func() (any, error) {
		bundle, err := s.fetch(ctx)
		if err != nil {
			return nil, err
		}
		if bundle == nil {
			// пустой маркер: отсутствие бандла тоже кэшируется на memoTTL
			bundle = &dto.EdgeBundle{Snapshots: map[string]*dto.CacheRecord{}}
		}
		s.memoize(ctx, bundle)
		return bundle, nil
	})
	if err != nil {
		return nil, err
	}
	bundle, _ := res.(*dto.EdgeBundle)
	if bundle == nil {
		return nil, nil
	}
	return bundle.Snapshots[subKey], nil
}

func (s *EdgeBundleStore) fetch(ctx context.Context) (*dto.EdgeBundle, error) {
	bundleKey := s.mapper.BundleKey()
	values, err := s.edge.BatchGet(ctx, []string{bundleKey})
	if err != nil {
		return nil, err
	}
	raw, ok := values[bundleKey]
	if !ok {
		return nil, nil
	}
	bundle, err := decodeBundle([]byte(raw))
	if err != nil {
		zap.S().Warnw("Бандл не читается", "key", bundleKey, "error", err)
		return nil, nil
	}
	return bundle, nil
}

func (s *EdgeBundleStore) memoize(ctx context.Context, bundle *dto.EdgeBundle) {
	items := make(map[string]string, len(bundle.Snapshots)+1)
	ttls := make(map[string]time.Duration, len(bundle.Snapshots)+1)
	for subKey, record := range bundle.Snapshots {
		raw, err := json.Marshal(record)
		if err != nil {
			continue
		}
		items[s.memoRecordKey(subKey)] = string(raw)
		ttls[s.memoRecordKey(subKey)] = s.memoTTL
	}
	items[s.memoMarkerKey()] = bundle.GeneratedAt.Format(time.RFC3339Nano)
	ttls[s.memoMarkerKey()] = s.memoTTL

	if err := s.memo.BatchPut(ctx, items, ttls); err != nil {
		zap.S().Warnw("Не удалось сохранить бандл в memo", "error", err)
	}
}

func (s *EdgeBundleStore) memoRecordKey(subKey string) string {
	return s.mapper.BundleKey() + memoRecordSep + subKey
}

func (s *EdgeBundleStore) memoMarkerKey() string {
	return s.mapper.BundleKey() + memoLoadedMarker
}

func encodeBundle(bundle *dto.EdgeBundle) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(bundle); err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress bundle: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeBundle(raw []byte) (*dto.EdgeBundle, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer zr.Close()

	var bundle dto.EdgeBundle
	if err := json.NewDecoder(io.LimitReader(zr, maxBundleBytes)).Decode(&bundle); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	if bundle.Snapshots == nil {
		bundle.Snapshots = map[string]*dto.CacheRecord{}
	}
	return &bundle, nil
}

func decodeRecord(raw string) (*dto.CacheRecord, error) {
	var record dto.CacheRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, nil
	}
	return &record, nil
}
