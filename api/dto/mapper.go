package dto

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

const StorageKeySeparator = ":"

const (
	bundleKeySuffix = "bundle"
	ngKeySuffix     = "ng"
)

// KeyMapper переводит координаты рейтинга в ключи хранилищ и снимки в
// записи и обратно. Один и тот же ключ используется на всех уровнях.
type KeyMapper struct {
	prefix string
}

func NewKeyMapper(prefix string) *KeyMapper {
	return &KeyMapper{prefix: prefix}
}

// NormalizeKey trims the genre and folds the tag to NFKC so that full-width
// and half-width spellings of one tag share a cache entry.
func NormalizeKey(key CacheKey) CacheKey {
	key.Genre = strings.TrimSpace(key.Genre)
	key.Tag = NormalizeTag(key.Tag)
	return key
}

func NormalizeTag(tag string) string {
	return strings.TrimSpace(norm.NFKC.String(tag))
}

func (m *KeyMapper) StorageKey(key CacheKey) string {
	return m.prefix + StorageKeySeparator + NormalizeKey(key).String()
}

func (m *KeyMapper) MapAllStorageKeys(keys []CacheKey) []string {
	storageKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		storageKeys = append(storageKeys, m.StorageKey(key))
	}
	return storageKeys
}

func (m *KeyMapper) BundleKey() string {
	return m.prefix + StorageKeySeparator + bundleKeySuffix
}

func (m *KeyMapper) NGKey() string {
	return m.prefix + StorageKeySeparator + ngKeySuffix
}

func (m *KeyMapper) ToRecord(snapshot *RankingSnapshot) *CacheRecord {
	popular := snapshot.PopularTags
	if popular == nil {
		popular = []string{}
	}
	items := snapshot.Items
	if items == nil {
		items = []RankingItem{}
	}
	return &CacheRecord{
		Items:       items,
		PopularTags: popular,
		UpdatedAt:   snapshot.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// FromRecord restores a snapshot for key from a persisted record.
func (m *KeyMapper) FromRecord(key CacheKey, record *CacheRecord, source Source) (*RankingSnapshot, error) {
	if record == nil {
		return nil, fmt.Errorf("record for %q is nil", key.String())
	}
	updatedAt, err := ParseUpdatedAt(record.UpdatedAt)
	if err != nil {
		zap.S().Errorw("while map cache record", "key", key.String(), "updatedAt", record.UpdatedAt, "error", err)
		return nil, err
	}
	key = NormalizeKey(key)
	items := record.Items
	if items == nil {
		items = []RankingItem{}
	}
	popular := record.PopularTags
	if popular == nil {
		popular = []string{}
	}
	return &RankingSnapshot{
		Genre:       key.Genre,
		Period:      key.Period,
		Tag:         key.Tag,
		Page:        key.Page,
		Items:       items,
		PopularTags: popular,
		ScrapedAt:   updatedAt,
		UpdatedAt:   updatedAt,
		Source:      source,
	}, nil
}

func ParseUpdatedAt(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid updatedAt %q: %w", value, err)
	}
	return t, nil
}
