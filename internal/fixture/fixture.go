// Package fixture — статический версионированный набор рейтингов, которым
// отвечает resolver, когда все уровни и upstream недоступны.
package fixture

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"ranking-cache-service/api/dto"
)

//go:embed data/fixture.json
var embedded []byte

// pageSize matches the upstream page size used when slicing a single page.
const pageSize = 100

type document struct {
	Version     string                      `json:"version"`
	GeneratedAt time.Time                   `json:"generatedAt"`
	Snapshots   map[string]*dto.CacheRecord `json:"snapshots"`
}

// Dataset is immutable after load and safe for concurrent use.
type Dataset struct {
	version     string
	generatedAt time.Time
	snapshots   map[string]*dto.CacheRecord
}

// Load reads the dataset from path, or the embedded one when path is empty.
func Load(path string) (*Dataset, error) {
	data := embedded
	source := "embedded"
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read fixture %q: %w", path, err)
		}
		data, source = raw, path
	}

	ds, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", source, err)
	}
	zap.S().Infow("Fixture загружен", "source", source, "version", ds.version, "snapshots", len(ds.snapshots))
	return ds, nil
}

// MustEmbedded returns the embedded dataset; it panics only if the binary was
// built with a broken fixture file.
func MustEmbedded() *Dataset {
	ds, err := Parse(embedded)
	if err != nil {
		panic(err)
	}
	return ds
}

func Parse(data []byte) (*Dataset, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if doc.Version == "" {
		return nil, fmt.Errorf("version is required")
	}
	snapshots := make(map[string]*dto.CacheRecord, len(doc.Snapshots))
	for key, record := range doc.Snapshots {
		if record == nil {
			continue
		}
		snapshots[key] = record
	}
	return &Dataset{version: doc.Version, generatedAt: doc.GeneratedAt, snapshots: snapshots}, nil
}

func (d *Dataset) Version() string { return d.version }

// Lookup never returns nil. It tries the exact key, then the untagged ranking
// of the same genre, then the "all" genre of the same period; otherwise the
// snapshot is empty. Page > 0 slices the chosen ranking.
func (d *Dataset) Lookup(key dto.CacheKey) *dto.RankingSnapshot {
	key = dto.NormalizeKey(key)

	record := d.find(key)
	items := []dto.RankingItem{}
	popular := []string{}
	if record != nil {
		items = append(items, record.Items...)
		if key.Tag == "" && key.Page <= 1 && record.PopularTags != nil {
			popular = append(popular, record.PopularTags...)
		}
	}
	if key.Page > 0 {
		items = pageOf(items, key.Page)
	}

	return &dto.RankingSnapshot{
		Genre:       key.Genre,
		Period:      key.Period,
		Tag:         key.Tag,
		Page:        key.Page,
		Items:       items,
		PopularTags: popular,
		ScrapedAt:   d.generatedAt,
		UpdatedAt:   d.generatedAt,
		Source:      dto.SourceFallbackFixture,
	}
}

func (d *Dataset) find(key dto.CacheKey) *dto.CacheRecord {
	candidates := []dto.CacheKey{
		{Genre: key.Genre, Period: key.Period, Tag: key.Tag},
		{Genre: key.Genre, Period: key.Period},
		{Genre: "all", Period: key.Period},
	}
	for _, c := range candidates {
		if r, ok := d.snapshots[c.String()]; ok {
			return r
		}
	}
	return nil
}

// Keys lists the dataset keys in order.
func (d *Dataset) Keys() []string {
	keys := make([]string, 0, len(d.snapshots))
	for k := range d.snapshots {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func pageOf(items []dto.RankingItem, page int) []dto.RankingItem {
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []dto.RankingItem{}
	}
	end := min(start+pageSize, len(items))
	return items[start:end]
}
