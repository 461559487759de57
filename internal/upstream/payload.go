package upstream

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"ranking-cache-service/api/dto"
)

// The embedded payload is decoded into generic maps and read field by field:
// its shape changes without notice, so every access carries a default.

var (
	rankingItemsPath = []string{"data", "response", "$getTeibanRanking", "data", "items"}
	trendTagsPath    = []string{"data", "response", "$getTeibanRankingFeaturedKeyAndTrendTags", "data", "trendTags"}
)

const searchDepth = 8

type payload map[string]any

func decodePayload(raw string) (payload, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var p payload
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	return p, nil
}

// rankingItems returns the raw item list, first at its known location and
// then anywhere in the document under an "items" key.
func (p payload) rankingItems() ([]any, bool) {
	if items, ok := lookup(map[string]any(p), rankingItemsPath...).([]any); ok {
		return items, true
	}
	return findArray(map[string]any(p), "items", searchDepth)
}

func (p payload) trendTags() []string {
	if tags, ok := lookup(map[string]any(p), trendTagsPath...).([]any); ok {
		return toStrings(tags)
	}
	if tags, ok := findArray(map[string]any(p), "trendTags", searchDepth); ok {
		return toStrings(tags)
	}
	return []string{}
}

// itemFromPayload maps one raw entry. A malformed entry still yields an item
// with zero/empty fields; the rank is always the positional one.
func itemFromPayload(raw any, rank int) dto.RankingItem {
	m, _ := raw.(map[string]any)
	item := dto.RankingItem{
		Rank:  rank,
		ID:    asString(m["id"]),
		Title: asString(m["title"]),
	}

	thumb, _ := m["thumbnail"].(map[string]any)
	item.ThumbnailURL = firstNonEmpty(
		asString(thumb["listingUrl"]),
		asString(thumb["largeUrl"]),
		asString(thumb["middleUrl"]),
		asString(thumb["url"]),
	)

	count, _ := m["count"].(map[string]any)
	item.Views = asInt(count["view"])
	item.Comments = asOptInt(count["comment"])
	item.Mylists = asOptInt(count["mylist"])
	item.Likes = asOptInt(count["like"])

	owner, _ := m["owner"].(map[string]any)
	item.AuthorID = asString(owner["id"])
	item.AuthorName = asString(owner["name"])
	item.AuthorIcon = asString(owner["iconUrl"])

	if tags, ok := m["tags"].([]any); ok {
		item.Tags = toStrings(tags)
	}
	if ts := asString(m["registeredAt"]); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			item.RegisteredAt = &t
		}
	}
	item.Sensitive = asBool(m["requireSensitiveMasking"]) || asBool(m["isSensitive"])
	return item
}

func lookup(m map[string]any, path ...string) any {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[key]
	}
	return cur
}

func findArray(v any, key string, depth int) ([]any, bool) {
	if depth < 0 {
		return nil, false
	}
	switch t := v.(type) {
	case map[string]any:
		if arr, ok := t[key].([]any); ok {
			return arr, true
		}
		for _, child := range t {
			if arr, ok := findArray(child, key, depth-1); ok {
				return arr, true
			}
		}
	case []any:
		for _, child := range t {
			if arr, ok := findArray(child, key, depth-1); ok {
				return arr, true
			}
		}
	}
	return nil, false
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	}
	return ""
}

func asInt(v any) int64 {
	n, _ := parseInt(v)
	return n
}

func asOptInt(v any) *int64 {
	n, ok := parseInt(v)
	if !ok {
		return nil
	}
	return &n
}

func parseInt(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		if f, err := t.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(t), true
	case string:
		return parseCount(t)
	}
	return 0, false
}

// parseCount parses "1,234"-style counters.
func parseCount(s string) (int64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func toStrings(list []any) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s := asString(v); s != "" {
			out = append(out, s)
		} else if m, ok := v.(map[string]any); ok {
			// теги иногда приходят объектами {"name": "..."}
			if name := asString(m["name"]); name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
