package integration

import "ranking-cache-service/api/dto"

// Stats — статистика одного видео из индекса. nil означает «неизвестно».
type Stats struct {
	ID       string
	Views    *int64
	Comments *int64
	Mylists  *int64
	Likes    *int64
	Tags     []string
	AuthorID string
}

// Apply returns a copy of items where fields absent from an item are filled
// from stats. Present fields are never overwritten and items without stats
// are returned unchanged.
func Apply(items []dto.RankingItem, stats map[string]Stats) []dto.RankingItem {
	out := make([]dto.RankingItem, len(items))
	copy(out, items)
	if len(stats) == 0 {
		return out
	}

	for i := range out {
		s, ok := stats[out[i].ID]
		if !ok {
			continue
		}
		item := &out[i]
		if item.Views == 0 && s.Views != nil {
			item.Views = *s.Views
		}
		if item.Comments == nil {
			item.Comments = clonePtr(s.Comments)
		}
		if item.Mylists == nil {
			item.Mylists = clonePtr(s.Mylists)
		}
		if item.Likes == nil {
			item.Likes = clonePtr(s.Likes)
		}
		if len(item.Tags) == 0 && len(s.Tags) > 0 {
			item.Tags = append([]string(nil), s.Tags...)
		}
		if item.AuthorID == "" {
			item.AuthorID = s.AuthorID
		}
	}
	return out
}

// NeedsEnrichment reports whether any item lacks author and tag metadata.
func NeedsEnrichment(items []dto.RankingItem) bool {
	for i := range items {
		if !items[i].HasAuthorOrTags() {
			return true
		}
	}
	return false
}

func clonePtr(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
