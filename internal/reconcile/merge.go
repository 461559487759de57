// Package reconcile склеивает страницы и фрагменты рейтинга в одну
// последовательность без дублей, упорядоченную по rank.
package reconcile

import (
	"sort"

	"ranking-cache-service/api/dto"
)

// Merge concatenates existing and incoming, drops every item whose id already
// appeared earlier in the combined sequence, and stable-sorts by rank.
// The first occurrence wins, so an item the client already shows is never
// replaced by a later duplicate with different content. Items without an id
// cannot be compared and are always kept. Inputs are not modified.
func Merge(existing, incoming []dto.RankingItem) []dto.RankingItem {
	merged := make([]dto.RankingItem, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))

	for _, list := range [][]dto.RankingItem{existing, incoming} {
		for _, item := range list {
			if item.ID == "" {
				merged = append(merged, item)
				continue
			}
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			merged = append(merged, item)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Rank < merged[j].Rank
	})
	return merged
}

// MergeAll folds pages left to right with Merge.
func MergeAll(pages ...[]dto.RankingItem) []dto.RankingItem {
	merged := make([]dto.RankingItem, 0)
	for _, page := range pages {
		merged = Merge(merged, page)
	}
	return merged
}
