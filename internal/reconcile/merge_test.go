package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ranking-cache-service/api/dto"
)

func items(ranks ...int) []dto.RankingItem {
	out := make([]dto.RankingItem, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, dto.RankingItem{Rank: r, ID: idFor(r)})
	}
	return out
}

func idFor(rank int) string {
	return "sm" + string(rune('a'+rank%26)) + string(rune('a'+rank/26%26)) + string(rune('a'+rank/676))
}

func ranksOf(list []dto.RankingItem) []int {
	out := make([]int, 0, len(list))
	for _, it := range list {
		out = append(out, it.Rank)
	}
	return out
}

func TestMerge_AppendsNextPage(t *testing.T) {
	merged := Merge(items(1, 3, 4), items(101, 102))
	assert.Equal(t, []int{1, 3, 4, 101, 102}, ranksOf(merged))
}

func TestMerge_WithEmptyIsSorted(t *testing.T) {
	merged := Merge(items(5, 2, 9), nil)
	assert.Equal(t, []int{2, 5, 9}, ranksOf(merged))

	merged = Merge(nil, nil)
	assert.NotNil(t, merged)
	assert.Empty(t, merged)
}

func TestMerge_FirstOccurrenceWins(t *testing.T) {
	existing := []dto.RankingItem{{Rank: 1, ID: "sm1", Title: "shown"}, {Rank: 2, ID: "sm2"}}
	incoming := []dto.RankingItem{{Rank: 1, ID: "sm1", Title: "refetched"}, {Rank: 3, ID: "sm3"}}

	merged := Merge(existing, incoming)

	assert.Len(t, merged, 3)
	assert.Equal(t, "shown", merged[0].Title)
	assert.Equal(t, []int{1, 2, 3}, ranksOf(merged))
}

func TestMerge_DuplicateInsideIncoming(t *testing.T) {
	incoming := []dto.RankingItem{{Rank: 4, ID: "a"}, {Rank: 5, ID: "a"}, {Rank: 6, ID: "b"}}
	merged := Merge(nil, incoming)
	assert.Equal(t, []int{4, 6}, ranksOf(merged))
}

func TestMerge_NoDuplicateIDsAndAscending(t *testing.T) {
	a := items(10, 1, 7, 3)
	b := append(items(3, 20), items(1)...)

	merged := Merge(a, b)

	ids := make(map[string]bool)
	for i, it := range merged {
		assert.False(t, ids[it.ID], "duplicate id %s", it.ID)
		ids[it.ID] = true
		if i > 0 {
			assert.LessOrEqual(t, merged[i-1].Rank, it.Rank)
		}
	}
	assert.Equal(t, []int{1, 3, 7, 10, 20}, ranksOf(merged))
}

func TestMerge_StableForEqualRanks(t *testing.T) {
	existing := []dto.RankingItem{{Rank: 1, ID: "x"}, {Rank: 1, ID: "y"}}
	merged := Merge(existing, []dto.RankingItem{{Rank: 1, ID: "z"}})
	assert.Equal(t, "x", merged[0].ID)
	assert.Equal(t, "y", merged[1].ID)
	assert.Equal(t, "z", merged[2].ID)
}

func TestMerge_DoesNotModifyInputs(t *testing.T) {
	a := items(3, 1)
	_ = Merge(a, items(2))
	assert.Equal(t, []int{3, 1}, ranksOf(a))
}

func TestMergeAll(t *testing.T) {
	merged := MergeAll(items(1, 2), items(2, 3), items(4))
	assert.Equal(t, []int{1, 2, 3, 4}, ranksOf(merged))
}

func TestMerge_KeepsItemsWithoutID(t *testing.T) {
	incoming := []dto.RankingItem{{Rank: 1, ID: "sm1"}, {Rank: 2}, {Rank: 3}, {Rank: 4}, {Rank: 5, ID: "sm5"}}

	merged := Merge([]dto.RankingItem{{Rank: 6}}, incoming)

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, ranksOf(merged))
}
