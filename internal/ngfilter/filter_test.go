package ngfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ranking-cache-service/api/dto"
)

func sample() []dto.RankingItem {
	return []dto.RankingItem{
		{Rank: 1, ID: "sm1", Title: "Morning song", AuthorID: "u1", AuthorName: "Alice"},
		{Rank: 2, ID: "sm2", Title: "Spam compilation", AuthorID: "u2", AuthorName: "Bob"},
		{Rank: 3, ID: "sm3", Title: "Cooking", AuthorID: "u3", AuthorName: "Carol the Chef"},
		{Rank: 4, ID: "sm4", Title: "Evening song", AuthorID: "u1", AuthorName: "Alice"},
		{Rank: 5, ID: "sm5", Title: "Travel", AuthorID: "u5", AuthorName: "Dave"},
	}
}

func ranks(items []dto.RankingItem) []int {
	out := make([]int, 0, len(items))
	for _, it := range items {
		out = append(out, it.Rank)
	}
	return out
}

func TestFilter_NilAndEmptyListKeepEverything(t *testing.T) {
	items := sample()

	kept, derived := Filter(items, nil)
	assert.Equal(t, items, kept)
	assert.Empty(t, derived)

	kept, derived = Filter(items, &dto.NGList{})
	assert.Equal(t, items, kept)
	assert.Empty(t, derived)
}

func TestFilter_ManualRules(t *testing.T) {
	list := &dto.NGList{
		VideoIDs:    []string{"sm5"},
		VideoTitles: dto.TextRules{Partial: []string{"Spam"}},
	}

	kept, derived := Filter(sample(), list)

	assert.Equal(t, []int{1, 3, 4}, ranks(kept))
	assert.Empty(t, derived, "video and title rules never derive ids")
}

func TestFilter_TitleExactIsWholeString(t *testing.T) {
	list := &dto.NGList{VideoTitles: dto.TextRules{Exact: []string{"Cooking", "song"}}}

	kept, _ := Filter(sample(), list)

	assert.Equal(t, []int{1, 2, 4, 5}, ranks(kept))
}

func TestFilter_MatchingIsCaseSensitive(t *testing.T) {
	list := &dto.NGList{
		VideoTitles: dto.TextRules{Exact: []string{"cooking"}, Partial: []string{"SPAM"}},
		AuthorNames: dto.TextRules{Exact: []string{"Dave "}, Partial: []string{"chef"}},
	}

	kept, derived := Filter(sample(), list)

	assert.Len(t, kept, 5)
	assert.Empty(t, derived)
}

func TestFilter_FoldCaseAppliesToPartialRules(t *testing.T) {
	list := &dto.NGList{
		VideoTitles: dto.TextRules{Exact: []string{"cooking"}, Partial: []string{"SPAM"}},
		AuthorNames: dto.TextRules{Partial: []string{"chef"}},
	}

	res := Apply(sample(), list, FoldCase(true))

	assert.Equal(t, []int{1, 4, 5}, ranks(res.Items))
	assert.Equal(t, 1, res.Excluded[RuleTitlePartial])
	assert.Equal(t, 1, res.Excluded[RuleAuthorPartial])
	assert.Zero(t, res.Excluded[RuleTitleExact], "exact rules never fold case")
	assert.Equal(t, []string{"sm3"}, res.Derived)
}

func TestFilter_AuthorRulesDeriveIDs(t *testing.T) {
	list := &dto.NGList{
		AuthorIDs:   []string{"u1"},
		AuthorNames: dto.TextRules{Partial: []string{"Chef"}},
	}

	kept, derived := Filter(sample(), list)

	assert.Equal(t, []int{2, 5}, ranks(kept))
	assert.Equal(t, []string{"sm1", "sm3", "sm4"}, derived)
}

func TestFilter_AlreadyExcludedByIDNotDerived(t *testing.T) {
	list := &dto.NGList{
		VideoIDs:        []string{"sm1"},
		DerivedVideoIDs: []string{"sm4"},
		AuthorIDs:       []string{"u1"},
	}

	kept, derived := Filter(sample(), list)

	assert.Equal(t, []int{2, 3, 5}, ranks(kept))
	assert.Empty(t, derived)
}

func TestFilter_DerivedRoundTrip(t *testing.T) {
	list := &dto.NGList{AuthorNames: dto.TextRules{Exact: []string{"Alice"}}}

	_, derived := Filter(sample(), list)
	require.Equal(t, []string{"sm1", "sm4"}, derived)

	withDerived := WithDerived(list, derived)
	assert.Equal(t, []string{"sm1", "sm4"}, withDerived.DerivedVideoIDs)

	// the author rule is gone, derived ids still exclude the videos
	withoutRule := RemoveRules(withDerived, dto.NGRules{AuthorNames: dto.TextRules{Exact: []string{"Alice"}}})
	kept, again := Filter(sample(), withoutRule)
	assert.Equal(t, []int{2, 3, 5}, ranks(kept))
	assert.Empty(t, again)

	cleared := ClearDerived(withoutRule)
	kept, _ = Filter(sample(), cleared)
	assert.Len(t, kept, 5)
	assert.Equal(t, []string{"sm1", "sm4"}, withoutRule.DerivedVideoIDs, "inputs are not modified")
}

func TestFilter_Idempotent(t *testing.T) {
	list := &dto.NGList{
		VideoIDs:    []string{"sm2"},
		AuthorNames: dto.TextRules{Partial: []string{"Ali"}},
	}

	once, _ := Filter(sample(), list)
	twice, derived := Filter(once, list)

	assert.Equal(t, once, twice)
	assert.Empty(t, derived)
}

func TestFilter_PreservesOrderAndNeverGrows(t *testing.T) {
	items := sample()
	items[0], items[4] = items[4], items[0] // ranks out of order on purpose

	kept, _ := Filter(items, &dto.NGList{VideoIDs: []string{"sm3"}})

	assert.LessOrEqual(t, len(kept), len(items))
	assert.Equal(t, []int{5, 2, 4, 1}, ranks(kept))
}

func TestFilter_EmptyPartialIgnored(t *testing.T) {
	kept, _ := Filter(sample(), &dto.NGList{VideoTitles: dto.TextRules{Partial: []string{"", "  "}}})
	assert.Len(t, kept, 5)
}

func TestApply_CountsByRule(t *testing.T) {
	list := &dto.NGList{
		VideoIDs:    []string{"sm2"},
		AuthorIDs:   []string{"u1"},
		VideoTitles: dto.TextRules{Exact: []string{"Travel"}},
	}

	res := Apply(sample(), list)

	assert.Equal(t, 1, res.Excluded[RuleVideoID])
	assert.Equal(t, 2, res.Excluded[RuleAuthorID])
	assert.Equal(t, 1, res.Excluded[RuleTitleExact])
	assert.Equal(t, []int{3}, ranks(res.Items))
}
