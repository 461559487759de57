package ngfilter

import (
	"strings"

	"ranking-cache-service/api/dto"
)

// WithDerived returns a copy of list whose derived set also contains ids.
// Existing order is kept and duplicates are skipped.
func WithDerived(list *dto.NGList, ids []string) *dto.NGList {
	out := Clone(list)
	out.DerivedVideoIDs = union(out.DerivedVideoIDs, ids)
	return out
}

// ClearDerived returns a copy of list with an empty derived set; manual rules
// are untouched.
func ClearDerived(list *dto.NGList) *dto.NGList {
	out := Clone(list)
	out.DerivedVideoIDs = []string{}
	return out
}

// AddRules returns a copy of list extended with the manual rules in patch.
func AddRules(list *dto.NGList, patch dto.NGRules) *dto.NGList {
	out := Clone(list)
	out.VideoIDs = union(out.VideoIDs, patch.VideoIDs)
	out.AuthorIDs = union(out.AuthorIDs, patch.AuthorIDs)
	out.VideoTitles.Exact = union(out.VideoTitles.Exact, patch.VideoTitles.Exact)
	out.VideoTitles.Partial = union(out.VideoTitles.Partial, patch.VideoTitles.Partial)
	out.AuthorNames.Exact = union(out.AuthorNames.Exact, patch.AuthorNames.Exact)
	out.AuthorNames.Partial = union(out.AuthorNames.Partial, patch.AuthorNames.Partial)
	return out
}

// RemoveRules returns a copy of list without the manual rules in patch.
// The derived set is untouched.
func RemoveRules(list *dto.NGList, patch dto.NGRules) *dto.NGList {
	out := Clone(list)
	out.VideoIDs = subtract(out.VideoIDs, patch.VideoIDs)
	out.AuthorIDs = subtract(out.AuthorIDs, patch.AuthorIDs)
	out.VideoTitles.Exact = subtract(out.VideoTitles.Exact, patch.VideoTitles.Exact)
	out.VideoTitles.Partial = subtract(out.VideoTitles.Partial, patch.VideoTitles.Partial)
	out.AuthorNames.Exact = subtract(out.AuthorNames.Exact, patch.AuthorNames.Exact)
	out.AuthorNames.Partial = subtract(out.AuthorNames.Partial, patch.AuthorNames.Partial)
	return out
}

// ReplaceRules returns a list with the manual rules of patch and the derived
// set of list.
func ReplaceRules(list *dto.NGList, patch dto.NGRules) *dto.NGList {
	derived := Clone(list).DerivedVideoIDs
	out := AddRules(&dto.NGList{}, patch)
	out.DerivedVideoIDs = derived
	return out
}

// Clone returns a deep copy with non-nil slices. A nil list clones to an
// empty one.
func Clone(list *dto.NGList) *dto.NGList {
	if list == nil {
		list = &dto.NGList{}
	}
	return &dto.NGList{
		VideoIDs:        union(nil, list.VideoIDs),
		VideoTitles:     dto.TextRules{Exact: union(nil, list.VideoTitles.Exact), Partial: union(nil, list.VideoTitles.Partial)},
		AuthorIDs:       union(nil, list.AuthorIDs),
		AuthorNames:     dto.TextRules{Exact: union(nil, list.AuthorNames.Exact), Partial: union(nil, list.AuthorNames.Partial)},
		DerivedVideoIDs: union(nil, list.DerivedVideoIDs),
	}
}

func union(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]struct{}, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, v := range list {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func subtract(base, remove []string) []string {
	drop := toSet(remove)
	out := make([]string, 0, len(base))
	for _, v := range base {
		if _, ok := drop[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}
