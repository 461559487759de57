// Package ngfilter исключает из рейтинга видео по NG-правилам оператора.
// Все функции чистые: входные списки не изменяются.
package ngfilter

import (
	"strings"

	"ranking-cache-service/api/dto"
)

// Rule names the rule that excluded an item.
type Rule string

const (
	RuleNone          Rule = ""
	RuleVideoID       Rule = "video_id"
	RuleDerivedID     Rule = "derived_id"
	RuleTitleExact    Rule = "title_exact"
	RuleTitlePartial  Rule = "title_partial"
	RuleAuthorID      Rule = "author_id"
	RuleAuthorExact   Rule = "author_name_exact"
	RuleAuthorPartial Rule = "author_name_partial"
)

// authorRule reports whether the exclusion came from a manual author rule,
// the only kind that grows the derived set.
func (r Rule) authorRule() bool {
	return r == RuleAuthorID || r == RuleAuthorExact || r == RuleAuthorPartial
}

// Result is the outcome of one filtering pass.
type Result struct {
	Items    []dto.RankingItem
	Derived  []string
	Excluded map[Rule]int
}

type options struct {
	foldCase bool
}

type Option func(*options)

// FoldCase makes partial rules match regardless of letter case.
// Exact rules always compare the whole string as is.
func FoldCase(enabled bool) Option {
	return func(o *options) { o.foldCase = enabled }
}

// Filter returns the surviving items in their original order and ranks, and
// the ids newly excluded by author rules that were not already derived.
// A title or author-name rule matches when the value equals an exact rule or
// contains a partial rule as a substring.
func Filter(items []dto.RankingItem, list *dto.NGList, opts ...Option) ([]dto.RankingItem, []string) {
	res := Apply(items, list, opts...)
	return res.Items, res.Derived
}

// Apply is Filter with per-rule exclusion counts.
func Apply(items []dto.RankingItem, list *dto.NGList, opts ...Option) Result {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	res := Result{
		Items:    make([]dto.RankingItem, 0, len(items)),
		Derived:  make([]string, 0),
		Excluded: make(map[Rule]int),
	}
	if list == nil {
		res.Items = append(res.Items, items...)
		return res
	}

	m := compile(list, o)
	reported := make(map[string]struct{})
	for _, item := range items {
		rule := m.match(&item)
		if rule == RuleNone {
			res.Items = append(res.Items, item)
			continue
		}
		res.Excluded[rule]++
		if !rule.authorRule() || item.ID == "" {
			continue
		}
		if _, dup := reported[item.ID]; dup {
			continue
		}
		reported[item.ID] = struct{}{}
		res.Derived = append(res.Derived, item.ID)
	}
	return res
}

type matcher struct {
	videoIDs      map[string]struct{}
	derivedIDs    map[string]struct{}
	authorIDs     map[string]struct{}
	titleExact    map[string]struct{}
	titlePartial  []string
	authorExact   map[string]struct{}
	authorPartial []string
	foldCase      bool
}

func compile(list *dto.NGList, o options) *matcher {
	return &matcher{
		foldCase:      o.foldCase,
		videoIDs:      toSet(list.VideoIDs),
		derivedIDs:    toSet(list.DerivedVideoIDs),
		authorIDs:     toSet(list.AuthorIDs),
		titleExact:    toSet(list.VideoTitles.Exact),
		titlePartial:  toPartials(list.VideoTitles.Partial, o.foldCase),
		authorExact:   toSet(list.AuthorNames.Exact),
		authorPartial: toPartials(list.AuthorNames.Partial, o.foldCase),
	}
}

// match checks id rules first so that an item already excluded by id is never
// reported as derived.
func (m *matcher) match(item *dto.RankingItem) Rule {
	if _, ok := m.videoIDs[item.ID]; ok && item.ID != "" {
		return RuleVideoID
	}
	if _, ok := m.derivedIDs[item.ID]; ok && item.ID != "" {
		return RuleDerivedID
	}
	if rule := matchText(item.Title, m.titleExact, m.titlePartial, m.foldCase, RuleTitleExact, RuleTitlePartial); rule != RuleNone {
		return rule
	}
	if _, ok := m.authorIDs[item.AuthorID]; ok && item.AuthorID != "" {
		return RuleAuthorID
	}
	return matchText(item.AuthorName, m.authorExact, m.authorPartial, m.foldCase, RuleAuthorExact, RuleAuthorPartial)
}

func matchText(value string, exact map[string]struct{}, partial []string, foldCase bool, exactRule, partialRule Rule) Rule {
	if value == "" {
		return RuleNone
	}
	if _, ok := exact[value]; ok {
		return exactRule
	}
	if foldCase {
		value = strings.ToLower(value)
	}
	for _, p := range partial {
		if strings.Contains(value, p) {
			return partialRule
		}
	}
	return RuleNone
}

// toSet drops blank values; ids and exact rules are otherwise kept as given.
func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// toPartials drops blank fragments: "" would match every string.
func toPartials(values []string, foldCase bool) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if foldCase {
			v = strings.ToLower(v)
		}
		out = append(out, v)
	}
	return out
}
