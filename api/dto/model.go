package dto

import (
	"fmt"
	"strings"
	"time"
)

// /////////////////////
//// Ranking
///////////////////////

type Period string

const (
	Period24h  Period = "24h"
	PeriodHour Period = "hour"
)

func (p Period) Valid() bool {
	return p == Period24h || p == PeriodHour
}

// Source — тег происхождения снимка, по нему видно какой уровень ответил.
type Source string

const (
	SourceDistributedCache Source = "distributed-cache"
	SourceRegionalCache    Source = "regional-cache"
	SourceLiveFetch        Source = "live-fetch"
	SourceFallbackFixture  Source = "fallback-fixture"
)

// RankingItem is one ranked video. Optional counters are pointers:
// nil means "unknown", not zero.
type RankingItem struct {
	Rank         int        `json:"rank"`
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	ThumbnailURL string     `json:"thumbURL"`
	Views        int64      `json:"views"`
	Comments     *int64     `json:"comments,omitempty"`
	Mylists      *int64     `json:"mylists,omitempty"`
	Likes        *int64     `json:"likes,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	AuthorID     string     `json:"authorId,omitempty"`
	AuthorName   string     `json:"authorName,omitempty"`
	AuthorIcon   string     `json:"authorIcon,omitempty"`
	RegisteredAt *time.Time `json:"registeredAt,omitempty"`
	Sensitive    bool       `json:"sensitive,omitempty"`
}

// HasAuthorOrTags reports whether the item carries metadata that only the
// structured payload or the enrichment index can provide.
func (i *RankingItem) HasAuthorOrTags() bool {
	return i.AuthorID != "" || len(i.Tags) > 0
}

// Diagnostics описывает ошибку, из-за которой ответ собран из fixture.
type Diagnostics struct {
	ErrorKind      ErrorKind `json:"errorKind"`
	Error          string    `json:"error"`
	FixtureVersion string    `json:"fixtureVersion,omitempty"`
}

type RankingSnapshot struct {
	Genre       string        `json:"genre"`
	Period      Period        `json:"period"`
	Tag         string        `json:"tag,omitempty"`
	Page        int           `json:"page,omitempty"`
	Items       []RankingItem `json:"items"`
	PopularTags []string      `json:"popularTags"`
	ScrapedAt   time.Time     `json:"scrapedAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	Source      Source        `json:"source"`
	Diagnostics *Diagnostics  `json:"diagnostics,omitempty"`
}

// Key returns the cache coordinates this snapshot was produced for.
func (s *RankingSnapshot) Key() CacheKey {
	return CacheKey{Genre: s.Genre, Period: s.Period, Tag: s.Tag, Page: s.Page}
}

// Age returns how long ago the snapshot was written.
func (s *RankingSnapshot) Age(now time.Time) time.Duration {
	if s.UpdatedAt.IsZero() {
		return 0
	}
	return now.Sub(s.UpdatedAt)
}

// CacheKey — координаты снимка. Page == 0 означает полный рейтинг
// (все страницы склеены), Page > 0 — одна страница тегового рейтинга.
type CacheKey struct {
	Genre  string `json:"genre"`
	Period Period `json:"period"`
	Tag    string `json:"tag,omitempty"`
	Page   int    `json:"page,omitempty"`
}

func (k CacheKey) Validate() error {
	if k.Genre == "" {
		return fmt.Errorf("genre is required")
	}
	if !k.Period.Valid() {
		return fmt.Errorf("invalid period %q", k.Period)
	}
	if k.Page < 0 {
		return fmt.Errorf("page must be >= 0")
	}
	if k.Page > 0 && k.Tag == "" {
		return fmt.Errorf("page requires a tag")
	}
	return nil
}

// Bundled reports whether the key can be served from the edge bundle,
// which only holds untagged full rankings.
func (k CacheKey) Bundled() bool {
	return k.Tag == "" && k.Page == 0
}

// keyEscaper keeps client-supplied segments from forging a separator.
var keyEscaper = strings.NewReplacer("%", "%25", StorageKeySeparator, "%3A")

// String renders the key as genre:period[:tag][:p<page>]. Segments are
// escaped, and a paged key always carries its tag segment (possibly empty),
// so distinct keys never render the same.
func (k CacheKey) String() string {
	s := keyEscaper.Replace(k.Genre) + StorageKeySeparator + keyEscaper.Replace(string(k.Period))
	if k.Tag != "" || k.Page > 0 {
		s += StorageKeySeparator + keyEscaper.Replace(k.Tag)
	}
	if k.Page > 0 {
		s += fmt.Sprintf("%sp%d", StorageKeySeparator, k.Page)
	}
	return s
}

// CacheRecord — форма записи в региональном хранилище.
type CacheRecord struct {
	Items       []RankingItem `json:"items"`
	PopularTags []string      `json:"popularTags"`
	UpdatedAt   string        `json:"updatedAt"`
}

// EdgeBundle — все нетеговые снимки одним документом, ключ CacheKey.String().
type EdgeBundle struct {
	GeneratedAt time.Time               `json:"generatedAt"`
	Snapshots   map[string]*CacheRecord `json:"snapshots"`
}

// /////////////////////
//// NG list
///////////////////////

type TextRules struct {
	Exact   []string `json:"exact"`
	Partial []string `json:"partial"`
}

// NGList keeps manual rules and the system-derived id set apart so that
// clearing derived ids never touches operator-authored rules.
type NGList struct {
	VideoIDs        []string  `json:"videoIds"`
	VideoTitles     TextRules `json:"videoTitles"`
	AuthorIDs       []string  `json:"authorIds"`
	AuthorNames     TextRules `json:"authorNames"`
	DerivedVideoIDs []string  `json:"derivedVideoIds"`
}

// NGRules is a patch of manual rules used by add/remove operations.
type NGRules struct {
	VideoIDs    []string  `json:"videoIds,omitempty"`
	VideoTitles TextRules `json:"videoTitles"`
	AuthorIDs   []string  `json:"authorIds,omitempty"`
	AuthorNames TextRules `json:"authorNames"`
}

func (r NGRules) Empty() bool {
	return len(r.VideoIDs) == 0 && len(r.AuthorIDs) == 0 &&
		len(r.VideoTitles.Exact) == 0 && len(r.VideoTitles.Partial) == 0 &&
		len(r.AuthorNames.Exact) == 0 && len(r.AuthorNames.Partial) == 0
}

// /////////////////////
//// Errors
///////////////////////

// ErrorKind — таксономия ошибок конвейера, видна в диагностике и заголовках.
type ErrorKind string

const (
	ErrorKindNetwork             ErrorKind = "network"
	ErrorKindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	ErrorKindParseFailure        ErrorKind = "parse_failure"
	ErrorKindRateLimited         ErrorKind = "rate_limited"
	ErrorKindForbidden           ErrorKind = "forbidden"
	ErrorKindUnknown             ErrorKind = "unknown"
)

// /////////////////////
//// HTTP headers
///////////////////////

const (
	HeaderRankingSource = "X-Ranking-Source"
	HeaderFallbackKind  = "X-Ranking-Fallback-Kind"
	HeaderFallbackError = "X-Ranking-Fallback-Error"
	HeaderRequestID     = "X-Request-ID"
	// HeaderGatewayToken несёт учётные данные admin-маршрутов: клиент → gateway
	// (один из gateway.adminTokens), gateway → server (общий секрет).
	HeaderGatewayToken = "X-Gateway-Token"
)

// APIError — тело ошибочного ответа API и gateway.
type APIError struct {
	Error      string    `json:"error"`
	Kind       ErrorKind `json:"kind,omitempty"`
	RetryAfter int       `json:"retryAfter,omitempty"`
}
