// Package upstream загружает рейтинг с исходного сайта: HTML-страницу со
// встроенным JSON и, если его нет, RSS-ленту. Все ошибки типизированы (*Error).
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"ranking-cache-service/api/dto"
	"ranking-cache-service/internal/config"
	"ranking-cache-service/internal/metrics"
	"ranking-cache-service/internal/reconcile"
)

// PageSize is the number of items the upstream renders per ranking page.
const PageSize = 100

const maxBodyBytes = 16 << 20

// Fetcher загружает страницы рейтинга и склеивает их.
//
// Описание работы:
//   - Запрашивает HTML-страницу и ищет payload в <meta name="server-response">.
//   - Если payload отсутствует или не распознан, запрашивает RSS-ленту.
//   - Fetch идёт по страницам до пустой страницы, повтора первой страницы,
//     лимита тегового рейтинга или maxPages.
type Fetcher struct {
	client     *http.Client
	access     AccessStrategy
	baseURL    string
	maxPages   int
	tagItemCap int
}

func NewFetcher(client *http.Client, cfg config.UpstreamConfig, access AccessStrategy) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if access == nil {
		access = NewAccessStrategy(cfg.Access)
	}
	return &Fetcher{
		client:     client,
		access:     access,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxPages:   cfg.MaxPages,
		tagItemCap: cfg.TagItemCap,
	}
}

// FetchKey dispatches on the key: Page 0 stitches the whole ranking,
// Page > 0 loads exactly that page.
func (f *Fetcher) FetchKey(ctx context.Context, key dto.CacheKey) (*Page, error) {
	if key.Page > 0 {
		return f.FetchPage(ctx, key.Genre, key.Period, key.Tag, key.Page)
	}
	items, tags, err := f.Fetch(ctx, key.Genre, key.Period, key.Tag)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, PopularTags: tags}, nil
}

// Fetch loads pages 1..maxPages and merges them. A failure of page 1 is
// returned; a failure of a later page ends pagination with what was collected.
func (f *Fetcher) Fetch(ctx context.Context, genre string, period dto.Period, tag string) ([]dto.RankingItem, []string, error) {
	first, err := f.FetchPage(ctx, genre, period, tag, 1)
	if err != nil {
		return nil, nil, err
	}

	merged := reconcile.Merge(nil, first.Items)
	if len(first.Items) == 0 {
		return merged, first.PopularTags, nil
	}
	firstID := firstKnownID(first.Items)

	for page := 2; page <= f.maxPages; page++ {
		if tag != "" && f.tagItemCap > 0 && len(merged) >= f.tagItemCap {
			break
		}

		next, err := f.FetchPage(ctx, genre, period, tag, page)
		if err != nil {
			zap.S().Warnw("Пагинация остановлена на ошибке",
				"genre", genre, "period", period, "tag", tag, "page", page, "collected", len(merged), "error", err)
			break
		}
		if len(next.Items) == 0 || containsID(next.Items, firstID) {
			break
		}
		merged = reconcile.Merge(merged, next.Items)
	}

	if tag != "" && f.tagItemCap > 0 && len(merged) > f.tagItemCap {
		merged = merged[:f.tagItemCap]
	}
	return merged, first.PopularTags, nil
}

// FetchPage loads a single upstream page, falling back to the feed when the
// embedded payload is missing.
func (f *Fetcher) FetchPage(ctx context.Context, genre string, period dto.Period, tag string, page int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	pageURL := f.rankingURL(genre, period, tag, page, false)

	body, err := f.get(ctx, "fetch page", pageURL, RequestPage)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return &Page{Items: []dto.RankingItem{}, PopularTags: []string{}}, nil
	}

	parsed, ok, parseErr := ParseHTML(body, (page-1)*PageSize)
	if ok {
		return parsed, nil
	}
	if parseErr != nil {
		zap.S().Warnw("Встроенный payload не распознан, переходим на RSS",
			"url", pageURL, "error", parseErr)
	}

	feedURL := f.rankingURL(genre, period, tag, page, true)
	feedBody, err := f.get(ctx, "fetch feed", feedURL, RequestFeed)
	if err != nil {
		return nil, err
	}
	items := ParseFeed(feedBody)
	if len(items) == 0 {
		cause := parseErr
		if cause == nil {
			cause = fmt.Errorf("no server-response payload and empty feed")
		}
		return nil, parseError("fetch page", pageURL, cause)
	}
	offsetRanks(items, page)
	return &Page{Items: items, PopularTags: []string{}}, nil
}

func (f *Fetcher) get(ctx context.Context, op, target string, kind RequestKind) (body []byte, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordExternalRequest("upstream", err, time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, networkError(op, target, err)
	}
	f.access.Apply(req, kind)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, networkError(op, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, unavailableError(op, target, resp.StatusCode)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, networkError(op, target, err)
	}
	return body, nil
}

func (f *Fetcher) rankingURL(genre string, period dto.Period, tag string, page int, feed bool) string {
	q := url.Values{}
	q.Set("term", string(period))
	if tag != "" {
		q.Set("tag", tag)
	}
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	}
	if feed {
		q.Set("rss", "2.0")
		q.Set("lang", "ja-jp")
	}
	return f.baseURL + "/ranking/genre/" + url.PathEscape(genre) + "?" + q.Encode()
}

// offsetRanks shifts feed ranks when the feed numbers each page from 1.
func offsetRanks(items []dto.RankingItem, page int) {
	offset := (page - 1) * PageSize
	if offset == 0 || len(items) == 0 || items[0].Rank > offset {
		return
	}
	for i := range items {
		items[i].Rank += offset
	}
}

// firstKnownID returns the first non-empty id; entries without an id
// cannot mark a repeated page.
func firstKnownID(items []dto.RankingItem) string {
	for _, it := range items {
		if it.ID != "" {
			return it.ID
		}
	}
	return ""
}

func containsID(items []dto.RankingItem, id string) bool {
	if id == "" {
		return false
	}
	for _, it := range items {
		if it.ID == id {
			return true
		}
	}
	return false
}
