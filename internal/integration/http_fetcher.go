// Package integration дополняет элементы рейтинга счётчиками и метаданными
// из внешнего поискового индекса статистики.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ranking-cache-service/internal/metrics"
)

// statsFields — поля, запрашиваемые у индекса.
var statsFields = []string{
	"contentId", "viewCounter", "commentCounter", "mylistCounter", "likeCounter", "tags", "userId",
}

// batchFetcher выполняет один запрос к индексу статистики.
type batchFetcher interface {

	// GetBatch запрашивает статистику для ids (не более MaxBatchSize) и
	// возвращает найденные записи по contentId.
	GetBatch(ctx context.Context, ids []string) (map[string]Stats, error)
}

// httpBatchFetcherImpl — реализация batchFetcher поверх HTTP GET.
//
// Описание работы:
//   - Формирует запрос с фильтром filters[contentId][i] для каждого id.
//   - Запрашивает только поля из statsFields.
//   - Ответ {"meta": {...}, "data": [{...}, ...]} разбирается терпимо:
//     отсутствующие поля остаются nil.
//
// Пример запроса:
//
//	GET {url}?q=&targets=title&fields=contentId,viewCounter,...&filters[contentId][0]=sm9&_limit=1
type httpBatchFetcherImpl struct {
	client    *http.Client
	url       string
	userAgent string
	timeout   time.Duration
}

func newHttpBatchFetcher(c *http.Client, url, userAgent string, timeout time.Duration) *httpBatchFetcherImpl {
	return &httpBatchFetcherImpl{client: c, url: url, userAgent: userAgent, timeout: timeout}
}

const defaultTimeout = 15 * time.Second

func (f *httpBatchFetcherImpl) GetBatch(ctx context.Context, ids []string) (result map[string]Stats, err error) {
	if len(ids) == 0 {
		return map[string]Stats{}, nil
	}

	start := time.Now()
	defer func() {
		metrics.RecordExternalRequest("enrichment", err, time.Since(start).Seconds())
	}()

	timeout := defaultTimeout
	if f.timeout > 0 {
		timeout = f.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if f.url == "" {
		return nil, fmt.Errorf("enrichment URL is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.requestURL(ids), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("bad response (%d): %s", resp.StatusCode, string(respBody))
	}

	var body searchResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	result = make(map[string]Stats, len(body.Data))
	for _, row := range body.Data {
		if s, ok := row.stats(); ok {
			result[s.ID] = s
		}
	}
	return result, nil
}

func (f *httpBatchFetcherImpl) requestURL(ids []string) string {
	q := url.Values{}
	q.Set("q", "")
	q.Set("targets", "title")
	q.Set("fields", strings.Join(statsFields, ","))
	q.Set("_sort", "-viewCounter")
	q.Set("_limit", fmt.Sprint(len(ids)))
	q.Set("_context", "ranking-cache-service")
	for i, id := range ids {
		q.Set(fmt.Sprintf("filters[contentId][%d]", i), id)
	}

	sep := "?"
	if strings.Contains(f.url, "?") {
		sep = "&"
	}
	return f.url + sep + q.Encode()
}

type searchResponse struct {
	Meta struct {
		Status json.Number `json:"status"`
	} `json:"meta"`
	Data []searchRow `json:"data"`
}

// searchRow — одна строка ответа; типы полей у индекса плавают,
// поэтому всё читается через json.RawMessage.
type searchRow map[string]json.RawMessage

func (r searchRow) stats() (Stats, bool) {
	s := Stats{ID: r.str("contentId")}
	if s.ID == "" {
		return s, false
	}
	s.Views = r.count("viewCounter")
	s.Comments = r.count("commentCounter")
	s.Mylists = r.count("mylistCounter")
	s.Likes = r.count("likeCounter")
	s.AuthorID = r.str("userId")
	s.Tags = r.tags("tags")
	return s, true
}

func (r searchRow) str(key string) string {
	raw, ok := r[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func (r searchRow) count(key string) *int64 {
	raw, ok := r[key]
	if !ok {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil
	}
	v, err := n.Int64()
	if err != nil {
		return nil
	}
	return &v
}

// tags принимает и строку через пробел, и массив строк.
func (r searchRow) tags(key string) []string {
	raw, ok := r[key]
	if !ok {
		return nil
	}
	var joined string
	if err := json.Unmarshal(raw, &joined); err == nil {
		return strings.Fields(joined)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	return nil
}
