package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"ranking-cache-service/api/dto"
	"ranking-cache-service/internal/config"
)

type indexFake struct {
	mu       sync.Mutex
	calls    [][]string
	failCall int // 1-based call number answered with 500, 0 = never
}

func (f *indexFake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	var ids []string
	for i := 0; ; i++ {
		id := r.URL.Query().Get(fmt.Sprintf("filters[contentId][%d]", i))
		if id == "" {
			break
		}
		ids = append(ids, id)
	}
	f.calls = append(f.calls, ids)
	call := len(f.calls)
	f.mu.Unlock()

	if call == f.failCall {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	rows := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, map[string]any{
			"contentId":      id,
			"viewCounter":    100,
			"commentCounter": 7,
			"likeCounter":    3,
			"tags":           "tagA tagB",
			"userId":         42,
		})
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"meta": map[string]any{"status": 200}, "data": rows})
}

func newService(t *testing.T, fake *indexFake, batchSize int) *ServiceImpl {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	fetcher := newHttpBatchFetcher(srv.Client(), srv.URL+"/api/v2/snapshot/video/contents/search", "test-agent", time.Second)
	return NewIntegrationService(fetcher, batchSize, rate.NewLimiter(rate.Every(time.Millisecond), 1))
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("sm%d", i+1)
	}
	return out
}

func TestBatchFetch_SplitsIntoBatchesOf100(t *testing.T) {
	fake := &indexFake{}
	s := newService(t, fake, 0)

	got := s.BatchFetch(context.Background(), ids(250))

	assert.Len(t, got, 250)
	require.Len(t, fake.calls, 3)
	assert.Len(t, fake.calls[0], 100)
	assert.Len(t, fake.calls[1], 100)
	assert.Len(t, fake.calls[2], 50)

	st := got["sm1"]
	require.NotNil(t, st.Views)
	assert.EqualValues(t, 100, *st.Views)
	assert.Nil(t, st.Mylists)
	assert.Equal(t, []string{"tagA", "tagB"}, st.Tags)
	assert.Equal(t, "42", st.AuthorID)
}

func TestBatchFetch_FailedBatchKeepsEarlier(t *testing.T) {
	fake := &indexFake{failCall: 2}
	s := newService(t, fake, 10)

	got := s.BatchFetch(context.Background(), ids(35))

	assert.Len(t, got, 10)
	assert.Len(t, fake.calls, 2)
}

func TestBatchFetch_EmptyAndDuplicates(t *testing.T) {
	fake := &indexFake{}
	s := newService(t, fake, 100)

	assert.Empty(t, s.BatchFetch(context.Background(), nil))
	assert.Empty(t, fake.calls)

	got := s.BatchFetch(context.Background(), []string{"sm1", "", "sm1", "sm2"})
	assert.Len(t, got, 2)
	require.Len(t, fake.calls, 1)
	assert.Equal(t, []string{"sm1", "sm2"}, fake.calls[0])
}

func TestBatchFetch_CancelledContext(t *testing.T) {
	fake := &indexFake{}
	s := newService(t, fake, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := s.BatchFetch(ctx, ids(5))

	assert.NotNil(t, got)
	assert.Empty(t, got)
}

type stubFetcher struct {
	err error
}

func (s stubFetcher) GetBatch(context.Context, []string) (map[string]Stats, error) {
	return nil, s.err
}

func TestBatchFetch_NeverFails(t *testing.T) {
	s := NewIntegrationService(stubFetcher{err: errors.New("down")}, 500, nil)
	assert.Equal(t, MaxBatchSize, s.batchSize)

	got := s.BatchFetch(context.Background(), ids(3))
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRequestURL(t *testing.T) {
	f := newHttpBatchFetcher(http.DefaultClient, "https://index.example/search?x=1", "", 0)
	u := f.requestURL([]string{"sm1", "sm2"})

	assert.True(t, strings.HasPrefix(u, "https://index.example/search?x=1&"))
	assert.Contains(t, u, "filters%5BcontentId%5D%5B1%5D=sm2")
	assert.Contains(t, u, "_limit=2")
}

func TestApply_FillsOnlyAbsentFields(t *testing.T) {
	comments := int64(1)
	items := []dto.RankingItem{
		{Rank: 1, ID: "sm1", Views: 5, Comments: &comments, Tags: []string{"own"}},
		{Rank: 2, ID: "sm2"},
		{Rank: 3, ID: "sm3"},
	}
	views, likes := int64(100), int64(9)
	stats := map[string]Stats{
		"sm1": {ID: "sm1", Views: &views, Comments: &likes, Likes: &likes, Tags: []string{"x"}, AuthorID: "u1"},
		"sm2": {ID: "sm2", Views: &views, Tags: []string{"x"}, AuthorID: "u2"},
	}

	out := Apply(items, stats)

	assert.EqualValues(t, 5, out[0].Views)
	assert.EqualValues(t, 1, *out[0].Comments)
	assert.EqualValues(t, 9, *out[0].Likes)
	assert.Equal(t, []string{"own"}, out[0].Tags)
	assert.Equal(t, "u1", out[0].AuthorID)

	assert.EqualValues(t, 100, out[1].Views)
	assert.Nil(t, out[1].Comments)
	assert.Equal(t, []string{"x"}, out[1].Tags)

	assert.Equal(t, items[2], out[2])
	assert.Empty(t, items[1].AuthorID, "input is not modified")
}

func TestNeedsEnrichment(t *testing.T) {
	assert.False(t, NeedsEnrichment(nil))
	assert.False(t, NeedsEnrichment([]dto.RankingItem{{ID: "a", AuthorID: "u"}}))
	assert.True(t, NeedsEnrichment([]dto.RankingItem{{ID: "a", AuthorID: "u"}, {ID: "b"}}))
}

func TestCreateEnrichmentService(t *testing.T) {
	assert.Nil(t, CreateEnrichmentService(config.EnrichmentConfig{Enabled: false}))

	s := CreateEnrichmentService(config.EnrichmentConfig{Enabled: true, URL: "http://x", BatchSize: 50, Interval: time.Millisecond})
	require.NotNil(t, s)
	assert.Equal(t, 50, s.(*ServiceImpl).batchSize)
}
