package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ranking-cache-service/api/dto"
	"ranking-cache-service/internal/cache/providers"
	"ranking-cache-service/internal/config"
)

type backend struct {
	mu      sync.Mutex
	headers []http.Header
	srv     *httptest.Server
}

func newBackend(t *testing.T) *backend {
	b := &backend{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.headers = append(b.headers, r.Header.Clone())
		b.mu.Unlock()
		w.Header().Set(dto.HeaderRequestID, r.Header.Get(dto.HeaderRequestID))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) last() http.Header {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.headers[len(b.headers)-1]
}

func (b *backend) hits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.headers)
}

func gatewayConfig(target string) config.GatewayConfig {
	return config.GatewayConfig{
		Target:         target,
		Window:         time.Minute,
		Limits:         config.RouteLimits{API: 3, Page: 2, Admin: 1},
		StaticPrefixes: []string{"/static/"},
		AdminPrefixes:  []string{"/api/ng", "/api/refresh"},
		APIPrefixes:    []string{"/api/"},
		ForwardToken:   "s3cret",
		AdminTokens:    []string{"operator-1", "operator-2"},
	}
}

func newGateway(t *testing.T, cfg config.GatewayConfig, counter Counter) http.Handler {
	g, err := New(cfg, counter)
	require.NoError(t, err)
	return g.Handler()
}

func send(h http.Handler, method, path, remoteAddr string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remoteAddr
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestClassifier(t *testing.T) {
	c := NewClassifier(gatewayConfig("http://x"))

	assert.Equal(t, ClassStatic, c.Classify("/static/app.js"))
	assert.Equal(t, ClassAdmin, c.Classify("/api/ng/rules"))
	assert.Equal(t, ClassAdmin, c.Classify("/api/refresh"))
	assert.Equal(t, ClassAPI, c.Classify("/api/ranking"))
	assert.Equal(t, ClassPage, c.Classify("/ranking/all"))
}

func TestGateway_RejectsOverLimit(t *testing.T) {
	b := newBackend(t)
	h := newGateway(t, gatewayConfig(b.srv.URL), NewMemoryCounter(100, time.Minute))

	for i := 0; i < 3; i++ {
		rr := send(h, http.MethodGet, "/api/ranking", "10.0.0.1:5000")
		require.Equal(t, http.StatusOK, rr.Code, "request %d", i)
		assert.Equal(t, strconv.Itoa(3-i-1), rr.Header().Get(headerRemaining))
		assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	}

	rr := send(h, http.MethodGet, "/api/ranking", "10.0.0.1:5000")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	retry, err := strconv.Atoi(rr.Header().Get(headerRetryAfter))
	require.NoError(t, err)
	assert.InDelta(t, 60, retry, 1)
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	var body dto.APIError
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, dto.ErrorKindRateLimited, body.Kind)
	assert.Equal(t, retry, body.RetryAfter)
	assert.Equal(t, 3, b.hits())

	// another client and another class have their own budgets
	assert.Equal(t, http.StatusOK, send(h, http.MethodGet, "/api/ranking", "10.0.0.2:5000").Code)
	assert.Equal(t, http.StatusOK, send(h, http.MethodGet, "/ranking", "10.0.0.1:5000").Code)
}

func TestGateway_StaticExempt(t *testing.T) {
	b := newBackend(t)
	h := newGateway(t, gatewayConfig(b.srv.URL), NewMemoryCounter(100, time.Minute))

	for i := 0; i < 10; i++ {
		rr := send(h, http.MethodGet, "/static/app.js", "10.0.0.1:5000")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Header().Get(headerLimit))
	}
}

func TestGateway_ForwardsTokenOnlyOnAdminRoutes(t *testing.T) {
	b := newBackend(t)
	h := newGateway(t, gatewayConfig(b.srv.URL), NewMemoryCounter(100, time.Minute))

	send(h, http.MethodGet, "/api/ranking", "10.0.0.1:5000", dto.HeaderGatewayToken, "operator-1")
	assert.Empty(t, b.last().Get(dto.HeaderGatewayToken))

	rr := send(h, http.MethodGet, "/api/ng", "10.0.0.1:5000", dto.HeaderGatewayToken, "operator-2")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "s3cret", b.last().Get(dto.HeaderGatewayToken))
}

func TestGateway_AdminRoutesRequireClientCredential(t *testing.T) {
	b := newBackend(t)
	cfg := gatewayConfig(b.srv.URL)
	cfg.Limits.Admin = 100
	h := newGateway(t, cfg, NewMemoryCounter(100, time.Minute))

	for _, token := range []string{"", "forged", "s3cret"} {
		var headers []string
		if token != "" {
			headers = []string{dto.HeaderGatewayToken, token}
		}
		rr := send(h, http.MethodDelete, "/api/ng/derived", "10.0.0.1:5000", headers...)

		require.Equal(t, http.StatusForbidden, rr.Code, "token %q", token)
		assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
		var body dto.APIError
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, dto.ErrorKindForbidden, body.Kind)
	}
	assert.Zero(t, b.hits())
}

func TestGateway_NoAdminTokensClosesAdminRoutes(t *testing.T) {
	b := newBackend(t)
	cfg := gatewayConfig(b.srv.URL)
	cfg.AdminTokens = nil
	h := newGateway(t, cfg, NewMemoryCounter(100, time.Minute))

	assert.Equal(t, http.StatusForbidden, send(h, http.MethodPost, "/api/refresh", "10.0.0.1:5000").Code)
	assert.Equal(t, http.StatusOK, send(h, http.MethodGet, "/api/ranking", "10.0.0.1:5000").Code)
	assert.Equal(t, 1, b.hits())
}

func TestGateway_RequestIDAndForwardedFor(t *testing.T) {
	b := newBackend(t)
	h := newGateway(t, gatewayConfig(b.srv.URL), NewMemoryCounter(100, time.Minute))

	rr := send(h, http.MethodGet, "/api/ranking", "10.0.0.1:5000", dto.HeaderRequestID, "client-chosen")

	id := rr.Header().Get(dto.HeaderRequestID)
	assert.Len(t, id, 36)
	assert.Equal(t, []string{id}, rr.Header().Values(dto.HeaderRequestID))
	assert.Equal(t, id, b.last().Get(dto.HeaderRequestID))
	assert.Equal(t, "10.0.0.1", b.last().Get(headerForwardedFor))
}

func TestGateway_TrustForwardedFor(t *testing.T) {
	b := newBackend(t)
	cfg := gatewayConfig(b.srv.URL)
	cfg.Limits.API = 1
	cfg.TrustForwardedFor = true
	h := newGateway(t, cfg, NewMemoryCounter(100, time.Minute))

	assert.Equal(t, http.StatusOK, send(h, http.MethodGet, "/api/ranking", "10.0.0.9:5000", headerForwardedFor, "1.1.1.1, 10.0.0.9").Code)
	assert.Equal(t, "1.1.1.1, 10.0.0.9, 10.0.0.9", b.last().Get(headerForwardedFor))

	// same proxy address, different client
	assert.Equal(t, http.StatusOK, send(h, http.MethodGet, "/api/ranking", "10.0.0.9:5000", headerForwardedFor, "2.2.2.2").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(h, http.MethodGet, "/api/ranking", "10.0.0.9:5000", headerForwardedFor, "1.1.1.1").Code)
}

type failingCounter struct{}

func (failingCounter) Incr(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("redis down")
}

func TestGateway_CounterErrorLetsRequestThrough(t *testing.T) {
	b := newBackend(t)
	h := newGateway(t, gatewayConfig(b.srv.URL), failingCounter{})

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, send(h, http.MethodGet, "/api/ranking", "10.0.0.1:5000").Code)
	}
}

func TestGateway_RedisCounterSharedAcrossInstances(t *testing.T) {
	srv := miniredis.RunT(t)
	port, _ := strconv.Atoi(srv.Port())
	counter, err := providers.NewRedis(context.Background(), config.Redis{
		ProviderMeta: config.ProviderMeta{Name: "counters", Type: config.ProviderTypeRedis},
		Host:         srv.Host(),
		Port:         port,
		PoolSize:     2,
		Timeout:      time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = counter.Close() })

	b := newBackend(t)
	first := newGateway(t, gatewayConfig(b.srv.URL), counter)
	second := newGateway(t, gatewayConfig(b.srv.URL), counter)

	assert.Equal(t, http.StatusOK, send(first, http.MethodGet, "/ranking", "10.0.0.1:5000").Code)
	assert.Equal(t, http.StatusOK, send(second, http.MethodGet, "/ranking", "10.0.0.1:5000").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(first, http.MethodGet, "/ranking", "10.0.0.1:5000").Code)

	srv.FastForward(time.Minute + time.Second)
	assert.Equal(t, http.StatusOK, send(second, http.MethodGet, "/ranking", "10.0.0.1:5000").Code)
}

func TestGateway_UpstreamDown(t *testing.T) {
	b := newBackend(t)
	b.srv.Close()
	h := newGateway(t, gatewayConfig(b.srv.URL), NewMemoryCounter(100, time.Minute))

	rr := send(h, http.MethodGet, "/api/ranking", "10.0.0.1:5000")

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestNew_InvalidTarget(t *testing.T) {
	_, err := New(config.GatewayConfig{Target: "::bad"}, NewMemoryCounter(1, time.Minute))
	assert.Error(t, err)

	_, err = New(config.GatewayConfig{Target: "http://localhost:1"}, nil)
	assert.Error(t, err)
}

func TestMemoryCounter_FixedWindow(t *testing.T) {
	c := NewMemoryCounter(10, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	n, reset, err := c.Incr(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, time.Minute, reset)

	now = now.Add(20 * time.Second)
	n, reset, _ = c.Incr(context.Background(), "k", time.Minute)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, 40*time.Second, reset)

	now = now.Add(40 * time.Second)
	n, reset, _ = c.Incr(context.Background(), "k", time.Minute)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, time.Minute, reset)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(300*time.Millisecond))
	assert.Equal(t, 2, retryAfterSeconds(1100*time.Millisecond))
	assert.Equal(t, 60, retryAfterSeconds(time.Minute))
}
