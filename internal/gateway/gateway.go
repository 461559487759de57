// Package gateway — пограничный прокси перед API: лимиты по IP клиента,
// заголовки безопасности, проброс токена для admin-маршрутов.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"telegram-alerts-go/alert"

	"ranking-cache-service/api/dto"
	"ranking-cache-service/internal/config"
	"ranking-cache-service/internal/metrics"
)

const (
	counterKeyPrefix   = "gw"
	counterTimeout     = 200 * time.Millisecond
	headerRetryAfter   = "Retry-After"
	headerLimit        = "X-RateLimit-Limit"
	headerRemaining    = "X-RateLimit-Remaining"
	headerForwardedFor = "X-Forwarded-For"
)

// decisions, метка gateway_requests_total
const (
	decisionExempt   = "exempt"
	decisionAllowed  = "allowed"
	decisionRejected = "rejected"
	decisionFailOpen = "counter_error"
	decisionDenied   = "forbidden"
)

var securityHeaders = map[string]string{
	"X-Content-Type-Options":    "nosniff",
	"X-Frame-Options":           "DENY",
	"Referrer-Policy":           "strict-origin-when-cross-origin",
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	"Permissions-Policy":        "camera=(), microphone=(), geolocation=()",
}

type Gateway struct {
	classifier *Classifier
	counter    Counter
	cfg        config.GatewayConfig
	proxy      *httputil.ReverseProxy
}

// New собирает gateway перед cfg.Target.
//
// Описание работы:
//   - static-пути не считаются;
//   - остальные считаются по ключу gw:<class>:<ip> в окне cfg.Window;
//   - превышение лимита → 429, Retry-After и JSON с подсказкой;
//   - ошибка счётчика не блокирует запрос;
//   - admin-маршруты требуют X-Gateway-Token из cfg.AdminTokens, иначе 403;
//   - входящий X-Gateway-Token не уходит дальше, на admin-маршрутах
//     его заменяет cfg.ForwardToken.
func New(cfg config.GatewayConfig, counter Counter) (*Gateway, error) {
	target, err := url.Parse(cfg.Target)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid gateway target %q", cfg.Target)
	}
	if counter == nil {
		return nil, fmt.Errorf("gateway counter is required")
	}

	g := &Gateway{classifier: NewClassifier(cfg), counter: counter, cfg: cfg}
	g.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			if g.cfg.TrustForwardedFor {
				// Out приходит без X-Forwarded-For, цепочку переносим сами
				if prior := pr.In.Header.Get(headerForwardedFor); prior != "" {
					pr.Out.Header.Set(headerForwardedFor, prior)
				}
			}
			pr.SetXForwarded()

			pr.Out.Header.Del(dto.HeaderGatewayToken)
			if g.cfg.ForwardToken != "" && g.classifier.Classify(pr.In.URL.Path) == ClassAdmin {
				pr.Out.Header.Set(dto.HeaderGatewayToken, g.cfg.ForwardToken)
			}
			pr.Out.Header.Set(dto.HeaderRequestID, requestIDFrom(pr.In.Context()))
		},
		ModifyResponse: func(resp *http.Response) error {
			// id уже выставлен gateway
			resp.Header.Del(dto.HeaderRequestID)
			setSecurityHeaders(resp.Header)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			zap.S().Errorw(alert.Prefix("Gateway: upstream недоступен"), "path", r.URL.Path, "error", err,
				"requestId", requestIDFrom(r.Context()))
			setSecurityHeaders(w.Header())
			writeJSON(w, http.StatusBadGateway, dto.APIError{Error: "upstream unavailable", Kind: dto.ErrorKindUpstreamUnavailable})
		},
	}
	return g, nil
}

// Handler returns the gateway's http.Handler.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(g.rateLimit)
	r.Use(g.adminAuth)
	r.Handle("/*", g.proxy)
	return r
}

func (g *Gateway) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class := g.classifier.Classify(r.URL.Path)
		limit := limitFor(g.cfg.Limits, class)
		if class == ClassStatic || limit <= 0 {
			metrics.RecordGatewayRequest(string(class), decisionExempt)
			next.ServeHTTP(w, r)
			return
		}

		ip := g.clientIP(r)
		ctx, cancel := context.WithTimeout(r.Context(), counterTimeout)
		count, resetIn, err := g.counter.Incr(ctx, counterKey(class, ip), g.cfg.Window)
		cancel()
		if err != nil {
			zap.S().Warnw("gateway counter failed, letting request through", "class", class, "error", err)
			metrics.RecordGatewayRequest(string(class), decisionFailOpen)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set(headerLimit, strconv.Itoa(limit))
		w.Header().Set(headerRemaining, strconv.FormatInt(max(int64(limit)-count, 0), 10))

		if count > int64(limit) {
			retryAfter := retryAfterSeconds(resetIn)
			metrics.RecordGatewayRequest(string(class), decisionRejected)
			zap.S().Infow("rate limited", "class", class, "ip", ip, "count", count, "retryAfter", retryAfter)

			setSecurityHeaders(w.Header())
			w.Header().Set(headerRetryAfter, strconv.Itoa(retryAfter))
			writeJSON(w, http.StatusTooManyRequests, dto.APIError{
				Error:      "rate limit exceeded",
				Kind:       dto.ErrorKindRateLimited,
				RetryAfter: retryAfter,
			})
			return
		}

		metrics.RecordGatewayRequest(string(class), decisionAllowed)
		next.ServeHTTP(w, r)
	})
}

// adminAuth пропускает admin-маршруты только с известным клиентским токеном.
func (g *Gateway) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.classifier.Classify(r.URL.Path) != ClassAdmin || g.authorized(r.Header.Get(dto.HeaderGatewayToken)) {
			next.ServeHTTP(w, r)
			return
		}
		metrics.RecordGatewayRequest(string(ClassAdmin), decisionDenied)
		zap.S().Warnw("admin request rejected at gateway", "path", r.URL.Path, "ip", g.clientIP(r),
			"requestId", requestIDFrom(r.Context()))
		setSecurityHeaders(w.Header())
		writeJSON(w, http.StatusForbidden, dto.APIError{Error: "admin credential required", Kind: dto.ErrorKindForbidden})
	})
}

func (g *Gateway) authorized(token string) bool {
	if token == "" {
		return false
	}
	ok := 0
	for _, allowed := range g.cfg.AdminTokens {
		ok |= subtle.ConstantTimeCompare([]byte(token), []byte(allowed))
	}
	return ok == 1
}

// clientIP — первый адрес X-Forwarded-For при доверенном прокси перед
// gateway, иначе адрес TCP-соединения.
func (g *Gateway) clientIP(r *http.Request) string {
	if g.cfg.TrustForwardedFor {
		if xff := r.Header.Get(headerForwardedFor); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func counterKey(class RouteClass, ip string) string {
	return counterKeyPrefix + ":" + string(class) + ":" + ip
}

func retryAfterSeconds(resetIn time.Duration) int {
	return max(int(math.Ceil(resetIn.Seconds())), 1)
}

func setSecurityHeaders(h http.Header) {
	for k, v := range securityHeaders {
		h.Set(k, v)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.S().Errorw(alert.Prefix("encode error"), "error", err)
	}
}

type ctxKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// requestID всегда выдаёт новый id: клиентскому значению gateway не доверяет.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set(dto.HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}
