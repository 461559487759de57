package httpserver

import (
	"compress/gzip"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"telegram-alerts-go/alert"

	"ranking-cache-service/api/dto"
	"ranking-cache-service/internal/manager"
)

const (
	maxBodySize           = 5 << 20                  // Максимальный размер тела запроса: 5 МБ (5 * 2^20 байт)
	gzipThreshold         = 500                      // Минимальный размер ответа для сжатия gzip: 500 байт
	baseAPIPath           = "/api"                   // Базовый путь для всех API эндпоинтов
	rankingPath           = baseAPIPath + "/ranking" // GET  /api/ranking - снимок рейтинга
	rankingFilterPath     = rankingPath + "/filter"  // POST /api/ranking/filter - фильтр по переданному NG-списку
	ngPath                = baseAPIPath + "/ng"      // GET/POST /api/ng - NG-список
	ngRulesPath           = ngPath + "/rules"        // POST/DELETE /api/ng/rules - добавить/удалить правила
	ngDerivedPath         = ngPath + "/derived"      // DELETE /api/ng/derived - очистить производные id
	refreshPath           = baseAPIPath + "/refresh" // POST /api/refresh - ручной/плановый прогрев
	healthPath            = "/health"
	metricsPath           = "/metrics"
	contentTypeJSON       = "application/json" // MIME-тип для JSON
	headerContentEncoding = "Content-Encoding" // HTTP заголовок для указания кодировки
	headerAcceptEncoding  = "Accept-Encoding"  // HTTP заголовок с поддерживаемыми кодировками
	headerVary            = "Vary"             // HTTP заголовок для указания зависимости от других заголовков
	encodingGzip          = "gzip"             // Название gzip кодировки
)

// RankingResolver — то, что HTTP-слою нужно от resolver.Resolver.
type RankingResolver interface {
	Resolve(ctx context.Context, key dto.CacheKey) *dto.RankingSnapshot
	Refresh(ctx context.Context, key dto.CacheKey) (*dto.RankingSnapshot, error)
}

// NGStore — операции над сохранённым NG-списком (ngstore.Store).
type NGStore interface {
	Get(ctx context.Context) (*dto.NGList, error)
	Replace(ctx context.Context, rules dto.NGRules) (*dto.NGList, error)
	AddRules(ctx context.Context, rules dto.NGRules) (*dto.NGList, error)
	RemoveRules(ctx context.Context, rules dto.NGRules) (*dto.NGList, error)
	ClearDerived(ctx context.Context) (*dto.NGList, error)
}

// DerivedSink принимает производные NG-id для фоновой записи, не блокируя запрос.
type DerivedSink interface {
	Add(ids []string)
}

// Warmer выполняет один полный проход прогрева.
type Warmer interface {
	WarmOnce(ctx context.Context) (manager.WarmReport, error)
}

// Deps — зависимости роутера. Warmer и Derived необязательны;
// пустой AdminToken отключает проверку admin-маршрутов.
type Deps struct {
	Resolver   RankingResolver
	NG         NGStore
	Derived    DerivedSink
	NGFoldCase bool
	Warmer     Warmer
	AdminToken string
}

// NewRouter возвращает http.Handler с зарегистрированными эндпоинтами.
func NewRouter(deps Deps) http.Handler {
	h := &handlers{deps: deps}
	r := chi.NewRouter()

	r.Use(limitBody(maxBodySize))
	r.Use(requestID)
	r.Use(decompressGzip)
	r.Use(compressGzip(gzipThreshold))
	r.Use(MetricsMiddleware)

	r.Get(healthPath, handleHealth)

	r.Get(rankingPath, h.handleRanking)
	r.Post(rankingFilterPath, h.handleFilter)

	r.Group(func(r chi.Router) {
		r.Use(adminOnly(deps.AdminToken))

		r.Get(ngPath, h.handleGetNG)
		r.Post(ngPath, h.handleReplaceNG)
		r.Post(ngRulesPath, h.handleAddRules)
		r.Delete(ngRulesPath, h.handleRemoveRules)
		r.Delete(ngDerivedPath, h.handleClearDerived)
		r.Post(refreshPath, h.handleRefresh)
	})

	return r
}

// ---- helpers ----

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.S().Errorw(alert.Prefix("encode error"), "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, dto.APIError{Error: msg})
}

// decodeJSON проверяет Content-Type и декодирует тело в v.
// При ошибке ответ уже записан.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if !strings.HasPrefix(r.Header.Get("Content-Type"), contentTypeJSON) {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported content type")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// ---- middleware ----

type ctxKey struct{}

// RequestIDFrom returns the request id assigned by the router.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(dto.HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(dto.HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func adminOnly(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" {
				got := r.Header.Get(dto.HeaderGatewayToken)
				if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
					zap.S().Warnw("admin request rejected", "path", r.URL.Path, "requestId", RequestIDFrom(r.Context()))
					writeError(w, http.StatusForbidden, "forbidden")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

func decompressGzip(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerContentEncoding) == encodingGzip {
			gz, err := gzip.NewReader(r.Body)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid gzip body")
				return
			}
			defer gz.Close()
			r.Body = struct{ io.ReadCloser }{gz}
		}
		next.ServeHTTP(w, r)
	})
}

type bufferResponseWriter struct {
	http.ResponseWriter
	code int
	buf  strings.Builder
	once sync.Once
}

func (b *bufferResponseWriter) WriteHeader(statusCode int) {
	b.once.Do(func() { b.code = statusCode })
}

func (b *bufferResponseWriter) Write(p []byte) (int, error) {
	return b.buf.Write(p)
}

func compressGzip(threshold int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get(headerAcceptEncoding), encodingGzip) {
				next.ServeHTTP(w, r)
				return
			}
			brw := &bufferResponseWriter{ResponseWriter: w}
			next.ServeHTTP(brw, r)

			if brw.code == 0 {
				brw.code = http.StatusOK
			}

			data := brw.buf.String()
			if len(data) < threshold {
				w.WriteHeader(brw.code)
				io.WriteString(w, data)
				return
			}

			w.Header().Set(headerContentEncoding, encodingGzip)
			w.Header().Set(headerVary, headerAcceptEncoding)
			w.Header().Del("Content-Length")
			w.WriteHeader(brw.code)
			gz := gzip.NewWriter(w)
			if _, err := gz.Write([]byte(data)); err != nil {
				zap.S().Errorw(alert.Prefix("gzip write error"), "error", err)
			}
			gz.Close()
		})
	}
}
