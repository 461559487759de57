package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"telegram-alerts-go/alert"

	"ranking-cache-service/api/dto"
	"ranking-cache-service/internal/metrics"
	"ranking-cache-service/internal/ngfilter"
	"ranking-cache-service/internal/upstream"
)

const (
	defaultGenre        = "all"
	defaultPeriod       = dto.Period24h
	maxFallbackErrorLen = 200
	cacheControlLive    = "public, max-age=60, stale-while-revalidate=300"
	cacheControlNoStore = "no-store"
)

type handlers struct {
	deps Deps
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

// parseKey собирает CacheKey из query-параметров genre, period, tag, page.
func parseKey(r *http.Request) (dto.CacheKey, error) {
	q := r.URL.Query()
	key := dto.CacheKey{
		Genre:  strings.TrimSpace(q.Get("genre")),
		Period: dto.Period(strings.TrimSpace(q.Get("period"))),
		Tag:    q.Get("tag"),
	}
	if key.Genre == "" {
		key.Genre = defaultGenre
	}
	if key.Period == "" {
		key.Period = defaultPeriod
	}
	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return key, err
		}
		key.Page = page
	}
	key = dto.NormalizeKey(key)
	return key, key.Validate()
}

// handleRanking отдаёт снимок рейтинга.
//
// Описание работы:
//   - снимок берётся из Resolver, который никогда не падает;
//   - источник и, при fallback, вид ошибки уходят в заголовки;
//   - при ng=1 (по умолчанию) применяется сохранённый NG-список, новые
//     производные id сохраняются в фоне.
func (h *handlers) handleRanking(w http.ResponseWriter, r *http.Request) {
	key, err := parseKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snapshot := h.deps.Resolver.Resolve(r.Context(), key)

	if r.URL.Query().Get("ng") != "0" {
		snapshot = h.applyStoredNG(r.Context(), snapshot)
	}

	w.Header().Set(dto.HeaderRankingSource, string(snapshot.Source))
	if d := snapshot.Diagnostics; d != nil {
		w.Header().Set(dto.HeaderFallbackKind, string(d.ErrorKind))
		w.Header().Set(dto.HeaderFallbackError, headerSafe(d.Error))
		w.Header().Set("Cache-Control", cacheControlNoStore)
	} else {
		w.Header().Set("Cache-Control", cacheControlLive)
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *handlers) applyStoredNG(ctx context.Context, snapshot *dto.RankingSnapshot) *dto.RankingSnapshot {
	if h.deps.NG == nil {
		return snapshot
	}
	list, err := h.deps.NG.Get(ctx)
	if err != nil {
		zap.S().Warnw("ng list unavailable, serving unfiltered", "error", err, "requestId", RequestIDFrom(ctx))
		return snapshot
	}

	res := ngfilter.Apply(snapshot.Items, list, ngfilter.FoldCase(h.deps.NGFoldCase))
	for rule, n := range res.Excluded {
		metrics.RecordNGExclusion(string(rule), n)
	}
	if len(res.Derived) > 0 && h.deps.Derived != nil {
		h.deps.Derived.Add(res.Derived)
	}

	filtered := *snapshot
	filtered.Items = res.Items
	return &filtered
}

type filterRequest struct {
	Items  []dto.RankingItem `json:"items"`
	NGList *dto.NGList       `json:"ngList"`
}

type filterResponse struct {
	Items           []dto.RankingItem `json:"items"`
	DerivedVideoIDs []string          `json:"derivedVideoIds"`
}

// handleFilter фильтрует переданные элементы переданным NG-списком,
// ничего не сохраняя.
func (h *handlers) handleFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	items, derived := ngfilter.Filter(req.Items, req.NGList, ngfilter.FoldCase(h.deps.NGFoldCase))
	if items == nil {
		items = []dto.RankingItem{}
	}
	if derived == nil {
		derived = []string{}
	}
	writeJSON(w, http.StatusOK, filterResponse{Items: items, DerivedVideoIDs: derived})
}

func (h *handlers) handleGetNG(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.NG.Get(r.Context())
	if err != nil {
		h.storeError(w, r, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) handleReplaceNG(w http.ResponseWriter, r *http.Request) {
	var rules dto.NGRules
	if !decodeJSON(w, r, &rules) {
		return
	}
	h.respondList(w, r, "replace", func(ctx context.Context) (*dto.NGList, error) {
		return h.deps.NG.Replace(ctx, rules)
	})
}

func (h *handlers) handleAddRules(w http.ResponseWriter, r *http.Request) {
	var rules dto.NGRules
	if !decodeJSON(w, r, &rules) {
		return
	}
	if rules.Empty() {
		writeError(w, http.StatusBadRequest, "empty rules")
		return
	}
	h.respondList(w, r, "add", func(ctx context.Context) (*dto.NGList, error) {
		return h.deps.NG.AddRules(ctx, rules)
	})
}

func (h *handlers) handleRemoveRules(w http.ResponseWriter, r *http.Request) {
	var rules dto.NGRules
	if !decodeJSON(w, r, &rules) {
		return
	}
	if rules.Empty() {
		writeError(w, http.StatusBadRequest, "empty rules")
		return
	}
	h.respondList(w, r, "remove", func(ctx context.Context) (*dto.NGList, error) {
		return h.deps.NG.RemoveRules(ctx, rules)
	})
}

func (h *handlers) handleClearDerived(w http.ResponseWriter, r *http.Request) {
	h.respondList(w, r, "clear derived", h.deps.NG.ClearDerived)
}

func (h *handlers) respondList(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context) (*dto.NGList, error)) {
	list, err := fn(r.Context())
	if err != nil {
		h.storeError(w, r, op, err)
		return
	}
	zap.S().Infow("ng list updated", "op", op, "requestId", RequestIDFrom(r.Context()))
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) storeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	zap.S().Errorw(alert.Prefix("Ошибка NG-хранилища"), "op", op, "error", err, "requestId", RequestIDFrom(r.Context()))
	writeError(w, http.StatusServiceUnavailable, "ng store unavailable")
}

type refreshResponse struct {
	Key       string     `json:"key,omitempty"`
	Items     int        `json:"items"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	Refreshed int        `json:"refreshed,omitempty"`
	Failed    int        `json:"failed,omitempty"`
	Bundled   int        `json:"bundled,omitempty"`
}

// handleRefresh — точка входа планировщика.
// С параметром genre обновляется один ключ, без него выполняется полный
// проход прогрева с публикацией бандла.
func (h *handlers) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("genre") == "" {
		h.refreshAll(w, r)
		return
	}

	key, err := parseKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snapshot, err := h.deps.Resolver.Refresh(r.Context(), key)
	if err != nil {
		zap.S().Warnw("refresh failed", "key", key.String(), "error", err)
		writeJSON(w, http.StatusBadGateway, dto.APIError{Error: err.Error(), Kind: upstream.KindOf(err)})
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Key: key.String(), Items: len(snapshot.Items), UpdatedAt: &snapshot.UpdatedAt})
}

func (h *handlers) refreshAll(w http.ResponseWriter, r *http.Request) {
	if h.deps.Warmer == nil {
		writeError(w, http.StatusBadRequest, "genre is required")
		return
	}
	report, err := h.deps.Warmer.WarmOnce(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, dto.APIError{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Refreshed: report.Refreshed, Failed: report.Failed, Bundled: report.Bundled})
}

// headerSafe убирает переводы строк и обрезает значение для заголовка.
func headerSafe(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, s)
	if len(s) > maxFallbackErrorLen {
		s = strings.ToValidUTF8(s[:maxFallbackErrorLen], "")
	}
	return s
}
