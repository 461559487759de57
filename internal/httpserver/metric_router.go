package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMetricRouter возвращает служебный роутер: /metrics и /health.
// Живёт на отдельном порту и не проходит через gzip и лимиты API.
func NewMetricRouter() http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, metricsPath, promhttp.Handler())
	r.Get(healthPath, handleHealth)
	return r
}
