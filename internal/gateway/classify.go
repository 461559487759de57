package gateway

import (
	"strings"

	"ranking-cache-service/internal/config"
)

// RouteClass — группа маршрутов со своим лимитом.
type RouteClass string

const (
	ClassStatic RouteClass = "static" // не считается
	ClassAdmin  RouteClass = "admin"
	ClassAPI    RouteClass = "api"
	ClassPage   RouteClass = "page"
)

// Classifier раскладывает путь по классам по префиксам.
// Порядок проверки: static, admin, api; всё остальное — page.
type Classifier struct {
	static []string
	admin  []string
	api    []string
}

func NewClassifier(cfg config.GatewayConfig) *Classifier {
	return &Classifier{static: cfg.StaticPrefixes, admin: cfg.AdminPrefixes, api: cfg.APIPrefixes}
}

func (c *Classifier) Classify(path string) RouteClass {
	switch {
	case hasAnyPrefix(path, c.static):
		return ClassStatic
	case hasAnyPrefix(path, c.admin):
		return ClassAdmin
	case hasAnyPrefix(path, c.api):
		return ClassAPI
	default:
		return ClassPage
	}
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// limitFor returns the per-window threshold of a class; 0 means unlimited.
func limitFor(limits config.RouteLimits, class RouteClass) int {
	switch class {
	case ClassAdmin:
		return limits.Admin
	case ClassAPI:
		return limits.API
	case ClassPage:
		return limits.Page
	default:
		return 0
	}
}
