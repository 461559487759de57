package upstream

import (
	"net/http"

	"ranking-cache-service/internal/config"
)

type RequestKind int

const (
	RequestPage RequestKind = iota // HTML-страница рейтинга
	RequestFeed                    // RSS-лента
)

// AccessStrategy decorates every outgoing upstream request. The upstream gates
// access on client identity, so the whole pipeline depends on this one seam;
// replacing the strategy must not touch anything else.
type AccessStrategy interface {
	Apply(req *http.Request, kind RequestKind)
}

// CrawlerAccess sends a crawler User-Agent and, for HTML pages, the
// mature-content consent cookie. Both values go out exactly as configured.
type CrawlerAccess struct {
	UserAgent string
	Cookie    string
}

func (a CrawlerAccess) Apply(req *http.Request, kind RequestKind) {
	req.Header.Set("User-Agent", a.UserAgent)
	if kind == RequestPage && a.Cookie != "" {
		req.Header.Set("Cookie", a.Cookie)
	}
}

// DirectAccess identifies as a plain client without any consent cookie.
type DirectAccess struct {
	UserAgent string
}

func (a DirectAccess) Apply(req *http.Request, _ RequestKind) {
	if a.UserAgent != "" {
		req.Header.Set("User-Agent", a.UserAgent)
	}
}

func NewAccessStrategy(cfg config.AccessConfig) AccessStrategy {
	if cfg.Strategy == "direct" {
		return DirectAccess{UserAgent: cfg.UserAgent}
	}
	return CrawlerAccess{UserAgent: cfg.UserAgent, Cookie: cfg.Cookie}
}
