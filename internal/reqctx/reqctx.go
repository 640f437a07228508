// Package reqctx implements RequestContext: a per-request handle exposing
// the db/cache handles every manager was built against plus the caller's
// IP, resolved per spec.md §6's header-preference chain. No handler in
// this module builds a Context; internal/httpapi calls ResolveIP directly.
package reqctx

import (
	"net"
	"net/http"
	"strings"

	"github.com/akatsuki/bancho/internal/cache"
	"github.com/akatsuki/bancho/internal/store/pg"
)

// Context is RequestContext: a thin, per-request bundle of the shared
// handles and the resolved caller IP.
type Context struct {
	DB    *pg.DB
	Cache *cache.Client
	IP    string
}

// New builds a Context for one request, resolving the caller's address.
func New(r *http.Request, db *pg.DB, cacheClient *cache.Client) Context {
	return Context{DB: db, Cache: cacheClient, IP: ResolveIP(r)}
}

// ResolveIP returns the best-guess client address, preferring
// CF-Connecting-IP (set by Cloudflare, unspoofable once behind their edge),
// then the left-most X-Forwarded-For hop, then the raw transport peer
// address, matching spec.md §6.
func ResolveIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
