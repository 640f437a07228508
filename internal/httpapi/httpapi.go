// Package httpapi is the HTTP-facing surface spec.md §6 describes: the
// `POST /`/`GET /` Bancho protocol endpoint and the `/api/v1/*` JSON
// surface, built on github.com/gin-gonic/gin (the teacher's primary HTTP
// framework, as in the teacher's setupRESTServer), with
// github.com/rs/cors gating the JSON surface and promhttp exporting
// /metrics — the same three dependencies the teacher already carried, now
// serving this domain instead of the proxy/GraphQL one.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/akatsuki/bancho/internal/dispatch"
	"github.com/akatsuki/bancho/internal/logger"
	"github.com/akatsuki/bancho/internal/login"
	"github.com/akatsuki/bancho/internal/match"
	"github.com/akatsuki/bancho/internal/session"
	"github.com/akatsuki/bancho/internal/store/pg"
)

// maxBodyBytes enforces spec.md §6's "Body ≤ 10 MiB" rule for POST /.
const maxBodyBytes = 10 << 20

const banner = `<!DOCTYPE html>
<html><head><title>bancho</title></head>
<body><pre>
                      welcome to bancho

     o.o    this server speaks the osu! bancho protocol
    (---)   it does not serve a browsable web site here
</pre></body></html>
`

// Server is the gin-backed HTTP surface wired in cmd/server/main.go.
type Server struct {
	engine     *gin.Engine
	sessions   *session.Registry
	users      *pg.UserStore
	matches    *match.Manager
	dispatcher *dispatch.Dispatcher
	pipeline   *login.Pipeline
	log        *logger.Logger
}

// New builds the gin engine and registers every route. corsOrigins is the
// origin list already split out of config.CORSAllowedOrigins ("*" by
// default) by cmd/server/main.go's splitOrigins.
func New(
	sessions *session.Registry,
	users *pg.UserStore,
	matches *match.Manager,
	dispatcher *dispatch.Dispatcher,
	pipeline *login.Pipeline,
	corsOrigins []string,
	log *logger.Logger,
) *Server {
	s := &Server{
		sessions: sessions, users: users, matches: matches,
		dispatcher: dispatcher, pipeline: pipeline, log: log.WithComponent("httpapi"),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.accessLog())

	engine.GET("/", s.handleBanner)
	engine.POST("/", s.handleBanchoRequest)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet},
	})

	v1 := engine.Group("/api/v1")
	v1.Use(func(c *gin.Context) {
		corsMiddleware.HandlerFunc(c.Writer, c.Request)
		c.Next()
	})
	v1.GET("/is_online", s.handleIsOnline)
	v1.GET("/online_users", s.handleOnlineUsers)
	v1.GET("/server_status", s.handleServerStatus)
	v1.GET("/verified_status", s.handleVerifiedStatus)
	v1.GET("/player_match_details", s.handlePlayerMatchDetails)

	s.engine = engine
	return s
}

// accessLog is a minimal structured request logger in the teacher's
// slog-through-internal/logger idiom, replacing gin's default text logger.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request",
			"method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "duration", time.Since(start).String())
	}
}

func (s *Server) handleBanner(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(banner))
}

// Handler returns the underlying http.Handler for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run starts an http.Server bound to addr and blocks until it exits or ctx
// is canceled, at which point it shuts down gracefully within
// shutdownTimeout, mirroring the teacher's cmd/server/main.go lifecycle.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("httpapi listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
