package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/helixchat/helix/internal/cache"
	"github.com/helixchat/helix/internal/common/config"
	"github.com/helixchat/helix/internal/conversation"
	"github.com/helixchat/helix/internal/ratelimit"
	"github.com/helixchat/helix/internal/relay"
	"github.com/helixchat/helix/internal/stream"
	"github.com/helixchat/helix/pkg/metrics"
	"github.com/helixchat/helix/pkg/version"
)

// Server is the HTTP front of the gateway. It owns the router; the relay,
// stores and limiter are injected.
type Server struct {
	logger   *zap.Logger
	cfg      *config.Config
	router   *gin.Engine
	relay    *relay.Relay
	db       conversation.Database
	cache    *cache.Coordinator
	registry *stream.Registry
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics

	httpSrv *http.Server
}

// NewServer assembles the router and handlers.
func NewServer(
	logger *zap.Logger,
	cfg *config.Config,
	rly *relay.Relay,
	db conversation.Database,
	coord *cache.Coordinator,
	registry *stream.Registry,
	limiter *ratelimit.Limiter,
	m *metrics.Metrics,
) *Server {
	s := &Server{
		logger:   logger.Named("server"),
		cfg:      cfg,
		router:   gin.New(),
		relay:    rly,
		db:       db,
		cache:    coord,
		registry: registry,
		limiter:  limiter,
		metrics:  m,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.identityMiddleware())
	if s.cfg.Metrics.Enabled && s.metrics != nil {
		s.router.Use(s.metrics.Middleware())
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	s.router.GET("/healthz", s.handleHealthz)

	api := s.router.Group("/api")

	chat := api.Group("")
	if s.cfg.RateLimit.Enabled {
		chat.Use(s.limiter.Middleware(s.cfg.RateLimit.Chat))
	}
	chat.POST("/chat", s.handleChat)

	rest := api.Group("")
	if s.cfg.RateLimit.Enabled {
		rest.Use(s.limiter.Middleware(s.cfg.RateLimit.API))
	}
	rest.GET("/conversations", s.handleListConversations)
	rest.GET("/conversations/:id", s.handleGetConversation)
	rest.DELETE("/conversations/:id", s.handleDeleteConversation)
	rest.GET("/conversations/:id/messages", s.handleListMessages)
	rest.GET("/conversations/:id/files", s.handleListFiles)
	rest.POST("/conversations/:id/files", s.handleUploadFile)
	rest.DELETE("/conversations/:id/files/:fileId", s.handleDeleteFile)
	rest.GET("/streams", s.handleListStreams)
}

// identityMiddleware resolves the caller identity once per request so the
// limiter and handlers agree on it.
func (s *Server) identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid := c.GetHeader("X-User-ID"); uid != "" {
			c.Set(ratelimit.IdentityKey, uid)
		}
		c.Next()
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Get(),
	})
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the HTTP server until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
