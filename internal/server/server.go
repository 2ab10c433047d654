// Package server exposes the bridge admin endpoints: health and metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/elanbridge/internal/auth"
	"github.com/danmuck/elanbridge/internal/bridge"
	"github.com/danmuck/elanbridge/internal/logging"
	"github.com/danmuck/elanbridge/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// StatusSource reports the current process status.
type StatusSource interface {
	Status() bridge.Status
}

type Config struct {
	Listen string
	// Token guards every route when set. Empty leaves the server open.
	Token   string
	Origins []string
}

type Server struct {
	cfg    Config
	source StatusSource
	log    zerolog.Logger
	router *gin.Engine
}

func New(cfg Config, source StatusSource) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	log := logging.Component("admin")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminRequests(log))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.Origins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{cfg: cfg, source: source, log: log, router: r}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	routes := s.router.Group("/")
	if s.cfg.Token != "" {
		routes.Use(requireToken(auth.StaticToken{Token: s.cfg.Token}))
	}

	routes.GET("/health", func(c *gin.Context) {
		st := s.source.Status()
		code := http.StatusOK
		if st.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, st)
	})
	routes.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func requireToken(v auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if err := v.Validate(token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("listen", s.cfg.Listen).Msg("admin server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info().Msg("admin server stopped")
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:8123"}
	}
	return origins
}
