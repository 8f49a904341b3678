package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/quotaguard/internal/clock"
	"github.com/smallbiznis/quotaguard/internal/completion"
	"github.com/smallbiznis/quotaguard/internal/config"
	"github.com/smallbiznis/quotaguard/internal/observability"
	obslogger "github.com/smallbiznis/quotaguard/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/quotaguard/internal/observability/metrics"
	obstracing "github.com/smallbiznis/quotaguard/internal/observability/tracing"
	"github.com/smallbiznis/quotaguard/internal/ratelimit"
	usagedomain "github.com/smallbiznis/quotaguard/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
		ProbePaths:      obsCfg.ProbePaths(),
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET(obsCfg.HealthRoute(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET(obsCfg.MetricsRoute(), gin.WrapH(httpMetrics.Handler()))

	return r
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	clock       clock.Clock
	limiter     *ratelimit.Limiter
	featureLock *ratelimit.FeatureLock
	usagesvc    usagedomain.Service
	completion  completion.Client

	background sync.WaitGroup
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	Clock       clock.Clock
	Limiter     *ratelimit.Limiter
	FeatureLock *ratelimit.FeatureLock `optional:"true"`
	Usagesvc    usagedomain.Service
	Completion  completion.Client
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http.server"),
		clock:       p.Clock,
		limiter:     p.Limiter,
		featureLock: p.FeatureLock,
		usagesvc:    p.Usagesvc,
		completion:  p.Completion,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.GET("/usage", s.RateLimit(ratelimit.FeatureAPI), UserRequired(), s.GetUsage)
	api.GET("/usage/features/:feature", s.RateLimit(ratelimit.FeatureAPI), UserRequired(), s.GetFeatureUsage)
	api.POST("/usage/features/:feature", s.RateLimit(ratelimit.FeatureFeatures), UserRequired(), s.UseFeature)

	api.POST("/chat", s.RateLimit(ratelimit.FeatureChat), UserRequired(), s.Chat)
	api.POST("/uploads/check", s.RateLimit(ratelimit.FeatureUpload), s.CheckUpload)
}

// WaitBackground blocks until detached ledger writes finish or ctx ends.
func (s *Server) WaitBackground(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, s *Server) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			s.log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if err := s.WaitBackground(shutdownCtx); err != nil {
				s.log.Warn("pending usage writes abandoned", zap.Error(err))
			}
			return nil
		},
	})
}
