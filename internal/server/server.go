package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/payflow/internal/checkout"
	"github.com/smallbiznis/payflow/internal/checkout/channel"
	"github.com/smallbiznis/payflow/internal/checkout/draft"
	"github.com/smallbiznis/payflow/internal/checkout/session"
	"github.com/smallbiznis/payflow/internal/checkout/surface"
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/observability"
	obsmiddleware "github.com/smallbiznis/payflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/payflow/internal/observability/metrics"
	"github.com/smallbiznis/payflow/internal/ratelimit"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	checkout.Module,
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	sessions *session.Service
	direct   *channel.DirectChannel
	blobs    *surface.BlobStore
	drafts   draft.Store
	limiter  *ratelimit.CallbackLimiter
}

type ServerParams struct {
	fx.In

	Gin      *gin.Engine
	Cfg      config.Config
	Sessions *session.Service
	Direct   *channel.DirectChannel
	Blobs    *surface.BlobStore
	Drafts   draft.Store
	Limiter  *ratelimit.CallbackLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:   p.Gin,
		cfg:      p.Cfg,
		sessions: p.Sessions,
		direct:   p.Direct,
		blobs:    p.Blobs,
		drafts:   p.Drafts,
		limiter:  p.Limiter,
	}

	svc.registerCheckoutRoutes()
	svc.registerSurfaceRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerCheckoutRoutes() {
	api := s.engine.Group("/api/v1")

	api.POST("/checkout", s.SubmitCheckout)
	api.GET("/checkout", s.GetCheckout)
	api.GET("/checkout/surface", s.GetSurface)
	api.POST("/checkout/:orderNumber/status", s.CheckStatus)
	api.POST("/checkout/:orderNumber/cancel", s.CancelCheckout)
	api.POST("/checkout/:orderNumber/ack", s.AcknowledgeResult)

	api.GET("/checkout/draft/:clientId", s.GetDraft)
	api.PUT("/checkout/draft/:clientId", s.SaveDraft)

	// The challenge surface and its injected script report back here.
	api.POST("/payments/callback", s.PaymentCallback)
}

func (s *Server) registerSurfaceRoutes() {
	s.engine.GET("/surface/blob/:key", s.ServeSurfaceBlob)
}
