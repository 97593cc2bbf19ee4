// Package server exposes the metering and billing pipeline over HTTP.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	aggregationdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/aggregation/domain"
	billingdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/billing/domain"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/config"
	meteringdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/metering/domain"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/pricing"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/ratelimit"
)

type ServerParam struct {
	fx.In

	Log         *zap.Logger
	Config      config.Config
	Metering    meteringdomain.Service
	Aggregation aggregationdomain.Service
	Billing     billingdomain.Service
	Rates       *pricing.ExchangeRates
	Limiter     *ratelimit.Limiter
}

type Server struct {
	log         *zap.Logger
	cfg         config.Config
	metering    meteringdomain.Service
	aggregation aggregationdomain.Service
	billing     billingdomain.Service
	rates       *pricing.ExchangeRates
	limiter     *ratelimit.Limiter
}

func NewServer(p ServerParam) *Server {
	return &Server{
		log:         p.Log.Named("server"),
		cfg:         p.Config,
		metering:    p.Metering,
		aggregation: p.Aggregation,
		billing:     p.Billing,
		rates:       p.Rates,
		limiter:     p.Limiter,
	}
}

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	return engine
}

func (s *Server) RegisterAPIRoutes(engine *gin.Engine) {
	engine.GET("/healthz", s.Health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api")

	usage := api.Group("/usage")
	usage.POST("", s.RecordUsage)
	usage.POST("/batch", s.RecordUsageBatch)
	usage.POST("/flush", s.FlushUsage)

	tenants := api.Group("/tenants/:tenant_id")
	tenants.GET("/usage", s.GetUsageSummary)
	tenants.GET("/meters/:meter_type", s.GetReading)
	tenants.POST("/meters/:meter_type/reset", s.ResetMeter)
	tenants.POST("/reset", s.ResetAllMeters)
	tenants.GET("/aggregates", s.GetAggregates)
	tenants.GET("/summary", s.GetTenantSummary)
	tenants.GET("/trend", s.GetTrend)
	tenants.GET("/statistics", s.GetStatistics)

	billing := api.Group("/billing")
	billing.POST("/calculate", s.CalculateBilling)
	billing.POST("/prorata", s.CalculateProRata)
	billing.POST("/preview", s.GenerateInvoicePreview)
	billing.DELETE("/cache", s.ClearBillingCache)
	billing.PUT("/exchange-rates", s.UpdateExchangeRate)
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": s.cfg.App.Name})
}

func RunHTTP(lc fx.Lifecycle, log *zap.Logger, cfg config.Config, engine *gin.Engine) {
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

var Module = fx.Module("server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server, engine *gin.Engine) {
		s.RegisterAPIRoutes(engine)
	}),
	fx.Invoke(RunHTTP),
)
