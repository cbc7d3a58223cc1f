package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/paycore/internal/config"
	"github.com/smallbiznis/paycore/internal/observability"
	obsmiddleware "github.com/smallbiznis/paycore/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paycore/internal/observability/metrics"
	obstracing "github.com/smallbiznis/paycore/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/smallbiznis/paycore/internal/payment/ledger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(func(l *ledger.Ledger) ReviewQueue { return l }),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

// ReviewQueue lists webhook deliveries waiting on an operator.
type ReviewQueue interface {
	ListReviewQueue(ctx context.Context, limit int) ([]paymentdomain.WebhookDelivery, error)
}

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type registerGinParams struct {
	fx.In

	ObsCfg      observability.Config
	HTTPMetrics *obsmetrics.HTTPMetrics `optional:"true"`
}

func registerGin(p registerGinParams) *gin.Engine {
	if p.ObsCfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(p.ObsCfg, p.HTTPMetrics)
}

func run(lc fx.Lifecycle, s *Server, log *zap.Logger) {
	addr := s.cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log = log.Named("http.server")

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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
	engine     *gin.Engine
	cfg        config.Config
	paymentSvc paymentdomain.Service
	webhooks   paymentdomain.WebhookHandler
	reviews    ReviewQueue
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	PaymentSvc paymentdomain.Service
	Webhooks   paymentdomain.WebhookHandler
	Reviews    ReviewQueue
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		paymentSvc: p.PaymentSvc,
		webhooks:   p.Webhooks,
		reviews:    p.Reviews,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")

	// -------- Payment Intents --------
	api.POST("/payment_intents", s.CreatePaymentIntent)
	api.GET("/payment_intents/:id", s.GetPaymentIntent)
	api.POST("/payment_intents/:id/confirm", s.ConfirmPaymentIntent)
	api.POST("/payment_intents/:id/cancel", s.CancelPaymentIntent)

	// -------- Refunds --------
	api.POST("/refunds", s.CreateRefund)

	// -------- Customers --------
	api.POST("/customers", s.CreateCustomer)
	api.POST("/customers/:id/payment_methods", s.AddPaymentMethod)

	// -------- Subscriptions --------
	api.POST("/subscriptions", s.CreateSubscription)
	api.POST("/subscriptions/:id/cancel", s.CancelSubscription)
	api.GET("/subscriptions/:id/invoices", s.ListInvoices)

	// -------- Analytics --------
	api.GET("/analytics/summary", s.GetAnalyticsSummary)

	// -------- Webhook Review --------
	api.GET("/webhooks/review", s.ListWebhookReviews)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
