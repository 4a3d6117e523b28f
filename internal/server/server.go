package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/servicepad/servicepad/internal/audit"
	auditdomain "github.com/servicepad/servicepad/internal/audit/domain"
	"github.com/servicepad/servicepad/internal/client"
	"github.com/servicepad/servicepad/internal/config"
	"github.com/servicepad/servicepad/internal/dispatch"
	"github.com/servicepad/servicepad/internal/document"
	docdomain "github.com/servicepad/servicepad/internal/document/domain"
	"github.com/servicepad/servicepad/internal/notify"
	"github.com/servicepad/servicepad/internal/observability"
	"github.com/servicepad/servicepad/internal/payment"
	paydomain "github.com/servicepad/servicepad/internal/payment/domain"
	"github.com/servicepad/servicepad/internal/sequence"
	"github.com/servicepad/servicepad/internal/upsell"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	observability.Module,
	audit.Module,
	client.Module,
	notify.Module,
	sequence.Module,
	upsell.Module,
	document.Module,
	payment.Module,
	dispatch.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, cfg config.Config) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger, cfg config.Config) *gin.Engine {
	return NewEngine(log, cfg)
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
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
	engine     *gin.Engine
	cfg        config.Config
	docSvc     docdomain.Service
	paySvc     paydomain.Service
	auditSvc   auditdomain.Service
	dispatcher *dispatch.Dispatcher
	clients    client.Directory
	catalog    *upsell.Catalog
	metrics    *observability.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DocSvc     docdomain.Service
	PaySvc     paydomain.Service
	AuditSvc   auditdomain.Service
	Dispatcher *dispatch.Dispatcher
	Clients    client.Directory
	Catalog    *upsell.Catalog
	Metrics    *observability.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		docSvc:     p.DocSvc,
		paySvc:     p.PaySvc,
		auditSvc:   p.AuditSvc,
		dispatcher: p.Dispatcher,
		clients:    p.Clients,
		catalog:    p.Catalog,
		metrics:    p.Metrics,
	}

	api := p.Gin.Group("/api/v1")
	{
		api.GET("/documents", s.ListDocuments)
		api.POST("/documents", s.SaveDraft)
		api.GET("/documents/:id", s.GetDocument)
		api.GET("/documents/:id/preview", s.PreviewDocument)
		api.GET("/documents/:id/pdf", s.DocumentPDF)
		api.POST("/documents/:id/convert", s.ConvertEstimate)
		api.POST("/documents/:id/send", s.SendDocument)
		api.GET("/documents/:id/verify", s.VerifyDocument)

		api.GET("/documents/:id/payments", s.ListPayments)
		api.POST("/documents/:id/payments", s.RecordPayment)
		api.POST("/payments/:id/refund", s.RefundPayment)
		api.DELETE("/payments/:id", s.DeletePayment)

		api.GET("/upsells", s.ListUpsells)
		api.GET("/history", s.ListHistory)
	}

	return s
}
