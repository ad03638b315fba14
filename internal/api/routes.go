package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/api/handlers"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/api/middleware"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/services"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/pkg/metrics"
)

type Router struct {
	engine         *gin.Engine
	logger         *zap.Logger
	metrics        *metrics.MetricsCollector
	requestHandler *handlers.RequestHandler
	signerHandler  *handlers.SignerHandler
	webhookHandler *handlers.WebhookHandler
	reqMiddleware  *middleware.RequestMiddleware
}

func NewRouter(
	logger *zap.Logger,
	metricsCollector *metrics.MetricsCollector,
	requestService *services.RequestService,
	signerService *services.SignerService,
	auditService *services.AuditService,
	webhookSecret string,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	reqMiddleware := middleware.NewRequestMiddleware(logger)
	engine.Use(reqMiddleware.ProcessRequest())
	engine.Use(reqMiddleware.RecoverPanic())

	requestHandler := handlers.NewRequestHandler(requestService, auditService, logger)
	signerHandler := handlers.NewSignerHandler(signerService, requestService, logger)
	webhookHandler := handlers.NewWebhookHandler(signerService, webhookSecret, logger)

	return &Router{
		engine:         engine,
		logger:         logger,
		metrics:        metricsCollector,
		requestHandler: requestHandler,
		signerHandler:  signerHandler,
		webhookHandler: webhookHandler,
		reqMiddleware:  reqMiddleware,
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "up", "name": "signing-workflow"})
	})

	r.engine.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"counters":  r.metrics.GetCounters(),
			"gauges":    r.metrics.GetGauges(),
			"latencies": r.metrics.GetLatencies(),
		})
	})

	requests := r.engine.Group("/requests")
	{
		requests.POST("", r.requestHandler.CreateRequest)
		requests.GET("", r.requestHandler.ListRequests)
		requests.GET("/:id", r.requestHandler.GetRequest)
		requests.GET("/:id/audit", r.requestHandler.ListAudit)
		requests.POST("/:id/send", r.requestHandler.SendForSignature)
		requests.POST("/:id/cancel", r.requestHandler.CancelRequest)
		requests.DELETE("/:id", r.requestHandler.DeleteRequest)

		requests.POST("/:id/signers/:signerID/sign", r.signerHandler.Sign)
		requests.POST("/:id/signers/:signerID/decline", r.signerHandler.Decline)
		requests.POST("/:id/signers/:signerID/delegate", r.signerHandler.Delegate)
		requests.POST("/:id/signers/:signerID/viewed", r.signerHandler.RecordViewed)
		requests.POST("/:id/signers/:signerID/resend", r.signerHandler.Resend)
	}

	r.engine.POST("/webhooks/provider", r.webhookHandler.HandleProviderEvent)
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

func (r *Router) Run(addr string) error {
	r.logger.Info("Starting HTTP server", zap.String("address", addr))
	return r.engine.Run(addr)
}
