package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/commerce-sync/internal/middleware"
	"example.com/commerce-sync/pkg/metrics"
)

// ReadinessChecker — функция проверки готовности сервиса.
type ReadinessChecker func(ctx context.Context) error

// Router — конфигурация HTTP роутера сервиса.
type Router struct {
	engine         *gin.Engine
	webhookHandler *WebhookHandler
	adminHandler   *AdminHandler
	authMW         *middleware.AuthMiddleware
	rateLimitMW    *middleware.RateLimitMiddleware
	readinessCheck ReadinessChecker
}

// RouterConfig — параметры для создания роутера.
type RouterConfig struct {
	WebhookHandler *WebhookHandler
	AdminHandler   *AdminHandler
	AuthMW         *middleware.AuthMiddleware
	RateLimitMW    *middleware.RateLimitMiddleware
	ReadinessCheck ReadinessChecker // опциональная проверка готовности для /readyz
	Debug          bool             // Режим отладки Gin
}

// NewRouter создаёт и настраивает HTTP роутер.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(gin.Recovery())

	// OpenTelemetry tracing — создаёт spans для Jaeger
	engine.Use(otelgin.Middleware("commerce-sync"))

	// Prometheus метрики — requests_total, request_duration_seconds
	engine.Use(metrics.GinMetricsMiddleware("commerce-sync"))

	r := &Router{
		engine:         engine,
		webhookHandler: cfg.WebhookHandler,
		adminHandler:   cfg.AdminHandler,
		authMW:         cfg.AuthMW,
		rateLimitMW:    cfg.RateLimitMW,
		readinessCheck: cfg.ReadinessCheck,
	}

	r.setupRoutes()
	return r
}

// setupRoutes настраивает все маршруты API.
func (r *Router) setupRoutes() {
	// Health endpoints (без rate limiting и auth)
	r.engine.GET("/healthz", r.livenessCheck)
	r.engine.GET("/readyz", r.readinessCheckHandler)

	// === Webhook endpoint (публичный, подпись HMAC в теле) ===
	wh := r.engine.Group("/webhook")
	if r.rateLimitMW != nil {
		wh.Use(r.rateLimitMW.Handle())
	}
	wh.POST("", r.webhookHandler.Receive)

	// === Операторский API (защищённый JWT) ===
	admin := r.engine.Group("/api/v1/admin")
	if r.authMW != nil {
		admin.Use(r.authMW.Handle())
	}
	{
		admin.GET("/dead-letters", r.adminHandler.ListDeadLetters)
		admin.GET("/dead-letters/stats", r.adminHandler.DeadLetterStats)
		admin.GET("/dead-letters/export", r.adminHandler.ExportDeadLetters)
		admin.POST("/dead-letters/replay", r.adminHandler.BatchReplayDeadLetters)
		admin.POST("/dead-letters/delete", r.adminHandler.BatchDeleteDeadLetters)
		admin.POST("/dead-letters/:id/replay", r.adminHandler.ReplayDeadLetter)
		admin.DELETE("/dead-letters/:id", r.adminHandler.DeleteDeadLetter)
		admin.DELETE("/dead-letters", r.adminHandler.PurgeDeadLetters)

		admin.GET("/sync/stats", r.adminHandler.SyncQueueStats)
	}
}

// livenessCheck — liveness probe: процесс жив.
func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessCheckHandler — readiness probe: зависимости доступны.
func (r *Router) readinessCheckHandler(c *gin.Context) {
	if r.readinessCheck != nil {
		if err := r.readinessCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Engine возвращает настроенный gin.Engine.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}
