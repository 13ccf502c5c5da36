package router

import (
	"fmt"

	"github.com/erp/batchalloc/internal/infrastructure/logger"
	"github.com/erp/batchalloc/internal/interfaces/http/handler"
	"github.com/erp/batchalloc/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// EngineConfig configures the gin engine and its middleware chain
type EngineConfig struct {
	Release          bool
	TrustedProxies   []string
	MaxBodySize      int64
	ServiceName      string
	TracingEnabled   bool
	ProfilingEnabled bool
	HSTSEnabled      bool
	Swagger          middleware.SwaggerConfig
	Logger           *zap.Logger
	Meter            metric.Meter
}

// NewEngine creates a gin engine with the common middleware installed in order:
// request id, recovery, tracing, access log, metrics, profiling labels, security headers
// and body limit.
func NewEngine(cfg EngineConfig) (*gin.Engine, error) {
	if cfg.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := middleware.SetupValidator(); err != nil {
		return nil, fmt.Errorf("setup validator: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	// nil trusts no proxy: ClientIP falls back to the remote address
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("set trusted proxies: %w", err)
	}

	tracing := middleware.DefaultTracingConfig()
	tracing.Enabled = cfg.TracingEnabled
	if cfg.ServiceName != "" {
		tracing.ServiceName = cfg.ServiceName
	}
	profiling := middleware.DefaultProfilingConfig()
	profiling.Enabled = cfg.ProfilingEnabled
	security := middleware.DefaultSecurityConfig()
	security.HSTSEnabled = cfg.HSTSEnabled

	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.TracingWithConfig(tracing))
	if cfg.TracingEnabled {
		engine.Use(middleware.TracingAttributeInjector())
		engine.Use(middleware.SpanErrorMarker())
	}
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.HTTPMetrics(cfg.Meter))
	engine.Use(middleware.ProfilingWithConfig(profiling))
	engine.Use(middleware.SecureWithConfig(security))
	if cfg.MaxBodySize > 0 {
		engine.Use(middleware.BodyLimit(cfg.MaxBodySize))
	}

	engine.GET("/swagger/*any", middleware.SwaggerProtection(cfg.Swagger), ginSwagger.WrapHandler(swaggerFiles.Handler))
	return engine, nil
}

// Handlers groups the HTTP handlers of the allocation API
type Handlers struct {
	Health    *handler.HealthHandler
	Batch     *handler.BatchHandler
	Inventory *handler.InventoryHandler
	Order     *handler.OrderHandler
}

// Mount registers the health probe at the root and every domain group under /api/<version>
func Mount(engine *gin.Engine, h Handlers, opts ...RouterOption) *Router {
	if h.Health != nil {
		engine.GET("/health", h.Health.Health)
	}

	r := NewRouter(engine, opts...)
	for _, group := range h.Groups() {
		r.Register(group)
	}
	r.Setup()
	return r
}

// Groups returns the domain route groups of the configured handlers
func (h Handlers) Groups() []*DomainGroup {
	var groups []*DomainGroup

	if h.Batch != nil {
		batches := NewDomainGroup("batches", "/batches")
		batches.POST("", h.Batch.Create)
		batches.GET("", h.Batch.List)
		batches.GET("/:id", h.Batch.Get)
		batches.PATCH("/:id", h.Batch.Update)
		groups = append(groups, batches)
	}

	if h.Inventory != nil {
		inventory := NewDomainGroup("inventory", "/inventory")
		inventory.GET("/availability", h.Inventory.Availability)
		groups = append(groups, inventory)
	}

	if h.Order != nil {
		orders := NewDomainGroup("orders", "/orders")
		orders.POST("", h.Order.Create)
		orders.GET("", h.Order.Lookup)
		orders.GET("/:id", h.Order.Get)
		orders.PATCH("/:id/status", h.Order.UpdateStatus)
		groups = append(groups, orders)
	}

	return groups
}
