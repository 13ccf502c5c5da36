package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	inventoryapp "github.com/erp/batchalloc/internal/application/inventory"
	tradeapp "github.com/erp/batchalloc/internal/application/trade"
	"github.com/erp/batchalloc/internal/domain/inventory"
	"github.com/erp/batchalloc/internal/infrastructure/cache"
	"github.com/erp/batchalloc/internal/infrastructure/config"
	"github.com/erp/batchalloc/internal/infrastructure/event"
	"github.com/erp/batchalloc/internal/infrastructure/logger"
	"github.com/erp/batchalloc/internal/infrastructure/migration"
	"github.com/erp/batchalloc/internal/infrastructure/persistence"
	"github.com/erp/batchalloc/internal/infrastructure/scheduler"
	"github.com/erp/batchalloc/internal/infrastructure/telemetry"
	"github.com/erp/batchalloc/internal/interfaces/http/handler"
	"github.com/erp/batchalloc/internal/interfaces/http/middleware"
	"github.com/erp/batchalloc/internal/interfaces/http/router"
	"github.com/erp/batchalloc/migrations"
	"go.uber.org/zap"

	_ "github.com/erp/batchalloc/docs"
)

//	@title			Batch Allocation API
//	@version		1.0
//	@description	Reserves batch stock for orders, earliest expiry first, and tracks batch lifecycle.

//	@contact.name	API Support
//	@contact.url	https://github.com/erp/batchalloc

//	@license.name	Apache 2.0
//	@license.url	http://www.apache.org/licenses/LICENSE-2.0.html

//	@host		localhost:8080
//	@BasePath	/api/v1

const serviceVersion = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	ctx := context.Background()
	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
	log, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	// OTLP log export tees the zap logger once the provider is up
	logProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    serviceVersion,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize log exporter", zap.Error(err))
	}
	if logProvider.IsEnabled() {
		log, err = logger.New(logCfg, logger.WithCore(logProvider.ZapCore(logger.ParseLevel(cfg.Log.Level))))
		if err != nil {
			panic("Failed to initialize logger: " + err.Error())
		}
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting batch allocation service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("database", cfg.Database.Driver),
	)

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    serviceVersion,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    serviceVersion,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.ProfilingEnabled,
		ServerAddress:   cfg.Telemetry.PyroscopeEndpoint,
		ApplicationName: cfg.Telemetry.ServiceName,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	if profiler.IsEnabled() && tracerProvider.IsEnabled() {
		if err := tracerProvider.EnableSpanProfiles(); err != nil {
			log.Warn("Span profiles unavailable", zap.Error(err))
		}
	}
	meter := meterProvider.Meter("batchalloc")

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := prepareSchema(db, cfg, log); err != nil {
		log.Fatal("Failed to prepare schema", zap.Error(err))
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled {
		dbTracing := telemetry.DefaultDBTracingConfig()
		dbTracing.Enabled = true
		dbTracing.DBSystem = cfg.Database.Driver
		if cfg.Telemetry.DBSlowQueryThresh > 0 {
			dbTracing.SlowQueryThresh = cfg.Telemetry.DBSlowQueryThresh
		}
		if err := telemetry.NewDBTracingPlugin(dbTracing, log).RegisterOtelGorm(db.DB); err != nil {
			log.Warn("Database tracing unavailable", zap.Error(err))
		}
	}
	if sqlDB, err := db.DB.DB(); err == nil {
		if _, err := telemetry.RegisterDBPoolMetrics(meter, sqlDB); err != nil {
			log.Warn("Database pool metrics unavailable", zap.Error(err))
		}
	}
	log.Info("Database connected")

	idempotencyStore, err := cache.NewIdempotencyStore(ctx, cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	)
	if err != nil {
		log.Fatal("Failed to initialize idempotency store", zap.Error(err))
	}
	defer func() {
		_ = idempotencyStore.Close()
	}()

	allocationMetrics, err := telemetry.NewAllocationMetrics(meter)
	if err != nil {
		log.Fatal("Failed to register allocation metrics", zap.Error(err))
	}

	batchRepo := persistence.NewGormBatchRepository(db.DB)
	orderRepo := persistence.NewGormOrderRepository(db.DB)
	txManager := persistence.NewTxManager(db.DB)
	eventBus := event.NewInMemoryEventBus(log)

	lifecycle := inventory.NewLifecyclePolicy(inventory.WithNearExpiryWindow(cfg.Allocation.NearExpiryWindow()))
	reservationService := inventoryapp.NewReservationService(batchRepo, orderRepo, txManager, log,
		inventoryapp.WithReservationConfig(inventoryapp.ReservationConfig{
			CandidateLimit:     cfg.Allocation.CandidateLimit,
			MaxConflictRetries: cfg.Allocation.MaxConflictRetries,
			IdempotencyTTL:     cfg.Allocation.IdempotencyTTL,
		}),
		inventoryapp.WithLifecyclePolicy(lifecycle),
		inventoryapp.WithIdempotencyStore(idempotencyStore),
		inventoryapp.WithEventPublisher(eventBus),
		inventoryapp.WithAllocationMetrics(allocationMetrics),
	)
	batchService := inventoryapp.NewBatchService(batchRepo, log,
		inventoryapp.WithBatchLifecyclePolicy(lifecycle),
		inventoryapp.WithBatchEventPublisher(eventBus),
		inventoryapp.WithSweepBatchSize(cfg.ExpirySweep.BatchSize),
	)
	orderService := tradeapp.NewOrderService(orderRepo, eventBus, log)

	eventBus.Subscribe(event.NewIdempotentHandler("order_reservation",
		tradeapp.NewOrderReservationHandler(orderRepo, reservationService, log), idempotencyStore, log))
	eventBus.Subscribe(inventoryapp.NewShortfallAlertHandler(log, allocationMetrics))
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	var sweeper *scheduler.ExpirySweeper
	if cfg.ExpirySweep.Enabled {
		sweepCfg := scheduler.DefaultExpirySweeperConfig()
		if cfg.ExpirySweep.Interval > 0 {
			sweepCfg.Interval = cfg.ExpirySweep.Interval
		}
		sweeper, err = scheduler.NewExpirySweeper(sweepCfg, batchService, log)
		if err != nil {
			log.Fatal("Failed to create expiry sweeper", zap.Error(err))
		}
		if err := sweeper.Start(ctx); err != nil {
			log.Fatal("Failed to start expiry sweeper", zap.Error(err))
		}
	}

	engine, err := router.NewEngine(router.EngineConfig{
		Release:          cfg.App.Env == "production",
		TrustedProxies:   cfg.HTTP.TrustedProxies,
		MaxBodySize:      cfg.HTTP.MaxBodySize,
		ServiceName:      cfg.Telemetry.ServiceName,
		TracingEnabled:   tracerProvider.IsEnabled(),
		ProfilingEnabled: profiler.IsEnabled(),
		HSTSEnabled:      cfg.App.Env == "production",
		Swagger:          middleware.SwaggerConfig{Enabled: cfg.HTTP.SwaggerEnabled},
		Logger:           log,
		Meter:            meter,
	})
	if err != nil {
		log.Fatal("Failed to create HTTP engine", zap.Error(err))
	}

	checks := map[string]handler.Pinger{"database": db}
	if redisStore, ok := idempotencyStore.(*cache.RedisIdempotencyStore); ok {
		checks["redis"] = handler.PingerFunc(func() error {
			return redisStore.Client().Ping(context.Background()).Err()
		})
	}
	router.Mount(engine, router.Handlers{
		Health:    handler.NewHealthHandler(serviceVersion, checks),
		Batch:     handler.NewBatchHandler(batchService),
		Inventory: handler.NewInventoryHandler(batchService),
		Order:     handler.NewOrderHandler(orderService),
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if sweeper != nil {
		if err := sweeper.Stop(shutdownCtx); err != nil {
			log.Warn("Expiry sweeper did not stop cleanly", zap.Error(err))
		}
	}
	if err := eventBus.Stop(shutdownCtx); err != nil {
		log.Warn("Event bus did not drain", zap.Error(err))
	}
	if err := profiler.Stop(); err != nil {
		log.Warn("Profiler stop failed", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Meter provider shutdown failed", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Tracer provider shutdown failed", zap.Error(err))
	}
	if err := logProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Log provider shutdown failed", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// prepareSchema applies the embedded SQL migrations on postgres and auto-migrates sqlite
func prepareSchema(db *persistence.Database, cfg *config.Config, log *zap.Logger) error {
	if cfg.Database.Driver != "postgres" {
		return db.AutoMigrate()
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	m, err := migration.NewFromFS(sqlDB, migrations.FS, log)
	if err != nil {
		return err
	}
	// not closed: closing the postgres driver closes the shared pool too
	return m.Up()
}
