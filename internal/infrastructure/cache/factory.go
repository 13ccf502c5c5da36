package cache

import (
	"context"
	"fmt"

	"github.com/erp/batchalloc/internal/domain/shared"
	"github.com/erp/batchalloc/internal/infrastructure/config"
	"go.uber.org/zap"
)

// FactoryOption configures NewIdempotencyStore
type FactoryOption func(*factoryOptions)

type factoryOptions struct {
	logger        *zap.Logger
	allowFallback bool
}

// WithLogger sets the logger used to report the chosen store
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(o *factoryOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithInMemoryFallback controls whether an unreachable redis degrades to the in-memory
// store. Defaults to true.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(o *factoryOptions) {
		o.allowFallback = allow
	}
}

// NewIdempotencyStore returns the redis store when redis is configured, else the in-memory one
func NewIdempotencyStore(ctx context.Context, cfg config.RedisConfig, opts ...FactoryOption) (shared.IdempotencyStore, error) {
	o := factoryOptions{logger: zap.NewNop(), allowFallback: true}
	for _, opt := range opts {
		opt(&o)
	}

	if !cfg.Enabled() {
		o.logger.Info("Redis not configured, using in-memory idempotency store")
		return NewInMemoryIdempotencyStore(), nil
	}

	store, err := NewRedisIdempotencyStore(ctx, cfg)
	if err == nil {
		o.logger.Info("Using Redis idempotency store", zap.String("addr", cfg.Addr()))
		return store, nil
	}
	if !o.allowFallback {
		return nil, fmt.Errorf("redis required for idempotency but unavailable: %w", err)
	}

	o.logger.Warn("Redis unavailable, falling back to in-memory idempotency store; "+
		"duplicate reservations are possible across instances",
		zap.Error(err),
	)
	return NewInMemoryIdempotencyStore(), nil
}
