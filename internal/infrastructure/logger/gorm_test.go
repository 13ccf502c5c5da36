package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func newObservedGormLogger(level gormlogger.LogLevel, opts ...GormLoggerOption) (*GormLogger, *observer.ObservedLogs) {
	core, recorded := observer.New(zapcore.DebugLevel)
	return NewGormLogger(zap.New(core), level, opts...), recorded
}

func TestGormLogger_LogMode(t *testing.T) {
	gl, _ := newObservedGormLogger(gormlogger.Info)

	changed, ok := gl.LogMode(gormlogger.Error).(*GormLogger)
	require.True(t, ok)
	assert.Equal(t, gormlogger.Error, changed.logLevel)
	assert.Equal(t, gormlogger.Info, gl.logLevel)
}

func TestGormLogger_Trace(t *testing.T) {
	ctx := context.Background()
	query := func() (string, int64) { return "UPDATE inventory_batches SET quantity = 3", 1 }

	t.Run("sql error", func(t *testing.T) {
		gl, recorded := newObservedGormLogger(gormlogger.Warn)
		gl.Trace(ctx, time.Now(), query, errors.New("connection reset"))

		require.Equal(t, 1, recorded.Len())
		assert.Equal(t, "SQL Error", recorded.All()[0].Message)
	})

	t.Run("record not found ignored", func(t *testing.T) {
		gl, recorded := newObservedGormLogger(gormlogger.Warn)
		gl.Trace(ctx, time.Now(), query, gormlogger.ErrRecordNotFound)
		assert.Equal(t, 0, recorded.Len())
	})

	t.Run("record not found logged when configured", func(t *testing.T) {
		gl, recorded := newObservedGormLogger(gormlogger.Warn, WithIgnoreRecordNotFoundError(false))
		gl.Trace(ctx, time.Now(), query, gormlogger.ErrRecordNotFound)
		assert.Equal(t, 1, recorded.Len())
	})

	t.Run("slow query", func(t *testing.T) {
		gl, recorded := newObservedGormLogger(gormlogger.Warn, WithSlowThreshold(time.Millisecond))
		gl.Trace(ctx, time.Now().Add(-time.Second), query, nil)

		require.Equal(t, 1, recorded.Len())
		assert.Equal(t, "Slow SQL", recorded.All()[0].Message)
		assert.Equal(t, zapcore.WarnLevel, recorded.All()[0].Level)
	})

	t.Run("info level logs queries at debug", func(t *testing.T) {
		gl, recorded := newObservedGormLogger(gormlogger.Info, WithSlowThreshold(0))
		gl.Trace(ctx, time.Now(), query, nil)

		require.Equal(t, 1, recorded.Len())
		assert.Equal(t, zapcore.DebugLevel, recorded.All()[0].Level)
	})

	t.Run("silent logs nothing", func(t *testing.T) {
		gl, recorded := newObservedGormLogger(gormlogger.Silent)
		gl.Trace(ctx, time.Now(), query, errors.New("boom"))
		assert.Equal(t, 0, recorded.Len())
	})
}

func TestMapGormLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, MapGormLogLevel("silent"))
	assert.Equal(t, gormlogger.Error, MapGormLogLevel("error"))
	assert.Equal(t, gormlogger.Info, MapGormLogLevel("debug"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel("warn"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel(""))
}
