package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type tracedRow struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"size:100"`
}

func setupTracedDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&tracedRow{}))
	return db
}

func setupRecorder(t *testing.T) (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, sr
}

func TestDBTracingPlugin_Disabled(t *testing.T) {
	db := setupTracedDB(t)
	p := NewDBTracingPlugin(DBTracingConfig{Enabled: false}, zap.NewNop())
	assert.NoError(t, p.RegisterOtelGorm(db))
}

func TestDBTracingPlugin_Enabled(t *testing.T) {
	db := setupTracedDB(t)
	cfg := DefaultDBTracingConfig()
	cfg.Enabled = true
	cfg.DBSystem = "sqlite"
	p := NewDBTracingPlugin(cfg, zap.NewNop())

	require.NoError(t, p.RegisterOtelGorm(db))
	require.NoError(t, db.Create(&tracedRow{Name: "x"}).Error)

	var got tracedRow
	require.NoError(t, db.First(&got).Error)
	assert.Equal(t, "x", got.Name)
}

func TestNewDBTracingPlugin_DefaultsThreshold(t *testing.T) {
	p := NewDBTracingPlugin(DBTracingConfig{}, zap.NewNop())
	assert.Equal(t, 200*time.Millisecond, p.config.SlowQueryThresh)
}

func TestAnnotateSpan(t *testing.T) {
	tp, sr := setupRecorder(t)
	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true, SlowQueryThresh: time.Millisecond}, zap.NewNop())

	ctx, span := tp.Tracer("test").Start(context.Background(), "db")
	ctx = context.WithValue(ctx, queryStartKey{}, time.Now().Add(-time.Second))

	db := &gorm.DB{
		Config:       &gorm.Config{},
		Statement:    &gorm.Statement{Context: ctx, Table: "inventory_batches"},
		Error:        errors.New("cas lost"),
		RowsAffected: 0,
	}
	p.annotateSpan(db)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	attrs := map[string]any{}
	for _, a := range spans[0].Attributes() {
		attrs[string(a.Key)] = a.Value.AsInterface()
	}
	assert.Equal(t, "inventory_batches", attrs["db.sql.table"])
	assert.Equal(t, int64(0), attrs["db.rows_affected"])
	assert.Equal(t, true, attrs["db.slow_query"])
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	var names []string
	for _, e := range spans[0].Events() {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "slow_query_warning")
}

func TestAnnotateSpan_IgnoresRecordNotFound(t *testing.T) {
	tp, sr := setupRecorder(t)
	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true}, zap.NewNop())

	ctx, span := tp.Tracer("test").Start(context.Background(), "db")
	p.annotateSpan(&gorm.DB{
		Config:    &gorm.Config{},
		Statement: &gorm.Statement{Context: ctx},
		Error:     gorm.ErrRecordNotFound,
	})
	span.End()

	require.Len(t, sr.Ended(), 1)
	assert.Equal(t, codes.Unset, sr.Ended()[0].Status().Code)
}

func TestAnnotateSpan_NoContext(t *testing.T) {
	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true}, zap.NewNop())
	assert.NotPanics(t, func() {
		p.annotateSpan(&gorm.DB{Config: &gorm.Config{}, Statement: &gorm.Statement{}})
	})
}
