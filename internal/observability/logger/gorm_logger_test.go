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

func query(sql string) func() (string, int64) {
	return func() (string, int64) { return sql, 1 }
}

func TestGormLoggerUsesTableThresholds(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewGormLogger(zap.New(core), DefaultGormLoggerConfig())
	ctx := context.Background()

	// 500ms is slow for a source table but normal for a recap upsert.
	begin := time.Now().Add(-500 * time.Millisecond)
	log.Trace(ctx, begin, query(`INSERT INTO "allocation_recaps" ("id") VALUES (1) ON CONFLICT DO UPDATE SET zf_amount = 1`), nil)
	assert.Zero(t, logs.Len())

	log.Trace(ctx, begin, query(`SELECT * FROM "fund_transactions" WHERE unit_id = 1`), nil)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "SELECT", fields["operation"])
	assert.Equal(t, "fund_transactions", fields["table"])
}

func TestGormLoggerIgnoresRecordNotFound(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cfg := DefaultGormLoggerConfig()
	cfg.IgnoreRecordNotFound = true
	log := NewGormLogger(zap.New(core), cfg)

	log.Trace(context.Background(), time.Now(), query("SELECT * FROM units"), gormlogger.ErrRecordNotFound)
	assert.Zero(t, logs.Len())

	log.Trace(context.Background(), time.Now(), query("UPDATE recompute_tasks SET status = 'dead'"), errors.New("boom"))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[0].Level)
	assert.Equal(t, "recompute_tasks", logs.All()[0].ContextMap()["table"])
}

func TestGormLoggerLogModeCopies(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := NewGormLogger(zap.New(core), DefaultGormLoggerConfig())

	base.LogMode(gormlogger.Info).Trace(context.Background(), time.Now(), query("SELECT 1 FROM units"), nil)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.DebugLevel, logs.All()[0].Level)

	base.Trace(context.Background(), time.Now(), query("SELECT 1 FROM units"), nil)
	assert.Equal(t, 1, logs.Len())
}

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "DELETE", operationFromSQL("  delete from units where id = 1"))
	assert.Equal(t, "INSERT", operationFromSQL("WITH INSERT INTO audit_logs"))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}
