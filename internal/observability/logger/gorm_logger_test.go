package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "UPDATE", operationFromSQL("UPDATE products SET stock_quantity = stock_quantity + ?"))
	assert.Equal(t, "INSERT", operationFromSQL("  insert into payment_idempotency (transaction_id) values (?)"))
	assert.Equal(t, "SELECT", operationFromSQL("WITH recent AS (SELECT 1) SELECT * FROM recent"))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}

func TestGormLoggerReportsSlowQueries(t *testing.T) {
	var gotOp string
	var calls int
	l := NewGormLogger(GormLoggerConfig{
		Level:         gormlogger.Warn,
		SlowThreshold: time.Millisecond,
		OnSlowQuery: func(operation string, _ time.Duration) {
			gotOp = operation
			calls++
		},
	})

	begin := time.Now().Add(-50 * time.Millisecond)
	l.Trace(context.Background(), begin, func() (string, int64) {
		return "DELETE FROM order_intents WHERE reference = ?", 1
	}, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, "DELETE", gotOp)
}

func TestGormLoggerSkipsRecordNotFound(t *testing.T) {
	calls := 0
	l := NewGormLogger(GormLoggerConfig{
		Level:                gormlogger.Warn,
		IgnoreRecordNotFound: true,
		SlowThreshold:        time.Hour,
	})
	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		calls++
		return "SELECT 1", 0
	}, gormlogger.ErrRecordNotFound)
	assert.Equal(t, 0, calls)

	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		calls++
		return "SELECT 1", 0
	}, errors.New("boom"))
	assert.Equal(t, 1, calls)
}

func TestGormLoggerDemotesExpectedPostgresErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	l := NewGormLogger(GormLoggerConfig{Level: gormlogger.Warn, SlowThreshold: time.Hour})
	sql := func() (string, int64) {
		return "INSERT INTO orders (id) VALUES (?)", 0
	}

	l.Trace(context.Background(), time.Now(), sql, &pgconn.PgError{Code: "23505"})
	l.Trace(context.Background(), time.Now(), sql, errors.New("connection reset"))

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
		assert.Equal(t, "unique_violation", entries[0].ContextMap()["sql_state"])
		assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	}
}
