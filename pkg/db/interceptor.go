package db

import (
	"context"
	"errors"
	"time"

	"github.com/keystonerealty/keystone-backend/pkg/logger"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const startedAtKey = "keystone:query_started_at"

// QueryEvent describes one statement after it finished.
type QueryEvent struct {
	Operation    string
	Table        string
	SQL          string
	Duration     time.Duration
	RowsAffected int64
	Err          error
}

// QueryInterceptor observes finished statements. It must not block.
type QueryInterceptor func(ctx context.Context, ev QueryEvent)

// QueryObserver is satisfied by the store metrics collector.
type QueryObserver interface {
	ObserveQuery(operation, table string, d time.Duration, err error)
}

// MetricsInterceptor forwards events to a metrics observer.
func MetricsInterceptor(obs QueryObserver) QueryInterceptor {
	return func(_ context.Context, ev QueryEvent) {
		if obs == nil {
			return
		}
		obs.ObserveQuery(ev.Operation, ev.Table, ev.Duration, ev.Err)
	}
}

// LoggingInterceptor logs failed statements at error level and slow ones at warn.
func LoggingInterceptor(logg *logger.Logger, slow time.Duration) QueryInterceptor {
	return func(ctx context.Context, ev QueryEvent) {
		if logg == nil {
			return
		}
		fields := map[string]any{
			"db_operation": ev.Operation,
			"db_table":     ev.Table,
			"duration_ms":  ev.Duration.Milliseconds(),
			"rows":         ev.RowsAffected,
		}
		if ev.Err != nil && !errors.Is(ev.Err, gorm.ErrRecordNotFound) {
			logg.Error(logg.WithFields(ctx, fields), "db statement failed", ev.Err)
			return
		}
		if slow > 0 && ev.Duration >= slow {
			fields["sql"] = ev.SQL
			logg.Warn(logg.WithFields(ctx, fields), "slow db statement")
			return
		}
		logg.Debug(logg.WithFields(ctx, fields), "db statement")
	}
}

func registerInterceptors(conn *gorm.DB, interceptors []QueryInterceptor) error {
	before := func(tx *gorm.DB) {
		tx.InstanceSet(startedAtKey, time.Now())
	}
	after := func(operation string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			var elapsed time.Duration
			if v, ok := tx.InstanceGet(startedAtKey); ok {
				if started, ok := v.(time.Time); ok {
					elapsed = time.Since(started)
				}
			}
			ev := QueryEvent{
				Operation:    operation,
				Table:        tx.Statement.Table,
				SQL:          tx.Statement.SQL.String(),
				Duration:     elapsed,
				RowsAffected: tx.Statement.RowsAffected,
				Err:          tx.Error,
			}
			ctx := tx.Statement.Context
			if ctx == nil {
				ctx = context.Background()
			}
			for _, fn := range interceptors {
				fn(ctx, ev)
			}
		}
	}

	cb := conn.Callback()
	return multierr.Combine(
		cb.Create().Before("gorm:create").Register("keystone:before_create", before),
		cb.Create().After("gorm:create").Register("keystone:after_create", after("create")),
		cb.Query().Before("gorm:query").Register("keystone:before_query", before),
		cb.Query().After("gorm:query").Register("keystone:after_query", after("query")),
		cb.Update().Before("gorm:update").Register("keystone:before_update", before),
		cb.Update().After("gorm:update").Register("keystone:after_update", after("update")),
		cb.Delete().Before("gorm:delete").Register("keystone:before_delete", before),
		cb.Delete().After("gorm:delete").Register("keystone:after_delete", after("delete")),
		cb.Row().Before("gorm:row").Register("keystone:before_row", before),
		cb.Row().After("gorm:row").Register("keystone:after_row", after("row")),
		cb.Raw().Before("gorm:raw").Register("keystone:before_raw", before),
		cb.Raw().After("gorm:raw").Register("keystone:after_raw", after("raw")),
	)
}
