package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testModel struct {
	ID   int
	Name string `gorm:"uniqueIndex"`
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&testModel{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	db := newTestDB(t)
	client := &Client{conn: db}

	ctx := context.Background()
	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{Name: "committed"}).Error
	}); err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{Name: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected WithTx to return an error")
	}
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed after rollback: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected rollback to leave 1 record, got %d", count)
	}
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	client := &Client{conn: db}
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingObserver) ObserveQuery(operation, table string, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, operation+":"+table)
}

func TestNewFromGormRunsInterceptors(t *testing.T) {
	conn := newTestDB(t)
	obs := &recordingObserver{}
	var events []QueryEvent

	client, err := NewFromGorm(conn,
		WithQueryInterceptor(MetricsInterceptor(obs)),
		WithQueryInterceptor(func(_ context.Context, ev QueryEvent) { events = append(events, ev) }),
	)
	if err != nil {
		t.Fatalf("NewFromGorm: %v", err)
	}

	ctx := context.Background()
	if err := client.DB().WithContext(ctx).Create(&testModel{Name: "observed"}).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	var got testModel
	if err := client.DB().WithContext(ctx).First(&got).Error; err != nil {
		t.Fatalf("query: %v", err)
	}

	if len(obs.calls) != 2 || obs.calls[0] != "create:test_models" || obs.calls[1] != "query:test_models" {
		t.Fatalf("unexpected observed calls %v", obs.calls)
	}
	if len(events) != 2 || events[0].RowsAffected != 1 {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestNewFromGormRequiresConnection(t *testing.T) {
	if _, err := NewFromGorm(nil); err == nil {
		t.Fatal("expected error for nil connection")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	conn := newTestDB(t)
	if err := conn.Create(&testModel{Name: "dup"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	sqliteErr := conn.Create(&testModel{Name: "dup"}).Error

	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "pgx", err: &pgconn.PgError{Code: "23505", ConstraintName: "commissions_listing_id_key"}, constraint: "commissions_listing_id_key", want: true},
		{name: "pgx other constraint", err: &pgconn.PgError{Code: "23505", ConstraintName: "other"}, constraint: "commissions_listing_id_key", want: false},
		{name: "pq", err: &pq.Error{Code: "23505"}, want: true},
		{name: "pq not unique", err: &pq.Error{Code: "23503"}, want: false},
		{name: "sqlite", err: sqliteErr, want: true},
		{name: "plain", err: errors.New("boom"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(tt.err, tt.constraint); got != tt.want {
				t.Fatalf("IsUniqueViolation(%v) = %v want %v", tt.err, got, tt.want)
			}
		})
	}
}
