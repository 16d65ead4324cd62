package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestDumpCarriesPostgresDetails(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "commissions_listing_id_key", TableName: "commissions"}
	err := Wrap(CodeConflict, fmt.Errorf("insert commission: %w", pgErr), "commission exists")

	d := Dump(err)
	if d.Code != CodeConflict {
		t.Fatalf("expected conflict code, got %q", d.Code)
	}
	if d.Postgres == nil || d.Postgres.Constraint != "commissions_listing_id_key" {
		t.Fatalf("expected pgx details, got %+v", d.Postgres)
	}
	if len(d.Chain) < 2 {
		t.Fatalf("expected wrapped chain, got %v", d.Chain)
	}
	fields := d.Fields()
	if fields["pg_code"] != "23505" || fields["pg_table"] != "commissions" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if _, ok := fields["error"]; ok {
		t.Fatal("dump fields must not collide with the logger's error key")
	}
	if fields["error_message"] != d.TopMessage {
		t.Fatalf("expected top message under error_message, got %v", fields["error_message"])
	}
}

func TestDumpReadsLibPQErrors(t *testing.T) {
	d := Dump(fmt.Errorf("scan: %w", &pq.Error{Code: "42P01", Table: "listings_v2"}))
	if d.Postgres == nil || d.Postgres.Code != "42P01" || d.Postgres.Table != "listings_v2" {
		t.Fatalf("expected lib/pq details, got %+v", d.Postgres)
	}
}

func TestDumpWithoutDatabaseError(t *testing.T) {
	d := Dump(New(CodeNotFound, "listing not found"))
	if d.Postgres != nil {
		t.Fatalf("unexpected postgres details %+v", d.Postgres)
	}
	if _, ok := d.Fields()["pg_code"]; ok {
		t.Fatal("pg fields should be omitted")
	}
	if empty := Dump(nil); empty.TopMessage != "" || empty.Chain != nil {
		t.Fatal("nil error should dump empty")
	}
}
