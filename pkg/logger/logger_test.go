package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := context.Background()
	ctx = log.WithRequestID(ctx, "req-123")

	log.Error(ctx, "boom", errors.New("boom"))

	if !bytes.Contains(buf.Bytes(), []byte("\"request_id\"")) {
		t.Fatalf("expected request_id to be preserved; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("expected stack trace on error; entry=%s", buf.String())
	}
}

func TestLoggerWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf, WarnStack: true})
	ctx := context.Background()
	log.Warn(ctx, "warny")
	if !bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("expected stack when warn stack enabled")
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if lvl := ParseLevel(""); lvl != zerolog.InfoLevel {
		t.Fatalf("expected default info level, got %v", lvl)
	}
	if lvl := ParseLevel("invalid"); lvl != zerolog.InfoLevel {
		t.Fatalf("invalid level should fallback to info, got %v", lvl)
	}
}

func TestLoggerListingFieldAndDebugFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("info"), Output: buf})
	ctx := log.WithListingID(context.Background(), "lst-1")

	log.Debug(ctx, "hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug entry should be filtered at info level; entry=%s", buf.String())
	}

	log.Info(ctx, "visible")
	if !bytes.Contains(buf.Bytes(), []byte("\"listing_id\":\"lst-1\"")) {
		t.Fatalf("expected listing_id field; entry=%s", buf.String())
	}
}

func TestLoggerStampsEnvironmentAndCommission(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Environment: "staging", Output: buf})

	ctx := log.WithListingID(context.Background(), "lst-1")
	ctx = log.WithCommissionID(ctx, "com-9")
	ctx = log.WithUserID(ctx, "")
	log.Info(ctx, "commission locked")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v; entry=%s", err, buf.String())
	}
	if entry["env"] != "staging" || entry["listing_id"] != "lst-1" || entry["commission_id"] != "com-9" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, ok := entry["user_id"]; ok {
		t.Fatalf("empty ids should not be attached; entry=%v", entry)
	}
}

func TestLoggerSamplesDebugEntries(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), DebugSampleN: 3, Output: buf})

	for i := 0; i < 6; i++ {
		log.Debug(context.Background(), "query")
	}
	log.Info(context.Background(), "listing created")

	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	if lines != 3 {
		t.Fatalf("expected two sampled debug entries plus info, got %d; out=%s", lines, buf.String())
	}
}

func TestWithFieldsDoesNotLeakIntoParentContext(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	parent := log.WithListingID(context.Background(), "lst-1")
	_ = log.WithFields(parent, map[string]any{"image_id": "img-2", "blob_count": 3})
	log.Info(parent, "listing updated")

	if bytes.Contains(buf.Bytes(), []byte("image_id")) {
		t.Fatalf("child fields leaked into parent; entry=%s", buf.String())
	}
}

func TestErrorToleratesNilError(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})
	log.Error(context.Background(), "blob cleanup failed", nil)
	if !bytes.Contains(buf.Bytes(), []byte("blob cleanup failed")) {
		t.Fatalf("expected entry; out=%s", buf.String())
	}
}
