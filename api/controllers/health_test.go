package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/keystonerealty/keystone-backend/pkg/config"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubRevoker struct{ revoked string }

func (s *stubRevoker) Revoke(_ context.Context, sessionID string) error {
	s.revoked = sessionID
	return nil
}

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	rec := httptest.NewRecorder()
	HealthReady(cfg, nil, map[string]Pinger{"postgres": stubPinger{}, "gcs": nil}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	HealthReady(cfg, nil, map[string]Pinger{"postgres": stubPinger{}, "redis": stubPinger{err: errors.New("down")}}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
}

func TestAuthLogoutRevokesContextSession(t *testing.T) {
	revoker := &stubRevoker{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req = withViewer(req, uuid.New(), false)
	rec := httptest.NewRecorder()

	AuthLogout(revoker, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}
	if revoker.revoked != "session-1" {
		t.Fatalf("expected session-1 revoked, got %q", revoker.revoked)
	}
}
