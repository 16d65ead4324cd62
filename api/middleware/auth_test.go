package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/keystonerealty/keystone-backend/internal/security"
	"github.com/keystonerealty/keystone-backend/pkg/auth"
	"github.com/keystonerealty/keystone-backend/pkg/auth/session"
	"github.com/keystonerealty/keystone-backend/pkg/config"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}

type stubSessionChecker struct {
	ok  bool
	err error
}

func (s stubSessionChecker) HasSession(ctx context.Context, sessionID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.ok, nil
}

type recordingReporter struct {
	mu     sync.Mutex
	alerts []security.Alert
}

func (r *recordingReporter) Report(_ context.Context, alert security.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
}

func mintTestToken(t *testing.T, cfg config.JWTConfig, userID uuid.UUID, verified bool) string {
	t.Helper()
	token, err := auth.MintAccessToken(cfg, time.Now(), auth.AccessTokenPayload{
		UserID:    userID,
		SessionID: session.NewSessionID(),
		Verified:  verified,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestAuthSeedsViewer(t *testing.T) {
	userID := uuid.New()
	token := mintTestToken(t, testJWT, userID, true)

	var captured struct {
		user     string
		session  string
		verified bool
	}
	handler := Auth(testJWT, stubSessionChecker{ok: true}, nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.user = UserIDFromContext(r.Context())
		captured.session = SessionIDFromContext(r.Context())
		captured.verified = ViewerFromContext(r.Context()).Verified
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if captured.user != userID.String() {
		t.Fatalf("expected user %s got %s", userID, captured.user)
	}
	if captured.session == "" {
		t.Fatal("expected session id in context")
	}
	if !captured.verified {
		t.Fatal("expected verified viewer")
	}
}

func TestAuthMissingTokenIsUnauthorizedWithoutAlert(t *testing.T) {
	reporter := &recordingReporter{}
	handler := Auth(testJWT, stubSessionChecker{ok: true}, reporter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	if len(reporter.alerts) != 0 {
		t.Fatalf("expected no alerts, got %d", len(reporter.alerts))
	}
}

func TestAuthInvalidTokenRaisesAlert(t *testing.T) {
	reporter := &recordingReporter{}
	other := config.JWTConfig{Secret: "other", Issuer: "issuer", ExpirationMinutes: 60}
	token := mintTestToken(t, other, uuid.New(), false)

	handler := Auth(testJWT, stubSessionChecker{ok: true}, reporter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.RemoteAddr = "10.0.0.9:4321"
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	if len(reporter.alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(reporter.alerts))
	}
	alert := reporter.alerts[0]
	if alert.Kind != security.AlertInvalidToken || alert.RemoteAddr != "10.0.0.9" {
		t.Fatalf("unexpected alert %+v", alert)
	}
}

func TestAuthRevokedSessionIsUnauthorized(t *testing.T) {
	reporter := &recordingReporter{}
	userID := uuid.New()
	token := mintTestToken(t, testJWT, userID, false)

	handler := Auth(testJWT, stubSessionChecker{ok: false}, reporter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	if len(reporter.alerts) != 1 || reporter.alerts[0].UserID != userID {
		t.Fatalf("expected alert for %s, got %+v", userID, reporter.alerts)
	}
}

func TestAuthSessionStoreFailureIsDependencyError(t *testing.T) {
	token := mintTestToken(t, testJWT, uuid.New(), false)
	handler := Auth(testJWT, stubSessionChecker{err: errors.New("redis down")}, nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestViewerFromContextAnonymous(t *testing.T) {
	viewer := ViewerFromContext(context.Background())
	if viewer.UserID != uuid.Nil || viewer.Verified {
		t.Fatalf("expected anonymous viewer, got %+v", viewer)
	}
}
