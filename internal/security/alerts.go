package security

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/keystonerealty/keystone-backend/pkg/config"
	"github.com/keystonerealty/keystone-backend/pkg/logger"
)

// AlertKind classifies a suspicious event.
type AlertKind string

const (
	// AlertOwnershipViolation fires when a caller mutates a listing or
	// commission they do not own.
	AlertOwnershipViolation AlertKind = "ownership_violation"
	// AlertInvalidToken fires when a bearer token fails verification.
	AlertInvalidToken AlertKind = "invalid_token"
	// AlertLockedCommissionEdit fires on writes against a locked commission.
	AlertLockedCommissionEdit AlertKind = "locked_commission_edit"
)

// Alert describes one suspicious event. Subject is derived from UserID when
// set and falls back to RemoteAddr for unauthenticated callers.
type Alert struct {
	Kind       AlertKind
	UserID     uuid.UUID
	ResourceID uuid.UUID
	RemoteAddr string
	Detail     string
}

func (a Alert) subject() string {
	if a.UserID != uuid.Nil {
		return "user:" + a.UserID.String()
	}
	if a.RemoteAddr != "" {
		return "ip:" + a.RemoteAddr
	}
	return "anonymous"
}

type windowCounter interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	CounterKey(name string) string
}

type alertMetrics interface {
	IncSecurityAlert(kind string, escalated bool)
}

// Reporter is what services and middleware depend on.
type Reporter interface {
	Report(ctx context.Context, alert Alert)
}

// AlertService counts alerts per subject in a fixed window and escalates
// once the threshold is reached. It is process scoped; counts live in Redis
// so every replica shares the window.
type AlertService struct {
	counter   windowCounter
	metrics   alertMetrics
	logg      *logger.Logger
	window    time.Duration
	threshold int64
}

// NewAlertService builds the alert service from security config.
func NewAlertService(counter windowCounter, metrics alertMetrics, cfg config.SecurityConfig, logg *logger.Logger) (*AlertService, error) {
	if counter == nil {
		return nil, fmt.Errorf("alert counter required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.AlertWindow <= 0 {
		return nil, fmt.Errorf("alert window must be positive")
	}
	if cfg.AlertThreshold <= 0 {
		return nil, fmt.Errorf("alert threshold must be positive")
	}
	return &AlertService{
		counter:   counter,
		metrics:   metrics,
		logg:      logg,
		window:    cfg.AlertWindow,
		threshold: int64(cfg.AlertThreshold),
	}, nil
}

// Report records the alert. Counting failures are logged and never
// propagate to the request that triggered the alert.
func (s *AlertService) Report(ctx context.Context, alert Alert) {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"alert_kind":    string(alert.Kind),
		"alert_subject": alert.subject(),
		"resource_id":   alert.ResourceID.String(),
		"detail":        alert.Detail,
	})
	s.logg.Warn(ctx, "security alert")

	key := s.counter.CounterKey(fmt.Sprintf("security:%s:%s", alert.Kind, alert.subject()))
	count, err := s.counter.IncrWithTTL(ctx, key, s.window)
	if err != nil {
		s.logg.Error(ctx, "security alert counter unavailable", err)
		s.observe(alert.Kind, false)
		return
	}

	escalated := count == s.threshold
	if escalated {
		ctx = s.logg.WithField(ctx, "alert_count", count)
		s.logg.Error(ctx, "security alert threshold reached", fmt.Errorf("%d %s alerts within %s", count, alert.Kind, s.window))
	}
	s.observe(alert.Kind, escalated)
}

func (s *AlertService) observe(kind AlertKind, escalated bool) {
	if s.metrics != nil {
		s.metrics.IncSecurityAlert(string(kind), escalated)
	}
}
