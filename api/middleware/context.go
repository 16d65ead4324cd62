package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/keystonerealty/keystone-backend/pkg/visibility"
)

type contextKey string

const (
	ctxUserID    contextKey = "user_id"
	ctxSessionID contextKey = "session_id"
	ctxVerified  contextKey = "verified"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

// UserUUIDFromContext parses the authenticated user id; uuid.Nil means anonymous.
func UserUUIDFromContext(ctx context.Context) uuid.UUID {
	id, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil
	}
	return id
}

func SessionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxSessionID).(string); ok {
		return v
	}
	return ""
}

func VerifiedFromContext(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(ctxVerified).(bool)
	return v
}

// ViewerFromContext builds the visibility viewer for the authenticated caller.
func ViewerFromContext(ctx context.Context) visibility.Viewer {
	return visibility.Viewer{
		UserID:   UserUUIDFromContext(ctx),
		Verified: VerifiedFromContext(ctx),
	}
}

// WithUserID injects the user identifier into the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxUserID, userID)
}

// WithViewer seeds the context the same way Auth does. Tests and internal
// callers use it to act as a known user.
func WithViewer(ctx context.Context, viewer visibility.Viewer, sessionID string) context.Context {
	ctx = WithUserID(ctx, viewer.UserID.String())
	ctx = context.WithValue(ctx, ctxVerified, viewer.Verified)
	if sessionID != "" {
		ctx = context.WithValue(ctx, ctxSessionID, sessionID)
	}
	return ctx
}
