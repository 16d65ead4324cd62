package middleware

import (
	"net/http"

	"github.com/keystonerealty/keystone-backend/api/responses"
	"github.com/keystonerealty/keystone-backend/api/validators"
	"github.com/keystonerealty/keystone-backend/internal/security"
	pkgAuth "github.com/keystonerealty/keystone-backend/pkg/auth"
	"github.com/keystonerealty/keystone-backend/pkg/auth/session"
	"github.com/keystonerealty/keystone-backend/pkg/config"
	pkgerrors "github.com/keystonerealty/keystone-backend/pkg/errors"
	"github.com/keystonerealty/keystone-backend/pkg/logger"
	"github.com/keystonerealty/keystone-backend/pkg/visibility"
)

// Auth validates a bearer token and seeds the request context with the claims.
// Every failure answers 401; forged, expired or revoked tokens also raise a
// security alert.
func Auth(cfg config.JWTConfig, checker session.Checker, alerts security.Reporter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, err := validators.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				reportInvalidToken(r, alerts, "parse: "+err.Error())
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			userID, err := claims.UserID()
			if err != nil {
				reportInvalidToken(r, alerts, "subject: "+err.Error())
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			sessionID := claims.SessionID()
			if sessionID == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing session id"))
				return
			}

			if checker != nil {
				ok, err := checker.HasSession(ctx, sessionID)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "validate session"))
					return
				}
				if !ok {
					if alerts != nil {
						alerts.Report(ctx, security.Alert{
							Kind:       security.AlertInvalidToken,
							UserID:     userID,
							RemoteAddr: clientIP(r),
							Detail:     "session revoked or expired",
						})
					}
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "session unavailable"))
					return
				}
			}

			ctx = WithViewer(ctx, visibility.Viewer{UserID: userID, Verified: claims.Verified}, sessionID)
			if logg != nil {
				ctx = logg.WithUserID(ctx, userID.String())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func reportInvalidToken(r *http.Request, alerts security.Reporter, detail string) {
	if alerts == nil {
		return
	}
	alerts.Report(r.Context(), security.Alert{
		Kind:       security.AlertInvalidToken,
		RemoteAddr: clientIP(r),
		Detail:     detail,
	})
}
