package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/keystonerealty/keystone-backend/api/middleware"
	pkgerrors "github.com/keystonerealty/keystone-backend/pkg/errors"
)

func requireUser(r *http.Request) (uuid.UUID, error) {
	userID := middleware.UserUUIDFromContext(r.Context())
	if userID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return userID, nil
}
