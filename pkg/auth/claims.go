package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID    uuid.UUID
	SessionID string
	// Verified marks users the provider has vetted; it gates
	// verified-only commissions.
	Verified bool
}

// AccessTokenClaims is the token issued by the hosted auth provider. The user
// id travels in sub and the session id in jti.
type AccessTokenClaims struct {
	Verified bool `json:"verified,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *AccessTokenClaims) UserID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid subject: %w", err)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid subject: nil uuid")
	}
	return id, nil
}

// SessionID returns the jti claim.
func (c *AccessTokenClaims) SessionID() string {
	return c.ID
}
