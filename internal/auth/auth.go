// Package auth implements the connection gate: it turns a bearer token
// presented at connect time into the identity attached to the connection.
package auth

import (
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrMissingToken is returned when the handshake carries no token.
	ErrMissingToken = errors.New("no token provided")
	// ErrInvalidToken is returned when the token is malformed or its signature does not verify.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
	// ErrMissingClaims is returned when a valid token does not name a user and a tenant.
	ErrMissingClaims = errors.New("token lacks user or tenant claims")
)

// Identity is attached to a connection once, at connect time, and never changes.
type Identity struct {
	UserID   string
	TenantID string
	Roles    []string
	UserName string
}

// Authenticator verifies a token and derives the identity it represents.
type Authenticator interface {
	Verify(token string) (Identity, error)
}

// Reason maps a gate error to a short label safe for logs and metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "missing_token"
	case errors.Is(err, ErrExpiredToken):
		return "expired_token"
	case errors.Is(err, ErrMissingClaims):
		return "missing_claims"
	default:
		return "invalid_token"
	}
}

// ExtractToken reads the token from the upgrade request: an
// "Authorization: Bearer" header, or the "token" query parameter that
// browser WebSocket clients use since they cannot set headers.
func ExtractToken(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("Authorization")); v != "" {
		parts := strings.SplitN(v, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
