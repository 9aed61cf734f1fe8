package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTAuthenticator verifies HMAC-signed tokens issued by the core API.
type JWTAuthenticator struct {
	key []byte
}

// NewJWTAuthenticator creates an authenticator for tokens signed with key.
func NewJWTAuthenticator(key []byte) *JWTAuthenticator {
	return &JWTAuthenticator{key: key}
}

// Verify checks signature and expiry and decodes the identity claims.
func (a *JWTAuthenticator) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrMissingToken
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return a.key, nil
	},
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithJSONNumber(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return identityFromClaims(claims)
}

// identityFromClaims applies the claim precedence used by the core API:
// user id from userId, id, then sub; tenant id from tenantId, then customer.id.
func identityFromClaims(claims jwt.MapClaims) (Identity, error) {
	id := Identity{
		UserID:   firstString(claims["userId"], claims["id"], claims["sub"]),
		TenantID: firstString(claims["tenantId"], nested(claims["customer"], "id")),
		Roles:    roles(claims["roles"]),
		UserName: firstString(claims["username"], claims["email"]),
	}
	if id.UserName == "" {
		id.UserName = "Unknown"
	}
	if id.UserID == "" || id.TenantID == "" {
		return Identity{}, ErrMissingClaims
	}
	return id, nil
}

func firstString(values ...any) string {
	for _, v := range values {
		if s := claimString(v); s != "" {
			return s
		}
	}
	return ""
}

func claimString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		return ""
	}
}

func nested(v any, key string) any {
	if m, ok := v.(map[string]any); ok {
		return m[key]
	}
	return nil
}

// roles accepts ["ADMIN"] as well as Spring-style [{"authority":"ADMIN"}].
func roles(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s := claimString(item); s != "" {
			out = append(out, s)
			continue
		}
		if s := firstString(nested(item, "authority"), nested(item, "name")); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// IssueToken signs a token carrying id. It exists for local development and
// tests; production tokens come from the core API.
func IssueToken(key []byte, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      id.UserID,
		"userId":   id.UserID,
		"tenantId": id.TenantID,
		"roles":    id.Roles,
		"username": id.UserName,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(key)
}
