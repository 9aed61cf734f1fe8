// Package middleware provides HTTP middleware for the relay server.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"go.uber.org/zap"

	"github.com/cloudfly/chat-relay/pkg/logger"
)

// APISecretHeader carries the shared secret on server-to-server calls.
const APISecretHeader = "X-Api-Secret"

// APISecret rejects requests whose X-Api-Secret header does not match secret.
// An empty secret rejects every request.
func APISecret(secret string, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(APISecretHeader)
			if secret == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				log.Warn("rejected webhook call",
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("path", r.URL.Path),
					zap.Bool("secret_present", provided != ""),
					zap.String("correlation_id", GetCorrelationID(r.Context())),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"Unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
