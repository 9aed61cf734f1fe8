package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/cloudfly/chat-relay/internal/auth"
	"github.com/cloudfly/chat-relay/internal/socket"
	"github.com/cloudfly/chat-relay/pkg/logger"
	"github.com/cloudfly/chat-relay/pkg/metrics"
)

// SocketHandler authenticates realtime connections before upgrading them.
type SocketHandler struct {
	auth   auth.Authenticator
	server *socket.Server
	logger *logger.Logger
}

// NewSocketHandler creates a new socket handler.
func NewSocketHandler(a auth.Authenticator, server *socket.Server, log *logger.Logger) *SocketHandler {
	return &SocketHandler{
		auth:   a,
		server: server,
		logger: log,
	}
}

// Connect handles GET /ws. A request that fails authentication gets a 401
// and never reaches the upgrade.
func (h *SocketHandler) Connect(w http.ResponseWriter, r *http.Request) {
	token := auth.ExtractToken(r)
	identity, err := h.auth.Verify(token)
	if err != nil {
		reason := auth.Reason(err)
		metrics.SocketAuthRejections.WithLabelValues(reason).Inc()
		h.logger.Warn("rejected realtime connection",
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("reason", reason),
			zap.String("user_agent", r.UserAgent()),
		)
		writeError(w, http.StatusUnauthorized, "authentication error: "+reason)
		return
	}

	h.server.Serve(w, r, identity, token)
}
