package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/cloudfly/chat-relay/internal/middleware"
	"github.com/cloudfly/chat-relay/internal/model"
	"github.com/cloudfly/chat-relay/internal/service"
	"github.com/cloudfly/chat-relay/pkg/logger"
)

// NotifyHandler handles the server-to-server webhook endpoints.
type NotifyHandler struct {
	notifier *service.Notifier
	logger   *logger.Logger
}

// NewNotifyHandler creates a new notify handler.
func NewNotifyHandler(notifier *service.Notifier, log *logger.Logger) *NotifyHandler {
	return &NotifyHandler{
		notifier: notifier,
		logger:   log,
	}
}

// NewMessage handles POST /api/notify/new-message
func (h *NotifyHandler) NewMessage(w http.ResponseWriter, r *http.Request) {
	var req model.NewMessageNotification
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	resp, err := h.notifier.NewMessage(r.Context(), &req)
	if err != nil {
		h.writeNotifyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// MessageStatus handles POST /api/notify/message-status
func (h *NotifyHandler) MessageStatus(w http.ResponseWriter, r *http.Request) {
	var req model.MessageStatusNotification
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	resp, err := h.notifier.MessageStatus(r.Context(), &req)
	if err != nil {
		h.writeNotifyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *NotifyHandler) writeNotifyError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, model.ValidationErrorResponse{
			Error:    "Missing required fields",
			Required: verr.Required,
			Missing:  verr.Missing,
		})
	case errors.Is(err, service.ErrInvalidSentAt):
		writeError(w, http.StatusBadRequest, "Invalid sentAt: expected epoch seconds")
	default:
		h.logger.Error("notification failed",
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Internal server error",
			"message": err.Error(),
		})
	}
}
