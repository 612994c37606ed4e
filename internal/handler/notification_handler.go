package handler

import (
	"net/http"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/service"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type NotificationHandler struct {
	base
	notifications service.NotificationServiceInterface
}

func NewNotificationHandler(notifications service.NotificationServiceInterface, log *logger.Logger) *NotificationHandler {
	return &NotificationHandler{base: base{logger: log.WithComponent("notification_handler")}, notifications: notifications}
}

// List handles GET /api/v1/{kind}/notifications?unread=true&limit=N
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.notifications.List(r.Context(), h.principal(r), queryBool(r, "unread"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, list)
}

// MarkRead handles POST /api/v1/{kind}/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.notifications.MarkRead(r.Context(), h.principal(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusNoContent, nil)
}
