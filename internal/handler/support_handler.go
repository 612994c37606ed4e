package handler

import (
	"net/http"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/service"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type SupportHandler struct {
	base
	support service.SupportServiceInterface
}

func NewSupportHandler(support service.SupportServiceInterface, log *logger.Logger) *SupportHandler {
	return &SupportHandler{base: base{logger: log.WithComponent("support_handler")}, support: support}
}

// Open handles POST /api/v1/{kind}/support/tickets
func (h *SupportHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTicketRequest
	if err := h.parseRequestBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.support.Open(r.Context(), h.principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, t)
}

// Mine handles GET /api/v1/{kind}/support/tickets
func (h *SupportHandler) Mine(w http.ResponseWriter, r *http.Request) {
	list, err := h.support.Mine(r.Context(), h.principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, list)
}

// AdminList handles GET /api/v1/admin/support/tickets?status&priority
func (h *SupportHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.support.AdminList(r.Context(), h.principal(r),
		models.TicketStatus(q.Get("status")), models.TicketPriority(q.Get("priority")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, list)
}

// Assign handles PUT /api/v1/admin/support/tickets/{id}/assign
func (h *SupportHandler) Assign(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req service.AssignTicketRequest
	if r.ContentLength != 0 {
		if err := h.parseRequestBody(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	t, err := h.support.Assign(r.Context(), h.principal(r), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, t)
}

// SetStatus handles PUT /api/v1/admin/support/tickets/{id}/status
func (h *SupportHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req service.TicketStatusRequest
	if err := h.parseRequestBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.support.SetStatus(r.Context(), h.principal(r), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, t)
}
