package handler

import (
	"net/http"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/service"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

// AudienceHandler serves the admin marketing audience endpoints.
type AudienceHandler struct {
	base
	audiences service.AudienceServiceInterface
}

func NewAudienceHandler(audiences service.AudienceServiceInterface, log *logger.Logger) *AudienceHandler {
	return &AudienceHandler{base: base{logger: log.WithComponent("audience_handler")}, audiences: audiences}
}

// Preview handles POST /api/v1/admin/marketing/audiences/preview
func (h *AudienceHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req service.PreviewAudienceRequest
	if err := h.parseRequestBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	preview, err := h.audiences.Preview(r.Context(), h.principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, preview)
}

// Create handles POST /api/v1/admin/marketing/audiences
func (h *AudienceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateAudienceRequest
	if err := h.parseRequestBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := h.audiences.Create(r.Context(), h.principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, a)
}

// List handles GET /api/v1/admin/marketing/audiences
func (h *AudienceHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.audiences.List(r.Context(), h.principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, list)
}

// Get handles GET /api/v1/admin/marketing/audiences/{id}
func (h *AudienceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := h.audiences.Get(r.Context(), h.principal(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, a)
}

// Refresh handles POST /api/v1/admin/marketing/audiences/{id}/refresh
func (h *AudienceHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := h.audiences.Refresh(r.Context(), h.principal(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, a)
}

// Notify handles POST /api/v1/admin/marketing/audiences/{id}/notify
func (h *AudienceHandler) Notify(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req service.NotifyAudienceRequest
	if err := h.parseRequestBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.audiences.Notify(r.Context(), h.principal(r), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.For(r.Context()).Info("Audience notified", "audience_id", id, "recipients", result.Recipients)
	h.writeJSONResponse(w, http.StatusOK, result)
}
