package handler

import (
	"net/http"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/service"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type PromotionHandler struct {
	base
	promotions service.PromotionServiceInterface
}

func NewPromotionHandler(promotions service.PromotionServiceInterface, log *logger.Logger) *PromotionHandler {
	return &PromotionHandler{base: base{logger: log.WithComponent("promotion_handler")}, promotions: promotions}
}

// Create handles POST /api/v1/{vendors|chef|admin}/promotions
func (h *PromotionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreatePromotionRequest
	if err := h.parseRequestBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	promo, err := h.promotions.Create(r.Context(), h.principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, promo)
}

// List handles GET /api/v1/{vendors|chef|admin}/promotions
func (h *PromotionHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.promotions.List(r.Context(), h.principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, list)
}

// Validate handles POST /api/v1/customer/coupons/validate
func (h *PromotionHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req service.ValidatePromotionRequest
	if err := h.parseRequestBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.promotions.Validate(r.Context(), h.principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, result)
}
