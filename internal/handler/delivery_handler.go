package handler

import (
	"net/http"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/service"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

// DeliveryHandler serves driver offers, delivery steps, tracking and
// admin reassignment.
type DeliveryHandler struct {
	base
	deliveries service.DeliveryServiceInterface
}

func NewDeliveryHandler(deliveries service.DeliveryServiceInterface, log *logger.Logger) *DeliveryHandler {
	return &DeliveryHandler{base: base{logger: log.WithComponent("delivery_handler")}, deliveries: deliveries}
}

// Offers handles GET /api/v1/driver/offers
func (h *DeliveryHandler) Offers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.deliveries.Offers(r.Context(), h.principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, offers)
}

// AcceptOffer handles POST /api/v1/driver/offers/{id}/accept
func (h *DeliveryHandler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := h.deliveries.AcceptOffer(r.Context(), h.principal(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, d)
}

// DeclineOffer handles POST /api/v1/driver/offers/{id}/decline
func (h *DeliveryHandler) DeclineOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.deliveries.DeclineOffer(r.Context(), h.principal(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusNoContent, nil)
}

// Pickup handles POST /api/v1/driver/deliveries/{id}/pickup
func (h *DeliveryHandler) Pickup(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := h.deliveries.Pickup(r.Context(), h.principal(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, d)
}

// Deliver handles POST /api/v1/driver/deliveries/{id}/deliver
func (h *DeliveryHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := h.deliveries.Deliver(r.Context(), h.principal(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, d)
}

// RecordLocation handles POST /api/v1/driver/deliveries/{id}/location
func (h *DeliveryHandler) RecordLocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req service.LocationRequest
	if err := h.parseRequestBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.deliveries.RecordLocation(r.Context(), h.principal(r), id, req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusNoContent, nil)
}

// SetStatus handles PUT /api/v1/driver/status
func (h *DeliveryHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req service.DriverStatusRequest
	if err := h.parseRequestBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	state, err := h.deliveries.SetDriverStatus(r.Context(), h.principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, state)
}

// Track handles GET /api/v1/{customer|admin}/deliveries/{id}/track
func (h *DeliveryHandler) Track(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.deliveries.Track(r.Context(), h.principal(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, view)
}

// Reassign handles POST /api/v1/admin/deliveries/{id}/reassign
func (h *DeliveryHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req service.ReassignRequest
	if r.ContentLength != 0 {
		if err := h.parseRequestBody(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	d, err := h.deliveries.Reassign(r.Context(), h.principal(r), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.For(r.Context()).Info("Delivery reassigned", "delivery_id", id, "status", d.Status)
	h.writeJSONResponse(w, http.StatusOK, d)
}
