package handler

import (
	"net/http"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/service"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

// OrderHandler struct
type OrderHandler struct {
	base
	orderService service.OrderServiceInterface
}

// NewOrderHandler creates a new OrderHandler with the given service and logger
func NewOrderHandler(orderService service.OrderServiceInterface, logger *logger.Logger) *OrderHandler {
	return &OrderHandler{
		base:         base{logger: logger.WithComponent("order_handler")},
		orderService: orderService,
	}
}

// GetAllOrders handles GET /api/v1/{kind}/orders
func (h *OrderHandler) GetAllOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	orders, err := h.orderService.ListOrders(r.Context(), h.principal(r), models.OrderStatus(r.URL.Query().Get("status")), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, orders)
}

// GetOrderByID handles GET /api/v1/customer/orders/{id}
func (h *OrderHandler) GetOrderByID(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.orderService.GetOrder(r.Context(), h.principal(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, order)
}

// CancelOrder handles POST /api/v1/customer/orders/{id}/cancel
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := h.actionRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.orderService.Cancel(r.Context(), h.principal(r), id, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, order)
}

// Action returns the handler for a fulfiller transition:
// POST /api/v1/{vendors|chef}/orders/{id}/accept|reject|ready|complete
func (h *OrderHandler) Action(event models.OrderEvent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "id")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		req, err := h.actionRequest(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		order, err := h.orderService.FulfillerAction(r.Context(), h.principal(r), id, event, req.Reason)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.logger.For(r.Context()).Info("Fulfiller action applied", "order_id", id, "event", event, "status", order.Status)
		h.writeJSONResponse(w, http.StatusOK, order)
	}
}

// OverrideOrder handles POST /api/v1/admin/orders/{id}/override
func (h *OrderHandler) OverrideOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req service.OverrideOrderRequest
	if err := h.parseRequestBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.orderService.Override(r.Context(), h.principal(r), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, order)
}

// GetOrderHistory handles GET /api/v1/admin/orders/{id}/history
func (h *OrderHandler) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	history, err := h.orderService.History(r.Context(), h.principal(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, history)
}

// actionRequest reads the optional {reason} body of a transition.
func (h *OrderHandler) actionRequest(r *http.Request) (service.OrderActionRequest, error) {
	var req service.OrderActionRequest
	if r.ContentLength == 0 {
		return req, nil
	}
	err := h.parseRequestBody(r, &req)
	return req, err
}
