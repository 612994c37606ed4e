package handler

import (
	"net/http"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/service"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

// CartHandler serves the customer cart and checkout.
type CartHandler struct {
	base
	cart     service.CartServiceInterface
	checkout service.CheckoutServiceInterface
}

func NewCartHandler(cart service.CartServiceInterface, checkout service.CheckoutServiceInterface, log *logger.Logger) *CartHandler {
	return &CartHandler{
		base:     base{logger: log.WithComponent("cart_handler")},
		cart:     cart,
		checkout: checkout,
	}
}

// GetCart handles GET /api/v1/customer/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.cart.GetCart(r.Context(), h.principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, cart)
}

// AddItem handles POST /api/v1/customer/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req service.AddCartItemRequest
	if err := h.parseRequestBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	cart, err := h.cart.AddItem(r.Context(), h.principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, cart)
}

// UpdateItem handles PUT /api/v1/customer/cart/items/{id}
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req service.UpdateCartItemRequest
	if err := h.parseRequestBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	cart, err := h.cart.UpdateItem(r.Context(), h.principal(r), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, cart)
}

// RemoveItem handles DELETE /api/v1/customer/cart/items/{id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cart, err := h.cart.RemoveItem(r.Context(), h.principal(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, cart)
}

// Checkout handles POST /api/v1/customer/cart/checkout
func (h *CartHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req service.CheckoutRequest
	if err := h.parseRequestBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	order, err := h.checkout.Checkout(r.Context(), h.principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.For(r.Context()).Info("Order placed", "order_id", order.ID, "total", order.Total.StringFixed(2))
	h.writeJSONResponse(w, http.StatusCreated, order)
}
