package handler

import (
	"net/http"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/service"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

// AuthHandler serves login, registration and federated sign-in.
type AuthHandler struct {
	base
	auth service.AuthServiceInterface
}

func NewAuthHandler(auth service.AuthServiceInterface, log *logger.Logger) *AuthHandler {
	return &AuthHandler{base: base{logger: log.WithComponent("auth_handler")}, auth: auth}
}

// Login handles POST /api/v1/auth/{kind}/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	kind := models.ActorKind(r.PathValue("kind"))
	if kind == "vendors" {
		kind = models.KindVendor
	}

	var req service.LoginRequest
	if err := h.parseRequestBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.auth.Login(r.Context(), kind, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// Register handles POST /api/v1/auth/customer/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterCustomerRequest
	if err := h.parseRequestBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.auth.RegisterCustomer(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, resp)
}

// Google handles POST /api/v1/auth/google
func (h *AuthHandler) Google(w http.ResponseWriter, r *http.Request) {
	var req service.GoogleLoginRequest
	if err := h.parseRequestBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.auth.Google(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}
