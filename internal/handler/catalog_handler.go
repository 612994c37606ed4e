package handler

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/service"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

// CatalogHandler serves vendor products, chef cuisines and public browsing.
type CatalogHandler struct {
	base
	catalog service.CatalogServiceInterface
}

func NewCatalogHandler(catalog service.CatalogServiceInterface, log *logger.Logger) *CatalogHandler {
	return &CatalogHandler{base: base{logger: log.WithComponent("catalog_handler")}, catalog: catalog}
}

// CreateProduct handles POST /api/v1/vendors/products
func (h *CatalogHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req service.CreateProductRequest
	if err := h.parseRequestBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	product, err := h.catalog.CreateProduct(r.Context(), h.principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, product)
}

// UpdateProduct handles PUT /api/v1/vendors/products/{id}
func (h *CatalogHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req service.UpdateProductRequest
	if err := h.parseRequestBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	product, err := h.catalog.UpdateProduct(r.Context(), h.principal(r), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, product)
}

// VendorProducts handles GET /api/v1/vendors/products
func (h *CatalogHandler) VendorProducts(w http.ResponseWriter, r *http.Request) {
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
	status := models.ItemStatus(r.URL.Query().Get("status"))
	products, err := h.catalog.VendorProducts(r.Context(), h.principal(r), status, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, products)
}

// AdjustStock handles PUT /api/v1/vendors/products/{id}/stock
func (h *CatalogHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req service.AdjustStockRequest
	if err := h.parseRequestBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	adj, err := h.catalog.AdjustStock(r.Context(), h.principal(r), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, adj)
}

// LowStock handles GET /api/v1/vendors/inventory/low-stock
func (h *CatalogHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.LowStock(r.Context(), h.principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, items)
}

// Expiring handles GET /api/v1/vendors/inventory/expiring?days=N
func (h *CatalogHandler) Expiring(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 7)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items, err := h.catalog.Expiring(r.Context(), h.principal(r), days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, items)
}

// CreateCuisine handles POST /api/v1/chef/cuisines
func (h *CatalogHandler) CreateCuisine(w http.ResponseWriter, r *http.Request) {
	var req service.CreateCuisineRequest
	if err := h.parseRequestBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.catalog.CreateCuisine(r.Context(), h.principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, c)
}

// UpdateCuisine handles PUT /api/v1/chef/cuisines/{id}
func (h *CatalogHandler) UpdateCuisine(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req service.UpdateCuisineRequest
	if err := h.parseRequestBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.catalog.UpdateCuisine(r.Context(), h.principal(r), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, c)
}

// ChefCuisines handles GET /api/v1/chef/cuisines
func (h *CatalogHandler) ChefCuisines(w http.ResponseWriter, r *http.Request) {
	list, err := h.catalog.ChefCuisines(r.Context(), h.principal(r), models.ItemStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, list)
}

// PublicProducts handles GET /api/v1/catalog/products
func (h *CatalogHandler) PublicProducts(w http.ResponseWriter, r *http.Request) {
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
	products, err := h.catalog.PublicProducts(r.Context(), r.URL.Query().Get("q"), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, products)
}

// PublicProduct handles GET /api/v1/catalog/products/{id}
func (h *CatalogHandler) PublicProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	product, err := h.catalog.PublicProduct(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, product)
}

// PublicCuisines handles GET /api/v1/catalog/cuisines?chef_id=
func (h *CatalogHandler) PublicCuisines(w http.ResponseWriter, r *http.Request) {
	var chefID *uuid.UUID
	if raw := r.URL.Query().Get("chef_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, r, apperr.Validation("Invalid chef_id.").With("field", "chef_id"))
			return
		}
		chefID = &id
	}
	list, err := h.catalog.PublicCuisines(r.Context(), chefID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, list)
}
