package service

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/repositories"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

const slugAttempts = 3

type CreateProductRequest struct {
	Name              string            `json:"name" validate:"required,max=200"`
	Description       string            `json:"description" validate:"max=4000"`
	StoreID           *uuid.UUID        `json:"store_id"`
	Barcode           *string           `json:"barcode" validate:"omitempty,min=4,max=64,alphanum"`
	Price             decimal.Decimal   `json:"price"`
	SalePrice         *decimal.Decimal  `json:"sale_price"`
	StockQuantity     int               `json:"stock_quantity" validate:"gte=0"`
	LowStockThreshold int               `json:"low_stock_threshold" validate:"gte=0"`
	ExpiryDate        *time.Time        `json:"expiry_date"`
	Status            models.ItemStatus `json:"status" validate:"omitempty,oneof=active inactive draft"`
}

type UpdateProductRequest struct {
	Name              *string            `json:"name" validate:"omitempty,min=1,max=200"`
	Description       *string            `json:"description" validate:"omitempty,max=4000"`
	Barcode           *string            `json:"barcode" validate:"omitempty,min=4,max=64,alphanum"`
	Price             *decimal.Decimal   `json:"price"`
	SalePrice         *decimal.Decimal   `json:"sale_price"`
	LowStockThreshold *int               `json:"low_stock_threshold" validate:"omitempty,gte=0"`
	ExpiryDate        *time.Time         `json:"expiry_date"`
	Status            *models.ItemStatus `json:"status" validate:"omitempty,oneof=active inactive draft"`
}

type CreateCuisineRequest struct {
	Name         string            `json:"name" validate:"required,max=200"`
	Description  string            `json:"description" validate:"max=4000"`
	Price        decimal.Decimal   `json:"price"`
	Serves       int               `json:"serves" validate:"gte=1,lte=100"`
	DietaryFlags []string          `json:"dietary_flags" validate:"max=20,dive,required,max=40"`
	Status       models.ItemStatus `json:"status" validate:"omitempty,oneof=active inactive draft"`
}

type UpdateCuisineRequest struct {
	Name         *string            `json:"name" validate:"omitempty,min=1,max=200"`
	Description  *string            `json:"description" validate:"omitempty,max=4000"`
	Price        *decimal.Decimal   `json:"price"`
	Serves       *int               `json:"serves" validate:"omitempty,gte=1,lte=100"`
	DietaryFlags []string           `json:"dietary_flags" validate:"omitempty,max=20,dive,required,max=40"`
	Status       *models.ItemStatus `json:"status" validate:"omitempty,oneof=active inactive draft"`
}

type AdjustStockRequest struct {
	Delta int `json:"delta" validate:"ne=0"`
}

type CatalogServiceInterface interface {
	CreateProduct(ctx context.Context, p models.Principal, req CreateProductRequest) (*models.Product, error)
	UpdateProduct(ctx context.Context, p models.Principal, id uuid.UUID, req UpdateProductRequest) (*models.Product, error)
	VendorProducts(ctx context.Context, p models.Principal, status models.ItemStatus, limit, offset int) ([]*models.Product, error)
	AdjustStock(ctx context.Context, p models.Principal, id uuid.UUID, req AdjustStockRequest) (*models.StockAdjustment, error)
	LowStock(ctx context.Context, p models.Principal) ([]models.LowStockItem, error)
	Expiring(ctx context.Context, p models.Principal, days int) ([]models.ExpiringItem, error)
	CreateCuisine(ctx context.Context, p models.Principal, req CreateCuisineRequest) (*models.Cuisine, error)
	UpdateCuisine(ctx context.Context, p models.Principal, id uuid.UUID, req UpdateCuisineRequest) (*models.Cuisine, error)
	ChefCuisines(ctx context.Context, p models.Principal, status models.ItemStatus) ([]*models.Cuisine, error)
	PublicProducts(ctx context.Context, search string, limit, offset int) ([]*models.Product, error)
	PublicProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	PublicCuisines(ctx context.Context, chefID *uuid.UUID) ([]*models.Cuisine, error)
}

// CatalogService manages products and cuisines and their stock.
type CatalogService struct {
	products repositories.ProductRepositoryInterface
	cuisines repositories.CuisineRepositoryInterface
	stock    repositories.StockRepositoryInterface
	logger   *logger.Logger
}

func NewCatalogService(
	products repositories.ProductRepositoryInterface,
	cuisines repositories.CuisineRepositoryInterface,
	stock repositories.StockRepositoryInterface,
	log *logger.Logger,
) *CatalogService {
	return &CatalogService{
		products: products,
		cuisines: cuisines,
		stock:    stock,
		logger:   log.WithComponent("catalog_service"),
	}
}

// slugify lowercases name and joins its alphanumeric runs with dashes.
func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	if b.Len() == 0 {
		return "item"
	}
	s := b.String()
	if len(s) > 80 {
		s = strings.TrimRight(s[:80], "-")
	}
	return s
}

// nextSlug returns base if it is free, otherwise base-N with N one past the
// highest suffix in use.
func nextSlug(base string, taken []string) string {
	free := true
	highest := 1
	for _, t := range taken {
		if t == base {
			free = false
			continue
		}
		suffix, ok := strings.CutPrefix(t, base+"-")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(suffix); err == nil && n > highest {
			highest = n
		}
	}
	if free {
		return base
	}
	return base + "-" + strconv.Itoa(highest+1)
}

func checkMoney(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return apperr.Validation("Amounts must not be negative.").With("field", field).WithCode("invalid_gte")
	}
	if v.Exponent() < -2 {
		return apperr.Validation("Amounts have at most two decimal places.").With("field", field).WithCode("invalid_scale")
	}
	return nil
}

func (s *CatalogService) vendor(p models.Principal, write bool) error {
	if err := requireKind(p, models.KindVendor); err != nil {
		return err
	}
	if write {
		return requireCapability(p, models.CapManageCatalog)
	}
	return nil
}

func (s *CatalogService) CreateProduct(ctx context.Context, p models.Principal, req CreateProductRequest) (*models.Product, error) {
	if err := s.vendor(p, true); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := checkMoney("price", req.Price); err != nil {
		return nil, err
	}
	if req.SalePrice != nil {
		if err := checkMoney("sale_price", *req.SalePrice); err != nil {
			return nil, err
		}
	}
	status := req.Status
	if status == "" {
		status = models.ItemActive
	}

	product := &models.Product{
		ID:                uuid.New(),
		VendorID:          p.ID,
		StoreID:           req.StoreID,
		Name:              strings.TrimSpace(req.Name),
		Barcode:           req.Barcode,
		Description:       req.Description,
		Price:             req.Price,
		SalePrice:         req.SalePrice,
		StockQuantity:     req.StockQuantity,
		LowStockThreshold: req.LowStockThreshold,
		ExpiryDate:        req.ExpiryDate,
		Status:            status,
	}

	base := slugify(product.Name)
	var err error
	for range slugAttempts {
		var taken []string
		if taken, err = s.products.SlugsWithPrefix(ctx, base); err != nil {
			break
		}
		product.Slug = nextSlug(base, taken)
		err = s.products.Create(ctx, product)
		if apperr.CodeOf(err) != "duplicate_slug" {
			break
		}
		s.logger.Debug("Slug taken concurrently, retrying", "slug", product.Slug)
	}
	if err != nil {
		s.logger.Warn("Failed to create product", "vendor_id", p.ID, "error", err)
		return nil, classify(err, "create product")
	}

	s.logger.Info("Product created", "product_id", product.ID, "slug", product.Slug)
	return product, nil
}

func (s *CatalogService) ownedProduct(ctx context.Context, vendorID, id uuid.UUID) (*models.Product, error) {
	product, err := s.products.GetByID(ctx, id)
	if err != nil {
		return nil, classify(err, "get product")
	}
	if product.VendorID != vendorID {
		return nil, apperr.NotFound("Product")
	}
	return product, nil
}

func (s *CatalogService) UpdateProduct(ctx context.Context, p models.Principal, id uuid.UUID, req UpdateProductRequest) (*models.Product, error) {
	if err := s.vendor(p, true); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	product, err := s.ownedProduct(ctx, p.ID, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		product.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		product.Description = *req.Description
	}
	if req.Barcode != nil {
		product.Barcode = req.Barcode
	}
	if req.Price != nil {
		if err := checkMoney("price", *req.Price); err != nil {
			return nil, err
		}
		product.Price = *req.Price
	}
	if req.SalePrice != nil {
		if err := checkMoney("sale_price", *req.SalePrice); err != nil {
			return nil, err
		}
		product.SalePrice = req.SalePrice
	}
	if req.LowStockThreshold != nil {
		product.LowStockThreshold = *req.LowStockThreshold
	}
	if req.ExpiryDate != nil {
		product.ExpiryDate = req.ExpiryDate
	}
	if req.Status != nil {
		product.Status = *req.Status
	}

	if err := s.products.Update(ctx, product); err != nil {
		s.logger.Warn("Failed to update product", "product_id", id, "error", err)
		return nil, classify(err, "update product")
	}
	s.logger.Info("Product updated", "product_id", id)
	return product, nil
}

func (s *CatalogService) VendorProducts(ctx context.Context, p models.Principal, status models.ItemStatus, limit, offset int) ([]*models.Product, error) {
	if err := s.vendor(p, false); err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, apperr.Validation("Unknown item status.").With("status", status)
	}
	vendorID := p.ID
	products, err := s.products.List(ctx, repositories.ProductFilter{VendorID: &vendorID, Status: status, Limit: limit, Offset: offset})
	if err != nil {
		s.logger.Error("Failed to list vendor products", "vendor_id", p.ID, "error", err)
		return nil, classify(err, "list products")
	}
	return products, nil
}

// AdjustStock applies delta to the product's stock. The result never goes
// below zero.
func (s *CatalogService) AdjustStock(ctx context.Context, p models.Principal, id uuid.UUID, req AdjustStockRequest) (*models.StockAdjustment, error) {
	if err := s.vendor(p, false); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	adj, err := s.stock.Adjust(ctx, p.ID, id, req.Delta)
	if err != nil {
		s.logger.Warn("Stock adjustment rejected", "product_id", id, "delta", req.Delta, "error", err)
		return nil, classify(err, "adjust stock")
	}
	return adj, nil
}

func (s *CatalogService) LowStock(ctx context.Context, p models.Principal) ([]models.LowStockItem, error) {
	if err := s.vendor(p, false); err != nil {
		return nil, err
	}
	items, err := s.stock.LowStock(ctx, p.ID)
	if err != nil {
		return nil, classify(err, "low stock")
	}
	return items, nil
}

func (s *CatalogService) Expiring(ctx context.Context, p models.Principal, days int) ([]models.ExpiringItem, error) {
	if err := s.vendor(p, false); err != nil {
		return nil, err
	}
	if days == 0 {
		days = 7
	}
	if days < 0 || days > 365 {
		return nil, apperr.Validation("days must be between 1 and 365.").With("field", "days")
	}
	items, err := s.stock.Expiring(ctx, p.ID, days)
	if err != nil {
		return nil, classify(err, "expiring stock")
	}
	return items, nil
}

func (s *CatalogService) CreateCuisine(ctx context.Context, p models.Principal, req CreateCuisineRequest) (*models.Cuisine, error) {
	if err := requireKind(p, models.KindChef); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := checkMoney("price", req.Price); err != nil {
		return nil, err
	}
	status := req.Status
	if status == "" {
		status = models.ItemActive
	}

	c := &models.Cuisine{
		ID:           uuid.New(),
		ChefID:       p.ID,
		Name:         strings.TrimSpace(req.Name),
		Description:  req.Description,
		Price:        req.Price,
		Serves:       req.Serves,
		DietaryFlags: req.DietaryFlags,
		Status:       status,
	}
	if c.DietaryFlags == nil {
		c.DietaryFlags = []string{}
	}

	base := slugify(c.Name)
	var err error
	for range slugAttempts {
		var taken []string
		if taken, err = s.cuisines.SlugsWithPrefix(ctx, p.ID, base); err != nil {
			break
		}
		c.Slug = nextSlug(base, taken)
		err = s.cuisines.Create(ctx, c)
		if apperr.CodeOf(err) != "duplicate_slug" {
			break
		}
	}
	if err != nil {
		s.logger.Warn("Failed to create cuisine", "chef_id", p.ID, "error", err)
		return nil, classify(err, "create cuisine")
	}

	s.logger.Info("Cuisine created", "cuisine_id", c.ID, "slug", c.Slug)
	return c, nil
}

func (s *CatalogService) UpdateCuisine(ctx context.Context, p models.Principal, id uuid.UUID, req UpdateCuisineRequest) (*models.Cuisine, error) {
	if err := requireKind(p, models.KindChef); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	c, err := s.cuisines.GetByID(ctx, id)
	if err != nil {
		return nil, classify(err, "get cuisine")
	}
	if c.ChefID != p.ID {
		return nil, apperr.NotFound("Cuisine")
	}

	if req.Name != nil {
		c.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		c.Description = *req.Description
	}
	if req.Price != nil {
		if err := checkMoney("price", *req.Price); err != nil {
			return nil, err
		}
		c.Price = *req.Price
	}
	if req.Serves != nil {
		c.Serves = *req.Serves
	}
	if req.DietaryFlags != nil {
		c.DietaryFlags = req.DietaryFlags
	}
	if req.Status != nil {
		c.Status = *req.Status
	}

	if err := s.cuisines.Update(ctx, c); err != nil {
		s.logger.Warn("Failed to update cuisine", "cuisine_id", id, "error", err)
		return nil, classify(err, "update cuisine")
	}
	s.logger.Info("Cuisine updated", "cuisine_id", id)
	return c, nil
}

func (s *CatalogService) ChefCuisines(ctx context.Context, p models.Principal, status models.ItemStatus) ([]*models.Cuisine, error) {
	if err := requireKind(p, models.KindChef); err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, apperr.Validation("Unknown item status.").With("status", status)
	}
	chefID := p.ID
	list, err := s.cuisines.List(ctx, &chefID, status)
	if err != nil {
		return nil, classify(err, "list cuisines")
	}
	return list, nil
}

// PublicProducts lists active products for browsing.
func (s *CatalogService) PublicProducts(ctx context.Context, search string, limit, offset int) ([]*models.Product, error) {
	products, err := s.products.List(ctx, repositories.ProductFilter{
		Status: models.ItemActive,
		Search: strings.TrimSpace(search),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("Failed to list products", "error", err)
		return nil, classify(err, "list products")
	}
	return products, nil
}

func (s *CatalogService) PublicProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	product, err := s.products.GetByID(ctx, id)
	if err != nil {
		return nil, classify(err, "get product")
	}
	if product.Status != models.ItemActive {
		return nil, apperr.NotFound("Product")
	}
	return product, nil
}

func (s *CatalogService) PublicCuisines(ctx context.Context, chefID *uuid.UUID) ([]*models.Cuisine, error) {
	list, err := s.cuisines.List(ctx, chefID, models.ItemActive)
	if err != nil {
		s.logger.Error("Failed to list cuisines", "error", err)
		return nil, classify(err, "list cuisines")
	}
	return list, nil
}
