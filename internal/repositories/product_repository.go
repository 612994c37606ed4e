package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/database"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type ProductFilter struct {
	VendorID *uuid.UUID
	Status   models.ItemStatus
	Search   string
	Limit    int
	Offset   int
}

type ProductRepositoryInterface interface {
	Create(ctx context.Context, p *models.Product) error
	Update(ctx context.Context, p *models.Product) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	List(ctx context.Context, f ProductFilter) ([]*models.Product, error)
	SlugsWithPrefix(ctx context.Context, base string) ([]string, error)
}

type ProductRepository struct {
	db     *database.DB
	logger *logger.Logger
}

func NewProductRepository(db *database.DB, log *logger.Logger) *ProductRepository {
	return &ProductRepository{db: db, logger: log.WithComponent("product_repository")}
}

const productColumns = `id, vendor_id, store_id, name, slug, barcode, description, price, sale_price,
	stock_quantity, low_stock_threshold, expiry_date, status, created_at, updated_at`

func scanProduct(s rowScanner) (*models.Product, error) {
	p := &models.Product{}
	var storeID uuid.NullUUID
	var expiry sql.NullTime
	err := s.Scan(&p.ID, &p.VendorID, &storeID, &p.Name, &p.Slug, &p.Barcode, &p.Description, &p.Price, &p.SalePrice,
		&p.StockQuantity, &p.LowStockThreshold, &expiry, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.StoreID = uuidPtr(storeID)
	p.ExpiryDate = timePtr(expiry)
	return p, nil
}

// Create inserts p. Slug and barcode collisions surface as conflicts.
func (r *ProductRepository) Create(ctx context.Context, p *models.Product) error {
	r.logger.Debug("Adding new product", "name", p.Name, "vendor_id", p.VendorID)

	query := `
		INSERT INTO products (id, vendor_id, store_id, name, slug, barcode, description, price, sale_price,
			stock_quantity, low_stock_threshold, expiry_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`
	err := r.db.Conn(ctx).QueryRowContext(ctx, query,
		p.ID, p.VendorID, p.StoreID, p.Name, p.Slug, p.Barcode, p.Description, p.Price, p.SalePrice,
		p.StockQuantity, p.LowStockThreshold, p.ExpiryDate, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return r.translate(err, p)
	}

	r.logger.Info("Added new product", "product_id", p.ID, "slug", p.Slug)
	return nil
}

// Update rewrites the editable fields of a product owned by p.VendorID.
// Stock is changed only through the stock repository.
func (r *ProductRepository) Update(ctx context.Context, p *models.Product) error {
	query := `
		UPDATE products
		SET store_id = $3, name = $4, slug = $5, barcode = $6, description = $7, price = $8, sale_price = $9,
			low_stock_threshold = $10, expiry_date = $11, status = $12, updated_at = now()
		WHERE id = $1 AND vendor_id = $2
		RETURNING stock_quantity, created_at, updated_at
	`
	err := r.db.Conn(ctx).QueryRowContext(ctx, query,
		p.ID, p.VendorID, p.StoreID, p.Name, p.Slug, p.Barcode, p.Description, p.Price, p.SalePrice,
		p.LowStockThreshold, p.ExpiryDate, p.Status,
	).Scan(&p.StockQuantity, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		r.logger.Warn("Attempted to update non-existent product", "product_id", p.ID)
		return apperr.NotFound("Product")
	}
	if err != nil {
		return r.translate(err, p)
	}

	r.logger.Info("Updated product", "product_id", p.ID)
	return nil
}

func (r *ProductRepository) translate(err error, p *models.Product) error {
	switch {
	case database.IsUniqueViolation(err, "products_slug_key"):
		return apperr.Conflict("A product with this slug already exists.").WithCode("duplicate_slug")
	case database.IsUniqueViolation(err, "products_barcode_key"):
		return apperr.Conflict("A product with this barcode already exists.").WithCode("duplicate_barcode")
	case database.IsForeignKeyViolation(err):
		return apperr.Validation("The referenced store does not exist.")
	case database.IsCheckViolation(err):
		return apperr.Validation("Prices and stock must not be negative.")
	}
	r.logger.Error("Failed to write product", "product_id", p.ID, "error", err)
	return fmt.Errorf("failed to write product: %w", err)
}

func (r *ProductRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	p, err := scanProduct(r.db.Conn(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Product")
	}
	if err != nil {
		r.logger.Error("Failed to retrieve product", "product_id", id, "error", err)
		return nil, fmt.Errorf("failed to retrieve product: %w", err)
	}
	return p, nil
}

func (r *ProductRepository) List(ctx context.Context, f ProductFilter) ([]*models.Product, error) {
	var (
		where []string
		args  []any
	)
	if f.VendorID != nil {
		args = append(args, *f.VendorID)
		where = append(where, fmt.Sprintf("vendor_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		args = append(args, "%"+strings.ToLower(s)+"%")
		where = append(where, fmt.Sprintf("LOWER(name) LIKE $%d", len(args)))
	}

	query := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limitOrDefault(f.Limit, 50, 200), f.Offset)
	query += fmt.Sprintf(" ORDER BY name, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query products", "error", err)
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []*models.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating product rows: %w", err)
	}

	r.logger.Debug("Retrieved products", "count", len(products))
	return products, nil
}

// SlugsWithPrefix returns base and every base-N slug already taken.
func (r *ProductRepository) SlugsWithPrefix(ctx context.Context, base string) ([]string, error) {
	return slugsWithPrefix(ctx, r.db.Conn(ctx), `SELECT slug FROM products WHERE slug = $1 OR slug LIKE $2`, base)
}

func slugsWithPrefix(ctx context.Context, q database.Querier, query, base string, extra ...any) ([]string, error) {
	args := append([]any{base, strings.ReplaceAll(base, "_", `\_`) + "-%"}, extra...)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query slugs: %w", err)
	}
	defer rows.Close()

	var slugs []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		slugs = append(slugs, s)
	}
	return slugs, rows.Err()
}
