package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/database"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

// CatalogRepositoryInterface resolves sellable items and their fulfillers
// for the cart and checkout.
type CatalogRepositoryInterface interface {
	Items(ctx context.Context, refs []models.ItemRef) (map[models.ItemRef]models.CatalogItem, error)
	Fulfiller(ctx context.Context, f models.Fulfiller) (*models.FulfillerProfile, error)
}

type CatalogRepository struct {
	db     *database.DB
	logger *logger.Logger
}

func NewCatalogRepository(db *database.DB, log *logger.Logger) *CatalogRepository {
	return &CatalogRepository{db: db, logger: log.WithComponent("catalog_repository")}
}

// Items returns the current catalog view of refs. Missing refs are absent
// from the map.
func (r *CatalogRepository) Items(ctx context.Context, refs []models.ItemRef) (map[models.ItemRef]models.CatalogItem, error) {
	var productIDs, cuisineIDs []uuid.UUID
	for _, ref := range refs {
		if ref.Kind == models.ItemProduct {
			productIDs = append(productIDs, ref.ID)
		} else {
			cuisineIDs = append(cuisineIDs, ref.ID)
		}
	}

	out := make(map[models.ItemRef]models.CatalogItem, len(refs))
	q := r.db.Conn(ctx)

	if len(productIDs) > 0 {
		query := `
			SELECT id, vendor_id, name,
				CASE WHEN sale_price IS NOT NULL AND sale_price < price THEN sale_price ELSE price END,
				status, stock_quantity
			FROM products
			WHERE id = ANY($1::uuid[])
		`
		rows, err := q.QueryContext(ctx, query, uuidStrings(productIDs))
		if err != nil {
			r.logger.Error("Failed to query products for checkout", "error", err)
			return nil, fmt.Errorf("failed to query products: %w", err)
		}
		for rows.Next() {
			var (
				id, vendorID uuid.UUID
				it           models.CatalogItem
				stock        int
			)
			if err := rows.Scan(&id, &vendorID, &it.Name, &it.UnitPrice, &it.Status, &stock); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan product: %w", err)
			}
			it.Ref = models.ProductRef(id)
			it.Fulfiller = models.Fulfiller{Kind: models.KindVendor, ID: vendorID}
			it.Stock = &stock
			out[it.Ref] = it
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	if len(cuisineIDs) > 0 {
		query := `SELECT id, chef_id, name, price, status FROM cuisines WHERE id = ANY($1::uuid[])`
		rows, err := q.QueryContext(ctx, query, uuidStrings(cuisineIDs))
		if err != nil {
			r.logger.Error("Failed to query cuisines for checkout", "error", err)
			return nil, fmt.Errorf("failed to query cuisines: %w", err)
		}
		for rows.Next() {
			var (
				id, chefID uuid.UUID
				it         models.CatalogItem
			)
			if err := rows.Scan(&id, &chefID, &it.Name, &it.UnitPrice, &it.Status); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan cuisine: %w", err)
			}
			it.Ref = models.CuisineRef(id)
			it.Fulfiller = models.Fulfiller{Kind: models.KindChef, ID: chefID}
			out[it.Ref] = it
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func (r *CatalogRepository) Fulfiller(ctx context.Context, f models.Fulfiller) (*models.FulfillerProfile, error) {
	var query string
	switch f.Kind {
	case models.KindVendor:
		query = `SELECT business_name, region, lat, lng, delivery_base_fee, delivery_per_km_fee, is_active FROM vendors WHERE id = $1`
	case models.KindChef:
		query = `SELECT display_name, region, lat, lng, delivery_base_fee, delivery_per_km_fee, is_active FROM chefs WHERE id = $1`
	default:
		return nil, apperr.Validation("Unknown fulfiller kind.")
	}

	p := &models.FulfillerProfile{Fulfiller: f}
	var lat, lng sql.NullFloat64
	var base, perKm decimal.Decimal
	err := r.db.Conn(ctx).QueryRowContext(ctx, query, f.ID).Scan(&p.Name, &p.Region, &lat, &lng, &base, &perKm, &p.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Fulfiller")
	}
	if err != nil {
		r.logger.Error("Failed to load fulfiller", "kind", f.Kind, "id", f.ID, "error", err)
		return nil, fmt.Errorf("failed to load fulfiller: %w", err)
	}
	p.Location = pointFrom(lat, lng)
	p.DeliveryBaseFee = base
	p.DeliveryPerKmFee = perKm
	return p, nil
}
