package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/database"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type CartRepositoryInterface interface {
	List(ctx context.Context, customerID uuid.UUID) ([]models.CartItem, error)
	Add(ctx context.Context, item *models.CartItem) error
	SetQuantity(ctx context.Context, customerID, itemID uuid.UUID, quantity int) error
	Remove(ctx context.Context, customerID, itemID uuid.UUID) error
	RemoveItems(ctx context.Context, customerID uuid.UUID, itemIDs []uuid.UUID) error
}

type CartRepository struct {
	db     *database.DB
	logger *logger.Logger
}

func NewCartRepository(db *database.DB, log *logger.Logger) *CartRepository {
	return &CartRepository{db: db, logger: log.WithComponent("cart_repository")}
}

func (r *CartRepository) List(ctx context.Context, customerID uuid.UUID) ([]models.CartItem, error) {
	query := `
		SELECT ci.id, ci.customer_id, ci.product_id, ci.cuisine_id, ci.quantity, ci.unit_price_snapshot, ci.added_at,
			COALESCE(p.name, cu.name, ''), p.vendor_id, cu.chef_id
		FROM cart_items ci
		LEFT JOIN products p ON p.id = ci.product_id
		LEFT JOIN cuisines cu ON cu.id = ci.cuisine_id
		WHERE ci.customer_id = $1
		ORDER BY ci.added_at, ci.id
	`
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, customerID)
	if err != nil {
		r.logger.Error("Failed to query cart", "customer_id", customerID, "error", err)
		return nil, fmt.Errorf("failed to query cart: %w", err)
	}
	defer rows.Close()

	items := []models.CartItem{}
	for rows.Next() {
		var (
			it                models.CartItem
			productID, cuisID uuid.NullUUID
			vendorID, chefID  uuid.NullUUID
		)
		if err := rows.Scan(&it.ID, &it.CustomerID, &productID, &cuisID, &it.Quantity, &it.UnitPriceSnapshot,
			&it.AddedAt, &it.Name, &vendorID, &chefID); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		it.Ref = models.RefFromColumns(productID, cuisID)
		it.Fulfiller = models.FulfillerFromColumns(vendorID, chefID)
		items = append(items, it)
	}
	return items, rows.Err()
}

// Add inserts the item or, when the customer already has the same ref,
// increments its quantity and refreshes the price snapshot.
func (r *CartRepository) Add(ctx context.Context, item *models.CartItem) error {
	productID, cuisineID := item.Ref.Columns()
	conflict := `(customer_id, product_id) WHERE product_id IS NOT NULL`
	if item.Ref.Kind == models.ItemCuisine {
		conflict = `(customer_id, cuisine_id) WHERE cuisine_id IS NOT NULL`
	}

	query := `
		INSERT INTO cart_items (id, customer_id, product_id, cuisine_id, quantity, unit_price_snapshot)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT ` + conflict + ` DO UPDATE
		SET quantity = cart_items.quantity + EXCLUDED.quantity,
			unit_price_snapshot = EXCLUDED.unit_price_snapshot
		RETURNING id, quantity, added_at
	`
	err := r.db.Conn(ctx).QueryRowContext(ctx, query,
		item.ID, item.CustomerID, productID, cuisineID, item.Quantity, item.UnitPriceSnapshot,
	).Scan(&item.ID, &item.Quantity, &item.AddedAt)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return apperr.NotFound("Item")
		}
		r.logger.Error("Failed to add cart item", "customer_id", item.CustomerID, "error", err)
		return fmt.Errorf("failed to add cart item: %w", err)
	}
	r.logger.Debug("Cart item saved", "cart_item_id", item.ID, "quantity", item.Quantity)
	return nil
}

func (r *CartRepository) SetQuantity(ctx context.Context, customerID, itemID uuid.UUID, quantity int) error {
	res, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE cart_items SET quantity = $3 WHERE id = $1 AND customer_id = $2`, itemID, customerID, quantity)
	if err != nil {
		return fmt.Errorf("failed to update cart item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("Cart item")
	}
	return nil
}

func (r *CartRepository) Remove(ctx context.Context, customerID, itemID uuid.UUID) error {
	res, err := r.db.Conn(ctx).ExecContext(ctx,
		`DELETE FROM cart_items WHERE id = $1 AND customer_id = $2`, itemID, customerID)
	if err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("Cart item")
	}
	return nil
}

func (r *CartRepository) RemoveItems(ctx context.Context, customerID uuid.UUID, itemIDs []uuid.UUID) error {
	if len(itemIDs) == 0 {
		return nil
	}
	_, err := r.db.Conn(ctx).ExecContext(ctx,
		`DELETE FROM cart_items WHERE customer_id = $1 AND id = ANY($2::uuid[])`, customerID, uuidStrings(itemIDs))
	if err != nil {
		return fmt.Errorf("failed to clear cart items: %w", err)
	}
	return nil
}
