package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/database"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type OrderRepositoryInterface interface {
	Create(ctx context.Context, o *models.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	List(ctx context.Context, f models.OrderFilter) ([]*models.Order, error)
	UpdateStatus(ctx context.Context, o *models.Order) error
	AppendHistory(ctx context.Context, c *models.OrderStatusChange) error
	History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusChange, error)
	StalePlaced(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
	HasPriorOrders(ctx context.Context, customerID uuid.UUID) (bool, error)
}

type OrderRepository struct {
	db     *database.DB
	logger *logger.Logger
}

func NewOrderRepository(db *database.DB, log *logger.Logger) *OrderRepository {
	return &OrderRepository{db: db, logger: log.WithComponent("order_repository")}
}

const orderColumns = `o.id, o.customer_id, o.vendor_id, o.chef_id, o.fulfillment_type, o.dropoff_address,
	o.dropoff_lat, o.dropoff_lng, o.region, o.subtotal, o.delivery_fee, o.tax, o.discount, o.total,
	o.promotion_id, o.pricing_inputs, o.status, o.payment_intent_ref, o.cancel_reason, o.created_at, o.updated_at,
	d.id`

const orderFrom = ` FROM orders o LEFT JOIN deliveries d ON d.order_id = o.id`

func scanOrder(s rowScanner) (*models.Order, error) {
	o := &models.Order{}
	var (
		vendorID, chefID, promoID, deliveryID uuid.NullUUID
		lat, lng                              sql.NullFloat64
		inputs                                []byte
	)
	err := s.Scan(&o.ID, &o.CustomerID, &vendorID, &chefID, &o.FulfillmentType, &o.DropoffAddress,
		&lat, &lng, &o.Region, &o.Subtotal, &o.DeliveryFee, &o.Tax, &o.Discount, &o.Total,
		&promoID, &inputs, &o.Status, &o.PaymentIntentRef, &o.CancelReason, &o.CreatedAt, &o.UpdatedAt,
		&deliveryID)
	if err != nil {
		return nil, err
	}
	o.Fulfiller = models.FulfillerFromColumns(vendorID, chefID)
	o.Dropoff = pointFrom(lat, lng)
	o.PromotionID = uuidPtr(promoID)
	o.DeliveryID = uuidPtr(deliveryID)
	o.PricingInputs = rawJSON(inputs)
	return o, nil
}

// Create inserts the order and its items.
func (r *OrderRepository) Create(ctx context.Context, o *models.Order) error {
	r.logger.Debug("Adding new order", "order_id", o.ID, "customer_id", o.CustomerID)
	q := r.db.Conn(ctx)

	vendorID, chefID := o.Fulfiller.Columns()
	lat, lng := pointArgs(o.Dropoff)
	inputs := []byte(o.PricingInputs)
	if len(inputs) == 0 {
		inputs = []byte("{}")
	}

	query := `
		INSERT INTO orders (id, customer_id, vendor_id, chef_id, fulfillment_type, dropoff_address, dropoff_lat,
			dropoff_lng, region, subtotal, delivery_fee, tax, discount, total, promotion_id, pricing_inputs, status,
			payment_intent_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING created_at, updated_at
	`
	err := q.QueryRowContext(ctx, query,
		o.ID, o.CustomerID, vendorID, chefID, o.FulfillmentType, o.DropoffAddress, lat, lng, o.Region,
		o.Subtotal, o.DeliveryFee, o.Tax, o.Discount, o.Total, o.PromotionID, string(inputs), o.Status,
		o.PaymentIntentRef,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if database.IsCheckViolation(err) {
			return apperr.Validation("The order violates a pricing constraint.")
		}
		r.logger.Error("Failed to add order", "order_id", o.ID, "error", err)
		return fmt.Errorf("failed to add order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (id, order_id, product_id, cuisine_id, name, quantity, snapshot_price, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for i := range o.Items {
		it := &o.Items[i]
		if it.ID == uuid.Nil {
			it.ID = uuid.New()
		}
		it.OrderID = o.ID
		productID, cuisineID := it.Ref.Columns()
		if _, err := q.ExecContext(ctx, itemQuery, it.ID, o.ID, productID, cuisineID, it.Name, it.Quantity,
			it.SnapshotPrice, it.UnitPrice, it.LineTotal); err != nil {
			r.logger.Error("Failed to add order item", "order_id", o.ID, "error", err)
			return fmt.Errorf("failed to add order item: %w", err)
		}
	}

	r.logger.Info("Added new order", "order_id", o.ID, "total", o.Total.StringFixed(2))
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+orderFrom+` WHERE o.id = $1`, id)
}

// LockByID reads the order with a row lock held until the transaction ends.
func (r *OrderRepository) LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+orderFrom+` WHERE o.id = $1 FOR UPDATE OF o`, id)
}

func (r *OrderRepository) get(ctx context.Context, query string, id uuid.UUID) (*models.Order, error) {
	o, err := scanOrder(r.db.Conn(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Order")
	}
	if err != nil {
		r.logger.Error("Failed to retrieve order", "order_id", id, "error", err)
		return nil, fmt.Errorf("failed to retrieve order: %w", err)
	}
	if err := r.loadItems(ctx, []*models.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*models.Order, len(orders))
	ids := make([]uuid.UUID, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
		o.Items = []models.OrderItem{}
	}

	query := `
		SELECT id, order_id, product_id, cuisine_id, name, quantity, snapshot_price, unit_price, line_total
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, name, id
	`
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, uuidStrings(ids))
	if err != nil {
		return fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it models.OrderItem
		var productID, cuisineID uuid.NullUUID
		if err := rows.Scan(&it.ID, &it.OrderID, &productID, &cuisineID, &it.Name, &it.Quantity,
			&it.SnapshotPrice, &it.UnitPrice, &it.LineTotal); err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		it.Ref = models.RefFromColumns(productID, cuisineID)
		if o := byID[it.OrderID]; o != nil {
			o.Items = append(o.Items, it)
		}
	}
	return rows.Err()
}

func (r *OrderRepository) List(ctx context.Context, f models.OrderFilter) ([]*models.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.CustomerID != nil {
		args = append(args, *f.CustomerID)
		where = append(where, fmt.Sprintf("o.customer_id = $%d", len(args)))
	}
	if f.Fulfiller != nil {
		args = append(args, f.Fulfiller.ID)
		col := "o.vendor_id"
		if f.Fulfiller.Kind == models.KindChef {
			col = "o.chef_id"
		}
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("o.status = $%d", len(args)))
	}

	query := `SELECT ` + orderColumns + orderFrom
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limitOrDefault(f.Limit, 50, 200), f.Offset)
	query += fmt.Sprintf(" ORDER BY o.created_at DESC, o.id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query orders", "error", err)
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	orders := []*models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	r.logger.Debug("Retrieved orders", "count", len(orders))
	return orders, nil
}

// UpdateStatus persists o.Status and o.CancelReason.
func (r *OrderRepository) UpdateStatus(ctx context.Context, o *models.Order) error {
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		UPDATE orders SET status = $2, cancel_reason = $3, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, o.ID, o.Status, o.CancelReason).Scan(&o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("Order")
	}
	if err != nil {
		r.logger.Error("Failed to update order status", "order_id", o.ID, "error", err)
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return nil
}

func (r *OrderRepository) AppendHistory(ctx context.Context, c *models.OrderStatusChange) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		INSERT INTO order_status_history (id, order_id, from_status, to_status, event, actor_kind, actor_id, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, c.ID, c.OrderID, c.From, c.To, c.Event, c.Actor.Kind, c.Actor.ID, c.Reason).Scan(&c.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to record status change", "order_id", c.OrderID, "error", err)
		return fmt.Errorf("failed to record status change: %w", err)
	}
	return nil
}

func (r *OrderRepository) History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusChange, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, `
		SELECT id, order_id, from_status, to_status, event, actor_kind, actor_id, reason, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order history: %w", err)
	}
	defer rows.Close()

	out := []models.OrderStatusChange{}
	for rows.Next() {
		var (
			c         models.OrderStatusChange
			actorKind string
			actorID   uuid.NullUUID
		)
		if err := rows.Scan(&c.ID, &c.OrderID, &c.From, &c.To, &c.Event, &actorKind, &actorID, &c.Reason,
			&c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order history: %w", err)
		}
		c.Actor = actorFrom(actorKind, actorID)
		out = append(out, c)
	}
	return out, rows.Err()
}

// StalePlaced returns orders still awaiting fulfiller acceptance since before.
func (r *OrderRepository) StalePlaced(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, `
		SELECT id FROM orders
		WHERE status = 'placed' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, before, limitOrDefault(limit, 100, 1000))
	if err != nil {
		return nil, fmt.Errorf("failed to query stale orders: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HasPriorOrders reports whether the customer has an order that was not
// cancelled or refunded.
func (r *OrderRepository) HasPriorOrders(ctx context.Context, customerID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM orders WHERE customer_id = $1 AND status NOT IN ('cancelled', 'refunded'))
	`, customerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check prior orders: %w", err)
	}
	return exists, nil
}
