package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/database"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type StockRepositoryInterface interface {
	Reserve(ctx context.Context, lines []models.StockLine) error
	Release(ctx context.Context, lines []models.StockLine) error
	Adjust(ctx context.Context, vendorID, productID uuid.UUID, delta int) (*models.StockAdjustment, error)
	LowStock(ctx context.Context, vendorID uuid.UUID) ([]models.LowStockItem, error)
	Expiring(ctx context.Context, vendorID uuid.UUID, days int) ([]models.ExpiringItem, error)
}

type StockRepository struct {
	db     *database.DB
	logger *logger.Logger
}

func NewStockRepository(db *database.DB, log *logger.Logger) *StockRepository {
	return &StockRepository{db: db, logger: log.WithComponent("stock_repository")}
}

// mergeLines sums quantities per product and sorts by id so concurrent
// reservations lock rows in the same order.
func mergeLines(lines []models.StockLine) []models.StockLine {
	sum := make(map[uuid.UUID]int, len(lines))
	for _, l := range lines {
		sum[l.ProductID] += l.Quantity
	}
	out := make([]models.StockLine, 0, len(sum))
	for id, q := range sum {
		out = append(out, models.StockLine{ProductID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID.String() < out[j].ProductID.String() })
	return out
}

// Reserve decrements stock for every line or fails with InsufficientStock.
// It must run inside a transaction so a failed line undoes earlier ones.
func (r *StockRepository) Reserve(ctx context.Context, lines []models.StockLine) error {
	q := r.db.Conn(ctx)
	for _, l := range mergeLines(lines) {
		res, err := q.ExecContext(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity - $2, updated_at = now()
			WHERE id = $1 AND stock_quantity >= $2
		`, l.ProductID, l.Quantity)
		if err != nil {
			r.logger.Error("Failed to reserve stock", "product_id", l.ProductID, "error", err)
			return fmt.Errorf("failed to reserve stock: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			continue
		}

		var available int
		err = q.QueryRowContext(ctx, `SELECT stock_quantity FROM products WHERE id = $1`, l.ProductID).Scan(&available)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("Product")
		}
		if err != nil {
			return fmt.Errorf("failed to read stock: %w", err)
		}
		r.logger.Info("Insufficient stock", "product_id", l.ProductID, "requested", l.Quantity, "available", available)
		return apperr.InsufficientStock(l.ProductID.String(), available)
	}
	return nil
}

func (r *StockRepository) Release(ctx context.Context, lines []models.StockLine) error {
	q := r.db.Conn(ctx)
	for _, l := range mergeLines(lines) {
		if _, err := q.ExecContext(ctx, `
			UPDATE products SET stock_quantity = stock_quantity + $2, updated_at = now() WHERE id = $1
		`, l.ProductID, l.Quantity); err != nil {
			r.logger.Error("Failed to release stock", "product_id", l.ProductID, "error", err)
			return fmt.Errorf("failed to release stock: %w", err)
		}
	}
	return nil
}

// Adjust applies delta to a vendor's product, refusing to go below zero.
func (r *StockRepository) Adjust(ctx context.Context, vendorID, productID uuid.UUID, delta int) (*models.StockAdjustment, error) {
	q := r.db.Conn(ctx)
	adj := &models.StockAdjustment{ProductID: productID, Delta: delta}

	err := q.QueryRowContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $3, updated_at = now()
		WHERE id = $1 AND vendor_id = $2 AND stock_quantity + $3 >= 0
		RETURNING stock_quantity
	`, productID, vendorID, delta).Scan(&adj.Remaining)
	if err == nil {
		r.logger.Info("Adjusted stock", "product_id", productID, "delta", delta, "remaining", adj.Remaining)
		return adj, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		r.logger.Error("Failed to adjust stock", "product_id", productID, "error", err)
		return nil, fmt.Errorf("failed to adjust stock: %w", err)
	}

	var available int
	err = q.QueryRowContext(ctx, `SELECT stock_quantity FROM products WHERE id = $1 AND vendor_id = $2`,
		productID, vendorID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Product")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stock: %w", err)
	}
	return nil, apperr.Validation("Stock cannot go below zero.").With("available", available)
}

func (r *StockRepository) LowStock(ctx context.Context, vendorID uuid.UUID) ([]models.LowStockItem, error) {
	query := `
		SELECT id, name, stock_quantity, low_stock_threshold
		FROM products
		WHERE vendor_id = $1 AND status <> 'draft' AND stock_quantity <= low_stock_threshold
		ORDER BY stock_quantity, name
	`
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, vendorID)
	if err != nil {
		r.logger.Error("Failed to query low stock", "vendor_id", vendorID, "error", err)
		return nil, fmt.Errorf("failed to query low stock: %w", err)
	}
	defer rows.Close()

	items := []models.LowStockItem{}
	for rows.Next() {
		var it models.LowStockItem
		if err := rows.Scan(&it.ProductID, &it.Name, &it.StockQuantity, &it.LowStockThreshold); err != nil {
			return nil, fmt.Errorf("failed to scan low stock row: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Expiring lists in-stock products whose expiry date falls within days.
func (r *StockRepository) Expiring(ctx context.Context, vendorID uuid.UUID, days int) ([]models.ExpiringItem, error) {
	query := `
		SELECT id, name, stock_quantity, expiry_date, (expiry_date - CURRENT_DATE) AS days_left
		FROM products
		WHERE vendor_id = $1 AND expiry_date IS NOT NULL AND stock_quantity > 0
			AND expiry_date <= CURRENT_DATE + $2::int
		ORDER BY expiry_date, name
	`
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, vendorID, days)
	if err != nil {
		r.logger.Error("Failed to query expiring products", "vendor_id", vendorID, "error", err)
		return nil, fmt.Errorf("failed to query expiring products: %w", err)
	}
	defer rows.Close()

	items := []models.ExpiringItem{}
	for rows.Next() {
		var it models.ExpiringItem
		if err := rows.Scan(&it.ProductID, &it.Name, &it.StockQuantity, &it.ExpiryDate, &it.DaysLeft); err != nil {
			return nil, fmt.Errorf("failed to scan expiring row: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
