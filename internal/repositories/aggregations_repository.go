package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/database"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

// AggregationRepositoryInterface computes fulfiller reports in SQL.
type AggregationRepositoryInterface interface {
	Sales(ctx context.Context, f models.Fulfiller, from, to time.Time) (*models.SalesReport, error)
	PopularItems(ctx context.Context, f models.Fulfiller, limit int) ([]models.PopularItem, error)
}

type AggregationRepository struct {
	db     *database.DB
	logger *logger.Logger
}

func NewAggregationRepository(db *database.DB, log *logger.Logger) *AggregationRepository {
	return &AggregationRepository{db: db, logger: log.WithComponent("aggregation_repository")}
}

func fulfillerColumn(f models.Fulfiller) string {
	if f.Kind == models.KindChef {
		return "o.chef_id"
	}
	return "o.vendor_id"
}

// Sales aggregates delivered orders created in [from, to).
func (r *AggregationRepository) Sales(ctx context.Context, f models.Fulfiller, from, to time.Time) (*models.SalesReport, error) {
	r.logger.Info("Building sales report", "fulfiller_kind", f.Kind, "fulfiller_id", f.ID, "from", from, "to", to)
	col := fulfillerColumn(f)
	q := r.db.Conn(ctx)

	report := &models.SalesReport{From: from, To: to, ItemSales: []models.ItemSales{}}
	query := `
		SELECT COUNT(*), COALESCE(SUM(o.total), 0), COALESCE(SUM(o.discount), 0), COALESCE(SUM(p.amount), 0)
		FROM orders o
		LEFT JOIN payouts p ON p.order_id = o.id AND p.reversed_at IS NULL
		WHERE ` + col + ` = $1 AND o.status = 'delivered' AND o.created_at >= $2 AND o.created_at < $3
	`
	if err := q.QueryRowContext(ctx, query, f.ID, from, to).
		Scan(&report.OrderCount, &report.Revenue, &report.Discounts, &report.Payouts); err != nil {
		r.logger.Error("Failed to aggregate sales totals", "error", err)
		return nil, fmt.Errorf("failed to aggregate sales totals: %w", err)
	}

	query = `
		SELECT oi.product_id, oi.cuisine_id, MAX(oi.name), SUM(oi.quantity), SUM(oi.line_total)
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE ` + col + ` = $1 AND o.status = 'delivered' AND o.created_at >= $2 AND o.created_at < $3
		GROUP BY oi.product_id, oi.cuisine_id
		ORDER BY SUM(oi.line_total) DESC, MAX(oi.name)
	`
	rows, err := q.QueryContext(ctx, query, f.ID, from, to)
	if err != nil {
		r.logger.Error("Failed to aggregate item sales", "error", err)
		return nil, fmt.Errorf("failed to aggregate item sales: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it                   models.ItemSales
			productID, cuisineID uuid.NullUUID
		)
		if err := rows.Scan(&productID, &cuisineID, &it.Name, &it.Quantity, &it.Revenue); err != nil {
			return nil, fmt.Errorf("failed to scan item sales: %w", err)
		}
		it.Ref = models.RefFromColumns(productID, cuisineID)
		report.ItemSales = append(report.ItemSales, it)
	}
	return report, rows.Err()
}

// PopularItems ranks items by the number of distinct non-cancelled orders
// containing them.
func (r *AggregationRepository) PopularItems(ctx context.Context, f models.Fulfiller, limit int) ([]models.PopularItem, error) {
	query := `
		WITH counts AS (
			SELECT oi.product_id, oi.cuisine_id, MAX(oi.name) AS name,
				COUNT(DISTINCT o.id) AS order_count, SUM(oi.quantity) AS quantity, MAX(o.created_at) AS last_ordered
			FROM order_items oi
			JOIN orders o ON o.id = oi.order_id
			WHERE ` + fulfillerColumn(f) + ` = $1 AND o.status NOT IN ('cancelled', 'refunded')
			GROUP BY oi.product_id, oi.cuisine_id
		)
		SELECT product_id, cuisine_id, name, order_count, quantity, last_ordered,
			RANK() OVER (ORDER BY order_count DESC, quantity DESC) AS rank
		FROM counts
		ORDER BY rank, name
		LIMIT $2
	`
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, f.ID, limitOrDefault(limit, 10, 100))
	if err != nil {
		r.logger.Error("Failed to aggregate popular items", "error", err)
		return nil, fmt.Errorf("failed to aggregate popular items: %w", err)
	}
	defer rows.Close()

	out := []models.PopularItem{}
	for rows.Next() {
		var (
			it                   models.PopularItem
			productID, cuisineID uuid.NullUUID
		)
		if err := rows.Scan(&productID, &cuisineID, &it.Name, &it.OrderCount, &it.Quantity, &it.LastOrdered, &it.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan popular item: %w", err)
		}
		it.Ref = models.RefFromColumns(productID, cuisineID)
		out = append(out, it)
	}
	return out, rows.Err()
}
