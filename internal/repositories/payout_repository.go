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

type PayoutRepositoryInterface interface {
	Credit(ctx context.Context, p *models.Payout) (bool, error)
	Reverse(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error)
}

type PayoutRepository struct {
	db     *database.DB
	logger *logger.Logger
}

func NewPayoutRepository(db *database.DB, log *logger.Logger) *PayoutRepository {
	return &PayoutRepository{db: db, logger: log.WithComponent("payout_repository")}
}

// Credit records the payout for an order once. A replayed event reports false.
func (r *PayoutRepository) Credit(ctx context.Context, p *models.Payout) (bool, error) {
	res, err := r.db.Conn(ctx).ExecContext(ctx, `
		INSERT INTO payouts (order_id, fulfiller_kind, fulfiller_id, amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id) DO NOTHING
	`, p.OrderID, p.Fulfiller.Kind, p.Fulfiller.ID, p.Amount)
	if err != nil {
		r.logger.Error("Failed to credit payout", "order_id", p.OrderID, "error", err)
		return false, fmt.Errorf("failed to credit payout: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.logger.Info("Credited payout", "order_id", p.OrderID, "fulfiller_kind", p.Fulfiller.Kind, "amount", p.Amount.StringFixed(2))
	}
	return n > 0, nil
}

// Reverse claws back the payout of an order that was unwound after
// settlement. It reports false when there was nothing left to reverse.
func (r *PayoutRepository) Reverse(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error) {
	res, err := r.db.Conn(ctx).ExecContext(ctx, `
		UPDATE payouts SET reversed_at = $2
		WHERE order_id = $1 AND reversed_at IS NULL
	`, orderID, at)
	if err != nil {
		r.logger.Error("Failed to reverse payout", "order_id", orderID, "error", err)
		return false, fmt.Errorf("failed to reverse payout: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.logger.Info("Reversed payout", "order_id", orderID)
	}
	return n > 0, nil
}
