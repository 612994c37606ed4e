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

type PromotionRepositoryInterface interface {
	Create(ctx context.Context, p *models.Promotion) error
	List(ctx context.Context, owner models.PromotionOwner, ownerID *uuid.UUID) ([]models.Promotion, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Promotion, error)
	GetByCode(ctx context.Context, code string) (*models.Promotion, error)
	Automatic(ctx context.Context, f models.Fulfiller, now time.Time) ([]models.Promotion, error)
	Redeem(ctx context.Context, promotionID, customerID, orderID uuid.UUID) error
	Release(ctx context.Context, orderID uuid.UUID) (bool, error)
	CustomerRedemptions(ctx context.Context, promotionID, customerID uuid.UUID) (int, error)
}

type PromotionRepository struct {
	db     *database.DB
	logger *logger.Logger
}

func NewPromotionRepository(db *database.DB, log *logger.Logger) *PromotionRepository {
	return &PromotionRepository{db: db, logger: log.WithComponent("promotion_repository")}
}

const promotionColumns = `id, code, name, owner_kind, owner_id, discount_kind, value, starts_at, ends_at, usage_limit,
	usage_count, per_customer_limit, min_subtotal, first_order_only, audience_id, is_active, created_at`

func scanPromotion(s rowScanner) (*models.Promotion, error) {
	p := &models.Promotion{}
	var ownerID, audienceID uuid.NullUUID
	err := s.Scan(&p.ID, &p.Code, &p.Name, &p.OwnerKind, &ownerID, &p.DiscountKind, &p.Value, &p.StartsAt, &p.EndsAt,
		&p.UsageLimit, &p.UsageCount, &p.PerCustomerLimit, &p.MinSubtotal, &p.FirstOrderOnly, &audienceID,
		&p.IsActive, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.OwnerID = uuidPtr(ownerID)
	p.AudienceID = uuidPtr(audienceID)
	return p, nil
}

func (r *PromotionRepository) Create(ctx context.Context, p *models.Promotion) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		INSERT INTO promotions (id, code, name, owner_kind, owner_id, discount_kind, value, starts_at, ends_at,
			usage_limit, per_customer_limit, min_subtotal, first_order_only, audience_id, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING usage_count, created_at
	`, p.ID, p.Code, p.Name, p.OwnerKind, p.OwnerID, p.DiscountKind, p.Value, p.StartsAt, p.EndsAt,
		p.UsageLimit, p.PerCustomerLimit, p.MinSubtotal, p.FirstOrderOnly, p.AudienceID, p.IsActive,
	).Scan(&p.UsageCount, &p.CreatedAt)
	if err != nil {
		switch {
		case database.IsUniqueViolation(err, "promotions_code_key"):
			return apperr.Conflict("A promotion with this code already exists.").WithCode("duplicate_code")
		case database.IsCheckViolation(err, "promotions_window"):
			return apperr.Validation("starts_at must be before ends_at.")
		case database.IsCheckViolation(err):
			return apperr.Validation("The promotion has invalid limits or values.")
		case database.IsForeignKeyViolation(err):
			return apperr.Validation("The referenced audience does not exist.")
		}
		r.logger.Error("Failed to create promotion", "error", err)
		return fmt.Errorf("failed to create promotion: %w", err)
	}
	r.logger.Info("Created promotion", "promotion_id", p.ID, "owner_kind", p.OwnerKind)
	return nil
}

func (r *PromotionRepository) list(ctx context.Context, query string, args ...any) ([]models.Promotion, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query promotions", "error", err)
		return nil, fmt.Errorf("failed to query promotions: %w", err)
	}
	defer rows.Close()

	out := []models.Promotion{}
	for rows.Next() {
		p, err := scanPromotion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan promotion: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *PromotionRepository) List(ctx context.Context, owner models.PromotionOwner, ownerID *uuid.UUID) ([]models.Promotion, error) {
	return r.list(ctx, `
		SELECT `+promotionColumns+` FROM promotions
		WHERE owner_kind = $1 AND owner_id IS NOT DISTINCT FROM $2
		ORDER BY starts_at DESC, id
	`, owner, ownerID)
}

func (r *PromotionRepository) get(ctx context.Context, query string, arg any) (*models.Promotion, error) {
	p, err := scanPromotion(r.db.Conn(ctx).QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Promotion")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve promotion: %w", err)
	}
	return p, nil
}

func (r *PromotionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Promotion, error) {
	return r.get(ctx, `SELECT `+promotionColumns+` FROM promotions WHERE id = $1`, id)
}

// GetByCode matches codes case-insensitively.
func (r *PromotionRepository) GetByCode(ctx context.Context, code string) (*models.Promotion, error) {
	return r.get(ctx, `SELECT `+promotionColumns+` FROM promotions WHERE UPPER(code) = UPPER($1)`, strings.TrimSpace(code))
}

// Automatic returns the code-less promotions that apply to f at now.
func (r *PromotionRepository) Automatic(ctx context.Context, f models.Fulfiller, now time.Time) ([]models.Promotion, error) {
	return r.list(ctx, `
		SELECT `+promotionColumns+` FROM promotions
		WHERE code IS NULL AND is_active AND starts_at <= $1 AND ends_at > $1
			AND (owner_kind = 'platform' OR (owner_kind = $2 AND owner_id = $3))
		ORDER BY starts_at, id
	`, now, string(f.Kind), f.ID)
}

// Redeem takes one usage slot and records the redemption for orderID.
func (r *PromotionRepository) Redeem(ctx context.Context, promotionID, customerID, orderID uuid.UUID) error {
	q := r.db.Conn(ctx)
	var perCustomer sql.NullInt64
	err := q.QueryRowContext(ctx, `
		UPDATE promotions SET usage_count = usage_count + 1
		WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)
		RETURNING per_customer_limit
	`, promotionID).Scan(&perCustomer)
	if errors.Is(err, sql.ErrNoRows) {
		r.logger.Info("Promotion usage exhausted", "promotion_id", promotionID)
		return apperr.UsageExhausted()
	}
	if err != nil {
		r.logger.Error("Failed to redeem promotion", "promotion_id", promotionID, "error", err)
		return fmt.Errorf("failed to redeem promotion: %w", err)
	}

	// the UPDATE above holds the promotion row until commit
	if perCustomer.Valid {
		var used int64
		if err := q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM promotion_redemptions WHERE promotion_id = $1 AND customer_id = $2`,
			promotionID, customerID).Scan(&used); err != nil {
			return fmt.Errorf("failed to count redemptions: %w", err)
		}
		if used >= perCustomer.Int64 {
			r.logger.Info("Per-customer promotion limit reached", "promotion_id", promotionID, "customer_id", customerID)
			return apperr.PerCustomerLimit()
		}
	}

	if _, err := q.ExecContext(ctx, `
		INSERT INTO promotion_redemptions (promotion_id, customer_id, order_id) VALUES ($1, $2, $3)
	`, promotionID, customerID, orderID); err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("A promotion was already applied to this order.")
		}
		return fmt.Errorf("failed to record redemption: %w", err)
	}
	return nil
}

// Release returns the usage slot held by orderID. It reports false when the
// order held none.
func (r *PromotionRepository) Release(ctx context.Context, orderID uuid.UUID) (bool, error) {
	q := r.db.Conn(ctx)
	var promotionID uuid.UUID
	err := q.QueryRowContext(ctx,
		`DELETE FROM promotion_redemptions WHERE order_id = $1 RETURNING promotion_id`, orderID).Scan(&promotionID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete redemption: %w", err)
	}

	if _, err := q.ExecContext(ctx,
		`UPDATE promotions SET usage_count = usage_count - 1 WHERE id = $1 AND usage_count > 0`, promotionID); err != nil {
		return false, fmt.Errorf("failed to release promotion usage: %w", err)
	}
	r.logger.Info("Released promotion usage", "promotion_id", promotionID, "order_id", orderID)
	return true, nil
}

func (r *PromotionRepository) CustomerRedemptions(ctx context.Context, promotionID, customerID uuid.UUID) (int, error) {
	var n int
	err := r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM promotion_redemptions WHERE promotion_id = $1 AND customer_id = $2`,
		promotionID, customerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count redemptions: %w", err)
	}
	return n, nil
}
