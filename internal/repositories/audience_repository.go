package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/audience"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/database"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type AudienceRepositoryInterface interface {
	Create(ctx context.Context, a *models.Audience) error
	List(ctx context.Context) ([]models.Audience, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Audience, error)
	UpdateSize(ctx context.Context, id uuid.UUID, size int64) error
	Count(ctx context.Context, q *audience.Query) (int64, error)
	IsMember(ctx context.Context, q *audience.Query, customerID uuid.UUID) (bool, error)
	Notify(ctx context.Context, q *audience.Query, title, body string) (int64, error)
}

type AudienceRepository struct {
	db     *database.DB
	logger *logger.Logger
}

func NewAudienceRepository(db *database.DB, log *logger.Logger) *AudienceRepository {
	return &AudienceRepository{db: db, logger: log.WithComponent("audience_repository")}
}

const audienceColumns = `id, name, criteria, materialized_size, created_by, created_at, updated_at`

func scanAudience(s rowScanner) (*models.Audience, error) {
	a := &models.Audience{}
	var criteria []byte
	if err := s.Scan(&a.ID, &a.Name, &criteria, &a.MaterializedSize, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(criteria, &a.Criteria); err != nil {
		return nil, fmt.Errorf("failed to decode audience criteria: %w", err)
	}
	return a, nil
}

func (r *AudienceRepository) Create(ctx context.Context, a *models.Audience) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	criteria, err := json.Marshal(a.Criteria)
	if err != nil {
		return fmt.Errorf("failed to encode criteria: %w", err)
	}
	err = r.db.Conn(ctx).QueryRowContext(ctx, `
		INSERT INTO audiences (id, name, criteria, materialized_size, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, a.ID, a.Name, string(criteria), a.MaterializedSize, a.CreatedBy).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create audience", "error", err)
		return fmt.Errorf("failed to create audience: %w", err)
	}
	r.logger.Info("Created audience", "audience_id", a.ID, "size", a.MaterializedSize)
	return nil
}

func (r *AudienceRepository) List(ctx context.Context) ([]models.Audience, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, `SELECT `+audienceColumns+` FROM audiences ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query audiences: %w", err)
	}
	defer rows.Close()

	out := []models.Audience{}
	for rows.Next() {
		a, err := scanAudience(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *AudienceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Audience, error) {
	a, err := scanAudience(r.db.Conn(ctx).QueryRowContext(ctx, `SELECT `+audienceColumns+` FROM audiences WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Audience")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve audience: %w", err)
	}
	return a, nil
}

func (r *AudienceRepository) UpdateSize(ctx context.Context, id uuid.UUID, size int64) error {
	res, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE audiences SET materialized_size = $2, updated_at = now() WHERE id = $1`, id, size)
	if err != nil {
		return fmt.Errorf("failed to update audience size: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("Audience")
	}
	return nil
}

// Count evaluates the compiled rule set in the database.
func (r *AudienceRepository) Count(ctx context.Context, q *audience.Query) (int64, error) {
	query, args := q.CountSQL()
	var n int64
	if err := r.db.Conn(ctx).QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		r.logger.Error("Failed to size audience", "error", err)
		return 0, fmt.Errorf("failed to size audience: %w", err)
	}
	return n, nil
}

func (r *AudienceRepository) IsMember(ctx context.Context, q *audience.Query, customerID uuid.UUID) (bool, error) {
	query, args := q.MembershipSQL(customerID)
	var ok bool
	if err := r.db.Conn(ctx).QueryRowContext(ctx, query, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to test audience membership: %w", err)
	}
	return ok, nil
}

// Notify inserts one notification per member and returns how many were written.
func (r *AudienceRepository) Notify(ctx context.Context, q *audience.Query, title, body string) (int64, error) {
	query, args := q.NotifySQL(title, body)
	res, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to notify audience", "error", err)
		return 0, fmt.Errorf("failed to notify audience: %w", err)
	}
	return res.RowsAffected()
}
