package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/database"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type CuisineRepositoryInterface interface {
	Create(ctx context.Context, c *models.Cuisine) error
	Update(ctx context.Context, c *models.Cuisine) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Cuisine, error)
	List(ctx context.Context, chefID *uuid.UUID, status models.ItemStatus) ([]*models.Cuisine, error)
	SlugsWithPrefix(ctx context.Context, chefID uuid.UUID, base string) ([]string, error)
}

type CuisineRepository struct {
	db     *database.DB
	logger *logger.Logger
}

func NewCuisineRepository(db *database.DB, log *logger.Logger) *CuisineRepository {
	return &CuisineRepository{db: db, logger: log.WithComponent("cuisine_repository")}
}

const cuisineColumns = `id, chef_id, name, slug, description, price, serves, dietary_flags, status, created_at, updated_at`

func scanCuisine(s rowScanner) (*models.Cuisine, error) {
	c := &models.Cuisine{}
	var flags pq.StringArray
	if err := s.Scan(&c.ID, &c.ChefID, &c.Name, &c.Slug, &c.Description, &c.Price, &c.Serves, &flags,
		&c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.DietaryFlags = []string(flags)
	return c, nil
}

func (r *CuisineRepository) Create(ctx context.Context, c *models.Cuisine) error {
	query := `
		INSERT INTO cuisines (id, chef_id, name, slug, description, price, serves, dietary_flags, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := r.db.Conn(ctx).QueryRowContext(ctx, query,
		c.ID, c.ChefID, c.Name, c.Slug, c.Description, c.Price, c.Serves, pq.Array(c.DietaryFlags), c.Status,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return r.translate(err, c)
	}
	r.logger.Info("Added new cuisine", "cuisine_id", c.ID, "chef_id", c.ChefID)
	return nil
}

func (r *CuisineRepository) Update(ctx context.Context, c *models.Cuisine) error {
	query := `
		UPDATE cuisines
		SET name = $3, slug = $4, description = $5, price = $6, serves = $7, dietary_flags = $8, status = $9,
			updated_at = now()
		WHERE id = $1 AND chef_id = $2
		RETURNING created_at, updated_at
	`
	err := r.db.Conn(ctx).QueryRowContext(ctx, query,
		c.ID, c.ChefID, c.Name, c.Slug, c.Description, c.Price, c.Serves, pq.Array(c.DietaryFlags), c.Status,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("Cuisine")
	}
	if err != nil {
		return r.translate(err, c)
	}
	r.logger.Info("Updated cuisine", "cuisine_id", c.ID)
	return nil
}

func (r *CuisineRepository) translate(err error, c *models.Cuisine) error {
	switch {
	case database.IsUniqueViolation(err, "cuisines_chef_slug_key"):
		return apperr.Conflict("You already have a dish with this slug.").WithCode("duplicate_slug")
	case database.IsCheckViolation(err):
		return apperr.Validation("Price must not be negative and serves must be positive.")
	}
	r.logger.Error("Failed to write cuisine", "cuisine_id", c.ID, "error", err)
	return fmt.Errorf("failed to write cuisine: %w", err)
}

func (r *CuisineRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Cuisine, error) {
	c, err := scanCuisine(r.db.Conn(ctx).QueryRowContext(ctx, `SELECT `+cuisineColumns+` FROM cuisines WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Cuisine")
	}
	if err != nil {
		r.logger.Error("Failed to retrieve cuisine", "cuisine_id", id, "error", err)
		return nil, fmt.Errorf("failed to retrieve cuisine: %w", err)
	}
	return c, nil
}

func (r *CuisineRepository) List(ctx context.Context, chefID *uuid.UUID, status models.ItemStatus) ([]*models.Cuisine, error) {
	query := `
		SELECT ` + cuisineColumns + `
		FROM cuisines
		WHERE ($1::uuid IS NULL OR chef_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY name, id
	`
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, chefID, string(status))
	if err != nil {
		r.logger.Error("Failed to query cuisines", "error", err)
		return nil, fmt.Errorf("failed to query cuisines: %w", err)
	}
	defer rows.Close()

	out := []*models.Cuisine{}
	for rows.Next() {
		c, err := scanCuisine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cuisine: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CuisineRepository) SlugsWithPrefix(ctx context.Context, chefID uuid.UUID, base string) ([]string, error) {
	return slugsWithPrefix(ctx, r.db.Conn(ctx),
		`SELECT slug FROM cuisines WHERE (slug = $1 OR slug LIKE $2) AND chef_id = $3`, base, chefID)
}
