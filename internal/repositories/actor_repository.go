package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/database"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

// NewCustomer is a self-registration.
type NewCustomer struct {
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Phone        *string
}

// FederatedAccount is a verified external identity to link or provision.
type FederatedAccount struct {
	Subject string
	Email   string
	Name    string
}

type ActorRepositoryInterface interface {
	ActorStatus(ctx context.Context, kind models.ActorKind, id uuid.UUID) (models.ActorStatus, error)
	Credentials(ctx context.Context, kind models.ActorKind, email string) (*models.Credentials, error)
	CreateCustomer(ctx context.Context, c NewCustomer) (uuid.UUID, error)
	LinkFederated(ctx context.Context, kind models.ActorKind, acct FederatedAccount) (uuid.UUID, error)
}

type ActorRepository struct {
	db     *database.DB
	logger *logger.Logger
}

func NewActorRepository(db *database.DB, log *logger.Logger) *ActorRepository {
	return &ActorRepository{db: db, logger: log.WithComponent("actor_repository")}
}

var actorTables = map[models.ActorKind]string{
	models.KindCustomer: "customers",
	models.KindVendor:   "vendors",
	models.KindChef:     "chefs",
	models.KindDriver:   "drivers",
	models.KindAdmin:    "admins",
}

func (r *ActorRepository) ActorStatus(ctx context.Context, kind models.ActorKind, id uuid.UUID) (models.ActorStatus, error) {
	var (
		st    models.ActorStatus
		perms pq.StringArray
		err   error
	)
	q := r.db.Conn(ctx)

	switch kind {
	case models.KindVendor:
		err = q.QueryRowContext(ctx, `SELECT is_active, role FROM vendors WHERE id = $1`, id).Scan(&st.IsActive, &st.Role)
	case models.KindAdmin:
		err = q.QueryRowContext(ctx, `SELECT is_active, role, permissions FROM admins WHERE id = $1`, id).
			Scan(&st.IsActive, &st.Role, &perms)
	default:
		table, ok := actorTables[kind]
		if !ok {
			return st, nil
		}
		err = q.QueryRowContext(ctx, `SELECT is_active FROM `+table+` WHERE id = $1`, id).Scan(&st.IsActive)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return models.ActorStatus{}, nil
	}
	if err != nil {
		r.logger.Error("Failed to load actor status", "kind", kind, "actor_id", id, "error", err)
		return st, fmt.Errorf("failed to load actor status: %w", err)
	}
	st.Exists = true
	st.Permissions = perms
	return st, nil
}

// Credentials returns nil when no actor of kind has email.
func (r *ActorRepository) Credentials(ctx context.Context, kind models.ActorKind, email string) (*models.Credentials, error) {
	table, ok := actorTables[kind]
	if !ok {
		return nil, nil
	}
	query := `SELECT id, password_hash, is_active FROM ` + table + ` WHERE LOWER(email) = LOWER($1)`

	var c models.Credentials
	err := r.db.Conn(ctx).QueryRowContext(ctx, query, strings.TrimSpace(email)).Scan(&c.ID, &c.PasswordHash, &c.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to load credentials", "kind", kind, "error", err)
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	return &c, nil
}

func (r *ActorRepository) CreateCustomer(ctx context.Context, c NewCustomer) (uuid.UUID, error) {
	query := `
		INSERT INTO customers (email, password_hash, first_name, last_name, phone)
		VALUES (LOWER($1), $2, $3, $4, $5)
		RETURNING id
	`
	var id uuid.UUID
	err := r.db.Conn(ctx).QueryRowContext(ctx, query,
		strings.TrimSpace(c.Email), c.PasswordHash, c.FirstName, c.LastName, c.Phone).Scan(&id)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return uuid.Nil, apperr.Conflict("An account with this email already exists.").WithCode("duplicate_email")
		}
		r.logger.Error("Failed to create customer", "error", err)
		return uuid.Nil, fmt.Errorf("failed to create customer: %w", err)
	}
	r.logger.Info("Registered customer", "customer_id", id)
	return id, nil
}

// LinkFederated attaches the external subject to the account with the same
// email, creating the account when none exists.
func (r *ActorRepository) LinkFederated(ctx context.Context, kind models.ActorKind, acct FederatedAccount) (uuid.UUID, error) {
	var query string
	switch kind {
	case models.KindCustomer:
		query = `
			INSERT INTO customers (email, google_sub, first_name)
			VALUES (LOWER($1), $2, $3)
			ON CONFLICT (email) DO UPDATE
			SET google_sub = COALESCE(customers.google_sub, EXCLUDED.google_sub), updated_at = now()
			RETURNING id
		`
	case models.KindChef:
		query = `
			INSERT INTO chefs (email, google_sub, display_name)
			VALUES (LOWER($1), $2, $3)
			ON CONFLICT (email) DO UPDATE
			SET google_sub = COALESCE(chefs.google_sub, EXCLUDED.google_sub)
			RETURNING id
		`
	default:
		return uuid.Nil, apperr.Validation("Federated sign-in is only available to customers and chefs.")
	}

	name := acct.Name
	if name == "" {
		name = strings.Split(acct.Email, "@")[0]
	}

	var id uuid.UUID
	err := r.db.Conn(ctx).QueryRowContext(ctx, query, acct.Email, acct.Subject, name).Scan(&id)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return uuid.Nil, apperr.Conflict("This identity is already linked to another account.")
		}
		r.logger.Error("Failed to link federated identity", "kind", kind, "error", err)
		return uuid.Nil, fmt.Errorf("failed to link federated identity: %w", err)
	}
	return id, nil
}
