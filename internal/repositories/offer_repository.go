package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/database"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type OfferRepositoryInterface interface {
	Create(ctx context.Context, o *models.DeliveryOffer) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.DeliveryOffer, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.DeliveryOffer, error)
	SetStatus(ctx context.Context, id uuid.UUID, status models.OfferStatus) error
	PendingForDriver(ctx context.Context, driverID uuid.UUID, now time.Time) ([]models.DeliveryOffer, error)
	PendingForDelivery(ctx context.Context, deliveryID uuid.UUID) (*models.DeliveryOffer, error)
	Expired(ctx context.Context, now time.Time, limit int) ([]models.DeliveryOffer, error)
	WithdrawPending(ctx context.Context, deliveryID uuid.UUID) error
}

type OfferRepository struct {
	db     *database.DB
	logger *logger.Logger
}

func NewOfferRepository(db *database.DB, log *logger.Logger) *OfferRepository {
	return &OfferRepository{db: db, logger: log.WithComponent("offer_repository")}
}

const offerSelect = `
	SELECT o.id, o.delivery_id, d.order_id, o.driver_id, o.round, o.status, o.distance_km,
		d.pickup_lat, d.pickup_lng, d.dropoff_lat, d.dropoff_lng, o.expires_at, o.created_at
	FROM delivery_offers o
	JOIN deliveries d ON d.id = o.delivery_id
`

func scanOffer(s rowScanner) (*models.DeliveryOffer, error) {
	o := &models.DeliveryOffer{}
	err := s.Scan(&o.ID, &o.DeliveryID, &o.OrderID, &o.DriverID, &o.Round, &o.Status, &o.DistanceKm,
		&o.Pickup.Lat, &o.Pickup.Lng, &o.Dropoff.Lat, &o.Dropoff.Lng, &o.ExpiresAt, &o.CreatedAt)
	return o, err
}

func (r *OfferRepository) list(ctx context.Context, query string, args ...any) ([]models.DeliveryOffer, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query offers: %w", err)
	}
	defer rows.Close()

	out := []models.DeliveryOffer{}
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// Create inserts a pending offer. A driver or delivery that already has a
// pending offer yields a conflict without aborting the surrounding transaction.
func (r *OfferRepository) Create(ctx context.Context, o *models.DeliveryOffer) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		INSERT INTO delivery_offers (id, delivery_id, driver_id, round, status, distance_km, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
		RETURNING created_at
	`, o.ID, o.DeliveryID, o.DriverID, o.Round, o.Status, o.DistanceKm, o.ExpiresAt).Scan(&o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Conflict("The driver already has an outstanding offer.").WithCode("offer_pending")
	}
	if err != nil {
		r.logger.Error("Failed to create offer", "delivery_id", o.DeliveryID, "driver_id", o.DriverID, "error", err)
		return fmt.Errorf("failed to create offer: %w", err)
	}
	r.logger.Info("Created delivery offer", "offer_id", o.ID, "delivery_id", o.DeliveryID, "driver_id", o.DriverID,
		"round", o.Round)
	return nil
}

func (r *OfferRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DeliveryOffer, error) {
	return r.get(ctx, offerSelect+` WHERE o.id = $1`, id)
}

func (r *OfferRepository) LockByID(ctx context.Context, id uuid.UUID) (*models.DeliveryOffer, error) {
	return r.get(ctx, offerSelect+` WHERE o.id = $1 FOR UPDATE OF o`, id)
}

func (r *OfferRepository) get(ctx context.Context, query string, id uuid.UUID) (*models.DeliveryOffer, error) {
	o, err := scanOffer(r.db.Conn(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Offer")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve offer: %w", err)
	}
	return o, nil
}

func (r *OfferRepository) SetStatus(ctx context.Context, id uuid.UUID, status models.OfferStatus) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE delivery_offers SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update offer: %w", err)
	}
	return nil
}

func (r *OfferRepository) PendingForDriver(ctx context.Context, driverID uuid.UUID, now time.Time) ([]models.DeliveryOffer, error) {
	return r.list(ctx, offerSelect+` WHERE o.driver_id = $1 AND o.status = 'pending' AND o.expires_at > $2 ORDER BY o.created_at`,
		driverID, now)
}

// PendingForDelivery returns nil when the delivery has no outstanding offer.
func (r *OfferRepository) PendingForDelivery(ctx context.Context, deliveryID uuid.UUID) (*models.DeliveryOffer, error) {
	o, err := scanOffer(r.db.Conn(ctx).QueryRowContext(ctx,
		offerSelect+` WHERE o.delivery_id = $1 AND o.status = 'pending'`, deliveryID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve pending offer: %w", err)
	}
	return o, nil
}

// Expired lists pending offers past their deadline. Callers lock each one
// before acting on it.
func (r *OfferRepository) Expired(ctx context.Context, now time.Time, limit int) ([]models.DeliveryOffer, error) {
	return r.list(ctx, offerSelect+`
		WHERE o.status = 'pending' AND o.expires_at <= $1
		ORDER BY o.expires_at
		LIMIT $2
	`, now, limitOrDefault(limit, 100, 1000))
}

func (r *OfferRepository) WithdrawPending(ctx context.Context, deliveryID uuid.UUID) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx, `
		UPDATE delivery_offers SET status = 'withdrawn', updated_at = now()
		WHERE delivery_id = $1 AND status = 'pending'
	`, deliveryID)
	if err != nil {
		return fmt.Errorf("failed to withdraw offers: %w", err)
	}
	return nil
}
