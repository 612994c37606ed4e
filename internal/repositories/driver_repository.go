package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/geo"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/database"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type DriverRepositoryInterface interface {
	SetStatus(ctx context.Context, driverID uuid.UUID, available bool, pos *models.Point, at time.Time) (*models.DriverState, error)
	SetPosition(ctx context.Context, driverID uuid.UUID, pos models.Point, at time.Time) error
	Candidates(ctx context.Context, deliveryID uuid.UUID, pickup models.Point, round, limit int) ([]models.DriverCandidate, error)
	LockAvailability(ctx context.Context, driverID, exceptDelivery uuid.UUID) (*models.DriverAvailability, error)
}

type DriverRepository struct {
	db     *database.DB
	logger *logger.Logger
}

func NewDriverRepository(db *database.DB, log *logger.Logger) *DriverRepository {
	return &DriverRepository{db: db, logger: log.WithComponent("driver_repository")}
}

// SetStatus updates availability and, when pos is set, the idle position.
func (r *DriverRepository) SetStatus(ctx context.Context, driverID uuid.UUID, available bool, pos *models.Point, at time.Time) (*models.DriverState, error) {
	lat, lng := pointArgs(pos)
	st := &models.DriverState{DriverID: driverID}
	var curLat, curLng sql.NullFloat64
	var seen sql.NullTime

	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		UPDATE drivers
		SET is_available = $2,
			current_lat = COALESCE($3, current_lat),
			current_lng = COALESCE($4, current_lng),
			last_seen_at = $5
		WHERE id = $1
		RETURNING is_available, current_lat, current_lng, last_seen_at
	`, driverID, available, lat, lng, at).Scan(&st.IsAvailable, &curLat, &curLng, &seen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Driver")
	}
	if err != nil {
		r.logger.Error("Failed to update driver status", "driver_id", driverID, "error", err)
		return nil, fmt.Errorf("failed to update driver status: %w", err)
	}
	st.Position = pointFrom(curLat, curLng)
	st.LastSeenAt = timePtr(seen)
	r.logger.Info("Driver status updated", "driver_id", driverID, "available", available)
	return st, nil
}

func (r *DriverRepository) SetPosition(ctx context.Context, driverID uuid.UUID, pos models.Point, at time.Time) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE drivers SET current_lat = $2, current_lng = $3, last_seen_at = $4 WHERE id = $1`,
		driverID, pos.Lat, pos.Lng, at)
	if err != nil {
		return fmt.Errorf("failed to update driver position: %w", err)
	}
	return nil
}

// Candidates ranks available drivers by great-circle distance to pickup.
// Drivers holding a pending offer, busy on another delivery or already
// offered this delivery in round are excluded.
func (r *DriverRepository) Candidates(ctx context.Context, deliveryID uuid.UUID, pickup models.Point, round, limit int) ([]models.DriverCandidate, error) {
	query := `
		SELECT d.id, ` + geo.HaversineSQL("d.current_lat", "d.current_lng", "$1", "$2") + ` AS distance_km
		FROM drivers d
		WHERE d.is_active AND d.is_available
			AND d.current_lat IS NOT NULL AND d.current_lng IS NOT NULL
			AND NOT EXISTS (SELECT 1 FROM delivery_offers o WHERE o.driver_id = d.id AND o.status = 'pending')
			AND NOT EXISTS (SELECT 1 FROM delivery_offers o WHERE o.driver_id = d.id AND o.delivery_id = $3 AND o.round = $4)
			AND NOT EXISTS (SELECT 1 FROM deliveries x WHERE x.driver_id = d.id AND x.status IN ('assigned', 'picked_up'))
		ORDER BY distance_km, d.id
		LIMIT $5
	`
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, pickup.Lat, pickup.Lng, deliveryID, round, limitOrDefault(limit, 10, 100))
	if err != nil {
		r.logger.Error("Failed to query driver candidates", "delivery_id", deliveryID, "error", err)
		return nil, fmt.Errorf("failed to query driver candidates: %w", err)
	}
	defer rows.Close()

	var out []models.DriverCandidate
	for rows.Next() {
		var c models.DriverCandidate
		if err := rows.Scan(&c.DriverID, &c.DistanceKm); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LockAvailability locks the driver row and reports whether the driver is
// active and free of other work. Deliveries other than exceptDelivery in
// assigned or picked_up, and pending offers, count as busy.
func (r *DriverRepository) LockAvailability(ctx context.Context, driverID, exceptDelivery uuid.UUID) (*models.DriverAvailability, error) {
	a := &models.DriverAvailability{DriverID: driverID}
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		SELECT d.is_active, d.is_available,
			EXISTS (SELECT 1 FROM deliveries x
				WHERE x.driver_id = d.id AND x.id <> $2 AND x.status IN ('assigned', 'picked_up'))
			OR EXISTS (SELECT 1 FROM delivery_offers o
				WHERE o.driver_id = d.id AND o.delivery_id <> $2 AND o.status = 'pending')
		FROM drivers d
		WHERE d.id = $1
		FOR UPDATE OF d
	`, driverID, exceptDelivery).Scan(&a.IsActive, &a.IsAvailable, &a.Busy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Driver")
	}
	if err != nil {
		r.logger.Error("Failed to load driver availability", "driver_id", driverID, "error", err)
		return nil, fmt.Errorf("failed to load driver availability: %w", err)
	}
	return a, nil
}
