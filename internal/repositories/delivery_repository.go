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

type DeliveryRepositoryInterface interface {
	Create(ctx context.Context, d *models.Delivery) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Delivery, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Delivery, error)
	LockByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Delivery, error)
	Save(ctx context.Context, d *models.Delivery) error
	RecordLocation(ctx context.Context, id, driverID uuid.UUID, p models.Point, at time.Time, minInterval time.Duration) (bool, error)
	SaveRoute(ctx context.Context, id uuid.UUID, route models.Route) error
	DueForDispatch(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

type DeliveryRepository struct {
	db     *database.DB
	logger *logger.Logger
}

func NewDeliveryRepository(db *database.DB, log *logger.Logger) *DeliveryRepository {
	return &DeliveryRepository{db: db, logger: log.WithComponent("delivery_repository")}
}

const deliveryColumns = `id, order_id, driver_id, status, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
	current_lat, current_lng, last_location_update, route_polyline, route_distance_km, route_duration_seconds,
	current_eta_minutes, route_refreshed_at, route_origin_lat, route_origin_lng, dispatch_round, next_dispatch_at,
	picked_up_at, delivered_at, created_at, updated_at`

func scanDelivery(s rowScanner) (*models.Delivery, error) {
	d := &models.Delivery{}
	var (
		driverID                         uuid.NullUUID
		curLat, curLng                   sql.NullFloat64
		lastUpdate, refreshedAt          sql.NullTime
		nextDispatch, pickedUp, delivred sql.NullTime
		polyline                         sql.NullString
		distance, originLat, originLng   sql.NullFloat64
		duration, eta                    sql.NullInt64
	)
	err := s.Scan(&d.ID, &d.OrderID, &driverID, &d.Status, &d.Pickup.Lat, &d.Pickup.Lng, &d.Dropoff.Lat, &d.Dropoff.Lng,
		&curLat, &curLng, &lastUpdate, &polyline, &distance, &duration,
		&eta, &refreshedAt, &originLat, &originLng, &d.DispatchRound, &nextDispatch,
		&pickedUp, &delivred, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.DriverID = uuidPtr(driverID)
	d.Current = pointFrom(curLat, curLng)
	d.LastLocationUpdate = timePtr(lastUpdate)
	d.NextDispatchAt = timePtr(nextDispatch)
	d.PickedUpAt = timePtr(pickedUp)
	d.DeliveredAt = timePtr(delivred)
	if polyline.Valid && refreshedAt.Valid {
		d.Route = &models.Route{
			Polyline:        polyline.String,
			DistanceKm:      distance.Float64,
			DurationSeconds: int(duration.Int64),
			EtaMinutes:      int(eta.Int64),
			RefreshedAt:     refreshedAt.Time,
		}
		if o := pointFrom(originLat, originLng); o != nil {
			d.Route.Origin = *o
		}
	}
	return d, nil
}

func (r *DeliveryRepository) Create(ctx context.Context, d *models.Delivery) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		INSERT INTO deliveries (id, order_id, driver_id, status, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
			dispatch_round, next_dispatch_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, d.ID, d.OrderID, d.DriverID, d.Status, d.Pickup.Lat, d.Pickup.Lng, d.Dropoff.Lat, d.Dropoff.Lng,
		d.DispatchRound, d.NextDispatchAt).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("The order already has a delivery.")
		}
		r.logger.Error("Failed to create delivery", "order_id", d.OrderID, "error", err)
		return fmt.Errorf("failed to create delivery: %w", err)
	}
	r.logger.Info("Created delivery", "delivery_id", d.ID, "order_id", d.OrderID)
	return nil
}

func (r *DeliveryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Delivery, error) {
	return r.get(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id)
}

func (r *DeliveryRepository) LockByID(ctx context.Context, id uuid.UUID) (*models.Delivery, error) {
	return r.get(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1 FOR UPDATE`, id)
}

func (r *DeliveryRepository) LockByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Delivery, error) {
	return r.get(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE order_id = $1 FOR UPDATE`, orderID)
}

func (r *DeliveryRepository) get(ctx context.Context, query string, id uuid.UUID) (*models.Delivery, error) {
	d, err := scanDelivery(r.db.Conn(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Delivery")
	}
	if err != nil {
		r.logger.Error("Failed to retrieve delivery", "id", id, "error", err)
		return nil, fmt.Errorf("failed to retrieve delivery: %w", err)
	}
	return d, nil
}

// Save persists the dispatch and lifecycle fields of d.
func (r *DeliveryRepository) Save(ctx context.Context, d *models.Delivery) error {
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		UPDATE deliveries
		SET driver_id = $2, status = $3, dispatch_round = $4, next_dispatch_at = $5, picked_up_at = $6,
			delivered_at = $7, last_location_update = $8, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, d.ID, d.DriverID, d.Status, d.DispatchRound, d.NextDispatchAt, d.PickedUpAt, d.DeliveredAt,
		d.LastLocationUpdate).Scan(&d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("Delivery")
	}
	if err != nil {
		if database.IsCheckViolation(err, "deliveries_driver_assignment") {
			return apperr.Conflict("A delivery in this state needs an assigned driver.")
		}
		if database.IsForeignKeyViolation(err) {
			return apperr.Validation("The driver does not exist.")
		}
		r.logger.Error("Failed to save delivery", "delivery_id", d.ID, "error", err)
		return fmt.Errorf("failed to save delivery: %w", err)
	}
	return nil
}

// RecordLocation stores the driver's position unless the previous sample
// is younger than minInterval. It reports whether the row was written.
func (r *DeliveryRepository) RecordLocation(ctx context.Context, id, driverID uuid.UUID, p models.Point, at time.Time, minInterval time.Duration) (bool, error) {
	res, err := r.db.Conn(ctx).ExecContext(ctx, `
		UPDATE deliveries
		SET current_lat = $3, current_lng = $4, last_location_update = $5, updated_at = $5
		WHERE id = $1 AND driver_id = $2 AND status IN ('assigned', 'picked_up')
			AND (last_location_update IS NULL OR last_location_update <= $6)
	`, id, driverID, p.Lat, p.Lng, at, at.Add(-minInterval))
	if err != nil {
		r.logger.Error("Failed to record location", "delivery_id", id, "error", err)
		return false, fmt.Errorf("failed to record location: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *DeliveryRepository) SaveRoute(ctx context.Context, id uuid.UUID, route models.Route) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx, `
		UPDATE deliveries
		SET route_polyline = $2, route_distance_km = $3, route_duration_seconds = $4, current_eta_minutes = $5,
			route_refreshed_at = $6, route_origin_lat = $7, route_origin_lng = $8
		WHERE id = $1
	`, id, route.Polyline, route.DistanceKm, route.DurationSeconds, route.EtaMinutes, route.RefreshedAt,
		route.Origin.Lat, route.Origin.Lng)
	if err != nil {
		r.logger.Error("Failed to save route", "delivery_id", id, "error", err)
		return fmt.Errorf("failed to save route: %w", err)
	}
	return nil
}

// DueForDispatch lists unassigned deliveries whose next dispatch attempt is due.
func (r *DeliveryRepository) DueForDispatch(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, `
		SELECT d.id FROM deliveries d
		WHERE d.status = 'pending_assignment' AND d.next_dispatch_at IS NOT NULL AND d.next_dispatch_at <= $1
			AND NOT EXISTS (SELECT 1 FROM delivery_offers o WHERE o.delivery_id = d.id AND o.status = 'pending')
		ORDER BY d.next_dispatch_at
		LIMIT $2
	`, now, limitOrDefault(limit, 100, 1000))
	if err != nil {
		return nil, fmt.Errorf("failed to query due deliveries: %w", err)
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
