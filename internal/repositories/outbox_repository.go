package repositories

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/database"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

// OutboxRepositoryInterface stores domain events written alongside the
// state change that produced them.
type OutboxRepositoryInterface interface {
	Append(ctx context.Context, events ...models.DomainEvent) error
	Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.DomainEvent, error)
	MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, retryAt time.Time) error
	MarkDead(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
}

type OutboxRepository struct {
	db     *database.DB
	logger *logger.Logger
}

func NewOutboxRepository(db *database.DB, log *logger.Logger) *OutboxRepository {
	return &OutboxRepository{db: db, logger: log.WithComponent("outbox_repository")}
}

func (r *OutboxRepository) Append(ctx context.Context, events ...models.DomainEvent) error {
	q := r.db.Conn(ctx)
	for i := range events {
		e := &events[i]
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		payload := string(e.Payload)
		if payload == "" {
			payload = "{}"
		}
		if _, err := q.ExecContext(ctx, `
			INSERT INTO order_events (id, type, order_id, delivery_id, payload)
			VALUES ($1, $2, $3, $4, $5)
		`, e.ID, e.Type, e.OrderID, e.DeliveryID, payload); err != nil {
			r.logger.Error("Failed to append domain event", "type", e.Type, "order_id", e.OrderID, "error", err)
			return fmt.Errorf("failed to append domain event: %w", err)
		}
		r.logger.Debug("Domain event recorded", "event_id", e.ID, "type", e.Type)
	}
	return nil
}

// Claim leases up to limit undelivered events. Rows locked by another
// dispatcher are skipped; an expired lease makes the event claimable again.
func (r *OutboxRepository) Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.DomainEvent, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, `
		UPDATE order_events SET locked_until = $2, attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM order_events
			WHERE dispatched_at IS NULL AND available_at <= $1 AND (locked_until IS NULL OR locked_until < $1)
			ORDER BY created_at, id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, type, order_id, delivery_id, payload, attempts, available_at, last_error, created_at
	`, now, now.Add(lease), limitOrDefault(limit, 50, 500))
	if err != nil {
		r.logger.Error("Failed to claim domain events", "error", err)
		return nil, fmt.Errorf("failed to claim domain events: %w", err)
	}
	defer rows.Close()

	var out []models.DomainEvent
	for rows.Next() {
		var (
			e          models.DomainEvent
			deliveryID uuid.NullUUID
			payload    []byte
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.OrderID, &deliveryID, &payload, &e.Attempts, &e.AvailableAt,
			&e.LastError, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan domain event: %w", err)
		}
		e.DeliveryID = uuidPtr(deliveryID)
		e.Payload = rawJSON(payload)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *OutboxRepository) MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE order_events SET dispatched_at = $2, locked_until = NULL, last_error = '' WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark event dispatched: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string, retryAt time.Time) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE order_events SET locked_until = NULL, available_at = $3, last_error = $2 WHERE id = $1`,
		id, reason, retryAt)
	if err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	return nil
}

// MarkDead retires an event that exhausted its attempts. It keeps the last
// error for inspection and is never claimed again.
func (r *OutboxRepository) MarkDead(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE order_events SET dispatched_at = $3, locked_until = NULL, last_error = $2 WHERE id = $1`,
		id, reason, at)
	if err != nil {
		return fmt.Errorf("failed to mark event dead: %w", err)
	}
	return nil
}
