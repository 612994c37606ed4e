package worker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/repositories"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

// EventHandler applies the side effects of one domain event.
type EventHandler interface {
	Handle(ctx context.Context, e models.DomainEvent) error
}

type DispatcherConfig struct {
	Interval    time.Duration
	BatchSize   int
	Lease       time.Duration
	MaxAttempts int
}

// Dispatcher drains the outbox. Each event is leased, handled and then
// marked dispatched; failures are retried with exponential backoff until
// MaxAttempts, after which the event is retired with its last error.
type Dispatcher struct {
	outbox  repositories.OutboxRepositoryInterface
	handler EventHandler
	cfg     DispatcherConfig
	now     func() time.Time
	logger  *logger.Logger
}

func NewDispatcher(outbox repositories.OutboxRepositoryInterface, handler EventHandler, cfg DispatcherConfig, log *logger.Logger) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Dispatcher{
		outbox:  outbox,
		handler: handler,
		cfg:     cfg,
		now:     time.Now,
		logger:  log.WithComponent("outbox_dispatcher"),
	}
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("Outbox dispatcher started", "interval", d.cfg.Interval, "batch_size", d.cfg.BatchSize)
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Outbox dispatcher stopped")
			return
		case <-ticker.C:
			// keep draining while full batches come back
			for {
				n, err := d.RunOnce(ctx)
				if err != nil || n < d.cfg.BatchSize || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// RunOnce claims and handles one batch and returns how many events it claimed.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	events, err := d.outbox.Claim(ctx, d.now(), d.cfg.Lease, d.cfg.BatchSize)
	if err != nil {
		d.logger.Error("Failed to claim outbox events", "error", err)
		return 0, err
	}

	for _, e := range events {
		if ctx.Err() != nil {
			// unhandled claims become visible again when the lease runs out
			return len(events), ctx.Err()
		}
		d.dispatch(ctx, e)
	}
	return len(events), nil
}

func (d *Dispatcher) dispatch(ctx context.Context, e models.DomainEvent) {
	log := d.logger.For(ctx)
	err := d.handler.Handle(ctx, e)
	if err == nil {
		if err := d.outbox.MarkDispatched(ctx, e.ID, d.now()); err != nil {
			log.Error("Failed to mark event dispatched", "event_id", e.ID, "error", err)
		}
		return
	}

	if e.Attempts >= d.cfg.MaxAttempts {
		log.Error("Event exhausted its attempts", "event_id", e.ID, "type", e.Type, "attempts", e.Attempts, "error", err)
		if err := d.outbox.MarkDead(ctx, e.ID, err.Error(), d.now()); err != nil {
			log.Error("Failed to retire event", "event_id", e.ID, "error", err)
		}
		return
	}

	retryAt := d.now().Add(retryDelay(e.Attempts))
	log.Warn("Event handling failed, will retry", "event_id", e.ID, "type", e.Type,
		"attempts", e.Attempts, "retry_at", retryAt, "error", err)
	if err := d.outbox.MarkFailed(ctx, e.ID, err.Error(), retryAt); err != nil {
		log.Error("Failed to reschedule event", "event_id", e.ID, "error", err)
	}
}

// retryDelay is the backoff before attempt+1.
func retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 5 * time.Minute
	b.RandomizationFactor = 0
	b.Reset()

	delay := b.InitialInterval
	for range max(attempt, 1) {
		delay = b.NextBackOff()
	}
	return delay
}
