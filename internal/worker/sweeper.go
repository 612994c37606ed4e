package worker

import (
	"context"
	"time"

	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

// OrderExpirer cancels placed orders nobody accepted in time.
type OrderExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// OfferSweeper closes expired driver offers and restarts dispatch rounds
// that are due.
type OfferSweeper interface {
	ExpireOffers(ctx context.Context) (int, error)
	RetryDue(ctx context.Context) (int, error)
}

type sweep struct {
	name string
	fn   func(ctx context.Context) (int, error)
}

// Sweeper runs the time-driven transitions on a fixed interval.
type Sweeper struct {
	interval time.Duration
	sweeps   []sweep
	logger   *logger.Logger
}

func NewSweeper(orders OrderExpirer, offers OfferSweeper, interval time.Duration, log *logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sweeper{
		interval: interval,
		sweeps: []sweep{
			{"expire_stale_orders", orders.ExpireStale},
			{"expire_offers", offers.ExpireOffers},
			{"retry_dispatch", offers.RetryDue},
		},
		logger: log.WithComponent("sweeper"),
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("Sweeper started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs every sweep once. A failing sweep is logged and does not
// stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) {
	for _, sw := range s.sweeps {
		if ctx.Err() != nil {
			return
		}
		n, err := sw.fn(ctx)
		if err != nil {
			s.logger.Error("Sweep failed", "sweep", sw.name, "error", err)
			continue
		}
		if n > 0 {
			s.logger.Info("Sweep completed", "sweep", sw.name, "affected", n)
		}
	}
}
