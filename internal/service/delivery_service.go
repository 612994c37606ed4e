package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/geo"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/repositories"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/database"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/ratelimit"
)

const candidatesPerRound = 5

type LocationRequest struct {
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
}

type DriverStatusRequest struct {
	IsAvailable *bool    `json:"is_available" validate:"required"`
	Lat         *float64 `json:"lat" validate:"required_with=Lng,omitempty,gte=-90,lte=90"`
	Lng         *float64 `json:"lng" validate:"required_with=Lat,omitempty,gte=-180,lte=180"`
}

type ReassignRequest struct {
	DriverID *uuid.UUID `json:"driver_id"`
	Reason   string     `json:"reason" validate:"max=500"`
}

type DeliveryConfig struct {
	OfferTimeout         time.Duration
	MaxRounds            int
	MinLocationInterval  time.Duration
	RouteRefreshInterval time.Duration
	RouteRefreshDistance float64 // metres
}

type DeliveryServiceInterface interface {
	DispatchOrder(ctx context.Context, orderID uuid.UUID) error
	Offers(ctx context.Context, p models.Principal) ([]models.DeliveryOffer, error)
	AcceptOffer(ctx context.Context, p models.Principal, offerID uuid.UUID) (*models.Delivery, error)
	DeclineOffer(ctx context.Context, p models.Principal, offerID uuid.UUID) error
	Pickup(ctx context.Context, p models.Principal, id uuid.UUID) (*models.Delivery, error)
	Deliver(ctx context.Context, p models.Principal, id uuid.UUID) (*models.Delivery, error)
	RecordLocation(ctx context.Context, p models.Principal, id uuid.UUID, req LocationRequest) error
	Track(ctx context.Context, p models.Principal, id uuid.UUID) (*models.TrackView, error)
	SetDriverStatus(ctx context.Context, p models.Principal, req DriverStatusRequest) (*models.DriverState, error)
	Reassign(ctx context.Context, p models.Principal, id uuid.UUID, req ReassignRequest) (*models.Delivery, error)
}

// DeliveryService dispatches ready orders to drivers and tracks them en
// route. Locks are always taken order first, then delivery, then offer.
type DeliveryService struct {
	tx         database.TxManager
	orders     repositories.OrderRepositoryInterface
	orderFlow  *OrderService
	deliveries repositories.DeliveryRepositoryInterface
	drivers    repositories.DriverRepositoryInterface
	offers     repositories.OfferRepositoryInterface
	outbox     repositories.OutboxRepositoryInterface
	limiter    ratelimit.Limiter
	directions geo.DirectionsProvider
	cfg        DeliveryConfig
	now        Clock
	logger     *logger.Logger
}

func NewDeliveryService(
	tx database.TxManager,
	orders repositories.OrderRepositoryInterface,
	orderFlow *OrderService,
	deliveries repositories.DeliveryRepositoryInterface,
	drivers repositories.DriverRepositoryInterface,
	offers repositories.OfferRepositoryInterface,
	outbox repositories.OutboxRepositoryInterface,
	limiter ratelimit.Limiter,
	directions geo.DirectionsProvider,
	cfg DeliveryConfig,
	log *logger.Logger,
) *DeliveryService {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 3
	}
	return &DeliveryService{
		tx:         tx,
		orders:     orders,
		orderFlow:  orderFlow,
		deliveries: deliveries,
		drivers:    drivers,
		offers:     offers,
		outbox:     outbox,
		limiter:    limiter,
		directions: directions,
		cfg:        cfg,
		now:        time.Now,
		logger:     log.WithComponent("delivery_service"),
	}
}

func (s *DeliveryService) WithClock(c Clock) *DeliveryService {
	s.now = c
	return s
}

// lockForDelivery locks the order and then the delivery identified by id.
func (s *DeliveryService) lockForDelivery(ctx context.Context, id uuid.UUID) (*models.Order, *models.Delivery, error) {
	peek, err := s.deliveries.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	o, err := s.orders.LockByID(ctx, peek.OrderID)
	if err != nil {
		return nil, nil, err
	}
	d, err := s.deliveries.LockByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return o, d, nil
}

// DispatchOrder starts or resumes offering the order's delivery. It does
// nothing unless the order is ready, the delivery unassigned, no offer is
// outstanding and the next round is due.
func (s *DeliveryService) DispatchOrder(ctx context.Context, orderID uuid.UUID) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "delivery.dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID.String()))

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.LockByID(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != models.OrderReady || o.FulfillmentType != models.FulfillmentDelivery {
			return nil
		}
		d, err := s.deliveries.LockByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		if d.Status != models.DeliveryPendingAssignment {
			return nil
		}
		if d.NextDispatchAt != nil && d.NextDispatchAt.After(s.now()) {
			return nil
		}
		pending, err := s.offers.PendingForDelivery(ctx, d.ID)
		if err != nil {
			return err
		}
		if pending != nil {
			return nil
		}
		if d.DispatchRound == 0 {
			d.DispatchRound = 1
		}
		return s.offerNext(ctx, o, d)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("Failed to dispatch order", "order_id", orderID, "error", err)
		return classify(err, "dispatch order")
	}
	return nil
}

// offerNext offers d to the nearest eligible driver in the current round.
// When the round has no one left it schedules the next round, and after the
// last round marks the delivery failed.
func (s *DeliveryService) offerNext(ctx context.Context, o *models.Order, d *models.Delivery) error {
	now := s.now()
	candidates, err := s.drivers.Candidates(ctx, d.ID, d.Pickup, d.DispatchRound, candidatesPerRound)
	if err != nil {
		return err
	}

	for _, c := range candidates {
		offer := &models.DeliveryOffer{
			DeliveryID: d.ID,
			OrderID:    d.OrderID,
			DriverID:   c.DriverID,
			Round:      d.DispatchRound,
			Status:     models.OfferPending,
			DistanceKm: c.DistanceKm,
			Pickup:     d.Pickup,
			Dropoff:    d.Dropoff,
			ExpiresAt:  now.Add(s.cfg.OfferTimeout),
		}
		err := s.offers.Create(ctx, offer)
		if apperr.Is(err, apperr.KindConflict) {
			// driver took another offer since the candidate scan
			continue
		}
		if err != nil {
			return err
		}
		expires := offer.ExpiresAt
		d.NextDispatchAt = &expires
		s.logger.Info("Delivery offered", "delivery_id", d.ID, "driver_id", c.DriverID, "round", d.DispatchRound, "distance_km", c.DistanceKm)
		return s.deliveries.Save(ctx, d)
	}

	if d.DispatchRound >= s.cfg.MaxRounds {
		d.Status = models.DeliveryFailed
		d.NextDispatchAt = nil
		if err := s.deliveries.Save(ctx, d); err != nil {
			return err
		}
		s.logger.Warn("Delivery dispatch exhausted", "delivery_id", d.ID, "order_id", o.ID, "rounds", d.DispatchRound)
		return s.outbox.Append(ctx, models.NewDeliveryEvent(models.EventTypeDeliveryFailed, o, d,
			fmt.Sprintf("no driver accepted after %d rounds", d.DispatchRound)))
	}

	d.DispatchRound++
	next := now.Add(s.cfg.OfferTimeout)
	d.NextDispatchAt = &next
	s.logger.Info("No driver available, next round scheduled", "delivery_id", d.ID, "round", d.DispatchRound, "at", next)
	return s.deliveries.Save(ctx, d)
}

func (s *DeliveryService) Offers(ctx context.Context, p models.Principal) ([]models.DeliveryOffer, error) {
	if err := requireKind(p, models.KindDriver); err != nil {
		return nil, err
	}
	offers, err := s.offers.PendingForDriver(ctx, p.ID, s.now())
	if err != nil {
		s.logger.Error("Failed to list offers", "driver_id", p.ID, "error", err)
		return nil, classify(err, "list offers")
	}
	return offers, nil
}

// lockOffer locks order, delivery and offer in that order. Offers of other
// drivers read as missing.
func (s *DeliveryService) lockOffer(ctx context.Context, driverID, offerID uuid.UUID) (*models.Order, *models.Delivery, *models.DeliveryOffer, error) {
	peek, err := s.offers.GetByID(ctx, offerID)
	if err != nil {
		return nil, nil, nil, err
	}
	if peek.DriverID != driverID {
		return nil, nil, nil, apperr.NotFound("Offer")
	}
	o, err := s.orders.LockByID(ctx, peek.OrderID)
	if err != nil {
		return nil, nil, nil, err
	}
	d, err := s.deliveries.LockByID(ctx, peek.DeliveryID)
	if err != nil {
		return nil, nil, nil, err
	}
	offer, err := s.offers.LockByID(ctx, offerID)
	if err != nil {
		return nil, nil, nil, err
	}
	return o, d, offer, nil
}

// AcceptOffer assigns the delivery to the driver holding a live offer.
// Of two concurrent accepts at most one succeeds.
func (s *DeliveryService) AcceptOffer(ctx context.Context, p models.Principal, offerID uuid.UUID) (*models.Delivery, error) {
	if err := requireKind(p, models.KindDriver); err != nil {
		return nil, err
	}

	var out *models.Delivery
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		o, d, offer, err := s.lockOffer(ctx, p.ID, offerID)
		if err != nil {
			return err
		}
		if offer.Status != models.OfferPending || d.Status != models.DeliveryPendingAssignment {
			return apperr.Conflict("This offer is no longer available.").WithCode("offer_closed")
		}
		if !s.now().Before(offer.ExpiresAt) {
			return apperr.Conflict("This offer has expired.").WithCode("offer_expired")
		}

		if err := s.offers.SetStatus(ctx, offer.ID, models.OfferAccepted); err != nil {
			return err
		}
		driverID := p.ID
		d.DriverID = &driverID
		d.Status = models.DeliveryAssigned
		d.NextDispatchAt = nil
		if err := s.deliveries.Save(ctx, d); err != nil {
			return err
		}
		out = d
		return s.outbox.Append(ctx, models.NewDeliveryEvent(models.EventTypeDeliveryAssigned, o, d, ""))
	})
	if err != nil {
		s.logger.Warn("Offer accept rejected", "offer_id", offerID, "driver_id", p.ID, "error", err)
		return nil, classify(err, "accept offer")
	}

	s.logger.Info("Offer accepted", "offer_id", offerID, "delivery_id", out.ID, "driver_id", p.ID)
	return out, nil
}

// DeclineOffer closes the offer and moves on to the next candidate.
func (s *DeliveryService) DeclineOffer(ctx context.Context, p models.Principal, offerID uuid.UUID) error {
	if err := requireKind(p, models.KindDriver); err != nil {
		return err
	}

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		o, d, offer, err := s.lockOffer(ctx, p.ID, offerID)
		if err != nil {
			return err
		}
		if offer.Status != models.OfferPending {
			return apperr.Conflict("This offer is no longer available.").WithCode("offer_closed")
		}
		if err := s.offers.SetStatus(ctx, offer.ID, models.OfferDeclined); err != nil {
			return err
		}
		return s.advance(ctx, o, d)
	})
	if err != nil {
		s.logger.Warn("Offer decline rejected", "offer_id", offerID, "driver_id", p.ID, "error", err)
		return classify(err, "decline offer")
	}

	s.logger.Info("Offer declined", "offer_id", offerID, "driver_id", p.ID)
	return nil
}

// advance re-offers a delivery whose offer just closed, if it still waits.
func (s *DeliveryService) advance(ctx context.Context, o *models.Order, d *models.Delivery) error {
	if d.Status != models.DeliveryPendingAssignment || o.Status != models.OrderReady {
		return nil
	}
	return s.offerNext(ctx, o, d)
}

// ExpireOffers closes offers past their deadline and re-offers their
// deliveries.
func (s *DeliveryService) ExpireOffers(ctx context.Context) (int, error) {
	stale, err := s.offers.Expired(ctx, s.now(), 100)
	if err != nil {
		s.logger.Error("Failed to load expired offers", "error", err)
		return 0, err
	}

	expired := 0
	for _, peek := range stale {
		err := s.tx.WithTx(ctx, func(ctx context.Context) error {
			o, d, offer, err := s.lockOffer(ctx, peek.DriverID, peek.ID)
			if err != nil {
				return err
			}
			if offer.Status != models.OfferPending {
				return nil
			}
			if err := s.offers.SetStatus(ctx, offer.ID, models.OfferExpired); err != nil {
				return err
			}
			expired++
			return s.advance(ctx, o, d)
		})
		if err != nil {
			s.logger.Error("Failed to expire offer", "offer_id", peek.ID, "error", err)
		}
	}
	if expired > 0 {
		s.logger.Info("Expired delivery offers", "count", expired)
	}
	return expired, nil
}

// RetryDue runs dispatch rounds whose scheduled time has passed.
func (s *DeliveryService) RetryDue(ctx context.Context) (int, error) {
	ids, err := s.deliveries.DueForDispatch(ctx, s.now(), 100)
	if err != nil {
		s.logger.Error("Failed to load due deliveries", "error", err)
		return 0, err
	}

	ran := 0
	for _, id := range ids {
		d, err := s.deliveries.GetByID(ctx, id)
		if err != nil {
			s.logger.Error("Failed to load delivery", "delivery_id", id, "error", err)
			continue
		}
		if err := s.DispatchOrder(ctx, d.OrderID); err != nil {
			continue
		}
		ran++
	}
	return ran, nil
}

// Pickup records that the assigned driver collected the goods and moves the
// order in transit.
func (s *DeliveryService) Pickup(ctx context.Context, p models.Principal, id uuid.UUID) (*models.Delivery, error) {
	d, err := s.driverStep(ctx, p, id, models.DeliveryAssigned, models.DeliveryPickedUp, models.EventPickup)
	if err != nil {
		return nil, err
	}
	if d.Current != nil {
		d = s.refreshRoute(ctx, d)
	}
	return d, nil
}

// Deliver records the hand-over to the customer.
func (s *DeliveryService) Deliver(ctx context.Context, p models.Principal, id uuid.UUID) (*models.Delivery, error) {
	return s.driverStep(ctx, p, id, models.DeliveryPickedUp, models.DeliveryDelivered, models.EventDeliver)
}

func (s *DeliveryService) driverStep(ctx context.Context, p models.Principal, id uuid.UUID, from, to models.DeliveryStatus, event models.OrderEvent) (*models.Delivery, error) {
	if err := requireKind(p, models.KindDriver); err != nil {
		return nil, err
	}

	var out *models.Delivery
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		o, d, err := s.lockForDelivery(ctx, id)
		if err != nil {
			return err
		}
		if d.Status != from {
			return apperr.InvalidTransition("delivery", string(d.Status), string(event))
		}
		if !d.AssignedTo(p.ID) {
			return apperr.Forbidden("This delivery is assigned to another driver.")
		}

		now := s.now()
		d.Status = to
		if to == models.DeliveryPickedUp {
			d.PickedUpAt = &now
		} else {
			d.DeliveredAt = &now
		}
		if err := s.deliveries.Save(ctx, d); err != nil {
			return err
		}
		if _, err := s.orderFlow.ApplyEvent(ctx, o.ID, event, p.Ref(), ""); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		s.logger.Warn("Delivery step rejected", "delivery_id", id, "event", event, "driver_id", p.ID, "error", err)
		return nil, classify(err, "delivery "+string(event))
	}

	s.logger.Info("Delivery advanced", "delivery_id", id, "status", out.Status, "driver_id", p.ID)
	return out, nil
}

// RecordLocation stores the driver's position for an active delivery.
// Updates closer together than the minimum interval are rejected.
func (s *DeliveryService) RecordLocation(ctx context.Context, p models.Principal, id uuid.UUID, req LocationRequest) error {
	if err := requireKind(p, models.KindDriver); err != nil {
		return err
	}
	if err := validateRequest(req); err != nil {
		return err
	}
	pos := models.Point{Lat: *req.Lat, Lng: *req.Lng}

	d, err := s.deliveries.GetByID(ctx, id)
	if err != nil {
		return classify(err, "record location")
	}
	if err := checkTracking(d, p.ID); err != nil {
		return err
	}

	limited := apperr.RateLimited(fmt.Sprintf("Location updates are limited to one every %s.", s.cfg.MinLocationInterval))
	if !s.limiter.Allow(ctx, "location:"+id.String()+":"+p.ID.String(), s.cfg.MinLocationInterval) {
		return limited
	}

	now := s.now()
	written, err := s.deliveries.RecordLocation(ctx, id, p.ID, pos, now, s.cfg.MinLocationInterval)
	if err != nil {
		s.logger.Error("Failed to record location", "delivery_id", id, "error", err)
		return classify(err, "record location")
	}
	if !written {
		// reassigned or completed since the read, or inside the window
		if d, err = s.deliveries.GetByID(ctx, id); err != nil {
			return classify(err, "record location")
		}
		if err := checkTracking(d, p.ID); err != nil {
			return err
		}
		return limited
	}
	d.Current = &pos
	d.LastLocationUpdate = &now

	if err := s.drivers.SetPosition(ctx, p.ID, pos, now); err != nil {
		s.logger.Warn("Failed to update driver position", "driver_id", p.ID, "error", err)
	}
	s.maybeRefreshRoute(ctx, d)
	return nil
}

// checkTracking allows location updates only from the assigned driver of an
// active delivery.
func checkTracking(d *models.Delivery, driverID uuid.UUID) error {
	if !d.AssignedTo(driverID) {
		return apperr.Forbidden("This delivery is assigned to another driver.")
	}
	if d.Status != models.DeliveryAssigned && d.Status != models.DeliveryPickedUp {
		return apperr.InvalidTransition("delivery", string(d.Status), "track")
	}
	return nil
}

// maybeRefreshRoute recomputes the route when none is stored, the stored
// one is older than the refresh interval, or the driver moved away from
// where it was computed.
func (s *DeliveryService) maybeRefreshRoute(ctx context.Context, d *models.Delivery) *models.Delivery {
	if d.Current == nil || (d.Status != models.DeliveryAssigned && d.Status != models.DeliveryPickedUp) {
		return d
	}
	if r := d.Route; r != nil {
		fresh := s.now().Sub(r.RefreshedAt) < s.cfg.RouteRefreshInterval
		near := geo.DistanceMeters(r.Origin, *d.Current) < s.cfg.RouteRefreshDistance
		if fresh && near {
			return d
		}
	}
	return s.refreshRoute(ctx, d)
}

// refreshRoute asks the directions provider for the current leg. Failures
// keep the stored route.
func (s *DeliveryService) refreshRoute(ctx context.Context, d *models.Delivery) *models.Delivery {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "delivery.route_refresh")
	defer span.End()
	span.SetAttributes(attribute.String("delivery.id", d.ID.String()))

	res, err := s.directions.Route(ctx, *d.Current, d.LegDestination())
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("Route refresh failed, keeping stored route", "delivery_id", d.ID, "error", err)
		return d
	}

	route := models.Route{
		Polyline:        res.Polyline,
		DistanceKm:      res.DistanceKm,
		DurationSeconds: res.DurationSeconds,
		EtaMinutes:      int(math.Ceil(float64(res.DurationSeconds) / 60)),
		RefreshedAt:     s.now(),
		Origin:          *d.Current,
	}
	if err := s.deliveries.SaveRoute(ctx, d.ID, route); err != nil {
		s.logger.Error("Failed to store route", "delivery_id", d.ID, "error", err)
		return d
	}
	d.Route = &route
	s.logger.Debug("Route refreshed", "delivery_id", d.ID, "eta_minutes", route.EtaMinutes)
	return d
}

// Track returns the live position and ETA to the ordering customer or an
// admin.
func (s *DeliveryService) Track(ctx context.Context, p models.Principal, id uuid.UUID) (*models.TrackView, error) {
	d, err := s.deliveries.GetByID(ctx, id)
	if err != nil {
		return nil, classify(err, "track delivery")
	}
	o, err := s.orders.GetByID(ctx, d.OrderID)
	if err != nil {
		return nil, classify(err, "track delivery")
	}
	allowed := p.Kind == models.KindAdmin || (p.Kind == models.KindCustomer && o.CustomerID == p.ID)
	if !allowed {
		return nil, apperr.NotFound("Delivery")
	}

	d = s.maybeRefreshRoute(ctx, d)
	return s.trackView(d), nil
}

func (s *DeliveryService) trackView(d *models.Delivery) *models.TrackView {
	v := &models.TrackView{
		DeliveryID:         d.ID,
		Status:             d.Status,
		LastLocationUpdate: d.LastLocationUpdate,
	}
	if d.Current != nil {
		lat, lng := d.Current.Lat, d.Current.Lng
		v.CurrentLat, v.CurrentLng = &lat, &lng
	}
	if r := d.Route; r != nil {
		polyline, dist := r.Polyline, r.DistanceKm
		eta := decayETA(r.EtaMinutes, s.now().Sub(r.RefreshedAt))
		if d.Status == models.DeliveryDelivered {
			eta = 0
		}
		v.Polyline, v.DistanceKm, v.EtaMinutes = &polyline, &dist, &eta
	}
	return v
}

// decayETA subtracts the time since the route was computed from its ETA,
// rounding up to whole minutes and never going below zero.
func decayETA(etaMinutes int, elapsed time.Duration) int {
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := float64(etaMinutes)*60 - elapsed.Seconds()
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining / 60))
}

func (s *DeliveryService) SetDriverStatus(ctx context.Context, p models.Principal, req DriverStatusRequest) (*models.DriverState, error) {
	if err := requireKind(p, models.KindDriver); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	var pos *models.Point
	if req.Lat != nil && req.Lng != nil {
		pos = &models.Point{Lat: *req.Lat, Lng: *req.Lng}
	}

	state, err := s.drivers.SetStatus(ctx, p.ID, *req.IsAvailable, pos, s.now())
	if err != nil {
		s.logger.Error("Failed to set driver status", "driver_id", p.ID, "error", err)
		return nil, classify(err, "set driver status")
	}
	s.logger.Info("Driver status updated", "driver_id", p.ID, "available", state.IsAvailable)
	return state, nil
}

// checkAssignable rejects manual assignment to a missing, deactivated or
// busy driver.
func (s *DeliveryService) checkAssignable(ctx context.Context, driverID, deliveryID uuid.UUID) error {
	a, err := s.drivers.LockAvailability(ctx, driverID, deliveryID)
	if err != nil {
		return err
	}
	switch {
	case !a.IsActive:
		return apperr.Conflict("The driver account is deactivated.").WithCode("driver_inactive").With("driver_id", driverID)
	case a.Busy:
		return apperr.Conflict("The driver is already on another delivery.").WithCode("driver_busy").With("driver_id", driverID)
	}
	return nil
}

// Reassign moves a delivery that has not been picked up to another driver,
// or back into dispatch when no driver is named.
func (s *DeliveryService) Reassign(ctx context.Context, p models.Principal, id uuid.UUID, req ReassignRequest) (*models.Delivery, error) {
	if err := requireKind(p, models.KindAdmin); err != nil {
		return nil, err
	}
	if err := requireCapability(p, models.CapManageDispatch); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	var out *models.Delivery
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		o, d, err := s.lockForDelivery(ctx, id)
		if err != nil {
			return err
		}
		switch d.Status {
		case models.DeliveryPickedUp, models.DeliveryDelivered, models.DeliveryCancelled:
			return apperr.Conflict("This delivery can no longer be reassigned.").
				WithCode("not_reassignable").
				With("status", d.Status)
		}
		if err := s.offers.WithdrawPending(ctx, d.ID); err != nil {
			return err
		}
		out = d

		if req.DriverID != nil {
			driverID := *req.DriverID
			if err := s.checkAssignable(ctx, driverID, d.ID); err != nil {
				return err
			}
			if !d.AssignedTo(driverID) {
				// the location window belongs to the previous driver
				d.LastLocationUpdate = nil
			}
			d.DriverID = &driverID
			d.Status = models.DeliveryAssigned
			d.NextDispatchAt = nil
			if err := s.deliveries.Save(ctx, d); err != nil {
				return err
			}
			return s.outbox.Append(ctx, models.NewDeliveryEvent(models.EventTypeDeliveryAssigned, o, d, req.Reason))
		}

		reopen(d)
		d.DispatchRound = 1
		if o.Status != models.OrderReady {
			return s.deliveries.Save(ctx, d)
		}
		now := s.now()
		d.NextDispatchAt = &now
		return s.offerNext(ctx, o, d)
	})
	if err != nil {
		s.logger.Warn("Delivery reassignment failed", "delivery_id", id, "error", err)
		return nil, classify(err, "reassign delivery")
	}

	s.logger.Info("Delivery reassigned", "delivery_id", id, "status", out.Status, "admin_id", p.ID)
	return out, nil
}
