package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/repositories"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/database"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type OverrideOrderRequest struct {
	Status models.OrderStatus `json:"status" validate:"required,oneof=placed confirmed ready in_transit delivered cancelled refunded"`
	Reason string             `json:"reason" validate:"required,max=500"`
}

type OrderActionRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type OrderServiceInterface interface {
	GetOrder(ctx context.Context, p models.Principal, id uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, p models.Principal, status models.OrderStatus, limit, offset int) ([]*models.Order, error)
	FulfillerAction(ctx context.Context, p models.Principal, id uuid.UUID, event models.OrderEvent, reason string) (*models.Order, error)
	Cancel(ctx context.Context, p models.Principal, id uuid.UUID, reason string) (*models.Order, error)
	Override(ctx context.Context, p models.Principal, id uuid.UUID, req OverrideOrderRequest) (*models.Order, error)
	History(ctx context.Context, p models.Principal, id uuid.UUID) ([]models.OrderStatusChange, error)
}

// OrderService runs the order state machine. Every change locks the order
// row, appends to the status history and writes its domain event to the
// outbox in the same transaction.
type OrderService struct {
	tx            database.TxManager
	orders        repositories.OrderRepositoryInterface
	stock         repositories.StockRepositoryInterface
	promotions    repositories.PromotionRepositoryInterface
	deliveries    repositories.DeliveryRepositoryInterface
	offers        repositories.OfferRepositoryInterface
	outbox        repositories.OutboxRepositoryInterface
	acceptTimeout time.Duration
	now           Clock
	logger        *logger.Logger
}

func NewOrderService(
	tx database.TxManager,
	orders repositories.OrderRepositoryInterface,
	stock repositories.StockRepositoryInterface,
	promotions repositories.PromotionRepositoryInterface,
	deliveries repositories.DeliveryRepositoryInterface,
	offers repositories.OfferRepositoryInterface,
	outbox repositories.OutboxRepositoryInterface,
	acceptTimeout time.Duration,
	log *logger.Logger,
) *OrderService {
	return &OrderService{
		tx:            tx,
		orders:        orders,
		stock:         stock,
		promotions:    promotions,
		deliveries:    deliveries,
		offers:        offers,
		outbox:        outbox,
		acceptTimeout: acceptTimeout,
		now:           time.Now,
		logger:        log.WithComponent("order_service"),
	}
}

func (s *OrderService) WithClock(c Clock) *OrderService {
	s.now = c
	return s
}

// visible reports whether p may read o.
func visible(p models.Principal, o *models.Order) bool {
	switch p.Kind {
	case models.KindAdmin:
		return true
	case models.KindCustomer:
		return o.CustomerID == p.ID
	case models.KindVendor, models.KindChef:
		return o.Fulfiller.Kind == p.Kind && o.Fulfiller.ID == p.ID
	}
	return false
}

func (s *OrderService) GetOrder(ctx context.Context, p models.Principal, id uuid.UUID) (*models.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, classify(err, "get order")
	}
	if !visible(p, o) {
		s.logger.Warn("Order read denied", "order_id", id, "actor_kind", p.Kind)
		return nil, apperr.NotFound("Order")
	}
	return o, nil
}

func (s *OrderService) ListOrders(ctx context.Context, p models.Principal, status models.OrderStatus, limit, offset int) ([]*models.Order, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.Validation("Unknown order status.").With("status", status)
	}
	f := models.OrderFilter{Status: status, Limit: limit, Offset: offset}
	switch p.Kind {
	case models.KindCustomer:
		id := p.ID
		f.CustomerID = &id
	case models.KindVendor, models.KindChef:
		f.Fulfiller = &models.Fulfiller{Kind: p.Kind, ID: p.ID}
	case models.KindAdmin:
	default:
		return nil, apperr.Forbidden("Orders are not available to your account type.")
	}

	orders, err := s.orders.List(ctx, f)
	if err != nil {
		s.logger.Error("Failed to list orders", "actor_kind", p.Kind, "error", err)
		return nil, classify(err, "list orders")
	}
	s.logger.Debug("Fetched orders", "count", len(orders))
	return orders, nil
}

// FulfillerAction applies accept, reject, ready or collected on behalf of
// the order's vendor or chef.
func (s *OrderService) FulfillerAction(ctx context.Context, p models.Principal, id uuid.UUID, event models.OrderEvent, reason string) (*models.Order, error) {
	f, err := fulfillerOf(p)
	if err != nil {
		return nil, err
	}
	switch event {
	case models.EventAccept, models.EventReject, models.EventMarkReady, models.EventCollected:
	default:
		return nil, apperr.Validation("Unsupported order action.")
	}

	return s.transition(ctx, id, event, p.Ref(), reason, func(o *models.Order) error {
		if o.Fulfiller != f {
			return apperr.NotFound("Order")
		}
		if _, ok := models.NextOrderStatus(o.Status, event); !ok {
			return nil
		}
		if event == models.EventCollected && o.FulfillmentType != models.FulfillmentPickup {
			return apperr.Conflict("Delivery orders are completed by the driver.").WithCode("not_pickup_order")
		}
		return nil
	})
}

// Cancel lets a customer withdraw an order the fulfiller has not accepted.
func (s *OrderService) Cancel(ctx context.Context, p models.Principal, id uuid.UUID, reason string) (*models.Order, error) {
	if err := requireKind(p, models.KindCustomer); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "cancelled by customer"
	}
	return s.transition(ctx, id, models.EventCancel, p.Ref(), reason, func(o *models.Order) error {
		if o.CustomerID != p.ID {
			return apperr.NotFound("Order")
		}
		return nil
	})
}

// ApplyEvent moves the order on behalf of another component. It joins the
// transaction carried by ctx.
func (s *OrderService) ApplyEvent(ctx context.Context, id uuid.UUID, event models.OrderEvent, actor models.ActorRef, reason string) (*models.Order, error) {
	return s.transition(ctx, id, event, actor, reason, nil)
}

func (s *OrderService) transition(ctx context.Context, id uuid.UUID, event models.OrderEvent, actor models.ActorRef, reason string, authorize func(*models.Order) error) (*models.Order, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "order.transition")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", id.String()), attribute.String("order.event", string(event)))

	var out *models.Order
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if authorize != nil {
			if err := authorize(o); err != nil {
				return err
			}
		}

		from := o.Status
		to, ok := models.NextOrderStatus(from, event)
		if !ok {
			return apperr.InvalidTransition("order", string(from), string(event))
		}

		switch to {
		case models.OrderCancelled:
			if err := s.releaseHoldings(ctx, o, true); err != nil {
				return err
			}
		case models.OrderReady:
			if err := s.scheduleDispatch(ctx, o); err != nil {
				return err
			}
		}

		if err := s.record(ctx, o, from, to, event, actor, reason); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if apperr.Is(err, apperr.KindConflict) {
			s.logger.Warn("Order transition rejected", "order_id", id, "event", event, "error", err)
		} else if apperr.KindOf(err) == apperr.KindInternal {
			s.logger.Error("Order transition failed", "order_id", id, "event", event, "error", err)
		}
		return nil, classify(err, "order transition")
	}

	s.logger.Info("Order transitioned", "order_id", id, "event", event, "status", out.Status, "actor_kind", actor.Kind)
	return out, nil
}

// record persists the new status with its audit row and domain event.
func (s *OrderService) record(ctx context.Context, o *models.Order, from, to models.OrderStatus, event models.OrderEvent, actor models.ActorRef, reason string, extra ...models.DomainEvent) error {
	o.Status = to
	if to == models.OrderCancelled || to == models.OrderRefunded {
		o.CancelReason = reason
	}
	if err := s.orders.UpdateStatus(ctx, o); err != nil {
		return err
	}
	if err := s.orders.AppendHistory(ctx, &models.OrderStatusChange{
		OrderID: o.ID,
		From:    from,
		To:      to,
		Event:   event,
		Actor:   actor,
		Reason:  reason,
	}); err != nil {
		return err
	}
	events := append([]models.DomainEvent{models.NewOrderEvent(models.StatusEventType(to), o, from, reason)}, extra...)
	return s.outbox.Append(ctx, events...)
}

// releaseHoldings returns stock and promotion usage and cancels the delivery.
// Goods that already left the fulfiller keep their stock decrement.
func (s *OrderService) releaseHoldings(ctx context.Context, o *models.Order, releaseStock bool) error {
	if lines := o.StockLines(); releaseStock && len(lines) > 0 {
		if err := s.stock.Release(ctx, lines); err != nil {
			return err
		}
	}
	if o.PromotionID != nil {
		if _, err := s.promotions.Release(ctx, o.ID); err != nil {
			return err
		}
	}
	if o.FulfillmentType != models.FulfillmentDelivery {
		return nil
	}

	d, err := s.deliveries.LockByOrderID(ctx, o.ID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil
		}
		return err
	}
	if !d.Status.Open() {
		return nil
	}
	if err := s.offers.WithdrawPending(ctx, d.ID); err != nil {
		return err
	}
	d.Status = models.DeliveryCancelled
	d.NextDispatchAt = nil
	return s.deliveries.Save(ctx, d)
}

// reacquireHoldings undoes releaseHoldings when an admin revives an order.
func (s *OrderService) reacquireHoldings(ctx context.Context, o *models.Order) error {
	if lines := o.StockLines(); len(lines) > 0 {
		if err := s.stock.Reserve(ctx, lines); err != nil {
			return err
		}
	}
	if o.PromotionID != nil {
		if err := s.promotions.Redeem(ctx, *o.PromotionID, o.CustomerID, o.ID); err != nil {
			return err
		}
	}
	return nil
}

// scheduleDispatch makes a waiting delivery due immediately, so the sweeper
// picks it up even if the order.ready consumer lags.
func (s *OrderService) scheduleDispatch(ctx context.Context, o *models.Order) error {
	if o.FulfillmentType != models.FulfillmentDelivery {
		return nil
	}
	d, err := s.deliveries.LockByOrderID(ctx, o.ID)
	if err != nil {
		return err
	}
	if d.Status != models.DeliveryPendingAssignment {
		return nil
	}
	now := s.now()
	d.NextDispatchAt = &now
	if d.DispatchRound == 0 {
		d.DispatchRound = 1
	}
	return s.deliveries.Save(ctx, d)
}

// Override forces an order into any status. The compensating actions that
// the regular transitions would have performed are applied explicitly.
func (s *OrderService) Override(ctx context.Context, p models.Principal, id uuid.UUID, req OverrideOrderRequest) (*models.Order, error) {
	if err := requireKind(p, models.KindAdmin); err != nil {
		return nil, err
	}
	if err := requireCapability(p, models.CapManageOrders); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	s.logger.Info("Overriding order status", "order_id", id, "to", req.Status, "admin_id", p.ID)

	var out *models.Order
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.LockByID(ctx, id)
		if err != nil {
			return err
		}
		from, to := o.Status, req.Status
		if from == to {
			return apperr.Conflict("The order is already in that status.").WithCode("no_change")
		}

		var extra []models.DomainEvent
		revived := (from == models.OrderCancelled || from == models.OrderRefunded) &&
			to != models.OrderCancelled && to != models.OrderRefunded

		switch {
		case to == models.OrderCancelled || to == models.OrderRefunded:
			if from.Active() {
				if err := s.releaseHoldings(ctx, o, from != models.OrderInTransit); err != nil {
					return err
				}
			}
		case revived:
			if err := s.reacquireHoldings(ctx, o); err != nil {
				return err
			}
			extra = append(extra, models.NewOrderEvent(models.EventTypePaymentReauthNeed, o, from, req.Reason))
		}

		if to != models.OrderCancelled && to != models.OrderRefunded && o.FulfillmentType == models.FulfillmentDelivery {
			if err := s.alignDelivery(ctx, o, to); err != nil {
				return err
			}
		}

		if err := s.record(ctx, o, from, to, models.EventOverride, p.Ref(), req.Reason, extra...); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		s.logger.Warn("Order override failed", "order_id", id, "to", req.Status, "error", err)
		return nil, classify(err, "override order")
	}

	s.logger.Info("Order overridden", "order_id", id, "status", out.Status)
	return out, nil
}

// alignDelivery moves the linked delivery to match an overridden order status.
func (s *OrderService) alignDelivery(ctx context.Context, o *models.Order, to models.OrderStatus) error {
	d, err := s.deliveries.LockByOrderID(ctx, o.ID)
	if err != nil {
		return err
	}
	now := s.now()

	switch to {
	case models.OrderInTransit:
		if d.DriverID == nil {
			return apperr.Conflict("The delivery has no assigned driver.").WithCode("driver_required")
		}
		if d.Status == models.DeliveryPickedUp {
			return nil
		}
		d.Status = models.DeliveryPickedUp
		d.PickedUpAt = &now
	case models.OrderDelivered:
		if d.Status == models.DeliveryDelivered {
			return nil
		}
		if d.DriverID == nil {
			return apperr.Conflict("The delivery has no assigned driver.").WithCode("driver_required")
		}
		if d.PickedUpAt == nil {
			d.PickedUpAt = &now
		}
		d.Status = models.DeliveryDelivered
		d.DeliveredAt = &now
	case models.OrderReady:
		switch d.Status {
		case models.DeliveryAssigned:
			return nil
		case models.DeliveryPendingAssignment:
			if d.DispatchRound == 0 {
				d.DispatchRound = 1
			}
			d.NextDispatchAt = &now
			return s.deliveries.Save(ctx, d)
		}
		reopen(d)
		d.DispatchRound = 1
		d.NextDispatchAt = &now
	default:
		if d.Status == models.DeliveryPendingAssignment && d.NextDispatchAt == nil {
			return nil
		}
		reopen(d)
	}

	if err := s.offers.WithdrawPending(ctx, d.ID); err != nil {
		return err
	}
	return s.deliveries.Save(ctx, d)
}

func reopen(d *models.Delivery) {
	d.Status = models.DeliveryPendingAssignment
	d.DriverID = nil
	d.DispatchRound = 0
	d.NextDispatchAt = nil
	d.PickedUpAt = nil
	d.DeliveredAt = nil
	d.LastLocationUpdate = nil
}

func (s *OrderService) History(ctx context.Context, p models.Principal, id uuid.UUID) ([]models.OrderStatusChange, error) {
	if _, err := s.GetOrder(ctx, p, id); err != nil {
		return nil, err
	}
	h, err := s.orders.History(ctx, id)
	if err != nil {
		return nil, classify(err, "order history")
	}
	return h, nil
}

// ExpireStale cancels orders the fulfiller did not accept in time.
func (s *OrderService) ExpireStale(ctx context.Context) (int, error) {
	ids, err := s.orders.StalePlaced(ctx, s.now().Add(-s.acceptTimeout), 100)
	if err != nil {
		s.logger.Error("Failed to load stale orders", "error", err)
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		_, err := s.transition(ctx, id, models.EventTimeout, models.SystemActor(), "not accepted in time", nil)
		switch {
		case err == nil:
			expired++
		case apperr.Is(err, apperr.KindConflict):
			// accepted or cancelled since the scan
		default:
			s.logger.Error("Failed to expire order", "order_id", id, "error", err)
		}
	}
	if expired > 0 {
		s.logger.Info("Expired unaccepted orders", "count", expired)
	}
	return expired, nil
}
