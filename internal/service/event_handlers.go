package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/payment"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/repositories"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

// Dispatcher starts driver dispatch for a ready order.
type Dispatcher interface {
	DispatchOrder(ctx context.Context, orderID uuid.UUID) error
}

// EventHandlers applies the post-commit side effects of domain events:
// payment capture, void and refund, fulfiller payouts, dispatch and
// notifications. Every step is idempotent so redelivery is harmless.
type EventHandlers struct {
	orders        repositories.OrderRepositoryInterface
	notifications repositories.NotificationRepositoryInterface
	payouts       repositories.PayoutRepositoryInterface
	gateway       payment.Gateway
	dispatcher    Dispatcher
	now           Clock
	logger        *logger.Logger
}

func NewEventHandlers(
	orders repositories.OrderRepositoryInterface,
	notifications repositories.NotificationRepositoryInterface,
	payouts repositories.PayoutRepositoryInterface,
	gateway payment.Gateway,
	dispatcher Dispatcher,
	log *logger.Logger,
) *EventHandlers {
	return &EventHandlers{
		orders:        orders,
		notifications: notifications,
		payouts:       payouts,
		gateway:       gateway,
		dispatcher:    dispatcher,
		now:           time.Now,
		logger:        log.WithComponent("event_handlers"),
	}
}

func (h *EventHandlers) WithClock(c Clock) *EventHandlers {
	h.now = c
	return h
}

type notice struct {
	to    models.ActorRef
	title string
	body  string
}

func actor(kind models.ActorKind, id uuid.UUID) models.ActorRef {
	return models.ActorRef{Kind: kind, ID: &id}
}

// Handle processes one event. A returned error leaves the event for retry.
func (h *EventHandlers) Handle(ctx context.Context, e models.DomainEvent) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "event."+string(e.Type))
	defer span.End()
	span.SetAttributes(attribute.String("event.id", e.ID.String()), attribute.String("order.id", e.OrderID.String()))

	p, err := e.DecodeOrderPayload()
	if err != nil {
		// a payload that cannot be decoded will never succeed
		h.logger.Error("Dropping undecodable event", "event_id", e.ID, "type", e.Type, "error", err)
		return nil
	}
	customer := actor(models.KindCustomer, p.CustomerID)
	fulfiller := actor(p.Fulfiller.Kind, p.Fulfiller.ID)
	short := e.OrderID.String()[:8]

	var notices []notice
	switch e.Type {
	case models.EventTypeOrderPlaced:
		notices = append(notices, notice{fulfiller, "New order", fmt.Sprintf("Order %s is waiting for you to accept it.", short)})

	case models.EventTypeOrderConfirmed:
		notices = append(notices, notice{customer, "Order confirmed", fmt.Sprintf("Order %s was accepted and is being prepared.", short)})

	case models.EventTypeOrderReady:
		if p.FulfillmentType == models.FulfillmentPickup {
			notices = append(notices, notice{customer, "Ready for pickup", fmt.Sprintf("Order %s is ready to collect.", short)})
			break
		}
		if err := h.dispatcher.DispatchOrder(ctx, e.OrderID); err != nil {
			return err
		}
		notices = append(notices, notice{customer, "Order ready", fmt.Sprintf("Order %s is ready and we are finding a driver.", short)})

	case models.EventTypeOrderInTransit:
		notices = append(notices, notice{customer, "On the way", fmt.Sprintf("Order %s has been picked up.", short)})

	case models.EventTypeOrderDelivered:
		if err := h.settle(ctx, e.OrderID, p); err != nil {
			return err
		}
		notices = append(notices,
			notice{customer, "Delivered", fmt.Sprintf("Order %s is complete. Enjoy!", short)},
			notice{fulfiller, "Order completed", fmt.Sprintf("Order %s was completed. Your payout has been credited.", short)})

	case models.EventTypeOrderCancelled:
		if err := h.release(ctx, e.OrderID, p); err != nil {
			return err
		}
		notices = append(notices,
			notice{customer, "Order cancelled", fmt.Sprintf("Order %s was cancelled: %s", short, p.Reason)},
			notice{fulfiller, "Order cancelled", fmt.Sprintf("Order %s was cancelled.", short)})

	case models.EventTypeOrderRefunded:
		if err := h.release(ctx, e.OrderID, p); err != nil {
			return err
		}
		notices = append(notices, notice{customer, "Order refunded", fmt.Sprintf("Order %s was refunded.", short)})

	case models.EventTypeDeliveryAssigned:
		notices = append(notices, notice{customer, "Driver assigned", fmt.Sprintf("A driver is heading to collect order %s.", short)})
		if p.DriverID != nil {
			notices = append(notices, notice{actor(models.KindDriver, *p.DriverID), "Delivery assigned", fmt.Sprintf("You are delivering order %s.", short)})
		}

	case models.EventTypeDeliveryFailed:
		notices = append(notices, notice{models.AdminInbox(), "Dispatch failed",
			fmt.Sprintf("No driver accepted order %s (%s). Reassign it manually.", short, p.Reason)})

	case models.EventTypePaymentReauthNeed:
		notices = append(notices,
			notice{customer, "Payment needed", fmt.Sprintf("Order %s was reinstated and needs a new payment authorization.", short)},
			notice{models.AdminInbox(), "Reauthorization required", fmt.Sprintf("Order %s was revived by override; its payment must be reauthorized.", short)})

	default:
		h.logger.Warn("No handler for event type", "event_id", e.ID, "type", e.Type)
		return nil
	}

	orderID := e.OrderID
	for _, n := range notices {
		if err := h.notifications.Create(ctx, &models.Notification{Recipient: n.to, Title: n.title, Body: n.body, OrderID: &orderID}); err != nil {
			return fmt.Errorf("failed to notify %s: %w", n.to.Kind, err)
		}
	}
	h.logger.Debug("Handled event", "event_id", e.ID, "type", e.Type, "notifications", len(notices))
	return nil
}

// settle captures the authorization and credits the fulfiller with the
// item subtotal less item discounts.
func (h *EventHandlers) settle(ctx context.Context, orderID uuid.UUID, p models.OrderEventPayload) error {
	o, err := h.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if o.PaymentIntentRef != "" && o.Total.IsPositive() {
		if err := h.gateway.Capture(ctx, o.PaymentIntentRef, o.Total); err != nil {
			h.logger.Warn("Payment capture failed", "order_id", orderID, "error", err)
			return fmt.Errorf("failed to capture payment: %w", err)
		}
	}

	amount := o.Subtotal.Sub(o.Discount)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	credited, err := h.payouts.Credit(ctx, &models.Payout{OrderID: o.ID, Fulfiller: p.Fulfiller, Amount: amount})
	if err != nil {
		return err
	}
	if credited {
		h.logger.Info("Order settled", "order_id", orderID, "captured", o.Total.StringFixed(2), "payout", amount.StringFixed(2))
	}
	return nil
}

// release returns the customer's money when an order ends without
// delivery. A delivered order was captured and paid out, so it is refunded
// and the payout is reversed; anything earlier only holds an authorization.
func (h *EventHandlers) release(ctx context.Context, orderID uuid.UUID, p models.OrderEventPayload) error {
	if p.From != models.OrderDelivered {
		return h.void(ctx, orderID, p.PaymentIntentRef)
	}
	if err := h.refund(ctx, orderID, p); err != nil {
		return err
	}
	reversed, err := h.payouts.Reverse(ctx, orderID, h.now())
	if err != nil {
		return err
	}
	if reversed {
		h.logger.Info("Payout reversed", "order_id", orderID, "fulfiller_id", p.Fulfiller.ID)
	}
	return nil
}

func (h *EventHandlers) void(ctx context.Context, orderID uuid.UUID, ref string) error {
	if ref == "" {
		return nil
	}
	if err := h.gateway.Void(ctx, ref); err != nil {
		h.logger.Warn("Payment void failed", "order_id", orderID, "error", err)
		return fmt.Errorf("failed to void payment: %w", err)
	}
	h.logger.Info("Payment authorization voided", "order_id", orderID)
	return nil
}

func (h *EventHandlers) refund(ctx context.Context, orderID uuid.UUID, p models.OrderEventPayload) error {
	if p.PaymentIntentRef == "" {
		return nil
	}
	amount, err := decimal.NewFromString(p.Total)
	if err != nil {
		return fmt.Errorf("invalid refund amount %q: %w", p.Total, err)
	}
	if !amount.IsPositive() {
		return nil
	}
	if err := h.gateway.Refund(ctx, p.PaymentIntentRef, amount); err != nil {
		h.logger.Warn("Payment refund failed", "order_id", orderID, "error", err)
		return fmt.Errorf("failed to refund payment: %w", err)
	}
	h.logger.Info("Payment refunded", "order_id", orderID, "amount", amount.StringFixed(2))
	return nil
}
