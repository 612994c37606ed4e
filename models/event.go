package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type DomainEventType string

const (
	EventTypeOrderPlaced       DomainEventType = "order.placed"
	EventTypeOrderConfirmed    DomainEventType = "order.confirmed"
	EventTypeOrderReady        DomainEventType = "order.ready"
	EventTypeOrderInTransit    DomainEventType = "order.in_transit"
	EventTypeOrderDelivered    DomainEventType = "order.delivered"
	EventTypeOrderCancelled    DomainEventType = "order.cancelled"
	EventTypeOrderRefunded     DomainEventType = "order.refunded"
	EventTypeDeliveryAssigned  DomainEventType = "delivery.assigned"
	EventTypeDeliveryFailed    DomainEventType = "delivery.failed"
	EventTypePaymentReauthNeed DomainEventType = "payment.reauthorization_required"
)

// DomainEvent is an outbox row written in the same transaction as the
// state change that produced it.
type DomainEvent struct {
	ID           uuid.UUID       `json:"id"`
	Type         DomainEventType `json:"type"`
	OrderID      uuid.UUID       `json:"order_id"`
	DeliveryID   *uuid.UUID      `json:"delivery_id,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	Attempts     int             `json:"attempts"`
	AvailableAt  time.Time       `json:"available_at"`
	DispatchedAt *time.Time      `json:"dispatched_at,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// OrderEventPayload is the payload carried by order.* events.
type OrderEventPayload struct {
	CustomerID       uuid.UUID       `json:"customer_id"`
	Fulfiller        Fulfiller       `json:"fulfiller"`
	FulfillmentType  FulfillmentType `json:"fulfillment_type"`
	From             OrderStatus     `json:"from,omitempty"`
	To               OrderStatus     `json:"to"`
	Total            string          `json:"total"`
	PaymentIntentRef string          `json:"payment_intent_ref,omitempty"`
	Reason           string          `json:"reason,omitempty"`
	DriverID         *uuid.UUID      `json:"driver_id,omitempty"`
}

// NewOrderEvent builds an outbox row for order.
func NewOrderEvent(t DomainEventType, o *Order, from OrderStatus, reason string) DomainEvent {
	payload, _ := json.Marshal(OrderEventPayload{
		CustomerID:       o.CustomerID,
		Fulfiller:        o.Fulfiller,
		FulfillmentType:  o.FulfillmentType,
		From:             from,
		To:               o.Status,
		Total:            o.Total.StringFixed(2),
		PaymentIntentRef: o.PaymentIntentRef,
		Reason:           reason,
	})
	return DomainEvent{
		ID:         uuid.New(),
		Type:       t,
		OrderID:    o.ID,
		DeliveryID: o.DeliveryID,
		Payload:    payload,
	}
}

// DecodeOrderPayload unmarshals an order.* payload.
func (e *DomainEvent) DecodeOrderPayload() (OrderEventPayload, error) {
	var p OrderEventPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// StatusEventType maps an order status to the event announcing it.
func StatusEventType(s OrderStatus) DomainEventType {
	switch s {
	case OrderPlaced:
		return EventTypeOrderPlaced
	case OrderConfirmed:
		return EventTypeOrderConfirmed
	case OrderReady:
		return EventTypeOrderReady
	case OrderInTransit:
		return EventTypeOrderInTransit
	case OrderDelivered:
		return EventTypeOrderDelivered
	case OrderRefunded:
		return EventTypeOrderRefunded
	default:
		return EventTypeOrderCancelled
	}
}

// NewDeliveryEvent builds an outbox row for a delivery milestone of order.
func NewDeliveryEvent(t DomainEventType, o *Order, d *Delivery, reason string) DomainEvent {
	payload, _ := json.Marshal(OrderEventPayload{
		CustomerID:      o.CustomerID,
		Fulfiller:       o.Fulfiller,
		FulfillmentType: o.FulfillmentType,
		To:              o.Status,
		Total:           o.Total.StringFixed(2),
		Reason:          reason,
		DriverID:        d.DriverID,
	})
	id := d.ID
	return DomainEvent{
		ID:         uuid.New(),
		Type:       t,
		OrderID:    o.ID,
		DeliveryID: &id,
		Payload:    payload,
	}
}
