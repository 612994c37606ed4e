package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPlaced    OrderStatus = "placed"
	OrderConfirmed OrderStatus = "confirmed"
	OrderReady     OrderStatus = "ready"
	OrderInTransit OrderStatus = "in_transit"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
	OrderRefunded  OrderStatus = "refunded"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPlaced, OrderConfirmed, OrderReady, OrderInTransit, OrderDelivered, OrderCancelled, OrderRefunded:
		return true
	}
	return false
}

// Terminal states accept no further regular events.
func (s OrderStatus) Terminal() bool {
	return s == OrderDelivered || s == OrderCancelled || s == OrderRefunded
}

// Active reports whether the order holds stock and promotion usage.
func (s OrderStatus) Active() bool {
	return s == OrderPlaced || s == OrderConfirmed || s == OrderReady || s == OrderInTransit
}

// SuccessStatuses are the order states that count as a completed purchase.
var SuccessStatuses = []OrderStatus{OrderDelivered, OrderInTransit}

// OrderEvent is an input to the order state machine.
type OrderEvent string

const (
	EventCheckout  OrderEvent = "checkout"
	EventAccept    OrderEvent = "accept"
	EventReject    OrderEvent = "reject"
	EventTimeout   OrderEvent = "timeout"
	EventMarkReady OrderEvent = "ready"
	EventPickup    OrderEvent = "pickup"
	EventDeliver   OrderEvent = "deliver"
	EventCollected OrderEvent = "collected"
	EventCancel    OrderEvent = "cancel"
	EventOverride  OrderEvent = "override"
)

var orderTransitions = map[OrderStatus]map[OrderEvent]OrderStatus{
	OrderPlaced: {
		EventAccept:  OrderConfirmed,
		EventReject:  OrderCancelled,
		EventTimeout: OrderCancelled,
		EventCancel:  OrderCancelled,
	},
	OrderConfirmed: {
		EventMarkReady: OrderReady,
	},
	OrderReady: {
		EventPickup:    OrderInTransit,
		EventCollected: OrderDelivered,
	},
	OrderInTransit: {
		EventDeliver: OrderDelivered,
	},
}

// NextOrderStatus returns the state reached from `from` on event, if allowed.
// Admin overrides bypass this table.
func NextOrderStatus(from OrderStatus, event OrderEvent) (OrderStatus, bool) {
	to, ok := orderTransitions[from][event]
	return to, ok
}

type FulfillmentType string

const (
	FulfillmentDelivery FulfillmentType = "delivery"
	FulfillmentPickup   FulfillmentType = "pickup"
)

type Order struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	CustomerID       uuid.UUID       `json:"customer_id" db:"customer_id"`
	Fulfiller        Fulfiller       `json:"fulfiller"`
	FulfillmentType  FulfillmentType `json:"fulfillment_type" db:"fulfillment_type"`
	DropoffAddress   string          `json:"dropoff_address,omitempty" db:"dropoff_address"`
	Dropoff          *Point          `json:"dropoff,omitempty"`
	Region           string          `json:"region" db:"region"`
	Items            []OrderItem     `json:"items"`
	Subtotal         decimal.Decimal `json:"subtotal" db:"subtotal"`
	DeliveryFee      decimal.Decimal `json:"delivery_fee" db:"delivery_fee"`
	Tax              decimal.Decimal `json:"tax" db:"tax"`
	Discount         decimal.Decimal `json:"discount" db:"discount"`
	Total            decimal.Decimal `json:"total" db:"total"`
	PromotionID      *uuid.UUID      `json:"promotion_id,omitempty" db:"promotion_id"`
	PricingInputs    json.RawMessage `json:"pricing_inputs,omitempty" db:"pricing_inputs"`
	Status           OrderStatus     `json:"status" db:"status"`
	PaymentIntentRef string          `json:"-" db:"payment_intent_ref"`
	CancelReason     string          `json:"cancel_reason,omitempty" db:"cancel_reason"`
	DeliveryID       *uuid.UUID      `json:"delivery_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// StockLines returns the product quantities held by the order.
func (o *Order) StockLines() []StockLine {
	var lines []StockLine
	for _, it := range o.Items {
		if it.Ref.Kind == ItemProduct {
			lines = append(lines, StockLine{ProductID: it.Ref.ID, Quantity: it.Quantity})
		}
	}
	return lines
}

type OrderItem struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	OrderID       uuid.UUID       `json:"order_id" db:"order_id"`
	Ref           ItemRef         `json:"ref"`
	Name          string          `json:"name" db:"name"`
	Quantity      int             `json:"quantity" db:"quantity"`
	SnapshotPrice decimal.Decimal `json:"snapshot_price" db:"snapshot_price"`
	UnitPrice     decimal.Decimal `json:"unit_price" db:"unit_price"`
	LineTotal     decimal.Decimal `json:"line_total" db:"line_total"`
}

// OrderStatusChange is one row of the order audit trail.
type OrderStatusChange struct {
	ID        uuid.UUID   `json:"id"`
	OrderID   uuid.UUID   `json:"order_id"`
	From      OrderStatus `json:"from,omitempty"`
	To        OrderStatus `json:"to"`
	Event     OrderEvent  `json:"event"`
	Actor     ActorRef    `json:"actor"`
	Reason    string      `json:"reason,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	CustomerID *uuid.UUID
	Fulfiller  *Fulfiller
	Status     OrderStatus
	Limit      int
	Offset     int
}

type Payout struct {
	OrderID    uuid.UUID       `json:"order_id"`
	Fulfiller  Fulfiller       `json:"fulfiller"`
	Amount     decimal.Decimal `json:"amount"`
	ReversedAt *time.Time      `json:"reversed_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
