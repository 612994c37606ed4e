package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CartItem struct {
	ID                uuid.UUID       `json:"id"`
	CustomerID        uuid.UUID       `json:"customer_id"`
	Ref               ItemRef         `json:"ref"`
	Name              string          `json:"name"`
	Fulfiller         Fulfiller       `json:"fulfiller"`
	Quantity          int             `json:"quantity"`
	UnitPriceSnapshot decimal.Decimal `json:"unit_price_snapshot"`
	AddedAt           time.Time       `json:"added_at"`
}

// Cart is a customer's basket.
type Cart struct {
	CustomerID uuid.UUID       `json:"customer_id"`
	Items      []CartItem      `json:"items"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}
