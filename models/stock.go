package models

import (
	"time"

	"github.com/google/uuid"
)

type StockAdjustment struct {
	ProductID uuid.UUID `json:"product_id"`
	Delta     int       `json:"delta"`
	Remaining int       `json:"remaining"`
}

type LowStockItem struct {
	ProductID         uuid.UUID `json:"product_id"`
	Name              string    `json:"name"`
	StockQuantity     int       `json:"stock_quantity"`
	LowStockThreshold int       `json:"low_stock_threshold"`
}

type ExpiringItem struct {
	ProductID     uuid.UUID `json:"product_id"`
	Name          string    `json:"name"`
	StockQuantity int       `json:"stock_quantity"`
	ExpiryDate    time.Time `json:"expiry_date"`
	DaysLeft      int       `json:"days_left"`
}

// StockLine is one product quantity reserved or released by an order.
type StockLine struct {
	ProductID uuid.UUID
	Quantity  int
}
