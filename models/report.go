package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SalesReport aggregates delivered orders for one fulfiller.
type SalesReport struct {
	From       time.Time       `json:"from"`
	To         time.Time       `json:"to"`
	OrderCount int             `json:"order_count"`
	Revenue    decimal.Decimal `json:"revenue"`
	Discounts  decimal.Decimal `json:"discounts"`
	Payouts    decimal.Decimal `json:"payouts"`
	ItemSales  []ItemSales     `json:"item_sales"`
}

type ItemSales struct {
	Ref      ItemRef         `json:"ref"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Revenue  decimal.Decimal `json:"revenue"`
}

type PopularItem struct {
	Ref         ItemRef   `json:"ref"`
	Name        string    `json:"name"`
	OrderCount  int       `json:"order_count"`
	Quantity    int       `json:"quantity"`
	Rank        int       `json:"rank"`
	LastOrdered time.Time `json:"last_ordered"`
}
