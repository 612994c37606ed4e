package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DiscountKind string

const (
	DiscountPercent      DiscountKind = "percent"
	DiscountFixed        DiscountKind = "fixed"
	DiscountFreeDelivery DiscountKind = "free_delivery"
)

type PromotionOwner string

const (
	OwnerVendor   PromotionOwner = "vendor"
	OwnerChef     PromotionOwner = "chef"
	OwnerPlatform PromotionOwner = "platform"
)

type Promotion struct {
	ID               uuid.UUID        `json:"id"`
	Code             *string          `json:"code,omitempty"`
	Name             string           `json:"name"`
	OwnerKind        PromotionOwner   `json:"owner_kind"`
	OwnerID          *uuid.UUID       `json:"owner_id,omitempty"`
	DiscountKind     DiscountKind     `json:"discount_kind"`
	Value            decimal.Decimal  `json:"value"`
	StartsAt         time.Time        `json:"starts_at"`
	EndsAt           time.Time        `json:"ends_at"`
	UsageLimit       *int             `json:"usage_limit,omitempty"`
	UsageCount       int              `json:"usage_count"`
	PerCustomerLimit *int             `json:"per_customer_limit,omitempty"`
	MinSubtotal      *decimal.Decimal `json:"min_subtotal,omitempty"`
	FirstOrderOnly   bool             `json:"first_order_only"`
	AudienceID       *uuid.UUID       `json:"audience_id,omitempty"`
	IsActive         bool             `json:"is_active"`
	CreatedAt        time.Time        `json:"created_at"`
}

// ActiveAt reports whether now falls in [starts_at, ends_at).
func (p *Promotion) ActiveAt(now time.Time) bool {
	return p.IsActive && !now.Before(p.StartsAt) && now.Before(p.EndsAt)
}

// Exhausted reports whether the global usage limit is reached.
func (p *Promotion) Exhausted() bool {
	return p.UsageLimit != nil && p.UsageCount >= *p.UsageLimit
}

// AppliesTo reports whether the promotion's owner matches the fulfiller.
func (p *Promotion) AppliesTo(f Fulfiller) bool {
	switch p.OwnerKind {
	case OwnerPlatform:
		return true
	case OwnerVendor:
		return f.Kind == KindVendor && p.OwnerID != nil && *p.OwnerID == f.ID
	case OwnerChef:
		return f.Kind == KindChef && p.OwnerID != nil && *p.OwnerID == f.ID
	}
	return false
}

// DiscountBreakdown describes what a promotion does to a basket.
type DiscountBreakdown struct {
	PromotionID  uuid.UUID       `json:"promotion_id"`
	Code         string          `json:"code,omitempty"`
	Kind         DiscountKind    `json:"kind"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discount"`
	DeliveryFee  decimal.Decimal `json:"delivery_fee"`
	FreeDelivery bool            `json:"free_delivery"`
}

// PromotionValidation is the coupon check result.
type PromotionValidation struct {
	Applicable bool              `json:"applicable"`
	Breakdown  DiscountBreakdown `json:"discount_breakdown"`
}
