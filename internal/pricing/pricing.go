// Package pricing is the canonical, side-effect free order pricing function.
package pricing

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/kidoxdavid/eazyfoods-sub001/models"
)

var hundred = decimal.NewFromInt(100)

// Line is one basket line priced from current catalog values.
type Line struct {
	Ref           models.ItemRef  `json:"ref"`
	Name          string          `json:"name"`
	Quantity      int             `json:"quantity"`
	SnapshotPrice decimal.Decimal `json:"snapshot_price"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
}

// Input is everything the price of an order depends on. It is persisted with
// the order so the result can be recomputed.
type Input struct {
	Lines            []Line                 `json:"lines"`
	Fulfillment      models.FulfillmentType `json:"fulfillment"`
	DeliveryBaseFee  decimal.Decimal        `json:"delivery_base_fee"`
	DeliveryPerKmFee decimal.Decimal        `json:"delivery_per_km_fee"`
	DistanceKm       float64                `json:"distance_km"`
	Region           string                 `json:"region"`
	TaxRatePercent   decimal.Decimal        `json:"tax_rate_percent"`
	Promotions       []models.Promotion     `json:"promotions,omitempty"`
}

type PricedLine struct {
	Line
	LineTotal decimal.Decimal `json:"line_total"`
}

// Quote is the priced basket.
type Quote struct {
	Lines       []PricedLine              `json:"lines"`
	Subtotal    decimal.Decimal           `json:"subtotal"`
	DeliveryFee decimal.Decimal           `json:"delivery_fee"`
	Tax         decimal.Decimal           `json:"tax"`
	Discount    decimal.Decimal           `json:"discount"`
	Total       decimal.Decimal           `json:"total"`
	Promotion   *models.DiscountBreakdown `json:"promotion,omitempty"`
}

// Round rounds to cents with banker's rounding.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// Price computes subtotal, delivery fee, tax and the best single promotion.
// Tax is levied on the undiscounted subtotal.
func Price(in Input) Quote {
	q := Quote{Lines: make([]PricedLine, 0, len(in.Lines))}

	subtotal := decimal.Zero
	for _, l := range in.Lines {
		total := Round(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
		q.Lines = append(q.Lines, PricedLine{Line: l, LineTotal: total})
		subtotal = subtotal.Add(total)
	}
	q.Subtotal = Round(subtotal)

	if in.Fulfillment == models.FulfillmentPickup {
		q.DeliveryFee = decimal.Zero
	} else {
		q.DeliveryFee = DeliveryFee(in.DeliveryBaseFee, in.DeliveryPerKmFee, in.DistanceKm)
	}

	q.Tax = Round(q.Subtotal.Mul(in.TaxRatePercent).Div(hundred))
	q.Discount = decimal.Zero

	if _, b, ok := Best(in.Promotions, q.Subtotal, q.DeliveryFee); ok {
		q.Discount = b.Discount
		q.DeliveryFee = b.DeliveryFee
		q.Promotion = &b
	}

	total := q.Subtotal.Add(q.DeliveryFee).Add(q.Tax).Sub(q.Discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	q.Total = Round(total)
	return q
}

// DeliveryFee is the fulfiller's base fee plus a per-km component.
func DeliveryFee(base, perKm decimal.Decimal, distanceKm float64) decimal.Decimal {
	fee := base.Add(perKm.Mul(decimal.NewFromFloat(distanceKm)))
	if fee.IsNegative() {
		return decimal.Zero
	}
	return Round(fee)
}

// Apply computes what p does to a basket with the given subtotal and fee.
func Apply(p *models.Promotion, subtotal, deliveryFee decimal.Decimal) models.DiscountBreakdown {
	b := models.DiscountBreakdown{
		PromotionID: p.ID,
		Kind:        p.DiscountKind,
		Subtotal:    subtotal,
		Discount:    decimal.Zero,
		DeliveryFee: deliveryFee,
	}
	if p.Code != nil {
		b.Code = *p.Code
	}

	switch p.DiscountKind {
	case models.DiscountPercent:
		b.Discount = Round(subtotal.Mul(p.Value).Div(hundred))
	case models.DiscountFixed:
		b.Discount = Round(p.Value)
	case models.DiscountFreeDelivery:
		b.DeliveryFee = decimal.Zero
		b.FreeDelivery = true
	}
	if b.Discount.GreaterThan(subtotal) {
		b.Discount = subtotal
	}
	return b
}

// Benefit is the total amount the customer saves under b.
func Benefit(b models.DiscountBreakdown, deliveryFee decimal.Decimal) decimal.Decimal {
	return b.Discount.Add(deliveryFee.Sub(b.DeliveryFee))
}

// Best picks the promotion saving the customer the most; ties go to the
// earlier starts_at, then the lower id.
func Best(promos []models.Promotion, subtotal, deliveryFee decimal.Decimal) (*models.Promotion, models.DiscountBreakdown, bool) {
	if len(promos) == 0 {
		return nil, models.DiscountBreakdown{}, false
	}

	type candidate struct {
		p       *models.Promotion
		b       models.DiscountBreakdown
		benefit decimal.Decimal
	}
	cands := make([]candidate, 0, len(promos))
	for i := range promos {
		b := Apply(&promos[i], subtotal, deliveryFee)
		cands = append(cands, candidate{p: &promos[i], b: b, benefit: Benefit(b, deliveryFee)})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if c := cands[i].benefit.Cmp(cands[j].benefit); c != 0 {
			return c > 0
		}
		if !cands[i].p.StartsAt.Equal(cands[j].p.StartsAt) {
			return cands[i].p.StartsAt.Before(cands[j].p.StartsAt)
		}
		return cands[i].p.ID.String() < cands[j].p.ID.String()
	})

	best := cands[0]
	if !best.benefit.IsPositive() {
		return nil, models.DiscountBreakdown{}, false
	}
	return best.p, best.b, true
}
