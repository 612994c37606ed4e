package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/geo"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/pricing"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/repositories"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type CreatePromotionRequest struct {
	Code             *string             `json:"code" validate:"omitempty,min=3,max=32,alphanum"`
	Name             string              `json:"name" validate:"required,max=200"`
	DiscountKind     models.DiscountKind `json:"discount_kind" validate:"required,oneof=percent fixed free_delivery"`
	Value            decimal.Decimal     `json:"value"`
	StartsAt         time.Time           `json:"starts_at" validate:"required"`
	EndsAt           time.Time           `json:"ends_at" validate:"required,gtfield=StartsAt"`
	UsageLimit       *int                `json:"usage_limit" validate:"omitempty,min=1"`
	PerCustomerLimit *int                `json:"per_customer_limit" validate:"omitempty,min=1"`
	MinSubtotal      *decimal.Decimal    `json:"min_subtotal"`
	FirstOrderOnly   bool                `json:"first_order_only"`
	AudienceID       *uuid.UUID          `json:"audience_id"`
	IsActive         *bool               `json:"is_active"`
}

type ValidatePromotionRequest struct {
	Code            string                 `json:"code" validate:"required,max=32"`
	Fulfiller       *FulfillerSelector     `json:"fulfiller" validate:"omitempty"`
	FulfillmentType models.FulfillmentType `json:"fulfillment_type" validate:"omitempty,oneof=delivery pickup"`
	Dropoff         *models.Point          `json:"dropoff"`
}

// MembershipChecker answers audience membership for promotion eligibility.
type MembershipChecker interface {
	IsMember(ctx context.Context, audienceID, customerID uuid.UUID) (bool, error)
}

type PromotionServiceInterface interface {
	Create(ctx context.Context, p models.Principal, req CreatePromotionRequest) (*models.Promotion, error)
	List(ctx context.Context, p models.Principal) ([]models.Promotion, error)
	Validate(ctx context.Context, p models.Principal, req ValidatePromotionRequest) (*models.PromotionValidation, error)
}

type PromotionService struct {
	promotions repositories.PromotionRepositoryInterface
	orders     repositories.OrderRepositoryInterface
	carts      repositories.CartRepositoryInterface
	catalog    repositories.CatalogRepositoryInterface
	audiences  MembershipChecker
	now        Clock
	logger     *logger.Logger
}

func NewPromotionService(
	promotions repositories.PromotionRepositoryInterface,
	orders repositories.OrderRepositoryInterface,
	carts repositories.CartRepositoryInterface,
	catalog repositories.CatalogRepositoryInterface,
	audiences MembershipChecker,
	log *logger.Logger,
) *PromotionService {
	return &PromotionService{
		promotions: promotions,
		orders:     orders,
		carts:      carts,
		catalog:    catalog,
		audiences:  audiences,
		now:        time.Now,
		logger:     log.WithComponent("promotion_service"),
	}
}

func (s *PromotionService) WithClock(c Clock) *PromotionService {
	s.now = c
	return s
}

func promotionOwner(p models.Principal) (models.PromotionOwner, *uuid.UUID, error) {
	id := p.ID
	switch p.Kind {
	case models.KindVendor:
		return models.OwnerVendor, &id, requireCapability(p, models.CapManagePromos)
	case models.KindChef:
		return models.OwnerChef, &id, nil
	case models.KindAdmin:
		return models.OwnerPlatform, nil, requireCapability(p, models.CapManagePromos)
	}
	return "", nil, apperr.Forbidden("Only vendors, chefs and admins manage promotions.")
}

func (s *PromotionService) Create(ctx context.Context, p models.Principal, req CreatePromotionRequest) (*models.Promotion, error) {
	owner, ownerID, err := promotionOwner(p)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	switch req.DiscountKind {
	case models.DiscountPercent:
		if !req.Value.IsPositive() || req.Value.GreaterThan(decimal.NewFromInt(100)) {
			return nil, apperr.Validation("A percent discount must be between 0 and 100.").With("field", "value")
		}
	case models.DiscountFixed:
		if !req.Value.IsPositive() {
			return nil, apperr.Validation("A fixed discount must be positive.").With("field", "value")
		}
	case models.DiscountFreeDelivery:
		req.Value = decimal.Zero
	}
	if req.MinSubtotal != nil && req.MinSubtotal.IsNegative() {
		return nil, apperr.Validation("min_subtotal cannot be negative.").With("field", "min_subtotal")
	}

	promo := &models.Promotion{
		Name:             strings.TrimSpace(req.Name),
		OwnerKind:        owner,
		OwnerID:          ownerID,
		DiscountKind:     req.DiscountKind,
		Value:            req.Value,
		StartsAt:         req.StartsAt,
		EndsAt:           req.EndsAt,
		UsageLimit:       req.UsageLimit,
		PerCustomerLimit: req.PerCustomerLimit,
		MinSubtotal:      req.MinSubtotal,
		FirstOrderOnly:   req.FirstOrderOnly,
		AudienceID:       req.AudienceID,
		IsActive:         req.IsActive == nil || *req.IsActive,
	}
	if req.Code != nil && strings.TrimSpace(*req.Code) != "" {
		code := strings.ToUpper(strings.TrimSpace(*req.Code))
		promo.Code = &code
	}

	if err := s.promotions.Create(ctx, promo); err != nil {
		s.logger.Warn("Failed to create promotion", "owner_kind", owner, "error", err)
		return nil, classify(err, "create promotion")
	}
	s.logger.Info("Promotion created", "promotion_id", promo.ID, "owner_kind", owner, "kind", promo.DiscountKind)
	return promo, nil
}

func (s *PromotionService) List(ctx context.Context, p models.Principal) ([]models.Promotion, error) {
	owner, ownerID, err := promotionOwner(p)
	if err != nil {
		return nil, err
	}
	promos, err := s.promotions.List(ctx, owner, ownerID)
	if err != nil {
		return nil, classify(err, "list promotions")
	}
	return promos, nil
}

// Validate checks a coupon against the customer's current cart.
func (s *PromotionService) Validate(ctx context.Context, p models.Principal, req ValidatePromotionRequest) (*models.PromotionValidation, error) {
	if err := requireKind(p, models.KindCustomer); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	b, err := loadBasket(ctx, s.carts, s.catalog, p.ID, req.Fulfiller.fulfiller())
	if err != nil {
		return nil, classify(err, "load basket")
	}
	profile, err := s.catalog.Fulfiller(ctx, b.fulfiller)
	if err != nil {
		return nil, classify(err, "load fulfiller")
	}

	promo, err := s.resolveCoupon(ctx, req.Code, p.ID, b.fulfiller, b.subtotal)
	if err != nil {
		return nil, err
	}
	return &models.PromotionValidation{
		Applicable: true,
		Breakdown:  pricing.Apply(promo, b.subtotal, quotedDeliveryFee(profile, req.FulfillmentType, req.Dropoff)),
	}, nil
}

// quotedDeliveryFee mirrors the fee checkout would charge. Without a dropoff
// only the base fee is known.
func quotedDeliveryFee(profile *models.FulfillerProfile, ft models.FulfillmentType, dropoff *models.Point) decimal.Decimal {
	if ft == models.FulfillmentPickup {
		return decimal.Zero
	}
	var km float64
	if dropoff != nil && profile.Location != nil {
		km = geo.DistanceKm(*profile.Location, *dropoff)
	}
	return pricing.DeliveryFee(profile.DeliveryBaseFee, profile.DeliveryPerKmFee, km)
}

// Candidates returns the promotions competing for a basket: the coupon, if
// any, plus every eligible automatic promotion. A coupon that does not apply
// fails the call.
func (s *PromotionService) Candidates(ctx context.Context, code string, customerID uuid.UUID, f models.Fulfiller, subtotal decimal.Decimal) ([]models.Promotion, error) {
	var out []models.Promotion
	if strings.TrimSpace(code) != "" {
		promo, err := s.resolveCoupon(ctx, code, customerID, f, subtotal)
		if err != nil {
			return nil, err
		}
		out = append(out, *promo)
	}

	auto, err := s.promotions.Automatic(ctx, f, s.now())
	if err != nil {
		return nil, classify(err, "load automatic promotions")
	}
	for i := range auto {
		promo := &auto[i]
		if promo.Exhausted() {
			continue
		}
		reason, err := s.ineligible(ctx, promo, customerID, f, subtotal)
		if err != nil {
			return nil, err
		}
		if reason == "" {
			out = append(out, *promo)
		}
	}
	return out, nil
}

func (s *PromotionService) resolveCoupon(ctx context.Context, code string, customerID uuid.UUID, f models.Fulfiller, subtotal decimal.Decimal) (*models.Promotion, error) {
	promo, err := s.promotions.GetByCode(ctx, code)
	if err != nil {
		return nil, classify(err, "load promotion")
	}
	if !promo.ActiveAt(s.now()) {
		return nil, apperr.Validation("This promotion is not active.").WithCode("expired")
	}
	if promo.Exhausted() {
		return nil, apperr.UsageExhausted()
	}
	reason, err := s.ineligible(ctx, promo, customerID, f, subtotal)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		s.logger.Info("Promotion not eligible", "promotion_id", promo.ID, "customer_id", customerID, "reason", reason)
		return nil, apperr.Validation("This promotion does not apply to your order.").
			WithCode("not_eligible").
			With("reason", reason)
	}
	return promo, nil
}

// ineligible returns the first failing eligibility rule, or "".
func (s *PromotionService) ineligible(ctx context.Context, promo *models.Promotion, customerID uuid.UUID, f models.Fulfiller, subtotal decimal.Decimal) (string, error) {
	if !promo.AppliesTo(f) {
		return "fulfiller_mismatch", nil
	}
	if promo.MinSubtotal != nil && subtotal.LessThan(*promo.MinSubtotal) {
		return "min_subtotal", nil
	}
	if promo.FirstOrderOnly {
		prior, err := s.orders.HasPriorOrders(ctx, customerID)
		if err != nil {
			return "", classify(err, "check prior orders")
		}
		if prior {
			return "first_order_only", nil
		}
	}
	if promo.PerCustomerLimit != nil {
		used, err := s.promotions.CustomerRedemptions(ctx, promo.ID, customerID)
		if err != nil {
			return "", classify(err, "count redemptions")
		}
		if used >= *promo.PerCustomerLimit {
			return "per_customer_limit", nil
		}
	}
	if promo.AudienceID != nil {
		member, err := s.audiences.IsMember(ctx, *promo.AudienceID, customerID)
		if err != nil {
			return "", classify(err, "check audience membership")
		}
		if !member {
			return "audience", nil
		}
	}
	return "", nil
}
