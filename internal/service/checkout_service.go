package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/geo"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/payment"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/pricing"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/repositories"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/database"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type CheckoutRequest struct {
	FulfillmentType models.FulfillmentType `json:"fulfillment_type" validate:"required,oneof=delivery pickup"`
	DropoffAddress  string                 `json:"dropoff_address" validate:"required_if=FulfillmentType delivery,max=500"`
	Dropoff         *models.Point          `json:"dropoff" validate:"required_if=FulfillmentType delivery"`
	Region          string                 `json:"region" validate:"max=16"`
	PromoCode       string                 `json:"promo_code" validate:"max=32"`
	PaymentMethod   string                 `json:"payment_method" validate:"required,max=128"`
	Fulfiller       *FulfillerSelector     `json:"fulfiller" validate:"omitempty"`
}

type CheckoutServiceInterface interface {
	Checkout(ctx context.Context, p models.Principal, req CheckoutRequest) (*models.Order, error)
}

// CheckoutService turns a cart into a placed order.
type CheckoutService struct {
	tx         database.TxManager
	carts      repositories.CartRepositoryInterface
	catalog    repositories.CatalogRepositoryInterface
	orders     repositories.OrderRepositoryInterface
	stock      repositories.StockRepositoryInterface
	promotions repositories.PromotionRepositoryInterface
	deliveries repositories.DeliveryRepositoryInterface
	outbox     repositories.OutboxRepositoryInterface
	promos     *PromotionService
	gateway    payment.Gateway
	tax        pricing.TaxResolver
	currency   string
	logger     *logger.Logger
}

type CheckoutDeps struct {
	Tx         database.TxManager
	Carts      repositories.CartRepositoryInterface
	Catalog    repositories.CatalogRepositoryInterface
	Orders     repositories.OrderRepositoryInterface
	Stock      repositories.StockRepositoryInterface
	Promotions repositories.PromotionRepositoryInterface
	Deliveries repositories.DeliveryRepositoryInterface
	Outbox     repositories.OutboxRepositoryInterface
	Promos     *PromotionService
	Gateway    payment.Gateway
	Tax        pricing.TaxResolver
	Currency   string
}

func NewCheckoutService(d CheckoutDeps, log *logger.Logger) *CheckoutService {
	return &CheckoutService{
		tx:         d.Tx,
		carts:      d.Carts,
		catalog:    d.Catalog,
		orders:     d.Orders,
		stock:      d.Stock,
		promotions: d.Promotions,
		deliveries: d.Deliveries,
		outbox:     d.Outbox,
		promos:     d.Promos,
		gateway:    d.Gateway,
		tax:        d.Tax,
		currency:   d.Currency,
		logger:     log.WithComponent("checkout_service"),
	}
}

// Checkout prices the basket from catalog values, authorizes payment, then
// in one transaction creates the order, reserves stock, redeems the
// promotion, creates the delivery and empties the checked-out cart lines.
// A failed transaction voids the authorization.
func (s *CheckoutService) Checkout(ctx context.Context, p models.Principal, req CheckoutRequest) (*models.Order, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "checkout")
	defer span.End()

	if err := requireKind(p, models.KindCustomer); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	s.logger.Info("Checkout started", "customer_id", p.ID, "fulfillment", req.FulfillmentType)

	b, err := loadBasket(ctx, s.carts, s.catalog, p.ID, req.Fulfiller.fulfiller())
	if err != nil {
		return nil, classify(err, "load basket")
	}
	profile, err := s.catalog.Fulfiller(ctx, b.fulfiller)
	if err != nil {
		return nil, classify(err, "load fulfiller")
	}
	if !profile.IsActive {
		return nil, apperr.Conflict("This fulfiller is not accepting orders.").WithCode("fulfiller_inactive")
	}

	in := pricing.Input{
		Lines:            b.lines,
		Fulfillment:      req.FulfillmentType,
		DeliveryBaseFee:  profile.DeliveryBaseFee,
		DeliveryPerKmFee: profile.DeliveryPerKmFee,
		Region:           strings.ToUpper(strings.TrimSpace(req.Region)),
	}
	if in.Region == "" {
		in.Region = profile.Region
	}
	in.TaxRatePercent = s.tax.RatePercent(in.Region)

	if req.FulfillmentType == models.FulfillmentDelivery {
		if profile.Location == nil {
			return nil, apperr.Conflict("This fulfiller does not offer delivery.").WithCode("no_pickup_location")
		}
		in.DistanceKm = geo.DistanceKm(*profile.Location, *req.Dropoff)
	}

	promos, err := s.promos.Candidates(ctx, req.PromoCode, p.ID, b.fulfiller, b.subtotal)
	if err != nil {
		return nil, err
	}
	in.Promotions = promos
	quote := pricing.Price(in)

	orderID := uuid.New()
	span.SetAttributes(attribute.String("order.id", orderID.String()), attribute.String("order.total", quote.Total.StringFixed(2)))

	ref, err := s.authorize(ctx, orderID, p.ID, quote, req.PaymentMethod)
	if err != nil {
		span.SetStatus(codes.Error, "payment authorization failed")
		return nil, err
	}

	inputs, err := json.Marshal(in)
	if err != nil {
		s.voidBestEffort(ctx, ref, orderID)
		return nil, apperr.Internal(err, "encode pricing inputs")
	}

	order := &models.Order{
		ID:               orderID,
		CustomerID:       p.ID,
		Fulfiller:        b.fulfiller,
		FulfillmentType:  req.FulfillmentType,
		Region:           in.Region,
		Subtotal:         quote.Subtotal,
		DeliveryFee:      quote.DeliveryFee,
		Tax:              quote.Tax,
		Discount:         quote.Discount,
		Total:            quote.Total,
		PricingInputs:    inputs,
		Status:           models.OrderPlaced,
		PaymentIntentRef: ref,
	}
	if req.FulfillmentType == models.FulfillmentDelivery {
		order.DropoffAddress = strings.TrimSpace(req.DropoffAddress)
		order.Dropoff = req.Dropoff
	}
	if quote.Promotion != nil {
		pid := quote.Promotion.PromotionID
		order.PromotionID = &pid
	}
	for _, l := range quote.Lines {
		order.Items = append(order.Items, models.OrderItem{
			ID:            uuid.New(),
			OrderID:       orderID,
			Ref:           l.Ref,
			Name:          l.Name,
			Quantity:      l.Quantity,
			SnapshotPrice: l.SnapshotPrice,
			UnitPrice:     l.UnitPrice,
			LineTotal:     l.LineTotal,
		})
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.orders.Create(ctx, order); err != nil {
			return err
		}
		if lines := order.StockLines(); len(lines) > 0 {
			if err := s.stock.Reserve(ctx, lines); err != nil {
				return err
			}
		}
		if order.PromotionID != nil {
			if err := s.promotions.Redeem(ctx, *order.PromotionID, p.ID, order.ID); err != nil {
				return err
			}
		}
		if order.FulfillmentType == models.FulfillmentDelivery {
			d := &models.Delivery{
				OrderID: order.ID,
				Status:  models.DeliveryPendingAssignment,
				Pickup:  *profile.Location,
				Dropoff: *order.Dropoff,
			}
			if err := s.deliveries.Create(ctx, d); err != nil {
				return err
			}
			order.DeliveryID = &d.ID
		}
		if err := s.orders.AppendHistory(ctx, &models.OrderStatusChange{
			OrderID: order.ID,
			To:      models.OrderPlaced,
			Event:   models.EventCheckout,
			Actor:   p.Ref(),
		}); err != nil {
			return err
		}
		if err := s.outbox.Append(ctx, models.NewOrderEvent(models.EventTypeOrderPlaced, order, "", "")); err != nil {
			return err
		}
		return s.carts.RemoveItems(ctx, p.ID, b.itemIDs())
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("Checkout transaction failed, voiding authorization", "order_id", orderID, "error", err)
		s.voidBestEffort(ctx, ref, orderID)
		return nil, classify(err, "checkout")
	}

	s.logger.Info("Order placed", "order_id", order.ID, "customer_id", p.ID, "fulfiller_kind", order.Fulfiller.Kind,
		"total", order.Total.StringFixed(2), "promotion_applied", order.PromotionID != nil)
	return order, nil
}

func (s *CheckoutService) authorize(ctx context.Context, orderID, customerID uuid.UUID, q pricing.Quote, method string) (string, error) {
	if q.Total.IsZero() {
		return "", nil
	}
	ref, err := s.gateway.Authorize(ctx, payment.AuthorizeRequest{
		OrderID:       orderID,
		CustomerID:    customerID,
		Amount:        q.Total,
		Currency:      s.currency,
		PaymentMethod: method,
	})
	if err != nil {
		var decline *payment.DeclineError
		if errors.As(err, &decline) {
			s.logger.Info("Payment declined", "order_id", orderID, "reason", decline.Reason)
			return "", apperr.PaymentFailed(decline.Reason)
		}
		s.logger.Error("Payment authorization failed", "order_id", orderID, "error", err)
		return "", apperr.Wrap(err, apperr.KindPaymentFailed, "The payment could not be authorized.").
			WithCode("payment_failed").
			With("reason", "gateway_unavailable")
	}
	return ref, nil
}

func (s *CheckoutService) voidBestEffort(ctx context.Context, ref string, orderID uuid.UUID) {
	if ref == "" {
		return
	}
	if err := s.gateway.Void(context.WithoutCancel(ctx), ref); err != nil {
		s.logger.Error("Failed to void payment authorization", "order_id", orderID, "error", err)
	}
}
