package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/pricing"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/repositories"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type AddCartItemRequest struct {
	Kind     models.ItemKind `json:"kind" validate:"required,oneof=product cuisine"`
	ID       uuid.UUID       `json:"id" validate:"required"`
	Quantity int             `json:"quantity" validate:"required,min=1,max=99"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1,max=99"`
}

// FulfillerSelector picks one fulfiller out of a mixed cart.
type FulfillerSelector struct {
	Kind models.ActorKind `json:"kind" validate:"required,oneof=vendor chef"`
	ID   uuid.UUID        `json:"id" validate:"required"`
}

func (f *FulfillerSelector) fulfiller() *models.Fulfiller {
	if f == nil {
		return nil
	}
	return &models.Fulfiller{Kind: f.Kind, ID: f.ID}
}

type CartServiceInterface interface {
	GetCart(ctx context.Context, p models.Principal) (*models.Cart, error)
	AddItem(ctx context.Context, p models.Principal, req AddCartItemRequest) (*models.Cart, error)
	UpdateItem(ctx context.Context, p models.Principal, itemID uuid.UUID, req UpdateCartItemRequest) (*models.Cart, error)
	RemoveItem(ctx context.Context, p models.Principal, itemID uuid.UUID) (*models.Cart, error)
}

type CartService struct {
	carts   repositories.CartRepositoryInterface
	catalog repositories.CatalogRepositoryInterface
	now     Clock
	logger  *logger.Logger
}

func NewCartService(carts repositories.CartRepositoryInterface, catalog repositories.CatalogRepositoryInterface, log *logger.Logger) *CartService {
	return &CartService{
		carts:   carts,
		catalog: catalog,
		now:     time.Now,
		logger:  log.WithComponent("cart_service"),
	}
}

func (s *CartService) GetCart(ctx context.Context, p models.Principal) (*models.Cart, error) {
	if err := requireKind(p, models.KindCustomer); err != nil {
		return nil, err
	}
	items, err := s.carts.List(ctx, p.ID)
	if err != nil {
		s.logger.Error("Failed to load cart", "customer_id", p.ID, "error", err)
		return nil, classify(err, "load cart")
	}

	cart := &models.Cart{CustomerID: p.ID, Items: items, Subtotal: decimal.Zero}
	for _, it := range items {
		cart.Subtotal = cart.Subtotal.Add(it.UnitPriceSnapshot.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	cart.Subtotal = pricing.Round(cart.Subtotal)
	return cart, nil
}

// AddItem adds quantity of an active catalog item, capturing its current
// price as the snapshot.
func (s *CartService) AddItem(ctx context.Context, p models.Principal, req AddCartItemRequest) (*models.Cart, error) {
	if err := requireKind(p, models.KindCustomer); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	s.logger.Info("Adding cart item", "customer_id", p.ID, "kind", req.Kind, "item_id", req.ID, "quantity", req.Quantity)

	ref := models.ItemRef{Kind: req.Kind, ID: req.ID}
	found, err := s.catalog.Items(ctx, []models.ItemRef{ref})
	if err != nil {
		return nil, classify(err, "load catalog item")
	}
	item, ok := found[ref]
	if !ok {
		return nil, apperr.NotFound("Item")
	}
	if item.Status != models.ItemActive {
		return nil, apperr.Conflict("This item is not available.").WithCode("item_unavailable").With("item_id", req.ID)
	}
	if item.Stock != nil && *item.Stock < req.Quantity {
		return nil, apperr.InsufficientStock(req.ID.String(), *item.Stock)
	}

	if err := s.carts.Add(ctx, &models.CartItem{
		CustomerID:        p.ID,
		Ref:               ref,
		Name:              item.Name,
		Fulfiller:         item.Fulfiller,
		Quantity:          req.Quantity,
		UnitPriceSnapshot: item.UnitPrice,
		AddedAt:           s.now(),
	}); err != nil {
		s.logger.Error("Failed to add cart item", "customer_id", p.ID, "error", err)
		return nil, classify(err, "add cart item")
	}
	return s.GetCart(ctx, p)
}

func (s *CartService) UpdateItem(ctx context.Context, p models.Principal, itemID uuid.UUID, req UpdateCartItemRequest) (*models.Cart, error) {
	if err := requireKind(p, models.KindCustomer); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := s.carts.SetQuantity(ctx, p.ID, itemID, req.Quantity); err != nil {
		return nil, classify(err, "update cart item")
	}
	return s.GetCart(ctx, p)
}

func (s *CartService) RemoveItem(ctx context.Context, p models.Principal, itemID uuid.UUID) (*models.Cart, error) {
	if err := requireKind(p, models.KindCustomer); err != nil {
		return nil, err
	}
	if err := s.carts.Remove(ctx, p.ID, itemID); err != nil {
		return nil, classify(err, "remove cart item")
	}
	return s.GetCart(ctx, p)
}

// basket is the part of a cart bound for one fulfiller, priced from current
// catalog values.
type basket struct {
	fulfiller models.Fulfiller
	items     []models.CartItem
	lines     []pricing.Line
	subtotal  decimal.Decimal
}

func (b *basket) itemIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(b.items))
	for i, it := range b.items {
		ids[i] = it.ID
	}
	return ids
}

// loadBasket selects the cart lines for one fulfiller. A cart spanning
// several fulfillers needs an explicit selection.
func loadBasket(ctx context.Context, carts repositories.CartRepositoryInterface, catalog repositories.CatalogRepositoryInterface, customerID uuid.UUID, sel *models.Fulfiller) (*basket, error) {
	all, err := carts.List(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, apperr.Validation("Your cart is empty.").WithCode("empty_cart")
	}

	var fulfillers []models.Fulfiller
	seen := make(map[models.Fulfiller]bool)
	for _, it := range all {
		if !seen[it.Fulfiller] {
			seen[it.Fulfiller] = true
			fulfillers = append(fulfillers, it.Fulfiller)
		}
	}

	b := &basket{}
	switch {
	case sel != nil:
		if !seen[*sel] {
			return nil, apperr.Validation("Your cart has no items from that fulfiller.").WithCode("fulfiller_not_in_cart")
		}
		b.fulfiller = *sel
	case len(fulfillers) > 1:
		return nil, apperr.Validation("Your cart holds items from several fulfillers; choose one to check out.").
			WithCode("multiple_fulfillers").
			With("fulfillers", fulfillers)
	default:
		b.fulfiller = fulfillers[0]
	}

	var refs []models.ItemRef
	for _, it := range all {
		if it.Fulfiller == b.fulfiller {
			b.items = append(b.items, it)
			refs = append(refs, it.Ref)
		}
	}

	current, err := catalog.Items(ctx, refs)
	if err != nil {
		return nil, err
	}
	for _, it := range b.items {
		ci, ok := current[it.Ref]
		if !ok || ci.Status != models.ItemActive || ci.Fulfiller != b.fulfiller {
			return nil, apperr.Conflict("An item in your cart is no longer available.").
				WithCode("item_unavailable").
				With("item_id", it.Ref.ID)
		}
		b.lines = append(b.lines, pricing.Line{
			Ref:           it.Ref,
			Name:          ci.Name,
			Quantity:      it.Quantity,
			SnapshotPrice: it.UnitPriceSnapshot,
			UnitPrice:     ci.UnitPrice,
		})
	}
	b.subtotal = pricing.Price(pricing.Input{Lines: b.lines, Fulfillment: models.FulfillmentPickup}).Subtotal
	return b, nil
}
