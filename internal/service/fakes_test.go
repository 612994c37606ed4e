package service

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
)

// memStore is an in-memory database shared by the fake repositories.
// Transactions are serialized and rolled back by snapshot, which stands in
// for row locks.
type memStore struct {
	txmu sync.Mutex
	mu   sync.Mutex

	orders        map[uuid.UUID]models.Order
	history       []models.OrderStatusChange
	deliveries    map[uuid.UUID]models.Delivery
	offers        map[uuid.UUID]models.DeliveryOffer
	stock         map[uuid.UUID]int
	cart          []models.CartItem
	catalog       map[models.ItemRef]models.CatalogItem
	profiles      map[models.Fulfiller]models.FulfillerProfile
	promos        map[uuid.UUID]models.Promotion
	redemptions   map[uuid.UUID]uuid.UUID // order -> promotion
	events        []models.DomainEvent
	candidates    []models.DriverCandidate
	drivers       map[uuid.UUID]bool // id -> active
	notifications []models.Notification
	payouts       map[uuid.UUID]models.Payout
	locations     int
}

func newMemStore() *memStore {
	return &memStore{
		orders:      map[uuid.UUID]models.Order{},
		deliveries:  map[uuid.UUID]models.Delivery{},
		offers:      map[uuid.UUID]models.DeliveryOffer{},
		stock:       map[uuid.UUID]int{},
		catalog:     map[models.ItemRef]models.CatalogItem{},
		profiles:    map[models.Fulfiller]models.FulfillerProfile{},
		promos:      map[uuid.UUID]models.Promotion{},
		redemptions: map[uuid.UUID]uuid.UUID{},
		payouts:     map[uuid.UUID]models.Payout{},
		drivers:     map[uuid.UUID]bool{},
	}
}

type snapshot struct {
	orders      map[uuid.UUID]models.Order
	history     []models.OrderStatusChange
	deliveries  map[uuid.UUID]models.Delivery
	offers      map[uuid.UUID]models.DeliveryOffer
	stock       map[uuid.UUID]int
	cart        []models.CartItem
	promos      map[uuid.UUID]models.Promotion
	redemptions map[uuid.UUID]uuid.UUID
	events      []models.DomainEvent
}

func (s *memStore) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot{
		orders:      maps.Clone(s.orders),
		history:     slices.Clone(s.history),
		deliveries:  maps.Clone(s.deliveries),
		offers:      maps.Clone(s.offers),
		stock:       maps.Clone(s.stock),
		cart:        slices.Clone(s.cart),
		promos:      maps.Clone(s.promos),
		redemptions: maps.Clone(s.redemptions),
		events:      slices.Clone(s.events),
	}
}

func (s *memStore) restore(sn snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders, s.history, s.deliveries, s.offers = sn.orders, sn.history, sn.deliveries, sn.offers
	s.stock, s.cart, s.promos, s.redemptions, s.events = sn.stock, sn.cart, sn.promos, sn.redemptions, sn.events
}

type inTxKey struct{}

// WithTx implements database.TxManager. Nested calls join the outer
// transaction.
func (s *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}
	s.txmu.Lock()
	defer s.txmu.Unlock()
	sn := s.snapshot()
	if err := fn(context.WithValue(ctx, inTxKey{}, true)); err != nil {
		s.restore(sn)
		return err
	}
	return nil
}

func (s *memStore) eventTypes() []models.DomainEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DomainEventType
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

func (s *memStore) order(id uuid.UUID) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *memStore) delivery(id uuid.UUID) models.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliveries[id]
}

func (s *memStore) pendingOffers() []models.DeliveryOffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DeliveryOffer
	for _, o := range s.offers {
		if o.Status == models.OfferPending {
			out = append(out, o)
		}
	}
	return out
}

// orders

type fakeOrders struct{ s *memStore }

func (r fakeOrders) Create(_ context.Context, o *models.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	r.s.orders[o.ID] = *o
	return nil
}

func (r fakeOrders) GetByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, apperr.NotFound("Order")
	}
	for _, d := range r.s.deliveries {
		if d.OrderID == id {
			did := d.ID
			o.DeliveryID = &did
		}
	}
	return &o, nil
}

func (r fakeOrders) LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.GetByID(ctx, id)
}

func (r fakeOrders) List(_ context.Context, f models.OrderFilter) ([]*models.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Order
	for _, o := range r.s.orders {
		if f.CustomerID != nil && o.CustomerID != *f.CustomerID {
			continue
		}
		if f.Fulfiller != nil && o.Fulfiller != *f.Fulfiller {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		o := o
		out = append(out, &o)
	}
	return out, nil
}

func (r fakeOrders) UpdateStatus(_ context.Context, o *models.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.orders[o.ID]
	if !ok {
		return apperr.NotFound("Order")
	}
	cur.Status, cur.CancelReason = o.Status, o.CancelReason
	r.s.orders[o.ID] = cur
	return nil
}

func (r fakeOrders) AppendHistory(_ context.Context, c *models.OrderStatusChange) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c.ID = uuid.New()
	r.s.history = append(r.s.history, *c)
	return nil
}

func (r fakeOrders) History(_ context.Context, orderID uuid.UUID) ([]models.OrderStatusChange, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.OrderStatusChange
	for _, h := range r.s.history {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r fakeOrders) StalePlaced(_ context.Context, before time.Time, _ int) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []uuid.UUID
	for id, o := range r.s.orders {
		if o.Status == models.OrderPlaced && o.CreatedAt.Before(before) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r fakeOrders) HasPriorOrders(_ context.Context, customerID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.orders {
		if o.CustomerID == customerID && o.Status != models.OrderCancelled {
			return true, nil
		}
	}
	return false, nil
}

// stock

type fakeStock struct{ s *memStore }

func (r fakeStock) Reserve(_ context.Context, lines []models.StockLine) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, l := range lines {
		have, ok := r.s.stock[l.ProductID]
		if !ok {
			return apperr.NotFound("Product")
		}
		if have < l.Quantity {
			return apperr.InsufficientStock(l.ProductID.String(), have)
		}
		r.s.stock[l.ProductID] = have - l.Quantity
	}
	return nil
}

func (r fakeStock) Release(_ context.Context, lines []models.StockLine) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, l := range lines {
		r.s.stock[l.ProductID] += l.Quantity
	}
	return nil
}

func (r fakeStock) Adjust(_ context.Context, _, productID uuid.UUID, delta int) (*models.StockAdjustment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	have, ok := r.s.stock[productID]
	if !ok {
		return nil, apperr.NotFound("Product")
	}
	if have+delta < 0 {
		return nil, apperr.Validation("Stock cannot go below zero.").With("available", have)
	}
	r.s.stock[productID] = have + delta
	return &models.StockAdjustment{ProductID: productID, Delta: delta, Remaining: have + delta}, nil
}

func (r fakeStock) LowStock(context.Context, uuid.UUID) ([]models.LowStockItem, error) { return nil, nil }

func (r fakeStock) Expiring(context.Context, uuid.UUID, int) ([]models.ExpiringItem, error) {
	return nil, nil
}

// cart and catalog

type fakeCarts struct{ s *memStore }

func (r fakeCarts) List(_ context.Context, customerID uuid.UUID) ([]models.CartItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.CartItem
	for _, it := range r.s.cart {
		if it.CustomerID == customerID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r fakeCarts) Add(_ context.Context, item *models.CartItem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	r.s.cart = append(r.s.cart, *item)
	return nil
}

func (r fakeCarts) SetQuantity(_ context.Context, customerID, itemID uuid.UUID, quantity int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, it := range r.s.cart {
		if it.ID == itemID && it.CustomerID == customerID {
			r.s.cart[i].Quantity = quantity
			return nil
		}
	}
	return apperr.NotFound("Cart item")
}

func (r fakeCarts) Remove(ctx context.Context, customerID, itemID uuid.UUID) error {
	return r.RemoveItems(ctx, customerID, []uuid.UUID{itemID})
}

func (r fakeCarts) RemoveItems(_ context.Context, customerID uuid.UUID, itemIDs []uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.cart = slices.DeleteFunc(r.s.cart, func(it models.CartItem) bool {
		return it.CustomerID == customerID && slices.Contains(itemIDs, it.ID)
	})
	return nil
}

type fakeCatalog struct{ s *memStore }

func (r fakeCatalog) Items(_ context.Context, refs []models.ItemRef) (map[models.ItemRef]models.CatalogItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := map[models.ItemRef]models.CatalogItem{}
	for _, ref := range refs {
		if it, ok := r.s.catalog[ref]; ok {
			out[ref] = it
		}
	}
	return out, nil
}

func (r fakeCatalog) Fulfiller(_ context.Context, f models.Fulfiller) (*models.FulfillerProfile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.profiles[f]
	if !ok {
		return nil, apperr.NotFound("Fulfiller")
	}
	return &p, nil
}

// promotions

type fakePromotions struct{ s *memStore }

func (r fakePromotions) Create(_ context.Context, p *models.Promotion) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.s.promos[p.ID] = *p
	return nil
}

func (r fakePromotions) List(_ context.Context, owner models.PromotionOwner, ownerID *uuid.UUID) ([]models.Promotion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Promotion
	for _, p := range r.s.promos {
		if p.OwnerKind == owner {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r fakePromotions) GetByID(_ context.Context, id uuid.UUID) (*models.Promotion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.promos[id]
	if !ok {
		return nil, apperr.NotFound("Promotion")
	}
	return &p, nil
}

func (r fakePromotions) GetByCode(_ context.Context, code string) (*models.Promotion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.promos {
		if p.Code != nil && *p.Code == code {
			return &p, nil
		}
	}
	return nil, apperr.NotFound("Promotion")
}

func (r fakePromotions) Automatic(_ context.Context, f models.Fulfiller, now time.Time) ([]models.Promotion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Promotion
	for _, p := range r.s.promos {
		if p.Code == nil && p.ActiveAt(now) && p.AppliesTo(f) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b models.Promotion) int { return a.StartsAt.Compare(b.StartsAt) })
	return out, nil
}

func (r fakePromotions) Redeem(_ context.Context, promotionID, customerID, orderID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p := r.s.promos[promotionID]
	if p.Exhausted() {
		return apperr.UsageExhausted()
	}
	if p.PerCustomerLimit != nil {
		used := 0
		for oid, pid := range r.s.redemptions {
			if pid == promotionID && r.s.orders[oid].CustomerID == customerID {
				used++
			}
		}
		if used >= *p.PerCustomerLimit {
			return apperr.PerCustomerLimit()
		}
	}
	p.UsageCount++
	r.s.promos[promotionID] = p
	r.s.redemptions[orderID] = promotionID
	return nil
}

func (r fakePromotions) Release(_ context.Context, orderID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pid, ok := r.s.redemptions[orderID]
	if !ok {
		return false, nil
	}
	delete(r.s.redemptions, orderID)
	p := r.s.promos[pid]
	if p.UsageCount > 0 {
		p.UsageCount--
	}
	r.s.promos[pid] = p
	return true, nil
}

func (r fakePromotions) CustomerRedemptions(_ context.Context, promotionID, customerID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for orderID, pid := range r.s.redemptions {
		if pid == promotionID && r.s.orders[orderID].CustomerID == customerID {
			n++
		}
	}
	return n, nil
}

// deliveries, drivers and offers

type fakeDeliveries struct{ s *memStore }

func (r fakeDeliveries) Create(_ context.Context, d *models.Delivery) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, cur := range r.s.deliveries {
		if cur.OrderID == d.OrderID {
			return apperr.Conflict("The order already has a delivery.")
		}
	}
	d.ID = uuid.New()
	r.s.deliveries[d.ID] = *d
	return nil
}

func (r fakeDeliveries) GetByID(_ context.Context, id uuid.UUID) (*models.Delivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.deliveries[id]
	if !ok {
		return nil, apperr.NotFound("Delivery")
	}
	return &d, nil
}

func (r fakeDeliveries) LockByID(ctx context.Context, id uuid.UUID) (*models.Delivery, error) {
	return r.GetByID(ctx, id)
}

func (r fakeDeliveries) LockByOrderID(_ context.Context, orderID uuid.UUID) (*models.Delivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range r.s.deliveries {
		if d.OrderID == orderID {
			return &d, nil
		}
	}
	return nil, apperr.NotFound("Delivery")
}

func (r fakeDeliveries) Save(_ context.Context, d *models.Delivery) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.deliveries[d.ID]; !ok {
		return apperr.NotFound("Delivery")
	}
	r.s.deliveries[d.ID] = *d
	return nil
}

func (r fakeDeliveries) RecordLocation(_ context.Context, id, driverID uuid.UUID, p models.Point, at time.Time, minInterval time.Duration) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.deliveries[id]
	if !ok || !d.AssignedTo(driverID) || (d.Status != models.DeliveryAssigned && d.Status != models.DeliveryPickedUp) {
		return false, nil
	}
	if d.LastLocationUpdate != nil && at.Sub(*d.LastLocationUpdate) < minInterval {
		return false, nil
	}
	d.Current = &p
	d.LastLocationUpdate = &at
	r.s.deliveries[id] = d
	r.s.locations++
	return true, nil
}

func (r fakeDeliveries) SaveRoute(_ context.Context, id uuid.UUID, route models.Route) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d := r.s.deliveries[id]
	d.Route = &route
	r.s.deliveries[id] = d
	return nil
}

func (r fakeDeliveries) DueForDispatch(_ context.Context, now time.Time, _ int) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []uuid.UUID
	for id, d := range r.s.deliveries {
		if d.Status == models.DeliveryPendingAssignment && d.NextDispatchAt != nil && !d.NextDispatchAt.After(now) {
			out = append(out, id)
		}
	}
	return out, nil
}

type fakeDrivers struct{ s *memStore }

func (r fakeDrivers) SetStatus(_ context.Context, driverID uuid.UUID, available bool, pos *models.Point, at time.Time) (*models.DriverState, error) {
	return &models.DriverState{DriverID: driverID, IsAvailable: available, Position: pos, LastSeenAt: &at}, nil
}

func (r fakeDrivers) SetPosition(context.Context, uuid.UUID, models.Point, time.Time) error { return nil }

// Candidates skips drivers holding a pending offer or already offered this
// delivery in the round, like the SQL does.
func (r fakeDrivers) Candidates(_ context.Context, deliveryID uuid.UUID, _ models.Point, round, limit int) ([]models.DriverCandidate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.DriverCandidate
	for _, c := range r.s.candidates {
		busy := false
		for _, o := range r.s.offers {
			if o.DriverID != c.DriverID {
				continue
			}
			if o.Status == models.OfferPending || (o.DeliveryID == deliveryID && o.Round == round) {
				busy = true
			}
		}
		if !busy && len(out) < limit {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r fakeDrivers) LockAvailability(_ context.Context, driverID, exceptDelivery uuid.UUID) (*models.DriverAvailability, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	active, ok := r.s.drivers[driverID]
	if !ok {
		return nil, apperr.NotFound("Driver")
	}
	a := &models.DriverAvailability{DriverID: driverID, IsActive: active, IsAvailable: true}
	for id, d := range r.s.deliveries {
		if id != exceptDelivery && d.AssignedTo(driverID) && (d.Status == models.DeliveryAssigned || d.Status == models.DeliveryPickedUp) {
			a.Busy = true
		}
	}
	for _, o := range r.s.offers {
		if o.DriverID == driverID && o.DeliveryID != exceptDelivery && o.Status == models.OfferPending {
			a.Busy = true
		}
	}
	return a, nil
}

type fakeOffers struct{ s *memStore }

func (r fakeOffers) Create(_ context.Context, o *models.DeliveryOffer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, cur := range r.s.offers {
		if cur.DriverID == o.DriverID && cur.Status == models.OfferPending {
			return apperr.Conflict("The driver already has an outstanding offer.").WithCode("offer_pending")
		}
	}
	o.ID = uuid.New()
	o.CreatedAt = time.Now()
	r.s.offers[o.ID] = *o
	return nil
}

func (r fakeOffers) GetByID(_ context.Context, id uuid.UUID) (*models.DeliveryOffer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.offers[id]
	if !ok {
		return nil, apperr.NotFound("Offer")
	}
	return &o, nil
}

func (r fakeOffers) LockByID(ctx context.Context, id uuid.UUID) (*models.DeliveryOffer, error) {
	return r.GetByID(ctx, id)
}

func (r fakeOffers) SetStatus(_ context.Context, id uuid.UUID, status models.OfferStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o := r.s.offers[id]
	o.Status = status
	r.s.offers[id] = o
	return nil
}

func (r fakeOffers) PendingForDriver(_ context.Context, driverID uuid.UUID, now time.Time) ([]models.DeliveryOffer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.DeliveryOffer
	for _, o := range r.s.offers {
		if o.DriverID == driverID && o.Status == models.OfferPending && now.Before(o.ExpiresAt) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r fakeOffers) PendingForDelivery(_ context.Context, deliveryID uuid.UUID) (*models.DeliveryOffer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.offers {
		if o.DeliveryID == deliveryID && o.Status == models.OfferPending {
			return &o, nil
		}
	}
	return nil, nil
}

func (r fakeOffers) Expired(_ context.Context, now time.Time, _ int) ([]models.DeliveryOffer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.DeliveryOffer
	for _, o := range r.s.offers {
		if o.Status == models.OfferPending && !now.Before(o.ExpiresAt) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r fakeOffers) WithdrawPending(_ context.Context, deliveryID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, o := range r.s.offers {
		if o.DeliveryID == deliveryID && o.Status == models.OfferPending {
			o.Status = models.OfferWithdrawn
			r.s.offers[id] = o
		}
	}
	return nil
}

// outbox, notifications and payouts

type fakeOutbox struct{ s *memStore }

func (r fakeOutbox) Append(_ context.Context, events ...models.DomainEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range events {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		r.s.events = append(r.s.events, e)
	}
	return nil
}

func (r fakeOutbox) Claim(context.Context, time.Time, time.Duration, int) ([]models.DomainEvent, error) {
	return nil, nil
}
func (r fakeOutbox) MarkDispatched(context.Context, uuid.UUID, time.Time) error       { return nil }
func (r fakeOutbox) MarkFailed(context.Context, uuid.UUID, string, time.Time) error   { return nil }
func (r fakeOutbox) MarkDead(context.Context, uuid.UUID, string, time.Time) error     { return nil }

type fakeNotifications struct{ s *memStore }

func (r fakeNotifications) Create(_ context.Context, n *models.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n.ID = uuid.New()
	r.s.notifications = append(r.s.notifications, *n)
	return nil
}

func (r fakeNotifications) List(_ context.Context, viewer models.ActorRef, unreadOnly bool, _ int) ([]models.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Notification
	for _, n := range r.s.notifications {
		if n.Recipient.Equal(viewer) && (!unreadOnly || !n.IsRead) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r fakeNotifications) MarkRead(_ context.Context, viewer models.ActorRef, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, n := range r.s.notifications {
		if n.ID == id && n.Recipient.Equal(viewer) {
			r.s.notifications[i].IsRead = true
			return nil
		}
	}
	return apperr.NotFound("Notification")
}

type fakePayouts struct{ s *memStore }

func (r fakePayouts) Credit(_ context.Context, p *models.Payout) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.payouts[p.OrderID]; ok {
		return false, nil
	}
	r.s.payouts[p.OrderID] = *p
	return true, nil
}

func (r fakePayouts) Reverse(_ context.Context, orderID uuid.UUID, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payouts[orderID]
	if !ok || p.ReversedAt != nil {
		return false, nil
	}
	p.ReversedAt = &at
	r.s.payouts[orderID] = p
	return true, nil
}

type allowLimiter struct{ denied bool }

func (l allowLimiter) Allow(context.Context, string, time.Duration) bool { return !l.denied }

type stubDispatcher struct {
	mu     sync.Mutex
	orders []uuid.UUID
}

func (d *stubDispatcher) DispatchOrder(_ context.Context, orderID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orders = append(d.orders, orderID)
	return nil
}
