package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/geo"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/payment"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/pricing"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/ratelimit"
)

// recordingGateway remembers every authorization it handed out.
type recordingGateway struct {
	*payment.SandboxGateway
	mu   sync.Mutex
	refs []string
}

func (g *recordingGateway) Authorize(ctx context.Context, req payment.AuthorizeRequest) (string, error) {
	ref, err := g.SandboxGateway.Authorize(ctx, req)
	if err == nil {
		g.mu.Lock()
		g.refs = append(g.refs, ref)
		g.mu.Unlock()
	}
	return ref, err
}

func (g *recordingGateway) authorized() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.refs...)
}

// scriptedDirections routes in straight lines at 30 km/h and can be told
// to fail like an unavailable provider.
type scriptedDirections struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (d *scriptedDirections) Route(ctx context.Context, origin, destination models.Point) (*geo.RouteResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.fail {
		return nil, apperr.Upstream(errors.New("directions returned 503"), "Directions")
	}
	res, err := geo.StraightLine{SpeedKmh: 30}.Route(ctx, origin, destination)
	if err != nil {
		return nil, err
	}
	res.Polyline = fmt.Sprintf("route-%d", d.calls)
	return res, nil
}

func (d *scriptedDirections) failing(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

type memberSet map[uuid.UUID]bool

func (m memberSet) IsMember(_ context.Context, _, customerID uuid.UUID) (bool, error) {
	return m[customerID], nil
}

type testEnv struct {
	t          *testing.T
	store      *memStore
	gateway    *recordingGateway
	members    memberSet
	limiter    *allowLimiter
	dispatcher *stubDispatcher
	directions *scriptedDirections
	tax        *pricing.TaxTable
	now        time.Time

	promos   *PromotionService
	checkout *CheckoutService
	orders   *OrderService
	delivery *DeliveryService
	events   *EventHandlers

	customer models.Principal
	vendor   models.Principal
	admin    models.Principal
	product  uuid.UUID
	pickup   models.Point
	dropoff  models.Point
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		t:          t,
		store:      newMemStore(),
		gateway:    &recordingGateway{SandboxGateway: payment.NewSandboxGateway()},
		members:    memberSet{},
		limiter:    &allowLimiter{},
		dispatcher: &stubDispatcher{},
		directions: &scriptedDirections{},
		tax:        pricing.FlatTax(decimal.NewFromInt(10)),
		now:        time.Now(),
		customer:   models.Principal{Kind: models.KindCustomer, ID: uuid.New()},
		vendor:     models.Principal{Kind: models.KindVendor, ID: uuid.New(), Role: models.RoleOwner},
		admin:      models.Principal{Kind: models.KindAdmin, ID: uuid.New(), Role: models.RoleSuperAdmin},
		product:    uuid.New(),
		pickup:     models.Point{Lat: 43.6532, Lng: -79.3832},
		dropoff:    models.Point{Lat: 43.6629, Lng: -79.3957},
	}
	clock := func() time.Time { return env.now }
	s := env.store
	log := logger.Nop()

	env.promos = NewPromotionService(fakePromotions{s}, fakeOrders{s}, fakeCarts{s}, fakeCatalog{s}, env.members, log).WithClock(clock)
	env.checkout = NewCheckoutService(CheckoutDeps{
		Tx:         s,
		Carts:      fakeCarts{s},
		Catalog:    fakeCatalog{s},
		Orders:     fakeOrders{s},
		Stock:      fakeStock{s},
		Promotions: fakePromotions{s},
		Deliveries: fakeDeliveries{s},
		Outbox:     fakeOutbox{s},
		Promos:     env.promos,
		Gateway:    env.gateway,
		Tax:        env.tax,
		Currency:   "CAD",
	}, log)
	env.orders = NewOrderService(s, fakeOrders{s}, fakeStock{s}, fakePromotions{s}, fakeDeliveries{s}, fakeOffers{s}, fakeOutbox{s}, 10*time.Minute, log).WithClock(clock)
	env.delivery = env.deliveryService(env.limiter)
	env.events = NewEventHandlers(fakeOrders{s}, fakeNotifications{s}, fakePayouts{s}, env.gateway, env.dispatcher, log).WithClock(clock)

	fulfiller := models.Fulfiller{Kind: models.KindVendor, ID: env.vendor.ID}
	s.profiles[fulfiller] = models.FulfillerProfile{
		Fulfiller:        fulfiller,
		Name:             "Kensington Grocer",
		Region:           "ON",
		Location:         &env.pickup,
		DeliveryBaseFee:  decimal.NewFromInt(2),
		DeliveryPerKmFee: decimal.Zero,
		IsActive:         true,
	}
	stock := 5
	ref := models.ProductRef(env.product)
	s.catalog[ref] = models.CatalogItem{
		Ref:       ref,
		Name:      "Plantain chips",
		Fulfiller: fulfiller,
		UnitPrice: decimal.NewFromInt(10),
		Status:    models.ItemActive,
		Stock:     &stock,
	}
	s.stock[env.product] = stock
	return env
}

// deliveryService wires a DeliveryService over the env's store with the
// given location limiter.
func (env *testEnv) deliveryService(limiter ratelimit.Limiter) *DeliveryService {
	s := env.store
	return NewDeliveryService(s, fakeOrders{s}, env.orders, fakeDeliveries{s}, fakeDrivers{s}, fakeOffers{s}, fakeOutbox{s},
		limiter, env.directions, DeliveryConfig{
			OfferTimeout:         45 * time.Second,
			MaxRounds:            2,
			MinLocationInterval:  5 * time.Second,
			RouteRefreshInterval: time.Minute,
			RouteRefreshDistance: 200,
		}, logger.Nop()).WithClock(func() time.Time { return env.now })
}

func (env *testEnv) fulfiller() models.Fulfiller {
	return models.Fulfiller{Kind: models.KindVendor, ID: env.vendor.ID}
}

// fillCart puts qty units of the seeded product in the customer's cart.
func (env *testEnv) fillCart(qty int) {
	env.fillCartFor(env.customer.ID, qty)
}

func (env *testEnv) fillCartFor(customerID uuid.UUID, qty int) {
	env.store.mu.Lock()
	defer env.store.mu.Unlock()
	env.store.cart = append(env.store.cart, models.CartItem{
		ID:                uuid.New(),
		CustomerID:        customerID,
		Ref:               models.ProductRef(env.product),
		Name:              "Plantain chips",
		Fulfiller:         env.fulfiller(),
		Quantity:          qty,
		UnitPriceSnapshot: decimal.NewFromInt(10),
		AddedAt:           env.now,
	})
}

func (env *testEnv) deliveryRequest() CheckoutRequest {
	return CheckoutRequest{
		FulfillmentType: models.FulfillmentDelivery,
		DropoffAddress:  "88 Harbord St",
		Dropoff:         &env.dropoff,
		PaymentMethod:   "tok_visa",
	}
}

func (env *testEnv) placeOrder(req CheckoutRequest) *models.Order {
	env.t.Helper()
	env.fillCart(2)
	o, err := env.checkout.Checkout(context.Background(), env.customer, req)
	require.NoError(env.t, err)
	return o
}

// readyOrder places a delivery order and walks it to ready.
func (env *testEnv) readyOrder() (*models.Order, models.Delivery) {
	env.t.Helper()
	o := env.placeOrder(env.deliveryRequest())
	ctx := context.Background()
	_, err := env.orders.FulfillerAction(ctx, env.vendor, o.ID, models.EventAccept, "")
	require.NoError(env.t, err)
	_, err = env.orders.FulfillerAction(ctx, env.vendor, o.ID, models.EventMarkReady, "")
	require.NoError(env.t, err)
	ready, err := fakeOrders{env.store}.GetByID(ctx, o.ID)
	require.NoError(env.t, err)
	return ready, env.store.delivery(*o.DeliveryID)
}

// setStock sets the seeded product's stock in both the catalog and the
// reservation ledger.
func (env *testEnv) setStock(n int) {
	env.store.mu.Lock()
	defer env.store.mu.Unlock()
	ref := models.ProductRef(env.product)
	item := env.store.catalog[ref]
	item.Stock = &n
	env.store.catalog[ref] = item
	env.store.stock[env.product] = n
}

func (env *testEnv) addPromotion(p models.Promotion) models.Promotion {
	p.ID = uuid.New()
	p.IsActive = true
	if p.StartsAt.IsZero() {
		p.StartsAt = env.now.Add(-time.Hour)
	}
	if p.EndsAt.IsZero() {
		p.EndsAt = env.now.Add(24 * time.Hour)
	}
	env.store.promos[p.ID] = p
	return p
}

func (env *testEnv) driver() models.Principal {
	id := uuid.New()
	env.store.mu.Lock()
	env.store.candidates = append(env.store.candidates, models.DriverCandidate{DriverID: id, DistanceKm: float64(len(env.store.candidates)) + 0.5})
	env.store.drivers[id] = true
	env.store.mu.Unlock()
	return models.Principal{Kind: models.KindDriver, ID: id}
}

func code(s string) *string { return &s }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
