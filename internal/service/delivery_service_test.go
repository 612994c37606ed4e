package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/ratelimit"
)

func TestDispatchOffersNearestDriver(t *testing.T) {
	env := newTestEnv(t)
	near := env.driver()
	env.driver()
	o, d := env.readyOrder()

	require.NoError(t, env.delivery.DispatchOrder(context.Background(), o.ID))

	offers := env.store.pendingOffers()
	require.Len(t, offers, 1, "one outstanding offer per delivery")
	assert.Equal(t, near.ID, offers[0].DriverID)
	assert.Equal(t, d.ID, offers[0].DeliveryID)
	assert.Equal(t, 1, offers[0].Round)
	assert.Equal(t, env.now.Add(45*time.Second), offers[0].ExpiresAt)

	// a second dispatch while the offer is live does nothing
	require.NoError(t, env.delivery.DispatchOrder(context.Background(), o.ID))
	assert.Len(t, env.store.pendingOffers(), 1)

	listed, err := env.delivery.Offers(context.Background(), near)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestDispatchIgnoresOrdersNotReady(t *testing.T) {
	env := newTestEnv(t)
	env.driver()
	o := env.placeOrder(env.deliveryRequest())

	require.NoError(t, env.delivery.DispatchOrder(context.Background(), o.ID))
	assert.Empty(t, env.store.pendingOffers())
}

func TestConcurrentAcceptHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	driver := env.driver()
	o, d := env.readyOrder()
	require.NoError(t, env.delivery.DispatchOrder(context.Background(), o.ID))
	offer := env.store.pendingOffers()[0]

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.delivery.AcceptOffer(context.Background(), driver, offer.ID)
		}()
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		lost++
		assert.Equal(t, "offer_closed", apperr.CodeOf(err))
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)

	got := env.store.delivery(d.ID)
	assert.Equal(t, models.DeliveryAssigned, got.Status)
	assert.True(t, got.AssignedTo(driver.ID))
	assert.Nil(t, got.NextDispatchAt)
	assert.Equal(t, models.EventTypeDeliveryAssigned, lastEvent(t, env.store).Type)
}

func TestAcceptRules(t *testing.T) {
	env := newTestEnv(t)
	driver := env.driver()
	o, _ := env.readyOrder()
	ctx := context.Background()
	require.NoError(t, env.delivery.DispatchOrder(ctx, o.ID))
	offer := env.store.pendingOffers()[0]

	someoneElse := models.Principal{Kind: models.KindDriver, ID: uuid.New()}
	_, err := env.delivery.AcceptOffer(ctx, someoneElse, offer.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = env.delivery.AcceptOffer(ctx, env.customer, offer.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	env.now = offer.ExpiresAt
	_, err = env.delivery.AcceptOffer(ctx, driver, offer.ID)
	assert.Equal(t, "offer_expired", apperr.CodeOf(err))
}

func TestDeclineMovesToNextDriver(t *testing.T) {
	env := newTestEnv(t)
	first := env.driver()
	second := env.driver()
	o, _ := env.readyOrder()
	ctx := context.Background()
	require.NoError(t, env.delivery.DispatchOrder(ctx, o.ID))
	offer := env.store.pendingOffers()[0]
	require.Equal(t, first.ID, offer.DriverID)

	require.NoError(t, env.delivery.DeclineOffer(ctx, first, offer.ID))

	assert.Equal(t, models.OfferDeclined, env.store.offers[offer.ID].Status)
	pending := env.store.pendingOffers()
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].DriverID)

	err := env.delivery.DeclineOffer(ctx, first, offer.ID)
	assert.Equal(t, "offer_closed", apperr.CodeOf(err))
}

func TestExpiredOfferGoesToNextDriver(t *testing.T) {
	env := newTestEnv(t)
	first := env.driver()
	second := env.driver()
	o, _ := env.readyOrder()
	ctx := context.Background()
	require.NoError(t, env.delivery.DispatchOrder(ctx, o.ID))
	offer := env.store.pendingOffers()[0]

	n, err := env.delivery.ExpireOffers(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.now = env.now.Add(time.Minute)
	n, err = env.delivery.ExpireOffers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, models.OfferExpired, env.store.offers[offer.ID].Status)
	pending := env.store.pendingOffers()
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].DriverID, "the expired driver is skipped for the rest of the round")
	assert.NotEqual(t, first.ID, pending[0].DriverID)
}

func TestDispatchRoundsThenFails(t *testing.T) {
	env := newTestEnv(t)
	o, d := env.readyOrder()
	ctx := context.Background()

	require.NoError(t, env.delivery.DispatchOrder(ctx, o.ID))
	got := env.store.delivery(d.ID)
	assert.Equal(t, models.DeliveryPendingAssignment, got.Status)
	assert.Equal(t, 2, got.DispatchRound)
	require.NotNil(t, got.NextDispatchAt)
	assert.Equal(t, env.now.Add(45*time.Second), *got.NextDispatchAt)

	ran, err := env.delivery.RetryDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, ran, "the next round is not due yet")

	env.now = env.now.Add(time.Minute)
	ran, err = env.delivery.RetryDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ran)

	got = env.store.delivery(d.ID)
	assert.Equal(t, models.DeliveryFailed, got.Status)
	assert.Nil(t, got.NextDispatchAt)
	e := lastEvent(t, env.store)
	assert.Equal(t, models.EventTypeDeliveryFailed, e.Type)

	require.NoError(t, env.events.Handle(ctx, e))
	var inbox int
	for _, n := range env.store.notifications {
		if n.Recipient.IsAdminInbox() {
			inbox++
		}
	}
	assert.Equal(t, 1, inbox)
}

func TestPickupAndDeliver(t *testing.T) {
	env := newTestEnv(t)
	driver := env.driver()
	o, d := env.readyOrder()
	ctx := context.Background()
	require.NoError(t, env.delivery.DispatchOrder(ctx, o.ID))
	_, err := env.delivery.AcceptOffer(ctx, driver, env.store.pendingOffers()[0].ID)
	require.NoError(t, err)

	_, err = env.delivery.Deliver(ctx, driver, d.ID)
	assert.Equal(t, "invalid_transition", apperr.CodeOf(err), "cannot deliver before pickup")

	intruder := models.Principal{Kind: models.KindDriver, ID: uuid.New()}
	_, err = env.delivery.Pickup(ctx, intruder, d.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	got, err := env.delivery.Pickup(ctx, driver, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryPickedUp, got.Status)
	assert.NotNil(t, got.PickedUpAt)
	assert.Equal(t, models.OrderInTransit, env.store.order(o.ID).Status)

	got, err = env.delivery.Deliver(ctx, driver, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryDelivered, got.Status)
	assert.Equal(t, models.OrderDelivered, env.store.order(o.ID).Status)
	assert.Equal(t, models.EventTypeOrderDelivered, lastEvent(t, env.store).Type)
}

func TestRecordLocationAndTrack(t *testing.T) {
	env := newTestEnv(t)
	driver := env.driver()
	o, d := env.readyOrder()
	ctx := context.Background()
	require.NoError(t, env.delivery.DispatchOrder(ctx, o.ID))
	_, err := env.delivery.AcceptOffer(ctx, driver, env.store.pendingOffers()[0].ID)
	require.NoError(t, err)

	lat, lng := 43.6500, -79.3900
	loc := LocationRequest{Lat: &lat, Lng: &lng}
	require.NoError(t, env.delivery.RecordLocation(ctx, driver, d.ID, loc))

	view, err := env.delivery.Track(ctx, env.customer, d.ID)
	require.NoError(t, err)
	require.NotNil(t, view.CurrentLat)
	assert.Equal(t, lat, *view.CurrentLat)
	require.NotNil(t, view.EtaMinutes)
	assert.Positive(t, *view.EtaMinutes)
	require.NotNil(t, view.DistanceKm)

	// too soon after the last update
	env.now = env.now.Add(2 * time.Second)
	err = env.delivery.RecordLocation(ctx, driver, d.ID, loc)
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))

	env.now = env.now.Add(10 * time.Second)
	env.limiter.denied = true
	err = env.delivery.RecordLocation(ctx, driver, d.ID, loc)
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))
	env.limiter.denied = false

	intruder := models.Principal{Kind: models.KindDriver, ID: uuid.New()}
	err = env.delivery.RecordLocation(ctx, intruder, d.ID, loc)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	stranger := models.Principal{Kind: models.KindCustomer, ID: uuid.New()}
	_, err = env.delivery.Track(ctx, stranger, d.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	bad := 120.0
	err = env.delivery.RecordLocation(ctx, driver, d.ID, LocationRequest{Lat: &bad, Lng: &lng})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestReassign(t *testing.T) {
	env := newTestEnv(t)
	first := env.driver()
	second := env.driver()
	o, d := env.readyOrder()
	ctx := context.Background()
	require.NoError(t, env.delivery.DispatchOrder(ctx, o.ID))
	_, err := env.delivery.AcceptOffer(ctx, first, env.store.pendingOffers()[0].ID)
	require.NoError(t, err)

	dispatcher := models.Principal{Kind: models.KindAdmin, ID: uuid.New(), Role: models.RoleAdmin, Permissions: []string{models.CapManageDispatch}}
	target := env.driver().ID
	got, err := env.delivery.Reassign(ctx, dispatcher, d.ID, ReassignRequest{DriverID: &target, Reason: "first driver stuck"})
	require.NoError(t, err)
	assert.True(t, got.AssignedTo(target))

	got, err = env.delivery.Reassign(ctx, dispatcher, d.ID, ReassignRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryPendingAssignment, got.Status)
	assert.Nil(t, got.DriverID)
	pending := env.store.pendingOffers()
	require.Len(t, pending, 1, "reopened deliveries are offered right away")
	assert.Equal(t, second.ID, pending[0].DriverID)

	_, err = env.delivery.Reassign(ctx, env.vendor, d.ID, ReassignRequest{})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestDecayETA(t *testing.T) {
	tests := []struct {
		eta     int
		elapsed time.Duration
		want    int
	}{
		{eta: 10, elapsed: 0, want: 10},
		{eta: 10, elapsed: 90 * time.Second, want: 9},
		{eta: 10, elapsed: 9*time.Minute + 59*time.Second, want: 1},
		{eta: 10, elapsed: time.Hour, want: 0},
		{eta: 5, elapsed: -time.Minute, want: 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, decayETA(tt.eta, tt.elapsed), "eta=%d elapsed=%s", tt.eta, tt.elapsed)
	}
}

func TestReassignChecksNamedDriver(t *testing.T) {
	env := newTestEnv(t)
	first := env.driver()
	o, d := env.readyOrder()
	ctx := context.Background()
	require.NoError(t, env.delivery.DispatchOrder(ctx, o.ID))
	_, err := env.delivery.AcceptOffer(ctx, first, env.store.pendingOffers()[0].ID)
	require.NoError(t, err)

	retired := env.driver().ID
	env.store.drivers[retired] = false
	busy := env.driver().ID
	other := uuid.New()
	env.store.deliveries[other] = models.Delivery{ID: other, OrderID: uuid.New(), DriverID: &busy, Status: models.DeliveryPickedUp}
	ghost := uuid.New()

	tests := []struct {
		name     string
		driverID uuid.UUID
		kind     apperr.Kind
		code     string
	}{
		{"unknown driver", ghost, apperr.KindNotFound, "not_found"},
		{"deactivated driver", retired, apperr.KindConflict, "driver_inactive"},
		{"driver on another delivery", busy, apperr.KindConflict, "driver_busy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := tt.driverID
			_, err := env.delivery.Reassign(ctx, env.admin, d.ID, ReassignRequest{DriverID: &id})
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			assert.Equal(t, tt.code, apperr.CodeOf(err))
			stored := env.store.delivery(d.ID)
			assert.True(t, stored.AssignedTo(first.ID), "a rejected reassignment keeps the current driver")
		})
	}

	got, err := env.delivery.Reassign(ctx, env.admin, d.ID, ReassignRequest{DriverID: &first.ID, Reason: "confirm"})
	require.NoError(t, err, "the current driver is not busy with its own delivery")
	assert.True(t, got.AssignedTo(first.ID))
}

func TestLocationWindowIsPerAssignedDriver(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	env := newTestEnv(t)
	delivery := env.deliveryService(ratelimit.NewRedisLimiterFromClient(client, logger.Nop()))
	first := env.driver()
	second := env.driver()
	o, d := env.readyOrder()
	ctx := context.Background()
	require.NoError(t, delivery.DispatchOrder(ctx, o.ID))
	_, err = delivery.AcceptOffer(ctx, first, env.store.pendingOffers()[0].ID)
	require.NoError(t, err)

	lat, lng := 43.6500, -79.3900
	loc := LocationRequest{Lat: &lat, Lng: &lng}

	err = delivery.RecordLocation(ctx, second, d.ID, loc)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Empty(t, mr.Keys(), "a rejected driver does not open a window")

	require.NoError(t, delivery.RecordLocation(ctx, first, d.ID, loc))
	assert.True(t, mr.Exists("eazyfoods:ratelimit:location:"+d.ID.String()+":"+first.ID.String()))

	env.now = env.now.Add(time.Second)
	err = delivery.RecordLocation(ctx, first, d.ID, loc)
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))

	_, err = delivery.Reassign(ctx, env.admin, d.ID, ReassignRequest{DriverID: &second.ID, Reason: "flat tyre"})
	require.NoError(t, err)
	require.NoError(t, delivery.RecordLocation(ctx, second, d.ID, loc), "the new driver starts with its own window")

	err = delivery.RecordLocation(ctx, first, d.ID, loc)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	mr.FastForward(6 * time.Second)
	env.now = env.now.Add(6 * time.Second)
	assert.NoError(t, delivery.RecordLocation(ctx, second, d.ID, loc))
	assert.Equal(t, 3, env.store.locations)
}

func TestTrackKeepsLastRouteWhenDirectionsFail(t *testing.T) {
	env := newTestEnv(t)
	driver := env.driver()
	o, d := env.readyOrder()
	ctx := context.Background()
	require.NoError(t, env.delivery.DispatchOrder(ctx, o.ID))
	_, err := env.delivery.AcceptOffer(ctx, driver, env.store.pendingOffers()[0].ID)
	require.NoError(t, err)

	lat, lng := 43.6000, -79.4500
	require.NoError(t, env.delivery.RecordLocation(ctx, driver, d.ID, LocationRequest{Lat: &lat, Lng: &lng}))
	stored := env.store.delivery(d.ID).Route
	require.NotNil(t, stored)
	require.Equal(t, "route-1", stored.Polyline)
	require.Greater(t, stored.EtaMinutes, 3)

	env.directions.failing(true)
	env.now = env.now.Add(3 * time.Minute)

	view, err := env.delivery.Track(ctx, env.customer, d.ID)
	require.NoError(t, err, "a directions outage does not fail tracking")
	assert.Equal(t, 2, env.directions.calls, "the stale route was refreshed once")
	require.NotNil(t, view.Polyline)
	assert.Equal(t, "route-1", *view.Polyline)
	require.NotNil(t, view.EtaMinutes)
	assert.Equal(t, stored.EtaMinutes-3, *view.EtaMinutes)

	env.now = env.now.Add(2 * time.Hour)
	view, err = env.delivery.Track(ctx, env.customer, d.ID)
	require.NoError(t, err)
	assert.Zero(t, *view.EtaMinutes, "the decayed ETA stops at zero")

	env.directions.failing(false)
	view, err = env.delivery.Track(ctx, env.customer, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "route-4", *view.Polyline)
}

func TestDeliverOnPlacedOrderIsRejected(t *testing.T) {
	env := newTestEnv(t)
	driver := env.driver()
	o := env.placeOrder(env.deliveryRequest())
	before := env.store.order(o.ID)
	events := len(env.store.eventTypes())
	ctx := context.Background()

	_, err := env.delivery.Deliver(ctx, driver, *o.DeliveryID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, "invalid_transition", apperr.CodeOf(err))

	assert.Equal(t, before, env.store.order(o.ID))
	assert.Equal(t, models.DeliveryPendingAssignment, env.store.delivery(*o.DeliveryID).Status)
	assert.Len(t, env.store.eventTypes(), events)
}
