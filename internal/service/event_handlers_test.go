package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidoxdavid/eazyfoods-sub001/models"
)

func TestDeliveredOrderSettlesOnce(t *testing.T) {
	env := newTestEnv(t)
	env.addPromotion(models.Promotion{
		Code:         code("TAKE3"),
		OwnerKind:    models.OwnerPlatform,
		DiscountKind: models.DiscountFixed,
		Value:        dec("3"),
	})
	req := env.deliveryRequest()
	req.PromoCode = "TAKE3"
	o := env.placeOrder(req)
	ctx := context.Background()

	stored := env.store.order(o.ID)
	stored.Status = models.OrderDelivered
	e := models.NewOrderEvent(models.EventTypeOrderDelivered, &stored, models.OrderInTransit, "")

	require.NoError(t, env.events.Handle(ctx, e))
	assert.Equal(t, "captured", env.gateway.State(o.PaymentIntentRef))

	payout, ok := env.store.payouts[o.ID]
	require.True(t, ok)
	assert.True(t, dec("17.00").Equal(payout.Amount), "subtotal less item discount, got %s", payout.Amount)
	assert.Equal(t, env.fulfiller(), payout.Fulfiller)

	require.NoError(t, env.events.Handle(ctx, e), "replays are harmless")
	assert.Len(t, env.store.payouts, 1)
}

func TestReadyEventDispatchesDeliveryOrders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	o, _ := env.readyOrder()
	require.NoError(t, env.events.Handle(ctx, lastEvent(t, env.store)))
	assert.Contains(t, env.dispatcher.orders, o.ID)

	pickup := newTestEnv(t)
	p := pickup.placeOrder(CheckoutRequest{FulfillmentType: models.FulfillmentPickup, PaymentMethod: "tok_visa"})
	for _, ev := range []models.OrderEvent{models.EventAccept, models.EventMarkReady} {
		_, err := pickup.orders.FulfillerAction(ctx, pickup.vendor, p.ID, ev, "")
		require.NoError(t, err)
	}
	require.NoError(t, pickup.events.Handle(ctx, lastEvent(t, pickup.store)))
	assert.Empty(t, pickup.dispatcher.orders)
	require.Len(t, pickup.store.notifications, 1)
	assert.Equal(t, "Ready for pickup", pickup.store.notifications[0].Title)
	assert.Equal(t, models.KindCustomer, pickup.store.notifications[0].Recipient.Kind)
}

func TestRefundAfterDeliveryRefundsCapture(t *testing.T) {
	env := newTestEnv(t)
	o := env.placeOrder(env.deliveryRequest())
	ctx := context.Background()
	require.NoError(t, env.gateway.Capture(ctx, o.PaymentIntentRef, o.Total))

	stored := env.store.order(o.ID)
	stored.Status = models.OrderRefunded
	e := models.NewOrderEvent(models.EventTypeOrderRefunded, &stored, models.OrderDelivered, "spoiled")

	require.NoError(t, env.events.Handle(ctx, e))
	assert.Equal(t, "refunded", env.gateway.State(o.PaymentIntentRef))
}

func TestUndecodableEventIsDropped(t *testing.T) {
	env := newTestEnv(t)
	err := env.events.Handle(context.Background(), models.DomainEvent{Type: models.EventTypeOrderPlaced, Payload: []byte("{not json")})
	assert.NoError(t, err)
	assert.Empty(t, env.store.notifications)
}

func TestCancellingDeliveredOrderRefundsAndReversesPayout(t *testing.T) {
	env := newTestEnv(t)
	driver := env.driver()
	o, d := env.readyOrder()
	ctx := context.Background()
	require.NoError(t, env.delivery.DispatchOrder(ctx, o.ID))
	_, err := env.delivery.AcceptOffer(ctx, driver, env.store.pendingOffers()[0].ID)
	require.NoError(t, err)
	_, err = env.delivery.Pickup(ctx, driver, d.ID)
	require.NoError(t, err)
	_, err = env.delivery.Deliver(ctx, driver, d.ID)
	require.NoError(t, err)

	require.NoError(t, env.events.Handle(ctx, lastEvent(t, env.store)))
	require.Equal(t, "captured", env.gateway.State(o.PaymentIntentRef))
	require.Contains(t, env.store.payouts, o.ID)
	require.Nil(t, env.store.payouts[o.ID].ReversedAt)

	env.now = env.now.Add(time.Hour)
	_, err = env.orders.Override(ctx, env.admin, o.ID, OverrideOrderRequest{Status: models.OrderCancelled, Reason: "never arrived"})
	require.NoError(t, err)
	e := lastEvent(t, env.store)
	require.Equal(t, models.EventTypeOrderCancelled, e.Type)

	require.NoError(t, env.events.Handle(ctx, e))
	assert.Equal(t, "refunded", env.gateway.State(o.PaymentIntentRef))
	reversed := env.store.payouts[o.ID].ReversedAt
	require.NotNil(t, reversed)
	assert.True(t, env.now.Equal(*reversed))

	require.NoError(t, env.events.Handle(ctx, e), "replays are harmless")
	assert.True(t, reversed.Equal(*env.store.payouts[o.ID].ReversedAt), "a payout is reversed once")
}
