package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/payment"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
)

func TestCheckoutPlacesDeliveryOrder(t *testing.T) {
	env := newTestEnv(t)
	env.fillCart(2)

	o, err := env.checkout.Checkout(context.Background(), env.customer, env.deliveryRequest())
	require.NoError(t, err)

	assert.Equal(t, models.OrderPlaced, o.Status)
	assert.True(t, dec("20.00").Equal(o.Subtotal))
	assert.True(t, dec("2.00").Equal(o.DeliveryFee))
	assert.True(t, dec("2.00").Equal(o.Tax))
	assert.True(t, o.Discount.IsZero())
	assert.True(t, dec("24.00").Equal(o.Total))
	assert.Equal(t, "ON", o.Region)
	require.Len(t, o.Items, 1)
	assert.Equal(t, 2, o.Items[0].Quantity)
	assert.NotEmpty(t, o.PricingInputs)

	assert.Equal(t, 3, env.store.stock[env.product])
	assert.Empty(t, env.store.cart)
	assert.Equal(t, []models.DomainEventType{models.EventTypeOrderPlaced}, env.store.eventTypes())
	assert.Equal(t, "authorized", env.gateway.State(o.PaymentIntentRef))

	require.NotNil(t, o.DeliveryID)
	d := env.store.delivery(*o.DeliveryID)
	assert.Equal(t, models.DeliveryPendingAssignment, d.Status)
	assert.Equal(t, env.pickup, d.Pickup)
	assert.Equal(t, env.dropoff, d.Dropoff)

	require.Len(t, env.store.history, 1)
	assert.Equal(t, models.EventCheckout, env.store.history[0].Event)
}

func TestCheckoutPickupHasNoDeliveryFee(t *testing.T) {
	env := newTestEnv(t)
	env.fillCart(1)

	o, err := env.checkout.Checkout(context.Background(), env.customer, CheckoutRequest{
		FulfillmentType: models.FulfillmentPickup,
		PaymentMethod:   "tok_visa",
	})
	require.NoError(t, err)

	assert.True(t, o.DeliveryFee.IsZero())
	assert.True(t, dec("11.00").Equal(o.Total))
	assert.Nil(t, o.DeliveryID)
	assert.Empty(t, env.store.deliveries)
}

func TestCheckoutInsufficientStockRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.store.stock[env.product] = 1
	env.fillCart(2)

	_, err := env.checkout.Checkout(context.Background(), env.customer, env.deliveryRequest())
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))

	assert.Empty(t, env.store.orders)
	assert.Empty(t, env.store.deliveries)
	assert.Empty(t, env.store.events)
	assert.Len(t, env.store.cart, 1, "cart is untouched")
	assert.Equal(t, 1, env.store.stock[env.product])

	refs := env.gateway.authorized()
	require.Len(t, refs, 1)
	assert.Equal(t, "voided", env.gateway.State(refs[0]))
}

func TestCheckoutDeclinedPayment(t *testing.T) {
	env := newTestEnv(t)
	env.fillCart(2)
	req := env.deliveryRequest()
	req.PaymentMethod = payment.DeclineToken

	_, err := env.checkout.Checkout(context.Background(), env.customer, req)
	require.Error(t, err)
	assert.Equal(t, apperr.KindPaymentFailed, apperr.KindOf(err))
	assert.Empty(t, env.store.orders)
	assert.Equal(t, 5, env.store.stock[env.product])
	assert.Empty(t, env.gateway.authorized())
}

func TestCheckoutPicksBestPromotion(t *testing.T) {
	env := newTestEnv(t)
	env.addPromotion(models.Promotion{
		Name:         "Ten off everything",
		OwnerKind:    models.OwnerPlatform,
		DiscountKind: models.DiscountPercent,
		Value:        dec("10"),
	})
	vid := env.vendor.ID
	coupon := env.addPromotion(models.Promotion{
		Code:         code("SAVE5"),
		Name:         "Five dollars",
		OwnerKind:    models.OwnerVendor,
		OwnerID:      &vid,
		DiscountKind: models.DiscountFixed,
		Value:        dec("5"),
	})
	env.fillCart(2)
	req := env.deliveryRequest()
	req.PromoCode = "SAVE5"

	o, err := env.checkout.Checkout(context.Background(), env.customer, req)
	require.NoError(t, err)

	require.NotNil(t, o.PromotionID)
	assert.Equal(t, coupon.ID, *o.PromotionID)
	assert.True(t, dec("5.00").Equal(o.Discount))
	assert.True(t, dec("19.00").Equal(o.Total))
	assert.Equal(t, 1, env.store.promos[coupon.ID].UsageCount)
	assert.Equal(t, coupon.ID, env.store.redemptions[o.ID])
}

func TestCheckoutCouponRules(t *testing.T) {
	tests := []struct {
		name     string
		promo    models.Promotion
		prior    bool
		wantKind apperr.Kind
		wantCode string
	}{
		{
			name:     "below minimum subtotal",
			promo:    models.Promotion{MinSubtotal: ptr(dec("50"))},
			wantKind: apperr.KindValidation,
			wantCode: "not_eligible",
		},
		{
			name:     "usage exhausted",
			promo:    models.Promotion{UsageLimit: ptr(3), UsageCount: 3},
			wantKind: apperr.KindConflict,
			wantCode: "usage_exhausted",
		},
		{
			name:     "first order only",
			promo:    models.Promotion{FirstOrderOnly: true},
			prior:    true,
			wantKind: apperr.KindValidation,
			wantCode: "not_eligible",
		},
		{
			name:     "outside audience",
			promo:    models.Promotion{AudienceID: ptr(uuid.New())},
			wantKind: apperr.KindValidation,
			wantCode: "not_eligible",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			p := tt.promo
			p.Code = code("WELCOME")
			p.OwnerKind = models.OwnerPlatform
			p.DiscountKind = models.DiscountFixed
			p.Value = dec("3")
			env.addPromotion(p)
			if tt.prior {
				env.store.orders[uuid.New()] = models.Order{CustomerID: env.customer.ID, Status: models.OrderDelivered}
			}
			env.fillCart(2)
			req := env.deliveryRequest()
			req.PromoCode = "WELCOME"

			_, err := env.checkout.Checkout(context.Background(), env.customer, req)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))
			assert.Equal(t, tt.wantCode, apperr.CodeOf(err))
			assert.Empty(t, env.gateway.authorized(), "nothing is authorized for a rejected coupon")
		})
	}
}

func TestCheckoutRejectsMixedCartWithoutSelection(t *testing.T) {
	env := newTestEnv(t)
	env.fillCart(1)
	chef := models.Fulfiller{Kind: models.KindChef, ID: uuid.New()}
	env.store.cart = append(env.store.cart, models.CartItem{
		ID:         uuid.New(),
		CustomerID: env.customer.ID,
		Ref:        models.CuisineRef(uuid.New()),
		Fulfiller:  chef,
		Quantity:   1,
	})

	_, err := env.checkout.Checkout(context.Background(), env.customer, env.deliveryRequest())
	require.Error(t, err)
	assert.Equal(t, "multiple_fulfillers", apperr.CodeOf(err))

	req := env.deliveryRequest()
	req.Fulfiller = &FulfillerSelector{Kind: models.KindVendor, ID: env.vendor.ID}
	o, err := env.checkout.Checkout(context.Background(), env.customer, req)
	require.NoError(t, err)
	assert.Equal(t, env.fulfiller(), o.Fulfiller)
	require.Len(t, env.store.cart, 1, "the chef's item stays in the cart")
	assert.Equal(t, chef, env.store.cart[0].Fulfiller)
}

func TestCheckoutRequiresCustomer(t *testing.T) {
	env := newTestEnv(t)
	env.fillCart(1)

	_, err := env.checkout.Checkout(context.Background(), env.vendor, env.deliveryRequest())
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestCheckoutEmptyCart(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.checkout.Checkout(context.Background(), env.customer, env.deliveryRequest())
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, "empty_cart", apperr.CodeOf(err))
}

func ptr[T any](v T) *T { return &v }

func TestHappyPathOrderLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.tax.Regions["ON"] = dec("13")
	profile := env.store.profiles[env.fulfiller()]
	profile.DeliveryBaseFee = dec("3")
	env.store.profiles[env.fulfiller()] = profile
	driver := env.driver()
	ctx := context.Background()

	o := env.placeOrder(env.deliveryRequest())
	assert.Equal(t, models.OrderPlaced, o.Status)
	assert.True(t, dec("20.00").Equal(o.Subtotal))
	assert.True(t, dec("3.00").Equal(o.DeliveryFee))
	assert.True(t, dec("2.60").Equal(o.Tax))
	assert.True(t, dec("25.60").Equal(o.Total), "got %s", o.Total)
	assert.Equal(t, 3, env.store.stock[env.product])

	for _, e := range []models.OrderEvent{models.EventAccept, models.EventMarkReady} {
		_, err := env.orders.FulfillerAction(ctx, env.vendor, o.ID, e, "")
		require.NoError(t, err, e)
	}
	require.NoError(t, env.delivery.DispatchOrder(ctx, o.ID))
	_, err := env.delivery.AcceptOffer(ctx, driver, env.store.pendingOffers()[0].ID)
	require.NoError(t, err)
	_, err = env.delivery.Pickup(ctx, driver, *o.DeliveryID)
	require.NoError(t, err)
	_, err = env.delivery.Deliver(ctx, driver, *o.DeliveryID)
	require.NoError(t, err)

	assert.Equal(t, models.OrderDelivered, env.store.order(o.ID).Status)
	assert.Equal(t, models.DeliveryDelivered, env.store.delivery(*o.DeliveryID).Status)

	require.NoError(t, env.events.Handle(ctx, lastEvent(t, env.store)))
	assert.Equal(t, "captured", env.gateway.State(o.PaymentIntentRef))
	assert.Equal(t, 3, env.store.stock[env.product], "delivery does not touch stock again")
}

func TestConcurrentCheckoutForLastUnit(t *testing.T) {
	env := newTestEnv(t)
	env.setStock(1)
	rival := models.Principal{Kind: models.KindCustomer, ID: uuid.New()}
	customers := []models.Principal{env.customer, rival}
	for _, c := range customers {
		env.fillCartFor(c.ID, 1)
	}

	var wg sync.WaitGroup
	orders := make([]*models.Order, len(customers))
	errs := make([]error, len(customers))
	for i, c := range customers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			orders[i], errs[i] = env.checkout.Checkout(context.Background(), c, env.deliveryRequest())
		}()
	}
	wg.Wait()

	var placed, rejected int
	for i, err := range errs {
		if err == nil {
			placed++
			assert.Equal(t, models.OrderPlaced, orders[i].Status)
			continue
		}
		rejected++
		var ae *apperr.Error
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, apperr.KindInsufficientStock, ae.Kind)
		assert.Equal(t, 0, ae.Fields["available"])
	}
	assert.Equal(t, 1, placed)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 0, env.store.stock[env.product])

	voided := 0
	for _, ref := range env.gateway.authorized() {
		if env.gateway.State(ref) == "voided" {
			voided++
		}
	}
	assert.Equal(t, 1, voided, "the losing checkout releases its authorization")
}

func TestConcurrentCouponAtUsageLimit(t *testing.T) {
	env := newTestEnv(t)
	save := env.addPromotion(models.Promotion{
		Code:         code("SAVE10"),
		OwnerKind:    models.OwnerPlatform,
		DiscountKind: models.DiscountPercent,
		Value:        dec("10"),
		UsageLimit:   ptr(1),
	})
	rival := models.Principal{Kind: models.KindCustomer, ID: uuid.New()}
	customers := []models.Principal{env.customer, rival}
	for _, c := range customers {
		env.fillCartFor(c.ID, 2)
	}
	req := env.deliveryRequest()
	req.PromoCode = "SAVE10"

	var wg sync.WaitGroup
	orders := make([]*models.Order, len(customers))
	errs := make([]error, len(customers))
	for i, c := range customers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			orders[i], errs[i] = env.checkout.Checkout(context.Background(), c, req)
		}()
	}
	wg.Wait()

	discounted := 0
	for i, err := range errs {
		if err != nil {
			assert.Equal(t, "usage_exhausted", apperr.CodeOf(err))
			continue
		}
		require.NotNil(t, orders[i].PromotionID)
		assert.Equal(t, save.ID, *orders[i].PromotionID)
		assert.True(t, dec("2.00").Equal(orders[i].Discount))
		discounted++
	}
	assert.Equal(t, 1, discounted)
	assert.Equal(t, 1, env.store.promos[save.ID].UsageCount)
	assert.Len(t, env.store.redemptions, 1)
	assert.Equal(t, 3, env.store.stock[env.product], "the rejected checkout reserved nothing")
}
