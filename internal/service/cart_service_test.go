package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

func TestCartLifecycle(t *testing.T) {
	env := newTestEnv(t)
	carts := NewCartService(fakeCarts{env.store}, fakeCatalog{env.store}, logger.Nop())
	ctx := context.Background()

	cart, err := carts.AddItem(ctx, env.customer, AddCartItemRequest{Kind: models.ItemProduct, ID: env.product, Quantity: 3})
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.True(t, dec("30.00").Equal(cart.Subtotal))
	assert.Equal(t, env.fulfiller(), cart.Items[0].Fulfiller)

	itemID := cart.Items[0].ID
	cart, err = carts.UpdateItem(ctx, env.customer, itemID, UpdateCartItemRequest{Quantity: 1})
	require.NoError(t, err)
	assert.True(t, dec("10.00").Equal(cart.Subtotal))

	cart, err = carts.RemoveItem(ctx, env.customer, itemID)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.True(t, cart.Subtotal.IsZero())
}

func TestCartAddRules(t *testing.T) {
	env := newTestEnv(t)
	carts := NewCartService(fakeCarts{env.store}, fakeCatalog{env.store}, logger.Nop())
	ctx := context.Background()

	_, err := carts.AddItem(ctx, env.customer, AddCartItemRequest{Kind: models.ItemProduct, ID: env.product, Quantity: 6})
	assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))

	_, err = carts.AddItem(ctx, env.customer, AddCartItemRequest{Kind: models.ItemCuisine, ID: uuid.New(), Quantity: 1})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = carts.AddItem(ctx, env.customer, AddCartItemRequest{Kind: models.ItemProduct, ID: env.product, Quantity: 0})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	ref := models.ProductRef(env.product)
	item := env.store.catalog[ref]
	item.Status = models.ItemInactive
	env.store.catalog[ref] = item
	_, err = carts.AddItem(ctx, env.customer, AddCartItemRequest{Kind: models.ItemProduct, ID: env.product, Quantity: 1})
	assert.Equal(t, "item_unavailable", apperr.CodeOf(err))

	_, err = carts.GetCart(ctx, env.vendor)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestCheckoutFailsWhenItemWentInactive(t *testing.T) {
	env := newTestEnv(t)
	env.fillCart(1)
	ref := models.ProductRef(env.product)
	item := env.store.catalog[ref]
	item.Status = models.ItemDraft
	env.store.catalog[ref] = item

	_, err := env.checkout.Checkout(context.Background(), env.customer, env.deliveryRequest())
	assert.Equal(t, "item_unavailable", apperr.CodeOf(err))
	assert.Empty(t, env.gateway.authorized())
}
