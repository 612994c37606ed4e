package router

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/handler"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

const apiPrefix = "/api/v1"

// Handlers bundles every HTTP handler the API serves.
type Handlers struct {
	Auth          *handler.AuthHandler
	Catalog       *handler.CatalogHandler
	Cart          *handler.CartHandler
	Orders        *handler.OrderHandler
	Deliveries    *handler.DeliveryHandler
	Promotions    *handler.PromotionHandler
	Audiences     *handler.AudienceHandler
	Chat          *handler.ChatHandler
	Support       *handler.SupportHandler
	Notifications *handler.NotificationHandler
	Reports       *handler.ReportHandler
}

// segments maps the path segment of each actor area to its kind.
var segments = []struct {
	path string
	kind models.ActorKind
}{
	{"customer", models.KindCustomer},
	{"vendors", models.KindVendor},
	{"chef", models.KindChef},
	{"driver", models.KindDriver},
	{"admin", models.KindAdmin},
}

type routes struct {
	mux *http.ServeMux
	mw  *handler.Middleware
}

func (rt routes) public(pattern string, h http.HandlerFunc) {
	rt.mux.Handle(pattern, h)
}

func (rt routes) as(kind models.ActorKind, pattern string, h http.HandlerFunc) {
	rt.mux.Handle(pattern, rt.mw.Require(kind)(h))
}

// NewRouter registers the API under /api/v1 and wraps it with tracing,
// access logging, panic recovery and the handler deadline.
func NewRouter(h Handlers, mw *handler.Middleware, log *logger.Logger, handlerTimeout time.Duration) http.Handler {
	rt := routes{mux: http.NewServeMux(), mw: mw}

	rt.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// identity
	rt.public("POST "+apiPrefix+"/auth/{kind}/login", h.Auth.Login)
	rt.public("POST "+apiPrefix+"/auth/customer/register", h.Auth.Register)
	rt.public("POST "+apiPrefix+"/auth/google", h.Auth.Google)

	// public catalog
	rt.public("GET "+apiPrefix+"/catalog/products", h.Catalog.PublicProducts)
	rt.public("GET "+apiPrefix+"/catalog/products/{id}", h.Catalog.PublicProduct)
	rt.public("GET "+apiPrefix+"/catalog/cuisines", h.Catalog.PublicCuisines)

	// vendor catalog
	v := apiPrefix + "/vendors"
	rt.as(models.KindVendor, "POST "+v+"/products", h.Catalog.CreateProduct)
	rt.as(models.KindVendor, "GET "+v+"/products", h.Catalog.VendorProducts)
	rt.as(models.KindVendor, "PUT "+v+"/products/{id}", h.Catalog.UpdateProduct)
	rt.as(models.KindVendor, "PUT "+v+"/products/{id}/stock", h.Catalog.AdjustStock)
	rt.as(models.KindVendor, "GET "+v+"/inventory/low-stock", h.Catalog.LowStock)
	rt.as(models.KindVendor, "GET "+v+"/inventory/expiring", h.Catalog.Expiring)

	// chef catalog
	c := apiPrefix + "/chef"
	rt.as(models.KindChef, "POST "+c+"/cuisines", h.Catalog.CreateCuisine)
	rt.as(models.KindChef, "GET "+c+"/cuisines", h.Catalog.ChefCuisines)
	rt.as(models.KindChef, "PUT "+c+"/cuisines/{id}", h.Catalog.UpdateCuisine)

	// customer cart, checkout and orders
	cu := apiPrefix + "/customer"
	rt.as(models.KindCustomer, "GET "+cu+"/cart", h.Cart.GetCart)
	rt.as(models.KindCustomer, "POST "+cu+"/cart/items", h.Cart.AddItem)
	rt.as(models.KindCustomer, "PUT "+cu+"/cart/items/{id}", h.Cart.UpdateItem)
	rt.as(models.KindCustomer, "DELETE "+cu+"/cart/items/{id}", h.Cart.RemoveItem)
	rt.as(models.KindCustomer, "POST "+cu+"/cart/checkout", h.Cart.Checkout)
	rt.as(models.KindCustomer, "POST "+cu+"/coupons/validate", h.Promotions.Validate)
	rt.as(models.KindCustomer, "GET "+cu+"/orders", h.Orders.GetAllOrders)
	rt.as(models.KindCustomer, "GET "+cu+"/orders/{id}", h.Orders.GetOrderByID)
	rt.as(models.KindCustomer, "POST "+cu+"/orders/{id}/cancel", h.Orders.CancelOrder)
	rt.as(models.KindCustomer, "GET "+cu+"/deliveries/{id}/track", h.Deliveries.Track)

	// fulfillers
	for _, kind := range []models.ActorKind{models.KindVendor, models.KindChef} {
		p := apiPrefix + "/" + segmentOf(kind)
		rt.as(kind, "GET "+p+"/orders", h.Orders.GetAllOrders)
		rt.as(kind, "GET "+p+"/orders/{id}", h.Orders.GetOrderByID)
		rt.as(kind, "POST "+p+"/orders/{id}/accept", h.Orders.Action(models.EventAccept))
		rt.as(kind, "POST "+p+"/orders/{id}/reject", h.Orders.Action(models.EventReject))
		rt.as(kind, "POST "+p+"/orders/{id}/ready", h.Orders.Action(models.EventMarkReady))
		rt.as(kind, "POST "+p+"/orders/{id}/complete", h.Orders.Action(models.EventCollected))
		rt.as(kind, "GET "+p+"/reports/sales", h.Reports.GetSales)
		rt.as(kind, "GET "+p+"/reports/popular-items", h.Reports.GetPopularItems)
	}
	for _, kind := range []models.ActorKind{models.KindVendor, models.KindChef, models.KindAdmin} {
		p := apiPrefix + "/" + segmentOf(kind)
		rt.as(kind, "POST "+p+"/promotions", h.Promotions.Create)
		rt.as(kind, "GET "+p+"/promotions", h.Promotions.List)
	}

	// drivers
	d := apiPrefix + "/driver"
	rt.as(models.KindDriver, "GET "+d+"/offers", h.Deliveries.Offers)
	rt.as(models.KindDriver, "POST "+d+"/offers/{id}/accept", h.Deliveries.AcceptOffer)
	rt.as(models.KindDriver, "POST "+d+"/offers/{id}/decline", h.Deliveries.DeclineOffer)
	rt.as(models.KindDriver, "POST "+d+"/deliveries/{id}/pickup", h.Deliveries.Pickup)
	rt.as(models.KindDriver, "POST "+d+"/deliveries/{id}/deliver", h.Deliveries.Deliver)
	rt.as(models.KindDriver, "POST "+d+"/deliveries/{id}/location", h.Deliveries.RecordLocation)
	rt.as(models.KindDriver, "PUT "+d+"/status", h.Deliveries.SetStatus)

	// admin
	a := apiPrefix + "/admin"
	rt.as(models.KindAdmin, "GET "+a+"/orders", h.Orders.GetAllOrders)
	rt.as(models.KindAdmin, "GET "+a+"/orders/{id}", h.Orders.GetOrderByID)
	rt.as(models.KindAdmin, "POST "+a+"/orders/{id}/override", h.Orders.OverrideOrder)
	rt.as(models.KindAdmin, "GET "+a+"/orders/{id}/history", h.Orders.GetOrderHistory)
	rt.as(models.KindAdmin, "GET "+a+"/deliveries/{id}/track", h.Deliveries.Track)
	rt.as(models.KindAdmin, "POST "+a+"/deliveries/{id}/reassign", h.Deliveries.Reassign)
	rt.as(models.KindAdmin, "POST "+a+"/marketing/audiences/preview", h.Audiences.Preview)
	rt.as(models.KindAdmin, "POST "+a+"/marketing/audiences", h.Audiences.Create)
	rt.as(models.KindAdmin, "GET "+a+"/marketing/audiences", h.Audiences.List)
	rt.as(models.KindAdmin, "GET "+a+"/marketing/audiences/{id}", h.Audiences.Get)
	rt.as(models.KindAdmin, "POST "+a+"/marketing/audiences/{id}/refresh", h.Audiences.Refresh)
	rt.as(models.KindAdmin, "POST "+a+"/marketing/audiences/{id}/notify", h.Audiences.Notify)
	rt.as(models.KindAdmin, "GET "+a+"/support/tickets", h.Support.AdminList)
	rt.as(models.KindAdmin, "PUT "+a+"/support/tickets/{id}/assign", h.Support.Assign)
	rt.as(models.KindAdmin, "PUT "+a+"/support/tickets/{id}/status", h.Support.SetStatus)

	// every actor area
	for _, s := range segments {
		p := apiPrefix + "/" + s.path
		rt.as(s.kind, "POST "+p+"/chat/messages", h.Chat.Send)
		rt.as(s.kind, "GET "+p+"/chat/conversations", h.Chat.Conversations)
		rt.as(s.kind, "GET "+p+"/chat/conversations/{peer_kind}/{peer_id}", h.Chat.Thread)
		rt.as(s.kind, "GET "+p+"/chat/unread", h.Chat.Unread)
		rt.as(s.kind, "GET "+p+"/notifications", h.Notifications.List)
		rt.as(s.kind, "POST "+p+"/notifications/{id}/read", h.Notifications.MarkRead)
		if s.kind != models.KindAdmin {
			rt.as(s.kind, "POST "+p+"/support/tickets", h.Support.Open)
			rt.as(s.kind, "GET "+p+"/support/tickets", h.Support.Mine)
		}
	}

	return handler.Chain(rt.mux,
		func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, "eazyfoods-api")
		},
		log.HTTPMiddleware,
		handler.Recover(log),
		handler.Timeout(handlerTimeout),
	)
}

func segmentOf(kind models.ActorKind) string {
	for _, s := range segments {
		if s.kind == kind {
			return s.path
		}
	}
	return string(kind)
}
