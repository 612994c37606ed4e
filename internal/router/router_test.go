package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/handler"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/service"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type customerAuthn struct{ id uuid.UUID }

func (a customerAuthn) Authenticate(_ context.Context, _ string, kinds ...models.ActorKind) (models.Principal, error) {
	return models.Principal{Kind: kinds[0], ID: a.id}, nil
}

// stubPromotions implements only Validate.
type stubPromotions struct {
	service.PromotionServiceInterface
	got service.ValidatePromotionRequest
}

func (s *stubPromotions) Validate(_ context.Context, _ models.Principal, req service.ValidatePromotionRequest) (*models.PromotionValidation, error) {
	s.got = req
	return &models.PromotionValidation{Applicable: true}, nil
}

func newTestRouter(promos *stubPromotions) http.Handler {
	log := logger.Nop()
	h := Handlers{
		Auth:          handler.NewAuthHandler(nil, log),
		Catalog:       handler.NewCatalogHandler(nil, log),
		Cart:          handler.NewCartHandler(nil, nil, log),
		Orders:        handler.NewOrderHandler(nil, log),
		Deliveries:    handler.NewDeliveryHandler(nil, log),
		Promotions:    handler.NewPromotionHandler(promos, log),
		Audiences:     handler.NewAudienceHandler(nil, log),
		Chat:          handler.NewChatHandler(nil, log),
		Support:       handler.NewSupportHandler(nil, log),
		Notifications: handler.NewNotificationHandler(nil, log),
		Reports:       handler.NewReportHandler(nil, log),
	}
	return NewRouter(h, handler.NewMiddleware(customerAuthn{id: uuid.New()}, log), log, 5*time.Second)
}

func TestCouponValidateRoute(t *testing.T) {
	promos := &stubPromotions{}
	r := newTestRouter(promos)

	send := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"code":"SAVE10"}`))
		req.Header.Set("Authorization", "Bearer token")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := send("/api/v1/customer/coupons/validate")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"applicable":true`)
	assert.Equal(t, "SAVE10", promos.got.Code)

	rec = send("/api/v1/customer/promotions/validate")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
