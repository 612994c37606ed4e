package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type recordingAggregations struct {
	fulfiller models.Fulfiller
	from, to  time.Time
	limit     int
}

func (r *recordingAggregations) Sales(_ context.Context, f models.Fulfiller, from, to time.Time) (*models.SalesReport, error) {
	r.fulfiller, r.from, r.to = f, from, to
	return &models.SalesReport{}, nil
}

func (r *recordingAggregations) PopularItems(_ context.Context, f models.Fulfiller, limit int) ([]models.PopularItem, error) {
	r.fulfiller, r.limit = f, limit
	return nil, nil
}

func TestSalesReportWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agg := &recordingAggregations{}
	reports := NewReportService(agg, logger.Nop()).WithClock(func() time.Time { return now })
	vendor := models.Principal{Kind: models.KindVendor, ID: uuid.New()}
	ctx := context.Background()

	_, err := reports.Sales(ctx, vendor, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.Fulfiller{Kind: models.KindVendor, ID: vendor.ID}, agg.fulfiller)
	assert.Equal(t, now, agg.to)
	assert.Equal(t, now.Add(-30*24*time.Hour), agg.from)

	later := now.Add(time.Hour)
	_, err = reports.Sales(ctx, vendor, &later, &now)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	longAgo := now.AddDate(-2, 0, 0)
	_, err = reports.Sales(ctx, vendor, &longAgo, nil)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = reports.Sales(ctx, models.Principal{Kind: models.KindCustomer}, nil, nil)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestPopularItemsLimit(t *testing.T) {
	agg := &recordingAggregations{}
	reports := NewReportService(agg, logger.Nop())
	chef := models.Principal{Kind: models.KindChef}

	for in, want := range map[int]int{0: 10, -3: 10, 7: 7, 500: 50} {
		_, err := reports.PopularItems(context.Background(), chef, in)
		require.NoError(t, err)
		assert.Equal(t, want, agg.limit, "limit %d", in)
	}
}
