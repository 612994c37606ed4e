package service

import (
	"context"
	"time"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/repositories"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

const (
	defaultReportWindow = 30 * 24 * time.Hour
	maxReportWindow     = 366 * 24 * time.Hour
)

type ReportServiceInterface interface {
	Sales(ctx context.Context, p models.Principal, from, to *time.Time) (*models.SalesReport, error)
	PopularItems(ctx context.Context, p models.Principal, limit int) ([]models.PopularItem, error)
}

// ReportService aggregates a fulfiller's order history in SQL.
type ReportService struct {
	aggregations repositories.AggregationRepositoryInterface
	now          Clock
	logger       *logger.Logger
}

func NewReportService(aggregations repositories.AggregationRepositoryInterface, log *logger.Logger) *ReportService {
	return &ReportService{
		aggregations: aggregations,
		now:          time.Now,
		logger:       log.WithComponent("report_service"),
	}
}

func (s *ReportService) WithClock(c Clock) *ReportService {
	s.now = c
	return s
}

// Sales reports revenue over delivered orders in [from, to). Missing bounds
// default to the last 30 days.
func (s *ReportService) Sales(ctx context.Context, p models.Principal, from, to *time.Time) (*models.SalesReport, error) {
	f, err := fulfillerOf(p)
	if err != nil {
		return nil, err
	}

	end := s.now()
	if to != nil {
		end = *to
	}
	start := end.Add(-defaultReportWindow)
	if from != nil {
		start = *from
	}
	if !start.Before(end) {
		return nil, apperr.Validation("from must be before to.").With("field", "from")
	}
	if end.Sub(start) > maxReportWindow {
		return nil, apperr.Validation("The report window is limited to one year.").With("field", "from")
	}

	s.logger.Info("Calculating sales report", "fulfiller_kind", f.Kind, "fulfiller_id", f.ID, "from", start, "to", end)
	report, err := s.aggregations.Sales(ctx, f, start, end)
	if err != nil {
		s.logger.Error("Failed to build sales report", "fulfiller_id", f.ID, "error", err)
		return nil, classify(err, "sales report")
	}
	return report, nil
}

func (s *ReportService) PopularItems(ctx context.Context, p models.Principal, limit int) ([]models.PopularItem, error) {
	f, err := fulfillerOf(p)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}

	items, err := s.aggregations.PopularItems(ctx, f, limit)
	if err != nil {
		s.logger.Error("Failed to rank popular items", "fulfiller_id", f.ID, "error", err)
		return nil, classify(err, "popular items")
	}
	s.logger.Debug("Ranked popular items", "count", len(items))
	return items, nil
}
