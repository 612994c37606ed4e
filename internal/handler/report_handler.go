package handler

import (
	"net/http"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/service"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type ReportHandler struct {
	base
	reports service.ReportServiceInterface
}

func NewReportHandler(s service.ReportServiceInterface, log *logger.Logger) *ReportHandler {
	return &ReportHandler{
		base:    base{logger: log.WithComponent("report_handler")},
		reports: s,
	}
}

// GetSales handles GET /api/v1/{vendors|chef}/reports/sales?from&to
func (h *ReportHandler) GetSales(w http.ResponseWriter, r *http.Request) {
	from, err := queryTime(r, "from")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	report, err := h.reports.Sales(r.Context(), h.principal(r), from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, report)
}

// GetPopularItems handles GET /api/v1/{vendors|chef}/reports/popular-items?limit
func (h *ReportHandler) GetPopularItems(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 10)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items, err := h.reports.PopularItems(r.Context(), h.principal(r), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, items)
}
