package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jambasimaging/bizdesk/internal/server/models"
)

// profitQuery is the report filter. Dates are calendar days and both ends
// are inclusive.
type profitQuery struct {
	BranchID *int64    `form:"branch"`
	Currency string    `form:"currency"`
	From     time.Time `form:"from" time_format:"2006-01-02" time_utc:"1"`
	To       time.Time `form:"to" time_format:"2006-01-02" time_utc:"1"`
}

func (q profitQuery) filter() models.ProfitFilter {
	f := models.ProfitFilter{
		BranchID: q.BranchID,
		Currency: strings.ToUpper(strings.TrimSpace(q.Currency)),
		From:     q.From,
	}
	if !q.To.IsZero() {
		f.To = q.To.AddDate(0, 0, 1)
	}
	return f
}

func (h *Handler) profitFilter(c *gin.Context) (models.ProfitFilter, bool) {
	var q profitQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, err)
		return models.ProfitFilter{}, false
	}
	return q.filter(), true
}

// Profit returns the per-currency summary and the records behind it.
func (h *Handler) Profit(c *gin.Context) {
	f, ok := h.profitFilter(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	summary, err := h.reports.ProfitSummary(ctx, actor(c), f)
	if err != nil {
		h.respondError(c, err)
		return
	}
	records, err := h.reports.ProfitRecords(ctx, actor(c), f)
	if err != nil {
		h.respondError(c, err)
		return
	}

	sv := make([]profitSummaryView, 0, len(summary))
	for _, s := range summary {
		sv = append(sv, profitSummaryView{
			Currency:       s.Currency,
			Invoices:       s.Invoices,
			Revenue:        s.Revenue,
			CostOfGoods:    s.CostOfGoods,
			CostOfServices: s.CostOfServices,
			GrossProfit:    s.GrossProfit,
		})
	}
	rv := make([]profitRecordView, 0, len(records))
	for _, r := range records {
		rv = append(rv, newProfitRecordView(r))
	}
	c.JSON(http.StatusOK, gin.H{"summary": sv, "records": rv})
}

// ExportProfit uploads the filtered records as CSV and returns a download
// link.
func (h *Handler) ExportProfit(c *gin.Context) {
	f, ok := h.profitFilter(c)
	if !ok {
		return
	}
	exp, err := h.reports.ExportProfitCSV(c.Request.Context(), actor(c), f)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"key": exp.Key, "url": exp.URL, "rows": exp.Rows})
}
