package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/boardroom/internal/agent/telemetry"
)

// OpsHandler exposes operational endpoints. It expects authentication to be
// applied by the caller.
type OpsHandler struct {
	tel *telemetry.Telemetry
}

func NewOpsHandler(tel *telemetry.Telemetry) *OpsHandler { return &OpsHandler{tel: tel} }

func (h *OpsHandler) Register(g *echo.Group) {
	g.GET("/performance", h.performance)
}

// performance returns pipeline counters and the text report.
//
//	@Summary	Pipeline performance metrics
//	@Tags		ops
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Produce	json
//	@Success	200	{object}	PerformanceResponse
//	@Router		/api/ops/performance [get]
func (h *OpsHandler) performance(c echo.Context) error {
	if h.tel == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "telemetry disabled")
	}
	return c.JSON(http.StatusOK, PerformanceResponse{
		Metrics: h.tel.GetMetrics(),
		Report:  h.tel.GetPerformanceReport(),
	})
}
