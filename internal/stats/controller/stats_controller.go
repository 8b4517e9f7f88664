package controller

import (
	"context"

	"ojcore/internal/common/http/middleware"
	"ojcore/internal/stats/repository"
	"ojcore/pkg/utils/response"
	"ojcore/pkg/utils/validate"

	"github.com/gin-gonic/gin"
)

type DailyStatsReader interface {
	ListRange(ctx context.Context, userID int64, from, to string) ([]repository.DailyStat, error)
}

// StatsController serves the caller's activity history.
type StatsController struct {
	stats DailyStatsReader
}

func NewStatsController(stats DailyStatsReader) *StatsController {
	return &StatsController{stats: stats}
}

// Daily returns per-day submit and accepted counts of the caller.
func (h *StatsController) Daily(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	var req DailyStatsQuery
	if err := validate.BindQuery(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	stats, err := h.stats.ListRange(c.Request.Context(), identity.UserID, req.From, req.To)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, DailyStatsResponse{Days: stats})
}

type DailyStatsQuery struct {
	From string `form:"from" binding:"omitempty,datetime=2006-01-02"`
	To   string `form:"to" binding:"omitempty,datetime=2006-01-02"`
}

type DailyStatsResponse struct {
	Days []repository.DailyStat `json:"days"`
}
