package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pricegov/internal/repository"
)

type JobsHandler struct {
	Repo repository.MarketDataRepository
}

func (h *JobsHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/jobs")
	g.GET("", h.list)
	g.GET("/:id", h.get)
}

// @Summary List ingestion jobs
// @Tags market-data
// @Param status query string false "status"
// @Param sku query string false "sku"
// @Param request_id query string false "request id"
// @Success 200 {object} apiResponse
// @Router /api/v1/jobs [get]
func (h *JobsHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListIngestionJobs(c.Request.Context(), repository.ListIngestionJobsParams{
		Limit:     limit,
		Offset:    offset,
		Status:    strQueryPtr(c, "status"),
		SKU:       strQueryPtr(c, "sku"),
		RequestID: strQueryPtr(c, "request_id"),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"limit": limit, "offset": offset})
}

// @Summary Get one ingestion job
// @Tags market-data
// @Param id path string true "job id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/jobs/{id} [get]
func (h *JobsHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	item, err := h.Repo.GetIngestionJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "job not found", nil)
		return
	}
	Ok(c, item, nil)
}
