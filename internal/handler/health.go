package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"pricegov/internal/bus"
	"pricegov/internal/connector"
	"pricegov/internal/metrics"
	"pricegov/internal/repository"
)

type QueueDepther interface {
	Pending() int
}

type HealthHandler struct {
	DB      *gorm.DB
	Repo    repository.Repository
	Bus     *bus.Bus
	Sources *connector.Registry
	Pool    QueueDepther
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/api/v1/pipeline", h.pipeline)
}

// @Summary Health check
// @Tags health
// @Success 200 {object} map[string]string
// @Router /healthz [get]
func (h *HealthHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Readiness check
// @Tags health
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /readyz [get]
func (h *HealthHandler) ready(c *gin.Context) {
	if h.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_missing"})
		return
	}
	sqlDB, err := h.DB.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_error"})
		return
	}
	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// pipeline reports counts across the decision log and job table plus bus and
// source health.
//
// @Summary Pipeline counters
// @Tags health
// @Success 200 {object} apiResponse
// @Router /api/v1/pipeline [get]
func (h *HealthHandler) pipeline(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	ctx := c.Request.Context()
	decisions, err := h.Repo.CountDecisionsByStatus(ctx)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	jobs, err := h.Repo.CountIngestionJobsByStatus(ctx)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	ticks, err := h.Repo.CountTicks(ctx)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	out := gin.H{
		"decisions": decisions,
		"jobs":      jobs,
		"ticks":     ticks,
		"sources":   h.Sources.Health(),
	}
	if h.Bus != nil {
		out["bus"] = h.Bus.Stats()
	}
	if h.Pool != nil {
		out["queue_depth"] = h.Pool.Pending()
	}
	Ok(c, out, nil)
}
