package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"pricegov/internal/repository"
	"pricegov/internal/service"
)

type SettingsHandler struct {
	Repo     repository.SettingsRepository
	Settings *service.SettingsService
}

func (h *SettingsHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/settings")
	g.GET("", h.list)
	g.GET("/guardrails", h.guardrails)
	g.PUT("/:key", h.put)
}

// @Summary List guardrail settings
// @Tags settings
// @Success 200 {object} apiResponse
// @Router /api/v1/settings [get]
func (h *SettingsHandler) list(c *gin.Context) {
	if h.Repo == nil || h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings unavailable", nil)
		return
	}
	if err := h.Settings.EnsureDefaults(c.Request.Context()); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	items, err := h.Repo.ListSettings(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

// @Summary Current guardrail snapshot
// @Tags settings
// @Success 200 {object} apiResponse
// @Router /api/v1/settings/guardrails [get]
func (h *SettingsHandler) guardrails(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings unavailable", nil)
		return
	}
	g, err := h.Settings.Guardrails(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, g, nil)
}

type putSettingRequest struct {
	Value any `json:"value"`
}

// @Summary Update a guardrail
// @Tags settings
// @Param key path string true "auto_apply, min_margin or max_delta"
// @Param body body putSettingRequest true "new value"
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/settings/{key} [put]
func (h *SettingsHandler) put(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings unavailable", nil)
		return
	}
	key := strings.TrimSpace(c.Param("key"))
	if !service.IsGuardrailKey(key) {
		Error(c, http.StatusNotFound, "unknown setting", nil)
		return
	}
	var req putSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Value == nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if err := h.Settings.Set(c.Request.Context(), key, req.Value); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	g, err := h.Settings.Guardrails(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, g, nil)
}
