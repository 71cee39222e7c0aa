package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"pricegov/internal/repository"
)

// DecisionsHandler exposes the decision log and the pricing ledger read-only.
type DecisionsHandler struct {
	Repo repository.GovernanceRepository
}

func (h *DecisionsHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1")
	g.GET("/decisions", h.list)
	g.GET("/decisions/:proposal_id", h.get)
	g.GET("/ledger", h.listLedger)
	g.GET("/ledger/:sku", h.getLedger)
}

var decisionOrder = map[string]string{
	"received_at":  "received_at",
	"processed_at": "processed_at",
	"status":       "status",
}

// @Summary List decisions
// @Tags governance
// @Param status query string false "RECEIVED, REJECTED, STALE, APPLIED_AUTO or APPLY_FAILED"
// @Param product_id query string false "SKU"
// @Param since query string false "RFC3339 lower bound on received_at"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/v1/decisions [get]
func (h *DecisionsHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	params := repository.ListDecisionsParams{
		Limit:     limit,
		Offset:    offset,
		Status:    strQueryPtr(c, "status"),
		ProductID: strQueryPtr(c, "product_id"),
		OrderBy:   parseOrder(c.Query("order_by"), decisionOrder),
	}
	if v := strings.TrimSpace(c.Query("since")); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid since", nil)
			return
		}
		params.Since = &ts
	}
	if c.Query("asc") == "true" {
		params.Asc = boolPtr(true)
	}
	items, err := h.Repo.ListDecisions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountDecisions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get one decision
// @Tags governance
// @Param proposal_id path string true "proposal id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/decisions/{proposal_id} [get]
func (h *DecisionsHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := strings.TrimSpace(c.Param("proposal_id"))
	item, err := h.Repo.GetDecision(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "decision not found", nil)
		return
	}
	Ok(c, item, nil)
}

// @Summary List ledger prices
// @Tags governance
// @Success 200 {object} apiResponse
// @Router /api/v1/ledger [get]
func (h *DecisionsHandler) listLedger(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListLedger(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"total": len(items)})
}

// @Summary Get the ledger price of one SKU
// @Tags governance
// @Param sku path string true "sku"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/ledger/{sku} [get]
func (h *DecisionsHandler) getLedger(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	item, err := h.Repo.GetLedger(c.Request.Context(), c.Param("sku"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "sku not in ledger", nil)
		return
	}
	Ok(c, item, nil)
}
