package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pricegov/internal/bus"
	"pricegov/internal/config"
	"pricegov/internal/pricing"
	"pricegov/internal/protocol"
)

type Proposer interface {
	Propose(ctx context.Context, sku, algorithm string) (protocol.PriceProposal, error)
}

// TriggersHandler is the write side of the ops API: it only ever publishes to
// the bus or runs the optimizer, never touches the ledger directly.
type TriggersHandler struct {
	Bus       *bus.Bus
	Optimizer Proposer
	Defaults  config.MarketDataConfig
}

func (h *TriggersHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1")
	g.POST("/fetch-requests", h.fetch)
	g.POST("/optimize/:sku", h.optimize)
	g.POST("/proposals", h.propose)
}

type fetchRequestBody struct {
	RequestID      string   `json:"request_id"`
	SKU            string   `json:"sku"`
	Market         string   `json:"market"`
	Sources        []string `json:"sources"`
	URLs           []string `json:"urls"`
	Depth          *int     `json:"depth"`
	HorizonMinutes *int     `json:"horizon_minutes"`
}

// @Summary Request a market data fetch
// @Tags market-data
// @Param body body fetchRequestBody true "fetch request"
// @Success 202 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/v1/fetch-requests [post]
func (h *TriggersHandler) fetch(c *gin.Context) {
	if h.Bus == nil {
		Error(c, http.StatusInternalServerError, "bus unavailable", nil)
		return
	}
	var body fetchRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if strings.TrimSpace(body.SKU) == "" {
		Error(c, http.StatusBadRequest, "sku is required", nil)
		return
	}
	req := protocol.FetchRequest{
		RequestID:      strings.TrimSpace(body.RequestID),
		SKU:            strings.TrimSpace(body.SKU),
		Market:         strings.TrimSpace(body.Market),
		Sources:        body.Sources,
		URLs:           body.URLs,
		Depth:          h.Defaults.Depth,
		HorizonMinutes: h.Defaults.HorizonMinutes,
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Market == "" {
		req.Market = h.Defaults.Market
	}
	if req.Market == "" {
		req.Market = "DEFAULT"
	}
	if len(req.Sources) == 0 {
		req.Sources = append([]string{}, h.Defaults.Sources...)
	}
	if body.Depth != nil {
		req.Depth = *body.Depth
	}
	if body.HorizonMinutes != nil {
		req.HorizonMinutes = *body.HorizonMinutes
	}
	if err := h.Bus.Publish(c.Request.Context(), req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	Accepted(c, gin.H{"request_id": req.RequestID})
}

// @Summary Run the optimizer for one SKU
// @Tags pricing
// @Param sku path string true "sku"
// @Param algorithm query string false "rule_based, ml_model or profit_maximization"
// @Success 200 {object} apiResponse
// @Failure 422 {object} apiResponse
// @Router /api/v1/optimize/{sku} [post]
func (h *TriggersHandler) optimize(c *gin.Context) {
	if h.Optimizer == nil {
		Error(c, http.StatusInternalServerError, "optimizer unavailable", nil)
		return
	}
	p, err := h.Optimizer.Propose(c.Request.Context(), c.Param("sku"), c.Query("algorithm"))
	switch {
	case err == nil:
		Ok(c, p, nil)
	case errors.Is(err, pricing.ErrNoRecords), errors.Is(err, pricing.ErrUnknownAlgorithm):
		Error(c, http.StatusUnprocessableEntity, err.Error(), nil)
	default:
		Error(c, http.StatusBadGateway, err.Error(), nil)
	}
}

// @Summary Submit an external price proposal
// @Tags governance
// @Param body body object true "price.proposal payload"
// @Success 202 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/v1/proposals [post]
func (h *TriggersHandler) propose(c *gin.Context) {
	if h.Bus == nil {
		Error(c, http.StatusInternalServerError, "bus unavailable", nil)
		return
	}
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if err := h.Bus.PublishRaw(c.Request.Context(), protocol.TopicPriceProposal, payload); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	Accepted(c, gin.H{"proposal_id": protocol.NormalizeProposal(payload)["proposal_id"]})
}
