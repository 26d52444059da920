package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
	"auctionhouse/internal/service"
)

// AuctionHandler serves the public catalogue and the wallet-signed seller
// and bidder flows.
type AuctionHandler struct {
	Repo    repository.Repository
	Machine *service.Machine
}

func (h *AuctionHandler) Register(r gin.IRouter) {
	g := r.Group("/api/v1")
	g.GET("/auctions", h.list)
	g.GET("/auctions/:id", h.get)
	g.GET("/auctions/:id/bids", h.bids)

	g.POST("/deposits/prepare", h.prepareDeposit)
	g.POST("/deposits/execute", h.executeDeposit)
	g.POST("/auctions/:id/cancel-request", h.cancelRequest)
	g.POST("/auctions/:id/bids/prepare", h.prepareBid)
	g.POST("/auctions/:id/bids/execute", h.executeBid)
	g.GET("/me/auctions", h.mine)
}

func parseStatuses(raw string) []models.AuctionStatus {
	var out []models.AuctionStatus
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, models.AuctionStatus(s))
		}
	}
	return out
}

// @Summary List auction records
// @Tags auctions
// @Produce json
// @Param status query string false "comma separated statuses"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Router /api/v1/auctions [get]
func (h *AuctionHandler) list(c *gin.Context) {
	limit := clampLimit(intQuery(c, "limit", 50), 200)
	offset := intQuery(c, "offset", 0)
	params := repository.ListAuctionsParams{
		Limit:    limit,
		Offset:   offset,
		Statuses: parseStatuses(c.Query("status")),
	}
	items, err := h.Repo.ListAuctions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountAuctions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get one auction record
// @Tags auctions
// @Produce json
// @Param id path string true "auction id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/auctions/{id} [get]
func (h *AuctionHandler) get(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	rec, err := h.Machine.Get(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, rec, nil)
}

// @Summary Bids recorded for an auction, newest first
// @Tags auctions
// @Produce json
// @Param id path string true "auction id"
// @Success 200 {object} apiResponse
// @Router /api/v1/auctions/{id}/bids [get]
func (h *AuctionHandler) bids(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	items, err := h.Machine.Bids(c.Request.Context(), id, clampLimit(intQuery(c, "limit", 100), 500))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, nil)
}

// @Summary Build the deposit transaction for the seller to sign
// @Tags sellers
// @Accept json
// @Produce json
// @Param body body service.DepositRequest true "application"
// @Success 200 {object} apiResponse
// @Router /api/v1/deposits/prepare [post]
func (h *AuctionHandler) prepareDeposit(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var req service.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	prep, err := h.Machine.PrepareDeposit(c.Request.Context(), caller, req)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, prep, nil)
}

type signedRequest struct {
	TxBytes   string `json:"tx_bytes" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

type executeDepositRequest struct {
	service.DepositRequest
	signedRequest
}

// @Summary Submit the signed deposit and create the pending application
// @Tags sellers
// @Accept json
// @Produce json
// @Success 200 {object} apiResponse
// @Router /api/v1/deposits/execute [post]
func (h *AuctionHandler) executeDeposit(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	var req executeDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	out, err := h.Machine.ExecuteDeposit(c.Request.Context(), caller, req.DepositRequest, req.TxBytes, req.Signature)
	if err != nil {
		Fail(c, err)
		return
	}
	Outcome(c, out)
}

// @Summary Ask the operator to cancel a pending application
// @Tags sellers
// @Param id path string true "auction id"
// @Success 200 {object} apiResponse
// @Router /api/v1/auctions/{id}/cancel-request [post]
func (h *AuctionHandler) cancelRequest(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	out, err := h.Machine.CancelRequest(c.Request.Context(), caller, id)
	if err != nil {
		Fail(c, err)
		return
	}
	Outcome(c, out)
}

type prepareBidRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

// @Summary Build a bid transaction for the bidder to sign
// @Tags bids
// @Accept json
// @Produce json
// @Param id path string true "auction id"
// @Success 200 {object} apiResponse
// @Router /api/v1/auctions/{id}/bids/prepare [post]
func (h *AuctionHandler) prepareBid(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req prepareBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	prep, err := h.Machine.PrepareBid(c.Request.Context(), caller, id, req.Amount)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, prep, nil)
}

// @Summary Submit a signed bid
// @Tags bids
// @Accept json
// @Produce json
// @Param id path string true "auction id"
// @Success 200 {object} apiResponse
// @Router /api/v1/auctions/{id}/bids/execute [post]
func (h *AuctionHandler) executeBid(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req signedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	out, err := h.Machine.ExecuteBid(c.Request.Context(), caller, id, req.TxBytes, req.Signature)
	if err != nil {
		Fail(c, err)
		return
	}
	Outcome(c, out)
}

// @Summary The caller's own applications
// @Tags sellers
// @Produce json
// @Success 200 {object} apiResponse
// @Router /api/v1/me/auctions [get]
func (h *AuctionHandler) mine(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	limit := clampLimit(intQuery(c, "limit", 50), 200)
	offset := intQuery(c, "offset", 0)
	items, total, err := h.Machine.SellerHistory(c.Request.Context(), caller, limit, offset)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}
