package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"auctionhouse/internal/repository"
	"auctionhouse/internal/service"
)

// AdminHandler exposes the operator actions. Every route sits behind
// requireAdmin and the state machine re-checks the address.
type AdminHandler struct {
	Repo    repository.Repository
	Machine *service.Machine
}

func (h *AdminHandler) Register(r gin.IRouter) {
	g := r.Group("/api/v1/admin", requireAdmin())
	g.POST("/auctions/:id/approve", h.action(h.Machine.Approve))
	g.POST("/auctions/:id/reject", h.reject)
	g.POST("/auctions/:id/approve-cancel", h.action(h.Machine.ApproveCancel))
	g.POST("/auctions/:id/deny-cancel", h.action(h.Machine.DenyCancel))
	g.POST("/auctions/:id/priority", h.priority)
	g.POST("/auctions/:id/activate", h.action(h.Machine.Activate))
	g.POST("/auctions/:id/end", h.action(h.Machine.EndAuction))
	g.POST("/auctions/:id/release-funds", h.action(h.Machine.ReleaseFunds))
	g.POST("/auctions/:id/release-nft", h.action(h.Machine.ReleaseNft))
	g.POST("/auctions/:id/delist", h.action(h.Machine.Delist))
	g.POST("/activate-next", h.activateNext)
	g.POST("/sweep", h.sweep)
	g.GET("/slot", h.slot)
	g.GET("/queue", h.queue)
	g.GET("/divergences", h.divergences)
	g.POST("/divergences/:id/resolve", h.resolve)
}

type recordAction func(ctx context.Context, c service.Caller, id uuid.UUID) (*service.Outcome, error)

func (h *AdminHandler) action(fn recordAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := mustCaller(c)
		if !ok {
			return
		}
		id, ok := idParam(c)
		if !ok {
			return
		}
		out, err := fn(c.Request.Context(), caller, id)
		if err != nil {
			Fail(c, err)
			return
		}
		Outcome(c, out)
	}
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// @Summary Reject an application and return the NFT to the seller
// @Tags admin
// @Param id path string true "auction id"
// @Success 200 {object} apiResponse
// @Router /api/v1/admin/auctions/{id}/reject [post]
func (h *AdminHandler) reject(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req rejectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, "invalid body", nil)
			return
		}
	}
	out, err := h.Machine.Reject(c.Request.Context(), caller, id, strings.TrimSpace(req.Reason))
	if err != nil {
		Fail(c, err)
		return
	}
	Outcome(c, out)
}

type priorityRequest struct {
	Priority bool `json:"priority"`
}

// @Summary Move a record to the front of the queue, or back
// @Tags admin
// @Param id path string true "auction id"
// @Success 200 {object} apiResponse
// @Router /api/v1/admin/auctions/{id}/priority [post]
func (h *AdminHandler) priority(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req priorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	out, err := h.Machine.SetPriority(c.Request.Context(), caller, id, req.Priority)
	if err != nil {
		Fail(c, err)
		return
	}
	Outcome(c, out)
}

// @Summary Start the head of the queue
// @Tags admin
// @Success 200 {object} apiResponse
// @Router /api/v1/admin/activate-next [post]
func (h *AdminHandler) activateNext(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	out, err := h.Machine.ActivateNext(c.Request.Context(), caller)
	if err != nil {
		Fail(c, err)
		return
	}
	Outcome(c, out)
}

// @Summary Compare records with the chain and repair what it contradicts
// @Tags admin
// @Success 200 {object} apiResponse
// @Router /api/v1/admin/sweep [post]
func (h *AdminHandler) sweep(c *gin.Context) {
	report, err := h.Machine.Sweep(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, report, nil)
}

// @Summary Lane state: active record and cooldown
// @Tags admin
// @Success 200 {object} apiResponse
// @Router /api/v1/admin/slot [get]
func (h *AdminHandler) slot(c *gin.Context) {
	slot, err := h.Machine.SlotState(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, slot, nil)
}

// @Summary Queued records in activation order
// @Tags admin
// @Success 200 {object} apiResponse
// @Router /api/v1/admin/queue [get]
func (h *AdminHandler) queue(c *gin.Context) {
	items, err := h.Machine.Queue(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, map[string]any{"total": len(items)})
}

// @Summary Records that disagree with a completed ledger action
// @Tags admin
// @Param resolved query bool false "filter by resolution"
// @Success 200 {object} apiResponse
// @Router /api/v1/admin/divergences [get]
func (h *AdminHandler) divergences(c *gin.Context) {
	limit := clampLimit(intQuery(c, "limit", 50), 200)
	offset := intQuery(c, "offset", 0)
	params := repository.ListDivergencesParams{
		Limit:    limit,
		Offset:   offset,
		Resolved: boolQueryPtr(c, "resolved"),
	}
	if raw := strings.TrimSpace(c.Query("auction_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid auction_id", nil)
			return
		}
		params.AuctionID = &id
	}
	items, err := h.Repo.ListDivergences(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountDivergences(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Mark a divergence as repaired
// @Tags admin
// @Param id path int true "divergence id"
// @Success 200 {object} apiResponse
// @Router /api/v1/admin/divergences/{id}/resolve [post]
func (h *AdminHandler) resolve(c *gin.Context) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id == 0 {
		Error(c, http.StatusBadRequest, "invalid divergence id", nil)
		return
	}
	if err := h.Repo.ResolveDivergence(c.Request.Context(), id, time.Now().UTC()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			Error(c, http.StatusNotFound, err.Error(), nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, map[string]any{"id": id, "resolved": true}, nil)
}
