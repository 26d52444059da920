package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"auctionhouse/internal/auth"
	"auctionhouse/internal/chain"
	"auctionhouse/internal/service"
	"auctionhouse/internal/txn"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// Outcome reports a workflow result. A divergent outcome is still a 200:
// the ledger action happened and the record is queued for repair.
func Outcome(c *gin.Context, out *service.Outcome) {
	meta := map[string]any{
		"divergence": out.Divergent,
		"skipped":    out.Skipped,
	}
	if out.Digest != "" {
		meta["digest"] = out.Digest
	}
	Ok(c, out.Record, meta)
}

// Fail maps an error to its HTTP status by class.
func Fail(c *gin.Context, err error) {
	status := statusOf(err)
	meta := map[string]any{"class": classOf(status)}
	var execErr *txn.ExecutionError
	if errors.As(err, &execErr) {
		meta["digest"] = execErr.Digest
	}
	Error(c, status, err.Error(), meta)
}

func statusOf(err error) int {
	var execErr *txn.ExecutionError
	switch {
	case errors.Is(err, service.ErrUnauthorized),
		errors.Is(err, txn.ErrSenderMismatch):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrChallengeMissing),
		errors.Is(err, auth.ErrLoginRejected),
		errors.Is(err, chain.ErrBadSignature):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrSlotBusy),
		errors.Is(err, service.ErrCooldown),
		errors.Is(err, service.ErrQueueEmpty),
		errors.Is(err, service.ErrNotInCustody),
		errors.Is(err, service.ErrAlreadySubmitted),
		errors.Is(err, service.ErrChainMismatch),
		errors.Is(err, service.ErrAuctionExpired):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrBidTooLow),
		errors.Is(err, chain.ErrInvalidObjectID),
		errors.Is(err, chain.ErrInvalidType),
		errors.Is(err, txn.ErrInsufficientBalance),
		errors.Is(err, txn.ErrNoGasCoins):
		return http.StatusBadRequest
	case errors.As(err, &execErr),
		errors.Is(err, service.ErrBidNotConfirmed):
		return http.StatusUnprocessableEntity
	case chain.IsTransient(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func classOf(status int) string {
	switch {
	case status == http.StatusUnprocessableEntity:
		return "ledger"
	case status == http.StatusBadGateway:
		return "transient"
	case status >= 500:
		return "internal"
	}
	return "validation"
}
