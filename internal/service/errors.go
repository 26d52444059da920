package service

import (
	"errors"

	"auctionhouse/internal/chain"
)

var (
	ErrUnauthorized      = errors.New("caller is not authorized")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("auction record not found")
	ErrBidTooLow         = errors.New("bid does not exceed current bid plus minimum increment")
	ErrAuctionExpired    = errors.New("auction has ended")
	ErrCooldown          = errors.New("cooldown after the last auction has not elapsed")
	ErrSlotBusy          = errors.New("another auction is active")
	ErrNotInCustody      = errors.New("nft custody does not match the record")
	ErrInvalidInput      = errors.New("invalid input")
	ErrChainMismatch     = errors.New("chain object does not match the record")
	ErrBidNotConfirmed   = errors.New("bid event not found in transaction effects")
	ErrQueueEmpty        = errors.New("no queued auction")
	ErrAlreadySubmitted  = errors.New("nft already has an open application")
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

// Caller is the verified identity behind a workflow call.
type Caller struct {
	Address chain.Address
	Role    Role
}

// SystemCaller is used by timers and scheduled jobs; it acts as the admin.
func SystemCaller(admin chain.Address) Caller {
	return Caller{Address: admin, Role: RoleSystem}
}
