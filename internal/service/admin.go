package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"auctionhouse/internal/chain"
	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
	"auctionhouse/internal/txn"
)

// errAlreadyDone aborts a rebuild when a fresh read shows the ledger is
// already in the target state.
var errAlreadyDone = errors.New("ledger already in target state")

const ReasonCancelApproved = "cancel approved"

// Approve moves the NFT from the admin wallet into the custody container
// and queues the record.
func (m *Machine) Approve(ctx context.Context, c Caller, id uuid.UUID) (*Outcome, error) {
	if err := m.requireAdmin(c); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(id.String())
	defer unlock()
	rec, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(rec, models.StatusQueued, models.StatusPending, models.StatusCancelRequested); err != nil {
		return nil, err
	}
	tag, err := nftType(rec)
	if err != nil {
		return nil, err
	}
	if err := m.verifyCustodyHandles(ctx); err != nil {
		return nil, err
	}

	digest := ""
	res, err := m.Tx.SubmitRevalidated(ctx, func(ctx context.Context) (*txn.Draft, error) {
		cur, err := m.custody(ctx, rec.TokenID)
		if err != nil {
			return nil, err
		}
		if cur.InKiosk {
			return nil, errAlreadyDone
		}
		if !cur.AdminHeld(m.Config.AdminAddress) {
			return nil, fmt.Errorf("%w: nft %s is not held by the admin", ErrNotInCustody, rec.TokenID)
		}
		return m.Tx.PlaceNFT(ctx, rec.ID.String(), cur.Object, tag)
	})
	switch {
	case errors.Is(err, errAlreadyDone):
		m.info("nft already in custody, reconciling record only", rec)
	case err != nil:
		return nil, err
	default:
		digest = res.Digest
	}

	out := m.commit(ctx, rec, repository.Patch{
		"status":         models.StatusQueued,
		"kiosk_id":       m.Config.KioskID.String(),
		"custody_cap_id": m.Config.KioskCapID.String(),
	}, Origin{Operation: txn.ActionPlaceNFT, Digest: digest})
	out.Skipped = digest == ""
	return out, nil
}

// Reject returns the NFT to the seller and closes the application.
func (m *Machine) Reject(ctx context.Context, c Caller, id uuid.UUID, reason string) (*Outcome, error) {
	return m.reject(ctx, c, id, reason, models.StatusPending, models.StatusCancelRequested)
}

// ApproveCancel grants a seller's cancel request.
func (m *Machine) ApproveCancel(ctx context.Context, c Caller, id uuid.UUID) (*Outcome, error) {
	return m.reject(ctx, c, id, ReasonCancelApproved, models.StatusCancelRequested)
}

func (m *Machine) reject(ctx context.Context, c Caller, id uuid.UUID, reason string, from ...models.AuctionStatus) (*Outcome, error) {
	if err := m.requireAdmin(c); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(id.String())
	defer unlock()
	rec, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(rec, models.StatusRejected, from...); err != nil {
		return nil, err
	}
	digest, err := m.returnToSeller(ctx, rec, txn.ActionReturnNFT)
	if err != nil {
		return nil, err
	}
	out := m.commit(ctx, rec, repository.Patch{
		"status":             models.StatusRejected,
		"reject_reason":      reason,
		"nft_transferred":    true,
		"transferred_to":     strPtr(rec.Seller),
		"nft_transferred_at": timePtr(m.now()),
	}, Origin{Operation: txn.ActionReturnNFT, Digest: digest})
	out.Skipped = digest == ""
	return out, nil
}

// returnToSeller sends the NFT back from wherever it is held. An empty
// digest means the seller already holds it.
func (m *Machine) returnToSeller(ctx context.Context, rec *models.AuctionRecord, action string) (string, error) {
	seller, err := chain.ParseID(rec.Seller)
	if err != nil {
		return "", err
	}
	tag, err := nftType(rec)
	if err != nil {
		return "", err
	}
	res, err := m.Tx.SubmitRevalidated(ctx, func(ctx context.Context) (*txn.Draft, error) {
		cur, err := m.custody(ctx, rec.TokenID)
		if err != nil {
			return nil, err
		}
		switch {
		case cur.HeldBy == seller:
			return nil, errAlreadyDone
		case cur.AdminHeld(m.Config.AdminAddress):
			return m.Tx.ReturnNFT(ctx, rec.ID.String(), cur.Object, tag, seller)
		case cur.InKiosk:
			nftID, _ := chain.ParseID(rec.TokenID)
			return m.Tx.TakeNFT(ctx, action, rec.ID.String(), nftID, tag, seller, cur.Listed)
		}
		return nil, fmt.Errorf("%w: nft %s is neither held by the admin nor in custody", ErrNotInCustody, rec.TokenID)
	})
	if errors.Is(err, errAlreadyDone) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return res.Digest, nil
}

// DenyCancel keeps the application and returns it to pending.
func (m *Machine) DenyCancel(ctx context.Context, c Caller, id uuid.UUID) (*Outcome, error) {
	if err := m.requireAdmin(c); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(id.String())
	defer unlock()
	rec, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(rec, models.StatusPending, models.StatusCancelRequested); err != nil {
		return nil, err
	}
	return m.update(ctx, rec, repository.Patch{
		"status":              models.StatusPending,
		"cancel_requested_at": (*time.Time)(nil),
	})
}

func (m *Machine) SetPriority(ctx context.Context, c Caller, id uuid.UUID, priority bool) (*Outcome, error) {
	if err := m.requireAdmin(c); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(id.String())
	defer unlock()
	rec, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusPending && rec.Status != models.StatusQueued {
		return nil, fmt.Errorf("%w: priority only applies before activation", ErrInvalidTransition)
	}
	return m.update(ctx, rec, repository.Patch{"is_priority": priority})
}

// Delist withdraws a queued or running auction and returns the NFT to the
// seller. Delisting and retiring the auction object are best effort; the
// withdrawal itself is not.
func (m *Machine) Delist(ctx context.Context, c Caller, id uuid.UUID) (*Outcome, error) {
	if err := m.requireAdmin(c); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(id.String())
	defer unlock()
	rec, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(rec, models.StatusCanceled, models.StatusQueued, models.StatusActive); err != nil {
		return nil, err
	}
	cust, err := m.custody(ctx, rec.TokenID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	if !cust.InKiosk {
		m.info("nft not in custody, marking canceled", rec)
		out := m.commit(ctx, rec, repository.Patch{
			"status":             models.StatusCanceled,
			"nft_transferred":    true,
			"nft_transferred_at": timePtr(now),
		}, Origin{Operation: txn.ActionDelist})
		m.dropBids(ctx, rec)
		out.Skipped = true
		return out, nil
	}

	tag, err := nftType(rec)
	if err != nil {
		return nil, err
	}
	nftID, err := chain.ParseID(rec.TokenID)
	if err != nil {
		return nil, err
	}
	if rec.Status == models.StatusActive || cust.Listed {
		if d, err := m.Tx.Delist(ctx, rec.ID.String(), nftID, tag); err == nil {
			if _, err := m.Tx.Submit(ctx, d); err != nil {
				m.warn("delist failed, continuing with withdrawal", rec, err)
			}
		} else {
			m.warn("delist build failed, continuing with withdrawal", rec, err)
		}
	}

	digest, err := m.returnToSeller(ctx, rec, txn.ActionTakeNFT)
	if err != nil {
		return nil, err
	}

	if rec.Status == models.StatusActive && rec.AuctionObject() != "" {
		m.retireAuction(ctx, rec)
	}

	out := m.commit(ctx, rec, repository.Patch{
		"status":             models.StatusCanceled,
		"nft_transferred":    true,
		"transferred_to":     strPtr(rec.Seller),
		"nft_transferred_at": timePtr(now),
	}, Origin{Operation: txn.ActionTakeNFT, Digest: digest})
	m.dropBids(ctx, rec)
	return out, nil
}

func (m *Machine) retireAuction(ctx context.Context, rec *models.AuctionRecord) {
	_, obj, err := m.readAuction(ctx, rec.AuctionObject())
	if err != nil {
		m.warn("auction object unreadable, not retired", rec, err)
		return
	}
	d, err := m.Tx.RetireAuction(ctx, rec.ID.String(), obj)
	if err == nil {
		_, err = m.Tx.Submit(ctx, d)
	}
	if err != nil {
		m.warn("auction object not retired", rec, err)
		return
	}
	if m.Logger != nil {
		m.Logger.Info("auction object retired", zap.String("auction_id", rec.ID.String()), zap.String("object_id", rec.AuctionObject()))
	}
}
