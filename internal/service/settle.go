package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"auctionhouse/internal/chain"
	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
	"auctionhouse/internal/txn"
)

// winnerOf is the highest bidder unless nobody outbid the seller.
func winnerOf(rec *models.AuctionRecord, a *ChainAuction) *string {
	if a == nil || a.HighestBidder.IsZero() || chain.SameID(a.HighestBidder.String(), rec.Seller) {
		return nil
	}
	return strPtr(a.HighestBidder.String())
}

// FeeSplit divides a final amount into the venue fee (rounded down) and
// the seller's share.
func FeeSplit(final, feeBps int64) (fee, seller int64) {
	if final <= 0 || feeBps <= 0 {
		return 0, final
	}
	fee = decimal.NewFromInt(final).
		Mul(decimal.NewFromInt(feeBps)).
		Div(decimal.NewFromInt(10_000)).
		Floor().
		IntPart()
	return fee, final - fee
}

// endOnChain closes the auction object unless a fresh read shows it is
// already closed. An empty digest means no transaction was needed.
func (m *Machine) endOnChain(ctx context.Context, rec *models.AuctionRecord, action string) (string, error) {
	res, err := m.Tx.SubmitRevalidated(ctx, func(ctx context.Context) (*txn.Draft, error) {
		a, obj, err := m.readAuction(ctx, rec.AuctionObject())
		if err != nil {
			return nil, err
		}
		if a.Ended() {
			return nil, errAlreadyDone
		}
		return m.Tx.EndAuction(ctx, action, rec.ID.String(), obj)
	})
	if errors.Is(err, errAlreadyDone) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return res.Digest, nil
}

// EndAuction closes an active auction and records its winner. Ending an
// auction that is already completed is a no-op, so the expiry timer and a
// manual end may race safely.
func (m *Machine) EndAuction(ctx context.Context, c Caller, id uuid.UUID) (*Outcome, error) {
	if err := m.requireAdmin(c); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(id.String())
	defer unlock()
	rec, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == models.StatusCompleted {
		return &Outcome{Record: rec, Skipped: true}, nil
	}
	if err := requireStatus(rec, models.StatusCompleted, models.StatusActive); err != nil {
		return nil, err
	}
	if rec.AuctionObject() == "" {
		return nil, fmt.Errorf("%w: active record without auction object", ErrChainMismatch)
	}
	digest, err := m.endOnChain(ctx, rec, txn.ActionEndAuction)
	if err != nil {
		return nil, err
	}
	a, _, err := m.readAuction(ctx, rec.AuctionObject())
	if err != nil {
		return nil, err
	}
	patch := repository.Patch{
		"status":       models.StatusCompleted,
		"winner":       winnerOf(rec, a),
		"final_bid":    int64Ptr(int64(a.CurrentBid)),
		"completed_at": timePtr(m.now()),
	}
	if int64(a.CurrentBid) > rec.CurrentBid {
		patch["current_bid"] = int64(a.CurrentBid)
		patch["highest_bidder"] = winnerOf(rec, a)
	}
	out := m.commit(ctx, rec, patch, Origin{Operation: txn.ActionEndAuction, Digest: digest})
	out.Skipped = digest == "" && !out.Divergent
	if !out.Divergent {
		m.dropBids(ctx, rec)
		m.info("auction ended", out.Record, zap.String("digest", digest))
	}
	return out, nil
}

func (m *Machine) dropBids(ctx context.Context, rec *models.AuctionRecord) {
	n, err := m.Repo.DeleteBidsByAuction(ctx, rec.ID)
	if err != nil {
		m.warn("bid records not deleted", rec, err)
		return
	}
	if n > 0 && m.Logger != nil {
		m.Logger.Debug("bid records deleted", zap.String("auction_id", rec.ID.String()), zap.Int64("count", n))
	}
}

// ReleaseFunds settles the payout split of a finished auction. An active
// record whose bidding window has closed is ended first. Afterwards the
// next queued auction is started when the lane and cooldown allow it.
func (m *Machine) ReleaseFunds(ctx context.Context, c Caller, id uuid.UUID) (*Outcome, error) {
	if err := m.requireAdmin(c); err != nil {
		return nil, err
	}
	out, err := m.releaseFunds(ctx, id)
	if err != nil || out.Divergent || out.Skipped {
		return out, err
	}
	if _, err := m.ActivateNext(ctx, SystemCaller(m.Config.AdminAddress)); err != nil && m.Logger != nil {
		m.Logger.Info("next auction not started", zap.String("after", id.String()), zap.String("reason", err.Error()))
	}
	return out, nil
}

func (m *Machine) releaseFunds(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	unlock := m.locks.Lock(id.String())
	defer unlock()
	rec, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.FundsReleased {
		return &Outcome{Record: rec, Skipped: true}, nil
	}
	if err := requireStatus(rec, models.StatusCompleted, models.StatusCompleted, models.StatusActive); err != nil {
		return nil, err
	}
	if rec.AuctionObject() == "" {
		return nil, fmt.Errorf("%w: record has no auction object", ErrChainMismatch)
	}
	a, _, err := m.readAuction(ctx, rec.AuctionObject())
	if err != nil {
		return nil, err
	}
	if rec.Status == models.StatusActive && !a.Expired(m.now()) {
		return nil, fmt.Errorf("%w: auction is still running", ErrInvalidTransition)
	}

	// The balance is read before the end transaction moves anything.
	final := int64(a.Balance)
	if a.Ended() {
		final = int64(a.CurrentBid)
	}
	if winnerOf(rec, a) == nil {
		final = 0
	}
	digest, err := m.endOnChain(ctx, rec, txn.ActionReleaseFunds)
	if err != nil {
		return nil, err
	}

	fee, seller := FeeSplit(final, m.Config.FeeBps)
	patch := repository.Patch{
		"funds_released": true,
		"final_bid":      int64Ptr(final),
		"fee_amount":     int64Ptr(fee),
		"seller_amount":  int64Ptr(seller),
	}
	if rec.Status == models.StatusActive {
		patch["status"] = models.StatusCompleted
		patch["winner"] = winnerOf(rec, a)
		patch["completed_at"] = timePtr(m.now())
	}
	out := m.commit(ctx, rec, patch, Origin{Operation: txn.ActionReleaseFunds, Digest: digest})
	if !out.Divergent {
		if rec.Status == models.StatusActive {
			m.dropBids(ctx, rec)
		}
		m.info("funds released", out.Record, zap.Int64("final", final), zap.Int64("fee", fee), zap.String("fee_address", m.Config.FeeAddress.String()), zap.Int64("seller_amount", seller))
	}
	return out, nil
}

// ReleaseNft hands the NFT of a completed auction to its winner.
func (m *Machine) ReleaseNft(ctx context.Context, c Caller, id uuid.UUID) (*Outcome, error) {
	if err := m.requireAdmin(c); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(id.String())
	defer unlock()
	rec, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusCompleted {
		return nil, fmt.Errorf("%w: auction is %s", ErrInvalidTransition, rec.Status)
	}
	if rec.NftTransferred {
		return &Outcome{Record: rec, Skipped: true}, nil
	}
	if rec.Winner == nil || *rec.Winner == "" || chain.SameID(*rec.Winner, rec.Seller) {
		return nil, fmt.Errorf("%w: auction has no winner", ErrInvalidTransition)
	}
	winner, err := chain.ParseID(*rec.Winner)
	if err != nil {
		return nil, err
	}
	cust, err := m.custody(ctx, rec.TokenID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	if !cust.InKiosk {
		m.info("nft no longer in custody, flagging as transferred", rec)
		out := m.commit(ctx, rec, repository.Patch{"nft_transferred": true}, Origin{Operation: txn.ActionReleaseNFT})
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
	digest := ""
	res, err := m.Tx.SubmitRevalidated(ctx, func(ctx context.Context) (*txn.Draft, error) {
		cur, err := m.custody(ctx, rec.TokenID)
		if err != nil {
			return nil, err
		}
		if !cur.InKiosk {
			return nil, errAlreadyDone
		}
		return m.Tx.TakeNFT(ctx, txn.ActionReleaseNFT, rec.ID.String(), nftID, tag, winner, cur.Listed)
	})
	switch {
	case errors.Is(err, errAlreadyDone):
	case err != nil:
		return nil, err
	default:
		digest = res.Digest
	}
	return m.commit(ctx, rec, repository.Patch{
		"nft_transferred":    true,
		"transferred_to":     strPtr(winner.String()),
		"nft_transferred_at": timePtr(now),
	}, Origin{Operation: txn.ActionReleaseNFT, Digest: digest}), nil
}
