package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"auctionhouse/internal/chain"
	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
	"auctionhouse/internal/txn"
)

func (m *Machine) bidEventType() string {
	return m.Config.PackageID.String() + "::marketplace::BidPlaced"
}

// minimumBid is the smallest amount strictly above the floor: the larger
// of the recorded and on-chain current bid plus the increment.
func (m *Machine) minimumBid(rec *models.AuctionRecord, a *ChainAuction) int64 {
	current := rec.CurrentBid
	if onChain := int64(a.CurrentBid); onChain > current {
		current = onChain
	}
	return current + m.Config.MinIncrement
}

// PrepareBid validates a bid against the live auction object and returns
// the unsigned transaction for the bidder's wallet.
func (m *Machine) PrepareBid(ctx context.Context, c Caller, id uuid.UUID, amount int64) (*txn.Prepared, error) {
	if c.Address.IsZero() {
		return nil, ErrUnauthorized
	}
	rec, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusActive || rec.AuctionObject() == "" {
		return nil, fmt.Errorf("%w: auction is %s", ErrInvalidTransition, rec.Status)
	}
	if chain.SameID(rec.Seller, c.Address.String()) {
		return nil, fmt.Errorf("%w: seller cannot bid on own auction", ErrInvalidInput)
	}
	a, obj, err := m.readAuction(ctx, rec.AuctionObject())
	if err != nil {
		return nil, err
	}
	if a.Expired(m.now()) {
		return nil, ErrAuctionExpired
	}
	if floor := m.minimumBid(rec, a); amount <= floor {
		return nil, fmt.Errorf("%w: must exceed %d", ErrBidTooLow, floor)
	}
	d, err := m.Tx.PlaceBid(ctx, rec.ID.String(), obj, c.Address, uint64(amount))
	if err != nil {
		return nil, err
	}
	return m.Tx.Prepare(ctx, d)
}

// ExecuteBid submits a wallet-signed bid. The bid counts only when the
// executed transaction emitted a BidPlaced event for this auction object.
func (m *Machine) ExecuteBid(ctx context.Context, c Caller, id uuid.UUID, txBytes, signature string) (*Outcome, error) {
	if c.Address.IsZero() {
		return nil, ErrUnauthorized
	}
	rec, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusActive || rec.AuctionObject() == "" {
		return nil, fmt.Errorf("%w: auction is %s", ErrInvalidTransition, rec.Status)
	}
	res, err := m.Tx.ExecuteSigned(ctx, txn.ActionPlaceBid, rec.ID.String(), txBytes, signature, c.Address)
	if err != nil {
		return nil, err
	}

	var event *chain.Event
	for _, ev := range res.Effects.EventsOf(m.bidEventType()) {
		if chain.SameID(ev.ParsedJSON.Get("auction_id").String(), rec.AuctionObject()) {
			ev := ev
			event = &ev
			break
		}
	}
	if event == nil {
		return nil, fmt.Errorf("%w: digest %s", ErrBidNotConfirmed, res.Digest)
	}
	bidder := event.ParsedJSON.Get("bidder").String()
	if addr, err := chain.ParseShortID(bidder); err == nil {
		bidder = addr.String()
	}
	amount := int64(parseUint(event.ParsedJSON.Get("amount").String()))
	at := m.now()
	if ts := event.TimestampMs; ts > 0 {
		at = time.UnixMilli(ts).UTC()
	} else if ts := res.Effects.TimestampMs; ts > 0 {
		at = time.UnixMilli(ts).UTC()
	}

	unlock := m.locks.Lock(id.String())
	defer unlock()
	rec, err = m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusActive {
		// Ended while the bid executed; its bid history is already cleared.
		return &Outcome{Record: rec, Digest: res.Digest, Skipped: true}, nil
	}
	if err := m.Repo.InsertBid(ctx, &models.BidRecord{
		AuctionID:       rec.ID,
		AuctionObjectID: rec.AuctionObject(),
		Bidder:          bidder,
		Amount:          amount,
		TxDigest:        res.Digest,
		Timestamp:       at,
	}); err != nil {
		m.warn("bid record not stored", rec, err)
	}

	newBid, newBidder := amount, bidder
	if a, _, err := m.readAuction(ctx, rec.AuctionObject()); err == nil && int64(a.CurrentBid) >= amount {
		newBid, newBidder = int64(a.CurrentBid), a.HighestBidder.String()
	}
	if newBid <= rec.CurrentBid {
		// A later bid was already recorded.
		return &Outcome{Record: rec, Digest: res.Digest, Skipped: true}, nil
	}
	out := m.commit(ctx, rec, repository.Patch{
		"current_bid":    newBid,
		"highest_bidder": strPtr(newBidder),
	}, Origin{Operation: txn.ActionPlaceBid, Digest: res.Digest})
	if m.Logger != nil {
		m.Logger.Info("bid confirmed",
			zap.String("auction_id", rec.ID.String()),
			zap.String("bidder", bidder),
			zap.Int64("amount", amount),
			zap.String("digest", res.Digest),
		)
	}
	return out, nil
}

// Bids lists the recorded bids of an auction, newest first.
func (m *Machine) Bids(ctx context.Context, id uuid.UUID, limit int) ([]models.BidRecord, error) {
	return m.Repo.ListBids(ctx, id, limit)
}
