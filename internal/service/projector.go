package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"auctionhouse/internal/cache"
	"auctionhouse/internal/chain"
	"auctionhouse/internal/models"
)

type ChainState struct {
	CurrentBid    int64     `json:"current_bid"`
	HighestBidder string    `json:"highest_bidder"`
	EndTime       time.Time `json:"end_time"`
	Status        uint64    `json:"status"`
	Ended         bool      `json:"ended"`
}

// BidEntry is one line of the bid history. Seed marks the synthetic
// starting-bid entry attributed to the seller.
type BidEntry struct {
	Bidder    string    `json:"bidder"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	TxDigest  string    `json:"tx_digest,omitempty"`
	Seed      bool      `json:"seed,omitempty"`
}

type CooldownState struct {
	Active      bool       `json:"active"`
	NextStartAt *time.Time `json:"next_start_at,omitempty"`
}

// LiveView is the public picture of the lane, rebuilt from the record
// store and the chain on every call.
type LiveView struct {
	Auction     *models.AuctionRecord  `json:"auction"`
	Chain       *ChainState            `json:"chain,omitempty"`
	TimeLeftMs  int64                  `json:"time_left_ms"`
	BidHistory  []BidEntry             `json:"bid_history"`
	Queue       []models.AuctionRecord `json:"queue"`
	Cooldown    CooldownState          `json:"cooldown"`
	GeneratedAt time.Time              `json:"generated_at"`
}

type Projector struct {
	Machine *Machine
	// Cache holds transaction timestamps; they never change once final.
	Cache        cache.Store
	CacheTTL     time.Duration
	HistoryLimit int
	QueuePreview int
	Logger       *zap.Logger
}

// Project assembles the current LiveView. It keeps no state between calls
// apart from the timestamp cache.
func (p *Projector) Project(ctx context.Context) (*LiveView, error) {
	m := p.Machine
	view := &LiveView{GeneratedAt: m.now(), BidHistory: []BidEntry{}, Queue: []models.AuctionRecord{}}

	var slot Slot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		slot, err = m.SlotState(gctx)
		return err
	})
	g.Go(func() error {
		queue, err := m.Queue(gctx)
		if err != nil {
			return err
		}
		n := p.QueuePreview
		if n <= 0 {
			n = 5
		}
		if len(queue) > n {
			queue = queue[:n]
		}
		view.Queue = queue
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if slot.Cooldown {
		next := slot.NextStartAt
		view.Cooldown = CooldownState{Active: true, NextStartAt: &next}
	}
	if slot.Active == nil {
		return view, nil
	}
	rec := slot.Active
	view.Auction = rec
	if rec.AuctionObject() == "" {
		return nil, fmt.Errorf("%w: active record %s has no auction object", ErrChainMismatch, rec.ID)
	}

	var (
		a      *ChainAuction
		events []chain.Event
	)
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		a, _, err = m.readAuction(gctx, rec.AuctionObject())
		return err
	})
	g.Go(func() error {
		var err error
		events, err = p.bidEvents(gctx, rec.AuctionObject())
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if !chain.SameID(a.NftID, rec.TokenID) {
		return nil, fmt.Errorf("%w: auction holds nft %s, record has %s", ErrChainMismatch, a.NftID, rec.TokenID)
	}
	if rec.KioskID != "" && a.KioskID != "" && !chain.SameID(a.KioskID, rec.KioskID) {
		return nil, fmt.Errorf("%w: auction kiosk %s, record has %s", ErrChainMismatch, a.KioskID, rec.KioskID)
	}

	bidder := rec.Seller
	if !a.HighestBidder.IsZero() {
		bidder = a.HighestBidder.String()
	}
	view.Chain = &ChainState{
		CurrentBid:    int64(a.CurrentBid),
		HighestBidder: bidder,
		EndTime:       a.EndTime(),
		Status:        a.Status,
		Ended:         a.Ended(),
	}
	if end := a.EndTime(); !end.IsZero() && end.After(view.GeneratedAt) {
		view.TimeLeftMs = end.Sub(view.GeneratedAt).Milliseconds()
	}

	history, err := p.history(ctx, events)
	if err != nil {
		return nil, err
	}
	seed := BidEntry{Bidder: rec.Seller, Amount: rec.StartingBid, Seed: true}
	if rec.StartedAt != nil {
		seed.Timestamp = *rec.StartedAt
	}
	view.BidHistory = append(history, seed)
	return view, nil
}

// bidEvents returns BidPlaced events for one auction object, newest first.
func (p *Projector) bidEvents(ctx context.Context, objectID string) ([]chain.Event, error) {
	limit := p.HistoryLimit
	if limit <= 0 {
		limit = 100
	}
	var page chain.EventPage
	err := readPolicy(p.Machine.ReadRetry).Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		page, err = p.Machine.Chain.QueryEvents(ctx, chain.EventQuery{
			MoveEventType: p.Machine.bidEventType(),
			Limit:         limit,
			Descending:    true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]chain.Event, 0, len(page.Events))
	for _, ev := range page.Events {
		if chain.SameID(ev.ParsedJSON.Get("auction_id").String(), objectID) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// history turns located bid events into entries. An event whose
// transaction time cannot be resolved is dropped rather than guessed.
func (p *Projector) history(ctx context.Context, events []chain.Event) ([]BidEntry, error) {
	entries := make([]BidEntry, len(events))
	keep := make([]bool, len(events))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, ev := range events {
		i, ev := i, ev
		g.Go(func() error {
			ts := ev.TimestampMs
			if ts <= 0 {
				ts = p.txTimestamp(gctx, ev.TxDigest)
			}
			if ts <= 0 {
				return nil
			}
			bidder := ev.ParsedJSON.Get("bidder").String()
			if addr, err := chain.ParseShortID(bidder); err == nil {
				bidder = addr.String()
			}
			entries[i] = BidEntry{
				Bidder:    bidder,
				Amount:    int64(parseUint(ev.ParsedJSON.Get("amount").String())),
				Timestamp: time.UnixMilli(ts).UTC(),
				TxDigest:  ev.TxDigest,
			}
			keep[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]BidEntry, 0, len(entries))
	for i, e := range entries {
		if keep[i] {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (p *Projector) txTimestamp(ctx context.Context, digest string) int64 {
	if digest == "" {
		return 0
	}
	key := "tx:ts:" + digest
	if p.Cache != nil {
		if raw, ok, err := p.Cache.Get(ctx, key); err == nil && ok {
			if ts, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
				return ts
			}
		}
	}
	var eff *chain.Effects
	err := readPolicy(p.Machine.ReadRetry).Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		eff, err = p.Machine.Chain.GetTransactionBlock(ctx, digest)
		return err
	})
	if err != nil || eff == nil || eff.TimestampMs <= 0 {
		if err != nil && p.Logger != nil {
			p.Logger.Debug("transaction timestamp unavailable", zap.String("digest", digest), zap.Error(err))
		}
		return 0
	}
	if p.Cache != nil {
		ttl := p.CacheTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		_ = p.Cache.Set(ctx, key, []byte(strconv.FormatInt(eff.TimestampMs, 10)), ttl)
	}
	return eff.TimestampMs
}
