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

// Slot describes whether an activation may run now.
type Slot struct {
	Active      *models.AuctionRecord `json:"active,omitempty"`
	LastEndedAt *time.Time            `json:"last_completed_at,omitempty"`
	NextStartAt time.Time             `json:"next_start_at"`
	Cooldown    bool                  `json:"cooldown"`
}

// SlotState reads the single auction lane.
func (m *Machine) SlotState(ctx context.Context) (Slot, error) {
	var slot Slot
	active, err := m.Repo.ListAuctions(ctx, repository.ListAuctionsParams{
		Limit:    1,
		Statuses: []models.AuctionStatus{models.StatusActive},
	})
	if err != nil {
		return slot, err
	}
	if len(active) > 0 {
		slot.Active = &active[0]
	}
	desc := false
	last, err := m.Repo.ListAuctions(ctx, repository.ListAuctionsParams{
		Limit:    1,
		Statuses: []models.AuctionStatus{models.StatusCompleted},
		OrderBy:  "completed_at",
		Asc:      &desc,
	})
	if err != nil {
		return slot, err
	}
	if len(last) > 0 && last[0].CompletedAt != nil {
		slot.LastEndedAt = last[0].CompletedAt
	}
	slot.NextStartAt = CooldownUntil(slot.LastEndedAt, m.Config.Cooldown)
	slot.Cooldown = m.now().Before(slot.NextStartAt)
	return slot, nil
}

// Queue returns queued records in activation order.
func (m *Machine) Queue(ctx context.Context) ([]models.AuctionRecord, error) {
	items, err := m.Repo.ListAuctions(ctx, repository.ListAuctionsParams{
		Limit:    500,
		Statuses: []models.AuctionStatus{models.StatusQueued},
	})
	if err != nil {
		return nil, err
	}
	return QueueOrder(items), nil
}

// Activate starts the auction for a queued record. Only the head of the
// queue may start, only when no auction runs and the cooldown has elapsed.
func (m *Machine) Activate(ctx context.Context, c Caller, id uuid.UUID) (*Outcome, error) {
	if err := m.requireAdmin(c); err != nil {
		return nil, err
	}
	m.activation.Lock()
	defer m.activation.Unlock()
	return m.activate(ctx, id)
}

// ActivateNext starts the auction for the current queue head.
func (m *Machine) ActivateNext(ctx context.Context, c Caller) (*Outcome, error) {
	if err := m.requireAdmin(c); err != nil {
		return nil, err
	}
	m.activation.Lock()
	defer m.activation.Unlock()
	queue, err := m.Queue(ctx)
	if err != nil {
		return nil, err
	}
	if len(queue) == 0 {
		return nil, ErrQueueEmpty
	}
	return m.activate(ctx, queue[0].ID)
}

// AutoActivate is the scheduled form of ActivateNext. A busy slot, a
// running cooldown or an empty queue is not an error.
func (m *Machine) AutoActivate(ctx context.Context) (*Outcome, error) {
	if !m.Settings.IsEnabled(ctx, FeatureAutoActivate, false) {
		return nil, nil
	}
	out, err := m.ActivateNext(ctx, SystemCaller(m.Config.AdminAddress))
	if errors.Is(err, ErrQueueEmpty) || errors.Is(err, ErrSlotBusy) || errors.Is(err, ErrCooldown) {
		return nil, nil
	}
	return out, err
}

func (m *Machine) activate(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	unlock := m.locks.Lock(id.String())
	defer unlock()
	rec, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(rec, models.StatusActive, models.StatusQueued); err != nil {
		return nil, err
	}
	slot, err := m.SlotState(ctx)
	if err != nil {
		return nil, err
	}
	if slot.Active != nil {
		return nil, fmt.Errorf("%w: %s", ErrSlotBusy, slot.Active.ID)
	}
	if slot.Cooldown {
		return nil, fmt.Errorf("%w: next start at %s", ErrCooldown, slot.NextStartAt.Format(time.RFC3339))
	}
	queue, err := m.Queue(ctx)
	if err != nil {
		return nil, err
	}
	if len(queue) == 0 || queue[0].ID != rec.ID {
		return nil, fmt.Errorf("%w: %s is not at the head of the queue", ErrInvalidTransition, rec.ID)
	}

	cust, err := m.custody(ctx, rec.TokenID)
	if err != nil {
		return nil, err
	}
	if !cust.InKiosk {
		return nil, fmt.Errorf("%w: nft %s is not in the custody container", ErrNotInCustody, rec.TokenID)
	}
	tag, err := nftType(rec)
	if err != nil {
		return nil, err
	}
	nftID, err := chain.ParseID(rec.TokenID)
	if err != nil {
		return nil, err
	}
	durationMs := uint64(time.Duration(rec.AuctionDurationHours) * time.Hour / time.Millisecond)
	d, err := m.Tx.ListNFT(ctx, rec.ID.String(), nftID, tag, uint64(rec.StartingBid), durationMs)
	if err != nil {
		return nil, err
	}
	// Listing is not rebuilt on failure: a second listing would create a
	// second auction object.
	res, err := m.Tx.Submit(ctx, d)
	if err != nil {
		return nil, err
	}
	origin := Origin{Operation: txn.ActionListNFT, Digest: res.Digest}
	startedAt := m.now()
	created := res.Effects.Created("::marketplace::Auction")
	if len(created) == 0 {
		m.Reconciler.flag(ctx, rec.ID, repository.Patch{"status": models.StatusActive}, origin, "listing produced no auction object")
		return &Outcome{Record: rec, Digest: res.Digest, Divergent: true}, nil
	}
	patch := repository.Patch{
		"status":            models.StatusActive,
		"started_at":        timePtr(startedAt),
		"auction_object_id": strPtr(created[0].String()),
		"current_bid":       rec.StartingBid,
	}

	// Another process may have activated a record while the listing was in
	// flight. The chain object exists either way; the record is left for
	// an operator.
	if other, err := m.SlotState(ctx); err == nil && other.Active != nil && other.Active.ID != rec.ID {
		m.Reconciler.flag(ctx, rec.ID, patch, origin, fmt.Sprintf("concurrent activation of %s", other.Active.ID))
		return &Outcome{Record: rec, Digest: res.Digest, Divergent: true}, nil
	}

	out := m.commit(ctx, rec, patch, origin)
	if !out.Divergent {
		m.info("auction activated", out.Record, zap.String("object_id", created[0].String()), zap.String("digest", res.Digest))
	}
	return out, nil
}
