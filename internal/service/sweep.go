package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"auctionhouse/internal/chain"
	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
)

const OperationSweep = "reconcile_sweep"

type SweepReport struct {
	Checked   int      `json:"checked"`
	Repaired  int      `json:"repaired"`
	Divergent int      `json:"divergent"`
	Errors    []string `json:"errors,omitempty"`
}

func (r *SweepReport) fail(rec *models.AuctionRecord, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", rec.ID, err))
}

// ScheduledSweep runs Sweep when the reconcile switch is on.
func (m *Machine) ScheduledSweep(ctx context.Context) (*SweepReport, error) {
	if !m.Settings.IsEnabled(ctx, FeatureReconcileSweep, true) {
		return nil, nil
	}
	return m.Sweep(ctx)
}

// Sweep compares non-terminal and recently completed records with the
// chain and repairs what the chain contradicts. Repairs go through the
// reconciler; nothing here submits a transaction except ending auctions
// the chain already reports as closed, which needs none.
func (m *Machine) Sweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}
	active, err := m.Repo.ListAuctions(ctx, repository.ListAuctionsParams{
		Limit:    50,
		Statuses: []models.AuctionStatus{models.StatusActive},
	})
	if err != nil {
		return nil, err
	}
	for i := range active {
		m.sweepActive(ctx, &active[i], report)
	}

	queued, err := m.Repo.ListAuctions(ctx, repository.ListAuctionsParams{
		Limit:    200,
		Statuses: []models.AuctionStatus{models.StatusQueued},
	})
	if err != nil {
		return nil, err
	}
	for i := range queued {
		m.sweepQueued(ctx, &queued[i], report)
	}

	desc := false
	completed, err := m.Repo.ListAuctions(ctx, repository.ListAuctionsParams{
		Limit:    100,
		Statuses: []models.AuctionStatus{models.StatusCompleted},
		OrderBy:  "completed_at",
		Asc:      &desc,
	})
	if err != nil {
		return nil, err
	}
	for i := range completed {
		m.sweepCompleted(ctx, &completed[i], report)
	}

	if m.Logger != nil {
		m.Logger.Info("reconcile sweep finished",
			zap.Int("checked", report.Checked),
			zap.Int("repaired", report.Repaired),
			zap.Int("divergent", report.Divergent),
			zap.Int("errors", len(report.Errors)),
		)
	}
	return report, nil
}

func (m *Machine) sweepActive(ctx context.Context, rec *models.AuctionRecord, report *SweepReport) {
	report.Checked++
	if rec.AuctionObject() == "" {
		m.Reconciler.flagOnce(ctx, rec.ID, repository.Patch{"auction_object_id": nil}, Origin{Operation: OperationSweep}, "active record without auction object")
		report.Divergent++
		return
	}
	objectID, err := chain.ParseID(rec.AuctionObject())
	if err != nil {
		report.fail(rec, err)
		return
	}
	obj, err := m.getObject(ctx, objectID)
	if err != nil {
		report.fail(rec, err)
		return
	}
	if obj == nil {
		m.Reconciler.flagOnce(ctx, rec.ID, repository.Patch{}, Origin{Operation: OperationSweep}, "auction object no longer exists")
		report.Divergent++
		return
	}
	a, err := DecodeAuction(obj, m.Config.PackageID)
	if err != nil {
		report.fail(rec, err)
		return
	}
	if a.Ended() {
		out, err := m.EndAuction(ctx, SystemCaller(m.Config.AdminAddress), rec.ID)
		switch {
		case err != nil:
			report.fail(rec, err)
		case out.Divergent:
			report.Divergent++
		default:
			report.Repaired++
		}
		return
	}
	if int64(a.CurrentBid) <= rec.CurrentBid {
		return
	}
	unlock := m.locks.Lock(rec.ID.String())
	defer unlock()
	patch := repository.Patch{"current_bid": int64(a.CurrentBid)}
	if !a.HighestBidder.IsZero() {
		patch["highest_bidder"] = strPtr(a.HighestBidder.String())
	}
	if m.Reconciler.UpdateRecordVerified(ctx, rec.ID, patch, Origin{Operation: OperationSweep}) {
		report.Repaired++
	} else {
		report.Divergent++
	}
}

func (m *Machine) sweepQueued(ctx context.Context, rec *models.AuctionRecord, report *SweepReport) {
	report.Checked++
	cust, err := m.custody(ctx, rec.TokenID)
	if err != nil {
		report.fail(rec, err)
		return
	}
	if !cust.InKiosk {
		m.Reconciler.flagOnce(ctx, rec.ID, repository.Patch{}, Origin{Operation: OperationSweep}, "queued nft is not in the custody container")
		report.Divergent++
	}
}

func (m *Machine) sweepCompleted(ctx context.Context, rec *models.AuctionRecord, report *SweepReport) {
	if rec.NftTransferred || rec.Winner == nil {
		return
	}
	report.Checked++
	cust, err := m.custody(ctx, rec.TokenID)
	if err != nil {
		report.fail(rec, err)
		return
	}
	if cust.InKiosk || !chain.SameID(cust.HeldBy.String(), *rec.Winner) {
		return
	}
	unlock := m.locks.Lock(rec.ID.String())
	defer unlock()
	patch := repository.Patch{
		"nft_transferred": true,
		"transferred_to":  strPtr(*rec.Winner),
	}
	if m.Reconciler.UpdateRecordVerified(ctx, rec.ID, patch, Origin{Operation: OperationSweep}) {
		report.Repaired++
	} else {
		report.Divergent++
	}
}

// PurgeStaleBids removes bid records of auctions that can no longer
// receive bids.
func (m *Machine) PurgeStaleBids(ctx context.Context) (int64, error) {
	if !m.Settings.IsEnabled(ctx, FeatureStaleBidPurge, true) {
		return 0, nil
	}
	n, err := m.Repo.DeleteStaleBids(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 && m.Logger != nil {
		m.Logger.Info("stale bid records purged", zap.Int64("count", n))
	}
	return n, nil
}
