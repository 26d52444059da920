package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"auctionhouse/internal/metrics"
	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
	"auctionhouse/internal/retry"
)

// Origin names the ledger action a record write follows.
type Origin struct {
	Operation string
	Digest    string
}

// DivergenceSink receives divergences for out-of-band alerting.
type DivergenceSink interface {
	ReportDivergence(ctx context.Context, d models.Divergence)
}

// Reconciler commits record writes that follow a completed ledger action.
// A write that cannot be confirmed is recorded as a divergence instead of
// failing the caller; the ledger action is never repeated.
type Reconciler struct {
	Repo   repository.Repository
	Retry  retry.Policy
	Logger *zap.Logger
	Sink   DivergenceSink
}

var errUnverified = errors.New("record does not reflect the patch")

// UpdateRecordVerified writes patch and re-reads the record until every
// patched column matches. It returns false when the retry budget runs out.
func (r *Reconciler) UpdateRecordVerified(ctx context.Context, id uuid.UUID, patch repository.Patch, origin Origin) bool {
	if r == nil || r.Repo == nil || len(patch) == 0 {
		return true
	}
	err := r.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := r.Repo.UpdateAuction(ctx, id, patch); err != nil {
			r.logAttempt(id, origin, attempt, err)
			return err
		}
		rec, err := r.Repo.GetAuction(ctx, id)
		if err != nil {
			r.logAttempt(id, origin, attempt, err)
			return err
		}
		if mismatch := Mismatch(rec, patch); mismatch != "" {
			err := fmt.Errorf("%w: %s", errUnverified, mismatch)
			r.logAttempt(id, origin, attempt, err)
			return err
		}
		return nil
	})
	if err == nil {
		return true
	}
	r.flag(ctx, id, patch, origin, err.Error())
	return false
}

// CreateRecordVerified inserts rec and confirms it can be read back.
func (r *Reconciler) CreateRecordVerified(ctx context.Context, rec *models.AuctionRecord, origin Origin) bool {
	if r == nil || r.Repo == nil || rec == nil {
		return true
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	err := r.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		existing, err := r.Repo.GetAuction(ctx, rec.ID)
		if err == nil && existing == nil {
			err = r.Repo.CreateAuction(ctx, rec)
			if err == nil {
				existing, err = r.Repo.GetAuction(ctx, rec.ID)
			}
		}
		if err != nil {
			r.logAttempt(rec.ID, origin, attempt, err)
			return err
		}
		if existing == nil {
			return fmt.Errorf("%w: created record not readable", errUnverified)
		}
		return nil
	})
	if err == nil {
		return true
	}
	patch := repository.Patch{
		"token_id":               rec.TokenID,
		"collection_type":        rec.CollectionType,
		"seller":                 rec.Seller,
		"starting_bid":           rec.StartingBid,
		"auction_duration_hours": rec.AuctionDurationHours,
		"status":                 rec.Status,
	}
	r.flag(ctx, rec.ID, patch, origin, err.Error())
	return false
}

func (r *Reconciler) logAttempt(id uuid.UUID, origin Origin, attempt int, err error) {
	if r.Logger == nil {
		return
	}
	r.Logger.Warn("record write not confirmed",
		zap.String("auction_id", id.String()),
		zap.String("operation", origin.Operation),
		zap.String("digest", origin.Digest),
		zap.Int("attempt", attempt),
		zap.Error(err),
	)
}

// flagOnce records a divergence unless an unresolved one with the same
// operation and reason is already open for id. It reports whether a new row
// was written.
func (r *Reconciler) flagOnce(ctx context.Context, id uuid.UUID, patch repository.Patch, origin Origin, reason string) bool {
	if r == nil || r.Repo == nil {
		return false
	}
	open := false
	items, err := r.Repo.ListDivergences(ctx, repository.ListDivergencesParams{AuctionID: &id, Resolved: &open, Limit: 100})
	if err == nil {
		for _, d := range items {
			if d.Operation == origin.Operation && d.Reason == reason {
				return false
			}
		}
	}
	r.flag(ctx, id, patch, origin, reason)
	return true
}

func (r *Reconciler) flag(ctx context.Context, id uuid.UUID, patch repository.Patch, origin Origin, reason string) {
	if r == nil || r.Repo == nil {
		return
	}
	metrics.IncDivergence(origin.Operation)
	raw, _ := json.Marshal(patch)
	d := models.Divergence{
		AuctionID: id,
		Operation: origin.Operation,
		TxDigest:  origin.Digest,
		Patch:     datatypes.JSON(raw),
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	if r.Logger != nil {
		r.Logger.Warn("record diverged from ledger",
			zap.String("auction_id", id.String()),
			zap.String("operation", origin.Operation),
			zap.String("digest", origin.Digest),
			zap.String("reason", reason),
		)
	}
	// The store may be the thing that is failing.
	if err := r.Repo.InsertDivergence(context.WithoutCancel(ctx), &d); err != nil && r.Logger != nil {
		r.Logger.Error("divergence not persisted", zap.String("auction_id", id.String()), zap.Error(err))
	}
	if r.Sink != nil {
		r.Sink.ReportDivergence(ctx, d)
	}
}

// Mismatch lists patched columns whose stored value differs. Empty means
// the record reflects the patch.
func Mismatch(rec *models.AuctionRecord, patch repository.Patch) string {
	if rec == nil {
		return "record missing"
	}
	var bad []string
	for col, want := range patch {
		if col == "updated_at" {
			continue
		}
		got, ok := Column(rec, col)
		if !ok {
			bad = append(bad, col+" (unknown column)")
			continue
		}
		if !sameValue(got, want) {
			bad = append(bad, col)
		}
	}
	sort.Strings(bad)
	return strings.Join(bad, ", ")
}

// Column reads an AuctionRecord field by column name.
func Column(rec *models.AuctionRecord, col string) (any, bool) {
	switch col {
	case "token_id":
		return rec.TokenID, true
	case "collection_type":
		return rec.CollectionType, true
	case "name":
		return rec.Name, true
	case "seller":
		return rec.Seller, true
	case "starting_bid":
		return rec.StartingBid, true
	case "auction_duration_hours":
		return rec.AuctionDurationHours, true
	case "is_priority":
		return rec.IsPriority, true
	case "status":
		return rec.Status, true
	case "reject_reason":
		return rec.RejectReason, true
	case "kiosk_id":
		return rec.KioskID, true
	case "custody_cap_id":
		return rec.CustodyCapID, true
	case "auction_object_id":
		return rec.AuctionObjectID, true
	case "current_bid":
		return rec.CurrentBid, true
	case "highest_bidder":
		return rec.HighestBidder, true
	case "winner":
		return rec.Winner, true
	case "final_bid":
		return rec.FinalBid, true
	case "fee_amount":
		return rec.FeeAmount, true
	case "seller_amount":
		return rec.SellerAmount, true
	case "funds_released":
		return rec.FundsReleased, true
	case "nft_transferred":
		return rec.NftTransferred, true
	case "transferred_to":
		return rec.TransferredTo, true
	case "nft_transferred_at":
		return rec.NftTransferredAt, true
	case "started_at":
		return rec.StartedAt, true
	case "completed_at":
		return rec.CompletedAt, true
	case "cancel_requested_at":
		return rec.CancelRequestedAt, true
	}
	return nil, false
}

func sameValue(a, b any) bool {
	x, y := normalize(a), normalize(b)
	if tx, ok := x.(time.Time); ok {
		ty, ok := y.(time.Time)
		return ok && tx.Equal(ty)
	}
	return x == y
}

// normalize maps column values onto comparable scalars; timestamps are
// compared at the store's microsecond precision.
func normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case *string:
		if t == nil {
			return nil
		}
		return *t
	case *int64:
		if t == nil {
			return nil
		}
		return *t
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Truncate(time.Microsecond)
	case time.Time:
		return t.UTC().Truncate(time.Microsecond)
	case models.AuctionStatus:
		return string(t)
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case uint64:
		return int64(t)
	}
	return v
}
