package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"auctionhouse/internal/chain"
	"auctionhouse/internal/changefeed"
	"auctionhouse/internal/metrics"
	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
	"auctionhouse/internal/retry"
	"auctionhouse/internal/txn"
)

type Config struct {
	AdminAddress     chain.Address
	PackageID        chain.ID
	KioskID          chain.ID
	KioskCapID       chain.ID
	FeeAddress       chain.Address
	MinIncrement     int64
	Cooldown         time.Duration
	FeeBps           int64
	MaxDurationHours int
}

// Outcome is the result of a workflow operation. Divergent means the ledger
// action succeeded but the record could not be confirmed.
type Outcome struct {
	Record    *models.AuctionRecord `json:"record,omitempty"`
	Digest    string                `json:"digest,omitempty"`
	Skipped   bool                  `json:"skipped,omitempty"`
	Divergent bool                  `json:"divergent,omitempty"`
}

// Machine owns the auction workflow: legal transitions, scheduling, and the
// mapping of intents onto ledger transactions and record writes.
type Machine struct {
	Repo       repository.Repository
	Chain      chain.Reader
	Tx         *txn.Orchestrator
	Reconciler *Reconciler
	Settings   *SystemSettingsService
	Logger     *zap.Logger
	Config     Config
	ReadRetry  retry.Policy

	// Now is overridable in tests.
	Now func() time.Time

	locks keyedMutex
	// activation serializes activations within this process; the ledger
	// enforces exclusion across processes.
	activation sync.Mutex
}

func (m *Machine) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC().Truncate(time.Microsecond)
	}
	return time.Now().UTC().Truncate(time.Microsecond)
}

// OnRecordsChanged subscribes to record changes matching filter.
func (m *Machine) OnRecordsChanged(filter changefeed.Filter, fn func(changefeed.Event)) func() {
	if m == nil || m.Repo == nil {
		return func() {}
	}
	return m.Repo.Subscribe(filter, fn)
}

func (m *Machine) requireAdmin(c Caller) error {
	if m.Config.AdminAddress.IsZero() || c.Address != m.Config.AdminAddress {
		return ErrUnauthorized
	}
	return nil
}

func (m *Machine) load(ctx context.Context, id uuid.UUID) (*models.AuctionRecord, error) {
	rec, err := m.Repo.GetAuction(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (m *Machine) Get(ctx context.Context, id uuid.UUID) (*models.AuctionRecord, error) {
	return m.load(ctx, id)
}

func requireStatus(rec *models.AuctionRecord, to models.AuctionStatus, allowed ...models.AuctionStatus) error {
	for _, s := range allowed {
		if rec.Status == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, to)
}

// commit applies a post-ledger patch through the reconciler and re-reads
// the record for the caller.
func (m *Machine) commit(ctx context.Context, rec *models.AuctionRecord, patch repository.Patch, origin Origin) *Outcome {
	out := &Outcome{Digest: origin.Digest}
	from := rec.Status
	if !m.Reconciler.UpdateRecordVerified(ctx, rec.ID, patch, origin) {
		out.Divergent = true
		out.Record = rec
		return out
	}
	if to, ok := patch["status"].(models.AuctionStatus); ok && to != from {
		metrics.ObserveTransition(string(from), string(to))
	}
	if fresh, err := m.Repo.GetAuction(ctx, rec.ID); err == nil && fresh != nil {
		out.Record = fresh
	} else {
		out.Record = rec
	}
	return out
}

// update writes a record change that has no ledger side.
func (m *Machine) update(ctx context.Context, rec *models.AuctionRecord, patch repository.Patch) (*Outcome, error) {
	if err := m.Repo.UpdateAuction(ctx, rec.ID, patch); err != nil {
		return nil, err
	}
	if to, ok := patch["status"].(models.AuctionStatus); ok && to != rec.Status {
		metrics.ObserveTransition(string(rec.Status), string(to))
	}
	fresh, err := m.load(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return &Outcome{Record: fresh, Skipped: true}, nil
}

func (m *Machine) info(msg string, rec *models.AuctionRecord, fields ...zap.Field) {
	if m.Logger == nil {
		return
	}
	fields = append([]zap.Field{zap.String("auction_id", rec.ID.String()), zap.String("status", string(rec.Status))}, fields...)
	m.Logger.Info(msg, fields...)
}

func (m *Machine) warn(msg string, rec *models.AuctionRecord, err error) {
	if m.Logger == nil {
		return
	}
	m.Logger.Warn(msg, zap.String("auction_id", rec.ID.String()), zap.Error(err))
}

func strPtr(s string) *string {
	return &s
}

func int64Ptr(v int64) *int64 {
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// nftType resolves the move type used as the type argument for custody
// calls on this record.
func nftType(rec *models.AuctionRecord) (chain.TypeTag, error) {
	tag, err := chain.ParseCollectionType(rec.CollectionType)
	if err != nil {
		return chain.TypeTag{}, err
	}
	return tag.TypeTag(), nil
}
