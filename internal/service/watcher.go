package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"auctionhouse/internal/changefeed"
	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
)

// ExpiryWatcher ends auctions when their bidding window closes. It keeps
// one timer per active auction object and resynchronizes on every record
// change and on a fixed interval.
type ExpiryWatcher struct {
	Machine *Machine
	Logger  *zap.Logger
	// Grace is added to the chain end time before ending.
	Grace time.Duration
	// RetryDelay spaces out attempts after a failed end.
	RetryDelay time.Duration
	Resync     time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func (w *ExpiryWatcher) Run(ctx context.Context) error {
	wake := make(chan struct{}, 1)
	cancel := w.Machine.OnRecordsChanged(changefeed.Filter{}, func(changefeed.Event) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer cancel()
	defer w.stopAll()

	interval := w.Resync
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.Sync(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
			w.Sync(ctx)
		case <-ticker.C:
			w.Sync(ctx)
		}
	}
}

// Sync schedules timers for active auctions and drops timers for records
// that are no longer active.
func (w *ExpiryWatcher) Sync(ctx context.Context) {
	items, err := w.Machine.Repo.ListAuctions(ctx, repository.ListAuctionsParams{
		Limit:    50,
		Statuses: []models.AuctionStatus{models.StatusActive},
	})
	if err != nil {
		w.log().Warn("expiry watcher: list active failed", zap.Error(err))
		return
	}
	want := make(map[string]models.AuctionRecord, len(items))
	for _, rec := range items {
		if obj := rec.AuctionObject(); obj != "" {
			want[obj] = rec
		}
	}

	w.mu.Lock()
	if w.timers == nil {
		w.timers = map[string]*time.Timer{}
	}
	for obj, t := range w.timers {
		if _, ok := want[obj]; !ok {
			t.Stop()
			delete(w.timers, obj)
		}
	}
	var missing []models.AuctionRecord
	for obj, rec := range want {
		if _, ok := w.timers[obj]; !ok {
			missing = append(missing, rec)
		}
	}
	w.mu.Unlock()

	for i := range missing {
		rec := missing[i]
		w.schedule(ctx, rec.ID, rec.AuctionObject(), w.endTime(ctx, &rec))
	}
}

// endTime prefers the chain end time and falls back to the record.
func (w *ExpiryWatcher) endTime(ctx context.Context, rec *models.AuctionRecord) time.Time {
	a, _, err := w.Machine.readAuction(ctx, rec.AuctionObject())
	if err == nil {
		if end := a.EndTime(); !end.IsZero() {
			return end
		}
		if a.Ended() {
			return w.Machine.now()
		}
	}
	return rec.EndsAt()
}

func (w *ExpiryWatcher) schedule(ctx context.Context, id uuid.UUID, objectID string, at time.Time) {
	delay := time.Until(at) + w.Grace
	if delay < 0 {
		delay = 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timers == nil {
		w.timers = map[string]*time.Timer{}
	}
	if old, ok := w.timers[objectID]; ok {
		old.Stop()
	}
	w.timers[objectID] = time.AfterFunc(delay, func() { w.fire(ctx, id, objectID) })
	w.log().Debug("expiry scheduled", zap.String("auction_id", id.String()), zap.String("object_id", objectID), zap.Duration("in", delay))
}

func (w *ExpiryWatcher) fire(ctx context.Context, id uuid.UUID, objectID string) {
	if ctx.Err() != nil {
		return
	}
	out, err := w.Machine.EndAuction(ctx, SystemCaller(w.Machine.Config.AdminAddress), id)
	if err != nil {
		delay := w.RetryDelay
		if delay <= 0 {
			delay = 30 * time.Second
		}
		w.log().Warn("expiry end failed, retrying", zap.String("auction_id", id.String()), zap.Duration("in", delay), zap.Error(err))
		w.schedule(ctx, id, objectID, time.Now().Add(delay-w.Grace))
		return
	}
	w.mu.Lock()
	delete(w.timers, objectID)
	w.mu.Unlock()
	w.log().Info("auction ended by timer",
		zap.String("auction_id", id.String()),
		zap.String("digest", out.Digest),
		zap.Bool("skipped", out.Skipped),
		zap.Bool("divergent", out.Divergent),
	)
}

// Pending is the number of armed timers.
func (w *ExpiryWatcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.timers)
}

func (w *ExpiryWatcher) stopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for obj, t := range w.timers {
		t.Stop()
		delete(w.timers, obj)
	}
}

func (w *ExpiryWatcher) log() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}
