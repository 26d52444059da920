package service

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm/schema"

	"auctionhouse/internal/changefeed"
	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
)

// memRepo is an in-memory repository.Repository. Setting failUpdates makes
// every UpdateAuction fail; dropUpdates makes them silently do nothing.
type memRepo struct {
	mu          sync.Mutex
	auctions    map[uuid.UUID]models.AuctionRecord
	bids        []models.BidRecord
	divergences []models.Divergence
	txs         []models.ChainTx
	settings    map[string]models.SystemSetting
	hub         *changefeed.Hub

	failUpdates bool
	dropUpdates bool
	updates     int
}

var _ repository.Repository = (*memRepo)(nil)

var errStoreDown = errors.New("store unavailable")

func newMemRepo() *memRepo {
	return &memRepo{
		auctions: map[uuid.UUID]models.AuctionRecord{},
		settings: map[string]models.SystemSetting{},
		hub:      changefeed.NewHub(),
	}
}

func (r *memRepo) put(rec models.AuctionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auctions[rec.ID] = rec
}

func (r *memRepo) GetAuction(_ context.Context, id uuid.UUID) (*models.AuctionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.auctions[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *memRepo) GetAuctionByObjectID(_ context.Context, objectID string) (*models.AuctionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.auctions {
		if rec.AuctionObject() == objectID {
			rec := rec
			return &rec, nil
		}
	}
	return nil, nil
}

func (r *memRepo) filter(params repository.ListAuctionsParams) []models.AuctionRecord {
	var out []models.AuctionRecord
	for _, rec := range r.auctions {
		if len(params.Statuses) > 0 {
			ok := false
			for _, s := range params.Statuses {
				ok = ok || rec.Status == s
			}
			if !ok {
				continue
			}
		}
		if params.Seller != nil && rec.Seller != *params.Seller {
			continue
		}
		if params.TokenID != nil && rec.TokenID != *params.TokenID {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (r *memRepo) ListAuctions(_ context.Context, params repository.ListAuctionsParams) ([]models.AuctionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.filter(params)
	asc := params.Asc != nil && *params.Asc
	key := func(rec models.AuctionRecord) time.Time {
		if params.OrderBy == "completed_at" && rec.CompletedAt != nil {
			return *rec.CompletedAt
		}
		return rec.CreatedAt
	}
	sort.SliceStable(out, func(i, j int) bool {
		if asc {
			return key(out[i]).Before(key(out[j]))
		}
		return key(out[i]).After(key(out[j]))
	})
	if params.Offset > 0 && params.Offset < len(out) {
		out = out[params.Offset:]
	}
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (r *memRepo) CountAuctions(_ context.Context, params repository.ListAuctionsParams) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.filter(params))), nil
}

func (r *memRepo) CreateAuction(_ context.Context, item *models.AuctionRecord) error {
	r.mu.Lock()
	r.auctions[item.ID] = *item
	r.mu.Unlock()
	r.hub.Publish(changefeed.Event{Kind: changefeed.Created, AuctionID: item.ID, Status: item.Status})
	return nil
}

func (r *memRepo) UpdateAuction(_ context.Context, id uuid.UUID, patch repository.Patch) error {
	r.mu.Lock()
	r.updates++
	if r.failUpdates {
		r.mu.Unlock()
		return errStoreDown
	}
	rec, ok := r.auctions[id]
	if !ok {
		r.mu.Unlock()
		return repository.ErrNotFound
	}
	if !r.dropUpdates {
		applyPatch(&rec, patch)
		r.auctions[id] = rec
	}
	r.mu.Unlock()
	status, _ := patch["status"].(models.AuctionStatus)
	r.hub.Publish(changefeed.Event{Kind: changefeed.Updated, AuctionID: id, Status: status})
	return nil
}

func (r *memRepo) DeleteAuction(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	delete(r.auctions, id)
	r.mu.Unlock()
	return nil
}

func (r *memRepo) Subscribe(filter changefeed.Filter, fn func(changefeed.Event)) func() {
	return r.hub.Subscribe(filter, fn)
}

func (r *memRepo) InsertBid(_ context.Context, item *models.BidRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bids {
		if b.TxDigest == item.TxDigest {
			return nil
		}
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	r.bids = append(r.bids, *item)
	return nil
}

func (r *memRepo) ListBids(_ context.Context, auctionID uuid.UUID, limit int) ([]models.BidRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BidRecord
	for i := len(r.bids) - 1; i >= 0; i-- {
		if r.bids[i].AuctionID == auctionID {
			out = append(out, r.bids[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) DeleteBidsByAuction(_ context.Context, auctionID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.bids[:0]
	var n int64
	for _, b := range r.bids {
		if b.AuctionID == auctionID {
			n++
			continue
		}
		kept = append(kept, b)
	}
	r.bids = kept
	return n, nil
}

func (r *memRepo) DeleteStaleBids(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.bids[:0]
	var n int64
	for _, b := range r.bids {
		if rec, ok := r.auctions[b.AuctionID]; !ok || rec.Status.Terminal() {
			n++
			continue
		}
		kept = append(kept, b)
	}
	r.bids = kept
	return n, nil
}

func (r *memRepo) InsertDivergence(_ context.Context, item *models.Divergence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item.ID = uint64(len(r.divergences) + 1)
	r.divergences = append(r.divergences, *item)
	return nil
}

func (r *memRepo) ListDivergences(_ context.Context, params repository.ListDivergencesParams) ([]models.Divergence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Divergence
	for _, d := range r.divergences {
		if params.Resolved != nil && d.Resolved != *params.Resolved {
			continue
		}
		if params.AuctionID != nil && d.AuctionID != *params.AuctionID {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *memRepo) CountDivergences(ctx context.Context, params repository.ListDivergencesParams) (int64, error) {
	items, err := r.ListDivergences(ctx, params)
	return int64(len(items)), err
}

func (r *memRepo) ResolveDivergence(_ context.Context, id uint64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.divergences {
		if r.divergences[i].ID == id {
			r.divergences[i].Resolved = true
			r.divergences[i].ResolvedAt = &at
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *memRepo) InsertChainTx(_ context.Context, item *models.ChainTx) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item.ID = uint64(len(r.txs) + 1)
	r.txs = append(r.txs, *item)
	return nil
}

func (r *memRepo) UpdateChainTx(_ context.Context, id uint64, patch repository.Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.txs {
		if r.txs[i].ID == id {
			if s, ok := patch["status"].(string); ok {
				r.txs[i].Status = s
			}
			if d, ok := patch["digest"].(string); ok {
				r.txs[i].Digest = d
			}
		}
	}
	return nil
}

func (r *memRepo) ListChainTxs(_ context.Context, _ repository.ListChainTxsParams) ([]models.ChainTx, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ChainTx(nil), r.txs...), nil
}

func (r *memRepo) UpsertSystemSetting(_ context.Context, item *models.SystemSetting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[item.Key] = *item
	return nil
}

func (r *memRepo) GetSystemSettingByKey(_ context.Context, key string) (*models.SystemSetting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.settings[key]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (r *memRepo) ListSystemSettings(_ context.Context, _ repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SystemSetting
	for _, s := range r.settings {
		out = append(out, s)
	}
	return out, nil
}

func (r *memRepo) CountSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) (int64, error) {
	items, err := r.ListSystemSettings(ctx, params)
	return int64(len(items)), err
}

// applyPatch sets fields by their gorm column names, converting between
// pointer and value forms.
func applyPatch(rec *models.AuctionRecord, patch repository.Patch) {
	naming := schema.NamingStrategy{}
	v := reflect.ValueOf(rec).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		val, ok := patch[naming.ColumnName("", t.Field(i).Name)]
		if !ok {
			continue
		}
		setField(v.Field(i), val)
	}
}

func setField(f reflect.Value, val any) {
	if val == nil {
		f.Set(reflect.Zero(f.Type()))
		return
	}
	in := reflect.ValueOf(val)
	if in.Kind() == reflect.Ptr && in.IsNil() {
		f.Set(reflect.Zero(f.Type()))
		return
	}
	switch {
	case in.Type().AssignableTo(f.Type()):
		f.Set(in)
	case f.Kind() == reflect.Ptr && in.Type().AssignableTo(f.Type().Elem()):
		p := reflect.New(f.Type().Elem())
		p.Elem().Set(in)
		f.Set(p)
	case in.Kind() == reflect.Ptr && in.Elem().Type().AssignableTo(f.Type()):
		f.Set(in.Elem())
	case in.Type().ConvertibleTo(f.Type()):
		f.Set(in.Convert(f.Type()))
	}
}
