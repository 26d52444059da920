package gormrepository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
)

func (s *Store) InsertDivergence(ctx context.Context, item *models.Divergence) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListDivergences(ctx context.Context, params repository.ListDivergencesParams) ([]models.Divergence, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Divergence
	if err := divergenceQuery(s.db.WithContext(ctx), params).
		Order("created_at desc").
		Limit(normalizeLimit(params.Limit, 100)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountDivergences(ctx context.Context, params repository.ListDivergencesParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := divergenceQuery(s.db.WithContext(ctx), params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func divergenceQuery(db *gorm.DB, params repository.ListDivergencesParams) *gorm.DB {
	query := db.Model(&models.Divergence{})
	if params.AuctionID != nil {
		query = query.Where("auction_id = ?", *params.AuctionID)
	}
	if params.Resolved != nil {
		query = query.Where("resolved = ?", *params.Resolved)
	}
	return query
}

func (s *Store) ResolveDivergence(ctx context.Context, id uint64, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	res := s.db.WithContext(ctx).
		Model(&models.Divergence{}).
		Where("id = ?", id).
		Updates(map[string]any{"resolved": true, "resolved_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) InsertChainTx(ctx context.Context, item *models.ChainTx) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) UpdateChainTx(ctx context.Context, id uint64, patch repository.Patch) error {
	if s == nil || s.db == nil || id == 0 || len(patch) == 0 {
		return nil
	}
	updates := map[string]any(patch)
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return s.db.WithContext(ctx).
		Model(&models.ChainTx{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (s *Store) ListChainTxs(ctx context.Context, params repository.ListChainTxsParams) ([]models.ChainTx, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.ChainTx{})
	if params.AuctionID != nil && strings.TrimSpace(*params.AuctionID) != "" {
		query = query.Where("auction_id = ?", strings.TrimSpace(*params.AuctionID))
	}
	if params.Action != nil && strings.TrimSpace(*params.Action) != "" {
		query = query.Where("action = ?", strings.TrimSpace(*params.Action))
	}
	var items []models.ChainTx
	if err := query.Order("created_at desc").
		Limit(normalizeLimit(params.Limit, 100)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
