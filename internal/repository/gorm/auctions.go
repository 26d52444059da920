package gormrepository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"auctionhouse/internal/changefeed"
	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
)

var auctionColumns = map[string]bool{
	"created_at":   true,
	"updated_at":   true,
	"started_at":   true,
	"completed_at": true,
	"starting_bid": true,
	"status":       true,
}

func (s *Store) GetAuction(ctx context.Context, id uuid.UUID) (*models.AuctionRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var item models.AuctionRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetAuctionByObjectID(ctx context.Context, objectID string) (*models.AuctionRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	objectID = strings.TrimSpace(objectID)
	if objectID == "" {
		return nil, nil
	}
	var item models.AuctionRecord
	err := s.db.WithContext(ctx).Where("auction_object_id = ?", objectID).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListAuctions(ctx context.Context, params repository.ListAuctionsParams) ([]models.AuctionRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := auctionsQuery(s.db.WithContext(ctx), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at", auctionColumns)
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.AuctionRecord
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountAuctions(ctx context.Context, params repository.ListAuctionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := auctionsQuery(s.db.WithContext(ctx), params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func auctionsQuery(db *gorm.DB, params repository.ListAuctionsParams) *gorm.DB {
	query := db.Model(&models.AuctionRecord{})
	if len(params.Statuses) > 0 {
		query = query.Where("status IN ?", params.Statuses)
	}
	if params.Seller != nil && strings.TrimSpace(*params.Seller) != "" {
		query = query.Where("seller = ?", strings.TrimSpace(*params.Seller))
	}
	if params.TokenID != nil {
		query = query.Where("token_id = ?", *params.TokenID)
	}
	return query
}

func (s *Store) CreateAuction(ctx context.Context, item *models.AuctionRecord) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return err
	}
	s.publish(changefeed.Event{Kind: changefeed.Created, AuctionID: item.ID, Status: item.Status})
	return nil
}

func (s *Store) UpdateAuction(ctx context.Context, id uuid.UUID, patch repository.Patch) error {
	if s == nil || s.db == nil || len(patch) == 0 {
		return nil
	}
	updates := make(map[string]any, len(patch)+1)
	for k, v := range patch {
		updates[k] = v
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := s.db.WithContext(ctx).
		Model(&models.AuctionRecord{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	ev := changefeed.Event{Kind: changefeed.Updated, AuctionID: id}
	if status, ok := patch["status"].(models.AuctionStatus); ok {
		ev.Status = status
	}
	s.publish(ev)
	return nil
}

func (s *Store) DeleteAuction(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.db == nil {
		return nil
	}
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.AuctionRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		s.publish(changefeed.Event{Kind: changefeed.Deleted, AuctionID: id})
	}
	return nil
}
