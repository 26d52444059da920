package gormrepository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"auctionhouse/internal/models"
)

func (s *Store) InsertBid(ctx context.Context, item *models.BidRecord) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_digest"}},
		DoNothing: true,
	}).Create(item).Error
}

func (s *Store) ListBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]models.BidRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.BidRecord
	if err := s.db.WithContext(ctx).
		Model(&models.BidRecord{}).
		Where("auction_id = ?", auctionID).
		Order("amount desc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) DeleteBidsByAuction(ctx context.Context, auctionID uuid.UUID) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("auction_id = ?", auctionID).Delete(&models.BidRecord{})
	return res.RowsAffected, res.Error
}

// DeleteStaleBids removes bids whose auction reached a terminal status.
func (s *Store) DeleteStaleBids(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	terminal := []models.AuctionStatus{models.StatusCompleted, models.StatusCanceled, models.StatusRejected}
	sub := s.db.Model(&models.AuctionRecord{}).Select("id").Where("status IN ?", terminal)
	res := s.db.WithContext(ctx).Where("auction_id IN (?)", sub).Delete(&models.BidRecord{})
	return res.RowsAffected, res.Error
}
