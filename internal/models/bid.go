package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BidRecord bridges the latency between a confirmed bid transaction and the
// next read of the auction object. It is never used for payout.
type BidRecord struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	AuctionID       uuid.UUID `gorm:"type:uuid;not null;index"`
	AuctionObjectID string    `gorm:"type:varchar(66);not null"`
	Bidder          string    `gorm:"type:varchar(66);not null"`
	Amount          int64     `gorm:"not null"`
	TxDigest        string    `gorm:"type:varchar(64);not null;uniqueIndex"`
	Timestamp       time.Time `gorm:"type:timestamptz;not null"`
	CreatedAt       time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (BidRecord) TableName() string {
	return "bid_records"
}

func (b *BidRecord) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
