package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AuctionStatus string

const (
	StatusPending         AuctionStatus = "pending"
	StatusQueued          AuctionStatus = "queued"
	StatusActive          AuctionStatus = "active"
	StatusCompleted       AuctionStatus = "completed"
	StatusRejected        AuctionStatus = "rejected"
	StatusCanceled        AuctionStatus = "canceled"
	StatusCancelRequested AuctionStatus = "cancel_requested"
)

// Terminal reports whether no further workflow transition is possible.
func (s AuctionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusCanceled
}

// AuctionRecord is the workflow view of one submitted NFT. Amounts are in
// the smallest currency unit.
type AuctionRecord struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	TokenID        string `gorm:"type:varchar(66);not null;index"`
	CollectionType string `gorm:"type:varchar(300);not null"`
	Name           string `gorm:"type:varchar(255)"`
	Seller         string `gorm:"type:varchar(66);not null;index"`

	StartingBid          int64 `gorm:"not null"`
	AuctionDurationHours int   `gorm:"not null"`
	IsPriority           bool  `gorm:"not null;default:false;index"`

	Status       AuctionStatus `gorm:"type:varchar(24);not null;default:'pending';index"`
	RejectReason string        `gorm:"type:text"`

	KioskID         string  `gorm:"type:varchar(66)"`
	CustodyCapID    string  `gorm:"type:varchar(66)"`
	AuctionObjectID *string `gorm:"type:varchar(66);uniqueIndex"`

	CurrentBid    int64   `gorm:"not null;default:0"`
	HighestBidder *string `gorm:"type:varchar(66)"`
	Winner        *string `gorm:"type:varchar(66)"`
	FinalBid      *int64
	FeeAmount     *int64
	SellerAmount  *int64
	FundsReleased bool `gorm:"not null;default:false"`

	NftTransferred   bool       `gorm:"not null;default:false"`
	TransferredTo    *string    `gorm:"type:varchar(66)"`
	NftTransferredAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt         time.Time  `gorm:"type:timestamptz;autoCreateTime;index"`
	StartedAt         *time.Time `gorm:"type:timestamptz"`
	CompletedAt       *time.Time `gorm:"type:timestamptz;index"`
	CancelRequestedAt *time.Time `gorm:"type:timestamptz"`
	UpdatedAt         time.Time  `gorm:"type:timestamptz;autoUpdateTime"`
}

func (AuctionRecord) TableName() string {
	return "auction_records"
}

func (r *AuctionRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// EndsAt is startedAt plus the configured duration, zero when not started.
func (r *AuctionRecord) EndsAt() time.Time {
	if r == nil || r.StartedAt == nil {
		return time.Time{}
	}
	return r.StartedAt.Add(time.Duration(r.AuctionDurationHours) * time.Hour)
}

func (r *AuctionRecord) AuctionObject() string {
	if r == nil || r.AuctionObjectID == nil {
		return ""
	}
	return *r.AuctionObjectID
}
