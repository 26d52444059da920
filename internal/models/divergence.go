package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Divergence flags a record that disagrees with a completed ledger action
// and needs manual repair.
type Divergence struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	AuctionID uuid.UUID `gorm:"type:uuid;not null;index"`
	Operation string    `gorm:"type:varchar(40);not null"`
	TxDigest  string    `gorm:"type:varchar(64)"`

	Patch  datatypes.JSON `gorm:"type:jsonb"`
	Reason string         `gorm:"type:text"`

	Resolved   bool       `gorm:"not null;default:false;index"`
	CreatedAt  time.Time  `gorm:"type:timestamptz;autoCreateTime;index"`
	ResolvedAt *time.Time `gorm:"type:timestamptz"`
}

func (Divergence) TableName() string {
	return "divergences"
}
