package models

import (
	"time"

	"gorm.io/datatypes"
)

// ChainTx is the audit trail of workflow transactions the service submitted.
type ChainTx struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	AuctionID string `gorm:"type:varchar(36);index"`
	Action    string `gorm:"type:varchar(40);not null;index"`
	Sender    string `gorm:"type:varchar(66);not null"`
	Digest    string `gorm:"type:varchar(64);index"`

	GasBudget int64 `gorm:"not null;default:0"`
	GasUsed   int64 `gorm:"not null;default:0"`
	Attempts  int   `gorm:"not null;default:0"`

	Status  string         `gorm:"type:varchar(20);not null;index"`
	Error   string         `gorm:"type:text"`
	Created datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (ChainTx) TableName() string {
	return "chain_txs"
}
