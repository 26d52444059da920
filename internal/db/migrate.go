package db

import (
	"auctionhouse/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	if err := db.Gorm.AutoMigrate(
		&models.AuctionRecord{},
		&models.BidRecord{},
		&models.Divergence{},
		&models.ChainTx{},
		&models.SystemSetting{},
	); err != nil {
		return err
	}
	for _, stmt := range []string{
		// At most one record may hold the lane.
		"CREATE UNIQUE INDEX IF NOT EXISTS uniq_auction_records_single_active ON auction_records ((status)) WHERE status = 'active'",
		// One open application per NFT.
		"CREATE UNIQUE INDEX IF NOT EXISTS uniq_auction_records_open_token ON auction_records (token_id) WHERE status IN ('pending', 'queued', 'active', 'cancel_requested')",
	} {
		if err := db.Gorm.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
