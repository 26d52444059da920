package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"auctionhouse/internal/changefeed"
	"auctionhouse/internal/models"
)

var ErrNotFound = errors.New("record not found")

// Patch maps column names to new values for a single-record update.
type Patch map[string]any

type AuctionRepository interface {
	GetAuction(ctx context.Context, id uuid.UUID) (*models.AuctionRecord, error)
	GetAuctionByObjectID(ctx context.Context, objectID string) (*models.AuctionRecord, error)
	ListAuctions(ctx context.Context, params ListAuctionsParams) ([]models.AuctionRecord, error)
	CountAuctions(ctx context.Context, params ListAuctionsParams) (int64, error)
	CreateAuction(ctx context.Context, item *models.AuctionRecord) error
	UpdateAuction(ctx context.Context, id uuid.UUID, patch Patch) error
	DeleteAuction(ctx context.Context, id uuid.UUID) error

	// Subscribe registers onChange for record changes matching filter and
	// returns the cancel function.
	Subscribe(filter changefeed.Filter, onChange func(changefeed.Event)) func()
}

type BidRepository interface {
	// InsertBid is idempotent on the transaction digest.
	InsertBid(ctx context.Context, item *models.BidRecord) error
	ListBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]models.BidRecord, error)
	DeleteBidsByAuction(ctx context.Context, auctionID uuid.UUID) (int64, error)
	DeleteStaleBids(ctx context.Context) (int64, error)
}

type DivergenceRepository interface {
	InsertDivergence(ctx context.Context, item *models.Divergence) error
	ListDivergences(ctx context.Context, params ListDivergencesParams) ([]models.Divergence, error)
	CountDivergences(ctx context.Context, params ListDivergencesParams) (int64, error)
	ResolveDivergence(ctx context.Context, id uint64, at time.Time) error
}

type ChainTxRepository interface {
	InsertChainTx(ctx context.Context, item *models.ChainTx) error
	UpdateChainTx(ctx context.Context, id uint64, patch Patch) error
	ListChainTxs(ctx context.Context, params ListChainTxsParams) ([]models.ChainTx, error)
}

type SystemSettingRepository interface {
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
	CountSystemSettings(ctx context.Context, params ListSystemSettingsParams) (int64, error)
}

// Repository is the record store used by the auction workflow.
type Repository interface {
	AuctionRepository
	BidRepository
	DivergenceRepository
	ChainTxRepository
	SystemSettingRepository
}

type ListAuctionsParams struct {
	Limit    int
	Offset   int
	Statuses []models.AuctionStatus
	Seller   *string
	TokenID  *string
	OrderBy  string
	Asc      *bool
}

type ListDivergencesParams struct {
	Limit     int
	Offset    int
	AuctionID *uuid.UUID
	Resolved  *bool
}

type ListChainTxsParams struct {
	Limit     int
	Offset    int
	AuctionID *string
	Action    *string
}

type ListSystemSettingsParams struct {
	Limit   int
	Offset  int
	Prefix  *string
	OrderBy string
	Asc     *bool
}
