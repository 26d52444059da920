package gormrepository

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"auctionhouse/internal/changefeed"
	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
)

type Store struct {
	db   *gorm.DB
	feed changefeed.Publisher
	hub  *changefeed.Hub
}

var _ repository.Repository = (*Store)(nil)

func New(db *gorm.DB) *Store {
	hub := changefeed.NewHub()
	return &Store{db: db, feed: hub, hub: hub}
}

// WithPublisher routes change events through p (for example a redis relay
// wrapping the store hub).
func (s *Store) WithPublisher(p changefeed.Publisher) *Store {
	if s != nil && p != nil {
		s.feed = p
	}
	return s
}

// Hub is the in-process fan-out behind Subscribe.
func (s *Store) Hub() *changefeed.Hub {
	if s == nil {
		return nil
	}
	return s.hub
}

func (s *Store) Subscribe(filter changefeed.Filter, onChange func(changefeed.Event)) func() {
	if s == nil {
		return func() {}
	}
	return s.hub.Subscribe(filter, onChange)
}

func (s *Store) publish(ev changefeed.Event) {
	if s == nil || s.feed == nil {
		return
	}
	s.feed.Publish(ev)
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Model(&models.SystemSetting{}).Where("key = ?", key).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := settingsQuery(s.db.WithContext(ctx), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "key", settingColumns)
	limit := normalizeLimit(params.Limit, 500)
	offset := normalizeOffset(params.Offset)
	var items []models.SystemSetting
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := settingsQuery(s.db.WithContext(ctx), params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func settingsQuery(db *gorm.DB, params repository.ListSystemSettingsParams) *gorm.DB {
	query := db.Model(&models.SystemSetting{})
	if params.Prefix != nil && strings.TrimSpace(*params.Prefix) != "" {
		query = query.Where("key LIKE ?", strings.TrimSpace(*params.Prefix)+"%")
	}
	return query
}

var settingColumns = map[string]bool{"key": true, "updated_at": true, "created_at": true}

// applyOrder only accepts whitelisted columns; anything else falls back.
func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string, allowed map[string]bool) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" || !allowed[column] {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
