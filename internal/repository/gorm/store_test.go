package gormrepository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"auctionhouse/internal/changefeed"
	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
	})
	require.NoError(t, err)
	return New(gdb), mock
}

func TestGetAuctionNotFoundReturnsNil(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT \* FROM "auction_records" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	item, err := store.GetAuction(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, item)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAuctionPublishesStatus(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	var got []changefeed.Event
	store.Subscribe(changefeed.Filter{}, func(ev changefeed.Event) { got = append(got, ev) })

	mock.ExpectExec(`UPDATE "auction_records" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateAuction(context.Background(), id, repository.Patch{"status": models.StatusQueued})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].AuctionID)
	assert.Equal(t, models.StatusQueued, got[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAuctionMissingRecord(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE "auction_records" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateAuction(context.Background(), uuid.New(), repository.Patch{"current_bid": int64(7)})
	assert.ErrorIs(t, err, repository.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteStaleBidsTargetsTerminalAuctions(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`DELETE FROM "bid_records" WHERE auction_id IN \(SELECT .*id.* FROM "auction_records" WHERE status IN`).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := store.DeleteStaleBids(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNilStoreIsSafe(t *testing.T) {
	var store *Store
	item, err := store.GetAuction(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, item)
	assert.NoError(t, store.UpdateAuction(context.Background(), uuid.New(), repository.Patch{"status": models.StatusActive}))
	cancel := store.Subscribe(changefeed.Filter{}, func(changefeed.Event) {})
	cancel()
}

func TestApplyOrderRejectsUnknownColumns(t *testing.T) {
	assert.True(t, auctionColumns["created_at"])
	assert.False(t, auctionColumns["created_at; drop table auction_records"])
}

func TestResolveDivergence(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE "divergences" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "divergences" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.ResolveDivergence(context.Background(), 3, time.Time{}))
	assert.ErrorIs(t, store.ResolveDivergence(context.Background(), 4, time.Time{}), repository.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
