package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auctionhouse/internal/chain"
	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
)

func TestAuctionLifecycleFromApprovalToPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seed(models.StatusPending, nftA, f.clock.Add(-time.Hour))

	out, err := f.m.Approve(ctx, f.admin, rec.ID)
	require.NoError(t, err)
	require.False(t, out.Divergent)
	assert.Equal(t, models.StatusQueued, out.Record.Status)
	assert.Equal(t, kioskID.String(), out.Record.KioskID)
	assert.Equal(t, capID.String(), out.Record.CustodyCapID)
	assert.Equal(t, chain.OwnerObject, f.owner(nftA).Kind)

	out, err = f.m.Activate(ctx, f.admin, rec.ID)
	require.NoError(t, err)
	require.False(t, out.Divergent)
	assert.Equal(t, models.StatusActive, out.Record.Status)
	require.NotEmpty(t, out.Record.AuctionObject())
	require.NotNil(t, out.Record.StartedAt)
	assert.Equal(t, int64(5_000_000_000), out.Record.CurrentBid)

	bidderKey, err := chain.KeypairFromSeed(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)
	bidder := Caller{Address: bidderKey.Address(), Role: RoleUser}
	f.gw.Fund(bidder.Address, 20_000_000_000)

	_, err = f.m.PrepareBid(ctx, bidder, rec.ID, 5_100_000_000)
	assert.ErrorIs(t, err, ErrBidTooLow)

	prep, err := f.m.PrepareBid(ctx, bidder, rec.ID, 5_100_000_001)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(prep.TxBytes)
	require.NoError(t, err)
	f.ledger.nextBid.bidder, f.ledger.nextBid.amount = bidder.Address, 5_100_000_001

	out, err = f.m.ExecuteBid(ctx, bidder, rec.ID, prep.TxBytes, bidderKey.SignTransaction(raw))
	require.NoError(t, err)
	assert.Equal(t, int64(5_100_000_001), out.Record.CurrentBid)
	require.NotNil(t, out.Record.HighestBidder)
	assert.Equal(t, bidder.Address.String(), *out.Record.HighestBidder)
	bids, err := f.m.Bids(ctx, rec.ID, 10)
	require.NoError(t, err)
	require.Len(t, bids, 1)

	f.advance(25 * time.Hour)
	_, err = f.m.PrepareBid(ctx, bidder, rec.ID, 9_000_000_000)
	assert.ErrorIs(t, err, ErrAuctionExpired)

	out, err = f.m.EndAuction(ctx, SystemCaller(f.admin.Address), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, out.Record.Status)
	require.NotNil(t, out.Record.Winner)
	assert.Equal(t, bidder.Address.String(), *out.Record.Winner)
	require.NotNil(t, out.Record.FinalBid)
	assert.Equal(t, int64(5_100_000_001), *out.Record.FinalBid)
	bids, _ = f.m.Bids(ctx, rec.ID, 10)
	assert.Empty(t, bids)

	executed := f.gw.ExecutedCount()
	out, err = f.m.EndAuction(ctx, f.admin, rec.ID)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, executed, f.gw.ExecutedCount())

	out, err = f.m.ReleaseFunds(ctx, f.admin, rec.ID)
	require.NoError(t, err)
	assert.True(t, out.Record.FundsReleased)
	assert.Equal(t, int64(382_500_000), *out.Record.FeeAmount)
	assert.Equal(t, int64(4_717_500_001), *out.Record.SellerAmount)
	assert.Equal(t, executed, f.gw.ExecutedCount())

	f.ledger.takeTo = bidder.Address
	out, err = f.m.ReleaseNft(ctx, f.admin, rec.ID)
	require.NoError(t, err)
	assert.True(t, out.Record.NftTransferred)
	require.NotNil(t, out.Record.TransferredTo)
	assert.Equal(t, bidder.Address.String(), *out.Record.TransferredTo)
	assert.True(t, f.owner(nftA).IsAddress(bidder.Address))
	assert.Empty(t, f.repo.divergences)
}

func TestNonAdminCannotModerate(t *testing.T) {
	f := newFixture(t)
	rec := f.seed(models.StatusPending, nftA, f.clock)
	stranger := Caller{Address: fill(0x99), Role: RoleAdmin}

	_, err := f.m.Approve(context.Background(), stranger, rec.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.m.Reject(context.Background(), stranger, rec.ID, "no")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, f.gw.ExecutedCount())
}

func TestRejectReturnsNFTToSeller(t *testing.T) {
	f := newFixture(t)
	rec := f.seed(models.StatusPending, nftA, f.clock)
	f.ledger.takeTo = seller

	out, err := f.m.Reject(context.Background(), f.admin, rec.ID, "blurry artwork")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, out.Record.Status)
	assert.Equal(t, "blurry artwork", out.Record.RejectReason)
	assert.True(t, out.Record.NftTransferred)
	assert.True(t, f.owner(nftA).IsAddress(seller))

	_, err = f.m.Approve(context.Background(), f.admin, rec.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelRequestFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seed(models.StatusPending, nftA, f.clock)
	owner := Caller{Address: seller, Role: RoleUser}

	_, err := f.m.CancelRequest(ctx, Caller{Address: fill(0x99)}, rec.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	out, err := f.m.CancelRequest(ctx, owner, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelRequested, out.Record.Status)
	assert.NotNil(t, out.Record.CancelRequestedAt)

	out, err = f.m.DenyCancel(ctx, f.admin, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, out.Record.Status)
	assert.Nil(t, out.Record.CancelRequestedAt)

	_, err = f.m.CancelRequest(ctx, owner, rec.ID)
	require.NoError(t, err)
	f.ledger.takeTo = seller
	out, err = f.m.ApproveCancel(ctx, f.admin, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, out.Record.Status)
	assert.Equal(t, ReasonCancelApproved, out.Record.RejectReason)
	assert.True(t, f.owner(nftA).IsAddress(seller))
}

func TestStoreFailureAfterLedgerActionIsFlaggedNotRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seed(models.StatusPending, nftA, f.clock)
	f.repo.failUpdates = true

	out, err := f.m.Approve(ctx, f.admin, rec.ID)
	require.NoError(t, err)
	assert.True(t, out.Divergent)
	assert.NotEmpty(t, out.Digest)
	assert.Equal(t, 1, f.gw.ExecutedCount())
	assert.Equal(t, 3, f.repo.updates)
	require.Len(t, f.repo.divergences, 1)
	assert.Equal(t, "place_nft", f.repo.divergences[0].Operation)
	assert.Equal(t, out.Digest, f.repo.divergences[0].TxDigest)
	assert.Equal(t, 1, f.sink.count())
	assert.Equal(t, models.StatusPending, f.record(rec.ID).Status)

	// A later approve sees the NFT already in custody and only repairs
	// the record.
	f.repo.failUpdates = false
	out, err = f.m.Approve(ctx, f.admin, rec.ID)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.False(t, out.Divergent)
	assert.Equal(t, models.StatusQueued, out.Record.Status)
	assert.Equal(t, 1, f.gw.ExecutedCount())
}

func TestActivateKeepsSingleSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.seed(models.StatusQueued, nftA, f.clock.Add(-2*time.Hour))
	b := f.seed(models.StatusQueued, nftB, f.clock.Add(-time.Hour))

	_, err := f.m.Activate(ctx, f.admin, b.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	out, err := f.m.Activate(ctx, f.admin, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, out.Record.Status)

	_, err = f.m.ActivateNext(ctx, f.admin)
	assert.ErrorIs(t, err, ErrSlotBusy)
	_, err = f.m.Activate(ctx, f.admin, b.ID)
	assert.ErrorIs(t, err, ErrSlotBusy)
	assert.Equal(t, 1, f.gw.ExecutedCount())

	active, err := f.repo.CountAuctions(ctx, repository.ListAuctionsParams{
		Statuses: []models.AuctionStatus{models.StatusActive},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)
}

func TestConcurrentActivationsLeaveOneActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	recs := []models.AuctionRecord{
		f.seed(models.StatusQueued, nftA, f.clock.Add(-3*time.Hour)),
		f.seed(models.StatusQueued, nftB, f.clock.Add(-2*time.Hour)),
		f.seed(models.StatusQueued, nftC, f.clock.Add(-time.Hour)),
	}

	var wg sync.WaitGroup
	for i := 0; i < 9; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%3 == 0 {
				_, _ = f.m.ActivateNext(ctx, f.admin)
				return
			}
			_, _ = f.m.Activate(ctx, f.admin, recs[i%3].ID)
		}(i)
	}
	wg.Wait()

	active, err := f.repo.CountAuctions(ctx, repository.ListAuctionsParams{
		Statuses: []models.AuctionStatus{models.StatusActive},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)
	assert.Equal(t, models.StatusActive, f.record(recs[0].ID).Status)
	assert.Equal(t, 1, f.gw.ExecutedCount())
}

func TestActivateWaitsForCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	done := f.seed(models.StatusCompleted, nftC, f.clock.Add(-30*time.Hour))
	completedAt := f.clock.Add(-10 * time.Minute)
	done.CompletedAt = &completedAt
	f.repo.put(done)
	rec := f.seed(models.StatusQueued, nftA, f.clock.Add(-time.Hour))

	_, err := f.m.ActivateNext(ctx, f.admin)
	assert.ErrorIs(t, err, ErrCooldown)
	assert.Zero(t, f.gw.ExecutedCount())

	f.advance(50 * time.Minute)
	out, err := f.m.ActivateNext(ctx, f.admin)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, out.Record.ID)
	assert.Equal(t, models.StatusActive, out.Record.Status)
}

func TestPriorityMovesRecordToQueueHead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	older := f.seed(models.StatusQueued, nftA, f.clock.Add(-3*time.Hour))
	newer := f.seed(models.StatusQueued, nftB, f.clock.Add(-time.Hour))

	queue, err := f.m.Queue(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, older.ID, queue[0].ID)

	_, err = f.m.SetPriority(ctx, f.admin, newer.ID, true)
	require.NoError(t, err)

	out, err := f.m.ActivateNext(ctx, f.admin)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, out.Record.ID)

	_, err = f.m.SetPriority(ctx, f.admin, newer.ID, false)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAutoActivateFollowsSwitch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seed(models.StatusQueued, nftA, f.clock.Add(-time.Hour))
	f.seed(models.StatusQueued, nftB, f.clock)

	out, err := f.m.AutoActivate(ctx)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, models.StatusQueued, f.record(rec.ID).Status)

	require.NoError(t, f.m.Settings.SetEnabled(ctx, FeatureAutoActivate, true))
	out, err = f.m.AutoActivate(ctx)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, rec.ID, out.Record.ID)

	out, err = f.m.AutoActivate(ctx)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestEndAuctionSkipsTransactionWhenChainAlreadyEnded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seedActive(nftA, f.clock.Add(-time.Minute))
	objID := chain.MustID(rec.AuctionObject())
	st := f.ledger.auctions[objID]
	st.status = 1
	f.ledger.render(objID, st)

	out, err := f.m.EndAuction(ctx, SystemCaller(f.admin.Address), rec.ID)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Zero(t, f.gw.ExecutedCount())
	assert.Equal(t, models.StatusCompleted, out.Record.Status)
	assert.Nil(t, out.Record.Winner)
	require.NotNil(t, out.Record.FinalBid)
	assert.Equal(t, int64(5_000_000_000), *out.Record.FinalBid)

	_, err = f.m.ReleaseNft(ctx, f.admin, rec.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReleaseFundsEndsExpiredActiveAuction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seedActive(nftA, f.clock.Add(time.Hour))

	_, err := f.m.ReleaseFunds(ctx, f.admin, rec.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	objID := chain.MustID(rec.AuctionObject())
	st := f.ledger.auctions[objID]
	st.currentBid, st.bidder, st.balance = 8_000_000_000, fill(0xb1), 8_000_000_000
	f.ledger.render(objID, st)
	f.advance(2 * time.Hour)

	out, err := f.m.ReleaseFunds(ctx, f.admin, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.gw.ExecutedCount())
	assert.Equal(t, models.StatusCompleted, out.Record.Status)
	assert.True(t, out.Record.FundsReleased)
	assert.Equal(t, int64(8_000_000_000), *out.Record.FinalBid)
	assert.Equal(t, int64(600_000_000), *out.Record.FeeAmount)
	assert.Equal(t, int64(7_400_000_000), *out.Record.SellerAmount)
	require.NotNil(t, out.Record.Winner)
	assert.Equal(t, fill(0xb1).String(), *out.Record.Winner)
}

func TestDelistActiveAuctionReturnsNFT(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seedActive(nftA, f.clock.Add(time.Hour))
	objID := chain.MustID(rec.AuctionObject())
	f.ledger.takeTo = seller
	require.NoError(t, f.repo.InsertBid(ctx, &models.BidRecord{
		AuctionID: rec.ID, AuctionObjectID: rec.AuctionObject(), Bidder: fill(0xb2).String(), Amount: 5_200_000_000, TxDigest: "bid1", Timestamp: f.clock,
	}))

	out, err := f.m.Delist(ctx, f.admin, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, out.Record.Status)
	assert.True(t, out.Record.NftTransferred)
	assert.True(t, f.owner(nftA).IsAddress(seller))
	// delist, take, retire
	assert.Equal(t, 3, f.gw.ExecutedCount())
	obj, err := f.gw.GetObject(ctx, objID)
	require.NoError(t, err)
	assert.Nil(t, obj)
	bids, err := f.m.Bids(ctx, rec.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, bids)
}

func TestDelistWithoutCustodyOnlyUpdatesRecord(t *testing.T) {
	f := newFixture(t)
	rec := f.seed(models.StatusQueued, nftA, f.clock)
	f.gw.RemoveFromKiosk(kioskID, nftA)

	out, err := f.m.Delist(context.Background(), f.admin, rec.ID)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, models.StatusCanceled, out.Record.Status)
	assert.Zero(t, f.gw.ExecutedCount())
}

func TestDepositCreatesPendingRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sellerKey, err := chain.KeypairFromSeed(bytes.Repeat([]byte{11}, 32))
	require.NoError(t, err)
	owner := Caller{Address: sellerKey.Address(), Role: RoleUser}
	f.putNFT(nftA, heldBy(owner.Address))
	f.gw.Fund(owner.Address, 2_000_000_000)

	_, err = f.m.PrepareDeposit(ctx, owner, DepositRequest{TokenID: nftA.String(), StartingBid: 1, DurationHours: 500})
	assert.ErrorIs(t, err, ErrInvalidInput)

	req := DepositRequest{TokenID: nftA.String(), StartingBid: 2_000_000_000, DurationHours: 48}
	prep, err := f.m.PrepareDeposit(ctx, owner, req)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(prep.TxBytes)
	require.NoError(t, err)

	f.ledger.takeTo = f.admin.Address
	out, err := f.m.ExecuteDeposit(ctx, owner, req, prep.TxBytes, sellerKey.SignTransaction(raw))
	require.NoError(t, err)
	require.False(t, out.Divergent)
	rec := f.record(out.Record.ID)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, owner.Address.String(), rec.Seller)
	assert.Equal(t, collection, rec.CollectionType)
	assert.Equal(t, int64(2_000_000_000), rec.CurrentBid)

	items, total, err := f.m.SellerHistory(ctx, owner, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
}

// signedDeposit prepares a deposit of token for key and signs it.
func (f *fixture) signedDeposit(key *chain.Keypair, token chain.ID) (DepositRequest, string, string) {
	f.t.Helper()
	req := DepositRequest{TokenID: token.String(), StartingBid: 2_000_000_000, DurationHours: 24}
	prep, err := f.m.PrepareDeposit(context.Background(), Caller{Address: key.Address(), Role: RoleUser}, req)
	require.NoError(f.t, err)
	raw, err := base64.StdEncoding.DecodeString(prep.TxBytes)
	require.NoError(f.t, err)
	return req, prep.TxBytes, key.SignTransaction(raw)
}

func TestDepositMustTransferTheClaimedNFT(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key, err := chain.KeypairFromSeed(bytes.Repeat([]byte{12}, 32))
	require.NoError(t, err)
	caller := Caller{Address: key.Address(), Role: RoleUser}
	f.gw.Fund(caller.Address, 2_000_000_000)
	f.ledger.takeTo = f.admin.Address

	// Another seller's application already holds nftA in the admin wallet.
	victim := f.seed(models.StatusPending, nftA, f.clock)
	f.putNFT(nftB, heldBy(caller.Address))
	_, txBytes, sig := f.signedDeposit(key, nftB)
	claimA := DepositRequest{TokenID: nftA.String(), StartingBid: 2_000_000_000, DurationHours: 24}

	_, err = f.m.ExecuteDeposit(ctx, caller, claimA, txBytes, sig)
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	assert.Zero(t, f.gw.ExecutedCount())

	// Without a record the admin-held NFT still does not belong to the caller.
	require.NoError(t, f.repo.DeleteAuction(ctx, victim.ID))
	_, err = f.m.ExecuteDeposit(ctx, caller, claimA, txBytes, sig)
	assert.ErrorIs(t, err, ErrNotInCustody)
	assert.Zero(t, f.gw.ExecutedCount())

	// Holding nftC does not make a transaction that moves nftB a deposit of nftC.
	f.putNFT(nftC, heldBy(caller.Address))
	claimC := DepositRequest{TokenID: nftC.String(), StartingBid: 2_000_000_000, DurationHours: 24}
	_, err = f.m.ExecuteDeposit(ctx, caller, claimC, txBytes, sig)
	assert.ErrorIs(t, err, ErrNotInCustody)
	assert.Equal(t, heldBy(caller.Address), f.owner(nftC))

	items, total, err := f.m.SellerHistory(ctx, caller, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, items)
}

func TestDepositRejectsSignatureFromAnotherKey(t *testing.T) {
	f := newFixture(t)
	key, err := chain.KeypairFromSeed(bytes.Repeat([]byte{12}, 32))
	require.NoError(t, err)
	other, err := chain.KeypairFromSeed(bytes.Repeat([]byte{13}, 32))
	require.NoError(t, err)
	f.gw.Fund(key.Address(), 2_000_000_000)
	f.putNFT(nftA, heldBy(key.Address()))

	req, txBytes, _ := f.signedDeposit(key, nftA)
	raw, err := base64.StdEncoding.DecodeString(txBytes)
	require.NoError(t, err)
	caller := Caller{Address: key.Address(), Role: RoleUser}
	_, err = f.m.ExecuteDeposit(context.Background(), caller, req, txBytes, other.SignTransaction(raw))
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, f.gw.ExecutedCount())
}

func TestReplayedDepositCreatesOneRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key, err := chain.KeypairFromSeed(bytes.Repeat([]byte{12}, 32))
	require.NoError(t, err)
	caller := Caller{Address: key.Address(), Role: RoleUser}
	f.gw.Fund(caller.Address, 2_000_000_000)
	f.putNFT(nftA, heldBy(caller.Address))
	f.ledger.takeTo = f.admin.Address

	req, txBytes, sig := f.signedDeposit(key, nftA)
	_, err = f.m.ExecuteDeposit(ctx, caller, req, txBytes, sig)
	require.NoError(t, err)
	_, err = f.m.ExecuteDeposit(ctx, caller, req, txBytes, sig)
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	_, err = f.m.PrepareDeposit(ctx, caller, req)
	assert.ErrorIs(t, err, ErrAlreadySubmitted)

	token := nftA.String()
	n, err := f.repo.CountAuctions(ctx, repository.ListAuctionsParams{TokenID: &token})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, f.gw.ExecutedCount())
}

func TestSweepRepairsBidAndEndsClosedAuction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seedActive(nftA, f.clock.Add(time.Hour))
	objID := chain.MustID(rec.AuctionObject())
	st := f.ledger.auctions[objID]
	st.currentBid, st.bidder = 6_000_000_000, fill(0xb2)
	f.ledger.render(objID, st)

	report, err := f.m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)
	assert.Equal(t, int64(6_000_000_000), f.record(rec.ID).CurrentBid)

	st.status = 1
	f.ledger.render(objID, st)
	report, err = f.m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)
	got := f.record(rec.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.Winner)
	assert.Equal(t, fill(0xb2).String(), *got.Winner)
	assert.Zero(t, f.gw.ExecutedCount())
}

func TestSweepFlagsStuckQueuedRecordOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seed(models.StatusQueued, nftA, f.clock.Add(-time.Hour))
	f.gw.RemoveFromKiosk(kioskID, nftA)
	f.gw.SetOwner(nftA, heldBy(fill(0xee)))

	for i := 0; i < 3; i++ {
		report, err := f.m.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Divergent)
	}
	open := false
	items, err := f.repo.ListDivergences(ctx, repository.ListDivergencesParams{AuctionID: &rec.ID, Resolved: &open})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, OperationSweep, items[0].Operation)
	assert.Equal(t, 1, f.sink.count())

	// A resolved divergence that is still true is raised again.
	require.NoError(t, f.repo.ResolveDivergence(ctx, items[0].ID, f.clock))
	_, err = f.m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, f.sink.count())
}

func TestBidLandingAfterSettlementLeavesNoBidRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seedActive(nftA, f.clock.Add(time.Hour))

	bidderKey, err := chain.KeypairFromSeed(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)
	bidder := Caller{Address: bidderKey.Address(), Role: RoleUser}
	f.gw.Fund(bidder.Address, 20_000_000_000)
	prep, err := f.m.PrepareBid(ctx, bidder, rec.ID, 5_200_000_000)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(prep.TxBytes)
	require.NoError(t, err)
	f.ledger.nextBid.bidder, f.ledger.nextBid.amount = bidder.Address, 5_200_000_000

	// Settlement completes the record while the bid is executing.
	f.gw.ExecuteFn = func(tx []byte, sigs []string) (*chain.Effects, error) {
		eff, err := f.ledger.execute(tx, sigs)
		require.NoError(t, f.repo.UpdateAuction(ctx, rec.ID, repository.Patch{"status": models.StatusCompleted}))
		return eff, err
	}
	out, err := f.m.ExecuteBid(ctx, bidder, rec.ID, prep.TxBytes, bidderKey.SignTransaction(raw))
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, models.StatusCompleted, out.Record.Status)

	bids, err := f.m.Bids(ctx, rec.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, bids)
}
