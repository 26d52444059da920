package service

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"auctionhouse/internal/chain"
	"auctionhouse/internal/chain/chaintest"
	"auctionhouse/internal/models"
	"auctionhouse/internal/retry"
	"auctionhouse/internal/txn"
)

var (
	pkgID   = chain.MustID("0xabc")
	kioskID = fill(0x88)
	capID   = fill(0x77)
	clockID = chain.MustID("0x6")
	nftA    = fill(0x51)
	nftB    = fill(0x52)
	nftC    = fill(0x53)
	seller  = fill(0x5e)
)

const collection = "0x0000000000000000000000000000000000000000000000000000000000000abc::nft::Nft"

func fill(b byte) chain.ID {
	var id chain.ID
	for i := range id {
		id[i] = b
	}
	return id
}

type auctionState struct {
	nft        chain.ID
	currentBid uint64
	bidder     chain.Address
	status     uint64
	end        time.Time
	balance    uint64
}

// ledger plays the custody and auction contracts on top of the in-memory
// gateway. It recognizes calls by the function names in the tx bytes.
type ledger struct {
	mu       sync.Mutex
	gw       *chaintest.Gateway
	now      func() time.Time
	nfts     []chain.ID
	auctions map[chain.ID]*auctionState
	seq      int

	// takeTo receives NFTs leaving custody or the admin wallet.
	takeTo  chain.Address
	nextBid struct {
		bidder chain.Address
		amount uint64
	}
}

func (l *ledger) nftIn(tx []byte) (chain.ID, bool) {
	for _, id := range l.nfts {
		if bytes.Contains(tx, id[:]) {
			return id, true
		}
	}
	return chain.ID{}, false
}

func (l *ledger) auctionIn(tx []byte) (chain.ID, *auctionState, bool) {
	for id, st := range l.auctions {
		if bytes.Contains(tx, id[:]) {
			return id, st, true
		}
	}
	return chain.ID{}, nil, false
}

func (l *ledger) render(id chain.ID, st *auctionState) {
	l.gw.SetFields(id, fmt.Sprintf(
		`{"current_bid":"%d","highest_bidder":"%s","status":"%d","end_time":"%d","balance":{"value":"%d"},"nft_id":"%s","kiosk_id":"%s"}`,
		st.currentBid, st.bidder.String(), st.status, st.end.UnixMilli(), st.balance, st.nft.String(), kioskID.String(),
	))
}

// putAuction creates an auction object directly on the ledger.
func (l *ledger) putAuction(nft chain.ID, startingBid uint64, end time.Time) chain.ID {
	l.seq++
	id := fill(byte(0xa0 + l.seq))
	st := &auctionState{nft: nft, currentBid: startingBid, end: end}
	l.auctions[id] = st
	l.gw.Put(&chain.Object{
		Ref:   chain.ObjectRef{ID: id, Version: 1, Digest: chaintest.Digest(byte(0x40 + l.seq))},
		Type:  pkgID.String() + "::marketplace::Auction",
		Owner: chain.Owner{Kind: chain.OwnerShared, InitialSharedVersion: 1},
	})
	l.render(id, st)
	return id
}

func (l *ledger) execute(tx []byte, sigs []string) (*chain.Effects, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	eff := &chain.Effects{Success: true, TimestampMs: l.now().UnixMilli()}
	if len(sigs) > 0 {
		eff.Sender, _ = chain.SignatureAddress(sigs[0])
	}
	moved := func(nft chain.ID) {
		eff.ObjectChanges = append(eff.ObjectChanges, chain.ObjectChange{
			Kind: "mutated", ObjectID: nft, ObjectType: collection, Owner: heldBy(l.takeTo),
		})
	}
	has := func(name string) bool { return bytes.Contains(tx, []byte(name)) }
	switch {
	case has("list_nft"):
		nft, _ := l.nftIn(tx)
		id := l.putAuction(nft, 5_000_000_000, l.now().Add(24*time.Hour))
		eff.ObjectChanges = []chain.ObjectChange{{Kind: "created", ObjectID: id, ObjectType: pkgID.String() + "::marketplace::Auction"}}
	case has("place_nft"):
		nft, _ := l.nftIn(tx)
		l.gw.SetOwner(nft, chain.Owner{Kind: chain.OwnerObject, Address: kioskID})
		l.gw.AddToKiosk(kioskID, nft)
	case has("place_bid"):
		id, st, ok := l.auctionIn(tx)
		if !ok {
			return &chain.Effects{Success: false, Error: "auction not found"}, nil
		}
		st.currentBid, st.bidder, st.balance = l.nextBid.amount, l.nextBid.bidder, l.nextBid.amount
		l.render(id, st)
		eff.Events = []chain.Event{{
			Type: pkgID.String() + "::marketplace::BidPlaced",
			ParsedJSON: chaintest.JSON(fmt.Sprintf(`{"auction_id":"%s","bidder":"%s","amount":"%d"}`,
				id.String(), l.nextBid.bidder.String(), l.nextBid.amount)),
			TimestampMs: eff.TimestampMs,
		}}
	case has("end_auction_no_transfer"):
		id, st, ok := l.auctionIn(tx)
		if !ok || st.status != 0 {
			return &chain.Effects{Success: false, Error: "EAuctionEnded"}, nil
		}
		st.status = 1
		l.render(id, st)
	case has("take"):
		nft, _ := l.nftIn(tx)
		l.gw.RemoveFromKiosk(kioskID, nft)
		l.gw.SetOwner(nft, chain.Owner{Kind: chain.OwnerAddress, Address: l.takeTo})
		moved(nft)
	case has("delist"):
	case has("public_transfer"):
		nft, _ := l.nftIn(tx)
		l.gw.SetOwner(nft, chain.Owner{Kind: chain.OwnerAddress, Address: l.takeTo})
		moved(nft)
	case has("delete"):
		id, _, _ := l.auctionIn(tx)
		l.gw.Remove(id)
		delete(l.auctions, id)
	}
	return eff, nil
}

type recordingSink struct {
	mu    sync.Mutex
	items []models.Divergence
}

func (s *recordingSink) ReportDivergence(_ context.Context, d models.Divergence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, d)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

type fixture struct {
	t      *testing.T
	m      *Machine
	repo   *memRepo
	gw     *chaintest.Gateway
	ledger *ledger
	sink   *recordingSink
	signer *chain.Keypair
	admin  Caller
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	signer, err := chain.KeypairFromSeed(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	adminAddr := signer.Address()

	f := &fixture{
		t:      t,
		repo:   newMemRepo(),
		gw:     chaintest.New(),
		sink:   &recordingSink{},
		signer: signer,
		admin:  Caller{Address: adminAddr, Role: RoleAdmin},
		clock:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return f.clock }
	f.ledger = &ledger{gw: f.gw, now: now, auctions: map[chain.ID]*auctionState{}}
	f.gw.ExecuteFn = f.ledger.execute

	f.gw.Put(&chain.Object{
		Ref:   chain.ObjectRef{ID: kioskID, Version: 3, Digest: chaintest.Digest(1)},
		Type:  "0x2::kiosk::Kiosk",
		Owner: chain.Owner{Kind: chain.OwnerShared, InitialSharedVersion: 2},
	})
	f.gw.Put(&chain.Object{
		Ref:    chain.ObjectRef{ID: capID, Version: 4, Digest: chaintest.Digest(2)},
		Type:   "0x2::kiosk::KioskOwnerCap",
		Owner:  chain.Owner{Kind: chain.OwnerAddress, Address: adminAddr},
		Fields: chaintest.JSON(`{"for":"` + kioskID.String() + `"}`),
	})
	f.gw.Put(&chain.Object{
		Ref:   chain.ObjectRef{ID: clockID, Version: 1, Digest: chaintest.Digest(3)},
		Type:  "0x2::clock::Clock",
		Owner: chain.Owner{Kind: chain.OwnerShared, InitialSharedVersion: 1},
	})
	f.gw.Fund(adminAddr, 50_000_000_000)

	orchestrator := &txn.Orchestrator{
		Gateway: f.gw,
		Signer:  signer,
		Config: txn.Config{
			AdminAddress: adminAddr,
			PackageID:    pkgID,
			KioskID:      kioskID,
			KioskCapID:   capID,
			ClockID:      clockID,
			AdminBudget:  txn.BudgetPolicy{Floor: 100_000_000, Multiplier: decimal.NewFromFloat(1.5), Fallback: 150_000_000},
			UserBudget:   txn.BudgetPolicy{Floor: 300_000_000, Multiplier: decimal.NewFromFloat(1.2), Fallback: 300_000_000},
		},
		Retry: retry.Policy{MaxAttempts: 2},
		Audit: f.repo,
	}
	f.m = &Machine{
		Repo:       f.repo,
		Chain:      f.gw,
		Tx:         orchestrator,
		Reconciler: &Reconciler{Repo: f.repo, Retry: retry.Policy{MaxAttempts: 3}, Sink: f.sink},
		Settings:   &SystemSettingsService{Repo: f.repo},
		Config: Config{
			AdminAddress:     adminAddr,
			PackageID:        pkgID,
			KioskID:          kioskID,
			KioskCapID:       capID,
			MinIncrement:     100_000_000,
			Cooldown:         time.Hour,
			FeeBps:           750,
			MaxDurationHours: 168,
		},
		Now: now,
	}
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func (f *fixture) putNFT(id chain.ID, owner chain.Owner) {
	f.ledger.nfts = append(f.ledger.nfts, id)
	f.gw.Put(&chain.Object{
		Ref:    chain.ObjectRef{ID: id, Version: 1, Digest: chaintest.Digest(id[0])},
		Type:   collection,
		Owner:  owner,
		Fields: chaintest.JSON(`{"name":"Nft ` + id.String()[:6] + `"}`),
	})
}

func heldBy(addr chain.Address) chain.Owner {
	return chain.Owner{Kind: chain.OwnerAddress, Address: addr}
}

// seed stores a record and places its NFT where that status implies.
func (f *fixture) seed(status models.AuctionStatus, nft chain.ID, createdAt time.Time) models.AuctionRecord {
	switch status {
	case models.StatusPending, models.StatusCancelRequested:
		f.putNFT(nft, heldBy(f.admin.Address))
	default:
		f.putNFT(nft, chain.Owner{Kind: chain.OwnerObject, Address: kioskID})
		f.gw.AddToKiosk(kioskID, nft)
	}
	rec := models.AuctionRecord{
		ID:                   uuid.New(),
		TokenID:              nft.String(),
		CollectionType:       collection,
		Seller:               seller.String(),
		StartingBid:          5_000_000_000,
		AuctionDurationHours: 24,
		Status:               status,
		CurrentBid:           5_000_000_000,
		CreatedAt:            createdAt,
	}
	if status != models.StatusPending && status != models.StatusCancelRequested {
		rec.KioskID = kioskID.String()
		rec.CustodyCapID = capID.String()
	}
	f.repo.put(rec)
	return rec
}

// seedActive stores an active record backed by a live auction object.
func (f *fixture) seedActive(nft chain.ID, end time.Time) models.AuctionRecord {
	rec := f.seed(models.StatusActive, nft, f.clock.Add(-48*time.Hour))
	obj := f.ledger.putAuction(nft, uint64(rec.StartingBid), end)
	started := end.Add(-24 * time.Hour)
	rec.AuctionObjectID = strPtr(obj.String())
	rec.StartedAt = &started
	f.repo.put(rec)
	return rec
}

func (f *fixture) record(id uuid.UUID) *models.AuctionRecord {
	f.t.Helper()
	rec, err := f.repo.GetAuction(context.Background(), id)
	require.NoError(f.t, err)
	require.NotNil(f.t, rec)
	return rec
}

func (f *fixture) owner(id chain.ID) chain.Owner {
	f.t.Helper()
	obj, err := f.gw.GetObject(context.Background(), id)
	require.NoError(f.t, err)
	require.NotNil(f.t, obj)
	return obj.Owner
}
