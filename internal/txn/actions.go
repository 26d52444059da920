package txn

import (
	"context"
	"fmt"

	"auctionhouse/internal/chain"
)

// Workflow action names, also used as audit and metric labels.
const (
	ActionDeposit      = "deposit"
	ActionPlaceNFT     = "place_nft"
	ActionReturnNFT    = "return_nft"
	ActionListNFT      = "list_nft"
	ActionPlaceBid     = "place_bid"
	ActionEndAuction   = "end_auction"
	ActionDelist       = "delist"
	ActionTakeNFT      = "take_nft"
	ActionRetire       = "retire_auction"
	ActionReleaseNFT   = "release_nft"
	ActionReleaseFunds = "release_funds"
)

var framework = chain.MustID("0x2")

// ErrObjectMissing is returned when a required ledger object does not exist.
type ErrObjectMissing struct {
	ID chain.ID
}

func (e *ErrObjectMissing) Error() string {
	return fmt.Sprintf("object %s not found", e.ID)
}

func (o *Orchestrator) object(ctx context.Context, id chain.ID) (*chain.Object, error) {
	var obj *chain.Object
	err := o.read(ctx, func(ctx context.Context) error {
		var err error
		obj, err = o.Gateway.GetObject(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, &ErrObjectMissing{ID: id}
	}
	return obj, nil
}

func (o *Orchestrator) admin() chain.Address {
	if !o.Config.AdminAddress.IsZero() {
		return o.Config.AdminAddress
	}
	if o.Signer == nil {
		return chain.ZeroAddress
	}
	return o.Signer.Address()
}

// custody adds the shared kiosk and its owner cap as inputs.
func (o *Orchestrator) custody(ctx context.Context, tx *chain.ProgrammableTx) (kiosk, ownerCap chain.Argument, err error) {
	kioskObj, err := o.object(ctx, o.Config.KioskID)
	if err != nil {
		return kiosk, ownerCap, err
	}
	capObj, err := o.object(ctx, o.Config.KioskCapID)
	if err != nil {
		return kiosk, ownerCap, err
	}
	if kiosk, err = tx.Object(kioskObj, true); err != nil {
		return kiosk, ownerCap, err
	}
	ownerCap, err = tx.Object(capObj, false)
	return kiosk, ownerCap, err
}

func (o *Orchestrator) clock(ctx context.Context, tx *chain.ProgrammableTx) (chain.Argument, error) {
	obj, err := o.object(ctx, o.Config.ClockID)
	if err != nil {
		return chain.Argument{}, err
	}
	return tx.Object(obj, false)
}

func (o *Orchestrator) adminDraft(action, auctionID string, tx *chain.ProgrammableTx) *Draft {
	return &Draft{Action: action, AuctionID: auctionID, Sender: o.admin(), Tx: tx}
}

// PlaceNFT moves an admin-held NFT into the shared custody container.
func (o *Orchestrator) PlaceNFT(ctx context.Context, auctionID string, nft *chain.Object, nftType chain.TypeTag) (*Draft, error) {
	tx := chain.NewProgrammableTx()
	kiosk, ownerCap, err := o.custody(ctx, tx)
	if err != nil {
		return nil, err
	}
	item, err := tx.Object(nft, true)
	if err != nil {
		return nil, err
	}
	tx.MoveCall(o.Config.PackageID, "marketplace", "place_nft", []chain.TypeTag{nftType}, kiosk, ownerCap, item)
	return o.adminDraft(ActionPlaceNFT, auctionID, tx), nil
}

// ReturnNFT transfers an NFT the admin holds directly to recipient.
func (o *Orchestrator) ReturnNFT(ctx context.Context, auctionID string, nft *chain.Object, nftType chain.TypeTag, recipient chain.Address) (*Draft, error) {
	tx := chain.NewProgrammableTx()
	item, err := tx.Object(nft, true)
	if err != nil {
		return nil, err
	}
	tx.MoveCall(framework, "transfer", "public_transfer", []chain.TypeTag{nftType}, item, tx.PureID(recipient))
	return o.adminDraft(ActionReturnNFT, auctionID, tx), nil
}

// TakeNFT withdraws an NFT from custody and sends it to recipient, delisting
// it first when it is held as a listed item.
func (o *Orchestrator) TakeNFT(ctx context.Context, action, auctionID string, nftID chain.ObjectID, nftType chain.TypeTag, recipient chain.Address, delistFirst bool) (*Draft, error) {
	tx := chain.NewProgrammableTx()
	kiosk, ownerCap, err := o.custody(ctx, tx)
	if err != nil {
		return nil, err
	}
	id := tx.PureID(nftID)
	if delistFirst {
		tx.MoveCall(framework, "kiosk", "delist", []chain.TypeTag{nftType}, kiosk, ownerCap, id)
	}
	item := tx.MoveCall(framework, "kiosk", "take", []chain.TypeTag{nftType}, kiosk, ownerCap, id)
	tx.TransferObjects([]chain.Argument{item}, tx.PureID(recipient))
	if action == "" {
		action = ActionTakeNFT
	}
	return o.adminDraft(action, auctionID, tx), nil
}

func (o *Orchestrator) Delist(ctx context.Context, auctionID string, nftID chain.ObjectID, nftType chain.TypeTag) (*Draft, error) {
	tx := chain.NewProgrammableTx()
	kiosk, ownerCap, err := o.custody(ctx, tx)
	if err != nil {
		return nil, err
	}
	tx.MoveCall(framework, "kiosk", "delist", []chain.TypeTag{nftType}, kiosk, ownerCap, tx.PureID(nftID))
	return o.adminDraft(ActionDelist, auctionID, tx), nil
}

// ListNFT creates the auction object for an NFT in custody.
func (o *Orchestrator) ListNFT(ctx context.Context, auctionID string, nftID chain.ObjectID, nftType chain.TypeTag, startingBid, durationMs uint64) (*Draft, error) {
	tx := chain.NewProgrammableTx()
	kiosk, ownerCap, err := o.custody(ctx, tx)
	if err != nil {
		return nil, err
	}
	clock, err := o.clock(ctx, tx)
	if err != nil {
		return nil, err
	}
	tx.MoveCall(o.Config.PackageID, "marketplace", "list_nft", []chain.TypeTag{nftType},
		kiosk, ownerCap, tx.PureID(nftID), tx.PureU64(startingBid), tx.PureU64(durationMs), clock)
	return o.adminDraft(ActionListNFT, auctionID, tx), nil
}

// EndAuction closes the auction object without moving the NFT.
func (o *Orchestrator) EndAuction(ctx context.Context, action, auctionID string, auction *chain.Object) (*Draft, error) {
	tx := chain.NewProgrammableTx()
	arg, err := tx.Object(auction, true)
	if err != nil {
		return nil, err
	}
	clock, err := o.clock(ctx, tx)
	if err != nil {
		return nil, err
	}
	tx.MoveCall(o.Config.PackageID, "marketplace", "end_auction_no_transfer", nil, arg, clock)
	if action == "" {
		action = ActionEndAuction
	}
	return o.adminDraft(action, auctionID, tx), nil
}

// RetireAuction deletes a canceled auction object.
func (o *Orchestrator) RetireAuction(_ context.Context, auctionID string, auction *chain.Object) (*Draft, error) {
	tx := chain.NewProgrammableTx()
	arg, err := tx.Object(auction, true)
	if err != nil {
		return nil, err
	}
	tx.MoveCall(framework, "object", "delete", nil, arg)
	return o.adminDraft(ActionRetire, auctionID, tx), nil
}

// PlaceBid builds a bidder-signed bid paying amount out of the gas coin.
func (o *Orchestrator) PlaceBid(ctx context.Context, auctionID string, auction *chain.Object, bidder chain.Address, amount uint64) (*Draft, error) {
	tx := chain.NewProgrammableTx()
	arg, err := tx.Object(auction, true)
	if err != nil {
		return nil, err
	}
	coin := tx.SplitCoins(chain.GasCoin, tx.PureU64(amount))
	clock, err := o.clock(ctx, tx)
	if err != nil {
		return nil, err
	}
	tx.MoveCall(o.Config.PackageID, "marketplace", "place_bid", nil, arg, coin.Nested(0), clock)
	return &Draft{Action: ActionPlaceBid, AuctionID: auctionID, Sender: bidder, Tx: tx, Spend: amount, User: true}, nil
}

// Deposit builds a seller-signed transfer of a directly owned NFT to the
// admin address.
func (o *Orchestrator) Deposit(_ context.Context, nft *chain.Object, nftType chain.TypeTag, seller chain.Address) (*Draft, error) {
	tx := chain.NewProgrammableTx()
	item, err := tx.Object(nft, true)
	if err != nil {
		return nil, err
	}
	tx.MoveCall(framework, "transfer", "public_transfer", []chain.TypeTag{nftType}, item, tx.PureID(o.admin()))
	return &Draft{Action: ActionDeposit, Sender: seller, Tx: tx, User: true}, nil
}

// DepositFromKiosk builds a seller-signed withdrawal from the seller's own
// kiosk followed by a transfer to the admin address.
func (o *Orchestrator) DepositFromKiosk(_ context.Context, nftID chain.ObjectID, nftType chain.TypeTag, kiosk, ownerCap *chain.Object, seller chain.Address) (*Draft, error) {
	tx := chain.NewProgrammableTx()
	k, err := tx.Object(kiosk, true)
	if err != nil {
		return nil, err
	}
	c, err := tx.Object(ownerCap, false)
	if err != nil {
		return nil, err
	}
	item := tx.MoveCall(framework, "kiosk", "take", []chain.TypeTag{nftType}, k, c, tx.PureID(nftID))
	tx.TransferObjects([]chain.Argument{item}, tx.PureID(o.admin()))
	return &Draft{Action: ActionDeposit, Sender: seller, Tx: tx, User: true}, nil
}
