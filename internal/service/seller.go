package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"auctionhouse/internal/chain"
	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
	"auctionhouse/internal/txn"
)

// DepositRequest is a seller application for one NFT.
type DepositRequest struct {
	TokenID       string `json:"token_id"`
	StartingBid   int64  `json:"starting_bid"`
	DurationHours int    `json:"auction_duration_hours"`
	Name          string `json:"name"`
}

func (m *Machine) validateDeposit(req DepositRequest) (chain.ObjectID, error) {
	id, err := chain.ParseID(req.TokenID)
	if err != nil {
		return chain.ObjectID{}, err
	}
	if req.StartingBid <= 0 {
		return chain.ObjectID{}, fmt.Errorf("%w: starting bid must be positive", ErrInvalidInput)
	}
	maxHours := m.Config.MaxDurationHours
	if maxHours <= 0 {
		maxHours = 168
	}
	if req.DurationHours < 1 || req.DurationHours > maxHours {
		return chain.ObjectID{}, fmt.Errorf("%w: duration must be 1..%d hours", ErrInvalidInput, maxHours)
	}
	return id, nil
}

// PrepareDeposit builds the unsigned transaction that hands the NFT to the
// admin. The caller must hold the NFT directly or own the kiosk it sits in.
func (m *Machine) PrepareDeposit(ctx context.Context, c Caller, req DepositRequest) (*txn.Prepared, error) {
	if c.Address.IsZero() {
		return nil, ErrUnauthorized
	}
	tokenID, err := m.validateDeposit(req)
	if err != nil {
		return nil, err
	}
	if err := m.ensureNoOpenRecord(ctx, tokenID); err != nil {
		return nil, err
	}
	nft, err := m.getObject(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if nft == nil {
		return nil, fmt.Errorf("%w: nft %s not found", ErrNotInCustody, tokenID)
	}
	tag, err := chain.ParseTypeTag(nft.Type)
	if err != nil {
		return nil, err
	}

	if nft.Owner.IsAddress(c.Address) {
		d, err := m.Tx.Deposit(ctx, nft, tag, c.Address)
		if err != nil {
			return nil, err
		}
		return m.Tx.Prepare(ctx, d)
	}

	kiosk, ownerCap, err := m.sellerKiosk(ctx, c.Address, tokenID)
	if err != nil {
		return nil, err
	}
	d, err := m.Tx.DepositFromKiosk(ctx, tokenID, tag, kiosk, ownerCap, c.Address)
	if err != nil {
		return nil, err
	}
	return m.Tx.Prepare(ctx, d)
}

// sellerKiosk finds a kiosk controlled by seller that holds tokenID.
func (m *Machine) sellerKiosk(ctx context.Context, seller chain.Address, tokenID chain.ObjectID) (kiosk, ownerCap *chain.Object, err error) {
	caps, err := m.Chain.GetOwnedObjects(ctx, seller, "0x2::kiosk::KioskOwnerCap")
	if err != nil {
		return nil, nil, err
	}
	for i := range caps {
		kioskID, perr := chain.ParseShortID(caps[i].FieldString("for"))
		if perr != nil {
			continue
		}
		fields, ferr := m.Chain.GetDynamicFields(ctx, kioskID)
		if ferr != nil {
			return nil, nil, ferr
		}
		for _, f := range fields {
			if !f.Contains(tokenID) {
				continue
			}
			k, kerr := m.getObject(ctx, kioskID)
			if kerr != nil {
				return nil, nil, kerr
			}
			if k == nil {
				break
			}
			return k, &caps[i], nil
		}
	}
	return nil, nil, fmt.Errorf("%w: caller does not hold nft %s", ErrNotInCustody, tokenID)
}

var errNotYetAdmin = errors.New("nft not yet held by admin")

var openStatuses = []models.AuctionStatus{
	models.StatusPending,
	models.StatusQueued,
	models.StatusActive,
	models.StatusCancelRequested,
}

func (m *Machine) ensureNoOpenRecord(ctx context.Context, tokenID chain.ObjectID) error {
	token := tokenID.String()
	n, err := m.Repo.CountAuctions(ctx, repository.ListAuctionsParams{Statuses: openStatuses, TokenID: &token})
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %s", ErrAlreadySubmitted, token)
	}
	return nil
}

// requireSellerHolds checks that c holds tokenID directly or through a
// kiosk it controls.
func (m *Machine) requireSellerHolds(ctx context.Context, c Caller, tokenID chain.ObjectID) error {
	nft, err := m.getObject(ctx, tokenID)
	if err != nil {
		return err
	}
	if nft == nil {
		return fmt.Errorf("%w: nft %s not found", ErrNotInCustody, tokenID)
	}
	if nft.Owner.IsAddress(c.Address) {
		return nil
	}
	if nft.Owner.Kind == chain.OwnerObject {
		_, _, err := m.sellerKiosk(ctx, c.Address, tokenID)
		return err
	}
	return fmt.Errorf("%w: caller does not hold nft %s", ErrNotInCustody, tokenID)
}

// ExecuteDeposit submits the signed deposit, confirms it moved the claimed
// NFT from the caller to the admin and creates the pending record.
func (m *Machine) ExecuteDeposit(ctx context.Context, c Caller, req DepositRequest, txBytes, signature string) (*Outcome, error) {
	if c.Address.IsZero() {
		return nil, ErrUnauthorized
	}
	tokenID, err := m.validateDeposit(req)
	if err != nil {
		return nil, err
	}
	unlock := m.locks.Lock("nft:" + tokenID.String())
	defer unlock()

	if err := m.ensureNoOpenRecord(ctx, tokenID); err != nil {
		return nil, err
	}
	if err := m.requireSellerHolds(ctx, c, tokenID); err != nil {
		return nil, err
	}
	signer, err := chain.SignatureAddress(signature)
	if err != nil {
		return nil, err
	}
	if signer != c.Address {
		return nil, ErrUnauthorized
	}

	res, err := m.Tx.ExecuteSigned(ctx, txn.ActionDeposit, "", txBytes, signature, c.Address)
	if err != nil {
		return nil, err
	}
	if res.Effects == nil || res.Effects.Sender != c.Address {
		return nil, fmt.Errorf("%w: deposit %s was not sent by the caller", ErrUnauthorized, res.Digest)
	}
	if !res.Effects.MovedTo(tokenID, m.Config.AdminAddress) {
		if m.Logger != nil {
			m.Logger.Warn("deposit did not transfer the claimed nft",
				zap.String("token_id", tokenID.String()),
				zap.String("seller", c.Address.String()),
				zap.String("digest", res.Digest),
			)
		}
		return nil, fmt.Errorf("%w: deposit %s did not transfer nft %s to the admin", ErrNotInCustody, res.Digest, tokenID)
	}

	// The node may lag behind local execution.
	var nft *chain.Object
	wait := readPolicy(m.ReadRetry)
	wait.Retriable = func(err error) bool { return errors.Is(err, errNotYetAdmin) || chain.IsTransient(err) }
	err = wait.Do(ctx, func(ctx context.Context, _ int) error {
		obj, err := m.Chain.GetObject(ctx, tokenID)
		if err != nil {
			return err
		}
		if obj == nil || !obj.Owner.IsAddress(m.Config.AdminAddress) {
			return errNotYetAdmin
		}
		nft = obj
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotInCustody, err)
	}

	tag, err := nft.StructTag()
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = nft.FieldString("name")
	}
	rec := &models.AuctionRecord{
		ID:                   uuid.New(),
		TokenID:              tokenID.String(),
		CollectionType:       tag.String(),
		Name:                 name,
		Seller:               c.Address.String(),
		StartingBid:          req.StartingBid,
		AuctionDurationHours: req.DurationHours,
		Status:               models.StatusPending,
		CurrentBid:           req.StartingBid,
		CreatedAt:            m.now(),
	}
	out := &Outcome{Digest: res.Digest, Record: rec}
	if !m.Reconciler.CreateRecordVerified(ctx, rec, Origin{Operation: txn.ActionDeposit, Digest: res.Digest}) {
		out.Divergent = true
		return out, nil
	}
	if m.Logger != nil {
		m.Logger.Info("application submitted", zap.String("auction_id", rec.ID.String()), zap.String("digest", res.Digest))
	}
	return out, nil
}

// CancelRequest lets the seller withdraw a pending application pending
// admin confirmation.
func (m *Machine) CancelRequest(ctx context.Context, c Caller, id uuid.UUID) (*Outcome, error) {
	unlock := m.locks.Lock(id.String())
	defer unlock()
	rec, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !chain.SameID(rec.Seller, c.Address.String()) {
		return nil, ErrUnauthorized
	}
	if err := requireStatus(rec, models.StatusCancelRequested, models.StatusPending); err != nil {
		return nil, err
	}
	return m.update(ctx, rec, repository.Patch{
		"status":              models.StatusCancelRequested,
		"cancel_requested_at": m.now(),
	})
}

// SellerHistory lists the caller's records, newest first.
func (m *Machine) SellerHistory(ctx context.Context, c Caller, limit, offset int) ([]models.AuctionRecord, int64, error) {
	if c.Address.IsZero() {
		return nil, 0, ErrUnauthorized
	}
	seller := c.Address.String()
	params := repository.ListAuctionsParams{Limit: limit, Offset: offset, Seller: &seller}
	items, err := m.Repo.ListAuctions(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := m.Repo.CountAuctions(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
