package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"auctionhouse/internal/chain"
	"auctionhouse/internal/retry"
)

// ChainAuction is the decoded on-chain auction object. It is authoritative
// for bids, balance and timing.
type ChainAuction struct {
	ObjectID      chain.ID      `json:"object_id"`
	CurrentBid    uint64        `json:"current_bid"`
	HighestBidder chain.Address `json:"highest_bidder"`
	Status        uint64        `json:"status"`
	EndTimeMs     int64         `json:"end_time_ms"`
	Balance       uint64        `json:"balance"`
	NftID         string        `json:"nft_id"`
	KioskID       string        `json:"kiosk_id"`
}

// Ended reports a closed auction; status 0 is open.
func (a *ChainAuction) Ended() bool {
	return a != nil && a.Status != 0
}

func (a *ChainAuction) EndTime() time.Time {
	if a == nil || a.EndTimeMs <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(a.EndTimeMs).UTC()
}

// Expired reports whether the bidding window has closed at now.
func (a *ChainAuction) Expired(now time.Time) bool {
	end := a.EndTime()
	return a.Ended() || (!end.IsZero() && !now.Before(end))
}

// DecodeAuction validates obj as a {pkg}::marketplace::Auction and reads
// its fields.
func DecodeAuction(obj *chain.Object, pkg chain.ID) (*ChainAuction, error) {
	if obj == nil {
		return nil, fmt.Errorf("%w: auction object missing", ErrChainMismatch)
	}
	tag, err := obj.StructTag()
	if err != nil || !tag.Is(pkg, "marketplace", "Auction") {
		return nil, fmt.Errorf("%w: unexpected auction type %q", ErrChainMismatch, obj.Type)
	}
	a := &ChainAuction{
		ObjectID:   obj.ID(),
		CurrentBid: obj.FieldUint("current_bid"),
		Status:     obj.FieldUint("status"),
		EndTimeMs:  int64(obj.FieldUint("end_time")),
		NftID:      obj.FieldString("nft_id"),
		KioskID:    obj.FieldString("kiosk_id"),
	}
	if b := obj.Fields.Get("balance"); b.IsObject() {
		a.Balance = obj.FieldUint("balance.value")
	} else {
		a.Balance = obj.FieldUint("balance")
	}
	if raw := strings.TrimSpace(obj.FieldString("highest_bidder")); raw != "" {
		if addr, err := chain.ParseShortID(raw); err == nil {
			a.HighestBidder = addr
		}
	}
	return a, nil
}

// readPolicy retries transient read failures.
func readPolicy(p retry.Policy) retry.Policy {
	if p.Retriable == nil {
		p.Retriable = chain.IsTransient
	}
	return p
}

func (m *Machine) getObject(ctx context.Context, id chain.ID) (*chain.Object, error) {
	var obj *chain.Object
	err := readPolicy(m.ReadRetry).Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		obj, err = m.Chain.GetObject(ctx, id)
		return err
	})
	return obj, err
}

func (m *Machine) readAuction(ctx context.Context, objectID string) (*ChainAuction, *chain.Object, error) {
	id, err := chain.ParseID(objectID)
	if err != nil {
		return nil, nil, err
	}
	obj, err := m.getObject(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	a, err := DecodeAuction(obj, m.Config.PackageID)
	if err != nil {
		return nil, nil, err
	}
	return a, obj, nil
}

// Custody is a fresh read of where an NFT sits.
type Custody struct {
	Object   *chain.Object
	Type     chain.TypeTag
	InKiosk  bool
	Listed   bool
	HeldBy   chain.Address
	Exists   bool
	KioskRef chain.ID
}

// AdminHeld reports direct ownership by addr.
func (c Custody) AdminHeld(addr chain.Address) bool {
	return c.Object != nil && c.Object.Owner.IsAddress(addr)
}

func (m *Machine) custody(ctx context.Context, tokenID string) (Custody, error) {
	id, err := chain.ParseID(tokenID)
	if err != nil {
		return Custody{}, err
	}
	var out Custody
	err = readPolicy(m.ReadRetry).Do(ctx, func(ctx context.Context, _ int) error {
		out = Custody{KioskRef: m.Config.KioskID}
		obj, err := m.Chain.GetObject(ctx, id)
		if err != nil {
			return err
		}
		if obj != nil {
			out.Exists = true
			out.Object = obj
			if obj.Owner.Kind == chain.OwnerAddress {
				out.HeldBy = obj.Owner.Address
			}
			if tag, tErr := chain.ParseTypeTag(obj.Type); tErr == nil {
				out.Type = tag
			}
		}
		fields, err := m.Chain.GetDynamicFields(ctx, m.Config.KioskID)
		if err != nil {
			return err
		}
		for _, f := range fields {
			if !f.Contains(id) {
				continue
			}
			if strings.Contains(f.NameType, "::kiosk::Listing") {
				out.Listed = true
			} else {
				out.InKiosk = true
			}
		}
		if out.Listed {
			out.InKiosk = true
		}
		return nil
	})
	return out, err
}

// verifyCustodyHandles checks the custody container and its cap before an
// NFT is placed: the cap must belong to the kiosk and the admin, and the
// kiosk must be a shared 0x2::kiosk::Kiosk.
func (m *Machine) verifyCustodyHandles(ctx context.Context) error {
	capObj, err := m.getObject(ctx, m.Config.KioskCapID)
	if err != nil {
		return err
	}
	if capObj == nil || !chain.SameID(capObj.FieldString("for"), m.Config.KioskID.String()) || !capObj.Owner.IsAddress(m.Config.AdminAddress) {
		return fmt.Errorf("%w: kiosk cap %s invalid or not held by admin", ErrNotInCustody, m.Config.KioskCapID)
	}
	kiosk, err := m.getObject(ctx, m.Config.KioskID)
	if err != nil {
		return err
	}
	if kiosk == nil || kiosk.Owner.Kind != chain.OwnerShared {
		return fmt.Errorf("%w: kiosk %s missing or not shared", ErrNotInCustody, m.Config.KioskID)
	}
	tag, err := kiosk.StructTag()
	if err != nil || !tag.Is(chain.MustID("0x2"), "kiosk", "Kiosk") {
		return fmt.Errorf("%w: %s is not a kiosk", ErrNotInCustody, m.Config.KioskID)
	}
	return nil
}

func parseUint(s string) uint64 {
	n, _ := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	return n
}
