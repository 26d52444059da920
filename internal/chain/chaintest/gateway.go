// Package chaintest provides an in-memory chain.Gateway for tests.
package chaintest

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mr-tron/base58"
	"github.com/tidwall/gjson"

	"auctionhouse/internal/chain"
)

// Gateway serves reads from its maps. Execute and DryRun delegate to the
// hooks when set and otherwise report success.
type Gateway struct {
	mu sync.Mutex

	Objects  map[chain.ID]*chain.Object
	Fields   map[chain.ID][]chain.DynamicField
	Coins    map[chain.ID][]chain.Coin
	Events   []chain.Event
	Txs      map[string]*chain.Effects
	GasPrice uint64

	DryRunFn  func(txBytes []byte) (*chain.Effects, error)
	ExecuteFn func(txBytes []byte, signatures []string) (*chain.Effects, error)
	// ReadErr, when set, fails every read.
	ReadErr error

	Executed [][]byte
	DryRuns  int
	seq      int
}

var _ chain.Gateway = (*Gateway)(nil)

func New() *Gateway {
	return &Gateway{
		Objects:  map[chain.ID]*chain.Object{},
		Fields:   map[chain.ID][]chain.DynamicField{},
		Coins:    map[chain.ID][]chain.Coin{},
		Txs:      map[string]*chain.Effects{},
		GasPrice: 1000,
	}
}

// Digest returns a deterministic base58 object digest.
func Digest(fill byte) string {
	return base58.Encode(bytes.Repeat([]byte{fill}, 32))
}

// JSON builds a gjson value for object fields or event payloads.
func JSON(raw string) gjson.Result {
	return gjson.Parse(raw)
}

func (g *Gateway) Put(obj *chain.Object) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Objects[obj.Ref.ID] = obj
}

func (g *Gateway) Remove(id chain.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.Objects, id)
}

// SetFields replaces the fields of a stored object, bumping its version.
func (g *Gateway) SetFields(id chain.ID, raw string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if obj, ok := g.Objects[id]; ok {
		cp := *obj
		cp.Fields = gjson.Parse(raw)
		cp.Ref.Version++
		g.Objects[id] = &cp
	}
}

func (g *Gateway) SetOwner(id chain.ID, owner chain.Owner) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if obj, ok := g.Objects[id]; ok {
		cp := *obj
		cp.Owner = owner
		cp.Ref.Version++
		g.Objects[id] = &cp
	}
}

// AddToKiosk registers item as a dynamic field of kiosk.
func (g *Gateway) AddToKiosk(kiosk, item chain.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Fields[kiosk] = append(g.Fields[kiosk], chain.DynamicField{
		ObjectID:   item,
		ObjectType: "0x2::dynamic_object_field::Wrapper<0x2::kiosk::Item>",
		NameType:   "0x2::kiosk::Item",
		NameValue:  gjson.Parse(`{"id":"` + item.String() + `"}`),
	})
}

func (g *Gateway) RemoveFromKiosk(kiosk, item chain.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.Fields[kiosk][:0]
	for _, f := range g.Fields[kiosk] {
		if !f.Contains(item) {
			out = append(out, f)
		}
	}
	g.Fields[kiosk] = out
}

func (g *Gateway) Fund(owner chain.ID, balance uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	g.Coins[owner] = append(g.Coins[owner], chain.Coin{
		Ref:     chain.ObjectRef{ID: chain.MustID(fmt.Sprintf("0xc0%d", g.seq)), Version: 1, Digest: Digest(9)},
		Balance: balance,
	})
}

func (g *Gateway) ExecutedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Executed)
}

func (g *Gateway) GetObject(_ context.Context, id chain.ID) (*chain.Object, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ReadErr != nil {
		return nil, g.ReadErr
	}
	obj, ok := g.Objects[id]
	if !ok {
		return nil, nil
	}
	cp := *obj
	return &cp, nil
}

func (g *Gateway) GetDynamicFields(_ context.Context, parent chain.ID) ([]chain.DynamicField, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ReadErr != nil {
		return nil, g.ReadErr
	}
	return append([]chain.DynamicField(nil), g.Fields[parent]...), nil
}

func (g *Gateway) GetOwnedObjects(_ context.Context, owner chain.ID, structType string) ([]chain.Object, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ReadErr != nil {
		return nil, g.ReadErr
	}
	var out []chain.Object
	for _, obj := range g.Objects {
		if !obj.Owner.IsAddress(owner) {
			continue
		}
		if structType != "" && !strings.HasPrefix(obj.Type, structType) {
			continue
		}
		out = append(out, *obj)
	}
	return out, nil
}

func (g *Gateway) QueryEvents(_ context.Context, q chain.EventQuery) (chain.EventPage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ReadErr != nil {
		return chain.EventPage{}, g.ReadErr
	}
	var out []chain.Event
	for _, ev := range g.Events {
		if q.MoveEventType == "" || ev.Type == q.MoveEventType {
			out = append(out, ev)
		}
	}
	if q.Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return chain.EventPage{Events: out}, nil
}

func (g *Gateway) GetTransactionBlock(_ context.Context, digest string) (*chain.Effects, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ReadErr != nil {
		return nil, g.ReadErr
	}
	eff, ok := g.Txs[digest]
	if !ok {
		return nil, &chain.RPCError{Code: -32602, Message: "Could not find the referenced transaction"}
	}
	return eff, nil
}

func (g *Gateway) GetBalance(_ context.Context, owner chain.ID) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var total uint64
	for _, c := range g.Coins[owner] {
		total += c.Balance
	}
	return total, nil
}

func (g *Gateway) GetCoins(_ context.Context, owner chain.ID) ([]chain.Coin, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ReadErr != nil {
		return nil, g.ReadErr
	}
	return append([]chain.Coin(nil), g.Coins[owner]...), nil
}

func (g *Gateway) ReferenceGasPrice(context.Context) (uint64, error) {
	return g.GasPrice, nil
}

func (g *Gateway) DryRun(_ context.Context, txBytes []byte) (*chain.Effects, error) {
	g.mu.Lock()
	g.DryRuns++
	fn := g.DryRunFn
	g.mu.Unlock()
	if fn != nil {
		return fn(txBytes)
	}
	return &chain.Effects{Success: true, GasUsed: chain.GasUsed{Computation: 1_000_000, Storage: 2_000_000, Rebate: 500_000}}, nil
}

// Execute runs ExecuteFn outside the lock so hooks may mutate the gateway.
func (g *Gateway) Execute(_ context.Context, txBytes []byte, signatures []string) (*chain.Effects, error) {
	g.mu.Lock()
	g.Executed = append(g.Executed, txBytes)
	g.seq++
	seq := g.seq
	fn := g.ExecuteFn
	g.mu.Unlock()

	var eff *chain.Effects
	if fn != nil {
		var err error
		eff, err = fn(txBytes, signatures)
		if err != nil {
			return nil, err
		}
	} else {
		eff = &chain.Effects{Success: true}
	}
	if eff.Digest == "" {
		eff.Digest = fmt.Sprintf("tx%d", seq)
	}
	g.mu.Lock()
	g.Txs[eff.Digest] = eff
	g.mu.Unlock()
	return eff, nil
}
