package sui

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"auctionhouse/internal/chain"
)

const (
	maxPages     = 50
	pageSize     = 50
	suiCoinType  = "0x2::sui::SUI"
	execWaitMode = "WaitForLocalExecution"
)

var objectOptions = map[string]bool{
	"showType":    true,
	"showOwner":   true,
	"showContent": true,
}

var txOptions = map[string]bool{
	"showInput":         true,
	"showEffects":       true,
	"showEvents":        true,
	"showObjectChanges": true,
}

func (c *Client) GetObject(ctx context.Context, id chain.ID) (*chain.Object, error) {
	res, err := c.call(ctx, "sui_getObject", id.String(), objectOptions)
	if err != nil {
		return nil, err
	}
	if code := res.Get("error.code").String(); code != "" {
		if code == "notExists" || code == "deleted" {
			return nil, nil
		}
		return nil, &chain.RPCError{Code: -1, Message: "getObject: " + code}
	}
	data := res.Get("data")
	if !data.Exists() {
		return nil, nil
	}
	return parseObject(data)
}

func (c *Client) GetDynamicFields(ctx context.Context, parent chain.ID) ([]chain.DynamicField, error) {
	var out []chain.DynamicField
	var cursor any
	for page := 0; page < maxPages; page++ {
		res, err := c.call(ctx, "suix_getDynamicFields", parent.String(), cursor, pageSize)
		if err != nil {
			return nil, err
		}
		for _, item := range res.Get("data").Array() {
			id, err := chain.ParseShortID(item.Get("objectId").String())
			if err != nil {
				return nil, err
			}
			out = append(out, chain.DynamicField{
				ObjectID:   id,
				ObjectType: item.Get("objectType").String(),
				NameType:   item.Get("name.type").String(),
				NameValue:  item.Get("name.value"),
			})
		}
		if !res.Get("hasNextPage").Bool() {
			break
		}
		cursor = res.Get("nextCursor").String()
	}
	return out, nil
}

func (c *Client) GetOwnedObjects(ctx context.Context, owner chain.ID, structType string) ([]chain.Object, error) {
	query := map[string]any{"options": objectOptions}
	if strings.TrimSpace(structType) != "" {
		query["filter"] = map[string]string{"StructType": structType}
	}
	var out []chain.Object
	var cursor any
	for page := 0; page < maxPages; page++ {
		res, err := c.call(ctx, "suix_getOwnedObjects", owner.String(), query, cursor, pageSize)
		if err != nil {
			return nil, err
		}
		for _, item := range res.Get("data").Array() {
			obj, err := parseObject(item.Get("data"))
			if err != nil {
				return nil, err
			}
			out = append(out, *obj)
		}
		if !res.Get("hasNextPage").Bool() {
			break
		}
		cursor = res.Get("nextCursor").String()
	}
	return out, nil
}

func (c *Client) QueryEvents(ctx context.Context, q chain.EventQuery) (chain.EventPage, error) {
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var cursor any
	if strings.TrimSpace(q.Cursor) != "" {
		cursor = json.RawMessage(q.Cursor)
	}
	res, err := c.call(ctx, "suix_queryEvents", map[string]string{"MoveEventType": q.MoveEventType}, cursor, limit, q.Descending)
	if err != nil {
		return chain.EventPage{}, err
	}
	page := chain.EventPage{HasNext: res.Get("hasNextPage").Bool()}
	if next := res.Get("nextCursor"); next.Exists() && next.Type != gjson.Null {
		page.NextCursor = next.Raw
	}
	for _, item := range res.Get("data").Array() {
		page.Events = append(page.Events, parseEvent(item))
	}
	return page, nil
}

func (c *Client) GetTransactionBlock(ctx context.Context, digest string) (*chain.Effects, error) {
	digest = strings.TrimSpace(digest)
	if digest == "" {
		return nil, fmt.Errorf("digest is required")
	}
	res, err := c.call(ctx, "sui_getTransactionBlock", digest, txOptions)
	if err != nil {
		return nil, err
	}
	return parseEffects(res), nil
}

func (c *Client) GetBalance(ctx context.Context, owner chain.ID) (uint64, error) {
	res, err := c.call(ctx, "suix_getBalance", owner.String(), suiCoinType)
	if err != nil {
		return 0, err
	}
	return res.Get("totalBalance").Uint(), nil
}

func (c *Client) GetCoins(ctx context.Context, owner chain.ID) ([]chain.Coin, error) {
	var out []chain.Coin
	var cursor any
	for page := 0; page < maxPages; page++ {
		res, err := c.call(ctx, "suix_getCoins", owner.String(), suiCoinType, cursor, pageSize)
		if err != nil {
			return nil, err
		}
		for _, item := range res.Get("data").Array() {
			id, err := chain.ParseShortID(item.Get("coinObjectId").String())
			if err != nil {
				return nil, err
			}
			out = append(out, chain.Coin{
				Ref: chain.ObjectRef{
					ID:      id,
					Version: item.Get("version").Uint(),
					Digest:  item.Get("digest").String(),
				},
				Balance: item.Get("balance").Uint(),
			})
		}
		if !res.Get("hasNextPage").Bool() {
			break
		}
		cursor = res.Get("nextCursor").String()
	}
	return out, nil
}

func (c *Client) ReferenceGasPrice(ctx context.Context) (uint64, error) {
	res, err := c.call(ctx, "suix_getReferenceGasPrice")
	if err != nil {
		return 0, err
	}
	return res.Uint(), nil
}

func (c *Client) DryRun(ctx context.Context, txBytes []byte) (*chain.Effects, error) {
	res, err := c.call(ctx, "sui_dryRunTransactionBlock", base64.StdEncoding.EncodeToString(txBytes))
	if err != nil {
		return nil, err
	}
	return parseEffects(res), nil
}

func (c *Client) Execute(ctx context.Context, txBytes []byte, signatures []string) (*chain.Effects, error) {
	if len(signatures) == 0 {
		return nil, fmt.Errorf("at least one signature is required")
	}
	res, err := c.call(ctx, "sui_executeTransactionBlock",
		base64.StdEncoding.EncodeToString(txBytes),
		signatures,
		txOptions,
		execWaitMode,
	)
	if err != nil {
		return nil, err
	}
	return parseEffects(res), nil
}

func parseObject(data gjson.Result) (*chain.Object, error) {
	id, err := chain.ParseShortID(data.Get("objectId").String())
	if err != nil {
		return nil, err
	}
	owner, err := parseOwner(data.Get("owner"))
	if err != nil {
		return nil, err
	}
	typ := data.Get("type").String()
	if typ == "" {
		typ = data.Get("content.type").String()
	}
	return &chain.Object{
		Ref: chain.ObjectRef{
			ID:      id,
			Version: data.Get("version").Uint(),
			Digest:  data.Get("digest").String(),
		},
		Type:   typ,
		Owner:  owner,
		Fields: data.Get("content.fields"),
	}, nil
}

func parseOwner(v gjson.Result) (chain.Owner, error) {
	if v.Type == gjson.String {
		if v.Str == "Immutable" {
			return chain.Owner{Kind: chain.OwnerImmutable}, nil
		}
		return chain.Owner{}, fmt.Errorf("unknown owner %q", v.Str)
	}
	if a := v.Get("AddressOwner"); a.Exists() {
		id, err := chain.ParseShortID(a.String())
		return chain.Owner{Kind: chain.OwnerAddress, Address: id}, err
	}
	if a := v.Get("ObjectOwner"); a.Exists() {
		id, err := chain.ParseShortID(a.String())
		return chain.Owner{Kind: chain.OwnerObject, Address: id}, err
	}
	if s := v.Get("Shared"); s.Exists() {
		return chain.Owner{Kind: chain.OwnerShared, InitialSharedVersion: s.Get("initial_shared_version").Uint()}, nil
	}
	if !v.Exists() {
		return chain.Owner{}, nil
	}
	return chain.Owner{}, fmt.Errorf("unknown owner %s", v.Raw)
}

func parseEvent(item gjson.Result) chain.Event {
	sender, _ := chain.ParseShortID(item.Get("sender").String())
	return chain.Event{
		TxDigest:    item.Get("id.txDigest").String(),
		EventSeq:    item.Get("id.eventSeq").String(),
		Type:        item.Get("type").String(),
		Sender:      sender,
		ParsedJSON:  item.Get("parsedJson"),
		TimestampMs: item.Get("timestampMs").Int(),
	}
}

func parseEffects(res gjson.Result) *chain.Effects {
	eff := res.Get("effects")
	out := &chain.Effects{
		Digest:      res.Get("digest").String(),
		Success:     eff.Get("status.status").String() == "success",
		Error:       eff.Get("status.error").String(),
		TimestampMs: res.Get("timestampMs").Int(),
		GasUsed: chain.GasUsed{
			Computation: eff.Get("gasUsed.computationCost").Uint(),
			Storage:     eff.Get("gasUsed.storageCost").Uint(),
			Rebate:      eff.Get("gasUsed.storageRebate").Uint(),
		},
	}
	if out.Digest == "" {
		out.Digest = eff.Get("transactionDigest").String()
	}
	senderRaw := res.Get("transaction.data.sender").String()
	if senderRaw == "" {
		senderRaw = res.Get("input.sender").String()
	}
	if senderRaw != "" {
		out.Sender, _ = chain.ParseShortID(senderRaw)
	}
	if errs := res.Get("errors"); errs.IsArray() && len(errs.Array()) > 0 && out.Error == "" {
		out.Error = errs.Raw
		out.Success = false
	}
	for _, ch := range res.Get("objectChanges").Array() {
		id, err := chain.ParseShortID(ch.Get("objectId").String())
		if err != nil {
			continue
		}
		owner, _ := parseOwner(ch.Get("owner"))
		out.ObjectChanges = append(out.ObjectChanges, chain.ObjectChange{
			Kind:       ch.Get("type").String(),
			ObjectID:   id,
			ObjectType: ch.Get("objectType").String(),
			Owner:      owner,
		})
	}
	for _, ev := range res.Get("events").Array() {
		out.Events = append(out.Events, parseEvent(ev))
	}
	return out
}
