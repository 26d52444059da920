package chain

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

type OwnerKind string

const (
	OwnerAddress   OwnerKind = "address"
	OwnerObject    OwnerKind = "object"
	OwnerShared    OwnerKind = "shared"
	OwnerImmutable OwnerKind = "immutable"
)

type Owner struct {
	Kind                 OwnerKind
	Address              ID
	InitialSharedVersion uint64
}

func (o Owner) IsAddress(addr ID) bool {
	return o.Kind == OwnerAddress && o.Address == addr
}

// ObjectRef pins an owned object to a version for transaction inputs.
type ObjectRef struct {
	ID      ID
	Version uint64
	Digest  string
}

// Object is a read of a ledger object. Fields holds the raw move struct
// content and is queried with gjson paths.
type Object struct {
	Ref    ObjectRef
	Type   string
	Owner  Owner
	Fields gjson.Result
}

func (o *Object) ID() ID {
	if o == nil {
		return ID{}
	}
	return o.Ref.ID
}

func (o *Object) StructTag() (StructTag, error) {
	return ParseStructTag(o.Type)
}

func (o *Object) FieldString(path string) string {
	if o == nil {
		return ""
	}
	return o.Fields.Get(path).String()
}

// FieldUint reads an integer field. Move u64 values are rendered as strings
// by the node; both forms are accepted.
func (o *Object) FieldUint(path string) uint64 {
	if o == nil {
		return 0
	}
	v := o.Fields.Get(path)
	if v.Type == gjson.String {
		n, err := strconv.ParseUint(v.Str, 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return v.Uint()
}

// DynamicField is one child entry of a parent object.
type DynamicField struct {
	ObjectID   ID
	ObjectType string
	NameType   string
	NameValue  gjson.Result
}

// Contains reports whether id is the child object or is named by the entry
// (kiosk items are keyed by the item id).
func (f DynamicField) Contains(id ID) bool {
	if f.ObjectID == id {
		return true
	}
	return SameID(f.NameValue.Get("id").String(), id.String())
}

type GasUsed struct {
	Computation uint64
	Storage     uint64
	Rebate      uint64
}

// Net is computation + storage - rebate, floored at zero.
func (g GasUsed) Net() uint64 {
	total := g.Computation + g.Storage
	if g.Rebate >= total {
		return 0
	}
	return total - g.Rebate
}

type ObjectChange struct {
	Kind       string
	ObjectID   ID
	ObjectType string
	Owner      Owner
}

type Event struct {
	TxDigest    string
	EventSeq    string
	Type        string
	Sender      ID
	ParsedJSON  gjson.Result
	TimestampMs int64
}

// Effects is the structured outcome of a dry run or an executed transaction.
type Effects struct {
	Digest        string
	Success       bool
	Error         string
	GasUsed       GasUsed
	Sender        ID
	ObjectChanges []ObjectChange
	Events        []Event
	TimestampMs   int64
}

// Created returns the ids of created objects whose type contains typeFragment.
func (e *Effects) Created(typeFragment string) []ID {
	if e == nil {
		return nil
	}
	var out []ID
	for _, ch := range e.ObjectChanges {
		if ch.Kind != "created" {
			continue
		}
		if typeFragment == "" || strings.Contains(ch.ObjectType, typeFragment) {
			out = append(out, ch.ObjectID)
		}
	}
	return out
}

// MovedTo reports whether the transaction left the existing object id owned
// by addr. Created objects do not count.
func (e *Effects) MovedTo(id, addr ID) bool {
	if e == nil {
		return false
	}
	for _, ch := range e.ObjectChanges {
		if ch.Kind == "created" || ch.ObjectID != id {
			continue
		}
		if ch.Owner.IsAddress(addr) {
			return true
		}
	}
	return false
}

// EventsOf returns events whose type equals eventType.
func (e *Effects) EventsOf(eventType string) []Event {
	if e == nil {
		return nil
	}
	var out []Event
	for _, ev := range e.Events {
		if sameType(ev.Type, eventType) {
			out = append(out, ev)
		}
	}
	return out
}

type Coin struct {
	Ref     ObjectRef
	Balance uint64
}

type EventQuery struct {
	MoveEventType string
	Limit         int
	Descending    bool
	Cursor        string
}

type EventPage struct {
	Events     []Event
	NextCursor string
	HasNext    bool
}

func sameType(a, b string) bool {
	if a == b {
		return true
	}
	x, err := ParseStructTag(a)
	if err != nil {
		return false
	}
	y, err := ParseStructTag(b)
	if err != nil {
		return false
	}
	return x.Equal(y)
}
