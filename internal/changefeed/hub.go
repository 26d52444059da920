// Package changefeed carries record change notifications to subscribers
// (live feed, expiry watcher) without exposing store internals.
package changefeed

import (
	"sync"

	"github.com/google/uuid"

	"auctionhouse/internal/models"
)

type Kind string

const (
	Created Kind = "created"
	Updated Kind = "updated"
	Deleted Kind = "deleted"
)

type Event struct {
	Kind      Kind                 `json:"kind"`
	AuctionID uuid.UUID            `json:"auction_id"`
	Status    models.AuctionStatus `json:"status,omitempty"`
	Origin    string               `json:"origin,omitempty"`
}

// Filter selects events. Zero value matches everything. Updates that carry
// no status always pass a status filter since the new status is unknown.
type Filter struct {
	AuctionID *uuid.UUID
	Statuses  []models.AuctionStatus
}

func (f Filter) Match(ev Event) bool {
	if f.AuctionID != nil && *f.AuctionID != ev.AuctionID {
		return false
	}
	if len(f.Statuses) == 0 || ev.Status == "" {
		return true
	}
	for _, s := range f.Statuses {
		if s == ev.Status {
			return true
		}
	}
	return false
}

type Publisher interface {
	Publish(ev Event)
}

type subscription struct {
	filter Filter
	fn     func(Event)
}

// Hub fans events out to in-process subscribers. Callbacks run on the
// publishing goroutine and must not block.
type Hub struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]subscription
}

func NewHub() *Hub {
	return &Hub{subs: map[uint64]subscription{}}
}

func (h *Hub) Subscribe(filter Filter, fn func(Event)) func() {
	if h == nil || fn == nil {
		return func() {}
	}
	h.mu.Lock()
	h.next++
	id := h.next
	h.subs[id] = subscription{filter: filter, fn: fn}
	h.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	targets := make([]func(Event), 0, len(h.subs))
	for _, s := range h.subs {
		if s.filter.Match(ev) {
			targets = append(targets, s.fn)
		}
	}
	h.mu.RUnlock()
	for _, fn := range targets {
		fn(ev)
	}
}

func (h *Hub) Len() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
