package service

import (
	"sort"
	"time"

	"auctionhouse/internal/models"
)

// QueueOrder sorts queued records for activation: priority first, then
// earliest creation, then id so equal timestamps still order the same way.
func QueueOrder(records []models.AuctionRecord) []models.AuctionRecord {
	out := make([]models.AuctionRecord, 0, len(records))
	for _, r := range records {
		if r.Status == models.StatusQueued {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsPriority != b.IsPriority {
			return a.IsPriority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return out
}

// SelectNext returns the record to activate next, or nil.
func SelectNext(records []models.AuctionRecord) *models.AuctionRecord {
	ordered := QueueOrder(records)
	if len(ordered) == 0 {
		return nil
	}
	head := ordered[0]
	return &head
}

// CooldownUntil is when the next activation is allowed after lastCompleted.
// Zero means no restriction.
func CooldownUntil(lastCompleted *time.Time, cooldown time.Duration) time.Time {
	if lastCompleted == nil || lastCompleted.IsZero() {
		return time.Time{}
	}
	return lastCompleted.Add(cooldown)
}
