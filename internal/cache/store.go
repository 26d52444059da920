// Package cache is the small key/value store behind login nonces and
// transaction timestamp lookups.
package cache

import (
	"context"
	"time"
)

type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Take returns the value and removes it in one step.
	Take(ctx context.Context, key string) (value []byte, found bool, err error)
}
