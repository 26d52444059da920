package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"auctionhouse/internal/cache"
	"auctionhouse/internal/chain"
)

var (
	ErrChallengeMissing = errors.New("no pending challenge for address")
	ErrLoginRejected    = errors.New("signature does not match address")
)

// Service issues sign-in challenges and exchanges a signed challenge for a
// session token.
type Service struct {
	Cache        cache.Store
	JWT          JWT
	AdminAddress chain.Address
	NonceTTL     time.Duration
}

type Challenge struct {
	Address   string    `json:"address"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Address   string    `json:"address"`
	Role      string    `json:"role"`
}

func challengeKey(addr chain.Address) string {
	return "auth:challenge:" + addr.String()
}

func (s *Service) ttl() time.Duration {
	if s.NonceTTL <= 0 {
		return 5 * time.Minute
	}
	return s.NonceTTL
}

func (s *Service) Challenge(ctx context.Context, address string) (Challenge, error) {
	addr, err := chain.ParseID(address)
	if err != nil {
		return Challenge{}, err
	}
	if s == nil || s.Cache == nil {
		return Challenge{}, errors.New("auth cache not configured")
	}
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return Challenge{}, err
	}
	expiresAt := time.Now().UTC().Add(s.ttl())
	msg := fmt.Sprintf("Sign in to the auction house\naddress: %s\nnonce: %s\nexpires: %s",
		addr, hex.EncodeToString(nonce), expiresAt.Format(time.RFC3339))
	if err := s.Cache.Set(ctx, challengeKey(addr), []byte(msg), s.ttl()); err != nil {
		return Challenge{}, err
	}
	return Challenge{Address: addr.String(), Message: msg, ExpiresAt: expiresAt}, nil
}

// Login consumes the pending challenge; a failed attempt requires a new one.
func (s *Service) Login(ctx context.Context, address, signature string) (Session, error) {
	addr, err := chain.ParseID(address)
	if err != nil {
		return Session{}, err
	}
	if s == nil || s.Cache == nil {
		return Session{}, errors.New("auth cache not configured")
	}
	msg, ok, err := s.Cache.Take(ctx, challengeKey(addr))
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, ErrChallengeMissing
	}
	if err := chain.VerifyPersonalMessage(msg, signature, addr); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrLoginRejected, err)
	}
	role := RoleUser
	if !s.AdminAddress.IsZero() && addr == s.AdminAddress {
		role = RoleAdmin
	}
	token, exp, err := s.JWT.Sign(Claims{Address: addr.String(), Role: role})
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: exp, Address: addr.String(), Role: role}, nil
}
