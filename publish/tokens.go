// Package publish implements the two-phase publication protocol: phase one
// stages a publish/retract/revise mutation behind a short-lived confirmation
// token, phase two confirms (applies) or denies (discards) it.
package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ghostmem/ghostmem/core"
	"github.com/ghostmem/ghostmem/store"
)

// TokenService owns confirmation-token lifecycle. Expiry is checked lazily
// at validation time; there is no background sweeper, an expired token is
// simply permanently unusable.
type TokenService struct {
	store store.TokenStore
	ttl   time.Duration
	now   func() time.Time
	log   *logrus.Logger
}

// NewTokenService wires a token service with the fixed five-minute window.
func NewTokenService(ts store.TokenStore, log *logrus.Logger) *TokenService {
	if log == nil {
		log = logrus.New()
	}
	return &TokenService{store: ts, ttl: core.TokenTTL, now: time.Now, log: log}
}

// Create stages a mutation and returns its pending token.
func (s *TokenService) Create(ctx context.Context, ownerID string, action core.TokenAction, payload core.StagedMutation) (*core.ConfirmationToken, error) {
	now := s.now()
	tok := &core.ConfirmationToken{
		Token:     uuid.New().String(),
		OwnerID:   ownerID,
		Action:    action,
		Payload:   payload,
		State:     core.TokenPending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.CreateToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"token":  tok.Token,
		"action": action,
		"owner":  ownerID,
	}).Info("mutation staged")
	return tok, nil
}

// Validate loads a token and checks it is still usable. Returns
// core.ErrTokenExpired past the window, core.ErrTokenConsumed once terminal.
func (s *TokenService) Validate(ctx context.Context, token string) (*core.ConfirmationToken, error) {
	tok, err := s.store.GetToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if tok.ExpiredAt(s.now()) {
		return nil, core.ErrTokenExpired
	}
	if tok.Consumed() {
		return nil, core.ErrTokenConsumed
	}
	return tok, nil
}

// claim moves a token Pending -> to atomically. The compare-and-set in the
// store guarantees exactly one of two racing callers wins; the loser sees
// core.ErrTokenConsumed.
func (s *TokenService) claim(ctx context.Context, token string, to core.TokenState) error {
	ok, err := s.store.TransitionToken(ctx, token, core.TokenPending, to)
	if err != nil {
		return fmt.Errorf("transition token: %w", err)
	}
	if !ok {
		return core.ErrTokenConsumed
	}
	return nil
}

// reopen undoes a confirm claim after a failed apply so the same token can
// be retried until expiry.
func (s *TokenService) reopen(ctx context.Context, token string) {
	if _, err := s.store.TransitionToken(ctx, token, core.TokenConfirmed, core.TokenPending); err != nil {
		s.log.WithError(err).WithField("token", token).Error("could not reopen token after failed apply")
	}
}

// IsTokenMisuse reports whether err is one of the user-actionable token
// errors (expired or already consumed) rather than an infrastructure
// failure.
func IsTokenMisuse(err error) bool {
	return errors.Is(err, core.ErrTokenExpired) || errors.Is(err, core.ErrTokenConsumed)
}
