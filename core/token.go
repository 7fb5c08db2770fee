package core

import (
	"time"
)

// TokenAction identifies the staged mutation kind behind a confirmation
// token.
type TokenAction string

const (
	ActionPublish TokenAction = "publish"
	ActionRetract TokenAction = "retract"
	ActionRevise  TokenAction = "revise"
)

// TokenState is the confirmation token lifecycle. Pending is the only
// non-terminal state; Confirmed and Denied are both terminal.
type TokenState string

const (
	TokenPending   TokenState = "pending"
	TokenConfirmed TokenState = "confirmed"
	TokenDenied    TokenState = "denied"
)

// MembershipScope says which membership array a publication targets.
type MembershipScope string

const (
	ScopeSpace MembershipScope = "space"
	ScopeGroup MembershipScope = "group"
)

// StagedMutation is the payload a confirmation token carries: everything
// phase two needs to apply the publish, retract or revise without fetching
// additional caller input.
type StagedMutation struct {
	ActorID  string          `json:"actor_id"`
	OwnerID  string          `json:"owner_id"`
	RecordID string          `json:"record_id"`
	Scope    MembershipScope `json:"scope,omitempty"`
	TargetID string          `json:"target_id,omitempty"`

	// WriteMode applies to publish only.
	WriteMode WriteMode `json:"write_mode,omitempty"`
}

// ConfirmationToken binds a staged mutation to a later confirm/deny
// decision. It is valid for exactly TokenTTL from creation, transitions to a
// terminal state exactly once, and is never reused.
type ConfirmationToken struct {
	Token     string         `json:"token"`
	OwnerID   string         `json:"owner_id"`
	Action    TokenAction    `json:"action"`
	Payload   StagedMutation `json:"payload"`
	State     TokenState     `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// TokenTTL is the fixed validity window for confirmation tokens.
const TokenTTL = 5 * time.Minute

// Consumed reports whether the token has reached a terminal state.
func (t *ConfirmationToken) Consumed() bool {
	return t.State != TokenPending
}

// ExpiredAt reports whether the token is past its window at the given time.
func (t *ConfirmationToken) ExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
