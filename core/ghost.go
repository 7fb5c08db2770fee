package core

import (
	"time"
)

// EnforcementMode selects where trust gating is applied for an owner's
// records during cross-user reads.
type EnforcementMode string

const (
	// EnforceFilterAtQuery drops records the accessor cannot see from
	// search results entirely.
	EnforceFilterAtQuery EnforcementMode = "filter-at-query"

	// EnforceRedactAtRead returns every record but redacted down to the
	// accessor's tier.
	EnforceRedactAtRead EnforcementMode = "redact-at-read"

	// EnforceHybrid filters records above the accessor's trust and
	// redacts the rest.
	EnforceHybrid EnforcementMode = "hybrid"
)

// ParseEnforcementMode validates an enforcement-mode string.
func ParseEnforcementMode(s string) (EnforcementMode, error) {
	switch EnforcementMode(s) {
	case EnforceFilterAtQuery, EnforceRedactAtRead, EnforceHybrid:
		return EnforcementMode(s), nil
	}
	return "", &ValidationError{Field: "enforcement_mode", Reason: "must be one of filter-at-query, redact-at-read, hybrid"}
}

// GhostConfig is an owner's cross-user visibility configuration. It is
// created lazily with defaults on first read, mutated only by the owner,
// and never deleted (reset to defaults instead).
type GhostConfig struct {
	OwnerID               string             `json:"owner_id"`
	Enabled               bool               `json:"enabled"`
	AllowUnknownAccessors bool               `json:"allow_unknown_accessors"`
	DefaultKnownTrust     float64            `json:"default_known_trust"`
	DefaultUnknownTrust   float64            `json:"default_unknown_trust"`
	PerAccessorTrust      map[string]float64 `json:"per_accessor_trust"`
	BlockedAccessors      []string           `json:"blocked_accessors"`
	EnforcementMode       EnforcementMode    `json:"enforcement_mode"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

// DefaultGhostConfig returns the configuration an owner gets before they
// have written anything: sharing enabled, unknown accessors refused, and
// hybrid enforcement.
func DefaultGhostConfig(ownerID string) *GhostConfig {
	return &GhostConfig{
		OwnerID:               ownerID,
		Enabled:               true,
		AllowUnknownAccessors: false,
		DefaultKnownTrust:     0.5,
		DefaultUnknownTrust:   0.25,
		PerAccessorTrust:      map[string]float64{},
		BlockedAccessors:      nil,
		EnforcementMode:       EnforceHybrid,
	}
}

// CloneConfig returns a deep copy.
func (c *GhostConfig) CloneConfig() *GhostConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.PerAccessorTrust = make(map[string]float64, len(c.PerAccessorTrust))
	for k, v := range c.PerAccessorTrust {
		out.PerAccessorTrust[k] = v
	}
	out.BlockedAccessors = append([]string(nil), c.BlockedAccessors...)
	return &out
}

// GhostConfigPatch is a partial update to a GhostConfig. Nil fields are
// left untouched.
type GhostConfigPatch struct {
	Enabled               *bool            `json:"enabled,omitempty"`
	AllowUnknownAccessors *bool            `json:"allow_unknown_accessors,omitempty"`
	DefaultKnownTrust     *float64         `json:"default_known_trust,omitempty"`
	DefaultUnknownTrust   *float64         `json:"default_unknown_trust,omitempty"`
	EnforcementMode       *EnforcementMode `json:"enforcement_mode,omitempty"`
}

// EscalationRecord counts failed access attempts for one
// (owner, accessor, record) triple. FailedAttempts only ever grows until an
// explicit owner reset; Blocked flips on when the threshold is crossed.
type EscalationRecord struct {
	OwnerID        string     `json:"owner_id"`
	AccessorID     string     `json:"accessor_id"`
	RecordID       string     `json:"record_id"`
	FailedAttempts int        `json:"failed_attempts"`
	Blocked        bool       `json:"blocked"`
	BlockedAt      *time.Time `json:"blocked_at,omitempty"`
}

// AuditEntry is one append-only audit line. Denial decisions, blocks,
// escalation resets and moderation actions are all recorded through it.
type AuditEntry struct {
	At       time.Time `json:"at"`
	Actor    string    `json:"actor"`
	Action   string    `json:"action"`
	OwnerID  string    `json:"owner_id"`
	Resource string    `json:"resource"`
	Decision string    `json:"decision"`
	Reason   string    `json:"reason,omitempty"`
}
