// Package ghost implements the trust-gated visibility core: per-owner ghost
// configuration, the failed-attempt escalation tracker, and the access
// resolver that combines them into a single auditable decision.
package ghost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/sirupsen/logrus"

	"github.com/ghostmem/ghostmem/core"
	"github.com/ghostmem/ghostmem/store"
	"github.com/ghostmem/ghostmem/tracking"
	"github.com/ghostmem/ghostmem/trust"
)

// TrustSource says how a trust level was resolved, or why it could not be.
type TrustSource string

const (
	// SourceOverride: an explicit per-accessor entry.
	SourceOverride TrustSource = "override"
	// SourceKnown: the known-contact default.
	SourceKnown TrustSource = "known-default"
	// SourceUnknown: the unknown-accessor default.
	SourceUnknown TrustSource = "unknown-default"
	// SourceBlocked: the accessor is on the owner's block list. No access,
	// independent of any numeric trust.
	SourceBlocked TrustSource = "blocked"
	// SourceNone: no trust relationship is configured at all.
	SourceNone TrustSource = "none"
)

// ContactChecker is the external collaborator that decides whether an
// accessor counts as a "known" contact of the owner.
type ContactChecker interface {
	IsKnown(ctx context.Context, ownerID, accessorID string) (bool, error)
}

// StaticContacts is a fixed owner -> known-accessors table. It serves as the
// ContactChecker for tests and single-node deployments.
type StaticContacts map[string][]string

func (c StaticContacts) IsKnown(ctx context.Context, ownerID, accessorID string) (bool, error) {
	return tracking.Contains(c[ownerID], accessorID), nil
}

// ConfigManager is the owner-facing surface over ghost configuration. Reads
// go through a ristretto cache; every write invalidates the owner's entry.
type ConfigManager struct {
	store    store.ConfigStore
	contacts ContactChecker
	cache    *ristretto.Cache
	log      *logrus.Logger
}

// NewConfigManager wires a config manager. contacts may be nil, in which
// case every non-override accessor is treated as unknown.
func NewConfigManager(cs store.ConfigStore, contacts ContactChecker, log *logrus.Logger) (*ConfigManager, error) {
	if log == nil {
		log = logrus.New()
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("init config cache: %w", err)
	}
	return &ConfigManager{store: cs, contacts: contacts, cache: cache, log: log}, nil
}

// GetConfig returns the owner's configuration, lazily defaulting when
// nothing has ever been written. Never an error for a missing config.
func (m *ConfigManager) GetConfig(ctx context.Context, ownerID string) (*core.GhostConfig, error) {
	if cached, ok := m.cache.Get(ownerID); ok {
		return cached.(*core.GhostConfig).CloneConfig(), nil
	}
	cfg, err := m.store.GetConfig(ctx, ownerID)
	if errors.Is(err, core.ErrNotFound) {
		cfg = core.DefaultGhostConfig(ownerID)
	} else if err != nil {
		return nil, fmt.Errorf("load ghost config: %w", err)
	}
	m.cache.Set(ownerID, cfg.CloneConfig(), 1)
	m.cache.Wait()
	return cfg, nil
}

// UpdateConfig applies a partial update. Owner-authenticated.
func (m *ConfigManager) UpdateConfig(ctx context.Context, callerID, ownerID string, patch core.GhostConfigPatch) (*core.GhostConfig, error) {
	if callerID != ownerID {
		return nil, core.ErrNotOwner
	}
	cfg, err := m.GetConfig(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if patch.Enabled != nil {
		cfg.Enabled = *patch.Enabled
	}
	if patch.AllowUnknownAccessors != nil {
		cfg.AllowUnknownAccessors = *patch.AllowUnknownAccessors
	}
	if patch.DefaultKnownTrust != nil {
		if err := trust.ValidateLevel(*patch.DefaultKnownTrust); err != nil {
			return nil, err
		}
		cfg.DefaultKnownTrust = *patch.DefaultKnownTrust
	}
	if patch.DefaultUnknownTrust != nil {
		if err := trust.ValidateLevel(*patch.DefaultUnknownTrust); err != nil {
			return nil, err
		}
		cfg.DefaultUnknownTrust = *patch.DefaultUnknownTrust
	}
	if patch.EnforcementMode != nil {
		mode, err := core.ParseEnforcementMode(string(*patch.EnforcementMode))
		if err != nil {
			return nil, err
		}
		cfg.EnforcementMode = mode
	}
	return cfg, m.save(ctx, cfg)
}

// SetTrust sets an explicit per-accessor trust override.
func (m *ConfigManager) SetTrust(ctx context.Context, callerID, ownerID, accessorID string, level float64) error {
	if callerID != ownerID {
		return core.ErrNotOwner
	}
	if err := trust.ValidateLevel(level); err != nil {
		return err
	}
	cfg, err := m.GetConfig(ctx, ownerID)
	if err != nil {
		return err
	}
	cfg.PerAccessorTrust[accessorID] = level
	return m.save(ctx, cfg)
}

// RemoveTrust drops a per-accessor override.
func (m *ConfigManager) RemoveTrust(ctx context.Context, callerID, ownerID, accessorID string) error {
	if callerID != ownerID {
		return core.ErrNotOwner
	}
	cfg, err := m.GetConfig(ctx, ownerID)
	if err != nil {
		return err
	}
	delete(cfg.PerAccessorTrust, accessorID)
	return m.save(ctx, cfg)
}

// Block puts an accessor on the owner's block list.
func (m *ConfigManager) Block(ctx context.Context, callerID, ownerID, accessorID string) error {
	if callerID != ownerID {
		return core.ErrNotOwner
	}
	cfg, err := m.GetConfig(ctx, ownerID)
	if err != nil {
		return err
	}
	cfg.BlockedAccessors = tracking.Add(cfg.BlockedAccessors, accessorID)
	return m.save(ctx, cfg)
}

// Unblock removes an accessor from the block list.
func (m *ConfigManager) Unblock(ctx context.Context, callerID, ownerID, accessorID string) error {
	if callerID != ownerID {
		return core.ErrNotOwner
	}
	cfg, err := m.GetConfig(ctx, ownerID)
	if err != nil {
		return err
	}
	cfg.BlockedAccessors = tracking.Remove(cfg.BlockedAccessors, accessorID)
	return m.save(ctx, cfg)
}

// ResetConfig restores the owner's configuration to defaults. Configs are
// never deleted, reset is the supported way back.
func (m *ConfigManager) ResetConfig(ctx context.Context, callerID, ownerID string) error {
	if callerID != ownerID {
		return core.ErrNotOwner
	}
	return m.save(ctx, core.DefaultGhostConfig(ownerID))
}

// ResolveTrust resolves the owner's trust towards an accessor, in strict
// priority order: block list, explicit override, known-contact default,
// unknown-accessor default (when allowed), otherwise no relationship.
//
// A sharing-disabled config resolves to SourceNone for every non-owner.
// The returned level is the configured trust; escalation penalties are
// layered on top by the caller (see PenalizedTrust).
func (m *ConfigManager) ResolveTrust(ctx context.Context, ownerID, accessorID string) (float64, TrustSource, error) {
	cfg, err := m.GetConfig(ctx, ownerID)
	if err != nil {
		return 0, SourceNone, err
	}
	if !cfg.Enabled {
		return 0, SourceNone, nil
	}
	if tracking.Contains(cfg.BlockedAccessors, accessorID) {
		return 0, SourceBlocked, nil
	}
	if level, ok := cfg.PerAccessorTrust[accessorID]; ok {
		return level, SourceOverride, nil
	}
	if m.contacts != nil {
		known, err := m.contacts.IsKnown(ctx, ownerID, accessorID)
		if err != nil {
			return 0, SourceNone, fmt.Errorf("contact lookup: %w", err)
		}
		if known {
			return cfg.DefaultKnownTrust, SourceKnown, nil
		}
	}
	if cfg.AllowUnknownAccessors {
		return cfg.DefaultUnknownTrust, SourceUnknown, nil
	}
	return 0, SourceNone, nil
}

func (m *ConfigManager) save(ctx context.Context, cfg *core.GhostConfig) error {
	cfg.UpdatedAt = time.Now()
	if err := m.store.PutConfig(ctx, cfg); err != nil {
		return fmt.Errorf("save ghost config: %w", err)
	}
	m.cache.Del(cfg.OwnerID)
	m.cache.Wait()
	m.log.WithFields(logrus.Fields{
		"owner":   cfg.OwnerID,
		"enabled": cfg.Enabled,
		"mode":    cfg.EnforcementMode,
	}).Debug("ghost config saved")
	return nil
}
