package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ghostmem/ghostmem/core"
	"github.com/ghostmem/ghostmem/ghost"
	"github.com/ghostmem/ghostmem/identity"
	"github.com/ghostmem/ghostmem/store"
	"github.com/ghostmem/ghostmem/tracking"
)

// ModeratorChecker is the external collaborator that says whether an
// accessor holds moderator rights.
type ModeratorChecker interface {
	IsModerator(ctx context.Context, accessorID string) (bool, error)
}

// StaticModerators is a fixed moderator list.
type StaticModerators []string

func (m StaticModerators) IsModerator(ctx context.Context, accessorID string) (bool, error) {
	return tracking.Contains(m, accessorID), nil
}

// Coordinator orchestrates publish, retract and revise as two-phase
// operations, plus single-phase moderation. It owns the ordering discipline
// that keeps membership arrays consistent with shared-store entries: on
// publish the shared write happens strictly before the membership add, on
// retract the membership removal happens strictly before the shared delete,
// so a crash mid-sequence leaves an orphaned shared record (detectable and
// prunable) rather than a dangling membership reference.
type Coordinator struct {
	records    store.RecordStore
	shared     store.SharedStore
	tokens     *TokenService
	audit      store.AuditLog
	groups     ghost.GroupEditorChecker
	moderators ModeratorChecker
	now        func() time.Time
	log        *logrus.Logger
}

// NewCoordinator wires a publication coordinator. groups and moderators may
// be nil (group-editors degrades to owner-only; only owners may moderate).
func NewCoordinator(records store.RecordStore, shared store.SharedStore, tokens *TokenService, audit store.AuditLog, groups ghost.GroupEditorChecker, moderators ModeratorChecker, log *logrus.Logger) *Coordinator {
	if log == nil {
		log = logrus.New()
	}
	if audit == nil {
		audit = store.NopAudit{}
	}
	return &Coordinator{
		records:    records,
		shared:     shared,
		tokens:     tokens,
		audit:      audit,
		groups:     groups,
		moderators: moderators,
		now:        time.Now,
		log:        log,
	}
}

// CreatePublishRequest stages a publish of the caller's record into a space
// or group. Phase one of the protocol: nothing is written to either store
// until the returned token is confirmed.
func (c *Coordinator) CreatePublishRequest(ctx context.Context, callerID, recordID string, scope core.MembershipScope, targetID string, writeMode core.WriteMode) (*core.ConfirmationToken, error) {
	if _, err := core.ParseWriteMode(string(writeMode)); err != nil {
		return nil, err
	}
	if targetID == "" {
		return nil, &core.ValidationError{Field: "target_id", Reason: "must not be empty"}
	}
	if scope != core.ScopeSpace && scope != core.ScopeGroup {
		return nil, &core.ValidationError{Field: "scope", Reason: "must be space or group"}
	}
	rec, err := c.ownedRecord(ctx, callerID, recordID)
	if err != nil {
		return nil, err
	}
	return c.tokens.Create(ctx, callerID, core.ActionPublish, core.StagedMutation{
		ActorID:   callerID,
		OwnerID:   rec.OwnerID,
		RecordID:  recordID,
		Scope:     scope,
		TargetID:  targetID,
		WriteMode: writeMode,
	})
}

// CreateRetractRequest stages removal of a record from a space or group.
func (c *Coordinator) CreateRetractRequest(ctx context.Context, callerID, recordID string, scope core.MembershipScope, targetID string) (*core.ConfirmationToken, error) {
	if targetID == "" {
		return nil, &core.ValidationError{Field: "target_id", Reason: "must not be empty"}
	}
	if scope != core.ScopeSpace && scope != core.ScopeGroup {
		return nil, &core.ValidationError{Field: "scope", Reason: "must be space or group"}
	}
	rec, err := c.ownedRecord(ctx, callerID, recordID)
	if err != nil {
		return nil, err
	}
	return c.tokens.Create(ctx, callerID, core.ActionRetract, core.StagedMutation{
		ActorID:  callerID,
		OwnerID:  rec.OwnerID,
		RecordID: recordID,
		Scope:    scope,
		TargetID: targetID,
	})
}

// CreateReviseRequest stages a re-copy of the owner-side content into the
// published entry. The caller need not be the owner: the published record's
// write mode and overwrite allow list decide, checked both here and again at
// apply time.
func (c *Coordinator) CreateReviseRequest(ctx context.Context, callerID, ownerID, recordID string) (*core.ConfirmationToken, error) {
	externalID, err := identity.Derive(ownerID, recordID)
	if err != nil {
		return nil, err
	}
	pub, err := c.shared.GetPublished(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("load published record: %w", err)
	}
	ok, err := ghost.CanOverwrite(ctx, callerID, pub, c.groups)
	if err != nil {
		return nil, fmt.Errorf("check revise permission: %w", err)
	}
	if !ok {
		return nil, core.ErrNotPermitted
	}
	return c.tokens.Create(ctx, callerID, core.ActionRevise, core.StagedMutation{
		ActorID:  callerID,
		OwnerID:  ownerID,
		RecordID: recordID,
	})
}

// ConfirmRequest is phase two: it atomically claims the token and applies
// the staged mutation. If the apply step fails the token is reopened, so a
// retry with the same token remains possible until expiry. A second confirm
// of the same token fails with core.ErrTokenConsumed and does not re-apply.
func (c *Coordinator) ConfirmRequest(ctx context.Context, token string) (*core.ConfirmationToken, error) {
	tok, err := c.tokens.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := c.tokens.claim(ctx, token, core.TokenConfirmed); err != nil {
		return nil, err
	}
	if err := c.apply(ctx, tok); err != nil {
		c.tokens.reopen(ctx, token)
		return nil, fmt.Errorf("apply %s: %w", tok.Action, err)
	}
	tok.State = core.TokenConfirmed
	c.auditAction(ctx, tok, "confirmed")
	return tok, nil
}

// DenyRequest marks the token denied and discards the staged payload
// without touching the record stores.
func (c *Coordinator) DenyRequest(ctx context.Context, token string) error {
	tok, err := c.tokens.Validate(ctx, token)
	if err != nil {
		return err
	}
	if err := c.tokens.claim(ctx, token, core.TokenDenied); err != nil {
		return err
	}
	c.auditAction(ctx, tok, "denied")
	return nil
}

// Moderate is single-phase: it sets the moderation fields on the published
// entry directly, no confirmation token required, since it moves no data
// between stores. Caller must be the record's owner or a moderator.
func (c *Coordinator) Moderate(ctx context.Context, callerID, ownerID, recordID, status string) error {
	externalID, err := identity.Derive(ownerID, recordID)
	if err != nil {
		return err
	}
	pub, err := c.shared.GetPublished(ctx, externalID)
	if err != nil {
		return fmt.Errorf("load published record: %w", err)
	}
	if callerID != pub.Owner() {
		isMod := false
		if c.moderators != nil {
			isMod, err = c.moderators.IsModerator(ctx, callerID)
			if err != nil {
				return fmt.Errorf("check moderator: %w", err)
			}
		}
		if !isMod {
			return core.ErrNotPermitted
		}
	}
	now := c.now()
	pub.ModerationStatus = &status
	pub.ModeratedBy = callerID
	pub.ModeratedAt = &now
	if err := c.shared.PutPublished(ctx, externalID, pub); err != nil {
		return fmt.Errorf("save moderation: %w", err)
	}
	c.auditEntry(ctx, callerID, "moderate", ownerID, recordID, status, "")
	return nil
}

// PruneOrphans deletes shared-store entries whose owner-side record no
// longer lists any publication location (the crash artifact the write
// ordering makes detectable). Returns the number pruned.
func (c *Coordinator) PruneOrphans(ctx context.Context) (int, error) {
	published, err := c.shared.ListPublished(ctx)
	if err != nil {
		return 0, fmt.Errorf("list published: %w", err)
	}
	pruned := 0
	for externalID, pub := range published {
		rec, err := c.records.Get(ctx, pub.Owner(), pub.ID)
		orphan := false
		switch {
		case errors.Is(err, core.ErrNotFound):
			orphan = true
		case err != nil:
			return pruned, fmt.Errorf("load record %s: %w", pub.ID, err)
		default:
			orphan = len(rec.SpaceMemberships) == 0 && len(rec.GroupMemberships) == 0
		}
		if !orphan {
			continue
		}
		if err := c.shared.DeletePublished(ctx, externalID); err != nil {
			return pruned, fmt.Errorf("prune %s: %w", externalID, err)
		}
		pruned++
		c.log.WithFields(logrus.Fields{
			"external_id": externalID,
			"record":      pub.ID,
		}).Info("pruned orphaned shared entry")
	}
	return pruned, nil
}

func (c *Coordinator) apply(ctx context.Context, tok *core.ConfirmationToken) error {
	switch tok.Action {
	case core.ActionPublish:
		return c.applyPublish(ctx, tok.Payload)
	case core.ActionRetract:
		return c.applyRetract(ctx, tok.Payload)
	case core.ActionRevise:
		return c.applyRevise(ctx, tok.Payload)
	default:
		return &core.ValidationError{Field: "action", Reason: "unknown token action"}
	}
}

func (c *Coordinator) applyPublish(ctx context.Context, p core.StagedMutation) error {
	rec, err := c.records.Get(ctx, p.OwnerID, p.RecordID)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}
	if rec.Deleted() {
		return fmt.Errorf("record %s is deleted", p.RecordID)
	}
	externalID, err := identity.Derive(p.OwnerID, p.RecordID)
	if err != nil {
		return err
	}

	// The membership transform happens on the owner record before the clone
	// so the shared copy carries the membership it was just published to.
	// ghost.CanRevise reads the group list off the published record, so a
	// stale clone would lock out the new group's editors.
	switch p.Scope {
	case core.ScopeGroup:
		rec.GroupMemberships = tracking.Add(rec.GroupMemberships, p.TargetID)
	default:
		rec.SpaceMemberships = tracking.Add(rec.SpaceMemberships, p.TargetID)
	}

	pub := &core.PublishedRecord{
		Record:      *rec.Clone(),
		PublishedAt: c.now(),
		WriteMode:   p.WriteMode,
	}
	// Re-publishing (a second location, or a retried confirm) overwrites
	// in place and keeps the original publication metadata.
	if existing, err := c.shared.GetPublished(ctx, externalID); err == nil {
		pub.PublishedAt = existing.PublishedAt
		pub.RevisedAt = existing.RevisedAt
		pub.RevisionCount = existing.RevisionCount
		pub.ModerationStatus = existing.ModerationStatus
		pub.ModeratedBy = existing.ModeratedBy
		pub.ModeratedAt = existing.ModeratedAt
		pub.OverwriteAllowList = existing.OverwriteAllowList
		if p.WriteMode == "" {
			pub.WriteMode = existing.WriteMode
		}
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("load published record: %w", err)
	}

	// Shared-store write first; only then the owner-side membership write.
	// A failure here leaves both stores untouched, a crash after it leaves
	// an orphaned shared record, never a dangling membership.
	if err := c.shared.PutPublished(ctx, externalID, pub); err != nil {
		return fmt.Errorf("write shared store: %w", err)
	}

	if err := c.records.Put(ctx, rec); err != nil {
		return fmt.Errorf("update memberships: %w", err)
	}
	c.log.WithFields(logrus.Fields{
		"record": p.RecordID,
		"target": p.TargetID,
		"scope":  p.Scope,
	}).Info("record published")
	return nil
}

func (c *Coordinator) applyRetract(ctx context.Context, p core.StagedMutation) error {
	rec, err := c.records.Get(ctx, p.OwnerID, p.RecordID)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}

	// Membership removal first, shared delete second: the inverse ordering
	// of publish, for the same reason.
	switch p.Scope {
	case core.ScopeGroup:
		rec.GroupMemberships = tracking.Remove(rec.GroupMemberships, p.TargetID)
	default:
		rec.SpaceMemberships = tracking.Remove(rec.SpaceMemberships, p.TargetID)
	}
	if err := c.records.Put(ctx, rec); err != nil {
		return fmt.Errorf("update memberships: %w", err)
	}

	// The shared copy serves every remaining location; delete it only when
	// the last membership is gone. Otherwise its membership arrays must
	// drop the retracted target, or that target's editors would keep write
	// access through the stale copy.
	externalID, err := identity.Derive(p.OwnerID, p.RecordID)
	if err != nil {
		return err
	}
	if len(rec.SpaceMemberships) == 0 && len(rec.GroupMemberships) == 0 {
		if err := c.shared.DeletePublished(ctx, externalID); err != nil {
			return fmt.Errorf("delete shared entry: %w", err)
		}
	} else if pub, err := c.shared.GetPublished(ctx, externalID); err == nil {
		pub.SpaceMemberships = append([]string(nil), rec.SpaceMemberships...)
		pub.GroupMemberships = append([]string(nil), rec.GroupMemberships...)
		if err := c.shared.PutPublished(ctx, externalID, pub); err != nil {
			return fmt.Errorf("refresh shared entry: %w", err)
		}
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("load published record: %w", err)
	}
	c.log.WithFields(logrus.Fields{
		"record": p.RecordID,
		"target": p.TargetID,
	}).Info("record retracted")
	return nil
}

func (c *Coordinator) applyRevise(ctx context.Context, p core.StagedMutation) error {
	externalID, err := identity.Derive(p.OwnerID, p.RecordID)
	if err != nil {
		return err
	}
	pub, err := c.shared.GetPublished(ctx, externalID)
	if err != nil {
		return fmt.Errorf("load published record: %w", err)
	}
	ok, err := ghost.CanOverwrite(ctx, p.ActorID, pub, c.groups)
	if err != nil {
		return fmt.Errorf("check revise permission: %w", err)
	}
	if !ok {
		return core.ErrNotPermitted
	}
	rec, err := c.records.Get(ctx, p.OwnerID, p.RecordID)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}

	now := c.now()
	pub.Record = *rec.Clone()
	pub.RevisionCount++
	pub.RevisedAt = &now
	if err := c.shared.PutPublished(ctx, externalID, pub); err != nil {
		return fmt.Errorf("write shared store: %w", err)
	}
	c.log.WithFields(logrus.Fields{
		"record":   p.RecordID,
		"revision": pub.RevisionCount,
	}).Info("record revised")
	return nil
}

func (c *Coordinator) ownedRecord(ctx context.Context, callerID, recordID string) (*core.Record, error) {
	rec, err := c.records.Get(ctx, callerID, recordID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	if rec.Deleted() {
		return nil, fmt.Errorf("record %s is deleted", recordID)
	}
	return rec, nil
}

func (c *Coordinator) auditAction(ctx context.Context, tok *core.ConfirmationToken, decision string) {
	c.auditEntry(ctx, tok.Payload.ActorID, string(tok.Action), tok.Payload.OwnerID, tok.Payload.RecordID, decision, "")
}

func (c *Coordinator) auditEntry(ctx context.Context, actor, action, ownerID, resource, decision, reason string) {
	if err := c.audit.Append(ctx, core.AuditEntry{
		At:       c.now(),
		Actor:    actor,
		Action:   action,
		OwnerID:  ownerID,
		Resource: resource,
		Decision: decision,
		Reason:   reason,
	}); err != nil {
		c.log.WithError(err).Warn("audit append failed")
	}
}
