package ghost

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ghostmem/ghostmem/core"
	"github.com/ghostmem/ghostmem/store"
)

// BlockThreshold is the number of failed attempts after which an accessor is
// automatically blocked for a record.
const BlockThreshold = 3

// TrustPenaltyStep is the trust deduction applied per failed attempt when
// computing effective trust. The penalty is derived at read time from the
// failure count, never written into stored trust, so replaying the failures
// always reproduces it.
const TrustPenaltyStep = 0.1

// PenalizedTrust layers the escalation penalty onto a configured trust
// level: max(0, configured - 0.1 * failedAttempts).
func PenalizedTrust(configured float64, failedAttempts int) float64 {
	effective := configured - TrustPenaltyStep*float64(failedAttempts)
	if effective < 0 {
		return 0
	}
	return effective
}

// Tracker counts failed access attempts per (owner, accessor, record) triple
// and escalates repeat offenders into an automatic block.
type Tracker struct {
	store store.EscalationStore
	audit store.AuditLog
	now   func() time.Time
	log   *logrus.Logger
}

// NewTracker wires an escalation tracker. audit may be store.NopAudit{}.
func NewTracker(es store.EscalationStore, audit store.AuditLog, log *logrus.Logger) *Tracker {
	if log == nil {
		log = logrus.New()
	}
	if audit == nil {
		audit = store.NopAudit{}
	}
	return &Tracker{store: es, audit: audit, now: time.Now, log: log}
}

// RecordFailure counts one failed attempt. The increment is atomic in the
// store; on the transition to BlockThreshold the triple becomes blocked with
// a block timestamp. Returns the post-increment state.
func (t *Tracker) RecordFailure(ctx context.Context, ownerID, accessorID, recordID string) (*core.EscalationRecord, error) {
	rec, err := t.store.IncrementEscalation(ctx, ownerID, accessorID, recordID, BlockThreshold, t.now())
	if err != nil {
		return nil, fmt.Errorf("record failure: %w", err)
	}
	entry := t.log.WithFields(logrus.Fields{
		"owner":    ownerID,
		"accessor": accessorID,
		"record":   recordID,
		"attempts": rec.FailedAttempts,
	})
	if rec.Blocked {
		entry.Warn("accessor blocked after repeated failed attempts")
	} else {
		entry.Info("failed access attempt recorded")
	}
	return rec, nil
}

// IsBlocked is a pure read of the block flag for a triple.
func (t *Tracker) IsBlocked(ctx context.Context, ownerID, accessorID, recordID string) (bool, error) {
	rec, err := t.store.GetEscalation(ctx, ownerID, accessorID, recordID)
	if err != nil {
		return false, fmt.Errorf("load escalation: %w", err)
	}
	return rec.Blocked, nil
}

// Escalation returns the current state for a triple; a triple with no
// failures yet yields a zero-valued record.
func (t *Tracker) Escalation(ctx context.Context, ownerID, accessorID, recordID string) (*core.EscalationRecord, error) {
	rec, err := t.store.GetEscalation(ctx, ownerID, accessorID, recordID)
	if err != nil {
		return nil, fmt.Errorf("load escalation: %w", err)
	}
	return rec, nil
}

// ResetBlock clears the counter and the block flag for a triple. Owner
// authenticated; the reason is retained in the audit log.
func (t *Tracker) ResetBlock(ctx context.Context, callerID, ownerID, accessorID, recordID, reason string) error {
	if callerID != ownerID {
		return core.ErrNotOwner
	}
	if reason == "" {
		return &core.ValidationError{Field: "reason", Reason: "must not be empty"}
	}
	if err := t.store.ResetEscalation(ctx, ownerID, accessorID, recordID); err != nil {
		return fmt.Errorf("reset escalation: %w", err)
	}
	if err := t.audit.Append(ctx, core.AuditEntry{
		At:       t.now(),
		Actor:    callerID,
		Action:   "escalation.reset",
		OwnerID:  ownerID,
		Resource: accessorID + "/" + recordID,
		Decision: "reset",
		Reason:   reason,
	}); err != nil {
		return fmt.Errorf("audit escalation reset: %w", err)
	}
	t.log.WithFields(logrus.Fields{
		"owner":    ownerID,
		"accessor": accessorID,
		"record":   recordID,
	}).Info("escalation block reset")
	return nil
}
