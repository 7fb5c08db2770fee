package ghost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ghostmem/ghostmem/core"
	"github.com/ghostmem/ghostmem/store"
)

// Resolver is the access-decision state machine. CheckAccess evaluates its
// steps in a fixed order and each step short-circuits, so the precedence of
// outcomes is exactly the order of the code.
type Resolver struct {
	records     store.RecordStore
	configs     *ConfigManager
	escalations *Tracker
	audit       store.AuditLog
	now         func() time.Time
	log         *logrus.Logger
}

// NewResolver wires an access resolver.
func NewResolver(records store.RecordStore, configs *ConfigManager, escalations *Tracker, audit store.AuditLog, log *logrus.Logger) *Resolver {
	if log == nil {
		log = logrus.New()
	}
	if audit == nil {
		audit = store.NopAudit{}
	}
	return &Resolver{
		records:     records,
		configs:     configs,
		escalations: escalations,
		audit:       audit,
		now:         time.Now,
		log:         log,
	}
}

// CheckAccess classifies one access request. The returned error is only for
// infrastructure failures; every decision, including denials, is a normal
// AccessResult value.
//
// Evaluation order: record existence, soft-deletion, owner bypass,
// configured trust (block list first), escalation block, trust sufficiency
// with the derived penalty, then grant.
func (r *Resolver) CheckAccess(ctx context.Context, recordID, accessorID string) (core.AccessResult, error) {
	rec, err := r.records.Find(ctx, recordID)
	if errors.Is(err, core.ErrNotFound) {
		return core.NotFound{RecordID: recordID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch record: %w", err)
	}

	if rec.Deleted() {
		return core.Deleted{RecordID: recordID, DeletedAt: *rec.DeletedAt}, nil
	}

	// Owner access always succeeds, bypassing every trust and block check.
	if rec.OwnerID == accessorID {
		return core.Granted{Record: rec, Level: core.LevelOwner}, nil
	}

	configured, source, err := r.configs.ResolveTrust(ctx, rec.OwnerID, accessorID)
	if err != nil {
		return nil, fmt.Errorf("resolve trust: %w", err)
	}
	switch source {
	case SourceBlocked:
		r.auditDenial(ctx, accessorID, rec.OwnerID, recordID, "blocked", "accessor on owner block list")
		return core.Blocked{RecordID: recordID, Reason: "blocked by owner"}, nil
	case SourceNone:
		r.auditDenial(ctx, accessorID, rec.OwnerID, recordID, "no-permission", "no trust relationship configured")
		return core.NoPermission{OwnerID: rec.OwnerID, AccessorID: accessorID}, nil
	}

	esc, err := r.escalations.Escalation(ctx, rec.OwnerID, accessorID, recordID)
	if err != nil {
		return nil, err
	}
	if esc.Blocked {
		blockedAt := time.Time{}
		if esc.BlockedAt != nil {
			blockedAt = *esc.BlockedAt
		}
		r.auditDenial(ctx, accessorID, rec.OwnerID, recordID, "blocked", "escalation block active")
		return core.Blocked{RecordID: recordID, Reason: "too many failed attempts", BlockedAt: blockedAt}, nil
	}

	effective := PenalizedTrust(configured, esc.FailedAttempts)
	if effective < rec.TrustScore {
		after, err := r.escalations.RecordFailure(ctx, rec.OwnerID, accessorID, recordID)
		if err != nil {
			return nil, err
		}
		if after.Blocked {
			blockedAt := time.Time{}
			if after.BlockedAt != nil {
				blockedAt = *after.BlockedAt
			}
			r.auditDenial(ctx, accessorID, rec.OwnerID, recordID, "blocked", "escalation threshold reached")
			return core.Blocked{RecordID: recordID, Reason: "too many failed attempts", BlockedAt: blockedAt}, nil
		}
		r.auditDenial(ctx, accessorID, rec.OwnerID, recordID, "insufficient-trust",
			fmt.Sprintf("required %.2f, had %.2f", rec.TrustScore, effective))
		return core.InsufficientTrust{
			RecordID:          recordID,
			RequiredTrust:     rec.TrustScore,
			ActualTrust:       effective,
			AttemptsRemaining: BlockThreshold - after.FailedAttempts,
		}, nil
	}

	r.log.WithFields(logrus.Fields{
		"record":   recordID,
		"accessor": accessorID,
		"trust":    effective,
	}).Debug("access granted")
	return core.Granted{Record: rec, Level: core.LevelTrusted}, nil
}

func (r *Resolver) auditDenial(ctx context.Context, accessorID, ownerID, recordID, decision, reason string) {
	if err := r.audit.Append(ctx, core.AuditEntry{
		At:       r.now(),
		Actor:    accessorID,
		Action:   "access.check",
		OwnerID:  ownerID,
		Resource: recordID,
		Decision: decision,
		Reason:   reason,
	}); err != nil {
		r.log.WithError(err).Warn("audit append failed")
	}
}

// FormatAccessResult renders one user-facing message per variant. It is
// presentation only and never alters the decision.
func FormatAccessResult(res core.AccessResult) string {
	switch v := res.(type) {
	case core.Granted:
		if v.Level == core.LevelOwner {
			return fmt.Sprintf("Access granted: you own record %s.", v.Record.ID)
		}
		return fmt.Sprintf("Access granted to record %s.", v.Record.ID)
	case core.InsufficientTrust:
		return fmt.Sprintf(
			"Access denied to record %s: requires trust %.2f, you have %.2f. %d attempt(s) remaining before a block.",
			v.RecordID, v.RequiredTrust, v.ActualTrust, v.AttemptsRemaining)
	case core.Blocked:
		if v.BlockedAt.IsZero() {
			return fmt.Sprintf("Access to record %s is blocked: %s.", v.RecordID, v.Reason)
		}
		return fmt.Sprintf("Access to record %s is blocked since %s: %s.",
			v.RecordID, v.BlockedAt.Format(time.RFC3339), v.Reason)
	case core.NoPermission:
		return "No sharing relationship exists between you and the owner of this record."
	case core.NotFound:
		return fmt.Sprintf("Record %s does not exist.", v.RecordID)
	case core.Deleted:
		return fmt.Sprintf("Record %s was deleted on %s.", v.RecordID, v.DeletedAt.Format(time.RFC3339))
	default:
		return "Unknown access result."
	}
}
