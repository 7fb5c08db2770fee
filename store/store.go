// Package store defines the persistence collaborator interfaces the core
// depends on. Every component takes its store handles as constructor
// parameters, so the whole core runs against the in-memory fakes in
// store/memstore just as well as against chromem/sqlite.
package store

import (
	"context"
	"time"

	"github.com/ghostmem/ghostmem/core"
)

// Predicate is a record filter a query can apply. Matches is the full
// client-side check; Metadata optionally exposes equality pairs the vector
// store can push down as a where-filter (nil when there is nothing to push).
type Predicate interface {
	Matches(rec *core.Record) bool
	Metadata() map[string]string
}

// RecordStore is the owner-scoped partition of the vector/document
// collaborator. Get and Put operate on the owner's own partition; Find
// resolves a bare record ID across partitions for access checks.
type RecordStore interface {
	Get(ctx context.Context, ownerID, recordID string) (*core.Record, error)
	Put(ctx context.Context, rec *core.Record) error
	Delete(ctx context.Context, ownerID, recordID string) error
	Find(ctx context.Context, recordID string) (*core.Record, error)
	Query(ctx context.Context, ownerID string, embedding []float32, limit int, pred Predicate) ([]*core.Record, error)
}

// PublishedHit is one shared-store query result with its similarity score.
type PublishedHit struct {
	Record *core.PublishedRecord
	Score  float32
}

// SharedStore is the shared partition of the vector/document collaborator.
// Entries live under derived external identifiers; Put overwrites in place
// (last-write-wins) so a retried publish never duplicates.
type SharedStore interface {
	GetPublished(ctx context.Context, externalID string) (*core.PublishedRecord, error)
	PutPublished(ctx context.Context, externalID string, rec *core.PublishedRecord) error
	DeletePublished(ctx context.Context, externalID string) error
	QueryPublished(ctx context.Context, embedding []float32, limit int, pred Predicate) ([]PublishedHit, error)
	ListPublished(ctx context.Context) (map[string]*core.PublishedRecord, error)
}

// ConfigStore persists one GhostConfig document per owner. GetConfig
// returns core.ErrNotFound when the owner has never written configuration;
// lazily defaulting is the caller's concern.
type ConfigStore interface {
	GetConfig(ctx context.Context, ownerID string) (*core.GhostConfig, error)
	PutConfig(ctx context.Context, cfg *core.GhostConfig) error
}

// EscalationStore persists failed-attempt counters per
// (owner, accessor, record) triple.
//
// Increment must be atomic: concurrent failing requests against the same
// triple may never lose an update. When the incremented count reaches
// threshold the record transitions to blocked with blockedAt = now; the
// returned record reflects the post-increment state.
type EscalationStore interface {
	IncrementEscalation(ctx context.Context, ownerID, accessorID, recordID string, threshold int, now time.Time) (*core.EscalationRecord, error)
	GetEscalation(ctx context.Context, ownerID, accessorID, recordID string) (*core.EscalationRecord, error)
	ResetEscalation(ctx context.Context, ownerID, accessorID, recordID string) error
}

// TokenStore persists confirmation tokens.
//
// TransitionToken is a compare-and-set on the token's state: it succeeds
// (true) only when the stored state equals from, so of two callers racing a
// token out of Pending exactly one wins.
type TokenStore interface {
	CreateToken(ctx context.Context, tok *core.ConfirmationToken) error
	GetToken(ctx context.Context, token string) (*core.ConfirmationToken, error)
	TransitionToken(ctx context.Context, token string, from, to core.TokenState) (bool, error)
}

// AuditLog is an append-only audit sink.
type AuditLog interface {
	Append(ctx context.Context, entry core.AuditEntry) error
}

// NopAudit discards audit entries. Useful for tests and tools that do not
// care about the trail.
type NopAudit struct{}

func (NopAudit) Append(context.Context, core.AuditEntry) error { return nil }

var _ AuditLog = NopAudit{}
