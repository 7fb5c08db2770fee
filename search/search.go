// Package search runs similarity queries over the shared store with trust
// enforcement applied per hit. Each record owner's enforcement mode decides
// whether insufficient hits are dropped, redacted, or both.
package search

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ghostmem/ghostmem/core"
	"github.com/ghostmem/ghostmem/embedder"
	"github.com/ghostmem/ghostmem/ghost"
	"github.com/ghostmem/ghostmem/store"
	"github.com/ghostmem/ghostmem/trust"
)

const (
	defaultLimit = 10

	// Overfetch factor: trust enforcement and residue filtering drop hits
	// after the vector query, so the store is asked for more candidates
	// than the caller wants back.
	candidateFactor = 4
)

// Request describes one search.
type Request struct {
	Query       string
	Limit       int
	ContentType string
	Tags        []string

	// IncludeResidue opts conversation-residue records into the results.
	// They are excluded by default so imported chat fragments do not crowd
	// out curated records.
	IncludeResidue bool
}

// Result is one trust-enforced hit. Record carries only the fields the
// accessor's tier permits.
type Result struct {
	Record *core.FormattedRecord
	Score  float32
}

// Searcher evaluates shared-store queries for an accessor. Trust resolution
// is read-only here: browsing search results never counts as a failed access
// attempt, only explicit record access does.
type Searcher struct {
	shared      store.SharedStore
	records     store.RecordStore
	configs     *ghost.ConfigManager
	escalations *ghost.Tracker
	emb         embedder.Embedder
	log         *logrus.Logger
}

// NewSearcher wires a searcher.
func NewSearcher(shared store.SharedStore, records store.RecordStore, configs *ghost.ConfigManager, escalations *ghost.Tracker, emb embedder.Embedder, log *logrus.Logger) *Searcher {
	if log == nil {
		log = logrus.New()
	}
	return &Searcher{
		shared:      shared,
		records:     records,
		configs:     configs,
		escalations: escalations,
		emb:         emb,
		log:         log,
	}
}

// SearchShared queries the shared store as accessorID and enforces each
// owner's ghost configuration on the hits.
func (s *Searcher) SearchShared(ctx context.Context, accessorID string, req Request) ([]Result, error) {
	if req.Query == "" {
		return nil, &core.ValidationError{Field: "query", Reason: "must not be empty"}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	vec, err := s.emb.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.shared.QueryPublished(ctx, vec, limit*candidateFactor, requestPredicate(req))
	if err != nil {
		return nil, fmt.Errorf("query shared store: %w", err)
	}

	results := make([]Result, 0, limit)
	for _, hit := range hits {
		if len(results) == limit {
			break
		}
		pub := hit.Record
		owner := pub.Owner()

		if hidden(pub) && accessorID != owner {
			continue
		}
		if accessorID == owner {
			results = append(results, Result{
				Record: trust.Redact(&pub.Record, trust.TierFullAccess),
				Score:  hit.Score,
			})
			continue
		}

		formatted, ok, err := s.enforce(ctx, owner, accessorID, &pub.Record)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		results = append(results, Result{Record: formatted, Score: hit.Score})
	}
	return results, nil
}

// SearchOwn queries the owner's private partition. No trust machinery
// applies to one's own records.
func (s *Searcher) SearchOwn(ctx context.Context, ownerID string, req Request) ([]*core.Record, error) {
	if req.Query == "" {
		return nil, &core.ValidationError{Field: "query", Reason: "must not be empty"}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	vec, err := s.emb.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	recs, err := s.records.Query(ctx, ownerID, vec, limit, requestPredicate(req))
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return recs, nil
}

// enforce applies the owner's enforcement mode to one candidate. The bool is
// false when the hit must be dropped entirely.
func (s *Searcher) enforce(ctx context.Context, ownerID, accessorID string, rec *core.Record) (*core.FormattedRecord, bool, error) {
	configured, source, err := s.configs.ResolveTrust(ctx, ownerID, accessorID)
	if err != nil {
		return nil, false, fmt.Errorf("resolve trust: %w", err)
	}
	if source == ghost.SourceBlocked || source == ghost.SourceNone {
		return nil, false, nil
	}
	esc, err := s.escalations.Escalation(ctx, ownerID, accessorID, rec.ID)
	if err != nil {
		return nil, false, err
	}
	if esc.Blocked {
		return nil, false, nil
	}
	effective := ghost.PenalizedTrust(configured, esc.FailedAttempts)

	cfg, err := s.configs.GetConfig(ctx, ownerID)
	if err != nil {
		return nil, false, fmt.Errorf("load ghost config: %w", err)
	}

	sufficient := trust.IsSufficient(rec.TrustScore, effective)
	switch cfg.EnforcementMode {
	case core.EnforceFilterAtQuery:
		if !sufficient {
			return nil, false, nil
		}
		return trust.Redact(rec, trust.TierFullAccess), true, nil
	case core.EnforceRedactAtRead:
		tier, err := trust.Classify(effective)
		if err != nil {
			return nil, false, err
		}
		return trust.Redact(rec, tier), true, nil
	default: // hybrid
		if !sufficient {
			return nil, false, nil
		}
		tier, err := trust.Classify(effective)
		if err != nil {
			return nil, false, err
		}
		return trust.Redact(rec, tier), true, nil
	}
}

func hidden(pub *core.PublishedRecord) bool {
	return pub.ModerationStatus != nil && *pub.ModerationStatus != "approved"
}

// requestPredicate builds the store predicate for a request: equality terms
// are exposed for metadata pushdown, the rest is checked client-side.
func requestPredicate(req Request) store.Predicate {
	return predicate{req: req}
}

type predicate struct {
	req Request
}

func (p predicate) Matches(rec *core.Record) bool {
	if !p.req.IncludeResidue && rec.ContentType == core.ContentTypeResidue {
		return false
	}
	if p.req.ContentType != "" && rec.ContentType != p.req.ContentType {
		return false
	}
	for _, tag := range p.req.Tags {
		found := false
		for _, have := range rec.Tags {
			if have == tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (p predicate) Metadata() map[string]string {
	if p.req.ContentType == "" {
		return nil
	}
	return map[string]string{"content_type": p.req.ContentType}
}

var _ store.Predicate = predicate{}
