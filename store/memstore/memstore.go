// Package memstore provides in-memory implementations of every store
// interface. They are the test doubles for the core and the "memory" store
// type in configuration, mirroring the sqlite/chromem implementations'
// semantics including atomic increments and compare-and-set transitions.
package memstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ghostmem/ghostmem/core"
	"github.com/ghostmem/ghostmem/store"
)

// Records is an in-memory RecordStore + SharedStore. Query ranks by cosine
// similarity, like the vector collaborator it stands in for.
type Records struct {
	mu        sync.RWMutex
	owned     map[string]map[string]*core.Record // ownerID -> recordID -> record
	published map[string]*core.PublishedRecord   // externalID -> record
}

// NewRecords creates an empty record store.
func NewRecords() *Records {
	return &Records{
		owned:     make(map[string]map[string]*core.Record),
		published: make(map[string]*core.PublishedRecord),
	}
}

func (s *Records) Get(ctx context.Context, ownerID, recordID string) (*core.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.owned[ownerID][recordID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *Records) Put(ctx context.Context, rec *core.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	partition, ok := s.owned[rec.OwnerID]
	if !ok {
		partition = make(map[string]*core.Record)
		s.owned[rec.OwnerID] = partition
	}
	partition[rec.ID] = rec.Clone()
	return nil
}

func (s *Records) Delete(ctx context.Context, ownerID, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owned[ownerID], recordID)
	return nil
}

func (s *Records) Find(ctx context.Context, recordID string) (*core.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, partition := range s.owned {
		if rec, ok := partition[recordID]; ok {
			return rec.Clone(), nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *Records) Query(ctx context.Context, ownerID string, embedding []float32, limit int, pred store.Predicate) ([]*core.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		rec   *core.Record
		score float32
	}
	var hits []scored
	for _, rec := range s.owned[ownerID] {
		if pred != nil && !pred.Matches(rec) {
			continue
		}
		hits = append(hits, scored{rec: rec.Clone(), score: cosine(embedding, rec.Embedding)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]*core.Record, len(hits))
	for i, h := range hits {
		out[i] = h.rec
	}
	return out, nil
}

func (s *Records) GetPublished(ctx context.Context, externalID string) (*core.PublishedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.published[externalID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return rec.ClonePublished(), nil
}

func (s *Records) PutPublished(ctx context.Context, externalID string, rec *core.PublishedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published[externalID] = rec.ClonePublished()
	return nil
}

func (s *Records) DeletePublished(ctx context.Context, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.published, externalID)
	return nil
}

func (s *Records) QueryPublished(ctx context.Context, embedding []float32, limit int, pred store.Predicate) ([]store.PublishedHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []store.PublishedHit
	for _, rec := range s.published {
		if pred != nil && !pred.Matches(&rec.Record) {
			continue
		}
		hits = append(hits, store.PublishedHit{
			Record: rec.ClonePublished(),
			Score:  cosine(embedding, rec.Embedding),
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Records) ListPublished(ctx context.Context) (map[string]*core.PublishedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*core.PublishedRecord, len(s.published))
	for id, rec := range s.published {
		out[id] = rec.ClonePublished()
	}
	return out, nil
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// Docs is an in-memory ConfigStore + EscalationStore + TokenStore + AuditLog.
type Docs struct {
	mu          sync.Mutex
	configs     map[string]*core.GhostConfig
	escalations map[string]*core.EscalationRecord
	tokens      map[string]*core.ConfirmationToken
	audit       []core.AuditEntry
}

// NewDocs creates an empty document store.
func NewDocs() *Docs {
	return &Docs{
		configs:     make(map[string]*core.GhostConfig),
		escalations: make(map[string]*core.EscalationRecord),
		tokens:      make(map[string]*core.ConfirmationToken),
	}
}

func (s *Docs) GetConfig(ctx context.Context, ownerID string) (*core.GhostConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[ownerID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cfg.CloneConfig(), nil
}

func (s *Docs) PutConfig(ctx context.Context, cfg *core.GhostConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.OwnerID] = cfg.CloneConfig()
	return nil
}

func escalationKey(ownerID, accessorID, recordID string) string {
	return ownerID + "\x00" + accessorID + "\x00" + recordID
}

func (s *Docs) IncrementEscalation(ctx context.Context, ownerID, accessorID, recordID string, threshold int, now time.Time) (*core.EscalationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := escalationKey(ownerID, accessorID, recordID)
	rec, ok := s.escalations[key]
	if !ok {
		rec = &core.EscalationRecord{OwnerID: ownerID, AccessorID: accessorID, RecordID: recordID}
		s.escalations[key] = rec
	}
	rec.FailedAttempts++
	if !rec.Blocked && rec.FailedAttempts >= threshold {
		rec.Blocked = true
		at := now
		rec.BlockedAt = &at
	}
	out := *rec
	return &out, nil
}

func (s *Docs) GetEscalation(ctx context.Context, ownerID, accessorID, recordID string) (*core.EscalationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.escalations[escalationKey(ownerID, accessorID, recordID)]
	if !ok {
		// No failures yet: zero-valued record, not an error.
		return &core.EscalationRecord{OwnerID: ownerID, AccessorID: accessorID, RecordID: recordID}, nil
	}
	out := *rec
	return &out, nil
}

func (s *Docs) ResetEscalation(ctx context.Context, ownerID, accessorID, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.escalations, escalationKey(ownerID, accessorID, recordID))
	return nil
}

func (s *Docs) CreateToken(ctx context.Context, tok *core.ConfirmationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tok
	s.tokens[tok.Token] = &cp
	return nil
}

func (s *Docs) GetToken(ctx context.Context, token string) (*core.ConfirmationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[token]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := *tok
	return &out, nil
}

func (s *Docs) TransitionToken(ctx context.Context, token string, from, to core.TokenState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[token]
	if !ok {
		return false, core.ErrNotFound
	}
	if tok.State != from {
		return false, nil
	}
	tok.State = to
	return true, nil
}

func (s *Docs) Append(ctx context.Context, entry core.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

// AuditEntries returns a copy of everything appended so far. Test helper.
func (s *Docs) AuditEntries() []core.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.AuditEntry(nil), s.audit...)
}

var (
	_ store.RecordStore     = (*Records)(nil)
	_ store.SharedStore     = (*Records)(nil)
	_ store.ConfigStore     = (*Docs)(nil)
	_ store.EscalationStore = (*Docs)(nil)
	_ store.TokenStore      = (*Docs)(nil)
	_ store.AuditLog        = (*Docs)(nil)
)
