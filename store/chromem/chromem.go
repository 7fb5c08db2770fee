// Package chromem backs the record stores with chromem-go, a pure Go
// embedded vector database. Each owner gets their own collection for
// namespace isolation; published records live in a single shared collection
// under derived external identifiers.
package chromem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/sirupsen/logrus"

	"github.com/ghostmem/ghostmem/core"
	"github.com/ghostmem/ghostmem/identity"
	"github.com/ghostmem/ghostmem/store"
)

const (
	ownerPrefix      = "owner_"
	sharedCollection = "shared"
)

// Store implements store.RecordStore and store.SharedStore over chromem-go.
type Store struct {
	db  *chromem.DB
	log *logrus.Logger

	// chromem collections cannot be enumerated document-by-document, so
	// the shared external IDs are tracked alongside for ListPublished.
	mu        sync.RWMutex
	sharedIDs map[string]struct{}
}

var (
	_ store.RecordStore = (*Store)(nil)
	_ store.SharedStore = (*Store)(nil)
)

// New creates an in-memory chromem store.
func New(log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.New()
	}
	return &Store{
		db:        chromem.NewDB(),
		log:       log,
		sharedIDs: make(map[string]struct{}),
	}
}

// noEmbedding is the collection embedding func. Embeddings are always
// supplied by the caller, so being asked to compute one is a wiring bug.
func noEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("no embedding function configured; supply embeddings explicitly")
}

func (s *Store) collection(name string) (*chromem.Collection, error) {
	col, err := s.db.GetOrCreateCollection(name, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("get collection %s: %w", name, err)
	}
	return col, nil
}

func ownerCollection(ownerID string) string {
	return ownerPrefix + ownerID
}

// Get retrieves a record from the owner's partition.
func (s *Store) Get(ctx context.Context, ownerID, recordID string) (*core.Record, error) {
	col, err := s.collection(ownerCollection(ownerID))
	if err != nil {
		return nil, err
	}
	doc, err := col.GetByID(ctx, recordID)
	if err != nil {
		return nil, core.ErrNotFound
	}
	return recordFromDoc(doc)
}

// Put upserts a record into the owner's partition. chromem overwrites
// documents by ID, so retried writes never duplicate.
func (s *Store) Put(ctx context.Context, rec *core.Record) error {
	col, err := s.collection(ownerCollection(rec.OwnerID))
	if err != nil {
		return err
	}
	doc, err := recordToDoc(rec.ID, rec, nil)
	if err != nil {
		return err
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"record": rec.ID,
		"owner":  rec.OwnerID,
	}).Debug("record stored")
	return nil
}

// Delete removes a record from the owner's partition.
func (s *Store) Delete(ctx context.Context, ownerID, recordID string) error {
	col, err := s.collection(ownerCollection(ownerID))
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, recordID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Find resolves a bare record ID across every owner partition.
func (s *Store) Find(ctx context.Context, recordID string) (*core.Record, error) {
	for name, col := range s.db.ListCollections() {
		if !strings.HasPrefix(name, ownerPrefix) {
			continue
		}
		doc, err := col.GetByID(ctx, recordID)
		if err != nil {
			continue
		}
		return recordFromDoc(doc)
	}
	return nil, core.ErrNotFound
}

// Query retrieves records from the owner's partition by vector similarity.
func (s *Store) Query(ctx context.Context, ownerID string, embedding []float32, limit int, pred store.Predicate) ([]*core.Record, error) {
	col, err := s.collection(ownerCollection(ownerID))
	if err != nil {
		return nil, err
	}
	results, err := s.queryEmbedding(ctx, col, embedding, limit, pred)
	if err != nil {
		return nil, err
	}
	var recs []*core.Record
	for _, result := range results {
		rec, err := recordFromResult(result)
		if err != nil {
			s.log.WithError(err).Warn("skipping undecodable record")
			continue
		}
		if pred != nil && !pred.Matches(rec) {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// GetPublished retrieves a shared entry by external ID.
func (s *Store) GetPublished(ctx context.Context, externalID string) (*core.PublishedRecord, error) {
	col, err := s.collection(sharedCollection)
	if err != nil {
		return nil, err
	}
	doc, err := col.GetByID(ctx, externalID)
	if err != nil {
		return nil, core.ErrNotFound
	}
	return publishedFromDoc(doc)
}

// PutPublished upserts a shared entry (last-write-wins).
func (s *Store) PutPublished(ctx context.Context, externalID string, rec *core.PublishedRecord) error {
	col, err := s.collection(sharedCollection)
	if err != nil {
		return err
	}
	doc, err := recordToDoc(externalID, &rec.Record, rec)
	if err != nil {
		return err
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add shared document: %w", err)
	}
	s.mu.Lock()
	s.sharedIDs[externalID] = struct{}{}
	s.mu.Unlock()
	return nil
}

// DeletePublished removes a shared entry.
func (s *Store) DeletePublished(ctx context.Context, externalID string) error {
	col, err := s.collection(sharedCollection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, externalID); err != nil {
		return fmt.Errorf("delete shared document: %w", err)
	}
	s.mu.Lock()
	delete(s.sharedIDs, externalID)
	s.mu.Unlock()
	return nil
}

// QueryPublished queries the shared collection by vector similarity.
func (s *Store) QueryPublished(ctx context.Context, embedding []float32, limit int, pred store.Predicate) ([]store.PublishedHit, error) {
	col, err := s.collection(sharedCollection)
	if err != nil {
		return nil, err
	}
	results, err := s.queryEmbedding(ctx, col, embedding, limit, pred)
	if err != nil {
		return nil, err
	}
	var hits []store.PublishedHit
	for _, result := range results {
		pub, err := publishedFromResult(result)
		if err != nil {
			s.log.WithError(err).Warn("skipping undecodable shared record")
			continue
		}
		if pred != nil && !pred.Matches(&pub.Record) {
			continue
		}
		hits = append(hits, store.PublishedHit{Record: pub, Score: result.Similarity})
	}
	return hits, nil
}

// ListPublished returns every shared entry keyed by external ID.
func (s *Store) ListPublished(ctx context.Context) (map[string]*core.PublishedRecord, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sharedIDs))
	for id := range s.sharedIDs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	col, err := s.collection(sharedCollection)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*core.PublishedRecord, len(ids))
	for _, id := range ids {
		doc, err := col.GetByID(ctx, id)
		if err != nil {
			continue
		}
		pub, err := publishedFromDoc(doc)
		if err != nil {
			return nil, err
		}
		out[id] = pub
	}
	return out, nil
}

// queryEmbedding runs QueryEmbedding with the metadata pushdown and the
// shrink-retry chromem requires: nResults must not exceed the collection
// size, so the limit is walked down until the query succeeds.
func (s *Store) queryEmbedding(ctx context.Context, col *chromem.Collection, embedding []float32, limit int, pred store.Predicate) ([]chromem.Result, error) {
	var where map[string]string
	if pred != nil {
		where = pred.Metadata()
	}
	if count := col.Count(); limit > count {
		limit = count
	}
	for currentLimit := limit; currentLimit >= 1; currentLimit-- {
		results, err := col.QueryEmbedding(ctx, embedding, currentLimit, where, nil)
		if err == nil {
			return results, nil
		}
		if !isInsufficientDocsError(err) {
			return nil, fmt.Errorf("chromem query: %w", err)
		}
	}
	return nil, nil
}

func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}

// recordToDoc serializes a record (and its published envelope, when pub is
// non-nil) into a chromem document. The record body travels as JSON content;
// the metadata carries the searchable string attributes, including the
// composite key that makes reverse lookup from a derived ID possible.
func recordToDoc(docID string, rec *core.Record, pub *core.PublishedRecord) (chromem.Document, error) {
	var payload any = rec
	if pub != nil {
		payload = pub
	}
	content, err := json.Marshal(payload)
	if err != nil {
		return chromem.Document{}, fmt.Errorf("marshal record: %w", err)
	}
	key, err := identity.CompositeKey(rec.OwnerID, rec.ID)
	if err != nil {
		return chromem.Document{}, fmt.Errorf("composite key: %w", err)
	}
	metadata := map[string]string{
		"owner_id":      rec.OwnerID,
		"record_id":     rec.ID,
		"content_type":  rec.ContentType,
		"composite_key": key,
		"created_at":    rec.CreatedAt.Format(time.RFC3339),
	}
	return chromem.Document{
		ID:        docID,
		Content:   string(content),
		Embedding: rec.Embedding,
		Metadata:  metadata,
	}, nil
}

func recordFromDoc(doc chromem.Document) (*core.Record, error) {
	var rec core.Record
	if err := json.Unmarshal([]byte(doc.Content), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	rec.Embedding = doc.Embedding
	return &rec, nil
}

func recordFromResult(result chromem.Result) (*core.Record, error) {
	var rec core.Record
	if err := json.Unmarshal([]byte(result.Content), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	rec.Embedding = result.Embedding
	return &rec, nil
}

func publishedFromDoc(doc chromem.Document) (*core.PublishedRecord, error) {
	var pub core.PublishedRecord
	if err := json.Unmarshal([]byte(doc.Content), &pub); err != nil {
		return nil, fmt.Errorf("unmarshal published record: %w", err)
	}
	pub.Embedding = doc.Embedding
	return &pub, nil
}

func publishedFromResult(result chromem.Result) (*core.PublishedRecord, error) {
	var pub core.PublishedRecord
	if err := json.Unmarshal([]byte(result.Content), &pub); err != nil {
		return nil, fmt.Errorf("unmarshal published record: %w", err)
	}
	pub.Embedding = result.Embedding
	return &pub, nil
}
