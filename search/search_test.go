package search_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostmem/ghostmem/core"
	"github.com/ghostmem/ghostmem/embedder/mock"
	"github.com/ghostmem/ghostmem/ghost"
	"github.com/ghostmem/ghostmem/identity"
	"github.com/ghostmem/ghostmem/search"
	"github.com/ghostmem/ghostmem/store/memstore"
)

type fixture struct {
	searcher *search.Searcher
	records  *memstore.Records
	docs     *memstore.Docs
	configs  *ghost.ConfigManager
	tracker  *ghost.Tracker
	emb      *mock.Embedder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	records := memstore.NewRecords()
	docs := memstore.NewDocs()
	configs, err := ghost.NewConfigManager(docs, ghost.StaticContacts{"alice": {"bob", "carol"}}, nil)
	require.NoError(t, err)
	tracker := ghost.NewTracker(docs, docs, nil)
	emb := mock.New()
	return &fixture{
		searcher: search.NewSearcher(records, records, configs, tracker, emb, nil),
		records:  records,
		docs:     docs,
		configs:  configs,
		tracker:  tracker,
		emb:      emb,
	}
}

// publishShared puts a published copy of the record directly into the shared
// partition, bypassing the two-phase protocol the coordinator tests cover.
func (f *fixture) publishShared(t *testing.T, rec *core.Record) {
	t.Helper()
	ctx := context.Background()
	vec, err := f.emb.Embed(ctx, rec.Title+" "+rec.Body)
	require.NoError(t, err)
	rec.Embedding = vec
	externalID, err := identity.Derive(rec.OwnerID, rec.ID)
	require.NoError(t, err)
	require.NoError(t, f.records.PutPublished(ctx, externalID, &core.PublishedRecord{
		Record:      *rec.Clone(),
		PublishedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}))
}

func aliceRecord(id string, trustScore float64) *core.Record {
	return &core.Record{
		ID:          id,
		OwnerID:     "alice",
		Title:       "trip to lisbon",
		Body:        "we stayed near alfama. best pastel de nata of the trip.",
		ContentType: "note",
		TrustScore:  trustScore,
		Tags:        []string{"travel"},
		Location:    &core.Location{Precise: "38.7223,-9.1393", City: "Lisbon"},
		CreatedAt:   time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}
}

func setMode(t *testing.T, f *fixture, owner string, mode core.EnforcementMode) {
	t.Helper()
	_, err := f.configs.UpdateConfig(context.Background(), owner, owner, core.GhostConfigPatch{EnforcementMode: &mode})
	require.NoError(t, err)
}

func TestSearchSharedFilterAtQuery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	setMode(t, f, "alice", core.EnforceFilterAtQuery)
	f.publishShared(t, aliceRecord("m-low", 0.25))
	f.publishShared(t, aliceRecord("m-high", 0.9))

	// bob is a known contact: default known trust 0.5. The 0.9 record is
	// out of reach and must vanish entirely, not appear redacted.
	results, err := f.searcher.SearchShared(ctx, "bob", search.Request{Query: "lisbon"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m-low", results[0].Record.ID)
	assert.NotEmpty(t, results[0].Record.Body, "survivors of the query filter are not redacted")
}

func TestSearchSharedRedactAtRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	setMode(t, f, "alice", core.EnforceRedactAtRead)
	f.publishShared(t, aliceRecord("m-high", 0.9))

	// bob (trust 0.5) still sees the hit, redacted to his tier.
	results, err := f.searcher.SearchShared(ctx, "bob", search.Request{Query: "lisbon"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	got := results[0].Record
	assert.Equal(t, "summary-only", got.Tier)
	assert.Empty(t, got.Body)
	assert.NotEmpty(t, got.Summary)
	assert.Equal(t, "Lisbon", got.City)
	assert.Empty(t, got.Precise)
}

func TestSearchSharedHybrid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.publishShared(t, aliceRecord("m-low", 0.25))
	f.publishShared(t, aliceRecord("m-high", 0.9))

	// Default mode is hybrid: the unreachable record is dropped and the
	// reachable one is still redacted to bob's 0.5 tier.
	results, err := f.searcher.SearchShared(ctx, "bob", search.Request{Query: "lisbon"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	got := results[0].Record
	assert.Equal(t, "m-low", got.ID)
	assert.Equal(t, "summary-only", got.Tier)
	assert.Empty(t, got.Body)
}

func TestSearchSharedOwnerSeesEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.publishShared(t, aliceRecord("m1", 1.0))

	results, err := f.searcher.SearchShared(ctx, "alice", search.Request{Query: "lisbon"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "full-access", results[0].Record.Tier)
	assert.NotEmpty(t, results[0].Record.Body)
	assert.NotEmpty(t, results[0].Record.Precise)
}

func TestSearchSharedDropsBlockedAndUnknown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.publishShared(t, aliceRecord("m1", 0.0))

	// mallory is not a known contact and unknown accessors are refused by
	// default.
	results, err := f.searcher.SearchShared(ctx, "mallory", search.Request{Query: "lisbon"})
	require.NoError(t, err)
	assert.Empty(t, results)

	// carol is known but blocked; the block wins over any trust.
	require.NoError(t, f.configs.Block(ctx, "alice", "alice", "carol"))
	results, err = f.searcher.SearchShared(ctx, "carol", search.Request{Query: "lisbon"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchSharedEscalationPenaltyApplies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	setMode(t, f, "alice", core.EnforceRedactAtRead)
	f.publishShared(t, aliceRecord("m1", 0.9))

	// Two failed access attempts drop bob's effective trust from 0.5 to
	// 0.3: metadata tier instead of summary tier.
	_, err := f.tracker.RecordFailure(ctx, "alice", "bob", "m1")
	require.NoError(t, err)
	_, err = f.tracker.RecordFailure(ctx, "alice", "bob", "m1")
	require.NoError(t, err)

	results, err := f.searcher.SearchShared(ctx, "bob", search.Request{Query: "lisbon"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "metadata-only", results[0].Record.Tier)
	assert.Empty(t, results[0].Record.Summary)
}

func TestSearchSharedHidesModeratedRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := aliceRecord("m1", 0.25)
	f.publishShared(t, rec)

	externalID, _ := identity.Derive("alice", "m1")
	pub, err := f.records.GetPublished(ctx, externalID)
	require.NoError(t, err)
	hidden := "hidden"
	pub.ModerationStatus = &hidden
	require.NoError(t, f.records.PutPublished(ctx, externalID, pub))

	results, err := f.searcher.SearchShared(ctx, "bob", search.Request{Query: "lisbon"})
	require.NoError(t, err)
	assert.Empty(t, results, "moderated-out records are invisible to non-owners")

	results, err = f.searcher.SearchShared(ctx, "alice", search.Request{Query: "lisbon"})
	require.NoError(t, err)
	assert.Len(t, results, 1, "the owner still sees their moderated record")
}

func TestSearchSharedResidueExcludedByDefault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	residue := aliceRecord("m-residue", 0.25)
	residue.ContentType = core.ContentTypeResidue
	f.publishShared(t, residue)
	f.publishShared(t, aliceRecord("m-note", 0.25))

	results, err := f.searcher.SearchShared(ctx, "bob", search.Request{Query: "lisbon"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m-note", results[0].Record.ID)

	results, err = f.searcher.SearchShared(ctx, "bob", search.Request{Query: "lisbon", IncludeResidue: true})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchSharedTagAndContentTypeFilters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tagged := aliceRecord("m-tagged", 0.25)
	tagged.Tags = []string{"travel", "food"}
	f.publishShared(t, tagged)
	f.publishShared(t, aliceRecord("m-plain", 0.25))

	results, err := f.searcher.SearchShared(ctx, "bob", search.Request{Query: "lisbon", Tags: []string{"food"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m-tagged", results[0].Record.ID)

	results, err = f.searcher.SearchShared(ctx, "bob", search.Request{Query: "lisbon", ContentType: "recipe"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchSharedValidatesQuery(t *testing.T) {
	f := newFixture(t)
	_, err := f.searcher.SearchShared(context.Background(), "bob", search.Request{})
	assert.True(t, core.IsValidation(err))
}

func TestSearchOwn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := aliceRecord("m1", 1.0)
	vec, err := f.emb.Embed(ctx, rec.Body)
	require.NoError(t, err)
	rec.Embedding = vec
	require.NoError(t, f.records.Put(ctx, rec))

	recs, err := f.searcher.SearchOwn(ctx, "alice", search.Request{Query: "pastel de nata"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "m1", recs[0].ID)

	// Partitioned: bob's own search never surfaces alice's records.
	recs, err = f.searcher.SearchOwn(ctx, "bob", search.Request{Query: "pastel de nata"})
	require.NoError(t, err)
	assert.Empty(t, recs)
}
