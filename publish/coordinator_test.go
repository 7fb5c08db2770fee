package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostmem/ghostmem/core"
	"github.com/ghostmem/ghostmem/ghost"
	"github.com/ghostmem/ghostmem/identity"
	"github.com/ghostmem/ghostmem/store/memstore"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *memstore.Records, *memstore.Docs) {
	t.Helper()
	records := memstore.NewRecords()
	docs := memstore.NewDocs()
	tokens := NewTokenService(docs, nil)
	coord := NewCoordinator(records, records, tokens, docs, ghost.StaticEditors{"book-club": {"dan"}}, StaticModerators{"mod-1"}, nil)
	return coord, records, docs
}

func seedRecord(t *testing.T, records *memstore.Records, ownerID, recordID string) *core.Record {
	t.Helper()
	rec := &core.Record{
		ID:          recordID,
		OwnerID:     ownerID,
		Title:       "sourdough starter notes",
		Body:        "feed twice daily. it doubled overnight.",
		ContentType: "note",
		TrustScore:  0.5,
		CreatedAt:   time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, records.Put(context.Background(), rec))
	return rec
}

func TestPublishFlow(t *testing.T) {
	ctx := context.Background()
	coord, records, _ := newTestCoordinator(t)
	seedRecord(t, records, "alice", "m1")

	tok, err := coord.CreatePublishRequest(ctx, "alice", "m1", core.ScopeSpace, "home-space", core.WriteOwnerOnly)
	require.NoError(t, err)
	assert.Equal(t, core.TokenPending, tok.State)

	// Nothing is visible until confirmation.
	externalID, err := identity.Derive("alice", "m1")
	require.NoError(t, err)
	_, err = records.GetPublished(ctx, externalID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	confirmed, err := coord.ConfirmRequest(ctx, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, core.TokenConfirmed, confirmed.State)

	pub, err := records.GetPublished(ctx, externalID)
	require.NoError(t, err)
	assert.Equal(t, "sourdough starter notes", pub.Title)
	assert.Equal(t, core.WriteOwnerOnly, pub.WriteMode)
	assert.Zero(t, pub.RevisionCount)
	assert.False(t, pub.PublishedAt.IsZero())

	rec, err := records.Get(ctx, "alice", "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"home-space"}, rec.SpaceMemberships)
}

func TestPublishValidatesRequest(t *testing.T) {
	ctx := context.Background()
	coord, records, _ := newTestCoordinator(t)
	seedRecord(t, records, "alice", "m1")

	_, err := coord.CreatePublishRequest(ctx, "alice", "m1", core.ScopeSpace, "", core.WriteOwnerOnly)
	assert.True(t, core.IsValidation(err), "empty target")

	_, err = coord.CreatePublishRequest(ctx, "alice", "m1", "dimension", "x", core.WriteOwnerOnly)
	assert.True(t, core.IsValidation(err), "unknown scope")

	_, err = coord.CreatePublishRequest(ctx, "alice", "m1", core.ScopeSpace, "x", "read-write-execute")
	assert.True(t, core.IsValidation(err), "unknown write mode")

	_, err = coord.CreatePublishRequest(ctx, "alice", "missing", core.ScopeSpace, "x", core.WriteOwnerOnly)
	assert.ErrorIs(t, err, core.ErrNotFound)

	// A caller cannot stage someone else's record: the lookup is scoped to
	// the caller's own partition.
	_, err = coord.CreatePublishRequest(ctx, "bob", "m1", core.ScopeSpace, "x", core.WriteOwnerOnly)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRepublishPreservesPublicationMetadata(t *testing.T) {
	ctx := context.Background()
	coord, records, _ := newTestCoordinator(t)
	seedRecord(t, records, "alice", "m1")

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	coord.now = func() time.Time { return base }

	tok, err := coord.CreatePublishRequest(ctx, "alice", "m1", core.ScopeSpace, "home-space", core.WriteOwnerOnly)
	require.NoError(t, err)
	_, err = coord.ConfirmRequest(ctx, tok.Token)
	require.NoError(t, err)

	// Publish the same record to a second location later.
	coord.now = func() time.Time { return base.Add(time.Hour) }
	tok2, err := coord.CreatePublishRequest(ctx, "alice", "m1", core.ScopeGroup, "book-club", "")
	require.NoError(t, err)
	_, err = coord.ConfirmRequest(ctx, tok2.Token)
	require.NoError(t, err)

	externalID, _ := identity.Derive("alice", "m1")
	pub, err := records.GetPublished(ctx, externalID)
	require.NoError(t, err)
	assert.Equal(t, base, pub.PublishedAt, "original publication time survives")
	assert.Equal(t, core.WriteOwnerOnly, pub.WriteMode, "empty write mode keeps the existing one")

	rec, _ := records.Get(ctx, "alice", "m1")
	assert.Equal(t, []string{"home-space"}, rec.SpaceMemberships)
	assert.Equal(t, []string{"book-club"}, rec.GroupMemberships)
}

func TestPublishedCopyCarriesNewMembership(t *testing.T) {
	ctx := context.Background()
	coord, records, _ := newTestCoordinator(t)
	seedRecord(t, records, "alice", "m1")

	tok, err := coord.CreatePublishRequest(ctx, "alice", "m1", core.ScopeGroup, "book-club", core.WriteGroupEditors)
	require.NoError(t, err)
	_, err = coord.ConfirmRequest(ctx, tok.Token)
	require.NoError(t, err)

	// The shared copy lists book-club immediately, so dan (a book-club
	// editor) can revise without waiting for a later re-publish to refresh
	// the arrays.
	externalID, _ := identity.Derive("alice", "m1")
	pub, err := records.GetPublished(ctx, externalID)
	require.NoError(t, err)
	assert.Equal(t, []string{"book-club"}, pub.GroupMemberships)

	_, err = coord.CreateReviseRequest(ctx, "dan", "alice", "m1")
	assert.NoError(t, err)
}

func TestConfirmIsSingleUse(t *testing.T) {
	ctx := context.Background()
	coord, records, _ := newTestCoordinator(t)
	seedRecord(t, records, "alice", "m1")

	tok, err := coord.CreatePublishRequest(ctx, "alice", "m1", core.ScopeSpace, "home-space", core.WriteOwnerOnly)
	require.NoError(t, err)
	_, err = coord.ConfirmRequest(ctx, tok.Token)
	require.NoError(t, err)

	_, err = coord.ConfirmRequest(ctx, tok.Token)
	assert.ErrorIs(t, err, core.ErrTokenConsumed)

	// The double confirm did not add the membership twice.
	rec, _ := records.Get(ctx, "alice", "m1")
	assert.Equal(t, []string{"home-space"}, rec.SpaceMemberships)
}

func TestConfirmExpiredToken(t *testing.T) {
	ctx := context.Background()
	coord, records, _ := newTestCoordinator(t)
	seedRecord(t, records, "alice", "m1")

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	coord.tokens.now = func() time.Time { return base }
	tok, err := coord.CreatePublishRequest(ctx, "alice", "m1", core.ScopeSpace, "home-space", core.WriteOwnerOnly)
	require.NoError(t, err)

	coord.tokens.now = func() time.Time { return base.Add(core.TokenTTL + time.Minute) }
	_, err = coord.ConfirmRequest(ctx, tok.Token)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestDenyDiscardsStagedMutation(t *testing.T) {
	ctx := context.Background()
	coord, records, docs := newTestCoordinator(t)
	seedRecord(t, records, "alice", "m1")

	tok, err := coord.CreatePublishRequest(ctx, "alice", "m1", core.ScopeSpace, "home-space", core.WriteOwnerOnly)
	require.NoError(t, err)
	require.NoError(t, coord.DenyRequest(ctx, tok.Token))

	externalID, _ := identity.Derive("alice", "m1")
	_, err = records.GetPublished(ctx, externalID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	// A denied token cannot be confirmed later.
	_, err = coord.ConfirmRequest(ctx, tok.Token)
	assert.ErrorIs(t, err, core.ErrTokenConsumed)

	entries := docs.AuditEntries()
	require.NotEmpty(t, entries)
	assert.Equal(t, "denied", entries[len(entries)-1].Decision)
}

func TestRetractFlow(t *testing.T) {
	ctx := context.Background()
	coord, records, _ := newTestCoordinator(t)
	seedRecord(t, records, "alice", "m1")

	publish := func(scope core.MembershipScope, target string) {
		tok, err := coord.CreatePublishRequest(ctx, "alice", "m1", scope, target, core.WriteOwnerOnly)
		require.NoError(t, err)
		_, err = coord.ConfirmRequest(ctx, tok.Token)
		require.NoError(t, err)
	}
	publish(core.ScopeSpace, "home-space")
	publish(core.ScopeGroup, "book-club")

	externalID, _ := identity.Derive("alice", "m1")

	// Retract from the space: the group still references the shared copy,
	// so it stays.
	tok, err := coord.CreateRetractRequest(ctx, "alice", "m1", core.ScopeSpace, "home-space")
	require.NoError(t, err)
	_, err = coord.ConfirmRequest(ctx, tok.Token)
	require.NoError(t, err)

	_, err = records.GetPublished(ctx, externalID)
	assert.NoError(t, err)
	rec, _ := records.Get(ctx, "alice", "m1")
	assert.Empty(t, rec.SpaceMemberships)
	assert.Equal(t, []string{"book-club"}, rec.GroupMemberships)

	// Retracting the last location deletes the shared copy.
	tok, err = coord.CreateRetractRequest(ctx, "alice", "m1", core.ScopeGroup, "book-club")
	require.NoError(t, err)
	_, err = coord.ConfirmRequest(ctx, tok.Token)
	require.NoError(t, err)

	_, err = records.GetPublished(ctx, externalID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRetractValidatesScope(t *testing.T) {
	ctx := context.Background()
	coord, records, _ := newTestCoordinator(t)
	seedRecord(t, records, "alice", "m1")

	_, err := coord.CreateRetractRequest(ctx, "alice", "m1", "dimension", "home-space")
	assert.True(t, core.IsValidation(err), "unknown scope")
}

func TestRetractRefreshesSurvivingSharedCopy(t *testing.T) {
	ctx := context.Background()
	coord, records, _ := newTestCoordinator(t)
	seedRecord(t, records, "alice", "m1")

	publish := func(scope core.MembershipScope, target string, mode core.WriteMode) {
		tok, err := coord.CreatePublishRequest(ctx, "alice", "m1", scope, target, mode)
		require.NoError(t, err)
		_, err = coord.ConfirmRequest(ctx, tok.Token)
		require.NoError(t, err)
	}
	publish(core.ScopeGroup, "book-club", core.WriteGroupEditors)
	publish(core.ScopeSpace, "home-space", "")

	tok, err := coord.CreateRetractRequest(ctx, "alice", "m1", core.ScopeGroup, "book-club")
	require.NoError(t, err)
	_, err = coord.ConfirmRequest(ctx, tok.Token)
	require.NoError(t, err)

	// The surviving shared copy dropped the retracted group, so dan's
	// editor access went with it.
	externalID, _ := identity.Derive("alice", "m1")
	pub, err := records.GetPublished(ctx, externalID)
	require.NoError(t, err)
	assert.Empty(t, pub.GroupMemberships)
	assert.Equal(t, []string{"home-space"}, pub.SpaceMemberships)

	_, err = coord.CreateReviseRequest(ctx, "dan", "alice", "m1")
	assert.ErrorIs(t, err, core.ErrNotPermitted)
}

func TestReviseFlow(t *testing.T) {
	ctx := context.Background()
	coord, records, _ := newTestCoordinator(t)
	rec := seedRecord(t, records, "alice", "m1")

	tok, err := coord.CreatePublishRequest(ctx, "alice", "m1", core.ScopeGroup, "book-club", core.WriteGroupEditors)
	require.NoError(t, err)
	_, err = coord.ConfirmRequest(ctx, tok.Token)
	require.NoError(t, err)

	rec.Body = "starter died. starting over."
	require.NoError(t, records.Put(ctx, rec))

	// dan is a book-club editor, so group-editors mode lets him revise.
	tok, err = coord.CreateReviseRequest(ctx, "dan", "alice", "m1")
	require.NoError(t, err)
	_, err = coord.ConfirmRequest(ctx, tok.Token)
	require.NoError(t, err)

	externalID, _ := identity.Derive("alice", "m1")
	pub, err := records.GetPublished(ctx, externalID)
	require.NoError(t, err)
	assert.Equal(t, "starter died. starting over.", pub.Body)
	assert.Equal(t, 1, pub.RevisionCount)
	require.NotNil(t, pub.RevisedAt)

	// carol is neither owner nor editor.
	_, err = coord.CreateReviseRequest(ctx, "carol", "alice", "m1")
	assert.ErrorIs(t, err, core.ErrNotPermitted)
}

func TestReviseViaOverwriteAllowList(t *testing.T) {
	ctx := context.Background()
	coord, records, _ := newTestCoordinator(t)
	seedRecord(t, records, "alice", "m1")

	tok, err := coord.CreatePublishRequest(ctx, "alice", "m1", core.ScopeSpace, "home-space", core.WriteOwnerOnly)
	require.NoError(t, err)
	_, err = coord.ConfirmRequest(ctx, tok.Token)
	require.NoError(t, err)

	// carol is on the allow list: that beats the owner-only write mode.
	externalID, _ := identity.Derive("alice", "m1")
	pub, err := records.GetPublished(ctx, externalID)
	require.NoError(t, err)
	pub.OverwriteAllowList = []string{"carol"}
	require.NoError(t, records.PutPublished(ctx, externalID, pub))

	tok, err = coord.CreateReviseRequest(ctx, "carol", "alice", "m1")
	require.NoError(t, err)
	_, err = coord.ConfirmRequest(ctx, tok.Token)
	require.NoError(t, err)

	pub, err = records.GetPublished(ctx, externalID)
	require.NoError(t, err)
	assert.Equal(t, 1, pub.RevisionCount)
}

func TestRevisePermissionRecheckedAtApply(t *testing.T) {
	ctx := context.Background()
	records := memstore.NewRecords()
	docs := memstore.NewDocs()
	tokens := NewTokenService(docs, nil)
	editors := ghost.StaticEditors{"book-club": {"dan"}}
	coord := NewCoordinator(records, records, tokens, docs, editors, nil, nil)
	seedRecord(t, records, "alice", "m1")

	tok, err := coord.CreatePublishRequest(ctx, "alice", "m1", core.ScopeGroup, "book-club", core.WriteGroupEditors)
	require.NoError(t, err)
	_, err = coord.ConfirmRequest(ctx, tok.Token)
	require.NoError(t, err)

	tok, err = coord.CreateReviseRequest(ctx, "dan", "alice", "m1")
	require.NoError(t, err)

	// Permission flips between stage and confirm: the owner locks the
	// record down to owner-only. The apply-time recheck must refuse.
	externalID, _ := identity.Derive("alice", "m1")
	pub, err := records.GetPublished(ctx, externalID)
	require.NoError(t, err)
	pub.WriteMode = core.WriteOwnerOnly
	require.NoError(t, records.PutPublished(ctx, externalID, pub))

	_, err = coord.ConfirmRequest(ctx, tok.Token)
	assert.ErrorIs(t, err, core.ErrNotPermitted)
}

func TestConfirmRetriesAfterApplyFailure(t *testing.T) {
	ctx := context.Background()
	records := memstore.NewRecords()
	docs := memstore.NewDocs()
	tokens := NewTokenService(docs, nil)
	shared := &flakyShared{Records: records, failures: 1}
	coord := NewCoordinator(records, shared, tokens, docs, nil, nil, nil)
	seedRecord(t, records, "alice", "m1")

	tok, err := coord.CreatePublishRequest(ctx, "alice", "m1", core.ScopeSpace, "home-space", core.WriteOwnerOnly)
	require.NoError(t, err)

	_, err = coord.ConfirmRequest(ctx, tok.Token)
	require.Error(t, err)
	assert.False(t, IsTokenMisuse(err), "infrastructure failure, not a token problem")

	// The failed apply reopened the token. No membership was added either,
	// since the shared write comes first.
	rec, _ := records.Get(ctx, "alice", "m1")
	assert.Empty(t, rec.SpaceMemberships)

	_, err = coord.ConfirmRequest(ctx, tok.Token)
	require.NoError(t, err)
	rec, _ = records.Get(ctx, "alice", "m1")
	assert.Equal(t, []string{"home-space"}, rec.SpaceMemberships)
}

func TestModerate(t *testing.T) {
	ctx := context.Background()
	coord, records, _ := newTestCoordinator(t)
	seedRecord(t, records, "alice", "m1")

	tok, err := coord.CreatePublishRequest(ctx, "alice", "m1", core.ScopeSpace, "home-space", core.WriteOwnerOnly)
	require.NoError(t, err)
	_, err = coord.ConfirmRequest(ctx, tok.Token)
	require.NoError(t, err)

	// Neither owner nor moderator.
	err = coord.Moderate(ctx, "carol", "alice", "m1", "hidden")
	assert.ErrorIs(t, err, core.ErrNotPermitted)

	require.NoError(t, coord.Moderate(ctx, "mod-1", "alice", "m1", "hidden"))

	externalID, _ := identity.Derive("alice", "m1")
	pub, err := records.GetPublished(ctx, externalID)
	require.NoError(t, err)
	require.NotNil(t, pub.ModerationStatus)
	assert.Equal(t, "hidden", *pub.ModerationStatus)
	assert.Equal(t, "mod-1", pub.ModeratedBy)
	require.NotNil(t, pub.ModeratedAt)
}

func TestPruneOrphans(t *testing.T) {
	ctx := context.Background()
	coord, records, _ := newTestCoordinator(t)
	seedRecord(t, records, "alice", "m1")

	tok, err := coord.CreatePublishRequest(ctx, "alice", "m1", core.ScopeSpace, "home-space", core.WriteOwnerOnly)
	require.NoError(t, err)
	_, err = coord.ConfirmRequest(ctx, tok.Token)
	require.NoError(t, err)

	pruned, err := coord.PruneOrphans(ctx)
	require.NoError(t, err)
	assert.Zero(t, pruned, "live publication is not an orphan")

	// Simulate the crash window: membership gone, shared copy left behind.
	rec, _ := records.Get(ctx, "alice", "m1")
	rec.SpaceMemberships = nil
	require.NoError(t, records.Put(ctx, rec))

	pruned, err = coord.PruneOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	externalID, _ := identity.Derive("alice", "m1")
	_, err = records.GetPublished(ctx, externalID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

// flakyShared fails the first N shared-store writes.
type flakyShared struct {
	*memstore.Records
	failures int
}

func (f *flakyShared) PutPublished(ctx context.Context, externalID string, rec *core.PublishedRecord) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("shared store unavailable")
	}
	return f.Records.PutPublished(ctx, externalID, rec)
}
