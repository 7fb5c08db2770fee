package ghost_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostmem/ghostmem/core"
	"github.com/ghostmem/ghostmem/ghost"
)

func published(owner string, mode core.WriteMode) *core.PublishedRecord {
	pub := &core.PublishedRecord{WriteMode: mode}
	pub.OwnerID = owner
	return pub
}

func TestCanReviseOwnerOnly(t *testing.T) {
	ctx := context.Background()
	pub := published("alice", core.WriteOwnerOnly)

	ok, err := ghost.CanRevise(ctx, "alice", pub, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ghost.CanRevise(ctx, "bob", pub, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanReviseLegacyFallbacks(t *testing.T) {
	ctx := context.Background()

	// Missing write mode falls back to owner-only; missing owner falls
	// back to the legacy author field.
	pub := &core.PublishedRecord{AuthorID: "alice"}

	ok, err := ghost.CanRevise(ctx, "alice", pub, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ghost.CanRevise(ctx, "bob", pub, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanReviseGroupEditors(t *testing.T) {
	ctx := context.Background()
	pub := published("alice", core.WriteGroupEditors)
	pub.GroupMemberships = []string{"book-club"}

	editors := ghost.StaticEditors{"book-club": {"bob"}}

	ok, err := ghost.CanRevise(ctx, "bob", pub, editors)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ghost.CanRevise(ctx, "carol", pub, editors)
	require.NoError(t, err)
	assert.False(t, ok)

	// Without a group collaborator the mode degrades to owner-only.
	ok, err = ghost.CanRevise(ctx, "bob", pub, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanReviseAnyone(t *testing.T) {
	ctx := context.Background()
	pub := published("alice", core.WriteAnyone)

	ok, err := ghost.CanRevise(ctx, "anybody", pub, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	// Unauthenticated (empty accessor) still refused.
	ok, err = ghost.CanRevise(ctx, "", pub, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanOverwriteAllowList(t *testing.T) {
	ctx := context.Background()
	pub := published("alice", core.WriteOwnerOnly)
	pub.OverwriteAllowList = []string{"bob"}

	// The allow list grants overwrite regardless of write mode.
	ok, err := ghost.CanOverwrite(ctx, "bob", pub, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	// But not revise.
	ok, err = ghost.CanRevise(ctx, "bob", pub, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ghost.CanOverwrite(ctx, "carol", pub, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}
