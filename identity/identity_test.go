package identity_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostmem/ghostmem/core"
	"github.com/ghostmem/ghostmem/identity"
)

func TestDeriveDeterministic(t *testing.T) {
	a, err := identity.Derive("u1", "m1")
	require.NoError(t, err)
	b, err := identity.Derive("u1", "m1")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDeriveDistinguishesInputs(t *testing.T) {
	base, err := identity.Derive("u1", "m1")
	require.NoError(t, err)

	otherOwner, err := identity.Derive("u2", "m1")
	require.NoError(t, err)
	otherRecord, err := identity.Derive("u1", "m2")
	require.NoError(t, err)

	assert.NotEqual(t, base, otherOwner)
	assert.NotEqual(t, base, otherRecord)
}

func TestDeriveGrammar(t *testing.T) {
	id, err := identity.Derive("alice", "m1")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(id, "shared_"))
	hexPart := strings.TrimPrefix(id, "shared_")
	assert.Len(t, hexPart, 64)
	for _, c := range hexPart {
		assert.Contains(t, "0123456789abcdef", string(c))
	}
}

func TestDeriveRejectsBadInput(t *testing.T) {
	cases := []struct {
		name   string
		owner  string
		record string
	}{
		{"empty owner", "", "m1"},
		{"empty record", "u1", ""},
		{"separator in owner", "u.1", "m1"},
		{"separator in record", "u1", "m.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := identity.Derive(tc.owner, tc.record)
			require.Error(t, err)
			assert.True(t, core.IsValidation(err))
		})
	}
}

func TestCompositeKeyRoundTrip(t *testing.T) {
	key, err := identity.CompositeKey("alice", "m1")
	require.NoError(t, err)
	assert.Equal(t, "alice.m1", key)

	owner, record, err := identity.SplitCompositeKey(key)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
	assert.Equal(t, "m1", record)
}

func TestSplitCompositeKeyRejectsMalformed(t *testing.T) {
	for _, key := range []string{"", "nodot", ".m1", "alice."} {
		_, _, err := identity.SplitCompositeKey(key)
		assert.Error(t, err, "key %q", key)
	}
}
