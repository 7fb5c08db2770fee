package trust_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostmem/ghostmem/core"
	"github.com/ghostmem/ghostmem/trust"
)

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		trust float64
		tier  trust.Tier
	}{
		{0.0, trust.TierExistenceOnly},
		{0.1, trust.TierExistenceOnly},
		{0.25, trust.TierMetadataOnly},
		{0.49, trust.TierMetadataOnly},
		{0.5, trust.TierSummaryOnly},
		{0.74, trust.TierSummaryOnly},
		{0.75, trust.TierPartialAccess},
		{0.99, trust.TierPartialAccess},
		{1.0, trust.TierFullAccess},
	}
	for _, tc := range cases {
		tier, err := trust.Classify(tc.trust)
		require.NoError(t, err, "trust %v", tc.trust)
		assert.Equal(t, tc.tier, tier, "trust %v", tc.trust)
	}
}

func TestClassifyMonotonic(t *testing.T) {
	prev := trust.TierExistenceOnly
	for i := 0; i <= 100; i++ {
		tier, err := trust.Classify(float64(i) / 100)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, int(tier), int(prev))
		prev = tier
	}
}

func TestClassifyRejectsOutOfRange(t *testing.T) {
	for _, v := range []float64{-0.01, 1.01, 2, -5} {
		_, err := trust.Classify(v)
		require.Error(t, err, "trust %v", v)
		assert.True(t, core.IsValidation(err))
	}
}

func TestIsSufficient(t *testing.T) {
	assert.True(t, trust.IsSufficient(0.5, 0.5))
	assert.True(t, trust.IsSufficient(0.5, 0.75))
	assert.False(t, trust.IsSufficient(0.5, 0.49))
}

func testRecord() *core.Record {
	return &core.Record{
		ID:          "m1",
		OwnerID:     "alice",
		Title:       "Dinner with the book club",
		Body:        "We met at Giulia's place on Via Roma. Discussed three chapters over pasta.",
		ContentType: "event",
		TrustScore:  0.5,
		Tags:        []string{"books", "food"},
		Location: &core.Location{
			Precise: "Via Roma 12, apartment 4",
			City:    "Florence",
		},
		Participants: []string{"alice", "giulia", "marco"},
		CreatedAt:    time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC),
	}
}

func TestRedactFullAccess(t *testing.T) {
	f := trust.Redact(testRecord(), trust.TierFullAccess)

	assert.True(t, f.Exists)
	assert.Equal(t, "full-access", f.Tier)
	assert.NotEmpty(t, f.Body)
	assert.Equal(t, "Via Roma 12, apartment 4", f.Precise)
	assert.Equal(t, "Florence", f.City)
	assert.Equal(t, []string{"alice", "giulia", "marco"}, f.Participants)
}

func TestRedactPartialAccess(t *testing.T) {
	f := trust.Redact(testRecord(), trust.TierPartialAccess)

	assert.NotEmpty(t, f.Body, "partial access keeps body text")
	assert.Empty(t, f.Precise, "precise location stripped")
	assert.Empty(t, f.Participants, "participant identities stripped")
	assert.Equal(t, "Florence", f.City)
}

func TestRedactSummaryOnly(t *testing.T) {
	f := trust.Redact(testRecord(), trust.TierSummaryOnly)

	assert.Empty(t, f.Body)
	assert.Equal(t, "We met at Giulia's place on Via Roma.", f.Summary)
	assert.Equal(t, "Florence", f.City, "coarse location survives")
	assert.Equal(t, "Dinner with the book club", f.Title)
}

func TestRedactMetadataOnly(t *testing.T) {
	f := trust.Redact(testRecord(), trust.TierMetadataOnly)

	assert.Empty(t, f.Body)
	assert.Empty(t, f.Summary)
	assert.Empty(t, f.City, "no location at metadata-only")
	assert.Equal(t, "Dinner with the book club", f.Title)
	assert.Equal(t, "event", f.ContentType)
	assert.Equal(t, []string{"books", "food"}, f.Tags)
}

func TestRedactExistenceOnly(t *testing.T) {
	f := trust.Redact(testRecord(), trust.TierExistenceOnly)

	assert.True(t, f.Exists)
	assert.Equal(t, "m1", f.ID)
	assert.Empty(t, f.Title)
	assert.Empty(t, f.Body)
	assert.Empty(t, f.Tags)
	assert.Empty(t, f.City)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "Short note.", trust.Summarize("Short note. With a second sentence."))
	assert.Equal(t, "", trust.Summarize("   "))

	long := "This opening sentence keeps going well past the length cap because somebody wrote a breathless run-on about everything that happened at the party without pausing once"
	s := trust.Summarize(long)
	assert.LessOrEqual(t, len(s), 140)
	assert.True(t, len(s) > 0)
}
