// Package trust maps numeric trust levels onto access tiers and applies the
// content redaction each tier prescribes.
package trust

import (
	"strings"
	"unicode"

	"github.com/ghostmem/ghostmem/core"
)

// Tier is one of five ordered bands of trust. Higher tiers see more of a
// record's content.
type Tier int

const (
	TierExistenceOnly Tier = iota
	TierMetadataOnly
	TierSummaryOnly
	TierPartialAccess
	TierFullAccess
)

// Inclusive lower bounds for each tier.
const (
	thresholdFull     = 1.0
	thresholdPartial  = 0.75
	thresholdSummary  = 0.5
	thresholdMetadata = 0.25
)

func (t Tier) String() string {
	switch t {
	case TierFullAccess:
		return "full-access"
	case TierPartialAccess:
		return "partial-access"
	case TierSummaryOnly:
		return "summary-only"
	case TierMetadataOnly:
		return "metadata-only"
	default:
		return "existence-only"
	}
}

// Classify maps a trust level in [0,1] to its tier. Values outside the range
// are a caller error, never silently clamped.
func Classify(trust float64) (Tier, error) {
	if trust < 0 || trust > 1 {
		return 0, &core.ValidationError{Field: "trust", Reason: "must be within [0,1]"}
	}
	switch {
	case trust >= thresholdFull:
		return TierFullAccess, nil
	case trust >= thresholdPartial:
		return TierPartialAccess, nil
	case trust >= thresholdSummary:
		return TierSummaryOnly, nil
	case trust >= thresholdMetadata:
		return TierMetadataOnly, nil
	default:
		return TierExistenceOnly, nil
	}
}

// IsSufficient reports whether an accessor's trust meets a record's minimum.
func IsSufficient(recordTrust, accessorTrust float64) bool {
	return accessorTrust >= recordTrust
}

// ValidateLevel rejects trust values outside [0,1].
func ValidateLevel(trust float64) error {
	if trust < 0 || trust > 1 {
		return &core.ValidationError{Field: "trust", Reason: "must be within [0,1]"}
	}
	return nil
}

// Redact produces the presentation view of a record for a tier, stripping
// fields progressively as the tier decreases:
//
//	full-access     everything
//	partial-access  no precise location, no participant identities
//	summary-only    body replaced by a derived summary, city-level location
//	metadata-only   title/type/tags only
//	existence-only  a stub confirming the record exists
func Redact(rec *core.Record, tier Tier) *core.FormattedRecord {
	out := &core.FormattedRecord{
		ID:     rec.ID,
		Tier:   tier.String(),
		Exists: true,
	}
	if tier >= TierMetadataOnly {
		out.Title = rec.Title
		out.ContentType = rec.ContentType
		out.Tags = append([]string(nil), rec.Tags...)
	}
	if tier >= TierSummaryOnly && rec.Location != nil {
		out.City = rec.Location.City
	}
	switch {
	case tier >= TierPartialAccess:
		out.Body = rec.Body
	case tier == TierSummaryOnly:
		out.Summary = Summarize(rec.Body)
	}
	if tier >= TierFullAccess {
		out.Participants = append([]string(nil), rec.Participants...)
		if rec.Location != nil {
			out.Precise = rec.Location.Precise
		}
	}
	return out
}

// summaryMaxLen caps derived summaries.
const summaryMaxLen = 140

// Summarize derives the short body summary used at the summary-only tier:
// the first sentence, truncated. Deterministic on purpose so redaction is
// reproducible.
func Summarize(body string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}
	if i := sentenceEnd(body); i > 0 {
		body = body[:i]
	}
	if len(body) > summaryMaxLen {
		body = strings.TrimRightFunc(body[:summaryMaxLen-3], unicode.IsSpace) + "..."
	}
	return body
}

func sentenceEnd(s string) int {
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			return i + 1
		}
		if r == '\n' {
			return i
		}
	}
	return 0
}
