package core

import (
	"time"
)

// ContentTypeResidue marks cross-user conversational residue. Records with
// this content type are excluded from ordinary listings and search results
// unless explicitly requested.
const ContentTypeResidue = "conversation-residue"

// Location holds the where of a record at two granularities. Precise is
// stripped at lower trust tiers; City survives down to summary-only.
type Location struct {
	Precise string `json:"precise,omitempty"`
	City    string `json:"city,omitempty"`
}

// Record is an owner-scoped unit of memory content.
//
// TrustScore is the minimum trust an accessor needs to see the record at all.
// SpaceMemberships and GroupMemberships are insertion-ordered, deduplicated
// sets of collection identifiers the record has been published to; they are
// only ever modified through the tracking package so publish/retract stay
// idempotent.
type Record struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	Title        string     `json:"title,omitempty"`
	Body         string     `json:"body,omitempty"`
	ContentType  string     `json:"content_type,omitempty"`
	TrustScore   float64    `json:"trust_score"`
	Tags         []string   `json:"tags,omitempty"`
	Location     *Location  `json:"location,omitempty"`
	Participants []string   `json:"participants,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"` // soft-delete only

	SpaceMemberships []string `json:"space_memberships,omitempty"`
	GroupMemberships []string `json:"group_memberships,omitempty"`

	Embedding []float32 `json:"-"`
}

// Deleted reports whether the record has been soft-deleted.
func (r *Record) Deleted() bool {
	return r.DeletedAt != nil
}

// Clone returns a deep copy. Store implementations hand out clones so callers
// can mutate results without aliasing stored state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Tags = append([]string(nil), r.Tags...)
	out.Participants = append([]string(nil), r.Participants...)
	out.SpaceMemberships = append([]string(nil), r.SpaceMemberships...)
	out.GroupMemberships = append([]string(nil), r.GroupMemberships...)
	out.Embedding = append([]float32(nil), r.Embedding...)
	if r.Location != nil {
		loc := *r.Location
		out.Location = &loc
	}
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}

// WriteMode governs who may revise or overwrite a published record.
type WriteMode string

const (
	WriteOwnerOnly    WriteMode = "owner-only"
	WriteGroupEditors WriteMode = "group-editors"
	WriteAnyone       WriteMode = "anyone"
)

// ParseWriteMode validates a write-mode string. The empty string is accepted
// and means "not set" (callers fall back to owner-only for legacy records).
func ParseWriteMode(s string) (WriteMode, error) {
	switch WriteMode(s) {
	case "", WriteOwnerOnly, WriteGroupEditors, WriteAnyone:
		return WriteMode(s), nil
	}
	return "", &ValidationError{Field: "write_mode", Reason: "must be one of owner-only, group-editors, anyone"}
}

// PublishedRecord is the copy of a Record living in the shared store under a
// derived identifier. OwnerID is kept private and never surfaced to
// unauthenticated readers; AuthorID is the legacy owner field older entries
// carried before OwnerID existed.
type PublishedRecord struct {
	Record

	AuthorID      string     `json:"author_id,omitempty"`
	PublishedAt   time.Time  `json:"published_at"`
	RevisedAt     *time.Time `json:"revised_at,omitempty"`
	RevisionCount int        `json:"revision_count"`
	WriteMode     WriteMode  `json:"write_mode,omitempty"`

	// ModerationStatus nil means approved (backward compatibility with
	// entries written before moderation existed).
	ModerationStatus *string    `json:"moderation_status,omitempty"`
	ModeratedBy      string     `json:"moderated_by,omitempty"`
	ModeratedAt      *time.Time `json:"moderated_at,omitempty"`

	OverwriteAllowList []string `json:"overwrite_allow_list,omitempty"`
}

// Owner resolves the owning identity, falling back to the legacy AuthorID
// for entries that predate the OwnerID field.
func (p *PublishedRecord) Owner() string {
	if p.OwnerID != "" {
		return p.OwnerID
	}
	return p.AuthorID
}

// ClonePublished returns a deep copy of the published record.
func (p *PublishedRecord) ClonePublished() *PublishedRecord {
	if p == nil {
		return nil
	}
	out := *p
	out.Record = *p.Record.Clone()
	out.OverwriteAllowList = append([]string(nil), p.OverwriteAllowList...)
	if p.ModerationStatus != nil {
		s := *p.ModerationStatus
		out.ModerationStatus = &s
	}
	if p.RevisedAt != nil {
		t := *p.RevisedAt
		out.RevisedAt = &t
	}
	if p.ModeratedAt != nil {
		t := *p.ModeratedAt
		out.ModeratedAt = &t
	}
	return &out
}

// FormattedRecord is the redacted, presentation-ready view of a record after
// a trust tier has been applied. Which fields are populated depends on the
// tier; Exists is always true (existence-only strips everything else).
type FormattedRecord struct {
	ID           string   `json:"id"`
	Tier         string   `json:"tier"`
	Exists       bool     `json:"exists"`
	Title        string   `json:"title,omitempty"`
	ContentType  string   `json:"content_type,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Body         string   `json:"body,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	City         string   `json:"city,omitempty"`
	Precise      string   `json:"precise,omitempty"`
	Participants []string `json:"participants,omitempty"`
}
