package core

import (
	"time"
)

// AccessLevel distinguishes why access was granted.
type AccessLevel string

const (
	LevelOwner   AccessLevel = "owner"
	LevelTrusted AccessLevel = "trusted"
)

// AccessResult is the closed union of access-decision outcomes. Exactly one
// variant is produced per evaluation, every variant except Granted is a
// normal, expected outcome callers must branch on.
//
// The six variants are Granted, InsufficientTrust, Blocked, NoPermission,
// NotFound and Deleted. The sealed marker method keeps the set closed so a
// type switch over all six is exhaustive.
type AccessResult interface {
	accessResult()
}

// Granted means the accessor may see the record. Level records whether this
// was owner access (which bypasses all trust checks) or trusted access.
type Granted struct {
	Record *Record
	Level  AccessLevel
}

// InsufficientTrust means the accessor's effective trust is below the
// record's required trust. The failed attempt has already been counted;
// AttemptsRemaining says how many more failures until an automatic block.
type InsufficientTrust struct {
	RecordID          string
	RequiredTrust     float64
	ActualTrust       float64
	AttemptsRemaining int
}

// Blocked means the accessor is barred, either explicitly by the owner or
// automatically after repeated failures. BlockedAt is zero for owner blocks,
// which carry no timestamp.
type Blocked struct {
	RecordID  string
	Reason    string
	BlockedAt time.Time
}

// NoPermission means no trust relationship is configured between the owner
// and the accessor at all.
type NoPermission struct {
	OwnerID    string
	AccessorID string
}

// NotFound means no record exists under the requested identifier.
type NotFound struct {
	RecordID string
}

// Deleted means the record exists but has been soft-deleted.
type Deleted struct {
	RecordID  string
	DeletedAt time.Time
}

func (Granted) accessResult()           {}
func (InsufficientTrust) accessResult() {}
func (Blocked) accessResult()           {}
func (NoPermission) accessResult()      {}
func (NotFound) accessResult()          {}
func (Deleted) accessResult()           {}
