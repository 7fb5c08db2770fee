package ghost

import (
	"context"

	"github.com/ghostmem/ghostmem/core"
	"github.com/ghostmem/ghostmem/tracking"
)

// GroupEditorChecker is the external collaborator that decides whether an
// accessor's group membership grants editor-equivalent permission in any of
// the given groups.
type GroupEditorChecker interface {
	IsEditor(ctx context.Context, accessorID string, groupIDs []string) (bool, error)
}

// StaticEditors is a fixed group -> editors table, the GroupEditorChecker
// for tests and single-node deployments.
type StaticEditors map[string][]string

func (e StaticEditors) IsEditor(ctx context.Context, accessorID string, groupIDs []string) (bool, error) {
	for _, g := range groupIDs {
		if tracking.Contains(e[g], accessorID) {
			return true, nil
		}
	}
	return false, nil
}

// CanRevise reports whether an accessor may revise a published record.
// Legacy entries missing a write mode fall back to owner-only, and entries
// missing OwnerID fall back to AuthorID for the ownership check. groups may
// be nil, which makes group-editors equivalent to owner-only.
func CanRevise(ctx context.Context, accessorID string, pub *core.PublishedRecord, groups GroupEditorChecker) (bool, error) {
	owner := pub.Owner()
	if accessorID == owner {
		return true, nil
	}
	mode := pub.WriteMode
	if mode == "" {
		mode = core.WriteOwnerOnly
	}
	switch mode {
	case core.WriteAnyone:
		return accessorID != "", nil
	case core.WriteGroupEditors:
		if groups == nil {
			return false, nil
		}
		return groups.IsEditor(ctx, accessorID, pub.GroupMemberships)
	default:
		return false, nil
	}
}

// CanOverwrite is CanRevise plus the explicit overwrite allow list, which
// grants access regardless of write mode.
func CanOverwrite(ctx context.Context, accessorID string, pub *core.PublishedRecord, groups GroupEditorChecker) (bool, error) {
	if tracking.Contains(pub.OverwriteAllowList, accessorID) {
		return true, nil
	}
	return CanRevise(ctx, accessorID, pub, groups)
}
