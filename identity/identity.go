// Package identity derives storage-safe identifiers for shared-store entries.
//
// The external store wants a namespaced content hash, not the human-meaningful
// {ownerId, recordId} pair. Derivation is deterministic so retried publishes
// land on the same entry, and the logical pair is not recoverable from the
// derived value, so every record stored under a derived identifier must also
// persist the composite key as a plain searchable attribute.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/ghostmem/ghostmem/core"
)

// Separator joins ownerID and recordID in the composite key. Neither input
// may contain it.
const Separator = "."

// prefix namespaces derived identifiers in the shared store.
const prefix = "shared_"

// Derive computes the shared-store identifier for an owner's record. Same
// inputs always yield the same output; distinct inputs collide only with
// cryptographic-hash probability.
func Derive(ownerID, recordID string) (string, error) {
	if err := validate("owner_id", ownerID); err != nil {
		return "", err
	}
	if err := validate("record_id", recordID); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(ownerID + Separator + recordID))
	return prefix + hex.EncodeToString(sum[:]), nil
}

// CompositeKey returns the logical "{ownerId}.{recordId}" pairing. It is
// what gets persisted alongside a derived identifier so reverse lookup
// remains possible.
func CompositeKey(ownerID, recordID string) (string, error) {
	if err := validate("owner_id", ownerID); err != nil {
		return "", err
	}
	if err := validate("record_id", recordID); err != nil {
		return "", err
	}
	return ownerID + Separator + recordID, nil
}

// SplitCompositeKey is the inverse of CompositeKey. Record IDs may contain
// the separator only if the owner ID does not, so the split is on the first
// occurrence; Derive rejects separators in either input, keeping the pair
// unambiguous for keys this package produced.
func SplitCompositeKey(key string) (ownerID, recordID string, err error) {
	i := strings.Index(key, Separator)
	if i <= 0 || i == len(key)-1 {
		return "", "", &core.ValidationError{Field: "composite_key", Reason: "expected {ownerId}.{recordId}"}
	}
	return key[:i], key[i+1:], nil
}

func validate(field, v string) error {
	if v == "" {
		return &core.ValidationError{Field: field, Reason: "must not be empty"}
	}
	if strings.Contains(v, Separator) {
		return &core.ValidationError{Field: field, Reason: "must not contain " + Separator}
	}
	return nil
}
