// Package tracking provides pure transforms over the membership arrays a
// record carries (space publications and group publications).
//
// Every operation is idempotent, order-preserving and non-mutating: the
// input slice is never modified and a fresh slice is returned, so a
// transform can be computed ahead of a store write and discarded if the
// write fails.
package tracking

// Add returns members with id appended, or an equal-content copy if id is
// already present. Insertion order is preserved.
func Add(members []string, id string) []string {
	out := clone(members)
	if contains(out, id) {
		return out
	}
	return append(out, id)
}

// Remove returns members without id. Removing an absent member is a no-op,
// not an error.
func Remove(members []string, id string) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m != id {
			out = append(out, m)
		}
	}
	return out
}

// AddMany applies Add for each id in order.
func AddMany(members []string, ids ...string) []string {
	out := clone(members)
	for _, id := range ids {
		if !contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// RemoveMany applies Remove for each id.
func RemoveMany(members []string, ids ...string) []string {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	out := make([]string, 0, len(members))
	for _, m := range members {
		if _, gone := drop[m]; !gone {
			out = append(out, m)
		}
	}
	return out
}

// Contains reports membership.
func Contains(members []string, id string) bool {
	return contains(members, id)
}

func contains(members []string, id string) bool {
	for _, m := range members {
		if m == id {
			return true
		}
	}
	return false
}

func clone(members []string) []string {
	out := make([]string, len(members))
	copy(out, members)
	return out
}
