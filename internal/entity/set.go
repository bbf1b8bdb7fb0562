package entity

import "slices"

// IDSet helpers keep slices of ids in arrival order with set semantics.

func addID(s *[]string, id string) bool {
	if slices.Contains(*s, id) {
		return false
	}
	*s = append(*s, id)
	return true
}

func removeID(s *[]string, id string) bool {
	i := slices.Index(*s, id)
	if i < 0 {
		return false
	}
	*s = slices.Delete(*s, i, i+1)
	return true
}

// SameSet reports whether a and b hold the same ids regardless of order.
func SameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, v := range a {
		seen[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := seen[v]; !ok {
			return false
		}
	}
	return len(seen) == len(a)
}

// Dedup drops repeated ids, keeping first occurrences.
func Dedup(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
