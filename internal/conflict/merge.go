package conflict

import "sort"

// Change is a non-conflicting update taken from the incoming side. An empty
// Blob removes the key.
type Change struct {
	Key  string
	Blob string
}

// ThreeWay classifies every key of base, ours and theirs. Maps go from key to
// content id; a missing key means absent on that side. Keys changed only on
// the incoming side become changes, keys changed differently on both sides
// become conflicts. Results are sorted by key.
func ThreeWay(base, ours, theirs map[string]string) (changes []Change, conflicts []string) {
	keys := make(map[string]struct{}, len(base)+len(ours)+len(theirs))
	for _, m := range []map[string]string{base, ours, theirs} {
		for k := range m {
			keys[k] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		b, o, t := base[k], ours[k], theirs[k]
		switch {
		case o == t:
		case o == b:
			changes = append(changes, Change{Key: k, Blob: t})
		case t == b:
		default:
			conflicts = append(conflicts, k)
		}
	}
	return changes, conflicts
}
