package vss

import (
	"encoding/json"

	"golang.org/x/exp/slices"
)

// marshalIndent pretty-prints every wire frame, per spec.md §6: "the
// reference server emits pretty[-printed JSON]".
func marshalIndent(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// sortStrings gives SignalTree's depth-first traversal its alphabetical
// ordering guarantee (spec.md §4.2). Grounded on the corpus's own
// `golang.org/x/exp/slices` usage in connect/transfer_route_manager.go
// rather than reaching for sort.Strings.
func sortStrings(s []string) {
	slices.Sort(s)
}
