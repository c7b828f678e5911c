package memory

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// StampedKey returns prefix_<ULID>. ULIDs encode the creation time in their
// leading characters and are monotonic within the process, so keys sharing a
// prefix sort chronologically.
func StampedKey(prefix string) string {
	return prefix + "_" + ulid.Make().String()
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
