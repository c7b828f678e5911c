package memory

import (
	"sort"
	"strings"
)

// wordSet splits text on whitespace into a set of lower-cased tokens.
// Punctuation stays attached to its word.
func wordSet(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// overlap counts the tokens present in both sets.
func overlap(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}

func recordText(r Record) string {
	return r.Key + " " + r.Value
}

type scored struct {
	rec   Record
	score float64
}

// rank orders by score, then importance, then recency, all descending.
func rank(items []scored) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.rec.Importance != b.rec.Importance {
			return a.rec.Importance > b.rec.Importance
		}
		return a.rec.UpdatedAt.After(b.rec.UpdatedAt)
	})
}
