package memory

import (
	"fmt"
	"strings"
)

// FormatLines renders records as "- TYPE: value" lines for prompt injection.
// Whitespace runs inside a value, line breaks included, become one space so
// every record stays on its own line.
func FormatLines(records []Record) string {
	if len(records) == 0 {
		return ""
	}
	var b strings.Builder
	for i, r := range records {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s", strings.ToUpper(string(r.Type)), strings.Join(strings.Fields(r.Value), " "))
	}
	return b.String()
}

// Active drops expired records from a List result.
func Active(records []Record) []Record {
	out := records[:0:0]
	for _, r := range records {
		if !r.IsExpired {
			out = append(out, r)
		}
	}
	return out
}
