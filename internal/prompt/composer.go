package prompt

import (
	"strings"

	"github.com/nidhogg/nyx/internal/conversation"
	"github.com/nidhogg/nyx/internal/memory"
)

// Section markers in the system message. Each section starts after a blank
// line; everything before the first one is the persona base.
const (
	MoodMarker     = "CURRENT MOOD:"
	MemoriesMarker = "RELEVANT MEMORIES:"
)

var markers = []string{MoodMarker, MemoriesMarker}

// Compose returns history with its leading system message rebuilt as
// persona, then the mood section, then the memories section (only when
// memories is non-empty). With an empty persona the base text of the existing
// system message is kept. Sections are always regenerated from the base, so
// an earlier turn's sections never survive. history itself is not modified.
func Compose(persona, mood string, memories []memory.Record, history []conversation.Message) []conversation.Message {
	hasSystem := len(history) > 0 && history[0].Role == conversation.RoleSystem
	base := persona
	if base == "" && hasSystem {
		base = stripSections(history[0].Content)
	}

	content := base + "\n\n" + moodSection(mood)
	if len(memories) > 0 {
		content += "\n\n" + memoriesSection(memories)
	}
	sys := conversation.Message{Role: conversation.RoleSystem, Content: content}

	if hasSystem {
		out := make([]conversation.Message, len(history))
		copy(out, history)
		out[0] = sys
		return out
	}
	out := make([]conversation.Message, 0, len(history)+1)
	out = append(out, sys)
	return append(out, history...)
}

func moodSection(mood string) string {
	return MoodMarker + " You are currently feeling " + strings.Join(strings.Fields(mood), " ") + "."
}

// memoriesSection renders one line per record; memory.FormatLines folds
// line breaks inside values, so user text cannot open a new section.
func memoriesSection(memories []memory.Record) string {
	return MemoriesMarker + "\n" + memory.FormatLines(memories)
}

// stripSections returns the base text before the first section.
func stripSections(s string) string {
	cut := len(s)
	for _, m := range markers {
		if i := strings.Index(s, "\n\n"+m); i >= 0 && i < cut {
			cut = i
		}
	}
	return s[:cut]
}
