package prompt

import (
	"strings"

	"github.com/nidhogg/nyx/internal/conversation"
)

// Turn delimiters of the completion template.
const (
	StartOfTurn = "<start_of_turn>"
	EndOfTurn   = "<end_of_turn>"
)

// Render serializes messages into the completion prompt. A leading system
// message is emitted trimmed and followed by a blank line. Every other
// message becomes
//
//	<start_of_turn>{role}\n{content}\n<end_of_turn>\n
//
// with "assistant" written as "model". The prompt ends with an open model
// turn. Content is emitted as-is; windowing happens before rendering.
func Render(messages []conversation.Message) string {
	var b strings.Builder
	rest := messages
	if len(rest) > 0 && rest[0].Role == conversation.RoleSystem {
		b.WriteString(strings.TrimSpace(rest[0].Content))
		b.WriteString("\n\n")
		rest = rest[1:]
	}
	for _, m := range rest {
		role := string(m.Role)
		if m.Role == conversation.RoleAssistant {
			role = "model"
		}
		b.WriteString(StartOfTurn)
		b.WriteString(role)
		b.WriteByte('\n')
		b.WriteString(m.Content)
		b.WriteByte('\n')
		b.WriteString(EndOfTurn)
		b.WriteByte('\n')
	}
	b.WriteString(StartOfTurn)
	b.WriteString("model\n")
	return b.String()
}
