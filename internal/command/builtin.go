package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/nyx/internal/mood"
)

// ---------------------------------------------------------------------------
// Interfaces the commands depend on.
// ---------------------------------------------------------------------------

// MoodReader reads the character's mood log.
type MoodReader interface {
	Current(ctx context.Context) string
	History(ctx context.Context, limit int) ([]mood.Entry, error)
}

// StatusProvider provides adapter connection status.
type StatusProvider interface {
	StatusAll() []AdapterStatus
}

// StatusFunc adapts a plain function to StatusProvider.
type StatusFunc func() []AdapterStatus

// StatusAll implements StatusProvider.
func (f StatusFunc) StatusAll() []AdapterStatus { return f() }

// AdapterStatus describes the connection state of a platform adapter.
type AdapterStatus struct {
	Platform  string
	Connected bool
	Details   string
}

// moodHistoryLines bounds the /mood listing.
const moodHistoryLines = 5

// ---------------------------------------------------------------------------
// RegisterBuiltins wires up the conversation commands.
// ---------------------------------------------------------------------------

// RegisterBuiltins registers /help, /reset, /mood and /status. status may be
// nil.
func RegisterBuiltins(reg *Registry, moods MoodReader, status StatusProvider) {
	reg.Register(helpCommand(reg))
	reg.Register(resetCommand())
	reg.Register(moodCommand(moods))
	if status != nil {
		reg.Register(statusCommand(status))
	}
}

// ---------------------------------------------------------------------------
// /help
// ---------------------------------------------------------------------------

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "List all available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *Context) (*Result, error) {
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range reg.List() {
				fmt.Fprintf(&b, "  /%s: %s\n", c.Name, c.Description)
				if c.Usage != "" {
					fmt.Fprintf(&b, "    Usage: %s\n", c.Usage)
				}
			}
			return &Result{Content: b.String()}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /reset
// ---------------------------------------------------------------------------

func resetCommand() *Command {
	return &Command{
		Name:        "reset",
		Description: "Forget this channel's conversation history",
		Usage:       "/reset",
		Handler: func(ctx context.Context, _ string, cc *Context) (*Result, error) {
			if cc == nil || cc.Session == nil {
				return &Result{Content: "No conversation to reset."}, nil
			}
			release := cc.Session.BeginTurn()
			defer release()
			cc.Session.Clear(ctx)
			return &Result{Content: "Conversation cleared."}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /mood
// ---------------------------------------------------------------------------

func moodCommand(moods MoodReader) *Command {
	return &Command{
		Name:        "mood",
		Description: "Show the current mood and recent changes",
		Usage:       "/mood",
		Handler: func(ctx context.Context, _ string, _ *Context) (*Result, error) {
			current := moods.Current(ctx)
			history, err := moods.History(ctx, moodHistoryLines)
			if err != nil {
				return nil, err
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Current mood: %s\n", current)
			if len(history) > 0 {
				b.WriteString("Recent:\n")
				for _, e := range history {
					fmt.Fprintf(&b, "  %s  %s\n", e.At.Format("2006-01-02 15:04"), e.Mood)
				}
			}
			return &Result{Content: b.String(), Data: current}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /status
// ---------------------------------------------------------------------------

func statusCommand(provider StatusProvider) *Command {
	return &Command{
		Name:        "status",
		Description: "Show adapter connection status",
		Usage:       "/status",
		Handler: func(_ context.Context, _ string, _ *Context) (*Result, error) {
			adapters := provider.StatusAll()
			if len(adapters) == 0 {
				return &Result{Content: "No adapters configured."}, nil
			}
			var b strings.Builder
			b.WriteString("Adapter status:\n")
			for _, a := range adapters {
				state := "disconnected"
				if a.Connected {
					state = "connected"
				}
				fmt.Fprintf(&b, "  %s: %s", a.Platform, state)
				if a.Details != "" {
					fmt.Fprintf(&b, " (%s)", a.Details)
				}
				b.WriteByte('\n')
			}
			return &Result{Content: b.String()}, nil
		},
	}
}
