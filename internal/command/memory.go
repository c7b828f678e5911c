package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/nyx/internal/memory"
	"github.com/nidhogg/nyx/internal/rag"
)

// MemoryStore is the subset of the memory store the commands use.
type MemoryStore interface {
	Save(ctx context.Context, typ memory.Type, key, value string, opts ...memory.SaveOption) error
	Expire(ctx context.Context, typ memory.Type, key string) error
	Important(ctx context.Context, min, limit int) ([]memory.Record, error)
}

// MemorySearcher answers free-text memory queries.
type MemorySearcher interface {
	Search(ctx context.Context, query string, limit int) ([]rag.Hit, error)
}

const (
	memoryListLimit = 10
	commandSource   = "command"
)

// RegisterMemoryCommands registers /memories, /remember and /forget.
func RegisterMemoryCommands(reg *Registry, store MemoryStore, search MemorySearcher) {
	reg.Register(memoriesCommand(store, search))
	reg.Register(rememberCommand(store))
	reg.Register(forgetCommand(store))
}

func formatRecord(b *strings.Builder, r memory.Record) {
	fmt.Fprintf(b, "  [%s] %s: %s (importance %d)\n", r.Type, r.Key, r.Value, r.Importance)
}

func memoriesCommand(store MemoryStore, search MemorySearcher) *Command {
	return &Command{
		Name:        "memories",
		Description: "List important memories, or search them",
		Usage:       "/memories [query]",
		Handler: func(ctx context.Context, args string, _ *Context) (*Result, error) {
			var records []memory.Record
			if args == "" {
				important, err := store.Important(ctx, 1, memoryListLimit)
				if err != nil {
					return nil, err
				}
				records = important
			} else {
				hits, err := search.Search(ctx, args, memoryListLimit)
				if err != nil {
					return nil, err
				}
				for _, h := range hits {
					records = append(records, h.Record)
				}
			}
			if len(records) == 0 {
				return &Result{Content: "No memories found."}, nil
			}
			var b strings.Builder
			b.WriteString("Memories:\n")
			for _, r := range records {
				formatRecord(&b, r)
			}
			return &Result{Content: b.String(), Data: records}, nil
		},
	}
}

func rememberCommand(store MemoryStore) *Command {
	const usage = "Usage: /remember <type> <key> <value>"
	return &Command{
		Name:        "remember",
		Description: "Store a memory",
		Usage:       "/remember <type> <key> <value>",
		Handler: func(ctx context.Context, args string, _ *Context) (*Result, error) {
			parts := strings.SplitN(args, " ", 3)
			if len(parts) < 3 || strings.TrimSpace(parts[2]) == "" {
				return &Result{Content: usage}, nil
			}
			typ, err := memory.ParseType(parts[0])
			if err != nil {
				return &Result{Content: err.Error()}, nil
			}
			if err := store.Save(ctx, typ, parts[1], strings.TrimSpace(parts[2]), memory.WithSource(commandSource)); err != nil {
				return &Result{Content: fmt.Sprintf("Failed: %v", err)}, nil
			}
			return &Result{Content: fmt.Sprintf("Remembered %s/%s.", typ, parts[1])}, nil
		},
	}
}

func forgetCommand(store MemoryStore) *Command {
	const usage = "Usage: /forget <type> <key>"
	return &Command{
		Name:        "forget",
		Description: "Expire a memory",
		Usage:       "/forget <type> <key>",
		Handler: func(ctx context.Context, args string, _ *Context) (*Result, error) {
			parts := strings.Fields(args)
			if len(parts) != 2 {
				return &Result{Content: usage}, nil
			}
			typ, err := memory.ParseType(parts[0])
			if err != nil {
				return &Result{Content: err.Error()}, nil
			}
			if err := store.Expire(ctx, typ, parts[1]); err != nil {
				return &Result{Content: fmt.Sprintf("Failed: %v", err)}, nil
			}
			return &Result{Content: fmt.Sprintf("Forgot %s/%s.", typ, parts[1])}, nil
		},
	}
}
