package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	sessionID string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to a running Nyx server",
	Long:  "A terminal client for Nyx. With no subcommand it starts an interactive chat.",
	Run:   runREPL,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("NYX_SERVER", "http://localhost:8080"), "Nyx server URL")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "cli", "Conversation session id")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Per-request timeout")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show the conversation history",
		Run:   runHistory,
	}
	historyCmd.Flags().IntP("limit", "l", 20, "Max messages")
	historyCmd.Flags().Bool("clear", false, "Clear the history instead")

	memoriesCmd := &cobra.Command{
		Use:   "memories [query]",
		Short: "List or search memories",
		Args:  cobra.MaximumNArgs(1),
		Run:   runMemories,
	}
	memoriesCmd.Flags().StringP("type", "t", "", "Filter by memory type")
	memoriesCmd.Flags().Bool("important", false, "Only important memories")
	memoriesCmd.Flags().IntP("limit", "l", 10, "Max results")

	moodCmd := &cobra.Command{
		Use:   "mood",
		Short: "Show the current mood",
		Run:   runMood,
	}

	imageCmd := &cobra.Command{
		Use:   "image <description>",
		Short: "Generate a picture and wait for it",
		Args:  cobra.MinimumNArgs(1),
		Run:   runImage,
	}
	imageCmd.Flags().Duration("interval", 2*time.Second, "Poll interval")

	rootCmd.AddCommand(historyCmd, memoriesCmd, moodCmd, imageCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newAPI() *client {
	return newClient(strings.TrimRight(serverURL, "/"), sessionID, timeout)
}

func runREPL(cmd *cobra.Command, _ []string) {
	c := newAPI()
	fmt.Println("Nyx CLI Chat")
	fmt.Printf("Server: %s | Session: %s\n", serverURL, sessionID)
	fmt.Println("Type 'exit' or 'quit' to leave. Commands: /history, /mood, /memories [query], /image <desc>, /clear")
	fmt.Println("---")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return
		}

		ctx := cmd.Context()
		name, arg, _ := strings.Cut(input, " ")
		switch name {
		case "/history":
			printHistory(ctx, c, 20)
		case "/mood":
			printMood(ctx, c)
		case "/memories":
			printMemories(ctx, c, strings.TrimSpace(arg), "", false, 10)
		case "/image":
			generateImage(ctx, c, strings.TrimSpace(arg), 2*time.Second)
		case "/clear":
			if err := c.clearHistory(ctx); err != nil {
				printError("%v", err)
				continue
			}
			fmt.Println("Conversation cleared.")
		default:
			sendMessage(ctx, c, input)
		}
	}
}

func sendMessage(ctx context.Context, c *client, text string) {
	t, err := c.chat(ctx, text)
	if err != nil {
		printError("%v", err)
		return
	}
	if t.Status != "success" {
		printError("Error: %s", t.Error)
		return
	}
	for _, th := range t.Thoughts {
		fmt.Printf("\033[90m(%s)\033[0m\n", th)
	}
	fmt.Println(t.Reply)
	if t.Mood != "" {
		fmt.Printf("\033[35m[mood: %s]\033[0m\n", t.Mood)
	}
	for _, id := range t.ImageTasks {
		fmt.Printf("\033[36m[image task %s started]\033[0m\n", id)
	}
}

func runHistory(cmd *cobra.Command, _ []string) {
	c := newAPI()
	if wipe, _ := cmd.Flags().GetBool("clear"); wipe {
		if err := c.clearHistory(cmd.Context()); err != nil {
			exitErr("clear history", err)
		}
		fmt.Println("Conversation cleared.")
		return
	}
	limit, _ := cmd.Flags().GetInt("limit")
	printHistory(cmd.Context(), c, limit)
}

func printHistory(ctx context.Context, c *client, limit int) {
	msgs, err := c.history(ctx, limit)
	if err != nil {
		printError("%v", err)
		return
	}
	if len(msgs) == 0 {
		fmt.Println("No messages yet.")
		return
	}
	for _, m := range msgs {
		if m.Role == "system" {
			continue
		}
		fmt.Printf("\033[1m%s:\033[0m %s\n", m.Role, m.Content)
	}
}

func runMemories(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	important, _ := cmd.Flags().GetBool("important")
	limit, _ := cmd.Flags().GetInt("limit")
	query := ""
	if len(args) == 1 {
		query = args[0]
	}
	printMemories(cmd.Context(), newAPI(), query, typ, important, limit)
}

func printMemories(ctx context.Context, c *client, query, typ string, important bool, limit int) {
	if query != "" {
		mode, hits, err := c.search(ctx, query, limit)
		if err != nil {
			printError("%v", err)
			return
		}
		if len(hits) == 0 {
			fmt.Println("No memories found.")
			return
		}
		fmt.Printf("Search mode: %s\n", mode)
		for _, h := range hits {
			fmt.Printf("  [%s] %s: %s (importance %d, score %.2f)\n",
				h.Record.Type, h.Record.Key, h.Record.Value, h.Record.Importance, h.Score)
		}
		return
	}

	records, err := c.memories(ctx, typ, important, limit)
	if err != nil {
		printError("%v", err)
		return
	}
	if len(records) == 0 {
		fmt.Println("No memories found.")
		return
	}
	for _, r := range records {
		fmt.Printf("  [%s] %s: %s (importance %d)\n", r.Type, r.Key, r.Value, r.Importance)
	}
}

func runMood(cmd *cobra.Command, _ []string) {
	printMood(cmd.Context(), newAPI())
}

func printMood(ctx context.Context, c *client) {
	m, err := c.mood(ctx)
	if err != nil {
		printError("%v", err)
		return
	}
	fmt.Printf("Current mood: %s\n", m)
}

func runImage(cmd *cobra.Command, args []string) {
	interval, _ := cmd.Flags().GetDuration("interval")
	generateImage(cmd.Context(), newAPI(), strings.Join(args, " "), interval)
}

func generateImage(ctx context.Context, c *client, description string, interval time.Duration) {
	if description == "" {
		printError("Usage: /image <description>")
		return
	}
	id, err := c.launchImage(ctx, description)
	if err != nil {
		printError("%v", err)
		return
	}
	fmt.Printf("Task %s started\n", id)

	st, err := c.waitImage(ctx, id, interval, func(s *imageStatus) {
		line := s.Status
		if s.Log != "" {
			line += ": " + s.Log
		}
		fmt.Printf("  %s\n", line)
	})
	if err != nil {
		printError("%v", err)
		return
	}
	if st.Status == "error" {
		printError("Image failed: %s", st.Error)
		return
	}
	if st.Result != nil {
		fmt.Printf("\033[32m%s\033[0m\n", st.Result.ImageURL)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
