// Package cli implements the interactive terminal host for dbrheo: an
// input loop, slash-commands, and a renderer for client.Event, generalized
// from the teacher's cli/runner.go REPL loop from its agent-run commands
// to a single persistent conversational session against client.Client.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dbrheo/dbrheo/client"
	"github.com/dbrheo/dbrheo/config"
	"github.com/dbrheo/dbrheo/connection"
	"github.com/dbrheo/dbrheo/dbadapter"
	"github.com/dbrheo/dbrheo/llmservice"
	"github.com/dbrheo/dbrheo/scheduler"
	"github.com/dbrheo/dbrheo/storage"
	"github.com/dbrheo/dbrheo/tools"
	"github.com/dbrheo/dbrheo/types"
	"github.com/google/uuid"
)

// Options configures one interactive session.
type Options struct {
	Model   string
	DBURL   string
	Verbose bool
}

// ExitError carries the process exit code a Run invocation should use.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit code %d", e.Code) }

// Run starts the interactive REPL: reads lines from in, renders
// client.Events to out, and honors SIGINT as a user interrupt (exit 130).
// Returns nil for a clean /quit, or *ExitError for any other exit code.
func Run(ctx context.Context, in io.Reader, out io.Writer, opts Options) error {
	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(out, "config error: %v\n", err)
		return &ExitError{Code: 1}
	}
	if opts.Model != "" {
		cfg = overrideModel(cfg, opts.Model)
	}

	registry, err := tools.WithDefaults()
	if err != nil {
		fmt.Fprintf(out, "failed to build tool registry: %v\n", err)
		return &ExitError{Code: 1}
	}
	conns := connection.New()
	registry.Register(tools.NewSchemaTool(conns, nil), nil, 0, nil)
	registry.Register(tools.NewSQLTool(conns, nil), nil, 0, nil)

	// Large query results get stashed in a session-scoped ResultStore so the
	// model can page through them (search_stored/get_lines/list_stored)
	// instead of having the whole result set replayed into every turn.
	contentDB, err := storage.NewSqliteInMemory()
	if err != nil {
		fmt.Fprintf(out, "failed to initialize result store: %v\n", err)
		return &ExitError{Code: 1}
	}
	resultStore, err := storage.NewResultStore(contentDB)
	if err != nil {
		fmt.Fprintf(out, "failed to initialize result store: %v\n", err)
		return &ExitError{Code: 1}
	}
	sessionID := uuid.NewString()
	fileCtx := tools.NewStoredFileContext()
	registry.Register(tools.NewSearchStoredTool(resultStore, sessionID, fileCtx), nil, 0, nil)
	registry.Register(tools.NewGetLinesTool(resultStore, sessionID, fileCtx), nil, 0, nil)
	registry.Register(tools.NewListStoredTool(resultStore, sessionID, fileCtx), nil, 0, nil)

	if opts.DBURL != "" {
		if err := openDatabase(ctx, conns, opts.DBURL); err != nil {
			fmt.Fprintf(out, "failed to open database: %v\n", err)
			return &ExitError{Code: 1}
		}
	}

	factory := llmservice.NewFactory(cfg)
	provider, known, err := factory.Build(cfg.Model())
	if err != nil {
		fmt.Fprintf(out, "failed to initialize LLM provider: %v\n", err)
		return &ExitError{Code: 1}
	}
	if !known {
		fmt.Fprintf(out, "[warn] unknown model %q; falling back to the Gemini provider\n", cfg.Model())
	}

	confirm := terminalConfirm(in, out)
	c := client.New(registry, scheduler.ConfirmFunc(confirm), provider, cfg, 200000)

	convStore, convSessionID, err := openConversationStore()
	if err != nil && opts.Verbose {
		fmt.Fprintf(out, "[warn] conversation history will not persist: %v\n", err)
	}
	if convStore != nil {
		if prior, err := convStore.Load(ctx, convSessionID); err == nil && len(prior) > 0 {
			c.SetHistory(prior)
			fmt.Fprintf(out, "resumed session %s (%d prior messages)\n", convSessionID, len(prior))
		}
		defer saveConversation(ctx, convStore, convSessionID, c)
	}

	abortCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "dbrheo — conversational database agent. Type /help for commands.")

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			switch handleSlashCommand(out, line, registry, conns, &cfg, convStore, convSessionID) {
			case commandQuit:
				return nil
			case commandHandled:
				continue
			case commandUnknown:
				continue
			}
		}

		abort := types.NewAbortSignal(abortCtx)
		events := make(chan client.Event, 32)
		done := make(chan struct{})
		go func() {
			defer close(done)
			renderEvents(out, events)
		}()

		userContent := types.TextContent(types.RoleUser, line)
		err := c.SendMessageStream(abortCtx, userContent, abort, events)
		close(events)
		<-done

		if convStore != nil {
			saveConversation(ctx, convStore, convSessionID, c)
			recordEpisodicMemory(ctx, convStore, convSessionID, line, c.History())
		}

		if abortCtx.Err() != nil {
			return &ExitError{Code: 130}
		}
		if err != nil && opts.Verbose {
			fmt.Fprintf(out, "[error] %v\n", err)
		}
	}
	return nil
}

type commandResult int

const (
	commandHandled commandResult = iota
	commandQuit
	commandUnknown
)

func handleSlashCommand(out io.Writer, line string, registry *tools.Registry, conns *connection.Manager, cfg **config.Config, convStore *storage.SqliteStorage, convSessionID string) commandResult {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/help":
		fmt.Fprintln(out, "/help            show this message")
		fmt.Fprintln(out, "/model <name>    set the model in the session config (the running provider is not rebuilt)")
		fmt.Fprintln(out, "/database <url>  open or switch the active database connection")
		fmt.Fprintln(out, "/memories        show recent episodic memories for this session")
		fmt.Fprintln(out, "/quit            exit")
		return commandHandled
	case "/memories":
		printRecentMemories(out, convStore, convSessionID)
		return commandHandled
	case "/model":
		if len(fields) < 2 {
			fmt.Fprintln(out, "usage: /model <name>")
			return commandHandled
		}
		*cfg = overrideModel(*cfg, fields[1])
		fmt.Fprintf(out, "model set to %s\n", fields[1])
		return commandHandled
	case "/database":
		if len(fields) < 2 {
			fmt.Fprintln(out, "usage: /database <connection-url>")
			return commandHandled
		}
		if err := openDatabase(context.Background(), conns, fields[1]); err != nil {
			fmt.Fprintf(out, "failed to open database: %v\n", err)
			return commandHandled
		}
		fmt.Fprintln(out, "database connection opened")
		return commandHandled
	case "/quit":
		return commandQuit
	default:
		fmt.Fprintf(out, "unknown command %q (try /help)\n", fields[0])
		return commandUnknown
	}
}

func openDatabase(ctx context.Context, conns *connection.Manager, rawURL string) error {
	dialect, dsn, err := dbadapter.ParseConnectionString(rawURL)
	if err != nil {
		return err
	}
	_, err = conns.Open(ctx, "default", dbadapter.DatabaseConfig{URL: dsn, Dialect: dialect}, true)
	return err
}

// overrideModel returns a freshly loaded config with the model overridden.
// config.Config has no in-place mutation for a single key outside Save, so
// it sets DBRHEO_MODEL in the process environment and reloads the config,
// letting the env layer take precedence; nothing is persisted. If the
// reload fails, cfg is returned unchanged.
func overrideModel(cfg *config.Config, model string) *config.Config {
	os.Setenv("DBRHEO_MODEL", model)
	fresh, err := config.New()
	if err != nil {
		return cfg
	}
	return fresh
}

// openConversationStore opens (creating if needed) the persistent session
// database at ~/.dbrheo/sessions.db and picks a stable session ID so a
// restarted host resumes the same conversation rather than starting fresh
// each time.
func openConversationStore() (*storage.SqliteStorage, string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, "", err
	}
	path := filepath.Join(home, ".dbrheo", "sessions.db")
	store, err := storage.OpenSqlite(path)
	if err != nil {
		return nil, "", err
	}
	return store, "default", nil
}

func saveConversation(ctx context.Context, store *storage.SqliteStorage, sessionID string, c *client.Client) {
	_ = store.Save(ctx, sessionID, c.History())
}

// recordEpisodicMemory stores a short record of one completed turn — the
// user's request and the model's final reply — so a later session can
// recall what was asked and answered without replaying the full history.
func recordEpisodicMemory(ctx context.Context, store *storage.SqliteStorage, sessionID, userLine string, history types.History) {
	reply := lastModelText(history)
	content := "Q: " + userLine
	if reply != "" {
		content += "\nA: " + reply
	}
	entry := storage.NewMemoryEntry(sessionID, storage.MemoryEpisodic, content)
	_ = store.StoreMemory(ctx, entry)
}

func lastModelText(history types.History) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == types.RoleModel {
			if t := history[i].Text(); t != "" {
				return t
			}
		}
	}
	return ""
}

// printRecentMemories shows the episodic record of recent turns in this
// session, the way a supervisor would recall past executions.
func printRecentMemories(out io.Writer, store *storage.SqliteStorage, sessionID string) {
	if store == nil {
		fmt.Fprintln(out, "no memory store available")
		return
	}
	memories, err := store.GetRecentMemories(context.Background(), sessionID, 10)
	if err != nil {
		fmt.Fprintf(out, "failed to load memories: %v\n", err)
		return
	}
	if len(memories) == 0 {
		fmt.Fprintln(out, "no memories recorded yet")
		return
	}
	for _, m := range memories {
		fmt.Fprintf(out, "[%s] %s\n", m.Type, m.Content)
	}
}

// terminalConfirm builds a scheduler.ConfirmFunc that asks the user via
// stdin/stdout whether to approve a risk-gated call.
func terminalConfirm(in io.Reader, out io.Writer) scheduler.ConfirmFunc {
	scanner := bufio.NewScanner(in)
	return func(ctx context.Context, call *types.ToolCall, assessment types.RiskAssessment) (types.Confirmation, error) {
		fmt.Fprintf(out, "\n[confirm] %s wants to run %q (risk: %s)\n", call.ID, call.Name, assessment.Level)
		for _, reason := range assessment.Reasons {
			fmt.Fprintf(out, "  - %s\n", reason)
		}
		fmt.Fprint(out, "Approve? [y/N/a=always] ")
		if !scanner.Scan() {
			return types.Confirmation{Approved: false}, nil
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		switch answer {
		case "y", "yes":
			return types.Confirmation{Approved: true}, nil
		case "a", "always":
			return types.Confirmation{Approved: true, Remember: true}, nil
		default:
			return types.Confirmation{Approved: false}, nil
		}
	}
}
