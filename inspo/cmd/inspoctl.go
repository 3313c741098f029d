// Command-line companion for the inspo chat server. It talks to the database directly.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"inspo/inspo/app"
	"inspo/inspo/config"
	"inspo/inspo/sources/psql"
	"inspo/inspo/sources/psql/models"
	"inspo/inspo/utils/logging"
	"inspo/inspo/utils/types"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg         config.Config
	projectID   int64
	limit       int
	fromArchive bool

	you       = color.New(color.FgGreen, color.Bold).SprintFunc()
	assistant = color.New(color.FgCyan, color.Bold).SprintFunc()
	system    = color.New(color.FgYellow).SprintFunc()
	faint     = color.New(color.Faint).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:           "inspoctl",
	Short:         "Inspect and drive project chat sessions",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.LoadConfig(); err != nil {
			return err
		}
		return logging.InitLogger(cfg.Log.Dir, false)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the chat tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := psql.NewDatabase(cmd.Context(), cfg.DB)
		if err != nil {
			return err
		}
		db.Close()
		fmt.Println("migrations applied")
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List the chat sessions of a project, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			summaries, err := a.Chat.ListSessions(ctx, projectID, limit)
			if err != nil {
				return err
			}
			for _, s := range summaries {
				state := ""
				if s.ArchivedAt != "" {
					state = faint(" (archived)")
				}
				fmt.Printf("%s  %s%s\n    %d messages, last activity %s\n", s.SessionID, s.Title, state, s.MessageCount, s.LastActivity)
				if s.LastMessage != "" {
					fmt.Printf("    %s: %s\n", s.LastMessageRole, s.LastMessage)
				}
			}
			return nil
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export SESSION_ID",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session id %q", args[0])
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			if fromArchive {
				return printArchived(ctx, a, id)
			}
			text, err := a.Chat.Export(ctx, id)
			if err != nil {
				return err
			}
			fmt.Print(text)
			return nil
		})
	},
}

// printArchived prints the transcript uploaded when the session was archived.
func printArchived(ctx context.Context, a *app.App, id uuid.UUID) error {
	if a.Transcripts == nil {
		return fmt.Errorf("transcript storage is not configured")
	}
	session, err := a.Chat.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if session.ArchiveKey == "" {
		return fmt.Errorf("session %s has no archived transcript", id)
	}
	text, err := a.Transcripts.GetTranscript(ctx, session.ArchiveKey)
	if err != nil {
		return err
	}
	fmt.Print(text)
	return nil
}

var archiveCmd = &cobra.Command{
	Use:   "archive SESSION_ID",
	Short: "Archive a session so the next chat starts a new one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session id %q", args[0])
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			session, err := a.Chat.Archive(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("archived %s", session.ID)
			if session.ArchiveKey != "" {
				fmt.Printf(" -> %s", session.ArchiveKey)
			}
			fmt.Println()
			return nil
		})
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant in a project's current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), runChat)
	},
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.LLM.Timeout*2)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logging.ErrorLogger.Error("pending replies abandoned", zap.Error(err))
		}
	}()
	return fn(ctx, a)
}

// printer receives live events for the REPL. Our own messages are already on screen.
type printer struct {
	events chan types.Event
	done   chan struct{}
	once   sync.Once
}

func (p *printer) ID() string { return "inspoctl" }

func (p *printer) Deliver(ev types.Event) bool {
	select {
	case p.events <- ev:
		return true
	default:
		return false
	}
}

func (p *printer) Close() {
	p.once.Do(func() { close(p.done) })
}

func printMessage(msg *models.ChatMessage) {
	switch msg.Role {
	case types.RoleUser:
		fmt.Printf("%s %s\n", you("You:"), msg.Content)
	case types.RoleAssistant:
		fmt.Printf("%s %s\n", assistant("Assistant:"), msg.Content)
	default:
		fmt.Println(system(msg.Content))
	}
}

func runChat(ctx context.Context, a *app.App) error {
	session, err := a.Chat.OpenSession(ctx, projectID)
	if err != nil {
		return err
	}

	p := &printer{events: make(chan types.Event, 64), done: make(chan struct{})}
	history, err := a.Chat.Subscribe(ctx, session.ID, p, 0)
	if err != nil {
		return err
	}
	defer a.Chat.Unsubscribe(p)

	fmt.Printf("%s %s\n\n", assistant(session.Title), faint(session.ID.String()))
	var lastSeq int64
	for i := range history {
		printMessage(&history[i])
		lastSeq = history[i].Seq
	}
	fmt.Println(faint("Type your message and press Enter. Type 'exit' to quit."))

	go func() {
		for {
			select {
			case <-p.done:
				return
			case ev := <-p.events:
				switch ev.Type {
				case types.EventMessage:
					msg, ok := ev.Data.(*models.ChatMessage)
					if !ok || msg.Seq <= lastSeq || msg.Role == types.RoleUser {
						continue
					}
					lastSeq = msg.Seq
					printMessage(msg)
				case types.EventReply:
					if st, ok := ev.Data.(types.SessionState); ok && st.State == types.ReplyAwaiting {
						fmt.Println(faint("thinking..."))
					}
				}
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "exit" || line == "quit" {
			break
		}
		if line == "" {
			continue
		}
		if _, err := a.Chat.Send(ctx, session.ID, types.RoleUser, line); err != nil {
			fmt.Fprintln(os.Stderr, system(err.Error()))
		}
		if ctx.Err() != nil {
			break
		}
	}
	p.Close()
	return scanner.Err()
}

func init() {
	sessionsCmd.Flags().Int64Var(&projectID, "project", 0, "project id")
	sessionsCmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list")
	_ = sessionsCmd.MarkFlagRequired("project")

	exportCmd.Flags().BoolVar(&fromArchive, "archived", false, "print the transcript stored at archive time")

	chatCmd.Flags().Int64Var(&projectID, "project", 0, "project id")
	_ = chatCmd.MarkFlagRequired("project")

	rootCmd.AddCommand(migrateCmd, sessionsCmd, exportCmd, archiveCmd, chatCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
