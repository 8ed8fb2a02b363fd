package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"github.com/veilworks/aoi/internal/agent"
	"github.com/veilworks/aoi/internal/archive"
	"github.com/veilworks/aoi/internal/config"
	"github.com/veilworks/aoi/internal/guard"
	"github.com/veilworks/aoi/internal/image"
	"github.com/veilworks/aoi/internal/intent"
	"github.com/veilworks/aoi/internal/model"
	"github.com/veilworks/aoi/internal/observer"
	"github.com/veilworks/aoi/internal/orchestrator"
	"github.com/veilworks/aoi/internal/outbox"
	"github.com/veilworks/aoi/internal/store"
	"github.com/veilworks/aoi/internal/teamchat"
	"github.com/veilworks/aoi/internal/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive assistant session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

type components struct {
	store    *store.Store
	session  *orchestrator.Session
	observer *observer.Observer
}

func buildComponents(cfg *config.Config) (*components, error) {
	lockTimeout, err := config.DurationOrDefault(cfg.Store.LockTimeout, config.DefaultStoreLockTimeout)
	if err != nil {
		return nil, fmt.Errorf("store lock timeout: %w", err)
	}
	lockRetry, err := config.DurationOrDefault(cfg.Store.LockRetry, config.DefaultStoreLockRetry)
	if err != nil {
		return nil, fmt.Errorf("store lock retry: %w", err)
	}

	st, err := store.Open(cfg.Store.Path,
		store.WithMaxConversationEntries(cfg.Store.MaxConversationEntries),
		store.WithInboxSize(cfg.Store.InboxSize),
		store.WithLockTimeout(lockTimeout),
		store.WithLockRetry(lockRetry))
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	router, err := model.NewRouter(cfg.Models)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("build model router: %w", err)
	}

	classifyModel := cfg.Models.Fallback
	if classifyModel == "" {
		classifyModel = cfg.Models.Default
	}

	intentTimeout, err := config.DurationOrDefault(cfg.Intent.Timeout, config.DefaultIntentTimeout)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("intent timeout: %w", err)
	}
	draftTimeout, err := config.DurationOrDefault(cfg.Workflow.DraftTimeout, config.DefaultWorkflowDraftTimeout)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("draft timeout: %w", err)
	}
	classifyTimeout, err := config.DurationOrDefault(cfg.Workflow.ClassifyTimeout, config.DefaultWorkflowClassifyTimeout)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("classify timeout: %w", err)
	}

	channels, err := workflow.LoadChannels(cfg.Workflow.Channels)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load channels: %w", err)
	}

	queue, err := outbox.NewFileQueue(cfg.Outbox.Path)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open outbox: %w", err)
	}

	var images image.Generator = image.NullGenerator{}
	for _, m := range cfg.Models.Registry {
		if m.Provider == "openai" && m.APIKey != "" {
			images = image.NewOpenAIGenerator(m.APIKey, "")
			break
		}
	}

	var gateway teamchat.Gateway
	if cfg.TeamChat.Provider == "slack" && cfg.TeamChat.BotToken != "" {
		gateway = teamchat.NewSlackGateway(cfg.TeamChat.BotToken)
	} else {
		gateway = teamchat.NewMockGateway(cfg.Session.UserName)
	}

	var archiver archive.Archiver
	if cfg.Archive.Enabled {
		archiver, err = archive.NewChromemArchiver(cfg.Archive.Path, cfg.Archive.Collection, router, cfg.Models.Embedding)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("open archive: %w", err)
		}
	}

	g := guard.New(st, guard.WithRecentLimit(cfg.Guard.RecentSubmissionLimit))

	session := orchestrator.NewSession(orchestrator.Deps{
		Store:      st,
		Classifier: intent.NewClassifier(router, classifyModel, cfg.Prompts.Router, intentTimeout),
		AgentDeps: agent.Deps{
			Router:          router,
			ChatModel:       cfg.Models.Default,
			ClassifyModel:   classifyModel,
			Store:           st,
			HistoryLimit:    cfg.Session.HistoryLimit,
			UserName:        cfg.Session.UserName,
			TeamChat:        gateway,
			TeamChatPrompt:  cfg.Prompts.TeamChatIntent,
			ClassifyTimeout: classifyTimeout,
		},
		Channels: channels,
		WorkflowDeps: workflow.Deps{
			Router:          router,
			DraftModel:      cfg.Models.Default,
			ClassifyModel:   classifyModel,
			Guard:           g,
			Queue:           queue,
			Images:          images,
			ReviewPrompt:    cfg.Prompts.ReviewIntent,
			ImagePrompt:     cfg.Prompts.ImageIntent,
			DraftTimeout:    draftTimeout,
			ClassifyTimeout: classifyTimeout,
			UserContext:     map[string]interface{}{"user_name": cfg.Session.UserName},
		},
		Archiver: archiver,
		Room:     "cli",
	})

	c := &components{store: st, session: session}

	if cfg.Observer.Enabled {
		c.observer = observer.New(st, cfg.Observer.Schedule)
		if err := c.observer.Start(); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("start observer: %w", err)
		}
	}

	return c, nil
}

func (c *components) shutdown(ctx context.Context) {
	if err := c.session.Close(ctx); err != nil {
		slog.Warn("session close failed", "error", err)
	}
	if c.observer != nil {
		c.observer.Stop()
	}
	if err := c.store.Close(); err != nil {
		slog.Warn("store close failed", "error", err)
	}
}

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	replyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	metaStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func runInteractive(ctx context.Context) error {
	c, err := buildComponents(cfg)
	if err != nil {
		return err
	}
	defer c.shutdown(ctx)

	fmt.Println(promptStyle.Render("aoi") + metaStyle.Render("  session "+c.session.ID()))
	fmt.Println(metaStyle.Render("Type /help for commands, /quit to end the session."))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(promptStyle.Render("you> "))
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := c.handleCommand(ctx, line); quit {
				return nil
			}
			continue
		}

		reply, err := c.session.HandleUtterance(ctx, line)
		if err != nil {
			slog.Debug("utterance failed", "error", err)
		}
		if reply != "" {
			fmt.Println(replyStyle.Render("aoi> ") + reply)
		}
		fmt.Println(metaStyle.Render(fmt.Sprintf("[mode: %s]", c.session.Mode())))
	}
}

// handleCommand runs a slash command. It returns true when the REPL
// should exit.
func (c *components) handleCommand(ctx context.Context, line string) bool {
	parts, err := shlex.Split(line)
	if err != nil {
		parts = strings.Fields(line)
	}
	if len(parts) == 0 {
		return false
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true

	case "/mode":
		fmt.Println(metaStyle.Render(fmt.Sprintf("mode: %s", c.session.Mode())))
		if stage := c.session.WorkflowStage(); stage != "" {
			fmt.Println(metaStyle.Render(fmt.Sprintf("workflow: %s", stage)))
		}

	case "/history":
		mode := string(c.session.Mode())
		limit := 10
		if len(parts) > 1 {
			mode = parts[1]
		}
		if len(parts) > 2 {
			if n, err := strconv.Atoi(parts[2]); err == nil {
				limit = n
			}
		}
		turns, err := c.store.GetConversationHistory(ctx, "conversation:"+mode, limit)
		if err != nil {
			fmt.Println(errStyle.Render("history unavailable: " + err.Error()))
			break
		}
		if len(turns) == 0 {
			fmt.Println(metaStyle.Render("no history for " + mode))
			break
		}
		// Newest first from the store; print oldest first.
		for i := len(turns) - 1; i >= 0; i-- {
			turn := turns[i]
			fmt.Printf("%s %s: %s\n",
				metaStyle.Render(turn.Timestamp.Format("15:04:05")),
				promptStyle.Render(string(turn.Role)),
				turn.Message)
		}

	case "/help":
		fmt.Println(metaStyle.Render(strings.Join([]string{
			"/mode              show current mode and workflow stage",
			"/history [mode] [n] show recent turns for a mode",
			"/quit              end the session and archive it",
		}, "\n")))

	default:
		fmt.Println(errStyle.Render("unknown command: " + parts[0]))
	}
	return false
}
