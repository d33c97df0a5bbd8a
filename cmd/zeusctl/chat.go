package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/flow23flow23/artistrm-360-sub002/internal/assistant"
	"github.com/flow23flow23/artistrm-360-sub002/internal/bootstrap"
	"github.com/flow23flow23/artistrm-360-sub002/internal/domain"
	"github.com/flow23flow23/artistrm-360-sub002/internal/speech"
	"github.com/flow23flow23/artistrm-360-sub002/internal/store"
	"github.com/spf13/cobra"
)

var (
	chatUser    string
	chatPerWord time.Duration
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant from a terminal",
	Long: `Open an assistant dialog on the terminal.

Each line is submitted as a message. Replies are "spoken" to stdout.
The user's latest session is resumed.

Commands:
  /new    start a new conversation
  /mute   toggle speech output
  /mic    toggle the microphone (not available on a terminal)
  /quit   close the dialog

Examples:
  zeusctl chat
  echo "¿cómo van mis estadísticas?" | zeusctl chat --user artist_demo`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatUser, "user", "u", "artist_cli", "artist id to chat as")
	chatCmd.Flags().DurationVar(&chatPerWord, "per-word", 120*time.Millisecond, "simulated speaking time per word")
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := bootstrap.OpenRepository(cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = repo.Close() }()

	llm, closeLLM, err := bootstrap.NewInferenceClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("inference client: %w", err)
	}
	defer closeLLM()

	messages, err := assistant.DefaultMessages(cfg.DefaultLanguage)
	if err != nil {
		return err
	}

	convLog, err := assistant.NewConversationLogger(assistant.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("conversation logger: %w", err)
	}
	defer func() { _ = convLog.Close() }()

	if err := ensureUser(ctx, repo, chatUser); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printer := newTranscriptPrinter(out)
	orch, err := assistant.New(assistant.Config{
		Store:           repo,
		Inference:       llm,
		Capture:         speech.NoCapture{},
		Sink:            speech.NewConsoleSink(out, chatPerWord),
		Messages:        messages,
		Log:             convLog,
		Logger:          logger,
		Observer:        printer.observe,
		DefaultLanguage: cfg.DefaultLanguage,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(shutdownCtx)
	}()

	if err := orch.Open(ctx, assistant.OpenRequest{
		UserID:    chatUser,
		Origin:    domain.OriginCLI,
		ClientIP:  "127.0.0.1",
		UserAgent: "zeusctl",
	}); err != nil {
		return fmt.Errorf("open dialog: %w", err)
	}
	fmt.Fprintln(out, "Type a message. Commands: /new /mute /mic /quit")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return orch.Close(context.Background())
		case line, ok := <-lines:
			if !ok {
				// Input ended; let the last reply finish before closing.
				waitSettled(ctx, orch, cfg.Inference.Timeout+5*time.Second)
				return orch.Close(ctx)
			}
			quit, err := handleLine(ctx, orch, line)
			if err != nil {
				return err
			}
			if quit {
				return orch.Close(ctx)
			}
		}
	}
}

// handleLine applies one line of input. Rejected intents are reported to the
// user by the orchestrator's notices, so only unexpected errors surface.
func handleLine(ctx context.Context, orch *assistant.Orchestrator, line string) (quit bool, err error) {
	switch strings.TrimSpace(line) {
	case "":
		return false, nil
	case "/quit", "/exit":
		return true, nil
	case "/new":
		err = orch.NewConversation(ctx)
	case "/mute":
		err = orch.ToggleMute(ctx)
	case "/mic":
		err = orch.ToggleMic(ctx)
	default:
		err = orch.SubmitText(ctx, line)
	}
	if errors.Is(err, assistant.ErrBusy) || errors.Is(err, assistant.ErrValidation) || errors.Is(err, assistant.ErrCapability) {
		return false, nil
	}
	return false, err
}

func waitSettled(ctx context.Context, orch *assistant.Orchestrator, limit time.Duration) {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		st, err := orch.State(ctx)
		if err != nil {
			return
		}
		if st.Phase != assistant.PhaseAwaitingReply && st.Phase != assistant.PhaseSpeaking {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func ensureUser(ctx context.Context, users store.UserStore, userID string) error {
	user, err := users.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	now := time.Now().UTC()
	if user != nil {
		return users.UpdateLastSeen(ctx, userID, now)
	}
	return users.UpsertUser(ctx, &domain.User{
		UserID:      userID,
		DisplayName: userID,
		LastSeenAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// transcriptPrinter renders transcript updates as a running chat log. Each
// turn is printed again only when its status changes.
type transcriptPrinter struct {
	mu        sync.Mutex
	out       io.Writer
	sessionID string
	printed   map[string]domain.TurnStatus
}

func newTranscriptPrinter(out io.Writer) *transcriptPrinter {
	return &transcriptPrinter{out: out, printed: make(map[string]domain.TurnStatus)}
}

func (p *transcriptPrinter) observe(u assistant.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if u.SessionID != "" && u.SessionID != p.sessionID {
		p.sessionID = u.SessionID
		p.printed = make(map[string]domain.TurnStatus)
		fmt.Fprintf(p.out, "== session %s ==\n", u.SessionID)
	}

	switch u.Kind {
	case assistant.UpdateTranscript:
		for _, t := range u.Transcript {
			if prev, ok := p.printed[t.TurnID]; ok && prev == t.Status {
				continue
			}
			p.printed[t.TurnID] = t.Status
			p.printTurn(t)
		}
	case assistant.UpdateNotice:
		fmt.Fprintf(p.out, "! %s\n", u.Notice.Text)
	case assistant.UpdateState, assistant.UpdatePartial:
	}
}

func (p *transcriptPrinter) printTurn(t domain.Turn) {
	who := "zeus"
	if t.Role == domain.RoleUser {
		who = "you"
	}
	switch t.Status {
	case domain.TurnPending:
		fmt.Fprintf(p.out, "%s> %s\n", who, t.Content)
	case domain.TurnFailed:
		fmt.Fprintf(p.out, "%s> [failed] %s\n", who, t.Content)
	default:
		fmt.Fprintf(p.out, "%s> %s\n", who, t.Content)
	}
}
