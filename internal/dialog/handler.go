package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/flow23flow23/artistrm-360-sub002/internal/assistant"
	"github.com/flow23flow23/artistrm-360-sub002/internal/domain"
	"github.com/flow23flow23/artistrm-360-sub002/internal/identity"
	"github.com/flow23flow23/artistrm-360-sub002/internal/inference"
	"github.com/flow23flow23/artistrm-360-sub002/internal/speech"
	"github.com/flow23flow23/artistrm-360-sub002/internal/store"
)

const (
	maxFrameSize      = 64 << 10
	outboundQueueSize = 128
	writeTimeout      = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

var (
	errConnClosed = errors.New("dialog connection closed")
	errQueueFull  = errors.New("dialog outbound queue full")
)

// Config wires the dialog handler.
type Config struct {
	Repo            store.Repository
	Inference       inference.Client
	Messages        *assistant.Messages
	Log             assistant.ConversationLogger
	Registry        *Registry
	RateLimiter     *RateLimiter
	AllowedOrigin   string
	IsDev           bool
	DefaultLanguage string
	Logger          *slog.Logger
}

// Handler serves GET /ws/assistant. Every connection hosts one orchestrator.
type Handler struct {
	cfg    Config
	logger *slog.Logger
}

// NewHandler creates a dialog handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	return &Handler{cfg: cfg, logger: cfg.Logger}
}

// conn is the WebSocket side of one dialog. Writes go through a single
// writer goroutine so the orchestrator never blocks on the network.
type conn struct {
	ws       *websocket.Conn
	out      chan []byte
	done     chan struct{}
	once     sync.Once
	userID   string
	dialogID string
	logger   *slog.Logger
}

func newConn(ws *websocket.Conn, userID, dialogID string, logger *slog.Logger) *conn {
	return &conn{
		ws:       ws,
		out:      make(chan []byte, outboundQueueSize),
		done:     make(chan struct{}),
		userID:   userID,
		dialogID: dialogID,
		logger:   logger,
	}
}

// SendCommand implements speech.Sender.
func (c *conn) SendCommand(cmd speech.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

func (c *conn) send(frame serverFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.logger.Warn("Failed to encode dialog frame", "type", frame.Type, "error", err)
		return
	}
	if err := c.enqueue(data); err != nil && !errors.Is(err, errConnClosed) {
		c.logger.Warn("Dropping dialog frame", "type", frame.Type, "user_id", c.userID, "error", err)
	}
}

func (c *conn) observe(u assistant.Update) {
	c.send(frameForUpdate(u))
}

func (c *conn) enqueue(data []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return errQueueFull
	}
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.out:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.ws.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.logger.Debug("WebSocket write error", "user_id", c.userID, "error", err)
				c.CloseWithReason("write failed")
				return
			}
		}
	}
}

// CloseWithReason implements Closer.
func (c *conn) CloseWithReason(reason string) {
	c.once.Do(func() {
		close(c.done)
		if err := c.ws.Close(websocket.StatusNormalClosure, reason); err != nil {
			c.logger.Debug("Failed to close websocket", "user_id", c.userID, "error", err)
		}
	})
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	dialogID := identity.DialogIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	h.logger.Info("Assistant dialog connection request", "user_id", userID, "dialog_id", dialogID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(maxFrameSize)

	logger := h.logger.With("user_id", userID, "dialog_id", dialogID)
	c := newConn(ws, userID, dialogID, logger)
	relay := speech.NewRelay(c, logger)

	orch, err := assistant.New(assistant.Config{
		Store:           h.cfg.Repo,
		Inference:       h.cfg.Inference,
		Capture:         relay,
		Sink:            relay,
		Messages:        h.cfg.Messages,
		Log:             h.cfg.Log,
		Logger:          logger,
		Observer:        c.observe,
		DefaultLanguage: h.cfg.DefaultLanguage,
	})
	if err != nil {
		logger.Error("Failed to create orchestrator", "error", err)
		_ = ws.Close(websocket.StatusInternalError, "assistant unavailable")
		return
	}

	go c.writeLoop()
	h.cfg.Registry.Register(userID, dialogID, c)

	defer func() {
		h.cfg.Registry.Unregister(userID, dialogID, c)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := orch.Shutdown(ctx); err != nil {
			logger.Warn("Orchestrator shutdown failed", "error", err)
		}
		c.CloseWithReason("dialog ended")
		logger.Info("Assistant dialog ended")
	}()

	session := &dialogSession{
		h:     h,
		c:     c,
		orch:  orch,
		relay: relay,
		open: assistant.OpenRequest{
			UserID:    userID,
			Origin:    domain.OriginWeb,
			ClientIP:  identity.IPFromRequest(r),
			UserAgent: r.UserAgent(),
		},
		logger: logger,
	}
	session.readLoop(r.Context())
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.cfg.AllowedOrigin == "*" {
		return true
	}
	if origin == h.cfg.AllowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.cfg.AllowedOrigin)
	return false
}

// dialogSession decodes client frames for one connection.
type dialogSession struct {
	h      *Handler
	c      *conn
	orch   *assistant.Orchestrator
	relay  *speech.Relay
	open   assistant.OpenRequest
	logger *slog.Logger
}

func (s *dialogSession) readLoop(ctx context.Context) {
	for {
		_, data, err := s.c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				s.logger.Debug("WebSocket closed by client")
			} else if ctx.Err() == nil {
				s.logger.Debug("WebSocket read error", "error", err)
			}
			return
		}

		var f clientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Warn("Ignoring malformed dialog frame", "error", err)
			continue
		}
		s.dispatch(ctx, f)
	}
}

func (s *dialogSession) dispatch(ctx context.Context, f clientFrame) {
	if ev, ok := captureEvent(f); ok {
		s.relay.DeliverCapture(ev)
		return
	}
	if ev, ok := playbackEvent(f); ok {
		s.relay.DeliverPlayback(ev)
		return
	}

	var err error
	switch f.Type {
	case frameOpen:
		err = s.orch.Open(ctx, s.open)
	case frameClose:
		err = s.orch.Close(ctx)
	case frameSubmit:
		err = s.submit(ctx, f.Text)
	case frameToggleMic:
		err = s.orch.ToggleMic(ctx)
	case frameToggleMute:
		err = s.orch.ToggleMute(ctx)
	case frameNewConversation:
		err = s.orch.NewConversation(ctx)
	case framePreferences:
		if f.Preferences == nil {
			err = assistant.ErrValidation
			break
		}
		err = s.orch.UpdatePreferences(ctx, *f.Preferences)
	case frameCapabilities:
		s.relay.SetCapabilities(f.Capture, f.Playback)
		s.logger.Debug("Client speech capabilities", "capture", f.Capture, "playback", f.Playback)
	case framePing:
		s.c.send(serverFrame{Type: framePong})
	default:
		s.logger.Debug("Ignoring unknown dialog frame", "type", f.Type)
	}

	if err != nil {
		s.logIntentError(f.Type, err)
	}
}

func (s *dialogSession) submit(ctx context.Context, text string) error {
	if s.h.cfg.RateLimiter != nil && !s.h.cfg.RateLimiter.Allow(s.open.UserID) {
		s.logger.Warn("Submit rate limited")
		s.notice(ctx, assistant.MsgRateLimited)
		return nil
	}
	if err := s.orch.SubmitText(ctx, text); err != nil {
		return err
	}

	go func() {
		updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.h.cfg.Repo.UpdateLastSeen(updateCtx, s.open.UserID, time.Now()); err != nil {
			s.logger.Warn("Failed to update last seen", "error", err)
		}
	}()
	return nil
}

func (s *dialogSession) notice(ctx context.Context, key assistant.MessageKey) {
	lang := s.h.cfg.DefaultLanguage
	if st, err := s.orch.State(ctx); err == nil && st.Preferences.Language != "" {
		lang = st.Preferences.Language
	}
	text := string(key)
	if s.h.cfg.Messages != nil {
		text = s.h.cfg.Messages.Get(lang, key)
	}
	s.c.send(serverFrame{Type: frameNotice, Notice: &assistant.Notice{Key: key, Text: text}})
}

func (s *dialogSession) logIntentError(frameType string, err error) {
	switch {
	case errors.Is(err, assistant.ErrValidation),
		errors.Is(err, assistant.ErrBusy),
		errors.Is(err, assistant.ErrNotOpen),
		errors.Is(err, context.Canceled):
		s.logger.Debug("Dialog intent rejected", "type", frameType, "error", err)
	default:
		s.logger.Warn("Dialog intent failed", "type", frameType, "error", err)
	}
}
