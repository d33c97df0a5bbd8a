package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/flow23flow23/artistrm-360-sub002/internal/domain"
	"github.com/flow23flow23/artistrm-360-sub002/internal/inference"
	"github.com/flow23flow23/artistrm-360-sub002/internal/speech"
	"github.com/flow23flow23/artistrm-360-sub002/internal/store"
	"github.com/google/uuid"
)

// Store is the persistence the orchestrator needs.
type Store interface {
	store.SessionStore
	store.PreferenceStore
	store.TranscriptStore
}

// submitLocks serializes the read-check-append of a submission per session,
// across every dialog in the process.
var submitLocks sync.Map

func lockSession(sessionID string) (unlock func()) {
	v, _ := submitLocks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Config wires an Orchestrator. Store and Inference are required.
type Config struct {
	Store     Store
	Inference inference.Client
	Capture   speech.Capture
	Sink      speech.Sink
	Messages  *Messages
	Log       ConversationLogger
	Logger    *slog.Logger
	Observer  Observer

	DefaultLanguage string
	StoreTimeout    time.Duration
	Clock           func() time.Time
	NewID           func() string

	// PendingStaleAfter is the age after which a stored pending turn no
	// longer counts as an in-flight request. It must exceed the inference
	// timeout.
	PendingStaleAfter time.Duration
}

// Orchestrator owns one dialog instance. All state is confined to a single
// event-loop goroutine; intents, store snapshots, inference replies and
// speech signals are funneled into it as closures.
type Orchestrator struct {
	store    Store
	client   inference.Client
	capture  speech.Capture
	sink     speech.Sink
	messages *Messages
	convLog  ConversationLogger
	logger   *slog.Logger
	observer Observer

	defaultLang  string
	storeTimeout time.Duration
	staleAfter   time.Duration
	clock        func() time.Time
	newID        func() string

	events   chan func()
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	// Loop-owned state below.
	open             bool
	req              OpenRequest
	phase            Phase
	micEnabled       bool
	muted            bool
	sessionID        string
	sessionCreated   time.Time
	prefs            domain.UserPreferences
	turns            []domain.Turn
	pendingRequestID string
	pendingTurnID    string
	cancelInference  context.CancelFunc
	captureHandle    speech.Handle
	playbackHandle   speech.Handle
	unsubscribe      func()
	subscription     uint64
	capabilityNoted  bool
	lastTimestamp    time.Time
}

// New creates an orchestrator and starts its event loop.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("assistant: store is required")
	}
	if cfg.Inference == nil {
		return nil, errors.New("assistant: inference client is required")
	}
	if cfg.Capture == nil {
		cfg.Capture = speech.NoCapture{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Log == nil {
		cfg.Log = noopConversationLogger{}
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "es-ES"
	}
	if cfg.Messages == nil {
		msgs, err := DefaultMessages(cfg.DefaultLanguage)
		if err != nil {
			return nil, err
		}
		cfg.Messages = msgs
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.PendingStaleAfter <= 0 {
		cfg.PendingStaleAfter = defaultPendingStaleAfter
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Observer == nil {
		cfg.Observer = func(Update) {}
	}

	o := &Orchestrator{
		store:        cfg.Store,
		client:       cfg.Inference,
		capture:      cfg.Capture,
		sink:         cfg.Sink,
		messages:     cfg.Messages,
		convLog:      cfg.Log,
		logger:       cfg.Logger,
		observer:     cfg.Observer,
		defaultLang:  cfg.DefaultLanguage,
		storeTimeout: cfg.StoreTimeout,
		staleAfter:   cfg.PendingStaleAfter,
		clock:        cfg.Clock,
		newID:        cfg.NewID,
		events:       make(chan func(), defaultQueueSize),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		phase:        PhaseIdle,
	}
	go o.loop()
	return o, nil
}

func (o *Orchestrator) loop() {
	defer close(o.stopped)
	for {
		select {
		case fn := <-o.events:
			fn()
		case <-o.done:
			return
		}
	}
}

// post schedules fn on the loop. It is used by callbacks and never waits for
// fn to run.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.events <- fn:
	case <-o.done:
	}
}

// do runs fn on the loop and waits for its result.
func (o *Orchestrator) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	select {
	case o.events <- func() { result <- fn() }:
	case <-o.done:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-o.stopped:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown closes the dialog and stops the event loop.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	err := o.Close(ctx)
	if errors.Is(err, ErrShutdown) {
		err = nil
	}
	o.stopOnce.Do(func() { close(o.done) })
	select {
	case <-o.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// Open loads preferences, resumes or creates the user's session and
// subscribes to its transcript. Opening an open dialog re-emits its state.
func (o *Orchestrator) Open(ctx context.Context, req OpenRequest) error {
	return o.do(ctx, func() error {
		if strings.TrimSpace(req.UserID) == "" {
			return fmt.Errorf("%w: user id is required", ErrValidation)
		}
		if o.open && o.req.UserID == req.UserID {
			o.emitState()
			o.emitTranscript()
			return nil
		}
		if o.open {
			o.closeLocked()
		}
		return o.openLocked(req)
	})
}

func (o *Orchestrator) openLocked(req OpenRequest) error {
	ctx, cancel := o.storeContext()
	defer cancel()

	prefs, err := o.store.GetPreferences(ctx, req.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		p := domain.DefaultPreferences(req.UserID, o.defaultLang)
		prefs = &p
	case err != nil:
		return fmt.Errorf("load preferences: %w", err)
	}

	session, err := o.store.LatestSession(ctx, req.UserID)
	resumed := err == nil
	switch {
	case errors.Is(err, store.ErrNotFound):
		session, err = o.createSession(ctx, req)
		if err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("load session: %w", err)
	}

	o.req = req
	o.prefs = prefs.Normalize(o.defaultLang)
	if resumed {
		o.recoverResumedSession(ctx, session.SessionID)
	}
	o.open = true
	o.phase = PhaseIdle
	if err := o.attachSession(session); err != nil {
		o.open = false
		return err
	}

	o.logger.Info("Assistant dialog opened",
		"user_id", req.UserID,
		"session_id", o.sessionID,
		"origin", req.Origin,
	)
	o.emitState()
	return nil
}

func (o *Orchestrator) createSession(ctx context.Context, req OpenRequest) (*domain.Session, error) {
	session := &domain.Session{
		SessionID: o.newID(),
		UserID:    req.UserID,
		CreatedAt: o.now(),
		Origin:    req.Origin,
		ClientIP:  req.ClientIP,
		UserAgent: req.UserAgent,
	}
	if err := o.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// attachSession subscribes to session's transcript. Snapshots from earlier
// subscriptions are dropped by generation.
func (o *Orchestrator) attachSession(session *domain.Session) error {
	o.detachSession()

	o.subscription++
	gen := o.subscription
	o.sessionID = session.SessionID
	o.sessionCreated = session.CreatedAt
	o.turns = nil

	ctx, cancel := o.storeContext()
	defer cancel()
	unsubscribe, err := o.store.Subscribe(ctx, session.SessionID, func(turns []domain.Turn) {
		o.post(func() { o.onSnapshot(gen, turns) })
	})
	if err != nil {
		return fmt.Errorf("subscribe transcript: %w", err)
	}
	o.unsubscribe = unsubscribe
	o.emitTranscript()
	return nil
}

func (o *Orchestrator) detachSession() {
	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
	o.subscription++
}

// Close forces Idle, cancels capture, playback and the outstanding request,
// and drops the transcript subscription. Closing a closed dialog is a no-op.
func (o *Orchestrator) Close(ctx context.Context) error {
	return o.do(ctx, func() error {
		if !o.open {
			return nil
		}
		o.closeLocked()
		return nil
	})
}

func (o *Orchestrator) closeLocked() {
	o.cancelInFlight()
	o.detachSession()
	o.open = false
	o.micEnabled = false
	o.setPhase(PhaseIdle)
	o.logger.Info("Assistant dialog closed", "user_id", o.req.UserID, "session_id", o.sessionID)
}

// SubmitText sends typed input. Input is trimmed; empty input fails with
// ErrValidation and changes nothing.
func (o *Orchestrator) SubmitText(ctx context.Context, text string) error {
	return o.do(ctx, func() error {
		if !o.open {
			return ErrNotOpen
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return ErrValidation
		}
		if o.pendingRequestID != "" {
			o.notify(MsgBusy)
			return ErrBusy
		}
		switch o.phase {
		case PhaseListening:
			o.stopCapture()
		case PhaseSpeaking:
			o.cancelPlayback()
		}
		return o.submit(text, channelText)
	})
}

// submit appends the user turn and the pending assistant turn, then issues
// one inference request tagged with a fresh request id.
func (o *Orchestrator) submit(text, channel string) error {
	ctx, cancel := o.storeContext()
	defer cancel()

	unlock := lockSession(o.sessionID)
	defer unlock()

	history, err := o.store.Turns(ctx, o.sessionID)
	if err != nil {
		o.failLocally(err)
		return fmt.Errorf("read transcript: %w", err)
	}

	// Another dialog on the same session may have a request in flight.
	if o.expirePending(ctx, o.sessionID, history) {
		o.notify(MsgBusy)
		o.setPhase(PhaseIdle)
		return ErrBusy
	}
	o.followTimestamps(history)

	if _, err := o.store.Append(ctx, o.sessionID, domain.Committed("", domain.RoleUser, text, o.now())); err != nil {
		o.failLocally(err)
		return fmt.Errorf("append user turn: %w", err)
	}

	requestID := o.newID()
	pendingID, err := o.store.Append(ctx, o.sessionID, domain.Pending(o.newID(), o.text(MsgThinking), o.now()))
	if err != nil {
		// The user turn is already stored; answer it with a failed turn so
		// the transcript never ends on an unanswered message.
		failed := domain.Turn{
			Role:      domain.RoleAssistant,
			Content:   o.text(MsgFailureRemote),
			Timestamp: o.now(),
			Status:    domain.TurnFailed,
		}
		if _, ferr := o.store.Append(ctx, o.sessionID, failed); ferr != nil {
			o.logger.Error("Failed to record failed assistant turn", "session_id", o.sessionID, "error", ferr)
		}
		o.failLocally(err)
		return fmt.Errorf("append pending turn: %w", err)
	}

	o.pendingRequestID = requestID
	o.pendingTurnID = pendingID
	reqCtx, cancelReq := context.WithCancel(context.Background())
	o.cancelInference = cancelReq

	req := inference.Request{
		RequestID: requestID,
		SessionID: o.sessionID,
		UserID:    o.req.UserID,
		Prompt:    text,
		History:   history,
	}
	go func() {
		reply, err := o.client.Generate(reqCtx, req)
		o.post(func() { o.onReply(requestID, reply, err) })
	}()

	o.convLog.Log(ConversationLogEvent{
		UserID:     o.req.UserID,
		SessionID:  o.sessionID,
		Channel:    channel,
		Direction:  "outbound",
		EventType:  eventUserMessage,
		ContentRaw: text,
		Meta:       map[string]any{"request_id": requestID},
	})
	o.setPhase(PhaseAwaitingReply)
	return nil
}

func (o *Orchestrator) onReply(requestID string, reply inference.Reply, err error) {
	if requestID != o.pendingRequestID {
		o.logger.Info("Discarding stale inference reply",
			"request_id", requestID,
			"pending_request_id", o.pendingRequestID,
			"session_id", o.sessionID,
		)
		return
	}

	turnID := o.pendingTurnID
	o.clearPending()

	if err == nil && strings.TrimSpace(reply.Text) == "" {
		err = fmt.Errorf("%w: empty reply", inference.ErrRemote)
	}
	if err != nil {
		o.onInferenceFailure(requestID, turnID, err)
		return
	}

	ctx, cancel := o.storeContext()
	defer cancel()
	if err := o.store.Update(ctx, o.sessionID, turnID, domain.Resolve(domain.TurnCommitted, reply.Text)); err != nil {
		o.logger.Error("Failed to commit assistant turn",
			"request_id", requestID,
			"session_id", o.sessionID,
			"turn_id", turnID,
			"error", err,
		)
		o.failLocally(err)
		return
	}

	o.convLog.Log(ConversationLogEvent{
		UserID:     o.req.UserID,
		SessionID:  o.sessionID,
		Channel:    channelText,
		Direction:  "inbound",
		EventType:  eventAssistantMessage,
		ContentRaw: reply.Text,
		Meta:       map[string]any{"request_id": requestID, "message_id": reply.MessageID},
	})

	if !o.voiceOutput() {
		o.setPhase(PhaseIdle)
		return
	}
	o.speak(reply.Text)
}

func (o *Orchestrator) onInferenceFailure(requestID, turnID string, err error) {
	key := MsgFailureRemote
	switch {
	case errors.Is(err, inference.ErrTimeout):
		key = MsgFailureTimeout
	case errors.Is(err, inference.ErrAuth):
		key = MsgFailureAuth
	}

	o.logger.Warn("Inference failed",
		"request_id", requestID,
		"session_id", o.sessionID,
		"error", err,
	)

	ctx, cancel := o.storeContext()
	defer cancel()
	if uerr := o.store.Update(ctx, o.sessionID, turnID, domain.Resolve(domain.TurnFailed, o.text(key))); uerr != nil {
		o.logger.Error("Failed to mark assistant turn failed",
			"request_id", requestID,
			"session_id", o.sessionID,
			"turn_id", turnID,
			"error", uerr,
		)
		o.notify(key)
	}

	o.convLog.Log(ConversationLogEvent{
		UserID:    o.req.UserID,
		SessionID: o.sessionID,
		Channel:   channelText,
		Direction: "inbound",
		EventType: eventAssistantFailure,
		Meta:      map[string]any{"request_id": requestID, "error": err.Error()},
	})

	o.setPhase(PhaseError)
	o.setPhase(PhaseIdle)
}

func (o *Orchestrator) speak(text string) {
	if o.sink == nil {
		o.setPhase(PhaseIdle)
		return
	}
	voice := speech.Voice{
		Volume: o.prefs.Volume,
		Rate:   o.prefs.Rate,
		Pitch:  o.prefs.Pitch,
		Lang:   o.prefs.Language,
	}
	h, err := o.sink.Speak(text, voice, func(ev speech.PlaybackEvent) {
		o.post(func() { o.onPlayback(ev) })
	})
	if err != nil {
		o.logger.Warn("Speech playback failed to start", "session_id", o.sessionID, "error", err)
		o.setPhase(PhaseIdle)
		return
	}
	o.playbackHandle = h
	o.setPhase(PhaseSpeaking)
}

func (o *Orchestrator) onPlayback(ev speech.PlaybackEvent) {
	if ev.Handle == "" || ev.Handle != o.playbackHandle {
		return
	}
	switch ev.Kind {
	case speech.PlaybackStart:
		o.logger.Debug("Playback started", "session_id", o.sessionID, "handle", ev.Handle)
	case speech.PlaybackEnd, speech.PlaybackError:
		if ev.Kind == speech.PlaybackError {
			o.logger.Warn("Playback error", "session_id", o.sessionID, "error", ev.Err)
		}
		o.playbackHandle = ""
		if o.phase == PhaseSpeaking {
			o.setPhase(PhaseIdle)
		}
	}
}

// ToggleMic starts listening from Idle and stops it from Listening. When
// capture is unsupported a capability notice is shown once and the call is
// otherwise a no-op.
func (o *Orchestrator) ToggleMic(ctx context.Context) error {
	return o.do(ctx, func() error {
		if !o.open {
			return ErrNotOpen
		}
		if !o.capture.Supported() {
			o.noteUnsupported()
			return nil
		}

		switch o.phase {
		case PhaseListening:
			o.stopCapture()
			o.setPhase(PhaseIdle)
			return nil
		case PhaseAwaitingReply:
			o.notify(MsgBusy)
			return ErrBusy
		case PhaseSpeaking:
			o.cancelPlayback()
		}
		return o.startCapture()
	})
}

func (o *Orchestrator) startCapture() error {
	h, err := o.capture.Start(o.prefs.Language, func(ev speech.CaptureEvent) {
		o.post(func() { o.onCapture(ev) })
	})
	if errors.Is(err, speech.ErrUnsupported) {
		o.noteUnsupported()
		o.setPhase(PhaseIdle)
		return nil
	}
	if err != nil {
		o.logger.Warn("Speech capture failed to start", "session_id", o.sessionID, "error", err)
		o.notify(MsgCaptureFailed)
		o.setPhase(PhaseIdle)
		return fmt.Errorf("start capture: %w", err)
	}
	o.captureHandle = h
	o.micEnabled = true
	o.setPhase(PhaseListening)
	return nil
}

func (o *Orchestrator) noteUnsupported() {
	if o.capabilityNoted {
		return
	}
	o.capabilityNoted = true
	o.logger.Info("Speech capture unsupported", "user_id", o.req.UserID, "error", ErrCapability)
	o.notify(MsgCapability)
	o.emitState()
}

func (o *Orchestrator) onCapture(ev speech.CaptureEvent) {
	if ev.Handle == "" || ev.Handle != o.captureHandle {
		return
	}
	switch ev.Kind {
	case speech.CapturePartial:
		o.observer(Update{Kind: UpdatePartial, SessionID: o.sessionID, Partial: ev.Text})

	case speech.CaptureFinal:
		o.stopCapture()
		o.observer(Update{Kind: UpdatePartial, SessionID: o.sessionID})
		text := strings.TrimSpace(ev.Text)
		if text == "" || o.pendingRequestID != "" {
			o.setPhase(PhaseIdle)
			return
		}
		if err := o.submit(text, channelVoice); err != nil {
			o.logger.Warn("Failed to submit recognized speech", "session_id", o.sessionID, "error", err)
		}

	case speech.CaptureError:
		o.stopCapture()
		o.logger.Warn("Speech capture error", "session_id", o.sessionID, "error", ev.Err)
		if ev.Err != "aborted" && ev.Err != "no-speech" {
			o.notify(MsgCaptureFailed)
		}
		o.setPhase(PhaseIdle)

	case speech.CaptureEnd:
		o.stopCapture()
		o.observer(Update{Kind: UpdatePartial, SessionID: o.sessionID})
		o.setPhase(PhaseIdle)
	}
}

// ToggleMute flips muted. Muting while Speaking cancels playback at once.
func (o *Orchestrator) ToggleMute(ctx context.Context) error {
	return o.do(ctx, func() error {
		o.muted = !o.muted
		if o.muted && o.phase == PhaseSpeaking {
			o.cancelPlayback()
			o.setPhase(PhaseIdle)
			return nil
		}
		o.emitState()
		return nil
	})
}

// NewConversation abandons in-flight work, resets local state and starts a
// fresh session seeded only with the local welcome turn.
func (o *Orchestrator) NewConversation(ctx context.Context) error {
	return o.do(ctx, func() error {
		if !o.open {
			return ErrNotOpen
		}
		o.cancelInFlight()
		o.detachSession()

		previous := o.sessionID
		o.micEnabled = false
		o.muted = false
		o.phase = PhaseIdle

		sctx, cancel := o.storeContext()
		defer cancel()
		session, err := o.createSession(sctx, o.req)
		if err != nil {
			o.failLocally(err)
			return err
		}
		if err := o.attachSession(session); err != nil {
			o.failLocally(err)
			return err
		}

		o.logger.Info("Started new conversation",
			"user_id", o.req.UserID,
			"previous_session_id", previous,
			"session_id", o.sessionID,
		)
		o.emitState()
		return nil
	})
}

// UpdatePreferences normalizes and persists prefs for the dialog's user.
func (o *Orchestrator) UpdatePreferences(ctx context.Context, prefs domain.UserPreferences) error {
	return o.do(ctx, func() error {
		if !o.open {
			return ErrNotOpen
		}
		prefs.UserID = o.req.UserID
		prefs = prefs.Normalize(o.defaultLang)
		prefs.UpdatedAt = o.clock().UTC()

		sctx, cancel := o.storeContext()
		defer cancel()
		if err := o.store.PutPreferences(sctx, &prefs); err != nil {
			return fmt.Errorf("save preferences: %w", err)
		}
		o.prefs = prefs

		if o.phase == PhaseSpeaking && !o.voiceOutput() {
			o.cancelPlayback()
			o.setPhase(PhaseIdle)
		} else {
			o.emitState()
		}
		o.emitTranscript()
		return nil
	})
}

// State returns a copy of the dialog state.
func (o *Orchestrator) State(ctx context.Context) (State, error) {
	var st State
	err := o.do(ctx, func() error {
		st = o.snapshotState()
		return nil
	})
	return st, err
}

// Transcript returns the current view: the local welcome turn followed by the
// latest stored snapshot.
func (o *Orchestrator) Transcript(ctx context.Context) ([]domain.Turn, error) {
	var turns []domain.Turn
	err := o.do(ctx, func() error {
		if !o.open {
			return ErrNotOpen
		}
		turns = o.view()
		return nil
	})
	return turns, err
}

func (o *Orchestrator) onSnapshot(gen uint64, turns []domain.Turn) {
	if gen != o.subscription || !o.open {
		return
	}
	o.turns = turns
	o.emitTranscript()
}

// cancelInFlight stops capture and playback and abandons the outstanding
// request. Its pending turn is marked failed; the eventual reply is discarded.
func (o *Orchestrator) cancelInFlight() {
	o.stopCapture()
	o.cancelPlayback()

	if o.pendingRequestID == "" {
		return
	}
	requestID, turnID := o.pendingRequestID, o.pendingTurnID
	o.clearPending()

	ctx, cancel := o.storeContext()
	defer cancel()
	if err := o.store.Update(ctx, o.sessionID, turnID, domain.Resolve(domain.TurnFailed, o.text(MsgInterrupted))); err != nil {
		o.logger.Warn("Failed to mark interrupted turn",
			"request_id", requestID,
			"session_id", o.sessionID,
			"turn_id", turnID,
			"error", err,
		)
	}
	o.convLog.Log(ConversationLogEvent{
		UserID:    o.req.UserID,
		SessionID: o.sessionID,
		Channel:   channelText,
		Direction: "inbound",
		EventType: eventInterrupted,
		Meta:      map[string]any{"request_id": requestID},
	})
	o.logger.Info("Abandoned in-flight inference request", "request_id", requestID, "session_id", o.sessionID)
}

func (o *Orchestrator) clearPending() {
	if o.cancelInference != nil {
		o.cancelInference()
		o.cancelInference = nil
	}
	o.pendingRequestID = ""
	o.pendingTurnID = ""
}

func (o *Orchestrator) stopCapture() {
	if o.captureHandle != "" {
		o.capture.Stop(o.captureHandle)
		o.captureHandle = ""
	}
	o.micEnabled = false
}

func (o *Orchestrator) cancelPlayback() {
	if o.playbackHandle != "" && o.sink != nil {
		o.sink.Cancel(o.playbackHandle)
	}
	o.playbackHandle = ""
}

// failLocally surfaces a store failure and returns to Idle.
func (o *Orchestrator) failLocally(err error) {
	o.logger.Error("Assistant store operation failed", "session_id", o.sessionID, "error", err)
	o.notify(MsgFailureRemote)
	o.setPhase(PhaseIdle)
}

func (o *Orchestrator) voiceOutput() bool {
	return o.prefs.VoiceEnabled && !o.muted
}

func (o *Orchestrator) setPhase(p Phase) {
	if o.phase != p {
		o.logger.Debug("Assistant phase change",
			"session_id", o.sessionID,
			"from", o.phase.String(),
			"to", p.String(),
		)
	}
	o.phase = p
	o.emitState()
}

func (o *Orchestrator) snapshotState() State {
	return State{
		Open:             o.open,
		Phase:            o.phase,
		SessionID:        o.sessionID,
		MicEnabled:       o.micEnabled,
		Muted:            o.muted,
		PendingRequestID: o.pendingRequestID,
		CaptureSupported: o.capture.Supported(),
		Preferences:      o.prefs,
	}
}

func (o *Orchestrator) emitState() {
	o.observer(Update{Kind: UpdateState, SessionID: o.sessionID, State: o.snapshotState()})
}

func (o *Orchestrator) emitTranscript() {
	if !o.open {
		return
	}
	o.observer(Update{Kind: UpdateTranscript, SessionID: o.sessionID, Transcript: o.view()})
}

func (o *Orchestrator) notify(key MessageKey) {
	o.observer(Update{Kind: UpdateNotice, SessionID: o.sessionID, Notice: Notice{Key: key, Text: o.text(key)}})
}

func (o *Orchestrator) view() []domain.Turn {
	out := make([]domain.Turn, 0, len(o.turns)+1)
	out = append(out, domain.Turn{
		TurnID:    welcomeTurnID,
		Role:      domain.RoleAssistant,
		Content:   o.text(MsgWelcome),
		Timestamp: o.sessionCreated,
		Status:    domain.TurnCommitted,
		Local:     true,
	})
	return append(out, o.turns...)
}

func (o *Orchestrator) text(key MessageKey) string {
	lang := o.prefs.Language
	if lang == "" {
		lang = o.defaultLang
	}
	return o.messages.Get(lang, key)
}

func (o *Orchestrator) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), o.storeTimeout)
}

// recoverResumedSession fails pending turns left behind by a dialog that
// died before its reply arrived.
func (o *Orchestrator) recoverResumedSession(ctx context.Context, sessionID string) {
	unlock := lockSession(sessionID)
	defer unlock()

	turns, err := o.store.Turns(ctx, sessionID)
	if err != nil {
		o.logger.Warn("Failed to read resumed transcript", "session_id", sessionID, "error", err)
		return
	}
	o.expirePending(ctx, sessionID, turns)
}

// expirePending marks pending turns older than staleAfter as failed and
// reports whether a younger pending turn remains.
func (o *Orchestrator) expirePending(ctx context.Context, sessionID string, turns []domain.Turn) (inFlight bool) {
	now := o.clock()
	for _, t := range turns {
		if !t.IsPending() {
			continue
		}
		if now.Sub(t.Timestamp) < o.staleAfter {
			inFlight = true
			continue
		}
		if err := o.store.Update(ctx, sessionID, t.TurnID, domain.Resolve(domain.TurnFailed, o.text(MsgInterrupted))); err != nil {
			o.logger.Warn("Failed to expire stale pending turn", "session_id", sessionID, "turn_id", t.TurnID, "error", err)
			continue
		}
		o.logger.Info("Expired stale pending turn", "session_id", sessionID, "turn_id", t.TurnID, "age", now.Sub(t.Timestamp))
	}
	return inFlight
}

// followTimestamps moves the timestamp floor past every stored turn so turns
// written by other dialogs on the session keep their order.
func (o *Orchestrator) followTimestamps(turns []domain.Turn) {
	for _, t := range turns {
		if t.Timestamp.After(o.lastTimestamp) {
			o.lastTimestamp = t.Timestamp
		}
	}
}

// now returns a timestamp strictly after the previous one handed out and
// after every stored turn seen by followTimestamps.
func (o *Orchestrator) now() time.Time {
	t := o.clock().UTC()
	if !t.After(o.lastTimestamp) {
		t = o.lastTimestamp.Add(time.Microsecond)
	}
	o.lastTimestamp = t
	return t
}
