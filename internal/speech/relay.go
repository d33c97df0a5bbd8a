package speech

import (
	"fmt"
	"log/slog"
	"sync"
)

// Command types sent to the remote client.
const (
	CommandCaptureStart = "capture_start"
	CommandCaptureStop  = "capture_stop"
	CommandSpeak        = "speak"
	CommandSpeakCancel  = "speak_cancel"
)

// Command asks the remote client to start or stop capture or playback.
type Command struct {
	Type   string `json:"type"`
	Handle Handle `json:"handle"`
	Lang   string `json:"lang,omitempty"`
	Text   string `json:"text,omitempty"`
	Voice  *Voice `json:"voice,omitempty"`
}

// Sender delivers commands to the remote client. It must not block on the
// client reading them.
type Sender interface {
	SendCommand(cmd Command) error
}

// Relay implements Capture and Sink by delegating recognition and synthesis to
// a remote client (a browser tab). Signals reported back by the client are fed
// in through DeliverCapture and DeliverPlayback.
type Relay struct {
	sender Sender
	logger *slog.Logger

	mu        sync.Mutex
	capture   bool
	playback  bool
	captures  map[Handle]CaptureListener
	playbacks map[Handle]PlaybackListener
	speaking  Handle
}

// NewRelay creates a relay. Capabilities start disabled until the client
// reports them with SetCapabilities.
func NewRelay(sender Sender, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		sender:    sender,
		logger:    logger,
		captures:  make(map[Handle]CaptureListener),
		playbacks: make(map[Handle]PlaybackListener),
	}
}

// SetCapabilities records what the client can do.
func (r *Relay) SetCapabilities(capture, playback bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture = capture
	r.playback = playback
}

// Supported reports whether the client can capture speech.
func (r *Relay) Supported() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capture
}

// Start asks the client to begin recognition.
func (r *Relay) Start(lang string, listener CaptureListener) (Handle, error) {
	r.mu.Lock()
	if !r.capture {
		r.mu.Unlock()
		return "", ErrUnsupported
	}
	h := NewHandle()
	r.captures[h] = listener
	r.mu.Unlock()

	if err := r.sender.SendCommand(Command{Type: CommandCaptureStart, Handle: h, Lang: lang}); err != nil {
		r.mu.Lock()
		delete(r.captures, h)
		r.mu.Unlock()
		return "", fmt.Errorf("send capture start: %w", err)
	}
	return h, nil
}

// Stop asks the client to stop recognition. Later signals for h are dropped.
func (r *Relay) Stop(h Handle) {
	r.mu.Lock()
	_, ok := r.captures[h]
	delete(r.captures, h)
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := r.sender.SendCommand(Command{Type: CommandCaptureStop, Handle: h}); err != nil {
		r.logger.Debug("failed to send capture stop", "handle", h, "error", err)
	}
}

// Speak asks the client to synthesize text, cancelling any active playback.
func (r *Relay) Speak(text string, voice Voice, listener PlaybackListener) (Handle, error) {
	r.mu.Lock()
	if !r.playback {
		r.mu.Unlock()
		return "", ErrUnsupported
	}
	prev := r.speaking
	h := NewHandle()
	r.playbacks[h] = listener
	r.speaking = h
	r.mu.Unlock()

	if prev != "" {
		r.Cancel(prev)
	}

	v := voice
	if err := r.sender.SendCommand(Command{Type: CommandSpeak, Handle: h, Text: text, Voice: &v}); err != nil {
		r.forgetPlayback(h)
		return "", fmt.Errorf("send speak: %w", err)
	}
	return h, nil
}

// Cancel asks the client to stop playback. Later signals for h are dropped.
func (r *Relay) Cancel(h Handle) {
	if !r.forgetPlayback(h) {
		return
	}
	if err := r.sender.SendCommand(Command{Type: CommandSpeakCancel, Handle: h}); err != nil {
		r.logger.Debug("failed to send speak cancel", "handle", h, "error", err)
	}
}

func (r *Relay) forgetPlayback(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.playbacks[h]
	delete(r.playbacks, h)
	if r.speaking == h {
		r.speaking = ""
	}
	return ok
}

// DeliverCapture routes a client capture signal to its listener.
func (r *Relay) DeliverCapture(ev CaptureEvent) {
	r.mu.Lock()
	listener, ok := r.captures[ev.Handle]
	if ok && (ev.Kind == CaptureFinal || ev.Kind == CaptureEnd) {
		delete(r.captures, ev.Handle)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("dropping capture signal for unknown handle", "handle", ev.Handle, "kind", ev.Kind.String())
		return
	}
	listener(ev)
}

// DeliverPlayback routes a client playback signal to its listener.
func (r *Relay) DeliverPlayback(ev PlaybackEvent) {
	r.mu.Lock()
	listener, ok := r.playbacks[ev.Handle]
	if ok && ev.Kind != PlaybackStart {
		delete(r.playbacks, ev.Handle)
		if r.speaking == ev.Handle {
			r.speaking = ""
		}
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("dropping playback signal for unknown handle", "handle", ev.Handle, "kind", ev.Kind.String())
		return
	}
	listener(ev)
}

// Active reports the number of live capture and playback handles.
func (r *Relay) Active() (captures, playbacks int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.captures), len(r.playbacks)
}

var (
	_ Capture = (*Relay)(nil)
	_ Sink    = (*Relay)(nil)
)
