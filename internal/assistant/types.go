// Package assistant implements the Zeus assistant orchestrator: the state
// machine that turns typed or spoken input into transcript turns, remote
// inference calls and spoken replies.
package assistant

import (
	"errors"
	"time"

	"github.com/flow23flow23/artistrm-360-sub002/internal/domain"
)

// Intent errors. Inference failures use the inference package sentinels and
// store failures use store.ErrNotFound.
var (
	// ErrValidation means the input was empty after trimming.
	ErrValidation = errors.New("assistant: empty input")
	// ErrCapability means speech capture is unavailable on the client.
	ErrCapability = errors.New("assistant: speech capture not supported")
	// ErrBusy means an inference request is already outstanding.
	ErrBusy = errors.New("assistant: already processing")
	// ErrNotOpen means the intent requires an open dialog.
	ErrNotOpen = errors.New("assistant: dialog not open")
	// ErrShutdown means the orchestrator has stopped.
	ErrShutdown = errors.New("assistant: orchestrator stopped")
)

// Phase is the dialog state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseListening
	PhaseAwaitingReply
	PhaseSpeaking
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseListening:
		return "listening"
	case PhaseAwaitingReply:
		return "awaiting_reply"
	case PhaseSpeaking:
		return "speaking"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is the process-local dialog state. It is never persisted.
type State struct {
	Open             bool                   `json:"open"`
	Phase            Phase                  `json:"phase"`
	SessionID        string                 `json:"session_id,omitempty"`
	MicEnabled       bool                   `json:"mic_enabled"`
	Muted            bool                   `json:"muted"`
	PendingRequestID string                 `json:"pending_request_id,omitempty"`
	CaptureSupported bool                   `json:"capture_supported"`
	Preferences      domain.UserPreferences `json:"preferences"`
}

// UpdateKind tells observers what changed.
type UpdateKind int

const (
	UpdateState UpdateKind = iota
	UpdateTranscript
	UpdatePartial
	UpdateNotice
)

// Notice is a transient message for the user.
type Notice struct {
	Key  MessageKey `json:"key"`
	Text string     `json:"text"`
}

// Update is delivered to the observer on the orchestrator goroutine.
type Update struct {
	Kind       UpdateKind
	State      State
	SessionID  string
	Transcript []domain.Turn
	Partial    string
	Notice     Notice
}

// Observer receives updates. It runs on the orchestrator goroutine and must
// not call back into the orchestrator synchronously.
type Observer func(Update)

// OpenRequest identifies who opens the dialog and from where.
type OpenRequest struct {
	UserID    string
	Origin    string
	ClientIP  string
	UserAgent string
}

const (
	defaultStoreTimeout      = 5 * time.Second
	defaultPendingStaleAfter = 2 * time.Minute
	defaultQueueSize         = 64
	welcomeTurnID            = "welcome"

	channelText  = "assistant_text"
	channelVoice = "assistant_voice"

	eventUserMessage      = "user_message"
	eventAssistantMessage = "assistant_message"
	eventAssistantFailure = "assistant_failure"
	eventInterrupted      = "assistant_interrupted"
)
