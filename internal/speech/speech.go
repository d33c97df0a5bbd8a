// Package speech defines the speech capture and speech output contracts used by
// the assistant, plus adapters that relay both to a remote client.
package speech

import (
	"errors"

	"github.com/google/uuid"
)

// ErrUnsupported is returned when the host has no speech capability.
var ErrUnsupported = errors.New("speech: not supported")

// Handle identifies one capture stream or one playback.
type Handle string

// NewHandle returns a fresh handle.
func NewHandle() Handle {
	return Handle(uuid.NewString())
}

// CaptureEventKind enumerates capture signals.
type CaptureEventKind int

const (
	// CapturePartial is a non-committing preview of the utterance.
	CapturePartial CaptureEventKind = iota
	// CaptureFinal carries the recognized utterance. The handle is spent.
	CaptureFinal
	// CaptureError reports a recognition failure.
	CaptureError
	// CaptureEnd reports the stream closed. The handle is spent.
	CaptureEnd
)

func (k CaptureEventKind) String() string {
	switch k {
	case CapturePartial:
		return "partial"
	case CaptureFinal:
		return "final"
	case CaptureError:
		return "error"
	case CaptureEnd:
		return "end"
	default:
		return "unknown"
	}
}

// CaptureEvent is one signal from a capture stream.
type CaptureEvent struct {
	Handle Handle
	Kind   CaptureEventKind
	Text   string
	Err    string
}

// CaptureListener receives capture signals. Implementations of Capture never
// invoke it from inside Start or Stop.
type CaptureListener func(CaptureEvent)

// Capture is a single-shot speech recognizer. After a Final or End event the
// handle is invalid and a new Start is required.
type Capture interface {
	Supported() bool
	Start(lang string, listener CaptureListener) (Handle, error)
	Stop(h Handle)
}

// Voice holds playback parameters.
type Voice struct {
	Volume float64 `json:"volume"`
	Rate   float64 `json:"rate"`
	Pitch  float64 `json:"pitch"`
	Lang   string  `json:"lang"`
}

// PlaybackEventKind enumerates playback signals.
type PlaybackEventKind int

const (
	PlaybackStart PlaybackEventKind = iota
	PlaybackEnd
	PlaybackError
)

func (k PlaybackEventKind) String() string {
	switch k {
	case PlaybackStart:
		return "start"
	case PlaybackEnd:
		return "end"
	case PlaybackError:
		return "error"
	default:
		return "unknown"
	}
}

// PlaybackEvent is one signal from a playback.
type PlaybackEvent struct {
	Handle Handle
	Kind   PlaybackEventKind
	Err    string
}

// PlaybackListener receives playback signals. Implementations of Sink never
// invoke it from inside Speak or Cancel.
type PlaybackListener func(PlaybackEvent)

// Sink plays text as audio. Starting a new Speak cancels the active one.
type Sink interface {
	Speak(text string, voice Voice, listener PlaybackListener) (Handle, error)
	Cancel(h Handle)
}

// NoCapture is the capture source of hosts without a microphone.
type NoCapture struct{}

// Supported reports false.
func (NoCapture) Supported() bool { return false }

// Start always fails with ErrUnsupported.
func (NoCapture) Start(string, CaptureListener) (Handle, error) { return "", ErrUnsupported }

// Stop does nothing.
func (NoCapture) Stop(Handle) {}
