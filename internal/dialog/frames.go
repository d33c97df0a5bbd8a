// Package dialog carries assistant dialogs over WebSocket: it decodes UI
// intents, relays speech capture and playback to the browser, and pushes
// state, transcript and notice frames back.
package dialog

import (
	"github.com/flow23flow23/artistrm-360-sub002/internal/assistant"
	"github.com/flow23flow23/artistrm-360-sub002/internal/domain"
	"github.com/flow23flow23/artistrm-360-sub002/internal/speech"
)

// Client frame types.
const (
	frameOpen            = "open"
	frameClose           = "close"
	frameSubmit          = "submit"
	frameToggleMic       = "toggle_mic"
	frameToggleMute      = "toggle_mute"
	frameNewConversation = "new_conversation"
	framePreferences     = "preferences"
	frameCapabilities    = "capabilities"
	frameCapturePartial  = "capture_partial"
	frameCaptureFinal    = "capture_final"
	frameCaptureError    = "capture_error"
	frameCaptureEnd      = "capture_end"
	framePlaybackStart   = "playback_start"
	framePlaybackEnd     = "playback_end"
	framePlaybackError   = "playback_error"
	framePing            = "ping"
)

// Server frame types. Speech commands use the speech.Command types.
const (
	frameState      = "state"
	frameTranscript = "transcript"
	framePartial    = "partial"
	frameNotice     = "notice"
	framePong       = "pong"
)

// clientFrame is one message from the browser.
type clientFrame struct {
	Type        string                  `json:"type"`
	Text        string                  `json:"text,omitempty"`
	Handle      speech.Handle           `json:"handle,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Capture     bool                    `json:"capture,omitempty"`
	Playback    bool                    `json:"playback,omitempty"`
	Preferences *domain.UserPreferences `json:"preferences,omitempty"`
}

// serverFrame is one message to the browser.
type serverFrame struct {
	Type      string            `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	State     *assistant.State  `json:"state,omitempty"`
	Turns     []domain.Turn     `json:"turns,omitempty"`
	Text      *string           `json:"text,omitempty"`
	Notice    *assistant.Notice `json:"notice,omitempty"`
}

// frameForUpdate converts an orchestrator update to its wire frame.
func frameForUpdate(u assistant.Update) serverFrame {
	switch u.Kind {
	case assistant.UpdateState:
		st := u.State
		return serverFrame{Type: frameState, SessionID: u.SessionID, State: &st}
	case assistant.UpdateTranscript:
		return serverFrame{Type: frameTranscript, SessionID: u.SessionID, Turns: u.Transcript}
	case assistant.UpdatePartial:
		text := u.Partial
		return serverFrame{Type: framePartial, SessionID: u.SessionID, Text: &text}
	default:
		n := u.Notice
		return serverFrame{Type: frameNotice, SessionID: u.SessionID, Notice: &n}
	}
}

func captureEvent(f clientFrame) (speech.CaptureEvent, bool) {
	ev := speech.CaptureEvent{Handle: f.Handle, Text: f.Text, Err: f.Error}
	switch f.Type {
	case frameCapturePartial:
		ev.Kind = speech.CapturePartial
	case frameCaptureFinal:
		ev.Kind = speech.CaptureFinal
	case frameCaptureError:
		ev.Kind = speech.CaptureError
	case frameCaptureEnd:
		ev.Kind = speech.CaptureEnd
	default:
		return ev, false
	}
	return ev, true
}

func playbackEvent(f clientFrame) (speech.PlaybackEvent, bool) {
	ev := speech.PlaybackEvent{Handle: f.Handle, Err: f.Error}
	switch f.Type {
	case framePlaybackStart:
		ev.Kind = speech.PlaybackStart
	case framePlaybackEnd:
		ev.Kind = speech.PlaybackEnd
	case framePlaybackError:
		ev.Kind = speech.PlaybackError
	default:
		return ev, false
	}
	return ev, true
}
