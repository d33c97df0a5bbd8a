package speech

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ConsoleSink "plays" text by printing it. Playback lasts a fixed time per
// word so cancellation can be exercised from a terminal.
type ConsoleSink struct {
	out     io.Writer
	perWord time.Duration

	mu     sync.Mutex
	active Handle
	timers map[Handle]*time.Timer
}

// NewConsoleSink writes spoken text to out.
func NewConsoleSink(out io.Writer, perWord time.Duration) *ConsoleSink {
	return &ConsoleSink{out: out, perWord: perWord, timers: make(map[Handle]*time.Timer)}
}

// Speak prints text and reports start and end asynchronously.
func (s *ConsoleSink) Speak(text string, voice Voice, listener PlaybackListener) (Handle, error) {
	s.mu.Lock()
	prev := s.active
	s.mu.Unlock()
	if prev != "" {
		s.Cancel(prev)
	}

	h := NewHandle()
	if _, err := fmt.Fprintf(s.out, "🔊 [%s] %s\n", voice.Lang, text); err != nil {
		return "", fmt.Errorf("write speech: %w", err)
	}

	words := len(strings.Fields(text))
	duration := time.Duration(words) * s.perWord

	s.mu.Lock()
	s.active = h
	s.timers[h] = time.AfterFunc(duration, func() {
		s.mu.Lock()
		_, live := s.timers[h]
		delete(s.timers, h)
		if s.active == h {
			s.active = ""
		}
		s.mu.Unlock()
		if live {
			listener(PlaybackEvent{Handle: h, Kind: PlaybackEnd})
		}
	})
	s.mu.Unlock()

	go listener(PlaybackEvent{Handle: h, Kind: PlaybackStart})
	return h, nil
}

// Cancel stops the playback timer. No end signal follows.
func (s *ConsoleSink) Cancel(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[h]; ok {
		t.Stop()
		delete(s.timers, h)
	}
	if s.active == h {
		s.active = ""
	}
}

var _ Sink = (*ConsoleSink)(nil)
