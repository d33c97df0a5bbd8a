package assistant

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flow23flow23/artistrm-360-sub002/internal/domain"
	"github.com/flow23flow23/artistrm-360-sub002/internal/inference"
	"github.com/flow23flow23/artistrm-360-sub002/internal/speech"
	"github.com/flow23flow23/artistrm-360-sub002/internal/store"
)

// fakeInference blocks every Generate call until the test answers it. Like a
// real network call it ignores cancellation once sent.
type fakeInference struct {
	calls chan *inferenceCall
	stop  chan struct{}
}

type inferenceCall struct {
	req      inference.Request
	answer   chan inferenceResult
	returned chan struct{}
}

type inferenceResult struct {
	reply inference.Reply
	err   error
}

func newFakeInference(t *testing.T) *fakeInference {
	f := &fakeInference{calls: make(chan *inferenceCall, 8), stop: make(chan struct{})}
	t.Cleanup(func() { close(f.stop) })
	return f
}

func (f *fakeInference) Generate(_ context.Context, req inference.Request) (inference.Reply, error) {
	call := &inferenceCall{req: req, answer: make(chan inferenceResult, 1), returned: make(chan struct{})}
	defer close(call.returned)
	select {
	case f.calls <- call:
	case <-f.stop:
		return inference.Reply{}, inference.ErrRemote
	}
	select {
	case res := <-call.answer:
		return res.reply, res.err
	case <-f.stop:
		return inference.Reply{}, inference.ErrRemote
	}
}

func (f *fakeInference) next(t *testing.T) *inferenceCall {
	t.Helper()
	select {
	case call := <-f.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inference call")
		return nil
	}
}

func (c *inferenceCall) reply(text string) {
	c.answer <- inferenceResult{reply: inference.Reply{MessageID: "m-" + c.req.RequestID, Text: text}}
}

func (c *inferenceCall) fail(err error) {
	c.answer <- inferenceResult{err: err}
}

func (c *inferenceCall) waitReturned(t *testing.T) {
	t.Helper()
	select {
	case <-c.returned:
	case <-time.After(2 * time.Second):
		t.Fatal("inference call did not return")
	}
}

// fakeCapture hands out handles and keeps the listener so tests can emit
// recognition signals.
type fakeCapture struct {
	supported bool

	mu        sync.Mutex
	listeners map[speech.Handle]speech.CaptureListener
	last      speech.Handle
	starts    int
	stops     int
}

func newFakeCapture(supported bool) *fakeCapture {
	return &fakeCapture{supported: supported, listeners: make(map[speech.Handle]speech.CaptureListener)}
}

func (c *fakeCapture) Supported() bool { return c.supported }

func (c *fakeCapture) Start(_ string, listener speech.CaptureListener) (speech.Handle, error) {
	if !c.supported {
		return "", speech.ErrUnsupported
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	h := speech.NewHandle()
	c.listeners[h] = listener
	c.last = h
	c.starts++
	return h, nil
}

func (c *fakeCapture) Stop(h speech.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.listeners[h]; ok {
		delete(c.listeners, h)
		c.stops++
	}
}

func (c *fakeCapture) emit(kind speech.CaptureEventKind, text string) {
	c.mu.Lock()
	h := c.last
	listener := c.listeners[h]
	if kind == speech.CaptureFinal || kind == speech.CaptureEnd || kind == speech.CaptureError {
		delete(c.listeners, h)
	}
	c.mu.Unlock()
	if listener != nil {
		listener(speech.CaptureEvent{Handle: h, Kind: kind, Text: text})
	}
}

func (c *fakeCapture) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

// fakeSink records playbacks and cancellations.
type fakeSink struct {
	mu        sync.Mutex
	spoken    []string
	voices    []speech.Voice
	listeners map[speech.Handle]speech.PlaybackListener
	last      speech.Handle
	cancelled []speech.Handle
}

func newFakeSink() *fakeSink {
	return &fakeSink{listeners: make(map[speech.Handle]speech.PlaybackListener)}
}

func (s *fakeSink) Speak(text string, voice speech.Voice, listener speech.PlaybackListener) (speech.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := speech.NewHandle()
	s.spoken = append(s.spoken, text)
	s.voices = append(s.voices, voice)
	s.listeners[h] = listener
	s.last = h
	return h, nil
}

func (s *fakeSink) Cancel(h speech.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, h)
	s.cancelled = append(s.cancelled, h)
}

func (s *fakeSink) finish(kind speech.PlaybackEventKind) speech.Handle {
	s.mu.Lock()
	h := s.last
	listener := s.listeners[h]
	delete(s.listeners, h)
	s.mu.Unlock()
	if listener != nil {
		listener(speech.PlaybackEvent{Handle: h, Kind: kind})
	}
	return h
}

func (s *fakeSink) snapshot() (spoken []string, cancelled []speech.Handle, last speech.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...), append([]speech.Handle(nil), s.cancelled...), s.last
}

// recorder collects observer updates.
type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) observe(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) all() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

func (r *recorder) notices(key MessageKey) int {
	n := 0
	for _, u := range r.all() {
		if u.Kind == UpdateNotice && u.Notice.Key == key {
			n++
		}
	}
	return n
}

func (r *recorder) phases() []Phase {
	var out []Phase
	for _, u := range r.all() {
		if u.Kind == UpdateState {
			out = append(out, u.State.Phase)
		}
	}
	return out
}

// waitForTranscript polls until some transcript update satisfies cond.
func (r *recorder) waitForTranscript(t *testing.T, cond func([]domain.Turn) bool) []domain.Turn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, u := range r.all() {
			if u.Kind == UpdateTranscript && cond(u.Transcript) {
				return u.Transcript
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for transcript update")
	return nil
}

type harness struct {
	orch    *Orchestrator
	repo    store.Repository
	llm     *fakeInference
	capture *fakeCapture
	sink    *fakeSink
	rec     *recorder
}

func newHarness(t *testing.T, captureSupported bool) *harness {
	t.Helper()

	repo, err := store.NewBadger(store.BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadger failed: %v", err)
	}
	h := &harness{
		repo:    repo,
		llm:     newFakeInference(t),
		capture: newFakeCapture(captureSupported),
		sink:    newFakeSink(),
		rec:     &recorder{},
	}
	orch, err := New(Config{
		Store:           repo,
		Inference:       h.llm,
		Capture:         h.capture,
		Sink:            h.sink,
		Observer:        h.rec.observe,
		DefaultLanguage: "es-ES",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.orch = orch
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
		_ = repo.Close()
	})
	return h
}

func (h *harness) open(t *testing.T) State {
	t.Helper()
	if err := h.orch.Open(context.Background(), OpenRequest{UserID: "artist-1", Origin: domain.OriginWeb, ClientIP: "10.0.0.7"}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return h.state(t)
}

func (h *harness) state(t *testing.T) State {
	t.Helper()
	st, err := h.orch.State(context.Background())
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	return st
}

func (h *harness) waitForPhase(t *testing.T, want Phase) State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := h.state(t); st.Phase == want {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for phase %s (now %s)", want, h.state(t).Phase)
	return State{}
}

func (h *harness) storedTurns(t *testing.T, sessionID string) []domain.Turn {
	t.Helper()
	turns, err := h.repo.Turns(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Turns failed: %v", err)
	}
	return turns
}
