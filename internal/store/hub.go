package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/flow23flow23/artistrm-360-sub002/internal/domain"
)

// defaultSubscriberQueue bounds the snapshots buffered per subscriber.
const defaultSubscriberQueue = 32

// Hub fans transcript snapshots out to live subscribers. Each subscriber
// gets a bounded queue drained by its own goroutine, so a slow viewer never
// blocks writers. When a queue is full the oldest snapshot is dropped; every
// snapshot is a full transcript, so the newest one supersedes it.
type Hub struct {
	mu        sync.Mutex
	subs      map[string]map[int64]*subscriber
	nextID    int64
	queueSize int
	logger    *slog.Logger
	closed    bool
}

type subscriber struct {
	id        int64
	sessionID string
	onChange  func([]domain.Turn)
	queue     chan []domain.Turn
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewHub creates a hub with the given per-subscriber queue size.
func NewHub(queueSize int, logger *slog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = defaultSubscriberQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:      make(map[string]map[int64]*subscriber),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Subscribe registers onChange for sessionID and queues initial as the first
// delivery. Callers hold the session write lock so no publish interleaves.
func (h *Hub) Subscribe(sessionID string, initial []domain.Turn, onChange func([]domain.Turn)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscriber{
		sessionID: sessionID,
		onChange:  onChange,
		queue:     make(chan []domain.Turn, h.queueSize),
		ctx:       ctx,
		cancel:    cancel,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		return func() {}
	}
	h.nextID++
	sub.id = h.nextID
	if _, ok := h.subs[sessionID]; !ok {
		h.subs[sessionID] = make(map[int64]*subscriber)
	}
	h.subs[sessionID][sub.id] = sub
	h.mu.Unlock()

	sub.queue <- initial
	sub.wg.Add(1)
	go h.deliver(sub)

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(sub) })
	}
}

// Publish queues snapshot for every subscriber of sessionID.
func (h *Hub) Publish(sessionID string, snapshot []domain.Turn) {
	h.mu.Lock()
	conns := make([]*subscriber, 0, len(h.subs[sessionID]))
	for _, s := range h.subs[sessionID] {
		conns = append(conns, s)
	}
	h.mu.Unlock()

	for _, s := range conns {
		h.enqueue(s, snapshot)
	}
}

// Subscribers returns the number of live subscriptions for sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

// Close cancels every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*subscriber
	for _, m := range h.subs {
		for _, s := range m {
			all = append(all, s)
		}
	}
	h.subs = make(map[string]map[int64]*subscriber)
	h.mu.Unlock()

	for _, s := range all {
		s.cancel()
		s.wg.Wait()
	}
}

func (h *Hub) enqueue(s *subscriber, snapshot []domain.Turn) {
	select {
	case s.queue <- snapshot:
		return
	case <-s.ctx.Done():
		return
	default:
	}

	// Queue full: drop the oldest snapshot and retry once.
	select {
	case <-s.queue:
		h.logger.Debug("Subscriber queue full, dropped oldest snapshot",
			"session_id", s.sessionID,
			"subscriber_id", s.id,
		)
	default:
	}
	select {
	case s.queue <- snapshot:
	case <-s.ctx.Done():
	default:
		h.logger.Warn("Failed to queue snapshot after dropping oldest",
			"session_id", s.sessionID,
			"subscriber_id", s.id,
		)
	}
}

func (h *Hub) deliver(s *subscriber) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case snapshot := <-s.queue:
			if s.ctx.Err() != nil {
				return
			}
			s.onChange(snapshot)
		}
	}
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	if m, ok := h.subs[s.sessionID]; ok {
		delete(m, s.id)
		if len(m) == 0 {
			delete(h.subs, s.sessionID)
		}
	}
	h.mu.Unlock()
	s.cancel()
}
