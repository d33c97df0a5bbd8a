package store

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flow23flow23/artistrm-360-sub002/internal/domain"
)

func TestHubDeliversInOrderAndStopsAfterUnsubscribe(t *testing.T) {
	t.Parallel()

	hub := NewHub(8, nil)
	defer hub.Close()

	var mu sync.Mutex
	var sizes []int
	unsubscribe := hub.Subscribe("s", nil, func(turns []domain.Turn) {
		mu.Lock()
		sizes = append(sizes, len(turns))
		mu.Unlock()
	})

	for i := 1; i <= 3; i++ {
		hub.Publish("s", make([]domain.Turn, i))
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(sizes)
		mu.Unlock()
		if n == 4 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	got := append([]int(nil), sizes...)
	mu.Unlock()
	want := []int{0, 1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	unsubscribe()
	unsubscribe()
	if n := hub.Subscribers("s"); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
}

func TestHubSlowSubscriberKeepsLatestSnapshot(t *testing.T) {
	t.Parallel()

	hub := NewHub(2, nil)
	defer hub.Close()

	release := make(chan struct{})
	var last atomic.Int64
	hub.Subscribe("s", nil, func(turns []domain.Turn) {
		<-release
		last.Store(int64(len(turns)))
	})

	for i := 1; i <= 10; i++ {
		hub.Publish("s", make([]domain.Turn, i))
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if last.Load() == 10 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected newest snapshot to be delivered, last=%d", last.Load())
}
