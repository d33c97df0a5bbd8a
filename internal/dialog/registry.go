package dialog

import (
	"log/slog"
	"sync"
)

// Closer is a live dialog connection that can be closed by the registry.
type Closer interface {
	CloseWithReason(reason string)
}

// Registry tracks the live dialog of every (user, tab) pair. Registering a
// second dialog for the same tab closes the first.
type Registry struct {
	mu     sync.RWMutex
	active map[string]map[string]Closer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]map[string]Closer),
	}
}

// Active returns the live dialog for a user and tab.
func (m *Registry) Active(userID, dialogID string) Closer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if dialogs, ok := m.active[userID]; ok {
		return dialogs[dialogID]
	}
	return nil
}

// Count returns the number of live dialogs of a user.
func (m *Registry) Count(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[userID])
}

// Register adds a dialog, replacing any previous one on the same tab.
func (m *Registry) Register(userID, dialogID string, conn Closer) {
	m.mu.Lock()
	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]Closer)
	}
	existing := m.active[userID][dialogID]
	m.active[userID][dialogID] = conn
	m.mu.Unlock()

	// Closing waits for the peer's close handshake; do not hold up the new dialog.
	if existing != nil && existing != conn {
		go existing.CloseWithReason("dialog replaced")
	}
	slog.Info("Assistant dialog registered", "user_id", userID, "dialog_id", dialogID)
}

// Unregister removes a dialog if it is still the registered one.
func (m *Registry) Unregister(userID, dialogID string, conn Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dialogs, ok := m.active[userID]; ok {
		if current, exists := dialogs[dialogID]; exists && current == conn {
			delete(dialogs, dialogID)
			if len(dialogs) == 0 {
				delete(m.active, userID)
			}
			slog.Info("Assistant dialog unregistered", "user_id", userID, "dialog_id", dialogID)
		}
	}
}

// CloseAll closes every live dialog. Used on shutdown.
func (m *Registry) CloseAll(reason string) {
	m.mu.Lock()
	var all []Closer
	for userID, dialogs := range m.active {
		for _, conn := range dialogs {
			all = append(all, conn)
		}
		delete(m.active, userID)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range all {
		wg.Add(1)
		go func(c Closer) {
			defer wg.Done()
			c.CloseWithReason(reason)
		}(conn)
	}
	wg.Wait()
}
