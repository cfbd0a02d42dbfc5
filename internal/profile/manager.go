package profile

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Manager wraps a Store with the load-mutate-save cycle every writer needs.
// It never caches: each call reads the document fresh.
//
// Read-modify-write cycles are serialized within the process. Two processes
// sharing the same document still race, and the last save wins.
type Manager struct {
	store Store
	mu    sync.Mutex
}

// NewManager creates a Manager over store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Get loads the current profile. A corrupt document is logged and treated
// as empty so callers can keep serving.
func (m *Manager) Get() (*Profile, error) {
	return m.load()
}

func (m *Manager) load() (*Profile, error) {
	p, err := m.store.Load()
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			slog.Warn("stored profile is corrupt, treating as empty", "error", err)
			return New(), nil
		}
		return nil, fmt.Errorf("loading profile: %w", err)
	}
	if p == nil {
		p = New()
	}
	return p, nil
}

// Merge applies update on top of the stored profile, saves the result and
// returns it.
func (m *Manager) Merge(update *Profile) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.load()
	if err != nil {
		return nil, err
	}
	p.Merge(update)

	if err := m.store.Save(p); err != nil {
		return nil, fmt.Errorf("saving profile: %w", err)
	}
	return p, nil
}

// Set merges a single key.
func (m *Manager) Set(key string, value any) (*Profile, error) {
	update := New()
	update.Set(key, value)
	return m.Merge(update)
}
