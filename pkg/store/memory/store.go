// Package memory implements store.SettingsStore in memory.
//
// Settings do not survive a restart. It is suitable for tests and for
// deployments where directory settings come entirely from the config file.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/marmos91/ecquota/pkg/store"
)

// MemorySettingsStore keeps settings in a map guarded by a read-write mutex.
type MemorySettingsStore struct {
	mu       sync.RWMutex
	settings map[string]store.DirectorySettings
	closed   bool
}

// NewMemorySettingsStore creates an empty store.
func NewMemorySettingsStore() *MemorySettingsStore {
	return &MemorySettingsStore{
		settings: make(map[string]store.DirectorySettings),
	}
}

func clone(s store.DirectorySettings) store.DirectorySettings {
	s.TypeQuotas = maps.Clone(s.TypeQuotas)
	return s
}

// Put implements store.SettingsStore.
func (m *MemorySettingsStore) Put(ctx context.Context, s store.DirectorySettings) error {
	// Check context before acquiring lock
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return store.ErrClosed
	}

	s.Path = store.CleanPath(s.Path)
	m.settings[s.Path] = clone(s)
	return nil
}

// Get implements store.SettingsStore.
func (m *MemorySettingsStore) Get(ctx context.Context, path string) (store.DirectorySettings, error) {
	if err := ctx.Err(); err != nil {
		return store.DirectorySettings{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return store.DirectorySettings{}, store.ErrClosed
	}

	s, ok := m.settings[store.CleanPath(path)]
	if !ok {
		return store.DirectorySettings{}, store.ErrNotFound
	}
	return clone(s), nil
}

// Delete implements store.SettingsStore.
func (m *MemorySettingsStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return store.ErrClosed
	}

	delete(m.settings, store.CleanPath(path))
	return nil
}

// List implements store.SettingsStore.
func (m *MemorySettingsStore) List(ctx context.Context) ([]store.DirectorySettings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, store.ErrClosed
	}

	out := make([]store.DirectorySettings, 0, len(m.settings))
	for _, s := range m.settings {
		out = append(out, clone(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Healthcheck implements store.SettingsStore.
func (m *MemorySettingsStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return store.ErrClosed
	}
	return nil
}

// Close implements store.SettingsStore.
func (m *MemorySettingsStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}
