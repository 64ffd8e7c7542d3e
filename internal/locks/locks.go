package locks

import (
	"sync"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/types"
)

// Manager provides advisory mutual exclusion over named resources.
// Locking gates task creation, not raw data mutation: callers check
// availability and then act under the manager's atomicity guarantee.
type Manager struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewManager creates an empty lock manager.
func NewManager() *Manager {
	return &Manager{
		held: make(map[string]bool),
	}
}

// Acquire locks a single resource. It fails with ErrLockContention if the
// resource is already held; it never blocks.
func (m *Manager) Acquire(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held[id] {
		return types.ErrLockContention
	}
	m.held[id] = true
	return nil
}

// AcquireAll locks every resource or none of them. If any requested
// resource is already held, nothing is acquired and ErrLockContention is
// returned. Stitch tasks rely on this to hold two fragments together
// without risking a partial-lock deadlock.
func (m *Manager) AcquireAll(ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if m.held[id] {
			return types.ErrLockContention
		}
	}
	for _, id := range ids {
		m.held[id] = true
	}
	return nil
}

// Release unlocks a resource. Releasing an unheld resource is a no-op.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.held, id)
}

// ReleaseAll unlocks every given resource.
func (m *Manager) ReleaseAll(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.held, id)
	}
}

// Held reports whether a resource is currently locked.
func (m *Manager) Held(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.held[id]
}
