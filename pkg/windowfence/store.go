package windowfence

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KanavDutta/windowfence/core"
)

// WindowStore maps identities to their fixed-window state.
// It's thread-safe: the map is guarded by an RWMutex for structural changes
// (insert, delete, cleanup) and each entry has its own mutex for counter updates,
// so different identities never wait on each other's read-modify-write.
type WindowStore struct {
	entries map[string]*windowEntry
	window  *core.FixedWindow
	clock   Clock
	logger  *zap.Logger
	idleTTL time.Duration // Expired entries idle longer than this are evicted (0 = never)
	mu      sync.RWMutex
}

// windowEntry wraps one identity's state with metadata for cleanup.
type windowEntry struct {
	mu       sync.Mutex // Protects every field below
	state    core.WindowState
	lastSeen time.Time
	removed  bool // Set once the entry has been unlinked from the map
}

// Handle is exclusive access to one identity's window state.
// The holder must call Release exactly once.
type Handle struct {
	entry *windowEntry
}

// NewWindowStore creates an empty store whose new entries start a window
// according to fw at the instant reported by clock.
// idleTTL determines how long expired entries are kept before cleanup (0 = no cleanup).
func NewWindowStore(fw *core.FixedWindow, clock Clock, idleTTL time.Duration) *WindowStore {
	if clock == nil {
		clock = SystemClock{}
	}
	return &WindowStore{
		entries: make(map[string]*windowEntry),
		window:  fw,
		clock:   clock,
		logger:  zap.NewNop(),
		idleTTL: idleTTL,
	}
}

// Acquire returns an exclusive handle to the identity's state, creating a fresh
// window on first use. Callers holding the same identity are serialized until Release.
func (s *WindowStore) Acquire(identity string) *Handle {
	for {
		entry := s.getOrCreate(identity)
		entry.mu.Lock()
		if !entry.removed {
			return &Handle{entry: entry}
		}
		// Reset or evicted between lookup and lock; look again.
		entry.mu.Unlock()
	}
}

func (s *WindowStore) getOrCreate(identity string) *windowEntry {
	// Try read lock first (fast path - entry exists)
	s.mu.RLock()
	entry, exists := s.entries[identity]
	s.mu.RUnlock()
	if exists {
		return entry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check: another goroutine might have created it
	if entry, exists = s.entries[identity]; exists {
		return entry
	}

	now := s.clock.Now()
	entry = &windowEntry{
		state:    s.window.NewState(now),
		lastSeen: now,
	}
	s.entries[identity] = entry
	return entry
}

// State returns the identity's current window state.
func (h *Handle) State() core.WindowState {
	return h.entry.state
}

// Update replaces the identity's state and marks it as seen at now.
func (h *Handle) Update(state core.WindowState, now time.Time) {
	h.entry.state = state
	h.entry.lastSeen = now
}

// Release gives up exclusive access.
func (h *Handle) Release() {
	h.entry.mu.Unlock()
}

// Peek returns the identity's state without creating or touching it.
func (s *WindowStore) Peek(identity string) (core.WindowState, bool) {
	s.mu.RLock()
	entry, exists := s.entries[identity]
	s.mu.RUnlock()
	if !exists {
		return core.WindowState{}, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.removed {
		return core.WindowState{}, false
	}
	return entry.state, true
}

// Delete removes the identity's entry. The next Acquire starts a fresh window.
// Returns false if the identity was unknown.
func (s *WindowStore) Delete(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[identity]
	if !exists {
		return false
	}
	delete(s.entries, identity)
	entry.markRemoved()
	return true
}

// Clear removes every entry and returns how many were removed.
func (s *WindowStore) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := len(s.entries)
	for _, entry := range s.entries {
		entry.markRemoved()
	}
	s.entries = make(map[string]*windowEntry)
	return removed
}

func (e *windowEntry) markRemoved() {
	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
}

// Cleanup evicts entries whose window has expired and that have been idle longer
// than the store's idle TTL. An evicted entry would have been reset by its next
// check anyway, so eviction never changes a decision.
// Returns the number of entries removed.
func (s *WindowStore) Cleanup() int {
	if s.idleTTL == 0 {
		return 0 // Cleanup disabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0

	for identity, entry := range s.entries {
		entry.mu.Lock()
		if now.Sub(entry.lastSeen) > s.idleTTL && s.window.Expired(entry.state, now) {
			entry.removed = true
			delete(s.entries, identity)
			removed++
		}
		entry.mu.Unlock()
	}

	return removed
}

// Count returns the number of identities currently tracked.
func (s *WindowStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// StartBackgroundCleanup starts a goroutine that calls Cleanup every interval.
// Call the returned function to stop it; calling it more than once is safe.
func (s *WindowStore) StartBackgroundCleanup(interval time.Duration) func() {
	if s.idleTTL == 0 || interval <= 0 {
		// Return no-op function if cleanup is disabled
		return func() {}
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := s.Cleanup(); removed > 0 {
					s.logger.Debug("evicted idle identities",
						zap.Int("removed", removed),
						zap.Int("remaining", s.Count()))
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
