package notify

import "sync"

// Session holds the notification deduplication state for the lifetime of
// one daemon process.
type Session struct {
	mu sync.Mutex

	// Tabs already told that the room URL was copied.
	copiedTabs map[string]bool

	// The last access key that could not be resolved to a room.
	lastUnknownAccessKey string
}

// NewSession returns an empty Session.
func NewSession() *Session {
	return &Session{copiedTabs: make(map[string]bool)}
}

// FirstCopyForTab reports whether this is the first auto-copy for tabID and
// marks it. An empty tabID never qualifies.
func (s *Session) FirstCopyForTab(tabID string) bool {
	if tabID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.copiedTabs[tabID] {
		return false
	}
	s.copiedTabs[tabID] = true
	return true
}

// ForgetTab drops the state held for a closed tab.
func (s *Session) ForgetTab(tabID string) {
	s.mu.Lock()
	delete(s.copiedTabs, tabID)
	s.mu.Unlock()
}

// FirstUnknownAccessKey reports whether key differs from the last unresolved
// access key and records it.
func (s *Session) FirstUnknownAccessKey(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key == s.lastUnknownAccessKey {
		return false
	}
	s.lastUnknownAccessKey = key
	return true
}

// ResetUnknownAccessKey clears the unresolved access key after a successful
// sync.
func (s *Session) ResetUnknownAccessKey() {
	s.mu.Lock()
	s.lastUnknownAccessKey = ""
	s.mu.Unlock()
}
