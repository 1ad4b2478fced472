package usecase

import (
	"sync"

	"support-chat/internal/domain"
)

// conversationLocks serializes work per conversation. Entries are
// reference-counted and removed once no caller holds or waits on them.
type conversationLocks struct {
	mu      sync.Mutex
	entries map[domain.ConversationID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{entries: make(map[domain.ConversationID]*lockEntry)}
}

// lock blocks until id is free and returns the matching unlock func.
func (l *conversationLocks) lock(id domain.ConversationID) func() {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()

		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}

func (l *conversationLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
