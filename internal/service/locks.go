package service

import "sync"

// ConversationLocks serializes mutations of one conversation inside the
// process, so the events of a conversation reach the bus in commit order.
// Entries are reference counted and freed when no holder or waiter remains.
type ConversationLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewConversationLocks() *ConversationLocks {
	return &ConversationLocks{locks: make(map[string]*lockEntry)}
}

// Lock blocks until the caller holds conversationID and returns the unlock
// function.
func (l *ConversationLocks) Lock(conversationID string) func() {
	l.mu.Lock()
	e, ok := l.locks[conversationID]
	if !ok {
		e = &lockEntry{}
		l.locks[conversationID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, conversationID)
		}
		l.mu.Unlock()
	}
}

func (l *ConversationLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
