package dispatch

import "sync"

// chatLocks hands out one mutex per chat. Entries are reference counted and
// removed when the last holder or waiter is done, so the map only holds chats
// with a send in progress.
type chatLocks struct {
	mu sync.Mutex
	m  map[int64]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

func newChatLocks() *chatLocks {
	return &chatLocks{m: make(map[int64]*chatLock)}
}

// lock blocks until chatID is free and returns its unlock func.
func (l *chatLocks) lock(chatID int64) func() {
	l.mu.Lock()
	cl := l.m[chatID]
	if cl == nil {
		cl = &chatLock{}
		l.m[chatID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.m, chatID)
		}
		l.mu.Unlock()
	}
}

func (l *chatLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
