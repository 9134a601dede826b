// Package realtime implements the websocket side of the service: the
// subscription registry that maps sessions to chats and users, the session
// type with its bounded outbound queue, and the gateway that upgrades HTTP
// connections and routes client frames.
package realtime

import (
	"errors"
	"sort"
	"sync"
)

// ErrUnknownSession is returned for a session that was never registered or
// has been dropped.
var ErrUnknownSession = errors.New("unknown session")

// Endpoint is a live client connection as seen by the registry and the
// dispatcher.
type Endpoint interface {
	ID() string
	UserID() int64
	// Echo reports whether the client wants its own sends delivered back.
	Echo() bool
	// Enqueue queues a frame without blocking. It reports false when the
	// frame was not accepted (queue overflow or closed session).
	Enqueue(frame []byte) bool
	Close()
}

const shardCount = 32

type chatShard struct {
	mu   sync.RWMutex
	subs map[int64]map[string]struct{}
}

type member struct {
	ep      Endpoint
	mu      sync.Mutex
	chats   map[int64]struct{}
	dropped bool
}

// Registry tracks which sessions exist, whom they belong to and which chats
// they joined. All methods are safe for concurrent use and never block on
// I/O. Chat subscriptions are sharded so that joins in unrelated chats do
// not contend.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*member
	users    map[int64]map[string]struct{}

	shards [shardCount]chatShard
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{
		sessions: make(map[string]*member),
		users:    make(map[int64]map[string]struct{}),
	}
	for i := range r.shards {
		r.shards[i].subs = make(map[int64]map[string]struct{})
	}
	return r
}

func (r *Registry) shard(chatID int64) *chatShard {
	return &r.shards[uint64(chatID)%shardCount]
}

// Register adds ep. Registering an id twice replaces nothing and reports
// false.
func (r *Registry) Register(ep Endpoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := ep.ID()
	if _, ok := r.sessions[id]; ok {
		return false
	}
	r.sessions[id] = &member{ep: ep, chats: make(map[int64]struct{})}
	set := r.users[ep.UserID()]
	if set == nil {
		set = make(map[string]struct{})
		r.users[ep.UserID()] = set
	}
	set[id] = struct{}{}
	return true
}

func (r *Registry) member(sessionID string) *member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

// Get returns the endpoint of a live session.
func (r *Registry) Get(sessionID string) (Endpoint, bool) {
	m := r.member(sessionID)
	if m == nil {
		return nil, false
	}
	return m.ep, true
}

// Join subscribes a session to a chat. Joining twice is a no-op.
func (r *Registry) Join(sessionID string, chatID int64) error {
	m := r.member(sessionID)
	if m == nil {
		return ErrUnknownSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dropped {
		return ErrUnknownSession
	}
	m.chats[chatID] = struct{}{}

	sh := r.shard(chatID)
	sh.mu.Lock()
	set := sh.subs[chatID]
	if set == nil {
		set = make(map[string]struct{})
		sh.subs[chatID] = set
	}
	set[sessionID] = struct{}{}
	sh.mu.Unlock()
	return nil
}

// Leave unsubscribes a session from a chat.
func (r *Registry) Leave(sessionID string, chatID int64) error {
	m := r.member(sessionID)
	if m == nil {
		return ErrUnknownSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dropped {
		return ErrUnknownSession
	}
	delete(m.chats, chatID)
	r.unsubscribe(sessionID, chatID)
	return nil
}

func (r *Registry) unsubscribe(sessionID string, chatID int64) {
	sh := r.shard(chatID)
	sh.mu.Lock()
	if set := sh.subs[chatID]; set != nil {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(sh.subs, chatID)
		}
	}
	sh.mu.Unlock()
}

// Joined reports whether a session is subscribed to a chat.
func (r *Registry) Joined(sessionID string, chatID int64) bool {
	m := r.member(sessionID)
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.chats[chatID]
	return ok && !m.dropped
}

// Drop removes a session and every subscription it holds. Once Drop returns,
// no snapshot taken afterwards contains the session.
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	m := r.sessions[sessionID]
	if m == nil {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sessionID)
	uid := m.ep.UserID()
	if set := r.users[uid]; set != nil {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.users, uid)
		}
	}
	r.mu.Unlock()

	m.mu.Lock()
	m.dropped = true
	for chatID := range m.chats {
		r.unsubscribe(sessionID, chatID)
	}
	clear(m.chats)
	m.mu.Unlock()
}

// Subscribers snapshots the sessions joined to a chat, sorted.
func (r *Registry) Subscribers(chatID int64) []string {
	sh := r.shard(chatID)
	sh.mu.RLock()
	out := make([]string, 0, len(sh.subs[chatID]))
	for id := range sh.subs[chatID] {
		out = append(out, id)
	}
	sh.mu.RUnlock()
	sort.Strings(out)
	return out
}

// UserSessions snapshots the live sessions of a user, sorted.
func (r *Registry) UserSessions(userID int64) []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.users[userID]))
	for id := range r.users[userID] {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Endpoints snapshots every live endpoint.
func (r *Registry) Endpoints() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Endpoint, 0, len(r.sessions))
	for _, m := range r.sessions {
		out = append(out, m.ep)
	}
	return out
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
