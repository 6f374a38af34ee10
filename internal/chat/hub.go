package chat

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/omochice/lanchat/pkg/protocol"
)

// DefaultQueueSize is the number of records a session buffers for its writer.
const DefaultQueueSize = 64

// ErrSessionClosed is returned by Session.Serve once the session is removed.
var ErrSessionClosed = errors.New("session closed")

// Session binds a connection to the user identity it joined with. Records for
// the connection go through a bounded queue drained by Serve.
type Session struct {
	Conn     Conn
	User     protocol.User
	JoinedAt time.Time

	outgoing  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn Conn, user protocol.User, queueSize int) *Session {
	return &Session{
		Conn:     conn,
		User:     user,
		JoinedAt: time.Now(),
		outgoing: make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}
}

// Send queues record without blocking. It reports false when the queue is
// full or the session is closed.
func (s *Session) Send(record []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.outgoing <- record:
		return true
	default:
		return false
	}
}

// Serve writes queued records to the connection until the session closes or
// a write fails. Each write is bounded by writeTimeout.
func (s *Session) Serve(writeTimeout time.Duration) error {
	for {
		select {
		case <-s.done:
			return ErrSessionClosed
		case record := <-s.outgoing:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := s.Conn.Write(ctx, record)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Hub manages all connected clients and the roster of joined users.
// TCP and WebSocket connections share a single Hub instance.
type Hub struct {
	queueSize int

	mu sync.RWMutex

	// every open connection; the session is nil until the connection joins
	conns map[Conn]*Session

	// roster entries keyed by user id, owned by the session that registered them
	roster map[string]*Session
	order  []string
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithQueueSize sets how many records each session buffers.
func WithQueueSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// NewHub creates a new Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		queueSize: DefaultQueueSize,
		conns:     make(map[Conn]*Session),
		roster:    make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Add registers an accepted connection that has not joined yet.
func (h *Hub) Add(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; !ok {
		h.conns[conn] = nil
	}
}

// Join creates the session for conn. It reports false when conn is unknown or
// already has a session. A user id already in the roster is taken over by the
// new session.
func (h *Hub) Join(conn Conn, user protocol.User) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	existing, ok := h.conns[conn]
	if !ok || existing != nil {
		return nil, false
	}

	s := newSession(conn, user, h.queueSize)
	h.conns[conn] = s
	if _, taken := h.roster[user.UserID]; !taken {
		h.order = append(h.order, user.UserID)
	}
	h.roster[user.UserID] = s
	return s, true
}

// Remove drops conn from the hub and closes its session. It returns the
// connection's session and true only when that session still owned its
// roster entry.
func (h *Hub) Remove(conn Conn) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.conns[conn]
	if !ok {
		return nil, false
	}
	delete(h.conns, conn)
	if s == nil {
		return nil, false
	}
	s.close()
	if h.roster[s.User.UserID] != s {
		return s, false
	}

	delete(h.roster, s.User.UserID)
	h.order = slices.DeleteFunc(h.order, func(id string) bool { return id == s.User.UserID })
	return s, true
}

// Sessions returns a snapshot of every joined session.
func (h *Hub) Sessions() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sessions := make([]*Session, 0, len(h.conns))
	for _, s := range h.conns {
		if s != nil {
			sessions = append(sessions, s)
		}
	}
	return sessions
}

// Roster returns the joined users in join order.
func (h *Hub) Roster() []protocol.User {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]protocol.User, 0, len(h.order))
	for _, id := range h.order {
		users = append(users, h.roster[id].User)
	}
	return users
}

// UserCount returns number of joined users.
func (h *Hub) UserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.roster)
}

// ConnCount returns number of open connections, joined or not.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll closes every connection and clears the roster.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]Conn, 0, len(h.conns))
	for c, s := range h.conns {
		conns = append(conns, c)
		if s != nil {
			s.close()
		}
	}
	clear(h.conns)
	clear(h.roster)
	h.order = nil
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
