// Package server implements the LAN chat server. Raw line clients and
// WebSocket clients share one port, one roster and one broadcast domain.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/lanchat/internal/chat"
	"github.com/omochice/lanchat/internal/netutil"
	"github.com/omochice/lanchat/internal/transport/tcp"
	"github.com/omochice/lanchat/pkg/protocol"
)

// DefaultPort is the port clients expect the server on.
const DefaultPort = 8080

const (
	defaultWriteTimeout = 10 * time.Second
	fallbackIP            = "127.0.0.1"

	msgPortInUse = "Port already in use. Close other apps using network."
	msgBindFail  = "Failed to start server: "
)

var (
	// ErrPortInUse is returned by Start when another process holds the port.
	ErrPortInUse = errors.New("port already in use")
	// ErrBind is returned by Start for any other listen failure.
	ErrBind = errors.New("failed to bind")
	// ErrAlreadyRunning is returned by Start on a running server.
	ErrAlreadyRunning = errors.New("server already running")
)

// Server accepts chat connections and relays every record to all joined users.
type Server struct {
	address      string
	logger       zerolog.Logger
	queueSize    int
	writeTimeout time.Duration

	hub *chat.Hub

	mu       sync.Mutex
	status   protocol.ServerStatus
	lastErr  string
	display  string
	listener *tcp.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used by the server and its connections.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithQueueSize sets how many records each joined connection may have queued.
// A peer whose queue overflows is dropped.
func WithQueueSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithWriteTimeout bounds a single write to a peer. A peer that cannot take a
// record within the timeout is dropped.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// New creates a server that will listen on address, e.g. ":8080".
func New(address string, opts ...Option) *Server {
	s := &Server{
		address:      address,
		logger:       zerolog.Nop(),
		queueSize:    chat.DefaultQueueSize,
		writeTimeout: defaultWriteTimeout,
		status:       protocol.ServerStopped,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = chat.NewHub(chat.WithQueueSize(s.queueSize))
	return s
}

// Start binds the listening socket and begins accepting connections.
// It returns the LAN address to show users, as "ip:port".
func (s *Server) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.display, ErrAlreadyRunning
	}
	s.status = protocol.ServerStarting

	listener := tcp.New(s.address, s.logger)
	if err := listener.Listen(); err != nil {
		s.status = protocol.ServerError
		s.logger.Error().Err(err).Str("addr", s.address).Msg("Failed to start server")
		if errors.Is(err, syscall.EADDRINUSE) {
			s.lastErr = msgPortInUse
			return "", fmt.Errorf("%w: %w", ErrPortInUse, err)
		}
		s.lastErr = msgBindFail + err.Error()
		return "", fmt.Errorf("%w: %w", ErrBind, err)
	}

	ip, err := netutil.LocalIPv4()
	if err != nil {
		s.logger.Warn().Err(err).Msg("No LAN address found, advertising loopback")
		ip = fallbackIP
	}

	s.listener = listener
	s.display = net.JoinHostPort(ip, strconv.Itoa(listener.Port()))
	s.status = protocol.ServerRunning
	s.lastErr = ""

	listener.Serve(s.serveConn)
	s.logger.Info().Str("address", s.display).Msg("Chat server running")
	return s.display, nil
}

// Stop closes every connection and the listening socket, then waits for all
// handlers to return. Calling Stop on a stopped or failed server only resets
// its status.
func (s *Server) Stop() {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.display = ""
	s.status = protocol.ServerStopped
	s.mu.Unlock()

	if listener == nil {
		return
	}

	s.hub.CloseAll()
	_ = listener.Close()
	listener.Wait()
	s.logger.Info().Msg("Chat server stopped")
}

// Status returns the lifecycle state.
func (s *Server) Status() protocol.ServerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastError returns the message of the last failed Start, or "".
func (s *Server) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Address returns the display address while running.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.display
}

// Addr returns the bound listener address, suitable for dialing.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr()
}

// ConnectedUsers returns the number of joined users.
func (s *Server) ConnectedUsers() int {
	return s.hub.UserCount()
}

// Roster returns the joined users in join order.
func (s *Server) Roster() []protocol.User {
	return s.hub.Roster()
}

func (s *Server) serveConn(raw net.Conn) {
	logger := s.logger.With().Str("remote_addr", raw.RemoteAddr().String()).Logger()

	conn, kind, err := wrapConn(raw)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			logger.Debug().Err(err).Msg("Failed to set up connection")
		}
		return
	}
	logger = logger.With().Stringer("transport", kind).Logger()
	logger.Debug().Msg("Connection accepted")

	s.handle(conn, logger)
}

// handle relays records from conn until it closes. Once conn joins, its
// session writer runs alongside and is waited for on the way out.
func (s *Server) handle(conn chat.Conn, logger zerolog.Logger) {
	s.hub.Add(conn)
	logger.Debug().Int("connections", s.hub.ConnCount()).Msg("Connection registered")

	// writeLoop has already logged its error
	var writer errgroup.Group
	defer func() { _ = writer.Wait() }()
	defer s.teardown(conn, logger)

	ctx := context.Background()
	for {
		line, err := conn.Read(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug().Err(err).Msg("Connection read ended")
			}
			return
		}

		event, err := protocol.Decode(line)
		if err != nil {
			logger.Debug().Err(err).Msg("Dropping malformed record")
			continue
		}

		// WebSocket frames may carry pretty-printed JSON; line peers need it compact
		if bytes.ContainsAny(line, "\r\n") {
			if line, err = protocol.Encode(event); err != nil {
				continue
			}
		}

		if joined, ok := event.(protocol.UserJoined); ok {
			if sess := s.join(joined.User, conn, logger); sess != nil {
				writer.Go(func() error { return s.writeLoop(sess, logger) })
			}
		}
		s.broadcast(line)
	}
}

// join registers the session and queues a roster snapshot for the joining
// connection ahead of any broadcast. A connection that already joined is left
// unchanged and nil is returned.
func (s *Server) join(user protocol.User, conn chat.Conn, logger zerolog.Logger) *chat.Session {
	sess, ok := s.hub.Join(conn, user)
	if !ok {
		return nil
	}
	logger.Info().
		Str("user_id", user.UserID).
		Str("username", user.Username).
		Int("users", s.hub.UserCount()).
		Msg("User joined")

	snapshot, err := protocol.Encode(protocol.UserListUpdate{Users: s.hub.Roster()})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode roster")
		return sess
	}
	sess.Send(snapshot)
	return sess
}

// writeLoop drains the session queue. A failed write closes the connection,
// whose handler then tears it down.
func (s *Server) writeLoop(sess *chat.Session, logger zerolog.Logger) error {
	err := sess.Serve(s.writeTimeout)
	if err != nil && !errors.Is(err, chat.ErrSessionClosed) {
		logger.Warn().Err(err).Str("user_id", sess.User.UserID).Msg("Write failed, dropping connection")
		_ = sess.Conn.Close()
	}
	return err
}

// broadcast queues line for every joined connection without waiting on any
// of them. A connection whose queue is full is closed.
func (s *Server) broadcast(line []byte) {
	for _, sess := range s.hub.Sessions() {
		if sess.Send(line) {
			continue
		}
		s.logger.Warn().
			Str("user_id", sess.User.UserID).
			Str("remote_addr", sess.Conn.RemoteAddr()).
			Msg("Outgoing queue full, dropping connection")
		_ = sess.Conn.Close()
	}
}

// teardown removes conn and tells the remaining users when it took a roster
// entry with it.
func (s *Server) teardown(conn chat.Conn, logger zerolog.Logger) {
	_ = conn.Close()

	sess, ok := s.hub.Remove(conn)
	logger.Debug().Int("connections", s.hub.ConnCount()).Msg("Connection closed")
	if !ok {
		return
	}
	logger.Info().
		Str("user_id", sess.User.UserID).
		Dur("session", time.Since(sess.JoinedAt)).
		Int("users", s.hub.UserCount()).
		Msg("User left")

	left, err := protocol.Encode(protocol.UserLeft{User: sess.User, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode leave")
		return
	}
	s.broadcast(left)
}
