package tcp

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Server accepts TCP connections and hands each one to its own goroutine.
type Server struct {
	address  string
	listener net.Listener
	logger   zerolog.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a TCP server for address. Nothing is bound until Listen.
func New(address string, logger zerolog.Logger) *Server {
	return &Server{
		address: address,
		logger:  logger,
		conns:   make(map[net.Conn]struct{}),
		quit:    make(chan struct{}),
	}
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	s.listener = listener
	s.logger.Info().Str("addr", listener.Addr().String()).Msg("TCP listener bound")
	return nil
}

// Serve runs the accept loop in the background. Each accepted connection is passed
// to handle on its own goroutine and closed when handle returns.
func (s *Server) Serve(handle func(net.Conn)) {
	s.wg.Add(1)
	go s.acceptLoop(handle)
}

// Close stops accepting and closes every connection still being handled.
// Blocked reads on those connections return promptly.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			err = s.listener.Close()
		}

		s.mu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()
	})
	return err
}

// Wait blocks until the accept loop and every handler have returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Port returns the bound port, or 0 before Listen.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

func (s *Server) acceptLoop(handle func(net.Conn)) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("Failed to accept TCP connection")
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if !s.track(conn) {
			_ = conn.Close()
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			handle(conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.quit:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}
