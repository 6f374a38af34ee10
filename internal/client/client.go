// Package client implements the chat client: a connection state machine with
// bounded reconnection, plus the send operations a chat view needs.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/omochice/lanchat/internal/chat"
	"github.com/omochice/lanchat/internal/transport/tcp"
	"github.com/omochice/lanchat/pkg/protocol"
)

const leaveTimeout = time.Second

// Connect failures are reported as ErrConnectTimeout or ErrConnectRefused
// wrapping the dial error.
var (
	ErrConnectTimeout   = errors.New("connection timed out")
	ErrConnectRefused   = errors.New("connection refused")
	ErrNotConnected     = errors.New("not connected to server")
	ErrAlreadyConnected = errors.New("already connected")
)

// Dialer opens a transport connection to a chat server.
type Dialer interface {
	Dial(ctx context.Context, address string) (chat.Conn, error)
}

// Client is a chat client. Events from the server and status changes are
// delivered on Events.
type Client struct {
	dialer         Dialer
	dialTimeout    time.Duration
	reconnectDelay time.Duration
	maxAttempts    int
	typingInterval time.Duration
	logger         zerolog.Logger
	events         chan protocol.Event
	now            func() time.Time

	mu       sync.Mutex
	status   protocol.ConnectionStatus
	user     protocol.User
	address  string
	conn     chat.Conn
	cancel   context.CancelFunc
	attempts int
	lastTS   int64
	typing   *rate.Limiter

	// receive loops, including any reconnect backoff they run
	wg sync.WaitGroup
}

// New creates a disconnected client.
func New(opts ...Option) *Client {
	c := &Client{
		dialer:         tcp.Dialer{},
		dialTimeout:    DefaultDialTimeout,
		reconnectDelay: DefaultReconnectDelay,
		maxAttempts:    DefaultReconnectAttempts,
		typingInterval: DefaultTypingInterval,
		logger:         zerolog.Nop(),
		events:         make(chan protocol.Event, defaultEventBuffer),
		now:            time.Now,
		status:         protocol.StatusDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.typing = c.newTypingLimiter()
	return c
}

// Events returns the stream of received chat events and status changes.
// The channel is never closed; events are dropped when it is full.
func (c *Client) Events() <-chan protocol.Event {
	return c.events
}

// Status returns the connection state.
func (c *Client) Status() protocol.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// User returns the identity of the current or last session.
func (c *Client) User() protocol.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Connect opens a connection to host:port and joins as user. It is accepted
// only from Disconnected or Error. On failure the client ends in Error.
func (c *Client) Connect(ctx context.Context, host string, port int, user protocol.User) error {
	c.mu.Lock()
	if c.status != protocol.StatusDisconnected && c.status != protocol.StatusError {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	if c.cancel != nil {
		c.cancel()
	}
	sessCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.user = user
	c.address = net.JoinHostPort(host, strconv.Itoa(port))
	c.attempts = 0
	c.setStatusLocked(protocol.StatusConnecting)
	address := c.address
	c.mu.Unlock()

	// Disconnect during the dial aborts it
	dialCtx, cancelDial := context.WithCancel(ctx)
	stop := context.AfterFunc(sessCtx, cancelDial)
	conn, err := c.open(dialCtx, address)
	stop()
	cancelDial()

	c.mu.Lock()
	if sessCtx.Err() != nil {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return context.Canceled
	}
	if err != nil {
		c.setStatusLocked(protocol.StatusError)
		c.mu.Unlock()
		c.logger.Warn().Err(err).Str("address", address).Msg("Connection failed")
		return err
	}
	c.attachLocked(conn)
	c.mu.Unlock()

	c.logger.Info().Str("address", address).Str("user_id", user.UserID).Msg("Connected")
	c.start(sessCtx, conn)
	return nil
}

// Disconnect leaves the chat and closes the connection. It also cancels a
// pending reconnection. Calling it again is a no-op.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.status == protocol.StatusDisconnected {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	leave := protocol.UserLeft{User: c.user, Timestamp: c.nextTimestampLocked()}
	cancel := c.cancel
	c.setStatusLocked(protocol.StatusDisconnected)
	c.mu.Unlock()

	if conn != nil {
		ctx, done := context.WithTimeout(context.Background(), leaveTimeout)
		if err := c.write(ctx, conn, leave); err != nil {
			c.logger.Debug().Err(err).Msg("Leave not delivered")
		}
		done()
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.logger.Info().Msg("Disconnected")
}

// SendText sends a text message stamped with the current time. A write
// failure is logged and returned but does not change the connection state;
// loss is detected only by the receive loop.
func (c *Client) SendText(ctx context.Context, text string) error {
	conn, user, ts, err := c.prepare()
	if err != nil {
		return err
	}
	return c.write(ctx, conn, protocol.TextMessage{User: user, Text: text, Timestamp: ts})
}

// SendImage compresses raw and sends it as an image message. Nothing is sent
// when raw cannot be decoded. Write failures are reported as for SendText.
func (c *Client) SendImage(ctx context.Context, raw []byte) error {
	encoded, err := protocol.CompressImage(raw, protocol.DefaultMaxImageWidth, protocol.DefaultImageQuality)
	if err != nil {
		return err
	}

	conn, user, ts, err := c.prepare()
	if err != nil {
		return err
	}
	return c.write(ctx, conn, protocol.ImageMessage{User: user, ImageData: encoded, Timestamp: ts})
}

// SendTyping sends a typing indicator. isTyping=true is sent at most once per
// typing interval; isTyping=false is always sent and re-arms the throttle.
// Write failures are reported as for SendText.
func (c *Client) SendTyping(ctx context.Context, isTyping bool) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if isTyping {
		if !c.typing.Allow() {
			c.mu.Unlock()
			return nil
		}
	} else {
		c.typing = c.newTypingLimiter()
	}
	user := c.user
	c.mu.Unlock()

	return c.write(ctx, conn, protocol.TypingIndicator{User: user, IsTyping: isTyping})
}

func (c *Client) newTypingLimiter() *rate.Limiter {
	if c.typingInterval == 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(c.typingInterval), 1)
}

// prepare returns what a timestamped send needs.
func (c *Client) prepare() (chat.Conn, protocol.User, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, protocol.User{}, 0, ErrNotConnected
	}
	return c.conn, c.user, c.nextTimestampLocked(), nil
}

// nextTimestampLocked never goes below the previous value, even if the wall
// clock steps back.
func (c *Client) nextTimestampLocked() int64 {
	ts := c.now().UnixMilli()
	if ts < c.lastTS {
		ts = c.lastTS
	}
	c.lastTS = ts
	return ts
}

// write encodes e onto conn. A failure is reported to the caller but leaves
// the connection state alone; only the receive loop detects loss.
func (c *Client) write(ctx context.Context, conn chat.Conn, e protocol.Event) error {
	line, err := protocol.Encode(e)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, line); err != nil {
		c.logger.Warn().Err(err).Stringer("kind", e.Kind()).Msg("Failed to send record")
		return fmt.Errorf("failed to send %s: %w", e.Kind(), err)
	}
	return nil
}

func (c *Client) open(ctx context.Context, address string) (chat.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	conn, err := c.dialer.Dial(ctx, address)
	if err == nil {
		return conn, nil
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectTimeout, address, err)
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrConnectRefused, address, err)
}

// attachLocked installs conn as the live connection and reserves its receive loop.
func (c *Client) attachLocked(conn chat.Conn) {
	c.conn = conn
	c.attempts = 0
	c.setStatusLocked(protocol.StatusConnected)
	c.wg.Add(1)
}

// start announces the user on conn and runs its receive loop. The caller has
// already reserved the loop with attachLocked.
func (c *Client) start(ctx context.Context, conn chat.Conn) {
	c.mu.Lock()
	join := protocol.UserJoined{User: c.user, Timestamp: c.nextTimestampLocked()}
	c.mu.Unlock()

	if err := c.write(ctx, conn, join); err != nil {
		c.logger.Debug().Err(err).Msg("Join not delivered")
	}
	go c.receive(ctx, conn)
}

func (c *Client) receive(ctx context.Context, conn chat.Conn) {
	defer c.wg.Done()

	for {
		line, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.handleLoss(ctx, conn, err)
			}
			return
		}

		event, err := protocol.Decode(line)
		if err != nil {
			c.logger.Debug().Err(err).Msg("Dropping malformed record")
			continue
		}
		c.emit(event)
	}
}

// handleLoss retries the connection a bounded number of times. It acts only
// while conn is still the live connection.
func (c *Client) handleLoss(ctx context.Context, conn chat.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn || (c.status != protocol.StatusConnected && c.status != protocol.StatusReconnecting) {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.setStatusLocked(protocol.StatusReconnecting)
	address := c.address
	c.mu.Unlock()

	_ = conn.Close()
	c.logger.Warn().Err(cause).Msg("Connection lost, reconnecting")

	for {
		c.mu.Lock()
		if c.attempts >= c.maxAttempts {
			if ctx.Err() == nil {
				c.setStatusLocked(protocol.StatusError)
			}
			c.mu.Unlock()
			c.logger.Error().Err(cause).Str("address", address).Msg("Could not reconnect")
			return
		}
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		timer := time.NewTimer(c.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		next, err := c.open(ctx, address)
		if err != nil {
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Reconnect attempt failed")
			cause = err
			continue
		}

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			_ = next.Close()
			return
		}
		c.attachLocked(next)
		c.mu.Unlock()

		c.logger.Info().Int("attempt", attempt).Msg("Reconnected")
		c.start(ctx, next)
		return
	}
}

func (c *Client) setStatusLocked(status protocol.ConnectionStatus) {
	c.status = status
	c.emit(protocol.ConnectionStatusChanged{Status: status})
}

// emit never blocks; a full buffer drops the event.
func (c *Client) emit(e protocol.Event) {
	select {
	case c.events <- e:
	default:
		c.logger.Warn().Stringer("kind", e.Kind()).Msg("Event buffer full, dropping event")
	}
}
