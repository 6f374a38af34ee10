package client

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/omochice/lanchat/internal/transport/ws"
	"github.com/omochice/lanchat/pkg/protocol"
)

const (
	// DefaultDialTimeout bounds a single connection attempt.
	DefaultDialTimeout = 10 * time.Second
	// DefaultReconnectDelay is the wait before each reconnection attempt.
	DefaultReconnectDelay = 3 * time.Second
	// DefaultReconnectAttempts is how many times a lost connection is retried.
	DefaultReconnectAttempts = 3
	// DefaultTypingInterval is the minimum spacing of typing=true indicators.
	DefaultTypingInterval = 2 * time.Second

	defaultEventBuffer = 256
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDialer replaces the transport dialer. The default speaks raw lines over TCP.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithWebSocket makes the client connect over WebSocket instead of raw TCP.
func WithWebSocket() Option {
	return WithDialer(ws.Dialer{})
}

// WithDialTimeout bounds each connection attempt, including reconnects.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithReconnectDelay sets the wait before each reconnection attempt.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.reconnectDelay = d
		}
	}
}

// WithReconnectAttempts sets how many times a lost connection is retried.
// Zero disables reconnection.
func WithReconnectAttempts(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxAttempts = n
		}
	}
}

// WithTypingInterval sets how often a typing=true indicator may be sent.
// Zero disables throttling.
func WithTypingInterval(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.typingInterval = d
		}
	}
}

// WithEventBuffer sets the capacity of the Events channel.
func WithEventBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.events = make(chan protocol.Event, n)
		}
	}
}
