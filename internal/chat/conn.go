// Package chat provides the core chat domain logic shared by all transports.
package chat

import (
	"context"
	"errors"
)

// ErrEmbeddedNewline is returned when a record handed to a writer contains a line break.
var ErrEmbeddedNewline = errors.New("record contains a line break")

// Conn abstracts a bidirectional record stream for both raw TCP lines and WebSocket frames.
// This interface isolates transport details from chat logic.
type Conn interface {
	// Read reads a single record, without its terminator.
	// Returns io.EOF when the connection is closed.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single record. Safe for concurrent use.
	Write(ctx context.Context, record []byte) error

	// Close closes the connection. A pending Read returns promptly.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
