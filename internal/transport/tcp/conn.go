// Package tcp provides the newline-framed TCP transport for the chat server and client.
package tcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/omochice/lanchat/internal/chat"
)

// Conn adapts net.Conn to chat.Conn: one record per line.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex
}

// NewConn wraps a net.Conn.
func NewConn(conn net.Conn) *Conn {
	return NewConnWithReader(conn, bufio.NewReader(conn))
}

// NewConnWithReader wraps a net.Conn whose first bytes were already buffered,
// e.g. by protocol detection.
func NewConnWithReader(conn net.Conn, reader *bufio.Reader) *Conn {
	return &Conn{conn: conn, reader: reader}
}

// Read implements chat.Conn.
// Lines have no length limit. A final unterminated line is returned before io.EOF.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return bytes.TrimRight(line, "\r"), nil
		}
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

// Write implements chat.Conn.
// A deadline on ctx bounds the write; otherwise it may block until the peer reads.
func (c *Conn) Write(ctx context.Context, record []byte) error {
	if bytes.ContainsAny(record, "\r\n") {
		return chat.ErrEmbeddedNewline
	}

	buf := make([]byte, 0, len(record)+1)
	buf = append(buf, record...)
	buf = append(buf, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	_, err := c.conn.Write(buf)
	return err
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Dialer opens newline-framed TCP connections.
type Dialer struct {
	// Timeout bounds the connection attempt. Zero means no limit beyond ctx.
	Timeout time.Duration
}

// Dial connects to address ("host:port").
func (d Dialer) Dial(ctx context.Context, address string) (chat.Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return NewConn(conn), nil
}
