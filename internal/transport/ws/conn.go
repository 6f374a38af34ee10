// Package ws provides the WebSocket transport for the chat server and client.
// Every text frame carries exactly one record.
package ws

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/lanchat/internal/chat"
)

const closeWriteWait = 100 * time.Millisecond

// Conn adapts a WebSocket connection to chat.Conn.
type Conn struct {
	conn   net.Conn
	reader io.Reader
	state  ws.State

	// guards frame writes, including control replies issued while reading
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewServerConn wraps an upgraded server side connection.
// reader must be the reader the handshake was read from.
func NewServerConn(conn net.Conn, reader io.Reader) *Conn {
	return &Conn{conn: conn, reader: reader, state: ws.StateServerSide}
}

// NewClientConn wraps a dialed client side connection.
func NewClientConn(conn net.Conn, reader io.Reader) *Conn {
	return &Conn{conn: conn, reader: reader, state: ws.StateClientSide}
}

// Upgrade performs the server handshake on conn. The request may already be
// partially buffered in reader by protocol detection.
func Upgrade(conn net.Conn, reader *bufio.Reader) (*Conn, error) {
	rw := struct {
		io.Reader
		io.Writer
	}{reader, conn}

	if _, err := ws.Upgrade(rw); err != nil {
		return nil, err
	}
	return NewServerConn(conn, reader), nil
}

// Read implements chat.Conn.
// Control frames are answered inline; a close frame yields io.EOF.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	rd := &wsutil.Reader{
		Source:         c.reader,
		State:          c.state,
		CheckUTF8:      true,
		OnIntermediate: c.handleControl,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, err
		}

		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, rd); err != nil {
				var closed wsutil.ClosedError
				if errors.As(err, &closed) {
					return nil, io.EOF
				}
				return nil, err
			}
			continue
		}

		if hdr.OpCode != ws.OpText && hdr.OpCode != ws.OpBinary {
			if err := rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}

		return io.ReadAll(rd)
	}
}

// Write implements chat.Conn.
func (c *Conn) Write(ctx context.Context, record []byte) error {
	if bytes.ContainsAny(record, "\r\n") {
		return chat.ErrEmbeddedNewline
	}

	frame := ws.NewTextFrame(record)
	if c.state.ClientSide() {
		frame = ws.MaskFrame(frame)
	}
	data, err := ws.CompileFrame(frame)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	_, err = c.conn.Write(data)
	return err
}

// Close implements chat.Conn.
// A close frame is sent only if no write is in flight.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.writeMu.TryLock() {
			frame := ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
			if c.state.ClientSide() {
				frame = ws.MaskFrame(frame)
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(closeWriteWait))
			_ = ws.WriteFrame(c.conn, frame)
			c.writeMu.Unlock()
		}
		err = c.conn.Close()
	})
	return err
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Conn) handleControl(hdr ws.Header, r io.Reader) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.ControlFrameHandler(c.conn, c.state)(hdr, r)
}

// Dialer opens WebSocket connections to a chat server.
type Dialer struct {
	// Timeout bounds the connect and handshake.
	Timeout time.Duration
	// Path is the request path, "/" when empty.
	Path string
}

// Dial connects to address ("host:port").
func (d Dialer) Dial(ctx context.Context, address string) (chat.Conn, error) {
	path := d.Path
	if path == "" {
		path = "/"
	}

	dialer := ws.Dialer{Timeout: d.Timeout}
	conn, br, _, err := dialer.Dial(ctx, "ws://"+address+path)
	if err != nil {
		return nil, err
	}

	var reader io.Reader = conn
	if br != nil {
		reader = br
	}
	return NewClientConn(conn, reader), nil
}
