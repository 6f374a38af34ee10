package server

import (
	"bufio"
	"net"

	"github.com/omochice/lanchat/internal/chat"
	"github.com/omochice/lanchat/internal/transport/tcp"
	"github.com/omochice/lanchat/internal/transport/ws"
)

type transportKind int

const (
	transportLine transportKind = iota
	transportWebSocket
)

func (k transportKind) String() string {
	if k == transportWebSocket {
		return "websocket"
	}
	return "tcp"
}

// detectTransport peeks at the first byte to tell the protocols apart.
// A WebSocket handshake starts with "GET"; a line record starts with '{'.
func detectTransport(conn net.Conn) (transportKind, *bufio.Reader, error) {
	reader := bufio.NewReader(conn)

	peek, err := reader.Peek(1)
	if err != nil {
		return transportLine, reader, err
	}
	if peek[0] == 'G' {
		return transportWebSocket, reader, nil
	}
	return transportLine, reader, nil
}

// wrapConn adapts an accepted connection to chat.Conn, completing the
// WebSocket handshake when needed.
func wrapConn(conn net.Conn) (chat.Conn, transportKind, error) {
	kind, reader, err := detectTransport(conn)
	if err != nil {
		return nil, kind, err
	}

	if kind == transportWebSocket {
		wsConn, err := ws.Upgrade(conn, reader)
		if err != nil {
			return nil, kind, err
		}
		return wsConn, kind, nil
	}
	return tcp.NewConnWithReader(conn, reader), kind, nil
}
