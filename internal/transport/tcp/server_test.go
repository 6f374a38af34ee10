package tcp_test

import (
	"bufio"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/lanchat/internal/transport/tcp"
)

func echoHandler(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		conn.Write([]byte(line))
	}
}

func TestServer_Start(t *testing.T) {
	srv := tcp.New("127.0.0.1:0", zerolog.Nop())
	require.NoError(t, srv.Listen())
	srv.Serve(echoHandler)
	defer func() {
		srv.Close()
		srv.Wait()
	}()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	conn.Write([]byte("hello\n"))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)
}

func TestServer_Addr(t *testing.T) {
	srv := tcp.New("127.0.0.1:0", zerolog.Nop())
	assert.Empty(t, srv.Addr())
	assert.Zero(t, srv.Port())

	require.NoError(t, srv.Listen())
	defer srv.Close()

	assert.NotEmpty(t, srv.Addr())
	assert.NotZero(t, srv.Port())
}

func TestServer_ListenAddressInUse(t *testing.T) {
	first := tcp.New("127.0.0.1:0", zerolog.Nop())
	require.NoError(t, first.Listen())
	defer first.Close()

	second := tcp.New(first.Addr(), zerolog.Nop())
	assert.Error(t, second.Listen())
}

func TestServer_Stop(t *testing.T) {
	srv := tcp.New("127.0.0.1:0", zerolog.Nop())
	require.NoError(t, srv.Listen())
	srv.Serve(echoHandler)

	require.NoError(t, srv.Close())
	srv.Wait()

	_, err := net.Dial("tcp", srv.Addr())
	assert.Error(t, err, "expected error after stop")
	assert.NoError(t, srv.Close(), "Close is idempotent")
}

func TestServer_CloseUnblocksSilentConnections(t *testing.T) {
	srv := tcp.New("127.0.0.1:0", zerolog.Nop())
	require.NoError(t, srv.Listen())

	var handled atomic.Int32
	srv.Serve(func(conn net.Conn) {
		handled.Add(1)
		buf := make([]byte, 1)
		conn.Read(buf)
	})

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return handled.Load() == 1 }, time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		srv.Close()
		srv.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Close")
	}
}
