package tcp_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/lanchat/internal/chat"
	"github.com/omochice/lanchat/internal/transport/tcp"
)

func TestConn_ReadLines(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	conn := tcp.NewConn(server)

	go func() {
		client.Write([]byte("first\nsecond\r\nthi"))
		client.Write([]byte("rd\nlast-unterminated"))
		client.Close()
	}()

	ctx := context.Background()
	for _, want := range []string{"first", "second", "third", "last-unterminated"} {
		got, err := conn.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}

	_, err := conn.Read(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestConn_ReadLongLine(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	conn := tcp.NewConn(server)

	long := strings.Repeat("x", 256*1024)
	go func() {
		client.Write([]byte(long + "\n"))
		client.Close()
	}()

	got, err := conn.Read(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, len(long))
}

func TestConn_Write(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	conn := tcp.NewConn(server)

	go func() {
		_ = conn.Write(context.Background(), []byte(`{"type":"typing"}`))
	}()

	line, err := bufio.NewReader(client).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "{\"type\":\"typing\"}\n", line)
}

func TestConn_WriteRejectsEmbeddedNewline(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	conn := tcp.NewConn(server)

	err := conn.Write(context.Background(), []byte("a\nb"))
	assert.ErrorIs(t, err, chat.ErrEmbeddedNewline)
}

func TestConn_ConcurrentWritesKeepLinesIntact(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	conn := tcp.NewConn(server)

	const writers, perWriter = 8, 20
	record := strings.Repeat("r", 512)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				_ = conn.Write(context.Background(), []byte(record))
			}
		}()
	}

	reader := bufio.NewReader(client)
	for i := 0; i < writers*perWriter; i++ {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, record+"\n", line)
	}
	wg.Wait()
}

func TestConn_WriteHonorsContextDeadline(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	conn := tcp.NewConn(server)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// nobody reads from client, so the pipe write can only end by deadline
	err := conn.Write(ctx, []byte("stuck"))
	assert.Error(t, err)
}

func TestConn_CloseUnblocksRead(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	conn := tcp.NewConn(server)

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.Read(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, conn.Close())

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Read did not return after Close")
	}
}

func TestDialer_Dial(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		c, err := listener.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		line, _ := bufio.NewReader(c).ReadString('\n')
		c.Write([]byte("echo:" + line))
	}()

	conn, err := tcp.Dialer{Timeout: time.Second}.Dial(context.Background(), listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Write(context.Background(), []byte("ping")))
	got, err := conn.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(got))
	assert.Equal(t, listener.Addr().String(), conn.RemoteAddr())
}

func TestDialer_Refused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	_, err = tcp.Dialer{Timeout: time.Second}.Dial(context.Background(), addr)
	assert.Error(t, err)
}
