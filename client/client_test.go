package client

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/asynctcp/framing"
)

// echoServer accepts connections, serving each in its own goroutine, and
// echoes every byte back.
// sent, when non-empty, is written to each connection on accept.
func echoServer(t *testing.T, sent []byte) net.Addr {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go func(conn net.Conn) {
				defer conn.Close()
				if len(sent) > 0 {
					_, _ = conn.Write(sent)
				}

				buf := make([]byte, 4096)
				for {
					n, err := conn.Read(buf)
					if n > 0 {
						if _, werr := conn.Write(buf[:n]); werr != nil {
							return
						}
					}
					if err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	return ln.Addr()
}

func newLineClient(t *testing.T, addr string) *Client[string] {
	t.Helper()

	factory, err := framing.NewDelimiterFramerFactory('\n', 1024)
	require.NoError(t, err)

	c, err := NewClient[string](DefaultConfig(addr), factory, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewClient(t *testing.T) {
	t.Run("missing factory is rejected", func(t *testing.T) {
		_, err := NewClient[string](DefaultConfig("127.0.0.1:9"), nil, nil)
		assert.Error(t, err)
	})

	t.Run("starts disconnected", func(t *testing.T) {
		c := newLineClient(t, "127.0.0.1:9")
		assert.Equal(t, Disconnected, c.GetState())
		assert.False(t, c.IsConnected())
	})
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "Disconnected", Disconnected.String())
	assert.Equal(t, "Connecting", Connecting.String())
	assert.Equal(t, "Connected", Connected.String())
	assert.Equal(t, "Reconnecting", Reconnecting.String())
	assert.Equal(t, "Closed", Closed.String())
	assert.Equal(t, "Unknown", ConnectionState(99).String())
}

func TestClient_ConnectAndEcho(t *testing.T) {
	addr := echoServer(t, nil)
	c := newLineClient(t, addr.String())

	messages := make(chan string, 4)
	c.OnMessage(func(event MessageEvent[string]) {
		messages <- event.Message
	})

	require.NoError(t, c.Connect())
	assert.True(t, c.IsConnected())

	require.NoError(t, c.Send([]byte("ping\n")))

	select {
	case msg := <-messages:
		assert.Equal(t, "ping\n", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no echoed message")
	}
}

func TestClient_MessagesArriveInOrder(t *testing.T) {
	addr := echoServer(t, []byte("one\ntwo\nthree\n"))
	c := newLineClient(t, addr.String())

	var mu sync.Mutex
	var msgs []string
	done := make(chan struct{})
	c.OnMessage(func(event MessageEvent[string]) {
		mu.Lock()
		msgs = append(msgs, event.Message)
		if len(msgs) == 3 {
			close(done)
		}
		mu.Unlock()
	})

	require.NoError(t, c.Connect())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive all messages")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one\n", "two\n", "three\n"}, msgs)
}

func TestClient_Connect(t *testing.T) {
	t.Run("dial failure surfaces", func(t *testing.T) {
		c := newLineClient(t, "127.0.0.1:1")
		err := c.Connect()
		assert.Error(t, err)
		assert.Equal(t, Disconnected, c.GetState())
	})

	t.Run("double connect is rejected", func(t *testing.T) {
		addr := echoServer(t, nil)
		c := newLineClient(t, addr.String())

		require.NoError(t, c.Connect())
		err := c.Connect()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already connected")
	})

	t.Run("connect after close is rejected", func(t *testing.T) {
		addr := echoServer(t, nil)
		c := newLineClient(t, addr.String())
		require.NoError(t, c.Close())

		err := c.Connect()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "closed")
	})
}

func TestClient_Send(t *testing.T) {
	t.Run("send while disconnected fails", func(t *testing.T) {
		c := newLineClient(t, "127.0.0.1:9")
		err := c.Send([]byte("x\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not connected")
	})
}

func TestClient_Disconnect(t *testing.T) {
	addr := echoServer(t, nil)
	c := newLineClient(t, addr.String())

	t.Run("disconnect while disconnected is a no-op", func(t *testing.T) {
		assert.NoError(t, c.Disconnect())
	})

	t.Run("disconnect returns to disconnected state", func(t *testing.T) {
		require.NoError(t, c.Connect())
		require.NoError(t, c.Disconnect())
		assert.Equal(t, Disconnected, c.GetState())

		// The client may be connected again after a plain disconnect.
		require.NoError(t, c.Connect())
		assert.True(t, c.IsConnected())
	})
}

func TestClient_Close(t *testing.T) {
	addr := echoServer(t, nil)
	c := newLineClient(t, addr.String())
	require.NoError(t, c.Connect())

	require.NoError(t, c.Close())
	assert.Equal(t, Closed, c.GetState())

	t.Run("close is idempotent", func(t *testing.T) {
		assert.NoError(t, c.Close())
	})
}

func TestClient_FramingOverflowDropsConnection(t *testing.T) {
	// 2048 bytes with no delimiter against a 64-byte bound.
	payload := make([]byte, 2048)
	for i := range payload {
		payload[i] = 'A'
	}
	addr := echoServer(t, payload)

	factory, err := framing.NewDelimiterFramerFactory('\n', 64)
	require.NoError(t, err)

	c, err := NewClient[string](DefaultConfig(addr.String()), factory, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	errs := make(chan error, 4)
	c.OnError(func(event ErrorEvent) {
		errs <- event.Error
	})

	require.NoError(t, c.Connect())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, framing.ErrOverflow)
	case <-time.After(2 * time.Second):
		t.Fatal("no overflow error")
	}

	require.Eventually(t, func() bool {
		return c.GetState() == Disconnected
	}, 2*time.Second, 10*time.Millisecond)
}
