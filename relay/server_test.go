package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/holepunch/holepunch/envelope"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	lock sync.Mutex
	buf  bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.lock.Lock()
	defer b.lock.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func startServer(t *testing.T, sink io.Writer, opts Options) (string, context.CancelFunc, <-chan error) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	finished := make(chan struct{})
	srv := NewServer(sink, opts)
	go func() {
		defer close(finished)
		done <- srv.Serve(ctx, ln)
	}()

	t.Cleanup(func() {
		cancel()
		<-finished
	})
	return ln.Addr().String(), cancel, done
}

func send(t *testing.T, nc net.Conn, e envelope.Envelope, payload []byte) {
	t.Helper()
	require.NoError(t, envelope.Write(nc, e, payload))
}

func TestServerForwardsWholeMessages(t *testing.T) {
	sink := &syncBuffer{}
	addr, _, _ := startServer(t, sink, Options{})

	var wg sync.WaitGroup
	for _, b := range []byte("abcd") {
		wg.Add(1)
		go func(b byte) {
			defer wg.Done()
			nc, err := net.Dial("tcp", addr)
			if err != nil {
				t.Error(err)
				return
			}
			defer nc.Close()
			for i := 0; i < 4; i++ {
				if err := envelope.Write(nc, envelope.Message(4096), bytes.Repeat([]byte{b}, 4096)); err != nil {
					t.Error(err)
					return
				}
			}
		}(b)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return len(sink.Bytes()) == 4*4*4096
	}, 5*time.Second, 10*time.Millisecond)

	out := sink.Bytes()
	for i := 0; i < len(out); i += 4096 {
		require.Equal(t, bytes.Repeat(out[i:i+1], 4096), out[i:i+4096], "payloads interleaved at %d", i)
	}
}

func TestServerSurvivesBadConnection(t *testing.T) {
	sink := &syncBuffer{}
	addr, _, _ := startServer(t, sink, Options{})

	bad, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer bad.Close()
	_, err = bad.Write([]byte{0x09})
	require.NoError(t, err)

	// The server drops the connection after the unknown discriminant.
	bad.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = bad.Read(make([]byte, 1))
	require.Error(t, err)

	good, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer good.Close()
	send(t, good, envelope.Ping(), nil)

	good.SetReadDeadline(time.Now().Add(5 * time.Second))
	e, err := envelope.Decode(good)
	require.NoError(t, err)
	require.Equal(t, envelope.Pong(), e)
}

func TestServerShutdownClosesConnections(t *testing.T) {
	addr, cancel, done := startServer(t, io.Discard, Options{})

	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer nc.Close()

	// Make sure the connection has a worker before shutting down.
	send(t, nc, envelope.Ping(), nil)
	nc.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = envelope.Decode(nc)
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	_, err = nc.Read(make([]byte, 1))
	require.Error(t, err, "live connection should be closed on shutdown")

	_, err = net.DialTimeout("tcp", addr, time.Second)
	require.Error(t, err, "listener should be closed on shutdown")
}

func TestServerReadTimeout(t *testing.T) {
	addr, _, _ := startServer(t, io.Discard, Options{ReadTimeout: 50 * time.Millisecond})

	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer nc.Close()

	nc.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = nc.Read(make([]byte, 1))
	require.Error(t, err, "idle connection should be dropped")

	var ne net.Error
	if errors.As(err, &ne) {
		require.False(t, ne.Timeout(), "client read deadline hit before the server dropped the connection")
	}
}
