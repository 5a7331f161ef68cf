package tcp_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gokit/connkit"
	"github.com/gokit/connkit/internal/tlog"
	"github.com/gokit/connkit/transports/tcp"
)

type recordEvents struct {
	ml       sync.Mutex
	data     [][]byte
	writable int
	errs     []error
	active   chan struct{}
	inactive chan struct{}
	onActive func(connkit.Transport[[]byte])
}

func newRecordEvents() *recordEvents {
	return &recordEvents{active: make(chan struct{}), inactive: make(chan struct{})}
}

func (r *recordEvents) OnActive(t connkit.Transport[[]byte]) {
	if r.onActive != nil {
		r.onActive(t)
	}
	close(r.active)
}

func (r *recordEvents) OnData(_ connkit.Transport[[]byte], data []byte) bool {
	r.ml.Lock()
	defer r.ml.Unlock()
	r.data = append(r.data, data)
	return true
}

func (r *recordEvents) OnWritable(connkit.Transport[[]byte]) {
	r.ml.Lock()
	defer r.ml.Unlock()
	r.writable++
}

func (r *recordEvents) OnInactive(connkit.Transport[[]byte]) {
	close(r.inactive)
}

func (r *recordEvents) OnError(_ connkit.Transport[[]byte], err error) {
	r.ml.Lock()
	defer r.ml.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordEvents) Received() [][]byte {
	r.ml.Lock()
	defer r.ml.Unlock()
	return append([][]byte(nil), r.data...)
}

func (r *recordEvents) Writable() int {
	r.ml.Lock()
	defer r.ml.Unlock()
	return r.writable
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for signal")
	}
}

func TestConnReadsOnRequest(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	events := newRecordEvents()
	events.onActive = func(tr connkit.Transport[[]byte]) {
		tr.SetAutoRead(false)
	}

	conn := tcp.NewConn(local, events, tcp.Config{})
	conn.Start()
	waitFor(t, events.active)

	go remote.Write([]byte("first"))
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, events.Received())

	conn.Read()
	require.Eventually(t, func() bool {
		return len(events.Received()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []byte("first"), events.Received()[0])

	require.NoError(t, conn.Close())
	waitFor(t, events.inactive)
	conn.Wait()
}

func TestConnWritesOnFlush(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	events := newRecordEvents()
	conn := tcp.NewConn(local, events, tcp.Config{})
	conn.Start()
	waitFor(t, events.active)

	first := conn.Write([]byte("hello "))
	second := conn.Write([]byte("world"))
	require.False(t, first.IsResolved())

	conn.Flush()

	received := make([]byte, len("hello world"))
	_, err := io.ReadFull(remote, received)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(received))

	require.NoError(t, first.Wait())
	require.NoError(t, second.Wait())

	require.NoError(t, conn.Close())
	closed := conn.Write([]byte("late"))
	require.True(t, connkit.IsClosed(closed.Wait()))
}

func TestConnWatermarks(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	events := newRecordEvents()
	conn := tcp.NewConn(local, events, tcp.Config{HighWaterMark: 8, LowWaterMark: 2})
	conn.Start()
	waitFor(t, events.active)

	conn.Write([]byte("1234"))
	require.True(t, conn.IsWritable())

	last := conn.Write([]byte("5678"))
	require.False(t, conn.IsWritable())

	received := make([]byte, 8)
	_, err := io.ReadFull(remote, received)
	require.NoError(t, err)
	require.Equal(t, "12345678", string(received))

	require.NoError(t, last.Wait())
	require.Eventually(t, conn.IsWritable, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return events.Writable() == 1
	}, 5*time.Second, 10*time.Millisecond)

	conn.Close()
}

func TestConnClosesOnPeerEOF(t *testing.T) {
	local, remote := net.Pipe()

	events := newRecordEvents()
	conn := tcp.NewConn(local, events, tcp.Config{})
	conn.Start()
	waitFor(t, events.active)

	pending := conn.Write([]byte("never flushed"))
	remote.Close()

	waitFor(t, events.inactive)
	require.True(t, connkit.IsClosed(pending.Wait()))
	conn.Wait()
}

// pingPong answers the first inbound chunk with "pong".
func pingPong(c connkit.Connection[string, string]) *connkit.Future {
	done := connkit.NewFuture()
	c.Reader().Subscribe(connkit.FuncSubscriber[string]{
		Subscribed: func(s connkit.Subscription) {
			s.Next(1)
		},
		Next: func(v string) {
			c.Write(connkit.Just("pong " + v)).Pipe(done)
		},
		Err: func(err error) {
			done.Reject(err)
		},
	})
	return done
}

func TestServer(t *testing.T) {
	var logs tlog.Recorder
	handler := connkit.Intercept(textAdapter()).Last(connkit.HandlerFunc[string, string](pingPong))
	binder := connkit.NewBinder[[]byte](handler, connkit.WithLogs(&logs))

	ctx, cancel := context.WithCancel(context.Background())
	server := tcp.NewServer(tcp.Config{Addr: "127.0.0.1:0", Logs: &logs}, binder)

	served := make(chan error, 1)
	go func() {
		served <- server.Serve(ctx)
	}()
	waitFor(t, server.Ready())

	client, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	reply, err := io.ReadAll(bufio.NewReader(client))
	require.NoError(t, err)
	require.Equal(t, "pong ping", string(reply))

	require.Eventually(t, func() bool {
		return binder.Conns() == 0 && server.Conns() == 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestDial(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	events := newRecordEvents()
	conn, err := tcp.Dial(context.Background(), listener.Addr().String(), events, tcp.Config{})
	require.NoError(t, err)
	waitFor(t, events.active)

	var remote net.Conn
	select {
	case remote = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("no connection accepted")
	}
	defer remote.Close()

	conn.Write([]byte("hi"))
	conn.Flush()

	received := make([]byte, 2)
	_, err = io.ReadFull(remote, received)
	require.NoError(t, err)
	require.Equal(t, "hi", string(received))

	require.NoError(t, conn.Close())
	waitFor(t, events.inactive)
}

func textAdapter() connkit.Interceptor[[]byte, []byte, string, string] {
	return func(next connkit.Handler[string, string]) connkit.Handler[[]byte, []byte] {
		return connkit.HandlerFunc[[]byte, []byte](func(c connkit.Connection[[]byte, []byte]) *connkit.Future {
			return next.Handle(connkit.MapConnection(c,
				func(b []byte) string { return string(b) },
				func(s string) []byte { return []byte(s) },
			))
		})
	}
}
