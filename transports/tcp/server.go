package tcp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gokit/errors"
	"github.com/hashicorp/go-multierror"

	"github.com/gokit/connkit"
)

// Server accepts tcp connections and binds each to a set of events,
// usually a connkit.Binder.
type Server struct {
	config Config
	events connkit.Events[[]byte]
	ready  chan struct{}

	sl       sync.Mutex
	listener net.Listener
	conns    map[string]*Conn
}

// NewServer returns a new Server listening on config.Addr once served.
func NewServer(config Config, events connkit.Events[[]byte]) *Server {
	config.init()
	return &Server{
		config: config,
		events: events,
		ready:  make(chan struct{}),
		conns:  map[string]*Conn{},
	}
}

// Ready returns a channel closed once the server is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the address the server listens on, nil before it is ready.
func (s *Server) Addr() net.Addr {
	s.sl.Lock()
	defer s.sl.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Conns returns the number of open connections.
func (s *Server) Conns() int {
	s.sl.Lock()
	defer s.sl.Unlock()
	return len(s.conns)
}

// Serve listens and accepts connections till ctx is done, it then closes
// the listener and every open connection.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return errors.Wrap(err, "failed to listen on %q", s.config.Addr)
	}

	s.sl.Lock()
	s.listener = listener
	s.sl.Unlock()
	close(s.ready)

	connkit.LogMsg("Server listening").
		String("addr", listener.Addr().String()).
		WriteInfo(s.config.Logs)

	var waiter sync.WaitGroup
	waiter.Add(1)
	go func() {
		defer waiter.Done()
		<-ctx.Done()
		listener.Close()
	}()

	var acceptErr error
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() == nil {
				acceptErr = errors.Wrap(err, "accept on %q failed", listener.Addr().String())
			}
			break
		}

		s.accept(conn)
	}

	if ctx.Err() == nil {
		listener.Close()
	}
	waiter.Wait()

	return s.shutdown(acceptErr)
}

func (s *Server) accept(netConn net.Conn) {
	conn := NewConn(netConn, s.events, s.config)
	conn.onClose = s.forget

	s.sl.Lock()
	s.conns[conn.ID()] = conn
	s.sl.Unlock()

	conn.Start()
}

func (s *Server) forget(conn *Conn) {
	s.sl.Lock()
	defer s.sl.Unlock()
	delete(s.conns, conn.ID())
}

func (s *Server) shutdown(cause error) error {
	s.sl.Lock()
	open := make([]*Conn, 0, len(s.conns))
	for _, conn := range s.conns {
		open = append(open, conn)
	}
	s.sl.Unlock()

	var result *multierror.Error
	if cause != nil {
		result = multierror.Append(result, cause)
	}

	for _, conn := range open {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	done := make(chan struct{})
	go func() {
		for _, conn := range open {
			conn.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.config.ShutdownTimeout):
		result = multierror.Append(result, errors.New("connections still active after %s", s.config.ShutdownTimeout))
	}

	connkit.LogMsg("Server stopped").
		Int("closed_connections", len(open)).
		WriteInfo(s.config.Logs)

	return result.ErrorOrNil()
}

// Dial connects to addr and binds the connection to events.
func Dial(ctx context.Context, addr string, events connkit.Events[[]byte], config Config) (*Conn, error) {
	var dialer net.Dialer
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial %q", addr)
	}

	conn := NewConn(netConn, events, config)
	conn.Start()
	return conn, nil
}
