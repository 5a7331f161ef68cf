// Package tcp implements a connkit.Transport over net.Conn along with a
// server accept loop and a dialer.
package tcp

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gokit/errors"
	"github.com/gokit/xid"
	"github.com/hashicorp/go-multierror"

	"github.com/gokit/connkit"
)

// Config provides configuration for tcp connections and servers.
type Config struct {
	// Addr sets the address a Server listens on.
	Addr string

	// ReadBufferSize sets the size of the buffer used for each read.
	//
	// Defaults to 4096.
	ReadBufferSize int

	// HighWaterMark sets the amount of queued outbound bytes at which the
	// connection stops being writable.
	//
	// Defaults to 64KiB.
	HighWaterMark int

	// LowWaterMark sets the amount of queued outbound bytes at or below which
	// an unwritable connection becomes writable again.
	//
	// Defaults to a quarter of HighWaterMark.
	LowWaterMark int

	// ShutdownTimeout sets the time a Server waits for its connections to
	// wind down once its context is done.
	//
	// Defaults to 5 seconds.
	ShutdownTimeout time.Duration

	Logs connkit.Logs
}

func (c *Config) init() {
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 4096
	}
	if c.HighWaterMark <= 0 {
		c.HighWaterMark = 64 * 1024
	}
	if c.LowWaterMark <= 0 || c.LowWaterMark >= c.HighWaterMark {
		c.LowWaterMark = c.HighWaterMark / 4
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.Logs == nil {
		c.Logs = connkit.DrainLog{}
	}
}

type pendingWrite struct {
	data   []byte
	future *connkit.Future
}

//*****************************************************************************
// Conn
//*****************************************************************************

// Conn implements connkit.Transport for a net.Conn.
//
// A single goroutine reads from the socket, either continuously while auto
// read is on or once per call to Read. Writes are queued and pushed to the
// socket by a writer goroutine on Flush, or on their own once the queue
// reaches the high watermark.
type Conn struct {
	id       string
	conn     net.Conn
	config   Config
	events   connkit.Events[[]byte]
	autoRead int32
	reads    chan struct{}
	flushes  chan struct{}
	closed   chan struct{}
	waiter   sync.WaitGroup
	onClose  func(*Conn)

	wl       sync.Mutex
	pending  []pendingWrite
	queued   int
	writable bool
	faults   *multierror.Error

	closer sync.Once
}

// NewConn returns a new Conn for conn reporting to events. Start must be
// called to begin delivering events.
func NewConn(conn net.Conn, events connkit.Events[[]byte], config Config) *Conn {
	config.init()
	return &Conn{
		id:       xid.New().String(),
		conn:     conn,
		config:   config,
		events:   events,
		autoRead: 1,
		writable: true,
		reads:    make(chan struct{}, 1),
		flushes:  make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
}

// Start notifies events of the new connection and starts the read and
// write goroutines.
func (c *Conn) Start() {
	connkit.LogMsg("Connection active").
		String("connection", c.id).
		String("remote", c.conn.RemoteAddr().String()).
		WriteDebug(c.config.Logs)

	c.events.OnActive(c)

	c.waiter.Add(2)
	go c.readLoop()
	go c.writeLoop()
}

// ID implements connkit.Transport.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the address of the peer.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetAutoRead implements connkit.Transport.
func (c *Conn) SetAutoRead(on bool) {
	if !on {
		atomic.StoreInt32(&c.autoRead, 0)
		return
	}
	if atomic.SwapInt32(&c.autoRead, 1) == 0 {
		c.Read()
	}
}

// Read implements connkit.Transport.
func (c *Conn) Read() {
	select {
	case c.reads <- struct{}{}:
	default:
	}
}

// Write implements connkit.Transport. The data is owned by the connection
// till its future settles.
func (c *Conn) Write(data []byte) *connkit.Future {
	future := connkit.NewFuture()

	c.wl.Lock()
	if c.isClosed() {
		c.wl.Unlock()
		future.Reject(errors.Wrap(connkit.ErrConnectionClosed, "connection %q closed", c.id))
		return future
	}

	c.pending = append(c.pending, pendingWrite{data: data, future: future})
	c.queued += len(data)

	overflow := c.writable && c.queued >= c.config.HighWaterMark
	if overflow {
		c.writable = false
	}
	c.wl.Unlock()

	if overflow {
		c.Flush()
	}
	return future
}

// Flush implements connkit.Transport.
func (c *Conn) Flush() {
	select {
	case c.flushes <- struct{}{}:
	default:
	}
}

// IsWritable implements connkit.Transport.
func (c *Conn) IsWritable() bool {
	c.wl.Lock()
	defer c.wl.Unlock()
	return c.writable
}

// Close implements connkit.Transport. Pending writes fail with
// connkit.ErrConnectionClosed. The returned error combines faults seen by
// the connection with the error from closing the socket.
func (c *Conn) Close() error {
	var err error
	c.closer.Do(func() {
		c.wl.Lock()
		close(c.closed)
		pending := c.pending
		c.pending = nil
		c.queued = 0
		faults := c.faults
		c.wl.Unlock()

		if cerr := c.conn.Close(); cerr != nil {
			faults = multierror.Append(faults, cerr)
		}

		for _, write := range pending {
			write.future.Reject(errors.Wrap(connkit.ErrConnectionClosed, "connection %q closed before write", c.id))
		}

		connkit.LogMsg("Connection closed").
			String("connection", c.id).
			Int("dropped_writes", len(pending)).
			WriteDebug(c.config.Logs)

		c.events.OnInactive(c)
		if c.onClose != nil {
			c.onClose(c)
		}

		err = faults.ErrorOrNil()
	})
	return err
}

// Wait blocks till the read and write goroutines have exited.
func (c *Conn) Wait() {
	c.waiter.Wait()
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) fault(err error) {
	c.wl.Lock()
	c.faults = multierror.Append(c.faults, err)
	c.wl.Unlock()
}

func (c *Conn) readLoop() {
	defer c.waiter.Done()

	buf := make([]byte, c.config.ReadBufferSize)
	for {
		if atomic.LoadInt32(&c.autoRead) == 0 {
			select {
			case <-c.closed:
				return
			case <-c.reads:
			}
		}

		n, err := c.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			c.events.OnData(c, data)
		}

		if err == nil {
			continue
		}

		if c.isClosed() {
			return
		}

		if err == io.EOF {
			c.Close()
			return
		}

		c.fault(err)
		c.events.OnError(c, errors.Wrap(err, "read from %q failed", c.id))
		c.Close()
		return
	}
}

func (c *Conn) writeLoop() {
	defer c.waiter.Done()

	for {
		select {
		case <-c.closed:
			return
		case <-c.flushes:
		}

		c.wl.Lock()
		batch := c.pending
		c.pending = nil
		c.wl.Unlock()

		if len(batch) == 0 {
			continue
		}

		buffers := make(net.Buffers, 0, len(batch))
		var size int
		for _, write := range batch {
			buffers = append(buffers, write.data)
			size += len(write.data)
		}

		_, err := buffers.WriteTo(c.conn)
		for _, write := range batch {
			write.future.Complete(err)
		}

		if err != nil {
			if c.isClosed() {
				return
			}
			c.fault(err)
			c.events.OnError(c, errors.Wrap(err, "write to %q failed", c.id))
			c.Close()
			return
		}

		c.wl.Lock()
		c.queued -= size
		if c.queued < 0 {
			c.queued = 0
		}
		recovered := !c.writable && c.queued <= c.config.LowWaterMark
		if recovered {
			c.writable = true
		}
		c.wl.Unlock()

		if recovered {
			c.events.OnWritable(c)
		}
	}
}
