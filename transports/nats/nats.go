// Package nats implements connkit transports as sessions over a pair of
// NATS subjects.
//
// A dialer subscribes to its own inbox and sends it as a connect request
// on the listener's subject. The listener opens a session with an inbox of
// its own and replies with it. From then on each side publishes to the
// other's inbox. An empty payload closes the session.
package nats

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gokit/errors"
	"github.com/gokit/xid"
	"github.com/hashicorp/go-multierror"
	pubsub "github.com/nats-io/go-nats"

	"github.com/gokit/connkit"
	"github.com/gokit/connkit/internal/queue"
)

// Config provides a config struct for sessions and listeners.
type Config struct {
	// Subject sets the subject a Listener accepts connect requests on.
	//
	// Defaults to "connkit.connect".
	Subject string

	// PendingLimit sets the maximum number of inbound messages held back
	// while no read is requested, the oldest ones are dropped beyond it.
	//
	// Defaults to 0, which holds everything.
	PendingLimit int

	Logs connkit.Logs
}

func (c *Config) init() {
	if c.Subject == "" {
		c.Subject = "connkit.connect"
	}
	if c.Logs == nil {
		c.Logs = connkit.DrainLog{}
	}
}

//*****************************************************************************
// Session
//*****************************************************************************

// Session implements connkit.Transport over a pair of NATS subjects. It is
// always writable, publishing is buffered by the NATS client and pushed
// out on Flush.
type Session struct {
	id      string
	inbox   string
	peer    string
	client  *pubsub.Conn
	config  Config
	events  connkit.Events[[]byte]
	inbound *queue.Queue[[]byte]
	sub     *pubsub.Subscription
	onClose func(*Session)

	wip       int32
	started   int32
	autoRead  int32
	requested int32
	remoteEnd int32

	closer sync.Once
	closed int32
}

func newSession(client *pubsub.Conn, events connkit.Events[[]byte], config Config) *Session {
	inbound := queue.Unbounded[[]byte]()
	if config.PendingLimit > 0 {
		inbound = queue.Bounded[[]byte](config.PendingLimit)
	}

	return &Session{
		id:       xid.New().String(),
		inbox:    pubsub.NewInbox(),
		client:   client,
		config:   config,
		events:   events,
		inbound:  inbound,
		autoRead: 1,
	}
}

func (s *Session) listen() error {
	sub, err := s.client.Subscribe(s.inbox, s.receive)
	if err != nil {
		return errors.Wrap(err, "failed to subscribe to session inbox %q", s.inbox)
	}
	s.sub = sub
	return nil
}

func (s *Session) start() {
	connkit.LogMsg("Session active").
		String("session", s.id).
		String("inbox", s.inbox).
		String("peer", s.peer).
		WriteDebug(s.config.Logs)

	s.events.OnActive(s)
	atomic.StoreInt32(&s.started, 1)
	s.deliver()
}

// ID implements connkit.Transport.
func (s *Session) ID() string {
	return s.id
}

// Inbox returns the subject this session receives on.
func (s *Session) Inbox() string {
	return s.inbox
}

// Peer returns the subject this session publishes to.
func (s *Session) Peer() string {
	return s.peer
}

// SetAutoRead implements connkit.Transport.
func (s *Session) SetAutoRead(on bool) {
	if on {
		atomic.StoreInt32(&s.autoRead, 1)
		s.deliver()
		return
	}
	atomic.StoreInt32(&s.autoRead, 0)
}

// Read implements connkit.Transport.
func (s *Session) Read() {
	atomic.StoreInt32(&s.requested, 1)
	s.deliver()
}

// Write implements connkit.Transport. Empty writes are skipped as an empty
// payload signals the peer to close.
func (s *Session) Write(data []byte) *connkit.Future {
	if atomic.LoadInt32(&s.closed) == 1 {
		return connkit.Rejected(errors.Wrap(connkit.ErrConnectionClosed, "session %q closed", s.id))
	}
	if len(data) == 0 {
		return connkit.Resolved()
	}
	if err := s.client.Publish(s.peer, data); err != nil {
		return connkit.Rejected(errors.Wrap(err, "publish to %q failed", s.peer))
	}
	return connkit.Resolved()
}

// Flush implements connkit.Transport.
func (s *Session) Flush() {
	if atomic.LoadInt32(&s.closed) == 1 {
		return
	}
	if err := s.client.Flush(); err != nil {
		connkit.LogMsg("Failed to flush session").
			String("session", s.id).
			Error(err).
			WriteWarn(s.config.Logs)
		s.events.OnError(s, errors.Wrap(err, "flush of session %q failed", s.id))
	}
}

// IsWritable implements connkit.Transport.
func (s *Session) IsWritable() bool {
	return atomic.LoadInt32(&s.closed) == 0
}

// Close implements connkit.Transport, telling the peer and dropping the
// session's subscription.
func (s *Session) Close() error {
	return s.close(atomic.LoadInt32(&s.remoteEnd) == 0)
}

func (s *Session) close(notify bool) error {
	var err error
	s.closer.Do(func() {
		atomic.StoreInt32(&s.closed, 1)

		var result *multierror.Error
		if notify && s.peer != "" {
			if perr := s.client.Publish(s.peer, nil); perr != nil {
				result = multierror.Append(result, perr)
			}
		}
		if s.sub != nil {
			if uerr := s.sub.Unsubscribe(); uerr != nil {
				result = multierror.Append(result, uerr)
			}
		}
		s.inbound.Clear()

		connkit.LogMsg("Session closed").
			String("session", s.id).
			Bool("notified_peer", notify).
			WriteDebug(s.config.Logs)

		s.events.OnInactive(s)
		if s.onClose != nil {
			s.onClose(s)
		}
		err = result.ErrorOrNil()
	})
	return err
}

func (s *Session) receive(msg *pubsub.Msg) {
	if atomic.LoadInt32(&s.closed) == 1 {
		return
	}

	if len(msg.Data) == 0 {
		atomic.StoreInt32(&s.remoteEnd, 1)
		s.deliver()
		return
	}

	if !s.inbound.Push(msg.Data) {
		connkit.LogMsg("Dropped oldest pending message").
			String("session", s.id).
			Int("limit", s.config.PendingLimit).
			WriteWarn(s.config.Logs)
	}
	s.deliver()
}

// deliver hands queued messages to events as reads allow. Only one
// goroutine delivers at a time.
func (s *Session) deliver() {
	if atomic.AddInt32(&s.wip, 1) != 1 {
		return
	}

	missed := int32(1)
	for {
		s.emit()

		missed = atomic.AddInt32(&s.wip, -missed)
		if missed == 0 {
			return
		}
	}
}

func (s *Session) emit() {
	if atomic.LoadInt32(&s.started) == 0 {
		return
	}

	for atomic.LoadInt32(&s.closed) == 0 {
		if s.inbound.Empty() {
			if atomic.LoadInt32(&s.remoteEnd) == 1 {
				s.close(false)
			}
			return
		}

		auto := atomic.LoadInt32(&s.autoRead) == 1
		if !auto && atomic.LoadInt32(&s.requested) == 0 {
			return
		}

		data, ok := s.inbound.Pop()
		if !ok {
			continue
		}

		if !auto {
			atomic.StoreInt32(&s.requested, 0)
		}
		s.events.OnData(s, data)
	}
}

//*****************************************************************************
// Listener
//*****************************************************************************

// Listener accepts sessions on a subject.
type Listener struct {
	client *pubsub.Conn
	config Config
	events connkit.Events[[]byte]
	sub    *pubsub.Subscription

	sl       sync.Mutex
	sessions map[string]*Session
}

// Listen subscribes to config.Subject and opens a session bound to events
// for every connect request.
func Listen(client *pubsub.Conn, events connkit.Events[[]byte], config Config) (*Listener, error) {
	config.init()

	l := &Listener{
		client:   client,
		config:   config,
		events:   events,
		sessions: map[string]*Session{},
	}

	sub, err := client.Subscribe(config.Subject, l.accept)
	if err != nil {
		return nil, errors.Wrap(err, "failed to subscribe to %q", config.Subject)
	}
	l.sub = sub

	connkit.LogMsg("Listening for sessions").
		String("subject", config.Subject).
		WriteInfo(config.Logs)
	return l, nil
}

// Sessions returns the number of open sessions.
func (l *Listener) Sessions() int {
	l.sl.Lock()
	defer l.sl.Unlock()
	return len(l.sessions)
}

// Close stops accepting sessions and closes all open ones.
func (l *Listener) Close() error {
	var result *multierror.Error
	if err := l.sub.Unsubscribe(); err != nil {
		result = multierror.Append(result, err)
	}

	l.sl.Lock()
	open := make([]*Session, 0, len(l.sessions))
	for _, session := range l.sessions {
		open = append(open, session)
	}
	l.sl.Unlock()

	for _, session := range open {
		if err := session.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (l *Listener) accept(msg *pubsub.Msg) {
	if msg.Reply == "" || len(msg.Data) == 0 {
		connkit.LogMsg("Ignoring malformed connect request").
			String("subject", msg.Subject).
			WriteWarn(l.config.Logs)
		return
	}

	session := newSession(l.client, l.events, l.config)
	session.peer = string(msg.Data)
	session.onClose = l.forget

	if err := session.listen(); err != nil {
		connkit.LogMsg("Failed to open session").
			String("peer", session.peer).
			Error(err).
			WriteError(l.config.Logs)
		return
	}

	l.sl.Lock()
	l.sessions[session.id] = session
	l.sl.Unlock()

	session.start()

	if err := l.client.Publish(msg.Reply, []byte(session.inbox)); err != nil {
		connkit.LogMsg("Failed to answer connect request").
			String("session", session.id).
			Error(err).
			WriteError(l.config.Logs)
		session.close(false)
	}
}

func (l *Listener) forget(session *Session) {
	l.sl.Lock()
	defer l.sl.Unlock()
	delete(l.sessions, session.id)
}

// Dial opens a session with the listener on config.Subject.
func Dial(ctx context.Context, client *pubsub.Conn, events connkit.Events[[]byte], config Config) (*Session, error) {
	config.init()

	session := newSession(client, events, config)
	if err := session.listen(); err != nil {
		return nil, err
	}

	reply, err := client.RequestWithContext(ctx, config.Subject, []byte(session.inbox))
	if err != nil {
		session.sub.Unsubscribe()
		return nil, errors.Wrap(err, "connect request on %q failed", config.Subject)
	}

	session.peer = string(reply.Data)
	session.start()
	return session, nil
}
