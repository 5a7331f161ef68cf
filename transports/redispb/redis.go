// Package redispb implements connkit transports as sessions over Redis
// pub/sub channels.
//
// A dialer subscribes to an inbox channel of its own and publishes its name
// on the listener's channel. The listener opens a session on a fresh inbox
// and publishes that inbox's name to the dialer as the first message. From
// then on each side publishes to the other's inbox. An empty payload closes
// the session.
package redispb

import (
	"context"
	"sync"
	"sync/atomic"

	redis "github.com/go-redis/redis"
	"github.com/gokit/errors"
	"github.com/gokit/xid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/gokit/connkit"
	"github.com/gokit/connkit/internal/queue"
)

// ErrNoListener is returned by Dial when nothing listens on the connect
// channel.
var ErrNoListener = errors.New("no listener on channel")

// ErrHandshake is returned by Dial when the listener's answer is missing or
// malformed.
var ErrHandshake = errors.New("session handshake failed")

// Config provides a config struct for sessions and listeners.
type Config struct {
	// Channel sets the channel a Listener accepts connect requests on.
	//
	// Defaults to "connkit.connect".
	Channel string

	// InboxPrefix prefixes the generated inbox channel of every session.
	//
	// Defaults to "connkit.inbox.".
	InboxPrefix string

	// PendingLimit sets the maximum number of inbound messages held back
	// while no read is requested, the oldest ones are dropped beyond it.
	//
	// Defaults to 0, which holds everything.
	PendingLimit int

	Logs connkit.Logs
}

func (c *Config) init() {
	if c.Channel == "" {
		c.Channel = "connkit.connect"
	}
	if c.InboxPrefix == "" {
		c.InboxPrefix = "connkit.inbox."
	}
	if c.Logs == nil {
		c.Logs = connkit.DrainLog{}
	}
}

//*****************************************************************************
// Session
//*****************************************************************************

// Session implements connkit.Transport over a pair of Redis channels.
// Publishing is unbuffered, so Flush has nothing to do and the session is
// writable till closed.
type Session struct {
	id      string
	inbox   string
	peer    string
	client  *redis.Client
	config  Config
	events  connkit.Events[[]byte]
	inbound *queue.Queue[[]byte]
	sub     *redis.PubSub
	onClose func(*Session)
	done    chan struct{}

	wip       int32
	started   int32
	autoRead  int32
	requested int32
	remoteEnd int32

	closer sync.Once
	closed int32
}

func newSession(client *redis.Client, events connkit.Events[[]byte], config Config) *Session {
	inbound := queue.Unbounded[[]byte]()
	if config.PendingLimit > 0 {
		inbound = queue.Bounded[[]byte](config.PendingLimit)
	}

	id := xid.New().String()
	return &Session{
		id:       id,
		inbox:    config.InboxPrefix + id,
		client:   client,
		config:   config,
		events:   events,
		inbound:  inbound,
		autoRead: 1,
		done:     make(chan struct{}),
	}
}

// subscribe subscribes to the session inbox, waiting for redis to confirm.
func (s *Session) subscribe() error {
	sub := s.client.Subscribe(s.inbox)
	if _, err := sub.Receive(); err != nil {
		sub.Close()
		return errors.Wrap(err, "failed to subscribe to session inbox %q", s.inbox)
	}
	s.sub = sub
	return nil
}

// run receives inbound messages till the session closes.
func (s *Session) run(messages <-chan *redis.Message) {
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-messages:
			if !ok {
				if atomic.LoadInt32(&s.closed) == 0 {
					s.events.OnError(s, errors.New("subscription of session %q ended", s.id))
					s.close(false)
				}
				return
			}
			s.receive(msg.Payload)
		}
	}
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

// Inbox returns the channel this session receives on.
func (s *Session) Inbox() string {
	return s.inbox
}

// Peer returns the channel this session publishes to.
func (s *Session) Peer() string {
	return s.peer
}

// Done returns a channel closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
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
	if err := s.client.Publish(s.peer, data).Err(); err != nil {
		return connkit.Rejected(errors.Wrap(err, "publish to %q failed", s.peer))
	}
	return connkit.Resolved()
}

// Flush implements connkit.Transport.
func (s *Session) Flush() {}

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
		close(s.done)

		var result *multierror.Error
		if notify && s.peer != "" {
			if perr := s.client.Publish(s.peer, "").Err(); perr != nil {
				result = multierror.Append(result, perr)
			}
		}
		if s.sub != nil {
			if cerr := s.sub.Close(); cerr != nil {
				result = multierror.Append(result, cerr)
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

func (s *Session) receive(payload string) {
	if atomic.LoadInt32(&s.closed) == 1 {
		return
	}

	if payload == "" {
		atomic.StoreInt32(&s.remoteEnd, 1)
		s.deliver()
		return
	}

	if !s.inbound.Push([]byte(payload)) {
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

// Listener accepts sessions on a channel.
type Listener struct {
	client  *redis.Client
	config  Config
	events  connkit.Events[[]byte]
	sub     *redis.PubSub
	waiter  errgroup.Group
	stopped chan struct{}

	sl       sync.Mutex
	sessions map[string]*Session
}

// Listen subscribes to config.Channel and opens a session bound to events
// for every connect request.
func Listen(client *redis.Client, events connkit.Events[[]byte], config Config) (*Listener, error) {
	config.init()

	sub := client.Subscribe(config.Channel)
	if _, err := sub.Receive(); err != nil {
		sub.Close()
		return nil, errors.Wrap(err, "failed to subscribe to %q", config.Channel)
	}

	l := &Listener{
		client:   client,
		config:   config,
		events:   events,
		sub:      sub,
		stopped:  make(chan struct{}),
		sessions: map[string]*Session{},
	}

	messages := sub.Channel()
	l.waiter.Go(func() error {
		for {
			select {
			case <-l.stopped:
				return nil
			case msg, ok := <-messages:
				if !ok {
					return nil
				}
				l.accept(msg.Payload)
			}
		}
	})

	connkit.LogMsg("Listening for sessions").
		String("channel", config.Channel).
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
	close(l.stopped)

	var result *multierror.Error
	if err := l.sub.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := l.waiter.Wait(); err != nil {
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

func (l *Listener) accept(peer string) {
	if peer == "" {
		connkit.LogMsg("Ignoring malformed connect request").
			String("channel", l.config.Channel).
			WriteWarn(l.config.Logs)
		return
	}

	session := newSession(l.client, l.events, l.config)
	session.peer = peer
	session.onClose = l.forget

	if err := session.subscribe(); err != nil {
		connkit.LogMsg("Failed to open session").
			String("peer", peer).
			Error(err).
			WriteError(l.config.Logs)
		return
	}

	// the answer goes out before the session starts so it is the first
	// message the dialer sees on its inbox.
	if err := l.client.Publish(peer, session.inbox).Err(); err != nil {
		connkit.LogMsg("Failed to answer connect request").
			String("session", session.id).
			Error(err).
			WriteError(l.config.Logs)
		session.sub.Close()
		return
	}

	l.sl.Lock()
	l.sessions[session.id] = session
	l.sl.Unlock()

	go session.run(session.sub.Channel())
	session.start()
}

func (l *Listener) forget(session *Session) {
	l.sl.Lock()
	defer l.sl.Unlock()
	delete(l.sessions, session.id)
}

// Dial opens a session with the listener on config.Channel, waiting for its
// answer till ctx is done.
func Dial(ctx context.Context, client *redis.Client, events connkit.Events[[]byte], config Config) (*Session, error) {
	config.init()

	session := newSession(client, events, config)
	if err := session.subscribe(); err != nil {
		return nil, err
	}

	messages := session.sub.Channel()
	listeners, err := client.Publish(config.Channel, session.inbox).Result()
	if err != nil {
		session.sub.Close()
		return nil, errors.Wrap(err, "connect request on %q failed", config.Channel)
	}
	if listeners == 0 {
		session.sub.Close()
		return nil, errors.Wrap(ErrNoListener, "channel %q", config.Channel)
	}

	select {
	case <-ctx.Done():
		session.sub.Close()
		return nil, errors.Wrap(ctx.Err(), "no answer on %q", config.Channel)
	case msg, ok := <-messages:
		if !ok || msg.Payload == "" {
			session.sub.Close()
			return nil, errors.WrapOnly(ErrHandshake)
		}
		session.peer = msg.Payload
	}

	go session.run(messages)
	session.start()
	return session, nil
}
