package signal

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/augur/internal/metrics"
	"github.com/petervdpas/augur/internal/proto"
)

var log = logging.Logger("signal")

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 20 * time.Second
	maxFrameSize = 1 << 20

	DefaultQueueSize  = 256
	DefaultMinBackoff = 500 * time.Millisecond
	DefaultMaxBackoff = 15 * time.Second
)

// Options configures a WSChannel.
type Options struct {
	URL        string
	QueueSize  int
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Dialer     *websocket.Dialer
}

// WSChannel is a Channel over a gorilla/websocket connection with
// queue-and-flush sends and exponential-backoff reconnects.
type WSChannel struct {
	opts Options

	mu      sync.Mutex
	state   State
	self    proto.Profile
	outbox  [][]byte
	started bool

	hmu      sync.RWMutex
	handlers handlers

	wake      chan struct{}
	opened    chan struct{}
	openOnce  sync.Once
	done      chan struct{}
	closeOnce sync.Once
	conn      *websocket.Conn
}

// NewWebSocket creates a channel for opts.URL. Nothing is dialed until Connect.
func NewWebSocket(opts Options) *WSChannel {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = DefaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	return &WSChannel{
		opts:   opts,
		state:  StateIdle,
		wake:   make(chan struct{}, 1),
		opened: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (c *WSChannel) Connect(ctx context.Context, self proto.Profile) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.started {
		c.started = true
		c.self = self
		c.state = StateConnecting
		go c.run()
	}
	c.mu.Unlock()

	select {
	case <-c.opened:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("signal: waiting for open: %w", ctx.Err())
	}
}

func (c *WSChannel) Send(m proto.Message) error {
	data, err := proto.Encode(m)
	if err != nil {
		return fmt.Errorf("signal: encode %s: %w", m.Kind(), err)
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if len(c.outbox) >= c.opts.QueueSize {
		c.mu.Unlock()
		return ErrQueueFull
	}
	c.outbox = append(c.outbox, data)
	queued := c.state != StateOpen
	c.mu.Unlock()

	if queued {
		log.Debugf("queued %s until channel opens", m.Kind())
	}
	metrics.SignalEnvelopes.WithLabelValues("out", m.Kind()).Inc()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

func (c *WSChannel) OnMessage(fn func(*proto.Envelope)) func() {
	c.hmu.Lock()
	id := c.handlers.add(fn)
	c.hmu.Unlock()
	return func() {
		c.hmu.Lock()
		c.handlers.remove(id)
		c.hmu.Unlock()
	}
}

func (c *WSChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of envelopes not yet written to the wire.
func (c *WSChannel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outbox)
}

// Announce replaces the announced profile and re-registers. The id must
// not change; it keys the connection on the server.
func (c *WSChannel) Announce(self proto.Profile) error {
	c.mu.Lock()
	if self.ID != c.self.ID && c.started {
		c.mu.Unlock()
		return fmt.Errorf("signal: cannot change id from %s to %s", c.self.ID, self.ID)
	}
	c.self = self
	c.mu.Unlock()
	return c.Send(&proto.Register{From: self})
}

func (c *WSChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.state = StateClosed
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(time.Second))
			_ = conn.Close()
		}
		log.Infof("signaling channel closed")
	})
	return nil
}

func (c *WSChannel) dialURL() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	c.mu.Lock()
	q.Set("id", c.self.ID)
	c.mu.Unlock()
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *WSChannel) run() {
	backoff := c.opts.MinBackoff
	for {
		select {
		case <-c.done:
			return
		default:
		}

		target, err := c.dialURL()
		if err != nil {
			log.Errorf("invalid signaling url %q: %v", c.opts.URL, err)
			return
		}

		conn, _, err := c.opts.Dialer.Dial(target, nil)
		if err != nil {
			log.Warnf("dial %s failed: %v (retry in %s)", c.opts.URL, err, backoff)
			select {
			case <-c.done:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.opts.MaxBackoff {
				backoff = c.opts.MaxBackoff
			}
			continue
		}
		backoff = c.opts.MinBackoff
		c.serve(conn)
	}
}

// serve owns conn until it breaks: announces identity, flushes the queue,
// then runs the write loop alongside the read loop.
func (c *WSChannel) serve(conn *websocket.Conn) {
	c.mu.Lock()
	self := c.self
	c.mu.Unlock()

	reg, err := proto.Encode(&proto.Register{From: self})
	if err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		err = conn.WriteMessage(websocket.TextMessage, reg)
	}
	if err != nil {
		log.Warnf("register failed: %v", err)
		_ = conn.Close()
		return
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.state = StateOpen
	pending := len(c.outbox)
	c.mu.Unlock()
	c.openOnce.Do(func() { close(c.opened) })
	metrics.SignalConnected.Set(1)
	log.Infof("signaling open as %s (%d queued)", self.ID, pending)

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(conn, stop)
	}()

	c.readLoop(conn)

	close(stop)
	<-writerDone
	_ = conn.Close()
	metrics.SignalConnected.Set(0)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	if c.state != StateClosed {
		c.state = StateConnecting
		log.Warnf("signaling connection lost, reconnecting")
	}
	c.mu.Unlock()
}

func (c *WSChannel) writeLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		c.mu.Lock()
		var next []byte
		if len(c.outbox) > 0 {
			next = c.outbox[0]
		}
		c.mu.Unlock()

		if next != nil {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, next); err != nil {
				// Keep the frame at the head; it goes out after reconnect.
				log.Warnf("write failed: %v", err)
				_ = conn.Close()
				return
			}
			c.mu.Lock()
			if len(c.outbox) > 0 {
				c.outbox = c.outbox[1:]
			}
			c.mu.Unlock()
			continue
		}

		select {
		case <-stop:
			return
		case <-c.done:
			return
		case <-c.wake:
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *WSChannel) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-c.done:
				default:
					log.Debugf("read: %v", err)
				}
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		env, err := proto.ParseEnvelope(data)
		if err != nil {
			log.Warnf("dropping malformed frame: %v", err)
			metrics.SignalEnvelopes.WithLabelValues("in", "malformed").Inc()
			continue
		}
		metrics.SignalEnvelopes.WithLabelValues("in", env.Type).Inc()
		c.dispatch(env)
	}
}

func (c *WSChannel) dispatch(env *proto.Envelope) {
	c.hmu.RLock()
	fns := c.handlers.snapshot()
	c.hmu.RUnlock()
	for _, fn := range fns {
		fn(env)
	}
}
