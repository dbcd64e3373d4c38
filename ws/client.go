package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrNotConnected is returned by Send when no usable connection exists.
	ErrNotConnected = errors.New("ws: not connected")
	// ErrAckTimeout is delivered to an acknowledgement callback when the
	// backend does not acknowledge the packet in time.
	ErrAckTimeout = errors.New("ws: acknowledgement timed out")

	errStaleConn = errors.New("ws: liveness probe found stale connection")
)

// Client owns the single persistent connection to the backend. All room
// traffic multiplexes over it. Transport failures are retried with bounded
// exponential backoff; exceeding the attempt cap surfaces StateUnreachable
// and retrying stops until the next user-initiated Connect.
type Client struct {
	url    string
	dialer *websocket.Dialer
	header http.Header
	logger *slog.Logger

	maxAttempts   int
	backoffBase   time.Duration
	probeInterval time.Duration
	ackTimeout    time.Duration

	onPacket PacketHandler

	mu         sync.Mutex
	state      ConnState
	conn       *conn
	attempts   int
	lastErr    error
	closing    bool
	retryTimer *time.Timer
	probeStop  chan struct{}

	seq   atomic.Int64
	ackMu sync.Mutex
	acks  map[int64]*pendingAck

	subMu    sync.Mutex
	subNext  int
	stateFns map[int]func(StateChange)
	connFns  map[int]func()
}

type pendingAck struct {
	timer *time.Timer
	fn    func(error)
}

func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:    url,
		dialer: websocket.DefaultDialer,
		logger: slog.New(slog.NewTextHandler(os.Stdout,
			&slog.HandlerOptions{Level: slog.LevelInfo})),
		maxAttempts:   5,
		backoffBase:   500 * time.Millisecond,
		probeInterval: 5 * time.Second,
		ackTimeout:    10 * time.Second,
		acks:          make(map[int64]*pendingAck),
		stateFns:      make(map[int]func(StateChange)),
		connFns:       make(map[int]func()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ClientOption func(*Client)

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) { c.dialer = d }
}

// WithHeader sets headers sent on the upgrade request, e.g. the user id.
func WithHeader(h http.Header) ClientOption {
	return func(c *Client) { c.header = h }
}

func WithMaxAttempts(n int) ClientOption {
	return func(c *Client) { c.maxAttempts = n }
}

func WithBackoffBase(d time.Duration) ClientOption {
	return func(c *Client) { c.backoffBase = d }
}

func WithProbeInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.probeInterval = d }
}

func WithAckTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.ackTimeout = d }
}

// OnPacket registers the handler for inbound non-acknowledgement packets.
// It must be called before Connect.
func (c *Client) OnPacket(h PacketHandler) {
	c.onPacket = h
}

// OnState registers a listener for connection state transitions. The
// returned function cancels the registration.
func (c *Client) OnState(fn func(StateChange)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.subNext
	c.subNext++
	c.stateFns[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.stateFns, id)
	}
}

// OnConnect registers a hook fired after every successful connect, including
// reconnects. Join state does not survive a transport reset, so room
// re-subscription hangs off this hook.
func (c *Client) OnConnect(fn func()) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.subNext
	c.subNext++
	c.connFns[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.connFns, id)
	}
}

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

// Connect establishes the transport. A Connect from StateUnreachable resets
// the attempt counter; this is the user-initiated retry.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.closing = false
	c.attempts = 0
	change := c.setState(StateConnecting, nil)
	c.mu.Unlock()
	c.notifyState(change)

	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) error {
	wsc, _, err := c.dialer.DialContext(ctx, c.url, c.header)

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		if wsc != nil {
			wsc.Close()
		}
		return nil
	}
	if err != nil {
		c.lastErr = err
		change := c.scheduleRetry(err)
		c.mu.Unlock()
		c.notifyState(change)
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.conn = newConn(wsc, c.logger, c.handlePacket, c.connClosed)
	c.attempts = 0
	c.startProbe()
	change := c.setState(StateConnected, nil)
	c.mu.Unlock()

	c.notifyState(change)
	c.notifyConnect()
	return nil
}

// Disconnect tears the transport down. Any scheduled reconnect is cancelled
// so that a stray retry cannot fire after intentional teardown.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.stopProbe()
	conn := c.conn
	var change *StateChange
	if conn == nil {
		change = c.setState(StateDisconnected, nil)
	}
	c.mu.Unlock()

	if conn != nil {
		conn.close()
	}
	c.notifyState(change)
}

// Send writes a packet to the backend. It fails with ErrNotConnected rather
// than queueing when no connection is up.
func (c *Client) Send(p *Packet) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}
	return conn.send(p)
}

// Emit marshals payload and sends it as an event of the given type.
func (c *Client) Emit(eventType string, payload interface{}) error {
	p, err := NewPacket(eventType, payload)
	if err != nil {
		return err
	}
	return c.Send(p)
}

// EmitWithAck sends an event that the backend acknowledges by packet id.
// Exactly one of the acknowledgement and the timeout invokes ack; whichever
// fires first wins. A send failure invokes neither and is returned directly.
func (c *Client) EmitWithAck(eventType string, payload interface{}, ack func(error)) error {
	p, err := NewPacket(eventType, payload)
	if err != nil {
		return err
	}
	id := c.seq.Add(1)
	p.ID = id

	pa := &pendingAck{fn: ack}
	pa.timer = time.AfterFunc(c.ackTimeout, func() {
		c.resolveAck(id, ErrAckTimeout)
	})
	c.ackMu.Lock()
	c.acks[id] = pa
	c.ackMu.Unlock()

	if err := c.Send(p); err != nil {
		c.ackMu.Lock()
		delete(c.acks, id)
		c.ackMu.Unlock()
		pa.timer.Stop()
		return err
	}
	return nil
}

// resolveAck settles a pending acknowledgement at most once.
func (c *Client) resolveAck(id int64, err error) {
	c.ackMu.Lock()
	pa, ok := c.acks[id]
	delete(c.acks, id)
	c.ackMu.Unlock()
	if !ok {
		return
	}
	pa.timer.Stop()
	pa.fn(err)
}

// failPendingAcks settles every pending acknowledgement with err. Called
// when the transport drops so callers are not left waiting for the timeout.
func (c *Client) failPendingAcks(err error) {
	c.ackMu.Lock()
	acks := c.acks
	c.acks = make(map[int64]*pendingAck)
	c.ackMu.Unlock()
	for _, pa := range acks {
		pa.timer.Stop()
		pa.fn(err)
	}
}

func (c *Client) handlePacket(p *Packet) {
	if p.Type == EventAck {
		var body AckBody
		if err := unmarshalBody(p, &body); err != nil {
			c.logger.Error(fmt.Sprintf("decode ack: %v", err))
			return
		}
		var ackErr error
		if body.Error != "" {
			ackErr = errors.New(body.Error)
		}
		c.resolveAck(body.ID, ackErr)
		return
	}
	if c.onPacket != nil {
		c.onPacket(p)
	}
}

// connClosed runs exactly once per connection, when its pumps die.
func (c *Client) connClosed(err error) {
	c.failPendingAcks(fmt.Errorf("%w: %v", ErrNotConnected, err))

	c.mu.Lock()
	c.conn = nil
	var change *StateChange
	if c.closing {
		c.stopProbe()
		change = c.setState(StateDisconnected, err)
	} else {
		c.lastErr = err
		change = c.scheduleRetry(err)
	}
	c.mu.Unlock()
	c.notifyState(change)
}

// scheduleRetry arms the backoff timer. Caller holds mu. The returned change
// is non-nil when the attempt cap was exceeded and the state moved to
// StateUnreachable.
func (c *Client) scheduleRetry(err error) *StateChange {
	c.attempts++
	if c.attempts > c.maxAttempts {
		c.stopProbe()
		return c.setState(StateUnreachable, err)
	}
	delay := c.backoffBase << (c.attempts - 1)
	c.logger.Info("scheduling reconnect",
		slog.Int("attempt", c.attempts), slog.Duration("delay", delay))
	var change *StateChange
	if c.state != StateReconnecting {
		change = c.setState(StateReconnecting, err)
	}
	c.retryTimer = time.AfterFunc(delay, c.retry)
	return change
}

func (c *Client) retry() {
	c.mu.Lock()
	if c.closing || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.dial(context.Background())
}

// startProbe runs the liveness probe. A transport can die without producing
// a read error; when the probe finds a stale connection it forces the
// reconnect path. Caller holds mu.
func (c *Client) startProbe() {
	if c.probeStop != nil {
		return
	}
	stop := make(chan struct{})
	c.probeStop = stop
	go func() {
		ticker := time.NewTicker(c.probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				conn := c.conn
				connected := c.state == StateConnected
				c.mu.Unlock()
				if connected && conn != nil && conn.stale() {
					c.logger.Warn("liveness probe: connection stale, forcing reconnect")
					conn.die(errStaleConn)
				}
			}
		}
	}()
}

// stopProbe stops the liveness probe. Caller holds mu.
func (c *Client) stopProbe() {
	if c.probeStop != nil {
		close(c.probeStop)
		c.probeStop = nil
	}
}

// setState transitions the state and returns the change to deliver to
// listeners after mu is released. Caller holds mu.
func (c *Client) setState(s ConnState, err error) *StateChange {
	if c.state == s {
		return nil
	}
	change := &StateChange{Old: c.state, New: s, Err: err, Attempt: c.attempts}
	c.state = s
	return change
}

func (c *Client) notifyState(change *StateChange) {
	if change == nil {
		return
	}
	c.subMu.Lock()
	fns := make([]func(StateChange), 0, len(c.stateFns))
	for _, fn := range c.stateFns {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn(*change)
	}
}

func (c *Client) notifyConnect() {
	c.subMu.Lock()
	fns := make([]func(), 0, len(c.connFns))
	for _, fn := range c.connFns {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
