package ws

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

var errConnClosed = errors.New("connection closed")

// conn owns a dialed websocket connection and its read/write pumps. It is
// single use: once either pump exits the conn is dead and onClosed fires
// exactly once.
type conn struct {
	ws     *websocket.Conn
	out    chan *Packet
	quit   chan struct{}
	dead   chan struct{}
	ticker *time.Ticker
	logger *slog.Logger

	onPacket func(*Packet)
	onClosed func(error)

	dieOnce  sync.Once
	quitOnce sync.Once

	mu       sync.Mutex
	lastPong time.Time
}

func newConn(ws *websocket.Conn, logger *slog.Logger, onPacket func(*Packet), onClosed func(error)) *conn {
	c := &conn{
		ws:       ws,
		out:      make(chan *Packet, 16),
		quit:     make(chan struct{}),
		dead:     make(chan struct{}),
		ticker:   time.NewTicker(pingPeriod),
		logger:   logger,
		onPacket: onPacket,
		onClosed: onClosed,
		lastPong: time.Now(),
	}
	go c.readLoop()
	go c.writeLoop()
	return c
}

// send queues a packet for the write pump. It fails instead of blocking when
// the connection is dead.
func (c *conn) send(p *Packet) error {
	select {
	case c.out <- p:
		return nil
	case <-c.dead:
		return errConnClosed
	}
}

// close initiates a graceful shutdown: the write pump sends a close message
// and both pumps exit.
func (c *conn) close() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// stale reports whether no pong has been observed within the read deadline.
// It is the liveness probe's view of a transport that died without producing
// a read error.
func (c *conn) stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastPong) > pongWait
}

func (c *conn) die(err error) {
	c.dieOnce.Do(func() {
		close(c.dead)
		c.ws.Close()
		c.onClosed(err)
	})
}

func (c *conn) readLoop() {
	defer c.logger.Debug("exited read loop")

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		return nil
	})
	for {
		mt, r, err := c.ws.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug(fmt.Sprintf("expected close: %v", err))
				c.die(nil)
				return
			}
			c.die(err)
			return
		}

		packet, err := decodePacket(mt, r)
		if err != nil {
			// Malformed inbound payloads are dropped, never fatal.
			c.logger.Error(fmt.Sprintf("DecodePacket: %v", err))
			continue
		}

		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()

		c.onPacket(packet)
	}
}

func (c *conn) writeLoop() {
	defer func() {
		c.ticker.Stop()
		c.logger.Debug("exited write loop")
	}()

	for {
		select {
		case <-c.quit:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.die(nil)
			return
		case packet := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := encodePacket(c.ws.NextWriter, packet); err != nil {
				c.logger.Error(fmt.Sprintf("EncodePacket: %v", err))
				c.die(err)
				return
			}
		case <-c.ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error(fmt.Sprintf("WritePing: %v", err))
				c.die(err)
				return
			}
		}
	}
}
