package ws

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const baseTimeout = 2 * time.Second

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

// waitOrTimeout waits for fn to finish or times out.
func waitOrTimeout(timeout time.Duration, fn func()) bool {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func getWSURLFromHTTPURL(url string) string {
	return strings.Replace(url, "http://", "ws://", 1)
}

// TestBackend is a minimal websocket peer. It records inbound packets on a
// channel and can push packets, reply to them, refuse upgrades, or drop its
// connections mid-flight.
type TestBackend struct {
	*httptest.Server
	t        *testing.T
	upgrader websocket.Upgrader
	received chan *Packet

	mu       sync.Mutex
	conns    []*websocket.Conn
	refusing bool
	reply    func(*Packet) *Packet
}

func NewTestBackend(t *testing.T) *TestBackend {
	b := &TestBackend{
		t:        t,
		received: make(chan *Packet, 64),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
			return true
		}},
	}
	b.Server = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.Close)
	return b
}

func (b *TestBackend) URL() string {
	return getWSURLFromHTTPURL(b.Server.URL)
}

// Refuse makes subsequent upgrade attempts fail with 503.
func (b *TestBackend) Refuse(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refusing = v
}

// ReplyWith installs a hook producing a response packet for each inbound
// packet, used to script acknowledgements.
func (b *TestBackend) ReplyWith(fn func(*Packet) *Packet) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reply = fn
}

// SendToAll pushes a packet over every live connection.
func (b *TestBackend) SendToAll(p *Packet) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		if err := c.WriteJSON(p); err != nil {
			b.t.Logf("backend write: %v", err)
		}
	}
}

// DropConns closes every live connection without a close handshake.
func (b *TestBackend) DropConns() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		c.Close()
	}
	b.conns = nil
}

// NextPacket waits for the next inbound packet.
func (b *TestBackend) NextPacket(timeout time.Duration) (*Packet, bool) {
	select {
	case p := <-b.received:
		return p, true
	case <-time.After(timeout):
		return nil, false
	}
}

func (b *TestBackend) handle(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	refusing := b.refusing
	b.mu.Unlock()
	if refusing {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	c, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c.SetPingHandler(func(data string) error {
		b.mu.Lock()
		defer b.mu.Unlock()
		return c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	b.mu.Lock()
	b.conns = append(b.conns, c)
	b.mu.Unlock()

	go func() {
		for {
			var p Packet
			if err := c.ReadJSON(&p); err != nil {
				return
			}
			b.mu.Lock()
			reply := b.reply
			b.mu.Unlock()
			if reply != nil {
				if resp := reply(&p); resp != nil {
					b.mu.Lock()
					c.WriteJSON(resp)
					b.mu.Unlock()
				}
			}
			b.received <- &p
		}
	}()
}
