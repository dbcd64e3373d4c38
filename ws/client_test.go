package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stateRecorder collects state transitions and lets tests wait for one.
type stateRecorder struct {
	mu      sync.Mutex
	changes []StateChange
	waiters []chan struct{}
}

func recordStates(c *Client) *stateRecorder {
	r := &stateRecorder{}
	c.OnState(func(sc StateChange) {
		r.mu.Lock()
		r.changes = append(r.changes, sc)
		for _, w := range r.waiters {
			close(w)
		}
		r.waiters = nil
		r.mu.Unlock()
	})
	return r
}

func (r *stateRecorder) all() []StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StateChange, len(r.changes))
	copy(out, r.changes)
	return out
}

// waitFor blocks until a transition into s has been observed.
func (r *stateRecorder) waitFor(t *testing.T, s ConnState) StateChange {
	deadline := time.After(5 * time.Second)
	for {
		r.mu.Lock()
		for _, sc := range r.changes {
			if sc.New == s {
				r.mu.Unlock()
				return sc
			}
		}
		w := make(chan struct{})
		r.waiters = append(r.waiters, w)
		r.mu.Unlock()
		select {
		case <-w:
		case <-deadline:
			t.Fatalf("state %s never reached, saw %v", s, r.all())
		}
	}
}

func newTestClient(t *testing.T, url string, opts ...ClientOption) *Client {
	opts = append([]ClientOption{
		WithLogger(testLogger),
		WithBackoffBase(10 * time.Millisecond),
		WithAckTimeout(time.Second),
	}, opts...)
	c := NewClient(url, opts...)
	t.Cleanup(c.Disconnect)
	return c
}

func TestConnectAndEmit(t *testing.T) {
	backend := NewTestBackend(t)
	client := newTestClient(t, backend.URL())

	require.NoError(t, client.Connect(context.Background()))
	assert.Equal(t, StateConnected, client.State())
	assert.True(t, client.Connected())

	require.NoError(t, client.Emit(EventJoinRoom, "r1"))

	p, ok := backend.NextPacket(baseTimeout)
	require.True(t, ok, "backend should have received the packet")
	assert.Equal(t, EventJoinRoom, p.Type)
	var roomID string
	require.NoError(t, json.Unmarshal(p.Body, &roomID))
	assert.Equal(t, "r1", roomID)
}

func TestConnectWhileConnectedIsNoop(t *testing.T) {
	backend := NewTestBackend(t)
	client := newTestClient(t, backend.URL())
	states := recordStates(client)

	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Connect(context.Background()))

	changes := states.all()
	require.Len(t, changes, 2)
	assert.Equal(t, StateConnecting, changes[0].New)
	assert.Equal(t, StateConnected, changes[1].New)
}

func TestSendWhenDisconnected(t *testing.T) {
	client := newTestClient(t, "ws://127.0.0.1:1/api/socketio")

	err := client.Emit(EventJoinRoom, "r1")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestInboundPacketsReachHandler(t *testing.T) {
	backend := NewTestBackend(t)
	client := newTestClient(t, backend.URL())

	got := make(chan *Packet, 1)
	client.OnPacket(func(p *Packet) { got <- p })
	require.NoError(t, client.Connect(context.Background()))

	p, err := NewPacket(EventReceiveMessage, map[string]string{"id": "m1"})
	require.NoError(t, err)
	backend.SendToAll(p)

	select {
	case in := <-got:
		assert.Equal(t, EventReceiveMessage, in.Type)
	case <-time.After(baseTimeout):
		t.Fatal("packet never delivered")
	}
}

func TestEmitWithAck(t *testing.T) {
	backend := NewTestBackend(t)
	backend.ReplyWith(func(p *Packet) *Packet {
		if p.Type != EventSendMessage {
			return nil
		}
		ack, err := NewPacket(EventAck, AckBody{ID: p.ID})
		require.NoError(t, err)
		return ack
	})
	client := newTestClient(t, backend.URL())
	require.NoError(t, client.Connect(context.Background()))

	settled := make(chan error, 1)
	err := client.EmitWithAck(EventSendMessage,
		SendMessageBody{RoomID: "r1", SenderID: "u1", Message: "hi"},
		func(err error) { settled <- err })
	require.NoError(t, err)

	select {
	case err := <-settled:
		assert.NoError(t, err)
	case <-time.After(baseTimeout):
		t.Fatal("ack never settled")
	}
}

func TestEmitWithAckBackendError(t *testing.T) {
	backend := NewTestBackend(t)
	backend.ReplyWith(func(p *Packet) *Packet {
		ack, err := NewPacket(EventAck, AckBody{ID: p.ID, Error: "persist failed"})
		require.NoError(t, err)
		return ack
	})
	client := newTestClient(t, backend.URL())
	require.NoError(t, client.Connect(context.Background()))

	settled := make(chan error, 1)
	require.NoError(t, client.EmitWithAck(EventSendMessage,
		SendMessageBody{RoomID: "r1", SenderID: "u1", Message: "hi"},
		func(err error) { settled <- err }))

	select {
	case err := <-settled:
		assert.EqualError(t, err, "persist failed")
	case <-time.After(baseTimeout):
		t.Fatal("ack never settled")
	}
}

func TestEmitWithAckTimeout(t *testing.T) {
	backend := NewTestBackend(t)
	client := newTestClient(t, backend.URL(), WithAckTimeout(50*time.Millisecond))
	require.NoError(t, client.Connect(context.Background()))

	settled := make(chan error, 1)
	require.NoError(t, client.EmitWithAck(EventSendMessage,
		SendMessageBody{RoomID: "r1", SenderID: "u1", Message: "hi"},
		func(err error) { settled <- err }))

	select {
	case err := <-settled:
		assert.ErrorIs(t, err, ErrAckTimeout)
	case <-time.After(baseTimeout):
		t.Fatal("timeout never fired")
	}

	// A late ack after the timeout must not settle again.
	p, _ := backend.NextPacket(baseTimeout)
	require.NotNil(t, p)
	ack, err := NewPacket(EventAck, AckBody{ID: p.ID})
	require.NoError(t, err)
	backend.SendToAll(ack)
	select {
	case <-settled:
		t.Fatal("acknowledgement settled twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEmitWithAckSendFailureInvokesNothing(t *testing.T) {
	client := newTestClient(t, "ws://127.0.0.1:1/api/socketio")

	settled := make(chan error, 1)
	err := client.EmitWithAck(EventSendMessage,
		SendMessageBody{RoomID: "r1"}, func(err error) { settled <- err })
	require.ErrorIs(t, err, ErrNotConnected)

	select {
	case <-settled:
		t.Fatal("callback must not run when the send itself failed")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPendingAcksFailWhenConnectionDrops(t *testing.T) {
	backend := NewTestBackend(t)
	client := newTestClient(t, backend.URL(), WithAckTimeout(time.Minute))
	require.NoError(t, client.Connect(context.Background()))

	settled := make(chan error, 1)
	require.NoError(t, client.EmitWithAck(EventSendMessage,
		SendMessageBody{RoomID: "r1", SenderID: "u1", Message: "hi"},
		func(err error) { settled <- err }))

	_, ok := backend.NextPacket(baseTimeout)
	require.True(t, ok)
	backend.DropConns()

	select {
	case err := <-settled:
		assert.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(baseTimeout):
		t.Fatal("pending ack should settle when the transport drops")
	}
}

func TestReconnectAfterConnectionDrop(t *testing.T) {
	backend := NewTestBackend(t)
	client := newTestClient(t, backend.URL())
	states := recordStates(client)

	connects := 0
	var mu sync.Mutex
	client.OnConnect(func() {
		mu.Lock()
		connects++
		mu.Unlock()
	})

	require.NoError(t, client.Connect(context.Background()))
	backend.DropConns()

	states.waitFor(t, StateReconnecting)
	states.waitFor(t, StateConnected)

	ok := waitOrTimeout(baseTimeout, func() {
		for {
			mu.Lock()
			n := connects
			mu.Unlock()
			if n >= 2 {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	})
	assert.True(t, ok, "connect hook should fire again after the reconnect")
}

func TestUnreachableAfterAttemptCap(t *testing.T) {
	backend := NewTestBackend(t)
	backend.Refuse(true)
	client := newTestClient(t, backend.URL(), WithMaxAttempts(2))
	states := recordStates(client)

	require.Error(t, client.Connect(context.Background()))

	sc := states.waitFor(t, StateUnreachable)
	assert.Equal(t, 3, sc.Attempt, "cap of 2 means the third failure is terminal")
	assert.Error(t, sc.Err)

	// No further retries fire on their own.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateUnreachable, client.State())

	// A user-initiated Connect resets the counter and succeeds.
	backend.Refuse(false)
	require.NoError(t, client.Connect(context.Background()))
	assert.Equal(t, StateConnected, client.State())
}

func TestDisconnectCancelsScheduledRetry(t *testing.T) {
	backend := NewTestBackend(t)
	backend.Refuse(true)
	client := newTestClient(t, backend.URL(), WithBackoffBase(50*time.Millisecond), WithMaxAttempts(5))
	states := recordStates(client)

	require.Error(t, client.Connect(context.Background()))
	states.waitFor(t, StateReconnecting)

	client.Disconnect()
	states.waitFor(t, StateDisconnected)

	// Past the backoff delay; the cancelled retry must not have fired.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StateDisconnected, client.State())
}

func TestDisconnectWhileConnected(t *testing.T) {
	backend := NewTestBackend(t)
	client := newTestClient(t, backend.URL())
	states := recordStates(client)

	require.NoError(t, client.Connect(context.Background()))
	client.Disconnect()

	states.waitFor(t, StateDisconnected)
	assert.ErrorIs(t, client.Emit(EventJoinRoom, "r1"), ErrNotConnected)
}
