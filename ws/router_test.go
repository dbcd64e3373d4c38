package ws

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterDispatch(t *testing.T) {
	r := NewRouter(testLogger)

	var got *Packet
	r.On(EventReceiveMessage, func(p *Packet) error {
		got = p
		return nil
	})

	p, err := NewPacket(EventReceiveMessage, map[string]string{"id": "m1"})
	require.NoError(t, err)
	r.Dispatch(p)

	require.NotNil(t, got)
	assert.Equal(t, EventReceiveMessage, got.Type)
}

func TestRouterDuplicateHandlerPanics(t *testing.T) {
	r := NewRouter(testLogger)
	r.On(EventReceiveMessage, func(*Packet) error { return nil })

	assert.Panics(t, func() {
		r.On(EventReceiveMessage, func(*Packet) error { return nil })
	})
}

func TestRouterDropsUnhandledEvent(t *testing.T) {
	r := NewRouter(testLogger)

	var dropped []string
	r.OnDrop(func(eventType string) { dropped = append(dropped, eventType) })

	r.Dispatch(&Packet{Type: "unknown_event"})
	assert.Equal(t, []string{"unknown_event"}, dropped)
}

func TestRouterDropsOnHandlerError(t *testing.T) {
	r := NewRouter(testLogger)

	var dropped []string
	r.OnDrop(func(eventType string) { dropped = append(dropped, eventType) })
	r.On(EventUserTyping, func(*Packet) error { return errors.New("bad payload") })

	r.Dispatch(&Packet{Type: EventUserTyping})
	assert.Equal(t, []string{EventUserTyping}, dropped)
}

func TestRouterRecoversFromHandlerPanic(t *testing.T) {
	r := NewRouter(testLogger)

	var dropped []string
	r.OnDrop(func(eventType string) { dropped = append(dropped, eventType) })
	r.On(EventNewChatRoom, func(*Packet) error { panic("boom") })

	assert.NotPanics(t, func() {
		r.Dispatch(&Packet{Type: EventNewChatRoom})
	})
	assert.Equal(t, []string{EventNewChatRoom}, dropped)
}
