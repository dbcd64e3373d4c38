package core

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/mobilechat/chatsync/ws"
)

// RoomMembership tracks the room the client is currently subscribed to. At
// most one room is current at a time; joining another leaves the previous
// one first. Join state does not survive a transport reset, so the
// connection's reconnect hook must call Rejoin.
type RoomMembership struct {
	emitter EventEmitter
	logger  *slog.Logger

	mu      sync.Mutex
	current *RoomSession
}

func NewRoomMembership(emitter EventEmitter, logger *slog.Logger) *RoomMembership {
	return &RoomMembership{emitter: emitter, logger: logger}
}

// RoomSession is the scoped "joined" state of one room. Close releases it
// and must run on every exit path from the room view; it is idempotent so
// abnormal unmounts and navigation interruptions can call it freely.
type RoomSession struct {
	m      *RoomMembership
	roomID string
	once   sync.Once
}

func (s *RoomSession) RoomID() string {
	return s.roomID
}

// Close emits leave_room and clears the current-room record. Safe to call
// more than once; only the first call has effect.
func (s *RoomSession) Close() {
	s.once.Do(func() {
		s.m.mu.Lock()
		if s.m.current == s {
			s.m.current = nil
		}
		s.m.mu.Unlock()

		if err := s.m.emitter.Emit(ws.EventLeaveRoom, s.roomID); err != nil {
			// The server-side subscription dies with the connection anyway.
			s.m.logger.Debug(fmt.Sprintf("leave room %s: %v", s.roomID, err))
		}
	})
}

// Join issues the join signal and records the room as current. The join is
// recorded even when the emit fails so that the next reconnect replays it.
func (m *RoomMembership) Join(roomID string) (*RoomSession, error) {
	if roomID == "" {
		return nil, ErrInvalidRoom
	}

	m.mu.Lock()
	prev := m.current
	m.current = nil
	m.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	session := &RoomSession{m: m, roomID: roomID}
	m.mu.Lock()
	m.current = session
	m.mu.Unlock()

	if err := m.emitter.Emit(ws.EventJoinRoom, roomID); err != nil {
		m.logger.Warn(fmt.Sprintf("join room %s: %v (will replay on reconnect)", roomID, err))
	}
	return session, nil
}

// Current returns the current room id, if any.
func (m *RoomMembership) Current() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "", false
	}
	return m.current.roomID, true
}

// Rejoin re-issues the join signal for the current room. It is wired to the
// connection's after-connect hook.
func (m *RoomMembership) Rejoin() {
	roomID, ok := m.Current()
	if !ok {
		return
	}
	if err := m.emitter.Emit(ws.EventJoinRoom, roomID); err != nil {
		m.logger.Warn(fmt.Sprintf("rejoin room %s: %v", roomID, err))
	}
}
