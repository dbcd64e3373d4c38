package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// RoomListSynchronizer maintains the ordered list of conversations, most
// recently active first. New rooms insert at the head; activity moves a
// room to the head while preserving the relative order of the others.
type RoomListSynchronizer struct {
	lister RoomLister
	selfID string
	logger *slog.Logger

	mu    sync.Mutex
	rooms []Room

	updates subscribers[struct{}]
}

func NewRoomListSynchronizer(lister RoomLister, selfID string, logger *slog.Logger) *RoomListSynchronizer {
	return &RoomListSynchronizer{lister: lister, selfID: selfID, logger: logger}
}

// OnUpdate registers a listener invoked whenever the list changes. The
// returned function cancels the registration.
func (s *RoomListSynchronizer) OnUpdate(fn func()) func() {
	return s.updates.subscribe(func(struct{}) { fn() })
}

// Rooms returns a snapshot of the list, most recently active first.
func (s *RoomListSynchronizer) Rooms() []Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Room, len(s.rooms))
	copy(out, s.rooms)
	return out
}

// DisplayName resolves the shown name of a room for the local user.
func (s *RoomListSynchronizer) DisplayName(room Room) string {
	return room.DisplayName(s.selfID)
}

// Refresh replaces the entire list from a full fetch, discarding any state
// not confirmed by the backend. On fetch failure the previous list is kept
// and the error returned.
func (s *RoomListSynchronizer) Refresh(ctx context.Context) error {
	rooms, err := s.lister.FetchRooms(ctx, s.selfID)
	if err != nil {
		return fmt.Errorf("refresh room list: %w", err)
	}
	s.mu.Lock()
	s.rooms = rooms
	s.mu.Unlock()
	s.updates.notify(struct{}{})
	return nil
}

// OnNewRoom inserts a room pushed by the backend at the head of the list.
// A room id already present is left where it is.
func (s *RoomListSynchronizer) OnNewRoom(room Room) {
	s.mu.Lock()
	for _, r := range s.rooms {
		if r.ID == room.ID {
			s.mu.Unlock()
			return
		}
	}
	s.rooms = append([]Room{room}, s.rooms...)
	s.mu.Unlock()
	s.updates.notify(struct{}{})
}

// OnActivity updates the room's latest-message preview and moves it to the
// head of the list. Activity for a room not in the list is ignored; the
// next Refresh reconciles it.
func (s *RoomListSynchronizer) OnActivity(roomID string, msg Message) {
	s.mu.Lock()
	idx := -1
	for i, r := range s.rooms {
		if r.ID == roomID {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		s.logger.Debug("activity for unknown room", slog.String("room", roomID))
		return
	}
	room := s.rooms[idx]
	room.Messages = []Message{msg}
	s.rooms = append(s.rooms[:idx], s.rooms[idx+1:]...)
	s.rooms = append([]Room{room}, s.rooms...)
	s.mu.Unlock()
	s.updates.notify(struct{}{})
}
