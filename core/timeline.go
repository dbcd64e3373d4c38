package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// reconcileWindow bounds the created-timestamp distance for the
// content+sender+room fallback when matching an optimistic message against
// its live-streamed copy.
const reconcileWindow = 30 * time.Second

// PaginationCursor is the paging state of one room's history.
type PaginationCursor struct {
	Page       int
	TotalPages int
	HasMore    bool
	Loading    bool
}

// timeline is one room's merged message sequence, newest first. Live
// messages prepend at the head, history pages append at the tail; a message
// id present in the timeline is never inserted twice regardless of source.
type timeline struct {
	messages []Message
	ids      map[string]struct{}
	cursor   PaginationCursor
}

func newTimeline() *timeline {
	return &timeline{ids: make(map[string]struct{})}
}

func (tl *timeline) contains(id string) bool {
	_, ok := tl.ids[id]
	return ok
}

func (tl *timeline) prepend(msg Message) bool {
	if tl.contains(msg.ID) {
		return false
	}
	tl.messages = append([]Message{msg}, tl.messages...)
	tl.ids[msg.ID] = struct{}{}
	return true
}

func (tl *timeline) append(msg Message) bool {
	if tl.contains(msg.ID) {
		return false
	}
	tl.messages = append(tl.messages, msg)
	tl.ids[msg.ID] = struct{}{}
	return true
}

func (tl *timeline) remove(id string) bool {
	if !tl.contains(id) {
		return false
	}
	delete(tl.ids, id)
	for i, m := range tl.messages {
		if m.ID == id {
			tl.messages = append(tl.messages[:i], tl.messages[i+1:]...)
			break
		}
	}
	return true
}

// MessageStream merges paginated history fetches with live-pushed messages
// into one ordered, deduplicated timeline per room.
type MessageStream struct {
	fetcher HistoryFetcher
	limit   int
	logger  *slog.Logger

	mu    sync.Mutex
	rooms map[string]*timeline

	updates subscribers[string]
}

func NewMessageStream(fetcher HistoryFetcher, limit int, logger *slog.Logger) *MessageStream {
	return &MessageStream{
		fetcher: fetcher,
		limit:   limit,
		logger:  logger,
		rooms:   make(map[string]*timeline),
	}
}

// OnUpdate registers a listener invoked with the room id whenever that
// room's timeline changes. The returned function cancels the registration.
func (s *MessageStream) OnUpdate(fn func(roomID string)) func() {
	return s.updates.subscribe(fn)
}

// Timeline returns a snapshot of the room's messages, newest first.
func (s *MessageStream) Timeline(roomID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	tl, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Message, len(tl.messages))
	copy(out, tl.messages)
	return out
}

// Cursor returns the room's paging state.
func (s *MessageStream) Cursor(roomID string) PaginationCursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	tl, ok := s.rooms[roomID]
	if !ok {
		return PaginationCursor{}
	}
	return tl.cursor
}

func (s *MessageStream) room(roomID string) *timeline {
	tl, ok := s.rooms[roomID]
	if !ok {
		tl = newTimeline()
		s.rooms[roomID] = tl
	}
	return tl
}

// LoadInitialPage fetches page 1 of the room's history and replaces the
// timeline with it.
func (s *MessageStream) LoadInitialPage(ctx context.Context, roomID string) error {
	s.mu.Lock()
	tl := s.room(roomID)
	if tl.cursor.Loading {
		s.mu.Unlock()
		return ErrLoadInFlight
	}
	tl.cursor.Loading = true
	s.mu.Unlock()

	res, err := s.fetcher.FetchPage(ctx, roomID, 1, s.limit)

	s.mu.Lock()
	tl = s.room(roomID)
	tl.cursor.Loading = false
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("load page 1 of room %s: %w", roomID, err)
	}

	fresh := newTimeline()
	for _, msg := range res.Messages {
		fresh.append(msg)
	}
	fresh.cursor = PaginationCursor{
		Page:       res.CurrentPage,
		TotalPages: res.TotalPages,
		HasMore:    res.CurrentPage < res.TotalPages,
	}
	s.rooms[roomID] = fresh
	s.mu.Unlock()

	s.updates.notify(roomID)
	return nil
}

// LoadNextPage fetches the page after the last applied one and appends the
// older messages at the tail. The call is ignored when no further pages
// exist or a load for the room is already in flight; concurrent loads for
// the same room are never queued.
func (s *MessageStream) LoadNextPage(ctx context.Context, roomID string) error {
	s.mu.Lock()
	tl := s.room(roomID)
	if tl.cursor.Loading {
		s.mu.Unlock()
		return ErrLoadInFlight
	}
	if !tl.cursor.HasMore {
		s.mu.Unlock()
		return ErrNoMorePages
	}
	next := tl.cursor.Page + 1
	tl.cursor.Loading = true
	s.mu.Unlock()

	res, err := s.fetcher.FetchPage(ctx, roomID, next, s.limit)

	s.mu.Lock()
	tl = s.room(roomID)
	tl.cursor.Loading = false
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("load page %d of room %s: %w", next, roomID, err)
	}
	if res.CurrentPage != next {
		// Pages are only ever appended in increasing order.
		s.mu.Unlock()
		s.logger.Warn("out-of-order history page dropped",
			slog.String("room", roomID), slog.Int("expected", next), slog.Int("got", res.CurrentPage))
		return nil
	}

	changed := false
	for _, msg := range res.Messages {
		if tl.append(msg) {
			changed = true
		}
	}
	tl.cursor.Page = res.CurrentPage
	tl.cursor.TotalPages = res.TotalPages
	tl.cursor.HasMore = res.CurrentPage < res.TotalPages
	s.mu.Unlock()

	if changed {
		s.updates.notify(roomID)
	}
	return nil
}

// Receive prepends a live-pushed message at the head of its room's
// timeline. A message id already present is never inserted twice; a live
// copy of an optimistic pending send supersedes the pending entry.
func (s *MessageStream) Receive(msg Message) {
	s.mu.Lock()
	tl := s.room(msg.RoomID)
	if tl.contains(msg.ID) {
		s.mu.Unlock()
		return
	}
	// The acknowledgement path and the live-push path can both deliver the
	// same sent message; the ack carries no server id, so the live copy
	// supersedes any optimistic entry it matches by authorship.
	for _, m := range tl.messages {
		if isLocalID(m.ID) && m.Delivery != DeliveryFailed && sameAuthorship(m, msg, reconcileWindow) {
			tl.remove(m.ID)
			break
		}
	}
	tl.prepend(msg)
	s.mu.Unlock()

	s.updates.notify(msg.RoomID)
}

// insertPending places an optimistic message at the head of the timeline.
func (s *MessageStream) insertPending(msg Message) {
	s.mu.Lock()
	s.room(msg.RoomID).prepend(msg)
	s.mu.Unlock()
	s.updates.notify(msg.RoomID)
}

// reconcilePending swaps a pending message's temporary id for the
// server-assigned one and marks it sent. If the live copy already arrived
// under the server id the pending entry is dropped instead. It is a no-op
// when the pending entry no longer exists.
func (s *MessageStream) reconcilePending(roomID, tempID, serverID string) {
	s.mu.Lock()
	tl := s.room(roomID)
	if !tl.contains(tempID) {
		s.mu.Unlock()
		return
	}
	if serverID != "" && tl.contains(serverID) {
		tl.remove(tempID)
		s.mu.Unlock()
		s.updates.notify(roomID)
		return
	}
	delete(tl.ids, tempID)
	for i := range tl.messages {
		if tl.messages[i].ID == tempID {
			if serverID != "" {
				tl.messages[i].ID = serverID
			}
			tl.messages[i].Delivery = DeliverySent
			tl.ids[tl.messages[i].ID] = struct{}{}
			break
		}
	}
	s.mu.Unlock()
	s.updates.notify(roomID)
}

// removePending rolls an optimistic message back out of the timeline.
func (s *MessageStream) removePending(roomID, tempID string) {
	s.mu.Lock()
	removed := s.room(roomID).remove(tempID)
	s.mu.Unlock()
	if removed {
		s.updates.notify(roomID)
	}
}
