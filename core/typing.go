package core

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mobilechat/chatsync/ws"
)

const (
	// DefaultTypingDebounce is how long after the last keystroke the
	// "stopped typing" signal is emitted.
	DefaultTypingDebounce = time.Second
	// DefaultTypingTTL is how long an inbound typing flag stays valid
	// without being refreshed. It protects against a "stopped typing"
	// signal dropped in transit.
	DefaultTypingTTL = 5 * time.Second
)

// TypingAggregator tracks per-room multi-user typing state. Outbound typing
// signals are debounced so repeated keystrokes coalesce into a single
// stopped-typing emission once input pauses; inbound flags expire after a
// TTL when not refreshed.
type TypingAggregator struct {
	emitter  EventEmitter
	logger   *slog.Logger
	debounce time.Duration
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	rooms map[string]map[string]time.Time
	out   map[string]*outboundTyping

	changes subscribers[string]
}

type outboundTyping struct {
	active bool
	timer  *time.Timer
}

func NewTypingAggregator(emitter EventEmitter, logger *slog.Logger, opts ...TypingOption) *TypingAggregator {
	a := &TypingAggregator{
		emitter:  emitter,
		logger:   logger,
		debounce: DefaultTypingDebounce,
		ttl:      DefaultTypingTTL,
		now:      time.Now,
		rooms:    make(map[string]map[string]time.Time),
		out:      make(map[string]*outboundTyping),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type TypingOption func(*TypingAggregator)

func WithTypingDebounce(d time.Duration) TypingOption {
	return func(a *TypingAggregator) { a.debounce = d }
}

func WithTypingTTL(d time.Duration) TypingOption {
	return func(a *TypingAggregator) { a.ttl = d }
}

// OnChange registers a listener invoked with the room id whenever that
// room's typing set changes. The returned function cancels the registration.
func (a *TypingAggregator) OnChange(fn func(roomID string)) func() {
	return a.changes.subscribe(fn)
}

// SetTyping reports the local user's input activity. The started-typing
// signal is emitted once per burst; every call with isTyping true re-arms
// the debounce timer whose expiry emits the explicit stopped signal.
func (a *TypingAggregator) SetTyping(roomID, userID string, isTyping bool) {
	a.mu.Lock()
	ot, ok := a.out[roomID]
	if !ok {
		ot = &outboundTyping{}
		a.out[roomID] = ot
	}
	wasActive := ot.active

	if isTyping {
		ot.active = true
		if ot.timer == nil {
			ot.timer = time.AfterFunc(a.debounce, func() { a.stopTyping(roomID, userID) })
		} else {
			ot.timer.Reset(a.debounce)
		}
		a.mu.Unlock()
		if !wasActive {
			a.emit(roomID, userID, true)
		}
		return
	}

	ot.active = false
	if ot.timer != nil {
		ot.timer.Stop()
	}
	a.mu.Unlock()
	if wasActive {
		a.emit(roomID, userID, false)
	}
}

// stopTyping is the debounce timer expiry.
func (a *TypingAggregator) stopTyping(roomID, userID string) {
	a.mu.Lock()
	ot, ok := a.out[roomID]
	if !ok || !ot.active {
		a.mu.Unlock()
		return
	}
	ot.active = false
	a.mu.Unlock()
	a.emit(roomID, userID, false)
}

func (a *TypingAggregator) emit(roomID, userID string, isTyping bool) {
	body := ws.TypingBody{RoomID: roomID, UserID: userID, IsTyping: isTyping}
	if err := a.emitter.Emit(ws.EventTyping, body); err != nil {
		// Typing signals are best effort.
		a.logger.Debug(fmt.Sprintf("emit typing: %v", err))
	}
}

// Receive applies an inbound typing flag for a user in a room. A user never
// appears twice in a room's typing set.
func (a *TypingAggregator) Receive(roomID, userID string, isTyping bool) {
	a.mu.Lock()
	room, ok := a.rooms[roomID]
	if !ok {
		room = make(map[string]time.Time)
		a.rooms[roomID] = room
	}
	if isTyping {
		room[userID] = a.now().Add(a.ttl)
	} else {
		delete(room, userID)
	}
	a.mu.Unlock()

	a.changes.notify(roomID)
}

// TypingUsers returns the ids of users currently typing in the room,
// sorted. Entries past their TTL are pruned on read.
func (a *TypingAggregator) TypingUsers(roomID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	room, ok := a.rooms[roomID]
	if !ok {
		return nil
	}
	now := a.now()
	var users []string
	for id, expiry := range room {
		if now.After(expiry) {
			delete(room, id)
			continue
		}
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}
