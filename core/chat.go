package core

import (
	"errors"
	"strings"
	"time"
)

const (
	// DeliverySent indicates that the backend has acknowledged the message.
	// It is the zero value so that messages decoded off the wire are Sent.
	DeliverySent DeliveryState = iota
	// DeliveryPending indicates an optimistic message awaiting acknowledgement.
	DeliveryPending
	// DeliveryFailed indicates that the send failed or timed out.
	DeliveryFailed
)

// DeliveryState represents the delivery state of a client-authored message.
type DeliveryState int

func (s DeliveryState) String() string {
	switch s {
	case DeliverySent:
		return "sent"
	case DeliveryPending:
		return "pending"
	case DeliveryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrEmptyMessage is returned when a message trims to the empty string.
	ErrEmptyMessage = errors.New("empty message")
	// ErrNotConnected is returned when an operation requires a live connection.
	ErrNotConnected = errors.New("not connected")
	// ErrInvalidRoom is returned when a room is not found or is invalid.
	ErrInvalidRoom = errors.New("invalid room")
	// ErrLoadInFlight is returned when a page load is already running for the room.
	ErrLoadInFlight = errors.New("page load already in flight")
	// ErrNoMorePages is returned when the backend reported no further history.
	ErrNoMorePages = errors.New("no more pages")
	// ErrAckTimeout is returned when a send is not acknowledged in time.
	ErrAckTimeout = errors.New("acknowledgement timed out")
)

// User represents a chat participant as reported by the backend.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
}

// Room represents a conversation between a set of participants.
// Messages holds at most the latest message and is used as the list preview.
type Room struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Participants []User    `json:"participants"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DisplayName resolves the name shown for the room. When no explicit name is
// set it joins the display names of all participants excluding the local
// user, in the order given by the backend.
func (r Room) DisplayName(selfID string) string {
	if r.Name != "" {
		return r.Name
	}
	var names []string
	for _, p := range r.Participants {
		if p.ID == selfID {
			continue
		}
		names = append(names, p.Name)
	}
	return strings.Join(names, ", ")
}

// LastMessage returns the room's preview message, if any.
func (r Room) LastMessage() (Message, bool) {
	if len(r.Messages) == 0 {
		return Message{}, false
	}
	return r.Messages[0], true
}

// Message represents a chat message. A message is immutable once its delivery
// state reaches DeliverySent. Pending messages carry a client-synthesized
// local id until the acknowledgement supplies the server-assigned one.
type Message struct {
	ID        string        `json:"id"`
	RoomID    string        `json:"roomId"`
	SenderID  string        `json:"senderId"`
	Sender    *User         `json:"sender,omitempty"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"createdAt"`
	Delivery  DeliveryState `json:"-"`
}

// sameAuthorship reports whether two messages plausibly describe the same
// send: same room, sender and content, created within the given window. It is
// the reconciliation fallback when id matching is unavailable.
func sameAuthorship(a, b Message, window time.Duration) bool {
	if a.RoomID != b.RoomID || a.SenderID != b.SenderID || a.Content != b.Content {
		return false
	}
	d := a.CreatedAt.Sub(b.CreatedAt)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// FilterUsers returns the users whose name or email contains the query,
// case-insensitively. An empty query returns the input unchanged.
func FilterUsers(users []User, query string) []User {
	if query == "" {
		return users
	}
	q := strings.ToLower(query)
	var out []User
	for _, u := range users {
		if strings.Contains(strings.ToLower(u.Name), q) ||
			strings.Contains(strings.ToLower(u.Email), q) {
			out = append(out, u)
		}
	}
	return out
}
