package core

import "context"

// EventEmitter is the outbound half of the live channel as the engine sees
// it. The websocket client implements it; tests substitute mocks.
type EventEmitter interface {
	// Emit sends a fire-and-forget event.
	Emit(eventType string, payload interface{}) error
	// EmitWithAck sends an event the backend acknowledges. Exactly one of
	// the acknowledgement and its timeout invokes ack.
	EmitWithAck(eventType string, payload interface{}, ack func(error)) error
	// Connected reports whether the transport is currently usable.
	Connected() bool
}

// PageResult is one fetched page of room history.
type PageResult struct {
	Messages    []Message
	CurrentPage int
	TotalPages  int
}

// HistoryFetcher fetches paginated room history. The api client is adapted
// to this by the composition root.
type HistoryFetcher interface {
	FetchPage(ctx context.Context, roomID string, page, limit int) (PageResult, error)
}

// RoomLister fetches the full room list for a user.
type RoomLister interface {
	FetchRooms(ctx context.Context, userID string) ([]Room, error)
}
