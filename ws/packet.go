package ws

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/gorilla/websocket"
)

// Event types carried by packets. The names are the wire contract shared
// with the backend.
const (
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventSendMessage = "send_message"
	EventTyping      = "typing"

	EventNewChatRoom    = "new_chat_room"
	EventReceiveMessage = "receive_message"
	EventUserTyping     = "user_typing"

	// EventAck acknowledges an outbound packet by id.
	EventAck = "ack"
)

// Packet is the framing unit exchanged over the connection. ID is non-zero
// only on packets that expect an acknowledgement.
type Packet struct {
	ID int64 `json:"id,omitempty"`
	// Type identifies the event the body belongs to.
	Type string `json:"type"`
	// Body is decoded into an event-specific type by the handler.
	Body json.RawMessage `json:"body,omitempty"`
}

// AckBody is the body of an EventAck packet.
type AckBody struct {
	ID    int64  `json:"id"`
	Error string `json:"error,omitempty"`
}

func decodePacket(t int, r io.Reader) (*Packet, error) {
	if t != websocket.TextMessage {
		return nil, fmt.Errorf("unexpected message type: %d", t)
	}
	var packet Packet
	if err := json.NewDecoder(r).Decode(&packet); err != nil {
		return nil, fmt.Errorf("json.Decoder.Decode: %w", err)
	}
	return &packet, nil
}

func encodePacket(f func(t int) (io.WriteCloser, error), packet *Packet) error {
	w, err := f(websocket.TextMessage)
	if err != nil {
		return fmt.Errorf("NextWriter: %w", err)
	}
	defer w.Close()

	if err := json.NewEncoder(w).Encode(packet); err != nil {
		return fmt.Errorf("json.Encoder.Encode: %w", err)
	}
	return nil
}

// unmarshalBody decodes a packet body into an event-specific type.
func unmarshalBody(p *Packet, v interface{}) error {
	if err := json.Unmarshal(p.Body, v); err != nil {
		return fmt.Errorf("unmarshal %s body: %w", p.Type, err)
	}
	return nil
}

// UnmarshalBody decodes a packet body into an event-specific type.
func UnmarshalBody(p *Packet, v interface{}) error {
	return unmarshalBody(p, v)
}

// NewPacket marshals payload into a packet of the given type.
func NewPacket(eventType string, payload interface{}) (*Packet, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", eventType, err)
	}
	return &Packet{Type: eventType, Body: b}, nil
}
