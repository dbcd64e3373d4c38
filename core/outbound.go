package core

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mobilechat/chatsync/ws"
)

// localIDPrefix marks client-synthesized message ids. They exist only until
// the live-streamed copy of the send supersedes them.
const localIDPrefix = "local-"

func isLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}

// SendFailure is delivered to subscribers when a send fails or times out.
// Content is the original text so the caller can restore its compose buffer.
type SendFailure struct {
	RoomID   string
	SenderID string
	Content  string
	Err      error
}

// OutboundMessageTracker manages optimistic send, acknowledgement and
// rollback-on-failure for user-authored messages.
type OutboundMessageTracker struct {
	emitter EventEmitter
	stream  *MessageStream
	logger  *slog.Logger

	failures subscribers[SendFailure]
}

func NewOutboundMessageTracker(emitter EventEmitter, stream *MessageStream, logger *slog.Logger) *OutboundMessageTracker {
	return &OutboundMessageTracker{
		emitter: emitter,
		stream:  stream,
		logger:  logger,
	}
}

// OnSendFailed registers a listener for rolled-back sends. The returned
// function cancels the registration.
func (t *OutboundMessageTracker) OnSendFailed(fn func(SendFailure)) func() {
	return t.failures.subscribe(fn)
}

// CanSend reports whether content is sendable. It is false for blank
// content regardless of connection state; the send affordance is disabled
// off it.
func (t *OutboundMessageTracker) CanSend(content string) bool {
	return strings.TrimSpace(content) != ""
}

// Send synthesizes an optimistic pending message, inserts it at the head of
// the room's timeline and emits the outbound event with an acknowledgement
// callback. Blank content and a disconnected transport are rejected before
// any timeline mutation or emission.
func (t *OutboundMessageTracker) Send(roomID, senderID, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, ErrEmptyMessage
	}
	if !t.emitter.Connected() {
		return Message{}, NewError(TransportError, "send message", ErrNotConnected)
	}

	msg := Message{
		ID:        localIDPrefix + uuid.NewString(),
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now(),
		Delivery:  DeliveryPending,
	}
	t.stream.insertPending(msg)

	body := ws.SendMessageBody{RoomID: roomID, SenderID: senderID, Message: content}
	err := t.emitter.EmitWithAck(ws.EventSendMessage, body, func(ackErr error) {
		t.settle(msg, ackErr)
	})
	if err != nil {
		// The emission never left; roll the optimistic insert back without
		// reporting a send failure, the caller sees the error directly.
		t.stream.removePending(roomID, msg.ID)
		return Message{}, NewError(TransportError, "send message", err)
	}
	return msg, nil
}

// settle applies the outcome of the acknowledgement or its timeout. The
// transport guarantees it runs at most once per send.
func (t *OutboundMessageTracker) settle(msg Message, ackErr error) {
	if ackErr == nil {
		t.stream.reconcilePending(msg.RoomID, msg.ID, "")
		return
	}

	t.logger.Warn("send failed, rolling back optimistic message",
		slog.String("room", msg.RoomID), slog.String("err", ackErr.Error()))
	t.stream.removePending(msg.RoomID, msg.ID)
	t.failures.notify(SendFailure{
		RoomID:   msg.RoomID,
		SenderID: msg.SenderID,
		Content:  msg.Content,
		Err:      NewError(AckError, fmt.Sprintf("send to room %s", msg.RoomID), ackErr),
	})
}
