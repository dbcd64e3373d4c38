package app

import (
	"github.com/mobilechat/chatsync/core"
	"github.com/mobilechat/chatsync/observability"
	"github.com/mobilechat/chatsync/ws"
)

// registerEventHandlers wires the inbound half of the live channel into the
// engine components. All rooms receive live-push traffic over the single
// connection; routing by room id happens inside the components.
func (a *App) registerEventHandlers() {
	a.router.On(ws.EventReceiveMessage, a.handleReceiveMessage)
	a.router.On(ws.EventNewChatRoom, a.handleNewChatRoom)
	a.router.On(ws.EventUserTyping, a.handleUserTyping)
}

func (a *App) handleReceiveMessage(p *ws.Packet) error {
	var msg core.Message
	if err := ws.UnmarshalBody(p, &msg); err != nil {
		return err
	}
	observability.IncEvent("in", ws.EventReceiveMessage)

	a.Stream.Receive(msg)
	a.RoomList.OnActivity(msg.RoomID, msg)
	return nil
}

func (a *App) handleNewChatRoom(p *ws.Packet) error {
	var room core.Room
	if err := ws.UnmarshalBody(p, &room); err != nil {
		return err
	}
	observability.IncEvent("in", ws.EventNewChatRoom)

	a.RoomList.OnNewRoom(room)
	return nil
}

// handleUserTyping attributes the flag to the current room: the backend
// relays user_typing only to members of the room it originated in and the
// payload carries no room id.
func (a *App) handleUserTyping(p *ws.Packet) error {
	var body ws.UserTypingBody
	if err := ws.UnmarshalBody(p, &body); err != nil {
		return err
	}
	observability.IncEvent("in", ws.EventUserTyping)

	roomID, ok := a.Membership.Current()
	if !ok {
		return nil
	}
	// The local user's own flags echo back from some backends; ignore them.
	if body.UserID == a.Config.UserID {
		return nil
	}
	a.Typing.Receive(roomID, body.UserID, body.IsTyping)
	return nil
}
