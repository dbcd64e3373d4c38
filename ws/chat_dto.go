package ws

// SendMessageBody is the outbound body of EventSendMessage.
type SendMessageBody struct {
	RoomID   string `json:"roomId"`
	SenderID string `json:"senderId"`
	Message  string `json:"message"`
}

// TypingBody is the outbound body of EventTyping.
type TypingBody struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// UserTypingBody is the inbound body of EventUserTyping. The backend relays
// it only to members of the room it originated in and carries no room id;
// the client attributes it to its current room.
type UserTypingBody struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// Join and leave bodies are the bare room id, matching the backend contract.
