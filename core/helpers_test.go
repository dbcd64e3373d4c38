package core

import (
	"fmt"
	"log/slog"
	"os"
	"time"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

// waitOrTimeout waits for fn to finish or times out.
func waitOrTimeout(timeout time.Duration, fn func()) bool {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func testMsg(id, roomID, senderID, content string) Message {
	return Message{
		ID:        id,
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// numberedMsgs builds messages m<from>..m<to> for a room, newest first, the
// way history pages arrive.
func numberedMsgs(roomID string, from, to int) []Message {
	var out []Message
	for i := from; i >= to; i-- {
		out = append(out, testMsg(fmt.Sprintf("m%d", i), roomID, "u2", fmt.Sprintf("message %d", i)))
	}
	return out
}

func timelineIDs(msgs []Message) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}
