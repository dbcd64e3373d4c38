// Package backendtest runs an in-process emulation of the chat backend:
// the REST listing endpoints and the live websocket channel, speaking the
// same wire contract the real backend does. Integration tests point the
// engine at it.
package backendtest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mobilechat/chatsync/core"
	"github.com/mobilechat/chatsync/ws"
)

// Server is the emulated backend. The exported knobs steer failure paths:
// FailSends makes every send acknowledgement carry an error, DropAcks makes
// the backend swallow sends entirely so the client's timeout fires.
type Server struct {
	*httptest.Server

	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	users    []core.User
	rooms    []core.Room
	messages map[string][]core.Message
	conns    map[*clientConn]struct{}
	nextID   int

	FailSends bool
	DropAcks  bool
}

type clientConn struct {
	ws     *websocket.Conn
	userID string

	mu    sync.Mutex
	rooms map[string]bool
}

func (c *clientConn) writePacket(p *ws.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(p)
}

func (c *clientConn) joined(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[roomID]
}

func New() *Server {
	s := &Server{
		logger: slog.New(slog.NewTextHandler(os.Stdout,
			&slog.HandlerOptions{Level: slog.LevelWarn})),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
			return true
		}},
		messages: make(map[string][]core.Message),
		conns:    make(map[*clientConn]struct{}),
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{AllowedOrigins: []string{"*"}}))
	r.Get("/Chat/GetRooms", s.handleGetRooms)
	r.Get("/Chat/GetMessages", s.handleGetMessages)
	r.Get("/Chat/GetUsers", s.handleGetUsers)
	r.Post("/Chat/CreateRoom", s.handleCreateRoom)
	r.Get("/api/socketio", s.handleSocket)

	s.Server = httptest.NewServer(r)
	return s
}

// URL is the base HTTP URL; SocketURL the websocket endpoint.
func (s *Server) SocketURL() string {
	return strings.Replace(s.Server.URL, "http://", "ws://", 1) + "/api/socketio"
}

// SeedUsers registers the known users.
func (s *Server) SeedUsers(users ...core.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, users...)
}

// SeedRoom registers a room at the head of the list.
func (s *Server) SeedRoom(room core.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = append([]core.Room{room}, s.rooms...)
}

// SeedHistory stores messages for a room, newest first, as GetMessages
// serves them.
func (s *Server) SeedHistory(roomID string, msgs ...core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[roomID] = append(s.messages[roomID], msgs...)
}

// PushMessage stores a message and broadcasts receive_message to every
// connection joined to the room, as backend-originated traffic.
func (s *Server) PushMessage(msg core.Message) {
	s.mu.Lock()
	s.messages[msg.RoomID] = append([]core.Message{msg}, s.messages[msg.RoomID]...)
	s.mu.Unlock()
	s.broadcast(msg.RoomID, mustPacket(ws.EventReceiveMessage, msg), nil)
}

// PushRoom broadcasts new_chat_room to every connection.
func (s *Server) PushRoom(room core.Room) {
	s.mu.Lock()
	s.rooms = append([]core.Room{room}, s.rooms...)
	conns := s.connSnapshot()
	s.mu.Unlock()
	p := mustPacket(ws.EventNewChatRoom, room)
	for _, c := range conns {
		c.writePacket(p)
	}
}

// CloseClientConns drops every websocket connection without close
// handshakes, simulating transport loss.
func (s *Server) CloseClientConns() {
	s.mu.Lock()
	conns := s.connSnapshot()
	s.mu.Unlock()
	for _, c := range conns {
		c.ws.Close()
	}
}

// ConnCount reports the number of live websocket connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// JoinedRooms reports which rooms the single expected connection has
// joined. Empty when no connection is up.
func (s *Server) JoinedRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for c := range s.conns {
		c.mu.Lock()
		for r := range c.rooms {
			out = append(out, r)
		}
		c.mu.Unlock()
	}
	return out
}

func (s *Server) connSnapshot() []*clientConn {
	conns := make([]*clientConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

func (s *Server) handleGetRooms(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rooms := make([]core.Room, len(s.rooms))
	copy(rooms, s.rooms)
	s.mu.Unlock()
	writeEnvelope(w, rooms)
}

func (s *Server) handleGetUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	users := make([]core.User, len(s.users))
	copy(users, s.users)
	s.mu.Unlock()
	writeEnvelope(w, users)
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	s.mu.Lock()
	all := s.messages[roomID]
	total := (len(all) + limit - 1) / limit
	if total < 1 {
		total = 1
	}
	start := (page - 1) * limit
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	msgs := make([]core.Message, end-start)
	copy(msgs, all[start:end])
	s.mu.Unlock()

	writeEnvelope(w, map[string]interface{}{
		"messages": msgs,
		"pagination": map[string]int{
			"currentPage": page,
			"totalPages":  total,
		},
	})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Name           string   `json:"name"`
		ParticipantIDs []string `json:"participantIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{"success": false})
		return
	}

	s.mu.Lock()
	room := core.Room{
		ID:        uuid.NewString(),
		Name:      input.Name,
		CreatedAt: time.Now(),
	}
	for _, id := range input.ParticipantIDs {
		for _, u := range s.users {
			if u.ID == id {
				room.Participants = append(room.Participants, u)
			}
		}
	}
	s.rooms = append([]core.Room{room}, s.rooms...)
	conns := s.connSnapshot()
	s.mu.Unlock()

	p := mustPacket(ws.EventNewChatRoom, room)
	for _, c := range conns {
		c.writePacket(p)
	}
	writeEnvelope(w, room)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	wsc, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	cc := &clientConn{
		ws:     wsc,
		userID: r.Header.Get("user-id"),
		rooms:  make(map[string]bool),
	}
	s.mu.Lock()
	s.conns[cc] = struct{}{}
	s.mu.Unlock()

	wsc.SetPingHandler(func(data string) error {
		cc.mu.Lock()
		defer cc.mu.Unlock()
		return wsc.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	go s.readLoop(cc)
}

func (s *Server) readLoop(cc *clientConn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, cc)
		s.mu.Unlock()
		cc.ws.Close()
	}()
	for {
		var p ws.Packet
		if err := cc.ws.ReadJSON(&p); err != nil {
			return
		}
		s.dispatch(cc, &p)
	}
}

func (s *Server) dispatch(cc *clientConn, p *ws.Packet) {
	switch p.Type {
	case ws.EventJoinRoom:
		var roomID string
		if err := json.Unmarshal(p.Body, &roomID); err != nil {
			return
		}
		cc.mu.Lock()
		cc.rooms[roomID] = true
		cc.mu.Unlock()
	case ws.EventLeaveRoom:
		var roomID string
		if err := json.Unmarshal(p.Body, &roomID); err != nil {
			return
		}
		cc.mu.Lock()
		delete(cc.rooms, roomID)
		cc.mu.Unlock()
	case ws.EventSendMessage:
		s.handleSendMessage(cc, p)
	case ws.EventTyping:
		var body ws.TypingBody
		if err := json.Unmarshal(p.Body, &body); err != nil {
			return
		}
		relay := mustPacket(ws.EventUserTyping, ws.UserTypingBody{
			UserID:   body.UserID,
			IsTyping: body.IsTyping,
		})
		s.broadcast(body.RoomID, relay, cc)
	default:
		s.logger.Warn("unhandled packet", slog.String("type", p.Type))
	}
}

func (s *Server) handleSendMessage(cc *clientConn, p *ws.Packet) {
	var body ws.SendMessageBody
	if err := json.Unmarshal(p.Body, &body); err != nil {
		return
	}

	if s.FailSends {
		ack := mustPacket(ws.EventAck, ws.AckBody{ID: p.ID, Error: "persist failed"})
		cc.writePacket(ack)
		return
	}
	if s.DropAcks {
		// The send vanishes entirely; the client's timeout is the only
		// signal it will get.
		return
	}

	s.mu.Lock()
	s.nextID++
	msg := core.Message{
		ID:        fmt.Sprintf("srv-%d", s.nextID),
		RoomID:    body.RoomID,
		SenderID:  body.SenderID,
		Content:   body.Message,
		CreatedAt: time.Now(),
	}
	s.messages[body.RoomID] = append([]core.Message{msg}, s.messages[body.RoomID]...)
	s.mu.Unlock()

	if !s.DropAcks {
		ack := mustPacket(ws.EventAck, ws.AckBody{ID: p.ID})
		cc.writePacket(ack)
	}
	s.broadcast(body.RoomID, mustPacket(ws.EventReceiveMessage, msg), nil)
}

// broadcast sends a packet to every connection joined to the room, except
// the excluded one.
func (s *Server) broadcast(roomID string, p *ws.Packet, except *clientConn) {
	s.mu.Lock()
	conns := s.connSnapshot()
	s.mu.Unlock()
	for _, c := range conns {
		if c == except || !c.joined(roomID) {
			continue
		}
		c.writePacket(p)
	}
}

func writeEnvelope(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

func mustPacket(eventType string, payload interface{}) *ws.Packet {
	p, err := ws.NewPacket(eventType, payload)
	if err != nil {
		panic(err)
	}
	return p
}
