package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/mobilechat/chatsync/api"
	"github.com/mobilechat/chatsync/core"
	"github.com/mobilechat/chatsync/observability"
	"github.com/mobilechat/chatsync/ws"
)

// App is the composition root of the synchronization engine. It owns the
// single connection for the process and wires the live channel into the
// per-room engine components.
type App struct {
	Config *Config
	Logger *slog.Logger

	API        *api.Client
	Conn       *ws.Client
	Stream     *core.MessageStream
	Typing     *core.TypingAggregator
	Outbound   *core.OutboundMessageTracker
	Membership *core.RoomMembership
	RoomList   *core.RoomListSynchronizer

	router *ws.Router
	unsubs []func()
}

func New(config *Config, logger *slog.Logger) (*App, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %s", FormatValidationErrors(err))
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	a := &App{Config: config, Logger: logger}

	a.API = api.NewClient(config.ServerURL)

	header := http.Header{}
	header.Set("user-id", config.UserID)
	a.Conn = ws.NewClient(config.ResolvedSocketURL(),
		ws.WithLogger(logger.With(slog.String("component", "ws"))),
		ws.WithHeader(header),
		ws.WithMaxAttempts(config.MaxAttempts),
		ws.WithBackoffBase(config.ReconnectBase),
		ws.WithProbeInterval(config.ProbeInterval),
		ws.WithAckTimeout(config.AckTimeout),
	)

	a.Stream = core.NewMessageStream(
		historyFetcher{api: a.API}, config.PageLimit,
		logger.With(slog.String("component", "stream")))
	a.Typing = core.NewTypingAggregator(a.Conn,
		logger.With(slog.String("component", "typing")),
		core.WithTypingDebounce(config.TypingDebounce),
		core.WithTypingTTL(config.TypingTTL))
	a.Outbound = core.NewOutboundMessageTracker(a.Conn, a.Stream,
		logger.With(slog.String("component", "outbound")))
	a.Membership = core.NewRoomMembership(a.Conn,
		logger.With(slog.String("component", "membership")))
	a.RoomList = core.NewRoomListSynchronizer(
		roomLister{api: a.API}, config.UserID,
		logger.With(slog.String("component", "roomlist")))

	a.router = ws.NewRouter(logger.With(slog.String("component", "router")))
	a.registerEventHandlers()
	a.Conn.OnPacket(a.router.Dispatch)
	a.router.OnDrop(observability.IncDroppedPacket)

	// Join state does not survive a transport reset.
	a.unsubs = append(a.unsubs, a.Conn.OnConnect(a.Membership.Rejoin))
	a.unsubs = append(a.unsubs, a.Conn.OnState(func(sc ws.StateChange) {
		observability.IncConnState(sc.New.String())
		if sc.New == ws.StateReconnecting {
			observability.IncReconnectAttempt()
		}
		if sc.New == ws.StateUnreachable {
			logger.Error("backend unreachable, user-initiated retry required",
				slog.Int("attempts", sc.Attempt))
		}
	}))
	a.unsubs = append(a.unsubs, a.Outbound.OnSendFailed(func(f core.SendFailure) {
		observability.IncSend("failed")
	}))

	return a, nil
}

// Connect establishes the live channel.
func (a *App) Connect(ctx context.Context) error {
	return a.Conn.Connect(ctx)
}

// Close tears the engine down. Any scheduled reconnect is cancelled.
func (a *App) Close() {
	for _, unsub := range a.unsubs {
		unsub()
	}
	a.Conn.Disconnect()
}

// EnterRoom joins the room on the live channel and loads the first page of
// its history. The returned session must be closed on every exit path from
// the room view.
func (a *App) EnterRoom(ctx context.Context, roomID string) (*core.RoomSession, error) {
	session, err := a.Membership.Join(roomID)
	if err != nil {
		return nil, err
	}
	if err := a.Stream.LoadInitialPage(ctx, roomID); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}

// SendMessage sends content to the room as the local user.
func (a *App) SendMessage(roomID, content string) (core.Message, error) {
	msg, err := a.Outbound.Send(roomID, a.Config.UserID, content)
	if err != nil {
		observability.IncSend("rejected")
		return core.Message{}, err
	}
	observability.IncSend("sent")
	return msg, nil
}

// Users lists users matching query by name or email, for picking room
// participants. An empty query returns everyone.
func (a *App) Users(ctx context.Context, query string) ([]core.User, error) {
	users, err := a.API.GetUsers(ctx, a.Config.UserID)
	if err != nil {
		return nil, err
	}
	return core.FilterUsers(users, query), nil
}

// CreateRoom creates a room through the backend and inserts it at the head
// of the room list.
func (a *App) CreateRoom(ctx context.Context, name string, participantIDs []string) (*core.Room, error) {
	ids := append([]string{}, participantIDs...)
	ids = append(ids, a.Config.UserID)
	room, err := a.API.CreateRoom(ctx, api.CreateRoomInput{Name: name, ParticipantIDs: ids})
	if err != nil {
		return nil, err
	}
	a.RoomList.OnNewRoom(*room)
	return room, nil
}

// historyFetcher adapts the api client to the engine's fetch interface.
type historyFetcher struct {
	api *api.Client
}

func (f historyFetcher) FetchPage(ctx context.Context, roomID string, page, limit int) (core.PageResult, error) {
	msgs, pag, err := f.api.GetMessages(ctx, roomID, page, limit)
	if err != nil {
		return core.PageResult{}, err
	}
	observability.IncHistoryPageLoaded()
	return core.PageResult{
		Messages:    msgs,
		CurrentPage: pag.CurrentPage,
		TotalPages:  pag.TotalPages,
	}, nil
}

// roomLister adapts the api client to the room list's fetch interface.
type roomLister struct {
	api *api.Client
}

func (l roomLister) FetchRooms(ctx context.Context, userID string) ([]core.Room, error) {
	return l.api.GetRooms(ctx, userID)
}
