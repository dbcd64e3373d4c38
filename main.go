package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mobilechat/chatsync/app"
	"github.com/mobilechat/chatsync/core"
)

// A small terminal front end over the engine. One room can be active at a
// time; incoming traffic for it is printed as it arrives.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	defer cancel()

	config, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	engine, err := app.New(config, logger)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer engine.Close()

	if err := engine.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	if err := engine.RoomList.Refresh(ctx); err != nil {
		log.Fatalf("load rooms: %v", err)
	}

	var session *core.RoomSession
	defer func() {
		if session != nil {
			session.Close()
		}
	}()

	engine.Stream.OnUpdate(func(roomID string) {
		if session == nil || session.RoomID() != roomID {
			return
		}
		msgs := engine.Stream.Timeline(roomID)
		if len(msgs) > 0 {
			m := msgs[0]
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04"), m.SenderID, m.Content)
		}
	})
	engine.Typing.OnChange(func(roomID string) {
		if session == nil || session.RoomID() != roomID {
			return
		}
		if users := engine.Typing.TypingUsers(roomID); len(users) > 0 {
			fmt.Printf("typing: %s\n", strings.Join(users, ", "))
		}
	})
	engine.Outbound.OnSendFailed(func(f core.SendFailure) {
		fmt.Printf("send failed, message restored to compose box: %q\n", f.Content)
	})

	fmt.Println("commands: rooms | join <roomId> | send <text> | more | users [query] | create <userId>... | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		cmd, rest, _ := strings.Cut(line, " ")
		switch cmd {
		case "rooms":
			for _, r := range engine.RoomList.Rooms() {
				fmt.Printf("%s  %s\n", r.ID, engine.RoomList.DisplayName(r))
			}
		case "join":
			if session != nil {
				session.Close()
			}
			session, err = engine.EnterRoom(ctx, rest)
			if err != nil {
				fmt.Printf("join: %v\n", err)
				continue
			}
			for _, m := range engine.Stream.Timeline(rest) {
				fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04"), m.SenderID, m.Content)
			}
		case "send":
			if session == nil {
				fmt.Println("join a room first")
				continue
			}
			if _, err := engine.SendMessage(session.RoomID(), rest); err != nil {
				fmt.Printf("send: %v\n", err)
			}
		case "more":
			if session == nil {
				fmt.Println("join a room first")
				continue
			}
			if err := engine.Stream.LoadNextPage(ctx, session.RoomID()); err != nil {
				fmt.Printf("load: %v\n", err)
			}
		case "users":
			users, err := engine.Users(ctx, rest)
			if err != nil {
				fmt.Printf("users: %v\n", err)
				continue
			}
			for _, u := range users {
				fmt.Printf("%s  %s <%s>\n", u.ID, u.Name, u.Email)
			}
		case "create":
			room, err := engine.CreateRoom(ctx, "", strings.Fields(rest))
			if err != nil {
				fmt.Printf("create: %v\n", err)
				continue
			}
			fmt.Printf("created %s\n", room.ID)
		case "quit":
			return
		case "":
		default:
			fmt.Println("unknown command")
		}
	}
}
