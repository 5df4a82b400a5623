// roomcli is a headless client for the room engine: it joins or creates
// a room, keeps a presence session alive, prints incoming events, and
// takes commands on stdin.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/quizhive/quizhive-rooms/internal/config"
	"github.com/quizhive/quizhive-rooms/internal/events"
	"github.com/quizhive/quizhive-rooms/internal/game"
	"github.com/quizhive/quizhive-rooms/internal/identity"
	"github.com/quizhive/quizhive-rooms/internal/msgcat"
	"github.com/quizhive/quizhive-rooms/internal/obslog"
	"github.com/quizhive/quizhive-rooms/internal/presence"
	"github.com/quizhive/quizhive-rooms/internal/quizstore"
	"github.com/quizhive/quizhive-rooms/internal/ratelimit"
	"github.com/quizhive/quizhive-rooms/internal/room"
	"github.com/quizhive/quizhive-rooms/internal/rtstore"
	"github.com/quizhive/quizhive-rooms/pkg/roomdto"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	store, err := rtstore.Open(cfg.RedisURL, cfg.RoomTTL)
	if err != nil {
		log.Fatalf("store init error: %v", err)
	}
	defer store.Close()

	var repo *quizstore.Repository
	if cfg.DatabaseURL != "" {
		repo, err = quizstore.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("repository init error: %v", err)
		}
		defer repo.Close()
	}

	var ids identity.Provider
	token := strings.TrimSpace(os.Getenv("SESSION_TOKEN"))
	if cfg.IdentityBaseURL != "" {
		ids = identity.NewHTTPProvider(cfg.IdentityBaseURL)
	} else {
		// Standalone mode: the token doubles as the user id.
		st := identity.NewStatic()
		name := strings.TrimSpace(os.Getenv("USER_NAME"))
		if name == "" {
			name = token
		}
		st.Add(token, identity.User{ID: token, Name: name})
		ids = st
	}
	if token == "" {
		log.Fatalf("SESSION_TOKEN is required")
	}

	cat, err := msgcat.New(cfg.MessageOverrideDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	reg := events.NewRegistry()
	limiter := ratelimit.New(nil)
	rooms := room.NewManager(store, repo, ids, limiter, reg, cat, cfg)
	machine := game.NewMachine(rooms, store, repo, ids, limiter, reg, cat)

	printEvents(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	user, err := ids.Resolve(ctx, token)
	if err != nil {
		log.Fatalf("identity error: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	session := &session{
		ctx:     ctx,
		cfg:     cfg,
		store:   store,
		rooms:   rooms,
		machine: machine,
		token:   token,
		user:    user,
	}
	defer session.leaveQuietly()

	go func() {
		<-sigCh
		cancel()
		session.leaveQuietly()
		store.Close()
		os.Exit(0)
	}()

	fmt.Printf("signed in as %s (%s). Type 'help'.\n", user.Name, user.ID)
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		session.handle(line)
	}
}

type session struct {
	ctx     context.Context
	cfg     *config.AppConfig
	store   *rtstore.Client
	rooms   *room.Manager
	machine *game.Machine
	token   string
	user    *identity.User

	roomID string
	coord  *presence.Coordinator
	watch  *rtstore.Subscription
}

func (s *session) handle(line string) {
	parts := strings.Fields(line)
	cmd, args := parts[0], parts[1:]
	var err error
	switch cmd {
	case "help":
		fmt.Println(helpText)
	case "create":
		err = s.create(args)
	case "join":
		err = s.join(args)
	case "leave":
		err = s.leave()
	case "ready":
		err = s.inRoom(func() error { return s.rooms.ToggleReady(s.ctx, s.token, s.roomID) })
	case "role":
		err = s.inRoom(func() error { return s.rooms.ToggleRole(s.ctx, s.token, s.roomID) })
	case "chat":
		err = s.inRoom(func() error {
			_, err := s.rooms.SendChatMessage(s.ctx, s.token, s.roomID, strings.Join(args, " "))
			return err
		})
	case "kick":
		err = s.targetCmd(args, func(id string) error { return s.rooms.KickPlayer(s.ctx, s.token, s.roomID, id) })
	case "transfer":
		err = s.targetCmd(args, func(id string) error { return s.rooms.TransferHost(s.ctx, s.token, s.roomID, id) })
	case "start":
		err = s.inRoom(func() error { return s.machine.Start(s.ctx, s.token, s.roomID) })
	case "answer":
		err = s.answer(args)
	case "next":
		err = s.inRoom(func() error { return s.machine.NextQuestion(s.ctx, s.token, s.roomID) })
	case "powerup":
		err = s.powerup(args)
	case "powerups":
		err = s.powerupsToggle(args)
	case "pause":
		err = s.inRoom(func() error { return s.machine.Pause(s.ctx, s.token, s.roomID) })
	case "resume":
		err = s.inRoom(func() error { return s.machine.Resume(s.ctx, s.token, s.roomID) })
	case "end":
		err = s.inRoom(func() error { return s.machine.End(s.ctx, s.token, s.roomID) })
	case "players":
		err = s.inRoom(func() error {
			players, err := s.rooms.Players(s.ctx, s.roomID)
			if err != nil {
				return err
			}
			for id, p := range players {
				fmt.Printf("  %s %s role=%s score=%d online=%v ready=%v\n", id, p.Name, p.Role, p.Score, p.Online, p.Ready)
			}
			return nil
		})
	default:
		fmt.Printf("unknown command %q\n", cmd)
	}
	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func (s *session) inRoom(fn func() error) error {
	if s.roomID == "" {
		return fmt.Errorf("not in a room")
	}
	return fn()
}

func (s *session) targetCmd(args []string, fn func(id string) error) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: <command> <player-id>")
	}
	return s.inRoom(func() error { return fn(args[0]) })
}

func (s *session) create(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: create <name> <quiz-id> [max-players] [password]")
	}
	p := room.CreateRoomParams{
		Name:       args[0],
		QuizID:     args[1],
		MaxPlayers: 8,
		Settings: roomdto.RoomSettings{
			TimePerQuestion: s.cfg.DefaultTimePerQuestion,
			AllowLateJoin:   s.cfg.AllowLateJoin,
			ShowLeaderboard: true,
			EnablePowerUps:  true,
		},
	}
	if len(args) > 2 {
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("bad max-players: %w", err)
		}
		p.MaxPlayers = n
	}
	if len(args) > 3 {
		p.IsPrivate = true
		p.Password = args[3]
	}
	r, err := s.rooms.CreateRoom(s.ctx, s.token, p)
	if err != nil {
		return err
	}
	fmt.Printf("room %s created, code %s\n", r.ID, r.Code)
	return s.enter(r.ID)
}

func (s *session) join(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: join <code-or-id> [password]")
	}
	password := ""
	if len(args) > 1 {
		password = args[1]
	}
	r, err := s.rooms.JoinRoom(s.ctx, s.token, args[0], password)
	if err != nil {
		return err
	}
	fmt.Printf("joined room %s (%s)\n", r.Name, r.ID)
	return s.enter(r.ID)
}

func (s *session) enter(roomID string) error {
	s.roomID = roomID
	watch, err := s.rooms.WatchRoom(s.ctx, roomID)
	if err != nil {
		return err
	}
	s.watch = watch
	s.coord = presence.NewCoordinator(s.store, s.rooms, s.cfg, s.token, s.user.ID, s.user.Name, roomID)
	return s.coord.Start(s.ctx)
}

func (s *session) leave() error {
	return s.inRoom(func() error {
		err := s.rooms.LeaveRoom(s.ctx, s.token, s.roomID)
		s.teardown()
		return err
	})
}

func (s *session) leaveQuietly() {
	s.teardown()
}

func (s *session) teardown() {
	if s.coord != nil {
		s.coord.Stop()
		s.coord = nil
	}
	if s.watch != nil {
		s.watch.Close()
		s.watch = nil
	}
	s.roomID = ""
}

func (s *session) answer(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: answer <question-id> <choice> <elapsed-ms>")
	}
	choice, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("bad choice: %w", err)
	}
	elapsed, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("bad elapsed: %w", err)
	}
	return s.inRoom(func() error {
		return s.machine.SubmitAnswer(s.ctx, s.token, s.roomID, args[0], choice, elapsed)
	})
}

func (s *session) powerup(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: powerup <50-50|x2-score|freeze-time>")
	}
	return s.inRoom(func() error {
		gs, err := s.machine.State(s.ctx, s.roomID)
		if err != nil {
			return err
		}
		return s.machine.UsePowerUp(s.ctx, s.token, s.roomID, roomdto.PowerUpType(args[0]), gs.CurrentQuestion)
	})
}

func (s *session) powerupsToggle(args []string) error {
	if len(args) < 1 || (args[0] != "on" && args[0] != "off") {
		return fmt.Errorf("usage: powerups on|off")
	}
	return s.inRoom(func() error {
		return s.machine.SetPowerUpsEnabled(s.ctx, s.token, s.roomID, args[0] == "on")
	})
}

func printEvents(reg *events.Registry) {
	reg.On(events.ChatMessage, func(p any) {
		if cp, ok := p.(events.ChatPayload); ok {
			who := cp.Message.SenderName
			if cp.Message.Type == roomdto.MessageSystem {
				who = "*"
			}
			fmt.Printf("[chat] %s: %s\n", who, cp.Message.Content)
		}
	})
	reg.On(events.GameUpdated, func(p any) {
		if gp, ok := p.(events.GamePayload); ok {
			fmt.Printf("[game] status=%s question=%d\n", gp.State.Status, gp.State.CurrentQuestion)
		}
	})
	reg.On(events.HostMigrated, func(p any) {
		if hp, ok := p.(events.HostChangePayload); ok {
			fmt.Printf("[host] migrated to %s\n", hp.Name)
		}
	})
	reg.On(events.HostTransferred, func(p any) {
		if hp, ok := p.(events.HostChangePayload); ok {
			fmt.Printf("[host] transferred to %s\n", hp.Name)
		}
	})
	reg.On(events.PowerUpUsed, func(p any) {
		if up, ok := p.(events.PowerUpPayload); ok {
			fmt.Printf("[game] %s used %s on question %d\n", up.PlayerID, up.Type, up.Question)
		}
	})
	reg.On(events.PlayerKicked, func(p any) {
		if kp, ok := p.(events.KickPayload); ok {
			fmt.Printf("[room] %s was kicked\n", kp.PlayerName)
		}
	})
	reg.On(events.Error, func(p any) {
		if ep, ok := p.(events.ErrorPayload); ok {
			fmt.Printf("[error] %s: %v\n", ep.Op, ep.Err)
		}
	})
}

const helpText = `commands:
  create <name> <quiz-id> [max-players] [password]
  join <code-or-id> [password]
  leave | ready | role | players
  chat <text...>
  kick <player-id> | transfer <player-id>
  start | answer <question-id> <choice> <elapsed-ms> | next
  powerup <50-50|x2-score|freeze-time> | powerups on|off
  pause | resume | end
  quit`
