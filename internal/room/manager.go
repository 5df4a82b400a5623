// Package room coordinates the lifecycle of trivia rooms: creation,
// join/leave, membership roles, chat, shared resources, and host
// authority. All state lives in the real-time store; Postgres holds a
// best-effort durable mirror.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quizhive/quizhive-rooms/internal/config"
	"github.com/quizhive/quizhive-rooms/internal/events"
	"github.com/quizhive/quizhive-rooms/internal/identity"
	"github.com/quizhive/quizhive-rooms/internal/msgcat"
	"github.com/quizhive/quizhive-rooms/internal/obslog"
	"github.com/quizhive/quizhive-rooms/internal/quizstore"
	"github.com/quizhive/quizhive-rooms/internal/ratelimit"
	"github.com/quizhive/quizhive-rooms/internal/retry"
	"github.com/quizhive/quizhive-rooms/internal/rtstore"
	"github.com/quizhive/quizhive-rooms/pkg/roomdto"
	"go.uber.org/zap"
)

const (
	nameMin = 3
	nameMax = 50

	maxPlayersMin = 2
	maxPlayersMax = 20

	passwordMin = 4

	chatMaxLen = 500
)

// QuizSource provides frozen quiz content for new rooms. The Postgres
// repository is the production implementation.
type QuizSource interface {
	LoadQuiz(ctx context.Context, quizID string) (*roomdto.QuizSnapshot, error)
}

type Manager struct {
	store   *rtstore.Client
	repo    *quizstore.Repository // optional durable mirror
	quizzes QuizSource
	ids     identity.Provider
	limiter *ratelimit.Limiter
	events  *events.Registry
	cat     *msgcat.Catalog
	cfg     *config.AppConfig

	now func() time.Time
}

func NewManager(store *rtstore.Client, repo *quizstore.Repository, ids identity.Provider,
	limiter *ratelimit.Limiter, reg *events.Registry, cat *msgcat.Catalog, cfg *config.AppConfig) *Manager {
	m := &Manager{
		store:   store,
		repo:    repo,
		ids:     ids,
		limiter: limiter,
		events:  reg,
		cat:     cat,
		cfg:     cfg,
		now:     time.Now,
	}
	if repo != nil {
		m.quizzes = repo
	}
	return m
}

// SetQuizSource overrides where quiz snapshots come from.
func (m *Manager) SetQuizSource(qs QuizSource) { m.quizzes = qs }

func (m *Manager) Events() *events.Registry { return m.events }
func (m *Manager) Store() *rtstore.Client   { return m.store }

func (m *Manager) resolve(ctx context.Context, token string) (*identity.User, error) {
	if m.ids == nil {
		return nil, roomdto.ErrAuthenticationRequired
	}
	return m.ids.Resolve(ctx, token)
}

func (m *Manager) loadRoom(ctx context.Context, roomID string) (*roomdto.Room, error) {
	var r roomdto.Room
	err := m.store.Get(ctx, MetaPath(roomID), &r)
	if errors.Is(err, rtstore.ErrNotFound) {
		return nil, roomdto.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Players returns the current member records of a room.
func (m *Manager) Players(ctx context.Context, roomID string) (map[string]roomdto.Player, error) {
	raw, err := m.store.List(ctx, PlayersPath(roomID))
	if err != nil {
		return nil, err
	}
	out := make(map[string]roomdto.Player, len(raw))
	for id, b := range raw {
		var p roomdto.Player
		if err := json.Unmarshal(b, &p); err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

// Presences returns the liveness records of a room. Records whose TTL
// lapsed are simply absent.
func (m *Manager) Presences(ctx context.Context, roomID string) (map[string]roomdto.Presence, error) {
	raw, err := m.store.List(ctx, PresenceDirPath(roomID))
	if err != nil {
		return nil, err
	}
	out := make(map[string]roomdto.Presence, len(raw))
	for id, b := range raw {
		var p roomdto.Presence
		if err := json.Unmarshal(b, &p); err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

// Room returns the room record by id.
func (m *Manager) Room(ctx context.Context, roomID string) (*roomdto.Room, error) {
	return m.loadRoom(ctx, roomID)
}

// RoomByCode looks a room up by its join code.
func (m *Manager) RoomByCode(ctx context.Context, code string) (*roomdto.Room, error) {
	if !looksLikeCode(strings.TrimSpace(code)) {
		return nil, roomdto.ErrRoomNotFound
	}
	id, err := m.resolveRoomRef(ctx, code)
	if err != nil {
		return nil, err
	}
	return m.loadRoom(ctx, id)
}

// CreateRoomParams carries the caller's room setup.
type CreateRoomParams struct {
	Name       string
	QuizID     string
	MaxPlayers int
	IsPrivate  bool
	Password   string
	Settings   roomdto.RoomSettings
}

func (m *Manager) validateCreate(p *CreateRoomParams) error {
	name := strings.TrimSpace(p.Name)
	if len(name) < nameMin || len(name) > nameMax {
		return &roomdto.ValidationError{Field: "name", Reason: "must be 3-50 characters"}
	}
	p.Name = name
	if p.MaxPlayers < maxPlayersMin || p.MaxPlayers > maxPlayersMax {
		return &roomdto.ValidationError{Field: "max_players", Reason: "must be 2-20"}
	}
	if p.IsPrivate && len(p.Password) < passwordMin {
		return &roomdto.ValidationError{Field: "password", Reason: "must be at least 4 characters"}
	}
	if strings.TrimSpace(p.QuizID) == "" {
		return &roomdto.ValidationError{Field: "quiz_id", Reason: "required"}
	}
	return nil
}

// CreateRoom builds a room around a frozen quiz snapshot and seats the
// caller as owner and initial host.
func (m *Manager) CreateRoom(ctx context.Context, token string, p CreateRoomParams) (*roomdto.Room, error) {
	user, err := m.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := m.limiter.Allow(user.ID, "create_room"); err != nil {
		return nil, err
	}
	if err := m.validateCreate(&p); err != nil {
		return nil, err
	}
	if p.Settings == (roomdto.RoomSettings{}) {
		// Callers that pass no settings get the configured defaults.
		p.Settings.AllowLateJoin = m.cfg.AllowLateJoin
		p.Settings.ShowLeaderboard = true
		p.Settings.EnablePowerUps = true
	}
	if p.Settings.TimePerQuestion <= 0 {
		p.Settings.TimePerQuestion = m.cfg.DefaultTimePerQuestion
	}

	quiz, err := m.loadQuizSnapshot(ctx, p.QuizID)
	if err != nil {
		return nil, err
	}

	code, err := m.allocateCode(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now()
	r := &roomdto.Room{
		ID:         uuid.NewString(),
		Code:       code,
		Name:       p.Name,
		QuizID:     quiz.ID,
		OwnerID:    user.ID,
		HostID:     user.ID,
		MaxPlayers: p.MaxPlayers,
		IsPrivate:  p.IsPrivate,
		Status:     roomdto.RoomWaiting,
		Settings:   p.Settings,
		CreatedAt:  now,
	}
	if p.IsPrivate {
		if err := setPassword(r, p.Password); err != nil {
			return nil, err
		}
	}

	host := roomdto.Player{
		ID:            user.ID,
		Name:          user.Name,
		Avatar:        user.Avatar,
		Role:          roomdto.RoleHost,
		Online:        true,
		Participating: true,
		JoinedAt:      now.UnixMilli(),
		LastActive:    now.UnixMilli(),
	}

	writes := []rtstore.Write{
		{Path: MetaPath(r.ID), Value: r},
		{Path: QuizPath(r.ID), Value: quiz},
		{Path: PlayerPath(r.ID, user.ID), Value: host},
		{Path: CodePath(code), Value: r.ID},
		{Path: GameStatePath(r.ID), Value: roomdto.GameState{Status: roomdto.GameWaiting}},
	}
	err = retry.Do(ctx, "create_room", retry.Standard, func(ctx context.Context) error {
		return m.store.MultiSet(ctx, writes)
	})
	if err != nil {
		m.events.EmitError("create_room", err)
		return nil, err
	}

	m.markOnline(ctx, r.ID, user)

	if m.repo != nil {
		if err := m.repo.SaveRoom(ctx, r); err != nil {
			obslog.L().Warn("room_mirror_failed", zap.String("room", r.ID), zap.Error(err))
		}
	}

	obslog.L().Info("room_created",
		zap.String("room", r.ID),
		zap.String("code", r.Code),
		zap.String("owner", user.ID),
	)
	m.events.Emit(events.RoomUpdated, events.RoomPayload{Room: *r})
	return r, nil
}

func (m *Manager) loadQuizSnapshot(ctx context.Context, quizID string) (*roomdto.QuizSnapshot, error) {
	if m.quizzes == nil {
		return nil, &roomdto.ValidationError{Field: "quiz_id", Reason: "no quiz source configured"}
	}
	quiz, err := m.quizzes.LoadQuiz(ctx, quizID)
	if errors.Is(err, quizstore.ErrQuizNotFound) {
		return nil, &roomdto.ValidationError{Field: "quiz_id", Reason: "unknown quiz"}
	}
	if err != nil {
		return nil, err
	}
	if len(quiz.Questions) == 0 {
		return nil, &roomdto.ValidationError{Field: "quiz_id", Reason: "quiz has no questions"}
	}
	return quiz, nil
}

// resolveRoomRef turns a join code or room id into a room id. Codes are
// exactly six alphanumerics; anything else is treated as an id.
func (m *Manager) resolveRoomRef(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if !looksLikeCode(ref) {
		return ref, nil
	}
	code := strings.ToUpper(ref)
	var roomID string
	err := m.store.Get(ctx, CodePath(code), &roomID)
	if err == nil {
		return roomID, nil
	}
	if !errors.Is(err, rtstore.ErrNotFound) {
		return "", err
	}
	if m.repo != nil {
		id, err := m.repo.RoomIDByCode(ctx, code)
		if err != nil {
			return "", err
		}
		if id != "" {
			return id, nil
		}
	}
	return "", roomdto.ErrRoomNotFound
}

// JoinRoom seats the caller in a room addressed by join code or id.
// Rejoining members are welcomed back regardless of capacity.
func (m *Manager) JoinRoom(ctx context.Context, token, roomRef, password string) (*roomdto.Room, error) {
	user, err := m.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := m.limiter.Allow(user.ID, "join_room"); err != nil {
		return nil, err
	}

	roomID, err := m.resolveRoomRef(ctx, roomRef)
	if err != nil {
		return nil, err
	}
	r, err := m.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if r.Status == roomdto.RoomFinished {
		return nil, roomdto.ErrRoomNotFound
	}

	players, err := m.Players(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if existing, ok := players[user.ID]; ok {
		// Returning member: no password or capacity checks, just bring
		// the record back online.
		if err := m.rejoin(ctx, roomID, user, existing); err != nil {
			return nil, err
		}
		m.events.Emit(events.RoomUpdated, events.RoomPayload{Room: *r})
		return r, nil
	}

	if err := checkPassword(r, password); err != nil {
		return nil, err
	}

	// Every seat counts against capacity, offline ones included: a member
	// who dropped still holds their place until they leave or are kicked.
	if len(players) >= r.MaxPlayers {
		return nil, roomdto.ErrRoomFull
	}

	role := roomdto.RolePlayer
	if r.Status == roomdto.RoomPlaying {
		if !r.Settings.AllowLateJoin {
			return nil, roomdto.ErrGameInProgress
		}
		// Late joiners watch the current game and play the next one.
		role = roomdto.RoleSpectator
	}

	now := m.now().UnixMilli()
	p := roomdto.Player{
		ID:         user.ID,
		Name:       user.Name,
		Avatar:     user.Avatar,
		Role:       role,
		Online:     true,
		JoinedAt:   now,
		LastActive: now,
	}
	err = retry.Do(ctx, "join_room", retry.Standard, func(ctx context.Context) error {
		return m.store.Set(ctx, PlayerPath(roomID, user.ID), p)
	})
	if err != nil {
		m.events.EmitError("join_room", err)
		return nil, err
	}
	m.markOnline(ctx, roomID, user)
	m.systemChat(ctx, roomID, "room.player_joined", map[string]any{"Name": user.Name})

	obslog.L().Info("player_joined", zap.String("room", roomID), zap.String("user", user.ID))
	m.emitPlayers(ctx, roomID)
	m.events.Emit(events.RoomUpdated, events.RoomPayload{Room: *r})
	return r, nil
}

// Reconnect restores a dropped session: the member record flips online
// and presence hooks are re-armed. When the seat is gone entirely the
// caller goes through the normal join path instead. The owner may also
// reclaim the host seat here unless it was given away on purpose.
func (m *Manager) Reconnect(ctx context.Context, token, roomID string) error {
	user, err := m.resolve(ctx, token)
	if err != nil {
		return err
	}
	r, err := m.loadRoom(ctx, roomID)
	if err != nil {
		return err
	}
	players, err := m.Players(ctx, roomID)
	if err != nil {
		return err
	}
	if existing, ok := players[user.ID]; ok {
		if err := m.rejoin(ctx, roomID, user, existing); err != nil {
			return err
		}
	} else if _, err := m.JoinRoom(ctx, token, roomID, ""); err != nil {
		return err
	}
	if r.OwnerID == user.ID && r.HostID != user.ID && !r.HostRelinquished {
		if err := m.reclaimHost(ctx, roomID, user); err != nil {
			obslog.L().Warn("host_reclaim_failed", zap.String("room", roomID), zap.Error(err))
		}
	}
	m.emitPlayers(ctx, roomID)
	return nil
}

func (m *Manager) rejoin(ctx context.Context, roomID string, user *identity.User, existing roomdto.Player) error {
	err := retry.Do(ctx, "rejoin", retry.Standard, func(ctx context.Context) error {
		return m.store.Transact(ctx, PlayerPath(roomID, user.ID), func(cur []byte) ([]byte, error) {
			p := existing
			if cur != nil {
				if err := json.Unmarshal(cur, &p); err != nil {
					return nil, err
				}
			}
			p.Online = true
			p.Name = user.Name
			p.LastActive = m.now().UnixMilli()
			return json.Marshal(p)
		})
	})
	if err != nil {
		return err
	}
	m.markOnline(ctx, roomID, user)
	return nil
}

// markOnline writes the presence record with a TTL and arms the
// session-teardown write that flips it offline. The TTL is the crash
// backstop: a process that dies without flushing still ages out.
func (m *Manager) markOnline(ctx context.Context, roomID string, user *identity.User) {
	now := m.now().UnixMilli()
	pr := roomdto.Presence{Online: true, Name: user.Name, LastSeen: now}
	if err := m.store.SetTTL(ctx, PresencePath(roomID, user.ID), pr, m.cfg.PresenceTTL); err != nil {
		obslog.L().Warn("presence_write_failed", zap.String("room", roomID), zap.Error(err))
	}
	m.store.OnDisconnectSet(PresencePath(roomID, user.ID), roomdto.Presence{
		Online: false, Name: user.Name, LastSeen: now,
	})
	m.store.OnDisconnectSet(offlineMarkerPath(roomID, user.ID), now)
}

// offlineMarkerPath records the moment a member's session tore down, so
// the presence sweep can distinguish "marked offline" from "never seen".
func offlineMarkerPath(roomID, userID string) string {
	return "rooms/" + roomID + "/offline/" + userID
}

// LeaveRoom is the clean exit: host succession happens before the seat
// is released, teardown hooks are cancelled, and an empty room is torn
// down entirely.
func (m *Manager) LeaveRoom(ctx context.Context, token, roomID string) error {
	user, err := m.resolve(ctx, token)
	if err != nil {
		return err
	}
	r, err := m.loadRoom(ctx, roomID)
	if err != nil {
		return err
	}
	players, err := m.Players(ctx, roomID)
	if err != nil {
		return err
	}
	if _, ok := players[user.ID]; !ok {
		return roomdto.ErrPlayerNotFound
	}

	if r.HostID == user.ID {
		successor := ElectHost(players, map[string]bool{user.ID: true})
		if successor != "" {
			if err := m.writeHostChange(ctx, r, players, successor, false); err != nil {
				return err
			}
			m.systemChat(ctx, roomID, "room.host_transferred", map[string]any{"Name": players[successor].Name})
			m.events.Emit(events.HostMigrated, events.HostChangePayload{
				OldHostID: user.ID, NewHostID: successor, Name: players[successor].Name,
			})
		}
	}

	err = retry.Do(ctx, "leave_room", retry.Standard, func(ctx context.Context) error {
		return m.store.MultiSet(ctx, []rtstore.Write{
			{Path: PlayerPath(roomID, user.ID)},
			{Path: PresencePath(roomID, user.ID)},
		})
	})
	if err != nil {
		m.events.EmitError("leave_room", err)
		return err
	}
	m.store.CancelDisconnect(PresencePath(roomID, user.ID))
	m.store.CancelDisconnect(offlineMarkerPath(roomID, user.ID))
	m.limiter.Reset(user.ID)

	remaining := 0
	for id := range players {
		if id != user.ID {
			remaining++
		}
	}
	if remaining == 0 {
		m.teardownRoom(ctx, r)
		return nil
	}

	m.systemChat(ctx, roomID, "room.player_left", map[string]any{"Name": user.Name})
	obslog.L().Info("player_left", zap.String("room", roomID), zap.String("user", user.ID))
	m.emitPlayers(ctx, roomID)
	return nil
}

func (m *Manager) teardownRoom(ctx context.Context, r *roomdto.Room) {
	// Pending teardown writes would resurrect pieces of the deleted tree.
	m.store.CancelDisconnectTree(RoomPath(r.ID))
	if err := m.store.Delete(ctx, CodePath(r.Code)); err != nil {
		obslog.L().Warn("code_release_failed", zap.String("room", r.ID), zap.Error(err))
	}
	if err := m.store.DeleteTree(ctx, RoomPath(r.ID)); err != nil {
		obslog.L().Warn("room_teardown_failed", zap.String("room", r.ID), zap.Error(err))
	}
	if m.repo != nil {
		if err := m.repo.UpdateRoomStatus(ctx, r.ID, roomdto.RoomFinished); err != nil {
			obslog.L().Warn("room_mirror_failed", zap.String("room", r.ID), zap.Error(err))
		}
	}
	obslog.L().Info("room_torn_down", zap.String("room", r.ID))
}

func (m *Manager) emitPlayers(ctx context.Context, roomID string) {
	players, err := m.Players(ctx, roomID)
	if err != nil {
		obslog.L().Warn("players_read_failed", zap.String("room", roomID), zap.Error(err))
		return
	}
	m.events.Emit(events.PlayersUpdated, events.PlayersPayload{Players: players})
}

func (m *Manager) systemChat(ctx context.Context, roomID, key string, data map[string]any) {
	text, err := m.cat.Render(key, data)
	if err != nil {
		obslog.L().Warn("template_render_failed", zap.String("key", key), zap.Error(err))
		return
	}
	msg := roomdto.ChatMessage{
		ID:      uuid.NewString(),
		Type:    roomdto.MessageSystem,
		Content: text,
		SentAt:  m.now().UnixMilli(),
	}
	err = retry.Do(ctx, "system_chat", retry.NonCritical, func(ctx context.Context) error {
		return m.store.Set(ctx, ChatMessagePath(roomID, msg.ID), msg)
	})
	if err != nil {
		obslog.L().Warn("system_chat_failed", zap.String("room", roomID), zap.Error(err))
		return
	}
	m.events.Emit(events.ChatMessage, events.ChatPayload{Message: msg})
}
