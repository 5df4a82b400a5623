package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/quizhive/quizhive-rooms/internal/config"
	"github.com/quizhive/quizhive-rooms/internal/events"
	"github.com/quizhive/quizhive-rooms/internal/identity"
	"github.com/quizhive/quizhive-rooms/internal/msgcat"
	"github.com/quizhive/quizhive-rooms/internal/quizstore"
	"github.com/quizhive/quizhive-rooms/internal/ratelimit"
	"github.com/quizhive/quizhive-rooms/internal/retry"
	"github.com/quizhive/quizhive-rooms/internal/rtstore"
	"github.com/quizhive/quizhive-rooms/pkg/roomdto"
)

type stubQuizzes struct{}

func (stubQuizzes) LoadQuiz(_ context.Context, quizID string) (*roomdto.QuizSnapshot, error) {
	if quizID != "geo-1" {
		return nil, quizstore.ErrQuizNotFound
	}
	return &roomdto.QuizSnapshot{
		ID:    "geo-1",
		Title: "Geography Basics",
		Questions: []roomdto.Question{
			{ID: "q1", Text: "Capital of France?", Options: []string{"Berlin", "Paris"}, Correct: 1, Points: 100, TimeLimit: 20},
			{ID: "q2", Text: "Longest river?", Options: []string{"Nile", "Amazon"}, Correct: 0, Points: 200, TimeLimit: 20},
		},
	}, nil
}

type testEnv struct {
	mgr   *Manager
	store *rtstore.Client
	reg   *events.Registry
	cfg   *config.AppConfig

	mu  sync.Mutex
	at  time.Time
}

// tick returns a strictly increasing clock so join order is unambiguous.
func (e *testEnv) tick() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.at = e.at.Add(time.Second)
	return e.at
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	store, err := rtstore.Open(fmt.Sprintf("redis://%s/0", mr.Addr()), time.Hour)
	if err != nil {
		t.Fatalf("rtstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ids := identity.NewStatic()
	ids.Add("ta", identity.User{ID: "a", Name: "Alice"})
	ids.Add("tb", identity.User{ID: "b", Name: "Bob"})
	ids.Add("tc", identity.User{ID: "c", Name: "Carol"})

	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}
	cfg := &config.AppConfig{
		HostGracePeriod:        50 * time.Millisecond,
		PresenceTTL:            time.Hour,
		RoomTTL:                time.Hour,
		DefaultTimePerQuestion: 30,
		AllowLateJoin:          true,
	}
	reg := events.NewRegistry()
	mgr := NewManager(store, nil, ids, ratelimit.New(nil), reg, cat, cfg)
	mgr.SetQuizSource(stubQuizzes{})

	env := &testEnv{mgr: mgr, store: store, reg: reg, cfg: cfg, at: time.Unix(1700000000, 0)}
	mgr.now = env.tick
	return env
}

func mustCreate(t *testing.T, env *testEnv, token string, p CreateRoomParams) *roomdto.Room {
	t.Helper()
	if p.Name == "" {
		p.Name = "Friday Trivia"
	}
	if p.QuizID == "" {
		p.QuizID = "geo-1"
	}
	if p.MaxPlayers == 0 {
		p.MaxPlayers = 4
	}
	r, err := env.mgr.CreateRoom(context.Background(), token, p)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return r
}

func TestCreateRoomValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		p     CreateRoomParams
		field string
	}{
		{"short name", CreateRoomParams{Name: "ab", QuizID: "geo-1", MaxPlayers: 4}, "name"},
		{"long name", CreateRoomParams{Name: strings.Repeat("x", 51), QuizID: "geo-1", MaxPlayers: 4}, "name"},
		{"too few players", CreateRoomParams{Name: "Quiz Night", QuizID: "geo-1", MaxPlayers: 1}, "max_players"},
		{"too many players", CreateRoomParams{Name: "Quiz Night", QuizID: "geo-1", MaxPlayers: 21}, "max_players"},
		{"short password", CreateRoomParams{Name: "Quiz Night", QuizID: "geo-1", MaxPlayers: 4, IsPrivate: true, Password: "abc"}, "password"},
		{"missing quiz", CreateRoomParams{Name: "Quiz Night", MaxPlayers: 4}, "quiz_id"},
		{"unknown quiz", CreateRoomParams{Name: "Quiz Night", QuizID: "nope", MaxPlayers: 4}, "quiz_id"},
	}
	for _, tc := range cases {
		// Each case gets a fresh quota so the limiter, which runs before
		// validation, never masks the error under test.
		env.mgr.limiter.Reset("a")
		_, err := env.mgr.CreateRoom(ctx, "ta", tc.p)
		var ve *roomdto.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
		}
		if ve.Field != tc.field {
			t.Fatalf("%s: field = %q, want %q", tc.name, ve.Field, tc.field)
		}
	}
}

func TestCreateRoomBoundaryNames(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range []string{"abc", strings.Repeat("x", 50)} {
		r := mustCreate(t, env, "ta", CreateRoomParams{Name: name})
		if r.Name != name {
			t.Fatalf("name = %q", r.Name)
		}
	}
}

func TestCreateRoomInheritsConfigDefaults(t *testing.T) {
	env := newTestEnv(t)

	r := mustCreate(t, env, "ta", CreateRoomParams{})
	if !r.Settings.AllowLateJoin {
		t.Fatal("AllowLateJoin default not inherited from config")
	}
	if r.Settings.TimePerQuestion != env.cfg.DefaultTimePerQuestion {
		t.Fatalf("TimePerQuestion = %d", r.Settings.TimePerQuestion)
	}
	if !r.Settings.ShowLeaderboard || !r.Settings.EnablePowerUps {
		t.Fatalf("settings = %+v", r.Settings)
	}

	// Explicit settings are taken as-is, zero values included.
	r = mustCreate(t, env, "tb", CreateRoomParams{
		Settings: roomdto.RoomSettings{TimePerQuestion: 15, AllowLateJoin: false},
	})
	if r.Settings.AllowLateJoin || r.Settings.TimePerQuestion != 15 {
		t.Fatalf("explicit settings overridden: %+v", r.Settings)
	}
}

func TestCreateRoomSeatsOwnerAsHost(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := mustCreate(t, env, "ta", CreateRoomParams{})

	if r.OwnerID != "a" || r.HostID != "a" {
		t.Fatalf("owner/host = %s/%s", r.OwnerID, r.HostID)
	}
	if r.Status != roomdto.RoomWaiting {
		t.Fatalf("status = %s", r.Status)
	}
	if len(r.Code) != codeLength {
		t.Fatalf("code = %q", r.Code)
	}

	players, err := env.mgr.Players(ctx, r.ID)
	if err != nil {
		t.Fatalf("Players: %v", err)
	}
	host := players["a"]
	if host.Role != roomdto.RoleHost || !host.Online || !host.Participating {
		t.Fatalf("host record = %+v", host)
	}

	got, err := env.mgr.RoomByCode(ctx, r.Code)
	if err != nil {
		t.Fatalf("RoomByCode: %v", err)
	}
	if got.ID != r.ID {
		t.Fatalf("code resolved to %s", got.ID)
	}
}

func TestJoinByCodeCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := mustCreate(t, env, "ta", CreateRoomParams{})

	joined, err := env.mgr.JoinRoom(ctx, "tb", strings.ToLower(r.Code), "")
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if joined.ID != r.ID {
		t.Fatalf("joined %s, want %s", joined.ID, r.ID)
	}
	players, err := env.mgr.Players(ctx, r.ID)
	if err != nil {
		t.Fatalf("Players: %v", err)
	}
	b := players["b"]
	if b.Role != roomdto.RolePlayer || !b.Online {
		t.Fatalf("joiner record = %+v", b)
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.mgr.JoinRoom(context.Background(), "tb", "ZZZZZZ", "")
	if !errors.Is(err, roomdto.ErrRoomNotFound) {
		t.Fatalf("want ErrRoomNotFound, got %v", err)
	}
}

func TestJoinPrivateRoomPasswordMatrix(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := mustCreate(t, env, "ta", CreateRoomParams{IsPrivate: true, Password: "hunter2"})

	if _, err := env.mgr.JoinRoom(ctx, "tb", r.ID, ""); !errors.Is(err, roomdto.ErrPassword) {
		t.Fatalf("missing password: %v", err)
	}
	if _, err := env.mgr.JoinRoom(ctx, "tb", r.ID, "wrong"); !errors.Is(err, roomdto.ErrPassword) {
		t.Fatalf("wrong password: %v", err)
	}
	if _, err := env.mgr.JoinRoom(ctx, "tb", r.ID, "hunter2"); err != nil {
		t.Fatalf("correct password: %v", err)
	}
}

func TestJoinLegacyPlaintextPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := mustCreate(t, env, "ta", CreateRoomParams{})

	// Simulate a record written before hashing existed.
	r.IsPrivate = true
	r.PasswordHash = "letmein"
	r.PasswordSalt = ""
	r.PasswordVersion = 0
	if err := env.store.Set(ctx, MetaPath(r.ID), r); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, err := env.mgr.JoinRoom(ctx, "tb", r.ID, "letmein"); err != nil {
		t.Fatalf("legacy password: %v", err)
	}
	if _, err := env.mgr.JoinRoom(ctx, "tc", r.ID, "nope"); !errors.Is(err, roomdto.ErrPassword) {
		t.Fatalf("legacy wrong password: %v", err)
	}
}

func TestJoinFullRoom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := mustCreate(t, env, "ta", CreateRoomParams{MaxPlayers: 2})

	if _, err := env.mgr.JoinRoom(ctx, "tb", r.ID, ""); err != nil {
		t.Fatalf("second join: %v", err)
	}
	if _, err := env.mgr.JoinRoom(ctx, "tc", r.ID, ""); !errors.Is(err, roomdto.ErrRoomFull) {
		t.Fatalf("want ErrRoomFull, got %v", err)
	}
}

func TestOfflineSeatStillCountsTowardCapacity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := mustCreate(t, env, "ta", CreateRoomParams{MaxPlayers: 2})

	if _, err := env.mgr.JoinRoom(ctx, "tb", r.ID, ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := env.mgr.mutatePlayer(ctx, "test", r.ID, "b", retry.Strategy{Attempts: 1}, func(p *roomdto.Player) error {
		p.Online = false
		return nil
	}); err != nil {
		t.Fatalf("mark offline: %v", err)
	}

	// Bob dropped but still holds his seat, so the room stays full.
	if _, err := env.mgr.JoinRoom(ctx, "tc", r.ID, ""); !errors.Is(err, roomdto.ErrRoomFull) {
		t.Fatalf("want ErrRoomFull, got %v", err)
	}
	players, _ := env.mgr.Players(ctx, r.ID)
	if len(players) != 2 {
		t.Fatalf("seats = %d, want 2", len(players))
	}
}

func TestRejoinBypassesCapacity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := mustCreate(t, env, "ta", CreateRoomParams{MaxPlayers: 2})

	if _, err := env.mgr.JoinRoom(ctx, "tb", r.ID, ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	// Re-joining while the room is at capacity must still work.
	if _, err := env.mgr.JoinRoom(ctx, "tb", r.ID, ""); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
}

func TestLateJoinBecomesSpectator(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := mustCreate(t, env, "ta", CreateRoomParams{})

	r.Status = roomdto.RoomPlaying
	if err := env.store.Set(ctx, MetaPath(r.ID), r); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := env.mgr.JoinRoom(ctx, "tb", r.ID, ""); err != nil {
		t.Fatalf("late join: %v", err)
	}
	players, _ := env.mgr.Players(ctx, r.ID)
	if players["b"].Role != roomdto.RoleSpectator {
		t.Fatalf("late joiner role = %s", players["b"].Role)
	}
}

func TestLateJoinRejectedWhenDisabled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := mustCreate(t, env, "ta", CreateRoomParams{
		Settings: roomdto.RoomSettings{TimePerQuestion: 30, AllowLateJoin: false},
	})
	r.Status = roomdto.RoomPlaying
	if err := env.store.Set(ctx, MetaPath(r.ID), r); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := env.mgr.JoinRoom(ctx, "tb", r.ID, ""); !errors.Is(err, roomdto.ErrGameInProgress) {
		t.Fatalf("want ErrGameInProgress, got %v", err)
	}
}

func TestLeaveHostSuccessionToEarliestJoiner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := mustCreate(t, env, "ta", CreateRoomParams{})
	if _, err := env.mgr.JoinRoom(ctx, "tb", r.ID, ""); err != nil {
		t.Fatalf("join b: %v", err)
	}
	if _, err := env.mgr.JoinRoom(ctx, "tc", r.ID, ""); err != nil {
		t.Fatalf("join c: %v", err)
	}

	if err := env.mgr.LeaveRoom(ctx, "ta", r.ID); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}

	got, err := env.mgr.Room(ctx, r.ID)
	if err != nil {
		t.Fatalf("Room: %v", err)
	}
	if got.HostID != "b" {
		t.Fatalf("successor = %s, want b", got.HostID)
	}
	players, _ := env.mgr.Players(ctx, r.ID)
	if players["b"].Role != roomdto.RoleHost {
		t.Fatalf("b role = %s", players["b"].Role)
	}
	if _, stillThere := players["a"]; stillThere {
		t.Fatal("leaver still seated")
	}
}

func TestLeaveLastMemberTearsRoomDown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := mustCreate(t, env, "ta", CreateRoomParams{})

	if err := env.mgr.LeaveRoom(ctx, "ta", r.ID); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	if _, err := env.mgr.Room(ctx, r.ID); !errors.Is(err, roomdto.ErrRoomNotFound) {
		t.Fatalf("room survived: %v", err)
	}
	if _, err := env.mgr.RoomByCode(ctx, r.Code); !errors.Is(err, roomdto.ErrRoomNotFound) {
		t.Fatalf("code survived: %v", err)
	}
}

func TestKickAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := mustCreate(t, env, "ta", CreateRoomParams{})
	if _, err := env.mgr.JoinRoom(ctx, "tb", r.ID, ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	var ue *roomdto.UnauthorizedError
	if err := env.mgr.KickPlayer(ctx, "tb", r.ID, "a"); !errors.As(err, &ue) {
		t.Fatalf("non-host kick: %v", err)
	}
	if err := env.mgr.KickPlayer(ctx, "ta", r.ID, "a"); !errors.As(err, &ue) {
		t.Fatalf("self kick: %v", err)
	}
	if err := env.mgr.KickPlayer(ctx, "ta", r.ID, "nobody"); !errors.Is(err, roomdto.ErrPlayerNotFound) {
		t.Fatalf("unknown target: %v", err)
	}

	kicked := false
	env.reg.On(events.PlayerKicked, func(p any) {
		if kp, ok := p.(events.KickPayload); ok && kp.PlayerID == "b" {
			kicked = true
		}
	})
	if err := env.mgr.KickPlayer(ctx, "ta", r.ID, "b"); err != nil {
		t.Fatalf("host kick: %v", err)
	}
	if !kicked {
		t.Fatal("no PlayerKicked event")
	}
	players, _ := env.mgr.Players(ctx, r.ID)
	if _, ok := players["b"]; ok {
		t.Fatal("target still seated")
	}
}

func TestTransferHost(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := mustCreate(t, env, "ta", CreateRoomParams{})
	if _, err := env.mgr.JoinRoom(ctx, "tb", r.ID, ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := env.mgr.TransferHost(ctx, "ta", r.ID, "b"); err != nil {
		t.Fatalf("TransferHost: %v", err)
	}
	got, _ := env.mgr.Room(ctx, r.ID)
	if got.HostID != "b" {
		t.Fatalf("host = %s", got.HostID)
	}
	if !got.HostRelinquished {
		t.Fatal("owner handoff should set HostRelinquished")
	}
	players, _ := env.mgr.Players(ctx, r.ID)
	if players["b"].Role != roomdto.RoleHost {
		t.Fatalf("new host role = %s", players["b"].Role)
	}
	if players["a"].Role != roomdto.RolePlayer {
		t.Fatalf("old host role = %s", players["a"].Role)
	}

	// Transferring back to the owner clears the voluntary flag.
	if err := env.mgr.TransferHost(ctx, "tb", r.ID, "a"); err != nil {
		t.Fatalf("transfer back: %v", err)
	}
	got, _ = env.mgr.Room(ctx, r.ID)
	if got.HostID != "a" || got.HostRelinquished {
		t.Fatalf("after transfer back: host=%s relinquished=%v", got.HostID, got.HostRelinquished)
	}
}

func TestTransferHostToOfflineTarget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := mustCreate(t, env, "ta", CreateRoomParams{})
	if _, err := env.mgr.JoinRoom(ctx, "tb", r.ID, ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := env.mgr.mutatePlayer(ctx, "test", r.ID, "b", retry.Strategy{Attempts: 1}, func(p *roomdto.Player) error {
		p.Online = false
		return nil
	}); err != nil {
		t.Fatalf("mark offline: %v", err)
	}

	var he *roomdto.HostTransferError
	if err := env.mgr.TransferHost(ctx, "ta", r.ID, "b"); !errors.As(err, &he) {
		t.Fatalf("want HostTransferError, got %v", err)
	}
}

func TestReconnectOwnerReclaimsAfterMigration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := mustCreate(t, env, "ta", CreateRoomParams{})
	if _, err := env.mgr.JoinRoom(ctx, "tb", r.ID, ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	// Involuntary migration while the owner is away.
	if err := env.mgr.MigrateHost(ctx, r.ID, "b"); err != nil {
		t.Fatalf("MigrateHost: %v", err)
	}
	got, _ := env.mgr.Room(ctx, r.ID)
	if got.HostID != "b" || got.HostRelinquished {
		t.Fatalf("after migration: %+v", got)
	}

	if err := env.mgr.Reconnect(ctx, "ta", r.ID); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	got, _ = env.mgr.Room(ctx, r.ID)
	if got.HostID != "a" {
		t.Fatalf("owner did not reclaim, host = %s", got.HostID)
	}
}

func TestReconnectAfterVoluntaryTransferDoesNotReclaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := mustCreate(t, env, "ta", CreateRoomParams{})
	if _, err := env.mgr.JoinRoom(ctx, "tb", r.ID, ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := env.mgr.TransferHost(ctx, "ta", r.ID, "b"); err != nil {
		t.Fatalf("TransferHost: %v", err)
	}
	if err := env.mgr.Reconnect(ctx, "ta", r.ID); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	got, _ := env.mgr.Room(ctx, r.ID)
	if got.HostID != "b" {
		t.Fatalf("voluntary handoff undone, host = %s", got.HostID)
	}
}

func TestReconnectWithoutSeatJoinsFresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := mustCreate(t, env, "ta", CreateRoomParams{})
	if _, err := env.mgr.JoinRoom(ctx, "tb", r.ID, ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := env.store.Delete(ctx, PlayerPath(r.ID, "b")); err != nil {
		t.Fatalf("drop seat: %v", err)
	}

	if err := env.mgr.Reconnect(ctx, "tb", r.ID); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	players, _ := env.mgr.Players(ctx, r.ID)
	b, ok := players["b"]
	if !ok {
		t.Fatal("seat not restored")
	}
	if b.Role != roomdto.RolePlayer || !b.Online {
		t.Fatalf("restored record = %+v", b)
	}
}

func TestElectHostDeterministic(t *testing.T) {
	players := map[string]roomdto.Player{
		"z": {ID: "z", Online: true, JoinedAt: 100},
		"a": {ID: "a", Online: true, JoinedAt: 100},
		"m": {ID: "m", Online: true, JoinedAt: 50},
		"x": {ID: "x", Online: false, JoinedAt: 1},
	}
	if got := ElectHost(players, nil); got != "m" {
		t.Fatalf("winner = %s, want m (earliest join)", got)
	}
	if got := ElectHost(players, map[string]bool{"m": true}); got != "a" {
		t.Fatalf("winner = %s, want a (tie broken by id)", got)
	}
	if got := ElectHost(map[string]roomdto.Player{}, nil); got != "" {
		t.Fatalf("empty election = %q", got)
	}
}

func TestToggleReadyAndRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := mustCreate(t, env, "ta", CreateRoomParams{})
	if _, err := env.mgr.JoinRoom(ctx, "tb", r.ID, ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := env.mgr.ToggleReady(ctx, "tb", r.ID); err != nil {
		t.Fatalf("ToggleReady: %v", err)
	}
	players, _ := env.mgr.Players(ctx, r.ID)
	if !players["b"].Ready {
		t.Fatal("ready not set")
	}

	if err := env.mgr.ToggleRole(ctx, "tb", r.ID); err != nil {
		t.Fatalf("ToggleRole: %v", err)
	}
	players, _ = env.mgr.Players(ctx, r.ID)
	if players["b"].Role != roomdto.RoleSpectator || players["b"].Ready {
		t.Fatalf("spectator flip: %+v", players["b"])
	}

	var ue *roomdto.UnauthorizedError
	if err := env.mgr.ToggleRole(ctx, "ta", r.ID); !errors.As(err, &ue) {
		t.Fatalf("host role toggle: %v", err)
	}
}

func TestChangePlayerRoleHostOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := mustCreate(t, env, "ta", CreateRoomParams{})
	if _, err := env.mgr.JoinRoom(ctx, "tb", r.ID, ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	var ue *roomdto.UnauthorizedError
	if err := env.mgr.ChangePlayerRole(ctx, "tb", r.ID, "a", roomdto.RoleSpectator); !errors.As(err, &ue) {
		t.Fatalf("non-host change: %v", err)
	}
	if err := env.mgr.ChangePlayerRole(ctx, "ta", r.ID, "b", roomdto.RoleSpectator); err != nil {
		t.Fatalf("host change: %v", err)
	}
	players, _ := env.mgr.Players(ctx, r.ID)
	if players["b"].Role != roomdto.RoleSpectator {
		t.Fatalf("role = %s", players["b"].Role)
	}
}

func TestSendChatMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := mustCreate(t, env, "ta", CreateRoomParams{})

	msg, err := env.mgr.SendChatMessage(ctx, "ta", r.ID, "  hello room  ")
	if err != nil {
		t.Fatalf("SendChatMessage: %v", err)
	}
	if msg.Content != "hello room" || msg.SenderID != "a" || msg.Type != roomdto.MessageUser {
		t.Fatalf("message = %+v", msg)
	}

	var ve *roomdto.ValidationError
	if _, err := env.mgr.SendChatMessage(ctx, "ta", r.ID, "   "); !errors.As(err, &ve) {
		t.Fatalf("empty message: %v", err)
	}
	long := make([]byte, chatMaxLen+1)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := env.mgr.SendChatMessage(ctx, "ta", r.ID, string(long)); !errors.As(err, &ve) {
		t.Fatalf("long message: %v", err)
	}
}

func TestUpdateSharedResource(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := mustCreate(t, env, "ta", CreateRoomParams{})
	if _, err := env.mgr.JoinRoom(ctx, "tb", r.ID, ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	var ue *roomdto.UnauthorizedError
	err := env.mgr.UpdateSharedResource(ctx, "tb", r.ID, roomdto.SharedResource{Type: roomdto.SharedVideo, URL: "https://example.com/v"})
	if !errors.As(err, &ue) {
		t.Fatalf("non-host update: %v", err)
	}

	var ve *roomdto.ValidationError
	err = env.mgr.UpdateSharedResource(ctx, "ta", r.ID, roomdto.SharedResource{Type: roomdto.SharedVideo, URL: "ftp://bad"})
	if !errors.As(err, &ve) {
		t.Fatalf("bad scheme: %v", err)
	}

	if err := env.mgr.UpdateSharedResource(ctx, "ta", r.ID, roomdto.SharedResource{Type: roomdto.SharedWebpage, URL: "https://example.com"}); err != nil {
		t.Fatalf("host update: %v", err)
	}
	var res roomdto.SharedResource
	if err := env.store.Get(ctx, SharedPath(r.ID), &res); err != nil {
		t.Fatalf("Get shared: %v", err)
	}
	if res.UpdatedBy != "a" || res.URL != "https://example.com" {
		t.Fatalf("shared = %+v", res)
	}
}

func TestPasswordHashingRoundTrip(t *testing.T) {
	r := &roomdto.Room{IsPrivate: true}
	if err := setPassword(r, "secret99"); err != nil {
		t.Fatalf("setPassword: %v", err)
	}
	if r.PasswordVersion != passwordVersion || r.PasswordSalt == "" {
		t.Fatalf("credential fields: %+v", r)
	}
	if r.PasswordHash == "secret99" {
		t.Fatal("password stored in the clear")
	}
	if err := checkPassword(r, "secret99"); err != nil {
		t.Fatalf("checkPassword: %v", err)
	}
	if err := checkPassword(r, "Secret99"); !errors.Is(err, roomdto.ErrPassword) {
		t.Fatalf("case variant accepted: %v", err)
	}
}

func TestLooksLikeCode(t *testing.T) {
	for code, want := range map[string]bool{
		"ABC123": true,
		"abc123": true,
		"ABC12":  false,
		"ABC12!": false,
		"8f14e4d2-1f6a-4c3e-9a2e-000000000000": false,
	} {
		if got := looksLikeCode(code); got != want {
			t.Fatalf("looksLikeCode(%q) = %v", code, got)
		}
	}
}

