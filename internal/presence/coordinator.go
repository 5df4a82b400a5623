// Package presence keeps one session's liveness visible to the room and
// reacts when the host's goes dark. There is no central referee: every
// member runs the same coordinator, evaluates the same snapshots, and
// the deterministic election makes exactly one of them act.
package presence

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/quizhive/quizhive-rooms/internal/config"
	"github.com/quizhive/quizhive-rooms/internal/obslog"
	"github.com/quizhive/quizhive-rooms/internal/room"
	"github.com/quizhive/quizhive-rooms/internal/rtstore"
	"github.com/quizhive/quizhive-rooms/pkg/roomdto"
	"go.uber.org/zap"
)

// Coordinator tracks one (user, room) session: it heartbeats the user's
// presence record and watches everyone else's. When the host stays
// offline past the grace period it elects a successor; only the winner
// writes.
type Coordinator struct {
	store *rtstore.Client
	rooms *room.Manager
	cfg   *config.AppConfig

	token    string
	userID   string
	userName string
	roomID   string

	mu         sync.Mutex
	graceTimer *time.Timer
	started    bool

	cancel context.CancelFunc
	done   chan struct{}
	sub    *rtstore.Subscription

	now func() time.Time
}

func NewCoordinator(store *rtstore.Client, rooms *room.Manager, cfg *config.AppConfig,
	token, userID, userName, roomID string) *Coordinator {
	return &Coordinator{
		store:    store,
		rooms:    rooms,
		cfg:      cfg,
		token:    token,
		userID:   userID,
		userName: userName,
		roomID:   roomID,
		now:      time.Now,
	}
}

// Start begins heartbeating and watching. Listener installation comes
// first so the coordinator never misses the consequences of its own
// writes. Idempotent.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	sub, err := c.store.SubscribeTree(ctx, room.RoomPath(c.roomID), func(path string, data []byte) {
		rel := strings.TrimPrefix(path, room.RoomPath(c.roomID)+"/")
		if rel == "meta" || strings.HasPrefix(rel, "presence/") {
			c.evaluate(ctx)
		}
	})
	if err != nil {
		cancel()
		return err
	}
	c.sub = sub

	go c.loop(ctx)
	c.evaluate(ctx)
	return nil
}

// Stop tears the session down: timers cancelled, watch closed, heartbeat
// stopped. The presence record is left to its TTL.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	started := c.started
	c.started = false
	c.mu.Unlock()
	if !started {
		return
	}
	c.cancel()
	if c.sub != nil {
		c.sub.Close()
	}
	<-c.done
}

// loop heartbeats the caller's presence and sweeps periodically. The
// sweep backstops lost notifications and TTL-expired records, which
// produce no event of their own.
func (c *Coordinator) loop(ctx context.Context) {
	defer close(c.done)

	heartbeat := c.cfg.PresenceTTL / 3
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	hb := time.NewTicker(heartbeat)
	defer hb.Stop()
	sweep := time.NewTicker(c.cfg.HostGracePeriod)
	defer sweep.Stop()

	c.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hb.C:
			c.beat(ctx)
		case <-sweep.C:
			c.evaluate(ctx)
		}
	}
}

func (c *Coordinator) beat(ctx context.Context) {
	pr := roomdto.Presence{Online: true, Name: c.userName, LastSeen: c.now().UnixMilli()}
	if err := c.store.SetTTL(ctx, room.PresencePath(c.roomID, c.userID), pr, c.cfg.PresenceTTL); err != nil {
		obslog.L().Warn("heartbeat_failed", zap.String("room", c.roomID), zap.Error(err))
	}
}

// evaluate reads the freshest snapshot and decides whether anything
// needs doing about the host seat.
func (c *Coordinator) evaluate(ctx context.Context) {
	r, err := c.rooms.Room(ctx, c.roomID)
	if err != nil {
		if err == roomdto.ErrRoomNotFound {
			c.cancelGrace()
		}
		return
	}
	presences, err := c.rooms.Presences(ctx, c.roomID)
	if err != nil {
		obslog.L().Warn("presence_read_failed", zap.String("room", c.roomID), zap.Error(err))
		return
	}

	hostOnline := presences[r.HostID].Online

	// The owner reclaims a drifted seat immediately, no grace involved,
	// unless the seat was given away on purpose.
	if c.userID == r.OwnerID && r.HostID != c.userID && !r.HostRelinquished {
		c.cancelGrace()
		if err := c.rooms.ReclaimHost(ctx, c.token, c.roomID); err != nil {
			obslog.L().Warn("host_reclaim_failed", zap.String("room", c.roomID), zap.Error(err))
		}
		return
	}

	if hostOnline {
		c.cancelGrace()
		return
	}
	c.armGrace(ctx)
}

func (c *Coordinator) cancelGrace() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
}

func (c *Coordinator) armGrace(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.graceTimer != nil {
		return
	}
	obslog.L().Info("host_offline_grace_started",
		zap.String("room", c.roomID),
		zap.Duration("grace", c.cfg.HostGracePeriod),
	)
	c.graceTimer = time.AfterFunc(c.cfg.HostGracePeriod, func() {
		c.mu.Lock()
		c.graceTimer = nil
		c.mu.Unlock()
		c.migrate(ctx)
	})
}

// migrate runs at grace expiry. The snapshot is re-read first: a host or
// owner who came back in the meantime aborts the migration. Otherwise
// the deterministic election runs, and only the winner commits.
func (c *Coordinator) migrate(ctx context.Context) {
	r, err := c.rooms.Room(ctx, c.roomID)
	if err != nil {
		return
	}
	presences, err := c.rooms.Presences(ctx, c.roomID)
	if err != nil {
		return
	}
	if presences[r.HostID].Online {
		return
	}
	if presences[r.OwnerID].Online && !r.HostRelinquished {
		// The owner's own coordinator will reclaim.
		return
	}
	players, err := c.rooms.Players(ctx, c.roomID)
	if err != nil {
		return
	}
	// Election runs over live presence, not the (possibly stale) Online
	// flags in the member records.
	for id, p := range players {
		p.Online = presences[id].Online
		players[id] = p
	}
	winner := room.ElectHost(players, map[string]bool{r.HostID: true})
	if winner == "" || winner != c.userID {
		return
	}
	if err := c.rooms.MigrateHost(ctx, c.roomID, winner); err != nil {
		obslog.L().Warn("host_migration_failed", zap.String("room", c.roomID), zap.Error(err))
	}
}
