package rtstore

import (
	"context"
	"sync"

	"github.com/quizhive/quizhive-rooms/internal/obslog"
	"go.uber.org/zap"
)

// Disconnect writes approximate a server-side on-disconnect hook: the
// client registers the writes it wants applied when its session ends,
// and Close (or an explicit FlushDisconnects) performs them. Presence
// records additionally carry a TTL so a crashed process that never
// flushes still ages out of the store.

type disconnectRegistry struct {
	mu     sync.Mutex
	writes map[string]Write // keyed by path, last registration wins
}

func newDisconnectRegistry() *disconnectRegistry {
	return &disconnectRegistry{writes: make(map[string]Write)}
}

// OnDisconnectSet registers a write of v at path for session teardown.
func (c *Client) OnDisconnectSet(path string, v any) {
	c.disc.mu.Lock()
	defer c.disc.mu.Unlock()
	c.disc.writes[path] = Write{Path: path, Value: v}
}

// OnDisconnectDelete registers a deletion of path for session teardown.
func (c *Client) OnDisconnectDelete(path string) {
	c.disc.mu.Lock()
	defer c.disc.mu.Unlock()
	c.disc.writes[path] = Write{Path: path}
}

// CancelDisconnect drops a registered teardown write. Used on clean
// leave, where the departure is written eagerly instead.
func (c *Client) CancelDisconnect(path string) {
	c.disc.mu.Lock()
	defer c.disc.mu.Unlock()
	delete(c.disc.writes, path)
}

// CancelDisconnectTree drops every registered write under prefix.
func (c *Client) CancelDisconnectTree(prefix string) {
	c.disc.mu.Lock()
	defer c.disc.mu.Unlock()
	for p := range c.disc.writes {
		if p == prefix || (len(p) > len(prefix) && p[:len(prefix)] == prefix && p[len(prefix)] == '/') {
			delete(c.disc.writes, p)
		}
	}
}

// FlushDisconnects applies all registered teardown writes in one batch
// and clears the registry. Safe to call more than once.
func (c *Client) FlushDisconnects(ctx context.Context) {
	c.disc.mu.Lock()
	writes := make([]Write, 0, len(c.disc.writes))
	for _, w := range c.disc.writes {
		writes = append(writes, w)
	}
	c.disc.writes = make(map[string]Write)
	c.disc.mu.Unlock()

	if len(writes) == 0 {
		return
	}
	if err := c.MultiSet(ctx, writes); err != nil {
		obslog.L().Warn("disconnect_flush_failed", zap.Int("writes", len(writes)), zap.Error(err))
	}
}
