// Package rtstore is a small real-time state store over Redis. Values are
// JSON documents addressed by slash-separated paths; every write is
// published on a channel named after the path so subscribers can watch a
// single document or a whole subtree.
package rtstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quizhive/quizhive-rooms/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix  = "rt:"
	idxPrefix  = "rtidx:"
	chanPrefix = "rt:"

	txRetries = 16
)

// ErrNotFound reports that no document exists at the requested path.
var ErrNotFound = errors.New("rtstore: not found")

// ErrAborted is returned by a Transact callback to cancel the
// transaction without writing.
var ErrAborted = errors.New("rtstore: transaction aborted")

// Client talks to one Redis instance. It is safe for concurrent use.
type Client struct {
	rdb        *redis.Client
	defaultTTL time.Duration

	disc *disconnectRegistry
}

// Open connects to redisURL (redis:// or rediss://) and pings the server.
func Open(redisURL string, defaultTTL time.Duration) (*Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, errors.New("redis url required")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(rdb, defaultTTL), nil
}

// NewWithClient wraps an existing Redis client, mainly for tests.
func NewWithClient(rdb *redis.Client, defaultTTL time.Duration) *Client {
	return &Client{
		rdb:        rdb,
		defaultTTL: defaultTTL,
		disc:       newDisconnectRegistry(),
	}
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}

func dataKey(path string) string  { return keyPrefix + path }
func indexKey(path string) string { return idxPrefix + path }
func channel(path string) string  { return chanPrefix + path }

func parentOf(path string) (parent, child string, ok bool) {
	i := strings.LastIndex(path, "/")
	if i <= 0 || i == len(path)-1 {
		return "", "", false
	}
	return path[:i], path[i+1:], true
}

// Set writes v as the document at path and publishes the new value. The
// path is also registered in its parent's child index so List can find it.
func (c *Client) Set(ctx context.Context, path string, v any) error {
	return c.SetTTL(ctx, path, v, c.defaultTTL)
}

// SetTTL is Set with an explicit expiry. ttl <= 0 means no expiry.
func (c *Client) SetTTL(ctx context.Context, path string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, dataKey(path), raw, ttl)
	if parent, child, ok := parentOf(path); ok {
		pipe.SAdd(ctx, indexKey(parent), child)
		if ttl > 0 {
			pipe.Expire(ctx, indexKey(parent), ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	c.publish(ctx, path, raw)
	return nil
}

// Get reads the document at path into out. Returns ErrNotFound when the
// path is empty.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	raw, err := c.rdb.Get(ctx, dataKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}

// List returns the raw documents of every child under parent, keyed by
// child name. Index entries whose document expired are pruned lazily.
func (c *Client) List(ctx context.Context, parent string) (map[string]json.RawMessage, error) {
	names, err := c.rdb.SMembers(ctx, indexKey(parent)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", parent, err)
	}
	out := make(map[string]json.RawMessage, len(names))
	var stale []any
	for _, name := range names {
		raw, err := c.rdb.Get(ctx, dataKey(parent+"/"+name)).Bytes()
		if errors.Is(err, redis.Nil) {
			stale = append(stale, name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", parent, name, err)
		}
		out[name] = raw
	}
	if len(stale) > 0 {
		c.rdb.SRem(ctx, indexKey(parent), stale...)
	}
	return out, nil
}

// Delete removes the document at path, unlinks it from the parent index,
// and publishes a deletion (empty payload).
func (c *Client) Delete(ctx context.Context, path string) error {
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, dataKey(path))
	if parent, child, ok := parentOf(path); ok {
		pipe.SRem(ctx, indexKey(parent), child)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	c.publish(ctx, path, nil)
	return nil
}

// DeleteTree removes every document under root (inclusive) along with
// the child indexes. Used for room teardown.
func (c *Client) DeleteTree(ctx context.Context, root string) error {
	var keys []string
	for _, pattern := range []string{dataKey(root), dataKey(root) + "/*", indexKey(root), indexKey(root) + "/*"} {
		iter := c.rdb.Scan(ctx, 0, pattern, 200).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan %s: %w", pattern, err)
		}
	}
	if len(keys) > 0 {
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("delete tree %s: %w", root, err)
		}
	}
	if parent, child, ok := parentOf(root); ok {
		c.rdb.SRem(ctx, indexKey(parent), child)
	}
	c.publish(ctx, root, nil)
	return nil
}

// Transact applies fn to the document at path under optimistic locking.
// fn receives the current raw value (nil when absent) and returns the new
// value to write, or ErrAborted to leave the document untouched. The
// write keeps the key's remaining TTL. Conflicting writers are retried.
func (c *Client) Transact(ctx context.Context, path string, fn func(cur []byte) ([]byte, error)) error {
	key := dataKey(path)
	var published []byte
	txn := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			cur = nil
		} else if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		ttl, err := tx.PTTL(ctx, key).Result()
		if err != nil {
			return err
		}
		if ttl < 0 {
			ttl = c.defaultTTL
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, next, ttl)
		if parent, child, ok := parentOf(path); ok {
			pipe.SAdd(ctx, indexKey(parent), child)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		published = next
		return nil
	}

	for i := 0; i < txRetries; i++ {
		err := c.rdb.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrAborted) {
			return nil
		}
		if err != nil {
			return err
		}
		c.publish(ctx, path, published)
		return nil
	}
	return fmt.Errorf("transact %s: too many conflicts", path)
}

// Write is one entry of a MultiSet batch. A nil Value deletes the path.
type Write struct {
	Path  string
	Value any
}

// MultiSet applies all writes in one atomic transaction and publishes
// each path afterwards. Either every write lands or none does.
func (c *Client) MultiSet(ctx context.Context, writes []Write) error {
	type staged struct {
		path string
		raw  []byte // nil means delete
	}
	batch := make([]staged, 0, len(writes))
	for _, w := range writes {
		if w.Value == nil {
			batch = append(batch, staged{path: w.Path})
			continue
		}
		raw, err := json.Marshal(w.Value)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", w.Path, err)
		}
		batch = append(batch, staged{path: w.Path, raw: raw})
	}

	pipe := c.rdb.TxPipeline()
	for _, s := range batch {
		if s.raw == nil {
			pipe.Del(ctx, dataKey(s.path))
			if parent, child, ok := parentOf(s.path); ok {
				pipe.SRem(ctx, indexKey(parent), child)
			}
			continue
		}
		pipe.Set(ctx, dataKey(s.path), s.raw, c.defaultTTL)
		if parent, child, ok := parentOf(s.path); ok {
			pipe.SAdd(ctx, indexKey(parent), child)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("multiset: %w", err)
	}
	for _, s := range batch {
		c.publish(ctx, s.path, s.raw)
	}
	return nil
}

// Exists reports whether a document is present at path.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	n, err := c.rdb.Exists(ctx, dataKey(path)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Client) publish(ctx context.Context, path string, raw []byte) {
	if err := c.rdb.Publish(ctx, channel(path), raw).Err(); err != nil {
		obslog.L().Warn("publish_failed", zap.String("path", path), zap.Error(err))
	}
}

// Close flushes registered disconnect writes and closes the connection.
func (c *Client) Close() error {
	c.FlushDisconnects(context.Background())
	return c.rdb.Close()
}
