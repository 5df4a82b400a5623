package ratelimit

import (
	"sync"
	"time"

	"github.com/quizhive/quizhive-rooms/pkg/roomdto"
)

// Quota caps an action at Max calls within Window. Exceeding it blocks
// the (user, action) pair for twice the window.
type Quota struct {
	Max    int
	Window time.Duration
}

// DefaultQuotas mirrors the per-action limits the engine ships with.
// Unlisted actions are not limited.
var DefaultQuotas = map[string]Quota{
	"create_room":   {Max: 5, Window: 60 * time.Second},
	"join_room":     {Max: 10, Window: 60 * time.Second},
	"send_message":  {Max: 20, Window: 60 * time.Second},
	"submit_answer": {Max: 100, Window: 60 * time.Second},
	"toggle_ready":  {Max: 10, Window: 30 * time.Second},
	"kick_player":   {Max: 5, Window: 60 * time.Second},
	"update_shared": {Max: 10, Window: 60 * time.Second},
	"use_power_up":  {Max: 10, Window: 60 * time.Second},
}

type bucket struct {
	calls        []time.Time
	blockedUntil time.Time
}

// Limiter is an in-memory sliding-window rate limiter keyed by
// (user, action). It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	quotas  map[string]Quota
	buckets map[string]*bucket
	now     func() time.Time
}

func New(quotas map[string]Quota) *Limiter {
	if quotas == nil {
		quotas = DefaultQuotas
	}
	return &Limiter{
		quotas:  quotas,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func key(userID, action string) string { return userID + "\x00" + action }

// Allow records one call attempt. It returns nil when the call is within
// quota, or a RateLimitedError carrying the wait until the pair unblocks.
// A denied call does not consume quota.
func (l *Limiter) Allow(userID, action string) error {
	q, ok := l.quotas[action]
	if !ok {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key(userID, action)]
	if !ok {
		b = &bucket{}
		l.buckets[key(userID, action)] = b
	}

	if now.Before(b.blockedUntil) {
		return &roomdto.RateLimitedError{Action: action, RetryAfter: b.blockedUntil.Sub(now)}
	}

	cutoff := now.Add(-q.Window)
	kept := b.calls[:0]
	for _, t := range b.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.calls = kept

	if len(b.calls) >= q.Max {
		b.blockedUntil = now.Add(2 * q.Window)
		return &roomdto.RateLimitedError{Action: action, RetryAfter: 2 * q.Window}
	}

	b.calls = append(b.calls, now)
	return nil
}

// Remaining reports how many calls the pair has left in the current
// window without consuming any.
func (l *Limiter) Remaining(userID, action string) int {
	q, ok := l.quotas[action]
	if !ok {
		return -1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key(userID, action)]
	if !ok {
		return q.Max
	}
	if now.Before(b.blockedUntil) {
		return 0
	}
	cutoff := now.Add(-q.Window)
	n := 0
	for _, t := range b.calls {
		if t.After(cutoff) {
			n++
		}
	}
	if n >= q.Max {
		return 0
	}
	return q.Max - n
}

// Reset clears all state for a user, used when a session ends.
func (l *Limiter) Reset(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.buckets {
		if len(k) > len(userID) && k[:len(userID)] == userID && k[len(userID)] == '\x00' {
			delete(l.buckets, k)
		}
	}
}
