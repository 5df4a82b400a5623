// Package identity resolves the authenticated user behind engine calls.
// The engine itself never authenticates; it asks a Provider and refuses
// to act when none can name the caller.
package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/quizhive/quizhive-rooms/pkg/roomdto"
)

// User is the resolved caller.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Provider resolves session tokens to users.
type Provider interface {
	Resolve(ctx context.Context, token string) (*User, error)
}

// Static is a fixed token → user table, used by tests and by embedders
// that authenticate out of band.
type Static struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewStatic() *Static {
	return &Static{users: make(map[string]User)}
}

func (s *Static) Add(token string, u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[token] = u
}

func (s *Static) Resolve(_ context.Context, token string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[strings.TrimSpace(token)]
	if !ok {
		return nil, roomdto.ErrAuthenticationRequired
	}
	cp := u
	return &cp, nil
}
