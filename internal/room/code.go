package room

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/quizhive/quizhive-rooms/internal/rtstore"
	"github.com/quizhive/quizhive-rooms/pkg/roomdto"
)

// Join codes are 6 symbols from a 36-symbol uppercase alphanumeric
// alphabet. Codes are matched case-insensitively at join time.
const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
	codeAttempts = 10
)

func randomCode() (string, error) {
	b := make([]byte, codeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("code: %w", err)
	}
	out := make([]byte, codeLength)
	for i, v := range b {
		out[i] = codeAlphabet[int(v)%len(codeAlphabet)]
	}
	return string(out), nil
}

// allocateCode draws codes until one is free in both the ephemeral index
// and the durable directory, giving up after a fixed number of attempts.
func (m *Manager) allocateCode(ctx context.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}
		var holder string
		err = m.store.Get(ctx, CodePath(code), &holder)
		if err == nil {
			continue
		}
		if !errors.Is(err, rtstore.ErrNotFound) {
			return "", err
		}
		if m.repo != nil {
			inUse, err := m.repo.CodeInUse(ctx, code)
			if err != nil {
				return "", err
			}
			if inUse {
				continue
			}
		}
		return code, nil
	}
	return "", roomdto.ErrCodeGenerationExhausted
}

// looksLikeCode distinguishes a join code from a room id: codes are
// exactly six alphanumerics, room ids are UUIDs.
func looksLikeCode(s string) bool {
	if len(s) != codeLength {
		return false
	}
	for _, r := range s {
		ok := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !ok {
			return false
		}
	}
	return true
}
