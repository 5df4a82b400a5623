package room

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/quizhive/quizhive-rooms/pkg/roomdto"
)

// passwordVersion 1 is salted SHA-256. Version 0 records are legacy
// plaintext and still verifiable; new rooms always write version 1.
const passwordVersion = 1

func hashPassword(password, salt string) string {
	sum := sha256.Sum256([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

func newSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// setPassword fills the room's password fields for a private room.
func setPassword(r *roomdto.Room, password string) error {
	salt, err := newSalt()
	if err != nil {
		return err
	}
	r.PasswordSalt = salt
	r.PasswordHash = hashPassword(password, salt)
	r.PasswordVersion = passwordVersion
	return nil
}

// checkPassword verifies a join attempt against the stored credential.
func checkPassword(r *roomdto.Room, password string) error {
	if !r.IsPrivate {
		return nil
	}
	if password == "" {
		return roomdto.ErrPassword
	}
	switch r.PasswordVersion {
	case passwordVersion:
		got := hashPassword(password, r.PasswordSalt)
		if subtle.ConstantTimeCompare([]byte(got), []byte(r.PasswordHash)) != 1 {
			return roomdto.ErrPassword
		}
		return nil
	default:
		// Legacy rooms stored the raw password in the hash field.
		if subtle.ConstantTimeCompare([]byte(password), []byte(r.PasswordHash)) != 1 {
			return roomdto.ErrPassword
		}
		return nil
	}
}
