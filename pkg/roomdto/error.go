package roomdto

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for conditions with no extra payload. All of these are
// terminal: the retry executor surfaces them without retrying.
var (
	ErrAuthenticationRequired  = staticErr("authentication required")
	ErrRoomNotFound            = staticErr("room not found")
	ErrRoomFull                = staticErr("room is full")
	ErrGameInProgress          = staticErr("game already in progress")
	ErrPassword                = staticErr("wrong or missing password")
	ErrPlayerNotFound          = staticErr("player not found in room")
	ErrCodeGenerationExhausted = staticErr("could not allocate a unique join code")
	ErrPowerUpUnavailable      = staticErr("power-up not available")
)

// ErrNetwork marks transient transport failures; wrap store errors with it
// to make them retryable explicitly.
var ErrNetwork = staticErr("network error")

type staticErr string

func (e staticErr) Error() string { return string(e) }

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UnauthorizedError reports an action the caller may not perform.
type UnauthorizedError struct {
	Action string
}

func (e *UnauthorizedError) Error() string {
	return "not authorized to " + e.Action
}

// RateLimitedError reports a quota breach and when to come back.
type RateLimitedError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %s", e.Action, e.RetryAfter)
}

// TimeoutError reports an operation that ran out of time. Retryable.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string { return "timeout during " + e.Op }

// QuestionNotFoundError reports a submission against an unknown question.
type QuestionNotFoundError struct {
	QuestionID string
}

func (e *QuestionNotFoundError) Error() string {
	return "question not found: " + e.QuestionID
}

// HostTransferError reports a failed host handoff.
type HostTransferError struct {
	Reason string
}

func (e *HostTransferError) Error() string {
	return "host transfer failed: " + e.Reason
}

// Terminal reports whether err belongs to the validation/authorization/
// not-found class that must surface immediately without retry. Anything
// else (store hiccups, timeouts, explicit network errors) is considered
// transient and eligible for backoff.
func Terminal(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrAuthenticationRequired),
		errors.Is(err, ErrRoomNotFound),
		errors.Is(err, ErrRoomFull),
		errors.Is(err, ErrGameInProgress),
		errors.Is(err, ErrPassword),
		errors.Is(err, ErrPlayerNotFound),
		errors.Is(err, ErrCodeGenerationExhausted),
		errors.Is(err, ErrPowerUpUnavailable):
		return true
	}
	var (
		ve *ValidationError
		ue *UnauthorizedError
		re *RateLimitedError
		qe *QuestionNotFoundError
		he *HostTransferError
	)
	return errors.As(err, &ve) ||
		errors.As(err, &ue) ||
		errors.As(err, &re) ||
		errors.As(err, &qe) ||
		errors.As(err, &he)
}

// Retryable is the executor-facing complement of Terminal.
func Retryable(err error) bool {
	return err != nil && !Terminal(err)
}
