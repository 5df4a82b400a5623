package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quizhive/quizhive-rooms/pkg/roomdto"
)

func TestSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "op", Critical, func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	s := Strategy{Attempts: 5, BaseDelay: time.Millisecond}
	err := Do(context.Background(), "op", s, func(context.Context) error {
		calls++
		if calls < 3 {
			return roomdto.ErrNetwork
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestTerminalErrorReturnsImmediately(t *testing.T) {
	calls := 0
	s := Strategy{Attempts: 5, BaseDelay: time.Millisecond}
	want := &roomdto.ValidationError{Field: "name", Reason: "too short"}
	err := Do(context.Background(), "op", s, func(context.Context) error {
		calls++
		return want
	})
	var ve *roomdto.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestExhaustsAttempts(t *testing.T) {
	calls := 0
	s := Strategy{Attempts: 3, BaseDelay: time.Millisecond}
	err := Do(context.Background(), "op", s, func(context.Context) error {
		calls++
		return roomdto.ErrNetwork
	})
	if !errors.Is(err, roomdto.ErrNetwork) {
		t.Fatalf("want ErrNetwork, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	s := Strategy{Attempts: 10, BaseDelay: 50 * time.Millisecond}
	err := Do(ctx, "op", s, func(context.Context) error {
		calls++
		if calls == 1 {
			cancel()
		}
		return roomdto.ErrNetwork
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestBackoffDoublesWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	for attempt := 1; attempt <= 4; attempt++ {
		nominal := base
		for i := 1; i < attempt; i++ {
			nominal *= 2
		}
		for i := 0; i < 50; i++ {
			d := backoff(base, attempt)
			lo := time.Duration(float64(nominal) * 0.7)
			hi := time.Duration(float64(nominal) * 1.3)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, lo, hi)
			}
		}
	}
}

func TestBackoffCapped(t *testing.T) {
	for i := 0; i < 100; i++ {
		if d := backoff(time.Second, 20); d > maxDelay {
			t.Fatalf("delay %v exceeds cap", d)
		}
	}
}

func TestZeroAttemptsStillRunsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "op", Strategy{}, func(context.Context) error {
		calls++
		return roomdto.ErrNetwork
	})
	if err == nil || calls != 1 {
		t.Fatalf("calls = %d, err = %v", calls, err)
	}
}
