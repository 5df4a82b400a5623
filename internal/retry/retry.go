package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/quizhive/quizhive-rooms/internal/obslog"
	"github.com/quizhive/quizhive-rooms/pkg/roomdto"
	"go.uber.org/zap"
)

// Strategy bounds how hard an operation is retried. Delay doubles per
// attempt with ±30% jitter and never exceeds maxDelay.
type Strategy struct {
	Attempts  int
	BaseDelay time.Duration
}

var (
	// Critical covers writes whose loss corrupts room state, such as
	// host transfer and score transactions.
	Critical = Strategy{Attempts: 5, BaseDelay: 200 * time.Millisecond}
	// Standard covers ordinary state writes.
	Standard = Strategy{Attempts: 3, BaseDelay: 500 * time.Millisecond}
	// NonCritical covers cosmetic updates such as chat and presence
	// touch-ups.
	NonCritical = Strategy{Attempts: 2, BaseDelay: time.Second}
)

const maxDelay = 10 * time.Second

// Do runs fn until it succeeds, exhausts the strategy, returns a
// terminal error, or ctx is done. Terminal errors (validation, auth,
// not-found and friends) are returned immediately; transient ones are
// retried with exponential backoff.
func Do(ctx context.Context, op string, s Strategy, fn func(ctx context.Context) error) error {
	if s.Attempts < 1 {
		s.Attempts = 1
	}
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if roomdto.Terminal(err) {
			return err
		}
		if attempt >= s.Attempts {
			obslog.L().Warn("retry_exhausted",
				zap.String("op", op),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return err
		}

		d := backoff(s.BaseDelay, attempt)
		obslog.L().Debug("retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", d),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}

// backoff returns base*2^(attempt-1) with ±30% jitter, capped at maxDelay.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			d = maxDelay
			break
		}
	}
	jitter := 0.7 + 0.6*rand.Float64()
	d = time.Duration(float64(d) * jitter)
	if d > maxDelay {
		d = maxDelay
	}
	return d
}
