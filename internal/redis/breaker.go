package redisclient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
)

// BreakerLocker wraps a Locker in a circuit breaker. While Redis is failing
// the breaker opens and fn runs without the distributed lock; the
// database's per-doctor lock still serializes the booking.
type BreakerLocker struct {
	next Locker
	cb   *gobreaker.CircuitBreaker[struct{}]
}

type BreakerOptions struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

func NewBreakerLocker(next Locker, opts BreakerOptions) *BreakerLocker {
	if opts.ConsecutiveFailures == 0 {
		opts.ConsecutiveFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "doctor-lock",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrLockNotAcquired)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	return &BreakerLocker{next: next, cb: cb}
}

func (b *BreakerLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	var (
		ran   bool
		fnErr error
	)

	_, err := b.cb.Execute(func() (struct{}, error) {
		err := b.next.WithDoctorLock(ctx, doctorID, func(ctx context.Context) error {
			ran = true
			fnErr = fn(ctx)
			return fnErr
		})
		if ran {
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	if ran {
		return fnErr
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests),
		errors.Is(err, ErrLockUnavailable):
		return fn(ctx)
	}
	return err
}

func (b *BreakerLocker) State() gobreaker.State {
	return b.cb.State()
}
