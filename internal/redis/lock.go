package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("doctor lock not acquired")
	// ErrLockUnavailable wraps failures talking to Redis itself, as opposed
	// to losing the lock to another holder.
	ErrLockUnavailable = errors.New("doctor lock backend unavailable")
)

// Locker is used by the appointment service to serialize bookings per doctor
// across api-server replicas. ErrLockNotAcquired is not a booking failure;
// the service falls back to the database's own per-doctor lock.
type Locker interface {
	WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error
}

type LockOptions struct {
	TTL        time.Duration
	Retries    int
	RetryDelay time.Duration
}

type redisDoctorLocker struct {
	client *redis.Client
	opts   LockOptions
}

// NewRedisDoctorLocker creates a locker that uses a per doctor Redis key.
// Acquisition is retried opts.Retries times, opts.RetryDelay apart.
func NewRedisDoctorLocker(client *redis.Client, opts LockOptions) Locker {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &redisDoctorLocker{
		client: client,
		opts:   opts,
	}
}

func lockKey(doctorID uuid.UUID) string {
	return fmt.Sprintf("lock:doctor:%s", doctorID.String())
}

func (l *redisDoctorLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	key := lockKey(doctorID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.opts.TTL)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisDoctorLocker) acquire(ctx context.Context, key, token string) error {
	for attempt := 0; ; attempt++ {
		ok, err := l.client.SetNX(ctx, key, token, l.opts.TTL).Result()
		if err != nil {
			return fmt.Errorf("%w: acquire %s: %v", ErrLockUnavailable, key, err)
		}
		if ok {
			return nil
		}
		if attempt >= l.opts.Retries {
			return ErrLockNotAcquired
		}

		timer := time.NewTimer(l.opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisDoctorLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release doctor lock: %w", err)
	}
	return nil
}
