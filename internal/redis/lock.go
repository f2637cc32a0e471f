package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
)

// Locker guards short critical sections shared between api-server replicas.
// It is a fast path only: storage constraints still hold the invariants.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// SlotKey names the lock for one (doctor, date, slot) tuple.
func SlotKey(doctorID uuid.UUID, date time.Time, slot string) string {
	return fmt.Sprintf("lock:slot:%s:%s:%s", doctorID, date.Format(time.DateOnly), slot)
}

// InvoiceKey names the lock held while an invoice is charged and settled.
func InvoiceKey(invoiceID uuid.UUID) string {
	return fmt.Sprintf("lock:invoice:%s", invoiceID)
}

// AppointmentKey names the lock held while an appointment is charged.
func AppointmentKey(appointmentID uuid.UUID) string {
	return fmt.Sprintf("lock:appointment:%s", appointmentID)
}

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// NewRedisLocker creates a locker that uses one Redis key per critical section.
// When Redis cannot be reached the section runs unlocked and the storage
// constraints decide.
func NewRedisLocker(client *redis.Client, ttl time.Duration, log *zap.Logger) Locker {
	return &redisLocker{
		client: client,
		ttl:    ttl,
		log:    log,
	}
}

func (l *redisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		l.log.Warn("redis lock unavailable, continuing without it", zap.String("key", key), zap.Error(err))
		return fn(ctx)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		// release must run even when ctx was cancelled mid-section
		if err := l.release(context.WithoutCancel(ctx), key, token); err != nil {
			l.log.Warn("release lock", zap.String("key", key), zap.Error(err))
		}
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
