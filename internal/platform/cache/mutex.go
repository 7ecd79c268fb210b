package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrMutexHeld indicates the mutex is held by another owner.
var ErrMutexHeld = errors.New("platform/cache: mutex held")

// unlockScript deletes the key only when the caller still owns it.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// Mutex is a redis SETNX mutex with an owner token and expiry.
// It guards cross-process critical sections such as charge generation runs.
type Mutex struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// NewMutex constructs a mutex for the given key.
func NewMutex(client *redis.Client, key string, ttl time.Duration) *Mutex {
	return &Mutex{
		client: client,
		key:    key,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// TryLock attempts to take the mutex without blocking.
func (m *Mutex) TryLock(ctx context.Context) error {
	ok, err := m.client.SetNX(ctx, m.key, m.token, m.ttl).Result()
	if err != nil {
		return fmt.Errorf("platform/cache: setnx %s: %w", m.key, err)
	}
	if !ok {
		return ErrMutexHeld
	}
	return nil
}

// Unlock releases the mutex if this instance still owns it. Releasing a
// mutex that expired and was re-acquired by another owner is a no-op.
func (m *Mutex) Unlock(ctx context.Context) error {
	if err := m.client.Eval(ctx, unlockScript, []string{m.key}, m.token).Err(); err != nil {
		return fmt.Errorf("platform/cache: unlock %s: %w", m.key, err)
	}
	return nil
}
