/*
lock.go - Redis-backed per-endowment lock

PURPOSE:
  Serializes writers of one endowment across waqfd processes. The optimistic
  version check in the repository already keeps the aggregate correct; the
  lock only stops several processes from burning retries on the same hot
  endowment.

PROTOCOL:
  Lock:       SET key value NX PX ttl
  Unlock:     delete only if the stored value is still ours (Lua)
  ExtendLock: pexpire only if the stored value is still ours (Lua)

SEE ALSO:
  - waqf/service.go: Acquires "endowment:<id>" around every mutation
  - waqf/repository.go: Locker interface
*/
package lock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/warp/waqf-engine/waqf"
)

const (
	unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

// Locker holds one key. value identifies the holder so that only it can
// unlock or extend.
type Locker struct {
	client redis.UniversalClient
	key    string
	value  string
}

func NewLocker(client redis.UniversalClient, key, value string) *Locker {
	return &Locker{
		client: client,
		key:    key,
		value:  value,
	}
}

func (l *Locker) Lock(ctx context.Context, timeout time.Duration) error {
	success, err := l.client.SetNX(ctx, l.key, l.value, timeout).Result()
	if err != nil {
		return err
	}
	if !success {
		return fmt.Errorf("lock for key %s is already held", l.key)
	}
	return nil
}

func (l *Locker) Unlock(ctx context.Context) error {
	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("unlock failed, lock for key %s expired or is held by someone else", l.key)
	}
	return nil
}

func (l *Locker) ExtendLock(ctx context.Context, extension time.Duration) error {
	result, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.value, fmt.Sprintf("%d", extension.Milliseconds())).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("lock extension failed for key %s, lock expired or is held by someone else", l.key)
	}
	return nil
}

// WaitLock retries Lock with jitter until it succeeds, waitTimeout passes or
// ctx is done.
func (l *Locker) WaitLock(ctx context.Context, lockTimeout, waitTimeout time.Duration) error {
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if err := l.Lock(ctx, lockTimeout); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(rand.Intn(100)) * time.Millisecond):
		}
	}
	return fmt.Errorf("failed to acquire lock for key %s within the wait timeout", l.key)
}

// =============================================================================
// MANAGER - waqf.Locker over redis
// =============================================================================

// Manager hands out one Locker per Acquire call.
type Manager struct {
	client  redis.UniversalClient
	ttl     time.Duration
	wait    time.Duration
	prefix  string
	tokenFn func() string
}

var _ waqf.Locker = (*Manager)(nil)

type ManagerOption func(*Manager)

// WithTimeouts sets how long a lock lives and how long Acquire waits for it.
func WithTimeouts(ttl, wait time.Duration) ManagerOption {
	return func(m *Manager) {
		m.ttl = ttl
		m.wait = wait
	}
}

// WithPrefix namespaces every key, e.g. per deployment.
func WithPrefix(prefix string) ManagerOption { return func(m *Manager) { m.prefix = prefix } }

// WithTokens replaces the holder token generator.
func WithTokens(fn func() string) ManagerOption { return func(m *Manager) { m.tokenFn = fn } }

func NewManager(client redis.UniversalClient, opts ...ManagerOption) *Manager {
	m := &Manager{
		client:  client,
		ttl:     10 * time.Second,
		wait:    5 * time.Second,
		prefix:  "waqf:",
		tokenFn: uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire blocks until key is held. The returned release must be called
// once; it fails if the lock expired in the meantime.
func (m *Manager) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	l := NewLocker(m.client, m.prefix+key, m.tokenFn())
	if err := l.WaitLock(ctx, m.ttl, m.wait); err != nil {
		return nil, err
	}
	return l.Unlock, nil
}
