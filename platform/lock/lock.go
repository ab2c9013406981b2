// Package lock provides per-key mutual exclusion across service instances.
// This is part of the platform layer and contains no business logic.
package lock

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when a lock could not be obtained within the wait window.
var ErrNotAcquired = errors.New("lock not acquired")

// Release frees a held lock.
type Release func(ctx context.Context) error

// Locker hands out exclusive locks by key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Release, error)
}

const (
	unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

// Mutex is a single Redis lock identified by key and owned by value.
// Only the owner can unlock or extend it.
type Mutex struct {
	client redis.UniversalClient
	key    string
	value  string
}

// NewMutex creates a mutex for key owned by value.
func NewMutex(client redis.UniversalClient, key, value string) *Mutex {
	return &Mutex{client: client, key: key, value: value}
}

// Lock tries once to take the lock for ttl.
func (m *Mutex) Lock(ctx context.Context, ttl time.Duration) error {
	ok, err := m.client.SetNX(ctx, m.key, m.value, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("lock for key %s is already held", m.key)
	}
	return nil
}

// Unlock releases the lock if this mutex still owns it.
func (m *Mutex) Unlock(ctx context.Context) error {
	result, err := m.client.Eval(ctx, unlockScript, []string{m.key}, m.value).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("unlock failed, either lock expired or you're not the lock holder for key %s", m.key)
	}
	return nil
}

// Extend pushes the expiry of an owned lock forward.
func (m *Mutex) Extend(ctx context.Context, extension time.Duration) error {
	result, err := m.client.Eval(ctx, extendScript, []string{m.key}, m.value, fmt.Sprintf("%d", extension.Milliseconds())).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("lock extension failed for key %s, either lock expired or you're not the holder", m.key)
	}
	return nil
}

// WaitLock retries Lock with jittered backoff until wait elapses or ctx is done.
func (m *Mutex) WaitLock(ctx context.Context, ttl, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		err := m.Lock(ctx, ttl)
		if err == nil {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: key %s within %s", ErrNotAcquired, m.key, wait)
		}

		timer := time.NewTimer(time.Duration(10+rand.Intn(90)) * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RedisLocker hands out Redis mutexes with a random owner token per acquisition.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker creates a Locker whose keys are namespaced by prefix.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Release, error) {
	m := NewMutex(l.client, l.prefix+key, uuid.NewString())
	if err := m.WaitLock(ctx, ttl, wait); err != nil {
		return nil, err
	}
	return m.Unlock, nil
}

// LocalLocker serializes keys inside one process. It backs single-instance
// deployments and tests, where no Redis is configured.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewLocalLocker creates an in-process Locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]chan struct{})}
}

// Acquire implements Locker. ttl is ignored; the lock is held until released.
func (l *LocalLocker) Acquire(ctx context.Context, key string, _ time.Duration, wait time.Duration) (Release, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		l.mu.Lock()
		ch, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			return func(context.Context) error {
				l.mu.Lock()
				delete(l.held, key)
				l.mu.Unlock()
				close(done)
				return nil
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, fmt.Errorf("%w: key %s within %s", ErrNotAcquired, key, wait)
		}
	}
}

var (
	_ Locker = (*RedisLocker)(nil)
	_ Locker = (*LocalLocker)(nil)
)
