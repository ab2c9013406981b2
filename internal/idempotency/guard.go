// Package idempotency guarantees at-most-once execution of side-effecting
// operations per caller-supplied key.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"crm_backend/platform/apperr"
	"crm_backend/platform/cache"
	"crm_backend/platform/lock"
	"crm_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// MaxKeyLength bounds client-supplied keys.
const MaxKeyLength = 255

// Settings for a Guard.
type Settings struct {
	// TTL is how long a stored result is replayed.
	TTL time.Duration
	// LockTTL bounds how long a crashed holder can block a key.
	LockTTL time.Duration
	// LockWait is how long a concurrent request waits for the holder.
	LockWait time.Duration
}

// Guard serializes executions per key and replays stored results.
//
// Execution holds an in-process singleflight slot and a distributed lock for
// the whole operation, re-reads the cache under the lock, and releases only
// after the result is stored.
type Guard struct {
	cache    cache.Cache
	locker   lock.Locker
	settings Settings
	log      *logger.Logger
	group    singleflight.Group
}

// NewGuard creates a guard.
func NewGuard(c cache.Cache, locker lock.Locker, settings Settings, log *logger.Logger) *Guard {
	if settings.TTL <= 0 {
		settings.TTL = 24 * time.Hour
	}
	if settings.LockTTL <= 0 {
		settings.LockTTL = 30 * time.Second
	}
	if settings.LockWait <= 0 {
		settings.LockWait = 5 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Guard{cache: c, locker: locker, settings: settings, log: log}
}

// Key builds the tenant-scoped record key "{tenantId}:{operation}:{clientKey}".
func Key(tenantID uuid.UUID, operation, clientKey string) string {
	return fmt.Sprintf("%s:%s:%s", tenantID, operation, clientKey)
}

// ValidateKey checks a client-supplied key.
func ValidateKey(clientKey string) error {
	if strings.TrimSpace(clientKey) == "" {
		return apperr.Validation("idempotency key must not be blank")
	}
	if len(clientKey) > MaxKeyLength {
		return apperr.Validation(fmt.Sprintf("idempotency key exceeds %d characters", MaxKeyLength))
	}
	return nil
}

// Execute returns the stored result for key, or runs fn and stores its result.
// replayed reports whether fn was skipped. Failed executions are not stored.
func Execute[T any](ctx context.Context, g *Guard, key string, fn func(context.Context) (T, error)) (result T, replayed bool, err error) {
	if raw, found, err := g.load(ctx, key); err != nil {
		return result, false, err
	} else if found {
		err := json.Unmarshal(raw, &result)
		return result, true, wrapDecode(err)
	}

	run := func(ctx context.Context) ([]byte, error) {
		out, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(out)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "encode idempotent result", err)
		}
		return raw, nil
	}

	// Only the caller whose closure runs is the leader; callers sharing its
	// flight receive a replay.
	leader := false
	v, err, _ := g.group.Do(key, func() (interface{}, error) {
		leader = true
		return g.runLocked(ctx, key, run)
	})
	if err != nil && !leader && isContextErr(err) && ctx.Err() == nil {
		// The leader's request was cancelled, not ours: take the lock and
		// re-check ourselves.
		leader = true
		v, err = g.runLocked(ctx, key, run)
	}
	if err != nil {
		return result, false, err
	}

	res := v.(lockedResult)
	if err := json.Unmarshal(res.raw, &result); err != nil {
		return result, false, wrapDecode(err)
	}
	return result, res.replayed || !leader, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

type lockedResult struct {
	raw      []byte
	replayed bool
}

func (g *Guard) runLocked(ctx context.Context, key string, run func(context.Context) ([]byte, error)) (lockedResult, error) {
	release, err := g.locker.Acquire(ctx, key, g.settings.LockTTL, g.settings.LockWait)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return lockedResult{}, apperr.Conflict("a request with this idempotency key is still in progress").
				WithCode(apperr.CodeAlreadyExists)
		}
		return lockedResult{}, apperr.Wrap(apperr.KindInternal, "acquire idempotency lock", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			g.log.WithContext(ctx).Warn("idempotency lock release failed", "key", key, "error", err)
		}
	}()

	if raw, found, err := g.load(ctx, key); err != nil {
		return lockedResult{}, err
	} else if found {
		return lockedResult{raw: raw, replayed: true}, nil
	}

	raw, err := run(ctx)
	if err != nil {
		return lockedResult{}, err
	}

	if err := g.cache.Set(context.WithoutCancel(ctx), key, raw, g.settings.TTL); err != nil {
		// The operation already committed; the result is still returned so the
		// caller does not retry into a duplicate.
		g.log.WithContext(ctx).Error("idempotency result not stored", "key", key, "error", err)
	}
	return lockedResult{raw: raw}, nil
}

func (g *Guard) load(ctx context.Context, key string) ([]byte, bool, error) {
	var raw []byte
	found, err := g.cache.Get(ctx, key, &raw)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.KindInternal, "idempotency cache unavailable", err)
	}
	return raw, found, nil
}

func wrapDecode(err error) error {
	if err == nil {
		return nil
	}
	return apperr.Wrap(apperr.KindInternal, "decode idempotent result", err)
}
