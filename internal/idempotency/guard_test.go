package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crm_backend/platform/apperr"
	"crm_backend/platform/cache"
	"crm_backend/platform/lock"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type conversion struct {
	LeadID    uuid.UUID `json:"leadId"`
	AccountID uuid.UUID `json:"accountId"`
}

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func newGuard(client *redis.Client, locker lock.Locker) *Guard {
	return NewGuard(cache.NewRedisCache(client, cache.Options{}), locker, Settings{
		TTL:      24 * time.Hour,
		LockTTL:  5 * time.Second,
		LockWait: 2 * time.Second,
	}, nil)
}

func TestExecuteReplaysStoredResult(t *testing.T) {
	client, _ := newRedis(t)
	g := newGuard(client, lock.NewLocalLocker())
	key := Key(uuid.New(), "convert_lead", "k1")

	var calls atomic.Int32
	fn := func(ctx context.Context) (conversion, error) {
		calls.Add(1)
		return conversion{LeadID: uuid.New(), AccountID: uuid.New()}, nil
	}

	first, replayed, err := Execute(context.Background(), g, key, fn)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := Execute(context.Background(), g, key, fn)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecuteRunsOnceUnderConcurrency(t *testing.T) {
	client, _ := newRedis(t)
	g := newGuard(client, lock.NewRedisLocker(client, "lock:"))
	key := Key(uuid.New(), "convert_lead", "race")

	var calls atomic.Int32
	fn := func(ctx context.Context) (conversion, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return conversion{LeadID: uuid.New(), AccountID: uuid.New()}, nil
	}

	results := make([]conversion, 10)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, _, err := Execute(context.Background(), g, key, fn)
			assert.NoError(t, err)
			results[i] = out
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results[1:] {
		assert.Equal(t, results[0], r)
	}
}

func TestExecuteSurvivesCancelledLeader(t *testing.T) {
	client, _ := newRedis(t)
	g := newGuard(client, lock.NewLocalLocker())
	key := Key(uuid.New(), "convert_lead", "cancelled-leader")

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	started := make(chan struct{})
	leaderDone := make(chan error, 1)
	go func() {
		_, _, err := Execute(leaderCtx, g, key, func(ctx context.Context) (conversion, error) {
			close(started)
			<-ctx.Done()
			return conversion{}, ctx.Err()
		})
		leaderDone <- err
	}()
	<-started

	want := conversion{LeadID: uuid.New(), AccountID: uuid.New()}
	type outcome struct {
		out      conversion
		replayed bool
		err      error
	}
	followerDone := make(chan outcome, 1)
	go func() {
		out, replayed, err := Execute(context.Background(), g, key, func(ctx context.Context) (conversion, error) {
			return want, nil
		})
		followerDone <- outcome{out, replayed, err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancelLeader()

	require.ErrorIs(t, <-leaderDone, context.Canceled)
	got := <-followerDone
	require.NoError(t, got.err)
	assert.Equal(t, want, got.out)
	assert.False(t, got.replayed)

	replay, replayed, err := Execute(context.Background(), g, key, func(ctx context.Context) (conversion, error) {
		return conversion{}, errors.New("must not run")
	})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, want, replay)
}

func TestExecuteAcrossInstancesSharesResult(t *testing.T) {
	client, _ := newRedis(t)
	locker := lock.NewRedisLocker(client, "lock:")
	a := newGuard(client, locker)
	b := newGuard(client, locker)
	key := Key(uuid.New(), "convert_lead", "shared")

	var calls atomic.Int32
	fn := func(ctx context.Context) (conversion, error) {
		calls.Add(1)
		time.Sleep(30 * time.Millisecond)
		return conversion{LeadID: uuid.New()}, nil
	}

	var wg sync.WaitGroup
	var fromA, fromB conversion
	wg.Add(2)
	go func() { defer wg.Done(); fromA, _, _ = Execute(context.Background(), a, key, fn) }()
	go func() { defer wg.Done(); fromB, _, _ = Execute(context.Background(), b, key, fn) }()
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, fromA, fromB)
}

func TestExecuteDoesNotStoreFailures(t *testing.T) {
	client, _ := newRedis(t)
	g := newGuard(client, lock.NewLocalLocker())
	key := Key(uuid.New(), "convert_lead", "fails-once")

	var calls atomic.Int32
	fn := func(ctx context.Context) (conversion, error) {
		if calls.Add(1) == 1 {
			return conversion{}, apperr.Precondition("lead must be contacted or qualified before conversion")
		}
		return conversion{LeadID: uuid.New()}, nil
	}

	_, _, err := Execute(context.Background(), g, key, fn)
	assert.True(t, apperr.Is(err, apperr.KindPrecondition))

	_, replayed, err := Execute(context.Background(), g, key, fn)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, int32(2), calls.Load())
}

func TestExecuteKeysAreTenantScoped(t *testing.T) {
	client, _ := newRedis(t)
	g := newGuard(client, lock.NewLocalLocker())

	fn := func(ctx context.Context) (conversion, error) {
		return conversion{LeadID: uuid.New()}, nil
	}

	a, _, err := Execute(context.Background(), g, Key(uuid.New(), "convert_lead", "same"), fn)
	require.NoError(t, err)
	b, replayed, err := Execute(context.Background(), g, Key(uuid.New(), "convert_lead", "same"), fn)
	require.NoError(t, err)

	assert.False(t, replayed)
	assert.NotEqual(t, a.LeadID, b.LeadID)
}

func TestExecuteConflictsWhenKeyIsBusy(t *testing.T) {
	client, _ := newRedis(t)
	locker := lock.NewRedisLocker(client, "lock:")
	g := NewGuard(cache.NewRedisCache(client, cache.Options{}), locker, Settings{
		LockTTL:  5 * time.Second,
		LockWait: 30 * time.Millisecond,
	}, nil)
	key := Key(uuid.New(), "convert_lead", "busy")

	release, err := locker.Acquire(context.Background(), key, 5*time.Second, time.Second)
	require.NoError(t, err)
	defer release(context.Background())

	_, _, err = Execute(context.Background(), g, key, func(ctx context.Context) (conversion, error) {
		t.Fatal("operation must not run while another holder owns the key")
		return conversion{}, nil
	})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestExecuteSurfacesCacheOutage(t *testing.T) {
	client, mr := newRedis(t)
	g := newGuard(client, lock.NewLocalLocker())
	mr.Close()

	_, _, err := Execute(context.Background(), g, "k", func(ctx context.Context) (conversion, error) {
		return conversion{}, errors.New("should not run")
	})
	assert.True(t, apperr.Is(err, apperr.KindInternal))
}

func TestValidateKey(t *testing.T) {
	assert.Error(t, ValidateKey("  "))
	assert.NoError(t, ValidateKey("order-123"))
	long := make([]byte, MaxKeyLength+1)
	for i := range long {
		long[i] = 'a'
	}
	assert.Error(t, ValidateKey(string(long)))
}
