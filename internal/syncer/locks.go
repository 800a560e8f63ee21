package syncer

import (
	"context"
	"time"

	"dbinventory/internal/core"
	"dbinventory/internal/logger"
	"dbinventory/internal/metrics"
)

const DefaultLockTTL = 300 * time.Second

// LockRegistry gives one session at a time the right to sync an instance.
// Locks live in the store, so a crashed process's locks age out by TTL.
type LockRegistry struct {
	repo core.LockRepository
	now  func() time.Time
}

func NewLockRegistry(repo core.LockRepository) *LockRegistry {
	return &LockRegistry{repo: repo, now: time.Now}
}

// Acquire succeeds iff no unexpired lock exists for the instance.
func (l *LockRegistry) Acquire(ctx context.Context, instanceID int64, sessionID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if _, err := l.ReapExpired(ctx); err != nil {
		return false, err
	}
	ok, err := l.repo.Acquire(ctx, instanceID, sessionID, l.now(), ttl)
	if err != nil {
		return false, core.E(core.CodePersist, "lock.acquire", err)
	}
	if !ok {
		metrics.LockContention.Inc()
	}
	return ok, nil
}

// Extend renews a lock the session still holds. A false result means the
// lock lapsed and the session must stop writing to the instance.
func (l *LockRegistry) Extend(ctx context.Context, instanceID int64, sessionID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	ok, err := l.repo.Extend(ctx, instanceID, sessionID, l.now(), ttl)
	if err != nil {
		return false, core.E(core.CodePersist, "lock.extend", err)
	}
	return ok, nil
}

// Release succeeds iff the lock is held by sessionID.
func (l *LockRegistry) Release(ctx context.Context, instanceID int64, sessionID string) (bool, error) {
	ok, err := l.repo.Release(ctx, instanceID, sessionID)
	if err != nil {
		return false, core.E(core.CodePersist, "lock.release", err)
	}
	return ok, nil
}

// ReapExpired deletes locks whose TTL has passed.
func (l *LockRegistry) ReapExpired(ctx context.Context) (int64, error) {
	n, err := l.repo.ReapExpired(ctx, l.now())
	if err != nil {
		return 0, core.E(core.CodePersist, "lock.reap", err)
	}
	if n > 0 {
		logger.Info().Str("component", "locks").Int64("reaped", n).Msg("expired instance locks removed")
	}
	return n, nil
}

func (l *LockRegistry) Holder(ctx context.Context, instanceID int64) (*core.InstanceLock, error) {
	return l.repo.Get(ctx, instanceID)
}

func (l *LockRegistry) List(ctx context.Context) ([]core.InstanceLock, error) {
	return l.repo.List(ctx)
}
