package lock

import (
	"context"
	"errors"
	"hash/fnv"

	"funding-spread-alerts/internal/storage"
)

// ErrLockHeld is returned by Acquire when another holder owns the lock.
var ErrLockHeld = errors.New("lock held elsewhere")

// Locker guards work that must run on one instance at a time. A false acquired with a
// nil error means another holder owns the key.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(), acquired bool, err error)
}

// Acquire is TryLock that reports a held lock as ErrLockHeld.
func Acquire(ctx context.Context, l Locker, key string) (func(), error) {
	unlock, acquired, err := l.TryLock(ctx, key)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrLockHeld
	}
	return unlock, nil
}

// Noop always grants the lock. It is used for single-instance deployments.
type Noop struct{}

func (Noop) TryLock(context.Context, string) (func(), bool, error) {
	return func() {}, true, nil
}

// Postgres maps keys onto session advisory locks.
type Postgres struct {
	locker storage.AdvisoryLocker
}

// NewPostgres wraps an advisory locker such as *storage.Store.
func NewPostgres(locker storage.AdvisoryLocker) *Postgres {
	return &Postgres{locker: locker}
}

func (p *Postgres) TryLock(ctx context.Context, key string) (func(), bool, error) {
	return p.locker.TryAdvisoryLock(ctx, AdvisoryKey(key))
}

// AdvisoryKey derives the bigint advisory lock id for a key name.
func AdvisoryKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

var (
	_ Locker = Noop{}
	_ Locker = (*Postgres)(nil)
	_ Locker = (*Redis)(nil)
)
