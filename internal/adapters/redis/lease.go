package redis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/lp-advisor/pkg/logger"
)

// Lease guarantees a single engine instance owns the regime state
type Lease interface {
	// TryAcquire returns false without error when another instance holds it
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
	// Held turns false as soon as renewal fails
	Held() bool
}

// locker is the part of *redlock.RedLock the lease uses
type locker interface {
	Lock(ctx context.Context, resource string, ttl time.Duration) (time.Duration, error)
	UnLock(ctx context.Context, resource string) error
}

// EngineLease is a RedLock-backed lease renewed at 2/3 of its TTL
type EngineLease struct {
	locker locker
	name   string
	ttl    time.Duration

	held atomic.Bool
	stop context.CancelFunc
	mu   sync.Mutex
}

var _ Lease = (*EngineLease)(nil)

// NewEngineLease creates a lease on name
func NewEngineLease(l locker, name string, ttl time.Duration) *EngineLease {
	return &EngineLease{
		locker: l,
		name:   name,
		ttl:    ttl,
	}
}

// TryAcquire takes the lease and starts renewing it in the background
func (l *EngineLease) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held.Load() {
		return true, nil
	}

	expiry, err := l.locker.Lock(ctx, l.name, l.ttl)
	if err != nil {
		logger.Debug("engine lease held by another instance",
			zap.String("lease", l.name),
			zap.Error(err),
		)
		return false, nil
	}
	if expiry <= 0 {
		return false, fmt.Errorf("failed to acquire lease %s: invalid expiry %v", l.name, expiry)
	}

	l.held.Store(true)

	if l.stop != nil {
		l.stop()
	}
	renewCtx, cancel := context.WithCancel(context.Background())
	l.stop = cancel
	go l.renew(renewCtx)

	logger.Info("engine lease acquired",
		zap.String("lease", l.name),
		zap.Duration("ttl", l.ttl),
	)
	return true, nil
}

// Release stops renewal and unlocks. An already expired lock is not an error.
func (l *EngineLease) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stop != nil {
		l.stop()
		l.stop = nil
	}
	if !l.held.Swap(false) {
		return nil
	}

	if err := l.locker.UnLock(ctx, l.name); err != nil {
		logger.Warn("failed to release engine lease (may have already expired)",
			zap.String("lease", l.name),
			zap.Error(err),
		)
		return nil
	}

	logger.Info("engine lease released", zap.String("lease", l.name))
	return nil
}

// Held reports whether the lease is currently held
func (l *EngineLease) Held() bool {
	return l.held.Load()
}

func (l *EngineLease) renew(ctx context.Context) {
	ticker := time.NewTicker(l.ttl * 2 / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.held.Load() {
				return
			}

			// RedLock has no extend, so renew by unlock + lock
			if err := l.locker.UnLock(ctx, l.name); err != nil {
				if ctx.Err() == nil {
					l.markLost(err)
				}
				return
			}
			expiry, err := l.locker.Lock(ctx, l.name, l.ttl)
			if err != nil || expiry <= 0 {
				if ctx.Err() == nil {
					l.markLost(err)
				}
				return
			}

			logger.Debug("engine lease renewed",
				zap.String("lease", l.name),
				zap.Duration("expiry", expiry),
			)
		}
	}
}

func (l *EngineLease) markLost(err error) {
	l.held.Store(false)
	logger.Error("engine lease lost, another instance may take over",
		zap.String("lease", l.name),
		zap.Error(err),
	)
}

// LocalLease is used when Redis is disabled; it is always held
type LocalLease struct{}

var _ Lease = LocalLease{}

func (LocalLease) TryAcquire(context.Context) (bool, error) { return true, nil }
func (LocalLease) Release(context.Context) error            { return nil }
func (LocalLease) Held() bool                               { return true }
