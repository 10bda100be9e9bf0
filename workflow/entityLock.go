package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/governance_backend/config"
	"bitbucket.org/mmdatafocus/governance_backend/utils"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// Locker serializes writers of one entity. The returned unlock func is always
// safe to call.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

func entityLockKey(entityType string, id string) string {
	return "governance:lock:" + entityType + ":" + id
}

// LocalLocker is an in-process keyed mutex used when Redis is not configured.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*localSlot
}

type localSlot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*localSlot)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &localSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, slot, false)
		return func() {}, utils.NewConflict("", "", "lock "+key+" not obtained: "+ctx.Err().Error())
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, slot, true) })
	}, nil
}

func (l *LocalLocker) release(key string, slot *localSlot, held bool) {
	if held {
		<-slot.ch
	}
	l.mu.Lock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}

// RedisLocker takes per-entity locks across instances with bsm/redislock.
// A lock held by another writer maps to Conflict. Other Redis failures are
// logged and the caller proceeds: the version token still rejects stale writes.
type RedisLocker struct {
	Client  *redislock.Client
	Logger  *logrus.Logger
	TTL     time.Duration
	Retries int
}

func NewRedisLocker(client *redislock.Client, logger *logrus.Logger) *RedisLocker {
	return &RedisLocker{
		Client:  client,
		Logger:  logger,
		TTL:     config.EntityLockTTL(),
		Retries: 20,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.Client == nil {
		return func() {}, nil
	}
	lock, err := l.Client.Obtain(ctx, key, l.TTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.ExponentialBackoff(10*time.Millisecond, 250*time.Millisecond), l.Retries),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return func() {}, utils.NewConflict("", "", "entity is being modified: "+key)
		}
		if l.Logger != nil {
			l.Logger.WithFields(logrus.Fields{
				"field": "RedisLocker",
				"key":   key,
			}).Warn("redis lock unavailable, relying on version check: " + err.Error())
		}
		return func() {}, nil
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
	}, nil
}

// lockEntity takes the entity lock and converts a lock failure into a typed error.
func (e *Engine) lockEntity(ctx context.Context, entityType string, id string) (func(), error) {
	if e.Locker == nil {
		return func() {}, nil
	}
	unlock, err := e.Locker.Lock(ctx, entityLockKey(entityType, id))
	if err != nil {
		var ge *utils.GovernanceError
		if errors.As(err, &ge) && ge.Kind == utils.ErrorKindConflict {
			ge.Entity, ge.EntityId = entityType, id
			return unlock, ge
		}
		return unlock, utils.NewStorageUnavailable(err)
	}
	return unlock, nil
}
