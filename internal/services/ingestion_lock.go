package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/pricebook-backend/internal/ingestion/pipeline"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
)

const (
	yearLockTTL   = 30 * time.Second
	yearLockRetry = 500 * time.Millisecond
	yearLockWait  = 10 * time.Minute
)

type redisYearLocker struct {
	log    *logger.Logger
	locker *redislock.Client
	prefix string
}

// NewYearLocker returns a cross-instance lock when rdb is set and a
// process-local one otherwise.
func NewYearLocker(log *logger.Logger, rdb *goredis.Client) pipeline.YearLocker {
	if rdb == nil {
		return pipeline.NewLocalLocker()
	}
	return &redisYearLocker{
		log:    log.With("service", "CatalogYearLock"),
		locker: redislock.New(rdb),
		prefix: "lock:catalog-year",
	}
}

// LockYear waits for the year lock and keeps refreshing it until released.
func (l *redisYearLocker) LockYear(ctx context.Context, year int) (func(), error) {
	key := fmt.Sprintf("%s:%d", l.prefix, year)
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(yearLockRetry), int(yearLockWait/yearLockRetry)),
	}
	lock, err := l.locker.Obtain(ctx, key, yearLockTTL, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("catalog year %d is being replaced by another ingestion", year)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(yearLockTTL / 3)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				if err := lock.Refresh(context.Background(), yearLockTTL, nil); err != nil {
					l.log.Warn("Catalog year lock refresh failed", "year", year, "error", err)
					return
				}
			}
		}
	}()

	released := false
	return func() {
		if released {
			return
		}
		released = true
		close(stop)
		<-done
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.log.Warn("Catalog year lock release failed", "year", year, "error", err)
		}
	}, nil
}
