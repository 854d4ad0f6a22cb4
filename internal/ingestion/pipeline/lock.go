package pipeline

import (
	"context"
	"sync"
)

type localLocker struct {
	mu    sync.Mutex
	years map[int]chan struct{}
}

// NewLocalLocker serializes years within this process only.
func NewLocalLocker() YearLocker {
	return &localLocker{years: map[int]chan struct{}{}}
}

func (l *localLocker) LockYear(ctx context.Context, year int) (func(), error) {
	l.mu.Lock()
	ch, ok := l.years[year]
	if !ok {
		ch = make(chan struct{}, 1)
		l.years[year] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-ch }) }, nil
}
