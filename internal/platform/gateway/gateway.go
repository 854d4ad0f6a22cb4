package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/yungbote/pricebook-backend/internal/pkg/httpx"
	"github.com/yungbote/pricebook-backend/internal/platform/envutil"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
)

type Config struct {
	BaseDelay  time.Duration
	MaxRetries int
	MaxDelay   time.Duration
	// JitterFrac adds up to this fraction on top of each delay.
	JitterFrac float64
	// QPS paces outgoing calls. Zero disables pacing.
	QPS   float64
	Burst int
}

func DefaultConfig() Config {
	return Config{
		BaseDelay:  2000 * time.Millisecond,
		MaxRetries: 3,
		MaxDelay:   60 * time.Second,
	}
}

func ConfigFromEnv() Config {
	def := DefaultConfig()
	return Config{
		BaseDelay:  envutil.Millis("GATEWAY_BASE_DELAY_MS", def.BaseDelay),
		MaxRetries: envutil.Int("GATEWAY_MAX_RETRIES", def.MaxRetries),
		MaxDelay:   envutil.Seconds("GATEWAY_MAX_DELAY_SECONDS", def.MaxDelay),
		JitterFrac: envutil.Float("GATEWAY_JITTER_FRAC", 0),
		QPS:        envutil.Float("GATEWAY_QPS", 0),
		Burst:      envutil.Int("GATEWAY_BURST", 1),
	}
}

// Sleeper waits for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Option func(*Gateway)

func WithSleeper(s Sleeper) Option {
	return func(g *Gateway) {
		if s != nil {
			g.sleep = s
		}
	}
}

type Stats struct {
	Attempts  int64
	Retries   int64
	Exhausted int64
}

// Gateway serializes retry policy for every external completion and embedding call.
type Gateway struct {
	log     *logger.Logger
	cfg     Config
	sleep   Sleeper
	limiter *rate.Limiter

	attempts  atomic.Int64
	retries   atomic.Int64
	exhausted atomic.Int64
}

func New(log *logger.Logger, cfg Config, opts ...Option) *Gateway {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	g := &Gateway{
		log:   log.With("service", "RateLimitedGateway"),
		cfg:   cfg,
		sleep: contextSleep,
	}
	if cfg.QPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.QPS), burst)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Stats() Stats {
	return Stats{
		Attempts:  g.attempts.Load(),
		Retries:   g.retries.Load(),
		Exhausted: g.exhausted.Load(),
	}
}

// Do runs fn, retrying only throttling failures with doubling delays.
func (g *Gateway) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		g.attempts.Add(1)
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !httpx.IsThrottle(err) {
			return wrapExternal(op, err)
		}
		if attempt >= g.cfg.MaxRetries {
			g.exhausted.Add(1)
			g.log.Warn("Throttling not cleared", "op", op, "attempts", attempt+1, "error", err.Error())
			return &RateLimitError{Op: op, Attempts: attempt + 1, Cause: err}
		}

		delay := g.delay(attempt, err)
		g.retries.Add(1)
		g.log.Warn("Throttled; backing off",
			"op", op,
			"attempt", attempt+1,
			"max_retries", g.cfg.MaxRetries,
			"delay_ms", delay.Milliseconds(),
		)
		if err := g.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (g *Gateway) delay(attempt int, err error) time.Duration {
	d := g.cfg.BaseDelay << attempt
	if hint := httpx.RetryAfterHint(err); hint > d {
		d = hint
	}
	if g.cfg.MaxDelay > 0 && d > g.cfg.MaxDelay {
		d = g.cfg.MaxDelay
	}
	return httpx.Jitter(d, g.cfg.JitterFrac)
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, g *Gateway, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// RateLimitError means throttling persisted after every retry.
type RateLimitError struct {
	Op       string
	Attempts int
	Cause    error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited after %d attempts: %v", e.Op, e.Attempts, e.Cause)
}

func (e *RateLimitError) Unwrap() error { return e.Cause }

// ExternalServiceError is any non-throttling failure of an external call.
type ExternalServiceError struct {
	Op    string
	Cause error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: external service error: %v", e.Op, e.Cause)
}

func (e *ExternalServiceError) Unwrap() error { return e.Cause }

func wrapExternal(op string, err error) error {
	var ext *ExternalServiceError
	if errors.As(err, &ext) {
		return err
	}
	return &ExternalServiceError{Op: op, Cause: err}
}
