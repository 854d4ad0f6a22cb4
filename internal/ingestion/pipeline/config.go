package pipeline

import (
	"time"

	"github.com/yungbote/pricebook-backend/internal/platform/envutil"
)

type Config struct {
	// BatchSize caps records per embedding request.
	BatchSize int
	// MaxBatchRetries is the number of retries after the first failed
	// attempt before a batch is dropped.
	MaxBatchRetries    int
	RetryDelay         time.Duration
	DefaultConcurrency int
	MaxConcurrency     int
	// EmbedDim is the required vector length; zero skips the check.
	EmbedDim int
}

func DefaultConfig() Config {
	return Config{
		BatchSize:          32,
		MaxBatchRetries:    3,
		RetryDelay:         500 * time.Millisecond,
		DefaultConcurrency: 5,
		MaxConcurrency:     16,
		EmbedDim:           768,
	}
}

func ConfigFromEnv() Config {
	def := DefaultConfig()
	return Config{
		BatchSize:          envutil.Int("INGEST_EMBED_BATCH_SIZE", def.BatchSize),
		MaxBatchRetries:    envutil.Int("INGEST_MAX_BATCH_RETRIES", def.MaxBatchRetries),
		RetryDelay:         envutil.Millis("INGEST_BATCH_RETRY_DELAY_MS", def.RetryDelay),
		DefaultConcurrency: envutil.Int("INGEST_DEFAULT_CONCURRENCY", def.DefaultConcurrency),
		MaxConcurrency:     envutil.Int("INGEST_MAX_CONCURRENCY", def.MaxConcurrency),
		EmbedDim:           envutil.Int("EMBED_DIM", def.EmbedDim),
	}
}

func (c Config) concurrency(hint int) int {
	n := hint
	if n <= 0 {
		n = c.DefaultConcurrency
	}
	if n <= 0 {
		n = 1
	}
	if c.MaxConcurrency > 0 && n > c.MaxConcurrency {
		n = c.MaxConcurrency
	}
	return n
}
