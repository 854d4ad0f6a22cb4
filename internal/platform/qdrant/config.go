package qdrant

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/yungbote/pricebook-backend/internal/platform/envutil"
)

type Config struct {
	URL             string
	Collection      string
	NamespacePrefix string
	VectorDim       int
}

type ConfigErrorCode string

const (
	ConfigErrorInvalidURL        ConfigErrorCode = "invalid_url"
	ConfigErrorMissingCollection ConfigErrorCode = "missing_collection"
	ConfigErrorInvalidVectorDim  ConfigErrorCode = "invalid_vector_dim"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
}

func (e *ConfigError) Error() string {
	switch e.Code {
	case ConfigErrorInvalidURL:
		return fmt.Sprintf("invalid QDRANT_URL=%q; expected absolute URL like http://qdrant:6333", e.Value)
	case ConfigErrorMissingCollection:
		return "QDRANT_COLLECTION is required"
	case ConfigErrorInvalidVectorDim:
		return fmt.Sprintf("invalid vector dimension %q; expected positive integer", e.Value)
	default:
		return "invalid qdrant config"
	}
}

// ConfigFromEnv returns ok=false when QDRANT_URL is unset, meaning the index is disabled.
func ConfigFromEnv() (cfg Config, ok bool, err error) {
	cfg = Config{
		URL:             strings.TrimSpace(envutil.String("QDRANT_URL", "")),
		Collection:      envutil.String("QDRANT_COLLECTION", "catalog"),
		NamespacePrefix: envutil.String("QDRANT_NAMESPACE_PREFIX", "pb"),
		VectorDim:       envutil.Int("QDRANT_VECTOR_DIM", envutil.Int("EMBED_DIM", 768)),
	}
	if cfg.URL == "" {
		return cfg, false, nil
	}
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, false, err
	}
	return cfg, true, nil
}

func ValidateConfig(cfg Config) error {
	parsed, err := url.Parse(cfg.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return &ConfigError{Code: ConfigErrorInvalidURL, Value: cfg.URL}
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return &ConfigError{Code: ConfigErrorMissingCollection}
	}
	if cfg.VectorDim <= 0 {
		return &ConfigError{Code: ConfigErrorInvalidVectorDim, Value: fmt.Sprint(cfg.VectorDim)}
	}
	return nil
}
