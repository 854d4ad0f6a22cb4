package resolver

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/pricebook-backend/internal/platform/envutil"
)

//go:embed resolver.yaml
var defaultYAML []byte

// MinSearchK is the smallest candidate list the catalog branch asks for.
const MinSearchK = 5

type Config struct {
	MatchThreshold    float64 `yaml:"match_threshold"`
	MinKeywordOverlap int     `yaml:"min_keyword_overlap"`
	EstimateThreshold float64 `yaml:"estimate_threshold"`
	SearchK           int     `yaml:"search_k"`
	MaxDepth          int     `yaml:"max_depth"`
	MaxSubtasks       int     `yaml:"max_subtasks"`
	MaxNodes          int     `yaml:"max_nodes"`
	LocalRetries      int     `yaml:"local_retries"`
}

// ParseConfig reads YAML over the embedded defaults.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultYAML, &cfg); err != nil {
		return Config{}, fmt.Errorf("resolver defaults: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("resolver config: %w", err)
		}
	}
	return cfg, cfg.Validate()
}

func DefaultConfig() Config {
	cfg, err := ParseConfig(nil)
	if err != nil {
		panic(err)
	}
	return cfg
}

func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	cfg.MatchThreshold = envutil.Float("RESOLVER_MATCH_THRESHOLD", cfg.MatchThreshold)
	cfg.MinKeywordOverlap = envutil.Int("RESOLVER_MIN_KEYWORD_OVERLAP", cfg.MinKeywordOverlap)
	cfg.EstimateThreshold = envutil.Float("RESOLVER_ESTIMATE_THRESHOLD", cfg.EstimateThreshold)
	cfg.SearchK = envutil.Int("RESOLVER_SEARCH_K", cfg.SearchK)
	cfg.MaxDepth = envutil.Int("RESOLVER_MAX_DEPTH", cfg.MaxDepth)
	cfg.MaxSubtasks = envutil.Int("RESOLVER_MAX_SUBTASKS", cfg.MaxSubtasks)
	cfg.MaxNodes = envutil.Int("RESOLVER_MAX_NODES", cfg.MaxNodes)
	cfg.LocalRetries = envutil.Int("RESOLVER_LOCAL_RETRIES", cfg.LocalRetries)
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.MatchThreshold < 0 || c.MatchThreshold > 1:
		return fmt.Errorf("match_threshold %v outside [0,1]", c.MatchThreshold)
	case c.EstimateThreshold < 0 || c.EstimateThreshold > 1:
		return fmt.Errorf("estimate_threshold %v outside [0,1]", c.EstimateThreshold)
	case c.SearchK < MinSearchK:
		return fmt.Errorf("search_k %d below %d", c.SearchK, MinSearchK)
	case c.MaxDepth < 0:
		return fmt.Errorf("max_depth %d is negative", c.MaxDepth)
	case c.MaxSubtasks < 1:
		return fmt.Errorf("max_subtasks %d must be at least 1", c.MaxSubtasks)
	case c.MaxNodes < 1:
		return fmt.Errorf("max_nodes %d must be at least 1", c.MaxNodes)
	case c.LocalRetries < 0:
		return fmt.Errorf("local_retries %d is negative", c.LocalRetries)
	case c.MinKeywordOverlap < 0:
		return fmt.Errorf("min_keyword_overlap %d is negative", c.MinKeywordOverlap)
	}
	return nil
}
