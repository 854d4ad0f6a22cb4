package orchestrator

import (
	"github.com/shopspring/decimal"

	budget "github.com/yungbote/pricebook-backend/internal/domain/budget"
	"github.com/yungbote/pricebook-backend/internal/platform/envutil"
)

type Config struct {
	Concurrency      int
	StructureRetries int
	Rates            budget.Rates
}

func DefaultConfig() Config {
	return Config{
		Concurrency:      5,
		StructureRetries: 1,
		Rates:            budget.DefaultRates(),
	}
}

func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.Concurrency = envutil.Int("ORCHESTRATOR_CONCURRENCY", cfg.Concurrency)
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	cfg.StructureRetries = envutil.Int("ORCHESTRATOR_STRUCTURE_RETRIES", cfg.StructureRetries)
	if cfg.StructureRetries < 0 {
		cfg.StructureRetries = 0
	}
	cfg.Rates.OverheadPct = envDecimal("BUDGET_OVERHEAD_PCT", cfg.Rates.OverheadPct)
	cfg.Rates.BenefitPct = envDecimal("BUDGET_BENEFIT_PCT", cfg.Rates.BenefitPct)
	cfg.Rates.TaxPct = envDecimal("BUDGET_TAX_PCT", cfg.Rates.TaxPct)
	return cfg
}

func envDecimal(name string, def decimal.Decimal) decimal.Decimal {
	f, _ := def.Float64()
	return decimal.NewFromFloat(envutil.Float(name, f))
}
