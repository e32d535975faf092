// Package cost prices model token usage.
package cost

import (
	"github.com/sells-group/site-analyzer/internal/config"
	"github.com/sells-group/site-analyzer/internal/model"
)

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64
	Output float64
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates map[string]ModelRate
}

// NewCalculator creates a Calculator with the default rates, overridden by
// any configured per-model prices.
func NewCalculator(overrides config.PricingConfig) *Calculator {
	rates := DefaultRates()
	for name, p := range overrides.Anthropic {
		rates[name] = ModelRate{Input: p.Input, Output: p.Output}
	}
	return &Calculator{rates: rates}
}

// Claude computes the cost for a Claude API call. Unknown models cost 0.
func (c *Calculator) Claude(modelID string, input, output int) float64 {
	rate, ok := c.rates[modelID]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// Usage builds a priced TokenUsage for one call.
func (c *Calculator) Usage(modelID string, input, output int) model.TokenUsage {
	return model.TokenUsage{
		InputTokens:  input,
		OutputTokens: output,
		Cost:         c.Claude(modelID, input, output),
	}
}

// DefaultRates returns the default pricing rates.
func DefaultRates() map[string]ModelRate {
	return map[string]ModelRate{
		"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
		"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
	}
}
