// Package pricing turns reported token usage into an approximate USD cost.
package pricing

import (
	"strings"
	"time"

	"github.com/namikmesic/claude-sidekick/internal/stream"
)

// Rate is USD per million tokens.
type Rate struct {
	Input      float64
	Output     float64
	CacheWrite float64
	CacheRead  float64
}

// rates is matched by longest model-name prefix.
var rates = map[string]Rate{
	"claude-opus-4-5":   {Input: 5, Output: 25, CacheWrite: 6.25, CacheRead: 0.50},
	"claude-opus-4":     {Input: 15, Output: 75, CacheWrite: 18.75, CacheRead: 1.50},
	"claude-3-opus":     {Input: 15, Output: 75, CacheWrite: 18.75, CacheRead: 1.50},
	"claude-sonnet-4":   {Input: 3, Output: 15, CacheWrite: 3.75, CacheRead: 0.30},
	"claude-3-7-sonnet": {Input: 3, Output: 15, CacheWrite: 3.75, CacheRead: 0.30},
	"claude-3-5-sonnet": {Input: 3, Output: 15, CacheWrite: 3.75, CacheRead: 0.30},
	"claude-haiku-4-5":  {Input: 1, Output: 5, CacheWrite: 1.25, CacheRead: 0.10},
	"claude-3-5-haiku":  {Input: 0.80, Output: 4, CacheWrite: 1, CacheRead: 0.08},
	"claude-3-haiku":    {Input: 0.25, Output: 1.25, CacheWrite: 0.30, CacheRead: 0.03},
}

// Lookup returns the rate for model, matching the longest known prefix.
func Lookup(model string) (Rate, bool) {
	var (
		best    Rate
		bestLen int
	)
	for prefix, rate := range rates {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = rate, len(prefix)
		}
	}
	return best, bestLen > 0
}

// Cost prices usage for model. Unknown models cost zero.
func Cost(model string, usage stream.Usage) float64 {
	rate, ok := Lookup(model)
	if !ok {
		return 0
	}
	return (float64(usage.InputTokens)*rate.Input +
		float64(usage.OutputTokens)*rate.Output +
		float64(usage.CacheCreation())*rate.CacheWrite +
		float64(usage.CacheRead())*rate.CacheRead) / 1e6
}

// TokensPerSecond is the output rate over the streamed duration.
func TokensPerSecond(outputTokens int, d time.Duration) float32 {
	if d <= 0 || outputTokens <= 0 {
		return 0
	}
	return float32(float64(outputTokens) / d.Seconds())
}
