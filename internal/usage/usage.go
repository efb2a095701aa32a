// Package usage aggregates multi-model token and cost reports into a
// single per-session summary.
package usage

import (
	"encoding/json"

	"pkt.systems/coxswain/schema"
)

// Payload is the JSON shape agents report usage in. ModelUsage is the
// per-model map; Usage is the flat legacy alternative.
type Payload struct {
	ModelUsage   map[string]schema.ModelStats `json:"modelUsage"`
	Usage        *schema.FlatUsage            `json:"usage"`
	TotalCostUSD float64                      `json:"totalCostUsd"`
}

// Decode parses data as a usage payload. It returns false when the
// bytes are not a JSON object carrying at least one usage field, so
// callers can probe arbitrary output lines cheaply.
func Decode(data []byte) (Payload, bool) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, false
	}
	if len(p.ModelUsage) == 0 && p.Usage == nil {
		return Payload{}, false
	}
	return p, true
}

// Aggregate combines a usage payload into one UsageStats record. When
// any model reports nonzero input+output tokens, each counter is the
// maximum across models rather than the sum: models invoked within
// one turn re-read the same cached context, so summing double-counts.
// Otherwise the flat legacy shape is used verbatim. A missing context
// window defaults to schema.DefaultContextWindow; cost passes through.
func Aggregate(modelUsage map[string]schema.ModelStats, flat *schema.FlatUsage, totalCostUSD float64) schema.UsageStats {
	stats := schema.UsageStats{TotalCostUSD: totalCostUSD}
	if anyModelActive(modelUsage) {
		for _, m := range modelUsage {
			if m.InputTokens > stats.InputTokens {
				stats.InputTokens = m.InputTokens
			}
			if m.OutputTokens > stats.OutputTokens {
				stats.OutputTokens = m.OutputTokens
			}
			if m.CacheReadInputTokens > stats.CacheReadInputTokens {
				stats.CacheReadInputTokens = m.CacheReadInputTokens
			}
			if m.CacheCreationInputTokens > stats.CacheCreationInputTokens {
				stats.CacheCreationInputTokens = m.CacheCreationInputTokens
			}
			if m.ContextWindow > stats.ContextWindow {
				stats.ContextWindow = m.ContextWindow
			}
		}
	} else if flat != nil {
		stats.InputTokens = flat.InputTokens
		stats.OutputTokens = flat.OutputTokens
		stats.CacheReadInputTokens = flat.CacheReadInputTokens
		stats.CacheCreationInputTokens = flat.CacheCreationInputTokens
	}
	if stats.ContextWindow == 0 {
		stats.ContextWindow = schema.DefaultContextWindow
	}
	return stats
}

// AggregatePayload is Aggregate applied to a decoded payload.
func AggregatePayload(p Payload) schema.UsageStats {
	return Aggregate(p.ModelUsage, p.Usage, p.TotalCostUSD)
}

func anyModelActive(modelUsage map[string]schema.ModelStats) bool {
	for _, m := range modelUsage {
		if m.InputTokens+m.OutputTokens > 0 {
			return true
		}
	}
	return false
}
