package schema

// DefaultContextWindow is assumed when a usage payload reports no
// context-window size.
const DefaultContextWindow = 200000

// ModelStats carries per-model token counters as reported by an agent.
type ModelStats struct {
	InputTokens              int `json:"inputTokens"`
	OutputTokens             int `json:"outputTokens"`
	CacheReadInputTokens     int `json:"cacheReadInputTokens"`
	CacheCreationInputTokens int `json:"cacheCreationInputTokens"`
	ContextWindow            int `json:"contextWindow"`
}

// FlatUsage is the legacy single-source usage shape.
type FlatUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

// UsageStats is the aggregated usage record kept per session.
type UsageStats struct {
	InputTokens              int     `json:"inputTokens"`
	OutputTokens             int     `json:"outputTokens"`
	CacheReadInputTokens     int     `json:"cacheReadInputTokens"`
	CacheCreationInputTokens int     `json:"cacheCreationInputTokens"`
	ContextWindow            int     `json:"contextWindow"`
	TotalCostUSD             float64 `json:"totalCostUsd"`
}
