package models

import "time"

// KeyInfo is the relevant subset of the OpenRouter /auth/key response.
type KeyInfo struct {
	Label      string        `json:"label"`
	Usage      float64       `json:"usage"`
	Limit      *float64      `json:"limit"`
	IsFreeTier bool          `json:"is_free_tier"`
	RateLimit  *KeyRateLimit `json:"rate_limit"`
}

// KeyRateLimit is the advertised rate-limit block in the /auth/key response.
type KeyRateLimit struct {
	Requests int    `json:"requests"`
	Interval string `json:"interval"`
}

// Credits is the relevant subset of the OpenRouter /credits response.
type Credits struct {
	TotalCredits float64 `json:"total_credits"`
	TotalUsage   float64 `json:"total_usage"`
}

// RateHeaders holds real-time rate-limit counters when upstream included
// them in response headers. Their presence is the only authoritative signal
// for current-window usage.
type RateHeaders struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// UpstreamStatus merges the two upstream responses for one fetch.
type UpstreamStatus struct {
	Key         KeyInfo
	Credits     Credits
	RateHeaders *RateHeaders
	FetchedAt   time.Time
}
