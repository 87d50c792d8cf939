// Package models defines data structures and domain types.
package models

import "time"

// HealthLevel classifies how close current usage is to a limit.
type HealthLevel string

const (
	// HealthHealthy indicates usage is comfortably below all limits.
	HealthHealthy HealthLevel = "healthy"
	// HealthWarning indicates usage has crossed the warning threshold.
	HealthWarning HealthLevel = "warning"
	// HealthCritical indicates usage has crossed the critical threshold.
	HealthCritical HealthLevel = "critical"
	// HealthUnknown indicates health could not be determined.
	HealthUnknown HealthLevel = "unknown"
)

// TierName identifies the account tier reported by OpenRouter.
type TierName string

const (
	// TierFree is the free account tier.
	TierFree TierName = "Free"
	// TierPaid is the paid account tier.
	TierPaid TierName = "Paid"
)

// StatusSnapshot is one point-in-time computed status for an API key.
// It combines upstream credit/tier data with locally derived limit estimates.
type StatusSnapshot struct {
	Timestamp    time.Time            `json:"timestamp"`
	APIKeyMasked string               `json:"apiKey"`
	Usage        CreditUsage          `json:"usage"`
	Tier         Tier                 `json:"tier"`
	RateLimit    RateLimitEstimate    `json:"rateLimit"`
	DailyLimit   DailyLimitEstimate   `json:"dailyLimit"`
	MonthlyLimit MonthlyLimitEstimate `json:"monthlyLimit"`
	Health       Health               `json:"health"`
}

// CreditUsage summarizes the account's credit balance.
type CreditUsage struct {
	CreditsUsed      float64 `json:"creditsUsed"`
	TotalCredits     float64 `json:"totalCredits"`
	RemainingCredits float64 `json:"remainingCredits"`
	Unlimited        bool    `json:"unlimited"`
	Note             string  `json:"note,omitempty"`
}

// Tier describes the account classification.
type Tier struct {
	IsFree bool     `json:"isFree"`
	Name   TierName `json:"name"`
}

// RateLimitEstimate is the per-minute request ceiling view.
// Used and Remaining are only populated when upstream supplied real-time
// counters via response headers; otherwise both are nil and
// HasRealTimeData is false.
type RateLimitEstimate struct {
	Used            *int      `json:"used"`
	Limit           int       `json:"limit"`
	Remaining       *int      `json:"remaining"`
	ResetAt         time.Time `json:"resetAt"`
	Interval        string    `json:"interval,omitempty"`
	HasRealTimeData bool      `json:"hasRealTimeData"`
}

// DailyLimitEstimate is the policy-derived per-day request ceiling.
// Limit is nil for paid (unlimited) accounts. Used is never populated from
// upstream; LocalTracked carries the only concrete daily usage number.
type DailyLimitEstimate struct {
	Limit        *int          `json:"limit"`
	Used         *int          `json:"used"`
	ResetAt      time.Time     `json:"resetAt"`
	Note         string        `json:"note,omitempty"`
	LocalTracked *TrackedQuota `json:"localTracked,omitempty"`
}

// MonthlyLimitEstimate is the credit-cap view over the key's monthly
// window. Limit and Remaining are nil for keys without a credit cap.
type MonthlyLimitEstimate struct {
	Used      float64   `json:"used"`
	Limit     *float64  `json:"limit"`
	Remaining *float64  `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// Health is the derived health classification for a snapshot.
type Health struct {
	Status     HealthLevel `json:"status"`
	Percentage int         `json:"percentage"`
	Message    string      `json:"message"`
}

// TrackedQuota is the daily-quota overlay computed purely from the local
// request counter, independent of upstream data.
type TrackedQuota struct {
	Used       int         `json:"used"`
	Limit      int         `json:"limit"`
	Remaining  int         `json:"remaining"`
	Percentage int         `json:"percentage"`
	Status     HealthLevel `json:"status"`
}

// LimitAnalysis is a derived risk assessment over a snapshot's limits.
type LimitAnalysis struct {
	RiskLevel       string   `json:"riskLevel"`
	Recommendations []string `json:"recommendations"`
}

// MaskAPIKey returns a display-safe form of an API key. Keys shorter than
// 12 characters are fully masked.
func MaskAPIKey(key string) string {
	if len(key) < 12 {
		return "****"
	}
	return key[:8] + "****" + key[len(key)-4:]
}
