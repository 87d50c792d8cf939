package models

import "time"

// AlertType distinguishes warning-level from alert-level threshold events.
type AlertType string

const (
	// AlertWarning is recorded when usage crosses the warn threshold.
	AlertWarning AlertType = "warning"
	// AlertCritical is recorded when usage crosses the alert threshold.
	AlertCritical AlertType = "alert"
)

// HistoryRecord is one persisted status observation. Records are immutable
// once written; only retention pruning or explicit clears remove them.
// The raw API key is never stored, only its truncated hash.
type HistoryRecord struct {
	ID               string          `json:"id"`
	Timestamp        time.Time       `json:"timestamp"`
	APIKeyHash       string          `json:"api_key_hash"`
	CreditsUsed      float64         `json:"credits_used"`
	CreditsLimit     float64         `json:"credits_limit"`
	RateUsed         int             `json:"rate_used"`
	RateLimit        int             `json:"rate_limit"`
	DailyUsed        int             `json:"daily_used"`
	DailyLimit       *int            `json:"daily_limit"`
	Tier             TierName        `json:"tier"`
	HealthStatus     HealthLevel     `json:"health_status"`
	HealthPercentage int             `json:"health_percentage"`
	Raw              *StatusSnapshot `json:"raw,omitempty"`
}

// AlertRecord is one persisted threshold-crossing event.
type AlertRecord struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	APIKeyHash string    `json:"api_key_hash"`
	Type       AlertType `json:"alert_type"`
	Message    string    `json:"message"`
	Threshold  int       `json:"threshold_value"`
	Actual     int       `json:"actual_value"`
}

// HistoryStatistics aggregates history and alert records over a window.
type HistoryStatistics struct {
	Records             int               `json:"records"`
	AvgCreditsUsed      float64           `json:"avgCreditsUsed"`
	MaxCreditsUsed      float64           `json:"maxCreditsUsed"`
	AvgHealthPercentage float64           `json:"avgHealthPercentage"`
	AlertsByType        map[AlertType]int `json:"alertsByType"`
	DailyTrend          []DailyTrendPoint `json:"dailyTrend"`
}

// DailyTrendPoint is one day's averaged history data, newest first in a trend.
type DailyTrendPoint struct {
	Date       string  `json:"date"`
	AvgCredits float64 `json:"avgCredits"`
	Records    int     `json:"records"`
}

// NewHistoryRecord flattens a snapshot into a HistoryRecord. The key hash
// must already be computed by the store; this only copies snapshot fields.
func NewHistoryRecord(id, keyHash string, snap *StatusSnapshot) HistoryRecord {
	rec := HistoryRecord{
		ID:               id,
		Timestamp:        snap.Timestamp,
		APIKeyHash:       keyHash,
		CreditsUsed:      snap.Usage.CreditsUsed,
		CreditsLimit:     snap.Usage.TotalCredits,
		RateLimit:        snap.RateLimit.Limit,
		DailyLimit:       snap.DailyLimit.Limit,
		Tier:             snap.Tier.Name,
		HealthStatus:     snap.Health.Status,
		HealthPercentage: snap.Health.Percentage,
		Raw:              snap,
	}
	if snap.RateLimit.Used != nil {
		rec.RateUsed = *snap.RateLimit.Used
	}
	if snap.DailyLimit.LocalTracked != nil {
		rec.DailyUsed = snap.DailyLimit.LocalTracked.Used
	}
	return rec
}
