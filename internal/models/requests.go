package models

// RequestStats summarizes locally tracked request counts over a window of
// calendar days ending today.
type RequestStats struct {
	TotalDays      int            `json:"totalDays"`
	TotalRequests  int            `json:"totalRequests"`
	DailyBreakdown map[string]int `json:"dailyBreakdown"`
	AveragePerDay  int            `json:"averagePerDay"`
}

// DayStats is a per-key and per-model breakdown of one day's requests.
type DayStats struct {
	Date          string         `json:"date"`
	TotalRequests int            `json:"totalRequests"`
	ByKey         map[string]int `json:"apiKeys"`
	ByModel       map[string]int `json:"models"`
}
