package quota

import "github.com/j-veylop/openrouter-monitor/internal/models"

// analysis risk levels
const (
	RiskLow  = "low"
	RiskHigh = "high"
)

// Analyze inspects a snapshot's limits and reports elevated-usage risks
// with recommendations. Only limits with a concrete usage number are
// considered: the rate limit when real-time counters were present, and the
// daily limit when the local overlay is attached.
func Analyze(snap *models.StatusSnapshot) models.LimitAnalysis {
	analysis := models.LimitAnalysis{
		RiskLevel:       RiskLow,
		Recommendations: []string{},
	}

	if snap.RateLimit.Used != nil && snap.RateLimit.Limit > 0 {
		if float64(*snap.RateLimit.Used)/float64(snap.RateLimit.Limit) > 0.8 {
			analysis.RiskLevel = RiskHigh
			analysis.Recommendations = append(analysis.Recommendations,
				"request rate is near the per-minute ceiling; slow down or wait for the window to reset")
		}
	}

	if lt := snap.DailyLimit.LocalTracked; lt != nil && lt.Limit > 0 {
		if float64(lt.Used)/float64(lt.Limit) > 0.8 {
			analysis.RiskLevel = RiskHigh
			analysis.Recommendations = append(analysis.Recommendations,
				"today's request quota is nearly exhausted; defer bulk requests until tomorrow")
		}
	}

	return analysis
}
