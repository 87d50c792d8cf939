package quota

import (
	"testing"

	"github.com/j-veylop/openrouter-monitor/internal/models"
)

func TestAnalyze_LowRiskByDefault(t *testing.T) {
	snap := Estimate("k", upstreamStatus(true, 15, 1))

	analysis := Analyze(snap)
	if analysis.RiskLevel != RiskLow {
		t.Errorf("RiskLevel = %q, want %q", analysis.RiskLevel, RiskLow)
	}
	if len(analysis.Recommendations) != 0 {
		t.Errorf("unexpected recommendations: %v", analysis.Recommendations)
	}
}

func TestAnalyze_HighRateUsage(t *testing.T) {
	up := upstreamStatus(true, 15, 1)
	up.RateHeaders = &models.RateHeaders{Limit: 20, Remaining: 2}

	analysis := Analyze(Estimate("k", up))
	if analysis.RiskLevel != RiskHigh {
		t.Errorf("RiskLevel = %q, want %q", analysis.RiskLevel, RiskHigh)
	}
	if len(analysis.Recommendations) != 1 {
		t.Errorf("recommendations = %v, want exactly one", analysis.Recommendations)
	}
}

func TestAnalyze_HighDailyUsage(t *testing.T) {
	snap := Estimate("k", upstreamStatus(true, 5, 0))
	ApplyLocalOverlay(snap, models.TrackedQuota{
		Used: 45, Limit: 50, Remaining: 5, Percentage: 90, Status: models.HealthWarning,
	})

	analysis := Analyze(snap)
	if analysis.RiskLevel != RiskHigh {
		t.Errorf("RiskLevel = %q, want %q", analysis.RiskLevel, RiskHigh)
	}
}
