package quota

import (
	"testing"
	"time"

	"github.com/j-veylop/openrouter-monitor/internal/models"
)

func upstreamStatus(isFree bool, totalCredits, totalUsage float64) *models.UpstreamStatus {
	return &models.UpstreamStatus{
		Key:       models.KeyInfo{IsFreeTier: isFree},
		Credits:   models.Credits{TotalCredits: totalCredits, TotalUsage: totalUsage},
		FetchedAt: time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC),
	}
}

func TestEstimate_Usage(t *testing.T) {
	snap := Estimate("sk-or-v1-0123456789abcdef", upstreamStatus(true, 15, 1.5))

	if snap.Usage.CreditsUsed != 1.5 {
		t.Errorf("CreditsUsed = %v, want 1.5", snap.Usage.CreditsUsed)
	}
	if snap.Usage.RemainingCredits != 13.5 {
		t.Errorf("RemainingCredits = %v, want 13.5", snap.Usage.RemainingCredits)
	}
	if snap.APIKeyMasked != "sk-or-v1****cdef" {
		t.Errorf("APIKeyMasked = %q", snap.APIKeyMasked)
	}
	if !snap.Tier.IsFree || snap.Tier.Name != models.TierFree {
		t.Errorf("Tier = %+v, want free", snap.Tier)
	}
}

func TestEstimate_ClampsNegativeRemaining(t *testing.T) {
	snap := Estimate("k", upstreamStatus(true, 5, 7))

	if snap.Usage.RemainingCredits != 0 {
		t.Errorf("RemainingCredits = %v, want 0 (clamped)", snap.Usage.RemainingCredits)
	}
	if snap.Usage.CreditsUsed != 7 {
		t.Errorf("CreditsUsed = %v, want 7 (not rewritten)", snap.Usage.CreditsUsed)
	}
}

func TestEstimate_DailyLimit(t *testing.T) {
	tests := []struct {
		name         string
		isFree       bool
		totalCredits float64
		wantLimit    int
		unlimited    bool
	}{
		{name: "boosted free tier", isFree: true, totalCredits: 15, wantLimit: 1000},
		{name: "base free tier", isFree: true, totalCredits: 5, wantLimit: 50},
		{name: "paid tier", isFree: false, totalCredits: 50, unlimited: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := Estimate("k", upstreamStatus(tt.isFree, tt.totalCredits, 0))

			if tt.unlimited {
				if snap.DailyLimit.Limit != nil {
					t.Errorf("Limit = %v, want nil", *snap.DailyLimit.Limit)
				}
				return
			}
			if snap.DailyLimit.Limit == nil || *snap.DailyLimit.Limit != tt.wantLimit {
				t.Errorf("Limit = %v, want %d", snap.DailyLimit.Limit, tt.wantLimit)
			}
			if snap.DailyLimit.Used != nil {
				t.Error("daily Used must stay nil without a local overlay")
			}
		})
	}
}

func TestEstimate_DailyResetAtMidnight(t *testing.T) {
	snap := Estimate("k", upstreamStatus(true, 0, 0))

	want := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	if !snap.DailyLimit.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", snap.DailyLimit.ResetAt, want)
	}
}

func TestEstimate_RateLimitDefaults(t *testing.T) {
	snap := Estimate("k", upstreamStatus(true, 0, 0))

	if snap.RateLimit.Limit != DefaultRateLimit {
		t.Errorf("Limit = %d, want %d", snap.RateLimit.Limit, DefaultRateLimit)
	}
	if snap.RateLimit.HasRealTimeData {
		t.Error("HasRealTimeData should be false without headers")
	}
	if snap.RateLimit.Used != nil || snap.RateLimit.Remaining != nil {
		t.Error("Used/Remaining must be nil without real-time counters")
	}
	if snap.Health.Status != models.HealthHealthy || snap.Health.Percentage != 0 {
		t.Errorf("Health = %+v, want healthy at 0%%", snap.Health)
	}
}

func TestEstimate_AdvertisedRateLimit(t *testing.T) {
	up := upstreamStatus(true, 0, 0)
	up.Key.RateLimit = &models.KeyRateLimit{Requests: 40, Interval: "10s"}

	snap := Estimate("k", up)
	if snap.RateLimit.Limit != 40 {
		t.Errorf("Limit = %d, want 40", snap.RateLimit.Limit)
	}
	want := up.FetchedAt.Add(10 * time.Second)
	if !snap.RateLimit.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", snap.RateLimit.ResetAt, want)
	}
}

func TestEstimate_RealTimeHeaders(t *testing.T) {
	up := upstreamStatus(true, 0, 0)
	reset := up.FetchedAt.Add(42 * time.Second)
	up.RateHeaders = &models.RateHeaders{Limit: 20, Remaining: 3, ResetAt: reset}

	snap := Estimate("k", up)
	if !snap.RateLimit.HasRealTimeData {
		t.Fatal("HasRealTimeData should be true")
	}
	if snap.RateLimit.Used == nil || *snap.RateLimit.Used != 17 {
		t.Errorf("Used = %v, want 17", snap.RateLimit.Used)
	}
	if snap.RateLimit.Remaining == nil || *snap.RateLimit.Remaining != 3 {
		t.Errorf("Remaining = %v, want 3", snap.RateLimit.Remaining)
	}
	if snap.Health.Percentage != 85 {
		t.Errorf("Health.Percentage = %d, want 85", snap.Health.Percentage)
	}
	if snap.Health.Status != models.HealthWarning {
		t.Errorf("Health.Status = %v, want warning", snap.Health.Status)
	}
}

func TestEstimate_MonthlyLimit(t *testing.T) {
	up := upstreamStatus(false, 50, 0)
	limit := 100.0
	up.Key.Limit = &limit
	up.Key.Usage = 42.5

	snap := Estimate("k", up)
	if snap.MonthlyLimit.Used != 42.5 {
		t.Errorf("Used = %v, want 42.5", snap.MonthlyLimit.Used)
	}
	if snap.MonthlyLimit.Limit == nil || *snap.MonthlyLimit.Limit != 100 {
		t.Errorf("Limit = %v, want 100", snap.MonthlyLimit.Limit)
	}
	if snap.MonthlyLimit.Remaining == nil || *snap.MonthlyLimit.Remaining != 57.5 {
		t.Errorf("Remaining = %v, want 57.5", snap.MonthlyLimit.Remaining)
	}
	want := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if !snap.MonthlyLimit.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", snap.MonthlyLimit.ResetAt, want)
	}
}

func TestEstimate_MonthlyLimitUncapped(t *testing.T) {
	snap := Estimate("k", upstreamStatus(true, 0, 0))

	if snap.MonthlyLimit.Limit != nil || snap.MonthlyLimit.Remaining != nil {
		t.Errorf("uncapped key: Limit = %v, Remaining = %v, want both nil",
			snap.MonthlyLimit.Limit, snap.MonthlyLimit.Remaining)
	}
}

func TestNextMonthStart(t *testing.T) {
	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{
			time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC),
			time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC),
			time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		if got := NextMonthStart(tt.now); !got.Equal(tt.want) {
			t.Errorf("NextMonthStart(%v) = %v, want %v", tt.now, got, tt.want)
		}
	}
}

func TestClassifyPercent(t *testing.T) {
	tests := []struct {
		percentage int
		want       models.HealthLevel
	}{
		{0, models.HealthHealthy},
		{79, models.HealthHealthy},
		{80, models.HealthWarning},
		{94, models.HealthWarning},
		{95, models.HealthCritical},
		{100, models.HealthCritical},
	}

	for _, tt := range tests {
		if got := ClassifyPercent(tt.percentage); got != tt.want {
			t.Errorf("ClassifyPercent(%d) = %v, want %v", tt.percentage, got, tt.want)
		}
	}
}

func TestApplyLocalOverlay(t *testing.T) {
	snap := Estimate("k", upstreamStatus(true, 15, 1))
	limitBefore := *snap.DailyLimit.Limit
	resetBefore := snap.DailyLimit.ResetAt

	ApplyLocalOverlay(snap, models.TrackedQuota{
		Used: 12, Limit: 1000, Remaining: 988, Percentage: 1, Status: models.HealthHealthy,
	})

	if snap.DailyLimit.LocalTracked == nil || snap.DailyLimit.LocalTracked.Used != 12 {
		t.Fatalf("LocalTracked = %+v", snap.DailyLimit.LocalTracked)
	}
	// Overlay must not touch upstream-derived fields.
	if *snap.DailyLimit.Limit != limitBefore || !snap.DailyLimit.ResetAt.Equal(resetBefore) {
		t.Error("overlay modified upstream-sourced daily limit fields")
	}
	if snap.DailyLimit.Used != nil {
		t.Error("overlay must not populate the upstream Used field")
	}
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"10s", 10 * time.Second},
		{"1m", time.Minute},
		{"2h", 2 * time.Hour},
		{"1d", 24 * time.Hour},
		{"garbage", time.Minute},
		{"", time.Minute},
	}

	for _, tt := range tests {
		if got := ParseInterval(tt.input); got != tt.want {
			t.Errorf("ParseInterval(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
