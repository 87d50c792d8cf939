// Package quota derives a unified status snapshot from upstream account
// data. The upstream API does not expose live usage counters, so most of
// this is best-effort estimation from tier, credits and optional
// rate-limit headers.
package quota

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/j-veylop/openrouter-monitor/internal/logger"
	"github.com/j-veylop/openrouter-monitor/internal/models"
)

const (
	// DefaultRateLimit is the documented free-tier request ceiling used
	// when upstream does not advertise one.
	DefaultRateLimit = 20

	// DefaultRateInterval is the window for DefaultRateLimit.
	DefaultRateInterval = "60s"
)

var intervalRe = regexp.MustCompile(`^(\d+)([smhd])$`)

// Estimate combines upstream key and credit data into a status snapshot.
// It is a pure function of its inputs apart from falling back to the
// current time when the fetch time is missing.
func Estimate(apiKey string, up *models.UpstreamStatus) *models.StatusSnapshot {
	now := up.FetchedAt
	if now.IsZero() {
		now = time.Now()
	}

	usage := estimateUsage(up)
	tier := estimateTier(up.Key)
	rate := estimateRateLimit(up, now)
	daily := estimateDailyLimit(tier.IsFree, up.Credits.TotalCredits, now)

	return &models.StatusSnapshot{
		Timestamp:    now,
		APIKeyMasked: models.MaskAPIKey(apiKey),
		Usage:        usage,
		Tier:         tier,
		RateLimit:    rate,
		DailyLimit:   daily,
		MonthlyLimit: estimateMonthlyLimit(up.Key, now),
		Health:       estimateHealth(rate),
	}
}

// ApplyLocalOverlay attaches the locally tracked daily quota view to a
// snapshot. The overlay never overwrites upstream-sourced fields; it only
// adds the adjunct view.
func ApplyLocalOverlay(snap *models.StatusSnapshot, tracked models.TrackedQuota) {
	snap.DailyLimit.LocalTracked = &tracked
}

func estimateUsage(up *models.UpstreamStatus) models.CreditUsage {
	total := up.Credits.TotalCredits
	used := up.Credits.TotalUsage

	remaining := total - used
	if remaining < 0 {
		// Upstream anomaly: usage exceeding purchased credits. Clamp and
		// log rather than propagating a negative balance.
		logger.Warn("upstream reported negative remaining credits",
			"total", total, "used", used)
		remaining = 0
	}

	return models.CreditUsage{
		CreditsUsed:      used,
		TotalCredits:     total,
		RemainingCredits: remaining,
		Unlimited:        up.Key.Limit == nil,
		Note:             creditsNote(up.Key.IsFreeTier, total, remaining),
	}
}

func estimateTier(key models.KeyInfo) models.Tier {
	if key.IsFreeTier {
		return models.Tier{IsFree: true, Name: models.TierFree}
	}
	return models.Tier{IsFree: false, Name: models.TierPaid}
}

// estimateRateLimit prefers real-time counters from response headers; when
// they are absent it falls back to the advertised (or documented default)
// ceiling with unknown usage.
func estimateRateLimit(up *models.UpstreamStatus, now time.Time) models.RateLimitEstimate {
	if rh := up.RateHeaders; rh != nil {
		used := rh.Limit - rh.Remaining
		if used < 0 {
			used = 0
		}
		remaining := rh.Remaining
		resetAt := rh.ResetAt
		if resetAt.IsZero() {
			resetAt = now.Add(time.Minute)
		}
		return models.RateLimitEstimate{
			Used:            &used,
			Limit:           rh.Limit,
			Remaining:       &remaining,
			ResetAt:         resetAt,
			HasRealTimeData: true,
		}
	}

	limit := DefaultRateLimit
	interval := DefaultRateInterval
	if rl := up.Key.RateLimit; rl != nil {
		if rl.Requests > 0 {
			limit = rl.Requests
		}
		if rl.Interval != "" {
			interval = rl.Interval
		}
	}

	return models.RateLimitEstimate{
		Limit:    limit,
		Interval: interval,
		ResetAt:  now.Add(ParseInterval(interval)),
	}
}

func estimateDailyLimit(isFree bool, totalCredits float64, now time.Time) models.DailyLimitEstimate {
	est := models.DailyLimitEstimate{
		ResetAt: NextMidnight(now),
		Note:    dailyLimitNote(isFree, totalCredits),
	}
	if limit, ok := DailyRequestLimit(isFree, totalCredits); ok {
		est.Limit = &limit
	}
	return est
}

// estimateMonthlyLimit is the credit-cap view: usage against the key's
// configured credit limit, resetting at the next calendar month.
func estimateMonthlyLimit(key models.KeyInfo, now time.Time) models.MonthlyLimitEstimate {
	est := models.MonthlyLimitEstimate{
		Used:    key.Usage,
		Limit:   key.Limit,
		ResetAt: NextMonthStart(now),
	}
	if key.Limit != nil {
		remaining := *key.Limit - key.Usage
		est.Remaining = &remaining
	}
	return est
}

// estimateHealth derives the health block from the primary (rate) limit.
// Without real-time counters there is nothing to measure, so the snapshot
// reports healthy at 0%.
func estimateHealth(rate models.RateLimitEstimate) models.Health {
	percentage := 0
	if rate.Used != nil && rate.Limit > 0 {
		percentage = percentOf(*rate.Used, rate.Limit)
	}

	status := ClassifyPercent(percentage)
	return models.Health{
		Status:     status,
		Percentage: percentage,
		Message:    healthMessage(status, percentage),
	}
}

// ClassifyPercent maps a usage percentage onto a health level:
// >=95 critical, >=80 warning, otherwise healthy.
func ClassifyPercent(percentage int) models.HealthLevel {
	switch {
	case percentage >= 95:
		return models.HealthCritical
	case percentage >= 80:
		return models.HealthWarning
	default:
		return models.HealthHealthy
	}
}

func percentOf(used, limit int) int {
	return int(float64(used)/float64(limit)*100 + 0.5)
}

func healthMessage(status models.HealthLevel, percentage int) string {
	switch status {
	case models.HealthHealthy:
		return fmt.Sprintf("operating normally (%d%% used)", percentage)
	case models.HealthWarning:
		return fmt.Sprintf("usage elevated (%d%%), keep an eye on it", percentage)
	case models.HealthCritical:
		return fmt.Sprintf("usage critical (%d%%), action required", percentage)
	default:
		return "status unknown"
	}
}

func creditsNote(isFree bool, totalCredits, remaining float64) string {
	if !isFree {
		return fmt.Sprintf("$%.2f remaining (paid account)", remaining)
	}
	if totalCredits >= boostCreditThreshold {
		return fmt.Sprintf("$%.2f remaining (free tier, 10+ credits purchased)", remaining)
	}
	return fmt.Sprintf("$%.2f remaining (free tier, purchase 10 credits to raise limits)", remaining)
}

func dailyLimitNote(isFree bool, totalCredits float64) string {
	if !isFree {
		return "paid account, no daily request limit"
	}
	if totalCredits >= boostCreditThreshold {
		return "1000 requests/day (10+ credits purchased)"
	}
	return "50 requests/day until 10 credits purchased"
}

// ParseInterval parses upstream interval strings like "10s", "1m" or "1h".
// Unparseable values fall back to one minute.
func ParseInterval(interval string) time.Duration {
	m := intervalRe.FindStringSubmatch(interval)
	if m == nil {
		return time.Minute
	}

	value, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Minute
	}

	switch m[2] {
	case "s":
		return time.Duration(value) * time.Second
	case "m":
		return time.Duration(value) * time.Minute
	case "h":
		return time.Duration(value) * time.Hour
	case "d":
		return time.Duration(value) * 24 * time.Hour
	default:
		return time.Minute
	}
}

// NextMidnight returns the start of the next calendar day in now's location.
func NextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

// NextMonthStart returns the first instant of the next calendar month in
// now's location.
func NextMonthStart(now time.Time) time.Time {
	y, m, _ := now.Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, now.Location())
}
