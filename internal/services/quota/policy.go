package quota

// Free-tier daily request caps documented by OpenRouter. These are fixed
// business knowledge about the upstream service, not derived from any API
// field: accounts that have purchased at least 10 credits get the boosted
// cap, everyone else on the free tier gets the base cap, and paid accounts
// have no daily request limit.
const (
	boostCreditThreshold = 10

	freeTierDailyLimit        = 50
	freeTierDailyLimitBoosted = 1000
)

// DailyRequestLimit returns the policy-derived daily request cap for an
// account. ok is false for paid accounts, which are unlimited.
func DailyRequestLimit(isFree bool, totalCredits float64) (limit int, ok bool) {
	if !isFree {
		return 0, false
	}
	if totalCredits >= boostCreditThreshold {
		return freeTierDailyLimitBoosted, true
	}
	return freeTierDailyLimit, true
}
