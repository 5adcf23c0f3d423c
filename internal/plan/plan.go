// Package plan resolves per-account plan limits.
package plan

// Limits are the per-request caps of one plan tier.
type Limits struct {
	Tier string
	// MaxScanCost caps the credit cost of a single scan. Zero means no cap.
	MaxScanCost int64
}

// Allows reports whether a scan of the given cost fits the plan.
func (l Limits) Allows(cost int64) bool {
	return l.MaxScanCost == 0 || cost <= l.MaxScanCost
}

// Resolver maps an account to its plan limits.
type Resolver interface {
	Limits(accountID string) Limits
}

// StaticResolver resolves limits from fixed tier tables. Accounts not listed
// fall back to the default tier.
type StaticResolver struct {
	defaultTier string
	tiers       map[string]Limits
	accounts    map[string]string
}

// NewStaticResolver builds a resolver from tier definitions and an
// account->tier assignment table.
func NewStaticResolver(defaultTier string, tiers map[string]Limits, accounts map[string]string) *StaticResolver {
	return &StaticResolver{
		defaultTier: defaultTier,
		tiers:       tiers,
		accounts:    accounts,
	}
}

func (r *StaticResolver) Limits(accountID string) Limits {
	tier, ok := r.accounts[accountID]
	if !ok {
		tier = r.defaultTier
	}
	limits, ok := r.tiers[tier]
	if !ok {
		limits = r.tiers[r.defaultTier]
	}
	limits.Tier = tier
	return limits
}
