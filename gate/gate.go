// Package gate is the read-side feature authorization check: subscription
// tier against a static requirement table, plus usage counters for
// count-limited features. It has no side effects on domain state.
package gate

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ascendhq/ascend/models"
)

// Deny reasons.
const (
	ReasonTierRequired    = "tier_required"
	ReasonLimitReached    = "limit_reached"
	ReasonAccountInactive = "account_inactive"
	ReasonUnknownFeature  = "unknown_feature"
)

// Decision is the outcome of one gate check.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	Tier      string `json:"tier"`
	Remaining int64  `json:"remaining,omitempty"`
}

// Feature is one gated capability. DailyLimit maps tier to the allowed uses
// per day; a missing tier or a 0 means unlimited for that tier.
type Feature struct {
	Key        string
	MinTier    string
	DailyLimit map[string]int64
}

// DefaultFeatures is the shipped gate table.
func DefaultFeatures() map[string]Feature {
	return map[string]Feature{
		"goals.unlimited": {Key: "goals.unlimited", MinTier: models.TierPlus},
		"coach.daily": {Key: "coach.daily", MinTier: models.TierFree,
			DailyLimit: map[string]int64{models.TierFree: 3, models.TierPlus: 25}},
		"insights.weekly":  {Key: "insights.weekly", MinTier: models.TierPlus},
		"habits.reminders": {Key: "habits.reminders", MinTier: models.TierFree,
			DailyLimit: map[string]int64{models.TierFree: 10}},
		"teams.shared": {Key: "teams.shared", MinTier: models.TierPro},
	}
}

// TierCache caches an account's tier between subscription transitions. The
// subscription path invalidates it on every committed transition, so a gate
// check never reflects a stale tier.
type TierCache interface {
	Get(ctx context.Context, accountID uint) (string, bool)
	Set(ctx context.Context, accountID uint, tier string, ttl time.Duration)
	Invalidate(ctx context.Context, accountID uint)
}

// UsageStore reads and bumps per-feature daily usage counters. The counters
// are owned by the application callers via RecordUse, not by the gate logic.
type UsageStore interface {
	Count(ctx context.Context, accountID uint, featureKey, date string) (int64, error)
	Incr(ctx context.Context, accountID uint, featureKey, date string) (int64, error)
}

// Evaluator answers CanUse.
type Evaluator struct {
	db       *gorm.DB
	features map[string]Feature
	tiers    TierCache
	usage    UsageStore
	tierTTL  time.Duration
}

func NewEvaluator(db *gorm.DB, features map[string]Feature, tiers TierCache, usage UsageStore) *Evaluator {
	return &Evaluator{db: db, features: features, tiers: tiers, usage: usage, tierTTL: 5 * time.Minute}
}

// CanUse authorizes one feature for one account against the latest committed
// subscription state.
func (e *Evaluator) CanUse(ctx context.Context, accountID uint, featureKey string) (Decision, error) {
	feature, ok := e.features[featureKey]
	if !ok {
		return Decision{Allowed: false, Reason: ReasonUnknownFeature}, nil
	}

	tier, active, err := e.tierFor(ctx, accountID)
	if err != nil {
		return Decision{}, err
	}
	if !active {
		return Decision{Allowed: false, Reason: ReasonAccountInactive, Tier: tier}, nil
	}
	if models.TierRank(tier) < models.TierRank(feature.MinTier) {
		return Decision{Allowed: false, Reason: ReasonTierRequired, Tier: tier}, nil
	}

	limit := feature.DailyLimit[tier]
	if limit <= 0 {
		return Decision{Allowed: true, Tier: tier}, nil
	}

	used, err := e.usage.Count(ctx, accountID, featureKey, today())
	if err != nil {
		return Decision{}, err
	}
	if used >= limit {
		return Decision{Allowed: false, Reason: ReasonLimitReached, Tier: tier}, nil
	}
	return Decision{Allowed: true, Tier: tier, Remaining: limit - used}, nil
}

// RecordUse bumps the usage counter for a count-limited feature and returns
// the new count.
func (e *Evaluator) RecordUse(ctx context.Context, accountID uint, featureKey string) (int64, error) {
	return e.usage.Incr(ctx, accountID, featureKey, today())
}

// InvalidateAccount drops the cached tier; called after every committed
// subscription transition.
func (e *Evaluator) InvalidateAccount(ctx context.Context, accountID uint) {
	e.tiers.Invalidate(ctx, accountID)
}

func (e *Evaluator) tierFor(ctx context.Context, accountID uint) (string, bool, error) {
	if tier, ok := e.tiers.Get(ctx, accountID); ok {
		return tier, true, nil
	}
	var acct models.Account
	if err := e.db.WithContext(ctx).Select("tier", "active").First(&acct, accountID).Error; err != nil {
		return "", false, fmt.Errorf("load account %d: %w", accountID, err)
	}
	if !acct.Active {
		return acct.Tier, false, nil
	}
	e.tiers.Set(ctx, accountID, acct.Tier, e.tierTTL)
	return acct.Tier, true, nil
}

func today() string {
	return time.Now().Format("2006-01-02")
}
