package subscription

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ascendhq/ascend/billing"
	"github.com/ascendhq/ascend/models"
	"github.com/ascendhq/ascend/utils"
)

// Outcome describes a committed transition for post-commit reactions
// (achievement evaluation, gate cache invalidation).
type Outcome struct {
	From         string
	To           string
	Tier         string
	BecameActive bool
	Ended        bool
}

// Service applies canonical events to subscription state. All transitions
// run inside the idempotency guard's transaction and hold the account row
// lock, so subscription updates and the account projection cannot diverge.
type Service struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Service {
	return &Service{db: db}
}

// CacheKey is the Redis key for an account's cached subscription read model.
// Writers invalidate with CacheKeyPrefix after every committed transition.
func CacheKey(accountID uint) string {
	return CacheKeyPrefix(accountID) + "current"
}

// CacheKeyPrefix ends with a separator so invalidating account 1 cannot
// touch keys for account 12.
func CacheKeyPrefix(accountID uint) string {
	return fmt.Sprintf("sub:%d:", accountID)
}

// ApplyTx drives one transition inside an enclosing transaction. product
// carries the tier/cycle for creation events; it may be zero for lifecycle
// events that do not change the plan.
func (s *Service) ApplyTx(tx *gorm.DB, ev *billing.PaymentEvent, product billing.Product) (*Outcome, error) {
	var acct models.Account
	if err := utils.LockForUpdate(tx).First(&acct, ev.AccountID).Error; err != nil {
		return nil, err
	}

	var sub models.Subscription
	err := tx.Where("provider = ? AND provider_sub_id = ?", ev.Provider, ev.ProviderSubID).
		First(&sub).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		sub = models.Subscription{
			AccountID:     ev.AccountID,
			Provider:      ev.Provider,
			ProviderSubID: ev.ProviderSubID,
			Status:        models.SubStatusNone,
		}
	case err != nil:
		return nil, err
	}

	next, err := Transition(sub.Status, ev.Type)
	if err != nil {
		return nil, err
	}

	out := &Outcome{From: sub.Status, To: next}
	out.BecameActive = next == models.SubStatusActive && sub.Status != models.SubStatusActive
	out.Ended = next == models.SubStatusCancelled

	if product.Tier != "" {
		sub.Tier = product.Tier
	}
	if product.Cycle != "" {
		sub.BillingCycle = product.Cycle
	}
	if ev.ProductRef != "" {
		sub.PlanRef = ev.ProductRef
	}
	sub.Status = next
	if ev.PeriodEnd != nil {
		sub.CurrentPeriodEnd = ev.PeriodEnd
	}

	if ev.Type == billing.EventSubscriptionCreated {
		// A new lineage supersedes any previous one for the account.
		if err := tx.Model(&models.Subscription{}).
			Where("account_id = ? AND provider_sub_id <> ? AND superseded = ?", ev.AccountID, ev.ProviderSubID, false).
			Update("superseded", true).Error; err != nil {
			return nil, err
		}
	}

	if err := tx.Save(&sub).Error; err != nil {
		return nil, err
	}

	// Account projection: tier follows the subscription while it still
	// entitles access (active, grace period, pause, pending cancellation);
	// terminal states drop to free.
	tier := sub.Tier
	switch next {
	case models.SubStatusCancelled, models.SubStatusNone:
		tier = models.TierFree
	}
	out.Tier = tier

	updates := map[string]interface{}{
		"tier":                tier,
		"subscription_status": next,
	}
	if sub.CurrentPeriodEnd != nil {
		updates["current_period_end"] = sub.CurrentPeriodEnd
	}
	if err := tx.Model(&models.Account{}).Where("id = ?", ev.AccountID).
		Updates(updates).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the account's current (non-superseded, most recent)
// subscription; a zero-value "none" subscription when the account never
// subscribed.
func (s *Service) Get(ctx context.Context, accountID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND superseded = ?", accountID, false).
		Order("updated_at DESC").First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.Subscription{
			AccountID: accountID,
			Tier:      models.TierFree,
			Status:    models.SubStatusNone,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
