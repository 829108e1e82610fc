// Package payments orchestrates the webhook pipeline: canonical event in,
// idempotency guard around the ledger/subscription effect, progression and
// gate reactions after commit.
package payments

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ascendhq/ascend/billing"
	"github.com/ascendhq/ascend/gate"
	"github.com/ascendhq/ascend/ledger"
	"github.com/ascendhq/ascend/models"
	"github.com/ascendhq/ascend/progression"
	"github.com/ascendhq/ascend/subscription"
	"github.com/ascendhq/ascend/utils"
)

// Result codes beyond the billing defaults.
const (
	ResultRefundUnmatched = "refund_unmatched"
)

// XP granted when a subscription first becomes active, keyed per lineage.
const subscribeXP = 50

// Processor applies canonical payment events exactly once.
type Processor struct {
	guard   *billing.Guard
	ledger  *ledger.Service
	subs    *subscription.Service
	prog    *progression.Service
	gate    *gate.Evaluator
	catalog *billing.Catalog

	purchaseXPPer100 int64
}

func NewProcessor(guard *billing.Guard, led *ledger.Service, subs *subscription.Service,
	prog *progression.Service, gt *gate.Evaluator, catalog *billing.Catalog, purchaseXPPer100 int64) *Processor {
	return &Processor{
		guard:            guard,
		ledger:           led,
		subs:             subs,
		prog:             prog,
		gate:             gt,
		catalog:          catalog,
		purchaseXPPer100: purchaseXPPer100,
	}
}

// Process applies one canonical event. Duplicate deliveries return the
// originally recorded result; transient failures return an error so the
// webhook handler responds non-2xx and the provider retries.
func (p *Processor) Process(ctx context.Context, ev *billing.PaymentEvent) (billing.Result, error) {
	var outcome *subscription.Outcome

	res, err := p.guard.ApplyOnce(ctx, ev, func(tx *gorm.DB) (string, error) {
		switch ev.Type {
		case billing.EventCoinPurchase:
			product, ok := p.catalog.Lookup(ev.ProductRef)
			if !ok {
				return "", fmt.Errorf("coin purchase %s: unknown product ref %q", ev.ProviderTxID, ev.ProductRef)
			}
			src := sourceRef(ev)
			_, err := p.ledger.AwardTx(tx, ev.AccountID, product.Coins, models.CoinReasonPurchase, &src)
			return billing.ResultApplied, err

		case billing.EventRefund:
			return p.applyRefundTx(tx, ev)

		default:
			product, _ := p.catalog.Lookup(ev.ProductRef)
			out, err := p.subs.ApplyTx(tx, ev, product)
			if errors.Is(err, subscription.ErrInvalidTransition) {
				// Anomaly: the event is impossible from the current state.
				// Record it and acknowledge; re-delivery cannot help.
				utils.Sugar.Warnf("subscription anomaly for account %d: %v (provider=%s tx=%s)",
					ev.AccountID, err, ev.Provider, ev.ProviderTxID)
				return billing.ResultInvalidTransition, nil
			}
			if err != nil {
				return "", err
			}
			outcome = out
			return billing.ResultApplied, nil
		}
	})
	if err != nil {
		return res, err
	}

	// Reactions also run for duplicate deliveries: a crash between the
	// guard's commit and the reactions leaves them unrun, and the
	// provider's retry arrives as a duplicate. Every reaction is
	// source-keyed, so re-running is a no-op when the first delivery
	// already completed them.
	p.react(ctx, ev, outcome, res)
	return res, nil
}

// applyRefundTx reverses a previously applied payment. A coin refund debits
// the purchased coins; if the account has already spent them the refund is
// recorded without a balance change rather than forcing a negative balance.
// Subscription refunds only flip the payment row; the status change arrives
// as the provider's own cancellation event.
func (p *Processor) applyRefundTx(tx *gorm.DB, ev *billing.PaymentEvent) (string, error) {
	if ev.RefTxID == "" {
		// An empty reference would match rows that carry no payment ref.
		utils.Sugar.Warnf("refund %s carries no transaction reference", ev.ProviderTxID)
		return ResultRefundUnmatched, nil
	}
	// Providers reference the payment id (payment intent, transaction id)
	// when refunding; the notification id is matched as a fallback for
	// payments recorded before a payment ref existed.
	// Refund markers carry the same payment ref as the payment they
	// reverse and must not match here.
	var orig models.PaymentTransaction
	err := tx.Where("provider = ? AND event_type <> ? AND (provider_payment_ref = ? OR provider_tx_id = ?)",
		ev.Provider, string(billing.EventRefund), ev.RefTxID, ev.RefTxID).First(&orig).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Sugar.Warnf("refund %s references unknown transaction %s/%s", ev.ProviderTxID, ev.Provider, ev.RefTxID)
		return ResultRefundUnmatched, nil
	}
	if err != nil {
		return "", err
	}
	if orig.Status == models.PaymentStatusRefunded {
		return billing.ResultApplied, nil
	}

	code := billing.ResultApplied
	if orig.Kind == models.PaymentKindCoins {
		product, ok := p.catalog.Lookup(orig.ProductRef)
		if !ok {
			return "", fmt.Errorf("refund %s: unknown product ref %q", ev.ProviderTxID, orig.ProductRef)
		}
		src := sourceRef(ev)
		if _, err := p.ledger.SpendTx(tx, orig.AccountID, product.Coins, models.CoinReasonRefund, &src); err != nil {
			if !errors.Is(err, ledger.ErrInsufficientFunds) {
				return "", err
			}
			utils.Sugar.Warnf("refund %s: account %d already spent the refunded coins", ev.ProviderTxID, orig.AccountID)
			code = billing.ResultRefundUnapplied
		}
	}

	if err := tx.Model(&models.PaymentTransaction{}).Where("id = ?", orig.ID).
		Update("status", models.PaymentStatusRefunded).Error; err != nil {
		return "", err
	}
	return code, nil
}

// react runs the post-commit progression and gate effects. Each step is
// independently idempotent (source-keyed XP, unique achievement unlocks),
// so a failure here is logged and recovered by the next trigger instead of
// failing the already-committed webhook.
func (p *Processor) react(ctx context.Context, ev *billing.PaymentEvent, outcome *subscription.Outcome, res billing.Result) {
	if res.Code != billing.ResultApplied {
		return
	}

	switch ev.Type {
	case billing.EventCoinPurchase:
		if product, ok := p.catalog.Lookup(ev.ProductRef); ok && p.purchaseXPPer100 > 0 {
			if xp := product.Coins / 100 * p.purchaseXPPer100; xp > 0 {
				src := sourceRef(ev)
				if _, _, err := p.prog.AwardXP(ctx, ev.AccountID, xp, models.XPReasonPurchase, &src); err != nil {
					utils.Sugar.Warnf("purchase xp failed for account %d: %v", ev.AccountID, err)
				}
			}
		}
	case billing.EventRefund:
		// No progression effects.
		return
	default:
		p.gate.InvalidateAccount(ctx, ev.AccountID)
		utils.InvalidateByPrefix(subscription.CacheKeyPrefix(ev.AccountID))
		// A duplicate delivery carries no outcome; created/renewed/resumed
		// events that applied all leave the lineage active, and the award
		// is keyed per lineage, so attempting it again is safe.
		activated := outcome != nil && outcome.BecameActive
		if outcome == nil {
			switch ev.Type {
			case billing.EventSubscriptionCreated, billing.EventSubscriptionRenewed, billing.EventSubscriptionResumed:
				activated = true
			}
		}
		if activated {
			src := fmt.Sprintf("sub_active:%s:%s", ev.Provider, ev.ProviderSubID)
			if _, _, err := p.prog.AwardXP(ctx, ev.AccountID, subscribeXP, models.XPReasonSubscribed, &src); err != nil {
				utils.Sugar.Warnf("subscription xp failed for account %d: %v", ev.AccountID, err)
			}
		}
	}

	if _, err := p.prog.EvaluateAchievements(ctx, ev.AccountID); err != nil {
		utils.Sugar.Warnf("achievement evaluation failed for account %d: %v", ev.AccountID, err)
	}
}

func sourceRef(ev *billing.PaymentEvent) string {
	return fmt.Sprintf("%s:%s", ev.Provider, ev.ProviderTxID)
}
