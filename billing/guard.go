package billing

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/ascendhq/ascend/models"
)

// Result codes recorded on the payment transaction row and replayed to
// duplicate deliveries.
const (
	ResultApplied           = "applied"
	ResultInvalidTransition = "invalid_transition"
	ResultRefundUnapplied   = "refund_coins_unavailable"
)

// Result is the recorded outcome of applying one provider event.
type Result struct {
	Code      string
	Duplicate bool
	TxID      uint
}

// Effect runs inside the same database transaction as the idempotency
// marker insert. It returns the result code to record.
type Effect func(tx *gorm.DB) (string, error)

// Guard applies each distinct (provider, providerTxID) pair exactly once.
// The marker insert and the effect share one transaction bounded by the
// unique index on the pair, so there is no window in which a duplicate
// delivery can be re-applied: a concurrent duplicate either blocks behind
// the winner's row lock and then fails the insert, or fails it immediately,
// and in both cases reads the committed result instead of re-running.
type Guard struct {
	db *gorm.DB
}

func NewGuard(db *gorm.DB) *Guard {
	return &Guard{db: db}
}

// ApplyOnce runs effect exactly once for the event's idempotency key. A
// replayed delivery returns the originally recorded result without side
// effects.
func (g *Guard) ApplyOnce(ctx context.Context, ev *PaymentEvent, effect Effect) (Result, error) {
	var rec models.PaymentTransaction
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec = models.PaymentTransaction{
			Provider:           ev.Provider,
			ProviderTxID:       ev.ProviderTxID,
			ProviderPaymentRef: ev.PaymentRef,
			AccountID:          ev.AccountID,
			Kind:               ev.Kind,
			EventType:          string(ev.Type),
			AmountMinor:        ev.AmountMinor,
			Currency:           ev.Currency,
			ProductRef:         ev.ProductRef,
			Status:             models.PaymentStatusApplied,
		}
		// Insert the marker first so a concurrent duplicate serializes
		// against this transaction.
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		code, err := effect(tx)
		if err != nil {
			return err
		}
		rec.ResultCode = code
		return tx.Model(&models.PaymentTransaction{}).Where("id = ?", rec.ID).
			Update("result_code", code).Error
	})
	if err == nil {
		return Result{Code: rec.ResultCode, TxID: rec.ID}, nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost the insert race or received a replay: read the committed
		// result rather than erroring.
		var prior models.PaymentTransaction
		if lookupErr := g.db.WithContext(ctx).
			Where("provider = ? AND provider_tx_id = ?", ev.Provider, ev.ProviderTxID).
			First(&prior).Error; lookupErr != nil {
			return Result{}, lookupErr
		}
		return Result{Code: prior.ResultCode, Duplicate: true, TxID: prior.ID}, nil
	}
	return Result{}, err
}

// Lookup returns the recorded transaction for an idempotency key, if any.
func (g *Guard) Lookup(ctx context.Context, provider, providerTxID string) (*models.PaymentTransaction, error) {
	var rec models.PaymentTransaction
	err := g.db.WithContext(ctx).
		Where("provider = ? AND provider_tx_id = ?", provider, providerTxID).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
