package billing

import (
	"errors"
	"fmt"
	"time"
)

// Provider identifiers.
const (
	ProviderStripe   = "stripe"
	ProviderPaddle   = "paddle"
	ProviderAppStore = "appstore"
)

// EventType is the canonical billing notification type. Adapters translate
// every provider-specific shape into one of these; nothing downstream ever
// sees a provider payload.
type EventType string

const (
	EventCoinPurchase          EventType = "coin_purchase"
	EventSubscriptionCreated   EventType = "subscription_created"
	EventSubscriptionRenewed   EventType = "subscription_renewed"
	EventSubscriptionCancelled EventType = "subscription_cancelled"
	EventSubscriptionPaused    EventType = "subscription_paused"
	EventSubscriptionResumed   EventType = "subscription_resumed"
	EventPaymentFailed         EventType = "payment_failed"
	EventRefund                EventType = "refund"
)

// PaymentEvent is the provider-agnostic representation of one billing
// notification. (Provider, ProviderTxID) is the idempotency key.
type PaymentEvent struct {
	Provider      string
	ProviderTxID  string
	ProviderSubID string
	AccountID     uint
	Type          EventType
	Kind          string // models.PaymentKind*
	AmountMinor   int64
	Currency      string
	ProductRef    string
	PeriodEnd     *time.Time
	// PaymentRef is the provider's id for the underlying payment (Stripe
	// payment intent, Paddle transaction). Providers reference it, not the
	// notification id, when they later refund the payment.
	PaymentRef string
	// RefTxID is the PaymentRef of the payment a refund reverses.
	RefTxID string
}

// VerificationError reports a payload that failed authenticity or structural
// checks. No event is constructed and no effect occurs.
type VerificationError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s verification failed: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s verification failed: %s", e.Provider, e.Reason)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// IsVerificationError reports whether err is a VerificationError.
func IsVerificationError(err error) bool {
	var ve *VerificationError
	return errors.As(err, &ve)
}
