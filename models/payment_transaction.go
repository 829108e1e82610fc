package models

import "time"

// Payment transaction kinds.
const (
	PaymentKindSubscription = "subscription"
	PaymentKindCoins        = "coins"
	PaymentKindItem         = "item"
)

// Payment transaction statuses. A row is created as applied and only ever
// flips to refunded as a terminal correction.
const (
	PaymentStatusApplied  = "applied"
	PaymentStatusRefunded = "refunded"
)

// PaymentTransaction records one distinct provider event. The composite
// unique index on (provider, provider_tx_id) is the idempotency anchor:
// the row is inserted in the same database transaction as the event's
// ledger/subscription effect, so a duplicate delivery either blocks behind
// the first or fails the insert and reads the recorded result instead.
type PaymentTransaction struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Provider     string `gorm:"size:20;not null;index:ux_payment_tx_provider_tx,unique,priority:1;index:ix_payment_tx_payment_ref,priority:1" json:"provider"`
	ProviderTxID string `gorm:"size:191;not null;index:ux_payment_tx_provider_tx,unique,priority:2" json:"provider_tx_id"`
	// ProviderPaymentRef is the provider's payment id (payment intent,
	// transaction id). Refund events reference this, not the notification
	// id, so refund matching reads it.
	ProviderPaymentRef string `gorm:"size:191;index:ix_payment_tx_payment_ref,priority:2" json:"provider_payment_ref"`
	AccountID          uint   `gorm:"not null;index" json:"account_id"`
	Kind         string `gorm:"size:16;not null" json:"kind"`
	EventType    string `gorm:"size:32;not null" json:"event_type"`
	AmountMinor  int64  `gorm:"not null;default:0" json:"amount_minor"`
	Currency     string `gorm:"size:8" json:"currency"`
	ProductRef   string `gorm:"size:191" json:"product_ref"`
	Status       string `gorm:"size:16;not null;default:'applied'" json:"status"`
	// ResultCode is the recorded outcome replayed to duplicate deliveries.
	ResultCode string    `gorm:"size:64" json:"result_code"`
	AppliedAt  time.Time `gorm:"autoCreateTime" json:"applied_at"`
}
