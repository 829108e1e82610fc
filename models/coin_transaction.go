package models

import "time"

// Coin ledger reasons.
const (
	CoinReasonPurchase    = "purchase"
	CoinReasonSpend       = "spend"
	CoinReasonRefund      = "refund"
	CoinReasonAchievement = "achievement_reward"
)

// CoinTransaction is an append-only ledger entry. BalanceAfter of the most
// recent entry for an account must equal the account's CoinBalance, and the
// ordered deltas must sum to it from zero.
//
// The unique index on (account_id, reason, source_id) makes source-keyed
// awards replay-safe: re-running a reward for the same source skips instead
// of double-crediting. Rows without a source are unaffected (NULLs do not
// collide in a unique index).
type CoinTransaction struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AccountID    uint      `gorm:"not null;index;index:ux_coin_tx_source,unique,priority:1" json:"account_id"`
	Delta        int64     `gorm:"not null" json:"delta"`
	Reason       string    `gorm:"size:32;not null;index:ux_coin_tx_source,unique,priority:2" json:"reason"`
	SourceID     *string   `gorm:"size:191;index:ux_coin_tx_source,unique,priority:3" json:"source_id,omitempty"`
	BalanceAfter int64     `gorm:"not null" json:"balance_after"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
