package models

import "time"

// XP reasons.
const (
	XPReasonActivity    = "activity"
	XPReasonPurchase    = "coin_purchase"
	XPReasonAchievement = "achievement_reward"
	XPReasonSubscribed  = "subscription_active"
)

// XPTransaction is an append-only XP log entry. Level is never stored as an
// independently mutable counter; it is recomputed from the cumulative total
// on every write. Source-keyed entries dedup the same way coin entries do.
type XPTransaction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AccountID uint      `gorm:"not null;index;index:ux_xp_tx_source,unique,priority:1" json:"account_id"`
	Delta     int64     `gorm:"not null" json:"delta"`
	Reason    string    `gorm:"size:32;not null;index:ux_xp_tx_source,unique,priority:2" json:"reason"`
	SourceID  *string   `gorm:"size:191;index:ux_xp_tx_source,unique,priority:3" json:"source_id,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
