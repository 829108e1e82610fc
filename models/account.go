package models

import (
	"time"

	"gorm.io/gorm"
)

// Subscription tiers, ordered. TierRank gives the ordering used by
// tier-gated checks.
const (
	TierFree = "free"
	TierPlus = "plus"
	TierPro  = "pro"
)

// TierRank maps a tier name to its position in the upgrade order.
// Unknown tiers rank as free.
func TierRank(tier string) int {
	switch tier {
	case TierPlus:
		return 1
	case TierPro:
		return 2
	default:
		return 0
	}
}

// Account owns one coin balance, one subscription status, one XP total and
// the streak counters. CoinBalance, XPTotal and Level are denormalized
// projections of the append-only logs and are only written together with the
// corresponding log row, inside the same transaction.
type Account struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Username     string `gorm:"size:64;uniqueIndex;not null" json:"username"`
	Email        string `gorm:"size:255" json:"email"`
	PasswordHash string `gorm:"size:255" json:"-"`

	CoinBalance int64 `gorm:"not null;default:0" json:"coin_balance"`

	Tier               string     `gorm:"size:16;not null;default:'free'" json:"tier"`
	SubscriptionStatus string     `gorm:"size:16;not null;default:'none'" json:"subscription_status"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end"`

	XPTotal int64 `gorm:"not null;default:0" json:"xp_total"`
	Level   int   `gorm:"not null;default:1" json:"level"`

	StreakDays        int        `gorm:"not null;default:0" json:"streak_days"`
	LongestStreak     int        `gorm:"not null;default:0" json:"longest_streak"`
	LastActiveAt      *time.Time `json:"last_active_at"`
	StreakCheckedDate *time.Time `json:"-"`

	// Ledger writes are refused for frozen accounts until the ledger is
	// manually reconciled.
	Frozen bool `gorm:"not null;default:false" json:"-"`
	Active bool `gorm:"not null;default:true" json:"active"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	return nil
}

func (a *Account) BeforeUpdate(tx *gorm.DB) error {
	a.UpdatedAt = time.Now()
	return nil
}
