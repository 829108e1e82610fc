package models

import "time"

// Achievement criteria kinds.
const (
	CriteriaCoinSpendTotal = "coin_spend_total"
	CriteriaStreakDays     = "streak_days"
	CriteriaTierReached    = "tier_reached"
	CriteriaXPTotal        = "xp_total"
	CriteriaActivityCount  = "activity_count"
)

// Achievement is static catalog data seeded at boot.
type Achievement struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Code         string `gorm:"size:64;uniqueIndex;not null" json:"code"`
	Title        string `gorm:"size:128;not null" json:"title"`
	Tier         int    `gorm:"not null;default:1" json:"tier"`
	CriteriaKind string `gorm:"size:32;not null" json:"criteria_kind"`
	// CriteriaTarget holds the threshold; for tier_reached it is the tier rank.
	CriteriaTarget int64     `gorm:"not null" json:"criteria_target"`
	RewardCoins    int64     `gorm:"not null;default:0" json:"reward_coins"`
	RewardXP       int64     `gorm:"not null;default:0" json:"reward_xp"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// UnlockedAchievement is created at most once per (account, achievement) and
// immutable once created. The composite unique index enforces the at-most-once
// guarantee under duplicate triggers.
type UnlockedAchievement struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	AccountID     uint      `gorm:"not null;index:ux_unlocked_account_achievement,unique,priority:1" json:"account_id"`
	AchievementID uint      `gorm:"not null;index:ux_unlocked_account_achievement,unique,priority:2" json:"achievement_id"`
	UnlockedAt    time.Time `gorm:"autoCreateTime" json:"unlocked_at"`

	Achievement *Achievement `gorm:"foreignKey:AchievementID" json:"achievement,omitempty"`
}
