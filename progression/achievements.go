package progression

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ascendhq/ascend/models"
	"github.com/ascendhq/ascend/utils"
)

// defaultAchievements is the shipped catalog. Criteria targets are plain
// thresholds; for tier_reached the target is the tier rank.
var defaultAchievements = []models.Achievement{
	{Code: "streak_3", Title: "Warming Up", Tier: 1, CriteriaKind: models.CriteriaStreakDays, CriteriaTarget: 3, RewardCoins: 25, RewardXP: 20},
	{Code: "streak_7", Title: "One Solid Week", Tier: 1, CriteriaKind: models.CriteriaStreakDays, CriteriaTarget: 7, RewardCoins: 75, RewardXP: 50},
	{Code: "streak_30", Title: "Habit Formed", Tier: 2, CriteriaKind: models.CriteriaStreakDays, CriteriaTarget: 30, RewardCoins: 400, RewardXP: 250},
	{Code: "active_10", Title: "Getting Into It", Tier: 1, CriteriaKind: models.CriteriaActivityCount, CriteriaTarget: 10, RewardCoins: 50, RewardXP: 30},
	{Code: "active_100", Title: "Regular", Tier: 2, CriteriaKind: models.CriteriaActivityCount, CriteriaTarget: 100, RewardCoins: 300, RewardXP: 200},
	{Code: "xp_1000", Title: "Climbing", Tier: 2, CriteriaKind: models.CriteriaXPTotal, CriteriaTarget: 1000, RewardCoins: 100, RewardXP: 0},
	{Code: "spender_500", Title: "Shopper", Tier: 1, CriteriaKind: models.CriteriaCoinSpendTotal, CriteriaTarget: 500, RewardCoins: 0, RewardXP: 100},
	{Code: "member_plus", Title: "Plus Member", Tier: 2, CriteriaKind: models.CriteriaTierReached, CriteriaTarget: 1, RewardCoins: 200, RewardXP: 100},
	{Code: "member_pro", Title: "Pro Member", Tier: 3, CriteriaKind: models.CriteriaTierReached, CriteriaTarget: 2, RewardCoins: 500, RewardXP: 250},
}

// SeedAchievements inserts the default catalog when the table is empty.
func SeedAchievements(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.Achievement{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return db.Create(&defaultAchievements).Error
}

// EvaluateAchievements unlocks every achievement whose criteria are newly
// satisfied and grants its rewards. The unlock insert is guarded by the
// (account, achievement) unique index, so a duplicate trigger unlocks and
// rewards at most once; the rewards themselves go through the ledger/XP
// paths keyed by the achievement code, so a crash between unlock and reward
// is recovered by re-running the evaluation.
func (s *Service) EvaluateAchievements(ctx context.Context, accountID uint) ([]models.Achievement, error) {
	var acct models.Account
	if err := s.db.WithContext(ctx).First(&acct, accountID).Error; err != nil {
		return nil, err
	}

	var catalog []models.Achievement
	if err := s.db.WithContext(ctx).Find(&catalog).Error; err != nil {
		return nil, err
	}

	var unlocked []models.Achievement
	for i := range catalog {
		a := catalog[i]
		ok, err := s.satisfied(ctx, &acct, &a)
		if err != nil {
			return unlocked, err
		}
		if !ok {
			continue
		}

		row := models.UnlockedAchievement{AccountID: accountID, AchievementID: a.ID}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Already unlocked by an earlier trigger; rewards below
				// are keyed and re-run harmlessly.
			} else {
				return unlocked, err
			}
		} else {
			unlocked = append(unlocked, a)
			utils.Sugar.Infof("account %d unlocked achievement %s", accountID, a.Code)
		}

		src := fmt.Sprintf("achievement:%s", a.Code)
		if a.RewardCoins > 0 {
			if _, err := s.ledger.Award(ctx, accountID, a.RewardCoins, models.CoinReasonAchievement, &src); err != nil {
				return unlocked, err
			}
		}
		if a.RewardXP > 0 {
			if _, _, err := s.AwardXP(ctx, accountID, a.RewardXP, models.XPReasonAchievement, &src); err != nil {
				return unlocked, err
			}
		}
	}
	return unlocked, nil
}

// satisfied evaluates one achievement's criteria against current state.
func (s *Service) satisfied(ctx context.Context, acct *models.Account, a *models.Achievement) (bool, error) {
	switch a.CriteriaKind {
	case models.CriteriaStreakDays:
		return int64(acct.LongestStreak) >= a.CriteriaTarget, nil
	case models.CriteriaXPTotal:
		return acct.XPTotal >= a.CriteriaTarget, nil
	case models.CriteriaTierReached:
		return int64(models.TierRank(acct.Tier)) >= a.CriteriaTarget, nil
	case models.CriteriaCoinSpendTotal:
		var sum struct{ Total int64 }
		err := s.db.WithContext(ctx).Model(&models.CoinTransaction{}).
			Select("COALESCE(SUM(-delta), 0) AS total").
			Where("account_id = ? AND delta < 0 AND reason = ?", acct.ID, models.CoinReasonSpend).
			Scan(&sum).Error
		return sum.Total >= a.CriteriaTarget, err
	case models.CriteriaActivityCount:
		var count int64
		err := s.db.WithContext(ctx).Model(&models.ActivityEvent{}).
			Where("account_id = ?", acct.ID).Count(&count).Error
		return count >= a.CriteriaTarget, err
	default:
		return false, nil
	}
}

// GetAchievements lists the account's unlocked achievements, newest first.
func (s *Service) GetAchievements(ctx context.Context, accountID uint) ([]models.UnlockedAchievement, error) {
	var rows []models.UnlockedAchievement
	err := s.db.WithContext(ctx).Preload("Achievement").
		Where("account_id = ?", accountID).
		Order("unlocked_at DESC").Find(&rows).Error
	return rows, err
}
