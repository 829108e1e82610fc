package progression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ascendhq/ascend/models"
	"github.com/ascendhq/ascend/utils"
)

// StreakResult reports the streak state after one activity.
type StreakResult struct {
	Streak      int  `json:"streak"`
	Longest     int  `json:"longest"`
	Incremented bool `json:"incremented"`
	FirstToday  bool `json:"first_today"`
}

const dateLayout = "2006-01-02"

// RecordActivity registers one qualifying activity and updates the streak.
// The streak moves at most once per calendar day; a gap beyond the reset
// window makes the next activity restart at 1 rather than continue. Both
// the activity row (unique per account/type/day) and the account update
// happen under the account row lock, so a duplicated domain event or a
// concurrent sweep cannot double-apply.
func (s *Service) RecordActivity(ctx context.Context, accountID uint, activityType string) (*StreakResult, error) {
	if activityType == "" {
		return nil, fmt.Errorf("activity type required")
	}

	now := time.Now()
	today := now.Format(dateLayout)
	var res StreakResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acct models.Account
		if err := utils.LockForUpdate(tx).First(&acct, accountID).Error; err != nil {
			return err
		}

		event := models.ActivityEvent{
			AccountID:    accountID,
			ActivityType: activityType,
			ActivityDate: today,
		}
		if err := tx.Create(&event).Error; err != nil {
			if !errors.Is(err, gorm.ErrDuplicatedKey) {
				return err
			}
			// Same activity already recorded today; the streak state
			// below is unchanged by a repeat.
		}

		streak := acct.StreakDays
		incremented := false
		switch {
		case acct.LastActiveAt == nil:
			streak = 1
			incremented = true
		case sameDay(*acct.LastActiveAt, now):
			// Already counted today.
		case now.Sub(*acct.LastActiveAt) <= s.cfg.StreakWindow:
			streak++
			incremented = true
		default:
			// Inactivity gap exceeded the reset window.
			streak = 1
			incremented = true
		}

		longest := acct.LongestStreak
		if streak > longest {
			longest = streak
		}

		checked, _ := time.Parse(dateLayout, today)
		if err := tx.Model(&models.Account{}).Where("id = ?", accountID).
			Updates(map[string]interface{}{
				"streak_days":         streak,
				"longest_streak":      longest,
				"last_active_at":      now,
				"streak_checked_date": checked,
			}).Error; err != nil {
			return err
		}

		res = StreakResult{
			Streak:      streak,
			Longest:     longest,
			Incremented: incremented,
			FirstToday:  acct.LastActiveAt == nil || !sameDay(*acct.LastActiveAt, now),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Post-commit reactions, each independently idempotent: daily activity
	// XP keyed by day, then achievement evaluation.
	if res.FirstToday && s.cfg.ActivityXP > 0 {
		src := fmt.Sprintf("day:%s", today)
		if _, _, err := s.AwardXP(ctx, accountID, s.cfg.ActivityXP, models.XPReasonActivity, &src); err != nil {
			utils.Sugar.Warnf("activity xp award failed for account %d: %v", accountID, err)
		}
	}
	if _, err := s.EvaluateAchievements(ctx, accountID); err != nil {
		utils.Sugar.Warnf("achievement evaluation failed for account %d: %v", accountID, err)
	}
	return &res, nil
}

// SweepStreaks zeroes streaks for accounts inactive beyond the reset window.
// It is a conditional update ("only if not already checked today"), so
// ordering between the sweep and live activity is irrelevant: live activity
// holds the row lock, stamps today's checked date, and recomputes the streak
// itself from the inactivity gap.
func (s *Service) SweepStreaks(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-s.cfg.StreakWindow)
	today, _ := time.Parse(dateLayout, now.Format(dateLayout))

	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("streak_days > 0 AND last_active_at < ? AND (streak_checked_date IS NULL OR streak_checked_date < ?)", cutoff, today).
		Updates(map[string]interface{}{
			"streak_days":         0,
			"streak_checked_date": today,
		})
	return res.RowsAffected, res.Error
}

// StartStreakSweeper launches the periodic sweep. Best-effort, logs failures.
func (s *Service) StartStreakSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		for {
			// Sleep first to avoid racing immediately at startup.
			time.Sleep(interval)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, err := s.SweepStreaks(ctx, time.Now())
			cancel()
			if err != nil {
				utils.Sugar.Warnf("streak sweep failed: %v", err)
				continue
			}
			if n > 0 {
				utils.Sugar.Infof("streak sweep reset %d stale streaks", n)
			}
		}
	}()
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
