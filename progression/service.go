// Package progression owns XP, level, streak and achievement state. It
// reads ledger and subscription state to decide effects, and writes only
// the XP/achievement/streak tables; coin rewards go through the ledger.
package progression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ascendhq/ascend/ledger"
	"github.com/ascendhq/ascend/models"
	"github.com/ascendhq/ascend/utils"
)

// ErrInvalidAmount is returned for non-positive XP amounts.
var ErrInvalidAmount = errors.New("xp amount must be positive")

// Config carries the product parameters. The threshold table and the streak
// reset window are deployment configuration, not structural constants.
type Config struct {
	Levels       Levels
	StreakWindow time.Duration
	ActivityXP   int64
}

// Service is the progression engine.
type Service struct {
	db     *gorm.DB
	ledger *ledger.Service
	cfg    Config
}

func New(db *gorm.DB, led *ledger.Service, cfg Config) *Service {
	return &Service{db: db, ledger: led, cfg: cfg}
}

// AwardXP appends an XP entry and rederives the level from the cumulative
// total. Returns the new total and level.
func (s *Service) AwardXP(ctx context.Context, accountID uint, amount int64, reason string, sourceID *string) (int64, int, error) {
	var total int64
	var level int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, l, err := s.AwardXPTx(tx, accountID, amount, reason, sourceID)
		total, level = t, l
		return err
	})
	return total, level, err
}

// AwardXPTx is the in-transaction form used when a caller already owns the
// transaction. Source-keyed awards replay safely: the unique index on
// (account, reason, source) turns a re-run into a skip.
func (s *Service) AwardXPTx(tx *gorm.DB, accountID uint, amount int64, reason string, sourceID *string) (int64, int, error) {
	if amount <= 0 {
		return 0, 0, ErrInvalidAmount
	}

	var acct models.Account
	if err := utils.LockForUpdate(tx).First(&acct, accountID).Error; err != nil {
		return 0, 0, fmt.Errorf("load account %d: %w", accountID, err)
	}

	entry := models.XPTransaction{
		AccountID: accountID,
		Delta:     amount,
		Reason:    reason,
		SourceID:  sourceID,
	}
	if err := tx.Create(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) && sourceID != nil {
			return acct.XPTotal, acct.Level, nil
		}
		return 0, 0, err
	}

	total := acct.XPTotal + amount
	level := s.cfg.Levels.LevelFor(total)
	err := tx.Model(&models.Account{}).Where("id = ?", accountID).
		Updates(map[string]interface{}{"xp_total": total, "level": level}).Error
	if err != nil {
		return 0, 0, err
	}
	return total, level, nil
}

// Summary is the read model for the progression API.
type Summary struct {
	XPTotal       int64  `json:"xp_total"`
	Level         int    `json:"level"`
	NextLevelXP   int64  `json:"next_level_xp"`
	StreakDays    int    `json:"streak_days"`
	LongestStreak int    `json:"longest_streak"`
	Tier          string `json:"tier"`
}

// GetSummary returns the account's progression snapshot.
func (s *Service) GetSummary(ctx context.Context, accountID uint) (*Summary, error) {
	var acct models.Account
	if err := s.db.WithContext(ctx).First(&acct, accountID).Error; err != nil {
		return nil, err
	}
	return &Summary{
		XPTotal:       acct.XPTotal,
		Level:         s.cfg.Levels.LevelFor(acct.XPTotal),
		NextLevelXP:   s.cfg.Levels.NextThreshold(acct.XPTotal),
		StreakDays:    acct.StreakDays,
		LongestStreak: acct.LongestStreak,
		Tier:          acct.Tier,
	}, nil
}
