// Package testutil provides the shared in-memory database fixture for
// package tests. Tests run against SQLite; the production schema migrates
// cleanly because the models avoid MySQL-only column types.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ascendhq/ascend/models"
	"github.com/ascendhq/ascend/utils"
)

var dbSeq atomic.Int64

// NewDB opens a fresh named in-memory SQLite database and migrates the full
// schema. SQLite is a single-writer engine, so the pool is capped at one
// connection; concurrent test goroutines serialize there instead of fighting
// over table locks.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	if utils.Logger == nil {
		utils.Logger = zap.NewNop()
		utils.Sugar = utils.Logger.Sugar()
	}

	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared&_busy_timeout=5000", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(
		&models.Account{},
		&models.PaymentTransaction{},
		&models.CoinTransaction{},
		&models.Subscription{},
		&models.XPTransaction{},
		&models.Achievement{},
		&models.UnlockedAchievement{},
		&models.ActivityEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// NewAccount inserts an account with the given starting coin balance. A
// nonzero balance gets a matching ledger entry so the projection stays
// consistent with the log.
func NewAccount(t *testing.T, db *gorm.DB, balance int64) *models.Account {
	t.Helper()

	acct := models.Account{
		Username:           fmt.Sprintf("acct%d", dbSeq.Add(1)),
		Tier:               models.TierFree,
		SubscriptionStatus: models.SubStatusNone,
		CoinBalance:        balance,
		Level:              1,
		Active:             true,
	}
	if err := db.Create(&acct).Error; err != nil {
		t.Fatalf("create account: %v", err)
	}
	if balance != 0 {
		entry := models.CoinTransaction{
			AccountID:    acct.ID,
			Delta:        balance,
			Reason:       models.CoinReasonPurchase,
			BalanceAfter: balance,
		}
		if err := db.Create(&entry).Error; err != nil {
			t.Fatalf("seed ledger entry: %v", err)
		}
	}
	return &acct
}
