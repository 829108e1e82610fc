// Package ledger owns the coin balance. Every mutation appends a
// CoinTransaction and updates the denormalized Account.CoinBalance in the
// same database transaction, serialized per account by a row lock; no other
// package writes the balance.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ascendhq/ascend/models"
	"github.com/ascendhq/ascend/utils"
)

var (
	// ErrInsufficientFunds is returned when a spend would take the balance
	// below zero. The spend is rejected, never clamped or partially applied.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrAccountFrozen is returned while an account awaits manual
	// reconciliation after a detected ledger mismatch.
	ErrAccountFrozen = errors.New("account frozen pending reconciliation")
	// ErrLedgerCorrupt indicates the materialized balance disagrees with the
	// latest ledger entry. It is never auto-corrected.
	ErrLedgerCorrupt = errors.New("ledger balance mismatch")
)

// Service is the coin ledger.
type Service struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Award credits amount coins and returns the new balance.
func (s *Service) Award(ctx context.Context, accountID uint, amount int64, reason string, sourceID *string) (int64, error) {
	return s.apply(ctx, accountID, amount, reason, sourceID)
}

// Spend debits amount coins and returns the new balance, or
// ErrInsufficientFunds without any partial effect.
func (s *Service) Spend(ctx context.Context, accountID uint, amount int64, reason string, sourceID *string) (int64, error) {
	return s.apply(ctx, accountID, -amount, reason, sourceID)
}

func (s *Service) apply(ctx context.Context, accountID uint, delta int64, reason string, sourceID *string) (int64, error) {
	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := s.applyTx(tx, accountID, delta, reason, sourceID)
		balance = b
		return err
	})
	if errors.Is(err, ErrLedgerCorrupt) {
		s.freeze(ctx, accountID)
	}
	return balance, err
}

// AwardTx credits inside an enclosing transaction (the webhook path, where
// the idempotency guard owns the transaction).
func (s *Service) AwardTx(tx *gorm.DB, accountID uint, amount int64, reason string, sourceID *string) (int64, error) {
	return s.applyTx(tx, accountID, amount, reason, sourceID)
}

// SpendTx debits inside an enclosing transaction.
func (s *Service) SpendTx(tx *gorm.DB, accountID uint, amount int64, reason string, sourceID *string) (int64, error) {
	return s.applyTx(tx, accountID, -amount, reason, sourceID)
}

// applyTx is the single mutation path: lock the account row, verify the
// projection against the latest ledger entry, append the entry and update
// the projection together.
func (s *Service) applyTx(tx *gorm.DB, accountID uint, delta int64, reason string, sourceID *string) (int64, error) {
	if delta == 0 {
		return 0, ErrInvalidAmount
	}

	var acct models.Account
	if err := utils.LockForUpdate(tx).First(&acct, accountID).Error; err != nil {
		return 0, fmt.Errorf("load account %d: %w", accountID, err)
	}
	if acct.Frozen {
		return acct.CoinBalance, ErrAccountFrozen
	}

	var last models.CoinTransaction
	err := tx.Where("account_id = ?", accountID).Order("id DESC").First(&last).Error
	switch {
	case err == nil:
		if last.BalanceAfter != acct.CoinBalance {
			return acct.CoinBalance, ErrLedgerCorrupt
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if acct.CoinBalance != 0 {
			return acct.CoinBalance, ErrLedgerCorrupt
		}
	default:
		return 0, err
	}

	newBalance := acct.CoinBalance + delta
	if newBalance < 0 {
		return acct.CoinBalance, ErrInsufficientFunds
	}

	entry := models.CoinTransaction{
		AccountID:    accountID,
		Delta:        delta,
		Reason:       reason,
		SourceID:     sourceID,
		BalanceAfter: newBalance,
	}
	if err := tx.Create(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) && sourceID != nil {
			// Source-keyed entry already applied; skip instead of
			// double-crediting.
			return acct.CoinBalance, nil
		}
		return 0, err
	}

	if err := tx.Model(&models.Account{}).Where("id = ?", accountID).
		Update("coin_balance", newBalance).Error; err != nil {
		return 0, err
	}
	return newBalance, nil
}

// freeze blocks further ledger writes for the account until manual
// reconciliation. Runs outside the failed transaction.
func (s *Service) freeze(ctx context.Context, accountID uint) {
	if err := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", accountID).Update("frozen", true).Error; err != nil {
		utils.Sugar.Errorf("failed to freeze account %d after ledger mismatch: %v", accountID, err)
		return
	}
	utils.Sugar.Errorf("account %d frozen: ledger balance mismatch detected", accountID)
}

// GetBalance returns the materialized balance, consistent with the latest
// committed ledger entry.
func (s *Service) GetBalance(ctx context.Context, accountID uint) (int64, error) {
	var acct models.Account
	if err := s.db.WithContext(ctx).Select("coin_balance").First(&acct, accountID).Error; err != nil {
		return 0, err
	}
	return acct.CoinBalance, nil
}

// Transactions lists the most recent ledger entries for an account.
func (s *Service) Transactions(ctx context.Context, accountID uint, limit int) ([]models.CoinTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var entries []models.CoinTransaction
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).
		Order("id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

// Replay recomputes the balance from the full ordered ledger. It is the
// recovery primitive: the projection must always be reconstructible this way.
func (s *Service) Replay(ctx context.Context, accountID uint) (int64, error) {
	var sum struct{ Total int64 }
	err := s.db.WithContext(ctx).Model(&models.CoinTransaction{}).
		Select("COALESCE(SUM(delta), 0) AS total").
		Where("account_id = ?", accountID).Scan(&sum).Error
	return sum.Total, err
}

// Rebuild restores the projection from the ledger and lifts the freeze.
// Manual reconciliation path only.
func (s *Service) Rebuild(ctx context.Context, accountID uint) (int64, error) {
	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acct models.Account
		if err := utils.LockForUpdate(tx).First(&acct, accountID).Error; err != nil {
			return err
		}
		var sum struct{ Total int64 }
		if err := tx.Model(&models.CoinTransaction{}).
			Select("COALESCE(SUM(delta), 0) AS total").
			Where("account_id = ?", accountID).Scan(&sum).Error; err != nil {
			return err
		}
		balance = sum.Total
		return tx.Model(&models.Account{}).Where("id = ?", accountID).
			Updates(map[string]interface{}{"coin_balance": balance, "frozen": false}).Error
	})
	return balance, err
}
