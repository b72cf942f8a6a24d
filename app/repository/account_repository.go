package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/opalvpn/opald/app/models"
)

// accountRepository implements the AccountRepository interface
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository instance
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

// InsertActive inserts the account in a transaction that re-validates the
// capacity ceiling at commit time. The locking read over the target's
// active rows serializes concurrent inserts for the same target (InnoDB
// next-key locks block phantom inserts into the locked range), so the
// earlier unlocked pre-check can be stale without ever admitting a row over
// capacity. Trial accounts additionally consume the user's one-shot trial
// flag under the user row lock.
func (r *accountRepository) InsertActive(acc *models.Account, capacity int) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var activeIDs []uint
		if errCount := tx.Model(&models.Account{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("target_code = ? AND status = ?", acc.TargetCode, models.AccountStatusActive).
			Pluck("id", &activeIDs).Error; errCount != nil {
			return errCount
		}
		if capacity > 0 && len(activeIDs) >= capacity {
			return ErrCapacityReached
		}

		if acc.Kind == models.AccountKindTrial {
			var user models.User
			if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&user, acc.UserID).Error; errFind != nil {
				return errFind
			}
			if user.TrialUsed {
				return ErrTrialAlreadyUsed
			}
			if errFlag := tx.Model(&user).Update("trial_used", true).Error; errFlag != nil {
				return errFlag
			}
		}

		acc.Status = models.AccountStatusActive
		acc.ActiveSecret = &acc.Secret
		if errCreate := tx.Create(acc).Error; errCreate != nil {
			if errors.Is(errCreate, gorm.ErrDuplicatedKey) {
				return ErrDuplicateSecret
			}
			return errCreate
		}
		return nil
	})
}

// ExtendActive locks the account row first and the user row second (the
// same order InsertActive uses) and applies the debit and the expiry
// extension as one unit. A lapsed-but-unswept account extends from now, not
// from the stale expiry.
func (r *accountRepository) ExtendActive(secret string, callerID uint, requireOwner bool, days int, price int64) (time.Time, error) {
	var newExpiry time.Time
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var acc models.Account
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("active_secret = ? AND status = ?", secret, models.AccountStatusActive).
			First(&acc).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrAccountNotActive
			}
			return errFind
		}
		if acc.Kind == models.AccountKindTrial {
			return ErrTrialAccount
		}
		if requireOwner && acc.UserID != callerID {
			return ErrNotOwner
		}

		if price > 0 {
			var user models.User
			if errUser := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&user, acc.UserID).Error; errUser != nil {
				return errUser
			}
			if user.Balance < price {
				return ErrInsufficientFunds
			}
			if errDebit := tx.Model(&user).
				Update("balance", gorm.Expr("balance - ?", price)).Error; errDebit != nil {
				return errDebit
			}
		}

		base := acc.ExpiresAt
		if now := time.Now().UTC(); base.Before(now) {
			base = now
		}
		newExpiry = base.AddDate(0, 0, days)
		return tx.Model(&acc).Update("expires_at", newExpiry).Error
	})
	if err != nil {
		return time.Time{}, err
	}
	return newExpiry, nil
}

// MarkInactive performs the guarded active -> terminal transition. The
// status predicate makes it a no-op for rows another path already closed,
// which is what lets the sweeper race renewals and itself safely.
func (r *accountRepository) MarkInactive(secret, status, reason string) (bool, error) {
	now := time.Now().UTC()
	res := r.db.Model(&models.Account{}).
		Where("active_secret = ? AND status = ?", secret, models.AccountStatusActive).
		Updates(map[string]interface{}{
			"status":        status,
			"active_secret": nil,
			"revoked_at":    &now,
			"revoke_reason": reason,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetActiveBySecret retrieves the active account holding the secret.
func (r *accountRepository) GetActiveBySecret(secret string) (*models.Account, error) {
	var acc models.Account
	err := r.db.Where("active_secret = ? AND status = ?", secret, models.AccountStatusActive).
		First(&acc).Error
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// ActiveSecretExists reports whether any active account holds the secret.
func (r *accountRepository) ActiveSecretExists(secret string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Account{}).
		Where("active_secret = ? AND status = ?", secret, models.AccountStatusActive).
		Count(&count).Error
	return count > 0, err
}

// CountActiveByTarget returns the live capacity usage for a target.
func (r *accountRepository) CountActiveByTarget(code string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Account{}).
		Where("target_code = ? AND status = ?", code, models.AccountStatusActive).
		Count(&count).Error
	return count, err
}

// ListActiveByUser returns the caller's active accounts, newest first.
func (r *accountRepository) ListActiveByUser(userID uint) ([]models.Account, error) {
	var accounts []models.Account
	err := r.db.Where("user_id = ? AND status = ?", userID, models.AccountStatusActive).
		Order("created_at DESC").
		Find(&accounts).Error
	return accounts, err
}

// ListActive returns up to limit active accounts, newest first.
func (r *accountRepository) ListActive(limit int) ([]models.Account, error) {
	var accounts []models.Account
	q := r.db.Where("status = ?", models.AccountStatusActive).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&accounts).Error
	return accounts, err
}

// ListExpired returns active accounts whose expiry instant has passed.
func (r *accountRepository) ListExpired(now time.Time) ([]models.Account, error) {
	var accounts []models.Account
	err := r.db.Where("status = ? AND expires_at <= ?", models.AccountStatusActive, now).
		Find(&accounts).Error
	return accounts, err
}

// CountCreatedSince counts accounts created at or after since, optionally
// scoped to one user. Backs the provisioning statistics.
func (r *accountRepository) CountCreatedSince(userID *uint, since time.Time) (int64, error) {
	var count int64
	q := r.db.Model(&models.Account{}).Where("created_at >= ?", since)
	if userID != nil {
		q = q.Where("user_id = ?", *userID)
	}
	err := q.Count(&count).Error
	return count, err
}
