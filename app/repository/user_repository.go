package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/opalvpn/opald/app/models"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Upsert returns the user row for an external ID, creating it on first
// contact. A changed display name is written back best-effort.
func (r *userRepository) Upsert(externalID, name string) (*models.User, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, gorm.ErrRecordNotFound
	}

	var user models.User
	err := r.db.Where("external_id = ?", externalID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = models.User{ExternalID: externalID, Name: name}
		if errCreate := r.db.Create(&user).Error; errCreate != nil {
			if errors.Is(errCreate, gorm.ErrDuplicatedKey) {
				// Lost a first-contact race; the row exists now.
				err = r.db.Where("external_id = ?", externalID).First(&user).Error
				if err != nil {
					return nil, err
				}
				return &user, nil
			}
			return nil, errCreate
		}
		return &user, nil
	}
	if err != nil {
		return nil, err
	}

	if name != "" && user.Name != name {
		if errName := r.db.Model(&user).Update("name", name).Error; errName != nil {
			return nil, errName
		}
	}
	return &user, nil
}

// GetByExternalID retrieves a user by the platform-assigned ID.
func (r *userRepository) GetByExternalID(externalID string) (*models.User, error) {
	var user models.User
	err := r.db.Where("external_id = ?", externalID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByID retrieves a user by primary key.
func (r *userRepository) GetByID(id uint) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetBalance returns the current balance.
func (r *userRepository) GetBalance(userID uint) (int64, error) {
	var user models.User
	if err := r.db.Select("balance").First(&user, userID).Error; err != nil {
		return 0, err
	}
	return user.Balance, nil
}

// Debit subtracts amount under a row lock. Returns (false, nil) without
// mutation when the balance is short, so the ledger can never go negative.
func (r *userRepository) Debit(userID uint, amount int64) (bool, error) {
	ok := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var user models.User
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&user, userID).Error; errFind != nil {
			return errFind
		}
		if user.Balance < amount {
			return nil
		}
		if errUpdate := tx.Model(&user).
			Update("balance", gorm.Expr("balance - ?", amount)).Error; errUpdate != nil {
			return errUpdate
		}
		ok = true
		return nil
	})
	return ok, err
}

// Credit adds amount to an existing user under a row lock.
func (r *userRepository) Credit(userID uint, amount int64) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var user models.User
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&user, userID).Error; errFind != nil {
			return errFind
		}
		return tx.Model(&user).
			Update("balance", gorm.Expr("balance + ?", amount)).Error
	})
}

// CreditByExternalID upserts the user row and credits it, returning the new
// balance.
func (r *userRepository) CreditByExternalID(externalID string, amount int64) (int64, error) {
	user, err := r.Upsert(externalID, "")
	if err != nil {
		return 0, err
	}
	if err := r.Credit(user.ID, amount); err != nil {
		return 0, err
	}
	return r.GetBalance(user.ID)
}
