package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/opalvpn/opald/app/models"
)

// invoiceRepository implements the InvoiceRepository interface
type invoiceRepository struct {
	db *gorm.DB
}

// NewInvoiceRepository creates a new invoice repository instance
func NewInvoiceRepository(db *gorm.DB) InvoiceRepository {
	return &invoiceRepository{db: db}
}

// Create persists a new pending invoice.
func (r *invoiceRepository) Create(inv *models.Invoice) error {
	return r.db.Create(inv).Error
}

// GetByOrderID retrieves an invoice by its gateway-facing order ID.
func (r *invoiceRepository) GetByOrderID(orderID string) (*models.Invoice, error) {
	var inv models.Invoice
	err := r.db.Where("order_id = ?", orderID).First(&inv).Error
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// MarkPaidAndCredit locks the invoice row, performs the pending->paid
// transition and credits the owner in the same transaction. The locked
// status check is the idempotency boundary: a replayed confirmation finds
// the row already paid and returns credited=false without touching the
// balance. Crediting without marking paid, or the reverse, cannot happen
// because both writes commit or roll back together.
func (r *invoiceRepository) MarkPaidAndCredit(orderID string) (bool, *models.Invoice, error) {
	credited := false
	var result models.Invoice
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var inv models.Invoice
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ?", orderID).
			First(&inv).Error; errFind != nil {
			return errFind
		}
		result = inv
		if inv.Status == models.InvoiceStatusPaid {
			return nil
		}

		now := time.Now().UTC()
		if errPaid := tx.Model(&inv).Updates(map[string]interface{}{
			"status":  models.InvoiceStatusPaid,
			"paid_at": &now,
		}).Error; errPaid != nil {
			return errPaid
		}

		var user models.User
		if errUser := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&user, inv.UserID).Error; errUser != nil {
			return errUser
		}
		if errCredit := tx.Model(&user).
			Update("balance", gorm.Expr("balance + ?", inv.Amount)).Error; errCredit != nil {
			return errCredit
		}

		credited = true
		result.Status = models.InvoiceStatusPaid
		result.PaidAt = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil, err
		}
		return false, nil, err
	}
	return credited, &result, nil
}
