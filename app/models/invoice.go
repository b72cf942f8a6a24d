package models

import "time"

const (
	InvoiceStatusPending = "pending"
	InvoiceStatusPaid    = "paid"
)

// Invoice records one funding attempt against the payment gateway. OrderID
// is the gateway-facing identifier and the idempotency key for webhook
// reconciliation: the pending->paid transition happens exactly once and is
// the only thing that credits the owning user's balance.
type Invoice struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	OrderID      string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_id"`
	UserID       uint       `gorm:"index;not null" json:"user_id"`
	Amount       int64      `gorm:"not null" json:"amount"`
	TotalPayment int64      `gorm:"not null;default:0" json:"total_payment"`
	Status       string     `gorm:"type:varchar(16);index;not null;default:'pending'" json:"status"`
	CreatedAt    time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	PaidAt       *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
}

// IsPaid reports whether the invoice has already been reconciled.
func (i *Invoice) IsPaid() bool {
	return i.Status == InvoiceStatusPaid
}
