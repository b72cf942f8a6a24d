package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/opalvpn/opald/app/models"
	"github.com/opalvpn/opald/app/repository"
)

// ErrAmountBelowMinimum rejects top-ups under the configured floor.
var ErrAmountBelowMinimum = errors.New("payment: amount below minimum")

// Charger is the slice of the gateway the top-up flow needs.
type Charger interface {
	CreateQRISCharge(ctx context.Context, orderID string, amount int64) (*QRISCharge, error)
}

// TopUpService opens funding attempts: it creates the gateway charge and
// the matching pending invoice the reconciler later finalizes.
type TopUpService struct {
	users     repository.UserRepository
	invoices  repository.InvoiceRepository
	gateway   Charger
	minAmount int64
}

// NewTopUpService wires a top-up service.
func NewTopUpService(users repository.UserRepository, invoices repository.InvoiceRepository, gateway Charger, minAmount int64) *TopUpService {
	return &TopUpService{users: users, invoices: invoices, gateway: gateway, minAmount: minAmount}
}

// MinAmount returns the configured top-up floor.
func (s *TopUpService) MinAmount() int64 {
	return s.minAmount
}

// CreateTopUp opens a charge for the user and records the pending invoice.
// The order ID is generated here so it is unique across every funding
// attempt the service ever makes.
func (s *TopUpService) CreateTopUp(ctx context.Context, externalID string, amount int64) (*QRISCharge, *models.Invoice, error) {
	if amount < s.minAmount {
		return nil, nil, ErrAmountBelowMinimum
	}

	user, err := s.users.Upsert(externalID, "")
	if err != nil {
		return nil, nil, fmt.Errorf("payment: resolve user %s: %w", externalID, err)
	}

	orderID := fmt.Sprintf("TOPUP-%s-%s", externalID, uuid.NewString())
	charge, err := s.gateway.CreateQRISCharge(ctx, orderID, amount)
	if err != nil {
		return nil, nil, err
	}

	inv := &models.Invoice{
		OrderID:      orderID,
		UserID:       user.ID,
		Amount:       amount,
		TotalPayment: charge.TotalPayment,
		Status:       models.InvoiceStatusPending,
	}
	if err := s.invoices.Create(inv); err != nil {
		return nil, nil, fmt.Errorf("payment: persist invoice %s: %w", orderID, err)
	}
	return charge, inv, nil
}
