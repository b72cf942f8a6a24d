package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/opalvpn/opald/app/models"
	"github.com/opalvpn/opald/app/repository"
)

// Outcome classifies how a gateway event was handled.
type Outcome string

const (
	// OutcomeAccepted means the credit was applied, or had already been
	// applied for this order (idempotent replay).
	OutcomeAccepted Outcome = "accepted"
	// OutcomeIgnored means the event referenced an unknown order or a
	// transaction the gateway does not confirm as completed.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeRejected means the event contradicted the stored invoice
	// (amount mismatch) and nothing was credited.
	OutcomeRejected Outcome = "rejected"
)

// Result reports the reconciliation of one gateway event.
type Result struct {
	Outcome       Outcome
	Duplicate     bool
	GatewayStatus string
	Invoice       *models.Invoice
}

// Notifier delivers the post-credit side effect. Delivery is best-effort:
// a failure is logged and never unwinds the credit.
type Notifier interface {
	PaymentCredited(ctx context.Context, inv *models.Invoice) error
}

// LogNotifier is the default Notifier; it only writes a log line. The chat
// transport plugs in its own implementation.
type LogNotifier struct{}

func (LogNotifier) PaymentCredited(_ context.Context, inv *models.Invoice) error {
	log.Infof("[Payment] credited order %s amount %d to user %d", inv.OrderID, inv.Amount, inv.UserID)
	return nil
}

// Reconciler converts gateway webhook events into balance credits exactly
// once per invoice.
type Reconciler struct {
	invoices repository.InvoiceRepository
	gateway  Verifier
	notifier Notifier
}

// NewReconciler wires a reconciler.
func NewReconciler(invoices repository.InvoiceRepository, gateway Verifier, notifier Notifier) *Reconciler {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Reconciler{invoices: invoices, gateway: gateway, notifier: notifier}
}

// HandleGatewayEvent processes one inbound webhook delivery. The claimed
// status is deliberately unused beyond logging: the webhook channel is only
// weakly authenticated, so the decision to credit rests entirely on the
// gateway's transaction-detail endpoint. The returned error is non-nil only
// for transient infrastructure failures, which the gateway retries.
func (r *Reconciler) HandleGatewayEvent(ctx context.Context, orderID string, amount int64, claimedStatus string) (Result, error) {
	inv, err := r.invoices.GetByOrderID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Unknown order: never fabricate an invoice from a webhook.
			return Result{Outcome: OutcomeIgnored}, nil
		}
		return Result{}, fmt.Errorf("payment: lookup invoice %s: %w", orderID, err)
	}

	if inv.IsPaid() {
		return Result{Outcome: OutcomeAccepted, Duplicate: true, Invoice: inv}, nil
	}

	if amount != inv.Amount {
		log.Warnf("[Payment] order %s amount mismatch: event %d, invoice %d", orderID, amount, inv.Amount)
		return Result{Outcome: OutcomeRejected, Invoice: inv}, nil
	}

	status, err := r.gateway.TransactionStatus(ctx, orderID, amount)
	if err != nil {
		return Result{}, fmt.Errorf("payment: verify order %s: %w", orderID, err)
	}
	if status != TransactionCompleted {
		log.Infof("[Payment] order %s not completed at gateway (status=%q, claimed=%q)", orderID, status, claimedStatus)
		return Result{Outcome: OutcomeIgnored, GatewayStatus: status, Invoice: inv}, nil
	}

	credited, paid, err := r.invoices.MarkPaidAndCredit(orderID)
	if err != nil {
		return Result{}, fmt.Errorf("payment: finalize order %s: %w", orderID, err)
	}
	if !credited {
		// Raced a concurrent delivery; the first one credited.
		return Result{Outcome: OutcomeAccepted, Duplicate: true, GatewayStatus: status, Invoice: paid}, nil
	}

	if errNotify := r.notifier.PaymentCredited(ctx, paid); errNotify != nil {
		log.Errorf("[Payment] notify for order %s failed: %v", orderID, errNotify)
	}
	return Result{Outcome: OutcomeAccepted, GatewayStatus: status, Invoice: paid}, nil
}
