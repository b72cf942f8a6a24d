package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/opalvpn/opald/app/repository"
	"github.com/opalvpn/opald/internal/pkg/payment"
)

// PaymentController handles top-up creation and the gateway webhook.
type PaymentController struct {
	topup      *payment.TopUpService
	reconciler *payment.Reconciler
	users      repository.UserRepository
}

func NewPaymentController(topup *payment.TopUpService, reconciler *payment.Reconciler, users repository.UserRepository) *PaymentController {
	return &PaymentController{topup: topup, reconciler: reconciler, users: users}
}

type topUpRequest struct {
	ExternalID string `json:"external_id"`
	Amount     int64  `json:"amount"`
}

// HandleCreateTopUp creates a pending invoice backed by a QRIS charge.
func (pc *PaymentController) HandleCreateTopUp(c *fiber.Ctx) error {
	var req topUpRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, "invalid_body", "Malformed request body")
	}
	req.ExternalID = strings.TrimSpace(req.ExternalID)
	if req.ExternalID == "" {
		return apiError(c, fiber.StatusBadRequest, "missing_external_id", "external_id is required")
	}

	charge, inv, err := pc.topup.CreateTopUp(c.Context(), req.ExternalID, req.Amount)
	if err != nil {
		if errors.Is(err, payment.ErrAmountBelowMinimum) {
			return apiError(c, fiber.StatusBadRequest, "amount_below_minimum", "Amount is below the top-up minimum")
		}
		if errors.Is(err, payment.ErrGatewayUnavailable) {
			return apiError(c, fiber.StatusBadGateway, "gateway_unavailable", "Payment gateway unreachable, try again")
		}
		log.Errorf("[Payment] Top-up creation failed: %v", err)
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create top-up")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"order_id":       inv.OrderID,
		"amount":         inv.Amount,
		"total_payment":  charge.TotalPayment,
		"payment_number": charge.PaymentNumber,
		"expired_at":     charge.ExpiredAt,
	})
}

type webhookEvent struct {
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
	Status  string `json:"status"`
}

// HandlePakasirWebhook receives payment notifications. The claimed status
// is never trusted; the reconciler re-verifies against the gateway before
// crediting. Responses are chosen so the gateway retries only transient
// failures: anything settled locally answers 200.
func (pc *PaymentController) HandlePakasirWebhook(c *fiber.Ctx) error {
	var ev webhookEvent
	if err := c.BodyParser(&ev); err != nil {
		return apiError(c, fiber.StatusBadRequest, "invalid_body", "Malformed webhook payload")
	}
	if strings.TrimSpace(ev.OrderID) == "" {
		return apiError(c, fiber.StatusBadRequest, "missing_order_id", "order_id is required")
	}

	result, err := pc.reconciler.HandleGatewayEvent(c.Context(), ev.OrderID, ev.Amount, ev.Status)
	if err != nil {
		log.Errorf("[Payment] Webhook for order %s failed: %v", ev.OrderID, err)
		return apiError(c, fiber.StatusBadGateway, "verification_failed", "Could not verify transaction, retry later")
	}

	status := fiber.StatusOK
	if result.Outcome == payment.OutcomeRejected {
		status = fiber.StatusConflict
	}
	return c.Status(status).JSON(fiber.Map{
		"outcome":   result.Outcome,
		"duplicate": result.Duplicate,
	})
}
