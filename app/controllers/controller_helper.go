package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/opalvpn/opald/internal/pkg/provisioning"
)

func apiError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// mapLifecycleError translates engine errors into stable HTTP responses.
// The error code strings are API surface; clients switch on them.
func mapLifecycleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, provisioning.ErrTargetNotFound):
		return apiError(c, fiber.StatusNotFound, "target_not_found", "Unknown target")
	case errors.Is(err, provisioning.ErrTargetDisabled):
		return apiError(c, fiber.StatusConflict, "target_disabled", "Target is disabled")
	case errors.Is(err, provisioning.ErrCapacityExceeded):
		return apiError(c, fiber.StatusConflict, "capacity_exceeded", "Target is full")
	case errors.Is(err, provisioning.ErrInvalidSecret):
		return apiError(c, fiber.StatusBadRequest, "invalid_secret", "Secret must be 3-32 characters without spaces or commas")
	case errors.Is(err, provisioning.ErrSecretTaken):
		return apiError(c, fiber.StatusConflict, "secret_taken", "Secret is already in use")
	case errors.Is(err, provisioning.ErrSecretConflict):
		return apiError(c, fiber.StatusConflict, "secret_conflict", "Secret was claimed concurrently, retry with another")
	case errors.Is(err, provisioning.ErrPriceNotSet):
		return apiError(c, fiber.StatusBadRequest, "invalid_duration", "No price configured for this duration")
	case errors.Is(err, provisioning.ErrInsufficientBalance):
		return apiError(c, fiber.StatusPaymentRequired, "insufficient_balance", "Balance too low")
	case errors.Is(err, provisioning.ErrTrialAlreadyUsed):
		return apiError(c, fiber.StatusConflict, "trial_already_used", "Trial already used")
	case errors.Is(err, provisioning.ErrTrialNotRenewable):
		return apiError(c, fiber.StatusConflict, "trial_not_renewable", "Trial accounts cannot be renewed")
	case errors.Is(err, provisioning.ErrAccountNotActive):
		return apiError(c, fiber.StatusNotFound, "account_not_active", "No active account with this secret")
	case errors.Is(err, provisioning.ErrNotOwner):
		return apiError(c, fiber.StatusForbidden, "not_owner", "Account belongs to another user")
	case errors.Is(err, provisioning.ErrStoreUnavailable):
		return apiError(c, fiber.StatusBadGateway, "store_unavailable", "Credential store unreachable, try again")
	default:
		log.Errorf("[API] Unexpected lifecycle error: %v", err)
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Something went wrong")
	}
}
