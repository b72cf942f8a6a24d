package controllers

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/opalvpn/opald/app/repository"
	"github.com/opalvpn/opald/internal/pkg/provisioning"
	"github.com/opalvpn/opald/internal/pkg/statistics"
)

// AdminController handles the operator endpoints behind the admin key.
type AdminController struct {
	repos     *repository.Repositories
	lifecycle *provisioning.Service
	stats     *statistics.Service
}

func NewAdminController(repos *repository.Repositories, lifecycle *provisioning.Service, stats *statistics.Service) *AdminController {
	return &AdminController{repos: repos, lifecycle: lifecycle, stats: stats}
}

// HandleListAccounts returns active accounts, newest first.
func (ad *AdminController) HandleListAccounts(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "100"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	accounts, err := ad.repos.Account.ListActive(limit)
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load accounts")
	}

	out := make([]fiber.Map, 0, len(accounts))
	for i := range accounts {
		entry := accountJSON(&accounts[i])
		entry["user_id"] = accounts[i].UserID
		out = append(out, entry)
	}
	return c.JSON(fiber.Map{"accounts": out})
}

// HandleGetAccount finds an active account by its secret.
func (ad *AdminController) HandleGetAccount(c *fiber.Ctx) error {
	acc, err := ad.repos.Account.GetActiveBySecret(c.Params("secret"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apiError(c, fiber.StatusNotFound, "account_not_active", "No active account with this secret")
		}
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load account")
	}

	entry := accountJSON(acc)
	entry["user_id"] = acc.UserID
	return c.JSON(entry)
}

// HandleRevokeAccount force-revokes an account.
func (ad *AdminController) HandleRevokeAccount(c *fiber.Ctx) error {
	secret := c.Params("secret")
	if err := ad.lifecycle.Revoke(c.Context(), secret, provisioning.RevokeReasonAdmin); err != nil {
		return mapLifecycleError(c, err)
	}
	log.Infof("[Admin] Revoked account with secret ending %s", tail(secret))
	return c.JSON(fiber.Map{"revoked": true})
}

type adminRenewRequest struct {
	Secret string `json:"secret"`
	Days   int    `json:"days"`
}

// HandleRenewAccount extends any active account, skipping the ownership
// check. Still debits the owner in paid mode.
func (ad *AdminController) HandleRenewAccount(c *fiber.Ctx) error {
	var req adminRenewRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, "invalid_body", "Malformed request body")
	}
	if req.Days <= 0 {
		return apiError(c, fiber.StatusBadRequest, "invalid_duration", "days must be positive")
	}

	newExpiry, err := ad.lifecycle.Renew(c.Context(), provisioning.RenewParams{
		Secret:  req.Secret,
		Days:    req.Days,
		AsAdmin: true,
	})
	if err != nil {
		return mapLifecycleError(c, err)
	}
	return c.JSON(fiber.Map{"expires_at": newExpiry.UTC().Format(time.RFC3339)})
}

type creditRequest struct {
	ExternalID string `json:"external_id"`
	Amount     int64  `json:"amount"`
}

// HandleCredit adds funds to a user's balance, creating the user row on
// first contact.
func (ad *AdminController) HandleCredit(c *fiber.Ctx) error {
	var req creditRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, "invalid_body", "Malformed request body")
	}
	req.ExternalID = strings.TrimSpace(req.ExternalID)
	if req.ExternalID == "" {
		return apiError(c, fiber.StatusBadRequest, "missing_external_id", "external_id is required")
	}
	if req.Amount <= 0 {
		return apiError(c, fiber.StatusBadRequest, "invalid_amount", "amount must be positive")
	}

	balance, err := ad.repos.User.CreditByExternalID(req.ExternalID, req.Amount)
	if err != nil {
		log.Errorf("[Admin] Credit of %d to %s failed: %v", req.Amount, req.ExternalID, err)
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to credit balance")
	}

	log.Infof("[Admin] Credited %d to user %s", req.Amount, req.ExternalID)
	return c.JSON(fiber.Map{"balance": balance})
}

// HandleGetUser returns a user's balance and trial flag.
func (ad *AdminController) HandleGetUser(c *fiber.Ctx) error {
	user, err := ad.repos.User.GetByExternalID(c.Params("external_id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apiError(c, fiber.StatusNotFound, "user_not_found", "Unknown user")
		}
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load user")
	}
	return c.JSON(fiber.Map{
		"external_id": user.ExternalID,
		"name":        user.Name,
		"balance":     user.Balance,
		"trial_used":  user.TrialUsed,
	})
}

// HandleStatistics returns global provisioning counts.
func (ad *AdminController) HandleStatistics(c *fiber.Ctx) error {
	summary, err := ad.stats.Global()
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load statistics")
	}
	return c.JSON(summary)
}

func tail(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[len(s)-4:]
}
