package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/opalvpn/opald/app/models"
	"github.com/opalvpn/opald/app/repository"
	"github.com/opalvpn/opald/internal/pkg/catalog"
	"github.com/opalvpn/opald/internal/pkg/provisioning"
	"github.com/opalvpn/opald/internal/pkg/statistics"
)

// AccountController handles the public account lifecycle endpoints.
type AccountController struct {
	repos     *repository.Repositories
	lifecycle *provisioning.Service
	catalog   *catalog.Catalog
	stats     *statistics.Service
}

func NewAccountController(repos *repository.Repositories, lifecycle *provisioning.Service, cat *catalog.Catalog, stats *statistics.Service) *AccountController {
	return &AccountController{repos: repos, lifecycle: lifecycle, catalog: cat, stats: stats}
}

// HandleListTargets returns the enabled targets with their price table.
func (ac *AccountController) HandleListTargets(c *fiber.Ctx) error {
	targets := ac.catalog.Targets()
	out := make([]fiber.Map, 0, len(targets))
	for _, t := range targets {
		out = append(out, fiber.Map{
			"code":     t.Code,
			"name":     t.Name,
			"quota_gb": t.QuotaGB,
			"ip_limit": t.IPLimit,
			"prices":   t.Prices,
		})
	}
	return c.JSON(fiber.Map{"targets": out, "paid_mode": ac.lifecycle.PaidMode()})
}

type provisionRequest struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Target     string `json:"target"`
	Secret     string `json:"secret"`
	Days       int    `json:"days"`
	Kind       string `json:"kind"`
}

// HandleProvision issues a new account, paid or trial.
func (ac *AccountController) HandleProvision(c *fiber.Ctx) error {
	var req provisionRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, "invalid_body", "Malformed request body")
	}

	req.ExternalID = strings.TrimSpace(req.ExternalID)
	if req.ExternalID == "" {
		return apiError(c, fiber.StatusBadRequest, "missing_external_id", "external_id is required")
	}
	if req.Kind == "" {
		req.Kind = models.AccountKindPaid
	}
	if req.Kind != models.AccountKindPaid && req.Kind != models.AccountKindTrial {
		return apiError(c, fiber.StatusBadRequest, "invalid_kind", "kind must be paid or trial")
	}
	if req.Kind == models.AccountKindPaid && req.Days <= 0 {
		return apiError(c, fiber.StatusBadRequest, "invalid_duration", "days must be positive")
	}

	acc, err := ac.lifecycle.Provision(c.Context(), provisioning.ProvisionParams{
		ExternalID: req.ExternalID,
		Name:       req.Name,
		TargetCode: req.Target,
		Secret:     req.Secret,
		Days:       req.Days,
		Kind:       req.Kind,
	})
	if err != nil {
		return mapLifecycleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(accountJSON(acc))
}

type renewRequest struct {
	ExternalID string `json:"external_id"`
	Secret     string `json:"secret"`
	Days       int    `json:"days"`
}

// HandleRenew extends the caller's own active account.
func (ac *AccountController) HandleRenew(c *fiber.Ctx) error {
	var req renewRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, "invalid_body", "Malformed request body")
	}
	if strings.TrimSpace(req.ExternalID) == "" {
		return apiError(c, fiber.StatusBadRequest, "missing_external_id", "external_id is required")
	}
	if req.Days <= 0 {
		return apiError(c, fiber.StatusBadRequest, "invalid_duration", "days must be positive")
	}

	newExpiry, err := ac.lifecycle.Renew(c.Context(), provisioning.RenewParams{
		ExternalID: strings.TrimSpace(req.ExternalID),
		Secret:     req.Secret,
		Days:       req.Days,
	})
	if err != nil {
		return mapLifecycleError(c, err)
	}

	return c.JSON(fiber.Map{"expires_at": newExpiry.UTC().Format(time.RFC3339)})
}

// HandleListAccounts returns the caller's active accounts.
func (ac *AccountController) HandleListAccounts(c *fiber.Ctx) error {
	user, err := ac.requireUser(c)
	if err != nil {
		return err
	}

	accounts, err := ac.repos.Account.ListActiveByUser(user.ID)
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load accounts")
	}

	out := make([]fiber.Map, 0, len(accounts))
	for i := range accounts {
		out = append(out, accountJSON(&accounts[i]))
	}
	return c.JSON(fiber.Map{"accounts": out})
}

// HandleGetBalance returns the caller's ledger balance in minor units.
func (ac *AccountController) HandleGetBalance(c *fiber.Ctx) error {
	user, err := ac.requireUser(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"balance": user.Balance, "trial_used": user.TrialUsed})
}

// HandleStatistics returns the caller's provisioning counts.
func (ac *AccountController) HandleStatistics(c *fiber.Ctx) error {
	user, err := ac.requireUser(c)
	if err != nil {
		return err
	}

	summary, err := ac.stats.ForUser(user.ID)
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load statistics")
	}
	return c.JSON(summary)
}

func (ac *AccountController) requireUser(c *fiber.Ctx) (*models.User, error) {
	externalID := strings.TrimSpace(c.Query("external_id"))
	if externalID == "" {
		return nil, apiError(c, fiber.StatusBadRequest, "missing_external_id", "external_id is required")
	}
	user, err := ac.repos.User.GetByExternalID(externalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apiError(c, fiber.StatusNotFound, "user_not_found", "Unknown user")
		}
		return nil, apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load user")
	}
	return user, nil
}

func accountJSON(acc *models.Account) fiber.Map {
	return fiber.Map{
		"public_id":  acc.PublicID,
		"target":     acc.TargetCode,
		"host":       acc.Host,
		"secret":     acc.Secret,
		"kind":       acc.Kind,
		"status":     acc.Status,
		"expires_at": acc.ExpiresAt.UTC().Format(time.RFC3339),
	}
}
