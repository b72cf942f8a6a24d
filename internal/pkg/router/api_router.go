package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/opalvpn/opald/app/controllers"
	"github.com/opalvpn/opald/internal/pkg/middleware"
	"github.com/opalvpn/opald/internal/pkg/provisioning"
)

type ApiRouter struct {
	lifecycle *provisioning.Service
}

func NewApiRouter(lifecycle *provisioning.Service) *ApiRouter {
	return &ApiRouter{lifecycle: lifecycle}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	controllers.InitializeControllers(h.lifecycle)

	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "opald api",
		})
	})

	v1 := api.Group("/v1")

	account := controllers.Account()
	v1.Get("/targets", account.HandleListTargets)
	v1.Post("/accounts", account.HandleProvision)
	v1.Post("/accounts/renew", account.HandleRenew)
	v1.Get("/accounts", account.HandleListAccounts)
	v1.Get("/balance", account.HandleGetBalance)
	v1.Get("/statistics", account.HandleStatistics)

	pay := controllers.Payment()
	v1.Post("/topup", pay.HandleCreateTopUp)
	// The gateway posts here; the token guard runs before any parsing.
	v1.Post("/webhooks/pakasir", middleware.WebhookTokenMiddleware(), pay.HandlePakasirWebhook)

	admin := v1.Group("/admin", middleware.AdminAuthMiddleware())
	adminCtl := controllers.Admin()
	admin.Get("/accounts", adminCtl.HandleListAccounts)
	admin.Get("/accounts/:secret", adminCtl.HandleGetAccount)
	admin.Delete("/accounts/:secret", adminCtl.HandleRevokeAccount)
	admin.Post("/accounts/renew", adminCtl.HandleRenewAccount)
	admin.Post("/credit", adminCtl.HandleCredit)
	admin.Get("/users/:external_id", adminCtl.HandleGetUser)
	admin.Get("/statistics", adminCtl.HandleStatistics)
}
