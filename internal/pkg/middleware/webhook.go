package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/opalvpn/opald/internal/pkg/env"
)

// WebhookTokenMiddleware gates the payment webhook behind the shared token
// in WEBHOOK_TOKEN. With no token configured the route is open, which is
// safe because every event is re-verified against the gateway anyway.
func WebhookTokenMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := env.GetEnv("WEBHOOK_TOKEN", "")
		if token == "" {
			return c.Next()
		}

		got := strings.TrimSpace(c.Query("token"))
		if got == "" {
			got = strings.TrimSpace(c.Get("X-Webhook-Token"))
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid webhook token"})
		}

		return c.Next()
	}
}
