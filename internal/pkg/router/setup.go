package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/opalvpn/opald/internal/pkg/provisioning"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter registers all HTTP routes. The lifecycle engine comes from
// main because the expiry sweeper shares the same instance.
func InstallRouter(app *fiber.App, lifecycle *provisioning.Service) {
	setup(app, NewApiRouter(lifecycle))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
