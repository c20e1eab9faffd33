package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/LinkFox/app/controllers"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

func InstallRouter(app *fiber.App, billing *controllers.BillingController) {
	// HttpRouter first: it installs the global UserContext middleware the
	// authenticated API routes depend on.
	setup(app, NewHttpRouter(billing), NewApiRouter(billing))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
