package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/LinkFox/app/controllers"
	"github.com/ManuelReschke/LinkFox/internal/pkg/middleware"
)

type HttpRouter struct {
	billing *controllers.BillingController
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// The gateway posts webhooks without a session.
	app.Post("/webhook", h.billing.HandleWebhook)

	app.Use(middleware.UserContextMiddleware)
}

func NewHttpRouter(billing *controllers.BillingController) *HttpRouter {
	return &HttpRouter{billing: billing}
}
