package router

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/LinkFox/app/controllers"
	"github.com/ManuelReschke/LinkFox/internal/pkg/middleware"
	"github.com/ManuelReschke/LinkFox/internal/pkg/usercontext"
)

type ApiRouter struct {
	billing *controllers.BillingController
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// Gateway calls are expensive, so limit per user rather than per IP.
	limit := limiter.New(limiter.Config{
		Max:        20,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			if id := usercontext.GetUserID(c); id != 0 {
				return "user:" + strconv.FormatUint(uint64(id), 10)
			}
			return c.IP()
		},
	})

	// Registered per route: a group on "/" would put auth in front of
	// /healthz and /metrics as well.
	auth := []fiber.Handler{middleware.RequireAPISessionAuth, limit}
	app.Post("/create-checkout-session", append(auth, h.billing.HandleCreateCheckoutSession)...)
	app.Post("/create-subscription", append(auth, h.billing.HandleCreateSubscription)...)
	app.Post("/verify-session", append(auth, h.billing.HandleVerifySession)...)
	app.Post("/check-payment-status", append(auth, h.billing.HandleCheckPaymentStatus)...)
	app.Post("/cancel-subscription", append(auth, h.billing.HandleCancelSubscription)...)
	app.Post("/cleanup-duplicates", append(auth, h.billing.HandleCleanupDuplicates)...)
	app.Get("/billing/status", append(auth, h.billing.HandleGetStatus)...)

	admin := []fiber.Handler{middleware.RequireAPIAdmin}
	app.Post("/admin/billing/dedupe", append(admin, h.billing.HandleAdminDedupeAll)...)
	app.Post("/admin/billing/events/:eventId/replay", append(admin, h.billing.HandleAdminReplayEvent)...)
}

func NewApiRouter(billing *controllers.BillingController) *ApiRouter {
	return &ApiRouter{billing: billing}
}
