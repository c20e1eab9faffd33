package controllers

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LinkFox/internal/pkg/billing"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// parseBody decodes and validates a JSON body. The returned message is safe
// to show to the caller.
func parseBody(c *fiber.Ctx, out interface{}) (string, bool) {
	if err := c.BodyParser(out); err != nil {
		return "invalid request body", false
	}
	if err := validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			switch fe.Tag() {
			case "required":
				return fe.Field() + " is required", false
			case "oneof":
				return fe.Field() + " must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", "), false
			default:
				return fe.Field() + " is invalid", false
			}
		}
		return "invalid request body", false
	}
	return "", true
}

func jsonError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}

// billingError maps billing errors to HTTP responses. Only caller-fixable
// messages are passed through; everything else is logged and answered with a
// generic message.
func billingError(c *fiber.Ctx, op string, err error) error {
	var verr *billing.ValidationError
	switch {
	case errors.As(err, &verr):
		return jsonError(c, fiber.StatusBadRequest, verr.Message)
	case errors.Is(err, billing.ErrNoCancellableSubscription):
		return jsonError(c, fiber.StatusBadRequest, "no cancellable subscription")
	case errors.Is(err, billing.ErrUserNotFound):
		return jsonError(c, fiber.StatusNotFound, "user not found")
	case errors.Is(err, billing.ErrAccountDisabled):
		return jsonError(c, fiber.StatusForbidden, "account is disabled")
	case errors.Is(err, billing.ErrSessionMismatch):
		return jsonError(c, fiber.StatusForbidden, "checkout session does not belong to this account")
	case errors.Is(err, billing.ErrSessionNotPaid):
		return jsonError(c, fiber.StatusConflict, "checkout session is not paid yet")
	case errors.Is(err, billing.ErrResourceMissing):
		return jsonError(c, fiber.StatusNotFound, "not found")
	case errors.Is(err, billing.ErrEventNotFound):
		return jsonError(c, fiber.StatusNotFound, "event not found")
	}

	log.Errorf("[BillingController] %s failed for user %v: %v", op, c.Locals("user_id"), err)
	switch {
	case errors.Is(err, billing.ErrGatewayNotConfigured):
		return jsonError(c, fiber.StatusInternalServerError, "billing is not configured")
	case errors.Is(err, billing.ErrGatewayUnavailable):
		return jsonError(c, fiber.StatusBadGateway, "payment provider unavailable, please try again")
	default:
		return jsonError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
