package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LinkFox/internal/pkg/billing"
	"github.com/ManuelReschke/LinkFox/internal/pkg/usercontext"
)

const stripeSignatureHeader = "Stripe-Signature"

type BillingController struct {
	svc *billing.Service
}

func NewBillingController(svc *billing.Service) *BillingController {
	return &BillingController{svc: svc}
}

type checkoutRequest struct {
	Plan string `json:"plan" validate:"required"`
}

type subscriptionRequest struct {
	Plan            string `json:"plan" validate:"required"`
	PaymentMethodID string `json:"paymentMethodId" validate:"required"`
}

type verifySessionRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
}

// HandleWebhook receives gateway events. Once the signature is valid the
// answer is always 200 so the gateway does not redeliver.
func (bc *BillingController) HandleWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)
	if _, err := bc.svc.Ingestor.Handle(c.UserContext(), payload, c.Get(stripeSignatureHeader)); err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			return jsonError(c, fiber.StatusBadRequest, "invalid_signature")
		}
		log.Errorf("[BillingController] webhook failed before verification: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal server error")
	}
	return c.JSON(fiber.Map{"received": true})
}

func (bc *BillingController) HandleCreateCheckoutSession(c *fiber.Ctx) error {
	var req checkoutRequest
	if msg, ok := parseBody(c, &req); !ok {
		return jsonError(c, fiber.StatusBadRequest, msg)
	}

	res, err := bc.svc.Initiator.StartCheckout(c.UserContext(), usercontext.GetUserID(c), req.Plan)
	if err != nil {
		return billingError(c, "create checkout session", err)
	}
	return c.JSON(fiber.Map{
		"session_id": res.SessionID,
		"url":        res.URL,
	})
}

func (bc *BillingController) HandleCreateSubscription(c *fiber.Ctx) error {
	var req subscriptionRequest
	if msg, ok := parseBody(c, &req); !ok {
		return jsonError(c, fiber.StatusBadRequest, msg)
	}

	res, err := bc.svc.Initiator.StartSubscription(c.UserContext(), usercontext.GetUserID(c), req.Plan, req.PaymentMethodID)
	if err != nil {
		return billingError(c, "create subscription", err)
	}
	return c.JSON(res)
}

func (bc *BillingController) HandleVerifySession(c *fiber.Ctx) error {
	var req verifySessionRequest
	if msg, ok := parseBody(c, &req); !ok {
		return jsonError(c, fiber.StatusBadRequest, msg)
	}

	userID := usercontext.GetUserID(c)
	res, err := bc.svc.Verifier.VerifySession(c.UserContext(), userID, req.SessionID)
	if err != nil {
		return billingError(c, "verify session", err)
	}
	return bc.respondWithStatus(c, userID, fiber.Map{"updated": res.Updated})
}

// HandleCheckPaymentStatus is called by the client on load after a checkout
// to catch payments whose webhook has not arrived yet.
func (bc *BillingController) HandleCheckPaymentStatus(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	res, err := bc.svc.Verifier.Reconcile(c.UserContext(), userID)
	if err != nil {
		return billingError(c, "check payment status", err)
	}
	return bc.respondWithStatus(c, userID, fiber.Map{"updated": res.Updated})
}

func (bc *BillingController) HandleCancelSubscription(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	res, err := bc.svc.Canceller.Cancel(c.UserContext(), userID)
	if err != nil {
		return billingError(c, "cancel subscription", err)
	}
	return bc.respondWithStatus(c, userID, fiber.Map{"already_cancelled": res.AlreadyCancelled})
}

func (bc *BillingController) HandleCleanupDuplicates(c *fiber.Ctx) error {
	removed, err := bc.svc.DedupeUser(c.UserContext(), usercontext.GetUserID(c))
	if err != nil {
		return billingError(c, "cleanup duplicates", err)
	}
	return c.JSON(fiber.Map{"removed": removed})
}

func (bc *BillingController) HandleGetStatus(c *fiber.Ctx) error {
	return bc.respondWithStatus(c, usercontext.GetUserID(c), fiber.Map{})
}

// HandleAdminDedupeAll removes duplicate ledger entries of every account.
func (bc *BillingController) HandleAdminDedupeAll(c *fiber.Ctx) error {
	removed, err := bc.svc.Reconciler.DedupeAll(c.UserContext())
	if err != nil {
		return billingError(c, "dedupe all ledgers", err)
	}
	return c.JSON(fiber.Map{"removed": removed})
}

// HandleAdminReplayEvent processes a stored webhook event again.
func (bc *BillingController) HandleAdminReplayEvent(c *fiber.Ctx) error {
	ack, err := bc.svc.Ingestor.Replay(c.UserContext(), c.Params("eventId"))
	if err != nil {
		return billingError(c, "replay event", err)
	}
	return c.JSON(fiber.Map{
		"event_id":   ack.EventID,
		"event_type": ack.EventType,
		"ignored":    ack.Ignored,
		"applied":    ack.Applied,
	})
}

func (bc *BillingController) respondWithStatus(c *fiber.Ctx, userID uint, body fiber.Map) error {
	st, err := bc.svc.Status(c.UserContext(), userID)
	if err != nil {
		return billingError(c, "load billing status", err)
	}
	body["billing"] = st
	return c.JSON(body)
}
