package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LinkFox/app/models"
)

type CheckoutResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type SubscriptionResult struct {
	SubscriptionID string `json:"subscription_id"`
	ClientSecret   string `json:"client_secret"`
	Status         string `json:"status"`
}

// Initiator starts purchases: a hosted checkout for either plan, or a direct
// monthly subscription against a stored payment method.
type Initiator struct {
	store     EntitlementStore
	gateway   Gateway
	customers *customerResolver
	cfg       Config
}

// StartCheckout creates a hosted checkout session for the user.
func (in *Initiator) StartCheckout(ctx context.Context, userID uint, plan string) (*CheckoutResult, error) {
	p, err := parsePurchasablePlan(plan)
	if err != nil {
		return nil, err
	}
	priceID, err := in.cfg.priceFor(p)
	if err != nil {
		return nil, err
	}
	if in.cfg.SuccessURL == "" || in.cfg.CancelURL == "" {
		return nil, fmt.Errorf("%w: checkout return urls missing", ErrGatewayNotConfigured)
	}

	user, err := in.loadPurchaser(ctx, userID)
	if err != nil {
		return nil, err
	}
	customerID, err := in.customers.resolveOrCreate(ctx, user)
	if err != nil {
		return nil, err
	}

	session, err := in.gateway.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID: customerID,
		PriceID:    priceID,
		Plan:       p,
		UserID:     user.ID,
		UserEmail:  models.NormalizeEmail(user.Email),
		SuccessURL: in.cfg.SuccessURL,
		CancelURL:  in.cfg.CancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session for user %d: %w", user.ID, err)
	}

	log.Infof("[Billing] checkout session %s (%s) started for user %d", session.ID, p, user.ID)
	return &CheckoutResult{SessionID: session.ID, URL: session.URL}, nil
}

// StartSubscription creates a monthly subscription paid with the given
// payment method. The entitlement is granted later by the invoice webhook.
func (in *Initiator) StartSubscription(ctx context.Context, userID uint, plan, paymentMethodID string) (*SubscriptionResult, error) {
	p, err := parsePurchasablePlan(plan)
	if err != nil {
		return nil, err
	}
	if p != models.PlanMonthly {
		return nil, validationError("direct subscriptions are only available for the monthly plan")
	}
	paymentMethodID = strings.TrimSpace(paymentMethodID)
	if paymentMethodID == "" {
		return nil, validationError("paymentMethodId is required")
	}
	priceID, err := in.cfg.priceFor(p)
	if err != nil {
		return nil, err
	}

	user, err := in.loadPurchaser(ctx, userID)
	if err != nil {
		return nil, err
	}
	customerID, err := in.customers.resolveOrCreate(ctx, user)
	if err != nil {
		return nil, err
	}

	sub, err := in.gateway.CreateSubscription(ctx, SubscriptionParams{
		CustomerID:      customerID,
		PriceID:         priceID,
		PaymentMethodID: paymentMethodID,
		UserID:          user.ID,
		UserEmail:       models.NormalizeEmail(user.Email),
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription for user %d: %w", user.ID, err)
	}

	log.Infof("[Billing] subscription %s created for user %d with status %s", sub.ID, user.ID, sub.Status)
	return &SubscriptionResult{SubscriptionID: sub.ID, ClientSecret: sub.ClientSecret, Status: sub.Status}, nil
}

func (in *Initiator) loadPurchaser(ctx context.Context, userID uint) (*models.User, error) {
	user, err := in.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Disabled() {
		log.Warnf("[Billing] purchase rejected for disabled user %d", user.ID)
		return nil, ErrAccountDisabled
	}
	return user, nil
}
