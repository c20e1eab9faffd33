package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/checkout/session"
	"github.com/stripe/stripe-go/v83/customer"
	"github.com/stripe/stripe-go/v83/paymentmethod"
	"github.com/stripe/stripe-go/v83/subscription"

	"github.com/ManuelReschke/LinkFox/app/models"
)

// customerKeyNamespace scopes the deterministic idempotency keys used when
// creating gateway customers.
var customerKeyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://linkfox.app/billing/customers"))

type StripeConfig struct {
	SecretKey  string
	MaxRetries int64
}

// StripeGateway implements Gateway using the Stripe API.
type StripeGateway struct {
	configured bool
	metrics    *Metrics
}

// NewStripeGateway configures the global Stripe client. Without a secret key
// every call fails with ErrGatewayNotConfigured, so the HTTP layer can still
// start and report the misconfiguration per request.
func NewStripeGateway(cfg StripeConfig, metrics *Metrics) *StripeGateway {
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return &StripeGateway{metrics: metrics}
	}

	stripe.Key = key
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(cfg.MaxRetries),
		HTTPClient:        &http.Client{Timeout: 15 * time.Second},
	}))

	return &StripeGateway{configured: true, metrics: metrics}
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, email string) (string, error) {
	if !g.configured {
		return "", ErrGatewayNotConfigured
	}
	if email == "" {
		return "", validationError("email is required to create customer")
	}

	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	params.SetIdempotencyKey(customerIdempotencyKey(email))
	params.AddMetadata(metaUserEmail, email)

	c, err := customer.New(params)
	if err != nil {
		return "", g.wrapError("create_customer", err)
	}
	return c.ID, nil
}

func (g *StripeGateway) ListCustomers(ctx context.Context, email string) ([]string, error) {
	if !g.configured {
		return nil, ErrGatewayNotConfigured
	}

	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(10)
	params.Single = true

	var ids []string
	iter := customer.List(params)
	for iter.Next() {
		c := iter.Customer()
		if c.Deleted {
			continue
		}
		ids = append(ids, c.ID)
	}
	if err := iter.Err(); err != nil {
		return nil, g.wrapError("list_customers", err)
	}
	return ids, nil
}

func (g *StripeGateway) RetrieveCustomer(ctx context.Context, id string) (*Customer, error) {
	if !g.configured {
		return nil, ErrGatewayNotConfigured
	}

	params := &stripe.CustomerParams{}
	params.Context = ctx
	c, err := customer.Get(id, params)
	if err != nil {
		return nil, g.wrapError("retrieve_customer", err)
	}
	if c.Deleted {
		return nil, fmt.Errorf("retrieve_customer: %w", ErrResourceMissing)
	}
	return &Customer{ID: c.ID, Email: c.Email}, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, in CheckoutParams) (*CheckoutSession, error) {
	if !g.configured {
		return nil, ErrGatewayNotConfigured
	}

	meta := checkoutMetadata(in.Plan, in.UserID, in.UserEmail)
	params := &stripe.CheckoutSessionParams{
		Customer:          stripe.String(in.CustomerID),
		ClientReferenceID: stripe.String(strconv.FormatUint(uint64(in.UserID), 10)),
		SuccessURL:        stripe.String(in.SuccessURL),
		CancelURL:         stripe.String(in.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(in.PriceID), Quantity: stripe.Int64(1)},
		},
	}
	params.Context = ctx
	for k, v := range meta {
		params.AddMetadata(k, v)
	}

	// Follow-up invoice and payment intent events carry origin=checkout so
	// the ingestor can tell they are already covered by this session.
	origin := withOrigin(meta, originCheckout)
	switch in.Plan {
	case models.PlanMonthly:
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{Metadata: origin}
	default:
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: origin}
	}

	s, err := session.New(params)
	if err != nil {
		return nil, g.wrapError("create_checkout_session", err)
	}
	out := convertCheckoutSession(s)
	return &out, nil
}

func (g *StripeGateway) RetrieveCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	if !g.configured {
		return nil, ErrGatewayNotConfigured
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := session.Get(id, params)
	if err != nil {
		return nil, g.wrapError("retrieve_checkout_session", err)
	}
	out := convertCheckoutSession(s)
	return &out, nil
}

func (g *StripeGateway) ListCheckoutSessions(ctx context.Context, customerID string, limit int64) ([]CheckoutSession, error) {
	if !g.configured {
		return nil, ErrGatewayNotConfigured
	}

	params := &stripe.CheckoutSessionListParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	params.Limit = stripe.Int64(limit)
	params.Single = true

	var out []CheckoutSession
	iter := session.List(params)
	for iter.Next() {
		out = append(out, convertCheckoutSession(iter.CheckoutSession()))
	}
	if err := iter.Err(); err != nil {
		return nil, g.wrapError("list_checkout_sessions", err)
	}
	return out, nil
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, in SubscriptionParams) (*Subscription, error) {
	if !g.configured {
		return nil, ErrGatewayNotConfigured
	}

	attach := &stripe.PaymentMethodAttachParams{Customer: stripe.String(in.CustomerID)}
	attach.Context = ctx
	if _, err := paymentmethod.Attach(in.PaymentMethodID, attach); err != nil {
		return nil, g.wrapError("attach_payment_method", err)
	}

	update := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(in.PaymentMethodID),
		},
	}
	update.Context = ctx
	if _, err := customer.Update(in.CustomerID, update); err != nil {
		return nil, g.wrapError("update_customer", err)
	}

	params := &stripe.SubscriptionParams{
		Customer:             stripe.String(in.CustomerID),
		DefaultPaymentMethod: stripe.String(in.PaymentMethodID),
		PaymentBehavior:      stripe.String("default_incomplete"),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(in.PriceID)},
		},
	}
	params.Context = ctx
	params.AddExpand("latest_invoice.confirmation_secret")
	for k, v := range withOrigin(checkoutMetadata(models.PlanMonthly, in.UserID, in.UserEmail), originDirect) {
		params.AddMetadata(k, v)
	}

	sub, err := subscription.New(params)
	if err != nil {
		return nil, g.wrapError("create_subscription", err)
	}
	out := convertSubscription(sub)
	return &out, nil
}

func (g *StripeGateway) RetrieveSubscription(ctx context.Context, id string) (*Subscription, error) {
	if !g.configured {
		return nil, ErrGatewayNotConfigured
	}

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscription.Get(id, params)
	if err != nil {
		return nil, g.wrapError("retrieve_subscription", err)
	}
	out := convertSubscription(sub)
	return &out, nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, id string) (*Subscription, error) {
	if !g.configured {
		return nil, ErrGatewayNotConfigured
	}

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	sub, err := subscription.Cancel(id, params)
	if err != nil {
		return nil, g.wrapError("cancel_subscription", err)
	}
	out := convertSubscription(sub)
	return &out, nil
}

// wrapError maps Stripe SDK errors onto the package error taxonomy.
func (g *StripeGateway) wrapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return fmt.Errorf("%s: %w", op, ErrResourceMissing)
		}
		g.metrics.GatewayError(op)
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError || stripeErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%s: %w: %s", op, ErrGatewayUnavailable, stripeErr.Msg)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	// No API response at all: network failure, timeout or cancelled context.
	g.metrics.GatewayError(op)
	return fmt.Errorf("%s: %w: %v", op, ErrGatewayUnavailable, err)
}

func customerIdempotencyKey(email string) string {
	return "customer-" + uuid.NewSHA1(customerKeyNamespace, []byte(email)).String()
}

func checkoutMetadata(plan models.PlanType, userID uint, email string) map[string]string {
	return map[string]string{
		metaPlan:      string(plan),
		metaUserID:    strconv.FormatUint(uint64(userID), 10),
		metaUserEmail: email,
	}
}

func withOrigin(meta map[string]string, origin string) map[string]string {
	out := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out[metaOrigin] = origin
	return out
}

func convertCheckoutSession(s *stripe.CheckoutSession) CheckoutSession {
	out := CheckoutSession{
		ID:              s.ID,
		URL:             s.URL,
		Status:          string(s.Status),
		PaymentStatus:   string(s.PaymentStatus),
		Mode:            string(s.Mode),
		CustomerEmail:   s.CustomerEmail,
		AmountTotal:     s.AmountTotal,
		Currency:        string(s.Currency),
		Metadata:        s.Metadata,
		ClientReference: s.ClientReferenceID,
		Created:         time.Unix(s.Created, 0),
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		out.CustomerEmail = s.CustomerDetails.Email
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
	}
	return out
}

func convertSubscription(sub *stripe.Subscription) Subscription {
	out := Subscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		Metadata: sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	// The billing period lives on the subscription items.
	if sub.Items != nil {
		var end int64
		for _, item := range sub.Items.Data {
			if item != nil && item.CurrentPeriodEnd > end {
				end = item.CurrentPeriodEnd
			}
		}
		if end > 0 {
			t := time.Unix(end, 0).UTC()
			out.CurrentPeriodEnd = &t
		}
	}
	if sub.LatestInvoice != nil && sub.LatestInvoice.ConfirmationSecret != nil {
		out.ClientSecret = sub.LatestInvoice.ConfirmationSecret.ClientSecret
	}
	return out
}
