package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v83"
	"gorm.io/gorm"

	"github.com/ManuelReschke/LinkFox/app/models"
)

// Ack is the ingestor's answer for a verified delivery. The HTTP layer always
// acknowledges it with 200.
type Ack struct {
	EventID   string
	EventType string
	Ignored   bool
	Duplicate bool
	Applied   bool
	Err       error
}

// webhook payload shapes, decoded from event.data.object.
type webhookCheckoutSession struct {
	ID              string `json:"id"`
	Mode            string `json:"mode"`
	Status          string `json:"status"`
	PaymentStatus   string `json:"payment_status"`
	Customer        string `json:"customer"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Subscription      string            `json:"subscription"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type webhookSubscriptionDetails struct {
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type webhookInvoice struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	CustomerEmail string `json:"customer_email"`
	AmountPaid    int64  `json:"amount_paid"`
	AmountDue     int64  `json:"amount_due"`
	Currency      string `json:"currency"`
	BillingReason string `json:"billing_reason"`
	// Pre-2025 API versions put the subscription on the invoice itself.
	Subscription        string                      `json:"subscription"`
	SubscriptionDetails *webhookSubscriptionDetails `json:"subscription_details"`
	Parent              *struct {
		SubscriptionDetails *webhookSubscriptionDetails `json:"subscription_details"`
	} `json:"parent"`
	Metadata map[string]string `json:"metadata"`
}

func (inv webhookInvoice) subscription() (string, map[string]string) {
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return inv.Parent.SubscriptionDetails.Subscription, inv.Parent.SubscriptionDetails.Metadata
	}
	var meta map[string]string
	if inv.SubscriptionDetails != nil {
		meta = inv.SubscriptionDetails.Metadata
	}
	return inv.Subscription, meta
}

type webhookPaymentIntent struct {
	ID             string            `json:"id"`
	Customer       string            `json:"customer"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	ReceiptEmail   string            `json:"receipt_email"`
	Metadata       map[string]string `json:"metadata"`
}

type webhookSubscription struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

// errIgnored marks events that are understood but need no action.
var errIgnored = errors.New("event ignored")

// Ingestor verifies gateway webhooks and turns them into facts for the
// Applier.
type Ingestor struct {
	applier  *Applier
	gateway  Gateway
	events   WebhookEventStore
	archiver Archiver
	metrics  *Metrics
	cfg      Config
}

// Handle verifies and processes one delivery. Only a signature failure or a
// missing signing secret returns an error; everything after that is logged and acknowledged so the
// gateway does not redeliver events that cannot succeed on retry.
func (i *Ingestor) Handle(ctx context.Context, payload []byte, signature string) (Ack, error) {
	event, err := VerifyWebhookSignature(payload, signature, i.cfg.WebhookSecret, i.cfg.WebhookTolerance)
	if errors.Is(err, ErrGatewayNotConfigured) {
		i.metrics.Webhook("unknown", "not_configured")
		log.Errorf("[Webhook] cannot verify delivery: %v", err)
		return Ack{}, err
	}
	if err != nil {
		i.metrics.Webhook("unknown", "invalid_signature")
		log.Warnf("[Webhook] rejected delivery: %v", err)
		return Ack{}, err
	}

	ack := Ack{EventID: event.ID, EventType: string(event.Type)}

	var stored *models.BillingWebhookEvent
	if i.events != nil {
		created, rec, err := i.events.CreateWebhookEventIfNotExists(ctx, &models.BillingWebhookEvent{
			Provider:        models.BillingProviderStripe,
			ProviderEventID: event.ID,
			EventType:       string(event.Type),
			PayloadJSON:     string(payload),
		})
		switch {
		case err != nil:
			log.Errorf("[Webhook] could not record event %s (%s): %v", event.ID, event.Type, err)
		case !created && rec.Processed():
			ack.Duplicate = true
			i.metrics.Webhook(ack.EventType, "duplicate")
			log.Infof("[Webhook] event %s already processed, acknowledging", event.ID)
			return ack, nil
		default:
			stored = rec
			if created && i.archiver != nil {
				if err := i.archiver.ArchiveWebhook(ctx, event.ID, string(event.Type), payload); err != nil {
					log.Warnf("[Webhook] archive of %s failed: %v", event.ID, err)
				}
			}
		}
	}

	i.process(ctx, &ack, event, SourceWebhook)

	if stored != nil {
		msg := ""
		if ack.Err != nil {
			msg = ack.Err.Error()
		}
		if err := i.events.MarkWebhookProcessed(ctx, stored.ID, msg); err != nil {
			log.Errorf("[Webhook] could not mark event %s processed: %v", event.ID, err)
		}
	}
	return ack, nil
}

// Replay re-dispatches a previously recorded event. The payload was verified
// when it was first received, so the signature is not checked again.
func (i *Ingestor) Replay(ctx context.Context, eventID string) (Ack, error) {
	if i.events == nil {
		return Ack{}, errors.New("webhook event store not configured")
	}
	stored, err := i.events.GetWebhookEvent(ctx, models.BillingProviderStripe, eventID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Ack{}, fmt.Errorf("load event %s: %w", eventID, ErrEventNotFound)
	}
	if err != nil {
		return Ack{}, fmt.Errorf("load event %s: %w", eventID, err)
	}

	var event stripe.Event
	if err := json.Unmarshal([]byte(stored.PayloadJSON), &event); err != nil {
		return Ack{}, fmt.Errorf("decode stored event %s: %w", eventID, err)
	}

	ack := Ack{EventID: event.ID, EventType: string(event.Type)}
	i.process(ctx, &ack, event, SourceReplay)

	msg := ""
	if ack.Err != nil {
		msg = ack.Err.Error()
	}
	if err := i.events.MarkWebhookProcessed(ctx, stored.ID, msg); err != nil {
		return ack, err
	}
	return ack, ack.Err
}

func (i *Ingestor) process(ctx context.Context, ack *Ack, event stripe.Event, source string) {
	if event.Data == nil {
		ack.Err = errors.New("event has no data object")
		i.metrics.Webhook(ack.EventType, "error")
		log.Errorf("[Webhook] event %s (%s) has no data object", event.ID, event.Type)
		return
	}

	fact, outcome, err := i.buildFact(ctx, string(event.Type), event.Data.Raw)
	if err == nil {
		fact.Source = source + ":" + string(event.Type)
		var res ApplyResult
		res, err = i.applier.Apply(ctx, fact, outcome)
		ack.Applied = res.Applied
		if err != nil {
			log.Errorf("[Webhook] event %s (%s) for %s, external id %s: %v",
				event.ID, event.Type, fact.UserEmail, fact.ExternalID, err)
		}
	}

	switch {
	case errors.Is(err, errIgnored):
		ack.Ignored = true
		i.metrics.Webhook(ack.EventType, "ignored")
	case err != nil:
		ack.Err = err
		i.metrics.Webhook(ack.EventType, "error")
		if fact.ExternalID == "" {
			log.Errorf("[Webhook] event %s (%s) could not be processed: %v", event.ID, event.Type, err)
		}
	default:
		i.metrics.Webhook(ack.EventType, "processed")
	}
}

func (i *Ingestor) buildFact(ctx context.Context, eventType string, raw json.RawMessage) (Fact, Outcome, error) {
	switch eventType {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var s webhookCheckoutSession
		if err := json.Unmarshal(raw, &s); err != nil {
			return Fact{}, "", fmt.Errorf("decode checkout session: %w", err)
		}
		return i.checkoutFact(ctx, s)

	case "invoice.paid", "invoice.payment_succeeded":
		var inv webhookInvoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return Fact{}, "", fmt.Errorf("decode invoice: %w", err)
		}
		return i.invoiceFact(ctx, inv, OutcomeSucceeded)

	case "invoice.payment_failed":
		var inv webhookInvoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return Fact{}, "", fmt.Errorf("decode invoice: %w", err)
		}
		return i.invoiceFact(ctx, inv, OutcomeFailed)

	case "payment_intent.succeeded":
		var pi webhookPaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return Fact{}, "", fmt.Errorf("decode payment intent: %w", err)
		}
		return i.paymentIntentFact(ctx, pi)

	case "customer.subscription.deleted":
		var sub webhookSubscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return Fact{}, "", fmt.Errorf("decode subscription: %w", err)
		}
		email, err := i.resolveEmail(ctx, sub.Customer, sub.Metadata[metaUserEmail])
		if err != nil {
			return Fact{}, "", err
		}
		return Fact{
			Kind:           FactSubscriptionCancelled,
			UserEmail:      email,
			CustomerID:     sub.Customer,
			SubscriptionID: sub.ID,
		}, OutcomeSucceeded, nil

	default:
		return Fact{}, "", errIgnored
	}
}

func (i *Ingestor) checkoutFact(ctx context.Context, s webhookCheckoutSession) (Fact, Outcome, error) {
	if s.PaymentStatus != "paid" {
		// Delayed payment methods complete via async_payment_succeeded.
		return Fact{}, "", errIgnored
	}
	plan := planFromMetadata(s.Metadata, s.Mode)
	if plan == "" {
		return Fact{}, "", errIgnored
	}

	detailsEmail := ""
	if s.CustomerDetails != nil {
		detailsEmail = s.CustomerDetails.Email
	}
	email, err := i.resolveEmail(ctx, s.Customer, detailsEmail, s.Metadata[metaUserEmail], s.CustomerEmail)
	if err != nil {
		return Fact{}, "", err
	}

	fact := Fact{
		Kind:             FactCheckoutCompleted,
		ExternalID:       s.ID,
		UserEmail:        email,
		PlanType:         plan,
		AmountMinorUnits: s.AmountTotal,
		Currency:         s.Currency,
		CustomerID:       s.Customer,
		SubscriptionID:   s.Subscription,
	}
	if s.Subscription != "" {
		i.resolveSubscription(ctx, &fact)
	}
	return fact, OutcomeSucceeded, nil
}

func (i *Ingestor) invoiceFact(ctx context.Context, inv webhookInvoice, outcome Outcome) (Fact, Outcome, error) {
	subID, subMeta := inv.subscription()
	if subID == "" {
		// One-off invoices are not part of the premium plans.
		return Fact{}, "", errIgnored
	}
	if outcome == OutcomeSucceeded && inv.BillingReason == "subscription_create" && subMeta[metaOrigin] == originCheckout {
		// The first invoice of a checkout subscription is the checkout
		// session's payment and is recorded under the session id.
		return Fact{}, "", errIgnored
	}

	amount := inv.AmountPaid
	if outcome == OutcomeFailed {
		amount = inv.AmountDue
	}
	if amount == 0 {
		return Fact{}, "", errIgnored
	}

	email, err := i.resolveEmail(ctx, inv.Customer, inv.CustomerEmail, subMeta[metaUserEmail], inv.Metadata[metaUserEmail])
	if err != nil {
		return Fact{}, "", err
	}

	fact := Fact{
		Kind:             FactInvoice,
		ExternalID:       inv.ID,
		UserEmail:        email,
		PlanType:         models.PlanMonthly,
		AmountMinorUnits: amount,
		Currency:         inv.Currency,
		CustomerID:       inv.Customer,
		SubscriptionID:   subID,
	}
	if outcome == OutcomeSucceeded {
		i.resolveSubscription(ctx, &fact)
	}
	return fact, outcome, nil
}

func (i *Ingestor) paymentIntentFact(ctx context.Context, pi webhookPaymentIntent) (Fact, Outcome, error) {
	if pi.Metadata[metaOrigin] == originCheckout {
		return Fact{}, "", errIgnored
	}
	if models.PlanType(pi.Metadata[metaPlan]) != models.PlanLifetime {
		// Subscription invoices and unrelated charges also emit this event.
		return Fact{}, "", errIgnored
	}

	email, err := i.resolveEmail(ctx, pi.Customer, pi.ReceiptEmail, pi.Metadata[metaUserEmail])
	if err != nil {
		return Fact{}, "", err
	}
	return Fact{
		Kind:             FactOneTimePayment,
		ExternalID:       pi.ID,
		UserEmail:        email,
		PlanType:         models.PlanLifetime,
		AmountMinorUnits: pi.AmountReceived,
		Currency:         pi.Currency,
		CustomerID:       pi.Customer,
	}, OutcomeSucceeded, nil
}

// resolveEmail returns the first non-empty candidate, falling back to the
// gateway customer record.
func (i *Ingestor) resolveEmail(ctx context.Context, customerID string, candidates ...string) (string, error) {
	for _, c := range candidates {
		if e := models.NormalizeEmail(c); e != "" {
			return e, nil
		}
	}
	if customerID == "" {
		return "", errors.New("no email in payload and no customer to look up")
	}
	c, err := i.gateway.RetrieveCustomer(ctx, customerID)
	if err != nil {
		return "", fmt.Errorf("retrieve customer %s: %w", customerID, err)
	}
	if e := models.NormalizeEmail(c.Email); e != "" {
		return e, nil
	}
	return "", fmt.Errorf("customer %s has no email", customerID)
}

// resolveSubscription fills the period end and the active flag. A failed
// lookup leaves both unset so the Applier falls back to now + 1 month.
func (i *Ingestor) resolveSubscription(ctx context.Context, fact *Fact) {
	sub, err := i.gateway.RetrieveSubscription(ctx, fact.SubscriptionID)
	switch {
	case errors.Is(err, ErrResourceMissing):
		fact.SubscriptionInactive = true
		log.Warnf("[Webhook] subscription %s for %s no longer exists", fact.SubscriptionID, fact.ExternalID)
	case err != nil:
		log.Warnf("[Webhook] subscription %s lookup failed, using fallback expiry: %v", fact.SubscriptionID, err)
	default:
		fact.PeriodEnd = sub.CurrentPeriodEnd
		fact.SubscriptionInactive = !isEntitlingStatus(sub.Status)
	}
}
