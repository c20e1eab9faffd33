package billing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/LinkFox/app/models"
)

// FactKind tags the gateway event a Fact was derived from.
type FactKind string

const (
	FactCheckoutCompleted     FactKind = "checkout_completed"
	FactInvoice               FactKind = "invoice"
	FactOneTimePayment        FactKind = "one_time_payment"
	FactSubscriptionCancelled FactKind = "subscription_cancelled"
)

// Entitling reports whether a succeeded fact of this kind grants premium.
func (k FactKind) Entitling() bool {
	switch k {
	case FactCheckoutCompleted, FactInvoice, FactOneTimePayment:
		return true
	default:
		return false
	}
}

type Outcome string

const (
	OutcomeSucceeded Outcome = models.LedgerStatusSucceeded
	OutcomeFailed    Outcome = models.LedgerStatusFailed
)

// Provenance tags written to LedgerEntry.SourceEvent.
const (
	SourceWebhook            = "webhook"
	SourceVerifySession      = "verify_session"
	SourceCheckPaymentStatus = "check_payment_status"
	SourceReplay             = "replay"
)

// Fact is a normalized statement that a payment or subscription event
// happened at the gateway. Every path that changes billing state builds one
// and hands it to the Applier.
type Fact struct {
	Kind             FactKind
	ExternalID       string
	UserEmail        string
	PlanType         models.PlanType
	AmountMinorUnits int64
	Currency         string
	CustomerID       string
	SubscriptionID   string
	PeriodEnd        *time.Time

	// SubscriptionInactive is set when the gateway reports the subscription
	// behind this fact as no longer entitling (e.g. an invoice that arrives
	// after the user cancelled).
	SubscriptionInactive bool

	Source string
}

func (f Fact) validate() error {
	if f.Kind == "" {
		return validationError("fact kind is required")
	}
	if strings.TrimSpace(f.UserEmail) == "" {
		return validationError("fact user email is required")
	}
	if f.Kind == FactSubscriptionCancelled {
		if f.SubscriptionID == "" {
			return validationError("subscription id is required for cancellation facts")
		}
		return nil
	}
	if strings.TrimSpace(f.ExternalID) == "" {
		return validationError("fact external id is required")
	}
	if f.PlanType != models.PlanMonthly && f.PlanType != models.PlanLifetime {
		return validationError("fact plan must be monthly or lifetime")
	}
	return nil
}

// ledgerKey is the idempotency key for the ledger row. Failed attempts get a
// suffix so a later successful payment of the same invoice still applies.
func (f Fact) ledgerKey(outcome Outcome) string {
	if outcome == OutcomeFailed {
		return f.ExternalID + ":failed"
	}
	return f.ExternalID
}

func (f Fact) sourceTag() string {
	if f.Source == "" {
		return "unknown"
	}
	return f.Source
}

// minorToDecimal converts gateway minor units (cents) into the ledger amount.
func minorToDecimal(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

func normalizeCurrency(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return "eur"
	}
	return c
}
