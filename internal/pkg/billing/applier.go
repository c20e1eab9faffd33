package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/LinkFox/app/models"
)

// ApplyResult reports what the Applier changed.
type ApplyResult struct {
	// Applied is true when this call inserted the ledger row (or, for a
	// cancellation fact, downgraded the entitlement).
	Applied            bool
	EntitlementUpdated bool
}

// Applier applies gateway facts to the ledger and the entitlement exactly
// once per external id. It is the only writer of ledger rows.
type Applier struct {
	ledger       LedgerStore
	entitlements EntitlementStore
	notifier     Notifier
	metrics      *Metrics
	now          func() time.Time
}

func newApplier(repo Repository, notifier Notifier, metrics *Metrics, now func() time.Time) *Applier {
	return &Applier{
		ledger:       repo,
		entitlements: repo,
		notifier:     notifier,
		metrics:      metrics,
		now:          now,
	}
}

// Apply records the fact in the ledger and, for succeeded entitling facts,
// grants the entitlement. A duplicate external id is a no-op. A failed
// entitlement update is returned as an error but never rolls back the ledger
// row that was already written.
func (a *Applier) Apply(ctx context.Context, fact Fact, outcome Outcome) (ApplyResult, error) {
	if err := fact.validate(); err != nil {
		return ApplyResult{}, err
	}
	fact.UserEmail = models.NormalizeEmail(fact.UserEmail)

	if fact.Kind == FactSubscriptionCancelled {
		return a.applyCancellation(ctx, fact)
	}

	key := fact.ledgerKey(outcome)
	existing, err := a.ledger.FindLedgerEntry(ctx, key)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		a.metrics.Fact(fact.Kind, "error")
		return ApplyResult{}, fmt.Errorf("lookup ledger entry %s: %w", key, err)
	}
	if existing != nil {
		a.metrics.Fact(fact.Kind, "duplicate")
		log.Infof("[Billing] fact %s already recorded (source=%s), skipping", key, fact.sourceTag())
		return ApplyResult{}, nil
	}

	entry := &models.LedgerEntry{
		ExternalID:  key,
		UserEmail:   fact.UserEmail,
		PlanType:    fact.PlanType,
		Amount:      minorToDecimal(fact.AmountMinorUnits),
		Currency:    normalizeCurrency(fact.Currency),
		Status:      string(outcome),
		SourceEvent: fact.sourceTag(),
	}
	created, err := a.ledger.CreateLedgerEntryIfNotExists(ctx, entry)
	if err != nil {
		a.metrics.Fact(fact.Kind, "error")
		return ApplyResult{}, fmt.Errorf("insert ledger entry %s: %w", key, err)
	}
	if !created {
		// Lost the race against a concurrent apply of the same fact.
		a.metrics.Fact(fact.Kind, "duplicate")
		log.Infof("[Billing] fact %s inserted concurrently (source=%s), skipping", key, fact.sourceTag())
		return ApplyResult{}, nil
	}

	res := ApplyResult{Applied: true}
	a.metrics.Fact(fact.Kind, "applied")
	log.Infof("[Billing] recorded %s %s for %s: %s %s (source=%s)",
		outcome, key, fact.UserEmail, entry.Amount.StringFixed(2), entry.Currency, fact.sourceTag())

	if outcome != OutcomeSucceeded || !fact.Kind.Entitling() {
		return res, nil
	}
	if fact.SubscriptionInactive {
		log.Warnf("[Billing] subscription %s is no longer active, %s recorded without entitlement change", fact.SubscriptionID, key)
		return res, nil
	}

	if err := a.grant(ctx, fact); err != nil {
		a.metrics.Fact(fact.Kind, "entitlement_error")
		log.Errorf("[Billing] ledger entry %s kept but entitlement update for %s failed: %v", key, fact.UserEmail, err)
		return res, fmt.Errorf("update entitlement for %s: %w", fact.UserEmail, err)
	}
	res.EntitlementUpdated = true

	if a.notifier != nil {
		if err := a.notifier.PaymentReceived(ctx, fact.UserEmail, *entry); err != nil {
			log.Warnf("[Billing] payment receipt for %s not sent: %v", key, err)
		}
	}
	return res, nil
}

// Reaffirm performs only the entitlement half of Apply. The verification path
// uses it when the ledger already holds the fact but the entitlement update
// that should have followed it did not happen.
func (a *Applier) Reaffirm(ctx context.Context, fact Fact) error {
	if err := fact.validate(); err != nil {
		return err
	}
	if !fact.Kind.Entitling() || fact.SubscriptionInactive {
		return nil
	}
	fact.UserEmail = models.NormalizeEmail(fact.UserEmail)
	return a.grant(ctx, fact)
}

func (a *Applier) grant(ctx context.Context, fact Fact) error {
	user, err := a.entitlements.GetUserByEmail(ctx, fact.UserEmail)
	if err != nil {
		return err
	}

	if user.Entitlement.IsPremium && user.Entitlement.PlanType == models.PlanLifetime && fact.PlanType == models.PlanMonthly {
		log.Infof("[Billing] %s already holds lifetime access, monthly fact %s does not change it", fact.UserEmail, fact.ExternalID)
		return nil
	}

	now := a.now()
	e := user.Entitlement
	samePlan := e.IsPremium && e.PlanType == fact.PlanType

	e.IsPremium = true
	e.PlanType = fact.PlanType
	if !samePlan || e.PremiumStartedAt == nil {
		e.PremiumStartedAt = &now
	}

	switch fact.PlanType {
	case models.PlanLifetime:
		e.PremiumExpiresAt = nil
		if user.Entitlement.HasLiveSubscription() {
			log.Warnf("[Billing] %s bought lifetime while subscription %s is still live", fact.UserEmail, user.Entitlement.GatewaySubscriptionID)
		}
	case models.PlanMonthly:
		if fact.PeriodEnd != nil && !fact.PeriodEnd.IsZero() {
			end := fact.PeriodEnd.UTC()
			e.PremiumExpiresAt = &end
		} else {
			end := monthlyFallbackExpiry(now)
			e.PremiumExpiresAt = &end
			log.Warnf("[Billing] no period end for %s, expiry falls back to %s", fact.ExternalID, end.Format(time.RFC3339))
		}
	}
	if fact.SubscriptionID != "" {
		e.GatewaySubscriptionID = fact.SubscriptionID
	}

	if err := a.entitlements.SaveEntitlement(ctx, user.ID, e); err != nil {
		return err
	}

	if fact.CustomerID != "" && user.Entitlement.GatewayCustomerID == "" {
		if err := a.entitlements.SetGatewayCustomerID(ctx, user.ID, fact.CustomerID); err != nil {
			log.Warnf("[Billing] could not store customer id %s for user %d: %v", fact.CustomerID, user.ID, err)
		}
	}
	return nil
}

// applyCancellation handles a subscription ended at the gateway. It only
// downgrades when the ended subscription is the one the user still holds.
func (a *Applier) applyCancellation(ctx context.Context, fact Fact) (ApplyResult, error) {
	user, err := a.entitlements.GetUserByEmail(ctx, fact.UserEmail)
	if err != nil {
		a.metrics.Fact(fact.Kind, "error")
		return ApplyResult{}, err
	}
	if user.Entitlement.GatewaySubscriptionID != fact.SubscriptionID {
		a.metrics.Fact(fact.Kind, "duplicate")
		log.Infof("[Billing] subscription %s ended but user %d holds %q, nothing to downgrade",
			fact.SubscriptionID, user.ID, user.Entitlement.GatewaySubscriptionID)
		return ApplyResult{}, nil
	}
	// A leftover monthly subscription of a lifetime holder ends without
	// touching the premium state.
	if user.Entitlement.PlanType != models.PlanMonthly {
		if err := a.entitlements.SaveEntitlement(ctx, user.ID, user.Entitlement.WithoutSubscription()); err != nil {
			a.metrics.Fact(fact.Kind, "error")
			return ApplyResult{}, fmt.Errorf("clear subscription of user %d: %w", user.ID, err)
		}
		a.metrics.Fact(fact.Kind, "applied")
		log.Infof("[Billing] subscription %s ended at gateway, user %d keeps %s access",
			fact.SubscriptionID, user.ID, user.Entitlement.PlanType)
		return ApplyResult{Applied: true, EntitlementUpdated: true}, nil
	}
	if err := a.entitlements.SaveEntitlement(ctx, user.ID, user.Entitlement.Downgraded()); err != nil {
		a.metrics.Fact(fact.Kind, "error")
		return ApplyResult{}, fmt.Errorf("downgrade user %d: %w", user.ID, err)
	}
	a.metrics.Fact(fact.Kind, "applied")
	log.Infof("[Billing] subscription %s ended at gateway, user %d downgraded", fact.SubscriptionID, user.ID)
	return ApplyResult{Applied: true, EntitlementUpdated: true}, nil
}
