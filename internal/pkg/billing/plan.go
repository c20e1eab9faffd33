package billing

import (
	"strings"
	"time"

	"github.com/ManuelReschke/LinkFox/app/models"
)

// parsePurchasablePlan validates a plan requested by a client.
func parsePurchasablePlan(plan string) (models.PlanType, error) {
	p := models.PlanType(strings.ToLower(strings.TrimSpace(plan)))
	if p == "" {
		return "", &ValidationError{Message: "plan is required", Kind: ErrInvalidPlan}
	}
	if !p.Purchasable() {
		return "", &ValidationError{Message: "plan must be one of: monthly, lifetime", Kind: ErrInvalidPlan}
	}
	return p, nil
}

// planFromMetadata resolves the plan of a checkout session. Metadata written
// by the initiator wins; sessions created elsewhere fall back to their mode.
func planFromMetadata(metadata map[string]string, mode string) models.PlanType {
	if p := models.PlanType(strings.ToLower(strings.TrimSpace(metadata[metaPlan]))); p.Purchasable() {
		return p
	}
	switch strings.ToLower(mode) {
	case "subscription":
		return models.PlanMonthly
	case "payment":
		return models.PlanLifetime
	default:
		return ""
	}
}

// isEntitlingStatus reports whether a gateway subscription status still
// grants premium access.
func isEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing", "past_due":
		return true
	default:
		return false
	}
}

// monthlyFallbackExpiry is used when a monthly fact has no resolvable period
// end. Calendar overflow follows time.AddDate (Jan 31 + 1 month = Mar 3).
func monthlyFallbackExpiry(now time.Time) time.Time {
	return now.AddDate(0, 1, 0)
}
