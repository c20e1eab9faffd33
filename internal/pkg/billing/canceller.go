package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LinkFox/app/models"
)

type CancelResult struct {
	AlreadyCancelled bool `json:"already_cancelled"`
}

// Canceller ends a monthly subscription immediately and downgrades the user.
// For lifetime holders only the leftover subscription is ended.
type Canceller struct {
	store    EntitlementStore
	gateway  Gateway
	notifier Notifier
	metrics  *Metrics
}

// Cancel is safe to call repeatedly. A user without premium is reported as
// already cancelled, with any leftover subscription reference cleared.
func (c *Canceller) Cancel(ctx context.Context, userID uint) (CancelResult, error) {
	user, err := c.store.GetUserByID(ctx, userID)
	if err != nil {
		return CancelResult{}, err
	}
	e := user.Entitlement

	if !e.IsPremium {
		if e.GatewaySubscriptionID != "" || e.PlanType != models.PlanNone || e.PremiumExpiresAt != nil {
			if err := c.store.SaveEntitlement(ctx, user.ID, e.Downgraded()); err != nil {
				c.metrics.Cancellation("error")
				return CancelResult{}, fmt.Errorf("clear stale subscription for user %d: %w", user.ID, err)
			}
			log.Infof("[Billing] cleared stale subscription reference %q for user %d", e.GatewaySubscriptionID, user.ID)
			c.metrics.Cancellation("stale_cleared")
		} else {
			c.metrics.Cancellation("already_cancelled")
		}
		return CancelResult{AlreadyCancelled: true}, nil
	}

	// Lifetime holders can still carry the monthly subscription they had
	// before upgrading. Ending it must not revoke lifetime access.
	keepPremium := e.PlanType == models.PlanLifetime && e.GatewaySubscriptionID != ""
	if !e.HasLiveSubscription() && !keepPremium {
		c.metrics.Cancellation("rejected")
		return CancelResult{}, ErrNoCancellableSubscription
	}

	var res CancelResult
	_, err = c.gateway.CancelSubscription(ctx, e.GatewaySubscriptionID)
	switch {
	case err == nil:
	case errors.Is(err, ErrResourceMissing):
		log.Infof("[Billing] subscription %s of user %d already gone at gateway", e.GatewaySubscriptionID, user.ID)
		res.AlreadyCancelled = true
	case errors.Is(err, ErrGatewayUnavailable):
		// Unknown outcome. Access is revoked anyway; a still-live gateway
		// subscription is cleaned up by hand from the logs.
		log.Errorf("[Billing] cancel of subscription %s for user %d has unknown outcome, downgrading locally: %v",
			e.GatewaySubscriptionID, user.ID, err)
	default:
		c.metrics.Cancellation("error")
		return CancelResult{}, fmt.Errorf("cancel subscription %s: %w", e.GatewaySubscriptionID, err)
	}

	if keepPremium {
		if err := c.store.SaveEntitlement(ctx, user.ID, e.WithoutSubscription()); err != nil {
			c.metrics.Cancellation("error")
			return CancelResult{}, fmt.Errorf("clear subscription of user %d: %w", user.ID, err)
		}
		c.metrics.Cancellation("cancelled")
		log.Infof("[Billing] leftover subscription %s cancelled, user %d keeps lifetime access", e.GatewaySubscriptionID, user.ID)
		return res, nil
	}

	if err := c.store.SaveEntitlement(ctx, user.ID, e.Downgraded()); err != nil {
		c.metrics.Cancellation("error")
		return CancelResult{}, fmt.Errorf("downgrade user %d: %w", user.ID, err)
	}
	c.metrics.Cancellation("cancelled")
	log.Infof("[Billing] subscription %s cancelled, user %d downgraded", e.GatewaySubscriptionID, user.ID)

	if c.notifier != nil {
		if err := c.notifier.SubscriptionCancelled(ctx, models.NormalizeEmail(user.Email)); err != nil {
			log.Warnf("[Billing] cancellation mail for user %d not sent: %v", user.ID, err)
		}
	}
	return res, nil
}
