package billing

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LinkFox/app/models"
)

// customerResolver maps users to gateway customer ids: stored column first,
// then the cache, then a gateway lookup by email.
type customerResolver struct {
	store   EntitlementStore
	gateway Gateway
	cache   CustomerCache
}

// lookup returns the user's customer id or "" when the gateway has none.
func (r *customerResolver) lookup(ctx context.Context, user *models.User) (string, error) {
	if id := user.Entitlement.GatewayCustomerID; id != "" {
		return id, nil
	}

	email := models.NormalizeEmail(user.Email)
	if r.cache != nil {
		if id, err := r.cache.GetCustomerID(ctx, email); err != nil {
			log.Warnf("[Billing] customer cache read for %s failed: %v", email, err)
		} else if id != "" {
			r.remember(ctx, user, id)
			return id, nil
		}
	}

	ids, err := r.gateway.ListCustomers(ctx, email)
	if err != nil {
		return "", fmt.Errorf("list customers for %s: %w", email, err)
	}
	if len(ids) == 0 {
		return "", nil
	}
	r.remember(ctx, user, ids[0])
	return ids[0], nil
}

// resolveOrCreate is lookup plus customer creation when none exists.
func (r *customerResolver) resolveOrCreate(ctx context.Context, user *models.User) (string, error) {
	id, err := r.lookup(ctx, user)
	if err != nil || id != "" {
		return id, err
	}

	id, err = r.gateway.CreateCustomer(ctx, models.NormalizeEmail(user.Email))
	if err != nil {
		return "", fmt.Errorf("create customer for user %d: %w", user.ID, err)
	}
	log.Infof("[Billing] created gateway customer %s for user %d", id, user.ID)
	r.remember(ctx, user, id)
	return id, nil
}

// remember persists a customer id best-effort. It can always be re-derived
// from the email, so failures are only logged.
func (r *customerResolver) remember(ctx context.Context, user *models.User, id string) {
	if user.Entitlement.GatewayCustomerID != id {
		if err := r.store.SetGatewayCustomerID(ctx, user.ID, id); err != nil {
			log.Warnf("[Billing] could not persist customer id %s for user %d: %v", id, user.ID, err)
		} else {
			user.Entitlement.GatewayCustomerID = id
		}
	}
	if r.cache != nil {
		if err := r.cache.SetCustomerID(ctx, models.NormalizeEmail(user.Email), id); err != nil {
			log.Warnf("[Billing] customer cache write for user %d failed: %v", user.ID, err)
		}
	}
}
