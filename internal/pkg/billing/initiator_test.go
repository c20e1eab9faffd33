package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/LinkFox/app/models"
)

type mapCache map[string]string

func (c mapCache) GetCustomerID(_ context.Context, email string) (string, error) {
	return c[email], nil
}

func (c mapCache) SetCustomerID(_ context.Context, email, id string) error {
	c[email] = id
	return nil
}

func TestStartCheckoutCreatesCustomerOnce(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser(1, "Ada@Example.com", models.Entitlement{})
	gw := newFakeGateway()
	cache := mapCache{}
	svc := newTestService(repo, gw, WithCustomerCache(cache))
	ctx := context.Background()

	res, err := svc.Initiator.StartCheckout(ctx, 1, "monthly")
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)
	assert.Contains(t, res.URL, res.SessionID)
	assert.Equal(t, "price_monthly", gw.lastCheckout.PriceID)
	assert.Equal(t, models.PlanMonthly, gw.lastCheckout.Plan)
	assert.Equal(t, "ada@example.com", gw.lastCheckout.UserEmail)

	customerID := repo.user(1).Entitlement.GatewayCustomerID
	assert.NotEmpty(t, customerID)
	assert.Equal(t, customerID, cache["ada@example.com"])

	_, err = svc.Initiator.StartCheckout(ctx, 1, "lifetime")
	require.NoError(t, err)
	assert.Equal(t, "price_lifetime", gw.lastCheckout.PriceID)
	assert.Equal(t, customerID, gw.lastCheckout.CustomerID)
	assert.Equal(t, 1, gw.createdCustomers)
}

func TestStartCheckoutReusesExistingGatewayCustomer(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser(1, "ada@example.com", models.Entitlement{})
	gw := newFakeGateway()
	gw.addCustomer("cus_existing", "ada@example.com")
	svc := newTestService(repo, gw)

	_, err := svc.Initiator.StartCheckout(context.Background(), 1, "monthly")
	require.NoError(t, err)
	assert.Equal(t, "cus_existing", gw.lastCheckout.CustomerID)
	assert.Equal(t, 0, gw.createdCustomers)
	assert.Equal(t, "cus_existing", repo.user(1).Entitlement.GatewayCustomerID)
}

func TestStartCheckoutValidation(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser(1, "ada@example.com", models.Entitlement{})
	gw := newFakeGateway()
	svc := newTestService(repo, gw)
	ctx := context.Background()

	_, err := svc.Initiator.StartCheckout(ctx, 1, "yearly")
	assert.ErrorIs(t, err, ErrInvalidPlan)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "plan must be one of: monthly, lifetime", verr.Message)

	_, err = svc.Initiator.StartCheckout(ctx, 99, "monthly")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Equal(t, 0, gw.createdCustomers)
}

func TestStartCheckoutNotConfigured(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser(1, "ada@example.com", models.Entitlement{})
	svc := NewService(repo, newFakeGateway(), Config{MonthlyPriceID: "price_monthly"})

	_, err := svc.Initiator.StartCheckout(context.Background(), 1, "lifetime")
	assert.ErrorIs(t, err, ErrGatewayNotConfigured)

	_, err = svc.Initiator.StartCheckout(context.Background(), 1, "monthly")
	assert.ErrorIs(t, err, ErrGatewayNotConfigured)
}

func TestStartSubscription(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser(1, "ada@example.com", models.Entitlement{GatewayCustomerID: "cus_1"})
	gw := newFakeGateway()
	svc := newTestService(repo, gw)
	ctx := context.Background()

	_, err := svc.Initiator.StartSubscription(ctx, 1, "lifetime", "pm_1")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Initiator.StartSubscription(ctx, 1, "monthly", " ")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	res, err := svc.Initiator.StartSubscription(ctx, 1, "monthly", "pm_1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.SubscriptionID)
	assert.Equal(t, "pi_secret_test", res.ClientSecret)
	assert.Equal(t, "incomplete", res.Status)
	assert.Equal(t, "cus_1", gw.lastSubscription.CustomerID)
	assert.Equal(t, "pm_1", gw.lastSubscription.PaymentMethodID)
	assert.Equal(t, "price_monthly", gw.lastSubscription.PriceID)

	// Granted only once the invoice is paid.
	assert.False(t, repo.user(1).Entitlement.IsPremium)
}

func TestDisabledUserCannotStartPurchases(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser(1, "ada@example.com", models.Entitlement{}).Status = models.STATUS_DISABLED
	gw := newFakeGateway()
	svc := newTestService(repo, gw)
	ctx := context.Background()

	_, err := svc.Initiator.StartCheckout(ctx, 1, "monthly")
	assert.ErrorIs(t, err, ErrAccountDisabled)

	_, err = svc.Initiator.StartSubscription(ctx, 1, "monthly", "pm_1")
	assert.ErrorIs(t, err, ErrAccountDisabled)

	assert.Zero(t, gw.createdCustomers)
	assert.Empty(t, gw.lastCheckout.PriceID)
	assert.Empty(t, gw.lastSubscription.PriceID)
	assert.Empty(t, repo.user(1).Entitlement.GatewayCustomerID)
}
