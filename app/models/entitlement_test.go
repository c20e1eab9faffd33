package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEntitlementActiveAt(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-time.Hour)

	assert.False(t, Entitlement{}.ActiveAt(now))
	assert.False(t, Entitlement{IsPremium: true, PlanType: PlanNone}.ActiveAt(now))
	assert.True(t, Entitlement{IsPremium: true, PlanType: PlanLifetime}.ActiveAt(now))
	assert.True(t, Entitlement{IsPremium: true, PlanType: PlanMonthly, PremiumExpiresAt: &future}.ActiveAt(now))
	assert.False(t, Entitlement{IsPremium: true, PlanType: PlanMonthly, PremiumExpiresAt: &past}.ActiveAt(now))
}

func TestEntitlementDowngradedKeepsCustomer(t *testing.T) {
	started := time.Now().Add(-48 * time.Hour)
	expires := time.Now().Add(48 * time.Hour)
	e := Entitlement{
		IsPremium:             true,
		PlanType:              PlanMonthly,
		PremiumStartedAt:      &started,
		PremiumExpiresAt:      &expires,
		GatewayCustomerID:     "cus_1",
		GatewaySubscriptionID: "sub_1",
	}

	d := e.Downgraded()

	assert.False(t, d.IsPremium)
	assert.Equal(t, PlanNone, d.PlanType)
	assert.Nil(t, d.PremiumExpiresAt)
	assert.Empty(t, d.GatewaySubscriptionID)
	assert.Equal(t, "cus_1", d.GatewayCustomerID)
	assert.False(t, d.HasLiveSubscription())
	assert.True(t, e.HasLiveSubscription())
}

func TestPlanTypePurchasable(t *testing.T) {
	assert.True(t, PlanMonthly.Purchasable())
	assert.True(t, PlanLifetime.Purchasable())
	assert.False(t, PlanPromo.Purchasable())
	assert.False(t, PlanNone.Purchasable())
}

func TestUserDisabled(t *testing.T) {
	assert.False(t, (&User{Status: STATUS_ACTIVE}).Disabled())
	assert.False(t, (&User{}).Disabled())
	assert.True(t, (&User{Status: STATUS_DISABLED}).Disabled())
}
