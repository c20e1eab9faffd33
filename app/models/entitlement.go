package models

import "time"

type PlanType string

const (
	PlanNone     PlanType = "none"
	PlanMonthly  PlanType = "monthly"
	PlanLifetime PlanType = "lifetime"
	PlanPromo    PlanType = "promo"
)

// Valid reports whether p is one of the known plan types.
// Purchasable reports whether p can be bought through the gateway.
func (p PlanType) Purchasable() bool {
	return p == PlanMonthly || p == PlanLifetime
}

// Entitlement is the premium state of a user. It is stored as columns on the
// users table and only mutated through the billing package.
type Entitlement struct {
	IsPremium             bool       `gorm:"default:false;index" json:"is_premium"`
	PlanType              PlanType   `gorm:"type:varchar(16);not null;default:'none'" json:"plan_type"`
	PremiumStartedAt      *time.Time `gorm:"type:timestamp;default:null" json:"started_at"`
	PremiumExpiresAt      *time.Time `gorm:"type:timestamp;default:null" json:"expires_at"`
	GatewayCustomerID     string     `gorm:"type:varchar(191);default:'';index" json:"gateway_customer_id,omitempty"`
	GatewaySubscriptionID string     `gorm:"type:varchar(191);default:'';index" json:"gateway_subscription_id,omitempty"`
}

// ActiveAt reports whether the entitlement grants premium access at t.
func (e Entitlement) ActiveAt(t time.Time) bool {
	if !e.IsPremium || e.PlanType == PlanNone {
		return false
	}
	if e.PremiumExpiresAt == nil {
		return true
	}
	return e.PremiumExpiresAt.After(t)
}

// HasLiveSubscription reports whether the entitlement references a monthly
// gateway subscription that can still be cancelled.
func (e Entitlement) HasLiveSubscription() bool {
	return e.GatewaySubscriptionID != "" && e.PlanType == PlanMonthly
}

// WithoutSubscription returns the entitlement with only the gateway
// subscription reference cleared.
func (e Entitlement) WithoutSubscription() Entitlement {
	e.GatewaySubscriptionID = ""
	return e
}

// Downgraded returns the entitlement with every premium field cleared. The
// customer id is kept so a later purchase reuses the same gateway customer.
func (e Entitlement) Downgraded() Entitlement {
	return Entitlement{
		IsPremium:         false,
		PlanType:          PlanNone,
		PremiumStartedAt:  e.PremiumStartedAt,
		GatewayCustomerID: e.GatewayCustomerID,
	}
}
