package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/LinkFox/internal/pkg/config"
)

func TestBillingConfig(t *testing.T) {
	cfg, err := config.Parse(map[string]string{
		"APP_PUBLIC_URL":        "https://linkfox.app/",
		"STRIPE_PRICE_MONTHLY":  "price_m",
		"STRIPE_PRICE_LIFETIME": "price_l",
		"STRIPE_WEBHOOK_SECRET": "whsec_1",
	})
	require.NoError(t, err)

	bc := BillingConfig(cfg)
	assert.Equal(t, "price_m", bc.MonthlyPriceID)
	assert.Equal(t, "price_l", bc.LifetimePriceID)
	assert.Equal(t, "https://linkfox.app/billing/success?session_id={CHECKOUT_SESSION_ID}", bc.SuccessURL)
	assert.Equal(t, "https://linkfox.app/billing/cancelled", bc.CancelURL)
	assert.Equal(t, "whsec_1", bc.WebhookSecret)
	assert.Equal(t, 5*time.Minute, bc.WebhookTolerance)
}
