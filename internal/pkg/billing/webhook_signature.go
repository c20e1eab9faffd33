package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"
)

// VerifyWebhookSignature checks the Stripe-Signature header against the
// signing secret and returns the decoded event. A missing secret is a
// configuration fault (ErrGatewayNotConfigured); every other failure is
// reported as ErrInvalidSignature.
func VerifyWebhookSignature(payload []byte, signatureHeader, webhookSecret string, tolerance time.Duration) (stripe.Event, error) {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if secret == "" {
		return stripe.Event{}, fmt.Errorf("%w: webhook secret missing", ErrGatewayNotConfigured)
	}
	if sig == "" {
		return stripe.Event{}, ErrInvalidSignature
	}
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	event, err := webhook.ConstructEventWithOptions(payload, sig, secret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}
