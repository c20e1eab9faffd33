package bootstrap

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/ManuelReschke/LinkFox/internal/pkg/archive"
	"github.com/ManuelReschke/LinkFox/internal/pkg/billing"
	"github.com/ManuelReschke/LinkFox/internal/pkg/cache"
	"github.com/ManuelReschke/LinkFox/internal/pkg/config"
	"github.com/ManuelReschke/LinkFox/internal/pkg/mail"
)

// BillingConfig derives the billing settings from the process configuration.
func BillingConfig(cfg *config.Config) billing.Config {
	base := strings.TrimRight(cfg.App.PublicURL, "/")
	return billing.Config{
		MonthlyPriceID:   cfg.Stripe.MonthlyPriceID,
		LifetimePriceID:  cfg.Stripe.LifetimePriceID,
		SuccessURL:       base + cfg.Stripe.SuccessPath,
		CancelURL:        base + cfg.Stripe.CancelPath,
		WebhookSecret:    cfg.Stripe.WebhookSecret,
		WebhookTolerance: cfg.Stripe.WebhookTolerance,
	}
}

// NewBillingService wires the billing service with its optional
// collaborators. Cache, mail and archive failures degrade to running without
// them.
func NewBillingService(ctx context.Context, cfg *config.Config, db *gorm.DB, reg prometheus.Registerer) (*billing.Service, error) {
	metrics, err := billing.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	opts := []billing.Option{billing.WithMetrics(metrics)}

	if rdb := cache.GetClient(); rdb != nil {
		opts = append(opts, billing.WithCustomerCache(cache.NewCustomerIDCache(rdb, cfg.Cache.CustomerTTL)))
	}

	sender, err := mail.NewSender(cfg.Mail)
	if err != nil {
		return nil, err
	}
	opts = append(opts, billing.WithNotifier(mail.NewBillingNotifier(sender)))

	if cfg.Archive.Enabled {
		a, err := archive.New(ctx, cfg.Archive)
		switch {
		case errors.Is(err, archive.ErrDisabled):
		case err != nil:
			log.Warnf("[Bootstrap] webhook archive unavailable, continuing without it: %v", err)
		default:
			opts = append(opts, billing.WithArchiver(a))
		}
	}

	gateway := billing.NewStripeGateway(billing.StripeConfig{
		SecretKey:  cfg.Stripe.SecretKey,
		MaxRetries: cfg.Stripe.MaxRetries,
	}, metrics)
	if cfg.Stripe.SecretKey == "" {
		log.Warnf("[Bootstrap] STRIPE_SECRET_KEY not set, billing endpoints will report the gateway as not configured")
	}

	return billing.NewServiceFromDB(db, gateway, BillingConfig(cfg), opts...), nil
}
