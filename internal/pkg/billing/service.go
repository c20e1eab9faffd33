package billing

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/LinkFox/app/models"
)

// Config holds the gateway settings the billing components need at runtime.
type Config struct {
	MonthlyPriceID     string
	LifetimePriceID    string
	SuccessURL         string
	CancelURL          string
	WebhookSecret      string
	WebhookTolerance   time.Duration
	SessionLookupLimit int64
}

func (c Config) priceFor(p models.PlanType) (string, error) {
	var id string
	switch p {
	case models.PlanMonthly:
		id = c.MonthlyPriceID
	case models.PlanLifetime:
		id = c.LifetimePriceID
	default:
		return "", ErrInvalidPlan
	}
	if id == "" {
		return "", fmt.Errorf("%w: no price id for plan %s", ErrGatewayNotConfigured, p)
	}
	return id, nil
}

// Service wires the billing components around one repository and gateway.
type Service struct {
	Initiator  *Initiator
	Applier    *Applier
	Ingestor   *Ingestor
	Verifier   *Verifier
	Canceller  *Canceller
	Reconciler *Reconciler

	repo Repository
	now  func() time.Time
}

type Option func(*options)

type options struct {
	notifier Notifier
	metrics  *Metrics
	cache    CustomerCache
	archiver Archiver
	now      func() time.Time
}

func WithNotifier(n Notifier) Option { return func(o *options) { o.notifier = n } }

func WithMetrics(m *Metrics) Option { return func(o *options) { o.metrics = m } }

func WithCustomerCache(c CustomerCache) Option { return func(o *options) { o.cache = c } }

func WithArchiver(a Archiver) Option { return func(o *options) { o.archiver = a } }

// WithClock overrides time.Now, used by tests for deterministic expiries.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func NewService(repo Repository, gateway Gateway, cfg Config, opts ...Option) *Service {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	applier := newApplier(repo, o.notifier, o.metrics, o.now)
	customers := &customerResolver{store: repo, gateway: gateway, cache: o.cache}
	reconciler := &Reconciler{ledger: repo, metrics: o.metrics}

	return &Service{
		Initiator: &Initiator{store: repo, gateway: gateway, customers: customers, cfg: cfg},
		Applier:   applier,
		Ingestor: &Ingestor{
			applier:  applier,
			gateway:  gateway,
			events:   repo,
			archiver: o.archiver,
			metrics:  o.metrics,
			cfg:      cfg,
		},
		Verifier: &Verifier{
			store:      repo,
			gateway:    gateway,
			customers:  customers,
			applier:    applier,
			reconciler: reconciler,
			limit:      cfg.SessionLookupLimit,
		},
		Canceller:  &Canceller{store: repo, gateway: gateway, notifier: o.notifier, metrics: o.metrics},
		Reconciler: reconciler,
		repo:       repo,
		now:        o.now,
	}
}

// NewServiceFromDB is NewService over the GORM repository.
func NewServiceFromDB(db *gorm.DB, gateway Gateway, cfg Config, opts ...Option) *Service {
	return NewService(NewRepository(db), gateway, cfg, opts...)
}

// Status is the billing view returned to the account owner.
type Status struct {
	Active      bool                 `json:"active"`
	Entitlement models.Entitlement   `json:"entitlement"`
	Ledger      []models.LedgerEntry `json:"ledger"`
}

func (s *Service) Status(ctx context.Context, userID uint) (*Status, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ListLedgerEntriesByEmail(ctx, models.NormalizeEmail(user.Email))
	if err != nil {
		return nil, fmt.Errorf("list ledger entries for user %d: %w", user.ID, err)
	}
	e := user.Entitlement
	e.GatewayCustomerID = ""
	return &Status{
		Active:      e.ActiveAt(s.now()),
		Entitlement: e,
		Ledger:      entries,
	}, nil
}

// DedupeUser runs the Reconciler for the ledger of one user.
func (s *Service) DedupeUser(ctx context.Context, userID uint) (int, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return s.Reconciler.Dedupe(ctx, user.Email)
}
