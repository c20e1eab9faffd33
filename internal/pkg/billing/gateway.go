package billing

import (
	"context"
	"time"

	"github.com/ManuelReschke/LinkFox/app/models"
)

// Metadata keys written on gateway objects created by the Initiator.
const (
	metaPlan      = "plan"
	metaUserEmail = "user_email"
	metaUserID    = "user_id"
	metaOrigin    = "origin"

	originCheckout = "checkout"
	originDirect   = "direct"
)

type Customer struct {
	ID    string
	Email string
}

type CheckoutSession struct {
	ID              string
	URL             string
	Status          string
	PaymentStatus   string
	Mode            string
	CustomerID      string
	CustomerEmail   string
	SubscriptionID  string
	AmountTotal     int64
	Currency        string
	Metadata        map[string]string
	ClientReference string
	Created         time.Time
}

// Paid reports whether the session completed with a captured payment.
func (s CheckoutSession) Paid() bool {
	return s.Status == "complete" && s.PaymentStatus == "paid"
}

type Subscription struct {
	ID               string
	Status           string
	CustomerID       string
	CurrentPeriodEnd *time.Time
	ClientSecret     string
	Metadata         map[string]string
}

type CheckoutParams struct {
	CustomerID string
	PriceID    string
	Plan       models.PlanType
	UserID     uint
	UserEmail  string
	SuccessURL string
	CancelURL  string
}

type SubscriptionParams struct {
	CustomerID      string
	PriceID         string
	PaymentMethodID string
	UserID          uint
	UserEmail       string
}

// Gateway is the request/response facade over the payment gateway. Missing
// resources are reported as ErrResourceMissing, transport failures and
// gateway outages as ErrGatewayUnavailable.
type Gateway interface {
	CreateCustomer(ctx context.Context, email string) (string, error)
	ListCustomers(ctx context.Context, email string) ([]string, error)
	RetrieveCustomer(ctx context.Context, id string) (*Customer, error)
	CreateCheckoutSession(ctx context.Context, in CheckoutParams) (*CheckoutSession, error)
	RetrieveCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
	ListCheckoutSessions(ctx context.Context, customerID string, limit int64) ([]CheckoutSession, error)
	CreateSubscription(ctx context.Context, in SubscriptionParams) (*Subscription, error)
	RetrieveSubscription(ctx context.Context, id string) (*Subscription, error)
	CancelSubscription(ctx context.Context, id string) (*Subscription, error)
}
