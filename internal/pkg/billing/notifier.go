package billing

import (
	"context"

	"github.com/ManuelReschke/LinkFox/app/models"
)

// Notifier sends billing emails. Delivery is best-effort: errors are logged by
// the caller and never change billing state.
type Notifier interface {
	PaymentReceived(ctx context.Context, email string, entry models.LedgerEntry) error
	SubscriptionCancelled(ctx context.Context, email string) error
}

// CustomerCache remembers gateway customer ids per normalized email.
type CustomerCache interface {
	GetCustomerID(ctx context.Context, email string) (string, error)
	SetCustomerID(ctx context.Context, email, customerID string) error
}

// Archiver keeps a copy of verified raw webhook payloads.
type Archiver interface {
	ArchiveWebhook(ctx context.Context, eventID, eventType string, payload []byte) error
}
