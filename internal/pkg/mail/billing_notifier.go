package mail

import (
	"context"
	"strings"

	"github.com/ManuelReschke/LinkFox/app/models"
	"github.com/ManuelReschke/LinkFox/internal/pkg/mail/templates"
)

// BillingNotifier sends payment receipts and cancellation confirmations.
type BillingNotifier struct {
	sender Sender
}

func NewBillingNotifier(sender Sender) *BillingNotifier {
	return &BillingNotifier{sender: sender}
}

func (n *BillingNotifier) PaymentReceived(ctx context.Context, email string, entry models.LedgerEntry) error {
	body, err := templates.Render(ctx, templates.PaymentReceipt(templates.ReceiptParams{
		Amount:    entry.Amount.StringFixed(2),
		Currency:  strings.ToUpper(entry.Currency),
		Plan:      string(entry.PlanType),
		Reference: entry.ExternalID,
	}))
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, Message{
		To:       email,
		Subject:  "Your LinkFox payment receipt",
		Tag:      "billing-receipt",
		HTMLBody: body,
	})
}

func (n *BillingNotifier) SubscriptionCancelled(ctx context.Context, email string) error {
	body, err := templates.Render(ctx, templates.SubscriptionCancelled())
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, Message{
		To:       email,
		Subject:  "Your LinkFox subscription was cancelled",
		Tag:      "billing-cancelled",
		HTMLBody: body,
	})
}
