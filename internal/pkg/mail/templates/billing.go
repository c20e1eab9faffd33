package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

type ReceiptParams struct {
	Amount    string
	Currency  string
	Plan      string
	Reference string
}

// layout wraps an email body with the shared header and footer.
func layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html><head><meta charset="utf-8"><title>`+
			templ.EscapeString(title)+`</title></head><body style="font-family:sans-serif">`); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `<p style="color:#888">LinkFox</p></body></html>`)
		return err
	})
}

func PaymentReceipt(p ReceiptParams) templ.Component {
	return layout("Your LinkFox payment receipt", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<p>Thanks for your purchase!</p>`+
			`<p>We received your payment of <strong>`+templ.EscapeString(p.Amount+" "+p.Currency)+
			`</strong> for the <strong>`+templ.EscapeString(p.Plan)+`</strong> plan.</p>`+
			`<p>Reference: `+templ.EscapeString(p.Reference)+`</p>`)
		return err
	}))
}

func SubscriptionCancelled() templ.Component {
	return layout("Your LinkFox subscription was cancelled", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<p>Your LinkFox premium subscription has been cancelled.</p>`+
			`<p>Premium features are no longer available on your profile. You can upgrade again at any time.</p>`)
		return err
	}))
}
