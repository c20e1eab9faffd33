package templates

import (
	"context"
	"strings"

	"github.com/a-h/templ"
)

// Render renders a templ component into a string, e.g. for an email body.
func Render(ctx context.Context, tpl templ.Component) (string, error) {
	var sb strings.Builder
	if err := tpl.Render(ctx, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}
