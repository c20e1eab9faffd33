package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/mrz1836/postmark"

	"github.com/ManuelReschke/LinkFox/internal/pkg/config"
)

var (
	ErrInvalidConfig = errors.New("invalid mail configuration")
	ErrSendFailed    = errors.New("failed to send email")
)

type Message struct {
	To       string
	Subject  string
	Tag      string
	HTMLBody string
}

// Sender delivers a single transactional email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type postmarkSender struct {
	client  *postmark.Client
	from    string
	replyTo string
}

// NewSender returns a Postmark sender when credentials are configured and a
// log-only sender otherwise.
func NewSender(cfg config.MailConfig) (Sender, error) {
	if !cfg.Enabled() {
		log.Warnf("[Mail] postmark not configured, emails are only logged")
		return LogSender{}, nil
	}
	if !strings.Contains(cfg.SenderEmail, "@") {
		return nil, fmt.Errorf("%w: MAIL_SENDER must be an email address", ErrInvalidConfig)
	}
	return &postmarkSender{
		client:  postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		from:    cfg.SenderEmail,
		replyTo: cfg.SupportEmail,
	}, nil
}

func (s *postmarkSender) Send(ctx context.Context, msg Message) error {
	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:       s.from,
		ReplyTo:    s.replyTo,
		To:         msg.To,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTMLBody,
		TrackOpens: false,
	})
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrSendFailed, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}

// LogSender only logs messages, used in development and when Postmark is not
// configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) error {
	log.Infof("[Mail] (not sent) to=%s subject=%q tag=%s", msg.To, msg.Subject, msg.Tag)
	return nil
}
