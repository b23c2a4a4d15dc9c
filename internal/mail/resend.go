// Package mail delivers transactional email through Resend.
package mail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"yoyaku/internal/config"
	"yoyaku/internal/models"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"
)

var ErrNoRecipients = errors.New("mail: no recipients")

type Client struct {
	resend *resend.Client
	from   string
	logger *zerolog.Logger
}

// NewClient returns nil when no API key is configured or the base URL does
// not parse.
func NewClient(cfg config.MailConfig, logger *zerolog.Logger) *Client {
	if strings.TrimSpace(cfg.ResendAPIKey) == "" {
		return nil
	}
	l := logger.With().Str("component", "mail").Logger()

	rc := resend.NewCustomClient(&http.Client{Timeout: cfg.Timeout}, cfg.ResendAPIKey)
	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
		if err != nil {
			l.Error().Err(err).Str("base_url", cfg.BaseURL).Msg("Invalid mail base URL")
			return nil
		}
		rc.BaseURL = base
	}

	return &Client{resend: rc, from: cfg.From, logger: &l}
}

func (c *Client) Send(ctx context.Context, msg *models.EmailMessage) error {
	if msg == nil || len(msg.To) == 0 {
		return ErrNoRecipients
	}

	from := msg.From
	if from == "" {
		from = c.from
	}

	sent, err := c.resend.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    from,
		To:      msg.To,
		Subject: msg.Subject,
		Text:    msg.Text,
		Html:    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	c.logger.Debug().Str("message_id", sent.Id).Strs("to", msg.To).Str("subject", msg.Subject).Msg("Email sent")
	return nil
}
