package delivery

import (
	"context"
	"fmt"

	mg "github.com/mailgun/mailgun-go/v4"
)

// Mailer sends one rendered email.
type Mailer interface {
	Send(ctx context.Context, to string, msg Rendered) error
}

// MailgunConfig holds the Mailgun account settings.
type MailgunConfig struct {
	Domain string
	APIKey string
	Sender string
	// APIBase overrides the endpoint, e.g. mailgun.APIBaseEU.
	APIBase string
}

// Mailgun sends through the Mailgun HTTP API.
type Mailgun struct {
	client *mg.MailgunImpl
	sender string
}

// NewMailgun returns a Mailer for cfg.
func NewMailgun(cfg MailgunConfig) (*Mailgun, error) {
	if cfg.Domain == "" || cfg.APIKey == "" || cfg.Sender == "" {
		return nil, fmt.Errorf("delivery: mailgun domain, api key and sender are required")
	}
	client := mg.NewMailgun(cfg.Domain, cfg.APIKey)
	if cfg.APIBase != "" {
		client.SetAPIBase(cfg.APIBase)
	}
	return &Mailgun{client: client, sender: cfg.Sender}, nil
}

func (m *Mailgun) Send(ctx context.Context, to string, r Rendered) error {
	msg := m.client.NewMessage(m.sender, r.Subject, r.Text, to)
	if r.HTML != "" {
		msg.SetHtml(r.HTML)
	}
	if _, _, err := m.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("delivery: mailgun send: %w", err)
	}
	return nil
}
