package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"warden/cmd/internal/delivery"
)

// MailerConfig configures the email worker process.
type MailerConfig struct {
	LogLevel  string
	LogFormat string

	RabbitURL  string
	EmailQueue string
	Prefetch   int

	Mailgun     delivery.MailgunConfig
	SendTimeout time.Duration
	RetryBase   time.Duration
	RetryMax    time.Duration
}

// LoadMailerConfig loads MailerConfig from environment variables.
func LoadMailerConfig() MailerConfig {
	return MailerConfig{
		LogLevel:   EnvString("WARDEN_LOG_LEVEL", "info"),
		LogFormat:  EnvString("WARDEN_LOG_FORMAT", "json"),
		RabbitURL:  EnvString("WARDEN_RABBITMQ_URL", ""),
		EmailQueue: EnvString("WARDEN_EMAIL_QUEUE", "warden.email"),
		Prefetch:   EnvInt("WARDEN_MAILER_PREFETCH", 16),
		Mailgun: delivery.MailgunConfig{
			Domain:  EnvString("WARDEN_MAILGUN_DOMAIN", ""),
			APIKey:  EnvString("WARDEN_MAILGUN_API_KEY", ""),
			Sender:  EnvString("WARDEN_MAILGUN_SENDER", ""),
			APIBase: EnvString("WARDEN_MAILGUN_API_BASE", ""),
		},
		SendTimeout: EnvDuration("WARDEN_MAILER_SEND_TIMEOUT", 15*time.Second),
		RetryBase:   EnvDuration("WARDEN_MAILER_RETRY_BASE", time.Second),
		RetryMax:    EnvDuration("WARDEN_MAILER_RETRY_MAX", time.Minute),
	}
}

// Validate reports every missing setting at once.
func (c MailerConfig) Validate() error {
	var errs []error
	if c.RabbitURL == "" {
		errs = append(errs, errors.New("WARDEN_RABBITMQ_URL is empty"))
	}
	if c.EmailQueue == "" {
		errs = append(errs, errors.New("WARDEN_EMAIL_QUEUE is empty"))
	}
	if c.Mailgun.Domain == "" || c.Mailgun.APIKey == "" || c.Mailgun.Sender == "" {
		errs = append(errs, errors.New("WARDEN_MAILGUN_DOMAIN, WARDEN_MAILGUN_API_KEY and WARDEN_MAILGUN_SENDER are required"))
	}
	return errors.Join(errs...)
}

// RunMailer is the entrypoint used by cmd/warden-mailer. It consumes the
// email queue until SIGINT or SIGTERM.
func RunMailer() error {
	if err := LoadDotEnv(); err != nil {
		return err
	}
	cfg := LoadMailerConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		return err
	}

	mg, err := delivery.NewMailgun(cfg.Mailgun)
	if err != nil {
		return err
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	msgs, ch, err := delivery.Consume(conn, cfg.EmailQueue, cfg.Prefetch)
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("mailer.start", "queue", cfg.EmailQueue, "prefetch", cfg.Prefetch)
	delivery.NewWorker(mg, log, cfg.SendTimeout, delivery.WithRetryBackoff(cfg.RetryBase, cfg.RetryMax)).Run(ctx, msgs)
	log.Info("mailer.stopped")
	return nil
}
