package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"warden/cmd/identity"
)

// LinkConfig describes how emailed links are built and when they expire.
type LinkConfig struct {
	// BaseURL is the front end that handles /verify and /reset-password.
	BaseURL   string
	VerifyTTL time.Duration
	ResetTTL  time.Duration
	Now       func() time.Time
}

func (c LinkConfig) link(path, tok string) string {
	return strings.TrimRight(c.BaseURL, "/") + path + "?token=" + url.QueryEscape(tok)
}

func (c LinkConfig) expires(ttl time.Duration) string {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return now().Add(ttl).UTC().Format("2 Jan 2006 15:04 MST")
}

// QueueSender turns tokens into EmailJobs on a queue.
type QueueSender[U identity.Principal] struct {
	pub   Publisher
	links LinkConfig
}

// NewQueueSender returns a sender publishing through pub.
func NewQueueSender[U identity.Principal](pub Publisher, links LinkConfig) *QueueSender[U] {
	return &QueueSender[U]{pub: pub, links: links}
}

func (s *QueueSender[U]) SendVerificationToken(ctx context.Context, user U, tok string) error {
	return s.publish(ctx, EmailJob{
		To:       user.Identity().Email,
		Template: TemplateVerifyEmail,
		Data: map[string]string{
			"link":    s.links.link("/verify", tok),
			"expires": s.links.expires(s.links.VerifyTTL),
		},
	})
}

func (s *QueueSender[U]) SendPasswordResetToken(ctx context.Context, user U, tok string) error {
	return s.publish(ctx, EmailJob{
		To:       user.Identity().Email,
		Template: TemplateResetPassword,
		Data: map[string]string{
			"link":    s.links.link("/reset-password", tok),
			"expires": s.links.expires(s.links.ResetTTL),
		},
	})
}

func (s *QueueSender[U]) publish(ctx context.Context, job EmailJob) error {
	if err := s.pub.PublishJSON(ctx, job); err != nil {
		return fmt.Errorf("delivery: queue %s: %w", job.Template, err)
	}
	return nil
}

// LogSender logs tokens instead of sending them. Development only.
type LogSender[U identity.Principal] struct {
	Log *slog.Logger
}

func (s LogSender[U]) SendVerificationToken(_ context.Context, user U, tok string) error {
	s.logger().Info("delivery.log_sender.verify", "user_id", user.Identity().ID, "email", user.Identity().Email, "token", tok)
	return nil
}

func (s LogSender[U]) SendPasswordResetToken(_ context.Context, user U, tok string) error {
	s.logger().Info("delivery.log_sender.reset", "user_id", user.Identity().ID, "email", user.Identity().Email, "token", tok)
	return nil
}

func (s LogSender[U]) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}
