package mailer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"contact-service/internal/models"
)

// Config holds the addresses and names used in outgoing mail.
type Config struct {
	From      string
	To        string
	SiteName  string
	OwnerName string
}

// Mailer renders the two contact emails and hands them to a Sender.
type Mailer struct {
	sender Sender
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

// New creates a Mailer. A nil sender makes every send return ErrDisabled.
func New(sender Sender, cfg Config, logger *zap.Logger) *Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailer{sender: sender, cfg: cfg, now: time.Now, logger: logger}
}

// NotifyOwner sends the submission to the site owner with Reply-To set to the submitter.
func (m *Mailer) NotifyOwner(ctx context.Context, sub models.Submission, ip string) error {
	now := m.now()
	return m.send(ctx, "owner", Message{
		From:    m.cfg.From,
		To:      m.cfg.To,
		ReplyTo: sub.Email,
		Subject: ownerSubject(sub, m.cfg.SiteName),
		Body:    ownerBody(sub, ip, m.cfg.SiteName, now),
		Date:    now,
	})
}

// Acknowledge thanks the submitter in their language, falling back to French.
func (m *Mailer) Acknowledge(ctx context.Context, sub models.Submission) error {
	subject, body := acknowledgment(sub, m.cfg.OwnerName)
	return m.send(ctx, "acknowledgment", Message{
		From:    m.cfg.From,
		To:      sub.Email,
		ReplyTo: m.cfg.To,
		Subject: subject,
		Body:    body,
		Date:    m.now(),
	})
}

func (m *Mailer) send(ctx context.Context, kind string, msg Message) error {
	if m.sender == nil {
		return ErrDisabled
	}
	start := time.Now()
	if err := m.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s mail: %w", kind, err)
	}
	m.logger.Debug("Mail sent",
		zap.String("kind", kind),
		zap.String("to", msg.To),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}
