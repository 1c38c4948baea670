// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package notify renders and delivers account emails.
package notify

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/account"
	"github.com/keyward/keyward/internal/identity"
)

// Message is one outgoing email.
type Message struct {
	To       string
	Template Template
	Subject  string
	Text     string
	HTML     string
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Observer counts deliveries by template and outcome.
type Observer interface {
	ObserveNotification(template, outcome string)
}

// MailerConfig names the product in emails and the site links point at.
type MailerConfig struct {
	AppName string
	Domain  string
}

// Mailer implements account.Notifier on top of a Sender.
type Mailer struct {
	sender   Sender
	cfg      MailerConfig
	observer Observer
	logger   *slog.Logger
}

// NewMailer creates a Mailer. observer may be nil.
func NewMailer(sender Sender, cfg MailerConfig, observer Observer, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{sender: sender, cfg: cfg, observer: observer, logger: logger}
}

// SendVerification implements account.Notifier.
func (m *Mailer) SendVerification(ctx context.Context, to identity.Email, code string) error {
	return m.send(ctx, TemplateVerification, to, code)
}

// SendRecovery implements account.Notifier.
func (m *Mailer) SendRecovery(ctx context.Context, to identity.Email, code string) error {
	return m.send(ctx, TemplateRecovery, to, code)
}

func (m *Mailer) send(ctx context.Context, tmpl Template, to identity.Email, code string) error {
	rendered, err := Render(tmpl, m.cfg.AppName, m.cfg.Domain, code)
	if err != nil {
		m.observe(tmpl, "error")
		return err
	}

	err = m.sender.Send(ctx, Message{
		To:       to.String(),
		Template: tmpl,
		Subject:  rendered.Subject,
		Text:     rendered.Text,
		HTML:     rendered.HTML,
	})
	if err != nil {
		m.observe(tmpl, "error")
		return oops.Code("NOTIFY_SEND_FAILED").With("template", tmpl).Wrap(err)
	}

	m.observe(tmpl, "sent")
	m.logger.DebugContext(ctx, "email sent", "template", tmpl)
	return nil
}

func (m *Mailer) observe(tmpl Template, outcome string) {
	if m.observer != nil {
		m.observer.ObserveNotification(string(tmpl), outcome)
	}
}

// Compile-time interface check.
var _ account.Notifier = (*Mailer)(nil)
