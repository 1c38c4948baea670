// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package notify

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
	"github.com/wneessen/go-mail"
)

// SMTPConfig addresses the outbound relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Timeout bounds one delivery when ctx carries no deadline.
	Timeout time.Duration
}

// SMTPSender delivers mail through an SMTP relay. STARTTLS is used when the
// relay offers it; credentials are only sent over TLS.
type SMTPSender struct {
	cfg SMTPConfig
	now func() time.Time
}

// NewSMTPSender creates an SMTPSender.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPSender{cfg: cfg, now: time.Now}
}

// Send implements Sender.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	m, err := s.compose(msg)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return oops.Code("SMTP_CLIENT_FAILED").With("host", s.cfg.Host).Wrap(err)
	}
	if err := client.DialWithContext(ctx); err != nil {
		return oops.Code("SMTP_DIAL_FAILED").
			With("host", s.cfg.Host).
			With("port", s.cfg.Port).
			Wrap(err)
	}
	defer func() {
		_ = client.Close() //nolint:errcheck // delivery outcome is already decided
	}()

	if err := client.Send(m); err != nil {
		return oops.Code(sendErrorCode(err)).Wrap(err)
	}
	return nil
}

func (s *SMTPSender) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(s.cfg.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return opts
}

// compose builds a multipart/alternative message with text and HTML parts.
func (s *SMTPSender) compose(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return nil, oops.Code("SMTP_COMPOSE_FAILED").With("field", "from").Wrap(err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, oops.Code("SMTP_COMPOSE_FAILED").With("field", "to").Wrap(err)
	}
	m.Subject(msg.Subject)
	m.SetDateWithValue(s.now())
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	return m, nil
}

// sendErrorCode maps a go-mail delivery failure to the stage it failed in.
func sendErrorCode(err error) string {
	var sendErr *mail.SendError
	if !errors.As(err, &sendErr) {
		return "SMTP_SEND_FAILED"
	}
	switch sendErr.Reason {
	case mail.ErrSMTPMailFrom:
		return "SMTP_MAIL_FAILED"
	case mail.ErrSMTPRcptTo:
		return "SMTP_RCPT_FAILED"
	case mail.ErrSMTPData, mail.ErrSMTPDataClose, mail.ErrWriteContent:
		return "SMTP_DATA_FAILED"
	default:
		return "SMTP_SEND_FAILED"
	}
}

// Compile-time interface check.
var _ Sender = (*SMTPSender)(nil)
