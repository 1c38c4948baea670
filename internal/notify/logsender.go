// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package notify

import (
	"context"
	"log/slog"
)

// LogSender drops messages after logging their envelope. It stands in for
// SMTPSender when no relay is configured. Bodies carry codes and are never
// logged.
type LogSender struct {
	Logger *slog.Logger
}

// Send implements Sender.
func (s LogSender) Send(ctx context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "smtp not configured, email not delivered",
		"template", msg.Template,
		"subject", msg.Subject)
	return nil
}
