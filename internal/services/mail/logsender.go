// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package mail

import (
	"context"
	"log/slog"
)

// LogSender logs verification links instead of delivering them. Used when
// no SMTP server is configured.
type LogSender struct{}

// SendVerification logs the link.
func (LogSender) SendVerification(_ context.Context, toEmail, verifyURL string) error {
	slog.Info("verification_link", "email", toEmail, "url", verifyURL)
	return nil
}
