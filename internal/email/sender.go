// Package email delivers deal notification mails over SMTP. When email is
// disabled or unconfigured a no-op sender is used so callers never branch.
package email

import (
	"context"

	"dealflow_backend/platform/config"
	"dealflow_backend/platform/logger"
)

// DealStuckEmailData carries the facts for a stuck-deal alert mail.
type DealStuckEmailData struct {
	DealTitle   string
	StageName   string
	DaysInStage int
	DealURL     string
}

// DealWonEmailData carries the facts for a deal-won mail.
type DealWonEmailData struct {
	DealTitle      string
	ValueFormatted string
	DealURL        string
}

// Sender delivers deal notification emails.
type Sender interface {
	SendDealStuckEmail(ctx context.Context, toEmail string, data DealStuckEmailData) error
	SendDealWonEmail(ctx context.Context, toEmail string, data DealWonEmailData) error
}

// NewSender builds the configured sender. Disabled or incomplete SMTP
// settings yield the no-op sender.
func NewSender(cfg config.EmailConfig, log *logger.Logger) Sender {
	if !cfg.GetEmailEnabled() || cfg.GetSMTPHost() == "" {
		return NewNoopSender(log)
	}
	return NewSMTPSender(
		cfg.GetSMTPHost(),
		cfg.GetSMTPPort(),
		cfg.GetSMTPUsername(),
		cfg.GetSMTPPassword(),
		cfg.GetEmailFromAddress(),
		cfg.GetEmailFromName(),
	)
}

// NoopSender drops every mail, logging at debug level.
type NoopSender struct {
	log *logger.Logger
}

// NewNoopSender creates a sender that silently drops all mail.
func NewNoopSender(log *logger.Logger) *NoopSender {
	return &NoopSender{log: log}
}

func (n *NoopSender) SendDealStuckEmail(_ context.Context, toEmail string, data DealStuckEmailData) error {
	n.log.Debug("email disabled, dropping stuck-deal mail", "to", toEmail, "deal", data.DealTitle)
	return nil
}

func (n *NoopSender) SendDealWonEmail(_ context.Context, toEmail string, data DealWonEmailData) error {
	n.log.Debug("email disabled, dropping deal-won mail", "to", toEmail, "deal", data.DealTitle)
	return nil
}

var _ Sender = (*NoopSender)(nil)
var _ Sender = (*SMTPSender)(nil)
