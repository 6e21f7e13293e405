// Package notification subscribes to deal domain events and sends the
// corresponding emails. Domain modules publish events and stay unaware of
// email providers or templates.
package notification

import (
	"context"
	"fmt"

	"dealflow_backend/internal/email"
	"dealflow_backend/internal/events"
	"dealflow_backend/platform/config"
	"dealflow_backend/platform/logger"

	"github.com/google/uuid"
)

// OwnerEmailResolver resolves the notification address for a deal owner.
// Implementations typically sit on top of the identity provider; when no
// resolver is wired, owner mails are skipped.
type OwnerEmailResolver interface {
	OwnerEmail(ctx context.Context, organizationID, ownerID uuid.UUID) (string, error)
}

// Module handles notification-related event subscriptions.
type Module struct {
	sender   email.Sender
	cfg      config.EmailConfig
	log      *logger.Logger
	resolver OwnerEmailResolver
}

// New creates a new notification module.
func New(sender email.Sender, cfg config.EmailConfig, log *logger.Logger) *Module {
	return &Module{
		sender: sender,
		cfg:    cfg,
		log:    log,
	}
}

// SetOwnerEmailResolver wires a resolver for deal owner addresses.
func (m *Module) SetOwnerEmailResolver(r OwnerEmailResolver) { m.resolver = r }

// RegisterHandlers subscribes the module to the events it acts on.
func (m *Module) RegisterHandlers(bus *events.InMemoryBus) {
	bus.Subscribe(events.DealStuckDetected{}.EventName(), m)
	bus.Subscribe(events.DealWon{}.EventName(), m)

	m.log.Info("notification module registered event handlers")
}

// Handle routes events to the appropriate handler method.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.DealStuckDetected:
		return m.handleDealStuck(ctx, e)
	case events.DealWon:
		return m.handleDealWon(ctx, e)
	default:
		m.log.Warn("unhandled event type", "event", event.EventName())
		return nil
	}
}

func (m *Module) handleDealStuck(ctx context.Context, e events.DealStuckDetected) error {
	toEmail, ok := m.ownerEmail(ctx, e.OrganizationID, e.OwnerID)
	if !ok {
		return nil
	}

	err := m.sender.SendDealStuckEmail(ctx, toEmail, email.DealStuckEmailData{
		DealTitle:   e.Title,
		StageName:   e.StageName,
		DaysInStage: e.DaysInStage,
		DealURL:     m.dealURL(e.DealID),
	})
	if err != nil {
		m.log.Error("failed to send stuck-deal email", "error", err, "dealId", e.DealID)
		return err
	}
	return nil
}

func (m *Module) handleDealWon(ctx context.Context, e events.DealWon) error {
	toEmail, ok := m.ownerEmail(ctx, e.OrganizationID, e.ActorID)
	if !ok {
		return nil
	}

	err := m.sender.SendDealWonEmail(ctx, toEmail, email.DealWonEmailData{
		DealTitle:      e.Title,
		ValueFormatted: email.FormatCurrency(e.ValueCents, e.Currency),
		DealURL:        m.dealURL(e.DealID),
	})
	if err != nil {
		m.log.Error("failed to send deal-won email", "error", err, "dealId", e.DealID)
		return err
	}
	return nil
}

func (m *Module) ownerEmail(ctx context.Context, orgID, ownerID uuid.UUID) (string, bool) {
	if m.resolver == nil {
		m.log.Debug("no owner email resolver wired, skipping mail", "ownerId", ownerID)
		return "", false
	}
	addr, err := m.resolver.OwnerEmail(ctx, orgID, ownerID)
	if err != nil {
		m.log.Warn("failed to resolve owner email", "error", err, "ownerId", ownerID)
		return "", false
	}
	if addr == "" {
		m.log.Debug("owner has no email address, skipping mail", "ownerId", ownerID)
		return "", false
	}
	return addr, true
}

func (m *Module) dealURL(dealID uuid.UUID) string {
	return fmt.Sprintf("%s/deals/%s", m.cfg.GetAppBaseURL(), dealID)
}
