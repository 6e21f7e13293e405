package notification

import (
	"context"
	"strings"
	"testing"

	"dealflow_backend/internal/email"
	"dealflow_backend/internal/events"
	"dealflow_backend/platform/logger"

	"github.com/google/uuid"
)

type testEmailConfig struct{}

func (testEmailConfig) GetEmailEnabled() bool       { return true }
func (testEmailConfig) GetSMTPHost() string         { return "smtp.example.com" }
func (testEmailConfig) GetSMTPPort() int            { return 587 }
func (testEmailConfig) GetSMTPUsername() string     { return "" }
func (testEmailConfig) GetSMTPPassword() string     { return "" }
func (testEmailConfig) GetEmailFromName() string    { return "Dealflow" }
func (testEmailConfig) GetEmailFromAddress() string { return "noreply@example.com" }
func (testEmailConfig) GetAppBaseURL() string       { return "https://app.example.com" }

type testSender struct {
	stuckCalls int
	wonCalls   int
	lastTo     string
	lastStuck  email.DealStuckEmailData
	lastWon    email.DealWonEmailData
}

func (s *testSender) SendDealStuckEmail(_ context.Context, toEmail string, data email.DealStuckEmailData) error {
	s.stuckCalls++
	s.lastTo = toEmail
	s.lastStuck = data
	return nil
}

func (s *testSender) SendDealWonEmail(_ context.Context, toEmail string, data email.DealWonEmailData) error {
	s.wonCalls++
	s.lastTo = toEmail
	s.lastWon = data
	return nil
}

type testResolver struct {
	addr string
}

func (r testResolver) OwnerEmail(context.Context, uuid.UUID, uuid.UUID) (string, error) {
	return r.addr, nil
}

func newTestModule(t *testing.T, sender *testSender, resolver OwnerEmailResolver) *Module {
	t.Helper()
	m := New(sender, testEmailConfig{}, logger.New("test"))
	if resolver != nil {
		m.SetOwnerEmailResolver(resolver)
	}
	return m
}

func TestDealStuckEventSendsOwnerMail(t *testing.T) {
	sender := &testSender{}
	m := newTestModule(t, sender, testResolver{addr: "owner@example.com"})

	dealID := uuid.New()
	err := m.Handle(context.Background(), events.DealStuckDetected{
		BaseEvent:      events.NewBaseEvent(),
		DealID:         dealID,
		OrganizationID: uuid.New(),
		PipelineID:     uuid.New(),
		StageID:        uuid.New(),
		StageName:      "Negotiation",
		Title:          "Acme rollout",
		DaysInStage:    12,
		OwnerID:        uuid.New(),
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if sender.stuckCalls != 1 {
		t.Fatalf("expected 1 stuck mail, got %d", sender.stuckCalls)
	}
	if sender.lastTo != "owner@example.com" {
		t.Fatalf("unexpected recipient %q", sender.lastTo)
	}
	if sender.lastStuck.StageName != "Negotiation" || sender.lastStuck.DaysInStage != 12 {
		t.Fatalf("unexpected mail data %+v", sender.lastStuck)
	}
	if !strings.HasSuffix(sender.lastStuck.DealURL, "/deals/"+dealID.String()) {
		t.Fatalf("unexpected deal URL %q", sender.lastStuck.DealURL)
	}
}

func TestDealWonEventFormatsValue(t *testing.T) {
	sender := &testSender{}
	m := newTestModule(t, sender, testResolver{addr: "owner@example.com"})

	err := m.Handle(context.Background(), events.DealWon{
		BaseEvent:      events.NewBaseEvent(),
		DealID:         uuid.New(),
		OrganizationID: uuid.New(),
		PipelineID:     uuid.New(),
		StageID:        uuid.New(),
		Title:          "Acme rollout",
		ValueCents:     1250000,
		Currency:       "EUR",
		ActorID:        uuid.New(),
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if sender.wonCalls != 1 {
		t.Fatalf("expected 1 won mail, got %d", sender.wonCalls)
	}
	if sender.lastWon.ValueFormatted != "EUR 12500.00" {
		t.Fatalf("unexpected formatted value %q", sender.lastWon.ValueFormatted)
	}
}

func TestMailSkippedWithoutResolver(t *testing.T) {
	sender := &testSender{}
	m := newTestModule(t, sender, nil)

	err := m.Handle(context.Background(), events.DealWon{
		BaseEvent: events.NewBaseEvent(),
		DealID:    uuid.New(),
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if sender.wonCalls != 0 {
		t.Fatalf("expected no mail without resolver, got %d", sender.wonCalls)
	}
}

func TestMailSkippedWhenOwnerHasNoAddress(t *testing.T) {
	sender := &testSender{}
	m := newTestModule(t, sender, testResolver{addr: ""})

	err := m.Handle(context.Background(), events.DealStuckDetected{
		BaseEvent: events.NewBaseEvent(),
		DealID:    uuid.New(),
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if sender.stuckCalls != 0 {
		t.Fatalf("expected no mail for empty address, got %d", sender.stuckCalls)
	}
}
