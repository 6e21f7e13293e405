package email

import (
	"context"
	"fmt"
	"net"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// SMTPSender implements the Sender interface with a direct SMTP connection
// via go-mail.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
}

// NewSMTPSender creates a new SMTPSender with the given SMTP credentials.
func NewSMTPSender(host string, port int, username, password, fromEmail, fromName string) *SMTPSender {
	return &SMTPSender{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		fromName:  fromName,
		fromEmail: fromEmail,
	}
}

func (s *SMTPSender) send(ctx context.Context, toEmail, subject, htmlContent string) error {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(toEmail); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlContent)

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	return nil
}

func (s *SMTPSender) SendDealStuckEmail(ctx context.Context, toEmail string, data DealStuckEmailData) error {
	content, err := renderEmailTemplate("deal_stuck.html", dealStuckTemplateData{
		baseEmailData: baseEmailData{
			Title:    "Deal needs attention",
			Heading:  "A deal has stalled",
			CTALabel: "Open deal",
			CTAURL:   data.DealURL,
		},
		DealTitle:   data.DealTitle,
		StageName:   data.StageName,
		DaysInStage: data.DaysInStage,
	})
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("Deal %q has been in %s for %d days", data.DealTitle, data.StageName, data.DaysInStage)
	return s.send(ctx, toEmail, subject, content)
}

func (s *SMTPSender) SendDealWonEmail(ctx context.Context, toEmail string, data DealWonEmailData) error {
	content, err := renderEmailTemplate("deal_won.html", dealWonTemplateData{
		baseEmailData: baseEmailData{
			Title:    "Deal won",
			Heading:  "Congratulations, the deal is won",
			CTALabel: "Open deal",
			CTAURL:   data.DealURL,
		},
		DealTitle:      data.DealTitle,
		ValueFormatted: data.ValueFormatted,
	})
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("Deal won: %s", data.DealTitle)
	return s.send(ctx, toEmail, subject, content)
}
