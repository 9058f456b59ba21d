package email

import (
	"context"
	"fmt"
	"log"
	netmail "net/mail"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	StatusSent    = "sent"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// Result reports the outcome of a send. Failures are values, not errors.
type Result struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// OK reports whether the message was accepted by the provider.
func (r Result) OK() bool { return r.Status == StatusSent }

// Sender delivers an HTML message.
type Sender interface {
	Send(ctx context.Context, to, subject, html string) Result
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, to, subject, html string) Result

func (f SenderFunc) Send(ctx context.Context, to, subject, html string) Result {
	return f(ctx, to, subject, html)
}

// client is the subset of *sendgrid.Client the sender needs.
type client interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSender sends through the SendGrid v3 mail API.
type SendGridSender struct {
	apiKey   string
	fromAddr string
	fromName string
	client   client
	logger   *log.Logger
}

func NewSendGridSender(apiKey, fromAddr, fromName string, logger *log.Logger) *SendGridSender {
	if logger == nil {
		logger = log.New(log.Writer(), "[EMAIL] ", log.LstdFlags)
	}
	s := &SendGridSender{
		apiKey:   strings.TrimSpace(apiKey),
		fromAddr: strings.TrimSpace(fromAddr),
		fromName: fromName,
		logger:   logger,
	}
	if s.apiKey != "" {
		s.client = sendgrid.NewSendClient(s.apiKey)
	}
	return s
}

func (s *SendGridSender) Send(ctx context.Context, to, subject, html string) Result {
	if s.apiKey == "" || s.client == nil {
		return Result{Status: StatusSkipped, Reason: "SENDGRID_API_KEY not set"}
	}
	if s.fromAddr == "" {
		return Result{Status: StatusSkipped, Reason: "sender address not configured"}
	}
	addr, err := netmail.ParseAddress(strings.TrimSpace(to))
	if err != nil {
		return Result{Status: StatusError, Reason: fmt.Sprintf("invalid recipient %q: %v", to, err)}
	}

	msg := mail.NewV3Mail()
	msg.SetFrom(mail.NewEmail(s.fromName, s.fromAddr))
	msg.Subject = subject
	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail(addr.Name, addr.Address))
	msg.AddPersonalizations(p)
	msg.AddContent(mail.NewContent("text/html", html))

	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		s.logger.Printf("send to %s failed: %v", addr.Address, err)
		return Result{Status: StatusError, Reason: err.Error()}
	}
	if resp.StatusCode >= 300 {
		s.logger.Printf("send to %s rejected: status %d", addr.Address, resp.StatusCode)
		return Result{Status: StatusError, Reason: fmt.Sprintf("sendgrid status %d: %s", resp.StatusCode, strings.TrimSpace(resp.Body))}
	}
	return Result{Status: StatusSent}
}
