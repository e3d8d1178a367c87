package email

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"mailpipe/internal/metrics"
)

// ErrNotConfigured means no primary sender address is set. Delivery must
// abort before touching any job.
var ErrNotConfigured = errors.New("email sender not configured")

// fallbackSuffix marks messages that went out through the fallback address.
const fallbackSuffix = " [automático]"

// Provider is the black-box send API. Implementations return a provider
// message id on success.
type Provider interface {
	Send(ctx context.Context, from string, to []string, subject, html string) (string, error)
}

// SMTPProvider delivers over SMTP and stamps each message with a generated
// Message-ID so the audit trail can reference it.
type SMTPProvider struct {
	Host     string
	Port     int
	Username string
	Password string
}

func (p *SMTPProvider) Send(ctx context.Context, from string, to []string, subject, html string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(from))

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/html", html)

	d := gomail.NewDialer(p.Host, p.Port, p.Username, p.Password)

	if err := d.DialAndSend(m); err != nil {
		return "", fmt.Errorf("smtp send error: %w", err)
	}

	return messageID, nil
}

func domainOf(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 && i+1 < len(address) {
		return address[i+1:]
	}
	return "localhost"
}

// Sender wraps a Provider with the primary/fallback sender policy: one
// immediate retry from the fallback address, subject suffixed to mark it.
type Sender struct {
	Provider Provider
	From     string
	Fallback string
	Log      *zap.Logger
}

// Configured reports whether the sender can deliver at all.
func (s *Sender) Configured() bool {
	return s.Provider != nil && s.From != ""
}

// Send attempts delivery from the primary address, falling back once. It
// returns the provider message id and the address actually used.
func (s *Sender) Send(ctx context.Context, to, subject, html string) (string, string, error) {
	if !s.Configured() {
		return "", "", ErrNotConfigured
	}

	messageID, err := s.Provider.Send(ctx, s.From, []string{to}, subject, html)
	if err == nil {
		return messageID, s.From, nil
	}

	if s.Fallback == "" {
		return "", s.From, err
	}

	s.Log.Warn("primary sender failed, retrying with fallback",
		zap.String("to", to),
		zap.String("fallback", s.Fallback),
		zap.Error(err),
	)
	metrics.FallbackSends.Inc()

	messageID, fbErr := s.Provider.Send(ctx, s.Fallback, []string{to}, subject+fallbackSuffix, html)
	if fbErr != nil {
		return "", s.Fallback, fmt.Errorf("primary: %v; fallback: %w", err, fbErr)
	}

	return messageID, s.Fallback, nil
}
