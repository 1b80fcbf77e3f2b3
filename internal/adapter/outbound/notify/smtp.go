// Package notify delivers notifications by email over SMTP.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/groupgate/groupgate/internal/auth"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

// SMTPNotifier sends plain-text mail through a single SMTP relay.
type SMTPNotifier struct {
	addr   string
	auth   smtp.Auth
	sender string
	logger *slog.Logger

	// send is swappable for tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPNotifier builds a notifier. addr is "host:port"; auth may be
// nil for relays that accept unauthenticated submission.
func NewSMTPNotifier(addr string, a smtp.Auth, sender string, logger *slog.Logger) *SMTPNotifier {
	return &SMTPNotifier{
		addr:   addr,
		auth:   a,
		sender: sender,
		logger: logger,
		send:   smtp.SendMail,
	}
}

var _ outbound.Notifier = (*SMTPNotifier)(nil)

// Notify implements outbound.Notifier.
func (n *SMTPNotifier) Notify(ctx context.Context, msg outbound.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msg.To) == 0 {
		return fmt.Errorf("message has no recipients")
	}

	to := emails(msg.To)
	cc := emails(msg.Cc)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.sender)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	if len(cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(cc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	recipients := append(to, cc...)
	if err := n.send(n.addr, n.auth, n.sender, recipients, []byte(b.String())); err != nil {
		return fmt.Errorf("send mail via %s: %w", n.addr, err)
	}

	n.logger.Debug("notification sent",
		slog.String("event", "notify.send"),
		slog.Int("recipients", len(recipients)),
		slog.String("subject", msg.Subject))
	return nil
}

func emails(users []auth.UserID) []string {
	addrs := make([]string, 0, len(users))
	for _, user := range users {
		addrs = append(addrs, string(user))
	}
	return addrs
}
