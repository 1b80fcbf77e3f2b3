package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"

	"github.com/groupgate/groupgate/internal/auth"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestNotifier(sendErr error) (*SMTPNotifier, *sentMail) {
	n := NewSMTPNotifier("relay.example.com:587", nil, "groupgate@example.com",
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	sent := &sentMail{}
	n.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		if sendErr != nil {
			return sendErr
		}
		*sent = sentMail{addr: addr, from: from, to: to, msg: string(msg)}
		return nil
	}
	return n, sent
}

func TestNotifyBuildsMessage(t *testing.T) {
	n, sent := newTestNotifier(nil)

	err := n.Notify(context.Background(), outbound.Message{
		To:      []auth.UserID{auth.NewUserID("bob@example.com"), auth.NewUserID("carol@example.com")},
		Cc:      []auth.UserID{auth.NewUserID("alice@example.com")},
		Subject: "alice@example.com requests to join corp.payments.admins",
		Body:    "The request needs your approval.",
	})
	if err != nil {
		t.Fatal(err)
	}

	if sent.addr != "relay.example.com:587" || sent.from != "groupgate@example.com" {
		t.Errorf("sent = %+v", sent)
	}
	wantRecipients := []string{"bob@example.com", "carol@example.com", "alice@example.com"}
	if len(sent.to) != len(wantRecipients) {
		t.Fatalf("recipients = %v", sent.to)
	}
	for i, r := range wantRecipients {
		if sent.to[i] != r {
			t.Errorf("recipient[%d] = %s, want %s", i, sent.to[i], r)
		}
	}

	for _, header := range []string{
		"From: groupgate@example.com\r\n",
		"To: bob@example.com, carol@example.com\r\n",
		"Cc: alice@example.com\r\n",
		"Subject: alice@example.com requests to join corp.payments.admins\r\n",
		"Content-Type: text/plain; charset=utf-8\r\n",
	} {
		if !strings.Contains(sent.msg, header) {
			t.Errorf("message lacks %q:\n%s", header, sent.msg)
		}
	}
	if !strings.HasSuffix(sent.msg, "\r\n\r\nThe request needs your approval.") {
		t.Errorf("body malformed:\n%s", sent.msg)
	}
}

func TestNotifyRequiresRecipients(t *testing.T) {
	n, _ := newTestNotifier(nil)
	if err := n.Notify(context.Background(), outbound.Message{Subject: "x"}); err == nil {
		t.Error("a message without recipients must be rejected")
	}
}

func TestNotifyWrapsSendFailure(t *testing.T) {
	boom := errors.New("connection refused")
	n, _ := newTestNotifier(boom)

	err := n.Notify(context.Background(), outbound.Message{
		To: []auth.UserID{auth.NewUserID("bob@example.com")},
	})
	if !errors.Is(err, boom) {
		t.Errorf("Notify = %v, want the send failure", err)
	}
}

func TestNotifyHonorsContext(t *testing.T) {
	n, sent := newTestNotifier(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := n.Notify(ctx, outbound.Message{
		To: []auth.UserID{auth.NewUserID("bob@example.com")},
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Notify = %v, want context.Canceled", err)
	}
	if sent.msg != "" {
		t.Error("nothing must be sent after cancellation")
	}
}
