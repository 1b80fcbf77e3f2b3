package outbound

import (
	"context"

	"github.com/groupgate/groupgate/internal/auth"
)

// Message is a notification to one or more users.
type Message struct {
	To      []auth.UserID
	Cc      []auth.UserID
	Subject string
	Body    string
}

// Notifier delivers notifications, typically by email.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}
